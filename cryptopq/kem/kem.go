// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kem implements ML-KEM-768 (FIPS 203) key encapsulation. The
// consensus core does not terminate authenticated channels itself — that is
// the transport layer's job — but it owns the KEM primitive so that the
// per-session key schedule the transport derives is pinned to the same
// post-quantum security level as the signature envelope in cryptopq/sig.
package kem

import (
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cockroachdb/errors"
)

// ErrMalformedKey is returned when a public or secret key fails to parse.
var ErrMalformedKey = errors.New("kem: malformed key")

// ErrMalformedCiphertext is returned when a ciphertext fails to parse.
var ErrMalformedCiphertext = errors.New("kem: malformed ciphertext")

var scheme kem.Scheme = mlkem768.Scheme()

// PublicKey is a raw ML-KEM-768 encapsulation key.
type PublicKey []byte

// PrivateKey is a raw ML-KEM-768 decapsulation key.
type PrivateKey []byte

// Ciphertext is a raw ML-KEM-768 encapsulated ciphertext.
type Ciphertext []byte

// SharedSecret is the symmetric key agreed by encapsulate/decapsulate.
type SharedSecret []byte

// Generate draws a fresh ML-KEM-768 keypair.
func Generate() (PrivateKey, PublicKey, error) {
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, errors.Wrap(err, "kem: generate keypair")
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "kem: marshal public key")
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "kem: marshal private key")
	}
	return PrivateKey(privBytes), PublicKey(pubBytes), nil
}

// Encapsulate derives a shared secret under pk, returning both the
// ciphertext to send to the holder of the matching secret key and the
// locally-held shared secret.
func Encapsulate(pk PublicKey) (Ciphertext, SharedSecret, error) {
	pub, err := scheme.UnmarshalBinaryPublicKey(pk)
	if err != nil {
		return nil, nil, errors.Mark(ErrMalformedKey, err)
	}
	ct, ss, err := kem.Encapsulate(scheme, pub)
	if err != nil {
		return nil, nil, errors.Wrap(err, "kem: encapsulate")
	}
	return Ciphertext(ct), SharedSecret(ss), nil
}

// Decapsulate recovers the shared secret from ct using sk.
func Decapsulate(ct Ciphertext, sk PrivateKey) (SharedSecret, error) {
	priv, err := scheme.UnmarshalBinaryPrivateKey(sk)
	if err != nil {
		return nil, errors.Mark(ErrMalformedKey, err)
	}
	if len(ct) != scheme.CiphertextSize() {
		return nil, ErrMalformedCiphertext
	}
	ss, err := scheme.Decapsulate(priv, ct)
	if err != nil {
		return nil, errors.Mark(ErrMalformedCiphertext, err)
	}
	return SharedSecret(ss), nil
}
