// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hybrid combines a classical Ed25519 signature with an ML-DSA-87
// signature over the same message. It exists for callers migrating key
// material across the classical/post-quantum boundary (e.g. validator
// identity attestations published once at enrollment); the BFT hot path in
// consensus/bft signs and verifies with cryptopq/sig alone.
package hybrid

import (
	"crypto/ed25519"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/consensus/cryptopq/sig"
)

// ErrPartialVerificationFailure is returned when exactly one of the two
// component signatures fails to verify.
var ErrPartialVerificationFailure = errors.New("hybrid: one signature verified, the other did not")

// PublicKey bundles the classical and post-quantum public keys.
type PublicKey struct {
	Classical ed25519.PublicKey
	PQ        sig.PublicKey
}

// PrivateKey bundles the classical and post-quantum private keys.
type PrivateKey struct {
	Classical ed25519.PrivateKey
	PQ        sig.PrivateKey
}

// Signature bundles the classical and post-quantum signatures.
type Signature struct {
	Classical []byte
	PQ        sig.Signature
}

// GenerateKeypair draws an independent keypair for each scheme.
func GenerateKeypair() (PrivateKey, PublicKey, error) {
	classicalPub, classicalPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return PrivateKey{}, PublicKey{}, errors.Wrap(err, "hybrid: generate ed25519 key")
	}
	pqPriv, pqPub, err := sig.GenerateKeypair()
	if err != nil {
		return PrivateKey{}, PublicKey{}, errors.Wrap(err, "hybrid: generate ml-dsa-87 key")
	}
	return PrivateKey{Classical: classicalPriv, PQ: pqPriv}, PublicKey{Classical: classicalPub, PQ: pqPub}, nil
}

// Sign signs msg under both component schemes.
func Sign(sk PrivateKey, msg []byte) (Signature, error) {
	pqSignature, err := sig.Sign(sk.PQ, msg)
	if err != nil {
		return Signature{}, errors.Wrap(err, "hybrid: ml-dsa-87 sign")
	}
	classicalSignature := ed25519.Sign(sk.Classical, msg)
	return Signature{Classical: classicalSignature, PQ: pqSignature}, nil
}

// Verify reports whether both component signatures verify over msg under pk.
// A signature that verifies under only one scheme is treated as invalid and
// reported via ErrPartialVerificationFailure so callers can distinguish a
// downgrade attempt from ordinary signature mismatch.
func Verify(pk PublicKey, msg []byte, signature Signature) (bool, error) {
	classicalOK := ed25519.Verify(pk.Classical, msg, signature.Classical)
	pqOK, err := sig.Verify(pk.PQ, msg, signature.PQ)
	if err != nil {
		return false, errors.Wrap(err, "hybrid: ml-dsa-87 verify")
	}

	switch {
	case classicalOK && pqOK:
		return true, nil
	case !classicalOK && !pqOK:
		return false, nil
	default:
		return false, ErrPartialVerificationFailure
	}
}
