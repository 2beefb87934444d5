// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sig implements the ML-DSA-87 (FIPS 204) signature envelope used to
// sign vertices and every BFT protocol message. It wraps
// github.com/cloudflare/circl's generic signature scheme interface the way
// the teacher's ringtail package wraps github.com/luxfi/crypto/ringtail:
// byte-slice in, byte-slice out, with the lattice math kept entirely inside
// circl.
package sig

import (
	"crypto/rand"
	"runtime"
	"sync"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"github.com/cockroachdb/errors"
)

var (
	// ErrRandomGeneration is returned when the system CSPRNG is unavailable.
	ErrRandomGeneration = errors.New("sig: secure random source unavailable")
	// ErrMalformedKey is returned when a key does not unmarshal to a valid
	// ML-DSA-87 key.
	ErrMalformedKey = errors.New("sig: malformed key")
	// ErrInvalidSignature is returned when a signature byte string is
	// malformed (wrong length, not when verification simply fails).
	ErrInvalidSignature = errors.New("sig: malformed signature")
	// ErrInvalidPublicKey is returned when a public key byte string is
	// malformed.
	ErrInvalidPublicKey = errors.New("sig: malformed public key")
)

// scheme is the ML-DSA-87 instance; all operations in this package are
// wrappers around it.
var scheme sign.Scheme = mldsa87.Scheme()

// PublicKey is a raw ML-DSA-87 public key.
type PublicKey []byte

// PrivateKey is a raw ML-DSA-87 secret key.
type PrivateKey []byte

// Signature is a raw detached ML-DSA-87 signature.
type Signature []byte

// GenerateKeypair draws a fresh ML-DSA-87 keypair from the system CSPRNG.
func GenerateKeypair() (PrivateKey, PublicKey, error) {
	pub, priv, err := scheme.GenerateKey()
	if err != nil {
		return nil, nil, errors.Mark(ErrRandomGeneration, err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "sig: marshal public key")
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "sig: marshal private key")
	}
	return PrivateKey(privBytes), PublicKey(pubBytes), nil
}

// Sign produces a detached ML-DSA-87 signature over msg. Signing is
// deterministic given (sk, msg): the hedged variant's internal nonce is
// derived from sk and msg alone, so a caller that re-signs identical
// content observes the same signature bytes.
func Sign(sk PrivateKey, msg []byte) (Signature, error) {
	priv, err := scheme.UnmarshalBinaryPrivateKey(sk)
	if err != nil {
		return nil, errors.Mark(ErrMalformedKey, err)
	}
	out := scheme.Sign(priv, msg, nil)
	return Signature(out), nil
}

// Verify reports whether sig is a valid ML-DSA-87 signature over msg under
// pk. It returns (false, nil) on a legitimate mismatch and (false, err) when
// pk or sig is malformed.
func Verify(pk PublicKey, msg []byte, signature Signature) (bool, error) {
	pub, err := scheme.UnmarshalBinaryPublicKey(pk)
	if err != nil {
		return false, errors.Mark(ErrInvalidPublicKey, err)
	}
	if len(signature) != scheme.SignatureSize() {
		return false, ErrInvalidSignature
	}
	return scheme.Verify(pub, msg, signature, nil), nil
}

// VerifyItem is one (public key, message, signature) triple submitted to a
// batch verification call.
type VerifyItem struct {
	PublicKey PublicKey
	Message   []byte
	Signature Signature
}

// VerifyBatch verifies each item independently and returns the results in
// input order. An individual malformed item yields false at its index
// without aborting the rest of the batch.
func VerifyBatch(items []VerifyItem) []bool {
	out := make([]bool, len(items))
	for i, item := range items {
		ok, err := Verify(item.PublicKey, item.Message, item.Signature)
		out[i] = err == nil && ok
	}
	return out
}

// VerifyBatchParallel partitions items across at most maxParallel worker
// goroutines (bounded further by GOMAXPROCS) and verifies each item
// independently. Result order always matches input order regardless of
// which worker completed it.
func VerifyBatchParallel(items []VerifyItem, maxParallel int) []bool {
	out := make([]bool, len(items))
	if len(items) == 0 {
		return out
	}

	workers := maxParallel
	if gm := runtime.GOMAXPROCS(0); workers <= 0 || workers > gm {
		workers = gm
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers <= 1 {
		for i, item := range items {
			ok, err := Verify(item.PublicKey, item.Message, item.Signature)
			out[i] = err == nil && ok
		}
		return out
	}

	var wg sync.WaitGroup
	chunk := (len(items) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(items) {
			break
		}
		end := start + chunk
		if end > len(items) {
			end = len(items)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				ok, err := Verify(items[i].PublicKey, items[i].Message, items[i].Signature)
				out[i] = err == nil && ok
			}
		}(start, end)
	}
	wg.Wait()
	return out
}

// secureRandomAvailable reports whether the system CSPRNG currently
// responds; GenerateKeypair surfaces ErrRandomGeneration through the
// scheme's own key generation failure path, but callers that need to probe
// readiness ahead of time (e.g. at node start-up) can use this.
func secureRandomAvailable() bool {
	var probe [1]byte
	_, err := rand.Read(probe[:])
	return err == nil
}

// RandomSourceReady reports whether the cryptographically secure random
// source is currently available.
func RandomSourceReady() bool {
	return secureRandomAvailable()
}
