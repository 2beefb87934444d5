// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package multisig collects per-node partial signatures over a committed
// vertex id into a QuorumCertificate. ML-DSA-87 has no native signature
// aggregation combinator (unlike the BLS half of the teacher's ringtail
// CertBundle), so a certificate here bundles the individual signatures
// plus a signer bitmap rather than collapsing them into one constant-size
// value — the same bundling shape as ringtail.Certificate's Shares slice,
// generalized from lattice shares to whole ML-DSA-87 signatures and from a
// BLS+Ringtail dual bundle to a single post-quantum scheme.
package multisig

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/hash"
)

// ErrDuplicateSigner is returned when a second partial signature arrives
// from a signer already recorded against the same certificate.
var ErrDuplicateSigner = errors.New("multisig: duplicate signer")

// ErrInsufficientShares is returned when Aggregate is called before the
// configured threshold weight has been reached.
var ErrInsufficientShares = errors.New("multisig: insufficient shares for threshold")

// ErrVerificationFailed is returned when a candidate partial signature does
// not verify under the signer's declared public key.
var ErrVerificationFailed = errors.New("multisig: partial signature verification failed")

// PartialSignature is one signer's detached signature over a vertex id.
type PartialSignature struct {
	Signer    ids.NodeID
	PublicKey sig.PublicKey
	Signature sig.Signature
}

// QuorumCertificate is the finalized proof that a weighted quorum of
// signers attested to VertexID at (View, Sequence). Binding the certificate
// to the view it was assembled under keeps a certificate collected before a
// view-change from being confused with one collected after — two
// certificates for the same Sequence but different View attest to distinct,
// non-mergeable rounds.
type QuorumCertificate struct {
	View     uint64
	Sequence uint64
	VertexID hash.Digest
	Signers  []ids.NodeID
	Shares   []PartialSignature
}

// Verify re-checks every bundled partial signature against its declared
// public key over VertexID; it does not re-check weight sufficiency, which
// is a property of how the certificate was built, not of the bytes alone.
func (qc *QuorumCertificate) Verify() error {
	msg := qc.VertexID[:]
	for _, share := range qc.Shares {
		ok, err := sig.Verify(share.PublicKey, msg, share.Signature)
		if err != nil {
			return errors.Wrap(err, "multisig: verify bundled share")
		}
		if !ok {
			return ErrVerificationFailed
		}
	}
	return nil
}

// Aggregator accumulates PartialSignatures toward a QuorumCertificate for
// one vertex id at one (view, sequence). An Aggregator is scoped to a single
// view: it must be discarded, not reused, once its view is superseded by a
// view-change, so that shares collected under the old view can never merge
// with shares collected under the new one into a single certificate.
type Aggregator struct {
	mu sync.Mutex

	view      uint64
	sequence  uint64
	vertexID  hash.Digest
	threshold float64
	weightOf  func(ids.NodeID) float64

	shares      map[ids.NodeID]PartialSignature
	weightSoFar float64
}

// NewAggregator returns an Aggregator for vertexID at (view, sequence)
// requiring threshold cumulative weight, resolving each signer's weight via
// weightOf (normally validators.Set.Get(...).EffectiveWeight).
func NewAggregator(view, sequence uint64, vertexID hash.Digest, threshold float64, weightOf func(ids.NodeID) float64) *Aggregator {
	return &Aggregator{
		view:      view,
		sequence:  sequence,
		vertexID:  vertexID,
		threshold: threshold,
		weightOf:  weightOf,
		shares:    make(map[ids.NodeID]PartialSignature),
	}
}

// Add verifies and records a partial signature. It returns true once the
// accumulated weight has reached the threshold.
func (a *Aggregator) Add(share PartialSignature) (bool, error) {
	ok, err := sig.Verify(share.PublicKey, a.vertexID[:], share.Signature)
	if err != nil {
		return false, errors.Wrap(err, "multisig: verify partial signature")
	}
	if !ok {
		return false, ErrVerificationFailed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.shares[share.Signer]; exists {
		return false, ErrDuplicateSigner
	}
	a.shares[share.Signer] = share
	a.weightSoFar += a.weightOf(share.Signer)
	return a.weightSoFar >= a.threshold, nil
}

// Weight returns the cumulative weight collected so far.
func (a *Aggregator) Weight() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.weightSoFar
}

// Aggregate produces a QuorumCertificate from the shares collected so far.
// It fails with ErrInsufficientShares if the threshold has not been
// reached.
func (a *Aggregator) Aggregate() (*QuorumCertificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.weightSoFar < a.threshold {
		return nil, ErrInsufficientShares
	}

	signers := make([]ids.NodeID, 0, len(a.shares))
	shares := make([]PartialSignature, 0, len(a.shares))
	for signer, share := range a.shares {
		signers = append(signers, signer)
		shares = append(shares, share)
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i].String() < signers[j].String() })
	sort.Slice(shares, func(i, j int) bool { return shares[i].Signer.String() < shares[j].Signer.String() })

	return &QuorumCertificate{
		View:     a.view,
		Sequence: a.sequence,
		VertexID: a.vertexID,
		Signers:  signers,
		Shares:   shares,
	}, nil
}
