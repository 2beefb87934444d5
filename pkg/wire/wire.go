// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/consensus/multisig"
	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/hash"
	"github.com/luxfi/consensus/vertex"
)

// ErrInvalidSignature is returned by Verify when an envelope's signature
// does not check out under its declared public key.
var ErrInvalidSignature = errors.New("wire: invalid envelope signature")

// Domain tags separate each message kind's signing namespace so a
// signature collected for one phase can never be replayed as another,
// even if two envelopes happen to encode to the same byte string.
const (
	domainPrePrepare  = "bft.pre-prepare.v1"
	domainPrepare     = "bft.prepare.v1"
	domainCommit      = "bft.commit.v1"
	domainViewChange  = "bft.view-change.v1"
	domainNewView     = "bft.new-view.v1"
)

func envelopeID(domain string, fields ...[]byte) hash.Digest {
	size := len(domain)
	for _, f := range fields {
		size += 4 + len(f)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, domain...)
	for _, f := range fields {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(f)))
		buf = append(buf, length[:]...)
		buf = append(buf, f...)
	}
	return hash.Hash(buf)
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// PrePrepareMsg is the leader's proposal for (View, Sequence).
type PrePrepareMsg struct {
	View      uint64
	Sequence  uint64
	Proposer  ids.NodeID
	VertexID  vertex.ID
	Signature sig.Signature
}

func (m *PrePrepareMsg) id() hash.Digest {
	return envelopeID(domainPrePrepare, uint64Bytes(m.View), uint64Bytes(m.Sequence), []byte(m.Proposer.String()), m.VertexID[:])
}

// Sign computes the envelope id and signs it with sk, storing both the
// caller-supplied public key association implicitly (callers verify
// against the proposer's known key, not a key embedded in the message).
func (m *PrePrepareMsg) Sign(sk sig.PrivateKey) error {
	signature, err := sig.Sign(sk, m.id().Bytes())
	if err != nil {
		return errors.Wrap(err, "wire: sign pre-prepare")
	}
	m.Signature = signature
	return nil
}

// Verify checks m.Signature against pk over the envelope's domain-tagged id.
func (m *PrePrepareMsg) Verify(pk sig.PublicKey) error {
	return verifySignature(pk, m.id(), m.Signature)
}

// PrepareMsg is a replica's attestation that it has seen and validated the
// leader's proposal for (View, Sequence).
type PrepareMsg struct {
	View      uint64
	Sequence  uint64
	Node      ids.NodeID
	VertexID  vertex.ID
	Signature sig.Signature
}

func (m *PrepareMsg) id() hash.Digest {
	return envelopeID(domainPrepare, uint64Bytes(m.View), uint64Bytes(m.Sequence), []byte(m.Node.String()), m.VertexID[:])
}

// Sign computes the envelope id and signs it with sk.
func (m *PrepareMsg) Sign(sk sig.PrivateKey) error {
	signature, err := sig.Sign(sk, m.id().Bytes())
	if err != nil {
		return errors.Wrap(err, "wire: sign prepare")
	}
	m.Signature = signature
	return nil
}

// Verify checks m.Signature against pk over the envelope's domain-tagged id.
func (m *PrepareMsg) Verify(pk sig.PublicKey) error {
	return verifySignature(pk, m.id(), m.Signature)
}

// CommitMsg is a replica's attestation that a weighted quorum of Prepares
// exists for (View, Sequence).
type CommitMsg struct {
	View      uint64
	Sequence  uint64
	Node      ids.NodeID
	VertexID  vertex.ID
	Signature sig.Signature
}

func (m *CommitMsg) id() hash.Digest {
	return envelopeID(domainCommit, uint64Bytes(m.View), uint64Bytes(m.Sequence), []byte(m.Node.String()), m.VertexID[:])
}

// Sign computes the envelope id and signs it with sk.
func (m *CommitMsg) Sign(sk sig.PrivateKey) error {
	signature, err := sig.Sign(sk, m.id().Bytes())
	if err != nil {
		return errors.Wrap(err, "wire: sign commit")
	}
	m.Signature = signature
	return nil
}

// Verify checks m.Signature against pk over the envelope's domain-tagged id.
func (m *CommitMsg) Verify(pk sig.PublicKey) error {
	return verifySignature(pk, m.id(), m.Signature)
}

// ToPartialSignature projects m into the multisig.PartialSignature shape
// the quorum aggregator collects.
func (m *CommitMsg) ToPartialSignature(pk sig.PublicKey) multisig.PartialSignature {
	return multisig.PartialSignature{Signer: m.Node, PublicKey: pk, Signature: m.Signature}
}

// PreparedProofMsg is one sequence's prepared value as carried inside a
// ViewChangeMsg.
type PreparedProofMsg struct {
	Sequence    uint64
	VertexID    vertex.ID
	Certificate *multisig.QuorumCertificate
}

// ViewChangeMsg requests a leader change to NewView, carrying the sending
// replica's highest committed sequence and whatever prepared proofs it
// holds above that sequence.
type ViewChangeMsg struct {
	Node             ids.NodeID
	NewViewNumber    uint64
	HighestCommitted uint64
	Prepared         []PreparedProofMsg
	Signature        sig.Signature
}

func (m *ViewChangeMsg) id() hash.Digest {
	fields := [][]byte{[]byte(m.Node.String()), uint64Bytes(m.NewViewNumber), uint64Bytes(m.HighestCommitted)}
	for _, p := range m.Prepared {
		fields = append(fields, uint64Bytes(p.Sequence), p.VertexID[:])
	}
	return envelopeID(domainViewChange, fields...)
}

// Sign computes the envelope id and signs it with sk.
func (m *ViewChangeMsg) Sign(sk sig.PrivateKey) error {
	signature, err := sig.Sign(sk, m.id().Bytes())
	if err != nil {
		return errors.Wrap(err, "wire: sign view-change")
	}
	m.Signature = signature
	return nil
}

// Verify checks m.Signature against pk over the envelope's domain-tagged id.
func (m *ViewChangeMsg) Verify(pk sig.PublicKey) error {
	return verifySignature(pk, m.id(), m.Signature)
}

// ReProposalMsg is one sequence's carried-forward value in a NewViewMsg.
type ReProposalMsg struct {
	Sequence    uint64
	VertexID    vertex.ID
	Certificate *multisig.QuorumCertificate
	NoOp        bool
}

// NewViewMsg is the next leader's justified announcement of the view
// change, re-proposing every sequence above the lowest committed one seen
// across the justifying ViewChangeMsgs.
type NewViewMsg struct {
	View          uint64
	Justification []ViewChangeMsg
	ReProposals   []ReProposalMsg
	Signature     sig.Signature
}

func (m *NewViewMsg) id() hash.Digest {
	fields := [][]byte{uint64Bytes(m.View)}
	for _, j := range m.Justification {
		fields = append(fields, j.Signature)
	}
	for _, r := range m.ReProposals {
		fields = append(fields, uint64Bytes(r.Sequence), r.VertexID[:])
	}
	return envelopeID(domainNewView, fields...)
}

// Sign computes the envelope id and signs it with sk.
func (m *NewViewMsg) Sign(sk sig.PrivateKey) error {
	signature, err := sig.Sign(sk, m.id().Bytes())
	if err != nil {
		return errors.Wrap(err, "wire: sign new-view")
	}
	m.Signature = signature
	return nil
}

// Verify checks m.Signature against pk over the envelope's domain-tagged id.
func (m *NewViewMsg) Verify(pk sig.PublicKey) error {
	return verifySignature(pk, m.id(), m.Signature)
}

func verifySignature(pk sig.PublicKey, id hash.Digest, signature sig.Signature) error {
	ok, err := sig.Verify(pk, id.Bytes(), signature)
	if err != nil {
		return errors.Mark(ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}
