// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vertex defines the immutable signed DAG node. A vertex's id is the
// BLAKE3 hash of its canonical encoding; that same encoding, minus the
// signature field, is what the creator's ML-DSA-87 key signs. This mirrors
// the content-addressed Candidate that the teacher's pkg/wire package builds
// around a SHA-256 digest, generalized to a multi-parent DAG node and
// upgraded to the post-quantum signature envelope.
package vertex

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/hash"
)

const (
	// MaxParents bounds the number of parent ids a vertex may declare.
	MaxParents = 10
	// MaxPayloadBytes bounds the size of the opaque payload.
	MaxPayloadBytes = 1 << 20
)

var (
	// ErrTooManyParents is returned when a vertex declares more than MaxParents.
	ErrTooManyParents = errors.New("vertex: too many parents")
	// ErrPayloadTooLarge is returned when the payload exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("vertex: payload too large")
	// ErrSelfReference is returned when a vertex lists itself as a parent.
	ErrSelfReference = errors.New("vertex: self-referential parent")
	// ErrIDMismatch is returned when the recomputed id disagrees with the
	// vertex's stored id.
	ErrIDMismatch = errors.New("vertex: id does not match canonical encoding")
	// ErrInvalidSignature is returned when the signature does not verify
	// under the vertex's public key.
	ErrInvalidSignature = errors.New("vertex: signature verification failed")
)

// ID is a content-addressed vertex identifier: hash.Digest over the
// canonical encoding of every field but Signature.
type ID = hash.Digest

// Vertex is an immutable signed DAG node. Callers must treat a Vertex as
// read-only after Build returns it; there are no setters.
type Vertex struct {
	id        ID
	agentID   string
	parents   []ID
	payload   []byte
	timestamp int64
	signature sig.Signature
	publicKey sig.PublicKey
}

// ID returns the content-addressed identifier.
func (v *Vertex) ID() ID { return v.id }

// AgentID returns the opaque creator name.
func (v *Vertex) AgentID() string { return v.agentID }

// Parents returns the ordered, deduplicated parent id set.
func (v *Vertex) Parents() []ID {
	out := make([]ID, len(v.parents))
	copy(out, v.parents)
	return out
}

// Payload returns the opaque payload bytes.
func (v *Vertex) Payload() []byte {
	out := make([]byte, len(v.payload))
	copy(out, v.payload)
	return out
}

// Timestamp returns the creator-local advisory timestamp.
func (v *Vertex) Timestamp() int64 { return v.timestamp }

// Signature returns the detached ML-DSA-87 signature.
func (v *Vertex) Signature() sig.Signature { return v.signature }

// PublicKey returns the creator's ML-DSA-87 public key.
func (v *Vertex) PublicKey() sig.PublicKey { return v.publicKey }

// canonicalEncoding produces the stable, length-prefixed serialization of
// every field but Signature, in fixed field order: agent_id, parents
// (in the order given), payload, timestamp, public_key.
func canonicalEncoding(agentID string, parents []ID, payload []byte, timestamp int64, publicKey sig.PublicKey) []byte {
	size := 4 + len(agentID) +
		4 + len(parents)*hash.Size +
		4 + len(payload) +
		8 +
		4 + len(publicKey)
	buf := make([]byte, 0, size)
	buf = appendLengthPrefixed(buf, []byte(agentID))

	var parentCount [4]byte
	binary.BigEndian.PutUint32(parentCount[:], uint32(len(parents)))
	buf = append(buf, parentCount[:]...)
	for _, p := range parents {
		buf = append(buf, p[:]...)
	}

	buf = appendLengthPrefixed(buf, payload)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	buf = append(buf, ts[:]...)

	buf = appendLengthPrefixed(buf, publicKey)
	return buf
}

func appendLengthPrefixed(buf, field []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	buf = append(buf, length[:]...)
	return append(buf, field...)
}

// Build assembles a new Vertex: it validates bounds, deduplicates parents
// while preserving order, computes the canonical encoding and id, and signs
// that encoding with sk. The resulting Vertex's PublicKey is derived from sk
// by the caller — Build trusts the supplied pk matches sk.
func Build(agentID string, parents []ID, payload []byte, timestamp int64, sk sig.PrivateKey, pk sig.PublicKey) (*Vertex, error) {
	deduped := dedupeParents(parents)
	if len(deduped) > MaxParents {
		return nil, ErrTooManyParents
	}
	if len(payload) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	encoded := canonicalEncoding(agentID, deduped, payload, timestamp, pk)
	id := hash.Hash(encoded)

	for _, p := range deduped {
		if p == id {
			return nil, ErrSelfReference
		}
	}

	signature, err := sig.Sign(sk, encoded)
	if err != nil {
		return nil, errors.Wrap(err, "vertex: sign canonical encoding")
	}

	return &Vertex{
		id:        id,
		agentID:   agentID,
		parents:   deduped,
		payload:   append([]byte(nil), payload...),
		timestamp: timestamp,
		signature: signature,
		publicKey: pk,
	}, nil
}

// dedupeParents preserves first-occurrence order while dropping repeats.
// A vertex listing the same parent twice is not itself a sign of
// misbehavior (e.g. it can result from naive client-side merging of
// tip sets), so repeats collapse silently rather than rejecting Build.
func dedupeParents(parents []ID) []ID {
	seen := make(map[ID]struct{}, len(parents))
	out := make([]ID, 0, len(parents))
	for _, p := range parents {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Verify checks that v's id matches its canonical encoding, that its
// signature verifies under its public key, and that its structural bounds
// hold. It does not check graph-level invariants (parent presence, cycles);
// those belong to the graph package.
func Verify(v *Vertex) error {
	if len(v.parents) > MaxParents {
		return ErrTooManyParents
	}
	if len(v.payload) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	for _, p := range v.parents {
		if p == v.id {
			return ErrSelfReference
		}
	}

	encoded := canonicalEncoding(v.agentID, v.parents, v.payload, v.timestamp, v.publicKey)
	if hash.Hash(encoded) != v.id {
		return ErrIDMismatch
	}

	ok, err := sig.Verify(v.publicKey, encoded, v.signature)
	if err != nil {
		return errors.Mark(ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// FromParts reconstructs a Vertex from previously-persisted fields without
// re-running Build's signing step (used by storage decode paths). Callers
// are expected to call Verify on the result before trusting it.
func FromParts(id ID, agentID string, parents []ID, payload []byte, timestamp int64, signature sig.Signature, publicKey sig.PublicKey) *Vertex {
	return &Vertex{
		id:        id,
		agentID:   agentID,
		parents:   parents,
		payload:   payload,
		timestamp: timestamp,
		signature: signature,
		publicKey: publicKey,
	}
}
