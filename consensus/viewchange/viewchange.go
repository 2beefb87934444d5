// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package viewchange implements the leader-replacement protocol: when a
// replica's adaptive timeout for the current view expires, it broadcasts a
// signed ViewChange(view+1, highest-committed-sequence, prepared-proofs).
// Once the next view's leader collects 2f+1 weighted ViewChange messages it
// emits a NewView carrying, for every sequence above the highest committed
// one, either the strongest prepared proof it saw (re-proposed verbatim) or
// an explicit no-op marker when no replica reported a prepared value —
// preserving the safety invariant that no two different values ever commit
// at the same sequence across a view boundary.
package viewchange

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/consensus/multisig"
	"github.com/luxfi/consensus/vertex"
)

// ErrWrongView is returned when a ViewChange message targets a view other
// than the Collector's configured target.
var ErrWrongView = errors.New("viewchange: message targets wrong view")

// ErrDuplicateVoter is returned when a second ViewChange message arrives
// from a node already counted toward the current target view.
var ErrDuplicateVoter = errors.New("viewchange: duplicate voter")

// ErrBelowThreshold is returned when BuildNewView is called without enough
// accumulated weight to justify a view change.
var ErrBelowThreshold = errors.New("viewchange: insufficient weight to build new view")

// PreparedProof is one sequence's prepared value as seen by the replica
// emitting a ViewChange message, carrying the quorum certificate that
// justified entering the Prepared phase.
type PreparedProof struct {
	Sequence    uint64
	VertexID    vertex.ID
	Certificate *multisig.QuorumCertificate
}

// Message is one replica's signed ViewChange vote.
type Message struct {
	Node             ids.NodeID
	NewView          uint64
	HighestCommitted uint64
	Prepared         []PreparedProof
}

// Collector accumulates ViewChange messages for a single target view until
// enough weight has gathered to justify the next leader issuing NewView.
type Collector struct {
	mu sync.Mutex

	targetView uint64
	threshold  float64
	weightOf   func(ids.NodeID) float64

	messages    map[ids.NodeID]Message
	weightSoFar float64
}

// NewCollector returns a Collector for targetView requiring threshold
// cumulative weight before a NewView can be built.
func NewCollector(targetView uint64, threshold float64, weightOf func(ids.NodeID) float64) *Collector {
	return &Collector{
		targetView: targetView,
		threshold:  threshold,
		weightOf:   weightOf,
		messages:   make(map[ids.NodeID]Message),
	}
}

// Add records msg toward the collector's target view, returning true once
// the accumulated weight reaches the configured threshold.
func (c *Collector) Add(msg Message) (bool, error) {
	if msg.NewView != c.targetView {
		return false, ErrWrongView
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.messages[msg.Node]; exists {
		return false, ErrDuplicateVoter
	}
	c.messages[msg.Node] = msg
	c.weightSoFar += c.weightOf(msg.Node)
	return c.weightSoFar >= c.threshold, nil
}

// Weight returns the cumulative weight collected so far.
func (c *Collector) Weight() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weightSoFar
}

// Messages returns every ViewChange message collected so far, sorted by
// voting node id for deterministic NewView construction.
func (c *Collector) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node.String() < out[j].Node.String() })
	return out
}

// ReProposal is one sequence's carried-forward value in a NewView message.
type ReProposal struct {
	Sequence    uint64
	VertexID    vertex.ID
	Certificate *multisig.QuorumCertificate
	// NoOp is set when no collected ViewChange message reported a prepared
	// value for Sequence; the new leader must propose an explicit no-op
	// rather than invent a value, since doing otherwise could conflict with
	// a commit a now-unreachable minority already made.
	NoOp bool
}

// NewView is the message the next view's leader broadcasts once it has
// collected enough ViewChange votes.
type NewView struct {
	View           uint64
	Justification  []Message
	HighestCarried uint64
	ReProposals    []ReProposal
}

// BuildNewView derives the NewView message for view from msgs, which must
// already carry at least threshold weight (callers check this via
// Collector.Weight before calling). For every sequence strictly above the
// lowest highest-committed sequence reported across msgs, it re-proposes
// the prepared value backed by the certificate with the most signers
// (the strongest available proof); sequences with no reported prepared
// value get a NoOp ReProposal.
func BuildNewView(view uint64, msgs []Message) (*NewView, error) {
	if len(msgs) == 0 {
		return nil, ErrBelowThreshold
	}

	lowestCommitted := msgs[0].HighestCommitted
	highestSeen := msgs[0].HighestCommitted
	for _, m := range msgs[1:] {
		if m.HighestCommitted < lowestCommitted {
			lowestCommitted = m.HighestCommitted
		}
		if m.HighestCommitted > highestSeen {
			highestSeen = m.HighestCommitted
		}
	}

	best := make(map[uint64]PreparedProof)
	for _, m := range msgs {
		for _, p := range m.Prepared {
			if p.Sequence <= lowestCommitted {
				continue
			}
			if p.Sequence > highestSeen {
				highestSeen = p.Sequence
			}
			current, ok := best[p.Sequence]
			if !ok || len(p.Certificate.Signers) > len(current.Certificate.Signers) {
				best[p.Sequence] = p
			}
		}
	}

	var reProposals []ReProposal
	for seq := lowestCommitted + 1; seq <= highestSeen; seq++ {
		if proof, ok := best[seq]; ok {
			reProposals = append(reProposals, ReProposal{
				Sequence:    seq,
				VertexID:    proof.VertexID,
				Certificate: proof.Certificate,
			})
			continue
		}
		reProposals = append(reProposals, ReProposal{Sequence: seq, NoOp: true})
	}

	justification := append([]Message(nil), msgs...)
	return &NewView{
		View:           view,
		Justification:  justification,
		HighestCarried: highestSeen,
		ReProposals:    reProposals,
	}, nil
}
