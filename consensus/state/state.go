// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state tracks per-sequence PBFT phase state: the view currently
// governing a sequence, its proposal, and the prepare/commit vote sets
// collected so far. It follows the teacher's vertex-serializer manager
// shape (a mutex-guarded map keyed by identifier, one entry per in-flight
// unit of work) adapted from per-vertex to per-sequence-number state.
package state

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/vertex"
)

// Phase is where a sequence's consensus state machine currently sits.
type Phase int

const (
	PhaseProposed Phase = iota
	PhasePrepared
	PhaseCommitted
	PhaseExecuted
	PhaseViewChange
)

// ErrForwardOnly is returned when a caller attempts to move a sequence's
// phase backward outside of the view-change exception.
var ErrForwardOnly = errors.New("state: phase transitions are forward-only")

// ErrAlreadyCommitted is returned when a view-change attempts to reopen a
// sequence that already has a Committed record under a higher view.
var ErrAlreadyCommitted = errors.New("state: sequence already committed, cannot reopen")

// Proposal is the pre-prepare content for a sequence: the vertex plus the
// proposer's (v,s) binding.
type Proposal struct {
	View      uint64
	Sequence  uint64
	Vertex    *vertex.Vertex
	Proposer  ids.NodeID
}

// SignedVote is one node's signed vote (prepare or commit) for a
// (view, sequence).
type SignedVote struct {
	Node      ids.NodeID
	VertexID  vertex.ID
	Signature []byte
}

// SequenceState is the consensus state for one sequence number, created on
// first valid message and destroyed on pruning.
type SequenceState struct {
	mu sync.RWMutex

	View     uint64
	Phase    Phase
	Proposal *Proposal
	Prepares map[ids.NodeID]SignedVote
	Commits  map[ids.NodeID]SignedVote
}

func newSequenceState(view uint64) *SequenceState {
	return &SequenceState{
		View:     view,
		Phase:    PhaseProposed,
		Prepares: make(map[ids.NodeID]SignedVote),
		Commits:  make(map[ids.NodeID]SignedVote),
	}
}

// Transition advances the sequence's phase. Phase transitions are
// forward-only, except that ViewChange may occur from any phase prior to
// Committed (and Committed itself can never be reopened).
func (s *SequenceState) Transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if to == PhaseViewChange {
		if s.Phase == PhaseCommitted || s.Phase == PhaseExecuted {
			return ErrAlreadyCommitted
		}
		s.Phase = PhaseViewChange
		return nil
	}
	if to < s.Phase {
		return ErrForwardOnly
	}
	s.Phase = to
	return nil
}

// PreparesSnapshot returns a defensive copy of the prepare votes collected
// so far for s.
func (s *SequenceState) PreparesSnapshot() map[ids.NodeID]SignedVote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ids.NodeID]SignedVote, len(s.Prepares))
	for k, v := range s.Prepares {
		out[k] = v
	}
	return out
}

// CurrentPhase returns s's phase under its own lock, safe for concurrent
// callers that only need to read it (Transition itself already serializes
// writers).
func (s *SequenceState) CurrentPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Phase
}

// CurrentView returns the view s was created (or last re-proposed) under.
func (s *SequenceState) CurrentView() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.View
}

// Machine tracks SequenceState for every sequence currently in flight.
type Machine struct {
	mu       sync.RWMutex
	byseq    map[uint64]*SequenceState
	expected uint64 // next sequence a pre-prepare must carry to be accepted
}

// NewMachine returns an empty Machine expecting sequence 1 as its first
// pre-prepare.
func NewMachine() *Machine {
	return &Machine{byseq: make(map[uint64]*SequenceState), expected: 1}
}

// ExpectedSequence returns the next sequence number a pre-prepare must carry
// to be accepted; anything else is out-of-order and must be rejected (or
// queued until the missing sequence arrives).
func (m *Machine) ExpectedSequence() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expected
}

// AdvanceExpectedSequence records that sequence has been accepted as a
// pre-prepare, moving the expectation to sequence+1. It is a no-op if
// sequence is already behind the current expectation.
func (m *Machine) AdvanceExpectedSequence(sequence uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sequence >= m.expected {
		m.expected = sequence + 1
	}
}

// GetOrCreate returns the SequenceState for sequence, creating it under
// view if it does not yet exist.
func (m *Machine) GetOrCreate(sequence, view uint64) *SequenceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byseq[sequence]
	if !ok {
		s = newSequenceState(view)
		m.byseq[sequence] = s
	}
	return s
}

// Get returns the SequenceState for sequence, if it exists.
func (m *Machine) Get(sequence uint64) (*SequenceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byseq[sequence]
	return s, ok
}

// Prune destroys the state tracked for sequence (called once it has been
// executed and its quorum certificate checkpointed).
func (m *Machine) Prune(sequence uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byseq, sequence)
}

// PreparedSequences returns every sequence currently sitting in exactly
// PhasePrepared (prepared but not yet committed) — the set a replica must
// report prepared proofs for when it emits a ViewChange vote.
func (m *Machine) PreparedSequences() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []uint64
	for seq, s := range m.byseq {
		if s.CurrentPhase() == PhasePrepared {
			out = append(out, seq)
		}
	}
	return out
}

// HighestCommitted returns the highest sequence number with recorded phase
// Committed or Executed, and whether any such sequence exists.
func (m *Machine) HighestCommitted() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var highest uint64
	found := false
	for seq, s := range m.byseq {
		s.mu.RLock()
		committed := s.Phase == PhaseCommitted || s.Phase == PhaseExecuted
		s.mu.RUnlock()
		if committed && (!found || seq > highest) {
			highest = seq
			found = true
		}
	}
	return highest, found
}
