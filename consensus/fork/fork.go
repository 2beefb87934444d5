// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fork detects and resolves competing Committed records for the
// same sequence — an event that should only arise from more than 1/3
// Byzantine weight or a recovery bug. Resolution reconciles branches by
// cumulative supporting weight and reports the losing branch ids; the
// Resolver does not remove those vertices from the accepted graph or move
// them to another keyspace.
package fork

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/luxfi/consensus/graph"
	"github.com/luxfi/consensus/vertex"
)

// Status is a fork record's current resolution state.
type Status int

const (
	StatusOpen Status = iota
	StatusResolved
	StatusTimeout
)

// ErrUnknownSequence is returned when an operation targets a sequence with
// no open fork record.
var ErrUnknownSequence = errors.New("fork: no record for sequence")

// ErrAlreadyResolved is returned when RecordSupport or Resolve is called
// against a fork record that is no longer Open.
var ErrAlreadyResolved = errors.New("fork: record already resolved")

// Record tracks the competing branches observed for one sequence.
type Record struct {
	Sequence uint64
	Status   Status
	Deadline time.Time

	// branchWeight accumulates supporting weight per competing branch id
	// (the Committed vertex id proposed for this sequence under each
	// branch).
	branchWeight map[vertex.ID]float64
	winner       vertex.ID
	hasWinner    bool
}

// Resolver tracks open fork records. It keeps the Graph it was built over
// but neither reads nor modifies it.
type Resolver struct {
	mu       sync.Mutex
	records  map[uint64]*Record
	graph    *graph.Graph
	deadline time.Duration
}

// New returns a Resolver over g, bounding each fork's resolution window to
// deadline.
func New(g *graph.Graph, deadline time.Duration) *Resolver {
	return &Resolver{records: make(map[uint64]*Record), graph: g, deadline: deadline}
}

// Open creates (or returns the existing) fork record for sequence.
func (r *Resolver) Open(sequence uint64) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sequence]
	if !ok {
		rec = &Record{
			Sequence:     sequence,
			Status:       StatusOpen,
			Deadline:     time.Now().Add(r.deadline),
			branchWeight: make(map[vertex.ID]float64),
		}
		r.records[sequence] = rec
	}
	return rec
}

// RecordSupport adds weight to branchID's tally for sequence's fork
// record.
func (r *Resolver) RecordSupport(sequence uint64, branchID vertex.ID, weight float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[sequence]
	if !ok {
		return ErrUnknownSequence
	}
	if rec.Status != StatusOpen {
		return ErrAlreadyResolved
	}
	rec.branchWeight[branchID] += weight
	return nil
}

// Resolve picks the branch with the highest supporting weight as the
// winner and returns it together with every other branch id. The losing
// vertices stay in the graph; Resolve does not remove or store them. It
// fails if the record has already been resolved or timed out.
func (r *Resolver) Resolve(sequence uint64) (vertex.ID, []vertex.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[sequence]
	if !ok {
		return vertex.ID{}, nil, ErrUnknownSequence
	}
	if rec.Status != StatusOpen {
		return vertex.ID{}, nil, ErrAlreadyResolved
	}

	var winner vertex.ID
	var winnerWeight float64
	found := false
	for branch, weight := range rec.branchWeight {
		if !found || weight > winnerWeight {
			winner = branch
			winnerWeight = weight
			found = true
		}
	}

	var quarantined []vertex.ID
	for branch := range rec.branchWeight {
		if branch != winner {
			quarantined = append(quarantined, branch)
		}
	}

	rec.winner = winner
	rec.hasWinner = true
	rec.Status = StatusResolved
	return winner, quarantined, nil
}

// CheckTimeouts marks any Open record past its deadline as StatusTimeout,
// returning the sequences that transitioned. Callers should enter degraded
// mode when this returns a non-empty slice.
func (r *Resolver) CheckTimeouts() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var timedOut []uint64
	for seq, rec := range r.records {
		if rec.Status == StatusOpen && now.After(rec.Deadline) {
			rec.Status = StatusTimeout
			timedOut = append(timedOut, seq)
		}
	}
	return timedOut
}

// Get returns the fork record for sequence, if any.
func (r *Resolver) Get(sequence uint64) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sequence]
	return rec, ok
}
