// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package msglog is the append-only, phase-indexed record of inbound BFT
// protocol messages keyed by (view, sequence, phase, node). A second
// distinct message from the same node for the same key is equivocation:
// both messages are retained as evidence and the sender is reported to the
// caller so it can flag the node Byzantine, following the same
// detect-and-retain-evidence shape as the teacher's benchlist failure
// tracking, specialized to the exact-duplicate check the PBFT phases need.
package msglog

import (
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/hash"
)

// Phase identifies which PBFT message kind a log entry belongs to.
type Phase int

const (
	PhasePrePrepare Phase = iota
	PhasePrepare
	PhaseCommit
	PhaseViewChange
)

// Key identifies one (view, sequence, phase, node) slot in the log.
type Key struct {
	View     uint64
	Sequence uint64
	Phase    Phase
	Node     ids.NodeID
}

// Entry is one logged message: its content digest and arbitrary opaque
// payload bytes (the caller's wire-encoded message), retained so evidence
// can later be re-verified or re-broadcast.
type Entry struct {
	Digest  hash.Digest
	Payload []byte
}

// Evidence is the pair of conflicting entries recorded for an equivocating
// node.
type Evidence struct {
	Key     Key
	First   Entry
	Second  Entry
}

// Log is the thread-safe message log for one consensus instance.
type Log struct {
	mu       sync.RWMutex
	entries  map[Key]Entry
	evidence []Evidence
}

// New returns an empty Log.
func New() *Log {
	return &Log{entries: make(map[Key]Entry)}
}

// Record attempts to log entry under key. If no prior entry exists for key,
// it is recorded and Record returns (true, nil). If a prior entry exists
// with the same digest, the message is a harmless duplicate (e.g. a
// retransmission) and Record returns (false, nil). If a prior entry exists
// with a different digest, it is equivocation: both entries are retained
// as Evidence and Record returns (false, &Evidence{...}).
func (l *Log) Record(key Key, entry Entry) (accepted bool, equivocation *Evidence) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.entries[key]
	if !ok {
		l.entries[key] = entry
		return true, nil
	}
	if existing.Digest == entry.Digest {
		return false, nil
	}

	ev := Evidence{Key: key, First: existing, Second: entry}
	l.evidence = append(l.evidence, ev)
	return false, &ev
}

// Get returns the recorded entry for key, if any.
func (l *Log) Get(key Key) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key]
	return e, ok
}

// CountDistinctSigners returns the number of distinct nodes that have a
// recorded entry for (view, sequence, phase).
func (l *Log) CountDistinctSigners(view, sequence uint64, phase Phase) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for key := range l.entries {
		if key.View == view && key.Sequence == sequence && key.Phase == phase {
			count++
		}
	}
	return count
}

// SignersFor returns every node id with a recorded entry for
// (view, sequence, phase).
func (l *Log) SignersFor(view, sequence uint64, phase Phase) []ids.NodeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ids.NodeID
	for key := range l.entries {
		if key.View == view && key.Sequence == sequence && key.Phase == phase {
			out = append(out, key.Node)
		}
	}
	return out
}

// Evidence returns every equivocation record accumulated so far.
func (l *Log) Evidence() []Evidence {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Evidence, len(l.evidence))
	copy(out, l.evidence)
	return out
}

// PruneSequence discards every entry at or below sequence — called once a
// sequence has been finalized and its consensus state torn down.
func (l *Log) PruneSequence(sequence uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.entries {
		if key.Sequence <= sequence {
			delete(l.entries, key)
		}
	}
}
