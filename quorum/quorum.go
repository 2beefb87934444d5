// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package quorum tracks weighted votes toward a BFT quorum certificate and
// raises the required threshold under an AdaptiveQuorumManager's assessed
// ThreatLevel. The weight bookkeeping (per-node response tracking,
// weight-for/weight-against accounting, idempotent re-votes) follows the
// teacher's WeightedStatic tally; the adaptive-threshold half is new, since
// the teacher's Dynamic/AdaptiveDynamic adapts preference/confidence
// thresholds for sampling-based consensus, not the threat-signal-driven
// BFT quorum this package implements.
package quorum

import (
	"sync"

	"github.com/luxfi/ids"
)

// Tally accumulates weighted votes toward a single threshold. It is the
// building block both the BFT engine's per-(v,s,phase) vote counting and
// the view-change quorum use.
type Tally struct {
	mu        sync.RWMutex
	threshold float64

	votes      map[ids.NodeID]bool
	weights    map[ids.NodeID]float64
	weightFor  float64
	weightAgainst float64
}

// NewTally returns a Tally requiring threshold total weight to reach
// Achieved.
func NewTally(threshold float64) *Tally {
	return &Tally{
		threshold: threshold,
		votes:     make(map[ids.NodeID]bool),
		weights:   make(map[ids.NodeID]float64),
	}
}

// Result is a point-in-time snapshot of a Tally.
type Result struct {
	Achieved      bool
	WeightFor     float64
	WeightAgainst float64
	Threshold     float64
	Voters        []ids.NodeID
}

// Vote records nodeID's weighted vote. A node that re-votes has its prior
// weight removed before the new weight is applied, so re-voting (including
// changing one's mind) is idempotent rather than double-counted — this
// deliberately does NOT flag equivocation; that determination belongs to
// the message log, which sees the full signed message and can tell a
// changed vote from a forged duplicate.
func (t *Tally) Vote(nodeID ids.NodeID, approve bool, weight float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prevApprove, ok := t.votes[nodeID]; ok {
		prevWeight := t.weights[nodeID]
		if prevApprove {
			t.weightFor -= prevWeight
		} else {
			t.weightAgainst -= prevWeight
		}
	}

	t.votes[nodeID] = approve
	t.weights[nodeID] = weight
	if approve {
		t.weightFor += weight
	} else {
		t.weightAgainst += weight
	}
}

// Check returns the current Result against the configured threshold.
func (t *Tally) Check() Result {
	t.mu.RLock()
	defer t.mu.RUnlock()

	voters := make([]ids.NodeID, 0, len(t.votes))
	for nodeID, approve := range t.votes {
		if approve {
			voters = append(voters, nodeID)
		}
	}
	return Result{
		Achieved:      t.weightFor >= t.threshold,
		WeightFor:     t.weightFor,
		WeightAgainst: t.weightAgainst,
		Threshold:     t.threshold,
		Voters:        voters,
	}
}

// SetThreshold replaces the required weight-for threshold.
func (t *Tally) SetThreshold(threshold float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threshold = threshold
}

// Threshold returns the currently configured threshold.
func (t *Tally) Threshold() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.threshold
}

// Reset clears all recorded votes, keeping the current threshold.
func (t *Tally) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.votes = make(map[ids.NodeID]bool)
	t.weights = make(map[ids.NodeID]float64)
	t.weightFor = 0
	t.weightAgainst = 0
}
