// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package byzantine accumulates evidence of misbehavior — equivocation,
// invalid signatures, timeout violations, fork support — against nodes and
// decrements their reputation, banning them once a configured evidence
// threshold is crossed. The failure-counting-then-bench shape follows the
// teacher's networking/benchlist.Manager, generalized from transient
// "stop talking to this peer for a while" benching to permanent
// reputation-weighted banning tied into the validator set's effective
// weight.
package byzantine

import (
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/validators"
)

// EvidenceKind classifies one instance of observed misbehavior.
type EvidenceKind int

const (
	KindEquivocation EvidenceKind = iota
	KindInvalidSignature
	KindTimeoutViolation
	KindForkSupport
)

// EvidenceRecord is one persisted instance of misbehavior against a node.
type EvidenceRecord struct {
	Node      ids.NodeID
	Kind      EvidenceKind
	At        time.Time
	Detail    string
}

// Config tunes detection thresholds.
type Config struct {
	// ReputationPenalty is subtracted from a node's reputation per
	// evidence record, clamped at 0.
	ReputationPenalty float64
	// BanThreshold is the cumulative evidence count past which a node is
	// banned outright regardless of remaining reputation.
	BanThreshold int
}

// DefaultConfig mirrors the teacher benchlist's default bias toward a
// handful of strikes before escalating.
func DefaultConfig() Config {
	return Config{ReputationPenalty: 0.2, BanThreshold: 5}
}

// Detector tracks evidence and drives reputation/ban decisions against a
// validators.Set.
type Detector struct {
	mu       sync.Mutex
	config   Config
	set      *validators.Set
	evidence map[ids.NodeID][]EvidenceRecord
}

// NewDetector returns a Detector that applies penalties to set.
func NewDetector(set *validators.Set, config Config) *Detector {
	return &Detector{config: config, set: set, evidence: make(map[ids.NodeID][]EvidenceRecord)}
}

// Report records one evidence instance against node and applies the
// configured reputation penalty, banning the node outright if its
// cumulative evidence count reaches BanThreshold.
func (d *Detector) Report(node ids.NodeID, kind EvidenceKind, detail string) error {
	d.mu.Lock()
	record := EvidenceRecord{Node: node, Kind: kind, At: time.Now(), Detail: detail}
	d.evidence[node] = append(d.evidence[node], record)
	count := len(d.evidence[node])
	d.mu.Unlock()

	current, ok := d.set.Get(node)
	if !ok {
		return nil
	}
	newReputation := current.Reputation - d.config.ReputationPenalty
	if newReputation < 0 {
		newReputation = 0
	}
	if err := d.set.UpdateReputation(node, newReputation); err != nil {
		return err
	}

	if count >= d.config.BanThreshold {
		return d.set.SetBanned(node, true)
	}
	return nil
}

// EvidenceFor returns every evidence record accumulated against node.
func (d *Detector) EvidenceFor(node ids.NodeID) []EvidenceRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]EvidenceRecord, len(d.evidence[node]))
	copy(out, d.evidence[node])
	return out
}

// EvidenceCount returns the cumulative evidence count for node.
func (d *Detector) EvidenceCount(node ids.NodeID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.evidence[node])
}
