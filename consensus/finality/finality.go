// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package finality implements the two-chain finality rule: a vertex
// becomes final once a committed quorum certificate exists for its
// sequence and that certificate is itself referenced by a later committed
// vertex. A sliding watermark tracks the highest sequence at or below which
// every vertex is known final, so is_finalized queries for anything at or
// below the watermark answer in O(1).
package finality

import (
	"sync"

	"github.com/luxfi/consensus/consensus/multisig"
	"github.com/luxfi/consensus/vertex"
)

// commitRecord is one sequence's committed vertex and certificate.
type commitRecord struct {
	vertexID    vertex.ID
	certificate *multisig.QuorumCertificate
	// references is the sequence number whose committed vertex this one's
	// certificate is built on top of (its parent sequence in the commit
	// chain), used to detect the second link of the two-chain rule.
	referencesSequence uint64
	final              bool
}

// Detector tracks committed records per sequence and derives finality.
type Detector struct {
	mu        sync.RWMutex
	bySeq     map[uint64]*commitRecord
	watermark uint64
	hasAny    bool
}

// New returns an empty Detector.
func New() *Detector {
	return &Detector{bySeq: make(map[uint64]*commitRecord)}
}

// RecordCommit registers that sequence was committed with the given vertex
// id and certificate, and that its certificate builds on
// referencesSequence's committed vertex. If referencesSequence's record is
// already present, that record becomes final and the watermark advances
// over every contiguous sequence that is already final.
func (d *Detector) RecordCommit(sequence uint64, vertexID vertex.ID, certificate *multisig.QuorumCertificate, referencesSequence uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bySeq[sequence] = &commitRecord{
		vertexID:           vertexID,
		certificate:        certificate,
		referencesSequence: referencesSequence,
	}

	if prior, ok := d.bySeq[referencesSequence]; ok && sequence > referencesSequence {
		prior.final = true
		d.advanceWatermarkLocked()
	}
}

// advanceWatermarkLocked walks forward from the sequence after the current
// watermark while every next sequence is both present and final.
func (d *Detector) advanceWatermarkLocked() {
	next := d.watermark + 1
	if !d.hasAny {
		// Find the lowest finalized sequence to seed the watermark walk.
		lowest, found := d.lowestFinalSequenceLocked()
		if !found {
			return
		}
		next = lowest
		d.hasAny = true
	}
	for {
		rec, ok := d.bySeq[next]
		if !ok || !rec.final {
			break
		}
		d.watermark = next
		delete(d.bySeq, next)
		next++
	}
}

func (d *Detector) lowestFinalSequenceLocked() (uint64, bool) {
	found := false
	var lowest uint64
	for seq, rec := range d.bySeq {
		if rec.final && (!found || seq < lowest) {
			lowest = seq
			found = true
		}
	}
	return lowest, found
}

// IsFinalized reports whether sequence is known final: either at/below the
// watermark (O(1)) or explicitly marked final in the retained record set.
func (d *Detector) IsFinalized(sequence uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.hasAny && sequence <= d.watermark {
		return true
	}
	rec, ok := d.bySeq[sequence]
	return ok && rec.final
}

// Watermark returns the highest sequence at or below which every vertex is
// known final, and whether any watermark has been established yet.
func (d *Detector) Watermark() (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.watermark, d.hasAny
}
