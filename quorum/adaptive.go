// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package quorum

import "sync"

// ThreatLevel buckets the current assessment of adversarial activity on
// the network, derived from recent equivocation rate, view-change rate,
// and failure-detector suspicion count.
type ThreatLevel int

const (
	// ThreatNone indicates no elevated signals; the base 2/3 + epsilon
	// threshold applies.
	ThreatNone ThreatLevel = iota
	// ThreatElevated indicates one signal is above its baseline.
	ThreatElevated
	// ThreatHigh indicates multiple signals are above baseline
	// simultaneously.
	ThreatHigh
)

// ThreatSignals is the raw input to threat-level assessment, each expressed
// as an observed rate or count over the manager's sliding window.
type ThreatSignals struct {
	EquivocationRate   float64
	ViewChangeRate     float64
	SuspicionCount     int
}

// AdaptiveQuorumManager raises the quorum weight threshold above the base
// 2/3-of-total-weight-plus-epsilon requirement when ThreatSignals indicate
// elevated adversarial activity, while never permitting the threshold to
// fall below the classical 2f+1 safety floor.
type AdaptiveQuorumManager struct {
	mu sync.RWMutex

	totalWeight float64
	byzantineF  int // f: the assumed maximum count of Byzantine nodes

	equivocationElevated float64
	viewChangeElevated   float64
	suspicionElevated    int

	current ThreatLevel
}

// NewAdaptiveQuorumManager returns a manager over a validator set with the
// given total effective weight and Byzantine fault assumption f. Elevated
// thresholds for each signal default to values observed to separate
// ordinary network jitter from active attack in the teacher's benchlist
// failure-counting heuristics: >5% equivocation rate, >10% view-change
// rate, or 3+ concurrent failure-detector suspicions.
func NewAdaptiveQuorumManager(totalWeight float64, byzantineF int) *AdaptiveQuorumManager {
	return &AdaptiveQuorumManager{
		totalWeight:          totalWeight,
		byzantineF:           byzantineF,
		equivocationElevated: 0.05,
		viewChangeElevated:   0.10,
		suspicionElevated:    3,
	}
}

// SetTotalWeight updates the total effective weight the base threshold is
// computed against (called when validator set composition changes).
func (m *AdaptiveQuorumManager) SetTotalWeight(totalWeight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalWeight = totalWeight
}

// Assess computes the ThreatLevel implied by signals and records it as the
// manager's current level.
func (m *AdaptiveQuorumManager) Assess(signals ThreatSignals) ThreatLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	elevatedCount := 0
	if signals.EquivocationRate > m.equivocationElevated {
		elevatedCount++
	}
	if signals.ViewChangeRate > m.viewChangeElevated {
		elevatedCount++
	}
	if signals.SuspicionCount >= m.suspicionElevated {
		elevatedCount++
	}

	switch {
	case elevatedCount >= 2:
		m.current = ThreatHigh
	case elevatedCount == 1:
		m.current = ThreatElevated
	default:
		m.current = ThreatNone
	}
	return m.current
}

// Threshold returns the weighted threshold that must be reached for a
// quorum certificate, given the manager's last-assessed ThreatLevel. The
// result never drops below the 2f+1-equivalent weighted safety floor:
// safetyFloor = totalWeight * (2f+1) / (3f+1), the weighted generalization
// of the classical n=3f+1 count-based floor.
func (m *AdaptiveQuorumManager) Threshold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholdLocked()
}

func (m *AdaptiveQuorumManager) thresholdLocked() float64 {
	base := (m.totalWeight * 2 / 3) + epsilon(m.totalWeight)

	var adjusted float64
	switch m.current {
	case ThreatHigh:
		adjusted = m.totalWeight * 0.85
	case ThreatElevated:
		adjusted = m.totalWeight * 0.75
	default:
		adjusted = base
	}

	floor := m.safetyFloorLocked()
	if adjusted < floor {
		return floor
	}
	return adjusted
}

func (m *AdaptiveQuorumManager) safetyFloorLocked() float64 {
	n := 3*m.byzantineF + 1
	if n <= 0 {
		return 0
	}
	required := 2*m.byzantineF + 1
	return m.totalWeight * float64(required) / float64(n)
}

// CurrentThreatLevel returns the most recently assessed ThreatLevel.
func (m *AdaptiveQuorumManager) CurrentThreatLevel() ThreatLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// epsilon returns a small positive margin above the exact 2/3 split so that
// an even split never counts as quorum.
func epsilon(totalWeight float64) float64 {
	if totalWeight <= 0 {
		return 0
	}
	const minEpsilon = 1e-9
	e := totalWeight * 1e-6
	if e < minEpsilon {
		return minEpsilon
	}
	return e
}
