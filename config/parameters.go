// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tunable parameters for one BFT+DAG consensus
// instance: fault tolerance assumption, quorum and batch sizing, phase
// timeouts, circuit-breaker and adaptive-timeout tuning, byzantine-evidence
// thresholds, and DAG pruning policy. It follows the teacher's
// Parameters-struct-plus-environment-presets shape, generalized from
// sampling-consensus knobs (K, alpha, beta) to the PBFT-style knobs this
// core needs.
package config

import "time"

// Parameters is the full set of tunables for one consensus instance.
type Parameters struct {
	// ByzantineF is the assumed maximum number of Byzantine-weight
	// validators the instance tolerates; quorum sizing and the safety
	// floor are both derived from it.
	ByzantineF int

	// MaxParents bounds the number of parent ids a vertex may declare.
	MaxParents int
	// MaxPayloadBytes bounds a vertex's opaque payload size.
	MaxPayloadBytes int

	// BatchVerifySize is the default number of signature verifications
	// dispatched per sig.VerifyBatchParallel call.
	BatchVerifySize int

	// PrepareTimeout bounds how long a replica waits to collect a
	// Prepared quorum before triggering view-change.
	PrepareTimeout time.Duration
	// CommitTimeout bounds how long a replica waits to collect a
	// Committed quorum before triggering view-change.
	CommitTimeout time.Duration
	// ViewChangeTimeout is the phase timeout for the view-change protocol.
	ViewChangeTimeout time.Duration

	// BreakerFailureThreshold is the consecutive-failure count that trips
	// a peer's circuit breaker.
	BreakerFailureThreshold int
	// BreakerCoolDown is how long a tripped breaker stays Open before
	// probing via HalfOpen.
	BreakerCoolDown time.Duration
	// BreakerHalfOpenSuccesses is the number of consecutive HalfOpen
	// successes required to fully close a breaker.
	BreakerHalfOpenSuccesses int

	// AdaptiveTimeoutWindow is the sliding-window size the adaptive
	// timeout tracks latencies over.
	AdaptiveTimeoutWindow int
	// AdaptiveTimeoutK is the multiplier applied to the window's p95
	// latency when deriving a timeout.
	AdaptiveTimeoutK float64
	// AdaptiveTimeoutMin and AdaptiveTimeoutMax bound the derived
	// timeout.
	AdaptiveTimeoutMin time.Duration
	AdaptiveTimeoutMax time.Duration

	// ReputationPenalty is subtracted from a node's reputation per
	// byzantine evidence record.
	ReputationPenalty float64
	// BanThreshold is the cumulative evidence count past which a node is
	// banned outright.
	BanThreshold int

	// EquivocationElevatedRate, ViewChangeElevatedRate and
	// SuspicionElevatedCount are the thresholds AdaptiveQuorumManager
	// uses to classify ThreatLevel.
	EquivocationElevatedRate float64
	ViewChangeElevatedRate   float64
	SuspicionElevatedCount   int

	// PruneRetainHeight is how many recent heights the pruner keeps
	// regardless of finality (a safety margin against reorg-depth
	// misestimation).
	PruneRetainHeight uint64
}
