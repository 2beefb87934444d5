// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errors collects the sentinel errors shared across the BFT
// engine's packages, following the teacher's pattern of one cockroachdb/errors
// sentinel per classified failure kind so callers can errors.Is against a
// stable value rather than parsing message text.
package errors

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidSignature is returned by message validation when a
	// signature does not verify.
	ErrInvalidSignature = errors.New("consensus: invalid signature")
	// ErrInvalidView is returned when a message's view does not match the
	// replica's current view.
	ErrInvalidView = errors.New("consensus: invalid view")
	// ErrInvalidSequence is returned when a message's sequence is not the
	// next expected sequence.
	ErrInvalidSequence = errors.New("consensus: invalid sequence")
	// ErrEquivocation is returned (and, more importantly, recorded as
	// evidence rather than simply propagated) when two distinct messages
	// are observed from the same node for the same (v,s,phase).
	ErrEquivocation = errors.New("consensus: equivocation detected")
	// ErrQuorumNotReached indicates the vote aggregator has not yet
	// collected sufficient weight; callers should keep waiting or trigger
	// view-change on timeout, not treat this as fatal.
	ErrQuorumNotReached = errors.New("consensus: quorum not reached")
	// ErrNotLeader is returned when a pre-prepare arrives from a node that
	// is not the leader for the declared view.
	ErrNotLeader = errors.New("consensus: sender is not leader for view")
	// ErrCycleDetected is returned by the graph when accepting a vertex
	// would close a cycle.
	ErrCycleDetected = errors.New("consensus: cycle detected")
	// ErrMessageTimeout is returned when a phase does not complete within
	// its adaptive timeout; it triggers view-change.
	ErrMessageTimeout = errors.New("consensus: message timeout")
	// ErrNodeBanned is returned when a message arrives from a node flagged
	// banned in the validator set.
	ErrNodeBanned = errors.New("consensus: node is banned")
	// ErrStorage wraps a durable-layer failure; callers retry with
	// backoff and enter degraded mode on persistent failure.
	ErrStorage = errors.New("consensus: storage failure")
	// ErrInsufficientSignatures indicates an aggregator has not yet
	// reached threshold weight; not fatal, collection continues.
	ErrInsufficientSignatures = errors.New("consensus: insufficient signatures")
	// ErrForkNotResolved indicates a fork record exceeded its resolution
	// deadline without a winner; enters degraded mode.
	ErrForkNotResolved = errors.New("consensus: fork not resolved")
	// ErrTimeout is returned by an outbound call that exceeded its
	// adaptive timeout; drives circuit-breaker accounting.
	ErrTimeout = errors.New("consensus: outbound call timeout")
)
