// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package resilience implements the outbound-call protection the BFT
// engine and its peers rely on: a per-peer circuit breaker (Closed / Open /
// HalfOpen) and an adaptive timeout derived from recently observed
// latencies. It replaces the teacher's networking/timeout.Manager — a thin
// wrapper that delegated to an external router package outside this
// module's scope — with a self-contained implementation in the same
// duration-tracking spirit.
package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
)

// ErrCircuitOpen is returned by Breaker.Allow when the circuit is open and
// has not yet reached its cool-down deadline.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// BreakerState is the circuit breaker's current state.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// CoolDown is how long the circuit stays Open before probing via
	// HalfOpen.
	CoolDown time.Duration
	// HalfOpenSuccesses is the number of consecutive HalfOpen successes
	// needed to return to Closed.
	HalfOpenSuccesses int
}

// DefaultBreakerConfig matches common conservative defaults: three
// consecutive failures trips the breaker, a five-second cool-down, and two
// consecutive successful probes to fully recover.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, CoolDown: 5 * time.Second, HalfOpenSuccesses: 2}
}

// Breaker is a per-peer circuit breaker.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig

	state            BreakerState
	consecutiveFails int
	halfOpenOK       int
	openedAt         time.Time
}

// NewBreaker returns a Breaker starting Closed.
func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{config: config, state: Closed}
}

// Allow reports whether a call may proceed, transitioning Open -> HalfOpen
// once the cool-down has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return nil
	case Open:
		if time.Since(b.openedAt) >= b.config.CoolDown {
			b.state = HalfOpen
			b.halfOpenOK = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// RecordSuccess reports a successful call, closing the circuit if enough
// consecutive HalfOpen probes have succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	switch b.state {
	case HalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.config.HalfOpenSuccesses {
			b.state = Closed
		}
	case Open:
		// A success racing a concurrent probe; stay in Open until Allow
		// transitions us through HalfOpen deliberately.
	}
}

// RecordFailure reports a failed call, opening the circuit once the
// consecutive failure threshold is reached (or immediately, from HalfOpen).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.config.FailureThreshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AdaptiveTimeout derives a per-call timeout from a sliding window of
// recently observed round-trip latencies: median + k * p95, so that a
// burst of slow-but-legitimate responses widens the timeout rather than
// triggering spurious view-changes.
type AdaptiveTimeout struct {
	mu         sync.Mutex
	window     []time.Duration
	windowSize int
	k          float64
	minTimeout time.Duration
	maxTimeout time.Duration
}

// NewAdaptiveTimeout returns an AdaptiveTimeout tracking the last
// windowSize observations, computing timeout = median + k*p95, clamped to
// [minTimeout, maxTimeout].
func NewAdaptiveTimeout(windowSize int, k float64, minTimeout, maxTimeout time.Duration) *AdaptiveTimeout {
	return &AdaptiveTimeout{windowSize: windowSize, k: k, minTimeout: minTimeout, maxTimeout: maxTimeout}
}

// Observe records a new completed call's latency.
func (a *AdaptiveTimeout) Observe(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = append(a.window, latency)
	if len(a.window) > a.windowSize {
		a.window = a.window[len(a.window)-a.windowSize:]
	}
}

// Timeout returns the current adaptive timeout. With fewer than two
// observations it returns maxTimeout, erring conservative until the window
// fills.
func (a *AdaptiveTimeout) Timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.window) < 2 {
		return a.maxTimeout
	}

	sorted := append([]time.Duration(nil), a.window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	median := percentile(sorted, 0.5)
	p95 := percentile(sorted, 0.95)

	timeout := time.Duration(float64(median) + a.k*float64(p95))
	if timeout < a.minTimeout {
		return a.minTimeout
	}
	if timeout > a.maxTimeout {
		return a.maxTimeout
	}
	return timeout
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// DegradedMode tracks whether the engine has entered degraded operation —
// e.g. due to persistent storage failure or an unresolved fork — and
// surfaces the reason through Health.
type DegradedMode struct {
	mu     sync.RWMutex
	active bool
	reason string
}

// Enter marks degraded mode active with reason.
func (d *DegradedMode) Enter(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = true
	d.reason = reason
}

// Clear exits degraded mode.
func (d *DegradedMode) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.reason = ""
}

// Status reports whether degraded mode is active and, if so, why.
func (d *DegradedMode) Status() (active bool, reason string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active, d.reason
}

// PeerBenchlist is a Breaker per peer, so one node's repeated unresponsive
// RPCs or message timeouts temporarily stop being routed to without
// tripping the whole engine into degraded mode. Grounded on the teacher's
// networking/benchlist.Manager interface (IsBenched/Bench/
// RegisterResponse/RegisterFailure over a failure-count-and-duration
// scheme); rather than reimplementing that threshold/duration bookkeeping
// a second time, each tracked peer gets its own Breaker, reusing the one
// Closed/Open/HalfOpen state machine this package already has.
type PeerBenchlist struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[ids.NodeID]*Breaker
}

// NewPeerBenchlist returns a PeerBenchlist whose per-node breakers all use
// config.
func NewPeerBenchlist(config BreakerConfig) *PeerBenchlist {
	return &PeerBenchlist{config: config, breakers: make(map[ids.NodeID]*Breaker)}
}

// IsBenched reports whether node's breaker currently disallows calls.
func (p *PeerBenchlist) IsBenched(node ids.NodeID) bool {
	return p.breakerFor(node).Allow() != nil
}

// Bench forces node's breaker directly to Open, regardless of its prior
// failure count — used when a caller already knows a peer misbehaved
// (e.g. it sent an invalid signature) rather than merely failed to
// respond.
func (p *PeerBenchlist) Bench(node ids.NodeID) {
	b := p.breakerFor(node)
	for i := 0; i < p.config.FailureThreshold; i++ {
		b.RecordFailure()
	}
}

// RegisterResponse records a successful call from node.
func (p *PeerBenchlist) RegisterResponse(node ids.NodeID) {
	p.breakerFor(node).RecordSuccess()
}

// RegisterFailure records a failed call from node.
func (p *PeerBenchlist) RegisterFailure(node ids.NodeID) {
	p.breakerFor(node).RecordFailure()
}

func (p *PeerBenchlist) breakerFor(node ids.NodeID) *Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[node]
	if !ok {
		b = NewBreaker(p.config)
		p.breakers[node] = b
	}
	return b
}
