// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resilience

import (
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	require := require.New(t)
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, CoolDown: time.Minute, HalfOpenSuccesses: 1})

	require.NoError(b.Allow())
	b.RecordFailure()
	require.Equal(Closed, b.State())
	b.RecordFailure()
	require.Equal(Open, b.State())
	require.ErrorIs(b.Allow(), ErrCircuitOpen)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	require := require.New(t)
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, CoolDown: time.Millisecond, HalfOpenSuccesses: 1})

	b.RecordFailure()
	require.Equal(Open, b.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(b.Allow())
	require.Equal(HalfOpen, b.State())

	b.RecordSuccess()
	require.Equal(Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	require := require.New(t)
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, CoolDown: time.Millisecond, HalfOpenSuccesses: 2})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.NoError(b.Allow())
	require.Equal(HalfOpen, b.State())

	b.RecordFailure()
	require.Equal(Open, b.State())
}

func TestAdaptiveTimeoutDefaultsToMaxWithoutData(t *testing.T) {
	a := NewAdaptiveTimeout(10, 1.0, 10*time.Millisecond, time.Second)
	require.Equal(t, time.Second, a.Timeout())
}

func TestAdaptiveTimeoutTracksObservedLatencies(t *testing.T) {
	require := require.New(t)
	a := NewAdaptiveTimeout(10, 1.0, time.Millisecond, 10*time.Second)
	for i := 0; i < 10; i++ {
		a.Observe(50 * time.Millisecond)
	}
	timeout := a.Timeout()
	require.Greater(timeout, 50*time.Millisecond)
	require.Less(timeout, 200*time.Millisecond)
}

func TestDegradedModeEnterAndClear(t *testing.T) {
	require := require.New(t)
	var d DegradedMode
	active, _ := d.Status()
	require.False(active)

	d.Enter("storage failure")
	active, reason := d.Status()
	require.True(active)
	require.Equal("storage failure", reason)

	d.Clear()
	active, _ = d.Status()
	require.False(active)
}

func TestPeerBenchlistTracksBreakersIndependently(t *testing.T) {
	require := require.New(t)
	bl := NewPeerBenchlist(BreakerConfig{FailureThreshold: 2, CoolDown: time.Minute, HalfOpenSuccesses: 1})
	a, b := ids.GenerateTestNodeID(), ids.GenerateTestNodeID()

	require.False(bl.IsBenched(a))
	bl.RegisterFailure(a)
	bl.RegisterFailure(a)
	require.True(bl.IsBenched(a))
	require.False(bl.IsBenched(b))
}

func TestPeerBenchlistBenchForcesOpenRegardlessOfHistory(t *testing.T) {
	require := require.New(t)
	bl := NewPeerBenchlist(BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute, HalfOpenSuccesses: 1})
	node := ids.GenerateTestNodeID()

	require.False(bl.IsBenched(node))
	bl.Bench(node)
	require.True(bl.IsBenched(node))
}
