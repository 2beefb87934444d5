// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uptime

import (
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/validators"
)

func newTrackedSet(t *testing.T, nodeIDs []ids.NodeID) *validators.Set {
	t.Helper()
	set := validators.NewSet()
	for _, id := range nodeIDs {
		_, pk, err := sig.GenerateKeypair()
		require.NoError(t, err)
		require.NoError(t, set.Add(validators.Node{ID: id, PublicKey: pk, Stake: 100, Reputation: 1, Uptime: 0}))
	}
	return set
}

func TestStartTrackingAssumesConnectedAndReportsFullUptime(t *testing.T) {
	require := require.New(t)
	node := ids.GenerateTestNodeID()
	set := newTrackedSet(t, []ids.NodeID{node})

	mgr := NewManager(set)
	start := time.Now()
	mgr.now = func() time.Time { return start }

	require.NoError(mgr.StartTracking([]ids.NodeID{node}))
	require.True(mgr.IsConnected(node))

	mgr.now = func() time.Time { return start.Add(time.Hour) }
	pct, err := mgr.CalculateUptimePercent(node)
	require.NoError(err)
	require.InDelta(1.0, pct, 1e-9)

	got, ok := set.Get(node)
	require.True(ok)
	require.InDelta(1.0, got.Uptime, 1e-9)
}

func TestDisconnectStopsAccumulatingUptime(t *testing.T) {
	require := require.New(t)
	node := ids.GenerateTestNodeID()
	set := newTrackedSet(t, []ids.NodeID{node})

	mgr := NewManager(set)
	start := time.Now()
	mgr.now = func() time.Time { return start }
	require.NoError(mgr.StartTracking([]ids.NodeID{node}))

	mgr.now = func() time.Time { return start.Add(30 * time.Minute) }
	require.NoError(mgr.Disconnect(node))
	require.False(mgr.IsConnected(node))

	mgr.now = func() time.Time { return start.Add(time.Hour) }
	pct, err := mgr.CalculateUptimePercent(node)
	require.NoError(err)
	require.InDelta(0.5, pct, 1e-9)
}

func TestCalculateUptimePercentUnknownNodeErrors(t *testing.T) {
	mgr := NewManager(newTrackedSet(t, nil))
	_, err := mgr.CalculateUptimePercent(ids.GenerateTestNodeID())
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestStopTrackingDiscardsHistory(t *testing.T) {
	require := require.New(t)
	node := ids.GenerateTestNodeID()
	set := newTrackedSet(t, []ids.NodeID{node})

	mgr := NewManager(set)
	require.NoError(mgr.StartTracking([]ids.NodeID{node}))
	require.NoError(mgr.StopTracking([]ids.NodeID{node}))
	require.False(mgr.IsConnected(node))
	_, err := mgr.CalculateUptimePercent(node)
	require.ErrorIs(err, ErrUnknownNode)
}
