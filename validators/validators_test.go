// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validators

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/cryptopq/sig"
)

func newNode(t *testing.T, stake uint64) Node {
	t.Helper()
	_, pk, err := sig.GenerateKeypair()
	require.NoError(t, err)
	return Node{ID: ids.GenerateTestNodeID(), PublicKey: pk, Stake: stake, Reputation: 1, Uptime: 1}
}

func TestEffectiveWeightIsZeroWhenBanned(t *testing.T) {
	n := Node{Stake: 100, Reputation: 1, Uptime: 1, Banned: true}
	require.Equal(t, float64(0), n.EffectiveWeight())
}

func TestEffectiveWeightMultipliesFactors(t *testing.T) {
	n := Node{Stake: 100, Reputation: 0.5, Uptime: 0.8}
	require.InDelta(t, 40, n.EffectiveWeight(), 1e-9)
}

func TestAddRejectsDuplicate(t *testing.T) {
	require := require.New(t)
	s := NewSet()
	n := newNode(t, 10)
	require.NoError(s.Add(n))
	require.ErrorIs(s.Add(n), ErrDuplicateNode)
}

func TestSetBannedZeroesWeightAndNotifiesListener(t *testing.T) {
	require := require.New(t)
	s := NewSet()
	n := newNode(t, 10)
	require.NoError(s.Add(n))

	var lastOld, lastNew float64
	var calls int
	s.AddListener(fakeListener{
		onWeightChanged: func(id ids.NodeID, oldWeight, newWeight float64) {
			calls++
			lastOld, lastNew = oldWeight, newWeight
		},
	})

	require.NoError(s.SetBanned(n.ID, true))
	require.Equal(1, calls)
	require.Equal(10.0, lastOld)
	require.Equal(0.0, lastNew)

	got, ok := s.Get(n.ID)
	require.True(ok)
	require.Equal(float64(0), got.EffectiveWeight())
}

func TestUpdateUptimeClamps(t *testing.T) {
	require := require.New(t)
	s := NewSet()
	n := newNode(t, 10)
	require.NoError(s.Add(n))
	require.NoError(s.UpdateUptime(n.ID, 1.5))
	got, _ := s.Get(n.ID)
	require.Equal(1.0, got.Uptime)
}

func TestTotalWeightSumsAcrossNodes(t *testing.T) {
	require := require.New(t)
	s := NewSet()
	a := newNode(t, 10)
	b := newNode(t, 20)
	require.NoError(s.Add(a))
	require.NoError(s.Add(b))
	require.Equal(30.0, s.TotalWeight())
}

func TestOrderedIsDeterministic(t *testing.T) {
	require := require.New(t)
	s := NewSet()
	a := newNode(t, 1)
	b := newNode(t, 2)
	require.NoError(s.Add(a))
	require.NoError(s.Add(b))

	first := s.Ordered()
	second := s.Ordered()
	require.Equal(first, second)
	require.Len(first, 2)
}

type fakeListener struct {
	onWeightChanged func(id ids.NodeID, oldWeight, newWeight float64)
}

func (f fakeListener) OnValidatorAdded(Node)                                            {}
func (f fakeListener) OnValidatorRemoved(ids.NodeID)                                    {}
func (f fakeListener) OnValidatorWeightChanged(id ids.NodeID, oldWeight, newWeight float64) {
	if f.onWeightChanged != nil {
		f.onWeightChanged(id, oldWeight, newWeight)
	}
}
