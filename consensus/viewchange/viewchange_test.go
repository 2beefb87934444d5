// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package viewchange

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/consensus/multisig"
	"github.com/luxfi/consensus/vertex"
)

func nodeWeight(weights map[ids.NodeID]float64) func(ids.NodeID) float64 {
	return func(id ids.NodeID) float64 { return weights[id] }
}

func qcWithSigners(n int) *multisig.QuorumCertificate {
	signers := make([]ids.NodeID, n)
	for i := range signers {
		signers[i] = ids.GenerateTestNodeID()
	}
	return &multisig.QuorumCertificate{Signers: signers}
}

func TestCollectorReachesThresholdAndRejectsDuplicateVoter(t *testing.T) {
	require := require.New(t)
	n1, n2 := ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	weights := map[ids.NodeID]float64{n1: 60, n2: 60}
	c := NewCollector(5, 100, nodeWeight(weights))

	reached, err := c.Add(Message{Node: n1, NewView: 5, HighestCommitted: 3})
	require.NoError(err)
	require.False(reached)

	reached, err = c.Add(Message{Node: n2, NewView: 5, HighestCommitted: 3})
	require.NoError(err)
	require.True(reached)

	_, err = c.Add(Message{Node: n1, NewView: 5, HighestCommitted: 3})
	require.ErrorIs(err, ErrDuplicateVoter)
}

func TestCollectorRejectsWrongView(t *testing.T) {
	c := NewCollector(5, 1, nodeWeight(nil))
	_, err := c.Add(Message{Node: ids.GenerateTestNodeID(), NewView: 4})
	require.ErrorIs(t, err, ErrWrongView)
}

func TestBuildNewViewReProposesStrongestPreparedValue(t *testing.T) {
	require := require.New(t)

	var weak, strong vertex.ID
	weak[0] = 1
	strong[0] = 2

	msgs := []Message{
		{
			Node:             ids.GenerateTestNodeID(),
			NewView:          2,
			HighestCommitted: 10,
			Prepared: []PreparedProof{
				{Sequence: 11, VertexID: weak, Certificate: qcWithSigners(2)},
			},
		},
		{
			Node:             ids.GenerateTestNodeID(),
			NewView:          2,
			HighestCommitted: 10,
			Prepared: []PreparedProof{
				{Sequence: 11, VertexID: strong, Certificate: qcWithSigners(5)},
			},
		},
	}

	nv, err := BuildNewView(2, msgs)
	require.NoError(err)
	require.Len(nv.ReProposals, 1)
	require.Equal(strong, nv.ReProposals[0].VertexID)
	require.False(nv.ReProposals[0].NoOp)
}

func TestBuildNewViewMarksNoOpForSequencesWithoutAnyPreparedValue(t *testing.T) {
	require := require.New(t)

	msgs := []Message{
		{Node: ids.GenerateTestNodeID(), NewView: 3, HighestCommitted: 7},
		{Node: ids.GenerateTestNodeID(), NewView: 3, HighestCommitted: 5},
	}

	nv, err := BuildNewView(3, msgs)
	require.NoError(err)
	// lowestCommitted=5, highestSeen=7 -> sequences 6 and 7 carried forward,
	// both with no prepared evidence.
	require.Len(nv.ReProposals, 2)
	for _, rp := range nv.ReProposals {
		require.True(rp.NoOp)
	}
}

func TestBuildNewViewFailsWithNoMessages(t *testing.T) {
	_, err := BuildNewView(1, nil)
	require.ErrorIs(t, err, ErrBelowThreshold)
}
