// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/vertex"
)

func TestPrePrepareSignVerifyRoundTrip(t *testing.T) {
	require := require.New(t)
	sk, pk, err := sig.GenerateKeypair()
	require.NoError(err)

	msg := &PrePrepareMsg{View: 1, Sequence: 2, Proposer: ids.GenerateTestNodeID(), VertexID: vertex.ID{0x1}}
	require.NoError(msg.Sign(sk))
	require.NoError(msg.Verify(pk))
}

func TestPrepareVerifyRejectsTamperedSequence(t *testing.T) {
	require := require.New(t)
	sk, pk, err := sig.GenerateKeypair()
	require.NoError(err)

	msg := &PrepareMsg{View: 1, Sequence: 2, Node: ids.GenerateTestNodeID(), VertexID: vertex.ID{0x1}}
	require.NoError(msg.Sign(sk))

	msg.Sequence = 3
	require.Error(msg.Verify(pk))
}

func TestCommitDomainSeparationPreventsCrossPhaseReplay(t *testing.T) {
	require := require.New(t)
	sk, pk, err := sig.GenerateKeypair()
	require.NoError(err)

	node := ids.GenerateTestNodeID()
	vid := vertex.ID{0x7}

	commit := &CommitMsg{View: 1, Sequence: 2, Node: node, VertexID: vid}
	require.NoError(commit.Sign(sk))

	// A Prepare message built from the identical logical fields must not
	// verify against the Commit's signature — domain tags keep the two
	// phases from colliding.
	prepare := &PrepareMsg{View: 1, Sequence: 2, Node: node, VertexID: vid, Signature: commit.Signature}
	require.Error(prepare.Verify(pk))
}

func TestViewChangeSignVerifyRoundTripWithPreparedProofs(t *testing.T) {
	require := require.New(t)
	sk, pk, err := sig.GenerateKeypair()
	require.NoError(err)

	msg := &ViewChangeMsg{
		Node:             ids.GenerateTestNodeID(),
		NewViewNumber:    5,
		HighestCommitted: 10,
		Prepared: []PreparedProofMsg{
			{Sequence: 11, VertexID: vertex.ID{0x2}},
		},
	}
	require.NoError(msg.Sign(sk))
	require.NoError(msg.Verify(pk))
}

func TestNewViewSignVerifyRoundTrip(t *testing.T) {
	require := require.New(t)
	sk, pk, err := sig.GenerateKeypair()
	require.NoError(err)

	msg := &NewViewMsg{
		View:        5,
		ReProposals: []ReProposalMsg{{Sequence: 11, NoOp: true}},
	}
	require.NoError(msg.Sign(sk))
	require.NoError(msg.Verify(pk))
}

func TestToPartialSignatureProjectsCommitFields(t *testing.T) {
	require := require.New(t)
	sk, pk, err := sig.GenerateKeypair()
	require.NoError(err)

	node := ids.GenerateTestNodeID()
	commit := &CommitMsg{View: 1, Sequence: 1, Node: node, VertexID: vertex.ID{0x3}}
	require.NoError(commit.Sign(sk))

	share := commit.ToPartialSignature(pk)
	require.Equal(node, share.Signer)
	require.Equal(commit.Signature, share.Signature)
}
