// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bft

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	consensuserrors "github.com/luxfi/consensus/consensus/errors"
	"github.com/luxfi/consensus/consensus/multisig"
	"github.com/luxfi/consensus/consensus/resilience"
	"github.com/luxfi/consensus/consensus/state"
	"github.com/luxfi/consensus/consensus/viewchange"
	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/graph"
	"github.com/luxfi/consensus/quorum"
	"github.com/luxfi/consensus/validators"
	"github.com/luxfi/consensus/vertex"
)

func idBytes(id vertex.ID) []byte {
	return id[:]
}

type testNode struct {
	id ids.NodeID
	sk sig.PrivateKey
	pk sig.PublicKey
}

func setupFourNodes(t *testing.T) ([]testNode, *validators.Set) {
	t.Helper()
	set := validators.NewSet()
	nodes := make([]testNode, 4)
	for i := range nodes {
		sk, pk, err := sig.GenerateKeypair()
		require.NoError(t, err)
		nodes[i] = testNode{id: ids.GenerateTestNodeID(), sk: sk, pk: pk}
		require.NoError(t, set.Add(validators.Node{ID: nodes[i].id, PublicKey: pk, Stake: 100, Reputation: 1, Uptime: 1}))
	}
	return nodes, set
}

func buildGenesisVertex(t *testing.T, n testNode) *vertex.Vertex {
	t.Helper()
	v, err := vertex.Build("genesis-proposer", nil, []byte("payload"), 1, n.sk, n.pk)
	require.NoError(t, err)
	return v
}

func TestFullRoundCommitsAndFinalizesOnSecondLink(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)

	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	threshold := qm.Threshold()
	require.Equal(300.0, threshold)

	probe := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})
	actualLeader, ok := probe.Leader(0)
	require.True(ok)

	// Re-derive the Engine as whichever node the deterministic schedule
	// picked, so the proposal comes from the right key.
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == actualLeader {
			leaderNode = n
		}
	}
	e := New(Config{
		Self:       leaderNode.id,
		SelfKey:    leaderNode.sk,
		Validators: set,
		Graph:      graph.New(),
		Quorum:     qm,
		Resilience: &resilience.DegradedMode{},
	})

	v := buildGenesisVertex(t, leaderNode)

	// sequence 1, referencing sequence 0 as already committed for the
	// two-chain finality check performed once sequence 2 commits below.
	_, err := e.ProposePrePrepare(0, 1, v)
	require.NoError(err)
	require.NoError(e.HandlePrePrepare(0, 1, actualLeader, v))

	for _, n := range nodes {
		prepareSig, err := sig.Sign(n.sk, idBytes(v.ID()))
		require.NoError(err)
		reached, err := e.HandlePrepare(0, 1, n.id, v.ID(), prepareSig)
		require.NoError(err)
		if reached {
			break
		}
	}

	var cert *multisig.QuorumCertificate
	for _, n := range nodes {
		commitSig, err := sig.Sign(n.sk, idBytes(v.ID()))
		require.NoError(err)
		share := multisig.PartialSignature{Signer: n.id, PublicKey: n.pk, Signature: commitSig}
		cert, err = e.HandleCommit(0, 1, n.id, v.ID(), share)
		require.NoError(err)
		if cert != nil {
			break
		}
	}
	require.NotNil(cert)
	require.NoError(cert.Verify())

	require.NoError(e.Execute(1, v.ID(), cert, 0))
	require.False(e.IsFinalized(1))

	// A second vertex committing at sequence 2 and referencing sequence 1
	// completes the two-chain rule, finalizing sequence 1.
	v2, err := vertex.Build("follow-up", []vertex.ID{v.ID()}, []byte("next"), 2, leaderNode.sk, leaderNode.pk)
	require.NoError(err)

	_, err = e.ProposePrePrepare(0, 2, v2)
	require.NoError(err)
	require.NoError(e.HandlePrePrepare(0, 2, actualLeader, v2))
	for _, n := range nodes {
		prepareSig, err := sig.Sign(n.sk, idBytes(v2.ID()))
		require.NoError(err)
		if reached, err := e.HandlePrepare(0, 2, n.id, v2.ID(), prepareSig); err == nil && reached {
			break
		}
	}
	var cert2 *multisig.QuorumCertificate
	for _, n := range nodes {
		commitSig, err := sig.Sign(n.sk, idBytes(v2.ID()))
		require.NoError(err)
		share := multisig.PartialSignature{Signer: n.id, PublicKey: n.pk, Signature: commitSig}
		cert2, err = e.HandleCommit(0, 2, n.id, v2.ID(), share)
		require.NoError(err)
		if cert2 != nil {
			break
		}
	}
	require.NotNil(cert2)
	require.NoError(e.Execute(2, v2.ID(), cert2, 1))

	require.True(e.IsFinalized(1))
}

func TestHandlePrePrepareRejectsNonLeader(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)

	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	actualLeader, _ := e.Leader(0)
	var impostor testNode
	for _, n := range nodes {
		if n.id != actualLeader {
			impostor = n
			break
		}
	}
	v := buildGenesisVertex(t, impostor)
	err := e.HandlePrePrepare(0, 1, impostor.id, v)
	require.Error(err)
}

func TestHandlePrepareBatchReachesQuorumAndAppliesAllValidVotes(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)

	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	leader, ok := e.Leader(0)
	require.True(ok)
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == leader {
			leaderNode = n
		}
	}
	v := buildGenesisVertex(t, leaderNode)
	require.NoError(e.HandlePrePrepare(0, 1, leader, v))

	votes := make([]PrepareVote, len(nodes))
	for i, n := range nodes {
		prepareSig, err := sig.Sign(n.sk, idBytes(v.ID()))
		require.NoError(err)
		votes[i] = PrepareVote{Node: n.id, VertexID: v.ID(), Signature: prepareSig}
	}

	verifyErrs, reached, err := e.HandlePrepareBatch(0, 1, votes)
	require.NoError(err)
	require.True(reached)
	for _, verr := range verifyErrs {
		require.NoError(verr)
	}
}

func TestHandlePrepareBatchReportsPerVoteVerificationFailureWithoutAbortingOthers(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)

	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	leader, ok := e.Leader(0)
	require.True(ok)
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == leader {
			leaderNode = n
		}
	}
	v := buildGenesisVertex(t, leaderNode)
	require.NoError(e.HandlePrePrepare(0, 1, leader, v))

	votes := make([]PrepareVote, len(nodes))
	for i, n := range nodes {
		prepareSig, err := sig.Sign(n.sk, idBytes(v.ID()))
		require.NoError(err)
		votes[i] = PrepareVote{Node: n.id, VertexID: v.ID(), Signature: prepareSig}
	}
	// Corrupt one replica's signature so its vote fails verification while
	// the rest still accumulate toward quorum.
	votes[0].Signature = append([]byte{}, votes[0].Signature...)
	votes[0].Signature[0] ^= 0xFF

	verifyErrs, reached, err := e.HandlePrepareBatch(0, 1, votes)
	require.NoError(err)
	require.Error(verifyErrs[0])
	for i := 1; i < len(votes); i++ {
		require.NoError(verifyErrs[i])
	}
	require.True(reached)
}

func TestHandlePrepareDetectsEquivocation(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)
	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	actualLeader, _ := e.Leader(0)
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == actualLeader {
			leaderNode = n
		}
	}
	v := buildGenesisVertex(t, leaderNode)
	require.NoError(e.HandlePrePrepare(0, 1, actualLeader, v))

	voter := nodes[0]
	prepareSig, err := sig.Sign(voter.sk, idBytes(v.ID()))
	require.NoError(err)
	_, err = e.HandlePrepare(0, 1, voter.id, v.ID(), prepareSig)
	require.NoError(err)

	var otherID vertex.ID
	otherID[0] = 0xFF
	otherSig, err := sig.Sign(voter.sk, idBytes(otherID))
	require.NoError(err)
	_, err = e.HandlePrepare(0, 1, voter.id, otherID, otherSig)
	require.Error(err)
}

func TestTriggerViewChangeAndBuildNewViewCarriesForwardPreparedValue(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)

	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	leader, ok := e.Leader(0)
	require.True(ok)
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == leader {
			leaderNode = n
		}
	}
	v := buildGenesisVertex(t, leaderNode)
	require.NoError(e.HandlePrePrepare(0, 1, leader, v))

	// Three of four nodes prepare, reaching the 300/400 weighted quorum
	// floor and transitioning sequence 1 to Prepared without committing it.
	for i := 0; i < 3; i++ {
		n := nodes[i]
		prepareSig, err := sig.Sign(n.sk, idBytes(v.ID()))
		require.NoError(err)
		_, err = e.HandlePrepare(0, 1, n.id, v.ID(), prepareSig)
		require.NoError(err)
	}

	msg := e.TriggerViewChange(1)
	require.Len(msg.Prepared, 1)
	require.Equal(uint64(1), msg.Prepared[0].Sequence)
	require.Equal(v.ID(), msg.Prepared[0].VertexID)

	// Three ViewChange votes (weight 300) reach the same quorum floor and
	// the last Add should hand back a buildable NewView.
	var nv *viewchange.NewView
	for i := 0; i < 3; i++ {
		vote := msg
		vote.Node = nodes[i].id
		got, err := e.HandleViewChange(1, vote)
		require.NoError(err)
		if got != nil {
			nv = got
		}
	}
	require.NotNil(nv)

	require.NoError(e.ApplyNewView(nv))
	require.Equal(uint64(1), e.View())

	seqState, ok := e.state.Get(1)
	require.True(ok)
	require.Equal(state.PhasePrepared, seqState.CurrentPhase())
}

func TestRecordCommitAndDetectForkFlagsConflictingCommits(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)
	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	var branchA, branchB vertex.ID
	branchA[0] = 0xAA
	branchB[0] = 0xBB
	certA := &multisig.QuorumCertificate{VertexID: branchA, Signers: []ids.NodeID{nodes[0].id, nodes[1].id, nodes[2].id}}
	certB := &multisig.QuorumCertificate{VertexID: branchB, Signers: []ids.NodeID{nodes[1].id, nodes[2].id, nodes[3].id}}

	forked, err := e.recordCommitAndDetectFork(9, branchA, certA)
	require.NoError(err)
	require.False(forked)

	forked, err = e.recordCommitAndDetectFork(9, branchB, certB)
	require.NoError(err)
	require.True(forked)

	winner, quarantined, err := e.ResolveFork(9)
	require.NoError(err)
	require.Contains([]vertex.ID{branchA, branchB}, winner)
	require.Len(quarantined, 1)
}

func TestHandlePrePrepareRejectsOutOfOrderSequence(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)
	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	leader, ok := e.Leader(0)
	require.True(ok)
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == leader {
			leaderNode = n
		}
	}
	v := buildGenesisVertex(t, leaderNode)

	// Sequence 2 arrives before sequence 1 has ever been seen.
	err := e.HandlePrePrepare(0, 2, leader, v)
	require.ErrorIs(err, consensuserrors.ErrInvalidSequence)

	// Sequence 1, the actual next expected sequence, is accepted.
	require.NoError(e.HandlePrePrepare(0, 1, leader, v))

	// Skipping ahead to sequence 3 still fails, since accepting 1 advanced
	// the expectation only to 2.
	v3, err := vertex.Build("skip-ahead", []vertex.ID{v.ID()}, []byte("third"), 3, leaderNode.sk, leaderNode.pk)
	require.NoError(err)
	err = e.HandlePrePrepare(0, 3, leader, v3)
	require.ErrorIs(err, consensuserrors.ErrInvalidSequence)

	v2, err := vertex.Build("in-order", []vertex.ID{v.ID()}, []byte("second"), 2, leaderNode.sk, leaderNode.pk)
	require.NoError(err)
	require.NoError(e.HandlePrePrepare(0, 2, leader, v2))
}

func TestHandleCommitDoesNotMergeSharesAcrossViewChange(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)
	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	threshold := qm.Threshold()
	require.Equal(300.0, threshold)

	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	leader, ok := e.Leader(0)
	require.True(ok)
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == leader {
			leaderNode = n
		}
	}
	v := buildGenesisVertex(t, leaderNode)
	require.NoError(e.HandlePrePrepare(0, 1, leader, v))

	// Two commit shares land under view 0 -- short of the 300-weight
	// quorum floor.
	for i := 0; i < 2; i++ {
		n := nodes[i]
		commitSig, err := sig.Sign(n.sk, idBytes(v.ID()))
		require.NoError(err)
		share := multisig.PartialSignature{Signer: n.id, PublicKey: n.pk, Signature: commitSig}
		cert, err := e.HandleCommit(0, 1, n.id, v.ID(), share)
		require.NoError(err)
		require.Nil(cert)
	}

	// A view-change moves the replica to view 1 before quorum was reached
	// for sequence 1's view-0 round; the in-flight view-0 aggregator is
	// stranded rather than carried forward.
	e.AdvanceView(1)

	// A single commit share submitted under the new view must not complete
	// a certificate by merging with the two stranded view-0 shares: that
	// would attest a quorum that never agreed within one view.
	n2 := nodes[2]
	commitSig, err := sig.Sign(n2.sk, idBytes(v.ID()))
	require.NoError(err)
	share := multisig.PartialSignature{Signer: n2.id, PublicKey: n2.pk, Signature: commitSig}
	cert, err := e.HandleCommit(1, 1, n2.id, v.ID(), share)
	require.NoError(err)
	require.Nil(cert, "a view-1 share must not complete a certificate seeded by view-0 shares")

	// Two more view-1 shares complete a fresh, view-1-only certificate.
	for _, n := range []testNode{nodes[0], nodes[3]} {
		commitSig, err := sig.Sign(n.sk, idBytes(v.ID()))
		require.NoError(err)
		share := multisig.PartialSignature{Signer: n.id, PublicKey: n.pk, Signature: commitSig}
		got, err := e.HandleCommit(1, 1, n.id, v.ID(), share)
		require.NoError(err)
		if got != nil {
			cert = got
		}
	}
	require.NotNil(cert)
	require.Equal(uint64(1), cert.View)
	for _, signer := range cert.Signers {
		require.NotEqual(nodes[1].id, signer, "a view-0-only signer must not appear in the view-1 certificate")
	}
}

func TestHandlersDropMessagesFromBannedNode(t *testing.T) {
	require := require.New(t)
	nodes, set := setupFourNodes(t)
	qm := quorum.NewAdaptiveQuorumManager(set.TotalWeight(), 1)
	e := New(Config{Self: nodes[0].id, SelfKey: nodes[0].sk, Validators: set, Graph: graph.New(), Quorum: qm, Resilience: &resilience.DegradedMode{}})

	leader, ok := e.Leader(0)
	require.True(ok)
	var leaderNode testNode
	for _, n := range nodes {
		if n.id == leader {
			leaderNode = n
		}
	}
	v := buildGenesisVertex(t, leaderNode)

	require.NoError(set.SetBanned(leader, true))
	err := e.HandlePrePrepare(0, 1, leader, v)
	require.ErrorIs(err, consensuserrors.ErrNodeBanned)

	require.NoError(set.SetBanned(leader, false))
	require.NoError(e.HandlePrePrepare(0, 1, leader, v))

	banned := nodes[1]
	require.NoError(set.SetBanned(banned.id, true))

	prepareSig, err := sig.Sign(banned.sk, idBytes(v.ID()))
	require.NoError(err)
	_, err = e.HandlePrepare(0, 1, banned.id, v.ID(), prepareSig)
	require.ErrorIs(err, consensuserrors.ErrNodeBanned)

	commitSig, err := sig.Sign(banned.sk, idBytes(v.ID()))
	require.NoError(err)
	share := multisig.PartialSignature{Signer: banned.id, PublicKey: banned.pk, Signature: commitSig}
	_, err = e.HandleCommit(0, 1, banned.id, v.ID(), share)
	require.ErrorIs(err, consensuserrors.ErrNodeBanned)

	_, err = e.HandleViewChange(1, viewchange.Message{Node: banned.id, NewView: 1})
	require.ErrorIs(err, consensuserrors.ErrNodeBanned)
}
