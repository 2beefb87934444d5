// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/consensus/multisig"
	"github.com/luxfi/consensus/vertex"
)

func vid(b byte) vertex.ID {
	var id vertex.ID
	id[0] = b
	return id
}

func TestIsFinalizedFalseBeforeAnyCommit(t *testing.T) {
	d := New()
	require.False(t, d.IsFinalized(0))
	watermark, ok := d.Watermark()
	require.False(t, ok)
	require.Equal(t, uint64(0), watermark)
}

func TestRecordCommitFinalizesReferencedPredecessor(t *testing.T) {
	require := require.New(t)
	d := New()

	d.RecordCommit(1, vid(1), &multisig.QuorumCertificate{}, 0)
	require.False(d.IsFinalized(1))

	d.RecordCommit(2, vid(2), &multisig.QuorumCertificate{}, 1)

	require.True(d.IsFinalized(1))
	watermark, ok := d.Watermark()
	require.True(ok)
	require.Equal(uint64(1), watermark)
}

func TestWatermarkAdvancesAcrossContiguousChain(t *testing.T) {
	require := require.New(t)
	d := New()

	d.RecordCommit(1, vid(1), &multisig.QuorumCertificate{}, 0)
	d.RecordCommit(2, vid(2), &multisig.QuorumCertificate{}, 1)
	d.RecordCommit(3, vid(3), &multisig.QuorumCertificate{}, 2)

	require.True(d.IsFinalized(1))
	require.True(d.IsFinalized(2))
	require.False(d.IsFinalized(3))

	watermark, ok := d.Watermark()
	require.True(ok)
	require.Equal(uint64(2), watermark)
}

func TestNonContiguousFinalizationDoesNotSkipGap(t *testing.T) {
	require := require.New(t)
	d := New()

	// Sequence 5 references sequence 4, but sequence 4's own commit record
	// was never observed (e.g. dropped/out of order), so finalizing 4
	// cannot happen and the watermark must not advance past the gap.
	d.RecordCommit(5, vid(5), &multisig.QuorumCertificate{}, 4)

	require.False(d.IsFinalized(4))
	require.False(d.IsFinalized(5))
	_, ok := d.Watermark()
	require.False(ok)
}

func TestWatermarkStopsAtFirstNonFinalSequence(t *testing.T) {
	require := require.New(t)
	d := New()

	d.RecordCommit(1, vid(1), &multisig.QuorumCertificate{}, 0)
	d.RecordCommit(2, vid(2), &multisig.QuorumCertificate{}, 1)
	// sequence 3 exists but nothing references it yet, so it stays
	// unfinalized and must not be swept into the watermark.
	d.RecordCommit(3, vid(3), &multisig.QuorumCertificate{}, 2)
	// 3's reference to 2 makes 2 final, so the watermark covers 1 and 2.
	require.True(d.IsFinalized(1))

	watermark, ok := d.Watermark()
	require.True(ok)
	require.Equal(uint64(2), watermark)
	require.False(d.IsFinalized(3))
}
