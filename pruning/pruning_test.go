// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pruning

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/graph"
	"github.com/luxfi/consensus/storage"
	"github.com/luxfi/consensus/vertex"
)

func buildVertex(t *testing.T, payload string) *vertex.Vertex {
	t.Helper()
	sk, pk, err := sig.GenerateKeypair()
	require.NoError(t, err)
	v, err := vertex.Build("agent-1", nil, []byte(payload), 0, sk, pk)
	require.NoError(t, err)
	return v
}

func TestRunRemovesOnlyFinalizedBelowWatermark(t *testing.T) {
	require := require.New(t)

	store, err := storage.Open(t.TempDir(), nil)
	require.NoError(err)
	defer store.Close()
	g := graph.New()

	finalizedOld := buildVertex(t, "finalized-old")
	unfinalizedOld := buildVertex(t, "unfinalized-old")
	finalizedRecent := buildVertex(t, "finalized-recent")

	_, err = g.Add(finalizedOld)
	require.NoError(err)
	require.NoError(store.Put(finalizedOld, storage.VertexMetadata{Height: 0, Finalized: true}))

	_, err = g.Add(unfinalizedOld)
	require.NoError(err)
	require.NoError(store.Put(unfinalizedOld, storage.VertexMetadata{Height: 0, Finalized: false}))

	_, err = g.Add(finalizedRecent)
	require.NoError(err)
	require.NoError(store.Put(finalizedRecent, storage.VertexMetadata{Height: 10, Finalized: true}))

	p := New(store, g, Policy{RetainHeight: 5})
	n, err := p.Run()
	require.NoError(err)
	require.Equal(1, n)

	_, err = store.Get(finalizedOld.ID())
	require.ErrorIs(err, storage.ErrNotFound)

	_, err = store.Get(unfinalizedOld.ID())
	require.NoError(err)

	_, err = store.Get(finalizedRecent.ID())
	require.NoError(err)
}

func TestRunIsNoOpWhenNothingEligible(t *testing.T) {
	require := require.New(t)

	store, err := storage.Open(t.TempDir(), nil)
	require.NoError(err)
	defer store.Close()
	g := graph.New()

	p := New(store, g, Policy{RetainHeight: 5})
	n, err := p.Run()
	require.NoError(err)
	require.Equal(0, n)
}
