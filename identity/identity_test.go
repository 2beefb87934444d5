// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package identity

import (
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewManagerGeneratesKeyOnFirstUse(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	node := ids.GenerateTestNodeID()

	mgr, err := NewManager(node, store, RotationPolicy{})
	require.NoError(err)

	active, err := mgr.Active()
	require.NoError(err)
	require.NotEmpty(active.PrivateKey)
	require.NotEmpty(active.PublicKey)
	require.Equal(uint64(1), active.Generation)
	require.True(active.Active())
}

func TestNewManagerReloadsPersistedKeyring(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	node := ids.GenerateTestNodeID()

	first, err := NewManager(node, store, RotationPolicy{})
	require.NoError(err)
	firstActive, err := first.Active()
	require.NoError(err)

	second, err := NewManager(node, store, RotationPolicy{})
	require.NoError(err)
	secondActive, err := second.Active()
	require.NoError(err)

	require.Equal(firstActive.PrivateKey, secondActive.PrivateKey)
	require.Equal(firstActive.Generation, secondActive.Generation)
}

func TestRotateRetiresOldGenerationAndPersistsNew(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	node := ids.GenerateTestNodeID()

	mgr, err := NewManager(node, store, RotationPolicy{})
	require.NoError(err)
	original, err := mgr.Active()
	require.NoError(err)

	require.NoError(mgr.Rotate())

	active, err := mgr.Active()
	require.NoError(err)
	require.NotEqual(original.PrivateKey, active.PrivateKey)
	require.Equal(original.Generation+1, active.Generation)

	history := mgr.History()
	require.Len(history, 1)
	require.False(history[0].Active())
	require.Equal(original.PrivateKey, history[0].PrivateKey)

	reloaded, err := NewManager(node, store, RotationPolicy{})
	require.NoError(err)
	reloadedActive, err := reloaded.Active()
	require.NoError(err)
	require.Equal(active.PrivateKey, reloadedActive.PrivateKey)
	require.Len(reloaded.History(), 1)
}

func TestRotateIfDueRespectsMaxAge(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	node := ids.GenerateTestNodeID()

	mgr, err := NewManager(node, store, RotationPolicy{MaxAge: time.Hour})
	require.NoError(err)

	rotated, err := mgr.RotateIfDue(time.Now())
	require.NoError(err)
	require.False(rotated)

	rotated, err = mgr.RotateIfDue(time.Now().Add(2 * time.Hour))
	require.NoError(err)
	require.True(rotated)
}

func TestActiveWithoutAnyKeyErrors(t *testing.T) {
	var mgr Manager
	_, err := mgr.Active()
	require.ErrorIs(t, err, ErrNoActiveKey)
}
