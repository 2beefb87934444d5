// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package context

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/config"
	"github.com/luxfi/consensus/validators"
)

func TestWithContextAndFromContext(t *testing.T) {
	require := require.New(t)

	params := config.Local()
	cc := &Context{
		NetworkID:  5,
		InstanceID: ids.GenerateTestID(),
		NodeID:     ids.GenerateTestNodeID(),
		PublicKey:  []byte("test-public-key"),
		StartTime:  time.Now(),
		Params:     &params,
		Validators: validators.NewSet(),
		Metrics:    prometheus.NewRegistry(),
	}

	ctx := WithContext(context.Background(), cc)
	retrieved := FromContext(ctx)

	require.NotNil(retrieved)
	require.Equal(cc.NetworkID, retrieved.NetworkID)
	require.Equal(cc.InstanceID, retrieved.InstanceID)
	require.Equal(cc.NodeID, retrieved.NodeID)
	require.Equal(cc.PublicKey, retrieved.PublicKey)
	require.Same(cc.Params, retrieved.Params)
	require.Same(cc.Validators, retrieved.Validators)
}

func TestFromContextWithoutAttachedContextReturnsNil(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}

func TestAccessorsFallBackToZeroValuesWithoutContext(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	require.Equal(ids.EmptyNodeID, GetNodeID(ctx))
	require.Equal(uint32(0), GetNetworkID(ctx))
	require.Equal(ids.Empty, GetInstanceID(ctx))
}

func TestAccessorsReadAttachedContext(t *testing.T) {
	require := require.New(t)

	cc := &Context{
		NetworkID:  7,
		InstanceID: ids.GenerateTestID(),
		NodeID:     ids.GenerateTestNodeID(),
	}
	ctx := WithContext(context.Background(), cc)

	require.Equal(cc.NodeID, GetNodeID(ctx))
	require.Equal(cc.NetworkID, GetNetworkID(ctx))
	require.Equal(cc.InstanceID, GetInstanceID(ctx))
}

func TestLockGuardsConcurrentValidatorSwap(t *testing.T) {
	cc := &Context{Validators: validators.NewSet()}

	done := make(chan struct{})
	go func() {
		cc.Lock.Lock()
		defer cc.Lock.Unlock()
		cc.Validators = validators.NewSet()
		close(done)
	}()
	<-done

	cc.Lock.RLock()
	defer cc.Lock.RUnlock()
	require.NotNil(t, cc.Validators)
}
