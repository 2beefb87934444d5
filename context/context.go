// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package context carries the per-instance values a BFT engine and its
// collaborators need but shouldn't have to take as explicit constructor
// arguments everywhere: network/instance identity, the running node's own
// identity, and handles to its logger, metrics registerer and validator
// set. It follows the teacher's context.Context-attached, mutex-guarded
// struct idiom (WithContext/FromContext keyed by an unexported type), kept
// as-is since that idiom is generic Go practice rather than anything
// domain-specific; the struct's fields are trimmed to what this consensus
// core actually consumes; everything else (Warp signing, shared memory,
// keystore, network-upgrade activation checks) belonged to the teacher's
// multi-chain VM platform and has no counterpart in this spec.
package context

import (
	stdcontext "context"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/consensus/config"
	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/validators"
)

// Context holds the values shared across one running consensus instance.
type Context struct {
	// NetworkID distinguishes deployments (e.g. mainnet vs. testnet) that
	// must never cross-talk even if they share infrastructure.
	NetworkID uint32
	// InstanceID identifies this particular consensus instance (one per
	// DAG/validator-set pairing a process may run concurrently).
	InstanceID ids.ID

	NodeID    ids.NodeID
	PublicKey sig.PublicKey

	StartTime time.Time

	Params     *config.Parameters
	Validators *validators.Set
	Metrics    prometheus.Registerer
	Log        Logger

	// Lock guards mutation of the fields above for callers that share one
	// Context across goroutines, e.g. replacing Validators on membership
	// change.
	Lock sync.RWMutex
}

// Logger is the minimal structured-logging surface this package depends on,
// satisfied by github.com/luxfi/log's zap-backed logger without this
// package importing it directly.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type contextKeyType struct{}

var contextKey = contextKeyType{}

// WithContext attaches cc to ctx.
func WithContext(ctx stdcontext.Context, cc *Context) stdcontext.Context {
	return stdcontext.WithValue(ctx, contextKey, cc)
}

// FromContext retrieves the Context attached by WithContext, or nil.
func FromContext(ctx stdcontext.Context) *Context {
	c, _ := ctx.Value(contextKey).(*Context)
	return c
}

// GetNodeID returns the attached Context's NodeID, or ids.EmptyNodeID if
// none is attached.
func GetNodeID(ctx stdcontext.Context) ids.NodeID {
	if c := FromContext(ctx); c != nil {
		return c.NodeID
	}
	return ids.EmptyNodeID
}

// GetNetworkID returns the attached Context's NetworkID, or 0 if none is
// attached.
func GetNetworkID(ctx stdcontext.Context) uint32 {
	if c := FromContext(ctx); c != nil {
		return c.NetworkID
	}
	return 0
}

// GetInstanceID returns the attached Context's InstanceID, or ids.Empty if
// none is attached.
func GetInstanceID(ctx stdcontext.Context) ids.ID {
	if c := FromContext(ctx); c != nil {
		return c.InstanceID
	}
	return ids.Empty
}
