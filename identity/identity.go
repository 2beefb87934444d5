// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identity manages a node's own ML-DSA-87 signing keypair across
// its lifetime: generation, durable storage, and scheduled rotation. It
// follows the same pebble-backed, prefixed-keyspace persistence shape the
// storage package uses for vertices, specialized to a single node's small,
// append-mostly keyring.
package identity

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/cryptopq/sig"
)

// ErrNoActiveKey is returned when an operation needs an active keypair but
// none has been generated or loaded yet.
var ErrNoActiveKey = errors.New("identity: no active key")

// Keypair is one generation of a node's signing identity.
type Keypair struct {
	Generation uint64
	PrivateKey sig.PrivateKey
	PublicKey  sig.PublicKey
	CreatedAt  time.Time
	// RetiredAt is the zero time while this generation is active.
	RetiredAt time.Time
}

// Active reports whether k is still the node's current signing key.
func (k Keypair) Active() bool {
	return k.RetiredAt.IsZero()
}

// RotationPolicy decides when a Manager's active key has aged out.
type RotationPolicy struct {
	// MaxAge is how long a generation may remain active before rotation is
	// due. Zero disables age-based rotation (rotation then only happens
	// when Rotate is called explicitly, e.g. in response to suspected key
	// compromise).
	MaxAge time.Duration
}

// Due reports whether k has exceeded p's MaxAge as of now.
func (p RotationPolicy) Due(k Keypair, now time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	return now.Sub(k.CreatedAt) >= p.MaxAge
}

// Manager owns one node's keyring: the active generation plus retired
// history, persisted through a Store.
type Manager struct {
	self   ids.NodeID
	store  *Store
	policy RotationPolicy

	active  Keypair
	history []Keypair
}

// NewManager loads self's keyring from store, generating and persisting a
// fresh Keypair if none exists yet.
func NewManager(self ids.NodeID, store *Store, policy RotationPolicy) (*Manager, error) {
	m := &Manager{self: self, store: store, policy: policy}

	keys, err := store.Load(self)
	if err != nil {
		return nil, errors.Wrap(err, "identity: load keyring")
	}
	if len(keys) == 0 {
		if err := m.generateAndPersist(time.Now()); err != nil {
			return nil, err
		}
		return m, nil
	}

	for _, k := range keys {
		if k.Active() {
			m.active = k
		} else {
			m.history = append(m.history, k)
		}
	}
	if m.active.PrivateKey == nil {
		return nil, errors.New("identity: persisted keyring has no active generation")
	}
	return m, nil
}

// Active returns the node's current signing keypair.
func (m *Manager) Active() (Keypair, error) {
	if m.active.PrivateKey == nil {
		return Keypair{}, ErrNoActiveKey
	}
	return m.active, nil
}

// History returns every retired generation, oldest first.
func (m *Manager) History() []Keypair {
	out := make([]Keypair, len(m.history))
	copy(out, m.history)
	return out
}

// RotateIfDue rotates the active key if the configured RotationPolicy
// judges it stale as of now, returning whether a rotation occurred.
func (m *Manager) RotateIfDue(now time.Time) (bool, error) {
	if m.active.PrivateKey == nil {
		return false, ErrNoActiveKey
	}
	if !m.policy.Due(m.active, now) {
		return false, nil
	}
	if err := m.rotate(now); err != nil {
		return false, err
	}
	return true, nil
}

// Rotate forces a new generation regardless of RotationPolicy, for
// out-of-band triggers such as suspected key compromise.
func (m *Manager) Rotate() error {
	return m.rotate(time.Now())
}

func (m *Manager) rotate(now time.Time) error {
	retired := m.active
	retired.RetiredAt = now
	if err := m.store.Retire(m.self, retired); err != nil {
		return errors.Wrap(err, "identity: persist retirement")
	}
	m.history = append(m.history, retired)
	return m.generateAndPersist(now)
}

func (m *Manager) generateAndPersist(now time.Time) error {
	sk, pk, err := sig.GenerateKeypair()
	if err != nil {
		return errors.Wrap(err, "identity: generate keypair")
	}
	generation := uint64(len(m.history) + 1)
	k := Keypair{Generation: generation, PrivateKey: sk, PublicKey: pk, CreatedAt: now}
	if err := m.store.Put(m.self, k); err != nil {
		return errors.Wrap(err, "identity: persist new key")
	}
	m.active = k
	return nil
}
