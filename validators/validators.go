// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validators tracks the node metadata that feeds weighted voting:
// stake, reputation, uptime, ban status, and each node's ML-DSA-87 public
// key. It is the consolidated, single-package replacement for the several
// mutually-conflicting Manager/State/GetValidatorOutput declarations the
// teacher's platform-VM-era validators package accumulated — that shape
// (a node set keyed by id, with a GetValidatorOutput projection and a
// callback listener for membership changes) is kept, generalized to the
// core's stake/reputation/uptime/banned tuple.
package validators

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/cryptopq/sig"
)

// ErrUnknownNode is returned when an operation targets a node id not in the Set.
var ErrUnknownNode = errors.New("validators: unknown node")

// ErrDuplicateNode is returned when Add is called with an id already present.
var ErrDuplicateNode = errors.New("validators: duplicate node")

// Node is one member of the validator set.
type Node struct {
	ID         ids.NodeID
	PublicKey  sig.PublicKey
	Stake      uint64
	Reputation float64 // [0, 1]
	Uptime     float64 // [0, 1]
	Banned     bool
}

// EffectiveWeight returns stake * reputation * uptime, or 0 if the node is
// banned.
func (n Node) EffectiveWeight() float64 {
	if n.Banned {
		return 0
	}
	return float64(n.Stake) * n.Reputation * n.Uptime
}

// GetValidatorOutput is the read-only projection handed to callers that
// only need weight and key material, not the full mutable Node.
type GetValidatorOutput struct {
	NodeID    ids.NodeID
	PublicKey sig.PublicKey
	Weight    float64
}

// Listener is notified of validator set membership and weight changes.
type Listener interface {
	OnValidatorAdded(node Node)
	OnValidatorWeightChanged(id ids.NodeID, oldWeight, newWeight float64)
	OnValidatorRemoved(id ids.NodeID)
}

// Set is the thread-safe validator membership table for one consensus
// instance. Membership changes are a configuration input with staged
// rotations, not an online operation driven by consensus itself; Add/Remove
// exist for the rotation mechanism to call, not for in-protocol use.
type Set struct {
	mu        sync.RWMutex
	nodes     map[ids.NodeID]Node
	listeners []Listener
}

// NewSet returns an empty validator Set.
func NewSet() *Set {
	return &Set{nodes: make(map[ids.NodeID]Node)}
}

// AddListener registers l to receive future membership/weight change
// notifications. AddListener does not replay existing membership.
func (s *Set) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Add inserts a new node. It fails with ErrDuplicateNode if the id is
// already present — use UpdateReputation, UpdateUptime or SetBanned to
// change an existing node.
func (s *Set) Add(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; ok {
		return ErrDuplicateNode
	}
	s.nodes[n.ID] = n
	for _, l := range s.listeners {
		l.OnValidatorAdded(n)
	}
	return nil
}

// Remove deletes a node from the set.
func (s *Set) Remove(id ids.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return ErrUnknownNode
	}
	delete(s.nodes, id)
	for _, l := range s.listeners {
		l.OnValidatorRemoved(id)
	}
	return nil
}

// Get returns the node record for id.
func (s *Set) Get(id ids.NodeID) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// UpdateReputation sets a node's reputation score, clamped to [0, 1].
func (s *Set) UpdateReputation(id ids.NodeID, reputation float64) error {
	return s.mutate(id, func(n *Node) { n.Reputation = clamp01(reputation) })
}

// UpdateUptime sets a node's observed uptime fraction, clamped to [0, 1].
func (s *Set) UpdateUptime(id ids.NodeID, uptime float64) error {
	return s.mutate(id, func(n *Node) { n.Uptime = clamp01(uptime) })
}

// SetBanned sets or clears a node's ban flag.
func (s *Set) SetBanned(id ids.NodeID, banned bool) error {
	return s.mutate(id, func(n *Node) { n.Banned = banned })
}

func (s *Set) mutate(id ids.NodeID, fn func(n *Node)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return ErrUnknownNode
	}
	before := n.EffectiveWeight()
	fn(&n)
	s.nodes[id] = n
	after := n.EffectiveWeight()
	if before != after {
		for _, l := range s.listeners {
			l.OnValidatorWeightChanged(id, before, after)
		}
	}
	return nil
}

// TotalWeight returns the sum of every node's effective weight.
func (s *Set) TotalWeight() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, n := range s.nodes {
		total += n.EffectiveWeight()
	}
	return total
}

// Outputs returns the GetValidatorOutput projection for every node, sorted
// by node id for deterministic iteration across peers.
func (s *Set) Outputs() []GetValidatorOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GetValidatorOutput, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, GetValidatorOutput{NodeID: n.ID, PublicKey: n.PublicKey, Weight: n.EffectiveWeight()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID.String() < out[j].NodeID.String() })
	return out
}

// Len returns the number of nodes currently in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Ordered returns every node id in the deterministic order used to derive
// the BFT leader schedule L(v) = v mod n.
func (s *Set) Ordered() []ids.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.NodeID, 0, len(s.nodes))
	for id := range s.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
