// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pruning implements finalized-ancestor compaction: vertices below
// a sliding height watermark that have already reached consensus finality
// are eligible for removal, while every unfinalized vertex — regardless of
// height — is always retained.
package pruning

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/luxfi/consensus/graph"
	"github.com/luxfi/consensus/storage"
	"github.com/luxfi/consensus/vertex"
)

// Policy configures pruning behavior.
type Policy struct {
	// RetainHeight is the sliding watermark: vertices at or above this
	// height are always retained regardless of finality.
	RetainHeight uint64
}

// Pruner compacts a Store/Graph pair according to Policy. A single mutex
// serializes compaction batches against concurrent readers; a reader that
// began (e.g. took a storage.Snapshot) before a batch commits continues to
// see the pre-prune state for the lifetime of its snapshot.
type Pruner struct {
	mu     sync.Mutex
	store  *storage.Store
	graph  *graph.Graph
	policy Policy
}

// New returns a Pruner over store and g using policy.
func New(store *storage.Store, g *graph.Graph, policy Policy) *Pruner {
	return &Pruner{store: store, graph: g, policy: policy}
}

// SetPolicy atomically replaces the pruning policy.
func (p *Pruner) SetPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// Candidates returns every vertex id eligible for compaction under the
// current policy: finalized and strictly below RetainHeight.
func (p *Pruner) Candidates() ([]vertex.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.candidatesLocked()
}

func (p *Pruner) candidatesLocked() ([]vertex.ID, error) {
	var out []vertex.ID
	for height := uint64(0); height < p.policy.RetainHeight; height++ {
		ids, err := p.store.ByHeight(height)
		if err != nil {
			return nil, errors.Wrap(err, "pruning: list height")
		}
		for _, id := range ids {
			meta, err := p.store.Metadata(id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, errors.Wrap(err, "pruning: read metadata")
			}
			if meta.Finalized {
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i], out[j]) })
	return out, nil
}

// compactBatchLocked atomically removes the given eligible ids from the
// store. Callers are expected to have obtained ids from candidatesLocked
// under the same lock epoch (Run does this); removing an id that is not in fact
// finalized-and-below-watermark is a caller error, not checked here.
func (p *Pruner) compactBatchLocked(ids []vertex.ID) error {
	return p.store.DeleteBatch(ids)
}

// Run executes one compaction pass: it recomputes eligible candidates under
// the current policy and removes them from the store in a single atomic
// batch. The in-memory graph index is not modified.
func (p *Pruner) Run() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids, err := p.candidatesLocked()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := p.compactBatchLocked(ids); err != nil {
		return 0, errors.Wrap(err, "pruning: compact batch")
	}
	return len(ids), nil
}

func lessID(a, b vertex.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
