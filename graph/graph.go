// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package graph maintains the in-memory index over accepted vertices: the
// id->vertex and id->children maps, the tip set, and the pending set of
// vertices waiting on parents that have not arrived yet. It owns every
// Vertex it accepts; other subsystems hold vertices by id or by the
// read-only views this package returns.
package graph

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/luxfi/consensus/vertex"
)

// ErrCycleDetected is returned by Add when accepting a vertex would close a
// cycle in the ancestor graph.
var ErrCycleDetected = errors.New("graph: cycle detected")

// ErrCircularDependency is returned by TopologicalSort when Kahn's algorithm
// cannot drain the graph — a safety net, since Add's cycle rejection should
// make this unreachable for a correctly-maintained graph.
type ErrCircularDependency struct {
	Path []vertex.ID
}

func (e *ErrCircularDependency) Error() string {
	return "graph: circular dependency detected during topological sort"
}

// Graph is the in-memory DAG index. The zero value is not usable; use New.
type Graph struct {
	mu sync.RWMutex

	vertices map[vertex.ID]*vertex.Vertex
	children map[vertex.ID]map[vertex.ID]struct{}
	tips     map[vertex.ID]struct{}

	// pending maps a missing parent id to the set of vertex ids that are
	// waiting on it.
	pending map[vertex.ID]map[vertex.ID]struct{}
	// waiting holds the vertex bodies that couldn't be added yet, along with
	// the count of parents they're still waiting on.
	waiting        map[vertex.ID]*vertex.Vertex
	waitingMissing map[vertex.ID]int
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		vertices:       make(map[vertex.ID]*vertex.Vertex),
		children:       make(map[vertex.ID]map[vertex.ID]struct{}),
		tips:           make(map[vertex.ID]struct{}),
		pending:        make(map[vertex.ID]map[vertex.ID]struct{}),
		waiting:        make(map[vertex.ID]*vertex.Vertex),
		waitingMissing: make(map[vertex.ID]int),
	}
}

// Has reports whether id is present in the accepted set.
func (g *Graph) Has(id vertex.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.vertices[id]
	return ok
}

// Get returns the accepted vertex for id, if any.
func (g *Graph) Get(id vertex.ID) (*vertex.Vertex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[id]
	return v, ok
}

// VertexCount returns the number of accepted vertices.
func (g *Graph) VertexCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vertices)
}

// Children returns the ids of vertices whose parent set includes id.
func (g *Graph) Children(id vertex.ID) []vertex.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return idSetToSortedSlice(g.children[id])
}

// Parents returns the accepted vertex's parent ids.
func (g *Graph) Parents(id vertex.ID) ([]vertex.ID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[id]
	if !ok {
		return nil, false
	}
	return v.Parents(), true
}

// Tips returns the current set of vertices with no children, sorted
// lexicographically on id for deterministic output across peers.
func (g *Graph) Tips() []vertex.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return idSetToSortedSlice(g.tips)
}

// Ancestors returns every vertex reachable by following parent edges from
// id, not including id itself.
func (g *Graph) Ancestors(id vertex.ID) []vertex.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[vertex.ID]struct{})
	stack := []vertex.ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		v, ok := g.vertices[cur]
		if !ok {
			continue
		}
		for _, p := range v.Parents() {
			if _, seen := visited[p]; !seen {
				visited[p] = struct{}{}
				stack = append(stack, p)
			}
		}
	}
	return idSetToSortedSlice(visited)
}

// Descendants returns every vertex reachable by following children edges
// from id, not including id itself.
func (g *Graph) Descendants(id vertex.ID) []vertex.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[vertex.ID]struct{})
	stack := []vertex.ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for child := range g.children[cur] {
			if _, seen := visited[child]; !seen {
				visited[child] = struct{}{}
				stack = append(stack, child)
			}
		}
	}
	return idSetToSortedSlice(visited)
}

// Add runs the acceptance protocol for v: idempotent if already present,
// structural verification, parent-presence check (queuing in the pending
// set if parents are missing), cycle rejection, and finally insertion with
// index updates. It returns the ids of any previously-pending vertices that
// were retried and accepted as a side effect of v's arrival.
func (g *Graph) Add(v *vertex.Vertex) ([]vertex.ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(v)
}

func (g *Graph) addLocked(v *vertex.Vertex) ([]vertex.ID, error) {
	id := v.ID()
	if _, ok := g.vertices[id]; ok {
		return nil, nil
	}

	if err := vertex.Verify(v); err != nil {
		return nil, errors.Wrap(err, "graph: reject invalid vertex")
	}

	var missing []vertex.ID
	for _, p := range v.Parents() {
		if _, ok := g.vertices[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		g.waiting[id] = v
		g.waitingMissing[id] = len(missing)
		for _, p := range missing {
			if g.pending[p] == nil {
				g.pending[p] = make(map[vertex.ID]struct{})
			}
			g.pending[p][id] = struct{}{}
		}
		return nil, nil
	}

	if g.reachesLocked(v.Parents(), id) {
		return nil, ErrCycleDetected
	}

	g.insertLocked(v)

	var retried []vertex.ID
	g.drainPendingLocked(id, &retried)
	return retried, nil
}

// reachesLocked reports whether id is reachable by walking ancestors
// starting from froms — i.e. whether inserting id as a child of froms would
// close a cycle.
func (g *Graph) reachesLocked(froms []vertex.ID, id vertex.ID) bool {
	visited := make(map[vertex.ID]struct{})
	stack := append([]vertex.ID(nil), froms...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == id {
			return true
		}
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		v, ok := g.vertices[cur]
		if !ok {
			continue
		}
		stack = append(stack, v.Parents()...)
	}
	return false
}

func (g *Graph) insertLocked(v *vertex.Vertex) {
	id := v.ID()
	g.vertices[id] = v
	g.tips[id] = struct{}{}
	if g.children[id] == nil {
		g.children[id] = make(map[vertex.ID]struct{})
	}
	for _, p := range v.Parents() {
		delete(g.tips, p)
		if g.children[p] == nil {
			g.children[p] = make(map[vertex.ID]struct{})
		}
		g.children[p][id] = struct{}{}
	}
}

// drainPendingLocked retries every vertex that was waiting on newlyArrived,
// recursively draining any further vertices that become unblocked.
func (g *Graph) drainPendingLocked(newlyArrived vertex.ID, retried *[]vertex.ID) {
	waiters := g.pending[newlyArrived]
	delete(g.pending, newlyArrived)
	if len(waiters) == 0 {
		return
	}

	// Deterministic retry order.
	ordered := idSetToSortedSlice(waiters)
	for _, waiterID := range ordered {
		g.waitingMissing[waiterID]--
		if g.waitingMissing[waiterID] > 0 {
			continue
		}
		v := g.waiting[waiterID]
		delete(g.waiting, waiterID)
		delete(g.waitingMissing, waiterID)

		if g.reachesLocked(v.Parents(), waiterID) {
			continue
		}
		g.insertLocked(v)
		*retried = append(*retried, waiterID)
		g.drainPendingLocked(waiterID, retried)
	}
}

// TopologicalSort returns every accepted vertex id in an order consistent
// with the parent relation, using Kahn's algorithm with lexicographic
// tie-breaking on id for determinism across peers.
func (g *Graph) TopologicalSort() ([]vertex.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[vertex.ID]int, len(g.vertices))
	for id := range g.vertices {
		inDegree[id] = 0
	}
	for id, v := range g.vertices {
		for range v.Parents() {
			inDegree[id]++
		}
	}

	var ready []vertex.ID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	out := make([]vertex.ID, 0, len(g.vertices))
	for len(ready) > 0 {
		sortIDs(ready)
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		for childID := range g.children[id] {
			if _, ok := inDegree[childID]; !ok {
				continue
			}
			inDegree[childID]--
			if inDegree[childID] == 0 {
				ready = append(ready, childID)
			}
		}
	}

	if len(out) != len(g.vertices) {
		var path []vertex.ID
		for id, deg := range inDegree {
			if deg > 0 {
				path = append(path, id)
			}
		}
		sortIDs(path)
		return nil, &ErrCircularDependency{Path: path}
	}
	return out, nil
}

func idSetToSortedSlice(set map[vertex.ID]struct{}) []vertex.ID {
	out := make([]vertex.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []vertex.ID) {
	sort.Slice(ids, func(i, j int) bool {
		return lessID(ids[i], ids[j])
	})
}

func lessID(a, b vertex.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
