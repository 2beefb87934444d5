// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine is the external facade over the BFT+DAG consensus core:
// Submit, Query, WaitFinality, Ancestors, Descendants, Tips,
// TopologicalSort, and Health. It wires together vertex/graph (the DAG),
// consensus/bft (the PBFT-style quorum protocol), consensus/finality (the
// two-chain rule), validators (weighting), and consensus/resilience
// (degraded-mode reporting) behind the caller-facing operations this
// module's specification names, the same way the teacher's engine/dag
// package wraps its own Avalanche engine behind GetVtx/BuildVtx/ParseVtx —
// rebuilt here for a quorum-certificate BFT engine rather than a repeated
// sub-sampling one.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/luxfi/consensus/api/health"
	"github.com/luxfi/consensus/codec"
	"github.com/luxfi/consensus/consensus/bft"
	"github.com/luxfi/consensus/consensus/resilience"
	"github.com/luxfi/consensus/consensus/state"
	"github.com/luxfi/consensus/graph"
	"github.com/luxfi/consensus/validators"
	"github.com/luxfi/consensus/vertex"
)

// ErrTimeout is returned by WaitFinality when deadline elapses before
// vertexID is observed finalized.
var ErrTimeout = errors.New("engine: wait for finality timed out")

// Status classifies where a vertex sits in the consensus pipeline, mirroring
// the teacher's own Pending/Processing/Accepted/Rejected vertex lifecycle
// but renamed to this spec's four-phase PBFT vocabulary.
type Status int

const (
	// StatusPending means the vertex has not yet been accepted into the
	// graph (e.g. it is queued on a missing parent).
	StatusPending Status = iota
	// StatusQuerying means the vertex is accepted and has an open
	// pre-prepare/prepare round in flight, but has not reached a commit
	// quorum certificate yet.
	StatusQuerying
	// StatusPreferred means the vertex has a committed quorum certificate
	// for its sequence but is not yet known final under the two-chain rule.
	StatusPreferred
	// StatusFinalized means the vertex is final: irreversible under this
	// spec's finality rule.
	StatusFinalized
	// StatusRejected means the vertex lost a fork resolution against a
	// competing commit for the same sequence.
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusQuerying:
		return "querying"
	case StatusPreferred:
		return "preferred"
	case StatusFinalized:
		return "finalized"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Engine is the external facade a host process (validator node, test
// harness, or RPC server) drives. It is safe for concurrent use; the
// underlying graph.Graph and bft.Engine already serialize their own state.
type Engine struct {
	graph      *graph.Graph
	bft        *bft.Engine
	validators *validators.Set
	degraded   *resilience.DegradedMode
	rejected   map[vertex.ID]struct{}

	pollInterval time.Duration
}

// Config bundles the already-constructed subsystems Engine composes. All
// fields are required except PollInterval, which defaults to 50ms.
type Config struct {
	Graph        *graph.Graph
	BFT          *bft.Engine
	Validators   *validators.Set
	Degraded     *resilience.DegradedMode
	PollInterval time.Duration
}

// New returns an Engine composing the given subsystems.
func New(cfg Config) *Engine {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Engine{
		graph:        cfg.Graph,
		bft:          cfg.BFT,
		validators:   cfg.Validators,
		degraded:     cfg.Degraded,
		rejected:     make(map[vertex.ID]struct{}),
		pollInterval: interval,
	}
}

// Submit accepts a caller-built vertex into the DAG. It runs the graph's
// structural acceptance protocol (signature verification, parent-presence
// queuing, cycle rejection) but does not itself drive the vertex through
// pre-prepare/prepare/commit — that is this engine's leader-election and
// message-handling surface (bft.Engine.ProposePrePrepare and friends),
// driven by the host process's networking loop once the vertex is visible
// in the graph. Submit returns the vertex's content-addressed id.
func (e *Engine) Submit(v *vertex.Vertex) (vertex.ID, error) {
	if _, err := e.graph.Add(v); err != nil {
		return vertex.ID{}, errors.Wrap(err, "engine: submit vertex")
	}
	return v.ID(), nil
}

// Query reports where vertexID currently stands in the consensus pipeline.
func (e *Engine) Query(vertexID vertex.ID) (Status, error) {
	if !e.graph.Has(vertexID) {
		return StatusPending, nil
	}

	if _, rejected := e.rejected[vertexID]; rejected {
		return StatusRejected, nil
	}

	sequence, ok := e.bft.SequenceForVertex(vertexID)
	if !ok {
		return StatusQuerying, nil
	}

	if e.bft.IsFinalized(sequence) {
		return StatusFinalized, nil
	}

	if committed, ok := e.bft.CommittedVertexID(sequence); ok {
		if committed != vertexID {
			return StatusRejected, nil
		}
		return StatusPreferred, nil
	}

	if seqState, ok := e.bft.SequenceState(sequence); ok && seqState.CurrentPhase() >= state.PhasePrepared {
		return StatusPreferred, nil
	}

	return StatusQuerying, nil
}

// MarkRejected records that vertexID lost a fork resolution (see
// bft.Engine.ResolveFork) and should report StatusRejected from Query from
// now on.
func (e *Engine) MarkRejected(vertexID vertex.ID) {
	e.rejected[vertexID] = struct{}{}
}

// WaitFinality blocks until vertexID is observed finalized or deadline
// elapses, polling Query at the configured interval. It returns ErrTimeout
// if the deadline passes first, or ctx.Err() if ctx is done first.
func (e *Engine) WaitFinality(ctx context.Context, vertexID vertex.ID, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		status, err := e.Query(vertexID)
		if err != nil {
			return err
		}
		if status == StatusFinalized {
			return nil
		}
		if status == StatusRejected {
			return errors.New("engine: vertex rejected before reaching finality")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// Ancestors returns every vertex reachable by following parent edges from
// vertexID.
func (e *Engine) Ancestors(vertexID vertex.ID) []vertex.ID { return e.graph.Ancestors(vertexID) }

// Descendants returns every vertex reachable by following children edges
// from vertexID.
func (e *Engine) Descendants(vertexID vertex.ID) []vertex.ID { return e.graph.Descendants(vertexID) }

// Tips returns the current frontier: vertices with no accepted children.
func (e *Engine) Tips() []vertex.ID { return e.graph.Tips() }

// TopologicalSort returns every accepted vertex in a parent-before-child
// order.
func (e *Engine) TopologicalSort() ([]vertex.ID, error) { return e.graph.TopologicalSort() }

// Health reports the engine's operational status: whether it is degraded,
// the BFT engine's current view, the fraction of validators (by count)
// carrying non-zero effective weight (below 1.0 when some are banned or at
// zero reputation or uptime), and
// basic graph size. Shaped after api/health's Report/Check pair, the same
// structured health-reporting convention the teacher's api/health package
// defines and every long-running teacher subsystem reports through.
func (e *Engine) Health(ctx context.Context) (health.Report, error) {
	start := time.Now()
	checks := make([]health.Check, 0, 3)
	healthy := true

	degradedCheck := health.Check{Name: "degraded_mode", Healthy: true}
	if e.degraded != nil {
		if active, reason := e.degraded.Status(); active {
			degradedCheck.Healthy = false
			degradedCheck.Error = reason
			healthy = false
		}
	}
	checks = append(checks, degradedCheck)

	participation := e.participationFraction()
	participationCheck := health.Check{
		Name:    "validator_participation",
		Healthy: participation > 0,
		Details: map[string]interface{}{"fraction": participation},
	}
	if !participationCheck.Healthy {
		healthy = false
	}
	checks = append(checks, participationCheck)

	graphCheck := health.Check{
		Name:    "graph",
		Healthy: true,
		Details: map[string]interface{}{"vertex_count": e.graph.VertexCount(), "tip_count": len(e.graph.Tips())},
	}
	checks = append(checks, graphCheck)

	report := health.Report{
		Healthy: healthy,
		Checks:  checks,
		Details: map[string]interface{}{
			"view":          e.bft.View(),
			"participation": participation,
		},
		Duration: time.Since(start),
	}
	return report, nil
}

// participationFraction is the fraction of validators currently carrying
// non-zero effective weight (neither banned, zero-reputation, nor
// zero-uptime) out of the total validator count, approximating live
// participation without a separate liveness poll.
func (e *Engine) participationFraction() float64 {
	outputs := e.validators.Outputs()
	if len(outputs) == 0 {
		return 0
	}
	var eligible int
	for _, out := range outputs {
		if out.Weight > 0 {
			eligible++
		}
	}
	return float64(eligible) / float64(len(outputs))
}

// EncodeHealthReport marshals report for transport to an external caller
// (e.g. an HTTP health endpoint), using the module's JSON wire codec.
func EncodeHealthReport(report health.Report) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, report)
}
