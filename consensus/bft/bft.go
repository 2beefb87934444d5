// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bft wires the message log, state machine, multisig aggregator,
// byzantine detector, adaptive quorum manager and finality detector into
// the four-phase PBFT core: pre-prepare, prepare, commit, execute. Leader
// selection is deterministic, L(v) = v mod n over the validator set's
// stable ordering, mirroring the teacher's round-robin proposer selection
// generalized from a fixed committee to the weighted validator set.
package bft

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/consensus/consensus/byzantine"
	consensuserrors "github.com/luxfi/consensus/consensus/errors"
	"github.com/luxfi/consensus/consensus/finality"
	"github.com/luxfi/consensus/consensus/fork"
	"github.com/luxfi/consensus/consensus/msglog"
	"github.com/luxfi/consensus/consensus/multisig"
	"github.com/luxfi/consensus/consensus/resilience"
	"github.com/luxfi/consensus/consensus/state"
	"github.com/luxfi/consensus/consensus/viewchange"
	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/graph"
	"github.com/luxfi/consensus/hash"
	"github.com/luxfi/consensus/quorum"
	"github.com/luxfi/consensus/validators"
	"github.com/luxfi/consensus/vertex"
)

// defaultForkResolutionWindow bounds how long a fork record stays Open
// before CheckTimeouts flags it, when Config.ForkResolutionWindow is zero.
const defaultForkResolutionWindow = time.Minute

// BatchSize is the errgroup limit HandlePrepareBatch applies: at most this
// many prepare-vote signature verifications run concurrently. Each vote is
// checked with its own sig.Verify call; sig.VerifyBatchParallel is not
// used.
const BatchSize = 1000

// Config bundles the collaborators an Engine needs. All collaborator fields
// are required (ForkResolutionWindow is optional); Engine does not construct its own dependencies so that callers
// can share a validator set, graph and store across multiple consensus
// instances (e.g. in tests).
type Config struct {
	Self       ids.NodeID
	SelfKey    sig.PrivateKey
	Validators *validators.Set
	Graph      *graph.Graph
	Quorum     *quorum.AdaptiveQuorumManager
	Resilience *resilience.DegradedMode

	// ForkResolutionWindow bounds how long Engine gives competing branches
	// to accumulate support before a fork record is considered timed out.
	// Defaults to defaultForkResolutionWindow when zero.
	ForkResolutionWindow time.Duration
}

// aggregatorKey scopes a commit aggregator to the exact (view, sequence) its
// shares were collected under. Keying by sequence alone would let commit
// shares gathered before a view-change silently merge with shares gathered
// after it into a single certificate for a sequence that was re-proposed
// under the new view — two distinct rounds, one certificate. Scoping by
// view as well makes a superseded view's aggregator simply unreachable
// once the sequence is re-proposed, rather than reused.
type aggregatorKey struct {
	View     uint64
	Sequence uint64
}

// Engine runs the four-phase PBFT core over one validator set and one
// vertex graph. It is safe for concurrent use.
type Engine struct {
	self    ids.NodeID
	selfKey sig.PrivateKey

	validators *validators.Set
	graph      *graph.Graph
	quorumMgr  *quorum.AdaptiveQuorumManager
	degraded   *resilience.DegradedMode

	state     *state.Machine
	log       *msglog.Log
	byzantine *byzantine.Detector
	finality  *finality.Detector
	forks     *fork.Resolver

	view uint64 // atomic

	mu          sync.Mutex
	aggregators map[aggregatorKey]*multisig.Aggregator // (view, sequence) -> commit aggregator in flight
	collectors  map[uint64]*viewchange.Collector        // prospective view -> ViewChange collector

	// committedVertex records the vertex id each sequence most recently
	// transitioned to Committed with, so a second, conflicting commit for
	// the same sequence can be recognized and handed to forks rather than
	// silently overwriting the first.
	committedVertex map[uint64]vertex.ID

	// vertexSeq is the reverse index of committedVertex's key space: every
	// vertex id this engine has assigned a (view, sequence) slot to, whether
	// as proposer or as a replica accepting a pre-prepare, so an external
	// caller holding only a vertex id can look up its place in the log.
	vertexSeq map[vertex.ID]uint64
}

// New returns an Engine ready to process messages for sequence 1 onward at
// view 0.
func New(cfg Config) *Engine {
	window := cfg.ForkResolutionWindow
	if window <= 0 {
		window = defaultForkResolutionWindow
	}
	return &Engine{
		self:            cfg.Self,
		selfKey:         cfg.SelfKey,
		validators:      cfg.Validators,
		graph:           cfg.Graph,
		quorumMgr:       cfg.Quorum,
		degraded:        cfg.Resilience,
		state:           state.NewMachine(),
		log:             msglog.New(),
		byzantine:       byzantine.NewDetector(cfg.Validators, byzantine.DefaultConfig()),
		finality:        finality.New(),
		forks:           fork.New(cfg.Graph, window),
		aggregators:     make(map[aggregatorKey]*multisig.Aggregator),
		collectors:      make(map[uint64]*viewchange.Collector),
		committedVertex: make(map[uint64]vertex.ID),
		vertexSeq:       make(map[vertex.ID]uint64),
	}
}

// View returns the engine's current view number.
func (e *Engine) View() uint64 { return atomic.LoadUint64(&e.view) }

// Leader returns the deterministic proposer for view, L(v) = v mod n over
// the validator set's stable ordering. It returns (zero, false) if the
// validator set is currently empty.
func (e *Engine) Leader(view uint64) (ids.NodeID, bool) {
	ordered := e.validators.Ordered()
	if len(ordered) == 0 {
		return ids.NodeID{}, false
	}
	return ordered[view%uint64(len(ordered))], true
}

// IsLeader reports whether self is the leader for view.
func (e *Engine) IsLeader(view uint64) bool {
	leader, ok := e.Leader(view)
	return ok && leader == e.self
}

// ProposePrePrepare builds and signs a pre-prepare message for v at
// (view, sequence). It fails with ErrNotLeader if self is not the
// current leader for view.
func (e *Engine) ProposePrePrepare(view, sequence uint64, v *vertex.Vertex) (*state.Proposal, error) {
	if !e.IsLeader(view) {
		return nil, consensuserrors.ErrNotLeader
	}

	seqState := e.state.GetOrCreate(sequence, view)
	proposal := &state.Proposal{View: view, Sequence: sequence, Vertex: v, Proposer: e.self}
	seqState.Proposal = proposal

	key := msglog.Key{View: view, Sequence: sequence, Phase: msglog.PhasePrePrepare, Node: e.self}
	e.log.Record(key, msglog.Entry{Digest: v.ID()})

	e.mu.Lock()
	e.vertexSeq[v.ID()] = sequence
	e.mu.Unlock()

	return proposal, nil
}

// HandlePrePrepare accepts a leader's proposal: it checks the proposer is
// the leader for view and not banned, that sequence is the next expected
// one, records the message in the log (flagging equivocation if the leader
// proposed twice for the same slot), validates the carried vertex, and
// seeds the sequence state.
func (e *Engine) HandlePrePrepare(view, sequence uint64, proposer ids.NodeID, v *vertex.Vertex) error {
	leader, ok := e.Leader(view)
	if !ok || proposer != leader {
		return consensuserrors.ErrNotLeader
	}
	if e.isBanned(proposer) {
		return consensuserrors.ErrNodeBanned
	}
	if expected := e.state.ExpectedSequence(); sequence != expected {
		return consensuserrors.ErrInvalidSequence
	}
	if err := vertex.Verify(v); err != nil {
		return errors.Mark(consensuserrors.ErrInvalidSignature, err)
	}

	key := msglog.Key{View: view, Sequence: sequence, Phase: msglog.PhasePrePrepare, Node: proposer}
	accepted, equivocation := e.log.Record(key, msglog.Entry{Digest: v.ID()})
	if equivocation != nil {
		_ = e.byzantine.Report(proposer, byzantine.KindEquivocation, "duplicate pre-prepare for same slot")
		return consensuserrors.ErrEquivocation
	}
	if !accepted {
		// Same digest already logged for this slot, e.g. by this engine's own
		// ProposePrePrepare: the slot is taken, so the expectation moves on.
		e.state.AdvanceExpectedSequence(sequence)
		return nil
	}

	seqState := e.state.GetOrCreate(sequence, view)
	seqState.Proposal = &state.Proposal{View: view, Sequence: sequence, Vertex: v, Proposer: proposer}
	e.state.AdvanceExpectedSequence(sequence)

	e.mu.Lock()
	e.vertexSeq[v.ID()] = sequence
	e.mu.Unlock()

	return nil
}

// isBanned reports whether node is a known validator currently flagged
// banned. An unknown node is not reported banned here — callers that must
// reject unknown signers do so separately (e.g. verifyPrepareSignature's
// ErrUnknownNode).
func (e *Engine) isBanned(node ids.NodeID) bool {
	voter, ok := e.validators.Get(node)
	return ok && voter.Banned
}

// SequenceForVertex returns the (view, sequence) slot's sequence number
// that vertexID was proposed or accepted into, if any.
func (e *Engine) SequenceForVertex(vertexID vertex.ID) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq, ok := e.vertexSeq[vertexID]
	return seq, ok
}

// CommittedVertexID returns the vertex id most recently committed for
// sequence, if any.
func (e *Engine) CommittedVertexID(sequence uint64) (vertex.ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.committedVertex[sequence]
	return id, ok
}

// SequenceState returns the live sequence state for sequence, if the engine
// has created one for it.
func (e *Engine) SequenceState(sequence uint64) (*state.SequenceState, bool) {
	return e.state.Get(sequence)
}

// HandlePrepare records a prepare vote from node for (view, sequence),
// returning true once the adaptive quorum threshold has been reached and
// the sequence has transitioned to Prepared.
func (e *Engine) HandlePrepare(view, sequence uint64, node ids.NodeID, vertexID vertex.ID, signature []byte) (bool, error) {
	if err := e.verifyPrepareSignature(node, vertexID, signature); err != nil {
		return false, err
	}
	return e.applyPrepare(view, sequence, node, vertexID, signature)
}

// PrepareVote is one replica's prepare attestation, as submitted to
// HandlePrepareBatch.
type PrepareVote struct {
	Node      ids.NodeID
	VertexID  vertex.ID
	Signature []byte
}

// HandlePrepareBatch verifies every vote's signature concurrently — fanned
// out across at most BatchSize in-flight goroutines via errgroup, so a
// NewView catch-up carrying many replicas' prepare votes for the same slot
// doesn't serialize on ML-DSA-87 verification — then applies the votes that
// verified, in submission order, to the (view, sequence) state. It returns
// the per-vote verification error (nil on success) alongside whether the
// quorum threshold was reached by any accepted vote.
func (e *Engine) HandlePrepareBatch(view, sequence uint64, votes []PrepareVote) ([]error, bool, error) {
	verifyErrs := make([]error, len(votes))

	group := new(errgroup.Group)
	group.SetLimit(BatchSize)
	for i, vote := range votes {
		i, vote := i, vote
		group.Go(func() error {
			verifyErrs[i] = e.verifyPrepareSignature(vote.Node, vote.VertexID, vote.Signature)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, false, errors.Wrap(err, "bft: batch verify prepares")
	}

	reachedAny := false
	for i, vote := range votes {
		if verifyErrs[i] != nil {
			continue
		}
		reached, err := e.applyPrepare(view, sequence, vote.Node, vote.VertexID, vote.Signature)
		if err != nil {
			verifyErrs[i] = err
			continue
		}
		if reached {
			reachedAny = true
		}
	}
	return verifyErrs, reachedAny, nil
}

func (e *Engine) verifyPrepareSignature(node ids.NodeID, vertexID vertex.ID, signature []byte) error {
	voter, ok := e.validators.Get(node)
	if !ok {
		return validators.ErrUnknownNode
	}
	if voter.Banned {
		return consensuserrors.ErrNodeBanned
	}
	ok, err := sig.Verify(voter.PublicKey, vertexID[:], sig.Signature(signature))
	if err != nil {
		return errors.Mark(consensuserrors.ErrInvalidSignature, err)
	}
	if !ok {
		return consensuserrors.ErrInvalidSignature
	}
	return nil
}

func (e *Engine) applyPrepare(view, sequence uint64, node ids.NodeID, vertexID vertex.ID, signature []byte) (bool, error) {
	key := msglog.Key{View: view, Sequence: sequence, Phase: msglog.PhasePrepare, Node: node}
	accepted, equivocation := e.log.Record(key, msglog.Entry{Digest: vertexID})
	if equivocation != nil {
		_ = e.byzantine.Report(node, byzantine.KindEquivocation, "conflicting prepare vote")
		return false, consensuserrors.ErrEquivocation
	}
	if !accepted {
		return false, nil
	}

	seqState, ok := e.state.Get(sequence)
	if !ok {
		return false, consensuserrors.ErrInvalidSequence
	}
	seqState.Prepares[node] = state.SignedVote{Node: node, VertexID: vertexID, Signature: signature}

	weight := e.prepareWeightLocked(view, sequence)
	if weight < e.quorumMgr.Threshold() {
		return false, nil
	}
	if err := seqState.Transition(state.PhasePrepared); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) prepareWeightLocked(view, sequence uint64) float64 {
	var total float64
	for _, signer := range e.log.SignersFor(view, sequence, msglog.PhasePrepare) {
		node, ok := e.validators.Get(signer)
		if !ok {
			continue
		}
		total += node.EffectiveWeight()
	}
	return total
}

// HandleCommit records a commit vote from node for (view, sequence),
// returning the assembled QuorumCertificate once the threshold is reached
// and the sequence has transitioned to Committed.
func (e *Engine) HandleCommit(view, sequence uint64, node ids.NodeID, vertexID vertex.ID, share multisig.PartialSignature) (*multisig.QuorumCertificate, error) {
	if e.isBanned(node) {
		return nil, consensuserrors.ErrNodeBanned
	}

	key := msglog.Key{View: view, Sequence: sequence, Phase: msglog.PhaseCommit, Node: node}
	accepted, equivocation := e.log.Record(key, msglog.Entry{Digest: vertexID})
	if equivocation != nil {
		_ = e.byzantine.Report(node, byzantine.KindEquivocation, "conflicting commit vote")
		return nil, consensuserrors.ErrEquivocation
	}
	if !accepted {
		return nil, nil
	}

	seqState, ok := e.state.Get(sequence)
	if !ok {
		return nil, consensuserrors.ErrInvalidSequence
	}
	seqState.Commits[node] = state.SignedVote{Node: node, VertexID: vertexID, Signature: share.Signature}

	agg := e.aggregatorFor(view, sequence, vertexID)
	reached, err := agg.Add(share)
	if err != nil {
		return nil, errors.Wrap(err, "bft: record commit share")
	}
	if !reached {
		return nil, nil
	}

	if err := seqState.Transition(state.PhaseCommitted); err != nil {
		return nil, err
	}
	cert, err := agg.Aggregate()
	if err != nil {
		return nil, err
	}

	if forked, err := e.recordCommitAndDetectFork(sequence, vertexID, cert); err != nil {
		return nil, err
	} else if forked {
		_ = e.byzantine.Report(e.self, byzantine.KindForkSupport, "conflicting committed certificates for same sequence")
	}

	e.mu.Lock()
	delete(e.aggregators, aggregatorKey{View: view, Sequence: sequence})
	e.mu.Unlock()
	return cert, nil
}

// recordCommitAndDetectFork remembers vertexID as sequence's committed
// value. If an earlier commit already recorded a different vertex id for
// the same sequence — which honest majority weighting should prevent, but
// a prior view's NewView re-proposal racing a late commit can still
// trigger — it opens (or reuses) a fork.Resolver record and tallies both
// branches' certificate signer weight, returning true once a second,
// conflicting branch has been observed.
func (e *Engine) recordCommitAndDetectFork(sequence uint64, vertexID vertex.ID, cert *multisig.QuorumCertificate) (bool, error) {
	e.mu.Lock()
	prior, hadPrior := e.committedVertex[sequence]
	e.committedVertex[sequence] = vertexID
	e.mu.Unlock()

	if !hadPrior || prior == vertexID {
		return false, nil
	}

	e.forks.Open(sequence)
	if err := e.forks.RecordSupport(sequence, prior, float64(len(cert.Signers))); err != nil && !errors.Is(err, fork.ErrAlreadyResolved) {
		return false, err
	}
	if err := e.forks.RecordSupport(sequence, vertexID, float64(len(cert.Signers))); err != nil && !errors.Is(err, fork.ErrAlreadyResolved) {
		return false, err
	}
	return true, nil
}

// ResolveFork settles an open fork record for sequence, returning the
// winning vertex id and the losing branch ids to quarantine.
func (e *Engine) ResolveFork(sequence uint64) (vertex.ID, []vertex.ID, error) {
	return e.forks.Resolve(sequence)
}

// CheckForkTimeouts marks any fork record past its resolution deadline as
// timed out, returning the affected sequences so callers can enter
// degraded mode.
func (e *Engine) CheckForkTimeouts() []uint64 {
	return e.forks.CheckTimeouts()
}

// aggregatorFor returns the in-flight commit aggregator for (view, sequence),
// creating one if this is the first commit share seen for that exact slot.
// An aggregator from a superseded view is never returned here: it sits
// under a different key and is reaped by AdvanceView once the view moves
// past it, so stale-view commit shares can never merge into a new view's
// certificate.
func (e *Engine) aggregatorFor(view, sequence uint64, vertexID hash.Digest) *multisig.Aggregator {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := aggregatorKey{View: view, Sequence: sequence}
	agg, ok := e.aggregators[key]
	if !ok {
		agg = multisig.NewAggregator(view, sequence, vertexID, e.quorumMgr.Threshold(), e.weightOf)
		e.aggregators[key] = agg
	}
	return agg
}

// Execute marks sequence Executed, records it with the finality detector
// against referencesSequence (the prior committed sequence this
// certificate builds on), and prunes the now-settled protocol state.
func (e *Engine) Execute(sequence uint64, vertexID vertex.ID, cert *multisig.QuorumCertificate, referencesSequence uint64) error {
	seqState, ok := e.state.Get(sequence)
	if !ok {
		return consensuserrors.ErrInvalidSequence
	}
	if err := seqState.Transition(state.PhaseExecuted); err != nil {
		return err
	}

	e.finality.RecordCommit(sequence, vertexID, cert, referencesSequence)
	e.log.PruneSequence(sequence)
	e.state.Prune(sequence)
	return nil
}

// IsFinalized reports whether sequence has reached two-chain finality.
func (e *Engine) IsFinalized(sequence uint64) bool {
	return e.finality.IsFinalized(sequence)
}

// AdvanceView moves the engine to view, used once a NewView message has
// been justified and accepted. Any commit aggregator still in flight for a
// superseded view is discarded: those shares attest to a round this replica
// is leaving behind, not to whatever the sequence is re-proposed as under
// the new view.
func (e *Engine) AdvanceView(view uint64) {
	atomic.StoreUint64(&e.view, view)

	e.mu.Lock()
	for key := range e.aggregators {
		if key.View < view {
			delete(e.aggregators, key)
		}
	}
	e.mu.Unlock()
}

// TriggerViewChange builds this replica's own ViewChange vote targeting
// newView, called once the adaptive timeout for the current view expires.
// It reports the highest sequence already committed plus a prepared proof
// for every sequence still sitting in Prepared (not yet committed), so the
// next leader can safely re-propose rather than invent a value.
func (e *Engine) TriggerViewChange(newView uint64) viewchange.Message {
	highest, _ := e.state.HighestCommitted()

	var prepared []viewchange.PreparedProof
	for _, seq := range e.state.PreparedSequences() {
		if proof, ok := e.preparedProofFor(seq); ok {
			prepared = append(prepared, proof)
		}
	}

	return viewchange.Message{Node: e.self, NewView: newView, HighestCommitted: highest, Prepared: prepared}
}

// preparedProofFor assembles a viewchange.PreparedProof for sequence from
// the prepare votes collected so far, bundling them into a
// multisig.QuorumCertificate shape purely so BuildNewView's
// most-signers-wins comparison has something to compare; this certificate
// is not re-verified by BuildNewView, only counted.
func (e *Engine) preparedProofFor(sequence uint64) (viewchange.PreparedProof, bool) {
	seqState, ok := e.state.Get(sequence)
	if !ok {
		return viewchange.PreparedProof{}, false
	}
	votes := seqState.PreparesSnapshot()
	if len(votes) == 0 {
		return viewchange.PreparedProof{}, false
	}

	var vertexID vertex.ID
	shares := make([]multisig.PartialSignature, 0, len(votes))
	signers := make([]ids.NodeID, 0, len(votes))
	for node, vote := range votes {
		vertexID = vote.VertexID
		voter, ok := e.validators.Get(node)
		if !ok {
			continue
		}
		signers = append(signers, node)
		shares = append(shares, multisig.PartialSignature{Signer: node, PublicKey: voter.PublicKey, Signature: vote.Signature})
	}

	return viewchange.PreparedProof{
		Sequence: sequence,
		VertexID: vertexID,
		Certificate: &multisig.QuorumCertificate{
			View:     seqState.CurrentView(),
			Sequence: sequence,
			VertexID: vertexID,
			Signers:  signers,
			Shares:   shares,
		},
	}, true
}

// HandleViewChange records a peer's ViewChange vote toward newView's
// Collector (created lazily on first sight), returning the assembled
// NewView message once enough weighted votes have accumulated to justify
// it. Only the leader for newView needs the returned NewView; other
// replicas can ignore a nil result and keep collecting.
func (e *Engine) HandleViewChange(newView uint64, msg viewchange.Message) (*viewchange.NewView, error) {
	if e.isBanned(msg.Node) {
		return nil, consensuserrors.ErrNodeBanned
	}

	e.mu.Lock()
	collector, ok := e.collectors[newView]
	if !ok {
		collector = viewchange.NewCollector(newView, e.quorumMgr.Threshold(), e.weightOf)
		e.collectors[newView] = collector
	}
	e.mu.Unlock()

	reached, err := collector.Add(msg)
	if err != nil {
		return nil, err
	}
	if !reached {
		return nil, nil
	}

	nv, err := viewchange.BuildNewView(newView, collector.Messages())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	delete(e.collectors, newView)
	e.mu.Unlock()
	return nv, nil
}

// ApplyNewView adopts nv: it advances the engine to nv.View and seeds
// sequence state for every carried-forward re-proposal so the new view's
// leader (or a replica catching up) can resume the prepare/commit pipeline
// without re-running pre-prepare for sequences that already had a
// prepared value under the old view. NoOp re-proposals are skipped — a
// sequence with no prepared evidence simply has nothing seeded and will be
// proposed fresh once the new leader issues a pre-prepare for it.
func (e *Engine) ApplyNewView(nv *viewchange.NewView) error {
	e.AdvanceView(nv.View)
	for _, rp := range nv.ReProposals {
		if rp.NoOp {
			continue
		}
		seqState := e.state.GetOrCreate(rp.Sequence, nv.View)
		if err := seqState.Transition(state.PhasePrepared); err != nil {
			return err
		}
	}
	return nil
}

// weightOf resolves node's current effective weight, or 0 if it is not a
// known validator. Shared by the commit aggregator and view-change vote
// collection so both honor the same membership view.
func (e *Engine) weightOf(node ids.NodeID) float64 {
	voter, ok := e.validators.Get(node)
	if !ok {
		return 0
	}
	return voter.EffectiveWeight()
}
