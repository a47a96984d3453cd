// Copyright 2025 Certen Protocol
//
// Minting Pipeline - Orchestrates a Batch Commit
//
// State machine per batch:
//
//	PROPOSED -> DEPS_RESOLVED -> VERIFIED -> CONSENTED -> MINED -> COMMITTED
//	                    \            \            \
//	                  REJECTED    REJECTED       DENIED
//
// Any step's failure is final for that batch; the pipeline performs no
// partial commits. All index updates are atomic with the block append: the
// block lands and the index updates together, or neither happens.

package mint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/consent"
	"github.com/certen/evidence-ledger/pkg/contradiction"
	"github.com/certen/evidence-ledger/pkg/dependency"
	"github.com/certen/evidence-ledger/pkg/ledger"
	"github.com/certen/evidence-ledger/pkg/merkle"
	"github.com/certen/evidence-ledger/pkg/metrics"
	"github.com/certen/evidence-ledger/pkg/policy"
	"github.com/certen/evidence-ledger/pkg/trust"
)

// State is one stage of the batch state machine.
type State string

const (
	Proposed     State = "PROPOSED"
	DepsResolved State = "DEPS_RESOLVED"
	Verified     State = "VERIFIED"
	Consented    State = "CONSENTED"
	Mined        State = "MINED"
	Committed    State = "COMMITTED"
	Rejected     State = "REJECTED"
	Denied       State = "DENIED"
)

// ValidTransitions enumerates every allowed (from, to) edge in the batch
// state machine.
var ValidTransitions = map[State][]State{
	Proposed:     {DepsResolved, Rejected},
	DepsResolved: {Verified, Rejected},
	Verified:     {Consented, Rejected, Denied},
	Consented:    {Mined, Denied},
	Mined:        {Committed},
}

func isValidTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RejectedArtifact records why an artifact was dropped from a batch without
// aborting the rest.
type RejectedArtifact struct {
	ArtifactID string
	Reason     string
	Err        error
}

// MintResult is the pipeline's output for one batch commit.
type MintResult struct {
	State          State
	BlockHash      string
	BlockIndex     uint64
	Minted         []*ledger.Artifact
	Rejected       []RejectedArtifact
	Proofs         map[string]*merkle.Proof // artifact id -> inclusion proof
	ConsentDecision *consent.Decision
}

// Options configures a single Submit call.
type Options struct {
	VerificationLevel trust.Level
	RequireConsent    bool // default true; set false to honor §4.8 auto-approve bypass
	AllowPartialDeps  bool
	Difficulty        uint32
	Miner             string

	// PrecomputedVerification, when set, is used in place of a fresh C8 run —
	// the true verification-skipped fast track a snapshot commit needs. The
	// caller (pkg/snapshot) is responsible for having produced it honestly;
	// VerificationLevel is ignored when this is set.
	PrecomputedVerification *trust.Report
}

// DefaultOptions returns sane defaults: standard verification, consent
// required, no partial dependency resolution, difficulty 2.
func DefaultOptions() Options {
	return Options{
		VerificationLevel: trust.Standard,
		RequireConsent:    true,
		AllowPartialDeps:  false,
		Difficulty:        2,
	}
}

// Metrics tracks pipeline throughput across calls to Submit.
type Metrics struct {
	mu              sync.Mutex
	BatchesAccepted int64
	BatchesRejected int64
	ArtifactsMinted int64
	LastSubmitAt    time.Time
}

func (m *Metrics) recordAccept(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesAccepted++
	m.ArtifactsMinted += int64(n)
	m.LastSubmitAt = time.Now()
}

func (m *Metrics) recordReject() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesRejected++
	m.LastSubmitAt = time.Now()
}

// Snapshot returns a copy of the counters for reporting.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{BatchesAccepted: m.BatchesAccepted, BatchesRejected: m.BatchesRejected, ArtifactsMinted: m.ArtifactsMinted, LastSubmitAt: m.LastSubmitAt}
}

// Pipeline wires C7 (dependency), C8 (trust), C5 (policy), C6 (contradiction),
// and C9 (consent) together, then delegates the block append to a Chain (C3).
// Only one Submit executes at a time; the chain's own mutex is the single
// writer lock the rest of the system relies on.
type Pipeline struct {
	submitMu sync.Mutex // held for the whole of each Submit call

	chain   *chain.Chain
	deps    *dependency.Resolver
	checker *trust.Checker
	policy  *policy.Policy
	contra  *contradiction.Engine
	gate    consent.Gate
	metrics Metrics
	prom    *metrics.Registry // optional; nil means Prometheus reporting is disabled
}

// New constructs a Pipeline over chain c with the given consent gate.
func New(c *chain.Chain, gate consent.Gate) *Pipeline {
	return &Pipeline{
		chain:   c,
		deps:    dependency.New(c),
		checker: trust.New(),
		policy:  policy.New(nil),
		contra:  contradiction.New(c),
		gate:    gate,
	}
}

// Metrics returns a snapshot of pipeline throughput counters.
func (p *Pipeline) Metrics() Metrics {
	return p.metrics.Snapshot()
}

// UsePrometheus wires the pipeline's per-call counts into reg, so they show
// up on the shared /metrics surface alongside the chain and recovery
// collectors rather than staying confined to Metrics/Snapshot.
func (p *Pipeline) UsePrometheus(reg *metrics.Registry) {
	p.prom = reg
}

func (p *Pipeline) incRejected(reason string, n int) {
	if p.prom == nil || n == 0 {
		return
	}
	p.prom.ArtifactsRejected.WithLabelValues(reason).Add(float64(n))
}

func (p *Pipeline) incContradiction(severity contradiction.Severity) {
	if p.prom == nil {
		return
	}
	p.prom.ContradictionsFound.WithLabelValues(string(severity)).Inc()
}

func (p *Pipeline) recordConsent(approved bool) {
	if p.prom == nil {
		return
	}
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	p.prom.ConsentDecisions.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) recordMined(block *chain.Block, minted int) {
	if p.prom == nil {
		return
	}
	p.prom.BlocksMined.Inc()
	p.prom.ArtifactsMinted.Add(float64(minted))
	p.prom.ChainHeight.Set(float64(block.Index))
	p.prom.MiningDurationSeconds.Observe(block.Metadata.MiningDuration.Seconds())
}

// Submit runs the full pipeline over batch and, on success, mines and
// appends a new block holding the surviving artifacts. An empty batch
// returns an empty MintResult with no error and no block created.
func (p *Pipeline) Submit(ctx context.Context, batch []*ledger.Artifact, opts Options) (*MintResult, error) {
	if len(batch) == 0 {
		return &MintResult{State: Committed}, nil
	}
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	res := &MintResult{State: Proposed, Proofs: map[string]*merkle.Proof{}}

	// 1. DEPS_RESOLVED
	order := p.deps.Order(batch, opts.AllowPartialDeps)
	if len(order.Unresolvable) > 0 && !opts.AllowPartialDeps {
		p.metrics.recordReject()
		p.incRejected("dependency", len(order.Unresolvable))
		res.State = Rejected
		for _, id := range order.Unresolvable {
			res.Rejected = append(res.Rejected, RejectedArtifact{ArtifactID: id, Reason: "unresolved dependency", Err: &ledger.DependencyError{ArtifactID: id}})
		}
		return res, nil
	}
	res.State = DepsResolved

	ordered := reorder(batch, order.Order, order.Unresolvable)
	for _, id := range order.Unresolvable {
		res.Rejected = append(res.Rejected, RejectedArtifact{ArtifactID: id, Reason: "unresolved dependency (partial mode)", Err: &ledger.DependencyError{ArtifactID: id}})
	}

	// 2. VERIFIED
	var report trust.Report
	if opts.PrecomputedVerification != nil {
		report = *opts.PrecomputedVerification
	} else {
		level := opts.VerificationLevel
		if level == "" {
			level = trust.Standard
		}
		report = p.checker.Verify(ctx, ordered, level)
	}
	verifiedByID := make(map[string]trust.ArtifactReport, len(report.Artifacts))
	for _, ar := range report.Artifacts {
		verifiedByID[ar.ArtifactID] = ar
	}

	var survivors []*ledger.Artifact
	verificationRejects := 0
	for _, a := range ordered {
		ar := verifiedByID[a.ID]
		if ar.Verdict == trust.VerdictFailed {
			res.Rejected = append(res.Rejected, RejectedArtifact{ArtifactID: a.ID, Reason: "verification failed", Err: &ledger.PolicyRejection{ArtifactID: a.ID, Reason: "verification failed"}})
			verificationRejects++
			continue
		}
		survivors = append(survivors, a)
	}
	p.incRejected("verification", verificationRejects)
	if len(survivors) == 0 {
		p.metrics.recordReject()
		res.State = Rejected
		return res, nil
	}
	res.State = Verified

	// 2b. Consensus policy (C5) — runs alongside verification, before contradictions.
	evals := p.policy.EvaluateBatch(survivors)
	var policyPassed []*ledger.Artifact
	policyRejects := 0
	for _, a := range survivors {
		e := evals[a.ID]
		if e.Decision == policy.Reject {
			res.Rejected = append(res.Rejected, RejectedArtifact{ArtifactID: a.ID, Reason: e.Reason, Err: &ledger.PolicyRejection{ArtifactID: a.ID, Reason: e.Reason}})
			policyRejects++
			continue
		}
		policyPassed = append(policyPassed, a)
	}
	p.incRejected("policy", policyRejects)
	survivors = policyPassed
	if len(survivors) == 0 {
		p.metrics.recordReject()
		res.State = Rejected
		return res, nil
	}

	// 3. CONTRADICTION_FILTERED — HIGH severity conflicts drop the artifact,
	// not the batch.
	var afterContradictions []*ledger.Artifact
	contradictionRejects := 0
	for _, a := range survivors {
		conflicts := p.contra.Check(a)
		for _, c := range conflicts {
			p.incContradiction(c.Severity)
		}
		if contradiction.HasBlocking(conflicts) {
			res.Rejected = append(res.Rejected, RejectedArtifact{
				ArtifactID: a.ID,
				Reason:     "blocking contradiction against prior evidence",
				Err:        &ledger.ContradictionError{ArtifactID: a.ID, Conflicts: toLedgerConflicts(conflicts)},
			})
			contradictionRejects++
			continue
		}
		afterContradictions = append(afterContradictions, a)
	}
	p.incRejected("contradiction", contradictionRejects)
	survivors = afterContradictions
	if len(survivors) == 0 {
		p.metrics.recordReject()
		res.State = Rejected
		return res, nil
	}

	// 4. CONSENTED
	requireConsent := opts.RequireConsent || !report.AutoApprove
	if requireConsent {
		if p.gate == nil {
			return nil, fmt.Errorf("mint: consent required but no gate configured")
		}
		decision, err := p.gate.Request(ctx, consent.Request{BatchID: batchID(survivors), Batch: survivors, Report: report})
		if err != nil {
			return nil, fmt.Errorf("mint: consent gate error: %w", err)
		}
		res.ConsentDecision = &decision
		p.recordConsent(decision.Approved)
		if !decision.Approved {
			p.metrics.recordReject()
			res.State = Denied
			return res, &ledger.ConsentDenied{ConsentID: decision.ConsentID, Reason: decision.Reason}
		}
	}
	res.State = Consented

	// 5. MINED
	now := time.Now()
	latest := p.chain.Latest()
	block, err := chain.NewBlock(latest.Index+1, now, latest.Hash, survivors)
	if err != nil {
		return nil, fmt.Errorf("mint: build block: %w", err)
	}
	block.Metadata.Miner = opts.Miner
	if err := block.Mine(ctx, opts.Difficulty); err != nil {
		return nil, fmt.Errorf("mint: mining cancelled: %w", err)
	}
	res.State = Mined

	// 6. COMMITTED — atomic with the chain's index update.
	if err := p.chain.Append(block); err != nil {
		return nil, fmt.Errorf("mint: append block: %w", err)
	}
	res.State = Committed
	res.BlockHash = block.Hash
	res.BlockIndex = block.Index
	res.Minted = survivors

	for _, a := range survivors {
		blockIndex := block.Index
		mintedAt := now
		a.BlockIndex = &blockIndex
		a.MintedAt = &mintedAt
		a.MintedBy = opts.Miner
		if proof, ok := block.MerkleProof(a.ID); ok {
			res.Proofs[a.ID] = proof
		}
	}

	p.metrics.recordAccept(len(survivors))
	p.recordMined(block, len(survivors))
	return res, nil
}

func batchID(batch []*ledger.Artifact) string {
	ids := make([]string, len(batch))
	for i, a := range batch {
		ids[i] = a.ID
	}
	return ledger.NewID() + ":" + fmt.Sprint(len(ids))
}

func reorder(original []*ledger.Artifact, order, unresolvable []string) []*ledger.Artifact {
	byID := make(map[string]*ledger.Artifact, len(original))
	for _, a := range original {
		byID[a.ID] = a
	}
	out := make([]*ledger.Artifact, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func toLedgerConflicts(cs []contradiction.Conflict) []ledger.Conflict {
	out := make([]ledger.Conflict, len(cs))
	for i, c := range cs {
		out[i] = ledger.Conflict{BlockIndex: c.BlockIndex, ArtifactID: c.ArtifactID, Type: string(c.Type), Severity: string(c.Severity), Description: c.Description}
	}
	return out
}
