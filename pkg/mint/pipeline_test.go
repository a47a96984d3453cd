// Copyright 2025 Certen Protocol
//
// Minting Pipeline Tests

package mint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/consent"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

// contentHashFor deterministically derives a well-formed 64-hex-char content
// hash for a test artifact id, so only the hash literal that deliberately
// tests malformed-hash rejection diverges from this shape.
func contentHashFor(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func alwaysApprove() (*consent.Ed25519Gate, error) {
	return consent.NewEd25519Gate("test-signer", nil, nil)
}

func alwaysDeny() (*consent.Ed25519Gate, error) {
	return consent.NewEd25519Gate("test-signer", nil, func(consent.Request) (bool, string) { return false, "test denial" })
}

func strongArtifact(id, caseID string) *ledger.Artifact {
	return &ledger.Artifact{
		ID:          id,
		ContentHash: contentHashFor(id),
		Statement:   "a strong government artifact",
		Tier:        ledger.TierGovernment,
		Weight:      0.95,
		CaseID:      caseID,
	}
}

func TestSubmit_EmptyBatchCommitsNoOp(t *testing.T) {
	c := chain.New(1)
	gate, err := alwaysApprove()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	p := New(c, gate)

	res, err := p.Submit(context.Background(), nil, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != Committed {
		t.Errorf("state = %s, want COMMITTED for an empty batch", res.State)
	}
	if c.Height() != 0 {
		t.Errorf("expected no block to be appended for an empty batch")
	}
}

func TestSubmit_HappyPathCommitsAndProducesProofs(t *testing.T) {
	c := chain.New(1)
	gate, err := alwaysApprove()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	p := New(c, gate)

	batch := []*ledger.Artifact{strongArtifact("A1", "C1")}
	opts := DefaultOptions()
	opts.Difficulty = 1
	opts.Miner = "test-miner"

	res, err := p.Submit(context.Background(), batch, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != Committed {
		t.Fatalf("state = %s, want COMMITTED", res.State)
	}
	if len(res.Minted) != 1 || res.Minted[0].ID != "A1" {
		t.Errorf("expected A1 to be minted, got %+v", res.Minted)
	}
	if _, ok := res.Proofs["A1"]; !ok {
		t.Error("expected an inclusion proof for A1")
	}
	if c.Height() != 1 {
		t.Errorf("expected chain height 1 after commit, got %d", c.Height())
	}
	if !c.Committed(batch[0].ContentHash) {
		t.Error("expected the artifact's content hash to be indexed after commit")
	}
}

func TestSubmit_UnresolvedDependencyRejectsWholeBatch(t *testing.T) {
	c := chain.New(1)
	gate, err := alwaysApprove()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	p := New(c, gate)

	a := strongArtifact("A1", "C1")
	a.Dependencies = []string{"missing-dep"}

	res, err := p.Submit(context.Background(), []*ledger.Artifact{a}, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != Rejected {
		t.Errorf("state = %s, want REJECTED", res.State)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].ArtifactID != "A1" {
		t.Errorf("expected A1 rejected for unresolved dependency, got %+v", res.Rejected)
	}
	if c.Height() != 0 {
		t.Error("expected no block appended when the batch is rejected")
	}
}

func TestSubmit_VerificationFailureDropsArtifactNotBatch(t *testing.T) {
	c := chain.New(1)
	gate, err := alwaysApprove()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	p := New(c, gate)

	bad := strongArtifact("Bad1", "C1")
	bad.ContentHash = "too-short"
	good := strongArtifact("Good1", "C1")

	opts := DefaultOptions()
	opts.Difficulty = 1
	res, err := p.Submit(context.Background(), []*ledger.Artifact{bad, good}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != Committed {
		t.Fatalf("state = %s, want COMMITTED (the survivor should still mint)", res.State)
	}
	if len(res.Minted) != 1 || res.Minted[0].ID != "Good1" {
		t.Errorf("expected only Good1 minted, got %+v", res.Minted)
	}
	foundRejected := false
	for _, r := range res.Rejected {
		if r.ArtifactID == "Bad1" {
			foundRejected = true
		}
	}
	if !foundRejected {
		t.Errorf("expected Bad1 to be listed as rejected, got %+v", res.Rejected)
	}
}

func TestSubmit_PolicyRejectionForWeakUncorroboratedArtifact(t *testing.T) {
	c := chain.New(1)
	gate, err := alwaysApprove()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	p := New(c, gate)

	weak := &ledger.Artifact{ID: "Weak1", ContentHash: contentHashFor("Weak1"), Statement: "weak",
		Tier: ledger.TierUncorroboratedPerson, Weight: 0.05, CaseID: "C1"}

	opts := DefaultOptions()
	opts.Difficulty = 1
	res, err := p.Submit(context.Background(), []*ledger.Artifact{weak}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != Rejected {
		t.Errorf("state = %s, want REJECTED for a below-floor uncorroborated-person artifact", res.State)
	}
}

func TestSubmit_BlockingContradictionDropsArtifact(t *testing.T) {
	c := chain.New(1)
	gate, err := alwaysApprove()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	p := New(c, gate)
	opts := DefaultOptions()
	opts.Difficulty = 1

	prior := strongArtifact("Prior1", "C1")
	if _, err := p.Submit(context.Background(), []*ledger.Artifact{prior}, opts); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}

	challenger := &ledger.Artifact{ID: "Weak2", ContentHash: contentHashFor("Weak2"),
		Statement: "contradicts prior", Tier: ledger.TierUncorroboratedPerson, Weight: 0.4, CaseID: "C1",
		Contradicts: []string{"Prior1"}}

	res, err := p.Submit(context.Background(), []*ledger.Artifact{challenger}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != Rejected {
		t.Errorf("state = %s, want REJECTED when the sole artifact hits a blocking contradiction", res.State)
	}
}

func TestSubmit_ConsentDenialReturnsErrorAndState(t *testing.T) {
	c := chain.New(1)
	gate, err := alwaysDeny()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	p := New(c, gate)
	opts := DefaultOptions()
	opts.Difficulty = 1

	res, err := p.Submit(context.Background(), []*ledger.Artifact{strongArtifact("A1", "C1")}, opts)
	if err == nil {
		t.Fatal("expected an error when consent is denied")
	}
	if res.State != Denied {
		t.Errorf("state = %s, want DENIED", res.State)
	}
	if c.Height() != 0 {
		t.Error("expected no block appended when consent is denied")
	}
}

func TestIsValidTransition(t *testing.T) {
	if !isValidTransition(Proposed, DepsResolved) {
		t.Error("PROPOSED -> DEPS_RESOLVED should be valid")
	}
	if isValidTransition(Proposed, Mined) {
		t.Error("PROPOSED -> MINED should not be a direct valid transition")
	}
}
