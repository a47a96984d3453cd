// Copyright 2025 Certen Protocol
//
// Contradiction Engine Tests

package contradiction

import (
	"context"
	"testing"
	"time"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

func commit(t *testing.T, c *chain.Chain, artifacts ...*ledger.Artifact) {
	t.Helper()
	latest := c.Latest()
	block, err := chain.NewBlock(latest.Index+1, time.Now(), latest.Hash, artifacts)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := block.Mine(context.Background(), 1); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if err := c.Append(block); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestCheck_ExplicitContradiction(t *testing.T) {
	c := chain.New(1)
	prior := &ledger.Artifact{ID: "P1", ContentHash: "p1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.9, Timestamp: time.Now()}
	commit(t, c, prior)

	e := New(c)
	candidate := &ledger.Artifact{ID: "A1", ContentHash: "a1-hash", CaseID: "C1", Tier: ledger.TierUncorroboratedPerson, Weight: 0.5, Contradicts: []string{"P1"}}

	conflicts := e.Check(candidate)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d: %+v", len(conflicts), conflicts)
	}
	if conflicts[0].Type != Explicit {
		t.Errorf("type = %s, want EXPLICIT", conflicts[0].Type)
	}
	if !HasBlocking(conflicts) {
		t.Errorf("a prior, more-trusted artifact should produce a HIGH severity, blocking conflict")
	}
}

func TestCheck_TemporalConflictBeyond24Hours(t *testing.T) {
	c := chain.New(1)
	priorDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := &ledger.Artifact{
		ID: "P1", ContentHash: "p1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.9,
		Type: "DATE", Subject: "incident", EventType: "occurred", DateValue: &priorDate,
	}
	commit(t, c, prior)

	e := New(c)
	candidateDate := priorDate.Add(48 * time.Hour)
	candidate := &ledger.Artifact{
		ID: "A1", ContentHash: "a1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.9,
		Type: "DATE", Subject: "incident", EventType: "occurred", DateValue: &candidateDate,
	}

	conflicts := e.Check(candidate)
	if len(conflicts) != 1 || conflicts[0].Type != Temporal {
		t.Fatalf("expected a single TEMPORAL conflict, got %+v", conflicts)
	}
}

func TestCheck_TemporalWithin24HoursIsNotAConflict(t *testing.T) {
	c := chain.New(1)
	priorDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := &ledger.Artifact{
		ID: "P1", ContentHash: "p1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.9,
		Type: "DATE", Subject: "incident", EventType: "occurred", DateValue: &priorDate,
	}
	commit(t, c, prior)

	e := New(c)
	candidateDate := priorDate.Add(12 * time.Hour)
	candidate := &ledger.Artifact{
		ID: "A1", ContentHash: "a1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.9,
		Type: "DATE", Subject: "incident", EventType: "occurred", DateValue: &candidateDate,
	}

	if conflicts := e.Check(candidate); len(conflicts) != 0 {
		t.Errorf("expected no conflict within the 24h window, got %+v", conflicts)
	}
}

func TestCheck_BooleanDisagreement(t *testing.T) {
	c := chain.New(1)
	f := false
	tr := true
	prior := &ledger.Artifact{
		ID: "P1", ContentHash: "p1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.9,
		ValueType: "boolean", Subject: "licensed", BoolValue: &tr,
	}
	commit(t, c, prior)

	e := New(c)
	candidate := &ledger.Artifact{
		ID: "A1", ContentHash: "a1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.9,
		ValueType: "boolean", Subject: "licensed", BoolValue: &f,
	}

	conflicts := e.Check(candidate)
	if len(conflicts) != 1 || conflicts[0].Type != Boolean {
		t.Fatalf("expected a single BOOLEAN conflict, got %+v", conflicts)
	}
}

func TestCheck_NoCaseIDShortCircuits(t *testing.T) {
	c := chain.New(1)
	e := New(c)
	candidate := &ledger.Artifact{ID: "A1", ContentHash: "a1-hash"}
	if conflicts := e.Check(candidate); conflicts != nil {
		t.Errorf("expected nil conflicts for an artifact without a case id, got %+v", conflicts)
	}
}

func TestSeverity_WeightGapPromotesSeverityOnTierTie(t *testing.T) {
	c := chain.New(1)
	prior := &ledger.Artifact{ID: "P1", ContentHash: "p1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.95, Contradicts: []string{"A1"}}
	commit(t, c, prior)

	e := New(c)
	candidate := &ledger.Artifact{ID: "A1", ContentHash: "a1-hash", CaseID: "C1", Tier: ledger.TierGovernment, Weight: 0.2}

	conflicts := e.Check(candidate)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].Severity != High {
		t.Errorf("severity = %s, want HIGH given a 0.75 weight gap on a tier tie", conflicts[0].Severity)
	}
}
