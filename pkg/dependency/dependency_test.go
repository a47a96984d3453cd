// Copyright 2025 Certen Protocol
//
// Dependency Resolver Tests

package dependency

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

func TestCheck_SatisfiedByCommittedArtifact(t *testing.T) {
	c := chain.New(1)
	commit(t, c, &ledger.Artifact{ID: "P1", ContentHash: "p1-hash", Weight: 0.9, Tier: ledger.TierGovernment})

	r := New(c)
	batch := []*ledger.Artifact{
		{ID: "A1", ContentHash: "a1-hash", Dependencies: []string{"P1"}},
	}
	res := r.Check(batch)
	if !res.Satisfied {
		t.Errorf("expected dependency on a committed artifact to be satisfied, got missing: %+v", res.Missing)
	}
}

func TestCheck_SatisfiedWithinSameBatch(t *testing.T) {
	c := chain.New(1)
	r := New(c)
	batch := []*ledger.Artifact{
		{ID: "A1", ContentHash: "a1-hash"},
		{ID: "A2", ContentHash: "a2-hash", Dependencies: []string{"A1"}},
	}
	res := r.Check(batch)
	if !res.Satisfied {
		t.Errorf("expected in-batch dependency to be satisfied, got missing: %+v", res.Missing)
	}
}

func TestCheck_ReportsMissingDependency(t *testing.T) {
	c := chain.New(1)
	r := New(c)
	batch := []*ledger.Artifact{
		{ID: "A1", ContentHash: "a1-hash", Dependencies: []string{"does-not-exist"}},
	}
	res := r.Check(batch)
	if res.Satisfied {
		t.Fatal("expected unsatisfied result for a missing dependency")
	}
	if len(res.Missing) != 1 || res.Missing[0].DepRef != "does-not-exist" {
		t.Errorf("unexpected missing list: %+v", res.Missing)
	}
}

func TestOrder_TopologicallySortsByDependency(t *testing.T) {
	c := chain.New(1)
	r := New(c)
	batch := []*ledger.Artifact{
		{ID: "A3", ContentHash: "a3-hash", Dependencies: []string{"A2"}},
		{ID: "A1", ContentHash: "a1-hash"},
		{ID: "A2", ContentHash: "a2-hash", Dependencies: []string{"A1"}},
	}
	res := r.Order(batch, false)
	if len(res.Unresolvable) != 0 {
		t.Fatalf("expected no unresolvable artifacts, got %+v", res.Unresolvable)
	}
	positions := make(map[string]int, len(res.Order))
	for i, id := range res.Order {
		positions[id] = i
	}
	if positions["A1"] >= positions["A2"] || positions["A2"] >= positions["A3"] {
		t.Errorf("expected order A1 < A2 < A3, got %v", res.Order)
	}
}

func TestOrder_DetectsCycle(t *testing.T) {
	c := chain.New(1)
	r := New(c)
	batch := []*ledger.Artifact{
		{ID: "A1", ContentHash: "a1-hash", Dependencies: []string{"A2"}},
		{ID: "A2", ContentHash: "a2-hash", Dependencies: []string{"A1"}},
	}
	res := r.Order(batch, false)
	if len(res.Unresolvable) != 2 {
		t.Fatalf("expected both cyclic artifacts reported unresolvable, got %+v", res.Unresolvable)
	}
	if len(res.Order) != 0 {
		t.Errorf("expected no partial order without allowPartial, got %v", res.Order)
	}
}

func TestOrder_AllowPartialExcludesUnresolvable(t *testing.T) {
	c := chain.New(1)
	r := New(c)
	batch := []*ledger.Artifact{
		{ID: "A1", ContentHash: "a1-hash"},
		{ID: "A2", ContentHash: "a2-hash", Dependencies: []string{"missing"}},
	}
	res := r.Order(batch, true)
	if len(res.Order) != 1 || res.Order[0] != "A1" {
		t.Errorf("expected A1 to be placed and A2 excluded, got order=%v unresolvable=%v", res.Order, res.Unresolvable)
	}
	if len(res.Unresolvable) != 1 || res.Unresolvable[0] != "A2" {
		t.Errorf("expected A2 reported unresolvable, got %v", res.Unresolvable)
	}
}

func TestOrder_BatchesGroupByLongestPath(t *testing.T) {
	c := chain.New(1)
	r := New(c)
	batch := []*ledger.Artifact{
		{ID: "A1", ContentHash: "a1-hash"},
		{ID: "A2", ContentHash: "a2-hash", Dependencies: []string{"A1"}},
	}
	res := r.Order(batch, false)
	if len(res.Batches) != 2 {
		t.Fatalf("expected 2 depth levels, got %d: %+v", len(res.Batches), res.Batches)
	}
	if len(res.Batches[0]) != 1 || res.Batches[0][0] != "A1" {
		t.Errorf("expected depth 0 to contain only A1, got %v", res.Batches[0])
	}
	if len(res.Batches[1]) != 1 || res.Batches[1][0] != "A2" {
		t.Errorf("expected depth 1 to contain only A2, got %v", res.Batches[1])
	}
}
