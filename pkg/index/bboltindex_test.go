// Copyright 2025 Certen Protocol
//
// Persistent Index Cache Tests

package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	entry := ledger.IndexEntry{BlockIndex: 3, ArtifactID: "A1", Tier: ledger.TierGovernment, Weight: 0.9}

	if err := s.Put("a1-hash", entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get("a1-hash")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if got != entry {
		t.Errorf("got %+v, want %+v", got, entry)
	}
}

func TestGet_MissingKeyReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected not-found for an absent key")
	}
}

func TestRebuild_PopulatesFromChainAndTracksHeight(t *testing.T) {
	c := chain.New(1)
	latest := c.Latest()
	a := &ledger.Artifact{ID: "A1", ContentHash: "a1-hash", Statement: "s", Tier: ledger.TierGovernment, Weight: 0.9}
	block, err := chain.NewBlock(latest.Index+1, time.Now(), latest.Hash, []*ledger.Artifact{a})
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := block.Mine(context.Background(), 1); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if err := c.Append(block); err != nil {
		t.Fatalf("append: %v", err)
	}

	s := openTestStore(t)
	if err := s.Rebuild(c); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	entry, ok, err := s.Get("a1-hash")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || entry.ArtifactID != "A1" {
		t.Errorf("expected A1 to be cached after rebuild, got entry=%+v ok=%v", entry, ok)
	}

	h, err := s.Height()
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if h != c.Height() {
		t.Errorf("cached height = %d, want %d", h, c.Height())
	}
}

func TestRebuild_SkipsGenesisArtifact(t *testing.T) {
	c := chain.New(1)
	s := openTestStore(t)
	if err := s.Rebuild(c); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	_, ok, err := s.Get(c.Latest().Artifacts[0].ContentHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected the genesis artifact to not be cached")
	}
}
