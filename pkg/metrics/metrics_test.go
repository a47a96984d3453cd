// Copyright 2025 Certen Protocol
//
// Metrics Tests

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_RegistersEveryCollector(t *testing.T) {
	r := New()
	r.BlocksMined.Inc()
	r.ArtifactsRejected.WithLabelValues("policy").Inc()
	r.ChainHeight.Set(3)
	// A labeled vector is only gathered once at least one child exists.
	r.ContradictionsFound.WithLabelValues("HIGH").Inc()
	r.ConsentDecisions.WithLabelValues("approved").Inc()
	r.RecoveryRuns.WithLabelValues("safe").Inc()

	mfs, err := r.Raw().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"ledger_blocks_mined_total",
		"ledger_artifacts_minted_total",
		"ledger_artifacts_rejected_total",
		"ledger_contradictions_found_total",
		"ledger_consent_decisions_total",
		"ledger_snapshots_issued_total",
		"ledger_recovery_runs_total",
		"ledger_chain_height",
		"ledger_mining_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("expected registered metric %s to be present", want)
		}
	}
}

func TestHandler_ServesGatheredMetrics(t *testing.T) {
	r := New()
	r.ChainHeight.Set(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ledger_chain_height 7") {
		t.Errorf("expected ledger_chain_height to appear with value 7 in handler output, got:\n%s", w.Body.String())
	}
}
