// Copyright 2025 Certen Protocol
//
// Trust / Verification Tests

package trust

import (
	"context"
	"testing"

	"github.com/certen/evidence-ledger/pkg/ledger"
)

func validArtifact() *ledger.Artifact {
	return &ledger.Artifact{
		ID:          "A1",
		ContentHash: "012345678901234567890123456789012345678901234567890123456789010a",
		Statement:   "a valid statement",
		Tier:        ledger.TierGovernment,
		Weight:      0.92,
	}
}

func TestVerify_BasicLevelRunsOnlyBasicChecks(t *testing.T) {
	c := New()
	rep := c.Verify(context.Background(), []*ledger.Artifact{validArtifact()}, Basic)
	if len(rep.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact report, got %d", len(rep.Artifacts))
	}
	ar := rep.Artifacts[0]
	if len(ar.Checks) != 3 {
		t.Errorf("expected 3 basic checks, got %d: %+v", len(ar.Checks), ar.Checks)
	}
	if ar.Verdict != VerdictPassed {
		t.Errorf("verdict = %s, want passed", ar.Verdict)
	}
}

func TestVerify_StandardLevelAddsWeightChecks(t *testing.T) {
	c := New()
	rep := c.Verify(context.Background(), []*ledger.Artifact{validArtifact()}, Standard)
	ar := rep.Artifacts[0]
	if len(ar.Checks) != 5 {
		t.Errorf("expected 3 basic + 2 standard checks, got %d", len(ar.Checks))
	}
}

func TestVerify_MalformedContentHashFailsCritically(t *testing.T) {
	c := New()
	a := validArtifact()
	a.ContentHash = "too-short"
	rep := c.Verify(context.Background(), []*ledger.Artifact{a}, Basic)
	if rep.Artifacts[0].Verdict != VerdictFailed {
		t.Errorf("expected a malformed content hash to fail verification, got %s", rep.Artifacts[0].Verdict)
	}
}

func TestVerify_LegalLevelRequiresNotarizationForSelfAuthenticating(t *testing.T) {
	c := New()
	a := validArtifact()
	a.Tier = ledger.TierSelfAuthenticating
	a.Weight = 1.0

	rep := c.Verify(context.Background(), []*ledger.Artifact{a}, Legal)
	if rep.Artifacts[0].Verdict != VerdictFailed {
		t.Errorf("expected missing notarization metadata to fail legal-level verification")
	}

	a.Metadata = map[string]any{"notarization": "on file"}
	rep = c.Verify(context.Background(), []*ledger.Artifact{a}, Legal)
	if rep.Artifacts[0].Verdict == VerdictFailed {
		t.Errorf("expected notarized self-authenticating artifact to pass legal-level verification")
	}
}

func TestVerify_IntraBatchBooleanContradictionIsFlagged(t *testing.T) {
	c := New()
	tr, f := true, false
	a := &ledger.Artifact{ID: "A1", ContentHash: "0123456789012345678901234567890123456789012345678901234567890a", Statement: "s1",
		Tier: ledger.TierGovernment, Weight: 0.9, CaseID: "C1", ValueType: "boolean", Subject: "licensed", BoolValue: &tr}
	b := &ledger.Artifact{ID: "A2", ContentHash: "0123456789012345678901234567890123456789012345678901234567890b", Statement: "s2",
		Tier: ledger.TierGovernment, Weight: 0.9, CaseID: "C1", ValueType: "boolean", Subject: "licensed", BoolValue: &f}

	rep := c.Verify(context.Background(), []*ledger.Artifact{a, b}, Standard)
	if len(rep.Artifacts[0].Contradicts) != 1 || rep.Artifacts[0].Contradicts[0] != "A2" {
		t.Errorf("expected A1 to flag A2 as an intra-batch contradiction, got %+v", rep.Artifacts[0].Contradicts)
	}
}

func TestScore_CriticalFailureHalvesBase(t *testing.T) {
	a := &ledger.Artifact{Weight: 1.0}
	passing := []CheckResult{{Passed: true}, {Passed: true}}
	failing := []CheckResult{{Passed: true}, {Passed: false, Critical: true}}

	scorePassing := Score(a, passing)
	scoreFailing := Score(a, failing)
	if scoreFailing >= scorePassing {
		t.Errorf("expected a critical failure to roughly halve the score: passing=%.4f failing=%.4f", scorePassing, scoreFailing)
	}
}

func TestScore_ClampsToUnitInterval(t *testing.T) {
	a := &ledger.Artifact{Weight: 1.0}
	s := Score(a, []CheckResult{{Passed: true}})
	if s < 0 || s > 1 {
		t.Errorf("score out of [0,1]: %v", s)
	}
}

func TestAutoApprove_FalseOnAnyFailedVerdict(t *testing.T) {
	c := New()
	good := validArtifact()
	bad := validArtifact()
	bad.ID = "A2"
	bad.ContentHash = "bad"

	rep := c.Verify(context.Background(), []*ledger.Artifact{good, bad}, Basic)
	if rep.AutoApprove {
		t.Errorf("expected auto-approve to be false when any artifact fails verification")
	}
}

func TestLevel_IncludesLowerLevels(t *testing.T) {
	if !Legal.includes(Basic) || !Legal.includes(Standard) || !Legal.includes(Enhanced) {
		t.Error("legal level should include every lower level's checks")
	}
	if Basic.includes(Standard) {
		t.Error("basic level should not include standard-level checks")
	}
}
