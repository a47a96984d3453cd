// Copyright 2025 Certen Protocol
//
// Policy Tests

package policy

import (
	"testing"

	"github.com/certen/evidence-ledger/pkg/ledger"
)

func TestEvaluate_TierWeightTable(t *testing.T) {
	p := New(nil)

	cases := []struct {
		name     string
		artifact *ledger.Artifact
		want     Decision
		minCorr  int
	}{
		{"self_authenticating_always_accepts", &ledger.Artifact{Tier: ledger.TierSelfAuthenticating, Weight: 0.01}, Accept, 0},
		{"government_high_weight_accepts", &ledger.Artifact{Tier: ledger.TierGovernment, Weight: 0.95}, Accept, 0},
		{"government_low_weight_needs_corroboration", &ledger.Artifact{Tier: ledger.TierGovernment, Weight: 0.5}, NeedsCorroboration, 1},
		{"financial_institution_high_weight_accepts", &ledger.Artifact{Tier: ledger.TierFinancialInstitution, Weight: 0.96}, Accept, 0},
		{"financial_institution_low_weight_needs_corroboration", &ledger.Artifact{Tier: ledger.TierFinancialInstitution, Weight: 0.5}, NeedsCorroboration, 1},
		{"independent_third_party_verified_accepts", &ledger.Artifact{Tier: ledger.TierIndependentThirdParty, Weight: 0.95, Verified: true}, Accept, 0},
		{"independent_third_party_unverified_needs_corroboration", &ledger.Artifact{Tier: ledger.TierIndependentThirdParty, Weight: 0.95, Verified: false}, NeedsCorroboration, 1},
		{"business_records_always_needs_corroboration", &ledger.Artifact{Tier: ledger.TierBusinessRecords, Weight: 0.99}, NeedsCorroboration, 1},
		{"first_party_adverse_always_needs_corroboration", &ledger.Artifact{Tier: ledger.TierFirstPartyAdverse, Weight: 0.99}, NeedsCorroboration, 1},
		{"first_party_friendly_needs_two_corroborations", &ledger.Artifact{Tier: ledger.TierFirstPartyFriendly, Weight: 0.99}, NeedsCorroboration, 2},
		{"uncorroborated_person_above_floor_accepts", &ledger.Artifact{Tier: ledger.TierUncorroboratedPerson, Weight: 0.30}, Accept, 0},
		{"uncorroborated_person_below_floor_rejects", &ledger.Artifact{Tier: ledger.TierUncorroboratedPerson, Weight: 0.29}, Reject, 0},
		{"unknown_tier_rejects", &ledger.Artifact{Tier: ledger.Tier("NOT_A_TIER"), Weight: 0.99}, Reject, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eval := p.Evaluate(tc.artifact)
			if eval.Decision != tc.want {
				t.Errorf("decision = %s, want %s (reason: %s)", eval.Decision, tc.want, eval.Reason)
			}
			if tc.minCorr != 0 && eval.MinCorroborations != tc.minCorr {
				t.Errorf("MinCorroborations = %d, want %d", eval.MinCorroborations, tc.minCorr)
			}
		})
	}
}

func TestEvaluate_DigitalSealUpgradesRegardlessOfTier(t *testing.T) {
	p := New(nil)
	a := &ledger.Artifact{
		Tier:                 ledger.TierUncorroboratedPerson,
		Weight:               0.86,
		AuthenticationMethod: "DIGITAL_SEAL",
	}
	eval := p.Evaluate(a)
	if eval.Decision != Accept {
		t.Errorf("digitally sealed artifact at weight 0.86 should upgrade to Accept, got %s", eval.Decision)
	}
}

func TestEvaluate_DigitalSealBelowFloorDoesNotUpgrade(t *testing.T) {
	p := New(nil)
	a := &ledger.Artifact{
		Tier:                 ledger.TierUncorroboratedPerson,
		Weight:               0.5,
		AuthenticationMethod: "DIGITAL_SEAL",
	}
	eval := p.Evaluate(a)
	if eval.Decision == Accept {
		t.Errorf("digital seal below 0.85 floor must not bypass the normal tier table")
	}
}

func TestEvaluateBatch_ReturnsOneEvaluationPerArtifact(t *testing.T) {
	p := New(nil)
	artifacts := []*ledger.Artifact{
		{ID: "A1", Tier: ledger.TierSelfAuthenticating, Weight: 1.0},
		{ID: "A2", Tier: ledger.TierUncorroboratedPerson, Weight: 0.01},
	}
	results := p.EvaluateBatch(artifacts)
	if len(results) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(results))
	}
	if results["A1"].Decision != Accept {
		t.Errorf("A1 decision = %s, want Accept", results["A1"].Decision)
	}
	if results["A2"].Decision != Reject {
		t.Errorf("A2 decision = %s, want Reject", results["A2"].Decision)
	}
}
