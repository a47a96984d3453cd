// Copyright 2025 Certen Protocol
//
// Trust / Verification - Per-Artifact Scoring and Verification Reports
// Runs a tiered battery of checks (basic -> standard -> enhanced -> legal,
// each level implying the previous) and derives a trust_score combining
// evidentiary weight with the pass rate of the checks that ran.

package trust

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/certen/evidence-ledger/pkg/ledger"
)

// Level is a verification depth; each level implies every check in the
// levels before it.
type Level string

const (
	Basic    Level = "basic"
	Standard Level = "standard"
	Enhanced Level = "enhanced"
	Legal    Level = "legal"
)

var levelRank = map[Level]int{Basic: 0, Standard: 1, Enhanced: 2, Legal: 3}

func (l Level) includes(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

// CheckResult is the outcome of one named check against an artifact.
type CheckResult struct {
	Name     string
	Passed   bool
	Critical bool
	Detail   string
}

// Verdict is the overall status of an artifact after verification.
type Verdict string

const (
	VerdictPassed  Verdict = "passed"
	VerdictWarning Verdict = "warning"
	VerdictFailed  Verdict = "failed"
)

// ArtifactReport is one artifact's verification outcome.
type ArtifactReport struct {
	ArtifactID  string
	Checks      []CheckResult
	TrustScore  float64
	Verdict     Verdict
	Contradicts []string // populated only by the intra-batch standard-level check
}

// Report is the outcome of verifying a batch at a given level.
type Report struct {
	Level       Level
	Artifacts   []ArtifactReport
	AutoApprove bool
	CreatedAt   time.Time
}

// autoApproveThreshold is the mean trust_score above which, combined with
// zero failures, a batch may skip the consent gate when the caller opts out.
const autoApproveThreshold = 0.95

// Checker runs the verification battery. It holds no mutable state and is
// safe for concurrent use; re-running it on the same inputs is pure.
type Checker struct{}

// New constructs a Checker.
func New() *Checker {
	return &Checker{}
}

// Verify runs every check implied by level against each artifact in batch
// and produces a Report. ctx bounds any external-reference sanity calls
// made at the enhanced level.
func (c *Checker) Verify(ctx context.Context, batch []*ledger.Artifact, level Level) Report {
	rep := Report{Level: level, CreatedAt: time.Now()}

	for _, a := range batch {
		ar := ArtifactReport{ArtifactID: a.ID}
		ar.Checks = append(ar.Checks, basicChecks(a)...)

		if level.includes(Standard) {
			ar.Checks = append(ar.Checks, standardChecks(a)...)
			ar.Contradicts = intraBatchContradictions(a, batch)
		}
		if level.includes(Enhanced) {
			ar.Checks = append(ar.Checks, enhancedChecks(ctx, a)...)
		}
		if level.includes(Legal) {
			ar.Checks = append(ar.Checks, legalChecks(a)...)
		}

		ar.TrustScore = Score(a, ar.Checks)
		ar.Verdict = verdictFor(ar.Checks)
		rep.Artifacts = append(rep.Artifacts, ar)
	}

	rep.AutoApprove = autoApprove(rep)
	return rep
}

func basicChecks(a *ledger.Artifact) []CheckResult {
	_, hexErr := hex.DecodeString(a.ContentHash)
	return []CheckResult{
		{Name: "format", Passed: a.ID != "" && a.Statement != "", Critical: true, Detail: "id and statement present"},
		{Name: "content_hash_shape", Passed: len(a.ContentHash) == 64 && hexErr == nil, Critical: true, Detail: "content_hash is 64 hex chars"},
		{Name: "tier_validity", Passed: a.Tier.Valid(), Critical: true, Detail: "tier is a recognized value"},
	}
}

func standardChecks(a *ledger.Artifact) []CheckResult {
	minW, maxW := a.Tier.WeightRange()
	inRange := a.Weight >= 0 && a.Weight <= 1
	return []CheckResult{
		{Name: "weight_in_range", Passed: inRange, Critical: true, Detail: "weight in [0,1]"},
		{Name: "weight_in_tier_band", Passed: !a.Tier.Valid() || (a.Weight >= minW && a.Weight <= maxW), Critical: false,
			Detail: fmt.Sprintf("weight within tier band [%.2f,%.2f]", minW, maxW)},
	}
}

func enhancedChecks(ctx context.Context, a *ledger.Artifact) []CheckResult {
	select {
	case <-ctx.Done():
		return []CheckResult{{Name: "external_reference_sanity", Passed: false, Critical: false, Detail: "cancelled: " + ctx.Err().Error()}}
	default:
	}
	return []CheckResult{
		{Name: "external_reference_sanity", Passed: true, Critical: false, Detail: "no external reference hook configured"},
		{Name: "ai_analysis_hook", Passed: true, Critical: false, Detail: "no ai-analysis hook configured"},
	}
}

func legalChecks(a *ledger.Artifact) []CheckResult {
	var checks []CheckResult
	if a.Tier == ledger.TierSelfAuthenticating {
		_, notarized := a.Metadata["notarization"]
		checks = append(checks, CheckResult{Name: "notarization_presence", Passed: notarized, Critical: true, Detail: "self-authenticating requires notarization metadata"})
	}
	if a.Type == "SWORN_STATEMENT" {
		_, witnessed := a.Metadata["witness"]
		checks = append(checks, CheckResult{Name: "witness_presence", Passed: witnessed, Critical: true, Detail: "sworn statement requires witness metadata"})
	}
	return checks
}

// intraBatchContradictions flags same-case, same-subject boolean
// disagreements within the batch itself, ahead of the chain-wide
// contradiction engine. Dates are not compared here.
func intraBatchContradictions(a *ledger.Artifact, batch []*ledger.Artifact) []string {
	var out []string
	for _, other := range batch {
		if other.ID == a.ID || other.CaseID != a.CaseID || a.CaseID == "" {
			continue
		}
		if a.ValueType == "boolean" && other.ValueType == "boolean" &&
			a.Subject != "" && a.Subject == other.Subject &&
			a.BoolValue != nil && other.BoolValue != nil && *a.BoolValue != *other.BoolValue {
			out = append(out, other.ID)
		}
	}
	return out
}

func verdictFor(checks []CheckResult) Verdict {
	warnings := 0
	for _, c := range checks {
		if !c.Passed {
			if c.Critical {
				return VerdictFailed
			}
			warnings++
		}
	}
	if warnings > 0 {
		return VerdictWarning
	}
	return VerdictPassed
}

// Score computes trust_score(artifact, result) per the fixed formula:
// clamp(0.7*weight + 0.3*(passed/total), 0, 1), then halved if any critical
// check failed, else scaled down 5% per non-critical warning.
func Score(a *ledger.Artifact, checks []CheckResult) float64 {
	if len(checks) == 0 {
		return clamp(a.Weight)
	}

	passed, warnings, critical := 0, 0, false
	for _, c := range checks {
		if c.Passed {
			passed++
		} else if c.Critical {
			critical = true
		} else {
			warnings++
		}
	}

	base := clamp(0.7*a.Weight + 0.3*(float64(passed)/float64(len(checks))))
	switch {
	case critical:
		return base * 0.5
	case warnings > 0:
		return base * (1 - 0.05*float64(warnings))
	default:
		return base
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func autoApprove(rep Report) bool {
	if len(rep.Artifacts) == 0 {
		return false
	}
	sum := 0.0
	for _, ar := range rep.Artifacts {
		if ar.Verdict == VerdictFailed {
			return false
		}
		sum += ar.TrustScore
	}
	return sum/float64(len(rep.Artifacts)) >= autoApproveThreshold
}
