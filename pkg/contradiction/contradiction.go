// Copyright 2025 Certen Protocol
//
// Contradiction Engine - Detects Conflicts Against Prior Evidence
// Scans committed artifacts sharing a candidate's case_id for explicit,
// temporal, and boolean conflicts. Read-only: never mutates chain state.

package contradiction

import (
	"fmt"
	"time"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

// Severity ranks how serious a detected conflict is.
type Severity string

const (
	High   Severity = "HIGH"
	Medium Severity = "MEDIUM"
	Low    Severity = "LOW"
)

// Kind identifies which rule produced the conflict.
type Kind string

const (
	Explicit Kind = "EXPLICIT"
	Temporal Kind = "TEMPORAL"
	Boolean  Kind = "BOOLEAN"
)

// temporalWindow is the threshold above which two DATE artifacts for the
// same subject/event are considered to conflict. Exactly 24h is not a
// conflict; the comparison is strict '>'.
const temporalWindow = 24 * time.Hour

// weightGapPromotion is the weight delta that breaks a tier tie toward a
// stronger severity.
const weightGapPromotion = 0.2

// Conflict describes one detected contradiction against a prior artifact.
type Conflict struct {
	BlockIndex  uint64
	ArtifactID  string
	Type        Kind
	Severity    Severity
	Description string
}

// Engine detects contradictions for candidate artifacts against a chain.
type Engine struct {
	chain *chain.Chain
}

// New constructs an Engine bound to chain c.
func New(c *chain.Chain) *Engine {
	return &Engine{chain: c}
}

// Check scans prior artifacts sharing candidate's case_id and returns every
// detected conflict, most severe first.
func (e *Engine) Check(candidate *ledger.Artifact) []Conflict {
	if candidate.CaseID == "" {
		return nil
	}

	var conflicts []Conflict
	for _, result := range e.chain.Query(chain.Predicate{CaseID: candidate.CaseID}) {
		prior := result.Artifact
		if prior.ID == candidate.ID {
			continue
		}

		if k, desc, ok := compare(candidate, prior); ok {
			conflicts = append(conflicts, Conflict{
				BlockIndex:  result.BlockIndex,
				ArtifactID:  prior.ID,
				Type:        k,
				Severity:    severity(candidate, prior),
				Description: desc,
			})
		}
	}

	sortBySeverity(conflicts)
	return conflicts
}

// HasBlocking reports whether conflicts contains a HIGH-severity entry.
func HasBlocking(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == High {
			return true
		}
	}
	return false
}

func compare(a, prior *ledger.Artifact) (Kind, string, bool) {
	if containsID(a.Contradicts, prior.ID) || containsID(prior.Contradicts, a.ID) {
		return Explicit, fmt.Sprintf("artifact %s explicitly contradicts %s", a.ID, prior.ID), true
	}

	if a.Type == "DATE" && prior.Type == "DATE" &&
		a.Subject != "" && a.Subject == prior.Subject &&
		a.EventType != "" && a.EventType == prior.EventType &&
		a.DateValue != nil && prior.DateValue != nil {
		delta := a.DateValue.Sub(*prior.DateValue)
		if delta < 0 {
			delta = -delta
		}
		if delta > temporalWindow {
			return Temporal, fmt.Sprintf("%s and %s disagree on %s/%s by more than 24h", a.ID, prior.ID, a.Subject, a.EventType), true
		}
		return "", "", false
	}

	if a.ValueType == "boolean" && prior.ValueType == "boolean" &&
		a.Subject != "" && a.Subject == prior.Subject &&
		a.BoolValue != nil && prior.BoolValue != nil &&
		*a.BoolValue != *prior.BoolValue {
		return Boolean, fmt.Sprintf("%s and %s disagree on boolean subject %s", a.ID, prior.ID, a.Subject), true
	}

	return "", "", false
}

// severity compares ranks: HIGH if prior outranks (more trusted than) a,
// LOW if prior is less trusted, MEDIUM on a tier tie unless the weight gap
// promotes it.
func severity(a, prior *ledger.Artifact) Severity {
	priorRank, aRank := prior.Tier.Rank(), a.Tier.Rank()
	switch {
	case priorRank < aRank:
		return High
	case priorRank > aRank:
		return Low
	default:
		gap := prior.Weight - a.Weight
		switch {
		case gap >= weightGapPromotion:
			return High
		case gap <= -weightGapPromotion:
			return Low
		default:
			return Medium
		}
	}
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func sortBySeverity(conflicts []Conflict) {
	rank := map[Severity]int{High: 0, Medium: 1, Low: 2}
	for i := 1; i < len(conflicts); i++ {
		for j := i; j > 0 && rank[conflicts[j].Severity] < rank[conflicts[j-1].Severity]; j-- {
			conflicts[j], conflicts[j-1] = conflicts[j-1], conflicts[j]
		}
	}
}
