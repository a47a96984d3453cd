// Copyright 2025 Certen Protocol
//
// Consensus Policy - Tier/Weight Admissibility Rules
// Per Default Policy Table: maps an artifact's source-credibility tier and
// evidentiary weight to an admissibility decision before it may be minted.

package policy

import (
	"log"

	"github.com/certen/evidence-ledger/pkg/ledger"
)

// Decision is the outcome of evaluating an artifact against policy.
type Decision string

const (
	Accept             Decision = "ACCEPT"
	NeedsCorroboration Decision = "NEEDS_CORROBORATION"
	Reject             Decision = "REJECT"
)

// digitalSealWeightFloor is the weight above which a DIGITAL_SEAL
// authentication method upgrades any tier straight to Accept.
const digitalSealWeightFloor = 0.85

// uncorroboratedPersonFloor is the test-friendly soft floor below which an
// UNCORROBORATED_PERSON artifact is rejected outright rather than merely
// requiring corroboration.
const uncorroboratedPersonFloor = 0.30

// Evaluation is the result of Evaluate: the decision plus any corroboration
// actions the caller must still take before the artifact can mint.
type Evaluation struct {
	Decision Decision
	Reason   string
	// MinCorroborations is only meaningful when Decision == NeedsCorroboration;
	// 1 unless the tier demands more (FIRST_PARTY_FRIENDLY requires 2).
	MinCorroborations int
}

// Policy evaluates artifacts against the closed tier/weight table.
type Policy struct {
	logger *log.Logger
}

// New constructs a Policy. A nil logger falls back to a component-prefixed
// default, matching the rest of the ledger's components.
func New(logger *log.Logger) *Policy {
	if logger == nil {
		logger = log.New(log.Writer(), "[Policy] ", log.LstdFlags)
	}
	return &Policy{logger: logger}
}

// Evaluate applies the default tier/weight policy table to a. A digitally
// sealed document with weight >= 0.85 upgrades to Accept regardless of tier.
func (p *Policy) Evaluate(a *ledger.Artifact) Evaluation {
	if a.AuthenticationMethod == "DIGITAL_SEAL" && a.Weight >= digitalSealWeightFloor {
		return Evaluation{Decision: Accept, Reason: "digital seal with weight >= 0.85 upgrades to accept"}
	}

	switch a.Tier {
	case ledger.TierSelfAuthenticating:
		return Evaluation{Decision: Accept, Reason: "self-authenticating tier always auto-mints"}

	case ledger.TierGovernment:
		if a.Weight >= 0.90 {
			return Evaluation{Decision: Accept, Reason: "government tier, weight >= 0.90"}
		}
		return Evaluation{Decision: NeedsCorroboration, Reason: "government tier, weight < 0.90", MinCorroborations: 1}

	case ledger.TierFinancialInstitution:
		if a.Weight >= 0.95 {
			return Evaluation{Decision: Accept, Reason: "financial institution tier, weight >= 0.95"}
		}
		return Evaluation{Decision: NeedsCorroboration, Reason: "financial institution tier, weight < 0.95", MinCorroborations: 1}

	case ledger.TierIndependentThirdParty:
		if a.Verified && a.Weight >= 0.90 {
			return Evaluation{Decision: Accept, Reason: "independent third party, verified and weight >= 0.90"}
		}
		return Evaluation{Decision: NeedsCorroboration, Reason: "independent third party unverified or weight < 0.90", MinCorroborations: 1}

	case ledger.TierBusinessRecords:
		return Evaluation{Decision: NeedsCorroboration, Reason: "business records always require corroboration", MinCorroborations: 1}

	case ledger.TierFirstPartyAdverse:
		return Evaluation{Decision: NeedsCorroboration, Reason: "first-party adverse always requires corroboration", MinCorroborations: 1}

	case ledger.TierFirstPartyFriendly:
		return Evaluation{Decision: NeedsCorroboration, Reason: "first-party friendly requires at least two corroborations", MinCorroborations: 2}

	case ledger.TierUncorroboratedPerson:
		if a.Weight >= uncorroboratedPersonFloor {
			return Evaluation{Decision: Accept, Reason: "uncorroborated person, weight >= soft floor 0.30"}
		}
		return Evaluation{Decision: Reject, Reason: "uncorroborated person below soft floor 0.30"}

	default:
		return Evaluation{Decision: Reject, Reason: "unknown tier"}
	}
}

// EvaluateBatch evaluates each artifact independently and logs rejections.
func (p *Policy) EvaluateBatch(artifacts []*ledger.Artifact) map[string]Evaluation {
	out := make(map[string]Evaluation, len(artifacts))
	for _, a := range artifacts {
		e := p.Evaluate(a)
		if e.Decision == Reject {
			p.logger.Printf("artifact %s rejected: %s", a.ID, e.Reason)
		}
		out[a.ID] = e
	}
	return out
}
