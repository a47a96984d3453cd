// Copyright 2025 Certen Protocol
//
// Core data model for the evidence ledger: Artifact, Tier, and the small
// value types shared by every component that touches committed or proposed
// evidence.

package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a qualitative source-credibility class, most to least trusted.
type Tier string

const (
	TierSelfAuthenticating    Tier = "SELF_AUTHENTICATING"
	TierGovernment            Tier = "GOVERNMENT"
	TierFinancialInstitution  Tier = "FINANCIAL_INSTITUTION"
	TierIndependentThirdParty Tier = "INDEPENDENT_THIRD_PARTY"
	TierBusinessRecords       Tier = "BUSINESS_RECORDS"
	TierFirstPartyAdverse     Tier = "FIRST_PARTY_ADVERSE"
	TierFirstPartyFriendly    Tier = "FIRST_PARTY_FRIENDLY"
	TierUncorroboratedPerson  Tier = "UNCORROBORATED_PERSON"
)

// tierOrder ranks tiers from most to least trusted. Lower index is more
// trusted; used by the contradiction engine's severity rule (§4.6).
var tierOrder = map[Tier]int{
	TierSelfAuthenticating:    0,
	TierGovernment:            1,
	TierFinancialInstitution:  2,
	TierIndependentThirdParty: 3,
	TierBusinessRecords:       4,
	TierFirstPartyAdverse:     5,
	TierFirstPartyFriendly:    6,
	TierUncorroboratedPerson:  7,
}

// Rank returns the tier's trust rank, lower is more trusted. Unknown tiers
// rank below every known tier.
func (t Tier) Rank() int {
	if r, ok := tierOrder[t]; ok {
		return r
	}
	return len(tierOrder)
}

// Valid reports whether t is one of the closed tier set.
func (t Tier) Valid() bool {
	_, ok := tierOrder[t]
	return ok
}

// WeightRange returns the [min, max] weight band associated with the tier
// per §4.5. Used by the trust checker as a non-fatal sanity check.
func (t Tier) WeightRange() (min, max float64) {
	switch t {
	case TierSelfAuthenticating:
		return 0.95, 1.00
	case TierGovernment:
		return 0.90, 0.99
	case TierFinancialInstitution:
		return 0.85, 0.95
	case TierIndependentThirdParty:
		return 0.80, 0.90
	case TierBusinessRecords:
		return 0.75, 0.85
	case TierFirstPartyAdverse:
		return 0.70, 0.80
	case TierFirstPartyFriendly:
		return 0.50, 0.70
	case TierUncorroboratedPerson:
		return 0.00, 0.50
	default:
		return 0, 0
	}
}

// Artifact is the atomic ledger entry: a piece of evidence, proposed or
// committed.
type Artifact struct {
	ID           string         `json:"id"`
	ContentHash  string         `json:"content_hash"` // hex SHA3-256, lower-case canonical
	Statement    string         `json:"statement"`
	Weight       float64        `json:"weight"` // in [0,1]
	Tier         Tier           `json:"tier"`
	Type         string         `json:"type"`
	CaseID       string         `json:"case_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Dependencies []string       `json:"dependencies,omitempty"` // artifact ids or content hashes
	Metadata     map[string]any `json:"metadata,omitempty"`

	// Contradiction-detection fields (§4.6). Optional; only meaningful when
	// Type == "DATE" or ValueType == "boolean".
	Subject     string     `json:"subject,omitempty"`
	EventType   string     `json:"event_type,omitempty"`
	ValueType   string     `json:"value_type,omitempty"`
	DateValue   *time.Time `json:"date_value,omitempty"`
	BoolValue   *bool      `json:"bool_value,omitempty"`
	Contradicts []string   `json:"contradicts,omitempty"` // explicit conflicting artifact ids

	// Policy/verification hints (§4.5).
	Verified             bool   `json:"verified,omitempty"`
	AuthenticationMethod string `json:"authentication_method,omitempty"`

	// Set at commit time; immutable thereafter.
	MintedBy   string     `json:"minted_by,omitempty"`
	MintedAt   *time.Time `json:"minted_at,omitempty"`
	BlockIndex *uint64    `json:"block_index,omitempty"`
}

// NewID generates an opaque unique artifact identifier.
func NewID() string {
	return uuid.NewString()
}

// Committed reports whether the artifact has been assigned a block.
func (a *Artifact) Committed() bool {
	return a.BlockIndex != nil
}

// IndexEntry is the value stored in Chain.index for a committed artifact's
// content hash: (block_index, artifact_id, tier, weight).
type IndexEntry struct {
	BlockIndex uint64
	ArtifactID string
	Tier       Tier
	Weight     float64
}
