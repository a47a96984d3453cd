// Copyright 2025 Certen Protocol
//
// Read-Only Query API - thin HTTP adapters over the chain (C2/C3) and
// validator (C4). Deliberately shallow: no write path lives here, since the
// minting pipeline is driven out-of-band (batch submission, consent, and
// recovery are operational concerns, not HTTP concerns).

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

// ChainHandlers provides HTTP handlers over a Chain.
type ChainHandlers struct {
	chain *chain.Chain
}

// NewChainHandlers constructs handlers backed by c.
func NewChainHandlers(c *chain.Chain) *ChainHandlers {
	return &ChainHandlers{chain: c}
}

// HandleLatest handles GET /chain/latest.
func (h *ChainHandlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	block := h.chain.Latest()

	if err := json.NewEncoder(w).Encode(block); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// HandleProof handles GET /artifact/{hash}/proof, where {hash} is the
// artifact's content hash.
func (h *ChainHandlers) HandleProof(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	contentHash := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/artifact/"), "/proof")
	if contentHash == "" {
		http.Error(w, `{"error":"missing artifact hash"}`, http.StatusBadRequest)
		return
	}

	entry, ok := h.chain.Index(contentHash)
	if !ok {
		http.Error(w, `{"error":"artifact not found"}`, http.StatusNotFound)
		return
	}

	block, ok := h.chain.BlockAt(entry.BlockIndex)
	if !ok {
		http.Error(w, `{"error":"block not found"}`, http.StatusInternalServerError)
		return
	}

	proof, ok := block.MerkleProof(entry.ArtifactID)
	if !ok {
		http.Error(w, `{"error":"failed to build inclusion proof"}`, http.StatusInternalServerError)
		return
	}

	resp := struct {
		ArtifactID  string       `json:"artifact_id"`
		ContentHash string       `json:"content_hash"`
		BlockIndex  uint64       `json:"block_index"`
		BlockHash   string       `json:"block_hash"`
		MerkleRoot  string       `json:"merkle_root"`
		Proof       interface{}  `json:"proof"`
	}{
		ArtifactID:  entry.ArtifactID,
		ContentHash: contentHash,
		BlockIndex:  entry.BlockIndex,
		BlockHash:   block.Hash,
		MerkleRoot:  block.MerkleRoot,
		Proof:       proof,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// HandleValidate handles GET /chain/validate, running a full C4 integrity
// check over the chain on demand.
func (h *ChainHandlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	report := h.chain.Validate()

	errStrings := make([]string, len(report.Errors))
	for i, e := range report.Errors {
		errStrings[i] = e.Error()
	}

	resp := struct {
		OK       bool     `json:"ok"`
		Errors   []string `json:"errors,omitempty"`
		Warnings []string `json:"warnings,omitempty"`
		Height   uint64   `json:"height"`
	}{
		OK:       report.OK,
		Errors:   errStrings,
		Warnings: report.Warnings,
		Height:   h.chain.Height(),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// HandleQuery handles GET /chain/query?case_id=&tier=&since=&until=, a thin
// adapter over Chain.Query.
func (h *ChainHandlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	q := r.URL.Query()
	p := chain.Predicate{
		CaseID: q.Get("case_id"),
		Tier:   ledger.Tier(q.Get("tier")),
		Type:   q.Get("type"),
		Text:   q.Get("text"),
	}
	if minWeight := q.Get("min_weight"); minWeight != "" {
		v, err := strconv.ParseFloat(minWeight, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid min_weight parameter"}`, http.StatusBadRequest)
			return
		}
		p.MinWeight = v
	}
	if sinceParam := q.Get("since"); sinceParam != "" {
		sec, err := strconv.ParseInt(sinceParam, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid since parameter, expected unix seconds"}`, http.StatusBadRequest)
			return
		}
		p.From = time.Unix(sec, 0).UTC()
	}
	if untilParam := q.Get("until"); untilParam != "" {
		sec, err := strconv.ParseInt(untilParam, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid until parameter, expected unix seconds"}`, http.StatusBadRequest)
			return
		}
		p.To = time.Unix(sec, 0).UTC()
	}

	result := h.chain.Query(p)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}
