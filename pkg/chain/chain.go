// Copyright 2025 Certen Protocol
//
// Chain — the totally ordered, append-only sequence of blocks plus the
// content-hash index. Per spec §4.3.

package chain

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/certen/evidence-ledger/pkg/hashutil"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

// Chain is the ordered sequence of blocks, the pending-artifact buffer, and
// the content-hash index. Reads (Query, BlockAt, MerkleProof) may proceed
// concurrently with each other but not with an in-progress Append — callers
// serialize commits with a single writer (the minting pipeline); Chain's own
// mutex enforces that at the data-structure level.
type Chain struct {
	mu         sync.RWMutex
	blocks     []*Block
	pending    []*ledger.Artifact
	index      map[string]ledger.IndexEntry // content_hash -> entry
	difficulty uint32

	// exportedAt caches the "exported" timestamp from the export this chain
	// was Import-ed from, so an immediate re-Export (before any Append)
	// reproduces byte-identical output per §8. Cleared on Append, since a
	// mutated chain is no longer the chain that timestamp described.
	exportedAt string
}

// New creates a chain with a genesis block (index 0) built by NewBlock and
// not mined (nonce 0). Genesis
// is built from fixed, always-valid inputs, so construction cannot fail.
func New(difficulty uint32) *Chain {
	genesisArtifact := &ledger.Artifact{
		ID:          GenesisArtifactID,
		ContentHash: strings.Repeat("0", 64),
		Statement:   "genesis",
		Tier:        ledger.TierSelfAuthenticating,
		Timestamp:   time.Unix(0, 0).UTC(),
	}

	genesis, err := NewBlock(0, time.Unix(0, 0).UTC(), strings.Repeat("0", 64), []*ledger.Artifact{genesisArtifact})
	if err != nil {
		panic(fmt.Sprintf("chain: genesis block construction failed: %v", err))
	}

	return &Chain{
		blocks:     []*Block{genesis},
		index:      make(map[string]ledger.IndexEntry),
		difficulty: difficulty,
	}
}

// Difficulty returns the chain's current mining difficulty.
func (c *Chain) Difficulty() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.difficulty
}

// SetDifficulty adjusts mining difficulty for subsequent blocks.
func (c *Chain) SetDifficulty(d uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.difficulty = d
}

// Latest returns the most recently appended block.
func (c *Chain) Latest() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Height returns the index of the latest block.
func (c *Chain) Height() uint64 {
	return c.Latest().Index
}

// BlockAt returns the block at the given index, if any.
func (c *Chain) BlockAt(index uint64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= uint64(len(c.blocks)) {
		return nil, false
	}
	return c.blocks[index], true
}

// BlockByHash returns the block with the given hash, if any.
func (c *Chain) BlockByHash(hash string) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.blocks {
		if b.Hash == hash {
			return b, true
		}
	}
	return nil, false
}

// Blocks returns a snapshot copy of the block slice.
func (c *Chain) Blocks() []*Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Index returns the index entry for a content hash, if committed.
func (c *Chain) Index(contentHash string) (ledger.IndexEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.index[contentHash]
	return e, ok
}

// Committed reports whether contentHash is already indexed.
func (c *Chain) Committed(contentHash string) bool {
	_, ok := c.Index(contentHash)
	return ok
}

// FindArtifact looks up a committed artifact by id across all blocks.
func (c *Chain) FindArtifact(artifactID string) (*ledger.Artifact, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.blocks {
		for _, a := range b.Artifacts {
			if a.ID == artifactID {
				return a, b.Index, true
			}
		}
	}
	return nil, 0, false
}

// ArtifactsByCase returns every committed artifact sharing the given case
// id, used by the contradiction engine (§4.6).
func (c *Chain) ArtifactsByCase(caseID string) []*ledger.Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*ledger.Artifact
	for _, b := range c.blocks {
		for _, a := range b.Artifacts {
			if a.CaseID == caseID {
				out = append(out, a)
			}
		}
	}
	return out
}

// Append accepts block only if its PreviousHash matches Latest().Hash and it
// passes structural validation; updates the index for every artifact.
// Either the whole block lands and the index updates, or neither happens.
func (c *Chain) Append(block *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest := c.blocks[len(c.blocks)-1]
	if block.Index == 0 {
		return ledger.ErrInvalidGenesis
	}
	if block.PreviousHash != latest.Hash {
		return ledger.ErrChainBroken
	}
	if block.Timestamp.Before(latest.Timestamp) {
		return &ledger.ValidationError{BlockIndex: &block.Index, Reason: "timestamp regresses before previous block"}
	}

	if errs, _ := block.Validate(time.Now()); len(errs) > 0 {
		return errs[0]
	}

	for _, a := range block.Artifacts {
		if _, exists := c.index[a.ContentHash]; exists {
			return &ledger.DuplicateArtifact{ContentHash: a.ContentHash}
		}
	}

	// All checks passed: commit atomically.
	for _, a := range block.Artifacts {
		c.index[a.ContentHash] = ledger.IndexEntry{
			BlockIndex: block.Index,
			ArtifactID: a.ID,
			Tier:       a.Tier,
			Weight:     a.Weight,
		}
	}
	c.blocks = append(c.blocks, block)
	c.exportedAt = ""
	return nil
}

// TakePending atomically drains and returns the pending-artifact buffer.
// Mutated only from the minting pipeline's entry point.
func (c *Chain) TakePending() []*ledger.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// SetPending replaces the pending-artifact buffer (used when a batch is
// rejected and the caller wants to inspect it, or for proposal staging).
func (c *Chain) SetPending(artifacts []*ledger.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = artifacts
}

// Predicate filters (block_index, artifact) pairs for Query.
type Predicate struct {
	CaseID    string
	Tier      ledger.Tier
	Type      string
	MinWeight float64
	From, To  time.Time // zero value means unbounded
	Text      string    // case-insensitive substring over statement and metadata
}

// QueryResult pairs a committed artifact with the block that holds it.
type QueryResult struct {
	BlockIndex uint64
	Artifact   *ledger.Artifact
}

// Query scans committed blocks for artifacts matching every non-zero field
// of p.
func (c *Chain) Query(p Predicate) []QueryResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []QueryResult
	for _, b := range c.blocks {
		for _, a := range b.Artifacts {
			if a.ID == GenesisArtifactID {
				continue
			}
			if !matches(a, p) {
				continue
			}
			out = append(out, QueryResult{BlockIndex: b.Index, Artifact: a})
		}
	}
	return out
}

// Range selects a contiguous, inclusive span of block indices for Export.
// The zero Range (From == To == 0) selects the entire chain.
type Range struct {
	From, To uint64
}

// ExportMetadata is the §6 export envelope's summary block. Difficulty rides
// alongside chain_height/total_artifacts as a sibling field rather than
// replacing the envelope the spec mandates.
type ExportMetadata struct {
	ChainHeight    uint64 `json:"chain_height"`
	TotalArtifacts int    `json:"total_artifacts"`
	Difficulty     uint32 `json:"difficulty"`
}

// BlockExport is one block in the §6 wire format. Artifacts is omitted
// (rather than emitted empty) in the summary export form.
type BlockExport struct {
	Index         uint64             `json:"index"`
	Hash          string             `json:"hash"`
	PreviousHash  string             `json:"previous_hash"`
	Timestamp     time.Time          `json:"timestamp"`
	Nonce         uint64             `json:"nonce"`
	MerkleRoot    string             `json:"merkle_root"`
	ArtifactCount int                `json:"artifact_count"`
	Artifacts     []*ledger.Artifact `json:"artifacts,omitempty"`
}

// ChainExport is the §6 wire format produced by Export and consumed by
// Import.
type ChainExport struct {
	Version  string         `json:"version"`
	Exported string         `json:"exported"`
	Metadata ExportMetadata `json:"metadata"`
	Blocks   []BlockExport  `json:"blocks"`
}

// BlocksToExport converts a raw block slice into its §6 exported
// representation (always full form — artifacts included). Used by the
// recovery service to re-import a repaired-in-place block slice without
// first wrapping it in a live Chain.
func BlocksToExport(blocks []*Block) []BlockExport {
	out := make([]BlockExport, len(blocks))
	for i, b := range blocks {
		out[i] = BlockExport{
			Index:         b.Index,
			Hash:          b.Hash,
			PreviousHash:  b.PreviousHash,
			Timestamp:     b.Timestamp,
			Nonce:         b.Nonce,
			MerkleRoot:    b.MerkleRoot,
			ArtifactCount: len(b.Artifacts),
			Artifacts:     b.Artifacts,
		}
	}
	return out
}

// CanonicalBlocksHash returns H(canonical(blocks)) per §4.1 — a
// JSON-independent digest over an exported block sequence, used by the
// recovery service to checksum backups. It must never hash marshaled JSON
// bytes directly: map key order, whitespace, and number formatting are not
// guaranteed stable across encodings, and Merkle-style checksums built on
// such bytes stop round-tripping the moment two implementations disagree on
// encoding.
func CanonicalBlocksHash(blocks []BlockExport) string {
	seq := make(hashutil.Seq, len(blocks))
	for i, b := range blocks {
		seq[i] = hashutil.Map{
			"index":          hashutil.Int(int64(b.Index)),
			"hash":           hashutil.String(b.Hash),
			"previous_hash":  hashutil.String(b.PreviousHash),
			"timestamp":      hashutil.Int(b.Timestamp.UnixNano()),
			"nonce":          hashutil.Int(int64(b.Nonce)),
			"merkle_root":    hashutil.String(b.MerkleRoot),
			"artifact_count": hashutil.Int(int64(b.ArtifactCount)),
		}
	}
	return hashutil.HashCanonical(seq)
}

// Export serializes r (inclusive block-index range; the zero Range selects
// the whole chain) to the §6 wire format. summary omits each block's
// artifacts, keeping only per-block artifact_count — the "summary form" §6
// describes for lightweight transfer. A round trip of Export then Import
// then Export (full form, same range, no intervening Append) reproduces
// byte-identical output.
func (c *Chain) Export(r Range, summary bool) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	height := c.blocks[len(c.blocks)-1].Index
	from, to := r.From, r.To
	if from == 0 && to == 0 {
		to = height
	}
	if to > height {
		to = height
	}
	if from > to {
		return nil, fmt.Errorf("chain: export range [%d,%d] is empty", from, to)
	}

	totalArtifacts := 0
	blocks := make([]BlockExport, 0, to-from+1)
	for _, b := range c.blocks[from : to+1] {
		be := BlockExport{
			Index:         b.Index,
			Hash:          b.Hash,
			PreviousHash:  b.PreviousHash,
			Timestamp:     b.Timestamp,
			Nonce:         b.Nonce,
			MerkleRoot:    b.MerkleRoot,
			ArtifactCount: len(b.Artifacts),
		}
		if !summary {
			be.Artifacts = b.Artifacts
		}
		blocks = append(blocks, be)
		totalArtifacts += len(b.Artifacts)
	}

	exportedAt := c.exportedAt
	if exportedAt == "" {
		exportedAt = time.Now().UTC().Format(time.RFC3339)
	}

	out := ChainExport{
		Version:  "2",
		Exported: exportedAt,
		Metadata: ExportMetadata{
			ChainHeight:    height,
			TotalArtifacts: totalArtifacts,
			Difficulty:     c.difficulty,
		},
		Blocks: blocks,
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, &ledger.StorageError{Path: "<export>", Cause: err}
	}
	return b, nil
}

// Import rebuilds a Chain from §6-exported bytes, re-validating every
// block's hash, Merkle root, and link to its predecessor. The summary export
// form cannot be imported — with artifacts omitted there is nothing to
// rebuild the Merkle tree from — and is rejected explicitly rather than
// failing with a confusing integrity mismatch. The imported chain is
// rejected wholesale (returns an error, not a partial chain) if any block
// fails validation.
func Import(data []byte) (*Chain, error) {
	var in ChainExport
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, &ledger.StorageError{Path: "<import>", Cause: err}
	}
	if len(in.Blocks) == 0 {
		return nil, ledger.ErrEmptyChain
	}
	for _, be := range in.Blocks {
		if be.Artifacts == nil && be.ArtifactCount > 0 {
			return nil, fmt.Errorf("chain: cannot import a summary export (block %d omits artifacts)", be.Index)
		}
	}

	blocks := make([]*Block, len(in.Blocks))
	for i, be := range in.Blocks {
		blocks[i] = &Block{
			Index:        be.Index,
			Timestamp:    be.Timestamp,
			PreviousHash: be.PreviousHash,
			Nonce:        be.Nonce,
			MerkleRoot:   be.MerkleRoot,
			Hash:         be.Hash,
			Artifacts:    be.Artifacts,
		}
	}

	c := &Chain{
		blocks:     []*Block{blocks[0]},
		index:      make(map[string]ledger.IndexEntry),
		difficulty: in.Metadata.Difficulty,
		exportedAt: in.Exported,
	}

	now := time.Now()
	if errs, _ := blocks[0].Validate(now); len(errs) > 0 {
		return nil, errs[0]
	}

	for _, b := range blocks[1:] {
		if err := c.Append(b); err != nil {
			return nil, err
		}
	}
	c.exportedAt = in.Exported
	return c, nil
}

func matches(a *ledger.Artifact, p Predicate) bool {
	if p.CaseID != "" && a.CaseID != p.CaseID {
		return false
	}
	if p.Tier != "" && a.Tier != p.Tier {
		return false
	}
	if p.Type != "" && a.Type != p.Type {
		return false
	}
	if p.MinWeight > 0 && a.Weight < p.MinWeight {
		return false
	}
	if !p.From.IsZero() && a.Timestamp.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && a.Timestamp.After(p.To) {
		return false
	}
	if p.Text != "" {
		needle := strings.ToLower(p.Text)
		haystack := strings.ToLower(a.Statement)
		found := strings.Contains(haystack, needle)
		if !found {
			for k, v := range a.Metadata {
				if strings.Contains(strings.ToLower(k), needle) || strings.Contains(strings.ToLower(fmt.Sprint(v)), needle) {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
