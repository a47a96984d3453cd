// Copyright 2025 Certen Protocol
//
// Block — an ordered, Merkle-rooted, proof-of-work-mined container of
// artifacts, linked to its predecessor. Per spec §4.2.

package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/certen/evidence-ledger/pkg/hashutil"
	"github.com/certen/evidence-ledger/pkg/ledger"
	"github.com/certen/evidence-ledger/pkg/merkle"
)

// GenesisArtifactID is the id of the single synthetic artifact that occupies
// block 0.
const GenesisArtifactID = "GENESIS"

// BlockMetadata carries mining and provenance details that don't affect the
// block's hash.
type BlockMetadata struct {
	Difficulty     uint32        `json:"difficulty"`
	MiningDuration time.Duration `json:"mining_duration"`
	Miner          string        `json:"miner,omitempty"`
	SerializedSize int           `json:"serialized_size"`
}

// Block is an ordered container of artifacts.
type Block struct {
	Index        uint64            `json:"index"`
	Timestamp    time.Time         `json:"timestamp"`
	PreviousHash string            `json:"previous_hash"`
	Nonce        uint64            `json:"nonce"`
	MerkleRoot   string            `json:"merkle_root"`
	Hash         string            `json:"hash"`
	Artifacts    []*ledger.Artifact `json:"artifacts"`
	Metadata     BlockMetadata     `json:"metadata"`
}

// NewBlock constructs a block, computing its Merkle root and initial hash
// (nonce 0).
func NewBlock(index uint64, timestamp time.Time, previousHash string, artifacts []*ledger.Artifact) (*Block, error) {
	tree, err := merkle.BuildTree(artifacts)
	if err != nil {
		return nil, err
	}

	b := &Block{
		Index:        index,
		Timestamp:    timestamp,
		PreviousHash: previousHash,
		Nonce:        0,
		MerkleRoot:   tree.RootHex(),
		Artifacts:    artifacts,
	}
	b.Hash = b.computeHash()
	b.Metadata.SerializedSize = len(canonicalBlockBytes(b))
	return b, nil
}

// computeHash returns H(index ‖ previous_hash ‖ timestamp ‖ canonical(artifacts) ‖ nonce ‖ merkle_root).
func (b *Block) computeHash() string {
	return hashutil.HexSum(canonicalBlockBytes(b))
}

func canonicalBlockBytes(b *Block) []byte {
	artifactSeq := make(hashutil.Seq, len(b.Artifacts))
	for i, a := range b.Artifacts {
		artifactSeq[i] = hashutil.Map{
			"id":           hashutil.String(a.ID),
			"content_hash": hashutil.String(a.ContentHash),
			"weight":       hashutil.Float(a.Weight),
			"timestamp":    hashutil.Int(a.Timestamp.UnixNano()),
			"case_id":      hashutil.String(a.CaseID),
		}
	}

	v := hashutil.Seq{
		hashutil.Int(int64(b.Index)),
		hashutil.String(b.PreviousHash),
		hashutil.Int(b.Timestamp.UnixNano()),
		artifactSeq,
		hashutil.Int(int64(b.Nonce)),
		hashutil.String(b.MerkleRoot),
	}
	return hashutil.Canonical(v)
}

// Mine increments Nonce until Hash begins with `difficulty` hex zero
// characters, or ctx is cancelled. Deterministic given inputs; starting
// nonce is 0. Records MiningDuration on success.
func (b *Block) Mine(ctx context.Context, difficulty uint32) error {
	start := time.Now()
	prefix := strings.Repeat("0", int(difficulty))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b.Hash = b.computeHash()
		if strings.HasPrefix(b.Hash, prefix) {
			b.Metadata.Difficulty = difficulty
			b.Metadata.MiningDuration = time.Since(start)
			return nil
		}
		b.Nonce++
	}
}

// Validate checks structural fields, recomputes Hash and MerkleRoot, and
// flags stale or future timestamps. Returns (errors, warnings); neither
// mutates the block.
func (b *Block) Validate(now time.Time) (errs []error, warnings []string) {
	if b.Timestamp.After(now) {
		errs = append(errs, &ledger.ValidationError{BlockIndex: &b.Index, Reason: "timestamp is in the future"})
	} else if now.Sub(b.Timestamp) > merkle.StaleAfter {
		warnings = append(warnings, fmt.Sprintf("block %d timestamp is older than one hour", b.Index))
	}

	if b.Index > 0 && len(b.Artifacts) == 0 {
		errs = append(errs, &ledger.ValidationError{BlockIndex: &b.Index, Reason: "non-genesis block has no artifacts"})
	}

	tree, err := merkle.BuildTree(b.Artifacts)
	if err != nil {
		errs = append(errs, &ledger.ValidationError{BlockIndex: &b.Index, Reason: "failed to rebuild merkle tree: " + err.Error()})
		return errs, warnings
	}
	if tree.RootHex() != b.MerkleRoot {
		errs = append(errs, &ledger.ChainIntegrityError{Kind: ledger.IntegrityMerkleMismatch, BlockIndex: b.Index})
	}

	if b.computeHash() != b.Hash {
		errs = append(errs, &ledger.ChainIntegrityError{Kind: ledger.IntegrityHashMismatch, BlockIndex: b.Index})
	}

	for _, a := range b.Artifacts {
		if a.ID == GenesisArtifactID {
			continue
		}
		if a.ContentHash == "" {
			errs = append(errs, &ledger.ValidationError{BlockIndex: &b.Index, ArtifactID: a.ID, Reason: "missing content hash"})
		}
		if a.Weight < 0 || a.Weight > 1 {
			errs = append(errs, &ledger.ValidationError{BlockIndex: &b.Index, ArtifactID: a.ID, Reason: "weight out of range [0,1]"})
		}
		if !a.Tier.Valid() {
			errs = append(errs, &ledger.ValidationError{BlockIndex: &b.Index, ArtifactID: a.ID, Reason: "invalid tier"})
		}
		if a.Timestamp.IsZero() {
			warnings = append(warnings, fmt.Sprintf("artifact %s is missing a timestamp", a.ID))
		}
	}

	return errs, warnings
}

// RecomputeMerkleRoot rebuilds MerkleRoot from the block's current
// Artifacts. Used only by the recovery service's repair path.
func (b *Block) RecomputeMerkleRoot() {
	tree, err := merkle.BuildTree(b.Artifacts)
	if err != nil {
		return
	}
	b.MerkleRoot = tree.RootHex()
}

// RecomputeHash rebuilds Hash from the block's current fields. Used only by
// the recovery service's repair path; callers must update PreviousHash and
// MerkleRoot first.
func (b *Block) RecomputeHash() {
	b.Hash = b.computeHash()
}

// MerkleProof returns an inclusion proof for the named artifact, or
// (nil, false) if it isn't in this block.
func (b *Block) MerkleProof(artifactID string) (*merkle.Proof, bool) {
	tree, err := merkle.BuildTree(b.Artifacts)
	if err != nil {
		return nil, false
	}
	proof, err := tree.GenerateProof(b.Hash, artifactID)
	if err != nil {
		return nil, false
	}
	return proof, true
}

// VerifyProof is a pure, stateless check that proof demonstrates artifact's
// inclusion under expectedRoot. It does not consult block state.
func VerifyProof(artifact *ledger.Artifact, proof *merkle.Proof, expectedRoot string) bool {
	return merkle.VerifyProof(merkle.LeafHash(artifact), proof, expectedRoot)
}
