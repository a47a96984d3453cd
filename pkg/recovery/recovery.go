// Copyright 2025 Certen Protocol
//
// Recovery Service - Classify-and-Heal Corruption
// validate_chain -> classify errors -> act. Recovery is always explicit: the
// minting pipeline never silently repairs the chain: a caller must invoke a
// named strategy here.

package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

// Strategy names an orchestrated recovery approach.
type Strategy string

const (
	// Safe only re-hashes and fixes forward links; never truncates.
	Safe Strategy = "safe"
	// Aggressive is Safe plus suffix truncation of unrecoverable blocks.
	Aggressive Strategy = "aggressive"
	// Rebuild runs the Safe and Aggressive passes; if they leave the chain
	// invalid, Recover returns a RecoveryError and rebuilds nothing itself.
	// Service.Rebuild extracts artifacts into batches of <= 10 and mints none.
	Rebuild Strategy = "rebuild"
)

// ErrorClass categorizes a validator finding for the classify-and-heal step.
type ErrorClass string

const (
	ClassCorruption     ErrorClass = "CORRUPTION"
	ClassMissingBlock   ErrorClass = "MISSING_BLOCK"
	ClassHashMismatch   ErrorClass = "HASH_MISMATCH"
	ClassInvalidArtifact ErrorClass = "INVALID_ARTIFACT"
	ClassStorageError   ErrorClass = "STORAGE_ERROR"
)

// Finding is one classified validator error, ready for Act.
type Finding struct {
	Class      ErrorClass
	BlockIndex uint64
	Detail     string
}

// Outcome reports what Recover actually did.
type Outcome struct {
	Strategy     Strategy
	Repaired     []uint64
	Truncated    []uint64
	Rebuilt      bool
	RestoredFrom string
	OK           bool
	Chain        *chain.Chain // the healed chain, when OK
}

// Service orchestrates backup, restore, and chain repair.
type Service struct {
	store  BackupStore
	logger *log.Logger
}

// New constructs a recovery Service backed by store.
func New(store BackupStore, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[Recovery] ", log.LstdFlags)
	}
	return &Service{store: store, logger: logger}
}

// backupFile is the §6 backup wire format.
type backupFile struct {
	Version   string              `json:"version"`
	Timestamp string              `json:"timestamp"`
	Metadata  backupMetadata      `json:"metadata"`
	Chain     []chain.BlockExport `json:"chain"`
}

type backupMetadata struct {
	BlockCount    int    `json:"block_count"`
	ArtifactCount int    `json:"artifact_count"`
	Checksum      string `json:"checksum"`
}

// Backup exports c and writes it to the store under a UTC-timestamped
// filename to avoid collisions between concurrent backup jobs. The checksum
// is H(canonical(blocks)) (§4.1/§6) — computed over the exported block
// sequence's canonical byte encoding, never over the backup's own
// JSON-marshaled bytes, so a conforming reader on any implementation
// recomputes the same digest regardless of its JSON encoder's formatting.
func (s *Service) Backup(ctx context.Context, c *chain.Chain) (string, error) {
	exported, err := c.Export(chain.Range{}, false)
	if err != nil {
		return "", fmt.Errorf("recovery: export chain: %w", err)
	}
	var ce chain.ChainExport
	if err := json.Unmarshal(exported, &ce); err != nil {
		return "", fmt.Errorf("recovery: decode export: %w", err)
	}

	checksum := chain.CanonicalBlocksHash(ce.Blocks)
	file := backupFile{
		Version:   "2",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  backupMetadata{BlockCount: len(ce.Blocks), ArtifactCount: ce.Metadata.TotalArtifacts, Checksum: checksum},
		Chain:     ce.Blocks,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", fmt.Errorf("recovery: marshal backup: %w", err)
	}

	path := fmt.Sprintf("backup-%s.json", time.Now().UTC().Format("20060102T150405.000000000"))
	if err := s.store.Write(ctx, path, data); err != nil {
		return "", &ledger.StorageError{Path: path, Cause: err}
	}
	s.logger.Printf("wrote backup %s (%d blocks, %d artifacts)", path, len(ce.Blocks), ce.Metadata.TotalArtifacts)
	return path, nil
}

// Restore reads the backup at path, verifies its canonical-blocks checksum,
// and imports it as a fresh Chain.
func (s *Service) Restore(ctx context.Context, path string) (*chain.Chain, error) {
	data, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, &ledger.StorageError{Path: path, Cause: err}
	}

	var file backupFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &ledger.RecoveryError{Kind: "restore", Detail: "malformed backup file: " + err.Error()}
	}

	if chain.CanonicalBlocksHash(file.Chain) != file.Metadata.Checksum {
		return nil, &ledger.RecoveryError{Kind: "restore", Detail: "checksum mismatch: backup is corrupt or tampered"}
	}

	exportBytes, err := json.Marshal(chain.ChainExport{Version: file.Version, Blocks: file.Chain})
	if err != nil {
		return nil, &ledger.RecoveryError{Kind: "restore", Detail: "re-encode failed: " + err.Error()}
	}
	c, err := chain.Import(exportBytes)
	if err != nil {
		return nil, &ledger.RecoveryError{Kind: "restore", Detail: "import failed: " + err.Error()}
	}
	s.logger.Printf("restored chain from %s (%d blocks)", path, file.Metadata.BlockCount)
	return c, nil
}

// LatestBackup returns the path of the most recent backup, if any.
func (s *Service) LatestBackup(ctx context.Context) (string, bool, error) {
	paths, err := s.store.ListPrefix(ctx, "backup-")
	if err != nil {
		return "", false, &ledger.StorageError{Path: "backup-*", Cause: err}
	}
	if len(paths) == 0 {
		return "", false, nil
	}
	return paths[0], true, nil
}

// Classify converts a validator Report into a list of actionable Findings.
func Classify(rep chain.Report) []Finding {
	var findings []Finding
	for _, err := range rep.Errors {
		switch e := err.(type) {
		case *ledger.ChainIntegrityError:
			switch e.Kind {
			case ledger.IntegrityMerkleMismatch, ledger.IntegrityHashMismatch:
				findings = append(findings, Finding{Class: ClassCorruption, BlockIndex: e.BlockIndex, Detail: string(e.Kind)})
			case ledger.IntegrityBrokenLink:
				findings = append(findings, Finding{Class: ClassMissingBlock, BlockIndex: e.BlockIndex, Detail: string(e.Kind)})
			}
		case *ledger.ValidationError:
			idx := uint64(0)
			if e.BlockIndex != nil {
				idx = *e.BlockIndex
			}
			findings = append(findings, Finding{Class: ClassInvalidArtifact, BlockIndex: idx, Detail: e.Reason})
		case *ledger.StorageError:
			findings = append(findings, Finding{Class: ClassStorageError, Detail: e.Error()})
		}
	}
	return findings
}

// RepairBlock recomputes block i's merkle root, links it to blocks[i-1], and
// recomputes its hash, propagating the new hash forward to blocks[i+1]. Only
// valid if i is the last block, or every block after i is also being
// repaired in the same pass (otherwise this would silently rewrite history).
func RepairBlock(blocks []*chain.Block, i int) error {
	if i < 0 || i >= len(blocks) {
		return fmt.Errorf("recovery: block index %d out of range", i)
	}
	if i > 0 {
		blocks[i].PreviousHash = blocks[i-1].Hash
	}
	blocks[i].RecomputeMerkleRoot()
	blocks[i].RecomputeHash()
	if i+1 < len(blocks) {
		blocks[i+1].PreviousHash = blocks[i].Hash
	}
	return nil
}

// RemoveCorrupted truncates the chain's block slice starting at the lowest
// index present in bad. Interior removal is rejected: only a suffix
// truncation is permitted, since removing an interior block would rewrite
// history.
func RemoveCorrupted(blocks []*chain.Block, bad []uint64) ([]*chain.Block, error) {
	if len(bad) == 0 {
		return blocks, nil
	}
	lowest := bad[0]
	for _, b := range bad[1:] {
		if b < lowest {
			lowest = b
		}
	}
	if lowest == 0 {
		return nil, fmt.Errorf("recovery: cannot truncate genesis block")
	}
	if int(lowest) >= len(blocks) {
		return blocks, nil
	}
	return blocks[:lowest], nil
}

// Recover runs validate_chain, classifies the findings, and applies the
// named strategy. Safe only repairs, and only a corruption in the last
// block; Aggressive repairs then truncates the chain from the lowest block
// with a finding; Rebuild runs both passes and, if they fail, returns a
// RecoveryError. Recover never re-mints artifacts or creates a fresh chain
// from them; Service.Rebuild only extracts and batches them.
func (s *Service) Recover(ctx context.Context, c *chain.Chain, strategy Strategy) (Outcome, error) {
	rep := c.Validate()
	if rep.OK {
		return Outcome{Strategy: strategy, OK: true}, nil
	}

	findings := Classify(rep)
	blocks := c.Blocks()
	out := Outcome{Strategy: strategy}

	for _, f := range findings {
		switch f.Class {
		case ClassCorruption, ClassHashMismatch:
			if isLastOrContiguousTail(blocks, int(f.BlockIndex)) {
				if err := RepairBlock(blocks, int(f.BlockIndex)); err == nil {
					out.Repaired = append(out.Repaired, f.BlockIndex)
				}
			}
		}
	}

	rebuilt, err := chain.Import(mustExportBlocks(blocks))
	if err == nil {
		s.logger.Printf("repair pass recovered %d block(s)", len(out.Repaired))
		out.OK = rebuilt.Validate().OK
		if out.OK {
			out.Chain = rebuilt
			return out, nil
		}
	}

	if strategy == Safe {
		return out, &ledger.RecoveryError{Kind: "safe", Detail: "repair insufficient; aggressive or rebuild required"}
	}

	var bad []uint64
	for _, f := range findings {
		bad = append(bad, f.BlockIndex)
	}
	truncated, err := RemoveCorrupted(blocks, bad)
	if err != nil {
		return out, &ledger.RecoveryError{Kind: "aggressive", Detail: err.Error()}
	}
	out.Truncated = bad

	rebuiltChain, err := chain.Import(mustExportBlocks(truncated))
	if err == nil && rebuiltChain.Validate().OK {
		out.OK = true
		out.Chain = rebuiltChain
		return out, nil
	}

	if strategy == Aggressive {
		return out, &ledger.RecoveryError{Kind: "aggressive", Detail: "truncation insufficient; rebuild required"}
	}

	return out, &ledger.RecoveryError{Kind: "rebuild", Detail: "call Rebuild explicitly with a minter; rebuild is terminal and destructive"}
}

// RebuildBatchSize is the maximum number of artifacts in each batch that
// Rebuild returns.
const RebuildBatchSize = 10

// Rebuild applies extract to c and splits the artifacts it returns, in
// order, into batches of at most RebuildBatchSize. It creates no chain and
// mints nothing; which artifacts are taken (for example whether the genesis
// artifact is skipped) is decided by extract. Callers must invoke this
// explicitly, never automatically.
func (s *Service) Rebuild(ctx context.Context, c *chain.Chain, extract func(*chain.Chain) []*ledger.Artifact) ([]*ledger.Artifact, [][]*ledger.Artifact, error) {
	artifacts := extract(c)

	var batches [][]*ledger.Artifact
	for i := 0; i < len(artifacts); i += RebuildBatchSize {
		end := i + RebuildBatchSize
		if end > len(artifacts) {
			end = len(artifacts)
		}
		batches = append(batches, artifacts[i:end])
	}

	s.logger.Printf("rebuild: extracted %d artifact(s) into %d batch(es)", len(artifacts), len(batches))
	return artifacts, batches, nil
}

// isLastOrContiguousTail reports whether i is the last block. A run of
// several findings at the end of the chain is not treated as a tail, so
// Recover repairs a corruption only when it is in the final block.
func isLastOrContiguousTail(blocks []*chain.Block, i int) bool {
	return i == len(blocks)-1
}

func mustExportBlocks(blocks []*chain.Block) []byte {
	data, _ := json.Marshal(chain.ChainExport{
		Version: "2",
		Blocks:  chain.BlocksToExport(blocks),
	})
	return data
}
