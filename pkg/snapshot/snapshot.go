// Copyright 2025 Certen Protocol
//
// Snapshot Service - Verify-Without-Commit Reports with Fast-Track Tokens
// verify_only runs C8 alone (no dependency resolution, contradiction check,
// or consent) and freezes the result into a cryptographically bound,
// 24h-expiring report that can later fast-track a commit.

package snapshot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/certen/evidence-ledger/pkg/hashutil"
	"github.com/certen/evidence-ledger/pkg/ledger"
	"github.com/certen/evidence-ledger/pkg/mint"
	"github.com/certen/evidence-ledger/pkg/trust"
)

// validity is how long a Report remains usable for fast-track commit.
const validity = 24 * time.Hour

// ArtifactResult is one artifact's frozen verdict within a Report.
type ArtifactResult struct {
	ArtifactID       string
	ContentHash      string
	Status           trust.Verdict
	TrustScore       float64
	VerificationHash string // H(canonical({id, content_hash, status, trust_score}))
}

// Report is a frozen, time-bounded verification record.
type Report struct {
	ReportID        string
	CreatedAt       time.Time
	VerificationLevel trust.Level
	Artifacts       []ArtifactResult
	ReportHash      string // H(canonical(report minus report_hash and fast_track_token))
	FastTrackToken  string // random 128-bit hex value bound to this report, or "" if not requested
	batch           []*ledger.Artifact
}

// Expired reports whether now is past the report's 24h validity window.
func (r *Report) Expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > validity
}

// Service runs verify-only checks and fast-tracks commits from their reports.
type Service struct {
	checker  *trust.Checker
	pipeline *mint.Pipeline
	reports  map[string]*Report
}

// New constructs a snapshot Service. pipeline is used only by
// CommitFromSnapshot, to delegate the actual mint once a snapshot is
// accepted; verify_only itself never touches the chain.
func New(pipeline *mint.Pipeline) *Service {
	return &Service{checker: trust.New(), pipeline: pipeline, reports: make(map[string]*Report)}
}

// VerifyOnly runs C8 over artifacts at level and freezes a Report, with an
// optional fast-track token if withToken is true.
func (s *Service) VerifyOnly(ctx context.Context, artifacts []*ledger.Artifact, level trust.Level, withToken bool) (*Report, error) {
	tr := s.checker.Verify(ctx, artifacts, level)

	rep := &Report{
		ReportID:          ledger.NewID(),
		CreatedAt:         time.Now(),
		VerificationLevel: level,
		batch:             artifacts,
	}
	for _, ar := range tr.Artifacts {
		var contentHash string
		for _, a := range artifacts {
			if a.ID == ar.ArtifactID {
				contentHash = a.ContentHash
				break
			}
		}
		result := ArtifactResult{
			ArtifactID:  ar.ArtifactID,
			ContentHash: contentHash,
			Status:      ar.Verdict,
			TrustScore:  ar.TrustScore,
		}
		result.VerificationHash = hashutil.HashCanonical(hashutil.Map{
			"id":           hashutil.String(result.ArtifactID),
			"content_hash": hashutil.String(result.ContentHash),
			"status":       hashutil.String(string(result.Status)),
			"trust_score":  hashutil.Float(result.TrustScore),
		})
		rep.Artifacts = append(rep.Artifacts, result)
	}

	rep.ReportHash = reportHash(rep)

	if withToken {
		token, err := randomToken()
		if err != nil {
			return nil, fmt.Errorf("snapshot: generate fast-track token: %w", err)
		}
		rep.FastTrackToken = token
	}

	s.reports[rep.ReportID] = rep
	return rep, nil
}

func reportHash(rep *Report) string {
	artifactSeq := make(hashutil.Seq, len(rep.Artifacts))
	for i, a := range rep.Artifacts {
		artifactSeq[i] = hashutil.Map{
			"id":                hashutil.String(a.ArtifactID),
			"content_hash":      hashutil.String(a.ContentHash),
			"status":            hashutil.String(string(a.Status)),
			"verification_hash": hashutil.String(a.VerificationHash),
		}
	}
	return hashutil.HashCanonical(hashutil.Map{
		"report_id": hashutil.String(rep.ReportID),
		"created_at": hashutil.Int(rep.CreatedAt.UnixNano()),
		"level":      hashutil.String(string(rep.VerificationLevel)),
		"artifacts":  artifactSeq,
	})
}

func randomToken() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Lookup returns a previously issued report by id.
func (s *Service) Lookup(reportID string) (*Report, bool) {
	r, ok := s.reports[reportID]
	return r, ok
}

// CommitFromSnapshot fast-tracks a commit from a previously issued,
// unexpired report: rejects if any artifact's status is failed, otherwise
// delegates to the minting pipeline with C8 skipped entirely — the
// snapshot's frozen verdicts are replayed as the pipeline's verification
// report rather than re-run.
func (s *Service) CommitFromSnapshot(ctx context.Context, reportID string, requireConsent bool) (*mint.MintResult, error) {
	rep, ok := s.reports[reportID]
	if !ok {
		return nil, &ledger.SnapshotInvalid{ReportID: reportID, Reason: "unknown report"}
	}
	if rep.Expired(time.Now()) {
		return nil, &ledger.SnapshotExpired{ReportID: reportID}
	}
	for _, a := range rep.Artifacts {
		if a.Status == trust.VerdictFailed {
			return nil, &ledger.SnapshotInvalid{ReportID: reportID, Reason: "artifact " + a.ArtifactID + " failed verification"}
		}
	}

	opts := mint.DefaultOptions()
	opts.RequireConsent = requireConsent
	opts.PrecomputedVerification = replayVerification(rep)

	return s.pipeline.Submit(ctx, rep.batch, opts)
}

// replayVerification turns a frozen Report back into the trust.Report shape
// Submit expects, so a fast-tracked commit never re-runs C8 against the
// batch — the snapshot's verdicts stand in for it unchanged. AutoApprove
// follows the checker's rule: no failed verdict and a mean trust score of at
// least 0.95.
func replayVerification(rep *Report) *trust.Report {
	tr := &trust.Report{Level: rep.VerificationLevel, CreatedAt: rep.CreatedAt}
	sum, failed := 0.0, false
	for _, a := range rep.Artifacts {
		tr.Artifacts = append(tr.Artifacts, trust.ArtifactReport{
			ArtifactID: a.ArtifactID,
			TrustScore: a.TrustScore,
			Verdict:    a.Status,
		})
		sum += a.TrustScore
		if a.Status == trust.VerdictFailed {
			failed = true
		}
	}
	tr.AutoApprove = !failed && len(rep.Artifacts) > 0 && sum/float64(len(rep.Artifacts)) >= 0.95
	return tr
}
