// Copyright 2025 Certen Protocol
//
// ledgerctl - operator CLI driving the write path the HTTP server
// deliberately doesn't expose: batch submission (C5-C10), recovery (C11),
// and verify-only snapshots (C12). Each invocation restores the chain from
// a backup file (or starts fresh) and runs one action. When submit or
// commit-snapshot commits a block, or recover returns a healed chain, the
// resulting chain is written back to a new backup so the next invocation
// picks up where this one left off; other actions write nothing back
// (backup writes only its own explicit backup).

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/consent"
	"github.com/certen/evidence-ledger/pkg/ledger"
	"github.com/certen/evidence-ledger/pkg/metrics"
	"github.com/certen/evidence-ledger/pkg/mint"
	"github.com/certen/evidence-ledger/pkg/recovery"
	"github.com/certen/evidence-ledger/pkg/snapshot"
	"github.com/certen/evidence-ledger/pkg/trust"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	backupDir := fs.String("backup-dir", "./data/backups", "directory holding chain backups")
	from := fs.String("from", "", "backup path to load the chain from (defaults to the latest in -backup-dir)")
	batchFile := fs.String("batch", "", "path to a JSON array of artifacts to submit")
	difficulty := fs.Uint("difficulty", 2, "proof-of-work difficulty for newly mined blocks")
	level := fs.String("level", "standard", "verification level: basic|standard|enhanced|legal")
	autoApprove := fs.Bool("auto-approve", false, "approve every consent request automatically (local/dev only)")
	strategy := fs.String("strategy", "safe", "recovery strategy: safe|aggressive|rebuild")
	reportID := fs.String("report-id", "", "snapshot report id, for commit-snapshot")
	withToken := fs.Bool("with-token", false, "issue a fast-track token, for snapshot")
	fs.Parse(os.Args[2:])

	store, err := recovery.NewFileStore(*backupDir)
	if err != nil {
		log.Fatalf("open backup store: %v", err)
	}
	recoverySvc := recovery.New(store, log.New(os.Stderr, "[Recovery] ", log.LstdFlags))

	ctx := context.Background()
	c, err := loadChain(ctx, recoverySvc, *from)
	if err != nil {
		log.Fatalf("load chain: %v", err)
	}

	signer, err := ephemeralSigner()
	if err != nil {
		log.Fatalf("generate consent signer: %v", err)
	}
	approve := func(req consent.Request) (bool, string) {
		if *autoApprove {
			return true, "auto-approved via -auto-approve"
		}
		return req.Report.AutoApprove, "cli: auto-approve threshold check"
	}
	gate, err := consent.NewEd25519Gate("ledgerctl", signer, approve)
	if err != nil {
		log.Fatalf("build consent gate: %v", err)
	}
	pipeline := mint.New(c, gate)
	reg := metrics.New()
	reg.ChainHeight.Set(float64(c.Height()))
	pipeline.UsePrometheus(reg)
	snapshotSvc := snapshot.New(pipeline)

	var persist bool

	switch cmd {
	case "submit":
		if *batchFile == "" {
			log.Fatal("submit requires -batch")
		}
		batch, err := readBatch(*batchFile)
		if err != nil {
			log.Fatalf("read batch: %v", err)
		}
		opts := mint.DefaultOptions()
		opts.VerificationLevel = parseLevel(*level)
		opts.Difficulty = uint32(*difficulty)
		opts.Miner = "ledgerctl"
		result, err := pipeline.Submit(ctx, batch, opts)
		if err != nil {
			log.Printf("submit failed: %v", err)
		}
		printJSON(result)
		persist = result != nil && result.State == mint.Committed

	case "validate":
		printJSON(c.Validate())

	case "recover":
		outcome, err := recoverySvc.Recover(ctx, c, recovery.Strategy(*strategy))
		if err != nil {
			log.Printf("recover: %v", err)
		}
		if outcome.Chain != nil {
			c = outcome.Chain
			persist = true
		}
		printJSON(outcome)

	case "backup":
		path, err := recoverySvc.Backup(ctx, c)
		if err != nil {
			log.Fatalf("backup: %v", err)
		}
		fmt.Println(path)

	case "snapshot":
		if *batchFile == "" {
			log.Fatal("snapshot requires -batch")
		}
		batch, err := readBatch(*batchFile)
		if err != nil {
			log.Fatalf("read batch: %v", err)
		}
		rep, err := snapshotSvc.VerifyOnly(ctx, batch, parseLevel(*level), *withToken)
		if err != nil {
			log.Fatalf("snapshot: %v", err)
		}
		printJSON(rep)

	case "commit-snapshot":
		if *reportID == "" {
			log.Fatal("commit-snapshot requires -report-id")
		}
		result, err := snapshotSvc.CommitFromSnapshot(ctx, *reportID, !*autoApprove)
		if err != nil {
			log.Printf("commit-snapshot failed: %v", err)
		}
		printJSON(result)
		persist = result != nil && result.State == mint.Committed

	default:
		usage()
		os.Exit(1)
	}

	if persist {
		path, err := recoverySvc.Backup(ctx, c)
		if err != nil {
			log.Fatalf("persist updated chain: %v", err)
		}
		log.Printf("chain state persisted to %s", path)

		reg.ChainHeight.Set(float64(c.Height()))
		if err := writeMetricsSnapshot(*backupDir, reg); err != nil {
			log.Printf("metrics snapshot: %v", err)
		}
	}
}

// writeMetricsSnapshot renders reg's current Prometheus exposition and writes
// it alongside the chain backups, so a one-shot ledgerctl invocation leaves
// behind something a textfile collector (or an operator) can scrape — this
// process never stays up long enough to serve /metrics itself. It reuses
// reg's own http.Handler rather than talking to prometheus/common/expfmt
// directly.
func writeMetricsSnapshot(dir string, reg *metrics.Registry) error {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		return fmt.Errorf("metrics handler returned status %d", rec.Code)
	}
	return os.WriteFile(filepath.Join(dir, "ledgerctl.prom"), rec.Body.Bytes(), 0o644)
}

func loadChain(ctx context.Context, svc *recovery.Service, from string) (*chain.Chain, error) {
	path := from
	if path == "" {
		latest, ok, err := svc.LatestBackup(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			path = latest
		}
	}
	if path == "" {
		return chain.New(2), nil
	}
	return svc.Restore(ctx, path)
}

func readBatch(path string) ([]*ledger.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch []*ledger.Artifact
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", filepath.Base(path), err)
	}
	return batch, nil
}

func parseLevel(s string) trust.Level {
	switch s {
	case "basic":
		return trust.Basic
	case "enhanced":
		return trust.Enhanced
	case "legal":
		return trust.Legal
	default:
		return trust.Standard
	}
}

func ephemeralSigner() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl <submit|validate|recover|backup|snapshot|commit-snapshot> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  submit -batch artifacts.json [-level standard] [-difficulty 2]")
	fmt.Fprintln(os.Stderr, "  validate")
	fmt.Fprintln(os.Stderr, "  recover [-strategy safe|aggressive|rebuild]")
	fmt.Fprintln(os.Stderr, "  backup")
	fmt.Fprintln(os.Stderr, "  snapshot -batch artifacts.json [-with-token]")
	fmt.Fprintln(os.Stderr, "  commit-snapshot -report-id <id>")
}
