// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/config"
	"github.com/certen/evidence-ledger/pkg/index"
	"github.com/certen/evidence-ledger/pkg/metrics"
	"github.com/certen/evidence-ledger/pkg/recovery"
	"github.com/certen/evidence-ledger/pkg/server"
)

// healthStatus tracks component health for the /health endpoint.
type healthStatus struct {
	mu        sync.RWMutex
	Status    string
	Chain     string
	Index     string
	Backup    string
	startTime time.Time
}

func newHealthStatus() *healthStatus {
	return &healthStatus{Status: "starting", startTime: time.Now()}
}

func (h *healthStatus) set(field *string, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*field = value
}

func (h *healthStatus) snapshot() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"status":         h.Status,
		"chain":          h.Chain,
		"index_cache":    h.Index,
		"backup_store":   h.Backup,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting evidence ledger node")

	var (
		configOverlay = flag.String("config", "", "path to an optional YAML config overlay")
		restoreFrom   = flag.String("restore-from", "", "backup path to restore the chain from on boot")
		showHelp      = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.LoadWithOverlay(*configOverlay)
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("[Config] WARNING: %v", err)
	}

	health := newHealthStatus()
	health.set(&health.Status, "starting")

	// ----------------------------------------------------------------
	// Backup store and recovery service (C11)
	// ----------------------------------------------------------------
	backupStore, err := recovery.NewFileStore(cfg.BackupDir)
	if err != nil {
		log.Fatal("failed to initialize backup store:", err)
	}
	recoverySvc := recovery.New(backupStore, log.New(log.Writer(), "[Recovery] ", log.LstdFlags))
	health.set(&health.Backup, "ready")

	// ----------------------------------------------------------------
	// Chain (C1-C4) — restored from backup if asked, otherwise fresh.
	// ----------------------------------------------------------------
	var c *chain.Chain
	if *restoreFrom != "" {
		c, err = recoverySvc.Restore(context.Background(), *restoreFrom)
		if err != nil {
			log.Fatalf("failed to restore chain from %s: %v", *restoreFrom, err)
		}
		// The §6 backup envelope carries only block_count/artifact_count/checksum,
		// not the chain's mining difficulty — reapply the configured value.
		c.SetDifficulty(cfg.Difficulty)
		log.Printf("[Chain] restored from backup %s, height=%d", *restoreFrom, c.Height())
	} else {
		c = chain.New(cfg.Difficulty)
		log.Printf("[Chain] starting from fresh genesis, difficulty=%d", cfg.Difficulty)
	}
	health.set(&health.Chain, "ready")

	// ----------------------------------------------------------------
	// Index cache (C1 support) — bbolt-backed mirror of the chain's
	// in-memory content-hash index, rebuilt on every boot.
	// ----------------------------------------------------------------
	if cfg.UseBbolt {
		idxPath := filepath.Join(cfg.DataDir, "index.db")
		idx, err := index.Open(idxPath)
		if err != nil {
			log.Printf("[Index] WARNING: failed to open bbolt index cache: %v", err)
			health.set(&health.Index, "disabled")
		} else {
			if err := idx.Rebuild(c); err != nil {
				log.Printf("[Index] WARNING: failed to rebuild index cache: %v", err)
			}
			defer idx.Close()
			health.set(&health.Index, "ready")
			log.Printf("[Index] bbolt cache ready at %s", idxPath)
		}
	} else {
		health.set(&health.Index, "in-memory-only")
	}

	// ----------------------------------------------------------------
	// Metrics (Prometheus)
	// ----------------------------------------------------------------
	reg := metrics.New()
	reg.ChainHeight.Set(float64(c.Height()))

	// ----------------------------------------------------------------
	// HTTP API — read-only chain query surface plus health/metrics.
	// ----------------------------------------------------------------
	mux := http.NewServeMux()
	chainHandlers := server.NewChainHandlers(c)
	mux.HandleFunc("/chain/latest", chainHandlers.HandleLatest)
	mux.HandleFunc("/artifact/", chainHandlers.HandleProof)
	mux.HandleFunc("/chain/validate", chainHandlers.HandleValidate)
	mux.HandleFunc("/chain/query", chainHandlers.HandleQuery)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health.snapshot())
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", reg.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	go runPeriodicBackup(backgroundCtx, recoverySvc, c, reg, 15*time.Minute)

	go func() {
		log.Printf("[HTTP] query API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed:", err)
		}
	}()
	go func() {
		log.Printf("[HTTP] metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	health.set(&health.Status, "ok")
	log.Printf("evidence ledger node ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down...")
	health.set(&health.Status, "stopping")
	cancelBackground()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if _, err := recoverySvc.Backup(shutdownCtx, c); err != nil {
		log.Printf("final backup on shutdown failed: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	log.Printf("evidence ledger node stopped")
}

// runPeriodicBackup snapshots the chain to the backup store on a fixed
// interval until ctx is cancelled, updating the chain-height gauge each time
// so metrics stay fresh even between mint calls made by an out-of-process
// ledgerctl client.
func runPeriodicBackup(ctx context.Context, svc *recovery.Service, c *chain.Chain, reg *metrics.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ChainHeight.Set(float64(c.Height()))
			if _, err := svc.Backup(ctx, c); err != nil {
				log.Printf("[Recovery] periodic backup failed: %v", err)
			}
		}
	}
}

func printHelp() {
	fmt.Println("evidence-ledger - append-only, content-addressed evidence chain")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  evidence-ledger [-config path/to/overlay.yaml] [-restore-from path/to/backup.json]")
	fmt.Println()
	fmt.Println("Configuration is read from the environment; see pkg/config for the full list")
	fmt.Println("of variables, or pass -config to layer a YAML file on top.")
	fmt.Println()
	fmt.Println("Batch submission, consent, and recovery actions are driven by the ledgerctl")
	fmt.Println("CLI (cmd/ledgerctl), not by this server's HTTP surface.")
}
