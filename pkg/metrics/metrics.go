// Copyright 2025 Certen Protocol
//
// Prometheus Metrics - counters and gauges for the minting pipeline, chain,
// and recovery service, exposed on a dedicated registry/handler.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated Prometheus registry for the ledger service,
// separate from the default global registry so tests can construct a fresh
// one per case.
type Registry struct {
	registry *prometheus.Registry

	BlocksMined          prometheus.Counter
	ArtifactsMinted       prometheus.Counter
	ArtifactsRejected     *prometheus.CounterVec // labeled by reason
	ContradictionsFound   *prometheus.CounterVec // labeled by severity
	ConsentDecisions      *prometheus.CounterVec // labeled by approved/denied
	SnapshotsIssued       prometheus.Counter
	RecoveryRuns          *prometheus.CounterVec // labeled by strategy
	ChainHeight           prometheus.Gauge
	MiningDurationSeconds prometheus.Histogram
}

// New constructs a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		BlocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_blocks_mined_total",
			Help: "Total number of blocks successfully mined and appended.",
		}),
		ArtifactsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_artifacts_minted_total",
			Help: "Total number of artifacts committed into the chain.",
		}),
		ArtifactsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_artifacts_rejected_total",
			Help: "Total number of artifacts rejected during minting, by reason.",
		}, []string{"reason"}),
		ContradictionsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_contradictions_found_total",
			Help: "Total number of contradictions detected, by severity.",
		}, []string{"severity"}),
		ConsentDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_consent_decisions_total",
			Help: "Total number of consent gate decisions, by outcome.",
		}, []string{"outcome"}),
		SnapshotsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_snapshots_issued_total",
			Help: "Total number of verify-only snapshot reports issued.",
		}),
		RecoveryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_recovery_runs_total",
			Help: "Total number of recovery runs, by strategy.",
		}, []string{"strategy"}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_chain_height",
			Help: "Current chain height (index of the latest block; genesis is 0).",
		}),
		MiningDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_mining_duration_seconds",
			Help:    "Time spent mining a block to satisfy the difficulty target.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.BlocksMined,
		r.ArtifactsMinted,
		r.ArtifactsRejected,
		r.ContradictionsFound,
		r.ConsentDecisions,
		r.SnapshotsIssued,
		r.RecoveryRuns,
		r.ChainHeight,
		r.MiningDurationSeconds,
	)

	return r
}

// Handler returns the HTTP handler serving this registry's /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Raw exposes the underlying Prometheus registry, for tests that want
// to register additional collectors.
func (r *Registry) Raw() *prometheus.Registry {
	return r.registry
}
