package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Merge pipeline
	MergePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_merge_passes_total",
			Help: "Total merge passes by outcome",
		},
		[]string{"outcome"}, // "ok", "failed", "discarded"
	)

	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_merge_duration_seconds",
			Help:    "Merge pass duration including profile resolution",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	TriggersCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_triggers_coalesced_total",
			Help: "Source emissions folded into an already scheduled merge pass",
		},
	)

	// Sources
	SourceSnapshots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_source_snapshots_total",
			Help: "Snapshots emitted by source adapters",
		},
		[]string{"source"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_source_errors_total",
			Help: "Swallowed upstream errors by source",
		},
		[]string{"source"},
	)

	// Profiles
	ProfileLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_profile_lookups_total",
			Help: "Profile cache lookups by result",
		},
		[]string{"result"}, // "hit", "fetched", "miss"
	)

	// Optimistic mutations
	Patches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_optimistic_patches_total",
			Help: "Optimistic patch lifecycle events",
		},
		[]string{"event"}, // "applied", "confirmed", "superseded", "conflict", "failed"
	)

	// Sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_active_sessions",
			Help: "Inbox sessions currently subscribed to their sources",
		},
	)

	// Infrastructure
	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
