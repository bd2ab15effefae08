// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the dialog service.
//
// Metrics cover the turn pipeline (counts, latency, per-stage timing), the
// collaborators (NLU, dispatch, cache, store), sessions, questions, the
// fault spine (per-code error counters, breaker state), and the transports
// (rate limiting, websocket connections). All metrics live under namespace
// "aleutian", subsystem "dialog", and are exposed on /metrics via promhttp.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics.
const metricsNamespace = "aleutian"

// Subsystem for the dialog service.
const dialogSubsystem = "dialog"

// Metrics holds all Prometheus metrics of the dialog service. Initialize
// once at startup via Init(); fields are safe to use directly.
type Metrics struct {
	// TurnsTotal counts completed turns by final status and resolved intent.
	// Labels: status (completed, incomplete, ...), intent ("" when none).
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures full turn latency by status.
	TurnDurationSeconds *prometheus.HistogramVec

	// StageDurationSeconds measures time spent per pipeline stage.
	// Labels: stage (acquire, nlu, resolve, inherit, validate, question,
	// dispatch, persist).
	StageDurationSeconds *prometheus.HistogramVec

	// ErrorsTotal counts classified failures by code and category.
	ErrorsTotal *prometheus.CounterVec

	// NLURequestsTotal counts NLU calls by adapter and outcome.
	// Labels: adapter (http, llm, keyword), outcome (ok, error, fallback).
	NLURequestsTotal *prometheus.CounterVec

	// NLULatencySeconds measures NLU call latency by adapter.
	NLULatencySeconds *prometheus.HistogramVec

	// DispatchTotal counts function dispatches by function name and outcome.
	// Labels: function, outcome (ok, error, timeout, retry_ok).
	DispatchTotal *prometheus.CounterVec

	// DispatchLatencySeconds measures executor latency by function name.
	DispatchLatencySeconds *prometheus.HistogramVec

	// BreakerState reports each dependency breaker's state
	// (0 closed, 1 open, 2 half-open).
	BreakerState *prometheus.GaugeVec

	// BreakerTransitionsTotal counts breaker transitions by dependency and
	// target state.
	BreakerTransitionsTotal *prometheus.CounterVec

	// ActiveSessions tracks sessions currently live in the cache.
	ActiveSessions prometheus.Gauge

	// SessionsCreatedTotal counts sessions opened.
	SessionsCreatedTotal prometheus.Counter

	// SessionsExpiredTotal counts sessions closed by the TTL sweeper.
	SessionsExpiredTotal prometheus.Counter

	// SessionLockWaitSeconds measures how long turns waited for the
	// per-session lock.
	SessionLockWaitSeconds prometheus.Histogram

	// CacheOpsTotal counts cache operations by op and outcome.
	// Labels: op (get, set, del), outcome (hit, miss, ok, error).
	CacheOpsTotal *prometheus.CounterVec

	// QuestionsTotal counts generated questions by kind and strategy.
	QuestionsTotal *prometheus.CounterVec

	// FollowupsTotal counts classified follow-up replies by class.
	FollowupsTotal *prometheus.CounterVec

	// InheritedSlotsTotal counts inherited slot assignments by source.
	InheritedSlotsTotal *prometheus.CounterVec

	// RateLimitedTotal counts rejected requests by limiter scope (user, ip).
	RateLimitedTotal *prometheus.CounterVec

	// WebsocketConnections tracks open websocket chat connections.
	WebsocketConnections prometheus.Gauge

	// CatalogReloadsTotal counts catalog publications by outcome
	// (ok, invalid).
	CatalogReloadsTotal *prometheus.CounterVec

	// CatalogIntents reports the size of the active catalog snapshot.
	CatalogIntents prometheus.Gauge

	// GraphCacheTotal counts dependency-graph cache lookups by outcome
	// (hit, miss).
	GraphCacheTotal *prometheus.CounterVec
}

// Default is the singleton instance, set by Init.
var Default *Metrics

var initOnce sync.Once

// Init registers all metrics with the default registry and returns the
// singleton. Safe to call more than once; later calls return the instance
// from the first.
func Init() *Metrics {
	initOnce.Do(func() {
		Default = newMetrics()
	})
	return Default
}

func newMetrics() *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "turns_total",
			Help:      "Completed turns by final status and resolved intent.",
		}, []string{"status", "intent"}),

		TurnDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "turn_duration_seconds",
			Help:      "Full turn latency by final status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"status"}),

		StageDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage latency inside the turn pipeline.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"stage"}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "errors_total",
			Help:      "Classified failures by code and category.",
		}, []string{"code", "category"}),

		NLURequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "nlu_requests_total",
			Help:      "NLU calls by adapter and outcome.",
		}, []string{"adapter", "outcome"}),

		NLULatencySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "nlu_latency_seconds",
			Help:      "NLU call latency by adapter.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3},
		}, []string{"adapter"}),

		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "dispatch_total",
			Help:      "Function dispatches by function and outcome.",
		}, []string{"function", "outcome"}),

		DispatchLatencySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "dispatch_latency_seconds",
			Help:      "Executor call latency by function.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"function"}),

		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open).",
		}, []string{"dependency"}),

		BreakerTransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker transitions by dependency and target state.",
		}, []string{"dependency", "to"}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "active_sessions",
			Help:      "Sessions currently live in the cache.",
		}),

		SessionsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "sessions_created_total",
			Help:      "Sessions opened.",
		}),

		SessionsExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "sessions_expired_total",
			Help:      "Sessions closed by the TTL sweeper.",
		}),

		SessionLockWaitSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "session_lock_wait_seconds",
			Help:      "Time turns spent waiting for the per-session lock.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.1, 0.5, 1, 3},
		}),

		CacheOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "cache_ops_total",
			Help:      "Cache operations by op and outcome.",
		}, []string{"op", "outcome"}),

		QuestionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "questions_total",
			Help:      "Generated questions by kind and strategy.",
		}, []string{"kind", "strategy"}),

		FollowupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "followups_total",
			Help:      "Classified follow-up replies by class.",
		}, []string{"class"}),

		InheritedSlotsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "inherited_slots_total",
			Help:      "Inherited slot assignments by source.",
		}, []string{"source"}),

		RateLimitedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by scope.",
		}, []string{"scope"}),

		WebsocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "websocket_connections",
			Help:      "Open websocket chat connections.",
		}),

		CatalogReloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "catalog_reloads_total",
			Help:      "Catalog publications by outcome.",
		}, []string{"outcome"}),

		CatalogIntents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "catalog_intents",
			Help:      "Intents in the active catalog snapshot.",
		}),

		GraphCacheTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: dialogSubsystem,
			Name:      "graph_cache_total",
			Help:      "Dependency-graph cache lookups by outcome.",
		}, []string{"outcome"}),
	}
}

// =============================================================================
// Helpers
// =============================================================================

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(status, intent string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status, intent).Inc()
	m.TurnDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveStage records time spent in one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordError counts one classified failure.
func (m *Metrics) RecordError(code, category string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code, category).Inc()
}

// RecordBreaker updates the breaker gauges on a state transition. The state
// value follows the breaker's own encoding (0 closed, 1 open, 2 half-open).
func (m *Metrics) RecordBreaker(dependency, to string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(dependency).Set(state)
	m.BreakerTransitionsTotal.WithLabelValues(dependency, to).Inc()
}
