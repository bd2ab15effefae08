// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
)

// DependencyStatus is the reported condition of one dependency.
type DependencyStatus string

const (
	DependencyHealthy  DependencyStatus = "healthy"
	DependencyDegraded DependencyStatus = "degraded"
	DependencyDown     DependencyStatus = "down"
)

// ErrDegraded marks a dependency that answers but is impaired. A check
// returning it (or wrapping it) reports "degraded" without taking the
// endpoint to 503.
var ErrDegraded = errors.New("dependency degraded")

// DependencyCheck probes one dependency. The handler runs each probe
// under a short deadline; a deadline miss counts as down.
type DependencyCheck func(ctx context.Context) error

// checkTimeout bounds each probe so one stuck dependency cannot stall
// the load balancer's health sweep.
const checkTimeout = 2 * time.Second

// HealthDeps carries everything the health report draws on. Checks is
// keyed by dependency name; Breakers fold protected upstreams into the
// dependency map under the breaker's name.
type HealthDeps struct {
	StartedAt time.Time
	Checks    map[string]DependencyCheck
	Breakers  []*faults.Breaker

	Sessions *session.Manager
	Catalog  *catalog.Manager
	Graphs   *depgraph.Cache
	Logger   *slog.Logger
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status       string                      `json:"status"`
	Version      string                      `json:"version"`
	Uptime       string                      `json:"uptime"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	Metrics      HealthMetrics               `json:"metrics"`
}

// HealthMetrics is the operational snapshot inside the health payload.
type HealthMetrics struct {
	LiveSessions   int                   `json:"live_sessions"`
	CatalogVersion string                `json:"catalog_version"`
	CatalogIntents int                   `json:"catalog_intents"`
	GraphCache     depgraph.CacheStats   `json:"graph_cache"`
	Breakers       []faults.BreakerStats `json:"breakers,omitempty"`
}

// HandleHealth handles GET /health.
//
// Probes run in parallel under checkTimeout each. Any dependency down
// makes the whole report 503 with Retry-After; open breakers report
// degraded, not down, because the engine keeps serving on fallbacks.
func HandleHealth(deps HealthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses := make(map[string]DependencyStatus, len(deps.Checks)+len(deps.Breakers))

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for name, check := range deps.Checks {
			wg.Add(1)
			go func(name string, check DependencyCheck) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
				defer cancel()

				st := DependencyHealthy
				if err := check(ctx); err != nil {
					st = DependencyDown
					if errors.Is(err, ErrDegraded) {
						st = DependencyDegraded
					}
					deps.Logger.Warn("handlers.health: dependency check failed",
						"dependency", name, "status", string(st), "error", err)
				}
				mu.Lock()
				statuses[name] = st
				mu.Unlock()
			}(name, check)
		}
		wg.Wait()

		breakerStats := make([]faults.BreakerStats, 0, len(deps.Breakers))
		for _, b := range deps.Breakers {
			stats := b.Stats()
			breakerStats = append(breakerStats, stats)
			switch b.State() {
			case faults.BreakerClosed:
				statuses[stats.Name] = DependencyHealthy
			default:
				statuses[stats.Name] = DependencyDegraded
			}
		}

		overall := DependencyHealthy
		for _, st := range statuses {
			if st == DependencyDown {
				overall = DependencyDown
				break
			}
			if st == DependencyDegraded {
				overall = DependencyDegraded
			}
		}

		snap := deps.Catalog.Current()
		resp := HealthResponse{
			Status:       string(overall),
			Version:      ServiceVersion,
			Uptime:       time.Since(deps.StartedAt).Round(time.Second).String(),
			Dependencies: statuses,
			Metrics: HealthMetrics{
				LiveSessions:   deps.Sessions.Len(),
				CatalogVersion: snap.Version(),
				CatalogIntents: snap.Len(),
				GraphCache:     deps.Graphs.Stats(),
				Breakers:       breakerStats,
			},
		}

		if overall == DependencyDown {
			c.Header("Retry-After", "30")
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
