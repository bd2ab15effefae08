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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

func newHealthDeps(env *testEnv) HealthDeps {
	return HealthDeps{
		StartedAt: time.Now().Add(-time.Minute),
		Checks:    map[string]DependencyCheck{},
		Sessions:  env.sessions,
		Catalog:   env.catalog,
		Graphs:    env.graphs,
		Logger:    env.logger,
	}
}

func healthRouter(deps HealthDeps) *gin.Engine {
	router := gin.New()
	router.GET("/health", HandleHealth(deps))
	return router
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleHealthAllHealthy(t *testing.T) {
	env := newTestEnv(t, nil)
	deps := newHealthDeps(env)
	deps.Checks["store"] = func(context.Context) error { return nil }
	deps.Checks["cache"] = func(context.Context) error { return nil }

	w := doJSON(t, healthRouter(deps), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeHealth(t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.NotEmpty(t, resp.Uptime)
	assert.Equal(t, DependencyHealthy, resp.Dependencies["store"])
	assert.Equal(t, DependencyHealthy, resp.Dependencies["cache"])
	assert.Equal(t, 0, resp.Metrics.LiveSessions)
	assert.Equal(t, 4, resp.Metrics.CatalogIntents)
	assert.NotEmpty(t, resp.Metrics.CatalogVersion)
}

func TestHandleHealthDependencyDown(t *testing.T) {
	env := newTestEnv(t, nil)
	deps := newHealthDeps(env)
	deps.Checks["store"] = func(context.Context) error { return nil }
	deps.Checks["influx"] = func(context.Context) error { return errors.New("connection refused") }

	w := doJSON(t, healthRouter(deps), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	resp := decodeHealth(t, w)
	assert.Equal(t, "down", resp.Status)
	assert.Equal(t, DependencyDown, resp.Dependencies["influx"])
	assert.Equal(t, DependencyHealthy, resp.Dependencies["store"])
}

func TestHandleHealthDegradedStaysUp(t *testing.T) {
	env := newTestEnv(t, nil)
	deps := newHealthDeps(env)
	deps.Checks["store"] = func(context.Context) error {
		return fmt.Errorf("%w: gc backlog", ErrDegraded)
	}

	w := doJSON(t, healthRouter(deps), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeHealth(t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, DependencyDegraded, resp.Dependencies["store"])
}

func TestHandleHealthOpenBreakerDegrades(t *testing.T) {
	env := newTestEnv(t, nil)
	breaker := faults.NewBreaker("nlu", faults.BreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	})
	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return errors.New("model timeout")
	})
	require.Equal(t, faults.BreakerOpen, breaker.State())

	deps := newHealthDeps(env)
	deps.Breakers = []*faults.Breaker{breaker}

	w := doJSON(t, healthRouter(deps), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeHealth(t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, DependencyDegraded, resp.Dependencies["nlu"])
	require.Len(t, resp.Metrics.Breakers, 1)
	assert.Equal(t, "open", resp.Metrics.Breakers[0].State)
	assert.Equal(t, int64(1), resp.Metrics.Breakers[0].TotalFailures)
}

func TestHandleHealthSlowCheckCountsDown(t *testing.T) {
	env := newTestEnv(t, nil)
	deps := newHealthDeps(env)
	deps.Checks["stuck"] = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	w := doJSON(t, healthRouter(deps), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Less(t, time.Since(start), 10*time.Second)

	resp := decodeHealth(t, w)
	assert.Equal(t, DependencyDown, resp.Dependencies["stuck"])
}
