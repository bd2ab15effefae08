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
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
)

const adminSampleYAML = `
intents:
  - name: order_food
    display_name: 外卖下单
    confidence_threshold: 0.7
    function_name: food_order
    examples: ["点外卖", "我要点餐"]
    slots:
      - name: dish
        type: TEXT
        display_name: 菜品
        required: true
        prompt_template: 请问您想吃什么？
`

type denyAuthz struct{}

func (denyAuthz) Authorize(context.Context, extensions.AuthzRequest) error {
	return errors.New("policy: denied")
}

func newAdminDeps(env *testEnv, catalogPath string) AdminDeps {
	return AdminDeps{
		Catalog:     env.catalog,
		Store:       env.store,
		Graphs:      env.graphs,
		CatalogPath: catalogPath,
		Authz:       &extensions.NopAuthzProvider{},
		Auditor:     env.auditor,
		Logger:      env.logger,
	}
}

func adminRouter(deps AdminDeps, auth gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	if auth != nil {
		router.Use(auth)
	}
	router.POST("/v1/admin/catalog/reload", HandleCatalogReload(deps))
	router.POST("/v1/admin/catalog/validate", HandleCatalogValidate(deps))
	router.GET("/v1/admin/intents", HandleListIntents(deps))
	router.GET("/v1/admin/intents/:name", HandleGetIntent(deps))
	router.DELETE("/v1/admin/graphs", HandleEvictGraphs(deps))
	router.GET("/v1/admin/audit", HandleAuditQuery(deps))
	return router
}

// buildGraph primes the dependency-graph cache for one intent.
func buildGraph(t *testing.T, env *testEnv, name string) {
	t.Helper()
	snap := env.catalog.Current()
	in, ok := snap.Intent(name)
	require.True(t, ok)
	_, err := env.graphs.GetOrBuild(context.Background(), in, snap.Version())
	require.NoError(t, err)
}

// =============================================================================
// Access Control
// =============================================================================

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/admin/catalog/reload"},
		{http.MethodPost, "/v1/admin/catalog/validate"},
		{http.MethodGet, "/v1/admin/intents"},
		{http.MethodGet, "/v1/admin/intents/book_flight"},
		{http.MethodDelete, "/v1/admin/graphs"},
		{http.MethodGet, "/v1/admin/audit"},
	}

	env := newTestEnv(t, nil)
	asUser := adminRouter(newAdminDeps(env, ""), authAs("bob"))
	anonymous := adminRouter(newAdminDeps(env, ""), nil)

	for _, ep := range endpoints {
		w := doJSON(t, asUser, ep.method, ep.path, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s as plain user", ep.method, ep.path)
		assert.Equal(t, "E3003", string(decodeError(t, w).Error.Code))

		w = doJSON(t, anonymous, ep.method, ep.path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s anonymous", ep.method, ep.path)
	}
}

func TestAdminAuthzProviderVeto(t *testing.T) {
	env := newTestEnv(t, nil)
	deps := newAdminDeps(env, "")
	deps.Authz = denyAuthz{}
	router := adminRouter(deps, authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodGet, "/v1/admin/intents", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "E3004", string(decodeError(t, w).Error.Code))

	events, err := env.auditor.Query(context.Background(),
		extensions.AuditFilter{EventTypes: []string{"authz.denied"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ops", events[0].UserID)
	assert.Equal(t, "catalog", events[0].ResourceType)
}

// =============================================================================
// Catalog Reload
// =============================================================================

func TestHandleCatalogReloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(adminSampleYAML), 0o644))

	env := newTestEnv(t, nil)
	before := env.catalog.Current().Version()
	router := adminRouter(newAdminDeps(env, path), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodPost, "/v1/admin/catalog/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "file", body["source"])
	assert.Equal(t, float64(1), body["intents"])

	snap := env.catalog.Current()
	assert.NotEqual(t, before, snap.Version())
	_, ok := snap.Intent("order_food")
	assert.True(t, ok)

	events, err := env.auditor.Query(context.Background(),
		extensions.AuditFilter{EventTypes: []string{"catalog.reload"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0].Outcome)
}

func TestHandleCatalogReloadFromStore(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.catalog = catalog.Default()
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodPost, "/v1/admin/catalog/reload",
		gin.H{"source": "store"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "store", body["source"])
	assert.Equal(t, float64(4), body["intents"])
}

func TestHandleCatalogReloadInvalidKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("intents:\n  - name: a\n    bogus_key: 1\n"), 0o644))

	env := newTestEnv(t, nil)
	before := env.catalog.Current().Version()
	router := adminRouter(newAdminDeps(env, path), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodPost, "/v1/admin/catalog/reload", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "E7001", string(decodeError(t, w).Error.Code))

	// Last good snapshot stays active.
	snap := env.catalog.Current()
	assert.Equal(t, before, snap.Version())
	assert.Equal(t, 4, snap.Len())

	events, err := env.auditor.Query(context.Background(),
		extensions.AuditFilter{EventTypes: []string{"catalog.reload"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "invalid", events[0].Outcome)
}

func TestHandleCatalogReloadUnknownSource(t *testing.T) {
	env := newTestEnv(t, nil)
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodPost, "/v1/admin/catalog/reload",
		gin.H{"source": "carrier-pigeon"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "E2000", string(decodeError(t, w).Error.Code))
}

// =============================================================================
// Catalog Validate
// =============================================================================

func TestHandleCatalogValidateAccepts(t *testing.T) {
	env := newTestEnv(t, nil)
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doRaw(router, http.MethodPost, "/v1/admin/catalog/validate", adminSampleYAML)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Valid   bool     `json:"valid"`
		Intents []string `json:"intents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Valid)
	assert.Equal(t, []string{"order_food"}, body.Intents)
}

func TestHandleCatalogValidateRejects(t *testing.T) {
	env := newTestEnv(t, nil)
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doRaw(router, http.MethodPost, "/v1/admin/catalog/validate",
		"intents:\n  - name: a\n    bogus_key: 1\n")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Valid bool `json:"valid"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Valid)
	assert.Equal(t, "E7001", body.Error.Code)
}

func TestHandleCatalogValidateEmptyBody(t *testing.T) {
	env := newTestEnv(t, nil)
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doRaw(router, http.MethodPost, "/v1/admin/catalog/validate", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "E2002", string(decodeError(t, w).Error.Code))
}

// =============================================================================
// Intents
// =============================================================================

func TestHandleListIntents(t *testing.T) {
	env := newTestEnv(t, nil)
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodGet, "/v1/admin/intents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Version string          `json:"version"`
		Source  string          `json:"source"`
		Intents []IntentSummary `json:"intents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Version)
	assert.Equal(t, "test", body.Source)
	require.Len(t, body.Intents, 4)

	// Names come back sorted.
	assert.Equal(t, "book_flight", body.Intents[0].Name)
	assert.Equal(t, "flight_booking", body.Intents[0].FunctionName)
	assert.Greater(t, body.Intents[0].RequiredSlots, 0)
	assert.GreaterOrEqual(t, body.Intents[0].TotalSlots, body.Intents[0].RequiredSlots)
}

func TestHandleGetIntent(t *testing.T) {
	env := newTestEnv(t, nil)
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodGet, "/v1/admin/intents/book_flight", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Version string `json:"version"`
		Intent  struct {
			Name  string `json:"name"`
			Slots []struct {
				Name string `json:"name"`
			} `json:"slots"`
		} `json:"intent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "book_flight", body.Intent.Name)
	assert.NotEmpty(t, body.Intent.Slots)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/intents/teleport", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "E4002", string(decodeError(t, w).Error.Code))
}

// =============================================================================
// Graph Cache
// =============================================================================

func TestHandleEvictGraphsByIntent(t *testing.T) {
	env := newTestEnv(t, nil)
	buildGraph(t, env, "book_flight")
	buildGraph(t, env, "book_train")
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodDelete, "/v1/admin/graphs?intent=book_flight", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["evicted"])
	assert.Equal(t, 1, env.graphs.Len())
}

func TestHandleEvictGraphsAll(t *testing.T) {
	env := newTestEnv(t, nil)
	buildGraph(t, env, "book_flight")
	buildGraph(t, env, "book_train")
	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodDelete, "/v1/admin/graphs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["evicted"])
	assert.Equal(t, 0, env.graphs.Len())

	events, err := env.auditor.Query(context.Background(),
		extensions.AuditFilter{EventTypes: []string{"cache.evict"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	n, ok := extensions.Metadata(events[0].Metadata).GetInt("evicted")
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

// =============================================================================
// Audit Query
// =============================================================================

func TestHandleAuditQueryFilters(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, env.auditor.Log(ctx, extensions.AuditEvent{
			EventType: "session.delete", UserID: "alice", Outcome: "success",
		}))
	}
	require.NoError(t, env.auditor.Log(ctx, extensions.AuditEvent{
		EventType: "auth.failed", UserID: "mallory", Outcome: "failure",
	}))

	router := adminRouter(newAdminDeps(env, ""), authAs("ops", "admin"))

	w := doJSON(t, router, http.MethodGet, "/v1/admin/audit?type=session.delete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []extensions.AuditEvent `json:"events"`
		Count  int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/audit?type=session.delete&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/audit?user_id=mallory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "auth.failed", body.Events[0].EventType)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/audit?limit=banana", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
