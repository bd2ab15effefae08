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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// AdminDeps carries the admin surface's collaborators. Authz and Auditor
// must be non-nil; pass the fields of a normalized ServiceOptions.
type AdminDeps struct {
	Catalog *catalog.Manager
	Store   storage.Store
	Graphs  *depgraph.Cache

	// CatalogPath is the YAML catalog file, when file-backed. Empty
	// means reloads come from the store.
	CatalogPath string

	Authz   extensions.AuthzProvider
	Auditor extensions.AuditLogger
	Logger  *slog.Logger
}

// requireAdmin gates an admin operation twice: the caller must hold the
// admin role, and the authorization provider must not veto the concrete
// action. Renders the envelope and returns "" when either refuses.
func requireAdmin(c *gin.Context, deps AdminDeps, started time.Time, action, resourceType, resourceID string) (string, bool) {
	info := middleware.GetAuthInfo(c)
	if info == nil {
		renderFault(c, faults.New(faults.CodeUnauthenticated, "authentication required"),
			middleware.RequestLocale(c), started)
		return "", false
	}
	if !info.HasRole("admin") {
		renderFault(c, faults.New(faults.CodeForbidden, "admin role required"),
			middleware.RequestLocale(c), started)
		return "", false
	}
	err := deps.Authz.Authorize(c.Request.Context(), extensions.AuthzRequest{
		User:         info,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	})
	if err != nil {
		_ = deps.Auditor.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "authz.denied",
			UserID:       info.UserID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Outcome:      "blocked",
		})
		renderFault(c, faults.Wrap(err, faults.CodePermissionDenied, "authorization denied"),
			middleware.RequestLocale(c), started)
		return "", false
	}
	return info.UserID, true
}

// =============================================================================
// Catalog
// =============================================================================

type catalogReloadRequest struct {
	// Source picks where the candidate catalog comes from: "file" or
	// "store". Empty uses the file when one is configured.
	Source string `json:"source,omitempty"`
}

// HandleCatalogReload handles POST /v1/admin/catalog/reload. A valid
// candidate replaces the active snapshot and evicts changed dependency
// graphs; an invalid one leaves the last good snapshot active.
func HandleCatalogReload(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		userID, ok := requireAdmin(c, deps, started, "reload", "catalog", "")
		if !ok {
			return
		}

		var req catalogReloadRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				renderFault(c, faults.Wrap(err, faults.CodeValidation, "invalid request body"),
					middleware.RequestLocale(c), started)
				return
			}
		}

		source := req.Source
		if source == "" {
			if deps.CatalogPath != "" {
				source = "file"
			} else {
				source = "store"
			}
		}

		snap, err := reloadCatalog(c, deps, source)
		outcome := "success"
		if err != nil {
			outcome = "invalid"
		}
		_ = deps.Auditor.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "catalog.reload",
			UserID:       userID,
			Action:       "reload",
			ResourceType: "catalog",
			ResourceID:   source,
			Outcome:      outcome,
		})
		if err != nil {
			renderFault(c, err, middleware.RequestLocale(c), started)
			return
		}

		deps.Logger.Info("handlers.admin: catalog reloaded",
			"source", source, "version", snap.Version(), "intents", snap.Len())
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"source":  source,
			"version": snap.Version(),
			"intents": snap.Len(),
		})
	}
}

func reloadCatalog(c *gin.Context, deps AdminDeps, source string) (*catalog.Snapshot, error) {
	switch source {
	case "file":
		if deps.CatalogPath == "" {
			return nil, faults.New(faults.CodeConfiguration, "no catalog file configured")
		}
		intents, err := catalog.LoadFile(deps.CatalogPath)
		if err != nil {
			return nil, err
		}
		return deps.Catalog.Replace(intents, "file:"+deps.CatalogPath)
	case "store":
		intents, err := deps.Store.ReloadCatalog(c.Request.Context())
		if err != nil {
			return nil, err
		}
		return deps.Catalog.Replace(intents, "store")
	default:
		return nil, faults.Newf(faults.CodeValidation, "unknown catalog source %q", source)
	}
}

// HandleCatalogValidate handles POST /v1/admin/catalog/validate. The
// body is a candidate catalog YAML; an invalid catalog is a normal
// answer here, not a failure.
func HandleCatalogValidate(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		if _, ok := requireAdmin(c, deps, started, "validate", "catalog", ""); !ok {
			return
		}

		data, err := c.GetRawData()
		if err != nil || len(data) == 0 {
			renderFault(c, faults.New(faults.CodeMissingInput, "empty catalog body"),
				middleware.RequestLocale(c), started)
			return
		}

		intents, err := catalog.Parse(data)
		if err == nil {
			_, _, err = catalog.Validate(intents)
		}
		if err != nil {
			fe := faults.From(err)
			c.JSON(http.StatusOK, gin.H{"valid": false, "error": fe.Detail()})
			return
		}

		names := make([]string, 0, len(intents))
		for i := range intents {
			names = append(names, intents[i].Name)
		}
		c.JSON(http.StatusOK, gin.H{"valid": true, "intents": names})
	}
}

// =============================================================================
// Intents
// =============================================================================

// IntentSummary is one row of the intent list.
type IntentSummary struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description,omitempty"`
	FunctionName  string `json:"function_name"`
	RequiredSlots int    `json:"required_slots"`
	TotalSlots    int    `json:"total_slots"`
}

// HandleListIntents handles GET /v1/admin/intents.
func HandleListIntents(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		if _, ok := requireAdmin(c, deps, started, "list", "catalog", ""); !ok {
			return
		}

		snap := deps.Catalog.Current()
		summaries := make([]IntentSummary, 0, snap.Len())
		for _, in := range snap.Intents() {
			summaries = append(summaries, IntentSummary{
				Name:          in.Name,
				DisplayName:   in.DisplayName,
				Description:   in.Description,
				FunctionName:  in.FunctionName,
				RequiredSlots: len(in.RequiredSlots()),
				TotalSlots:    len(in.SlotDefs),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"version":   snap.Version(),
			"source":    snap.Source(),
			"loaded_at": snap.LoadedAt(),
			"intents":   summaries,
		})
	}
}

// HandleGetIntent handles GET /v1/admin/intents/:name, returning the
// full definition.
func HandleGetIntent(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		name := c.Param("name")
		if _, ok := requireAdmin(c, deps, started, "get", "catalog", name); !ok {
			return
		}

		snap := deps.Catalog.Current()
		def, ok := snap.Intent(name)
		if !ok {
			renderFault(c, faults.New(faults.CodeNotFound, "unknown intent").With("intent", name),
				middleware.RequestLocale(c), started)
			return
		}
		c.JSON(http.StatusOK, gin.H{"version": snap.Version(), "intent": def})
	}
}

// =============================================================================
// Graph Cache
// =============================================================================

// HandleEvictGraphs handles DELETE /v1/admin/graphs. With ?intent=name
// it evicts that intent's cached graphs across versions; without, it
// purges the whole cache.
func HandleEvictGraphs(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		intentName := c.Query("intent")
		userID, ok := requireAdmin(c, deps, started, "evict", "graph_cache", intentName)
		if !ok {
			return
		}

		evicted := 0
		if intentName == "" {
			evicted = deps.Graphs.Len()
			deps.Graphs.Purge()
		} else {
			evicted = deps.Graphs.Evict(intentName)
		}

		_ = deps.Auditor.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "cache.evict",
			UserID:       userID,
			Action:       "evict",
			ResourceType: "graph_cache",
			ResourceID:   intentName,
			Outcome:      "success",
			Metadata:     extensions.Metadata{"evicted": evicted},
		})

		c.JSON(http.StatusOK, gin.H{"evicted": evicted})
	}
}

// =============================================================================
// Audit Trail
// =============================================================================

// HandleAuditQuery handles GET /v1/admin/audit. Filters arrive as query
// parameters; results are newest first.
func HandleAuditQuery(deps AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		if _, ok := requireAdmin(c, deps, started, "query", "audit", ""); !ok {
			return
		}

		filter := extensions.AuditFilter{
			UserID:       c.Query("user_id"),
			ResourceType: c.Query("resource_type"),
			ResourceID:   c.Query("resource_id"),
			Outcome:      c.Query("outcome"),
		}
		if t := c.Query("type"); t != "" {
			filter.EventTypes = []string{t}
		}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				renderFault(c, faults.New(faults.CodeValidation, "limit must be a non-negative integer"),
					middleware.RequestLocale(c), started)
				return
			}
			filter.Limit = n
		}
		if raw := c.Query("offset"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				renderFault(c, faults.New(faults.CodeValidation, "offset must be a non-negative integer"),
					middleware.RequestLocale(c), started)
				return
			}
			filter.Offset = n
		}

		events, err := deps.Auditor.Query(c.Request.Context(), filter)
		if err != nil {
			renderFault(c, err, middleware.RequestLocale(c), started)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
	}
}
