// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/handlers"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
)

// Deps carries everything the route table needs. Auth and Auditor come
// from a normalized ServiceOptions; RateLimit may be nil to serve
// without throttling (tests mostly).
type Deps struct {
	Chat   handlers.ChatDeps
	Admin  handlers.AdminDeps
	Health handlers.HealthDeps

	Sessions  *session.Manager
	Auth      extensions.AuthProvider
	Auditor   extensions.AuditLogger
	RateLimit *middleware.RateLimiter
	Logger    *slog.Logger
}

// SetupRoutes registers the dialog service's HTTP surface. Health and
// metrics are open; everything under /v1 sits behind authentication and
// the per-user rate limiter.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(middleware.RequestID())

	router.GET("/health", handlers.HandleHealth(deps.Health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Auth, deps.Auditor))
	if deps.RateLimit != nil {
		v1.Use(deps.RateLimit.Middleware())
	}
	{
		v1.POST("/chat", handlers.HandleChat(deps.Chat))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps.Chat))

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId", handlers.HandleGetSession(deps.Sessions, deps.Logger))
			sessions.DELETE("/:sessionId", handlers.HandleDeleteSession(deps.Sessions, deps.Auditor, deps.Logger))
		}

		// Catalog and operations routes
		admin := v1.Group("/admin")
		{
			admin.POST("/catalog/reload", handlers.HandleCatalogReload(deps.Admin))
			admin.POST("/catalog/validate", handlers.HandleCatalogValidate(deps.Admin))
			admin.GET("/intents", handlers.HandleListIntents(deps.Admin))
			admin.GET("/intents/:name", handlers.HandleGetIntent(deps.Admin))
			admin.DELETE("/graphs", handlers.HandleEvictGraphs(deps.Admin))
			admin.GET("/audit", handlers.HandleAuditQuery(deps.Admin))
		}
	}
}
