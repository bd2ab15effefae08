// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the dialog service.
//
// Three concerns live here: request correlation (RequestID), caller
// identity (AuthMiddleware), and throttling (RateLimiter). All of them
// integrate with the extensions package so enterprise deployments can
// swap the identity and audit plumbing without touching routing.
//
// # Request Pipeline
//
//	Request
//	   │
//	   ▼
//	RequestID ──► echo / mint X-Request-ID
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► read "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► stash AuthInfo for handlers
//	           │
//	           ▼
//	RateLimiter ──► per-user / per-IP token buckets
//	           │
//	           ▼
//	       Handler (reads identity via GetAuthInfo)
//
// Failures at any stage render the standard error envelope: auth failures
// map to the E3xxx codes, limiter rejections to E1003 with a Retry-After
// header.
//
// # Open Source Behavior
//
// The default NopAuthProvider authenticates every request as
// "local-user" with admin privileges, so the CLI and local chat clients
// work with no identity infrastructure at all.
//
// # Enterprise Behavior
//
// Enterprise builds plug in providers backed by real identity systems
// (Okta, Auth0, Azure AD). A provider that classifies its own failures
// (expired versus malformed credentials) keeps those codes on the wire.
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is where AuthMiddleware parks the caller's identity on the
// Gin context. Namespaced to avoid colliding with handler-set values.
const authInfoKey = "dialog_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo records the caller's identity on the Gin context.
//
// # Description
//
// AuthMiddleware calls this after a successful Validate; tests call it
// directly to fabricate an authenticated request. Handlers read the
// value back through GetAuthInfo. Setting again replaces the previous
// identity, and the value lives only for the current request.
//
// # Thread Safety
//
// Safe for concurrent use; the Gin context is request-scoped.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller's identity, or nil when the request
// never passed AuthMiddleware.
//
// # Description
//
// Handlers use this to scope what a request may touch, for example
// checking session ownership before returning a transcript:
//
//	func (h *SessionHandler) HandleGetSession(c *gin.Context) {
//	    info := middleware.GetAuthInfo(c)
//	    if info == nil {
//	        // render E3000 envelope
//	        return
//	    }
//	    // info.UserID, info.Roles ...
//	}
//
// A stored value of the wrong type also comes back nil rather than
// panicking; that only happens when something outside this package
// writes under the same key.
//
// # Thread Safety
//
// Safe for concurrent use; the Gin context is request-scoped.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, _ := v.(*extensions.AuthInfo)
	return info
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware authenticates every request on the group it guards.
//
// # Description
//
// Pulls the bearer token off the Authorization header, hands it to the
// provider, and stores the resulting AuthInfo for downstream handlers.
// A missing or malformed header yields an empty token; NopAuthProvider
// accepts that and answers with the local user, so unauthenticated
// local use keeps working.
//
// Validation failures abort the request with the standard error
// envelope and are recorded through the audit logger as "auth.failed"
// events. The token never appears in the event, only whether one was
// present.
//
// # Error Mapping
//
// A provider returning a classified *faults.Error (expired token,
// malformed token) keeps its code on the wire. ErrUnauthorized and any
// other provider failure map to E3000.
//
// # Inputs
//
//   - provider: validates tokens. Must not be nil.
//   - auditor: records failed attempts. Must not be nil; pass the
//     logger from ServiceOptions.Normalized().
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.AuthMiddleware(opts.AuthProvider, opts.AuditLogger))
//
// # Limitations
//
//   - Bearer tokens only; no Basic or custom schemes
//   - Every request hits Validate; providers cache if they need to
//
// # Assumptions
//
//   - RequestID middleware runs earlier so the envelope carries the id
//   - Provider.Validate is safe for concurrent calls
//
// # Thread Safety
//
// Thread-safe. One middleware value serves all requests.
func AuthMiddleware(provider extensions.AuthProvider, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			var fe *faults.Error
			switch {
			case errors.As(err, &fe):
				// Provider classified the failure itself.
			case errors.Is(err, extensions.ErrUnauthorized):
				fe = faults.New(faults.CodeUnauthenticated, "unauthorized")
			default:
				fe = faults.New(faults.CodeUnauthenticated, "authentication failed")
			}

			_ = auditor.Log(c.Request.Context(), extensions.AuditEvent{
				EventType:    "auth.failed",
				Action:       c.Request.Method,
				ResourceType: "endpoint",
				ResourceID:   c.FullPath(),
				Outcome:      "failure",
				Metadata: extensions.Metadata{
					"code":          string(fe.Code),
					"token_present": token != "",
				},
			})

			c.AbortWithStatusJSON(faults.HTTPStatus(fe.Code),
				datatypes.NewErrorResponse(RequestIDFrom(c), fe, RequestLocale(c), 0))
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken returns the token from "Authorization: Bearer
// <token>", or "" when the header is absent or uses another scheme.
// The scheme match is case-insensitive per RFC 7235; surrounding
// whitespace on the token is trimmed.
func extractBearerToken(c *gin.Context) string {
	const scheme = "bearer "

	header := c.GetHeader("Authorization")
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}

// RequestLocale derives the reply locale from the Accept-Language
// header, for failures rendered before any request body is parsed.
// Mirrors ChatRequest.Locale: anything that is not English renders
// Chinese.
func RequestLocale(c *gin.Context) string {
	lang := strings.ToLower(c.GetHeader("Accept-Language"))
	if strings.HasPrefix(lang, "en") {
		return "en"
	}
	return "zh"
}
