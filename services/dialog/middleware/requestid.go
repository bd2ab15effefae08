// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Context Keys
// =============================================================================

// requestIDKey is the context key for the per-request correlation id.
const requestIDKey = "aleutian_request_id"

// =============================================================================
// Request ID Middleware
// =============================================================================

// RequestID creates a Gin middleware that correlates every request.
//
// # Description
//
// Reads the client-supplied X-Request-ID header, minting a fresh UUID
// when absent, and echoes the id on the response before any handler
// runs. The id is stored in the context so handlers and later
// middleware can stamp it into envelopes and logs; the response header
// is therefore present even when a later stage aborts the request.
//
// # Examples
//
//	router := gin.New()
//	router.Use(middleware.RequestID())
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = datatypes.NewRequestID()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestIDFrom returns the request's correlation id, minting and
// storing one when the RequestID middleware has not run. The minted id
// is also echoed on the response header so the envelope and header
// always agree.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = datatypes.NewRequestID()
	}
	c.Set(requestIDKey, id)
	c.Header("X-Request-ID", id)
	return id
}
