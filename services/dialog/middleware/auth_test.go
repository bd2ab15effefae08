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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// stubAuthProvider returns a fixed identity or a fixed error.
type stubAuthProvider struct {
	info *extensions.AuthInfo
	err  error
}

func (s *stubAuthProvider) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return s.info, s.err
}

// authProbe builds a router guarded by the auth middleware with one
// probe route that reports the identity it saw.
func authProbe(provider extensions.AuthProvider, auditor extensions.AuditLogger) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), AuthMiddleware(provider, auditor))
	router.GET("/probe", func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusOK, gin.H{"user_id": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": info.UserID})
	})
	return router
}

func probeWithToken(router *gin.Engine, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/probe", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) datatypes.ErrorResponse {
	t.Helper()
	var body datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// =============================================================================
// Token Extraction Tests
// =============================================================================

func TestExtractBearerToken_Parsing(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"shouting scheme", "BEARER abc123", "abc123"},
		{"mixed case scheme", "BeArEr abc123", "abc123"},
		{"padded token", "Bearer   abc123  ", "abc123"},
		{"missing header", "", ""},
		{"bare token", "abc123", ""},
		{"basic scheme", "Basic abc123", ""},
		{"scheme only", "Bearer", ""},
		{"scheme with no token", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_PassesIdentity(t *testing.T) {
	provider := &stubAuthProvider{info: &extensions.AuthInfo{
		UserID: "user-123",
		Email:  "user@example.com",
		Roles:  []string{"admin"},
	}}

	w := probeWithToken(authProbe(provider, &extensions.NopAuditLogger{}), "valid-token")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-123")
}

func TestAuthMiddleware_RendersEnvelope(t *testing.T) {
	provider := &stubAuthProvider{err: extensions.ErrUnauthorized}

	w := probeWithToken(authProbe(provider, &extensions.NopAuditLogger{}), "bad-token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := decodeErrorBody(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, string(faults.CodeUnauthenticated), body.Error.Code)
	assert.Equal(t, w.Header().Get("X-Request-ID"), body.Metadata.RequestID)
}

func TestAuthMiddleware_KeepsProviderCode(t *testing.T) {
	// An enterprise provider distinguishing an expired credential keeps
	// its code on the wire.
	provider := &stubAuthProvider{err: faults.New(faults.CodeTokenExpired, "credential expired")}

	w := probeWithToken(authProbe(provider, &extensions.NopAuditLogger{}), "stale-token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(faults.CodeTokenExpired), decodeErrorBody(t, w).Error.Code)
}

func TestAuthMiddleware_MapsUnclassifiedError(t *testing.T) {
	provider := &stubAuthProvider{err: errors.New("identity backend unreachable")}

	w := probeWithToken(authProbe(provider, &extensions.NopAuditLogger{}), "any-token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(faults.CodeUnauthenticated), decodeErrorBody(t, w).Error.Code)
}

func TestAuthMiddleware_LocalUserDefault(t *testing.T) {
	// Nop provider, no Authorization header at all: the request runs as
	// local-user so CLI traffic needs no identity setup.
	w := probeWithToken(authProbe(&extensions.NopAuthProvider{}, &extensions.NopAuditLogger{}), "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "local-user")
}

func TestAuthMiddleware_AuditsFailure(t *testing.T) {
	provider := &stubAuthProvider{err: extensions.ErrUnauthorized}
	auditor := extensions.NewMemoryAuditor(8)

	probeWithToken(authProbe(provider, auditor), "bad-token")

	events, err := auditor.Query(context.Background(), extensions.AuditFilter{
		EventTypes: []string{"auth.failed"},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "failure", events[0].Outcome)
	assert.Equal(t, "/probe", events[0].ResourceID)

	// The token never lands in the event, only its presence.
	present, ok := extensions.Metadata(events[0].Metadata).GetBool("token_present")
	assert.True(t, ok)
	assert.True(t, present)
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestAuthInfo_RoundTrip(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	want := &extensions.AuthInfo{
		UserID: "test-user",
		Email:  "test@example.com",
		Roles:  []string{"viewer"},
	}

	SetAuthInfo(c, want)

	got := GetAuthInfo(c)
	require.NotNil(t, got)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.Roles, got.Roles)
}

func TestAuthInfo_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Nil(t, GetAuthInfo(c))
}

func TestAuthInfo_WrongStoredType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(authInfoKey, "not an AuthInfo")

	assert.Nil(t, GetAuthInfo(c))
}

// =============================================================================
// Locale Helper Tests
// =============================================================================

func TestRequestLocale(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"no header", "", "zh"},
		{"english", "en-US,en;q=0.9", "en"},
		{"chinese", "zh-CN", "zh"},
		{"other", "fr-FR", "zh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Accept-Language", tt.header)
			}

			assert.Equal(t, tt.want, RequestLocale(c))
		})
	}
}
