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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// limitedRouter wires RequestID and the limiter in front of a trivial
// handler, optionally authenticating every request as userID.
func limitedRouter(rl *RateLimiter, userID string) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	if userID != "" {
		router.Use(func(c *gin.Context) {
			SetAuthInfo(c, &extensions.AuthInfo{UserID: userID})
			c.Next()
		})
	}
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func hit(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{UserRate: 1, UserBurst: 3, IPRate: 100, IPBurst: 100})
	router := limitedRouter(rl, "alice")

	for i := 0; i < 3; i++ {
		w := hit(router, "")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{UserRate: 1, UserBurst: 2, IPRate: 100, IPBurst: 100})
	router := limitedRouter(rl, "alice")

	hit(router, "")
	hit(router, "")
	w := hit(router, "")

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	body := decodeErrorBody(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, string(faults.CodeRateLimited), body.Error.Code)
	assert.Equal(t, "user", body.Error.Details["scope"])
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{UserRate: 1, UserBurst: 1, IPRate: 100, IPBurst: 100})
	base := time.Now()
	rl.now = func() time.Time { return base }
	router := limitedRouter(rl, "alice")

	assert.Equal(t, http.StatusOK, hit(router, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(router, "").Code)

	base = base.Add(1500 * time.Millisecond)
	assert.Equal(t, http.StatusOK, hit(router, "").Code, "bucket refills at 1 rps")
}

func TestRateLimiter_SeparatesUsers(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{UserRate: 1, UserBurst: 1, IPRate: 100, IPBurst: 100})

	alice := limitedRouter(rl, "alice")
	bob := limitedRouter(rl, "bob")

	assert.Equal(t, http.StatusOK, hit(alice, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(alice, "").Code)
	assert.Equal(t, http.StatusOK, hit(bob, "").Code, "bob has his own bucket")
}

func TestRateLimiter_IPDimension(t *testing.T) {
	// No auth info: both dimensions key on the address.
	rl := NewRateLimiter(RateLimitConfig{UserRate: 100, UserBurst: 100, IPRate: 1, IPBurst: 2})
	router := limitedRouter(rl, "")

	assert.Equal(t, http.StatusOK, hit(router, "203.0.113.7:4000").Code)
	assert.Equal(t, http.StatusOK, hit(router, "203.0.113.7:4001").Code)

	w := hit(router, "203.0.113.7:4002")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeErrorBody(t, w)
	assert.Equal(t, "ip", body.Error.Details["scope"])

	assert.Equal(t, http.StatusOK, hit(router, "198.51.100.9:4000").Code,
		"a different address has its own bucket")
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		UserRate: 100, UserBurst: 100, IPRate: 100, IPBurst: 100,
		IdleAfter:  time.Minute,
		SweepEvery: 30 * time.Second,
	})
	base := time.Now()
	rl.now = func() time.Time { return base }
	rl.lastSweep = base
	router := limitedRouter(rl, "alice")

	hit(router, "")
	users, ips := rl.size()
	require.Equal(t, 1, users)
	require.Equal(t, 1, ips)

	// Two minutes later a different user arrives; the sweep runs and
	// drops alice's idle buckets.
	base = base.Add(2 * time.Minute)
	other := limitedRouter(rl, "carol")
	hit(other, "198.51.100.20:1000")

	users, ips = rl.size()
	assert.Equal(t, 1, users, "alice evicted, carol live")
	assert.Equal(t, 1, ips)
}

func TestRateLimiter_DefaultsApplied(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})

	def := DefaultRateLimitConfig()
	assert.Equal(t, def.UserRate, rl.cfg.UserRate)
	assert.Equal(t, def.IPBurst, rl.cfg.IPBurst)
	assert.Equal(t, def.IdleAfter, rl.cfg.IdleAfter)
}
