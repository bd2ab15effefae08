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
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

// =============================================================================
// Configuration
// =============================================================================

// RateLimitConfig tunes the two limiter dimensions. The user dimension
// keys on the authenticated identity (falling back to the client IP when
// the request carries none), the IP dimension always keys on the client
// address, so one chatty user behind a NAT cannot exhaust the shared
// address budget.
type RateLimitConfig struct {
	// UserRate is the steady per-user request rate in requests/second.
	UserRate rate.Limit

	// UserBurst is the per-user bucket depth.
	UserBurst int

	// IPRate is the steady per-address rate in requests/second.
	IPRate rate.Limit

	// IPBurst is the per-address bucket depth.
	IPBurst int

	// IdleAfter is how long an untouched bucket survives before the
	// sweep drops it.
	IdleAfter time.Duration

	// SweepEvery bounds how often the inline sweep walks the bucket
	// maps.
	SweepEvery time.Duration
}

// DefaultRateLimitConfig returns limits sized for a single-node dialog
// deployment: a user types a handful of turns per second at most, an
// address may front several users.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		UserRate:   5,
		UserBurst:  10,
		IPRate:     20,
		IPBurst:    40,
		IdleAfter:  3 * time.Minute,
		SweepEvery: time.Minute,
	}
}

// =============================================================================
// Rate Limiter
// =============================================================================

// clientLimiter pairs a token bucket with its last use, for eviction.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds per-user and per-IP token buckets with amortized
// eviction of idle entries. Rejections render the standard E1003
// envelope with a Retry-After header derived from the bucket's refill
// schedule.
type RateLimiter struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	users     map[string]*clientLimiter
	ips       map[string]*clientLimiter
	lastSweep time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewRateLimiter builds a limiter; zero config fields take defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.UserRate <= 0 {
		cfg.UserRate = def.UserRate
	}
	if cfg.UserBurst <= 0 {
		cfg.UserBurst = def.UserBurst
	}
	if cfg.IPRate <= 0 {
		cfg.IPRate = def.IPRate
	}
	if cfg.IPBurst <= 0 {
		cfg.IPBurst = def.IPBurst
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = def.IdleAfter
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = def.SweepEvery
	}
	return &RateLimiter{
		cfg:       cfg,
		users:     make(map[string]*clientLimiter),
		ips:       make(map[string]*clientLimiter),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Middleware returns the Gin handler enforcing both dimensions.
//
// Install after AuthMiddleware so the user dimension keys on the
// authenticated identity; without auth info it degrades to a second
// per-IP bucket with user-sized limits.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userKey := c.ClientIP()
		if info := GetAuthInfo(c); info != nil && info.UserID != "" {
			userKey = info.UserID
		}

		scope, retryIn, ok := rl.acquire(userKey, c.ClientIP())
		if ok {
			c.Next()
			return
		}

		if m := observability.Default; m != nil {
			m.RateLimitedTotal.WithLabelValues(scope).Inc()
		}

		seconds := int(math.Ceil(retryIn.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))

		fe := faults.New(faults.CodeRateLimited, "rate limit exceeded").
			With("scope", scope).
			With("retry_after_seconds", seconds)
		c.AbortWithStatusJSON(faults.HTTPStatus(faults.CodeRateLimited),
			datatypes.NewErrorResponse(RequestIDFrom(c), fe, RequestLocale(c), 0))
	}
}

// acquire takes one token from each dimension. When a dimension rejects,
// its reservation and the other dimension's token are both returned so
// rejected requests do not drain budgets. Returns the rejecting scope
// and how long until the bucket refills.
func (rl *RateLimiter) acquire(userKey, ip string) (scope string, retryIn time.Duration, ok bool) {
	rl.mu.Lock()
	now := rl.now()
	rl.maybeSweep(now)
	ipl := rl.limiterFor(rl.ips, ip, rl.cfg.IPRate, rl.cfg.IPBurst, now)
	userl := rl.limiterFor(rl.users, userKey, rl.cfg.UserRate, rl.cfg.UserBurst, now)
	rl.mu.Unlock()

	ipRes := ipl.ReserveN(now, 1)
	if !ipRes.OK() {
		return "ip", rl.cfg.SweepEvery, false
	}
	if delay := ipRes.DelayFrom(now); delay > 0 {
		ipRes.CancelAt(now)
		return "ip", delay, false
	}

	userRes := userl.ReserveN(now, 1)
	if !userRes.OK() {
		ipRes.CancelAt(now)
		return "user", rl.cfg.SweepEvery, false
	}
	if delay := userRes.DelayFrom(now); delay > 0 {
		userRes.CancelAt(now)
		ipRes.CancelAt(now)
		return "user", delay, false
	}

	return "", 0, true
}

// limiterFor returns the bucket for key, creating it on first use.
// Caller holds mu.
func (rl *RateLimiter) limiterFor(m map[string]*clientLimiter, key string, r rate.Limit, burst int, now time.Time) *rate.Limiter {
	cl, exists := m[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(r, burst)}
		m[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// maybeSweep drops buckets idle past IdleAfter, at most once per
// SweepEvery. Caller holds mu.
func (rl *RateLimiter) maybeSweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.cfg.SweepEvery {
		return
	}
	rl.lastSweep = now
	for key, cl := range rl.users {
		if now.Sub(cl.lastSeen) > rl.cfg.IdleAfter {
			delete(rl.users, key)
		}
	}
	for key, cl := range rl.ips {
		if now.Sub(cl.lastSeen) > rl.cfg.IdleAfter {
			delete(rl.ips, key)
		}
	}
}

// size reports the live bucket counts, for tests.
func (rl *RateLimiter) size() (users, ips int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users), len(rl.ips)
}
