// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package faults

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call. Callers that own
// a fallback should check for it with errors.Is and degrade instead of
// surfacing the rejection.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// =============================================================================
// Breaker State
// =============================================================================

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed is normal operation - calls pass through.
	BreakerClosed BreakerState = iota
	// BreakerOpen means too many recent failures - calls are rejected.
	BreakerOpen
	// BreakerHalfOpen is testing recovery - limited probe calls allowed.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// =============================================================================
// Configuration
// =============================================================================

// BreakerConfig configures one per-dependency circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within FailureWindow
	// before opening (default: 3).
	FailureThreshold int

	// FailureWindow bounds how long failures count toward the threshold
	// (default: 60s).
	FailureWindow time.Duration

	// RecoveryTimeout is how long to stay open before probing (default: 30s).
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls is both the number of concurrent probes admitted in
	// half-open and the successful probes required to close (default: 3).
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the standard dependency-guard settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    60 * time.Second,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Validate checks config sanity.
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.New("breaker: FailureThreshold must be >= 1")
	}
	if c.FailureWindow <= 0 {
		return errors.New("breaker: FailureWindow must be positive")
	}
	if c.RecoveryTimeout <= 0 {
		return errors.New("breaker: RecoveryTimeout must be positive")
	}
	if c.HalfOpenMaxCalls < 1 {
		return errors.New("breaker: HalfOpenMaxCalls must be >= 1")
	}
	return nil
}

// BreakerStats is a point-in-time snapshot for health reporting.
type BreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	WindowFailures  int       `json:"window_failures"`
	LastStateChange time.Time `json:"last_state_change"`
}

// =============================================================================
// Breaker
// =============================================================================

// Breaker guards one external dependency. State moves closed -> open ->
// half-open -> closed; an open breaker can never re-open without first
// traversing half-open.
//
// Thread Safety: safe for concurrent use.
type Breaker struct {
	name   string
	config BreakerConfig

	// onStateChange, when set, observes every transition. Used to drive
	// metrics. Invoked with the breaker lock held; must not block.
	onStateChange func(name string, from, to BreakerState)

	// now is injectable for tests.
	now func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failures        int
	windowStart     time.Time
	probeSuccesses  int
	halfOpenActive  int
	lastStateChange time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewBreaker creates a named breaker. Invalid configs fall back to defaults
// field by field so a partially-configured breaker still protects.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold < 1 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = def.FailureWindow
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if config.HalfOpenMaxCalls < 1 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &Breaker{
		name:            name,
		config:          config,
		now:             time.Now,
		state:           BreakerClosed,
		lastStateChange: time.Now(),
	}
}

// OnStateChange registers a transition observer. Call before first use.
func (b *Breaker) OnStateChange(fn func(name string, from, to BreakerState)) {
	b.onStateChange = fn
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow checks whether a call may proceed.
//
// Outputs:
//   - bool: true if the call should proceed.
//   - func(): release to call when the request completes (may be nil).
//
// Usage:
//
//	allowed, release := b.Allow()
//	if !allowed {
//	    return faults.ErrCircuitOpen
//	}
//	if release != nil {
//	    defer release()
//	}
func (b *Breaker) Allow() (bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	switch b.state {
	case BreakerClosed:
		return true, nil

	case BreakerOpen:
		if b.now().Sub(b.lastStateChange) > b.config.RecoveryTimeout {
			b.transitionTo(BreakerHalfOpen)
			return b.tryProbe()
		}
		b.totalRejections++
		return false, nil

	case BreakerHalfOpen:
		return b.tryProbe()
	}

	return false, nil
}

// tryProbe admits a half-open probe if capacity remains.
// Must be called with lock held.
func (b *Breaker) tryProbe() (bool, func()) {
	if b.halfOpenActive >= b.config.HalfOpenMaxCalls {
		b.totalRejections++
		return false, nil
	}
	b.halfOpenActive++
	return true, func() {
		b.mu.Lock()
		if b.halfOpenActive > 0 {
			b.halfOpenActive--
		}
		b.mu.Unlock()
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0

	if b.state == BreakerHalfOpen {
		b.probeSuccesses++
		if b.probeSuccesses >= b.config.HalfOpenMaxCalls {
			b.transitionTo(BreakerClosed)
		}
	}
}

// RecordFailure records a failed call. Failures age out of the window; a
// single failed probe in half-open reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++

	switch b.state {
	case BreakerClosed:
		now := b.now()
		if b.failures == 0 || now.Sub(b.windowStart) > b.config.FailureWindow {
			b.windowStart = now
			b.failures = 0
		}
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen)
	}
}

// transitionTo changes state. Must be called with lock held.
func (b *Breaker) transitionTo(newState BreakerState) {
	from := b.state
	b.state = newState
	b.lastStateChange = b.now()
	b.failures = 0
	b.probeSuccesses = 0
	if newState != BreakerHalfOpen {
		b.halfOpenActive = 0
	}
	slog.Info("faults.breaker: state change",
		"dependency", b.name,
		"from", from.String(),
		"to", newState.String(),
	)
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, newState)
	}
}

// Execute runs fn under breaker protection. A rejected call returns
// ErrCircuitOpen; otherwise the outcome of fn is recorded and returned.
// Context cancellation counts as a failure only when fn reports it.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	allowed, release := b.Allow()
	if !allowed {
		return ErrCircuitOpen
	}
	if release != nil {
		defer release()
	}

	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Stats returns a snapshot for /health.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStats{
		Name:            b.name,
		State:           b.state.String(),
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		WindowFailures:  b.failures,
		LastStateChange: b.lastStateChange,
	}
}

// Reset forces the breaker back to closed. Intended for admin tooling.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		b.transitionTo(BreakerClosed)
	}
	b.failures = 0
	b.probeSuccesses = 0
	b.halfOpenActive = 0
}
