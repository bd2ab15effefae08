// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs the background session-expiry sweeper.
//
// A conversation abandoned mid-collection would otherwise hold its live
// table entry forever. The sweeper closes sessions idle past the
// configured window, persisting each to the store on the way out. Closed
// records stay readable; only the live working set shrinks.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
)

// =============================================================================
// Configuration
// =============================================================================

// SweeperConfig holds settings for the background expiry sweeper.
//
// # Fields
//
//   - Interval: how often to sweep. Default: 1 minute.
//   - IdleAfter: sessions idle longer than this are closed. Default: 30
//     minutes.
type SweeperConfig struct {
	Interval  time.Duration
	IdleAfter time.Duration
}

// DefaultSweeperConfig returns production defaults: sweep every minute,
// close sessions idle for 30 minutes.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:  time.Minute,
		IdleAfter: 30 * time.Minute,
	}
}

// =============================================================================
// Sweeper
// =============================================================================

// Sweeper periodically expires idle sessions through the session
// manager. Uses the ticker + done channel pattern for graceful shutdown.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Only one sweep runs at
// a time.
type Sweeper struct {
	sessions *session.Manager
	config   SweeperConfig
	logger   *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper. Zero config fields fall back to
// defaults.
func NewSweeper(sessions *session.Manager, config SweeperConfig, logger *slog.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.IdleAfter <= 0 {
		config.IdleAfter = def.IdleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sessions: sessions,
		config:   config,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine. Returns an error if the
// sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("ttl: sweeper already running")
	}
	s.running = true
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.logger.Info("ttl.sweeper: starting",
		"interval", s.config.Interval.String(),
		"idle_after", s.config.IdleAfter.String())

	go s.runLoop(ctx, done)
	return nil
}

// Stop signals the sweep goroutine to exit. Safe to call repeatedly; an
// in-progress sweep finishes on its own.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.logger.Info("ttl.sweeper: stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow performs one sweep immediately, outside the schedule. Returns
// the number of sessions closed.
func (s *Sweeper) RunNow(ctx context.Context) int {
	return s.sweep(ctx)
}

// =============================================================================
// Internal
// =============================================================================

func (s *Sweeper) runLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// One sweep right away so a restart does not wait a full interval
	// to clear backlog.
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ttl.sweeper: stopped (context cancelled)")
			return
		case <-done:
			s.logger.Info("ttl.sweeper: stopped (stop requested)")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) int {
	before := s.now().Add(-s.config.IdleAfter)
	closed := s.sessions.Expire(ctx, before)
	if closed > 0 {
		s.logger.Info("ttl.sweeper: sweep completed",
			"closed", closed, "idle_before", before.UTC().Format(time.RFC3339))
	}
	return closed
}
