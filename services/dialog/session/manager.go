// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the lifecycle of dialogue sessions: exclusive
// acquisition for the duration of a turn, checkpoint/rollback around turn
// failures, cache and store persistence, TTL expiry, and the per-user
// context overlay.
//
// Exactly one turn mutates a session at a time. Acquire hands out the
// session together with a release function; overlapping requests for the
// same session either queue (bounded by Config.AcquireWait) or fail fast
// with a session-busy fault, depending on configuration.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	// DefaultCacheTTL is the sliding idle lifetime of a cached session.
	DefaultCacheTTL = 30 * time.Minute

	// DefaultAcquireWait bounds how long a turn queues for a busy session
	// before giving up with a session-unavailable fault.
	DefaultAcquireWait = 5 * time.Second

	// DefaultFlushEvery is the minimum interval between authoritative
	// store writes for an active session. The cache is written on every
	// release; the store only periodically and on close.
	DefaultFlushEvery = 30 * time.Second

	// DefaultContextTTL is the lifetime of the persisted user context
	// overlay fragment.
	DefaultContextTTL = 24 * time.Hour

	// flushTimeout bounds release-path persistence, which runs on a
	// background context because the turn's context may already be done.
	flushTimeout = 5 * time.Second
)

// Config tunes the session manager.
type Config struct {
	// CacheTTL is the sliding idle lifetime of a session. It drives both
	// the cache entry TTL and the staleness check on load.
	CacheTTL time.Duration

	// AcquireWait is how long Acquire queues for a held session before
	// failing. Ignored when FailFast is set.
	AcquireWait time.Duration

	// FailFast rejects overlapping turns immediately with a session-busy
	// fault instead of queueing.
	FailFast bool

	// FlushEvery is the minimum interval between store writes for a
	// session that stays active. Close always flushes.
	FlushEvery time.Duration

	// ContextTTL is the lifetime of persisted user context fragments.
	ContextTTL time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		CacheTTL:    DefaultCacheTTL,
		AcquireWait: DefaultAcquireWait,
		FlushEvery:  DefaultFlushEvery,
		ContextTTL:  DefaultContextTTL,
	}
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.AcquireWait <= 0 {
		c.AcquireWait = DefaultAcquireWait
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = DefaultFlushEvery
	}
	if c.ContextTTL <= 0 {
		c.ContextTTL = DefaultContextTTL
	}
	return c
}

// =============================================================================
// Manager
// =============================================================================

// Release finishes a turn. A nil error commits the session; a non-nil
// error rolls the session back to its state at acquire time. Calling it
// more than once is a no-op.
type Release func(err error)

// entry is the in-process home of one live session. The lock channel holds
// a single token; owning the token is owning the session.
type entry struct {
	lock      chan struct{}
	sess      *datatypes.Session
	lastFlush time.Time

	// gone marks an entry removed from the manager's table while a waiter
	// was queued on it. Waiters that win the token afterwards retry.
	gone bool
}

// Manager coordinates session access over the authoritative store and the
// TTL cache.
type Manager struct {
	store  storage.Store
	cache  storage.Cache
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	now func() time.Time
}

// NewManager builds a session manager over its persistence collaborators.
func NewManager(store storage.Store, cache storage.Cache, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		cache:   cache,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// =============================================================================
// Acquire / Release
// =============================================================================

// Acquire hands out exclusive ownership of the session for one turn.
//
// An empty sessionID mints a fresh session under a new UUID. A presented
// id whose session has idled past CacheTTL, or was closed, is re-minted in
// place: the caller keeps its id and gets a clean session. A session owned
// by a different user is refused.
//
// The returned Release must be called exactly once. Release(nil) commits:
// the activity stamp and version advance, the cache is rewritten under a
// sliding TTL, and the store is flushed when the flush interval has
// elapsed or the session closed. Release(err) restores the session to the
// checkpoint taken here, so a failed turn leaves no partial writes.
func (m *Manager) Acquire(ctx context.Context, sessionID, userID string) (*datatypes.Session, Release, error) {
	if len(sessionID) > datatypes.MaxSessionIDBytes {
		return nil, nil, faults.Newf(faults.CodeValidation,
			"session id exceeds %d bytes", datatypes.MaxSessionIDBytes)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	deadline := m.now().Add(m.cfg.AcquireWait)
	for {
		ent, err := m.entryFor(sessionID)
		if err != nil {
			return nil, nil, err
		}
		acquired, err := m.lockEntry(ctx, ent, deadline)
		if err != nil {
			return nil, nil, err
		}
		if !acquired {
			continue // entry vanished while queued; take a fresh one
		}

		sess, err := m.loadLocked(ctx, ent, sessionID, userID)
		if err != nil {
			ent.lock <- struct{}{}
			return nil, nil, err
		}

		checkpoint := sess.Clone()
		var once sync.Once
		release := func(turnErr error) {
			once.Do(func() { m.release(ent, checkpoint, turnErr) })
		}
		return sess, release, nil
	}
}

// entryFor returns the live entry for id, creating it if needed.
func (m *Manager) entryFor(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, faults.New(faults.CodeUnavailable, "session manager is shut down")
	}
	ent, ok := m.entries[id]
	if !ok {
		ent = &entry{lock: make(chan struct{}, 1)}
		ent.lock <- struct{}{}
		m.entries[id] = ent
		m.setActiveGauge()
	}
	return ent, nil
}

// lockEntry takes the entry's token, queueing per configuration. It
// returns false when the entry was removed while we queued, in which case
// the token has already been put back and the caller should retry.
func (m *Manager) lockEntry(ctx context.Context, ent *entry, deadline time.Time) (bool, error) {
	start := m.now()

	if m.cfg.FailFast {
		select {
		case <-ent.lock:
		default:
			return false, faults.New(faults.CodeSessionBusy,
				"session is processing another request")
		}
	} else {
		wait := deadline.Sub(m.now())
		if wait <= 0 {
			return false, faults.New(faults.CodeSessionUnavailable,
				"session acquisition timed out")
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ent.lock:
		case <-timer.C:
			return false, faults.New(faults.CodeSessionUnavailable,
				"session acquisition timed out")
		case <-ctx.Done():
			return false, faults.Wrap(ctx.Err(), faults.CodeTimeout,
				"session acquisition canceled")
		}
	}

	if met := observability.Default; met != nil {
		met.SessionLockWaitSeconds.Observe(m.now().Sub(start).Seconds())
	}

	m.mu.Lock()
	gone := ent.gone
	m.mu.Unlock()
	if gone {
		ent.lock <- struct{}{}
		return false, nil
	}
	return true, nil
}

// loadLocked materializes the session for an entry whose token we hold:
// in-process state first, then cache, then store, then a fresh session.
func (m *Manager) loadLocked(ctx context.Context, ent *entry, sessionID, userID string) (*datatypes.Session, error) {
	now := m.now()

	if ent.sess == nil {
		if sess := m.fromCache(ctx, sessionID); sess != nil {
			ent.sess = sess
		} else if sess, err := m.fromStore(ctx, sessionID); err != nil {
			return nil, err
		} else if sess != nil {
			ent.sess = sess
		}
	}

	if ent.sess != nil && ent.sess.UserID != "" && userID != "" && ent.sess.UserID != userID {
		return nil, faults.Newf(faults.CodeForbidden,
			"session %s belongs to another user", sessionID)
	}

	stale := ent.sess != nil &&
		(ent.sess.State == datatypes.SessionClosed ||
			now.Sub(ent.sess.LastSeenAt) > m.cfg.CacheTTL)
	if stale {
		m.closeStale(ent.sess)
		ent.sess = nil
	}

	if ent.sess == nil {
		ent.sess = datatypes.NewSession(sessionID, userID, now)
		ent.lastFlush = now
		if met := observability.Default; met != nil {
			met.SessionsCreatedTotal.Inc()
		}
		m.logger.Debug("session.manager: session created",
			"session_id", sessionID)
	}
	return ent.sess, nil
}

func (m *Manager) fromCache(ctx context.Context, sessionID string) *datatypes.Session {
	raw, err := m.cache.Get(ctx, storage.SessionKey(sessionID))
	if err != nil {
		return nil
	}
	var sess datatypes.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		m.logger.Warn("session.manager: dropping corrupt cached session",
			"session_id", sessionID, "error", err)
		_ = m.cache.Del(ctx, storage.SessionKey(sessionID))
		return nil
	}
	return &sess
}

func (m *Manager) fromStore(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		return sess, nil
	case faults.IsCode(err, faults.CodeNotFound) || isNotFound(err):
		return nil, nil
	default:
		return nil, faults.Wrapf(err, faults.CodeStorageTransient,
			"loading session %s", sessionID)
	}
}

func isNotFound(err error) bool {
	return err != nil && (err == storage.ErrNotFound ||
		faults.CodeOf(err) == faults.CodeNotFound)
}

// closeStale persists a closed marker for a session being re-minted, so
// the store keeps an honest record of how the previous thread ended.
func (m *Manager) closeStale(sess *datatypes.Session) {
	sess.State = datatypes.SessionClosed
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := m.store.PutSession(ctx, sess); err != nil {
		m.logger.Warn("session.manager: closing stale session failed",
			"session_id", sess.ID, "error", err)
	}
}

// release commits or rolls back, persists, and returns the token.
func (m *Manager) release(ent *entry, checkpoint *datatypes.Session, turnErr error) {
	defer func() { ent.lock <- struct{}{} }()

	if turnErr != nil {
		ent.sess = checkpoint
		m.logger.Debug("session.manager: turn rolled back",
			"session_id", checkpoint.ID, "error_code", string(faults.CodeOf(turnErr)))
		return
	}

	now := m.now()
	sess := ent.sess
	sess.Touch(now)
	sess.Version++

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if raw, err := json.Marshal(sess); err != nil {
		m.logger.Error("session.manager: session marshal failed",
			"session_id", sess.ID, "error", err)
	} else if err := m.cache.Set(ctx, storage.SessionKey(sess.ID), raw, m.cfg.CacheTTL); err != nil {
		m.logger.Warn("session.manager: session cache write failed",
			"session_id", sess.ID, "error", err)
	}

	closing := sess.State == datatypes.SessionClosed
	if closing || now.Sub(ent.lastFlush) >= m.cfg.FlushEvery {
		if err := m.store.PutSession(ctx, sess); err != nil {
			m.logger.Warn("session.manager: session store flush failed",
				"session_id", sess.ID, "error", err)
		} else {
			ent.lastFlush = now
		}
	}

	if closing {
		_ = m.cache.Del(ctx, storage.SessionKey(sess.ID))
		m.remove(sess.ID, ent)
	}
}

// remove drops an entry from the table and marks it for queued waiters.
func (m *Manager) remove(id string, ent *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[id]; ok && cur == ent {
		ent.gone = true
		delete(m.entries, id)
		m.setActiveGauge()
	}
}

func (m *Manager) setActiveGauge() {
	if met := observability.Default; met != nil {
		met.ActiveSessions.Set(float64(len(m.entries)))
	}
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot returns a read-only copy of the session without disturbing a
// turn in flight. A held session is answered from the cache, so the copy
// may trail the live session by the turn being processed. Unknown ids
// return a not-found fault.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	m.mu.Lock()
	ent, ok := m.entries[sessionID]
	m.mu.Unlock()

	if ok {
		select {
		case <-ent.lock:
			var sess *datatypes.Session
			if ent.sess != nil {
				sess = ent.sess.Clone()
			}
			ent.lock <- struct{}{}
			if sess != nil {
				return sess, nil
			}
		default:
			// turn in flight, fall through to cache
		}
	}

	if sess := m.fromCache(ctx, sessionID); sess != nil {
		return sess, nil
	}
	sess, err := m.fromStore(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, faults.Newf(faults.CodeNotFound, "session %s not found", sessionID)
	}
	return sess, nil
}

// =============================================================================
// Expiry / Shutdown
// =============================================================================

// Expire closes every live session idle since before, persisting each to
// the store and dropping it from cache and table. Sessions mid-turn are
// skipped; they are not idle. It returns the number closed.
func (m *Manager) Expire(ctx context.Context, before time.Time) int {
	m.mu.Lock()
	candidates := make(map[string]*entry, len(m.entries))
	for id, ent := range m.entries {
		candidates[id] = ent
	}
	m.mu.Unlock()

	expired := 0
	for id, ent := range candidates {
		select {
		case <-ent.lock:
		default:
			continue
		}

		if ent.sess == nil || !ent.sess.LastSeenAt.Before(before) {
			ent.lock <- struct{}{}
			continue
		}

		ent.sess.State = datatypes.SessionClosed
		if err := m.store.PutSession(ctx, ent.sess); err != nil {
			m.logger.Warn("session.manager: expiring session flush failed",
				"session_id", id, "error", err)
		}
		_ = m.cache.Del(ctx, storage.SessionKey(id))
		m.remove(id, ent)
		ent.lock <- struct{}{}

		expired++
		if met := observability.Default; met != nil {
			met.SessionsExpiredTotal.Inc()
		}
	}

	if expired > 0 {
		m.logger.Info("session.manager: expired idle sessions", "count", expired)
	}
	return expired
}

// CloseSession closes one session on request: marks it closed, flushes it
// to the store, and drops it from cache and table. The store keeps the
// closed record as transcript custodian. userID must match the session's
// owner; empty skips the check (admin paths). Blocks while a turn holds
// the session.
func (m *Manager) CloseSession(ctx context.Context, sessionID, userID string) error {
	m.mu.Lock()
	ent, live := m.entries[sessionID]
	m.mu.Unlock()

	if live {
		select {
		case <-ent.lock:
		case <-ctx.Done():
			return faults.Wrap(ctx.Err(), faults.CodeTimeout, "close wait canceled")
		}
		defer func() { ent.lock <- struct{}{} }()

		if ent.sess != nil {
			if userID != "" && ent.sess.UserID != userID {
				return faults.New(faults.CodeForbidden, "session belongs to another user")
			}
			ent.sess.State = datatypes.SessionClosed
			if err := m.store.PutSession(ctx, ent.sess); err != nil {
				return faults.Wrapf(err, faults.CodeStorageTransient,
					"closing session %s", sessionID)
			}
		}
		_ = m.cache.Del(ctx, storage.SessionKey(sessionID))
		m.remove(sessionID, ent)
		m.logger.Info("session.manager: session closed on request", "session_id", sessionID)
		return nil
	}

	sess, err := m.fromStore(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return faults.Newf(faults.CodeNotFound, "session %s not found", sessionID)
	}
	if userID != "" && sess.UserID != userID {
		return faults.New(faults.CodeForbidden, "session belongs to another user")
	}
	if sess.State != datatypes.SessionClosed {
		sess.State = datatypes.SessionClosed
		if err := m.store.PutSession(ctx, sess); err != nil {
			return faults.Wrapf(err, faults.CodeStorageTransient,
				"closing session %s", sessionID)
		}
	}
	_ = m.cache.Del(ctx, storage.SessionKey(sessionID))
	return nil
}

// FlushAll writes every live session to the store. Used at shutdown, after
// the handlers have drained.
func (m *Manager) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	candidates := make(map[string]*entry, len(m.entries))
	for id, ent := range m.entries {
		candidates[id] = ent
	}
	m.mu.Unlock()

	var firstErr error
	for id, ent := range candidates {
		select {
		case <-ent.lock:
		case <-ctx.Done():
			return faults.Wrap(ctx.Err(), faults.CodeTimeout, "session flush canceled")
		}
		if ent.sess != nil {
			if err := m.store.PutSession(ctx, ent.sess); err != nil && firstErr == nil {
				firstErr = faults.Wrapf(err, faults.CodeStorageTransient,
					"flushing session %s", id)
			}
		}
		ent.lock <- struct{}{}
	}
	return firstErr
}

// Close flushes all sessions and refuses further acquisition.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.FlushAll(ctx)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
