// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistence collaborators of the dialog
// service: the authoritative Store and the TTL Cache. Both are pure
// interfaces; the badger and weaviate subpackages provide Store backends,
// and the memory subpackage provides the Cache.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrCacheMiss is returned by Cache.Get for absent or expired keys.
	ErrCacheMiss = errors.New("storage: cache miss")

	// ErrClosed is returned after the backend has been shut down.
	ErrClosed = errors.New("storage: backend closed")
)

// =============================================================================
// Store
// =============================================================================

// Store is the authoritative persistence collaborator. Implementations are
// deadline-bound through ctx and return typed errors; transient backend
// failures should be wrapped as faults.CodeStorageTransient so the spine
// may retry them.
type Store interface {
	// GetSession loads a session by id. Missing sessions return ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error)

	// PutSession writes the authoritative session record.
	PutSession(ctx context.Context, session *datatypes.Session) error

	// AppendTurn persists one turn under its session. Turns are append-only.
	AppendTurn(ctx context.Context, sessionID string, turn datatypes.Turn) error

	// LoadIntent loads one persisted catalog intent by name.
	LoadIntent(ctx context.Context, name string) (*datatypes.Intent, error)

	// ReloadCatalog loads the full persisted intent set.
	ReloadCatalog(ctx context.Context) ([]datatypes.Intent, error)

	// Close releases backend resources.
	Close() error
}

// CatalogWriter persists a published catalog so the Store can answer
// LoadIntent and ReloadCatalog across restarts. Both shipped Store backends
// implement it; the catalog publisher probes for it with a type assertion.
type CatalogWriter interface {
	SaveCatalog(ctx context.Context, intents []datatypes.Intent) error
}

// =============================================================================
// Cache
// =============================================================================

// Cache is the KV collaborator holding live sessions, user context
// fragments, and user profiles under TTL. Values are opaque bytes; callers
// own serialization.
type Cache interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A non-positive ttl uses the
	// implementation default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// ClearExpired drops entries past their deadline, returning the count.
	ClearExpired(ctx context.Context) (int, error)

	// ClearLowPriority evicts the least recently used fraction of entries,
	// returning the count. Fraction is clamped to [0,1].
	ClearLowPriority(ctx context.Context, fraction float64) (int, error)
}

// =============================================================================
// Cache Keys
// =============================================================================

// Key layout. Sessions embed their version when staleness matters.
const (
	sessionKeyPrefix     = "session/"
	userContextKeyPrefix = "user_context/"
	userProfileKeyPrefix = "user_profile/"
)

// SessionKey is the cache key of a live session.
func SessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

// UserContextKey is the cache key of the transient per-user overlay
// fragment.
func UserContextKey(userID string) string { return userContextKeyPrefix + userID }

// UserProfileKey is the cache key of a user's profile map.
func UserProfileKey(userID string) string { return userProfileKeyPrefix + userID }
