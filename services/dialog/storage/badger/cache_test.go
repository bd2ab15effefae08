// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// TestCacheRoundTrip verifies set/get/del against the shared database.
func TestCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache(time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "user_profile/alice", []byte(`{"vip":true}`), 0))

	got, err := cache.Get(ctx, "user_profile/alice")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"vip":true}`), got)

	require.NoError(t, cache.Del(ctx, "user_profile/alice"))
	_, err = cache.Get(ctx, "user_profile/alice")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	// Deleting an absent key is not an error.
	require.NoError(t, cache.Del(ctx, "user_profile/alice"))
}

// TestCacheMissOnAbsentKey verifies the miss sentinel.
func TestCacheMissOnAbsentKey(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache(time.Minute)

	_, err := cache.Get(context.Background(), "session/no-such")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

// TestCacheHonorsTTL verifies entries expire. BadgerDB expires on the wall
// clock, so this test sleeps past a short deadline.
func TestCacheHonorsTTL(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache(time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "session/ephemeral", []byte("x"), 50*time.Millisecond))

	_, err := cache.Get(ctx, "session/ephemeral")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	_, err = cache.Get(ctx, "session/ephemeral")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

// TestCacheKeysIsolatedFromRecords verifies cache writes can never shadow
// session records sharing the same database.
func TestCacheKeysIsolatedFromRecords(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache(time.Minute)
	ctx := context.Background()

	// A cache entry under the session cache key must not become a record.
	require.NoError(t, cache.Set(ctx, storage.SessionKey("abc"), []byte("cached"), 0))
	_, err := s.GetSession(ctx, "abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// And a session record must not answer cache gets.
	require.NoError(t, s.PutSession(ctx, sampleSession("xyz", "alice")))
	_, err = cache.Get(ctx, "xyz")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

// TestCacheClearLowPriority verifies fractional eviction.
func TestCacheClearLowPriority(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache(time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("user_context/u%d", i)
		require.NoError(t, cache.Set(ctx, key, []byte("v"), 0))
	}

	removed, err := cache.ClearLowPriority(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	// Clamped above 1.0; evicts everything left.
	removed, err = cache.ClearLowPriority(ctx, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = cache.ClearLowPriority(ctx, 0.5)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

// TestCacheClearExpiredReportsZero documents the backend behavior: badger
// drops expired entries at read time, so the sweep has nothing to count.
func TestCacheClearExpiredReportsZero(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache(time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "session/a", []byte("x"), 30*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	n, err := cache.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = cache.Get(ctx, "session/a")
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

// TestCacheClosedStore verifies the cache shares the store lifecycle.
func TestCacheClosedStore(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache(time.Minute)
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, cache.Set(ctx, "k", []byte("v"), 0), storage.ErrClosed)
}
