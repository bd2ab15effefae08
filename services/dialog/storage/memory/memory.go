// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory provides the in-process storage.Cache: an LRU with per-key
// TTL. It backs live sessions, user-context fragments, and user profiles in
// single-node deployments; the interface allows swapping in a shared cache
// without touching callers.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// =============================================================================
// Configuration
// =============================================================================

// Config sizes the cache.
type Config struct {
	// MaxEntries bounds the cache; at capacity the least recently used
	// entry is evicted (default: 10000).
	MaxEntries int

	// DefaultTTL applies when Set receives a non-positive ttl
	// (default: 30 min).
	DefaultTTL time.Duration
}

// DefaultConfig returns the standard single-node sizing.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 10000,
		DefaultTTL: 30 * time.Minute,
	}
}

// =============================================================================
// Cache
// =============================================================================

// entry is one cached value with its deadline.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Cache is an LRU with per-key TTL. Expired entries are dropped lazily on
// Get and in bulk by ClearExpired.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	config Config

	// now is injectable for tests.
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	hits      int64
	misses    int64
	evictions int64
}

// Compile-time interface check.
var _ storage.Cache = (*Cache)(nil)

// New creates a cache. Zero config fields fall back to defaults.
func New(config Config) *Cache {
	def := DefaultConfig()
	if config.MaxEntries < 1 {
		config.MaxEntries = def.MaxEntries
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = def.DefaultTTL
	}
	return &Cache{
		config:  config,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Get returns a copy of the value for key, or storage.ErrCacheMiss. Expired
// entries are removed on the way out.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, storage.ErrCacheMiss
	}
	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, storage.ErrCacheMiss
	}
	c.lru.MoveToFront(elem)
	c.hits++

	// Copy so callers cannot mutate the cached bytes.
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, nil
}

// Set stores a copy of value under key for ttl, evicting the least recently
// used entries at capacity.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = buf
		ent.expiresAt = deadline
		c.lru.MoveToFront(elem)
		return nil
	}

	for c.lru.Len() >= c.config.MaxEntries {
		c.evictOldest()
	}

	elem := c.lru.PushFront(&entry{key: key, value: buf, expiresAt: deadline})
	c.entries[key] = elem
	return nil
}

// Del removes key. Absent keys are not an error.
func (c *Cache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// ClearExpired drops every entry past its deadline, returning the count.
func (c *Cache) ClearExpired(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed, nil
}

// ClearLowPriority evicts the least recently used fraction of entries.
// Fraction is clamped to [0,1].
func (c *Cache) ClearLowPriority(_ context.Context, fraction float64) (int, error) {
	if fraction <= 0 {
		return 0, nil
	}
	if fraction > 1 {
		fraction = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target := int(float64(c.lru.Len()) * fraction)
	removed := 0
	for removed < target {
		if !c.evictOldest() {
			break
		}
		removed++
	}
	return removed, nil
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats reports hit/miss/eviction counters for health output.
func (c *Cache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// evictOldest removes the LRU entry. Must be called with lock held.
func (c *Cache) evictOldest() bool {
	elem := c.lru.Back()
	if elem == nil {
		return false
	}
	c.removeElement(elem)
	c.evictions++
	return true
}

// removeElement unlinks one entry. Must be called with lock held.
func (c *Cache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}
