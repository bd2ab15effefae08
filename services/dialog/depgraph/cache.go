// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

// DefaultCacheSize bounds the number of cached graphs. Catalogs rarely
// exceed a few dozen intents; the bound only matters across hot reloads
// where multiple catalog versions are briefly live.
const DefaultCacheSize = 256

// Cache memoizes built graphs keyed by intent name and catalog version.
// Graphs are immutable, so a cached instance is shared across turns.
// Concurrent requests for the same key collapse into one build.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	max     int
	flight  singleflight.Group

	hits   int64
	misses int64
}

type cacheEntry struct {
	key   string
	graph *Graph
}

// NewCache creates a graph cache holding at most maxEntries graphs.
// Non-positive sizes fall back to DefaultCacheSize.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		max:     maxEntries,
	}
}

func cacheKey(intentName, catalogVersion string) string {
	return intentName + "@" + catalogVersion
}

// GetOrBuild returns the graph for an intent, building it at most once per
// (intent, catalog version) even under concurrent callers. Build failures
// are not cached; the next caller retries.
func (c *Cache) GetOrBuild(ctx context.Context, intent *datatypes.Intent, catalogVersion string) (*Graph, error) {
	key := cacheKey(intent.Name, catalogVersion)

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		g := elem.Value.(*cacheEntry).graph
		c.mu.Unlock()
		atomic.AddInt64(&c.hits, 1)
		if m := observability.Default; m != nil {
			m.GraphCacheTotal.WithLabelValues("hit").Inc()
		}
		return g, nil
	}
	c.mu.Unlock()
	atomic.AddInt64(&c.misses, 1)
	if m := observability.Default; m != nil {
		m.GraphCacheTotal.WithLabelValues("miss").Inc()
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		g, err := Build(intent)
		if err != nil {
			return nil, err
		}
		c.insert(key, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

func (c *Cache) insert(key string, g *Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).graph = g
		c.lru.MoveToFront(elem)
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, graph: g})
	for c.lru.Len() > c.max {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Evict drops every cached version of one intent. Called when a catalog
// reload changes or removes the intent.
func (c *Cache) Evict(intentName string) int {
	prefix := intentName + "@"
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, elem := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(elem)
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Purge drops every cached graph.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of cached graphs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CacheStats is a point-in-time snapshot for health reporting.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries: c.Len(),
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
	}
}
