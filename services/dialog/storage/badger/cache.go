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
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// DefaultCacheTTL applies when Set receives a non-positive ttl and no
// default was configured.
const DefaultCacheTTL = 30 * time.Minute

// Cache is a storage.Cache view over the store's database. Entries carry
// BadgerDB-native TTLs and live under their own key prefix, so cache
// traffic can never collide with session, turn, or catalog records.
//
// Unlike the in-process memory cache, entries here survive restarts,
// which keeps live sessions warm across deploys of a single-node service.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	store      *Store
	defaultTTL time.Duration
}

// Compile-time interface check.
var _ storage.Cache = (*Cache)(nil)

// Cache returns a cache view over the store. A non-positive defaultTTL
// falls back to DefaultCacheTTL. The view shares the store's lifecycle;
// closing the store closes it.
func (s *Store) Cache(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &Cache{store: s, defaultTTL: defaultTTL}
}

// Get returns the value for key, or storage.ErrCacheMiss. BadgerDB treats
// expired entries as deleted, so expiry needs no check here.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.store.ready(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, storage.ErrCacheMiss
	case err != nil:
		return nil, storeFault(err, "cache get")
	}
	return value, nil
}

// Set stores value under key for ttl. A non-positive ttl uses the
// configured default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.store.ready(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	err := c.store.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(cacheKey(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return storeFault(err, "cache set")
	}
	return nil
}

// Del removes key. Absent keys are not an error.
func (c *Cache) Del(ctx context.Context, key string) error {
	if err := c.store.ready(ctx); err != nil {
		return err
	}

	err := c.store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cacheKey(key))
	})
	if err != nil {
		return storeFault(err, "cache del")
	}
	return nil
}

// ClearExpired reports zero: BadgerDB drops expired entries at read time
// and reclaims their space during compaction. This call just nudges the
// value log GC so a sweep reclaims disk sooner.
func (c *Cache) ClearExpired(ctx context.Context) (int, error) {
	if err := c.store.ready(ctx); err != nil {
		return 0, err
	}
	if !c.store.config.InMemory {
		c.store.collectValueLog()
	}
	return 0, nil
}

// ClearLowPriority evicts a fraction of cache entries, clamped to [0,1].
// BadgerDB keeps no recency information, so eviction runs in key order
// rather than least-recently-used.
func (c *Cache) ClearLowPriority(ctx context.Context, fraction float64) (int, error) {
	if err := c.store.ready(ctx); err != nil {
		return 0, err
	}
	if fraction <= 0 {
		return 0, nil
	}
	if fraction > 1 {
		fraction = 1
	}

	prefix := []byte(cachePrefix)
	var keys [][]byte
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, storeFault(err, "cache scan")
	}

	target := int(float64(len(keys)) * fraction)
	if target == 0 {
		return 0, nil
	}

	err = c.store.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys[:target] {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storeFault(err, "cache evict")
	}
	return target, nil
}

// Len counts live cache entries. Used by tests and health output.
func (c *Cache) Len(ctx context.Context) (int, error) {
	if err := c.store.ready(ctx); err != nil {
		return 0, err
	}

	count := 0
	prefix := []byte(cachePrefix)
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, storeFault(err, "cache len")
	}
	return count, nil
}
