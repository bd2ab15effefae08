// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger provides the default storage.Store on embedded BadgerDB,
// plus a storage.Cache view over the same database for deployments that
// want cached session state to survive restarts.
//
// BadgerDB gives local low-latency access (~100µs) and is part of the
// tiered persistence model:
//
//	Hot (RAM cache) → Warm (BadgerDB) → Cold (Weaviate)
//
// Records stored here:
//   - session records (authoritative session state)
//   - turn log (append-only, per session)
//   - the published intent catalog
//   - TTL cache entries, prefix-isolated from the records above
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
// This package follows Apache 2.0 guidelines for attribution and usage.
package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the BadgerDB store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives the store's own log lines and, when set, BadgerDB's
	// internal logging. If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// NumVersionsToKeep is the number of versions to keep per key.
	// Default: 1 (the store does not use multi-version reads).
	NumVersionsToKeep int

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5 (GC when 50% of a value log file is garbage).
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: synchronous writes, single
// version retention, a 5-minute GC interval at a 50% discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory mode, no
// sync writes, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
		GCInterval:        0,
	}
}

// =============================================================================
// Logging Adapter
// =============================================================================

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
// BadgerDB terminates its messages with a newline; strip it so the lines
// sit cleanly in structured output.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
}

// =============================================================================
// Store
// =============================================================================

// Store is the BadgerDB-backed storage.Store and storage.CatalogWriter.
//
// Thread Safety: safe for concurrent use. BadgerDB transactions provide
// isolation; all writes here are single-record, so conflicts only arise on
// catalog publication and are surfaced as transient faults.
type Store struct {
	db     *badger.DB
	config Config
	logger *slog.Logger

	closed atomic.Bool
	gcStop chan struct{}
	gcDone chan struct{}
}

// Compile-time interface checks.
var (
	_ storage.Store         = (*Store)(nil)
	_ storage.CatalogWriter = (*Store)(nil)
)

// Open opens a BadgerDB store with the given configuration, creating the
// directory if needed. Zero GC fields fall back to defaults. The caller
// must Close the store when done.
func Open(config Config) (*Store, error) {
	if !config.InMemory && config.Path == "" {
		return nil, errors.New("badger: path is required for a persistent store")
	}
	if config.NumVersionsToKeep < 1 {
		config.NumVersionsToKeep = 1
	}
	if config.GCDiscardRatio <= 0 || config.GCDiscardRatio > 1 {
		config.GCDiscardRatio = DefaultConfig().GCDiscardRatio
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", config.Path, err)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithSyncWrites(config.SyncWrites)
	opts = opts.WithNumVersionsToKeep(config.NumVersionsToKeep)
	if config.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: config.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		config: config,
		logger: logger,
	}

	// Value log GC only applies to persistent databases.
	if config.GCInterval > 0 && !config.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC()
	}

	s.logger.Info("storage.badger: store opened",
		slog.String("path", config.Path),
		slog.Bool("in_memory", config.InMemory),
		slog.Bool("sync_writes", config.SyncWrites))
	return s, nil
}

// Close stops garbage collection and closes the database. Safe to call
// more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	s.logger.Info("storage.badger: store closed")
	return s.db.Close()
}

// Backup streams a backup of everything written after since to w,
// returning the version to pass as since on the next incremental backup.
// Pass since=0 for a full backup.
func (s *Store) Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	version, err := s.db.Backup(w, since)
	if err != nil {
		return 0, storeFault(err, "backup")
	}
	return version, nil
}

// ready gates every operation: closed stores reject outright, and the
// caller's deadline is honored before a transaction starts.
func (s *Store) ready(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return ctx.Err()
}

// =============================================================================
// Value Log GC
// =============================================================================

func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			s.collectValueLog()
		}
	}
}

// collectValueLog runs one GC pass. ErrNoRewrite means nothing needed
// collecting; ErrRejected means another pass is still running.
func (s *Store) collectValueLog() {
	err := s.db.RunValueLogGC(s.config.GCDiscardRatio)
	switch {
	case err == nil:
		s.logger.Debug("storage.badger: value log GC reclaimed space")
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
	default:
		s.logger.Warn("storage.badger: value log GC failed",
			slog.String("error", err.Error()))
	}
}
