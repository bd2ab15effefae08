// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weaviate provides the alternative storage.Store backend, selected
// with STORE_BACKEND=weaviate. Sessions, turns, and the published catalog
// land as DialogSession/DialogTurn/DialogIntent objects, each carrying its
// full record as JSON plus denormalized filterable dimensions.
//
// Object IDs are deterministic UUIDs derived from the record key, so writes
// are idempotent and reads need no query round-trip. Transient transport
// failures surface as retryable storage faults; resilience (retry, breaker)
// belongs to the caller.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// ErrUnavailable is returned when the Weaviate server fails its readiness
// probe.
var ErrUnavailable = errors.New("weaviate is not available")

// objectNamespace seeds the deterministic object UUIDs.
var objectNamespace = uuid.MustParse("c3a1f2e4-8b6d-4e0a-9c57-2d1b84f6a3e9")

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Weaviate store.
type Config struct {
	// URL is the Weaviate server URL (e.g. "http://localhost:8080").
	URL string

	// Logger receives the store's log lines. Default: slog.Default().
	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url must not be empty")
	}
	return nil
}

// =============================================================================
// Store
// =============================================================================

// Store is the Weaviate-backed storage.Store and storage.CatalogWriter.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	client *weaviate.Client
	logger *slog.Logger
	closed atomic.Bool
}

// Compile-time interface checks.
var (
	_ storage.Store         = (*Store)(nil)
	_ storage.CatalogWriter = (*Store)(nil)
)

// New connects to Weaviate, verifies readiness, and creates any missing
// classes. Connection failure at startup is fatal here; a store that never
// worked is a configuration problem, not a transient one.
func New(ctx context.Context, config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	host, scheme := splitURL(config.URL)
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	s := &Store{client: client, logger: logger}
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, client, logger); err != nil {
		return nil, err
	}

	logger.Info("storage.weaviate: store ready",
		slog.String("url", config.URL))
	return s, nil
}

// splitURL extracts host and scheme from a server URL. Bare hosts default
// to http.
func splitURL(url string) (host, scheme string) {
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		return rest, "https"
	}
	if rest, ok := strings.CutPrefix(url, "http://"); ok {
		return rest, "http"
	}
	return url, "http"
}

// Ready probes the server's readiness endpoint. Wired into /health.
func (s *Store) Ready(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("readiness check: %w", err)
	}
	if !ready {
		return ErrUnavailable
	}
	return nil
}

// Close marks the store closed. The underlying client is plain HTTP and
// holds nothing to tear down.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Info("storage.weaviate: store closed")
	return nil
}

// ready gates every operation.
func (s *Store) ready(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return ctx.Err()
}

// =============================================================================
// Error Mapping
// =============================================================================

// isNotFound reports whether a client error means the object is absent.
// The client surfaces not-found differently across server versions, so
// this matches on the message.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "404") ||
		strings.Contains(msg, "does not exist")
}

// storeFault wraps a transport error as transient so callers may retry it.
// Context errors pass through untouched.
func storeFault(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return faults.Wrapf(err, faults.CodeStorageTransient, "weaviate: %s", op)
}

// =============================================================================
// Object Helpers
// =============================================================================

// objectID derives the deterministic UUID of a record.
func objectID(kind, key string) string {
	return uuid.NewSHA1(objectNamespace, []byte(kind+":"+key)).String()
}

// putObject upserts one object. Weaviate has no native upsert, so this
// probes existence first; both paths are idempotent under the
// deterministic ID.
func (s *Store) putObject(ctx context.Context, class, id string, props map[string]interface{}) error {
	exists, err := s.client.Data().Checker().
		WithClassName(class).
		WithID(id).
		Do(ctx)
	if err != nil {
		return err
	}

	if exists {
		return s.client.Data().Updater().
			WithClassName(class).
			WithID(id).
			WithProperties(props).
			Do(ctx)
	}
	_, err = s.client.Data().Creator().
		WithClassName(class).
		WithID(id).
		WithProperties(props).
		Do(ctx)
	return err
}

// getObjectProps fetches one object's properties by ID.
func (s *Store) getObjectProps(ctx context.Context, class, id string) (map[string]interface{}, error) {
	objects, err := s.client.Data().ObjectsGetter().
		WithClassName(class).
		WithID(id).
		Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if len(objects) == 0 {
		return nil, storage.ErrNotFound
	}

	props, ok := objects[0].Properties.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("object %s/%s has no properties", class, id)
	}
	return props, nil
}

// recordOf extracts the JSON record property.
func recordOf(props map[string]interface{}, field string) (string, error) {
	raw, ok := props[field].(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("missing %s property", field)
	}
	return raw, nil
}
