// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the registered intents and publishes them as
// immutable snapshots.
//
// A snapshot is built once, validated once, and then shared read-only by
// every in-flight turn; hot reloads swap the snapshot pointer atomically.
// Validation happens at publication: structural checks per intent, then a
// dependency-graph build per intent so cyclic configuration is rejected
// before it can ever reach a turn. A failed publication leaves the last
// good snapshot active.
package catalog

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is one published catalog generation. Immutable after Replace.
type Snapshot struct {
	version  string
	source   string
	loadedAt time.Time
	intents  map[string]*datatypes.Intent
	names    []string
}

// Version identifies this generation; graph cache keys include it.
func (s *Snapshot) Version() string { return s.version }

// Source names where the snapshot came from ("builtin" or a file path).
func (s *Snapshot) Source() string { return s.source }

// LoadedAt is the publication time.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Intent returns the named intent.
func (s *Snapshot) Intent(name string) (*datatypes.Intent, bool) {
	in, ok := s.intents[name]
	return in, ok
}

// Names returns the registered intent names sorted ascending.
func (s *Snapshot) Names() []string {
	return append([]string(nil), s.names...)
}

// Intents returns all intents in name order.
func (s *Snapshot) Intents() []*datatypes.Intent {
	out := make([]*datatypes.Intent, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.intents[name])
	}
	return out
}

// Len returns the number of registered intents.
func (s *Snapshot) Len() int { return len(s.intents) }

// =============================================================================
// Manager
// =============================================================================

// Manager owns the current snapshot and serializes replacements.
type Manager struct {
	current atomic.Pointer[Snapshot]
	seq     atomic.Uint64
	graphs  *depgraph.Cache
	logger  *slog.Logger

	mu sync.Mutex // serializes Replace

	now func() time.Time
}

// NewManager creates an empty catalog manager. The graph cache may be nil;
// when present, replaced intents are evicted from it on publication.
func NewManager(graphs *depgraph.Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		graphs: graphs,
		logger: logger,
		now:    time.Now,
	}
	m.current.Store(&Snapshot{
		version: "v0",
		source:  "empty",
		intents: map[string]*datatypes.Intent{},
	})
	return m
}

// Current returns the active snapshot. Never nil.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Intent resolves a name against the current snapshot, returning the
// snapshot it came from so the caller keys graph lookups consistently.
func (m *Manager) Intent(name string) (*datatypes.Intent, *Snapshot, error) {
	snap := m.Current()
	in, ok := snap.Intent(name)
	if !ok {
		return nil, snap, faults.Newf(faults.CodeCatalogInvalid, "unknown intent %q", name).
			With("intent", name).With("catalog_version", snap.Version())
	}
	return in, snap, nil
}

// Replace validates intents and publishes them as the new snapshot.
// On any validation failure nothing is published and the previous snapshot
// stays active.
func (m *Manager) Replace(intents []datatypes.Intent, source string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byName, names, err := Validate(intents)
	if err != nil {
		if mtr := observability.Default; mtr != nil {
			mtr.CatalogReloadsTotal.WithLabelValues("failure").Inc()
		}
		return nil, err
	}

	snap := &Snapshot{
		version:  fmt.Sprintf("v%d", m.seq.Add(1)),
		source:   source,
		loadedAt: m.now(),
		intents:  byName,
		names:    names,
	}

	prev := m.current.Load()
	m.current.Store(snap)
	m.evictChanged(prev, snap)

	if mtr := observability.Default; mtr != nil {
		mtr.CatalogReloadsTotal.WithLabelValues("success").Inc()
		mtr.CatalogIntents.Set(float64(snap.Len()))
	}
	m.logger.Info("catalog.manager: snapshot published",
		"version", snap.version,
		"source", source,
		"intents", snap.Len(),
	)
	return snap, nil
}

// evictChanged drops graph cache entries for intents that disappeared.
// Entries of the new version are keyed separately, so surviving intents
// need no eviction; only removed names would otherwise linger.
func (m *Manager) evictChanged(prev, next *Snapshot) {
	if m.graphs == nil || prev == nil {
		return
	}
	for name := range prev.intents {
		if _, ok := next.intents[name]; !ok {
			m.graphs.Evict(name)
		}
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks a full intent set: per-intent structural validation,
// unique names, and a dependency-graph build per intent. Returns the
// indexed set and sorted names on success.
func Validate(intents []datatypes.Intent) (map[string]*datatypes.Intent, []string, error) {
	if len(intents) == 0 {
		return nil, nil, faults.New(faults.CodeCatalogInvalid, "catalog has no intents")
	}

	byName := make(map[string]*datatypes.Intent, len(intents))
	for i := range intents {
		in := &intents[i]
		if _, dup := byName[in.Name]; dup {
			return nil, nil, faults.Newf(faults.CodeCatalogInvalid, "duplicate intent %q", in.Name)
		}
		if err := datatypes.ValidateIntent(in); err != nil {
			return nil, nil, faults.Wrapf(err, faults.CodeCatalogInvalid, "intent %q", in.Name)
		}
		for _, edge := range in.Dependencies {
			if edge.Kind == datatypes.EdgeComputed && !depgraph.KnownTransform(edge.Transform) {
				return nil, nil, faults.Newf(faults.CodeCatalogInvalid,
					"intent %q: computed edge %s->%s names unknown transform %q",
					in.Name, edge.From, edge.To, edge.Transform)
			}
		}
		// A graph build catches dependency cycles.
		if _, err := depgraph.Build(in); err != nil {
			return nil, nil, err
		}
		byName[in.Name] = in
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return byName, names, nil
}
