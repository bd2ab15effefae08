// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryAuditorCapacity bounds the in-memory audit trail. Old
// events are dropped once the buffer is full; deployments that need a
// durable trail should use an enterprise AuditLogger instead.
const DefaultMemoryAuditorCapacity = 4096

// MemoryAuditor is a bounded in-memory AuditLogger.
//
// It keeps the most recent events in a ring buffer so the admin API can
// answer "what happened recently" without any external logging
// infrastructure. Events beyond the capacity are silently discarded,
// oldest first.
//
// # When To Use
//
// MemoryAuditor suits local and development deployments where an
// inspectable trail is useful but durability is not required. It is the
// default auditor wired by the dialog service when auditing is enabled
// without an enterprise backend.
//
// # Thread Safety
//
// Safe for concurrent use. Log and Query take an internal mutex; Log is
// O(1) and never blocks on I/O.
type MemoryAuditor struct {
	mu    sync.Mutex
	ring  []AuditEvent
	next  int
	count int
	now   func() time.Time
}

// NewMemoryAuditor creates a MemoryAuditor holding at most capacity
// events. A non-positive capacity uses DefaultMemoryAuditorCapacity.
func NewMemoryAuditor(capacity int) *MemoryAuditor {
	if capacity <= 0 {
		capacity = DefaultMemoryAuditorCapacity
	}
	return &MemoryAuditor{
		ring: make([]AuditEvent, capacity),
		now:  time.Now,
	}
}

// Log records the event, evicting the oldest one when full.
func (a *MemoryAuditor) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ring[a.next] = event
	a.next = (a.next + 1) % len(a.ring)
	if a.count < len(a.ring) {
		a.count++
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (a *MemoryAuditor) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	a.mu.Lock()
	events := a.snapshot()
	a.mu.Unlock()

	var out []AuditEvent
	skipped := 0
	for _, ev := range events {
		if !matchesFilter(ev, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if out == nil {
		out = []AuditEvent{}
	}
	return out, nil
}

// Flush is a no-op; events live in memory only.
func (a *MemoryAuditor) Flush(_ context.Context) error {
	return nil
}

// Len reports how many events are currently buffered.
func (a *MemoryAuditor) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// snapshot copies the buffered events newest-first. Caller holds the
// lock.
func (a *MemoryAuditor) snapshot() []AuditEvent {
	out := make([]AuditEvent, 0, a.count)
	for i := 1; i <= a.count; i++ {
		idx := (a.next - i + len(a.ring)) % len(a.ring)
		out = append(out, a.ring[idx])
	}
	return out
}

func matchesFilter(ev AuditEvent, f AuditFilter) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if ev.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !ev.Timestamp.Before(f.EndTime) {
		return false
	}
	if f.ResourceType != "" && ev.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && ev.ResourceID != f.ResourceID {
		return false
	}
	if f.Outcome != "" && ev.Outcome != f.Outcome {
		return false
	}
	return true
}

// Compile-time interface compliance check.
var _ AuditLogger = (*MemoryAuditor)(nil)
