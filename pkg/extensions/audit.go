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
	"time"
)

// AuditEvent represents a security-relevant event for compliance logging.
//
// The struct captures the information needed for security audits,
// compliance reporting (GDPR, SOC2), and incident investigation.
//
// # Event Categories
//
// Events are categorized by type for filtering and alerting:
//   - Authentication: "auth.failed"
//   - Authorization: "authz.denied"
//   - Dialog: "dialog.turn", "dialog.blocked"
//   - Administration: "session.delete", "catalog.reload", "cache.evict"
//   - System: "system.start", "system.stop"
//
// # Compliance Fields
//
// For regulatory compliance, always populate UserID (right-to-know
// requests), Timestamp (audit trail integrity), and
// ResourceType/ResourceID (data lineage). Never place slot values or raw
// utterances in Metadata; record identifiers and lengths instead.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "session.delete",
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       authInfo.UserID,
//	    Action:       "delete",
//	    ResourceType: "session",
//	    ResourceID:   sessionID,
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventType categorizes the event for filtering and alerting.
	// Format: "category.action" (e.g., "auth.failed", "catalog.reload")
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations should set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	// Use "system" for automated actions, "anonymous" if unknown.
	UserID string

	// Action describes what operation was attempted.
	// Common values: "read", "delete", "reload", "send", "block"
	Action string

	// ResourceType is the category of resource involved.
	// Examples: "session", "catalog", "turn", "audit"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "failure", "blocked", "error"
	Outcome string

	// Metadata holds additional event-specific data.
	//
	// Common keys:
	//   - "error": error code if Outcome is "failure" or "error"
	//   - "ip_address": client IP for security analysis
	//   - "duration_ms": operation duration
	//   - "intent": recognized intent name
	Metadata map[string]any
}

// AuditFilter defines criteria for querying audit events.
//
// All fields are optional; only non-zero values are applied, combined
// with AND logic.
//
// Example:
//
//	// Failed auth events from the last hour
//	filter := AuditFilter{
//	    EventTypes: []string{"auth.failed"},
//	    StartTime:  time.Now().Add(-time.Hour),
//	}
//	events, err := auditor.Query(ctx, filter)
type AuditFilter struct {
	// EventTypes limits results to specific event types.
	EventTypes []string

	// UserID limits results to events from a specific user.
	UserID string

	// StartTime is the earliest event timestamp to include (inclusive).
	StartTime time.Time

	// EndTime is the latest event timestamp to include (exclusive).
	EndTime time.Time

	// ResourceType limits results to a specific resource category.
	ResourceType string

	// ResourceID limits results to a specific resource instance.
	ResourceID string

	// Outcome limits results to events with a specific outcome.
	Outcome string

	// Limit is the maximum number of events to return.
	// If zero, an implementation-specific default is used.
	Limit int

	// Offset is the number of events to skip (for pagination).
	Offset int
}

// AuditLogger records security-relevant events for compliance and
// analysis.
//
// Implementations must be safe for concurrent use by multiple
// goroutines. Log should be non-blocking or have tight timeouts so turn
// processing is never held up by the audit path.
//
// # Open Source Behavior
//
// The default NopAuditLogger discards all events. MemoryAuditor keeps a
// bounded in-memory trail that the admin API can query.
//
// # Enterprise Implementation
//
// Enterprise versions send events to SIEM systems (Splunk, Datadog,
// ELK), cloud logging, or compliance databases. For compliance-critical
// events, synchronous persistence is recommended.
type AuditLogger interface {
	// Log records a security-relevant event. Implementations should set
	// Timestamp if zero and return quickly.
	Log(ctx context.Context, event AuditEvent) error

	// Query retrieves audit events matching the filter criteria,
	// ordered by Timestamp descending.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush ensures all buffered events are persisted. Call before
	// shutdown to prevent event loss. Sync implementations may no-op.
	Flush(ctx context.Context) error
}

// NopAuditLogger is the default audit logger for open source.
//
// It discards all events without recording them, appropriate for local
// single-user deployments where audit trails aren't required.
//
// Thread-safe: no mutable state.
type NopAuditLogger struct{}

// Log discards the event without recording it.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// Query returns an empty slice; no events are stored.
func (l *NopAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(_ context.Context) error {
	return nil
}

// Compile-time interface compliance check.
var _ AuditLogger = (*NopAuditLogger)(nil)
