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
	"errors"
)

// ErrMessageBlocked is returned when an utterance is rejected by the
// filter. Enterprise implementations should wrap this error with the
// reason.
//
// Example:
//
//	if containsPII(msg) {
//	    return "", fmt.Errorf("utterance contains PII: %w", ErrMessageBlocked)
//	}
var ErrMessageBlocked = errors.New("message blocked by filter")

// FilterResult contains the outcome of a filter operation.
//
// It reports what the filter did, for debugging, audit trails, and user
// feedback.
//
// Example:
//
//	result := FilterResult{
//	    Original:    "我的手机号是13800138000，帮我订机票",
//	    Filtered:    "我的手机号是[REDACTED]，帮我订机票",
//	    WasModified: true,
//	    Detections:  []Detection{{Type: "phone", Action: "redacted"}},
//	}
type FilterResult struct {
	// Original is the input text before filtering.
	Original string

	// Filtered is the text after filtering transformations.
	// If WasModified is false, this equals Original.
	Filtered string

	// WasModified indicates if any transformations were applied.
	WasModified bool

	// WasBlocked indicates if the text was completely rejected.
	// If true, Filtered must not be used.
	WasBlocked bool

	// BlockReason explains why the text was blocked (if WasBlocked).
	BlockReason string

	// Detections lists what the filter found, for audit logging and
	// debugging.
	Detections []Detection
}

// Detection describes a single item found by the filter.
type Detection struct {
	// Type categorizes what was detected.
	// Common types: "phone", "email", "id_number", "api_key",
	// "profanity", "pii", "prompt_injection"
	Type string

	// Location describes where in the text the item was found.
	// Format is implementation-specific (e.g., "characters 10-20").
	Location string

	// Action describes what was done with the detected item.
	// Values: "redacted", "masked", "replaced", "blocked", "flagged"
	Action string

	// Replacement is what the content was replaced with (if Action is
	// "replaced").
	Replacement string
}

// MessageFilter transforms text at the dialog service boundary.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
//
// # Filter Pipeline
//
// Text flows through filters at two points:
//
//  1. FilterInput: the user's utterance, before understanding runs.
//     Redact PII that must not reach the NLU backend, block policy
//     violations, detect prompt injection attempts.
//
//  2. FilterOutput: the system reply, before it is returned.
//     Remove leaked secrets, mask generated PII, append compliance
//     disclaimers.
//
// # Blocking vs Transforming
//
// Filters either transform content and let it through (e.g., redact a
// phone number) or reject the whole message. To block, return a
// FilterResult with WasBlocked=true and BlockReason set; the caller
// logs the block via AuditLogger and surfaces ErrMessageBlocked.
//
// # Open Source Behavior
//
// The default NopMessageFilter passes everything through unchanged.
type MessageFilter interface {
	// FilterInput processes a user utterance before understanding.
	// The error is non-nil only for filter failures, not for blocks.
	FilterInput(ctx context.Context, message string) (*FilterResult, error)

	// FilterOutput processes a system reply before it is returned to
	// the user. The error is non-nil only for filter failures.
	FilterOutput(ctx context.Context, message string) (*FilterResult, error)
}

// NopMessageFilter is the default filter for open source. It passes all
// text through unchanged without transformation or blocking.
//
// Thread-safe: no mutable state.
type NopMessageFilter struct{}

// FilterInput returns the utterance unchanged.
func (f *NopMessageFilter) FilterInput(_ context.Context, message string) (*FilterResult, error) {
	return passthrough(message), nil
}

// FilterOutput returns the reply unchanged.
func (f *NopMessageFilter) FilterOutput(_ context.Context, message string) (*FilterResult, error) {
	return passthrough(message), nil
}

func passthrough(message string) *FilterResult {
	return &FilterResult{
		Original: message,
		Filtered: message,
	}
}

// Compile-time interface compliance check.
var _ MessageFilter = (*NopMessageFilter)(nil)
