// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults is the error spine of the dialog service.
//
// Every component reports failures as a *faults.Error carrying a stable code
// (see codes.go), a severity, operator context, and an optional remediation
// hint. The HTTP boundary translates a *faults.Error into the wire envelope;
// user-visible text always comes from the fixed per-code message map, never
// from the error chain itself.
//
// The package also hosts the cross-cutting failure policies: retry with
// exponential backoff (retry.go), per-dependency circuit breakers
// (breaker.go), context sanitization (sanitize.go), and windowed alerting
// (alerts.go).
//
// # Usage
//
//	if err := store.PutSession(ctx, s); err != nil {
//	    return faults.Wrap(err, faults.CodeStorage, "session flush failed").
//	        With("session_id", s.ID)
//	}
//
// At the boundary:
//
//	var fe *faults.Error
//	if errors.As(err, &fe) {
//	    status := faults.HTTPStatus(fe.Code)
//	    ...
//	}
//
// # Thread Safety
//
// A *faults.Error is not safe for concurrent mutation; build it fully before
// sharing. All policy types in this package are safe for concurrent use.
package faults

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Error
// =============================================================================

// Error is a classified failure. It wraps an optional cause and carries the
// operator-visible context that the envelope's sanitizer filters before
// serialization.
type Error struct {
	// Code is the stable wire identifier, e.g. E5002.
	Code Code

	// Severity grades operator impact. Defaults from the code registry.
	Severity Severity

	// Message is the operator-visible description. Never shown to users.
	Message string

	// Context holds structured details for logs and the sanitized envelope.
	Context map[string]any

	// Remediation is an operator hint. Defaults from the code registry.
	Remediation string

	// TraceID correlates the failure with its distributed trace.
	TraceID string

	// Timestamp records when the error was constructed.
	Timestamp time.Time

	cause error
}

// New constructs an Error with the given code and operator message.
func New(code Code, message string) *Error {
	return &Error{
		Code:        code,
		Severity:    DefaultSeverity(code),
		Message:     message,
		Remediation: Remediation(code),
		Timestamp:   time.Now().UTC(),
	}
}

// Newf constructs an Error with a formatted operator message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap classifies an underlying error. The cause stays reachable through
// errors.Is/errors.As. A nil err yields a plain New.
func Wrap(err error, code Code, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

// Wrapf is Wrap with a formatted operator message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// With attaches one context key. Returns the receiver for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 4)
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// WithTrace stamps the error with the trace id of the active span, if any.
func (e *Error) WithTrace(sc trace.SpanContext) *Error {
	if sc.HasTraceID() {
		e.TraceID = sc.TraceID().String()
	}
	return e
}

// Error implements the error interface with the operator-visible form.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by code, so sentinel-style checks like
// errors.Is(err, faults.New(faults.CodeTimeout, "")) work across wrapping.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return e.Code == fe.Code
	}
	return false
}

// UserMessage returns the fixed user-visible string for this error's code.
func (e *Error) UserMessage(locale string) string {
	return UserMessage(e.Code, locale)
}

// Detail renders the sanitized wire form of the error for the envelope.
func (e *Error) Detail() ErrorDetail {
	return ErrorDetail{
		Code:        string(e.Code),
		Category:    string(e.Code.Category()),
		Severity:    string(e.Severity),
		Details:     SanitizeContext(e.Context),
		Remediation: e.Remediation,
	}
}

// =============================================================================
// Wire Form
// =============================================================================

// ErrorDetail is the error object embedded in the response envelope. Details
// are sanitized; secrets and raw internals never appear here.
type ErrorDetail struct {
	Code        string         `json:"code"`
	Category    string         `json:"category"`
	Severity    string         `json:"severity"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
}

// =============================================================================
// Inspection Helpers
// =============================================================================

// CodeOf extracts the code from an error chain. Plain errors classify as
// CodeInternal; context.DeadlineExceeded style causes should be wrapped at
// the call site before reaching this.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// From returns the *Error in the chain, or wraps a plain error as an
// internal failure so the boundary always has a classified value.
func From(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(err, CodeInternal, "unclassified failure")
}

// IsCode reports whether the chain carries the given code.
func IsCode(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsRetryable reports whether the chain's classification permits an
// automatic retry. Callers remain responsible for idempotence.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return Retryable(fe.Code)
	}
	return false
}
