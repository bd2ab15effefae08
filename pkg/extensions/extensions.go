// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines interfaces for enterprise functionality.
//
// This package provides extension points that let enterprise builds add
// capabilities to the dialog service without modifying the core codebase.
// The open source version uses no-op defaults for every interface.
//
// # Design Philosophy
//
// AleutianDialog is a fully functional local service that works without
// any identity or compliance infrastructure. Enterprise features are
// implemented by providing concrete implementations of these interfaces
// and injecting them via ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Authentication and authorization (AuthProvider, AuthzProvider)
//   - audit.go: Compliance audit logging (AuditLogger)
//   - filter.go: Utterance transformation and PII redaction (MessageFilter)
//   - classifier.go: Data sensitivity classification (DataClassifier)
//
// # Usage in the Open Source Build
//
//	opts := extensions.DefaultOptions()
//	svc, err := dialog.New(cfg, &opts)
//
// # Usage in Enterprise Builds
//
//	opts := extensions.ServiceOptions{
//	    AuthProvider: enterprise.NewOktaProvider(cfg),
//	    AuditLogger:  enterprise.NewSplunkAuditor(cfg),
//	}
//	svc, err := dialog.New(cfg, &opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple turn-processing goroutines call these methods simultaneously.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// Pass this to the dialog service constructor to enable enterprise
// features. All fields are optional; nil values are replaced with no-op
// defaults when DefaultOptions() is called or when the service checks
// for nil.
type ServiceOptions struct {
	// AuthProvider validates authentication tokens.
	// Default: NopAuthProvider (always returns a valid local user)
	AuthProvider AuthProvider

	// AuthzProvider checks authorization permissions.
	// Default: NopAuthzProvider (always allows all actions)
	AuthzProvider AuthzProvider

	// AuditLogger records security-relevant events.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger

	// MessageFilter transforms utterances before understanding and
	// replies before delivery.
	// Default: NopMessageFilter (passes through unchanged)
	MessageFilter MessageFilter

	// DataClassifier rates the sensitivity of user input so handlers
	// can block or redact restricted content.
	// Default: NopDataClassifier (everything is PUBLIC)
	DataClassifier DataClassifier
}

// DefaultOptions returns ServiceOptions with no-op defaults.
//
// This is the configuration used by the open source build: all requests
// authenticate as the local user, every action is allowed, no audit
// trail is kept, and no content is filtered or classified.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:   &NopAuthProvider{},
		AuthzProvider:  &NopAuthzProvider{},
		AuditLogger:    &NopAuditLogger{},
		MessageFilter:  &NopMessageFilter{},
		DataClassifier: &NopDataClassifier{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
// Useful for fluent configuration.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts with the given MessageFilter.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}

// WithClassifier returns a copy of opts with the given DataClassifier.
func (opts ServiceOptions) WithClassifier(classifier DataClassifier) ServiceOptions {
	opts.DataClassifier = classifier
	return opts
}

// Normalized returns a copy of opts with every nil field replaced by its
// no-op default, so callers can use the options without nil checks.
func (opts ServiceOptions) Normalized() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = &NopAuthzProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = &NopMessageFilter{}
	}
	if opts.DataClassifier == nil {
		opts.DataClassifier = &NopDataClassifier{}
	}
	return opts
}
