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

// ErrUnauthorized is returned when authentication or authorization fails.
// Enterprise implementations should wrap this error with additional context.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// authentication.
//
// The struct is extensible via the Metadata field, allowing enterprise
// implementations to carry additional claims without modifying the core
// type.
//
// Example:
//
//	info := &AuthInfo{
//	    UserID: "user-123",
//	    Email:  "user@example.com",
//	    Roles:  []string{"operator", "viewer"},
//	    Metadata: NewMetadata().
//	        Set("department", "support").
//	        Set("mfa_verified", true),
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Email is the user's email address.
	// May be empty if not provided by the auth provider.
	Email string

	// Roles contains the user's role memberships for authorization
	// decisions. Common roles: "admin", "operator", "viewer", "auditor".
	Roles []string

	// Metadata holds additional claims from the identity provider.
	//
	// Common keys:
	//   - "groups": []string of group memberships
	//   - "mfa_verified": whether MFA was used
	//   - "idp_session": identity provider session ID
	Metadata Metadata
}

// HasRole checks if the user has a specific role.
//
//	if !authInfo.HasRole("admin") {
//	    return ErrUnauthorized
//	}
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default NopAuthProvider always returns a valid "local-user" with
// admin privileges, so the service and the CLI work without any identity
// infrastructure.
//
// # Enterprise Implementation
//
// Enterprise versions validate tokens against identity providers such as
// Okta, Auth0, or Azure AD:
//
//	func (p *OktaAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
//	    claims, err := p.client.VerifyToken(ctx, token)
//	    if err != nil {
//	        return nil, fmt.Errorf("okta validation failed: %w", ErrUnauthorized)
//	    }
//	    return &AuthInfo{UserID: claims.Subject, Email: claims.Email, Roles: claims.Groups}, nil
//	}
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's
	// identity. The token format is implementation-specific (JWT, API
	// key, session ID). Invalid tokens return ErrUnauthorized or a
	// wrapped form of it.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes an authorization check request following the
// (subject, action, resource) pattern.
//
// Example:
//
//	req := AuthzRequest{
//	    User:         authInfo,
//	    Action:       "delete",
//	    ResourceType: "session",
//	    ResourceID:   "sess-456",
//	}
//	err := authzProvider.Authorize(ctx, req)
type AuthzRequest struct {
	// User is the authenticated user making the request, as returned by
	// AuthProvider.Validate.
	User *AuthInfo

	// Action is the operation being attempted.
	// Common actions: "read", "delete", "reload", "query"
	Action string

	// ResourceType is the category of resource being accessed.
	// Dialog service resources: "session", "catalog", "audit", "graph_cache"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	// If empty, the check covers the resource type in general.
	ResourceID string
}

// AuthzProvider checks if a user is authorized to perform an action.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The default NopAuthzProvider allows everything, which is appropriate
// for single-user local deployments. Enterprise versions implement RBAC
// or policy-based access control and return ErrUnauthorized (or a
// wrapped form) on denial.
type AuthzProvider interface {
	// Authorize returns nil when the user may perform the action and
	// ErrUnauthorized (or wrapped) when denied.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider is the default authentication provider for open source.
//
// It always returns a valid local user with admin privileges, enabling
// the service to run without any authentication infrastructure. The
// token parameter is ignored; even an empty token authenticates.
//
// Thread-safe: no mutable state.
type NopAuthProvider struct{}

// Validate always returns a valid local user with admin privileges.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Email:  "",
		Roles:  []string{"admin"},
	}, nil
}

// NopAuthzProvider is the default authorization provider for open source.
//
// It always allows all actions, enabling the service to run without any
// access control infrastructure.
//
// Thread-safe: no mutable state.
type NopAuthzProvider struct{}

// Authorize always returns nil, allowing all actions.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
)
