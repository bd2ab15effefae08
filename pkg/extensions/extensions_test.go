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
	"fmt"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
	if _, ok := opts.AuthzProvider.(*NopAuthzProvider); !ok {
		t.Error("DefaultOptions().AuthzProvider should be *NopAuthzProvider")
	}
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
	if _, ok := opts.MessageFilter.(*NopMessageFilter); !ok {
		t.Error("DefaultOptions().MessageFilter should be *NopMessageFilter")
	}
	if _, ok := opts.DataClassifier.(*NopDataClassifier); !ok {
		t.Error("DefaultOptions().DataClassifier should be *NopDataClassifier")
	}
}

func TestServiceOptionsWith(t *testing.T) {
	auth := &mockAuthProvider{userID: "custom-user"}
	auditor := NewMemoryAuditor(8)

	opts := DefaultOptions().WithAuth(auth).WithAudit(auditor)

	if opts.AuthProvider != auth {
		t.Error("WithAuth did not install the custom provider")
	}
	if opts.AuditLogger != auditor {
		t.Error("WithAudit did not install the custom logger")
	}
	// Untouched fields keep their defaults.
	if _, ok := opts.MessageFilter.(*NopMessageFilter); !ok {
		t.Error("WithAuth/WithAudit should not disturb MessageFilter")
	}
}

func TestNormalizedFillsNilFields(t *testing.T) {
	auth := &mockAuthProvider{userID: "u"}
	opts := ServiceOptions{AuthProvider: auth}.Normalized()

	if opts.AuthProvider != auth {
		t.Error("Normalized replaced a non-nil field")
	}
	if opts.AuthzProvider == nil || opts.AuditLogger == nil ||
		opts.MessageFilter == nil || opts.DataClassifier == nil {
		t.Error("Normalized left a nil field")
	}
}

// ============================================================================
// Auth Tests
// ============================================================================

type mockAuthProvider struct {
	userID string
}

func (p *mockAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: p.userID}, nil
}

func TestNopAuthProviderValidate(t *testing.T) {
	provider := &NopAuthProvider{}

	for _, token := range []string{"", "any-token", "Bearer xyz"} {
		info, err := provider.Validate(context.Background(), token)
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", token, err)
		}
		if info.UserID != "local-user" {
			t.Errorf("UserID = %q, want local-user", info.UserID)
		}
		if !info.HasRole("admin") {
			t.Error("local user should have the admin role")
		}
	}
}

func TestNopAuthzProviderAllowsEverything(t *testing.T) {
	provider := &NopAuthzProvider{}

	err := provider.Authorize(context.Background(), AuthzRequest{
		User:         &AuthInfo{UserID: "anyone"},
		Action:       "delete",
		ResourceType: "session",
		ResourceID:   "sess-1",
	})
	if err != nil {
		t.Errorf("Authorize returned error: %v", err)
	}
}

func TestAuthInfoHasRole(t *testing.T) {
	info := &AuthInfo{UserID: "u", Roles: []string{"operator", "viewer"}}

	if !info.HasRole("viewer") {
		t.Error("HasRole(viewer) = false, want true")
	}
	if info.HasRole("admin") {
		t.Error("HasRole(admin) = true, want false")
	}
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	logger := &NopAuditLogger{}
	ctx := context.Background()

	if err := logger.Log(ctx, AuditEvent{EventType: "dialog.turn"}); err != nil {
		t.Errorf("Log returned error: %v", err)
	}
	events, err := logger.Query(ctx, AuditFilter{})
	if err != nil {
		t.Errorf("Query returned error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Query returned %d events, want 0", len(events))
	}
	if err := logger.Flush(ctx); err != nil {
		t.Errorf("Flush returned error: %v", err)
	}
}

func TestMemoryAuditorLogAndQuery(t *testing.T) {
	auditor := NewMemoryAuditor(16)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := auditor.Log(ctx, AuditEvent{
			EventType:    "session.delete",
			UserID:       "admin-1",
			ResourceType: "session",
			ResourceID:   fmt.Sprintf("sess-%d", i),
			Outcome:      "success",
		})
		if err != nil {
			t.Fatalf("Log returned error: %v", err)
		}
	}
	if err := auditor.Log(ctx, AuditEvent{EventType: "auth.failed", UserID: "intruder", Outcome: "failure"}); err != nil {
		t.Fatalf("Log returned error: %v", err)
	}

	if auditor.Len() != 4 {
		t.Errorf("Len = %d, want 4", auditor.Len())
	}

	// Newest first, filtered by type.
	events, err := auditor.Query(ctx, AuditFilter{EventTypes: []string{"session.delete"}})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Query returned %d events, want 3", len(events))
	}
	if events[0].ResourceID != "sess-2" {
		t.Errorf("first event = %s, want sess-2 (newest first)", events[0].ResourceID)
	}

	// Timestamp was stamped on the way in.
	if events[0].Timestamp.IsZero() {
		t.Error("Log did not stamp a zero Timestamp")
	}
}

func TestMemoryAuditorEvictsOldest(t *testing.T) {
	auditor := NewMemoryAuditor(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = auditor.Log(ctx, AuditEvent{EventType: "dialog.turn", ResourceID: fmt.Sprintf("t-%d", i)})
	}

	if auditor.Len() != 2 {
		t.Fatalf("Len = %d, want 2", auditor.Len())
	}
	events, _ := auditor.Query(ctx, AuditFilter{})
	if events[0].ResourceID != "t-4" || events[1].ResourceID != "t-3" {
		t.Errorf("kept events = %s,%s want t-4,t-3", events[0].ResourceID, events[1].ResourceID)
	}
}

func TestMemoryAuditorLimitAndOffset(t *testing.T) {
	auditor := NewMemoryAuditor(16)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_ = auditor.Log(ctx, AuditEvent{EventType: "dialog.turn", ResourceID: fmt.Sprintf("t-%d", i)})
	}

	events, err := auditor.Query(ctx, AuditFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Query returned %d events, want 2", len(events))
	}
	if events[0].ResourceID != "t-4" || events[1].ResourceID != "t-3" {
		t.Errorf("page = %s,%s want t-4,t-3", events[0].ResourceID, events[1].ResourceID)
	}
}

func TestMemoryAuditorTimeWindow(t *testing.T) {
	auditor := NewMemoryAuditor(16)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_ = auditor.Log(ctx, AuditEvent{
			EventType: "dialog.turn",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	events, _ := auditor.Query(ctx, AuditFilter{
		StartTime: base.Add(time.Minute),
		EndTime:   base.Add(2 * time.Minute),
	})
	if len(events) != 1 {
		t.Fatalf("window returned %d events, want 1", len(events))
	}
	if !events[0].Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("wrong event in window: %v", events[0].Timestamp)
	}
}

func TestMemoryAuditorConcurrentLog(t *testing.T) {
	auditor := NewMemoryAuditor(128)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				_ = auditor.Log(ctx, AuditEvent{EventType: "dialog.turn"})
			}
		}()
	}
	wg.Wait()

	if auditor.Len() != 128 {
		t.Errorf("Len = %d, want 128", auditor.Len())
	}
}

// ============================================================================
// Filter Tests
// ============================================================================

func TestNopMessageFilterPassthrough(t *testing.T) {
	filter := &NopMessageFilter{}
	ctx := context.Background()

	in, err := filter.FilterInput(ctx, "帮我订明天去上海的机票")
	if err != nil {
		t.Fatalf("FilterInput returned error: %v", err)
	}
	if in.Filtered != in.Original || in.WasModified || in.WasBlocked {
		t.Error("FilterInput should pass text through unchanged")
	}

	out, err := filter.FilterOutput(ctx, "已为您预订机票。")
	if err != nil {
		t.Fatalf("FilterOutput returned error: %v", err)
	}
	if out.Filtered != "已为您预订机票。" {
		t.Errorf("FilterOutput modified the reply: %q", out.Filtered)
	}
}

// ============================================================================
// Classifier Tests
// ============================================================================

func TestNopDataClassifier(t *testing.T) {
	classifier := &NopDataClassifier{}

	result, err := classifier.Classify(context.Background(), "my api key is sk-12345")
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if result.HighestLevel != ClassificationPublic {
		t.Errorf("HighestLevel = %s, want PUBLIC", result.HighestLevel)
	}
	if len(result.Findings) != 0 {
		t.Errorf("Findings = %d, want 0", len(result.Findings))
	}
}

func TestClassificationRanking(t *testing.T) {
	if !ClassificationSecret.MoreSensitiveThan(ClassificationPII) {
		t.Error("SECRET should outrank PII")
	}
	if !ClassificationPII.MoreSensitiveThan(ClassificationPublic) {
		t.Error("PII should outrank PUBLIC")
	}
	if ClassificationPublic.MoreSensitiveThan(ClassificationConfidential) {
		t.Error("PUBLIC should not outrank CONFIDENTIAL")
	}
}

// ============================================================================
// Metadata Tests
// ============================================================================

func TestMetadataTypedAccessors(t *testing.T) {
	md := NewMetadata().
		Set("name", "支援").
		Set("count", 3).
		Set("ratio", 0.5).
		Set("enabled", true).
		Set("groups", []any{"ops", "support"})

	if s, ok := md.GetString("name"); !ok || s != "支援" {
		t.Errorf("GetString = %q, %v", s, ok)
	}
	if n, ok := md.GetInt("count"); !ok || n != 3 {
		t.Errorf("GetInt = %d, %v", n, ok)
	}
	if f, ok := md.GetFloat64("ratio"); !ok || f != 0.5 {
		t.Errorf("GetFloat64 = %f, %v", f, ok)
	}
	if b, ok := md.GetBool("enabled"); !ok || !b {
		t.Errorf("GetBool = %v, %v", b, ok)
	}
	if g, ok := md.GetStringSlice("groups"); !ok || len(g) != 2 || g[0] != "ops" {
		t.Errorf("GetStringSlice = %v, %v", g, ok)
	}

	// Wrong type and missing key both report not-ok.
	if _, ok := md.GetInt("name"); ok {
		t.Error("GetInt on a string should not be ok")
	}
	if _, ok := md.GetString("absent"); ok {
		t.Error("GetString on a missing key should not be ok")
	}
}

func TestMetadataJSONNumericConversion(t *testing.T) {
	// JSON decoding yields float64 for every number.
	md := Metadata{"count": float64(7)}

	if n, ok := md.GetInt("count"); !ok || n != 7 {
		t.Errorf("GetInt on float64 = %d, %v", n, ok)
	}
}

func TestMetadataCloneAndMerge(t *testing.T) {
	base := NewMetadata().Set("a", 1).Set("b", 2)

	_ = base.Clone().Set("a", 99)
	if v, _ := base.GetInt("a"); v != 1 {
		t.Error("mutating a clone changed the original")
	}

	merged := base.Merge(Metadata{"b": 20, "c": 30})
	if v, _ := merged.GetInt("b"); v != 20 {
		t.Error("Merge should prefer the other map's values")
	}
	if v, _ := base.GetInt("b"); v != 2 {
		t.Error("Merge modified the receiver")
	}
	if merged.Len() != 3 {
		t.Errorf("merged.Len() = %d, want 3", merged.Len())
	}
}

func TestMetadataDeleteAndKeys(t *testing.T) {
	md := NewMetadata().Set("x", 1).Set("y", 2).Delete("x")

	if md.Has("x") {
		t.Error("Delete did not remove the key")
	}
	keys := md.Keys()
	if len(keys) != 1 || keys[0] != "y" {
		t.Errorf("Keys = %v, want [y]", keys)
	}
}
