// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"testing"
	"time"
)

// TestOutputResultExitCodes checks the exit code contract the
// monitoring scripts rely on.
func TestOutputResultExitCodes(t *testing.T) {
	quiet := OutputConfig{Quiet: true}
	start := time.Now()

	tests := []struct {
		name        string
		hasFindings bool
		err         error
		want        int
	}{
		{"success", false, nil, CLIExitSuccess},
		{"findings", true, nil, CLIExitFindings},
		{"error", false, errors.New("boom"), CLIExitError},
		{"error beats findings", true, errors.New("boom"), CLIExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OutputResult(quiet, "test", start, nil, tt.hasFindings, tt.err)
			if got != tt.want {
				t.Errorf("OutputResult() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestOutputResultJSONMode verifies JSON mode still reports findings
// through the exit code.
func TestOutputResultJSONMode(t *testing.T) {
	cfg := OutputConfig{JSON: true, Compact: true}

	got := OutputResult(cfg, "catalog validate", time.Now(),
		ValidateResult{Valid: false, Error: "duplicate intent"}, true, nil)
	if got != CLIExitFindings {
		t.Errorf("OutputResult() = %d, want %d", got, CLIExitFindings)
	}
}

func TestResolveServiceURLPrecedence(t *testing.T) {
	// 1. Flag wins over everything
	serviceURL = "http://flagged:1"
	resolveServiceURL()
	if serviceURL != "http://flagged:1" {
		t.Errorf("flag value was overridden: %s", serviceURL)
	}

	// 2. Environment fills an empty flag
	serviceURL = ""
	t.Setenv("DIALOG_SERVICE_URL", "http://from-env:2")
	resolveServiceURL()
	if serviceURL != "http://from-env:2" {
		t.Errorf("env value not used: %s", serviceURL)
	}

	// 3. Default when neither is set
	serviceURL = ""
	t.Setenv("DIALOG_SERVICE_URL", "")
	resolveServiceURL()
	if serviceURL != "http://localhost:12310" {
		t.Errorf("default not applied: %s", serviceURL)
	}
}

func TestResolveUserIDFallsBackToAccount(t *testing.T) {
	userID = ""
	t.Setenv("USER", "kodiak")
	if got := resolveUserID(); got != "cli-kodiak" {
		t.Errorf("resolveUserID() = %s, want cli-kodiak", got)
	}

	userID = "explicit"
	if got := resolveUserID(); got != "explicit" {
		t.Errorf("resolveUserID() = %s, want explicit", got)
	}
	userID = ""
}
