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
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Operation completed with findings (invalid catalog, degraded health)
	CLIExitError    = 2 // Operation failed
)

// Standard address of a locally running dialog service.
const (
	DefaultDialogHost = "localhost"
	DefaultDialogPort = 12310
)

// OutputConfig controls output behavior.
type OutputConfig struct {
	JSON    bool // Output as JSON
	Compact bool // No indentation
	Quiet   bool // No output, exit code only
}

// outputConfigFromFlags builds the output configuration from the
// persistent --json/--quiet flags.
func outputConfigFromFlags() OutputConfig {
	return OutputConfig{JSON: jsonOutput, Quiet: quietMode}
}

// cliAPIVersion versions the JSON envelope for scripts that parse it.
const cliAPIVersion = "1.0"

// CommandResult is the JSON envelope every command emits in --json
// mode: the command name, when it ran and for how long, and either the
// command's data or an error string.
type CommandResult struct {
	APIVersion string      `json:"api_version"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	DurationMs int64       `json:"duration_ms"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// OutputJSON writes data as JSON to stdout, indented unless compact is
// set.
func OutputJSON(data interface{}, compact bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputError reports a failed command: a CommandResult envelope on
// stdout in JSON mode, a plain line on stderr otherwise.
func OutputError(jsonMode bool, msg string, err error) {
	if !jsonMode {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
		return
	}
	_ = OutputJSON(CommandResult{
		APIVersion: cliAPIVersion,
		Timestamp:  time.Now(),
		Error:      fmt.Sprintf("%s: %v", msg, err),
	}, false)
}

// OutputResult finishes a command: renders the result for the selected
// output mode and maps the outcome onto the exit code contract (0
// success, 1 findings, 2 error). Quiet mode skips rendering and keeps
// only the code; an error always wins over findings.
func OutputResult(cfg OutputConfig, cmd string, start time.Time, data interface{}, hasFindings bool, err error) int {
	if err != nil {
		if !cfg.Quiet {
			OutputError(cfg.JSON, "Command failed", err)
		}
		return CLIExitError
	}

	if cfg.JSON && !cfg.Quiet {
		envelope := CommandResult{
			APIVersion: cliAPIVersion,
			Command:    cmd,
			Timestamp:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
			Success:    true,
			Data:       data,
		}
		if encErr := OutputJSON(envelope, cfg.Compact); encErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", encErr)
			return CLIExitError
		}
	}

	if hasFindings {
		return CLIExitFindings
	}
	return CLIExitSuccess
}

// HealthResult holds the service health report for output.
type HealthResult struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
	LiveSessions int               `json:"live_sessions"`
	CatalogV     string            `json:"catalog_version"`
	Intents      int               `json:"catalog_intents"`
}

// CatalogShowResult holds the active catalog listing.
type CatalogShowResult struct {
	Version  string      `json:"version"`
	Source   string      `json:"source"`
	LoadedAt string      `json:"loaded_at"`
	Intents  []IntentRow `json:"intents"`
}

// IntentRow is one intent in catalog listings.
type IntentRow struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description,omitempty"`
	FunctionName  string `json:"function_name"`
	RequiredSlots int    `json:"required_slots"`
	TotalSlots    int    `json:"total_slots"`
}

// ValidateResult holds catalog validation output.
type ValidateResult struct {
	Valid   bool     `json:"valid"`
	File    string   `json:"file"`
	Intents []string `json:"intents,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ReloadResult holds catalog reload output.
type ReloadResult struct {
	Status  string `json:"status"`
	Source  string `json:"source"`
	Version string `json:"version"`
	Intents int    `json:"intents"`
}

// SessionCloseResult holds session close output.
type SessionCloseResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// BackupResult holds backup command output.
type BackupResult struct {
	File      string `json:"file"`
	SizeBytes int64  `json:"size_bytes"`
	Version   uint64 `json:"version"`
	GCSObject string `json:"gcs_object,omitempty"`
}
