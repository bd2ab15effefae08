// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

// readLogLines parses every JSON line of the day's log file.
func readLogLines(t *testing.T, dir, service string) []map[string]any {
	t.Helper()
	name := service + "_" + time.Now().Format("2006-01-02") + ".log"
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Log file not found: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("Log line is not JSON: %v", err)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "dialogctl", Quiet: true})

	logger.Info("turn committed", "session_id", "s-1", "turn", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	lines := readLogLines(t, dir, "dialogctl")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(lines))
	}
	if lines[0]["msg"] != "turn committed" {
		t.Errorf("msg = %v, want 'turn committed'", lines[0]["msg"])
	}
	if lines[0]["service"] != "dialogctl" {
		t.Errorf("service = %v, want dialogctl", lines[0]["service"])
	}
	if lines[0]["session_id"] != "s-1" {
		t.Errorf("session_id = %v, want s-1", lines[0]["session_id"])
	}
}

func TestFileLoggingFiltersBelowLevel(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelWarn, LogDir: dir, Service: "dialogctl", Quiet: true})

	logger.Debug("noise")
	logger.Info("more noise")
	logger.Warn("breaker opened", "name", "nlu")
	logger.Close()

	lines := readLogLines(t, dir, "dialogctl")
	if len(lines) != 1 {
		t.Fatalf("Expected only the warn line, got %d lines", len(lines))
	}
	if lines[0]["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", lines[0]["level"])
	}
}

func TestWithCarriesAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "dialogctl", Quiet: true})

	child := logger.With("request_id", "req-9")
	child.Info("sending")
	logger.Close()

	lines := readLogLines(t, dir, "dialogctl")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(lines))
	}
	if lines[0]["request_id"] != "req-9" {
		t.Errorf("request_id = %v, want req-9 (With attrs must reach the file)", lines[0]["request_id"])
	}
}

// waitForEntries polls the exporter; Export runs on its own goroutine.
func waitForEntries(t *testing.T, exporter *BufferedExporter, want int) []LogEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entries := exporter.Entries(); len(entries) >= want {
			return entries
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Exporter never received %d entries (got %d)", want, len(exporter.Entries()))
	return nil
}

func TestExporterReceivesEntriesAboveLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Service: "dialogctl", Quiet: true, Exporter: exporter})

	logger.Debug("below level, never shipped")
	logger.Error("dispatch failed", "error_code", "E5000")

	entries := waitForEntries(t, exporter, 1)
	if len(entries) != 1 {
		t.Fatalf("Expected exactly 1 exported entry, got %d", len(entries))
	}
	if entries[0].Level != LevelError {
		t.Errorf("Level = %v, want LevelError", entries[0].Level)
	}
	if entries[0].Message != "dispatch failed" {
		t.Errorf("Message = %q, want 'dispatch failed'", entries[0].Message)
	}
	if entries[0].Attrs["error_code"] != "E5000" {
		t.Errorf("Attrs[error_code] = %v, want E5000", entries[0].Attrs["error_code"])
	}
	if entries[0].Service != "dialogctl" {
		t.Errorf("Service = %v, want dialogctl", entries[0].Service)
	}
}

type flushTrackingExporter struct {
	NopExporter
	flushed bool
	closed  bool
}

func (e *flushTrackingExporter) Flush(ctx context.Context) error {
	e.flushed = true
	return nil
}

func (e *flushTrackingExporter) Close() error {
	e.closed = true
	return nil
}

func TestCloseDrainsExporter(t *testing.T) {
	exporter := &flushTrackingExporter{}
	logger := New(Config{Quiet: true, Exporter: exporter})

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !exporter.flushed {
		t.Error("Close() must flush the exporter before closing it")
	}
	if !exporter.closed {
		t.Error("Close() must close the exporter")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("No home directory: %v", err)
	}

	got := expandPath("~/logs")
	if !strings.HasPrefix(got, home) {
		t.Errorf("expandPath(~/logs) = %q, want prefix %q", got, home)
	}
	if got := expandPath("/var/log/dialog"); got != "/var/log/dialog" {
		t.Errorf("Absolute path changed: %q", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("Empty path changed: %q", got)
	}
}

func TestAttrsFromArgs(t *testing.T) {
	attrs := attrsFromArgs([]any{"a", 1, 2, "skipped-key-not-string", "b", "two", "dangling"})
	if attrs["a"] != 1 {
		t.Errorf("attrs[a] = %v, want 1", attrs["a"])
	}
	if attrs["b"] != "two" {
		t.Errorf("attrs[b] = %v, want two", attrs["b"])
	}
	if len(attrs) != 2 {
		t.Errorf("len(attrs) = %d, want 2 (non-string keys and dangling values skipped)", len(attrs))
	}
}

func TestBufferedExporterCopiesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	exporter.Export(context.Background(), LogEntry{Message: "one"})

	entries := exporter.Entries()
	entries[0].Message = "mutated"

	if exporter.Entries()[0].Message != "one" {
		t.Error("Entries() must return a copy, not the backing slice")
	}
}

func TestDefaultConfiguration(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.config.Level != LevelInfo {
		t.Errorf("Default level = %v, want LevelInfo", logger.config.Level)
	}
	if logger.config.Service != "dialogctl" {
		t.Errorf("Default service = %q, want dialogctl", logger.config.Service)
	}
	if logger.Slog() == nil {
		t.Error("Slog() must expose the underlying logger")
	}
}
