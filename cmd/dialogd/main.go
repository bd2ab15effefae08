// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command dialogd starts the AleutianDialog task router HTTP server.
//
// This is the main entry point for the containerized dialog service.
// It reads configuration from environment variables and serves until
// SIGINT or SIGTERM, then drains in-flight requests before exiting.
//
// # Environment Variables
//
//   - DIALOG_PORT: HTTP server port (default: 12310)
//   - DIALOG_STORE_BACKEND: session store - badger, weaviate, memory (default: badger)
//   - DIALOG_DATA_DIR: Badger data directory (default: ./data/dialog)
//   - WEAVIATE_SERVICE_URL: Weaviate URL, required for the weaviate backend
//   - NLU_BACKEND: classifier - keyword, llm, http (default: keyword)
//   - NLU_ENDPOINT: remote classifier URL, required for the http backend
//   - DIALOG_CATALOG_PATH: intent catalog YAML, watched for hot reload (optional)
//   - DIALOG_DISPATCH_URL: downstream task API base URL; demo handlers when unset
//   - DIALOG_SESSION_IDLE_AFTER: idle time before sessions expire (default: 30m)
//   - DIALOG_SWEEP_INTERVAL: expired-session sweep cadence (default: 1m)
//   - INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET:
//     turn analytics sink; analytics are disabled when the URL is unset
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - DIALOG_TRACE_STDOUT: print spans to stdout instead of OTLP (default: false)
//
// # Usage
//
//	# Build
//	go build -o dialogd ./cmd/dialogd
//
//	# Run
//	./dialogd
//
//	# Or via container
//	podman-compose up dialog
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/analytics"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := dialog.Config{
		Port:         getEnvInt("DIALOG_PORT", 12310),
		StoreBackend: getEnvString("DIALOG_STORE_BACKEND", dialog.StoreBadger),
		DataDir:      getEnvString("DIALOG_DATA_DIR", "./data/dialog"),
		WeaviateURL:  os.Getenv("WEAVIATE_SERVICE_URL"),
		NLUBackend:   getEnvString("NLU_BACKEND", dialog.NLUKeyword),
		NLUEndpoint:  os.Getenv("NLU_ENDPOINT"),
		CatalogPath:  os.Getenv("DIALOG_CATALOG_PATH"),
		DispatchURL:  os.Getenv("DIALOG_DISPATCH_URL"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		TraceStdout:  getEnvBool("DIALOG_TRACE_STDOUT", false),
		Analytics: analytics.Config{
			URL:    os.Getenv("INFLUXDB_URL"),
			Token:  os.Getenv("INFLUXDB_TOKEN"),
			Org:    os.Getenv("INFLUXDB_ORG"),
			Bucket: os.Getenv("INFLUXDB_BUCKET"),
		},
		SessionIdleAfter: getEnvDuration("DIALOG_SESSION_IDLE_AFTER", 30*time.Minute),
		SweepInterval:    getEnvDuration("DIALOG_SWEEP_INTERVAL", time.Minute),
	}

	slog.Info("Starting dialog service",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"nlu_backend", cfg.NLUBackend,
		"catalog_path", cfg.CatalogPath,
	)

	// Create the service with default (no-op) extension options.
	// Enterprise builds will pass custom ServiceOptions here.
	svc, err := dialog.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create dialog service: %v", err)
	}

	// Serve until SIGINT/SIGTERM, then drain
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.RunContext(ctx); err != nil {
		log.Fatalf("Dialog service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
