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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// healthCmd probes a running dialog service.
//
// # Description
//
// Fetches /health and reports the overall state, per-dependency
// status, and the catalog/sessions snapshot. Degraded or down
// dependencies surface through the exit code so monitoring scripts
// can alert without parsing output.
//
// # Examples
//
//	dialogctl health             # Human-readable report
//	dialogctl health --json      # JSON output for scripting
//	dialogctl health -q          # Exit code only
//
// # Limitations
//
//   - Reports what the service sees, not what the network between
//     here and its dependencies sees
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Display the health of the dialog service",
	Long: `Fetches the health report from a running dialog service.

Exit codes:
  0  healthy
  1  degraded or down
  2  the service did not answer`,
	Run: runHealthCommand,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newServiceClient()
	report, err := client.Health(ctx)

	cfg := outputConfigFromFlags()
	hasFindings := err == nil && report.Status != "healthy"
	if !cfg.JSON && !cfg.Quiet && err == nil {
		printHealthReport(report)
	}
	os.Exit(OutputResult(cfg, "health", start, report, hasFindings, err))
}

func printHealthReport(report *HealthResult) {
	statusStyle := styleAssistant
	switch report.Status {
	case "degraded":
		statusStyle = styleWarning
	case "down":
		statusStyle = styleError
	}

	fmt.Printf("Service:  %s\n", statusStyle.Render(report.Status))
	fmt.Printf("Version:  %s\n", report.Version)
	fmt.Printf("Uptime:   %s\n", report.Uptime)
	fmt.Printf("Sessions: %d live\n", report.LiveSessions)
	fmt.Printf("Catalog:  %d intents (version %s)\n", report.Intents, report.CatalogV)
	fmt.Println("Dependencies:")
	for _, name := range sortedKeys(report.Dependencies) {
		st := report.Dependencies[name]
		style := styleAssistant
		switch st {
		case "degraded":
			style = styleWarning
		case "down":
			style = styleError
		}
		fmt.Printf("  %-12s %s\n", name, style.Render(st))
	}
}
