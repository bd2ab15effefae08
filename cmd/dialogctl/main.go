// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command dialogctl is the operator CLI for the AleutianDialog service.
//
// It talks to a running dialogd over HTTP for chat, health, session,
// and catalog administration, and works directly against the Badger
// data directory for offline backups.
//
// The service address comes from --service-url or the
// DIALOG_SERVICE_URL environment variable (default
// http://localhost:12310). When DIALOG_API_TOKEN is set it is sent as
// a bearer token on every request.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// Flags beat the environment, the environment beats defaults.
		resolveServiceURL()
	}
}
