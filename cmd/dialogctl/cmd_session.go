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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func runShowSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	raw, err := newServiceClient().Session(ctx, sessionID)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	// The session state is already JSON; pretty-print it either way.
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		log.Fatalf("Error: failed to parse session state: %v", err)
	}
	if err := OutputJSON(pretty, false); err != nil {
		log.Fatalf("Failed to encode JSON: %v", err)
	}
}

func runCloseSession(cmd *cobra.Command, args []string) {
	start := time.Now()
	sessionID := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := newServiceClient().CloseSession(ctx, sessionID)

	cfg := outputConfigFromFlags()
	if !cfg.JSON && !cfg.Quiet && err == nil {
		fmt.Printf("Session %s closed.\n", result.SessionID)
	}
	os.Exit(OutputResult(cfg, "session close", start, result, false, err))
}
