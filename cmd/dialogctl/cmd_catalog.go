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

	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
)

func runCatalogShow(cmd *cobra.Command, args []string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := newServiceClient().Intents(ctx)

	cfg := outputConfigFromFlags()
	if !cfg.JSON && !cfg.Quiet && err == nil {
		fmt.Printf("Catalog version %s (source %s, %d intents)\n\n",
			result.Version, result.Source, len(result.Intents))
		for _, in := range result.Intents {
			fmt.Printf("  %-16s %s\n", in.Name, in.DisplayName)
			if in.Description != "" {
				fmt.Printf("  %-16s %s\n", "", styleMuted.Render(in.Description))
			}
			fmt.Printf("  %-16s %s\n", "",
				styleMuted.Render(fmt.Sprintf("dispatches %s, %d/%d slots required",
					in.FunctionName, in.RequiredSlots, in.TotalSlots)))
		}
	}
	os.Exit(OutputResult(cfg, "catalog show", start, result, false, err))
}

// runCatalogValidate checks a catalog file. The default path parses
// and validates locally with the same code the service runs; --remote
// posts the file to the service instead, which also proves the admin
// endpoint and auth are working.
func runCatalogValidate(cmd *cobra.Command, args []string) {
	start := time.Now()
	path := args[0]
	remote, _ := cmd.Flags().GetBool("remote")

	var (
		result *ValidateResult
		err    error
	)
	if remote {
		result, err = validateRemote(path)
	} else {
		result = validateLocal(path)
	}
	if result != nil {
		result.File = path
	}

	cfg := outputConfigFromFlags()
	hasFindings := err == nil && !result.Valid
	if !cfg.JSON && !cfg.Quiet && err == nil {
		if result.Valid {
			fmt.Printf("%s: valid, %d intents\n", path, len(result.Intents))
			for _, name := range result.Intents {
				fmt.Println("  " + name)
			}
		} else {
			fmt.Printf("%s: %s\n", path, styleError.Render("invalid"))
			fmt.Println("  " + result.Error)
		}
	}
	os.Exit(OutputResult(cfg, "catalog validate", start, result, hasFindings, err))
}

func validateLocal(path string) *ValidateResult {
	intents, err := catalog.LoadFile(path)
	if err != nil {
		return &ValidateResult{Valid: false, Error: err.Error()}
	}
	names := make([]string, 0, len(intents))
	for i := range intents {
		names = append(names, intents[i].Name)
	}
	return &ValidateResult{Valid: true, Intents: names}
}

func validateRemote(path string) (*ValidateResult, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return newServiceClient().ValidateCatalog(ctx, body)
}

func runCatalogReload(cmd *cobra.Command, args []string) {
	start := time.Now()
	source, _ := cmd.Flags().GetString("source")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := newServiceClient().ReloadCatalog(ctx, source)

	cfg := outputConfigFromFlags()
	if !cfg.JSON && !cfg.Quiet && err == nil {
		fmt.Printf("Catalog reloaded from %s: version %s, %d intents\n",
			result.Source, result.Version, result.Intents)
	}
	os.Exit(OutputResult(cfg, "catalog reload", start, result, false, err))
}
