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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serviceURL string // Resolved base URL of the dialog service
	jsonOutput bool   // Machine-readable output for scripting
	quietMode  bool   // Exit code only, no output
	userID     string // User identity sent with chat turns

	rootCmd = &cobra.Command{
		Use:   "dialogctl",
		Short: "A cli to operate the AleutianDialog task router",
		Long: `Dialogctl is a tool for talking to and administering a running
				AleutianDialog service: interactive chat, one-shot turns,
				session inspection, catalog management, and Badger backups.`,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive conversation with the dialog service",
		Run:   runChatCommand, // Defined in chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [utterance]",
		Short: "Sends a single utterance and prints the reply",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in chat.go
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Inspect and close conversation sessions",
	}
	showSessionCmd = &cobra.Command{
		Use:   "show [session_id]",
		Short: "Show the state of a conversation session",
		Args:  cobra.ExactArgs(1),
		Run:   runShowSession, // Defined in cmd_session.go
	}
	closeSessionCmd = &cobra.Command{
		Use:   "close [session_id]",
		Short: "Close a conversation session",
		Args:  cobra.ExactArgs(1),
		Run:   runCloseSession, // Defined in cmd_session.go
	}

	// --- Catalog ---
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Manage the intent catalog of a running service",
	}
	catalogShowCmd = &cobra.Command{
		Use:   "show",
		Short: "List the intents in the active catalog",
		Run:   runCatalogShow, // Defined in cmd_catalog.go
	}
	catalogValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a catalog YAML file without activating it",
		Args:  cobra.ExactArgs(1),
		Run:   runCatalogValidate, // Defined in cmd_catalog.go
	}
	catalogReloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Reload the service catalog from its file or store",
		Run:   runCatalogReload, // Defined in cmd_catalog.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service-url", "",
		"Dialog service base URL (default: $DIALOG_SERVICE_URL or http://localhost:12310)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON for scripting")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false,
		"Suppress output, communicate via exit code only")

	// chat commands
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("resume", "", "Resume a conversation using a specific session ID.")
	chatCmd.Flags().StringVar(&userID, "user", "", "User ID to chat as (default: cli-$USER)")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&userID, "user", "", "User ID to ask as (default: cli-$USER)")
	askCmd.Flags().String("session", "", "Continue an existing session instead of starting fresh.")

	// session commands
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(showSessionCmd)
	sessionCmd.AddCommand(closeSessionCmd)

	// catalog administration commands
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogValidateCmd.Flags().Bool("remote", false,
		"Validate against the running service instead of parsing locally")
	catalogCmd.AddCommand(catalogReloadCmd)
	catalogReloadCmd.Flags().String("source", "",
		"Where the candidate catalog comes from: 'file' or 'store' (default: service decides)")
}

// resolveServiceURL fills serviceURL from the flag, the environment, or
// the standard local port, in that order.
func resolveServiceURL() {
	if serviceURL != "" {
		return
	}
	if url := os.Getenv("DIALOG_SERVICE_URL"); url != "" {
		serviceURL = url
		return
	}
	serviceURL = fmt.Sprintf("http://%s:%d", DefaultDialogHost, DefaultDialogPort)
}

// resolveUserID fills the chat identity from the flag or the local
// account name. Session ownership checks on the service key off this.
func resolveUserID() string {
	if userID != "" {
		return userID
	}
	if u := os.Getenv("USER"); u != "" {
		return "cli-" + u
	}
	return "cli-user"
}
