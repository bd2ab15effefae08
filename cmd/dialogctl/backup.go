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
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDialog/cmd/dialogctl/gcs"
	badgerstore "github.com/AleutianAI/AleutianDialog/services/dialog/storage/badger"
)

var (
	backupOutput  string // Backup file path override
	backupBucket  string // GCS bucket to upload to
	backupProject string // GCS project for the bucket
	backupKeyPath string // Service account key; ADC when empty
)

// backupCmd snapshots the Badger data directory to a single file.
//
// # Description
//
// Streams a full backup of the session store to a file in Badger's
// backup format, optionally uploading it to Google Cloud Storage.
// Badger holds an exclusive lock on its directory, so the dialog
// service must be stopped first; the command fails fast on a held
// lock rather than waiting.
//
// # Examples
//
//	dialogctl backup ./data/dialog
//	dialogctl backup ./data/dialog -o /backups/dialog-20250825.badger
//	dialogctl backup ./data/dialog --gcs-bucket dialog-backups --gcs-project my-proj
//
// # Limitations
//
//   - Full backups only; incremental backups need the since-version
//     bookkeeping that a scheduler would keep
var backupCmd = &cobra.Command{
	Use:   "backup [data_dir]",
	Short: "Back up the Badger session store to a file",
	Long: `Streams a full backup of the Badger data directory to a single file.

The dialog service must be stopped: Badger takes an exclusive lock on
its data directory. Restore with badger's standard restore tooling or
by seeding a fresh data directory.`,
	Args: cobra.ExactArgs(1),
	Run:  runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "",
		"Backup file path (default: dialog-backup-<timestamp>.badger)")
	backupCmd.Flags().StringVar(&backupBucket, "gcs-bucket", "",
		"Upload the backup file to this GCS bucket")
	backupCmd.Flags().StringVar(&backupProject, "gcs-project", "",
		"GCS project owning the bucket")
	backupCmd.Flags().StringVar(&backupKeyPath, "gcs-key", "",
		"Service account key file (default: application default credentials)")
}

func runBackup(cmd *cobra.Command, args []string) {
	start := time.Now()
	dataDir := args[0]
	cfg := outputConfigFromFlags()

	result, err := backupDataDir(context.Background(), dataDir)
	if !cfg.JSON && !cfg.Quiet && err == nil {
		fmt.Printf("Backed up %s to %s (%d bytes)\n", dataDir, result.File, result.SizeBytes)
		if result.GCSObject != "" {
			fmt.Printf("Uploaded to %s\n", result.GCSObject)
		}
	}
	os.Exit(OutputResult(cfg, "backup", start, result, false, err))
}

func backupDataDir(ctx context.Context, dataDir string) (*BackupResult, error) {
	storeCfg := badgerstore.DefaultConfig()
	storeCfg.Path = dataDir
	storeCfg.SyncWrites = false
	storeCfg.GCInterval = 0

	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s (is the service stopped?): %w", dataDir, err)
	}
	defer store.Close()

	outPath := backupOutput
	if outPath == "" {
		outPath = fmt.Sprintf("dialog-backup-%s.badger", time.Now().Format("20060102-150405"))
	}
	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	version, err := store.Backup(ctx, f, 0)
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("backup failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to flush backup file: %w", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, err
	}
	result := &BackupResult{
		File:      outPath,
		SizeBytes: info.Size(),
		Version:   version,
	}

	if backupBucket != "" {
		object, err := uploadBackup(ctx, outPath)
		if err != nil {
			return nil, err
		}
		result.GCSObject = object
	}
	return result, nil
}

func uploadBackup(ctx context.Context, localPath string) (string, error) {
	uploader, err := gcs.NewUploader(ctx, gcs.Options{
		Project: backupProject,
		Bucket:  backupBucket,
		KeyFile: backupKeyPath,
	})
	if err != nil {
		return "", err
	}
	defer uploader.Close()

	object := filepath.Join("backups/dialog", filepath.Base(localPath))
	if err := uploader.Put(ctx, localPath, object); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", backupBucket, object), nil
}
