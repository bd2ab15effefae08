// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs ships session store backup files to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Options configures the uploader. An empty KeyFile selects application
// default credentials, which covers GCE metadata and workstation gcloud
// logins; set it to pin a specific service account.
type Options struct {
	Project string
	Bucket  string
	KeyFile string
}

// Uploader writes backup objects into one GCS bucket.
type Uploader struct {
	client  *storage.Client
	project string
	bucket  string
}

// NewUploader connects to GCS with the given options.
func NewUploader(ctx context.Context, opts Options) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}

	var clientOpts []option.ClientOption
	if opts.KeyFile != "" {
		if _, err := os.Stat(opts.KeyFile); err != nil {
			return nil, fmt.Errorf("gcs: service account key %s not readable: %w", opts.KeyFile, err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.KeyFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: connect failed: %w", err)
	}
	return &Uploader{client: client, project: opts.Project, bucket: opts.Bucket}, nil
}

// Put streams one local file into the bucket under the given object
// name. Backup files never change after they are taken, so the object
// is written with caching disabled and an octet-stream content type to
// keep intermediaries from transforming it.
func (u *Uploader) Put(ctx context.Context, localPath, object string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("gcs: open %s: %w", localPath, err)
	}
	defer src.Close()

	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("gcs: write gs://%s/%s: %w", u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: finalize gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}

// Close releases the underlying storage client.
func (u *Uploader) Close() error {
	return u.client.Close()
}
