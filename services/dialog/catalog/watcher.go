// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches editor write bursts and atomic-rename saves into
// one reload.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reloads the catalog when its file changes. Invalid edits are
// logged and dropped; the last good snapshot stays active.
//
// The parent directory is watched rather than the file itself so
// write-rename saves (vim, kubectl configmap updates) keep working after
// the inode changes.
type Watcher struct {
	path     string
	manager  *Manager
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for one catalog file. Run starts it.
func NewWatcher(path string, manager *Manager, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		manager:  manager,
		logger:   logger,
		debounce: DefaultDebounce,
	}
}

// Run watches until the context is canceled. Always returns the context's
// error on normal shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.logger.Info("catalog.watcher: watching", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog.watcher: watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	intents, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("catalog.watcher: reload failed, keeping last good snapshot",
			"path", w.path, "error", err)
		return
	}
	snap, err := w.manager.Replace(intents, w.path)
	if err != nil {
		w.logger.Error("catalog.watcher: catalog rejected, keeping last good snapshot",
			"path", w.path, "error", err)
		return
	}
	w.logger.Info("catalog.watcher: catalog reloaded",
		"path", w.path, "version", snap.Version(), "intents", snap.Len())
}
