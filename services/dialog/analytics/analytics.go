// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics streams committed dialogue turns to InfluxDB for
// offline analysis: completion rates, turns-to-completion, intent mix,
// latency percentiles.
//
// The recorder rides the engine's request path, so writes go through the
// client's async batching API and never block a turn. Points carry
// dimensions and durations only; utterances and slot values stay out of
// the bucket.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/AleutianAI/AleutianDialog/services/dialog/conversation"
)

// Measurement is the InfluxDB measurement turn points are written under.
const Measurement = "dialog_turns"

// Config locates the InfluxDB backend.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// FlushInterval is the async batch flush cadence in milliseconds.
	// Zero uses the client default (1s).
	FlushInterval uint
}

// Recorder writes one point per committed turn through the async write
// API. Implements conversation.Recorder.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

var _ conversation.Recorder = (*Recorder)(nil)

// New connects to InfluxDB and verifies it answers health probes before
// accepting traffic. The returned Recorder owns the client; Close flushes
// and releases it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := influxdb2.DefaultOptions()
	if cfg.FlushInterval > 0 {
		opts = opts.SetFlushInterval(cfg.FlushInterval)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("analytics.recorder: influxdb connected",
		"url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket, "health", health.Status)

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}

	// Async write failures surface on a channel, not on WritePoint.
	go func() {
		for err := range r.writeAPI.Errors() {
			r.logger.Warn("analytics.recorder: influxdb write failed", "error", err)
		}
	}()

	return r, nil
}

// RecordTurn queues one turn point. Never blocks; the client batches and
// flushes in the background.
func (r *Recorder) RecordTurn(ev conversation.TurnEvent) {
	intent := ev.Intent
	if intent == "" {
		intent = "none"
	}
	p := influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"intent":        intent,
			"status":        ev.Status,
			"response_type": ev.ResponseType,
		},
		map[string]interface{}{
			"session_id":  ev.SessionID,
			"user_id":     ev.UserID,
			"turn_index":  ev.TurnIndex,
			"input_runes": ev.InputRunes,
			"duration_ms": float64(ev.Duration) / float64(time.Millisecond),
		},
		ev.Timestamp,
	)
	r.writeAPI.WritePoint(p)
}

// Ready reports whether InfluxDB still answers health probes. Wired into
// the service /health endpoint.
func (r *Recorder) Ready(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != domain.HealthCheckStatusPass {
		return fmt.Errorf("influxdb health status %s", health.Status)
	}
	return nil
}

// Close flushes queued points and shuts the client down.
func (r *Recorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
}

// =============================================================================
// Nop
// =============================================================================

// Nop discards every turn. Used when analytics is not configured.
type Nop struct{}

var _ conversation.Recorder = Nop{}

// RecordTurn is a no-op.
func (Nop) RecordTurn(conversation.TurnEvent) {}
