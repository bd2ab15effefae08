// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nlu

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

// =============================================================================
// Resilient Composite
// =============================================================================

// Resilient runs a primary classifier behind a circuit breaker with a
// single retry, degrading to the keyword fallback when the primary is
// down or the breaker is open. The turn keeps moving either way; only a
// failing fallback (which the keyword matcher never does) surfaces an
// error to the caller.
type Resilient struct {
	primary  Classifier
	fallback Classifier
	breaker  *faults.Breaker
	retry    faults.RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

var _ Classifier = (*Resilient)(nil)

// NewResilient wires primary behind breaker with fallback as the
// degraded path. A nil fallback means primary failures surface directly.
func NewResilient(primary, fallback Classifier, breaker *faults.Breaker, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		retry:    faults.DefaultRetryPolicy(),
		logger:   logger,
		now:      time.Now,
	}
}

// Name implements Classifier.
func (r *Resilient) Name() string { return "resilient(" + r.primary.Name() + ")" }

// Breaker exposes the underlying breaker for health reporting.
func (r *Resilient) Breaker() *faults.Breaker { return r.breaker }

// Classify implements Classifier.
func (r *Resilient) Classify(ctx context.Context, req Request) (*Result, error) {
	var result *Result
	start := r.now()

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return faults.Retry(ctx, "nlu."+r.primary.Name(), r.retry, func(ctx context.Context) error {
			res, callErr := r.primary.Classify(ctx, req)
			if callErr != nil {
				return callErr
			}
			result = res
			return nil
		})
	})

	r.observe(r.primary.Name(), start, err)
	if err == nil {
		return result, nil
	}

	if r.fallback == nil {
		return nil, err
	}
	if errors.Is(err, faults.ErrCircuitOpen) {
		r.logger.Debug("nlu.resilient: breaker open, using fallback",
			"primary", r.primary.Name(),
			"fallback", r.fallback.Name(),
		)
	} else {
		r.logger.Warn("nlu.resilient: primary failed, using fallback",
			"primary", r.primary.Name(),
			"fallback", r.fallback.Name(),
			"code", string(faults.CodeOf(err)),
		)
	}

	fbStart := r.now()
	res, fbErr := r.fallback.Classify(ctx, req)
	r.observe(r.fallback.Name(), fbStart, fbErr)
	if fbErr != nil {
		// The primary's classification is the more useful diagnosis.
		return nil, err
	}
	return res, nil
}

func (r *Resilient) observe(adapter string, start time.Time, err error) {
	m := observability.Default
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, faults.ErrCircuitOpen):
		outcome = "breaker_open"
	case err != nil:
		outcome = "failure"
	}
	m.NLURequestsTotal.WithLabelValues(adapter, outcome).Inc()
	if !errors.Is(err, faults.ErrCircuitOpen) {
		m.NLULatencySeconds.WithLabelValues(adapter).Observe(r.now().Sub(start).Seconds())
	}
}
