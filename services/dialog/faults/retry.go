// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package faults

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy bounds automatic retries. Retries apply only to failures whose
// code classifies as retryable (external, network, transient storage) and
// only to idempotent operations; the caller asserts idempotence by choosing
// to use Retry at all.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first
	// (default: 2, i.e. one retry).
	MaxAttempts int

	// BaseBackoff is the wait before the first retry (default: 100ms).
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential growth (default: 2s).
	MaxBackoff time.Duration

	// Multiplier grows the backoff between attempts (default: 2.0).
	Multiplier float64

	// Jitter is the random fraction added to each wait, in [0,1]
	// (default: 0.2).
	Jitter float64
}

// DefaultRetryPolicy returns the single-retry policy used for collaborator
// calls inside a turn.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = def.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = def.Jitter
	}
	return p
}

// Retry runs op until it succeeds, exhausts the policy, hits a
// non-retryable failure, or the context ends. The last error is returned
// unchanged so its classification survives to the boundary.
//
// The wait before attempt n is BaseBackoff * Multiplier^(n-1), capped at
// MaxBackoff, plus up to Jitter of itself. Waits respect ctx cancellation.
func Retry(ctx context.Context, name string, policy RetryPolicy, op func(ctx context.Context) error) error {
	policy = policy.normalized()

	var lastErr error
	backoff := policy.BaseBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return Wrap(err, CodeTimeout, name+" canceled before attempt")
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}

		wait := backoff
		if policy.Jitter > 0 {
			wait += time.Duration(rand.Float64() * policy.Jitter * float64(backoff))
		}
		slog.Debug("faults.retry: backing off",
			"operation", name,
			"attempt", attempt,
			"wait", wait.String(),
			"code", string(CodeOf(lastErr)),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}
