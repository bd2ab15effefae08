// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch calls the backend function once an intent's slots
// are complete, and renders the result into the user's reply. The call
// runs under its own deadline behind a circuit breaker; a transient
// failure earns exactly one retry, a business failure none.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

// =============================================================================
// Executor Contract
// =============================================================================

// DefaultTimeout is the hard deadline for one backend call.
const DefaultTimeout = 10 * time.Second

// Result is what a backend function returns. Success false with a
// Message is a business refusal ("该航班已售罄"), not an infrastructure
// failure; Transient marks refusals worth one retry.
type Result struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Transient bool           `json:"transient,omitempty"`
}

// Executor runs one named backend function against a completed slot
// map. Implementations return classified faults for infrastructure
// problems and a Result for business outcomes.
type Executor interface {
	Execute(ctx context.Context, function string, slots map[string]string) (*Result, error)
}

// =============================================================================
// Dispatcher
// =============================================================================

// Outcome is a finished dispatch: the reply to show the user plus the
// structured payload for the turn record.
type Outcome struct {
	Reply string
	Data  map[string]any
}

// Dispatcher executes intents. The breaker is shared per backend, not
// per function: one sick backend should not be hammered through its
// other endpoints.
type Dispatcher struct {
	executor Executor
	breaker  *faults.Breaker
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// New builds a Dispatcher around an executor.
func New(executor Executor, breaker *faults.Breaker, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		executor: executor,
		breaker:  breaker,
		timeout:  DefaultTimeout,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Breaker exposes the backend breaker for health reporting.
func (d *Dispatcher) Breaker() *faults.Breaker { return d.breaker }

// Dispatch runs the intent's function over the collected slots. Slot
// values are passed in normalized form. On success the reply prefers
// the executor's message, falling back to the intent's result template.
//
// Infrastructure failures and open breakers return classified errors;
// the engine keeps the intent suspended so the user can resume. A
// business refusal is not an error: it comes back as an Outcome whose
// reply is the refusal message.
func (d *Dispatcher) Dispatch(ctx context.Context, intent *datatypes.Intent, slots datatypes.SlotMap) (*Outcome, error) {
	values := slots.Usable()
	start := d.now()

	// At most one retry per dispatch, whether it was spent on a
	// transport failure or a transient refusal.
	var result *Result
	err := d.breaker.Execute(ctx, func(ctx context.Context) error {
		r, execErr := d.callOnce(ctx, intent.FunctionName, values)
		retried := false
		if execErr != nil && shouldRetry(execErr) && ctx.Err() == nil {
			r, execErr = d.callOnce(ctx, intent.FunctionName, values)
			retried = true
		}
		if execErr != nil {
			return execErr
		}
		if !r.Success && r.Transient && !retried {
			retry, retryErr := d.callOnce(ctx, intent.FunctionName, values)
			if retryErr != nil {
				return retryErr
			}
			r = retry
		}
		result = r
		return nil
	})

	d.observe(intent.FunctionName, start, result, err)

	if err != nil {
		if errors.Is(err, faults.ErrCircuitOpen) {
			err = faults.Wrap(err, faults.CodeExternalUnavailable,
				fmt.Sprintf("dispatch: backend for %s is unavailable", intent.FunctionName))
		}
		return nil, err
	}

	outcome := &Outcome{Data: result.Data}
	switch {
	case result.Message != "":
		outcome.Reply = result.Message
	case result.Success && intent.ResultTemplate != "":
		outcome.Reply = RenderTemplate(intent.ResultTemplate, values, result.Data)
	case result.Success:
		outcome.Reply = "已完成。"
	default:
		outcome.Reply = "操作未能完成，请稍后再试。"
	}
	return outcome, nil
}

// callOnce runs the executor under the dispatch deadline and maps a
// blown deadline to the external-timeout code.
func (d *Dispatcher) callOnce(ctx context.Context, function string, values map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.executor.Execute(ctx, function, values)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !faults.IsCode(err, faults.CodeExternalTimeout) {
			return nil, faults.Wrap(err, faults.CodeExternalTimeout,
				fmt.Sprintf("dispatch: %s gave no answer within %s", function, d.timeout))
		}
		return nil, err
	}
	if result == nil {
		return nil, faults.New(faults.CodeExternalBadResponse, "dispatch: executor returned nil result")
	}
	return result, nil
}

func (d *Dispatcher) observe(function string, start time.Time, result *Result, err error) {
	m := observability.Default
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, faults.ErrCircuitOpen):
		outcome = "breaker_open"
	case err != nil:
		outcome = "error"
	case result != nil && !result.Success:
		outcome = "refused"
	}
	m.DispatchTotal.WithLabelValues(function, outcome).Inc()
	if !errors.Is(err, faults.ErrCircuitOpen) {
		m.DispatchLatencySeconds.WithLabelValues(function).Observe(d.now().Sub(start).Seconds())
	}
}

// shouldRetry admits one retry for transient infrastructure failures.
// A blown T_fn deadline is excluded: retrying it would double the
// user's wait for an answer that is already late.
func shouldRetry(err error) bool {
	if !faults.IsRetryable(err) {
		return false
	}
	switch faults.CodeOf(err) {
	case faults.CodeExternalTimeout, faults.CodeTimeout:
		return false
	}
	return true
}

