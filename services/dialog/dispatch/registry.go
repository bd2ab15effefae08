// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// In-Process Registry
// =============================================================================

// Func is one in-process backend function.
type Func func(ctx context.Context, slots map[string]string) (*Result, error)

// Registry executes functions registered in-process. It backs local
// development and the demo catalog; production deployments point the
// dispatcher at an HTTPExecutor instead.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

var _ Executor = (*Registry)(nil)

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Names lists the registered functions, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	return out
}

// Execute implements Executor. An unregistered function is a catalog
// bug, reported as configuration rather than not-found so it pages.
func (r *Registry) Execute(ctx context.Context, function string, slots map[string]string) (*Result, error) {
	r.mu.RLock()
	fn, ok := r.funcs[function]
	r.mu.RUnlock()
	if !ok {
		return nil, faults.Newf(faults.CodeConfiguration,
			"dispatch: function %q is not registered", function)
	}
	return fn(ctx, slots)
}

// =============================================================================
// Demo Functions
// =============================================================================

// DemoRegistry returns a registry with the booking functions the
// default catalog references. They fabricate order numbers; nothing is
// actually booked.
func DemoRegistry() *Registry {
	r := NewRegistry()
	r.Register("flight_booking", demoBooking("F"))
	r.Register("train_booking", demoBooking("T"))
	r.Register("movie_booking", demoBooking("M"))
	r.Register("balance_query", demoBalance)
	return r
}

// demoBooking fabricates an order id with the given prefix and echoes
// the request through the result data for template rendering.
func demoBooking(prefix string) Func {
	return func(_ context.Context, slots map[string]string) (*Result, error) {
		data := make(map[string]any, len(slots)+1)
		for k, v := range slots {
			data[k] = v
		}
		data["order_id"] = fmt.Sprintf("%s%08d", prefix, rand.Intn(100000000))
		return &Result{Success: true, Data: data}, nil
	}
}

func demoBalance(_ context.Context, slots map[string]string) (*Result, error) {
	account := slots["account_type"]
	if account == "" {
		account = "储蓄卡"
	}
	return &Result{
		Success: true,
		Data: map[string]any{
			"account_type": account,
			"balance":      fmt.Sprintf("%.2f", 100+rand.Float64()*9900),
		},
	}, nil
}
