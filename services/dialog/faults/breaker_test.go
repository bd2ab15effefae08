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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives breaker time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time            { return c.t }
func (c *fakeClock) Advance(d time.Duration)   { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock                 { return &fakeClock{t: time.Unix(1700000000, 0)} }
func newTestBreaker(clock *fakeClock) *Breaker {
	b := NewBreaker("nlu", DefaultBreakerConfig())
	b.now = clock.Now
	return b
}

func TestBreakerOpensAfterThresholdInWindow(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	allowed, _ := b.Allow()
	assert.False(t, allowed)
}

func TestBreakerFailuresAgeOutOfWindow(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(61 * time.Second)
	b.RecordFailure()

	// The first two failures fell out of the 60s window.
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerSuccessResetsClosedCount(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, BreakerOpen, b.State())

	clock.Advance(31 * time.Second)
	allowed, release := b.Allow()
	assert.True(t, allowed)
	require.NotNil(t, release)
	release()
	assert.Equal(t, BreakerHalfOpen, b.State())
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)

	for i := 0; i < 3; i++ {
		allowed, release := b.Allow()
		require.True(t, allowed, "probe %d", i)
		b.RecordSuccess()
		if release != nil {
			release()
		}
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)

	allowed, release := b.Allow()
	require.True(t, allowed)
	b.RecordFailure()
	if release != nil {
		release()
	}
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerHalfOpenLimitsConcurrentProbes(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)

	var releases []func()
	for i := 0; i < 3; i++ {
		allowed, release := b.Allow()
		require.True(t, allowed)
		releases = append(releases, release)
	}
	allowed, _ := b.Allow()
	assert.False(t, allowed, "fourth concurrent probe must be rejected")

	for _, r := range releases {
		if r != nil {
			r()
		}
	}
}

func TestBreakerMonotonicTransitions(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	var transitions []string
	b.OnStateChange(func(name string, from, to BreakerState) {
		transitions = append(transitions, from.String()+">"+to.String())
	})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)
	allowed, release := b.Allow()
	require.True(t, allowed)
	b.RecordFailure()
	if release != nil {
		release()
	}

	// Open never re-opens directly; it traverses half-open first.
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>open"}, transitions)
}

func TestBreakerExecute(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerStats(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	b.Allow()
	b.RecordFailure()
	stats := b.Stats()
	assert.Equal(t, "nlu", stats.Name)
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, 1, stats.WindowFailures)
}
