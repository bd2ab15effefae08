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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

func testRequest(t *testing.T, utterance string) Request {
	t.Helper()
	intents := catalog.Default()
	ptrs := make([]*datatypes.Intent, len(intents))
	for i := range intents {
		ptrs[i] = &intents[i]
	}
	return Request{Utterance: utterance, CatalogVersion: "v1", Intents: ptrs}
}

// =============================================================================
// Keyword Fallback
// =============================================================================

func TestKeywordMatchesFlightBooking(t *testing.T) {
	res, err := NewKeywordClassifier().Classify(context.Background(), testRequest(t, "我要订机票"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)

	assert.Equal(t, "book_flight", res.Candidates[0].IntentName)
	assert.Equal(t, "机票预订", res.Candidates[0].DisplayName)
	assert.Equal(t, "keyword", res.Adapter)
	for _, c := range res.Candidates {
		assert.LessOrEqual(t, c.Confidence, MaxKeywordConfidence)
	}
}

func TestKeywordSharedExampleScoresBoth(t *testing.T) {
	// "订票" is an example of both flight and train booking; the fallback
	// must keep the tie visible so the resolver can disambiguate.
	res, err := NewKeywordClassifier().Classify(context.Background(), testRequest(t, "订票"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Candidates), 2)

	names := []string{res.Candidates[0].IntentName, res.Candidates[1].IntentName}
	assert.Contains(t, names, "book_flight")
	assert.Contains(t, names, "book_train")
	assert.InDelta(t, res.Candidates[0].Confidence, res.Candidates[1].Confidence, 0.01)
}

func TestKeywordBalanceQuery(t *testing.T) {
	res, err := NewKeywordClassifier().Classify(context.Background(), testRequest(t, "查一下我的银行卡余额"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "check_balance", res.Candidates[0].IntentName)
}

func TestKeywordNoMatch(t *testing.T) {
	res, err := NewKeywordClassifier().Classify(context.Background(), testRequest(t, "今天天气怎么样"))
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestKeywordEmptyUtterance(t *testing.T) {
	res, err := NewKeywordClassifier().Classify(context.Background(), testRequest(t, "   "))
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestKeywordExtractsNoSlots(t *testing.T) {
	res, err := NewKeywordClassifier().Classify(context.Background(), testRequest(t, "订机票"))
	require.NoError(t, err)
	assert.Empty(t, res.Slots)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("订机票", "订机票"))
	assert.Greater(t, similarity("我要订机票", "订机票"), 0.7)
	assert.Greater(t, similarity("帮我订一张去上海的机票", "订机票"), 0.1)
	assert.Equal(t, 0.0, similarity("", "订机票"))
	assert.Less(t, similarity("今天天气怎么样", "订机票"), keywordFloor)
}

// =============================================================================
// HTTP Adapter
// =============================================================================

func TestHTTPClassifierSuccess(t *testing.T) {
	var got classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [
				{"intent_name": "book_train", "confidence": 0.41},
				{"intent_name": "book_flight", "confidence": 0.92},
				{"intent_name": "order_pizza", "confidence": 0.88}
			],
			"slots": {
				"departure_city": {"extracted": "北京", "raw_text": "从北京", "confidence": 0.9}
			}
		}`))
	}))
	defer srv.Close()

	req := testRequest(t, "我要订一张从北京出发的机票")
	req.CurrentIntent = "book_flight"
	res, err := NewHTTPClassifier(srv.URL).Classify(context.Background(), req)
	require.NoError(t, err)

	// The request carried the catalog context.
	assert.Equal(t, "我要订一张从北京出发的机票", got.Utterance)
	assert.Equal(t, "book_flight", got.CurrentIntent)
	assert.Equal(t, "v1", got.CatalogVersion)
	assert.Contains(t, got.Intents, "book_flight")

	// Ranked, decorated, and filtered to catalog intents.
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "book_flight", res.Candidates[0].IntentName)
	assert.Equal(t, "机票预订", res.Candidates[0].DisplayName)
	assert.Equal(t, 0.92, res.Candidates[0].Confidence)
	assert.Equal(t, "book_train", res.Candidates[1].IntentName)

	require.Contains(t, res.Slots, "departure_city")
	assert.Equal(t, "北京", res.Slots["departure_city"].Extracted)
	assert.Equal(t, "http", res.Adapter)
}

func TestHTTPClassifierTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, WithTimeout(30*time.Millisecond))
	_, err := c.Classify(context.Background(), testRequest(t, "订机票"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalTimeout), "got %v", err)
}

func TestHTTPClassifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(srv.URL).Classify(context.Background(), testRequest(t, "订机票"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalService), "got %v", err)
}

func TestHTTPClassifierOverloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(srv.URL).Classify(context.Background(), testRequest(t, "订机票"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalUnavailable), "got %v", err)
}

func TestHTTPClassifierBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not json"))
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(srv.URL).Classify(context.Background(), testRequest(t, "订机票"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalBadResponse), "got %v", err)
}

func TestHTTPClassifierConnectionRefused(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClassifier(url).Classify(context.Background(), testRequest(t, "订机票"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeNetwork), "got %v", err)
}

// =============================================================================
// Resilient Composite
// =============================================================================

// fakeClassifier fails the first failures calls with failErr, then
// answers with result.
type fakeClassifier struct {
	calls    atomic.Int64
	failures int64
	failErr  error
	result   *Result
}

func (f *fakeClassifier) Name() string { return "fake" }

func (f *fakeClassifier) Classify(_ context.Context, _ Request) (*Result, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, f.failErr
	}
	return f.result, nil
}

func fastRetry() faults.RetryPolicy {
	return faults.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1, Jitter: 0}
}

func TestResilientPrimarySuccess(t *testing.T) {
	primary := &fakeClassifier{result: &Result{
		Candidates: []datatypes.IntentCandidate{{IntentName: "book_flight", Confidence: 0.93}},
		Adapter:    "fake",
	}}
	r := NewResilient(primary, NewKeywordClassifier(), faults.NewBreaker("nlu", faults.BreakerConfig{}), nil)
	r.retry = fastRetry()

	res, err := r.Classify(context.Background(), testRequest(t, "订机票"))
	require.NoError(t, err)
	assert.Equal(t, "fake", res.Adapter)
	assert.EqualValues(t, 1, primary.calls.Load())
}

func TestResilientRetriesTransientFailure(t *testing.T) {
	primary := &fakeClassifier{
		failures: 1,
		failErr:  faults.New(faults.CodeNetworkTimeout, "flaky"),
		result:   &Result{Adapter: "fake"},
	}
	r := NewResilient(primary, NewKeywordClassifier(), faults.NewBreaker("nlu", faults.BreakerConfig{}), nil)
	r.retry = fastRetry()

	res, err := r.Classify(context.Background(), testRequest(t, "订机票"))
	require.NoError(t, err)
	assert.Equal(t, "fake", res.Adapter)
	assert.EqualValues(t, 2, primary.calls.Load())
}

func TestResilientFallsBackOnPersistentFailure(t *testing.T) {
	primary := &fakeClassifier{
		failures: 100,
		failErr:  faults.New(faults.CodeExternalService, "down"),
	}
	r := NewResilient(primary, NewKeywordClassifier(), faults.NewBreaker("nlu", faults.BreakerConfig{}), nil)
	r.retry = fastRetry()

	res, err := r.Classify(context.Background(), testRequest(t, "我要订机票"))
	require.NoError(t, err)
	assert.Equal(t, "keyword", res.Adapter)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "book_flight", res.Candidates[0].IntentName)
	// Both attempts of the retry were spent on the primary.
	assert.EqualValues(t, 2, primary.calls.Load())
}

func TestResilientBreakerOpensAndSkipsPrimary(t *testing.T) {
	primary := &fakeClassifier{
		failures: 100,
		failErr:  faults.New(faults.CodeExternalService, "down"),
	}
	breaker := faults.NewBreaker("nlu", faults.BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	r := NewResilient(primary, NewKeywordClassifier(), breaker, nil)
	r.retry = faults.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, Multiplier: 1}

	// First call fails and trips the breaker.
	_, err := r.Classify(context.Background(), testRequest(t, "订机票"))
	require.NoError(t, err)
	callsAfterTrip := primary.calls.Load()
	assert.Equal(t, faults.BreakerOpen, breaker.State())

	// Subsequent calls go straight to the fallback.
	res, err := r.Classify(context.Background(), testRequest(t, "订机票"))
	require.NoError(t, err)
	assert.Equal(t, "keyword", res.Adapter)
	assert.Equal(t, callsAfterTrip, primary.calls.Load())
}

func TestResilientNoFallbackSurfacesError(t *testing.T) {
	primary := &fakeClassifier{
		failures: 100,
		failErr:  faults.New(faults.CodeExternalTimeout, "no answer"),
	}
	r := NewResilient(primary, nil, faults.NewBreaker("nlu", faults.BreakerConfig{}), nil)
	r.retry = fastRetry()

	_, err := r.Classify(context.Background(), testRequest(t, "订机票"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalTimeout), "got %v", err)
}

func TestResilientNonRetryableFailsFast(t *testing.T) {
	primary := &fakeClassifier{
		failures: 100,
		failErr:  faults.New(faults.CodeConfiguration, "bad credentials"),
	}
	r := NewResilient(primary, NewKeywordClassifier(), faults.NewBreaker("nlu", faults.BreakerConfig{}), nil)
	r.retry = fastRetry()

	res, err := r.Classify(context.Background(), testRequest(t, "订机票"))
	require.NoError(t, err)
	assert.Equal(t, "keyword", res.Adapter)
	// A configuration error is not retried.
	assert.EqualValues(t, 1, primary.calls.Load())
}
