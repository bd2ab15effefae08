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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

func balanceIntent() *datatypes.Intent {
	return &datatypes.Intent{
		Name:           "check_balance",
		DisplayName:    "余额查询",
		FunctionName:   "balance_query",
		ResultTemplate: "您的{account_type}余额为{balance}元。",
	}
}

func filledSlots() datatypes.SlotMap {
	return datatypes.SlotMap{
		"account_type": &datatypes.SlotValue{
			SlotName:   "account_type",
			Extracted:  "储蓄卡",
			Normalized: "储蓄卡",
			Source:     datatypes.SourceUserInput,
			State:      datatypes.SlotValid,
		},
	}
}

func newDispatcher(exec Executor, opts ...Option) *Dispatcher {
	return New(exec, faults.NewBreaker("fn", faults.BreakerConfig{}), nil, opts...)
}

// countingExec scripts a sequence of responses.
type countingExec struct {
	calls     atomic.Int64
	responses []func() (*Result, error)
}

func (c *countingExec) Execute(_ context.Context, _ string, _ map[string]string) (*Result, error) {
	n := int(c.calls.Add(1)) - 1
	if n >= len(c.responses) {
		n = len(c.responses) - 1
	}
	return c.responses[n]()
}

// =============================================================================
// Dispatch
// =============================================================================

func TestDispatchRendersTemplate(t *testing.T) {
	exec := &countingExec{responses: []func() (*Result, error){
		func() (*Result, error) {
			return &Result{Success: true, Data: map[string]any{"balance": "8888.00"}}, nil
		},
	}}

	out, err := newDispatcher(exec).Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.NoError(t, err)
	assert.Equal(t, "您的储蓄卡余额为8888.00元。", out.Reply)
	assert.EqualValues(t, 1, exec.calls.Load())
}

func TestDispatchPrefersExecutorMessage(t *testing.T) {
	exec := &countingExec{responses: []func() (*Result, error){
		func() (*Result, error) {
			return &Result{Success: true, Message: "查询完成，余额充足。"}, nil
		},
	}}

	out, err := newDispatcher(exec).Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.NoError(t, err)
	assert.Equal(t, "查询完成，余额充足。", out.Reply)
}

func TestDispatchTimeoutNotRetried(t *testing.T) {
	exec := &countingExec{responses: []func() (*Result, error){
		func() (*Result, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, context.DeadlineExceeded
		},
	}}

	d := newDispatcher(exec, WithTimeout(20*time.Millisecond))
	_, err := d.Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalTimeout), "got %v", err)
	assert.EqualValues(t, 1, exec.calls.Load(), "a blown deadline must not be retried")
}

func TestDispatchRetriesNetworkFailureOnce(t *testing.T) {
	exec := &countingExec{responses: []func() (*Result, error){
		func() (*Result, error) { return nil, faults.New(faults.CodeNetwork, "connection reset") },
		func() (*Result, error) { return &Result{Success: true, Message: "好的"}, nil },
	}}

	out, err := newDispatcher(exec).Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.NoError(t, err)
	assert.Equal(t, "好的", out.Reply)
	assert.EqualValues(t, 2, exec.calls.Load())
}

func TestDispatchRetriesTransientRefusalOnce(t *testing.T) {
	exec := &countingExec{responses: []func() (*Result, error){
		func() (*Result, error) { return &Result{Success: false, Transient: true, Message: "系统繁忙"}, nil },
		func() (*Result, error) { return &Result{Success: true, Message: "已预订"}, nil },
	}}

	out, err := newDispatcher(exec).Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.NoError(t, err)
	assert.Equal(t, "已预订", out.Reply)
	assert.EqualValues(t, 2, exec.calls.Load())
}

func TestDispatchBusinessRefusalNotRetried(t *testing.T) {
	exec := &countingExec{responses: []func() (*Result, error){
		func() (*Result, error) { return &Result{Success: false, Message: "该航班已售罄"}, nil },
	}}

	out, err := newDispatcher(exec).Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.NoError(t, err)
	assert.Equal(t, "该航班已售罄", out.Reply)
	assert.EqualValues(t, 1, exec.calls.Load())
}

func TestDispatchOpenBreakerMapsToUnavailable(t *testing.T) {
	exec := &countingExec{responses: []func() (*Result, error){
		func() (*Result, error) { return nil, faults.New(faults.CodeExternalService, "down") },
	}}
	breaker := faults.NewBreaker("fn", faults.BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	d := New(exec, breaker, nil)

	_, err := d.Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.Error(t, err)
	require.Equal(t, faults.BreakerOpen, breaker.State())

	callsAfterTrip := exec.calls.Load()
	_, err = d.Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalUnavailable), "got %v", err)
	assert.Equal(t, callsAfterTrip, exec.calls.Load())
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistryUnknownFunction(t *testing.T) {
	_, err := NewRegistry().Execute(context.Background(), "no_such_fn", nil)
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeConfiguration))
}

func TestDemoRegistryCoversDefaultCatalog(t *testing.T) {
	reg := DemoRegistry()
	for _, fn := range []string{"flight_booking", "train_booking", "movie_booking", "balance_query"} {
		res, err := reg.Execute(context.Background(), fn, map[string]string{"departure_city": "北京"})
		require.NoError(t, err, fn)
		assert.True(t, res.Success, fn)
	}
}

func TestDemoBalanceRendersThroughTemplate(t *testing.T) {
	d := newDispatcher(DemoRegistry())
	out, err := d.Dispatch(context.Background(), balanceIntent(), filledSlots())
	require.NoError(t, err)
	assert.Contains(t, out.Reply, "余额为")
	assert.Contains(t, out.Reply, "元。")
	assert.NotContains(t, out.Reply, "{balance}")
}

// =============================================================================
// HTTP Executor
// =============================================================================

func TestHTTPExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/flight_booking", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "data": {"order_id": "F12345678"}}`))
	}))
	defer srv.Close()

	res, err := NewHTTPExecutor(srv.URL+"/functions", nil).
		Execute(context.Background(), "flight_booking", map[string]string{"departure_city": "北京"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "F12345678", res.Data["order_id"])
}

func TestHTTPExecutorBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "该航班已售罄"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPExecutor(srv.URL, nil).Execute(context.Background(), "flight_booking", nil)
	require.NoError(t, err, "4xx is a refusal, not an infrastructure error")
	assert.False(t, res.Success)
	assert.Equal(t, "该航班已售罄", res.Message)
}

func TestHTTPExecutorMissingFunction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTPExecutor(srv.URL, nil).Execute(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeConfiguration))
}

func TestHTTPExecutorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPExecutor(srv.URL, nil).Execute(context.Background(), "flight_booking", nil)
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeExternalService))
}

// =============================================================================
// Template Rendering
// =============================================================================

func TestRenderTemplate(t *testing.T) {
	slots := map[string]string{"departure_city": "北京", "arrival_city": "上海", "departure_date": "2025-06-10"}
	got := RenderTemplate("已为您预订{departure_date}从{departure_city}到{arrival_city}的机票。", slots, nil)
	assert.Equal(t, "已为您预订2025-06-10从北京到上海的机票。", got)
}

func TestRenderTemplateDataWinsOverSlots(t *testing.T) {
	got := RenderTemplate("出发时间：{departure_date}",
		map[string]string{"departure_date": "2025-06-10"},
		map[string]any{"departure_date": "2025-06-11"})
	assert.Equal(t, "出发时间：2025-06-11", got)
}

func TestRenderTemplateUnresolvedStaysVerbatim(t *testing.T) {
	got := RenderTemplate("订单号：{order_id}", nil, nil)
	assert.Equal(t, "订单号：{order_id}", got)
}

func TestRenderTemplateNumbers(t *testing.T) {
	got := RenderTemplate("共{count}人，合计{total}元", nil,
		map[string]any{"count": float64(3), "total": float64(1299.5)})
	assert.Equal(t, "共3人，合计1299.50元", got)
}
