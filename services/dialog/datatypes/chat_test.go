// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name     string
		req      ChatRequest
		wantCode faults.Code
	}{
		{"valid", ChatRequest{UserID: "u1", Input: "我要订机票"}, ""},
		{"empty input", ChatRequest{UserID: "u1", Input: "   "}, faults.CodeMissingInput},
		{"oversize input", ChatRequest{UserID: "u1", Input: strings.Repeat("订", MaxInputRunes+1)}, faults.CodePayloadTooLarge},
		{"empty user id", ChatRequest{UserID: "", Input: "hi"}, faults.CodeMissingInput},
		{"long user id", ChatRequest{UserID: strings.Repeat("u", 101), Input: "hi"}, faults.CodeOutOfRange},
		{"long session id", ChatRequest{UserID: "u1", Input: "hi", SessionID: strings.Repeat("s", 51)}, faults.CodeOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.EnsureDefaults()
			err := tt.req.Validate()
			if tt.wantCode == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.wantCode, err.Code)
		})
	}
}

func TestChatRequestInputAtLimitPasses(t *testing.T) {
	// Rune count, not byte count: 1000 CJK runes are ~3000 bytes.
	req := ChatRequest{UserID: "u1", Input: strings.Repeat("海", MaxInputRunes)}
	req.EnsureDefaults()
	assert.Nil(t, req.Validate())
}

func TestChatRequestLocale(t *testing.T) {
	req := ChatRequest{}
	assert.Equal(t, "zh", req.Locale())

	req.Context = &UserContext{DeviceInfo: &DeviceInfo{Language: "en-US"}}
	assert.Equal(t, "en", req.Locale())

	req.Context.DeviceInfo.Language = "zh-CN"
	assert.Equal(t, "zh", req.Locale())
}

func TestChatResponseEnvelopeShape(t *testing.T) {
	data := &ChatData{
		Response:         "好的，正在为您查询",
		SessionID:        "s-1",
		ConversationTurn: 3,
		Status:           StatusIncomplete,
		ResponseType:     ResponseSlotPrompt,
		NextAction:       "collect_slots",
	}
	data.SetIntent("book_flight")

	resp := NewChatResponse("req-1", data)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Nil(t, decoded["error"], "success envelope keeps error as JSON null")
	assert.Equal(t, "req-1", decoded["request_id"])

	payload := decoded["data"].(map[string]any)
	assert.Equal(t, "book_flight", payload["intent"])
	assert.Equal(t, "incomplete", payload["status"])
	assert.Equal(t, "slot_prompt", payload["response_type"])
}

func TestChatDataIntentNullWhenUnresolved(t *testing.T) {
	data := &ChatData{SessionID: "s-1", Status: StatusRagflowHandled, ResponseType: ResponseRagflow}
	data.SetIntent("")

	raw, err := json.Marshal(NewChatResponse("req-2", data))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"intent":null`)
}

func TestNewErrorResponse(t *testing.T) {
	fe := faults.New(faults.CodeRateLimited, "bucket empty").With("user_id", "u1")
	resp := NewErrorResponse("req-3", fe, "zh", 42*time.Millisecond)

	assert.False(t, resp.Success)
	assert.Equal(t, faults.UserMessage(faults.CodeRateLimited, "zh"), resp.Message)
	assert.Equal(t, "E1003", resp.Error.Code)
	assert.Equal(t, "req-3", resp.Metadata.RequestID)
	assert.Equal(t, int64(42), resp.Metadata.ProcessingTimeMS)
}

func TestSlotMapWireSlots(t *testing.T) {
	m := SlotMap{
		"departure_city": &SlotValue{
			SlotName:   "departure_city",
			RawText:    "从北京",
			Extracted:  "北京",
			Normalized: "北京",
			Confidence: 0.93,
			Source:     SourceUserInput,
			State:      SlotValid,
		},
		"arrival_city": &SlotValue{
			SlotName:  "arrival_city",
			Extracted: "北京",
			Source:    SourceUserInput,
			State:     SlotInvalid,
			Error:     "出发城市和到达城市不能相同",
		},
	}

	wire := m.WireSlots()
	require.Len(t, wire, 2)

	dep := wire["departure_city"]
	assert.Equal(t, "北京", dep.Value)
	assert.True(t, dep.IsValidated)
	require.NotNil(t, dep.Confidence)
	assert.InDelta(t, 0.93, *dep.Confidence, 1e-9)
	assert.Equal(t, "从北京", dep.OriginalText)

	arr := wire["arrival_city"]
	assert.False(t, arr.IsValidated)
	assert.Contains(t, arr.ValidationError, "不能相同")
}
