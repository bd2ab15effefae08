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

import "time"

// Turn is one user-input / system-reply pair. Turns are append-only under
// their session and ring-buffered in memory; the store keeps the full
// series.
type Turn struct {
	TurnIndex        int                 `json:"turn_index"`
	RequestID        string              `json:"request_id"`
	UserText         string              `json:"user_text"`
	RecognizedIntent string              `json:"recognized_intent,omitempty"`
	Confidence       float64             `json:"confidence,omitempty"`
	SlotsSnapshot    map[string]SlotInfo `json:"slots_snapshot,omitempty"`
	ReplyText        string              `json:"reply_text"`
	ReplyKind        string              `json:"reply_kind"`
	Status           string              `json:"status"`
	DurationMS       int64               `json:"duration_ms"`
	Timestamp        time.Time           `json:"timestamp"`
}
