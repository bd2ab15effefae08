// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the chat turn wire contract: the request, the success
// envelope, and the error envelope. Field names and the status /
// response_type vocabularies are compatibility contracts with existing
// clients; extend them, never rename them.

package datatypes

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxUserIDLen bounds the user_id field.
	MaxUserIDLen = 100

	// MaxInputRunes bounds the utterance length. Longer inputs are a
	// resource-exhaustion rejection, not a validation error.
	MaxInputRunes = 1000

	// MaxRequestSessionIDLen bounds the session_id field on requests.
	MaxRequestSessionIDLen = 50
)

// =============================================================================
// Request
// =============================================================================

// ChatRequest is the body of POST /v1/chat and of each websocket message.
type ChatRequest struct {
	UserID    string       `json:"user_id" validate:"required,max=100"`
	Input     string       `json:"input" validate:"required"`
	SessionID string       `json:"session_id,omitempty" validate:"omitempty,max=50"`
	Context   *UserContext `json:"context,omitempty"`
}

// EnsureDefaults trims surface whitespace and guarantees a context object.
func (r *ChatRequest) EnsureDefaults() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Input = strings.TrimSpace(r.Input)
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.Context == nil {
		r.Context = &UserContext{}
	}
}

// Validate enforces the wire bounds with the turn's error codes: empty
// input is E2002, oversized input is E9000, malformed identifiers are
// E2003. Call EnsureDefaults first.
func (r *ChatRequest) Validate() *faults.Error {
	if r.Input == "" {
		return faults.New(faults.CodeMissingInput, "empty input").With("field", "input")
	}
	if utf8.RuneCountInString(r.Input) > MaxInputRunes {
		return faults.New(faults.CodePayloadTooLarge, "input over size limit").
			With("field", "input").
			With("limit", MaxInputRunes)
	}
	if r.UserID == "" {
		return faults.New(faults.CodeMissingInput, "empty user_id").With("field", "user_id")
	}
	if len(r.UserID) > MaxUserIDLen {
		return faults.New(faults.CodeOutOfRange, "user_id too long").
			With("field", "user_id").
			With("limit", MaxUserIDLen)
	}
	if len(r.SessionID) > MaxRequestSessionIDLen {
		return faults.New(faults.CodeOutOfRange, "session_id too long").
			With("field", "session_id").
			With("limit", MaxRequestSessionIDLen)
	}
	return nil
}

// Locale derives the reply locale from the device language, defaulting to
// Chinese.
func (r *ChatRequest) Locale() string {
	if r.Context != nil && r.Context.DeviceInfo != nil {
		lang := strings.ToLower(r.Context.DeviceInfo.Language)
		if strings.HasPrefix(lang, "en") {
			return "en"
		}
	}
	return "zh"
}

// =============================================================================
// Turn Status and Response Types
// =============================================================================

// TurnStatus is the coarse outcome of a turn.
type TurnStatus string

const (
	StatusCompleted           TurnStatus = "completed"
	StatusIncomplete          TurnStatus = "incomplete"
	StatusAmbiguous           TurnStatus = "ambiguous"
	StatusAPIError            TurnStatus = "api_error"
	StatusValidationError     TurnStatus = "validation_error"
	StatusMultiIntent         TurnStatus = "multi_intent_processing"
	StatusIntentCancelled     TurnStatus = "intent_cancelled"
	StatusIntentPostponed     TurnStatus = "intent_postponed"
	StatusInterruptionHandled TurnStatus = "interruption_handled"
	StatusRagflowHandled      TurnStatus = "ragflow_handled"
	StatusSuggestionRejected  TurnStatus = "suggestion_rejected"
)

// ResponseType describes what kind of reply data.response carries.
type ResponseType string

const (
	ResponseTaskCompletion       ResponseType = "task_completion"
	ResponseAPIResult            ResponseType = "api_result"
	ResponseSlotPrompt           ResponseType = "slot_prompt"
	ResponseDisambiguation       ResponseType = "disambiguation"
	ResponseErrorAlternatives    ResponseType = "error_with_alternatives"
	ResponseValidationPrompt     ResponseType = "validation_error_prompt"
	ResponseMultiIntent          ResponseType = "multi_intent_with_continuation"
	ResponseCancellation         ResponseType = "cancellation_confirmation"
	ResponsePostponement         ResponseType = "postponement_with_save"
	ResponseSmallTalk            ResponseType = "small_talk_with_context_return"
	ResponseRagflow              ResponseType = "ragflow_response"
	ResponseRejectionAcknowledge ResponseType = "rejection_acknowledgment"
)

// =============================================================================
// Success Envelope
// =============================================================================

// ChatData is the payload of a successful turn.
type ChatData struct {
	Response         string              `json:"response"`
	SessionID        string              `json:"session_id"`
	ConversationTurn int                 `json:"conversation_turn"`
	Intent           *string             `json:"intent"`
	Confidence       float64             `json:"confidence"`
	Slots            map[string]SlotInfo `json:"slots,omitempty"`
	Status           TurnStatus          `json:"status"`
	ResponseType     ResponseType        `json:"response_type"`
	NextAction       string              `json:"next_action"`
	MissingSlots     []string            `json:"missing_slots,omitempty"`
	ValidationErrors map[string]string   `json:"validation_errors,omitempty"`
	AmbiguousIntents []IntentCandidate   `json:"ambiguous_intents,omitempty"`
	APIResult        map[string]any      `json:"api_result,omitempty"`
	Suggestions      []string            `json:"suggestions,omitempty"`
}

// SetIntent stores the recognized intent name, keeping the wire null when
// no intent was resolved.
func (d *ChatData) SetIntent(name string) {
	if name == "" {
		d.Intent = nil
		return
	}
	d.Intent = &name
}

// ChatResponse is the success envelope.
type ChatResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      *ChatData `json:"data"`
	Error     *string   `json:"error"`
	Timestamp string    `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// NewChatResponse wraps turn data in the success envelope.
func NewChatResponse(requestID string, data *ChatData) *ChatResponse {
	return &ChatResponse{
		Success:   true,
		Message:   "ok",
		Data:      data,
		Error:     nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// =============================================================================
// Error Envelope
// =============================================================================

// ErrorMetadata carries the request bookkeeping of a failed turn.
type ErrorMetadata struct {
	Timestamp        string `json:"timestamp"`
	RequestID        string `json:"request_id"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

// ErrorResponse is the failure envelope. Message holds the user-safe string
// from the per-code map; Error carries the sanitized classification.
type ErrorResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message"`
	Error    faults.ErrorDetail `json:"error"`
	Metadata ErrorMetadata      `json:"metadata"`
}

// NewErrorResponse renders a classified failure for the wire.
func NewErrorResponse(requestID string, fe *faults.Error, locale string, processing time.Duration) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Message: fe.UserMessage(locale),
		Error:   fe.Detail(),
		Metadata: ErrorMetadata{
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			RequestID:        requestID,
			ProcessingTimeMS: processing.Milliseconds(),
		},
	}
}

// NewRequestID mints the identifier echoed in X-Request-ID.
func NewRequestID() string { return uuid.NewString() }
