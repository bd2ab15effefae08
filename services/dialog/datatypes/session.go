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
	"time"
)

// =============================================================================
// Session States
// =============================================================================

// SessionState is the dialogue lifecycle state of a session.
type SessionState string

const (
	// SessionActive has no intent in flight.
	SessionActive SessionState = "active"
	// SessionCollecting is gathering slots for the current intent.
	SessionCollecting SessionState = "collecting"
	// SessionClarifying is resolving an ambiguous or invalid reply.
	SessionClarifying SessionState = "clarifying"
	// SessionConfirming is waiting for the user to confirm inferred values.
	SessionConfirming SessionState = "confirming"
	// SessionRecovering hit the failed-attempt ceiling and is offering
	// alternatives or hand-off.
	SessionRecovering SessionState = "recovering"
	// SessionClosed is terminal; the store is the custodian of the record.
	SessionClosed SessionState = "closed"
)

// Valid reports whether the state is declared.
func (s SessionState) Valid() bool {
	switch s {
	case SessionActive, SessionCollecting, SessionClarifying,
		SessionConfirming, SessionRecovering, SessionClosed:
		return true
	}
	return false
}

// =============================================================================
// Defaults and Bounds
// =============================================================================

const (
	// DefaultEngagement seeds the engagement metric until a measurement
	// source exists. Overlays may adjust it per turn.
	DefaultEngagement = 0.7

	// DefaultTimePressure seeds the time-pressure metric.
	DefaultTimePressure = 0.3

	// MaxIntentStackDepth bounds suspended intents. Pushing onto a full
	// stack drops the oldest frame.
	MaxIntentStackDepth = 4

	// HistoryRingSize bounds the in-session turn snapshots.
	HistoryRingSize = 10

	// QuestionRingSize bounds the per-user recent-question history used
	// for repetition penalties.
	QuestionRingSize = 20

	// MaxSessionIDBytes bounds session identifiers.
	MaxSessionIDBytes = 64
)

// =============================================================================
// Supporting Types
// =============================================================================

// IntentCandidate is one ranked NLU hypothesis. It doubles as the wire form
// inside disambiguation replies.
type IntentCandidate struct {
	IntentName  string  `json:"intent_name"`
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// IntentFrame is one suspended intent on the session's stack, parked with
// its collected slots while a newer intent runs.
type IntentFrame struct {
	IntentName   string            `json:"intent_name"`
	Slots        SlotMap           `json:"slots,omitempty"`
	PartialSlots map[string]string `json:"partial_slots,omitempty"`
	SuspendedAt  time.Time         `json:"suspended_at"`
}

// RememberedSlot is one session-scoped value surviving intent completion.
type RememberedSlot struct {
	Value        string    `json:"value"`
	Intent       string    `json:"intent,omitempty"`
	RememberedAt time.Time `json:"remembered_at"`
}

// QuestionRecord is one entry of the recent-question ring.
type QuestionRecord struct {
	Slot     string    `json:"slot"`
	Question string    `json:"question"`
	Kind     string    `json:"kind"`
	AskedAt  time.Time `json:"asked_at"`
}

// UserContext is the transient per-request overlay merged on top of session
// state for the duration of one turn. It is persisted separately from the
// session under its own TTL.
type UserContext struct {
	DeviceInfo      *DeviceInfo       `json:"device_info,omitempty"`
	Location        map[string]string `json:"location,omitempty"`
	ClientSystemID  string            `json:"client_system_id,omitempty"`
	RequestTraceID  string            `json:"request_trace_id,omitempty"`
	BusinessContext map[string]any    `json:"business_context,omitempty"`
	TempPreferences map[string]any    `json:"temp_preferences,omitempty"`
}

// DeviceInfo describes the calling device.
type DeviceInfo struct {
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Language  string `json:"language,omitempty"`
}

// =============================================================================
// Session
// =============================================================================

// Session is one user's dialogue thread.
//
// Exactly one turn may mutate a session at a time; the session manager
// enforces exclusive acquisition. CurrentIntent being empty implies
// CollectedSlots is empty.
type Session struct {
	ID         string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`

	State         SessionState `json:"state"`
	CurrentIntent string       `json:"current_intent,omitempty"`
	IntentStack   []IntentFrame `json:"intent_stack,omitempty"`

	CollectedSlots SlotMap           `json:"collected_slots,omitempty"`
	PartialSlots   map[string]string `json:"partial_slots,omitempty"`
	FailedAttempts map[string]int    `json:"failed_attempts,omitempty"`

	// SlotMemory carries values across intents within the session: a
	// completed booking's arrival city can seed the next intent's city
	// slot. Written on intent completion, read by inheritance.
	SlotMemory map[string]RememberedSlot `json:"slot_memory,omitempty"`

	HistoryRing     []Turn           `json:"history_ring,omitempty"`
	RecentQuestions []QuestionRecord `json:"recent_questions,omitempty"`

	// PendingCandidates holds last turn's ambiguous intents so the next
	// reply can resolve the disambiguation.
	PendingCandidates []IntentCandidate `json:"pending_candidates,omitempty"`

	TimePressure float64 `json:"time_pressure"`
	Engagement   float64 `json:"engagement"`
	Locale       string  `json:"locale,omitempty"`
	TurnCount    int     `json:"turn_count"`

	// Version increments on every flush; cache keys embed it when
	// staleness would be harmful.
	Version int64 `json:"version"`
}

// NewSession builds a fresh session in the active state.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:             id,
		UserID:         userID,
		CreatedAt:      now,
		LastSeenAt:     now,
		State:          SessionActive,
		CollectedSlots: make(SlotMap),
		PartialSlots:   make(map[string]string),
		FailedAttempts: make(map[string]int),
		SlotMemory:     make(map[string]RememberedSlot),
		TimePressure:   DefaultTimePressure,
		Engagement:     DefaultEngagement,
	}
}

// Touch updates the activity stamp.
func (s *Session) Touch(now time.Time) { s.LastSeenAt = now }

// Clone returns a deep copy. The session manager checkpoints with it at
// acquire time and restores the copy when a turn fails.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.CollectedSlots = s.CollectedSlots.Clone()
	out.PartialSlots = cloneStringMap(s.PartialSlots)
	out.FailedAttempts = cloneIntMap(s.FailedAttempts)
	if s.SlotMemory != nil {
		out.SlotMemory = make(map[string]RememberedSlot, len(s.SlotMemory))
		for k, v := range s.SlotMemory {
			out.SlotMemory[k] = v
		}
	}
	out.HistoryRing = append([]Turn(nil), s.HistoryRing...)
	out.RecentQuestions = append([]QuestionRecord(nil), s.RecentQuestions...)
	out.PendingCandidates = append([]IntentCandidate(nil), s.PendingCandidates...)
	out.IntentStack = make([]IntentFrame, len(s.IntentStack))
	for i, frame := range s.IntentStack {
		out.IntentStack[i] = IntentFrame{
			IntentName:   frame.IntentName,
			Slots:        frame.Slots.Clone(),
			PartialSlots: cloneStringMap(frame.PartialSlots),
			SuspendedAt:  frame.SuspendedAt,
		}
	}
	return &out
}

// StartIntent makes name the current intent with an empty slot table.
func (s *Session) StartIntent(name string) {
	s.CurrentIntent = name
	s.CollectedSlots = make(SlotMap)
	s.PartialSlots = make(map[string]string)
	s.FailedAttempts = make(map[string]int)
	s.PendingCandidates = nil
	s.State = SessionCollecting
}

// Remember copies the current usable slot values into session memory.
// Called on intent completion, before the slot table is cleared.
func (s *Session) Remember(now time.Time) {
	if s.SlotMemory == nil {
		s.SlotMemory = make(map[string]RememberedSlot)
	}
	for name, value := range s.CollectedSlots.Usable() {
		s.SlotMemory[name] = RememberedSlot{
			Value:        value,
			Intent:       s.CurrentIntent,
			RememberedAt: now,
		}
	}
}

// ClearIntent drops the current intent and its slots, restoring the
// invariant that no intent implies no collected slots.
func (s *Session) ClearIntent() {
	s.CurrentIntent = ""
	s.CollectedSlots = make(SlotMap)
	s.PartialSlots = make(map[string]string)
	s.FailedAttempts = make(map[string]int)
}

// SuspendCurrent pushes the in-flight intent onto the stack and reports the
// frame dropped to honor the depth bound, if any.
func (s *Session) SuspendCurrent(now time.Time) (dropped *IntentFrame) {
	if s.CurrentIntent == "" {
		return nil
	}
	frame := IntentFrame{
		IntentName:   s.CurrentIntent,
		Slots:        s.CollectedSlots,
		PartialSlots: s.PartialSlots,
		SuspendedAt:  now,
	}
	if len(s.IntentStack) >= MaxIntentStackDepth {
		old := s.IntentStack[0]
		dropped = &old
		s.IntentStack = append(s.IntentStack[1:], frame)
	} else {
		s.IntentStack = append(s.IntentStack, frame)
	}
	s.CurrentIntent = ""
	s.CollectedSlots = make(SlotMap)
	s.PartialSlots = make(map[string]string)
	return dropped
}

// ResumeSuspended pops the most recent frame back into the session. Returns
// false when the stack is empty.
func (s *Session) ResumeSuspended() bool {
	n := len(s.IntentStack)
	if n == 0 {
		return false
	}
	frame := s.IntentStack[n-1]
	s.IntentStack = s.IntentStack[:n-1]
	s.CurrentIntent = frame.IntentName
	s.CollectedSlots = frame.Slots
	if s.CollectedSlots == nil {
		s.CollectedSlots = make(SlotMap)
	}
	s.PartialSlots = frame.PartialSlots
	if s.PartialSlots == nil {
		s.PartialSlots = make(map[string]string)
	}
	s.FailedAttempts = make(map[string]int)
	s.State = SessionCollecting
	return true
}

// AppendTurn adds a turn snapshot to the history ring, evicting the oldest
// beyond the ring size. Called only after persistence succeeded.
func (s *Session) AppendTurn(turn Turn) {
	s.HistoryRing = append(s.HistoryRing, turn)
	if len(s.HistoryRing) > HistoryRingSize {
		s.HistoryRing = s.HistoryRing[len(s.HistoryRing)-HistoryRingSize:]
	}
}

// RecordQuestion appends to the recent-question ring.
func (s *Session) RecordQuestion(rec QuestionRecord) {
	s.RecentQuestions = append(s.RecentQuestions, rec)
	if len(s.RecentQuestions) > QuestionRingSize {
		s.RecentQuestions = s.RecentQuestions[len(s.RecentQuestions)-QuestionRingSize:]
	}
}

// CompletionRate is the fraction of the intent's required slots currently
// usable. Returns 0 with no intent in flight.
func (s *Session) CompletionRate(required []string) float64 {
	if len(required) == 0 {
		return 0
	}
	filled := 0
	for _, name := range required {
		if s.CollectedSlots.Has(name) {
			filled++
		}
	}
	return float64(filled) / float64(len(required))
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
