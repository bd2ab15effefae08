// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package question decides what to ask next when a turn leaves slots
// missing or invalid. Strategy selection is a pure function of session
// state; synthesis expands slot prompt templates or falls back to a
// typed template library, scores the candidates, and emits the best one
// that does not repeat the previous question for the same slot.
package question

import "slices"

// =============================================================================
// Context Strategy
// =============================================================================

// Strategy shapes how the next question is framed.
type Strategy string

const (
	// StrategyProgressive walks the missing slots one by one, used for
	// fresh intents with a lot left to collect.
	StrategyProgressive Strategy = "PROGRESSIVE"
	// StrategyFocused zeroes in on a single slot.
	StrategyFocused Strategy = "FOCUSED"
	// StrategyConfirmatory verifies inferred values near completion.
	StrategyConfirmatory Strategy = "CONFIRMATORY"
	// StrategyRecovery rephrases after failed attempts on the target.
	StrategyRecovery Strategy = "RECOVERY"
	// StrategyEfficient packs several slots into one compact prompt.
	StrategyEfficient Strategy = "EFFICIENT"
	// StrategyExploratory probes gently when the user seems unsure.
	StrategyExploratory Strategy = "EXPLORATORY"
)

// Strategy selection thresholds. Engagement and time pressure are both
// in [0,1]; see the session defaults for their seeds.
const (
	highTimePressure  = 0.7
	lowEngagement     = 0.4
	highCompletion    = 0.75
	manyMissing       = 3
	efficientMaxSlots = 3
)

// StrategyContext is everything strategy selection may look at. It is a
// plain value so the choice stays a pure function and tests can table
// every trigger.
type StrategyContext struct {
	TurnCount      int
	Engagement     float64
	TimePressure   float64
	CompletionRate float64

	// Missing and Invalid are the slot names still demanded, in
	// resolution order, and those whose values failed validation.
	Missing []string
	Invalid []string

	// FailedAttempts is the per-slot count of rejected answers.
	FailedAttempts map[string]int

	// Unconfirmed lists inferred values awaiting user confirmation.
	Unconfirmed []string

	// Uncertain is set when the previous reply classified as unclear or
	// ambiguous.
	Uncertain bool
}

// maxFailed returns the highest attempt count across the target slots.
func (c StrategyContext) maxFailed() int {
	max := 0
	for _, name := range slices.Concat(c.Invalid, c.Missing) {
		if n := c.FailedAttempts[name]; n > max {
			max = n
		}
	}
	return max
}

// SelectStrategy picks the framing for the next question. Triggers are
// checked in priority order: recovery beats everything because a user
// who failed twice needs help, not speed; time pressure beats
// exploration; confirmation only makes sense near completion.
func SelectStrategy(c StrategyContext) Strategy {
	switch {
	case c.maxFailed() > 0:
		return StrategyRecovery
	case c.TimePressure >= highTimePressure && len(c.Missing) > 1:
		return StrategyEfficient
	case c.Uncertain:
		return StrategyExploratory
	case len(c.Unconfirmed) > 0 && c.CompletionRate >= highCompletion && len(c.Invalid) == 0:
		return StrategyConfirmatory
	case len(c.Missing)+len(c.Invalid) == 1 || c.Engagement < lowEngagement:
		return StrategyFocused
	default:
		return StrategyProgressive
	}
}

// =============================================================================
// Question Kinds
// =============================================================================

// Kind is the surface form of a question.
type Kind string

const (
	// KindDirect asks for the slot outright.
	KindDirect Kind = "DIRECT"
	// KindChoice enumerates options.
	KindChoice Kind = "CHOICE"
	// KindConfirmation checks an inferred or inherited value.
	KindConfirmation Kind = "CONFIRMATION"
	// KindClarification reacts to an invalid value.
	KindClarification Kind = "CLARIFICATION"
	// KindFollowUp continues a multi-slot collection conversationally.
	KindFollowUp Kind = "FOLLOW_UP"
	// KindSuggestion nudges with examples when the user is stuck.
	KindSuggestion Kind = "SUGGESTION"
	// KindConditional asks for a slot only relevant in context.
	KindConditional Kind = "CONDITIONAL"
)

// Style tunes the phrasing register.
type Style string

const (
	// StyleFriendly is the default conversational register.
	StyleFriendly Style = "friendly"
	// StyleConcise strips pleasantries under time pressure.
	StyleConcise Style = "concise"
	// StyleDetailed adds examples for struggling users.
	StyleDetailed Style = "detailed"
)

// styleFor derives the register from the engagement and pressure
// metrics. Detailed wins when the user already failed: examples help
// more than brevity.
func styleFor(c StrategyContext) Style {
	switch {
	case c.maxFailed() > 0 || c.Uncertain:
		return StyleDetailed
	case c.TimePressure >= highTimePressure:
		return StyleConcise
	default:
		return StyleFriendly
	}
}
