// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent decides what the turn is about: continue the in-flight
// intent, activate a new one, ask the user to disambiguate, or hand off
// to the fallback conversational path.
package intent

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Decision
// =============================================================================

// Kind is the resolver outcome for one turn.
type Kind string

const (
	NewIntent      Kind = "NEW_INTENT"
	ContinueIntent Kind = "CONTINUE_INTENT"
	Ambiguous      Kind = "AMBIGUOUS"
	Unknown        Kind = "UNKNOWN"
)

// Decision is the resolver's verdict. Intent is set for NEW_INTENT;
// Candidates for AMBIGUOUS.
type Decision struct {
	Kind       Kind
	Intent     *datatypes.Intent
	Confidence float64
	Candidates []datatypes.IntentCandidate
	// Reason is a short operator-facing explanation for logs.
	Reason string
}

// =============================================================================
// Resolver
// =============================================================================

// Config carries the resolution thresholds. Zero fields fall back to the
// defaults.
type Config struct {
	// Margin is how much a candidate must beat the in-flight intent (and
	// the runner-up) by before it counts as decisive.
	Margin float64
	// SwitchThreshold is the minimum confidence to pull the conversation
	// away from an in-flight intent.
	SwitchThreshold float64
	// AmbiguityBand groups near-tied candidates.
	AmbiguityBand float64
	// AmbiguityFloor is the minimum confidence for a candidate to join a
	// disambiguation prompt.
	AmbiguityFloor float64
	// MaxDisambiguation caps the options offered to the user.
	MaxDisambiguation int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Margin:            0.1,
		SwitchThreshold:   0.75,
		AmbiguityBand:     0.08,
		AmbiguityFloor:    0.5,
		MaxDisambiguation: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Margin <= 0 {
		c.Margin = d.Margin
	}
	if c.SwitchThreshold <= 0 {
		c.SwitchThreshold = d.SwitchThreshold
	}
	if c.AmbiguityBand <= 0 {
		c.AmbiguityBand = d.AmbiguityBand
	}
	if c.AmbiguityFloor <= 0 {
		c.AmbiguityFloor = d.AmbiguityFloor
	}
	if c.MaxDisambiguation <= 0 {
		c.MaxDisambiguation = d.MaxDisambiguation
	}
	return c
}

// Resolver applies the threshold rules. Stateless across turns; pending
// disambiguation lives on the session.
type Resolver struct {
	config Config
	logger *slog.Logger
}

// NewResolver creates a resolver. Zero config fields take defaults.
func NewResolver(config Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{config: config.withDefaults(), logger: logger}
}

// Resolve decides the turn's intent from the ranked NLU candidates.
//
// The rules run in order: an in-flight intent holds unless a different
// candidate both clears the switch threshold and beats the in-flight
// intent's own score by the margin; a decisive top candidate activates;
// near-ties above the ambiguity floor ask the user; everything else is
// delegated as unknown.
func (r *Resolver) Resolve(session *datatypes.Session, candidates []datatypes.IntentCandidate, snap *catalog.Snapshot) Decision {
	candidates = r.known(candidates, snap)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	current := session.CurrentIntent
	currentConf := 0.0
	for _, c := range candidates {
		if c.IntentName == current {
			currentConf = c.Confidence
			break
		}
	}

	// An in-flight intent recognized as the top candidate is always a
	// continuation, however confident the match.
	if current != "" && len(candidates) > 0 && candidates[0].IntentName == current {
		return Decision{Kind: ContinueIntent, Confidence: candidates[0].Confidence, Reason: "top candidate is current intent"}
	}

	if current != "" {
		// A challenger below the ambiguity floor is noise, not a beat:
		// slot-input utterances routinely score stray low candidates.
		beaten := false
		for _, c := range candidates {
			if c.IntentName != current &&
				c.Confidence >= r.config.AmbiguityFloor &&
				c.Confidence-currentConf >= r.config.Margin {
				beaten = true
				break
			}
		}
		topConf := 0.0
		if len(candidates) > 0 {
			topConf = candidates[0].Confidence
		}
		if !beaten && topConf < r.config.SwitchThreshold {
			return Decision{Kind: ContinueIntent, Confidence: currentConf, Reason: "no decisive challenger"}
		}
	}

	if len(candidates) == 0 {
		return Decision{Kind: Unknown, Reason: "no candidates"}
	}

	top := candidates[0]
	second := 0.0
	if len(candidates) > 1 {
		second = candidates[1].Confidence
	}

	if in, ok := snap.Intent(top.IntentName); ok &&
		top.Confidence >= in.ConfidenceThreshold &&
		top.Confidence-second >= r.config.Margin {
		return Decision{Kind: NewIntent, Intent: in, Confidence: top.Confidence, Reason: "decisive top candidate"}
	}

	if group := r.ambiguousGroup(candidates); len(group) >= 2 {
		return Decision{Kind: Ambiguous, Candidates: group, Confidence: top.Confidence, Reason: "near-tied candidates"}
	}

	return Decision{Kind: Unknown, Confidence: top.Confidence, Reason: "below thresholds"}
}

// known drops candidates naming intents absent from the snapshot.
func (r *Resolver) known(candidates []datatypes.IntentCandidate, snap *catalog.Snapshot) []datatypes.IntentCandidate {
	out := candidates[:0:0]
	for _, c := range candidates {
		in, ok := snap.Intent(c.IntentName)
		if !ok {
			r.logger.Debug("intent.resolver: dropping unknown candidate", "intent", c.IntentName)
			continue
		}
		if c.DisplayName == "" {
			c.DisplayName = in.DisplayName
		}
		if c.Description == "" {
			c.Description = in.Description
		}
		out = append(out, c)
	}
	return out
}

// ambiguousGroup collects candidates within the band of the top, all at or
// above the floor, capped for the prompt.
func (r *Resolver) ambiguousGroup(candidates []datatypes.IntentCandidate) []datatypes.IntentCandidate {
	if len(candidates) < 2 {
		return nil
	}
	top := candidates[0].Confidence
	var group []datatypes.IntentCandidate
	for _, c := range candidates {
		if top-c.Confidence <= r.config.AmbiguityBand && c.Confidence >= r.config.AmbiguityFloor {
			group = append(group, c)
		}
		if len(group) == r.config.MaxDisambiguation {
			break
		}
	}
	if len(group) < 2 {
		return nil
	}
	return group
}

// =============================================================================
// Disambiguation Selection
// =============================================================================

// ordinalWords maps a spelled ordinal to its index.
var ordinalWords = map[string]int{
	"1": 0, "一": 0, "第一个": 0, "第一": 0, "第1个": 0, "第1": 0,
	"2": 1, "二": 1, "第二个": 1, "第二": 1, "第2个": 1, "第2": 1,
	"3": 2, "三": 2, "第三个": 2, "第三": 2, "第3个": 2, "第3": 2,
}

// ResolveSelection matches a reply against the pending disambiguation
// candidates: ordinal (1 / 一 / 第一个), intent name, or display name.
// Returns the chosen intent when the reply selects exactly one.
func (r *Resolver) ResolveSelection(session *datatypes.Session, utterance string, snap *catalog.Snapshot) (*datatypes.Intent, bool) {
	pending := session.PendingCandidates
	if len(pending) == 0 {
		return nil, false
	}
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil, false
	}

	if idx, ok := ordinalWords[text]; ok && idx < len(pending) {
		if in, found := snap.Intent(pending[idx].IntentName); found {
			return in, true
		}
		return nil, false
	}

	var match *datatypes.Intent
	matches := 0
	for _, c := range pending {
		in, found := snap.Intent(c.IntentName)
		if !found {
			continue
		}
		if text == c.IntentName || text == c.DisplayName ||
			(c.DisplayName != "" && strings.Contains(text, c.DisplayName)) ||
			(c.DisplayName != "" && strings.Contains(c.DisplayName, text)) {
			match = in
			matches++
		}
	}
	if matches == 1 {
		return match, true
	}
	return nil, false
}
