// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inherit seeds a new intent's slot table from context the user
// already established: session memory, recent conversation turns, the user
// profile, and configured defaults.
//
// Rules run once, at intent activation, in priority order. Inherited
// values enter the table as pending with Source set to inherited, so the
// slot processor normalizes and validates them exactly like typed input; a
// profile value that no longer passes validation is rejected instead of
// silently dispatched.
package inherit

import (
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// InheritedConfidence is assigned to inherited values. Below direct user
// input, above keyword-matched guesses.
const InheritedConfidence = 0.85

// =============================================================================
// Audit
// =============================================================================

// AppliedRule records one rule that wrote the slot table.
type AppliedRule struct {
	TargetSlot string                        `json:"target_slot"`
	Source     datatypes.InheritanceSource   `json:"source"`
	SourceSlot string                        `json:"source_slot,omitempty"`
	Strategy   datatypes.InheritanceStrategy `json:"strategy"`
	Transform  string                        `json:"transform,omitempty"`
}

// SkippedRule records one rule that did not apply and why.
type SkippedRule struct {
	TargetSlot string                      `json:"target_slot"`
	Source     datatypes.InheritanceSource `json:"source"`
	Reason     string                      `json:"reason"`
}

// Audit is the full outcome of one inheritance pass. Values appear here
// for the caller's slot table only; log sites record slot names and
// sources, never values.
type Audit struct {
	Inherited map[string]string                      `json:"-"`
	Sources   map[string]datatypes.InheritanceSource `json:"sources,omitempty"`
	Applied   []AppliedRule                          `json:"applied,omitempty"`
	Skipped   []SkippedRule                          `json:"skipped,omitempty"`
}

// TargetNames returns the slots written, for logging.
func (a *Audit) TargetNames() []string {
	names := make([]string, 0, len(a.Inherited))
	for name := range a.Inherited {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Engine
// =============================================================================

// Engine applies inheritance rules. Safe for concurrent use after
// construction; RegisterTransform is wiring-time only.
type Engine struct {
	transforms map[string]TransformFunc
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an engine with the built-in transforms registered.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		transforms: builtinTransforms(),
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterTransform installs or replaces a named transform.
func (e *Engine) RegisterTransform(name string, fn TransformFunc) {
	e.transforms[name] = fn
}

// Apply runs the intent's rules against the session's slot table in
// priority order (descending; declaration order breaks ties) and returns
// the audit. profile holds the user-profile fields, may be nil.
func (e *Engine) Apply(intent *datatypes.Intent, session *datatypes.Session, profile map[string]string) *Audit {
	audit := &Audit{
		Inherited: make(map[string]string),
		Sources:   make(map[string]datatypes.InheritanceSource),
	}
	if intent == nil || session == nil || len(intent.InheritanceRules) == 0 {
		return audit
	}

	rules := make([]datatypes.InheritanceRule, len(intent.InheritanceRules))
	copy(rules, intent.InheritanceRules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, rule := range rules {
		e.applyRule(intent, session, profile, rule, audit)
	}
	return audit
}

func (e *Engine) applyRule(intent *datatypes.Intent, session *datatypes.Session, profile map[string]string, rule datatypes.InheritanceRule, audit *Audit) {
	skip := func(reason string) {
		audit.Skipped = append(audit.Skipped, SkippedRule{
			TargetSlot: rule.TargetSlot,
			Source:     rule.Source,
			Reason:     reason,
		})
	}

	def := intent.Slot(rule.TargetSlot)
	if def == nil {
		// Catalog validation rejects these; tolerate hand-built intents.
		e.logger.Warn("inherit.engine: rule targets unknown slot",
			"intent", intent.Name, "target", rule.TargetSlot)
		skip("unknown target slot")
		return
	}

	existing := session.CollectedSlots[rule.TargetSlot]
	if rule.Condition != nil && rule.Condition.TargetEmpty && existing != nil {
		skip("target not empty")
		return
	}

	value, ok := e.resolve(session, profile, rule)
	if !ok || value == "" {
		skip("source has no value")
		return
	}

	if rule.Condition != nil {
		if eq := rule.Condition.SourceEquals; eq != "" && value != eq {
			skip("source_equals condition failed")
			return
		}
		if pat := rule.Condition.SourcePattern; pat != "" {
			re, err := regexp.Compile(pat)
			if err != nil {
				e.logger.Warn("inherit.engine: bad source_pattern",
					"intent", intent.Name, "target", rule.TargetSlot, "error", err)
				skip("invalid source_pattern")
				return
			}
			if !re.MatchString(value) {
				skip("source_pattern condition failed")
				return
			}
		}
	}

	if rule.Transform != "" {
		fn, known := e.transforms[rule.Transform]
		if !known {
			e.logger.Warn("inherit.engine: unknown transform",
				"intent", intent.Name, "target", rule.TargetSlot, "transform", rule.Transform)
			skip("unknown transform " + rule.Transform)
			return
		}
		transformed, err := fn(value)
		if err != nil {
			skip("transform failed")
			return
		}
		value = transformed
	}

	switch rule.Strategy {
	case datatypes.StrategySupplement:
		if existing != nil {
			skip("target already filled")
			return
		}
		session.CollectedSlots[rule.TargetSlot] = e.newValue(rule, value)

	case datatypes.StrategyOverwrite:
		session.CollectedSlots[rule.TargetSlot] = e.newValue(rule, value)

	case datatypes.StrategyMerge:
		if existing == nil {
			session.CollectedSlots[rule.TargetSlot] = e.newValue(rule, value)
			break
		}
		if containsListValue(existing, value) {
			skip("value already present")
			return
		}
		// Re-enter the pending pipeline with the merged raw list.
		existing.Extracted = existing.Extracted + "," + value
		existing.State = datatypes.SlotPending
		existing.Normalized = ""
		existing.Error = ""

	default:
		skip("unknown strategy")
		return
	}

	audit.Inherited[rule.TargetSlot] = value
	audit.Sources[rule.TargetSlot] = rule.Source
	audit.Applied = append(audit.Applied, AppliedRule{
		TargetSlot: rule.TargetSlot,
		Source:     rule.Source,
		SourceSlot: rule.SourceSlot,
		Strategy:   rule.Strategy,
		Transform:  rule.Transform,
	})
	e.logger.Debug("inherit.engine: rule applied",
		"intent", intent.Name,
		"target", rule.TargetSlot,
		"source", string(rule.Source),
		"strategy", string(rule.Strategy),
	)
}

// resolve looks up the source value for a rule.
func (e *Engine) resolve(session *datatypes.Session, profile map[string]string, rule datatypes.InheritanceRule) (string, bool) {
	src := rule.SourceSlot
	if src == "" {
		src = rule.TargetSlot
	}

	switch rule.Source {
	case datatypes.InheritFromSession:
		remembered, ok := session.SlotMemory[src]
		return remembered.Value, ok

	case datatypes.InheritFromConversation:
		// Newest turn first.
		for i := len(session.HistoryRing) - 1; i >= 0; i-- {
			if info, ok := session.HistoryRing[i].SlotsSnapshot[src]; ok && info.IsValidated && info.Value != "" {
				return info.Value, true
			}
		}
		return "", false

	case datatypes.InheritFromUserProfile:
		value, ok := profile[src]
		return value, ok

	case datatypes.InheritFromDefault:
		return rule.Default, rule.Default != ""
	}
	return "", false
}

// newValue enters the inherited value as pending so the slot processor
// normalizes and validates it like typed input. Catalog defaults are
// trusted as-is; values carried over from another context stay
// unconfirmed until the user signs off on them.
func (e *Engine) newValue(rule datatypes.InheritanceRule, value string) *datatypes.SlotValue {
	v := &datatypes.SlotValue{
		SlotName:   rule.TargetSlot,
		Extracted:  value,
		Confidence: InheritedConfidence,
		Source:     datatypes.SourceInherited,
		State:      datatypes.SlotPending,
	}
	if rule.Source == datatypes.InheritFromDefault {
		v.Source = datatypes.SourceDefault
		v.Confirmed = true
	}
	return v
}

func containsListValue(existing *datatypes.SlotValue, value string) bool {
	for _, v := range existing.Values {
		if v == value {
			return true
		}
	}
	return existing.Extracted == value || existing.Normalized == value
}
