// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package followup classifies what kind of answer the user just gave to
// a slot question, so the engine can decide between accepting values,
// clarifying, or backing off into recovery. Classification is lexical
// plus structural: indicator phrases per class, presence of extractable
// values for the expected slots, and length/overlap heuristics against
// the question asked.
package followup

import (
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

// =============================================================================
// Reply Classes
// =============================================================================

// Class is the analyzer's verdict on one reply.
type Class string

const (
	// ClassIncomplete means the user answered but gave no usable value.
	ClassIncomplete Class = "INCOMPLETE"
	// ClassAmbiguous means the reply admits several readings.
	ClassAmbiguous Class = "AMBIGUOUS"
	// ClassInvalid means a value was given but failed validation.
	ClassInvalid Class = "INVALID"
	// ClassPartial means some expected slots arrived, others did not.
	ClassPartial Class = "PARTIAL"
	// ClassConflicting means the reply contradicts collected values.
	ClassConflicting Class = "CONFLICTING"
	// ClassUnclear means the reply could not be interpreted at all.
	ClassUnclear Class = "UNCLEAR"
	// ClassOffTopic means the user talked about something else.
	ClassOffTopic Class = "OFF_TOPIC"
	// ClassComplete means every asked-for value arrived and parsed.
	ClassComplete Class = "COMPLETE"
)

// Kind is the follow-up move the classification calls for.
type Kind string

const (
	// KindClarification re-asks with more guidance.
	KindClarification Kind = "CLARIFICATION"
	// KindCompletion asks for the remaining values.
	KindCompletion Kind = "COMPLETION"
	// KindCorrection asks the user to fix an invalid value.
	KindCorrection Kind = "CORRECTION"
	// KindValidation surfaces a constraint violation.
	KindValidation Kind = "VALIDATION"
	// KindDisambiguation asks the user to choose a reading.
	KindDisambiguation Kind = "DISAMBIGUATION"
	// KindSpecification asks for a more precise value.
	KindSpecification Kind = "SPECIFICATION"
	// KindConfirmation asks the user to confirm before overwriting.
	KindConfirmation Kind = "CONFIRMATION"
)

// FollowUpFor maps a verdict to the move the engine should make next.
func FollowUpFor(c Class) Kind {
	switch c {
	case ClassAmbiguous:
		return KindDisambiguation
	case ClassInvalid:
		return KindCorrection
	case ClassPartial:
		return KindCompletion
	case ClassConflicting:
		return KindConfirmation
	case ClassIncomplete:
		return KindSpecification
	case ClassOffTopic:
		return KindValidation
	default:
		return KindClarification
	}
}

// =============================================================================
// Attempt Ceilings
// =============================================================================

const (
	// DefaultAttemptCeiling is how many failed answers a slot absorbs
	// before the session moves to recovery.
	DefaultAttemptCeiling = 3

	// StrictAttemptCeiling applies to rigid formats (dates, phones):
	// repeating the same format question a third time rarely helps.
	StrictAttemptCeiling = 2
)

// AttemptCeiling returns the failed-attempt limit for a slot type.
func AttemptCeiling(t datatypes.SlotType) int {
	if t.Strict() {
		return StrictAttemptCeiling
	}
	return DefaultAttemptCeiling
}

// CountsAsFailure reports whether a verdict increments the target
// slot's failed-attempt counter.
func CountsAsFailure(c Class) bool {
	switch c {
	case ClassInvalid, ClassIncomplete, ClassUnclear:
		return true
	}
	return false
}

// =============================================================================
// Lexical Indicators
// =============================================================================

// indicators are checked in class priority order; the first class with
// a hit wins over later ones when structure does not decide.
var (
	unclearIndicators = []string{
		"不知道", "不清楚", "不明白", "没听懂", "什么意思", "听不懂", "啊？", "嗯？",
	}
	ambiguousIndicators = []string{
		"那个", "这个", "都行", "或者", "还是", "差不多", "哪个都",
	}
	indifferentIndicators = []string{
		"随便", "无所谓", "你定", "你看着办", "都可以",
	}
	negationIndicators = []string{
		"不对", "不是", "错了", "搞错", "弄错", "改成", "换成", "不要",
	}
	offTopicIndicators = []string{
		"天气", "新闻", "笑话", "聊聊", "对了", "顺便问",
	}
)

func containsAny(reply string, indicators []string) bool {
	for _, ind := range indicators {
		if strings.Contains(reply, ind) {
			return true
		}
	}
	return false
}

// =============================================================================
// Analyzer
// =============================================================================

// Input is one reply to classify. All slot references are names:
// Expected lists what the previous question asked for, Extracted the
// slots the NLU pulled a value for, Invalid the subset whose values
// failed validation this turn, Conflicting the subset contradicting
// already-collected values.
type Input struct {
	Reply       string
	Question    string
	Expected    []string
	Extracted   []string
	Invalid     []string
	Conflicting []string
}

// Verdict is the classification plus the move it drives.
type Verdict struct {
	Class  Class
	Kind   Kind
	Target string
}

// Analyzer classifies replies. Stateless.
type Analyzer struct {
	logger *slog.Logger
}

// New builds an Analyzer.
func New(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

// Classify inspects one reply. Structural evidence (what was actually
// extracted) outranks lexical indicators: a reply that corrects a value
// and supplies a new one is a correction with content, not noise.
func (a *Analyzer) Classify(in Input) Verdict {
	reply := strings.TrimSpace(in.Reply)
	v := a.classify(reply, in)
	v.Kind = FollowUpFor(v.Class)
	if v.Target == "" && len(in.Expected) > 0 {
		v.Target = in.Expected[0]
	}

	if m := observability.Default; m != nil {
		m.FollowupsTotal.WithLabelValues(string(v.Class)).Inc()
	}
	a.logger.Debug("followup.analyzer: reply classified",
		"class", string(v.Class),
		"kind", string(v.Kind),
		"target", v.Target,
		"expected", len(in.Expected),
		"extracted", len(in.Extracted),
	)
	return v
}

func (a *Analyzer) classify(reply string, in Input) Verdict {
	// Conflicts and validation failures come from the slot pipeline and
	// are authoritative regardless of phrasing.
	if len(in.Conflicting) > 0 {
		return Verdict{Class: ClassConflicting, Target: in.Conflicting[0]}
	}
	if len(in.Invalid) > 0 {
		return Verdict{Class: ClassInvalid, Target: in.Invalid[0]}
	}

	extracted := len(in.Extracted)
	expected := len(in.Expected)

	if extracted > 0 {
		if expected > 0 && extracted < expected {
			return Verdict{Class: ClassPartial, Target: firstMissing(in)}
		}
		if containsAny(reply, negationIndicators) {
			// A value plus a negation reads as "no, make it X".
			return Verdict{Class: ClassConflicting, Target: in.Extracted[0]}
		}
		return Verdict{Class: ClassComplete}
	}

	// Nothing extractable; fall back to lexical evidence.
	switch {
	case reply == "":
		return Verdict{Class: ClassIncomplete}
	case containsAny(reply, unclearIndicators):
		return Verdict{Class: ClassUnclear}
	case containsAny(reply, indifferentIndicators):
		// "随便" is an answer, just not a value: the user delegated the
		// choice. Treated as ambiguous so the engine offers options.
		return Verdict{Class: ClassAmbiguous}
	case containsAny(reply, ambiguousIndicators):
		return Verdict{Class: ClassAmbiguous}
	case containsAny(reply, negationIndicators):
		return Verdict{Class: ClassConflicting}
	case a.offTopic(reply, in):
		return Verdict{Class: ClassOffTopic}
	case len([]rune(reply)) <= 2:
		return Verdict{Class: ClassIncomplete}
	default:
		return Verdict{Class: ClassUnclear}
	}
}

// offTopic combines indicator phrases with a question-overlap check: a
// long reply sharing no characters with the question likely changed the
// subject.
func (a *Analyzer) offTopic(reply string, in Input) bool {
	if containsAny(reply, offTopicIndicators) {
		return true
	}
	if in.Question == "" {
		return false
	}
	replyRunes := []rune(reply)
	if len(replyRunes) < 6 {
		return false
	}
	return runeOverlap(reply, in.Question) < 0.1
}

// runeOverlap is the fraction of reply runes appearing in the question.
func runeOverlap(reply, question string) float64 {
	qset := make(map[rune]struct{})
	for _, r := range question {
		qset[r] = struct{}{}
	}
	replyRunes := []rune(reply)
	if len(replyRunes) == 0 {
		return 0
	}
	hits := 0
	for _, r := range replyRunes {
		if _, ok := qset[r]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(replyRunes))
}

func firstMissing(in Input) string {
	got := make(map[string]struct{}, len(in.Extracted))
	for _, name := range in.Extracted {
		got[name] = struct{}{}
	}
	for _, name := range in.Expected {
		if _, ok := got[name]; !ok {
			return name
		}
	}
	return ""
}
