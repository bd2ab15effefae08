// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package question

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

// =============================================================================
// Generator
// =============================================================================

const (
	// MaxCandidates bounds how many phrasings are scored per question.
	MaxCandidates = 6

	// Scoring weights. Confidence reflects how authoritative the
	// template source is, context relevance how well the kind fits the
	// situation, personalization how well the style fits the user.
	weightConfidence      = 0.4
	weightContext         = 0.3
	weightPersonalization = 0.3

	// Repetition penalties against the recent-question ring.
	penaltyExactRepeat = 0.5
	penaltySameSlot    = 0.15
)

// Input is one generation request. Missing must be in resolution order;
// Invalid maps slot names to their user-facing validation message.
type Input struct {
	Intent  *datatypes.Intent
	Session *datatypes.Session

	Missing []string
	Invalid map[string]string

	// Unconfirmed lists slots holding inferred values the user has not
	// seen yet, with their display values.
	Unconfirmed map[string]string

	// Uncertain marks the previous reply as unclear or ambiguous.
	Uncertain bool

	// ForceStrategy overrides selection, used by recovery flows.
	ForceStrategy Strategy
}

// Question is the chosen utterance plus the metadata the session needs
// to track it.
type Question struct {
	Text     string
	Slot     string
	Slots    []string
	Kind     Kind
	Strategy Strategy
	Style    Style
	Score    float64
}

// Record converts the question into its recent-question ring entry.
func (q *Question) Record(askedAt time.Time) datatypes.QuestionRecord {
	return datatypes.QuestionRecord{
		Slot:     q.Slot,
		Question: q.Text,
		Kind:     string(q.Kind),
		AskedAt:  askedAt,
	}
}

// Generator synthesizes follow-up questions. It is stateless; all
// conversation memory lives on the session.
type Generator struct {
	logger *slog.Logger
}

// New builds a Generator.
func New(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger}
}

// candidate is one scored phrasing.
type candidate struct {
	text       string
	slot       string
	slots      []string
	kind       Kind
	confidence float64
}

// Generate picks the strategy, synthesizes up to MaxCandidates
// phrasings for the chosen target, scores them, and returns the best
// one that does not repeat the last question asked for that slot.
func (g *Generator) Generate(in Input) (*Question, error) {
	if in.Intent == nil || in.Session == nil {
		return nil, faults.New(faults.CodeInternal, "question: nil intent or session")
	}
	if len(in.Missing) == 0 && len(in.Invalid) == 0 && len(in.Unconfirmed) == 0 {
		return nil, faults.New(faults.CodeInvalidState, "question: nothing to ask")
	}

	sctx := g.strategyContext(in)
	strategy := in.ForceStrategy
	if strategy == "" {
		strategy = SelectStrategy(sctx)
	}
	style := styleFor(sctx)

	candidates := g.synthesize(in, strategy)
	if len(candidates) == 0 {
		return nil, faults.New(faults.CodeInternal, "question: no template produced a candidate")
	}

	best, ok := g.pick(candidates, in, sctx, style, strategy)
	if !ok {
		// Every candidate was an exact repeat; rephrase rather than echo.
		best = g.rephrase(candidates[0], style)
	}

	if m := observability.Default; m != nil {
		m.QuestionsTotal.WithLabelValues(string(best.Kind), string(strategy)).Inc()
	}
	g.logger.Debug("question.generator: question chosen",
		"intent", in.Intent.Name,
		"slot", best.Slot,
		"kind", string(best.Kind),
		"strategy", string(strategy),
		"style", string(style),
	)
	return best, nil
}

// strategyContext projects the input onto the pure selection function.
func (g *Generator) strategyContext(in Input) StrategyContext {
	invalid := make([]string, 0, len(in.Invalid))
	for name := range in.Invalid {
		invalid = append(invalid, name)
	}
	sort.Strings(invalid)

	unconfirmed := make([]string, 0, len(in.Unconfirmed))
	for name := range in.Unconfirmed {
		unconfirmed = append(unconfirmed, name)
	}
	sort.Strings(unconfirmed)

	required := make([]string, 0, len(in.Intent.SlotDefs))
	for _, def := range in.Intent.SlotDefs {
		if def.Required {
			required = append(required, def.Name)
		}
	}

	return StrategyContext{
		TurnCount:      in.Session.TurnCount,
		Engagement:     in.Session.Engagement,
		TimePressure:   in.Session.TimePressure,
		CompletionRate: in.Session.CompletionRate(required),
		Missing:        in.Missing,
		Invalid:        invalid,
		FailedAttempts: in.Session.FailedAttempts,
		Unconfirmed:    unconfirmed,
		Uncertain:      in.Uncertain,
	}
}

// synthesize produces raw candidates for the strategy's target slots.
func (g *Generator) synthesize(in Input, strategy Strategy) []candidate {
	var out []candidate

	// Invalid values outrank missing ones: the user is waiting to hear
	// what went wrong.
	if target, msg, ok := firstInvalid(in); ok {
		out = append(out, g.slotCandidates(in, target, KindClarification, msg)...)
		return capCandidates(out)
	}

	// Confirmation runs when the strategy calls for it, or when inferred
	// values are all that is left to settle.
	if len(in.Unconfirmed) > 0 && (strategy == StrategyConfirmatory || len(in.Missing) == 0) {
		names := make([]string, 0, len(in.Unconfirmed))
		for name := range in.Unconfirmed {
			names = append(names, name)
		}
		sort.Strings(names)
		target := names[0]
		out = append(out, g.confirmCandidates(in, target, in.Unconfirmed[target])...)
		return capCandidates(out)
	}

	if len(in.Missing) == 0 {
		return nil
	}

	if strategy == StrategyEfficient && len(in.Missing) > 1 {
		out = append(out, g.compactCandidate(in))
	}

	target := in.Missing[0]
	kind := KindDirect
	switch {
	case strategy == StrategyExploratory || strategy == StrategyRecovery:
		kind = KindSuggestion
	case in.Session.TurnCount > 1 && strategy == StrategyProgressive:
		kind = KindFollowUp
	}
	out = append(out, g.slotCandidates(in, target, kind, "")...)
	// Always keep a DIRECT fallback in the pool.
	if kind != KindDirect {
		out = append(out, g.slotCandidates(in, target, KindDirect, "")...)
	}
	return capCandidates(out)
}

// slotCandidates renders every applicable template for one slot. The
// slot's own prompt_template is the most authoritative source; CHOICE
// phrasings apply when the slot enumerates options.
func (g *Generator) slotCandidates(in Input, slot string, kind Kind, errMsg string) []candidate {
	def := in.Intent.Slot(slot)
	if def == nil {
		return nil
	}
	v := g.varsFor(in, def)
	v.errMsg = errMsg

	var out []candidate
	if def.PromptTemplate != "" && kind != KindClarification {
		out = append(out, candidate{
			text:       expand(def.PromptTemplate, v),
			slot:       slot,
			kind:       KindDirect,
			confidence: 0.9,
		})
	}
	// A suggestion without examples to suggest would render hollow.
	if kind != KindSuggestion || len(v.examples) > 0 {
		for _, t := range templatesFor(def.Type, kind) {
			out = append(out, candidate{
				text:       expand(t.text, v),
				slot:       slot,
				kind:       kind,
				confidence: 0.7,
			})
		}
	}
	if len(v.options) > 0 && kind == KindDirect {
		for _, t := range templatesFor(def.Type, KindChoice) {
			out = append(out, candidate{
				text:       expand(t.text, v),
				slot:       slot,
				kind:       KindChoice,
				confidence: 0.8,
			})
		}
	}
	return out
}

// confirmCandidates renders CONFIRMATION phrasings for an inferred
// value.
func (g *Generator) confirmCandidates(in Input, slot, value string) []candidate {
	def := in.Intent.Slot(slot)
	if def == nil {
		return nil
	}
	v := g.varsFor(in, def)
	v.value = value

	var out []candidate
	for _, t := range templatesFor(def.Type, KindConfirmation) {
		out = append(out, candidate{
			text:       expand(t.text, v),
			slot:       slot,
			kind:       KindConfirmation,
			confidence: 0.85,
		})
	}
	return out
}

// compactCandidate folds up to three missing slots into one prompt.
func (g *Generator) compactCandidate(in Input) candidate {
	names := in.Missing
	if len(names) > efficientMaxSlots {
		names = names[:efficientMaxSlots]
	}
	display := make([]string, 0, len(names))
	for _, name := range names {
		display = append(display, g.displayName(in, name))
	}
	return candidate{
		text:       "请提供：" + strings.Join(display, "、") + "。",
		slot:       names[0],
		slots:      append([]string(nil), names...),
		kind:       KindDirect,
		confidence: 0.75,
	}
}

func (g *Generator) varsFor(in Input, def *datatypes.SlotDef) vars {
	return vars{
		slot:     displayOf(def),
		options:  def.Validation.Options,
		examples: def.Examples,
	}
}

func (g *Generator) displayName(in Input, slot string) string {
	if def := in.Intent.Slot(slot); def != nil {
		return displayOf(def)
	}
	return slot
}

func displayOf(def *datatypes.SlotDef) string {
	if def.DisplayName != "" {
		return def.DisplayName
	}
	return def.Name
}

// =============================================================================
// Scoring
// =============================================================================

// pick scores the candidates and returns the best non-repeating one.
// ok is false when every candidate exactly repeats the previous
// question for its slot.
func (g *Generator) pick(cands []candidate, in Input, sctx StrategyContext, style Style, strategy Strategy) (*Question, bool) {
	type scored struct {
		q     Question
		score float64
	}
	var best *scored

	for _, c := range cands {
		text := applyStyle(c.text, style, g.candidateVars(in, c))
		if isExactRepeat(in.Session, c.slot, text) {
			continue
		}
		score := weightConfidence*c.confidence +
			weightContext*contextRelevance(c.kind, strategy, sctx) +
			weightPersonalization*personalization(c, style, sctx)
		score -= repetitionPenalty(in.Session, c.slot, text)

		if best == nil || score > best.score {
			best = &scored{
				q: Question{
					Text:     text,
					Slot:     c.slot,
					Slots:    c.slots,
					Kind:     c.kind,
					Strategy: strategy,
					Style:    style,
					Score:    score,
				},
				score: score,
			}
		}
	}
	if best == nil {
		return nil, false
	}
	if len(best.q.Slots) == 0 {
		best.q.Slots = []string{best.q.Slot}
	}
	return &best.q, true
}

func (g *Generator) candidateVars(in Input, c candidate) vars {
	def := in.Intent.Slot(c.slot)
	if def == nil {
		return vars{slot: c.slot}
	}
	return g.varsFor(in, def)
}

// reph rebuilds the first candidate with an alternate register so the
// user never reads the identical sentence twice in a row.
func (g *Generator) rephrase(c candidate, style Style) *Question {
	alt := StyleDetailed
	if style == StyleDetailed {
		alt = StyleConcise
	}
	text := applyStyle(c.text, alt, vars{})
	if text == c.text {
		text = "换个说法：" + text
	}
	return &Question{
		Text:  text,
		Slot:  c.slot,
		Slots: []string{c.slot},
		Kind:  c.kind,
		Style: alt,
	}
}

// contextRelevance rates how well a question kind fits the moment.
func contextRelevance(kind Kind, strategy Strategy, sctx StrategyContext) float64 {
	switch kind {
	case KindClarification:
		if len(sctx.Invalid) > 0 {
			return 1
		}
		return 0.2
	case KindConfirmation:
		if strategy == StrategyConfirmatory {
			return 1
		}
		return 0.3
	case KindChoice:
		return 0.9
	case KindSuggestion:
		if strategy == StrategyExploratory || strategy == StrategyRecovery {
			return 0.95
		}
		return 0.4
	case KindFollowUp:
		if sctx.TurnCount > 1 {
			return 0.85
		}
		return 0.3
	case KindConditional:
		return 0.5
	default: // KindDirect
		if strategy == StrategyFocused || strategy == StrategyEfficient {
			return 0.95
		}
		return 0.8
	}
}

// personalization rates style fit: compact phrasing under pressure,
// richer phrasing for engaged or struggling users.
func personalization(c candidate, style Style, sctx StrategyContext) float64 {
	switch style {
	case StyleConcise:
		if len(c.slots) > 1 {
			return 1
		}
		return 0.7
	case StyleDetailed:
		if c.kind == KindSuggestion || c.kind == KindChoice {
			return 1
		}
		return 0.8
	default:
		if sctx.Engagement >= lowEngagement {
			return 0.9
		}
		return 0.6
	}
}

// isExactRepeat reports whether text matches the most recent question
// asked for the same slot.
func isExactRepeat(s *datatypes.Session, slot, text string) bool {
	for i := len(s.RecentQuestions) - 1; i >= 0; i-- {
		rec := s.RecentQuestions[i]
		if rec.Slot != slot {
			continue
		}
		return rec.Question == text
	}
	return false
}

// repetitionPenalty discounts phrasings the user has seen recently.
func repetitionPenalty(s *datatypes.Session, slot, text string) float64 {
	penalty := 0.0
	for _, rec := range s.RecentQuestions {
		if rec.Question == text {
			penalty += penaltyExactRepeat
		} else if rec.Slot == slot {
			penalty += penaltySameSlot
		}
	}
	return penalty
}

func firstInvalid(in Input) (string, string, bool) {
	if len(in.Invalid) == 0 {
		return "", "", false
	}
	names := make([]string, 0, len(in.Invalid))
	for name := range in.Invalid {
		names = append(names, name)
	}
	sort.Strings(names)
	// Prefer resolution order when the engine supplied it.
	for _, name := range in.Missing {
		if msg, ok := in.Invalid[name]; ok {
			return name, msg, true
		}
	}
	return names[0], in.Invalid[names[0]], true
}

// capCandidates dedupes by text and bounds the pool. Duplicates happen
// when the direct fallback re-renders a slot's prompt template.
func capCandidates(cands []candidate) []candidate {
	seen := make(map[string]struct{}, len(cands))
	out := cands[:0]
	for _, c := range cands {
		if _, dup := seen[c.text]; dup {
			continue
		}
		seen[c.text] = struct{}{}
		out = append(out, c)
	}
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out
}
