// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/followup"
	"github.com/AleutianAI/AleutianDialog/services/dialog/nlu"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
	"github.com/AleutianAI/AleutianDialog/services/dialog/question"
	"github.com/AleutianAI/AleutianDialog/services/dialog/slots"
)

// assignedConfidence is attached to a bare reply taken as the literal
// answer to the question just asked.
const assignedConfidence = 0.6

// =============================================================================
// Slot pipeline
// =============================================================================

// advance moves the current intent forward one turn: merge what the
// utterance provided, normalize and validate, consult the dependency
// graph, and either ask the next question or dispatch. fresh marks a
// just-activated or just-resumed intent, whose input already spent itself
// on activation and must not be re-read as an answer.
func (e *Engine) advance(ctx context.Context, sess *datatypes.Session, t *turnContext, fresh bool) error {
	def, ok := t.snap.Intent(sess.CurrentIntent)
	if !ok {
		// A catalog reload dropped the intent mid-conversation.
		e.logger.Warn("conversation.engine: current intent missing from catalog",
			"session_id", sess.ID, "intent", sess.CurrentIntent)
		sess.ClearIntent()
		sess.PendingCandidates = nil
		e.transition(sess, datatypes.SessionActive)
		e.buildUnknown(t.data, t.snap)
		return nil
	}
	t.data.SetIntent(def.Name)

	graph, err := e.graphs.GetOrBuild(ctx, def, t.snap.Version())
	if err != nil {
		return err
	}
	proc := slots.NewProcessor(slots.LocationForLocale(t.locale), e.slotConfig)

	changed := e.mergeExtractions(sess, def, t.und.result.Slots)
	if len(changed) == 0 && !fresh {
		done, err := e.interpretReply(sess, t, def, graph, proc, changed)
		if done || err != nil {
			return err
		}
	}

	validateStart := e.now()
	errs := proc.ProcessAll(def, sess.CollectedSlots, changed)
	graph.ApplyComputed(sess.CollectedSlots)
	report := graph.ValidateAll(sess.CollectedSlots)
	report, errs = e.resolveConflicts(sess, graph, report, errs)
	missing := graph.MissingSlots(report)
	e.stage("validate", validateStart)

	for name := range changed {
		if _, bad := errs[name]; bad {
			sess.FailedAttempts[name]++
		} else {
			delete(sess.FailedAttempts, name)
		}
	}
	if done, err := e.enforceCeilings(sess, t, def, errs, &missing); done || err != nil {
		return err
	}

	if len(errs) > 0 {
		return e.askAbout(sess, t, def, missing, errs, false)
	}
	if len(missing) > 0 {
		return e.askAbout(sess, t, def, missing, nil, false)
	}

	// Everything required is usable. Values carried over from another
	// context get one confirmation pass before any side effect.
	if unconfirmed := unconfirmedValues(sess); len(unconfirmed) > 0 {
		return e.askConfirmation(sess, t, def, unconfirmed)
	}
	return e.dispatchIntent(ctx, sess, t, def)
}

// mergeExtractions writes the utterance's extractions into the slot table
// as pending values. Explicit user input always overwrites; extractions
// for slots the intent does not define are dropped.
func (e *Engine) mergeExtractions(sess *datatypes.Session, def *datatypes.Intent, exts map[string]nlu.Extraction) map[string]bool {
	changed := make(map[string]bool, len(exts))
	for name, ext := range exts {
		if def.Slot(name) == nil {
			e.logger.Debug("conversation.engine: dropping extraction for unknown slot",
				"intent", def.Name, "slot", name)
			continue
		}
		value := strings.TrimSpace(ext.Extracted)
		if value == "" {
			continue
		}
		raw := ext.RawText
		if raw == "" {
			raw = value
		}
		sess.CollectedSlots[name] = &datatypes.SlotValue{
			SlotName:   name,
			RawText:    raw,
			Extracted:  value,
			Confidence: ext.Confidence,
			Source:     datatypes.SourceUserInput,
			State:      datatypes.SlotPending,
		}
		delete(sess.PartialSlots, name)
		changed[name] = true
	}
	return changed
}

// interpretReply reads an utterance that produced no extractions. It may
// consume the turn (confirmation, correction request, off-topic
// deflection), assign the raw reply to the slot just asked about, or
// decline and let the normal pipeline re-ask. Returns true when the
// turn's reply has been built.
func (e *Engine) interpretReply(sess *datatypes.Session, t *turnContext, def *datatypes.Intent, graph *depgraph.Graph, proc *slots.Processor, changed map[string]bool) (bool, error) {
	input := t.req.Input

	if sess.State == datatypes.SessionConfirming {
		if isAffirmative(input) {
			confirmCollected(sess)
			return false, nil
		}
		verdict := e.followups.Classify(followup.Input{
			Reply:    input,
			Question: lastQuestionText(sess),
			Expected: unconfirmedNames(sess),
		})
		if verdict.Class == followup.ClassConflicting {
			reopened := reopenUnconfirmed(sess)
			e.transition(sess, datatypes.SessionCollecting)
			e.logger.Debug("conversation.engine: inferred values rejected",
				"session_id", sess.ID, "slots", reopened)
		}
		// Anything else re-runs the pipeline, which re-asks the
		// confirmation with the open values.
		return false, nil
	}

	report := graph.ValidateAll(sess.CollectedSlots)
	missing := graph.MissingSlots(report)
	invalid := currentInvalid(sess)

	if len(missing) == 0 && len(invalid) == 0 {
		// Nothing left to clarify; the pipeline decides between
		// confirmation and (re-)dispatch.
		return false, nil
	}

	verdict := e.followups.Classify(followup.Input{
		Reply:    input,
		Question: lastQuestionText(sess),
		Expected: missing,
	})
	if m := observability.Default; m != nil {
		m.FollowupsTotal.WithLabelValues(string(verdict.Class)).Inc()
	}

	target := lastAskedSlot(sess)
	if def.Slot(target) == nil {
		target = ""
	}
	if target == "" && len(missing) > 0 {
		target = missing[0]
	}

	switch verdict.Class {
	case followup.ClassIncomplete, followup.ClassUnclear:
		// A short unmatched reply is often the literal answer to what
		// was just asked: "北京", "经济舱", "后天".
		if target != "" && e.assignable(proc, def, target, input) {
			e.assignRaw(sess, target, input)
			changed[target] = true
			return false, nil
		}
		if followup.CountsAsFailure(verdict.Class) && target != "" {
			sess.FailedAttempts[target]++
			if sd := def.Slot(target); sd != nil && sd.Required &&
				sess.FailedAttempts[target] >= followup.AttemptCeiling(sd.Type) {
				e.logger.Warn("conversation.engine: handing off after repeated failures",
					"session_id", sess.ID, "intent", def.Name, "slot", target)
				e.buildHandoff(sess, t.data, slotDisplay(sd))
				return true, nil
			}
		}
		return true, e.askAbout(sess, t, def, missing, invalid, true)

	case followup.ClassAmbiguous:
		return true, e.askAbout(sess, t, def, missing, invalid, true)

	case followup.ClassConflicting:
		e.buildCorrectionPrompt(t.data)
		return true, nil

	case followup.ClassOffTopic:
		q, err := e.questions.Generate(question.Input{
			Intent:  def,
			Session: sess,
			Missing: missing,
			Invalid: invalid,
		})
		if err != nil {
			return true, err
		}
		e.poseQuestion(sess, t.data, q)
		t.data.MissingSlots = missing
		t.data.Response = "这个我先记下了，我们先把手头的事办完。" + q.Text
		t.data.Status = datatypes.StatusInterruptionHandled
		t.data.ResponseType = datatypes.ResponseSmallTalk
		return true, nil

	default:
		// COMPLETE and PARTIAL presume extractions; with none, let the
		// pipeline re-derive what is still missing.
		return false, nil
	}
}

// assignable reports whether the raw reply reads as a literal value for
// the slot: it must normalize for the slot's type, and free-text slots
// additionally reject fillers and one-rune noise.
func (e *Engine) assignable(proc *slots.Processor, def *datatypes.Intent, name, input string) bool {
	sd := def.Slot(name)
	if sd == nil {
		return false
	}
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	if _, err := proc.Normalize(sd, trimmed); err != nil {
		return false
	}
	switch sd.Type {
	case datatypes.SlotTypeText, datatypes.SlotTypeEntity:
		if isFiller(trimmed) || utf8.RuneCountInString(trimmed) < 2 {
			return false
		}
	}
	return true
}

func (e *Engine) assignRaw(sess *datatypes.Session, name, input string) {
	trimmed := strings.TrimSpace(input)
	sess.CollectedSlots[name] = &datatypes.SlotValue{
		SlotName:   name,
		RawText:    input,
		Extracted:  trimmed,
		Confidence: assignedConfidence,
		Source:     datatypes.SourceUserInput,
		State:      datatypes.SlotPending,
	}
	delete(sess.PartialSlots, name)
	e.logger.Debug("conversation.engine: reply assigned to asked slot", "slot", name)
}

// resolveConflicts applies the graph's conflict verdicts. Exclusion
// losers are parked in partial_slots and the table re-validated; other
// constraint violations surface as validation messages.
func (e *Engine) resolveConflicts(sess *datatypes.Session, graph *depgraph.Graph, report *depgraph.Report, errs map[string]string) (*depgraph.Report, map[string]string) {
	if len(report.Conflicts) == 0 {
		return report, errs
	}
	moved := false
	for _, c := range report.Conflicts {
		if c.Loser != "" {
			if v := sess.CollectedSlots[c.Loser]; v != nil {
				sess.PartialSlots[c.Loser] = v.Value()
				delete(sess.CollectedSlots, c.Loser)
				moved = true
				e.logger.Debug("conversation.engine: exclusion conflict, parking loser",
					"session_id", sess.ID, "winner", c.Winner, "loser", c.Loser)
			}
			continue
		}
		if c.Slot != "" && c.Message != "" {
			if _, taken := errs[c.Slot]; !taken {
				errs[c.Slot] = c.Message
			}
		}
	}
	if moved {
		report = graph.ValidateAll(sess.CollectedSlots)
	}
	return report, errs
}

// enforceCeilings retires slots whose failed-attempt count reached the
// ceiling: optional slots are parked and dropped from play, a required
// slot ends the intent with a handoff.
func (e *Engine) enforceCeilings(sess *datatypes.Session, t *turnContext, def *datatypes.Intent, errs map[string]string, missing *[]string) (bool, error) {
	for name, attempts := range sess.FailedAttempts {
		sd := def.Slot(name)
		if sd == nil || attempts < followup.AttemptCeiling(sd.Type) {
			continue
		}
		if sd.Required {
			e.logger.Warn("conversation.engine: handing off after repeated failures",
				"session_id", sess.ID, "intent", def.Name, "slot", name, "attempts", attempts)
			e.buildHandoff(sess, t.data, slotDisplay(sd))
			return true, nil
		}
		if v := sess.CollectedSlots[name]; v != nil {
			sess.PartialSlots[name] = v.Value()
			delete(sess.CollectedSlots, name)
		}
		delete(sess.FailedAttempts, name)
		delete(errs, name)
		*missing = removeName(*missing, name)
		e.logger.Info("conversation.engine: skipping optional slot after repeated failures",
			"session_id", sess.ID, "intent", def.Name, "slot", name)
	}
	return false, nil
}

// =============================================================================
// Questions
// =============================================================================

// askAbout generates and installs the next slot question. uncertain marks
// the previous reply as unreadable, which steers strategy selection
// toward exploratory phrasing.
func (e *Engine) askAbout(sess *datatypes.Session, t *turnContext, def *datatypes.Intent, missing []string, errs map[string]string, uncertain bool) error {
	questionStart := e.now()
	q, err := e.questions.Generate(question.Input{
		Intent:    def,
		Session:   sess,
		Missing:   missing,
		Invalid:   errs,
		Uncertain: uncertain,
	})
	e.stage("question", questionStart)
	if err != nil {
		return err
	}
	e.poseQuestion(sess, t.data, q)
	t.data.MissingSlots = missing

	target := datatypes.SessionCollecting
	switch {
	case q.Strategy == question.StrategyRecovery:
		target = datatypes.SessionRecovering
	case len(errs) > 0:
		target = datatypes.SessionClarifying
	}
	e.transition(sess, target)

	if len(errs) > 0 {
		t.data.Status = datatypes.StatusValidationError
		t.data.ResponseType = datatypes.ResponseValidationPrompt
		t.data.ValidationErrors = errs
	} else {
		t.data.Status = datatypes.StatusIncomplete
		t.data.ResponseType = datatypes.ResponseSlotPrompt
	}
	e.multiIntentOverlay(t)
	return nil
}

// askConfirmation surfaces inferred values for sign-off before dispatch.
func (e *Engine) askConfirmation(sess *datatypes.Session, t *turnContext, def *datatypes.Intent, unconfirmed map[string]string) error {
	questionStart := e.now()
	q, err := e.questions.Generate(question.Input{
		Intent:      def,
		Session:     sess,
		Unconfirmed: unconfirmed,
	})
	e.stage("question", questionStart)
	if err != nil {
		return err
	}
	e.transition(sess, datatypes.SessionConfirming)
	e.poseQuestion(sess, t.data, q)
	t.data.Status = datatypes.StatusIncomplete
	t.data.ResponseType = datatypes.ResponseSlotPrompt
	t.data.NextAction = nextActionConfirm
	e.multiIntentOverlay(t)
	return nil
}

// multiIntentOverlay reframes the reply when this turn parked an intent
// to serve a new one.
func (e *Engine) multiIntentOverlay(t *turnContext) {
	if t.suspendedPrevious == "" {
		return
	}
	t.data.Response = fmt.Sprintf("好的，「%s」先放一放。", t.suspendedPrevious) + t.data.Response
	t.data.Status = datatypes.StatusMultiIntent
	t.data.ResponseType = datatypes.ResponseMultiIntent
}

// =============================================================================
// Dispatch
// =============================================================================

// dispatchIntent runs the completed intent's backend function. Failure
// keeps the collected slots so a later attempt dispatches directly; the
// turn itself still commits with an error reply.
func (e *Engine) dispatchIntent(ctx context.Context, sess *datatypes.Session, t *turnContext, def *datatypes.Intent) error {
	dispatchStart := e.now()
	outcome, err := e.dispatcher.Dispatch(ctx, def, sess.CollectedSlots)
	e.stage("dispatch", dispatchStart)
	if err != nil {
		if ctx.Err() != nil {
			return faults.Wrap(err, faults.CodeTimeout, "dispatch ran out of turn budget")
		}
		fe := faults.From(err)
		e.observeError(err)
		e.logger.Warn("conversation.engine: dispatch failed",
			"session_id", sess.ID,
			"function", def.FunctionName,
			"error_code", string(faults.CodeOf(err)),
		)
		t.data.Status = datatypes.StatusAPIError
		t.data.ResponseType = datatypes.ResponseErrorAlternatives
		t.data.Response = fe.UserMessage(t.locale)
		t.data.Suggestions = retrySuggestions
		t.data.NextAction = nextActionRetry
		return nil
	}

	t.data.Status = datatypes.StatusCompleted
	t.data.ResponseType = datatypes.ResponseAPIResult
	t.data.Response = outcome.Reply
	t.data.APIResult = outcome.Data
	t.data.NextAction = nextActionNone
	t.data.Slots = sess.CollectedSlots.WireSlots()

	completed := sess.CurrentIntent
	sess.Remember(e.now())
	sess.ClearIntent()
	e.logger.Info("conversation.engine: task completed",
		"session_id", sess.ID, "intent", completed)

	if sess.ResumeSuspended() {
		e.continueResumed(ctx, sess, t)
		return nil
	}
	e.transition(sess, datatypes.SessionActive)
	return nil
}

// continueResumed picks up the most recently parked intent in the same
// turn its successor completed. Everything here is best-effort: the turn
// already succeeded, so problems only trim the continuation.
func (e *Engine) continueResumed(ctx context.Context, sess *datatypes.Session, t *turnContext) {
	def, ok := t.snap.Intent(sess.CurrentIntent)
	if !ok {
		sess.ClearIntent()
		e.transition(sess, datatypes.SessionActive)
		return
	}
	display := intentDisplay(def)

	graph, err := e.graphs.GetOrBuild(ctx, def, t.snap.Version())
	if err != nil {
		e.logger.Warn("conversation.engine: resumed intent graph unavailable",
			"session_id", sess.ID, "intent", def.Name, "error", err)
		sess.ClearIntent()
		e.transition(sess, datatypes.SessionActive)
		return
	}
	report := graph.ValidateAll(sess.CollectedSlots)
	missing := graph.MissingSlots(report)

	if len(missing) == 0 && len(unconfirmedValues(sess)) == 0 {
		// The parked task is ready too; run it in the same turn.
		outcome, err := e.dispatcher.Dispatch(ctx, def, sess.CollectedSlots)
		if err != nil {
			e.logger.Warn("conversation.engine: resumed dispatch failed",
				"session_id", sess.ID, "intent", def.Name,
				"error_code", string(faults.CodeOf(err)))
			t.data.Response += fmt.Sprintf("\n刚才的「%s」信息也齐了，不过办理暂时没成功，稍后可以再试。", display)
			return
		}
		sess.Remember(e.now())
		sess.ClearIntent()
		e.transition(sess, datatypes.SessionActive)
		t.data.Response += fmt.Sprintf("\n刚才的「%s」也办好了：%s", display, outcome.Reply)
		return
	}

	q, err := e.questions.Generate(question.Input{
		Intent:  def,
		Session: sess,
		Missing: missing,
	})
	if err != nil {
		e.logger.Warn("conversation.engine: resumed question generation failed",
			"session_id", sess.ID, "intent", def.Name, "error", err)
		return
	}
	sess.RecordQuestion(q.Record(e.now()))
	t.data.SetIntent(def.Name)
	t.data.MissingSlots = missing
	t.data.NextAction = nextActionProvideSlot
	t.data.Response += fmt.Sprintf("\n我们继续刚才的「%s」。%s", display, q.Text)
}

// =============================================================================
// Slot table readings
// =============================================================================

func confirmCollected(sess *datatypes.Session) {
	for _, v := range sess.CollectedSlots {
		if v != nil && v.State.Usable() {
			v.Confirmed = true
		}
	}
}

// unconfirmedValues lists usable values carried over from another context
// that the user has not signed off on. Catalog defaults enter confirmed
// and never appear here.
func unconfirmedValues(sess *datatypes.Session) map[string]string {
	out := make(map[string]string)
	for name, v := range sess.CollectedSlots {
		if v == nil || v.Confirmed || v.Source != datatypes.SourceInherited || !v.State.Usable() {
			continue
		}
		out[name] = v.Value()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func unconfirmedNames(sess *datatypes.Session) []string {
	var names []string
	for name := range unconfirmedValues(sess) {
		names = append(names, name)
	}
	return names
}

// reopenUnconfirmed drops rejected inferred values so they are asked for
// directly.
func reopenUnconfirmed(sess *datatypes.Session) []string {
	var names []string
	for name, v := range sess.CollectedSlots {
		if v != nil && !v.Confirmed && v.Source == datatypes.SourceInherited {
			delete(sess.CollectedSlots, name)
			names = append(names, name)
		}
	}
	return names
}

func currentInvalid(sess *datatypes.Session) map[string]string {
	out := make(map[string]string)
	for name, v := range sess.CollectedSlots {
		if v != nil && v.State == datatypes.SlotInvalid {
			msg := v.Error
			if msg == "" {
				msg = "无效的值"
			}
			out[name] = msg
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func lastAskedSlot(sess *datatypes.Session) string {
	if n := len(sess.RecentQuestions); n > 0 {
		return sess.RecentQuestions[n-1].Slot
	}
	return ""
}

func lastQuestionText(sess *datatypes.Session) string {
	if n := len(sess.RecentQuestions); n > 0 {
		return sess.RecentQuestions[n-1].Question
	}
	return ""
}

func slotDisplay(sd *datatypes.SlotDef) string {
	if sd.DisplayName != "" {
		return sd.DisplayName
	}
	return sd.Name
}

func intentDisplay(def *datatypes.Intent) string {
	if def.DisplayName != "" {
		return def.DisplayName
	}
	return def.Name
}

func removeName(names []string, drop string) []string {
	out := names[:0]
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}
