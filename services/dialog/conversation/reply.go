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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
	"github.com/AleutianAI/AleutianDialog/services/dialog/question"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
)

// next_action values tell thin clients what UI affordance fits the reply.
const (
	nextActionProvideSlot      = "provide_slot_value"
	nextActionSelectIntent     = "select_intent"
	nextActionConfirm          = "confirm_values"
	nextActionRetry            = "retry_later"
	nextActionContinuePrevious = "continue_previous_intent"
	nextActionNone             = "none"
)

var retrySuggestions = []string{"稍后再试一次", "换个说法重新提交"}

// =============================================================================
// Reply builders
// =============================================================================

// poseQuestion installs q as the turn's reply and records it on the
// session's recent-question ring, which feeds repetition penalties on
// later turns.
func (e *Engine) poseQuestion(sess *datatypes.Session, data *datatypes.ChatData, q *question.Question) {
	sess.RecordQuestion(q.Record(e.now()))
	if m := observability.Default; m != nil {
		m.QuestionsTotal.WithLabelValues(string(q.Kind), string(q.Strategy)).Inc()
	}
	data.Response = q.Text
	data.NextAction = nextActionProvideSlot
}

// buildDisambiguation turns a near-tie into a numbered listing the next
// turn can answer by ordinal, name, or display name.
func (e *Engine) buildDisambiguation(data *datatypes.ChatData, candidates []datatypes.IntentCandidate) {
	var b strings.Builder
	b.WriteString("您是想要哪种服务？\n")
	for i, c := range candidates {
		name := c.DisplayName
		if name == "" {
			name = c.IntentName
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	b.WriteString("回复序号或名称即可。")

	data.Response = b.String()
	data.Status = datatypes.StatusAmbiguous
	data.ResponseType = datatypes.ResponseDisambiguation
	data.AmbiguousIntents = candidates
	data.NextAction = nextActionSelectIntent
	data.SetIntent("")
	if len(candidates) > 0 {
		data.Confidence = candidates[0].Confidence
	}
}

// buildUnknown is the delegation reply: nothing scored above the floor,
// so list what this service can do instead of guessing.
func (e *Engine) buildUnknown(data *datatypes.ChatData, snap *catalog.Snapshot) {
	names := displayNames(snap)
	data.Response = "抱歉，我还没明白您的需求。我可以帮您：" + strings.Join(names, "、") + "。"
	data.Status = datatypes.StatusIncomplete
	data.ResponseType = datatypes.ResponseSmallTalk
	data.Suggestions = names
	data.NextAction = nextActionSelectIntent
	data.SetIntent("")
	data.Confidence = 0
}

// buildPendingCancelled acknowledges backing out of a disambiguation
// listing without starting anything.
func (e *Engine) buildPendingCancelled(data *datatypes.ChatData) {
	data.Response = "好的，先不办了。还有什么可以帮您？"
	data.Status = datatypes.StatusIntentCancelled
	data.ResponseType = datatypes.ResponseCancellation
	data.NextAction = nextActionNone
	data.SetIntent("")
}

// buildCorrectionPrompt answers a bare objection ("不对") that named no
// replacement: invite the correction rather than guess which value to
// drop.
func (e *Engine) buildCorrectionPrompt(data *datatypes.ChatData) {
	data.Response = "好的，请告诉我要改哪一项，直接说新的值就行，比如\"出发城市改成上海\"。"
	data.Status = datatypes.StatusIncomplete
	data.ResponseType = datatypes.ResponseValidationPrompt
	data.NextAction = nextActionProvideSlot
}

// buildHandoff gives up on an intent after repeated failures on a
// required slot. Collected values ride along in the reply so a human
// agent or a retry can pick them up.
func (e *Engine) buildHandoff(sess *datatypes.Session, data *datatypes.ChatData, slotDisplay string) {
	data.Slots = sess.CollectedSlots.WireSlots()
	sess.ClearIntent()
	sess.PendingCandidates = nil
	e.transition(sess, datatypes.SessionActive)

	data.Status = datatypes.StatusIntentCancelled
	data.ResponseType = datatypes.ResponseErrorAlternatives
	data.Response = fmt.Sprintf("「%s」这一项试了几次都没能填好，先不为难您了。您可以换个说法从头再来，或者稍后再试。", slotDisplay)
	data.Suggestions = retrySuggestions
	data.NextAction = nextActionNone
}

// =============================================================================
// Helpers
// =============================================================================

// transition moves the session state, logging instead of failing when the
// move is not in the state graph; the turn's outcome is already decided
// by the time states are adjusted.
func (e *Engine) transition(sess *datatypes.Session, to datatypes.SessionState) {
	if sess.State == to {
		return
	}
	if err := session.Transition(sess, to); err != nil {
		e.logger.Warn("conversation.engine: state transition skipped",
			"session_id", sess.ID,
			"from", string(sess.State),
			"to", string(to),
		)
	}
}

func (e *Engine) displayNameOf(snap *catalog.Snapshot, name string) string {
	if def, ok := snap.Intent(name); ok && def.DisplayName != "" {
		return def.DisplayName
	}
	return name
}

// noteDroppedFrame tells the user a parked task fell off the full intent
// stack, via the reply's suggestions.
func (e *Engine) noteDroppedFrame(t *turnContext, frame *datatypes.IntentFrame) {
	display := e.displayNameOf(t.snap, frame.IntentName)
	t.data.Suggestions = append(t.data.Suggestions,
		fmt.Sprintf("「%s」搁置较久，已为您移除，需要时请重新发起", display))
}

func displayNames(snap *catalog.Snapshot) []string {
	defs := snap.Intents()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if def.DisplayName != "" {
			names = append(names, def.DisplayName)
		} else {
			names = append(names, def.Name)
		}
	}
	return names
}
