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
)

// =============================================================================
// Command detection
// =============================================================================

// command is a conversation-level move that preempts intent resolution
// while a task is in flight.
type command int

const (
	cmdNone command = iota
	cmdCancel
	cmdPostpone
	cmdResume
)

// Detection is lexical and deliberately conservative: a command phrase
// buried in a long utterance ("取消" inside a hotel name) must not kill
// the task, so matches are only honored on short inputs.
const maxCommandRunes = 12

var (
	cancelPhrases = []string{
		"取消", "不订了", "不要了", "算了", "不办了", "别订了", "不弄了",
		"cancel", "never mind", "forget it",
	}
	postponePhrases = []string{
		"先不", "稍后再说", "等会再说", "回头再说", "先放一放", "待会再说", "晚点再说",
		"later", "not now",
	}
	resumePhrases = []string{
		"继续", "接着说", "接着办", "继续刚才", "回到刚才",
		"continue", "resume",
	}
)

// commandFor classifies the input as a conversation command, or cmdNone.
func commandFor(input string) command {
	reply := strings.ToLower(strings.TrimSpace(input))
	if reply == "" || utf8.RuneCountInString(reply) > maxCommandRunes {
		return cmdNone
	}
	for _, p := range cancelPhrases {
		if strings.Contains(reply, p) {
			return cmdCancel
		}
	}
	for _, p := range postponePhrases {
		if strings.Contains(reply, p) {
			return cmdPostpone
		}
	}
	for _, p := range resumePhrases {
		if strings.Contains(reply, p) {
			return cmdResume
		}
	}
	return cmdNone
}

// affirmatives are exact-match confirmations, checked after stripping
// trailing punctuation. Substring matching would misread "好像不对".
var affirmatives = map[string]bool{
	"对": true, "对的": true, "是": true, "是的": true, "没错": true,
	"确认": true, "确定": true, "好": true, "好的": true, "可以": true,
	"行": true, "嗯": true, "嗯嗯": true, "ok": true, "yes": true, "yep": true,
}

// fillers are acknowledgement noises that must never be taken as a slot
// value for a free-text slot.
var fillers = map[string]bool{
	"哦": true, "噢": true, "啊": true, "呃": true, "额": true,
	"唉": true, "哈哈": true, "呵呵": true, "这个": true, "那个": true,
	"不": true, "不对": true, "不是": true,
}

func trimReplyPunct(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "。！!？?，,. ")
}

func isAffirmative(input string) bool {
	return affirmatives[strings.ToLower(trimReplyPunct(input))]
}

func isFiller(input string) bool {
	s := strings.ToLower(trimReplyPunct(input))
	return fillers[s] || affirmatives[s]
}

// =============================================================================
// Command handling
// =============================================================================

// handleCommand executes a cancel/postpone/resume against the current
// intent. Resume while an intent is active reads as "go on", which the
// question path already handles, so it re-asks instead of popping the
// stack.
func (e *Engine) handleCommand(ctx context.Context, sess *datatypes.Session, t *turnContext, cmd command) error {
	display := e.displayNameOf(t.snap, sess.CurrentIntent)

	switch cmd {
	case cmdCancel:
		t.data.SetIntent(sess.CurrentIntent)
		t.data.Slots = sess.CollectedSlots.WireSlots()
		sess.ClearIntent()
		sess.PendingCandidates = nil
		e.transition(sess, datatypes.SessionActive)

		t.data.Status = datatypes.StatusIntentCancelled
		t.data.ResponseType = datatypes.ResponseCancellation
		t.data.NextAction = nextActionNone
		reply := fmt.Sprintf("好的，已为您取消「%s」。", display)
		if n := len(sess.IntentStack); n > 0 {
			parked := e.displayNameOf(t.snap, sess.IntentStack[n-1].IntentName)
			reply += fmt.Sprintf("之前的「%s」还存着，说\"继续\"可以接着办。", parked)
			t.data.NextAction = nextActionContinuePrevious
		} else {
			reply += "还有什么可以帮您？"
		}
		t.data.Response = reply
		e.logger.Info("conversation.engine: intent cancelled",
			"session_id", sess.ID, "intent", intentLabel(t.data))
		return nil

	case cmdPostpone:
		t.data.SetIntent(sess.CurrentIntent)
		if dropped := sess.SuspendCurrent(e.now()); dropped != nil {
			e.logger.Info("conversation.engine: intent stack full, dropping oldest",
				"session_id", sess.ID, "dropped_intent", dropped.IntentName)
			e.noteDroppedFrame(t, dropped)
		}
		e.transition(sess, datatypes.SessionActive)

		t.data.Status = datatypes.StatusIntentPostponed
		t.data.ResponseType = datatypes.ResponsePostponement
		t.data.NextAction = nextActionContinuePrevious
		t.data.Response = fmt.Sprintf("好的，「%s」先放一放，已填的信息我都记着。说\"继续\"随时接着办。", display)
		e.logger.Info("conversation.engine: intent postponed",
			"session_id", sess.ID, "intent", intentLabel(t.data))
		return nil

	default: // cmdResume with an active intent: re-ask where we were.
		return e.advance(ctx, sess, t, true)
	}
}

// resumeFromStack pops the most recently parked intent and picks up its
// slot collection where it stopped.
func (e *Engine) resumeFromStack(ctx context.Context, sess *datatypes.Session, t *turnContext) error {
	if !sess.ResumeSuspended() {
		e.buildUnknown(t.data, t.snap)
		return nil
	}
	def, ok := t.snap.Intent(sess.CurrentIntent)
	if !ok {
		// The catalog dropped the intent while it was parked.
		e.logger.Warn("conversation.engine: resumed intent no longer in catalog",
			"session_id", sess.ID, "intent", sess.CurrentIntent)
		sess.ClearIntent()
		e.transition(sess, datatypes.SessionActive)
		e.buildUnknown(t.data, t.snap)
		return nil
	}
	e.logger.Info("conversation.engine: intent resumed",
		"session_id", sess.ID, "intent", def.Name)
	t.data.SetIntent(def.Name)
	return e.advance(ctx, sess, t, true)
}
