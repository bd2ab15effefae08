// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// State Transitions
// =============================================================================

// The dialogue lifecycle enforces the following transition graph:
//
//	active → collecting      : intent recognized, slots missing
//	active → active          : small talk or unknown input
//	collecting → collecting  : more slots arrived, still missing some
//	collecting → clarifying  : a value failed validation or reply ambiguous
//	collecting → confirming  : all slots filled, confirmation pending
//	collecting → recovering  : failed-attempt ceiling reached
//	collecting → active      : dispatched, no further intent queued
//	clarifying → collecting  : clarification produced a usable value
//	clarifying → clarifying  : still unclear
//	clarifying → recovering  : failed-attempt ceiling reached
//	clarifying → active      : intent abandoned or dispatched
//	confirming → collecting  : user corrected a value
//	confirming → active      : confirmed and dispatched
//	confirming → clarifying  : confirmation answer was unclear
//	recovering → collecting  : user recovered with a usable value
//	recovering → active      : intent abandoned or handed off
//	* → closed               : TTL expiry or explicit close
//
// Closed is terminal.
var transitions = map[datatypes.SessionState]map[datatypes.SessionState]bool{
	datatypes.SessionActive: {
		datatypes.SessionActive:     true,
		datatypes.SessionCollecting: true,
	},
	datatypes.SessionCollecting: {
		datatypes.SessionCollecting: true,
		datatypes.SessionClarifying: true,
		datatypes.SessionConfirming: true,
		datatypes.SessionRecovering: true,
		datatypes.SessionActive:     true,
	},
	datatypes.SessionClarifying: {
		datatypes.SessionCollecting: true,
		datatypes.SessionClarifying: true,
		datatypes.SessionRecovering: true,
		datatypes.SessionActive:     true,
	},
	datatypes.SessionConfirming: {
		datatypes.SessionCollecting: true,
		datatypes.SessionActive:     true,
		datatypes.SessionClarifying: true,
	},
	datatypes.SessionRecovering: {
		datatypes.SessionCollecting: true,
		datatypes.SessionActive:     true,
	},
	datatypes.SessionClosed: {},
}

// CanTransition reports whether from → to is a legal lifecycle move.
// Closing is legal from every state.
func CanTransition(from, to datatypes.SessionState) bool {
	if to == datatypes.SessionClosed {
		return true
	}
	return transitions[from][to]
}

// Transition moves the session to a new state, rejecting illegal moves.
func Transition(s *datatypes.Session, to datatypes.SessionState) error {
	if !CanTransition(s.State, to) {
		return faults.Newf(faults.CodeInvalidState,
			"session %s cannot move from %s to %s", s.ID, s.State, to)
	}
	s.State = to
	return nil
}
