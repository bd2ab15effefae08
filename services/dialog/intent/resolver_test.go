// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	m := catalog.NewManager(nil, nil)
	snap, err := m.Replace(catalog.Default(), "builtin")
	require.NoError(t, err)
	return snap
}

func newSession() *datatypes.Session {
	return datatypes.NewSession("sess-1", "user-1", time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC))
}

func cand(name string, conf float64) datatypes.IntentCandidate {
	return datatypes.IntentCandidate{IntentName: name, Confidence: conf}
}

func newResolver() *Resolver {
	return NewResolver(Config{}, nil)
}

// =============================================================================
// Rule 2: New Intent
// =============================================================================

func TestResolveDecisiveNewIntent(t *testing.T) {
	snap := testSnapshot(t)
	d := newResolver().Resolve(newSession(), []datatypes.IntentCandidate{
		cand("book_flight", 0.92),
		cand("book_train", 0.31),
	}, snap)

	assert.Equal(t, NewIntent, d.Kind)
	require.NotNil(t, d.Intent)
	assert.Equal(t, "book_flight", d.Intent.Name)
	assert.Equal(t, 0.92, d.Confidence)
}

func TestResolveBelowIntentThresholdIsNotNew(t *testing.T) {
	snap := testSnapshot(t)
	// book_flight's own threshold is 0.7.
	d := newResolver().Resolve(newSession(), []datatypes.IntentCandidate{
		cand("book_flight", 0.62),
	}, snap)
	assert.NotEqual(t, NewIntent, d.Kind)
}

func TestResolveThinMarginIsNotNew(t *testing.T) {
	snap := testSnapshot(t)
	d := newResolver().Resolve(newSession(), []datatypes.IntentCandidate{
		cand("book_flight", 0.80),
		cand("book_train", 0.76),
	}, snap)
	// Margin 0.04 < 0.1: near-tie, both above the floor.
	assert.Equal(t, Ambiguous, d.Kind)
}

// =============================================================================
// Rule 1: Continuation
// =============================================================================

func TestResolveContinuesCurrentIntent(t *testing.T) {
	snap := testSnapshot(t)
	sess := newSession()
	sess.StartIntent("book_flight")

	// Slot-input utterances score no candidates at all.
	d := newResolver().Resolve(sess, nil, snap)
	assert.Equal(t, ContinueIntent, d.Kind)

	// Stray low-confidence candidates do not break continuation.
	d = newResolver().Resolve(sess, []datatypes.IntentCandidate{
		cand("book_train", 0.22),
	}, snap)
	assert.Equal(t, ContinueIntent, d.Kind)

	// The current intent on top is a continuation however confident.
	d = newResolver().Resolve(sess, []datatypes.IntentCandidate{
		cand("book_flight", 0.97),
	}, snap)
	assert.Equal(t, ContinueIntent, d.Kind)
}

func TestResolveSwitchesOnDecisiveChallenger(t *testing.T) {
	snap := testSnapshot(t)
	sess := newSession()
	sess.StartIntent("book_flight")

	d := newResolver().Resolve(sess, []datatypes.IntentCandidate{
		cand("check_balance", 0.85),
	}, snap)
	assert.Equal(t, NewIntent, d.Kind)
	require.NotNil(t, d.Intent)
	assert.Equal(t, "check_balance", d.Intent.Name)
}

func TestResolveModerateChallengerAsksInsteadOfSwitching(t *testing.T) {
	snap := testSnapshot(t)
	sess := newSession()
	sess.StartIntent("book_flight")

	// A challenger above the floor but with the current intent scored
	// close behind: fall out of continuation into disambiguation.
	d := newResolver().Resolve(sess, []datatypes.IntentCandidate{
		cand("book_train", 0.78),
		cand("book_flight", 0.72),
	}, snap)
	assert.Equal(t, Ambiguous, d.Kind)
	assert.Len(t, d.Candidates, 2)
}

// =============================================================================
// Rule 3: Ambiguity
// =============================================================================

func TestResolveAmbiguousCandidates(t *testing.T) {
	snap := testSnapshot(t)
	d := newResolver().Resolve(newSession(), []datatypes.IntentCandidate{
		cand("book_flight", 0.61),
		cand("book_train", 0.59),
		cand("book_movie", 0.55),
	}, snap)

	assert.Equal(t, Ambiguous, d.Kind)
	require.Len(t, d.Candidates, 3)
	assert.Equal(t, "book_flight", d.Candidates[0].IntentName)
	// Display names are filled from the catalog for the prompt.
	assert.Equal(t, "机票预订", d.Candidates[0].DisplayName)
}

func TestResolveAmbiguityNeedsFloor(t *testing.T) {
	snap := testSnapshot(t)
	d := newResolver().Resolve(newSession(), []datatypes.IntentCandidate{
		cand("book_flight", 0.45),
		cand("book_train", 0.44),
	}, snap)
	assert.Equal(t, Unknown, d.Kind)
}

func TestResolveAmbiguityNeedsBand(t *testing.T) {
	snap := testSnapshot(t)
	// 0.66 vs 0.52: gap exceeds the band; 0.66 alone misses threshold.
	d := newResolver().Resolve(newSession(), []datatypes.IntentCandidate{
		cand("book_flight", 0.66),
		cand("book_train", 0.52),
	}, snap)
	assert.Equal(t, Unknown, d.Kind)
}

// =============================================================================
// Rule 4: Unknown
// =============================================================================

func TestResolveUnknown(t *testing.T) {
	snap := testSnapshot(t)

	d := newResolver().Resolve(newSession(), nil, snap)
	assert.Equal(t, Unknown, d.Kind)

	// Candidates for intents not in the catalog are dropped.
	d = newResolver().Resolve(newSession(), []datatypes.IntentCandidate{
		cand("order_pizza", 0.95),
	}, snap)
	assert.Equal(t, Unknown, d.Kind)
}

// =============================================================================
// Disambiguation Selection
// =============================================================================

func TestResolveSelection(t *testing.T) {
	snap := testSnapshot(t)
	sess := newSession()
	sess.PendingCandidates = []datatypes.IntentCandidate{
		{IntentName: "book_flight", DisplayName: "机票预订", Confidence: 0.61},
		{IntentName: "book_train", DisplayName: "火车票预订", Confidence: 0.59},
	}

	cases := []struct {
		reply string
		want  string
	}{
		{"1", "book_flight"},
		{"一", "book_flight"},
		{"第一个", "book_flight"},
		{"2", "book_train"},
		{"第二个", "book_train"},
		{"book_train", "book_train"},
		{"机票预订", "book_flight"},
		{"我要订机票预订", "book_flight"},
		{"机票", "book_flight"},
	}
	for _, tc := range cases {
		t.Run(tc.reply, func(t *testing.T) {
			in, ok := newResolver().ResolveSelection(sess, tc.reply, snap)
			require.True(t, ok)
			assert.Equal(t, tc.want, in.Name)
		})
	}
}

func TestResolveSelectionMisses(t *testing.T) {
	snap := testSnapshot(t)
	sess := newSession()
	sess.PendingCandidates = []datatypes.IntentCandidate{
		{IntentName: "book_flight", DisplayName: "机票预订", Confidence: 0.61},
		{IntentName: "book_train", DisplayName: "火车票预订", Confidence: 0.59},
	}

	// Out-of-range ordinal.
	_, ok := newResolver().ResolveSelection(sess, "3", snap)
	assert.False(t, ok)

	// Matches both display names: not a unique pick.
	_, ok = newResolver().ResolveSelection(sess, "票预订", snap)
	assert.False(t, ok)

	// Unrelated text.
	_, ok = newResolver().ResolveSelection(sess, "随便", snap)
	assert.False(t, ok)

	// No pending candidates.
	_, ok = newResolver().ResolveSelection(newSession(), "1", snap)
	assert.False(t, ok)
}
