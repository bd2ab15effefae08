// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nlu turns a raw utterance into ranked intent candidates and
// extracted slot values. Adapters are stateless: every call carries the
// utterance plus the catalog context it should classify against, so a
// classifier can be swapped or fanned out without session coupling.
//
// Three adapters ship here. HTTPClassifier talks to a dedicated NLU
// service, LLMClassifier prompts an OpenAI-compatible model into strict
// JSON, and KeywordClassifier is the degraded-mode fallback that matches
// against catalog examples. Resilient composes a primary with the
// fallback behind a circuit breaker.
package nlu

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultTimeout is the hard deadline for a single classification
	// call, fallback excluded.
	DefaultTimeout = 2 * time.Second

	// MaxCandidates bounds how many ranked hypotheses an adapter returns.
	MaxCandidates = 5
)

// =============================================================================
// Types
// =============================================================================

// Extraction is one slot value pulled out of the utterance, before
// normalization and validation.
type Extraction struct {
	// Extracted is the literal surface form, e.g. "下周五" or "三个人".
	Extracted string `json:"extracted"`

	// RawText is the utterance span the value came from, when the
	// adapter can report it. Empty means same as Extracted.
	RawText string `json:"raw_text,omitempty"`

	// Confidence is the adapter's belief in this extraction, in [0,1].
	Confidence float64 `json:"confidence"`
}

// Request carries one utterance and the catalog context to classify it
// against. Intents is the live snapshot's intent set; adapters use it
// for prompting or matching but never mutate it.
type Request struct {
	Utterance      string
	Locale         string
	CurrentIntent  string
	CatalogVersion string
	Intents        []*datatypes.Intent
}

// Result is a ranked classification plus any slots extracted in the
// same pass. Candidates are sorted by confidence, best first.
type Result struct {
	Candidates []datatypes.IntentCandidate
	Slots      map[string]Extraction

	// Adapter names the classifier that produced the result, for
	// metrics and the turn trace.
	Adapter string
}

// Classifier is implemented by every NLU adapter.
type Classifier interface {
	// Classify interprets the utterance. It returns classified faults
	// (E5xxx, E8xxx) on adapter failure; an empty candidate list with a
	// nil error is a legitimate "understood nothing" answer.
	Classify(ctx context.Context, req Request) (*Result, error)

	// Name identifies the adapter in logs and metrics.
	Name() string
}
