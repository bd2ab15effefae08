// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import "context"

// =============================================================================
// Data Classification Types
// =============================================================================

// DataClassification represents the sensitivity level of data.
//
// Classifications follow common enterprise data handling policies and
// align with regulatory requirements (GDPR, CCPA). Higher levels require
// stricter handling.
//
//	switch result.HighestLevel {
//	case ClassificationSecret:
//	    // Block the turn, audit the attempt
//	case ClassificationPII:
//	    // Redact in logs, apply retention policies
//	}
type DataClassification string

const (
	// ClassificationPublic indicates data that can be freely processed.
	ClassificationPublic DataClassification = "PUBLIC"

	// ClassificationConfidential indicates internal-only data.
	ClassificationConfidential DataClassification = "CONFIDENTIAL"

	// ClassificationPII indicates personally identifiable information.
	// Requires special handling under GDPR, CCPA, and similar
	// regulations.
	ClassificationPII DataClassification = "PII"

	// ClassificationSecret indicates highly sensitive data such as API
	// keys, passwords, or credentials. Utterances carrying secrets are
	// blocked before they reach any external understanding backend.
	ClassificationSecret DataClassification = "SECRET"
)

// rank orders classifications from least to most sensitive.
var classificationRank = map[DataClassification]int{
	ClassificationPublic:       0,
	ClassificationConfidential: 1,
	ClassificationPII:          2,
	ClassificationSecret:       3,
}

// MoreSensitiveThan reports whether c outranks other.
func (c DataClassification) MoreSensitiveThan(other DataClassification) bool {
	return classificationRank[c] > classificationRank[other]
}

// ClassificationFinding describes one piece of sensitive data detected
// in the input.
type ClassificationFinding struct {
	// Level is the sensitivity of this finding.
	Level DataClassification

	// Kind names what was detected, e.g. "phone", "id_number",
	// "api_key".
	Kind string

	// Location describes where in the text the item was found.
	// Format is implementation-specific.
	Location string
}

// ClassificationResult contains the outcome of classifying a piece of
// text. A single utterance may contain multiple findings; HighestLevel
// gives a single value for quick policy decisions.
type ClassificationResult struct {
	// HighestLevel is the most sensitive classification found.
	HighestLevel DataClassification

	// Findings lists detected sensitive data. Empty when nothing
	// sensitive was found (HighestLevel == ClassificationPublic).
	Findings []ClassificationFinding
}

// =============================================================================
// Classifier Interface
// =============================================================================

// DataClassifier rates the sensitivity of user input.
//
// The chat handlers classify each inbound utterance; turns carrying
// ClassificationSecret content are blocked before understanding runs,
// and the block is recorded via AuditLogger.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
//
// # Open Source Behavior
//
// The default NopDataClassifier reports everything as PUBLIC, so no
// turns are ever blocked.
//
// # Enterprise Implementation
//
// Enterprise versions run pattern or model based detection:
//
//	func (c *PatternClassifier) Classify(ctx context.Context, content string) (*ClassificationResult, error) {
//	    var findings []ClassificationFinding
//	    for _, p := range c.patterns {
//	        if loc := p.Find(content); loc != "" {
//	            findings = append(findings, ClassificationFinding{Level: p.Level, Kind: p.Name, Location: loc})
//	        }
//	    }
//	    return &ClassificationResult{HighestLevel: highest(findings), Findings: findings}, nil
//	}
type DataClassifier interface {
	// Classify rates the sensitivity of the given text.
	Classify(ctx context.Context, content string) (*ClassificationResult, error)
}

// =============================================================================
// No-op Implementation
// =============================================================================

// NopDataClassifier is the default classifier for open source. It
// reports all content as PUBLIC with no findings.
//
// Thread-safe: no mutable state.
type NopDataClassifier struct{}

// Classify always returns PUBLIC with no findings.
func (c *NopDataClassifier) Classify(_ context.Context, _ string) (*ClassificationResult, error) {
	return &ClassificationResult{HighestLevel: ClassificationPublic}, nil
}

// Compile-time interface compliance check.
var _ DataClassifier = (*NopDataClassifier)(nil)
