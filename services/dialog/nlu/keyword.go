// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nlu

import (
	"context"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Keyword Fallback
// =============================================================================

const (
	// MaxKeywordConfidence caps the fallback's scores below every
	// intent's confidence threshold band, so a keyword match can route
	// but reads as weaker evidence than a real classifier.
	MaxKeywordConfidence = 0.6

	// keywordFloor drops candidates whose similarity is noise.
	keywordFloor = 0.3
)

// KeywordClassifier matches the utterance against each intent's example
// phrases using rune-bigram overlap plus substring containment. It
// extracts no slots and never errors: this is the degraded mode that
// keeps routing alive while the primary adapter's breaker is open.
type KeywordClassifier struct{}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier returns the fallback matcher.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Name implements Classifier.
func (k *KeywordClassifier) Name() string { return "keyword" }

// Classify scores every catalog intent by its best-matching example.
func (k *KeywordClassifier) Classify(_ context.Context, req Request) (*Result, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return &Result{Adapter: k.Name()}, nil
	}

	var candidates []datatypes.IntentCandidate
	for _, in := range req.Intents {
		best := 0.0
		for _, example := range in.Examples {
			if s := similarity(utterance, example); s > best {
				best = s
			}
		}
		if best < keywordFloor {
			continue
		}
		candidates = append(candidates, datatypes.IntentCandidate{
			IntentName:  in.Name,
			DisplayName: in.DisplayName,
			Description: in.Description,
			Confidence:  round2(best * MaxKeywordConfidence),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return &Result{Candidates: candidates, Adapter: k.Name()}, nil
}

// similarity blends substring containment with rune-bigram Dice overlap.
// Bigrams over runes work for Chinese text, where word boundaries are
// not whitespace-delimited.
func similarity(utterance, example string) float64 {
	u := strings.ToLower(strings.TrimSpace(utterance))
	e := strings.ToLower(strings.TrimSpace(example))
	if u == "" || e == "" {
		return 0
	}
	if u == e {
		return 1
	}

	contained := 0.0
	if strings.Contains(u, e) || strings.Contains(e, u) {
		shorter, longer := len([]rune(u)), len([]rune(e))
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		contained = 0.6 + 0.4*float64(shorter)/float64(longer)
	}

	dice := diceBigram(u, e)
	if contained > dice {
		return contained
	}
	return dice
}

// diceBigram is the Sørensen–Dice coefficient over rune bigrams.
func diceBigram(a, b string) float64 {
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	shared := 0
	for g, n := range ba {
		if m := bb[g]; m > 0 {
			if m < n {
				shared += m
			} else {
				shared += n
			}
		}
	}
	return 2 * float64(shared) / float64(total(ba)+total(bb))
}

func bigrams(s string) map[string]int {
	runes := []rune(s)
	if len(runes) < 2 {
		return map[string]int{string(runes): 1}
	}
	out := make(map[string]int, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

func total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
