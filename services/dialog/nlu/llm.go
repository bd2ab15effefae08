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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// LLM Adapter
// =============================================================================

const (
	defaultLLMModel = "gpt-4o-mini"
	secretKeyPath   = "/run/secrets/openai_api_key"
)

// LLMClassifier prompts an OpenAI-compatible chat model into strict JSON
// classification. The API key lives in a memguard enclave and is only
// decrypted into locked memory for the duration of a call; it never
// appears in logs, config dumps, or heap profiles.
type LLMClassifier struct {
	key     *memguard.Enclave
	model   string
	baseURL string
	httpc   *http.Client
	timeout time.Duration
}

var _ Classifier = (*LLMClassifier)(nil)

// LLMOption customizes the classifier.
type LLMOption func(*LLMClassifier)

// WithLLMModel overrides the chat model.
func WithLLMModel(model string) LLMOption {
	return func(l *LLMClassifier) {
		if model != "" {
			l.model = model
		}
	}
}

// WithLLMBaseURL points the client at a non-OpenAI gateway, e.g. a local
// inference server speaking the same API.
func WithLLMBaseURL(url string) LLMOption {
	return func(l *LLMClassifier) { l.baseURL = url }
}

// WithLLMHTTPClient swaps the transport, mainly for tests.
func WithLLMHTTPClient(c *http.Client) LLMOption {
	return func(l *LLMClassifier) { l.httpc = c }
}

// WithLLMTimeout overrides the per-call deadline.
func WithLLMTimeout(d time.Duration) LLMOption {
	return func(l *LLMClassifier) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLLMClassifier seals apiKey into an enclave and wipes the input.
func NewLLMClassifier(apiKey []byte, opts ...LLMOption) (*LLMClassifier, error) {
	if len(apiKey) == 0 {
		return nil, faults.New(faults.CodeConfiguration, "nlu: empty API key")
	}
	l := &LLMClassifier{
		key:     memguard.NewEnclave(apiKey),
		model:   defaultLLMModel,
		httpc:   &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewLLMClassifierFromEnv resolves the key from OPENAI_API_KEY, falling
// back to the mounted secret file, and the model from NLU_MODEL.
func NewLLMClassifierFromEnv(opts ...LLMOption) (*LLMClassifier, error) {
	key := []byte(os.Getenv("OPENAI_API_KEY"))
	if len(key) == 0 {
		data, err := os.ReadFile(secretKeyPath)
		if err != nil {
			return nil, faults.New(faults.CodeConfiguration,
				"nlu: OPENAI_API_KEY unset and no secret file mounted")
		}
		key = []byte(strings.TrimSpace(string(data)))
	}
	if model := os.Getenv("NLU_MODEL"); model != "" {
		opts = append([]LLMOption{WithLLMModel(model)}, opts...)
	}
	if base := os.Getenv("NLU_OPENAI_BASE_URL"); base != "" {
		opts = append([]LLMOption{WithLLMBaseURL(base)}, opts...)
	}
	return NewLLMClassifier(key, opts...)
}

// Name implements Classifier.
func (l *LLMClassifier) Name() string { return "llm" }

// llmReply is the JSON contract the model is instructed to follow.
type llmReply struct {
	Candidates []struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	} `json:"candidates"`
	Slots map[string]struct {
		Value      string  `json:"value"`
		RawText    string  `json:"raw_text,omitempty"`
		Confidence float64 `json:"confidence"`
	} `json:"slots,omitempty"`
}

// Classify implements Classifier.
func (l *LLMClassifier) Classify(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	buf, err := l.key.Open()
	if err != nil {
		return nil, faults.Wrap(err, faults.CodeInternal, "nlu: open key enclave")
	}
	defer buf.Destroy()

	cfg := openai.DefaultConfig(buf.String())
	cfg.HTTPClient = l.httpc
	if l.baseURL != "" {
		cfg.BaseURL = l.baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: l.systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Utterance},
		},
	})
	if err != nil {
		return nil, l.classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, faults.New(faults.CodeExternalBadResponse, "nlu: model returned no choices")
	}

	var reply llmReply
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, faults.Wrap(err, faults.CodeExternalBadResponse, "nlu: model reply is not the agreed JSON")
	}
	return l.toResult(reply, req), nil
}

// classifyAPIError maps SDK failures onto the fault taxonomy.
func (l *LLMClassifier) classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(err, faults.CodeExternalTimeout,
			fmt.Sprintf("nlu: model gave no answer within %s", l.timeout))
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return faults.Wrap(err, faults.CodeExternalUnavailable, "nlu: model overloaded")
		case http.StatusUnauthorized, http.StatusForbidden:
			return faults.Wrap(err, faults.CodeConfiguration, "nlu: model rejected credentials")
		}
		return faults.Wrap(err, faults.CodeExternalService, "nlu: model API error")
	}
	return faults.Wrap(err, faults.CodeNetwork, "nlu: model transport failure")
}

// systemPrompt renders the catalog into the classification instruction.
// Examples and slot definitions give the model the same evidence a
// trained classifier would have.
func (l *LLMClassifier) systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You classify a user utterance against a fixed intent catalog and extract slot values.\n")
	b.WriteString("Answer ONLY a JSON object of the form ")
	b.WriteString(`{"candidates":[{"intent":"<name>","confidence":<0..1>}],"slots":{"<slot_name>":{"value":"<surface text>","raw_text":"<utterance span>","confidence":<0..1>}}}`)
	b.WriteString(".\n")
	b.WriteString("Rank candidates by confidence, at most ")
	fmt.Fprintf(&b, "%d", MaxCandidates)
	b.WriteString(". Extract slots only for the top candidate. Keep slot values verbatim from the utterance; do not normalize dates or numbers.\n")
	if req.CurrentIntent != "" {
		fmt.Fprintf(&b, "The conversation is currently filling intent %q; short answers are usually slot values for it.\n", req.CurrentIntent)
	}
	b.WriteString("\nIntent catalog:\n")
	for _, in := range req.Intents {
		fmt.Fprintf(&b, "- %s (%s): %s\n", in.Name, in.DisplayName, in.Description)
		if len(in.Examples) > 0 {
			fmt.Fprintf(&b, "  examples: %s\n", strings.Join(in.Examples, " | "))
		}
		for _, slot := range in.SlotDefs {
			fmt.Fprintf(&b, "  slot %s (%s): %s\n", slot.Name, slot.Type, slot.DisplayName)
		}
	}
	return b.String()
}

// toResult keeps only catalog intents, mirroring the HTTP adapter.
func (l *LLMClassifier) toResult(reply llmReply, req Request) *Result {
	byName := make(map[string]*datatypes.Intent, len(req.Intents))
	for _, in := range req.Intents {
		byName[in.Name] = in
	}

	candidates := make([]datatypes.IntentCandidate, 0, len(reply.Candidates))
	for _, c := range reply.Candidates {
		in, ok := byName[c.Intent]
		if !ok || c.Confidence <= 0 {
			continue
		}
		candidates = append(candidates, datatypes.IntentCandidate{
			IntentName:  in.Name,
			DisplayName: in.DisplayName,
			Description: in.Description,
			Confidence:  clamp01(c.Confidence),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	var slots map[string]Extraction
	if len(reply.Slots) > 0 {
		slots = make(map[string]Extraction, len(reply.Slots))
		for name, s := range reply.Slots {
			if s.Value == "" {
				continue
			}
			slots[name] = Extraction{
				Extracted:  s.Value,
				RawText:    s.RawText,
				Confidence: clamp01(s.Confidence),
			}
		}
	}
	return &Result{Candidates: candidates, Slots: slots, Adapter: l.Name()}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
