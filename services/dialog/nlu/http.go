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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// HTTP Adapter
// =============================================================================

// maxResponseBytes bounds how much of an NLU reply we will buffer.
const maxResponseBytes = 1 << 20

// HTTPClassifier calls a dedicated NLU service over HTTP. The wire
// contract is a single POST: the service receives the utterance with
// catalog context and answers ranked candidates plus extractions.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

var _ Classifier = (*HTTPClassifier)(nil)

// HTTPOption customizes the classifier.
type HTTPOption func(*HTTPClassifier)

// WithHTTPClient swaps the underlying client, mainly for tests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClassifier) { h.client = c }
}

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClassifier) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHTTPClassifier builds an adapter for the service at endpoint.
func NewHTTPClassifier(endpoint string, opts ...HTTPOption) *HTTPClassifier {
	h := &HTTPClassifier{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Classifier.
func (h *HTTPClassifier) Name() string { return "http" }

// classifyRequest is the POST body. Only intent names travel over the
// wire; the service holds its own copy of the catalog and the version
// lets it detect drift.
type classifyRequest struct {
	Utterance      string   `json:"utterance"`
	Locale         string   `json:"locale,omitempty"`
	CurrentIntent  string   `json:"current_intent,omitempty"`
	CatalogVersion string   `json:"catalog_version,omitempty"`
	Intents        []string `json:"intents"`
}

type classifyResponse struct {
	Candidates []struct {
		IntentName string  `json:"intent_name"`
		Confidence float64 `json:"confidence"`
	} `json:"candidates"`
	Slots map[string]Extraction `json:"slots,omitempty"`
}

// Classify implements Classifier. Timeouts surface as E5002, transport
// failures as E8000, service errors as E5000/E5003, and unparseable
// replies as E5001, so the resilience layer can tell retryable from
// hopeless.
func (h *HTTPClassifier) Classify(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(req.Intents))
	for _, in := range req.Intents {
		names = append(names, in.Name)
	}
	body, err := json.Marshal(classifyRequest{
		Utterance:      req.Utterance,
		Locale:         req.Locale,
		CurrentIntent:  req.CurrentIntent,
		CatalogVersion: req.CatalogVersion,
		Intents:        names,
	})
	if err != nil {
		return nil, faults.Wrap(err, faults.CodeInternal, "nlu: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(err, faults.CodeInternal, "nlu: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, h.classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, h.classifyTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		return nil, faults.Newf(faults.CodeExternalUnavailable,
			"nlu: service overloaded (status %d)", resp.StatusCode)
	default:
		return nil, faults.Newf(faults.CodeExternalService,
			"nlu: service returned status %d", resp.StatusCode)
	}

	var parsed classifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, faults.Wrap(err, faults.CodeExternalBadResponse, "nlu: decode response")
	}
	return h.toResult(parsed, req), nil
}

// classifyTransportError separates timeout from connectivity failures.
func (h *HTTPClassifier) classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return faults.Wrap(err, faults.CodeExternalTimeout,
			fmt.Sprintf("nlu: no answer within %s", h.timeout))
	case errors.As(err, &netErr) && netErr.Timeout():
		return faults.Wrap(err, faults.CodeNetworkTimeout, "nlu: network timeout")
	case errors.Is(err, context.Canceled):
		return faults.Wrap(err, faults.CodeTimeout, "nlu: call canceled")
	default:
		return faults.Wrap(err, faults.CodeNetwork, "nlu: transport failure")
	}
}

// toResult filters the reply down to catalog intents and decorates the
// candidates with display metadata the service does not carry.
func (h *HTTPClassifier) toResult(parsed classifyResponse, req Request) *Result {
	byName := make(map[string]*datatypes.Intent, len(req.Intents))
	for _, in := range req.Intents {
		byName[in.Name] = in
	}

	candidates := make([]datatypes.IntentCandidate, 0, len(parsed.Candidates))
	for _, c := range parsed.Candidates {
		in, ok := byName[c.IntentName]
		if !ok || c.Confidence <= 0 {
			continue
		}
		candidates = append(candidates, datatypes.IntentCandidate{
			IntentName:  in.Name,
			DisplayName: in.DisplayName,
			Description: in.Description,
			Confidence:  c.Confidence,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return &Result{Candidates: candidates, Slots: parsed.Slots, Adapter: h.Name()}
}
