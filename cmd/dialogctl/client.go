// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// serviceClient talks to a running dialog service over HTTP.
//
// Every request carries the DIALOG_API_TOKEN bearer token when one is
// set; the default deployment accepts unauthenticated local calls.
type serviceClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newServiceClient builds a client for the resolved service URL.
func newServiceClient() *serviceClient {
	return &serviceClient{
		baseURL: strings.TrimRight(serviceURL, "/"),
		token:   os.Getenv("DIALOG_API_TOKEN"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// do sends one request and decodes the response into out. Non-2xx
// responses are turned into errors carrying the service's error
// envelope when one is present.
func (c *serviceClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach the dialog service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return serviceError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// serviceError extracts the error envelope from a failed response.
func serviceError(status int, raw []byte) error {
	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Code        string `json:"code"`
			Remediation string `json:"remediation"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		msg := envelope.Message
		if envelope.Error.Remediation != "" {
			msg += " (" + envelope.Error.Remediation + ")"
		}
		return fmt.Errorf("service returned %d: %s: %s", status, envelope.Error.Code, msg)
	}
	return fmt.Errorf("service returned %d: %s", status, strings.TrimSpace(string(raw)))
}

// Chat sends one conversation turn.
func (c *serviceClient) Chat(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}
	var resp datatypes.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat", bytes.NewReader(payload), "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// healthPayload mirrors the service /health response.
type healthPayload struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
	Metrics      struct {
		LiveSessions   int    `json:"live_sessions"`
		CatalogVersion string `json:"catalog_version"`
		CatalogIntents int    `json:"catalog_intents"`
	} `json:"metrics"`
}

// Health fetches the service health report. A degraded or down report
// arrives as data, not as an error; only transport failures error out.
func (c *serviceClient) Health(ctx context.Context) (*HealthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the dialog service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	// /health answers 200 when healthy and 503 when any dependency is
	// down, with the same body shape either way.
	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &HealthResult{
		Status:       payload.Status,
		Version:      payload.Version,
		Uptime:       payload.Uptime,
		Dependencies: payload.Dependencies,
		LiveSessions: payload.Metrics.LiveSessions,
		CatalogV:     payload.Metrics.CatalogVersion,
		Intents:      payload.Metrics.CatalogIntents,
	}, nil
}

// Session fetches one session's state as raw JSON for display.
func (c *serviceClient) Session(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, "", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// CloseSession closes one session.
func (c *serviceClient) CloseSession(ctx context.Context, sessionID string) (*SessionCloseResult, error) {
	var result SessionCloseResult
	if err := c.do(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Intents lists the active catalog.
func (c *serviceClient) Intents(ctx context.Context) (*CatalogShowResult, error) {
	var result CatalogShowResult
	if err := c.do(ctx, http.MethodGet, "/v1/admin/intents", nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReloadCatalog asks the service to reload its catalog. An empty
// source lets the service pick its configured default.
func (c *serviceClient) ReloadCatalog(ctx context.Context, source string) (*ReloadResult, error) {
	var body io.Reader
	if source != "" {
		payload, err := json.Marshal(map[string]string{"source": source})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}
	var result ReloadResult
	if err := c.do(ctx, http.MethodPost, "/v1/admin/catalog/reload", body, "application/json", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateCatalog submits a candidate catalog YAML for validation
// without activating it.
func (c *serviceClient) ValidateCatalog(ctx context.Context, catalogYAML []byte) (*ValidateResult, error) {
	var result ValidateResult
	if err := c.do(ctx, http.MethodPost, "/v1/admin/catalog/validate",
		bytes.NewReader(catalogYAML), "application/yaml", &result); err != nil {
		return nil, err
	}
	return &result, nil
}
