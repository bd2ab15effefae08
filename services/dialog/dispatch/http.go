// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// HTTP Executor
// =============================================================================

// maxExecutorResponse bounds how much of a backend reply we buffer.
const maxExecutorResponse = 1 << 20

// HTTPExecutor runs functions against a remote backend. Each function
// maps to POST <base>/<function> with the slot map as the JSON body;
// the backend answers with the Result wire form.
type HTTPExecutor struct {
	base   string
	client *http.Client
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor builds an executor for the backend at base.
func NewHTTPExecutor(base string, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPExecutor{base: strings.TrimRight(base, "/"), client: client}
}

// Execute implements Executor. Business refusals come back as a Result
// with success=false; only transport and protocol problems error.
func (e *HTTPExecutor) Execute(ctx context.Context, function string, slots map[string]string) (*Result, error) {
	body, err := json.Marshal(slots)
	if err != nil {
		return nil, faults.Wrap(err, faults.CodeInternal, "dispatch: encode slots")
	}

	endpoint := e.base + "/" + url.PathEscape(function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(err, faults.CodeInternal, "dispatch: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxExecutorResponse))
	if err != nil {
		return nil, classifyTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, faults.Newf(faults.CodeConfiguration,
			"dispatch: backend has no function %q", function)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		return nil, faults.Newf(faults.CodeExternalUnavailable,
			"dispatch: backend overloaded (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// 4xx business errors are final; never retried.
		return &Result{Success: false, Message: refusalMessage(raw)}, nil
	default:
		return nil, faults.Newf(faults.CodeExternalService,
			"dispatch: backend returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, faults.Wrap(err, faults.CodeExternalBadResponse, "dispatch: decode result")
	}
	return &result, nil
}

// refusalMessage pulls a user-facing message out of a 4xx body when the
// backend sent one.
func refusalMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return "操作未能完成，请检查您提供的信息。"
}

func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return faults.Wrap(err, faults.CodeExternalTimeout, "dispatch: backend deadline exceeded")
	case errors.As(err, &netErr) && netErr.Timeout():
		return faults.Wrap(err, faults.CodeNetworkTimeout, "dispatch: network timeout")
	case errors.Is(err, context.Canceled):
		return faults.Wrap(err, faults.CodeTimeout, "dispatch: call canceled")
	default:
		return faults.Wrap(err, faults.CodeNetwork, "dispatch: transport failure")
	}
}
