// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/conversation"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
)

// ChatDeps carries the chat pipeline's collaborators. Filter, Classifier,
// and Auditor must be non-nil; pass the fields of a normalized
// ServiceOptions.
type ChatDeps struct {
	Engine     *conversation.Engine
	Filter     extensions.MessageFilter
	Classifier extensions.DataClassifier
	Auditor    extensions.AuditLogger
	Logger     *slog.Logger
}

// HandleChat handles POST /v1/chat: one dialogue turn per request.
func HandleChat(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		ctx, span := tracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			deps.Logger.Warn("handlers.chat: malformed request body", "error", err)
			renderFault(c, faults.Wrap(err, faults.CodeValidation, "invalid request body"),
				"zh", started)
			return
		}
		req.EnsureDefaults()

		data, err := runTurn(ctx, deps, middleware.RequestIDFrom(c), &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			renderFault(c, err, req.Locale(), started)
			return
		}

		c.JSON(http.StatusOK, datatypes.NewChatResponse(middleware.RequestIDFrom(c), data))
	}
}

// runTurn is the transport-independent turn pipeline shared by the HTTP
// and websocket handlers: classification gate, input filter, engine,
// output filter. Audit events carry identifiers and lengths, never the
// utterance or slot values.
func runTurn(ctx context.Context, deps ChatDeps, requestID string, req *datatypes.ChatRequest) (*datatypes.ChatData, error) {
	if res, err := deps.Classifier.Classify(ctx, req.Input); err != nil {
		// A broken classifier must not take chat down; the filter and
		// the engine's own validation still stand.
		deps.Logger.Warn("handlers.chat: classifier failed, continuing", "error", err)
	} else if res != nil && res.HighestLevel == extensions.ClassificationSecret {
		_ = deps.Auditor.Log(ctx, extensions.AuditEvent{
			EventType:    "dialog.blocked",
			UserID:       req.UserID,
			Action:       "chat",
			ResourceType: "session",
			ResourceID:   req.SessionID,
			Outcome:      "blocked",
			Metadata: extensions.Metadata{
				"classification": string(res.HighestLevel),
				"findings":       len(res.Findings),
				"input_runes":    utf8.RuneCountInString(req.Input),
			},
		})
		return nil, faults.New(faults.CodeForbidden, "input classified as secret material").
			With("classification", string(res.HighestLevel))
	}

	if fr, err := deps.Filter.FilterInput(ctx, req.Input); err != nil {
		deps.Logger.Warn("handlers.chat: input filter failed, continuing", "error", err)
	} else if fr != nil {
		if fr.WasBlocked {
			_ = deps.Auditor.Log(ctx, extensions.AuditEvent{
				EventType:    "dialog.blocked",
				UserID:       req.UserID,
				Action:       "chat",
				ResourceType: "session",
				ResourceID:   req.SessionID,
				Outcome:      "blocked",
				Metadata: extensions.Metadata{
					"reason":      fr.BlockReason,
					"input_runes": utf8.RuneCountInString(req.Input),
				},
			})
			return nil, faults.New(faults.CodeForbidden, "input blocked by message filter").
				With("reason", fr.BlockReason)
		}
		if fr.WasModified {
			req.Input = fr.Filtered
		}
	}

	data, err := deps.Engine.Process(ctx, requestID, req)
	if err != nil {
		return nil, err
	}

	if fr, err := deps.Filter.FilterOutput(ctx, data.Response); err != nil {
		deps.Logger.Warn("handlers.chat: output filter failed, reply unfiltered", "error", err)
	} else if fr != nil && fr.WasModified {
		data.Response = fr.Filtered
	}

	return data, nil
}
