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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a silent peer stays connected.
	wsPongWait = 60 * time.Second

	// wsPingEvery must be under wsPongWait so pongs arrive in time.
	wsPingEvery = (wsPongWait * 9) / 10

	// wsTurnBudget is the processing deadline for one websocket turn.
	wsTurnBudget = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, deps ChatDeps, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := ws.WriteJSON(v)
	if err != nil {
		deps.Logger.Warn("handlers.websocket: write failed", "error", err)
	}
	return err
}

// HandleChatWebSocket handles GET /v1/chat/ws. Each inbound frame is one
// ChatRequest; each outbound frame is the same envelope POST /v1/chat
// returns. The connection remembers the session id of the last committed
// turn, so clients may omit session_id after the first message.
func HandleChatWebSocket(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Error("handlers.websocket: upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		if m := observability.Default; m != nil {
			m.WebsocketConnections.Inc()
			defer m.WebsocketConnections.Dec()
		}
		deps.Logger.Info("handlers.websocket: client connected")

		if err := sendJSON(ws, deps, map[string]any{
			"action":   "connected",
			"protocol": "dialog.chat.v1",
		}); err != nil {
			return
		}

		stop := make(chan struct{})
		defer close(stop)
		go pingLoop(ws, stop)

		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		// Session id of the connection's dialogue thread, learned from
		// the first committed turn.
		sessionID := ""

		for {
			var req datatypes.ChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				deps.Logger.Info("handlers.websocket: client disconnected", "error", err.Error())
				break
			}
			_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

			req.EnsureDefaults()
			if req.SessionID == "" {
				req.SessionID = sessionID
			}

			started := time.Now()
			requestID := datatypes.NewRequestID()
			turnCtx, cancel := context.WithTimeout(c.Request.Context(), wsTurnBudget)
			data, err := runTurn(turnCtx, deps, requestID, &req)
			cancel()

			if err != nil {
				fe := faults.From(err)
				if sendJSON(ws, deps, datatypes.NewErrorResponse(
					requestID, fe, req.Locale(), time.Since(started))) != nil {
					break
				}
				continue
			}

			sessionID = data.SessionID
			if sendJSON(ws, deps, datatypes.NewChatResponse(requestID, data)) != nil {
				break
			}
		}
	}
}

// pingLoop keeps the connection alive until stop closes or a ping write
// fails. WriteControl is safe concurrently with WriteJSON.
func pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
