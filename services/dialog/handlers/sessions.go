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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
)

// SessionView is the wire form of one session: the live dialogue state
// plus the recent-turn ring. Only the owner (or an admin) may read it.
type SessionView struct {
	SessionID     string                        `json:"session_id"`
	UserID        string                        `json:"user_id"`
	State         string                        `json:"state"`
	CurrentIntent string                        `json:"current_intent,omitempty"`
	CreatedAt     time.Time                     `json:"created_at"`
	LastSeenAt    time.Time                     `json:"last_seen_at"`
	TurnCount     int                           `json:"turn_count"`
	Slots         map[string]datatypes.SlotInfo `json:"slots,omitempty"`
	History       []datatypes.Turn              `json:"history,omitempty"`
}

func sessionView(sess *datatypes.Session) SessionView {
	return SessionView{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		State:         string(sess.State),
		CurrentIntent: sess.CurrentIntent,
		CreatedAt:     sess.CreatedAt,
		LastSeenAt:    sess.LastSeenAt,
		TurnCount:     sess.TurnCount,
		Slots:         sess.CollectedSlots.WireSlots(),
		History:       sess.HistoryRing,
	}
}

// canReadSession reports whether the caller owns the session or holds
// the admin role. An unauthenticated request reads nothing.
func canReadSession(c *gin.Context, ownerID string) bool {
	info := middleware.GetAuthInfo(c)
	if info == nil {
		return false
	}
	return info.HasRole("admin") || info.UserID == ownerID
}

// HandleGetSession handles GET /v1/sessions/:sessionId.
func HandleGetSession(mgr *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		sessionID := c.Param("sessionId")

		sess, err := mgr.Snapshot(c.Request.Context(), sessionID)
		if err != nil {
			renderFault(c, err, middleware.RequestLocale(c), started)
			return
		}

		if !canReadSession(c, sess.UserID) {
			renderFault(c, faults.New(faults.CodeForbidden, "session belongs to another user"),
				middleware.RequestLocale(c), started)
			return
		}

		c.JSON(http.StatusOK, sessionView(sess))
	}
}

// HandleDeleteSession handles DELETE /v1/sessions/:sessionId. The session
// is closed and dropped from the live table; the store keeps the closed
// record.
func HandleDeleteSession(mgr *session.Manager, auditor extensions.AuditLogger, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		sessionID := c.Param("sessionId")

		info := middleware.GetAuthInfo(c)
		if info == nil {
			renderFault(c, faults.New(faults.CodeUnauthenticated, "authentication required"),
				middleware.RequestLocale(c), started)
			return
		}

		// Admins close any session; owners only their own. CloseSession
		// enforces ownership when a user id is supplied.
		ownerFilter := info.UserID
		if info.HasRole("admin") {
			ownerFilter = ""
		}

		if err := mgr.CloseSession(c.Request.Context(), sessionID, ownerFilter); err != nil {
			renderFault(c, err, middleware.RequestLocale(c), started)
			return
		}

		logger.Info("handlers.sessions: session closed", "session_id", sessionID)
		_ = auditor.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "session.delete",
			UserID:       info.UserID,
			Action:       "delete",
			ResourceType: "session",
			ResourceID:   sessionID,
			Outcome:      "success",
		})

		c.JSON(http.StatusOK, gin.H{"status": "closed", "session_id": sessionID})
	}
}
