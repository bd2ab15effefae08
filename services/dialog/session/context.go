// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// =============================================================================
// User Context Overlay
// =============================================================================

// Overlay merges the inbound per-request context on top of the user's
// persisted fragment, stores the merged result under its own TTL, and
// returns it for use during the turn. Inbound fields win; absent inbound
// fields keep their stored values. A nil inbound context just loads the
// stored fragment.
func (m *Manager) Overlay(ctx context.Context, userID string, inbound *datatypes.UserContext) (*datatypes.UserContext, error) {
	if userID == "" {
		if inbound == nil {
			return &datatypes.UserContext{}, nil
		}
		return inbound, nil
	}

	merged := m.storedContext(ctx, userID)
	mergeContext(merged, inbound)

	if inbound != nil {
		raw, err := json.Marshal(merged)
		if err == nil {
			if err := m.cache.Set(ctx, storage.UserContextKey(userID), raw, m.cfg.ContextTTL); err != nil {
				m.logger.Warn("session.context: overlay write failed",
					"error", err)
			}
		}
	}
	return merged, nil
}

// ClearOverlay drops the persisted fragment, e.g. when a client signs out.
func (m *Manager) ClearOverlay(ctx context.Context, userID string) error {
	return m.cache.Del(ctx, storage.UserContextKey(userID))
}

func (m *Manager) storedContext(ctx context.Context, userID string) *datatypes.UserContext {
	out := &datatypes.UserContext{}
	raw, err := m.cache.Get(ctx, storage.UserContextKey(userID))
	if err != nil {
		return out
	}
	if err := json.Unmarshal(raw, out); err != nil {
		m.logger.Warn("session.context: dropping corrupt overlay fragment",
			"error", err)
		_ = m.cache.Del(ctx, storage.UserContextKey(userID))
		return &datatypes.UserContext{}
	}
	return out
}

// mergeContext folds src into dst field by field, src winning where set.
// Map-valued fields merge per key rather than wholesale, so a request
// carrying only a location update does not wipe stored preferences.
func mergeContext(dst, src *datatypes.UserContext) {
	if src == nil {
		return
	}
	if src.DeviceInfo != nil {
		dst.DeviceInfo = src.DeviceInfo
	}
	if src.ClientSystemID != "" {
		dst.ClientSystemID = src.ClientSystemID
	}
	if src.RequestTraceID != "" {
		dst.RequestTraceID = src.RequestTraceID
	}
	if len(src.Location) > 0 {
		if dst.Location == nil {
			dst.Location = make(map[string]string, len(src.Location))
		}
		for k, v := range src.Location {
			dst.Location[k] = v
		}
	}
	if len(src.BusinessContext) > 0 {
		if dst.BusinessContext == nil {
			dst.BusinessContext = make(map[string]any, len(src.BusinessContext))
		}
		for k, v := range src.BusinessContext {
			dst.BusinessContext[k] = v
		}
	}
	if len(src.TempPreferences) > 0 {
		if dst.TempPreferences == nil {
			dst.TempPreferences = make(map[string]any, len(src.TempPreferences))
		}
		for k, v := range src.TempPreferences {
			dst.TempPreferences[k] = v
		}
	}
}
