// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// =============================================================================
// Profile providers
// =============================================================================

// CacheProfiles reads user profiles from the shared cache, where an
// upstream profile service (or the admin API) deposits them as JSON
// string maps. An absent profile is not an error; inheritance simply has
// nothing to draw from.
type CacheProfiles struct {
	cache  storage.Cache
	logger *slog.Logger
}

// NewCacheProfiles builds a provider over the given cache.
func NewCacheProfiles(cache storage.Cache, logger *slog.Logger) *CacheProfiles {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheProfiles{cache: cache, logger: logger}
}

var _ ProfileProvider = (*CacheProfiles)(nil)

// Fetch returns the stored profile map, or nil when none exists. A
// corrupt entry is dropped rather than poisoning every later turn.
func (p *CacheProfiles) Fetch(ctx context.Context, userID string) (map[string]string, error) {
	if userID == "" {
		return nil, nil
	}
	raw, err := p.cache.Get(ctx, storage.UserProfileKey(userID))
	if err != nil {
		if errors.Is(err, storage.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	var profile map[string]string
	if err := json.Unmarshal(raw, &profile); err != nil {
		p.logger.Warn("conversation.profiles: dropping corrupt profile entry",
			"user_id", userID, "error", err)
		_ = p.cache.Del(ctx, storage.UserProfileKey(userID))
		return nil, nil
	}
	return profile, nil
}

// NopProfiles is the disabled provider: every user is a stranger.
type NopProfiles struct{}

var _ ProfileProvider = NopProfiles{}

// Fetch always returns no profile.
func (NopProfiles) Fetch(context.Context, string) (map[string]string, error) {
	return nil, nil
}
