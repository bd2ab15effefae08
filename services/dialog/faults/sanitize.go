// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package faults

import "strings"

// =============================================================================
// Context Sanitization
// =============================================================================

// redactedPlaceholder replaces values whose keys match the denylist.
const redactedPlaceholder = "[REDACTED]"

// maxDetailStringLen caps string values in the envelope so oversized
// payload fragments never round-trip to clients.
const maxDetailStringLen = 256

// denylist contains key substrings whose values must never be serialized.
// Matching is case-insensitive substring containment.
var denylist = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"cookie",
	"private_key",
}

// SanitizeContext returns a copy of ctx safe for the wire: denylisted keys
// are redacted, nested maps are sanitized recursively, and long strings are
// truncated. A nil input yields nil so empty details stay omitted.
func SanitizeContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if deniedKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func deniedKey(key string) bool {
	lower := strings.ToLower(key)
	for _, banned := range denylist {
		if strings.Contains(lower, banned) {
			return true
		}
	}
	return false
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		if len(val) > maxDetailStringLen {
			return val[:maxDetailStringLen] + "..."
		}
		return val
	case map[string]any:
		return SanitizeContext(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case error:
		// Raw error chains carry internals. Only the classified form passes.
		return redactedPlaceholder
	default:
		return val
	}
}
