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
	"fmt"
	"strings"
)

// =============================================================================
// Result Templates
// =============================================================================

// RenderTemplate expands {placeholder} markers against the slot values
// first, then the executor's data payload. Data wins on key collision:
// the backend knows the final state better than the request did. An
// unresolvable placeholder stays verbatim so a catalog typo is visible
// in review instead of silently vanishing.
func RenderTemplate(tmpl string, slots map[string]string, data map[string]any) string {
	if tmpl == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(tmpl))

	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			b.WriteString(tmpl)
			break
		}
		close := strings.IndexByte(tmpl[open:], '}')
		if close < 0 {
			b.WriteString(tmpl)
			break
		}
		close += open

		b.WriteString(tmpl[:open])
		key := tmpl[open+1 : close]
		if value, ok := lookup(key, slots, data); ok {
			b.WriteString(value)
		} else {
			b.WriteString(tmpl[open : close+1])
		}
		tmpl = tmpl[close+1:]
	}
	return b.String()
}

func lookup(key string, slots map[string]string, data map[string]any) (string, bool) {
	if v, ok := data[key]; ok {
		return stringify(v), true
	}
	if v, ok := slots[key]; ok {
		return v, true
	}
	return "", false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing ".00".
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%.2f", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
