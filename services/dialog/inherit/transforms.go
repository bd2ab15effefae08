// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inherit

import (
	"fmt"
	"strings"
)

// TransformFunc reshapes a source value before it lands in the target
// slot. Pure; any error skips the rule without touching the slot table.
type TransformFunc func(value string) (string, error)

// builtinTransforms are always registered. Engines may add more with
// RegisterTransform before serving traffic.
func builtinTransforms() map[string]TransformFunc {
	return map[string]TransformFunc{
		"trim":            transformTrim,
		"title_case":      transformTitleCase,
		"city_suffix":     transformCitySuffix,
		"phone_canonical": transformPhoneCanonical,
	}
}

func transformTrim(value string) (string, error) {
	return strings.TrimSpace(value), nil
}

// transformTitleCase uppercases the first letter of each ASCII word.
// Latin-script profile fields only; CJK text passes through unchanged.
func transformTitleCase(value string) (string, error) {
	words := strings.Fields(value)
	for i, w := range words {
		if w[0] >= 'a' && w[0] <= 'z' {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " "), nil
}

// transformCitySuffix strips the administrative suffix from a city name:
// 北京市 becomes 北京, matching how cities are collected from utterances.
func transformCitySuffix(value string) (string, error) {
	for _, suffix := range []string{"市", "特别行政区"} {
		if trimmed, ok := strings.CutSuffix(value, suffix); ok && trimmed != "" {
			return trimmed, nil
		}
	}
	return value, nil
}

// transformPhoneCanonical reduces a stored phone to bare digits, dropping
// a mainland country prefix. Validation of the result stays with the slot
// processor.
func transformPhoneCanonical(value string) (string, error) {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	out := digits.String()
	if len(out) == 13 && strings.HasPrefix(out, "86") {
		out = out[2:]
	}
	if out == "" {
		return "", fmt.Errorf("no digits in phone value")
	}
	return out, nil
}
