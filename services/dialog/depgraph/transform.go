// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"strings"
	"sync"
)

// =============================================================================
// Transform Registry
// =============================================================================

// TransformFunc derives a COMPUTED slot value from its source value.
type TransformFunc func(src string) (string, error)

var (
	transformMu sync.RWMutex
	transforms  = map[string]TransformFunc{
		// copy mirrors the source value unchanged.
		"copy": func(src string) (string, error) { return src, nil },
		// flag_present marks a boolean slot true whenever the source holds
		// any value (e.g. return_date present -> round trip).
		"flag_present": func(string) (string, error) { return "true", nil },
		// uppercase canonicalizes codes (airport, currency).
		"uppercase": func(src string) (string, error) { return strings.ToUpper(src), nil },
		// year extracts the leading year of an ISO date.
		"year": func(src string) (string, error) {
			if len(src) < 4 {
				return "", nil
			}
			return src[:4], nil
		},
	}
)

// RegisterTransform installs or replaces a named derivation. Intended for
// service wiring before catalogs load; not synchronized with in-flight
// graph evaluation beyond the registry lock.
func RegisterTransform(name string, fn TransformFunc) {
	transformMu.Lock()
	defer transformMu.Unlock()
	transforms[name] = fn
}

// KnownTransform reports whether a derivation name resolves; the catalog
// checks edges against this at registration.
func KnownTransform(name string) bool {
	_, ok := transform(name)
	return ok
}

func transform(name string) (TransformFunc, bool) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	fn, ok := transforms[name]
	return fn, ok
}
