// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

// =============================================================================
// Metadata Type
// =============================================================================

// Metadata is a typed key-value store for extension data.
//
// It lets enterprise implementations attach provider-specific claims to
// AuthInfo and AuditEvent without changing the core structs, while the
// typed accessors keep call sites free of repeated type assertions.
//
// Example:
//
//	md := NewMetadata().
//	    Set("department", "support").
//	    Set("mfa_verified", true)
//
//	dept, ok := md.GetString("department")
//	mfa, ok := md.GetBool("mfa_verified")
//
// Metadata is not safe for concurrent mutation; build it before sharing.
type Metadata map[string]any

// NewMetadata creates an empty Metadata map ready for fluent Set calls.
func NewMetadata() Metadata {
	return make(Metadata)
}

// Set stores a value and returns the map for chaining.
func (m Metadata) Set(key string, value any) Metadata {
	m[key] = value
	return m
}

// Get returns the raw value and whether the key exists.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// GetString returns the value as a string. The second return is false
// when the key is absent or holds a different type.
func (m Metadata) GetString(key string) (string, bool) {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// GetInt returns the value as an int, converting from the numeric
// types JSON decoding produces.
func (m Metadata) GetInt(key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// GetFloat64 returns the value as a float64.
func (m Metadata) GetFloat64(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// GetBool returns the value as a bool.
func (m Metadata) GetBool(key string) (bool, bool) {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

// GetStringSlice returns the value as a []string, converting from
// []any when every element is a string (the shape JSON decoding
// produces).
func (m Metadata) GetStringSlice(key string) ([]string, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// Has reports whether the key exists.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Delete removes a key and returns the map for chaining.
func (m Metadata) Delete(key string) Metadata {
	delete(m, key)
	return m
}

// Clone returns a shallow copy. Mutating the copy's top-level keys does
// not affect the original; nested reference values are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a new Metadata combining m and other; keys in other win
// on conflict. Neither input is modified.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	if out == nil {
		out = make(Metadata, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Keys returns the key set in unspecified order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries.
func (m Metadata) Len() int {
	return len(m)
}
