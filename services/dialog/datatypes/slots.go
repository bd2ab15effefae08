// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Slot Value States and Sources
// =============================================================================

// SlotSource records where a slot value came from.
type SlotSource string

const (
	SourceUserInput SlotSource = "user_input"
	SourceInherited SlotSource = "inherited"
	SourceDefault   SlotSource = "default"
	SourceSuggested SlotSource = "suggested"
)

// SlotState is the validation lifecycle of a slot value.
type SlotState string

const (
	// SlotPending holds extracted values the validator has not yet passed.
	SlotPending SlotState = "pending"
	// SlotValid marks a normalized, constraint-satisfying value.
	SlotValid SlotState = "valid"
	// SlotInvalid marks a value rejected by normalization or validation;
	// Error carries the user-facing reason.
	SlotInvalid SlotState = "invalid"
	// SlotCorrected marks a valid value that replaced an earlier one after
	// a user correction.
	SlotCorrected SlotState = "corrected"
)

// Usable reports whether the value may feed dependency evaluation and
// dispatch.
func (s SlotState) Usable() bool {
	return s == SlotValid || s == SlotCorrected
}

// =============================================================================
// Slot Value
// =============================================================================

// SlotValue is one filled parameter of the current intent.
//
// RawText is the user's words, Extracted is the NLU's string, Normalized is
// the canonical form the validator produced. Normalized being set implies
// the value passed validation; an invalid value keeps Normalized empty and
// carries Error.
type SlotValue struct {
	SlotName   string     `json:"slot_name"`
	RawText    string     `json:"raw_text,omitempty"`
	Extracted  string     `json:"extracted,omitempty"`
	Normalized string     `json:"normalized,omitempty"`
	// Values holds the members of a list slot after normalization.
	Values     []string   `json:"values,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Source     SlotSource `json:"source"`
	State      SlotState  `json:"state"`
	Error      string     `json:"error,omitempty"`
	Confirmed  bool       `json:"confirmed,omitempty"`
}

// Value returns the best available string form: normalized when present,
// else the extracted text.
func (v *SlotValue) Value() string {
	if v.Normalized != "" {
		return v.Normalized
	}
	return v.Extracted
}

// Clone returns a deep copy.
func (v *SlotValue) Clone() *SlotValue {
	if v == nil {
		return nil
	}
	out := *v
	if v.Values != nil {
		out.Values = append([]string(nil), v.Values...)
	}
	return &out
}

// =============================================================================
// Slot Map
// =============================================================================

// SlotMap is the session's slot table, keyed by slot name. Values are owned
// by the session; persisted turns receive copies.
type SlotMap map[string]*SlotValue

// Clone returns a deep copy of the table.
func (m SlotMap) Clone() SlotMap {
	if m == nil {
		return nil
	}
	out := make(SlotMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Usable returns the names of slots whose state allows dispatch.
func (m SlotMap) Usable() map[string]string {
	out := make(map[string]string, len(m))
	for name, v := range m {
		if v != nil && v.State.Usable() {
			out[name] = v.Value()
		}
	}
	return out
}

// Has reports whether the named slot holds a usable value.
func (m SlotMap) Has(name string) bool {
	v, ok := m[name]
	return ok && v != nil && v.State.Usable() && v.Value() != ""
}

// =============================================================================
// Wire Form
// =============================================================================

// SlotInfo is the wire rendering of a slot value inside the chat envelope.
// Field names are a compatibility contract with existing clients; do not
// rename them.
type SlotInfo struct {
	Value           string   `json:"value"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Source          string   `json:"source"`
	OriginalText    string   `json:"original_text,omitempty"`
	IsValidated     bool     `json:"is_validated"`
	ValidationError string   `json:"validation_error,omitempty"`
}

// WireSlots renders a slot table for the envelope.
func (m SlotMap) WireSlots() map[string]SlotInfo {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]SlotInfo, len(m))
	for name, v := range m {
		if v == nil {
			continue
		}
		info := SlotInfo{
			Value:           v.Value(),
			Source:          string(v.Source),
			OriginalText:    v.RawText,
			IsValidated:     v.State.Usable(),
			ValidationError: v.Error,
		}
		if v.Confidence > 0 {
			c := v.Confidence
			info.Confidence = &c
		}
		out[name] = info
	}
	return out
}
