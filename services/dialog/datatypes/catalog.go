// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures of the dialog service.
//
// This file contains the intent catalog configuration types: intents, slot
// definitions, dependency edges, and inheritance rules. The catalog is
// read-only at request time; the catalog package loads, validates, and
// publishes immutable snapshots of these types.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Slot Types
// =============================================================================

// SlotType is the declared value type of a slot definition.
type SlotType string

const (
	SlotTypeText    SlotType = "TEXT"
	SlotTypeNumber  SlotType = "NUMBER"
	SlotTypeDate    SlotType = "DATE"
	SlotTypeTime    SlotType = "TIME"
	SlotTypeEmail   SlotType = "EMAIL"
	SlotTypePhone   SlotType = "PHONE"
	SlotTypeEntity  SlotType = "ENTITY"
	SlotTypeBoolean SlotType = "BOOLEAN"
	SlotTypeEnum    SlotType = "ENUM"
)

// Valid reports whether the slot type is one of the nine declared kinds.
func (t SlotType) Valid() bool {
	switch t {
	case SlotTypeText, SlotTypeNumber, SlotTypeDate, SlotTypeTime,
		SlotTypeEmail, SlotTypePhone, SlotTypeEntity, SlotTypeBoolean, SlotTypeEnum:
		return true
	}
	return false
}

// Strict reports whether the type has a rigid surface format. Strict types
// get a lower failed-attempt ceiling before the session enters recovery.
func (t SlotType) Strict() bool {
	switch t {
	case SlotTypeEmail, SlotTypePhone, SlotTypeDate, SlotTypeTime:
		return true
	}
	return false
}

// =============================================================================
// Validation Spec
// =============================================================================

// ValidationSpec holds the per-slot validation knobs from the catalog.
// Zero values mean "not constrained".
type ValidationSpec struct {
	MinLength int      `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength int      `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	// Integer restricts NUMBER slots to whole values (counts).
	Integer bool   `yaml:"integer,omitempty" json:"integer,omitempty"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// PatternMessage is the user-facing error when Pattern fails.
	PatternMessage string   `yaml:"pattern_message,omitempty" json:"pattern_message,omitempty"`
	Options        []string `yaml:"options,omitempty" json:"options,omitempty"`
	// MinDate / MaxDate accept ISO dates or the token "today".
	MinDate string `yaml:"min_date,omitempty" json:"min_date,omitempty"`
	MaxDate string `yaml:"max_date,omitempty" json:"max_date,omitempty"`
}

// =============================================================================
// Slot Definition
// =============================================================================

// SlotDef is the typed parameter template of an intent.
//
// # Fields
//
//   - Name: unique within the intent, the wire key for values.
//   - Type: one of the nine slot types.
//   - Required: completion blocks until a required slot is valid.
//   - IsList: the slot accumulates multiple values; enables merge
//     inheritance.
//   - Validation: optional constraint set.
//   - Examples: sample user phrasings; also feed the NLU keyword fallback.
//   - PromptTemplate: preferred question text, expanded against context
//     variables like {user_name} or {options}.
//   - SortOrder: stable ordering among slots of equal priority.
//   - ExtractionPriority: higher values are asked for and extracted first.
type SlotDef struct {
	Name               string         `yaml:"name" json:"name" validate:"required,min=1,max=64"`
	Type               SlotType       `yaml:"type" json:"type" validate:"required"`
	DisplayName        string         `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Required           bool           `yaml:"required" json:"required"`
	IsList             bool           `yaml:"is_list,omitempty" json:"is_list,omitempty"`
	Validation         ValidationSpec `yaml:"validation,omitempty" json:"validation,omitempty"`
	Examples           []string       `yaml:"examples,omitempty" json:"examples,omitempty"`
	PromptTemplate     string         `yaml:"prompt_template,omitempty" json:"prompt_template,omitempty"`
	SortOrder          int            `yaml:"sort_order,omitempty" json:"sort_order,omitempty"`
	ExtractionPriority int            `yaml:"extraction_priority,omitempty" json:"extraction_priority,omitempty"`
}

// =============================================================================
// Dependency Edges
// =============================================================================

// EdgeKind is the relation kind between two slots of one intent.
type EdgeKind string

const (
	// EdgeRequired gates To until From has a value.
	EdgeRequired EdgeKind = "REQUIRED"
	// EdgeConditional makes To required only while Condition holds.
	EdgeConditional EdgeKind = "CONDITIONAL"
	// EdgeMutex forbids From and To from both being set.
	EdgeMutex EdgeKind = "MUTEX"
	// EdgeHierarchical is a REQUIRED chain with meaningful order.
	EdgeHierarchical EdgeKind = "HIERARCHICAL"
	// EdgeGroupAny requires at least one member of the group.
	EdgeGroupAny EdgeKind = "GROUP_ANY"
	// EdgeGroupAll requires every member of the group.
	EdgeGroupAll EdgeKind = "GROUP_ALL"
	// EdgeTemporal orders To chronologically after From.
	EdgeTemporal EdgeKind = "TEMPORAL"
	// EdgeComputed derives To from From through a named transform.
	EdgeComputed EdgeKind = "COMPUTED"
)

// Valid reports whether the edge kind is declared.
func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeRequired, EdgeConditional, EdgeMutex, EdgeHierarchical,
		EdgeGroupAny, EdgeGroupAll, EdgeTemporal, EdgeComputed:
		return true
	}
	return false
}

// Ordering reports whether the kind participates in cycle detection and
// topological ordering.
func (k EdgeKind) Ordering() bool {
	return k == EdgeRequired || k == EdgeHierarchical
}

// ConditionType selects how an edge condition evaluates current values.
type ConditionType string

const (
	ConditionValueEquals ConditionType = "value_equals"
	ConditionValueIn     ConditionType = "value_in"
	ConditionValueRange  ConditionType = "value_range"
	ConditionHasValue    ConditionType = "has_value"
)

// EdgeCondition guards CONDITIONAL edges. Slot names the inspected slot
// (defaults to the edge's From).
type EdgeCondition struct {
	Type   ConditionType `yaml:"type" json:"type"`
	Slot   string        `yaml:"slot,omitempty" json:"slot,omitempty"`
	Value  string        `yaml:"value,omitempty" json:"value,omitempty"`
	Values []string      `yaml:"values,omitempty" json:"values,omitempty"`
	Min    *float64      `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64      `yaml:"max,omitempty" json:"max,omitempty"`
}

// DependencyEdge is one configured relation between two slots.
//
// For GROUP_ANY / GROUP_ALL edges, Group names the constraint group and
// Members lists the slots; From/To are unused. COMPUTED edges name the
// derivation in Transform.
type DependencyEdge struct {
	From      string         `yaml:"from,omitempty" json:"from,omitempty"`
	To        string         `yaml:"to,omitempty" json:"to,omitempty"`
	Kind      EdgeKind       `yaml:"kind" json:"kind" validate:"required"`
	Condition *EdgeCondition `yaml:"condition,omitempty" json:"condition,omitempty"`
	Priority  int            `yaml:"priority,omitempty" json:"priority,omitempty"`
	Group     string         `yaml:"group,omitempty" json:"group,omitempty"`
	Members   []string       `yaml:"members,omitempty" json:"members,omitempty"`
	Transform string         `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// =============================================================================
// Inheritance Rules
// =============================================================================

// InheritanceSource names where an inherited value may come from.
type InheritanceSource string

const (
	InheritFromSession      InheritanceSource = "session"
	InheritFromConversation InheritanceSource = "conversation"
	InheritFromUserProfile  InheritanceSource = "user_profile"
	InheritFromDefault      InheritanceSource = "default"
)

// Valid reports whether the source is declared.
func (s InheritanceSource) Valid() bool {
	switch s {
	case InheritFromSession, InheritFromConversation, InheritFromUserProfile, InheritFromDefault:
		return true
	}
	return false
}

// InheritanceStrategy resolves an inherited candidate against an extracted
// value for the same slot.
type InheritanceStrategy string

const (
	// StrategySupplement uses the inherited value only when nothing was
	// extracted this turn.
	StrategySupplement InheritanceStrategy = "supplement"
	// StrategyOverwrite prefers the inherited value. Rare; strong
	// user-profile defaults.
	StrategyOverwrite InheritanceStrategy = "overwrite"
	// StrategyMerge concatenates and de-duplicates. List slots only.
	StrategyMerge InheritanceStrategy = "merge"
)

// Valid reports whether the strategy is declared.
func (s InheritanceStrategy) Valid() bool {
	return s == StrategySupplement || s == StrategyOverwrite || s == StrategyMerge
}

// RuleCondition guards an inheritance rule.
type RuleCondition struct {
	// TargetEmpty requires the target slot to have no extracted value.
	TargetEmpty bool `yaml:"target_empty,omitempty" json:"target_empty,omitempty"`
	// SourceEquals requires the source value to equal this string.
	SourceEquals string `yaml:"source_equals,omitempty" json:"source_equals,omitempty"`
	// SourcePattern requires the source value to match this regexp.
	SourcePattern string `yaml:"source_pattern,omitempty" json:"source_pattern,omitempty"`
}

// InheritanceRule declares one carry-over of context into a slot.
type InheritanceRule struct {
	SourceSlot string              `yaml:"source_slot,omitempty" json:"source_slot,omitempty"`
	TargetSlot string              `yaml:"target_slot" json:"target_slot" validate:"required"`
	Source     InheritanceSource   `yaml:"source" json:"source" validate:"required"`
	Strategy   InheritanceStrategy `yaml:"strategy" json:"strategy" validate:"required"`
	Condition  *RuleCondition      `yaml:"condition,omitempty" json:"condition,omitempty"`
	// Transform names a pure function from the transform registry applied
	// before assignment.
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`
	Priority  int    `yaml:"priority,omitempty" json:"priority,omitempty"`
	// Default feeds source=default rules.
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
}

// =============================================================================
// Cross-Slot Rules
// =============================================================================

// CrossRuleKind selects a cross-slot consistency check.
type CrossRuleKind string

const (
	// CrossFieldsDiffer requires all named fields to hold distinct values.
	CrossFieldsDiffer CrossRuleKind = "fields_differ"
	// CrossDateOrder requires Fields[1] to be a later date than Fields[0].
	CrossDateOrder CrossRuleKind = "date_order"
)

// Valid reports whether the kind is declared.
func (k CrossRuleKind) Valid() bool {
	return k == CrossFieldsDiffer || k == CrossDateOrder
}

// CrossRule is one configured consistency check across two or more slots of
// an intent. The validator evaluates rules only over usable values; Message
// is the user-facing rejection attached to the offending slot.
type CrossRule struct {
	Kind    CrossRuleKind `yaml:"kind" json:"kind" validate:"required"`
	Fields  []string      `yaml:"fields" json:"fields" validate:"required,min=2"`
	Message string        `yaml:"message,omitempty" json:"message,omitempty"`
}

// =============================================================================
// Intent
// =============================================================================

// Intent is one dispatchable user goal from the catalog.
//
// Intents are immutable within a request. The catalog package owns their
// lifecycle and replaces the whole set atomically on reload.
type Intent struct {
	Name                string            `yaml:"name" json:"name" validate:"required,min=1,max=64"`
	DisplayName         string            `yaml:"display_name" json:"display_name" validate:"required"`
	Description         string            `yaml:"description,omitempty" json:"description,omitempty"`
	ConfidenceThreshold float64           `yaml:"confidence_threshold" json:"confidence_threshold" validate:"gte=0,lte=1"`
	SlotDefs            []SlotDef         `yaml:"slots,omitempty" json:"slots,omitempty" validate:"dive"`
	Dependencies        []DependencyEdge  `yaml:"dependencies,omitempty" json:"dependencies,omitempty" validate:"dive"`
	InheritanceRules    []InheritanceRule `yaml:"inheritance,omitempty" json:"inheritance,omitempty" validate:"dive"`
	CrossRules          []CrossRule       `yaml:"cross_rules,omitempty" json:"cross_rules,omitempty" validate:"dive"`
	FunctionName        string            `yaml:"function_name" json:"function_name" validate:"required"`
	// Examples feed the NLU keyword fallback and disambiguation hints.
	Examples []string `yaml:"examples,omitempty" json:"examples,omitempty"`
	// ResultTemplate renders the dispatch result when the executor returns
	// no message, e.g. "已为您预订 {order_id}".
	ResultTemplate string `yaml:"result_template,omitempty" json:"result_template,omitempty"`
}

// Slot returns the definition of the named slot, or nil.
func (i *Intent) Slot(name string) *SlotDef {
	for idx := range i.SlotDefs {
		if i.SlotDefs[idx].Name == name {
			return &i.SlotDefs[idx]
		}
	}
	return nil
}

// RequiredSlots returns the names of required slots in definition order.
func (i *Intent) RequiredSlots() []string {
	var out []string
	for _, def := range i.SlotDefs {
		if def.Required {
			out = append(out, def.Name)
		}
	}
	return out
}

// =============================================================================
// Structural Validation
// =============================================================================

// catalogValidate is the validator instance for catalog datatypes.
var catalogValidate = validator.New()

// ValidateIntent checks one intent's structural rules: tag-level constraints,
// declared enums, unique slot names, and edge/rule references to existing
// slots. Cycle detection is the dependency graph's job and runs at
// registration.
func ValidateIntent(intent *Intent) error {
	if intent == nil {
		return fmt.Errorf("intent is nil")
	}
	if err := catalogValidate.Struct(intent); err != nil {
		return fmt.Errorf("intent %q: %w", intent.Name, err)
	}

	seen := make(map[string]bool, len(intent.SlotDefs))
	for _, def := range intent.SlotDefs {
		if !def.Type.Valid() {
			return fmt.Errorf("intent %q: slot %q has unknown type %q", intent.Name, def.Name, def.Type)
		}
		if seen[def.Name] {
			return fmt.Errorf("intent %q: duplicate slot %q", intent.Name, def.Name)
		}
		seen[def.Name] = true
		if def.Type == SlotTypeEnum && len(def.Validation.Options) == 0 {
			return fmt.Errorf("intent %q: enum slot %q has no options", intent.Name, def.Name)
		}
	}

	for _, edge := range intent.Dependencies {
		if !edge.Kind.Valid() {
			return fmt.Errorf("intent %q: unknown edge kind %q", intent.Name, edge.Kind)
		}
		switch edge.Kind {
		case EdgeGroupAny, EdgeGroupAll:
			if len(edge.Members) < 1 {
				return fmt.Errorf("intent %q: %s edge needs members", intent.Name, edge.Kind)
			}
			for _, m := range edge.Members {
				if !seen[m] {
					return fmt.Errorf("intent %q: group member %q is not a slot", intent.Name, m)
				}
			}
		default:
			if !seen[edge.From] {
				return fmt.Errorf("intent %q: edge from %q is not a slot", intent.Name, edge.From)
			}
			if !seen[edge.To] {
				return fmt.Errorf("intent %q: edge to %q is not a slot", intent.Name, edge.To)
			}
			if edge.From == edge.To {
				return fmt.Errorf("intent %q: edge %s loops on %q", intent.Name, edge.Kind, edge.From)
			}
		}
		if edge.Kind == EdgeConditional && edge.Condition == nil {
			return fmt.Errorf("intent %q: conditional edge %s->%s has no condition", intent.Name, edge.From, edge.To)
		}
		if edge.Kind == EdgeComputed && edge.Transform == "" {
			return fmt.Errorf("intent %q: computed edge %s->%s names no transform", intent.Name, edge.From, edge.To)
		}
	}

	for _, rule := range intent.CrossRules {
		if !rule.Kind.Valid() {
			return fmt.Errorf("intent %q: unknown cross rule kind %q", intent.Name, rule.Kind)
		}
		for _, f := range rule.Fields {
			if !seen[f] {
				return fmt.Errorf("intent %q: cross rule field %q is not a slot", intent.Name, f)
			}
		}
		if rule.Kind == CrossDateOrder && len(rule.Fields) != 2 {
			return fmt.Errorf("intent %q: date_order rule needs exactly two fields", intent.Name)
		}
	}

	for _, rule := range intent.InheritanceRules {
		if !rule.Source.Valid() {
			return fmt.Errorf("intent %q: rule for %q has unknown source %q", intent.Name, rule.TargetSlot, rule.Source)
		}
		if !rule.Strategy.Valid() {
			return fmt.Errorf("intent %q: rule for %q has unknown strategy %q", intent.Name, rule.TargetSlot, rule.Strategy)
		}
		target := intent.Slot(rule.TargetSlot)
		if target == nil {
			return fmt.Errorf("intent %q: rule targets unknown slot %q", intent.Name, rule.TargetSlot)
		}
		if rule.Strategy == StrategyMerge && !target.IsList {
			return fmt.Errorf("intent %q: merge rule targets non-list slot %q", intent.Name, rule.TargetSlot)
		}
		if rule.Source == InheritFromDefault && rule.Default == "" {
			return fmt.Errorf("intent %q: default rule for %q has no default value", intent.Name, rule.TargetSlot)
		}
	}
	return nil
}
