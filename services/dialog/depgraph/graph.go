// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package depgraph builds and evaluates the per-intent slot dependency
// graph.
//
// A graph is built once per intent (and cached, see cache.go). Building
// validates the configuration: a cycle over REQUIRED or HIERARCHICAL edges
// fails with the configuration fault the catalog surfaces at registration.
// At turn time the graph answers three questions: in which order slots
// should be asked for (ResolutionOrder), which missing slots may be asked
// for right now (NextFillable), and whether the collected values satisfy
// every edge (ValidateAll).
package depgraph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

// =============================================================================
// Graph
// =============================================================================

// Graph is the immutable dependency structure of one intent. Safe to share
// across turns; all evaluation methods are read-only.
type Graph struct {
	intent *datatypes.Intent

	// order is the precomputed resolution order over all slot names.
	order []string

	// gates maps a slot to the slots that must hold a value before it may
	// be filled (REQUIRED and HIERARCHICAL in-edges).
	gates map[string][]string

	// defs indexes slot definitions by name.
	defs map[string]*datatypes.SlotDef
}

// Build constructs and checks the graph for an intent. A cycle over
// ordering edges is a configuration fault (E7001).
func Build(intent *datatypes.Intent) (*Graph, error) {
	if intent == nil {
		return nil, faults.New(faults.CodeCatalogInvalid, "depgraph: nil intent")
	}

	g := &Graph{
		intent: intent,
		gates:  make(map[string][]string),
		defs:   make(map[string]*datatypes.SlotDef, len(intent.SlotDefs)),
	}
	for i := range intent.SlotDefs {
		def := &intent.SlotDefs[i]
		g.defs[def.Name] = def
	}

	for _, edge := range intent.Dependencies {
		if edge.Kind.Ordering() {
			g.gates[edge.To] = append(g.gates[edge.To], edge.From)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, faults.Newf(faults.CodeCatalogInvalid,
			"dependency cycle in intent %q: %s", intent.Name, strings.Join(cycle, " -> ")).
			With("intent", intent.Name)
	}

	g.order = g.computeOrder()
	return g, nil
}

// Intent returns the intent this graph was built from.
func (g *Graph) Intent() *datatypes.Intent { return g.intent }

// =============================================================================
// Cycle Detection
// =============================================================================

// findCycle runs a colored DFS over the ordering edges and returns the
// first cycle found as a slot-name path, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.defs))
	parent := make(map[string]string)

	// Deterministic iteration keeps the reported cycle stable.
	names := make([]string, 0, len(g.defs))
	for name := range g.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	// out-edges per node over ordering kinds (from -> to).
	out := make(map[string][]string)
	for _, edge := range g.intent.Dependencies {
		if edge.Kind.Ordering() {
			out[edge.From] = append(out[edge.From], edge.To)
		}
	}
	for _, tos := range out {
		sort.Strings(tos)
	}

	var cycle []string
	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, next := range out[n] {
			switch color[next] {
			case white:
				parent[next] = n
				if visit(next) {
					return true
				}
			case gray:
				// Walk back from n to next to materialize the cycle.
				cycle = []string{next}
				for at := n; at != next; at = parent[at] {
					cycle = append(cycle, at)
				}
				cycle = append(cycle, next)
				// Reverse into from -> to order.
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			}
		}
		color[n] = black
		return false
	}

	for _, name := range names {
		if color[name] == white {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

// =============================================================================
// Resolution Order
// =============================================================================

// computeOrder produces a topological order over the ordering edges with
// the deterministic tie-break: required first, extraction priority desc,
// sort order asc, name asc.
func (g *Graph) computeOrder() []string {
	indeg := make(map[string]int, len(g.defs))
	for name := range g.defs {
		indeg[name] = 0
	}
	for to, froms := range g.gates {
		indeg[to] += len(froms)
	}

	less := func(a, b string) bool {
		da, db := g.defs[a], g.defs[b]
		if da.Required != db.Required {
			return da.Required
		}
		if da.ExtractionPriority != db.ExtractionPriority {
			return da.ExtractionPriority > db.ExtractionPriority
		}
		if da.SortOrder != db.SortOrder {
			return da.SortOrder < db.SortOrder
		}
		return a < b
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}

	out := make(map[string][]string)
	for _, edge := range g.intent.Dependencies {
		if edge.Kind.Ordering() {
			out[edge.From] = append(out[edge.From], edge.To)
		}
	}

	order := make([]string, 0, len(g.defs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, to := range out[next] {
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	return order
}

// ResolutionOrder returns the deterministic fill order over all slots.
func (g *Graph) ResolutionOrder() []string {
	return append([]string(nil), g.order...)
}

// NextFillable returns the missing slots whose every gate is satisfied,
// required slots first, each group in resolution order. Invalid values
// count as missing so the user is re-asked.
func (g *Graph) NextFillable(values datatypes.SlotMap) []string {
	var required, optional []string
	for _, name := range g.order {
		if values.Has(name) {
			continue
		}
		if !g.gatesSatisfied(name, values) {
			continue
		}
		if g.defs[name].Required {
			required = append(required, name)
		} else {
			optional = append(optional, name)
		}
	}
	return append(required, optional...)
}

// gatesSatisfied reports whether every REQUIRED/HIERARCHICAL in-edge of the
// slot holds a usable value.
func (g *Graph) gatesSatisfied(name string, values datatypes.SlotMap) bool {
	for _, from := range g.gates[name] {
		if !values.Has(from) {
			return false
		}
	}
	return true
}

// =============================================================================
// Validation
// =============================================================================

// Unsatisfied is one completeness gap found by ValidateAll.
type Unsatisfied struct {
	// Slot is the missing or gated slot.
	Slot string
	// Kind is the edge kind that demands it ("" for a plain required slot).
	Kind datatypes.EdgeKind
	// Reason is an operator-readable explanation.
	Reason string
}

// Conflict is one violated exclusion or ordering constraint.
type Conflict struct {
	Kind datatypes.EdgeKind
	// Winner/Loser are set for MUTEX conflicts: the engine keeps the
	// winner and moves the loser to partial_slots.
	Winner string
	Loser  string
	// Slot carries the slot a user-facing message should attach to.
	Slot string
	// Message is the user-facing rejection.
	Message string
}

// Report is the outcome of ValidateAll.
type Report struct {
	Unsatisfied []Unsatisfied
	Conflicts   []Conflict
}

// OK reports dispatch readiness: nothing unsatisfied and no conflicts.
func (r *Report) OK() bool {
	return len(r.Unsatisfied) == 0 && len(r.Conflicts) == 0
}

// MissingSlots returns the unsatisfied slot names in resolution order,
// deduplicated.
func (g *Graph) MissingSlots(r *Report) []string {
	want := make(map[string]bool, len(r.Unsatisfied))
	for _, u := range r.Unsatisfied {
		want[u.Slot] = true
	}
	var out []string
	for _, name := range g.order {
		if want[name] {
			out = append(out, name)
			delete(want, name)
		}
	}
	return out
}

// ValidateAll evaluates every edge against the collected values and the
// plain required-slot demands.
func (g *Graph) ValidateAll(values datatypes.SlotMap) *Report {
	r := &Report{}

	// Plain required slots.
	for _, name := range g.order {
		def := g.defs[name]
		if def.Required && !values.Has(name) {
			r.Unsatisfied = append(r.Unsatisfied, Unsatisfied{
				Slot:   name,
				Reason: "required slot has no usable value",
			})
		}
	}

	for _, edge := range g.intent.Dependencies {
		switch edge.Kind {
		case datatypes.EdgeRequired, datatypes.EdgeHierarchical:
			// A filled dependent with an unfilled prerequisite pulls the
			// prerequisite into the demand set.
			if values.Has(edge.To) && !values.Has(edge.From) {
				r.Unsatisfied = append(r.Unsatisfied, Unsatisfied{
					Slot:   edge.From,
					Kind:   edge.Kind,
					Reason: fmt.Sprintf("%s depends on %s", edge.To, edge.From),
				})
			}

		case datatypes.EdgeConditional:
			if g.conditionHolds(edge, values) && !values.Has(edge.To) {
				r.Unsatisfied = append(r.Unsatisfied, Unsatisfied{
					Slot:   edge.To,
					Kind:   edge.Kind,
					Reason: fmt.Sprintf("condition on %s makes %s required", conditionSlot(edge), edge.To),
				})
			}

		case datatypes.EdgeMutex:
			if values.Has(edge.From) && values.Has(edge.To) {
				winner, loser := g.mutexWinner(edge, values)
				r.Conflicts = append(r.Conflicts, Conflict{
					Kind:    datatypes.EdgeMutex,
					Winner:  winner,
					Loser:   loser,
					Slot:    loser,
					Message: fmt.Sprintf("%s和%s不能同时提供", displayName(g.defs[edge.From]), displayName(g.defs[edge.To])),
				})
			}

		case datatypes.EdgeGroupAny:
			if !g.groupCount(edge, values, 1) {
				r.Unsatisfied = append(r.Unsatisfied, Unsatisfied{
					Slot:   edge.Members[0],
					Kind:   datatypes.EdgeGroupAny,
					Reason: fmt.Sprintf("group %s needs at least one of %s", edge.Group, strings.Join(edge.Members, ", ")),
				})
			}

		case datatypes.EdgeGroupAll:
			for _, member := range edge.Members {
				if !values.Has(member) {
					r.Unsatisfied = append(r.Unsatisfied, Unsatisfied{
						Slot:   member,
						Kind:   datatypes.EdgeGroupAll,
						Reason: fmt.Sprintf("group %s needs every member", edge.Group),
					})
				}
			}

		case datatypes.EdgeTemporal:
			from, okF := usable(values, edge.From)
			to, okT := usable(values, edge.To)
			if okF && okT && to <= from {
				r.Conflicts = append(r.Conflicts, Conflict{
					Kind:    datatypes.EdgeTemporal,
					Slot:    edge.To,
					Message: fmt.Sprintf("%s必须晚于%s", displayName(g.defs[edge.To]), displayName(g.defs[edge.From])),
				})
			}
		}
	}

	return r
}

// mutexWinner resolves a MUTEX conflict by confidence; ties keep the From
// side.
func (g *Graph) mutexWinner(edge datatypes.DependencyEdge, values datatypes.SlotMap) (winner, loser string) {
	from, to := values[edge.From], values[edge.To]
	if to != nil && from != nil && to.Confidence > from.Confidence {
		return edge.To, edge.From
	}
	return edge.From, edge.To
}

// conditionHolds evaluates a CONDITIONAL edge's guard over current values.
// A missing condition or inspected value never activates the edge.
func (g *Graph) conditionHolds(edge datatypes.DependencyEdge, values datatypes.SlotMap) bool {
	cond := edge.Condition
	if cond == nil {
		return false
	}
	v, ok := usable(values, conditionSlot(edge))
	switch cond.Type {
	case datatypes.ConditionHasValue:
		return ok
	case datatypes.ConditionValueEquals:
		return ok && v == cond.Value
	case datatypes.ConditionValueIn:
		if !ok {
			return false
		}
		for _, candidate := range cond.Values {
			if v == candidate {
				return true
			}
		}
		return false
	case datatypes.ConditionValueRange:
		if !ok {
			return false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false
		}
		if cond.Min != nil && f < *cond.Min {
			return false
		}
		if cond.Max != nil && f > *cond.Max {
			return false
		}
		return true
	}
	return false
}

func conditionSlot(edge datatypes.DependencyEdge) string {
	if edge.Condition != nil && edge.Condition.Slot != "" {
		return edge.Condition.Slot
	}
	return edge.From
}

// groupCount reports whether at least want members hold usable values.
func (g *Graph) groupCount(edge datatypes.DependencyEdge, values datatypes.SlotMap, want int) bool {
	n := 0
	for _, member := range edge.Members {
		if values.Has(member) {
			n++
			if n >= want {
				return true
			}
		}
	}
	return false
}

func usable(values datatypes.SlotMap, name string) (string, bool) {
	v, ok := values[name]
	if !ok || v == nil || !v.State.Usable() || v.Value() == "" {
		return "", false
	}
	return v.Value(), true
}

func displayName(def *datatypes.SlotDef) string {
	if def == nil {
		return ""
	}
	if def.DisplayName != "" {
		return def.DisplayName
	}
	return def.Name
}

// =============================================================================
// Computed Slots
// =============================================================================

// ApplyComputed synthesizes values for COMPUTED edges whose source is
// usable and whose target is not. Returns the names of slots written.
// Unknown transforms and transform failures skip the edge; derivation
// never invalidates user input.
func (g *Graph) ApplyComputed(values datatypes.SlotMap) []string {
	var written []string
	for _, edge := range g.intent.Dependencies {
		if edge.Kind != datatypes.EdgeComputed {
			continue
		}
		src, ok := usable(values, edge.From)
		if !ok || values.Has(edge.To) {
			continue
		}
		fn, ok := transform(edge.Transform)
		if !ok {
			continue
		}
		derived, err := fn(src)
		if err != nil || derived == "" {
			continue
		}
		values[edge.To] = &datatypes.SlotValue{
			SlotName:   edge.To,
			Extracted:  derived,
			Normalized: derived,
			Source:     datatypes.SourceDefault,
			State:      datatypes.SlotValid,
		}
		written = append(written, edge.To)
	}
	return written
}
