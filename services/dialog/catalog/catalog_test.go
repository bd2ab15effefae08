// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
)

func minimalIntent(name string) datatypes.Intent {
	return datatypes.Intent{
		Name:                name,
		DisplayName:         name,
		ConfidenceThreshold: 0.7,
		FunctionName:        name + "_fn",
		SlotDefs: []datatypes.SlotDef{
			{Name: "city", Type: datatypes.SlotTypeText, Required: true},
		},
	}
}

// =============================================================================
// Default Catalog
// =============================================================================

func TestDefaultCatalogPublishes(t *testing.T) {
	m := NewManager(depgraph.NewCache(0), nil)
	snap, err := m.Replace(Default(), "builtin")
	require.NoError(t, err)

	assert.Equal(t, "v1", snap.Version())
	assert.Equal(t, 4, snap.Len())
	assert.Equal(t,
		[]string{"book_flight", "book_movie", "book_train", "check_balance"},
		snap.Names())

	flight, ok := snap.Intent("book_flight")
	require.True(t, ok)
	assert.Equal(t, "flight_booking", flight.FunctionName)
	assert.NotEmpty(t, flight.RequiredSlots())
	assert.NotEmpty(t, flight.CrossRules)
}

func TestDefaultCatalogGraphsBuild(t *testing.T) {
	for _, intent := range Default() {
		in := intent
		t.Run(in.Name, func(t *testing.T) {
			g, err := depgraph.Build(&in)
			require.NoError(t, err)
			assert.Len(t, g.ResolutionOrder(), len(in.SlotDefs))
		})
	}
}

// =============================================================================
// Manager
// =============================================================================

func TestManagerEmptyUntilReplace(t *testing.T) {
	m := NewManager(nil, nil)
	snap := m.Current()
	require.NotNil(t, snap)
	assert.Equal(t, "v0", snap.Version())
	assert.Equal(t, 0, snap.Len())

	_, _, err := m.Intent("book_flight")
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeCatalogInvalid))
}

func TestManagerReplaceKeepsLastGoodOnFailure(t *testing.T) {
	m := NewManager(nil, nil)
	good, err := m.Replace([]datatypes.Intent{minimalIntent("order_food")}, "test")
	require.NoError(t, err)

	// Duplicate names are rejected.
	_, err = m.Replace([]datatypes.Intent{
		minimalIntent("a"), minimalIntent("a"),
	}, "test")
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeCatalogInvalid))
	assert.Same(t, good, m.Current())

	// Cyclic dependencies are rejected.
	cyclic := minimalIntent("cyclic")
	cyclic.SlotDefs = append(cyclic.SlotDefs,
		datatypes.SlotDef{Name: "b", Type: datatypes.SlotTypeText})
	cyclic.Dependencies = []datatypes.DependencyEdge{
		{From: "city", To: "b", Kind: datatypes.EdgeRequired},
		{From: "b", To: "city", Kind: datatypes.EdgeRequired},
	}
	_, err = m.Replace([]datatypes.Intent{cyclic}, "test")
	require.Error(t, err)
	assert.Same(t, good, m.Current())

	// Unknown computed transform is rejected.
	weird := minimalIntent("weird")
	weird.SlotDefs = append(weird.SlotDefs,
		datatypes.SlotDef{Name: "derived", Type: datatypes.SlotTypeText})
	weird.Dependencies = []datatypes.DependencyEdge{
		{From: "city", To: "derived", Kind: datatypes.EdgeComputed, Transform: "nope"},
	}
	_, err = m.Replace([]datatypes.Intent{weird}, "test")
	require.Error(t, err)
	assert.Same(t, good, m.Current())

	// An empty set is rejected.
	_, err = m.Replace(nil, "test")
	require.Error(t, err)
	assert.Same(t, good, m.Current())
}

func TestManagerVersionAdvances(t *testing.T) {
	m := NewManager(nil, nil)
	s1, err := m.Replace([]datatypes.Intent{minimalIntent("a")}, "test")
	require.NoError(t, err)
	s2, err := m.Replace([]datatypes.Intent{minimalIntent("a")}, "test")
	require.NoError(t, err)
	assert.Equal(t, "v1", s1.Version())
	assert.Equal(t, "v2", s2.Version())
}

func TestManagerEvictsRemovedIntents(t *testing.T) {
	graphs := depgraph.NewCache(0)
	m := NewManager(graphs, nil)

	snap, err := m.Replace([]datatypes.Intent{minimalIntent("a"), minimalIntent("b")}, "test")
	require.NoError(t, err)
	a, _ := snap.Intent("a")
	b, _ := snap.Intent("b")
	_, err = graphs.GetOrBuild(context.Background(), a, snap.Version())
	require.NoError(t, err)
	_, err = graphs.GetOrBuild(context.Background(), b, snap.Version())
	require.NoError(t, err)
	require.Equal(t, 2, graphs.Len())

	// b disappears: its graph entries go with it.
	_, err = m.Replace([]datatypes.Intent{minimalIntent("a")}, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, graphs.Len())
}

// =============================================================================
// Loader
// =============================================================================

const sampleYAML = `
intents:
  - name: order_food
    display_name: 外卖下单
    confidence_threshold: 0.7
    function_name: food_order
    examples: ["点外卖", "我要点餐"]
    slots:
      - name: dish
        type: TEXT
        display_name: 菜品
        required: true
        prompt_template: 请问您想吃什么？
      - name: quantity
        type: NUMBER
        validation:
          integer: true
          min: 1
          max: 20
    dependencies:
      - from: dish
        to: quantity
        kind: REQUIRED
`

func TestParseSampleCatalog(t *testing.T) {
	intents, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, intents, 1)

	in := intents[0]
	assert.Equal(t, "order_food", in.Name)
	require.Len(t, in.SlotDefs, 2)
	assert.Equal(t, datatypes.SlotTypeText, in.SlotDefs[0].Type)
	assert.True(t, in.SlotDefs[0].Required)
	require.Len(t, in.Dependencies, 1)
	assert.Equal(t, datatypes.EdgeRequired, in.Dependencies[0].Kind)
	require.NotNil(t, in.SlotDefs[1].Validation.Min)
	assert.Equal(t, 1.0, *in.SlotDefs[1].Validation.Min)

	_, _, err = Validate(intents)
	require.NoError(t, err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("intents:\n  - name: a\n    display_name: a\n    function_name: f\n    bogus_key: 1\n"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeCatalogInvalid))
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse([]byte("intents: []\n"))
	require.Error(t, err)

	_, err = Parse([]byte("not yaml: [unclosed"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	intents, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, intents, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, faults.IsCode(err, faults.CodeCatalogInvalid))
}

// =============================================================================
// Watcher Reload
// =============================================================================

func TestWatcherReloadSwapsAndKeepsLastGood(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	m := NewManager(nil, nil)
	_, err := m.Replace(Default(), "builtin")
	require.NoError(t, err)

	w := NewWatcher(path, m, nil)
	w.reload()
	snap := m.Current()
	assert.Equal(t, "v2", snap.Version())
	_, ok := snap.Intent("order_food")
	assert.True(t, ok)

	// Corrupt file: reload is a no-op.
	require.NoError(t, os.WriteFile(path, []byte("intents: [broken"), 0o644))
	w.reload()
	assert.Same(t, snap, m.Current())
}
