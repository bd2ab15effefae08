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

import (
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Alert Rules
// =============================================================================

// AlertRule fires when errors of a category exceed Threshold within Window.
// After firing, the rule stays silent for Cooldown to suppress floods.
type AlertRule struct {
	// Name identifies the rule in logs and notifications.
	Name string

	// Category restricts which errors count. Empty matches every category.
	Category Category

	// Threshold is the error count within Window that triggers the rule.
	Threshold int

	// Window is the counting period.
	Window time.Duration

	// Cooldown is the minimum gap between two firings of this rule.
	Cooldown time.Duration
}

// DefaultAlertRules covers the failure modes operators page on.
func DefaultAlertRules() []AlertRule {
	return []AlertRule{
		{Name: "external_error_burst", Category: CategoryExternal, Threshold: 10, Window: time.Minute, Cooldown: 5 * time.Minute},
		{Name: "storage_error_burst", Category: CategoryStorage, Threshold: 5, Window: time.Minute, Cooldown: 5 * time.Minute},
		{Name: "internal_error_burst", Category: CategoryGeneric, Threshold: 5, Window: time.Minute, Cooldown: 5 * time.Minute},
	}
}

// =============================================================================
// Alert Manager
// =============================================================================

// ruleWindow tracks one rule's rolling count.
type ruleWindow struct {
	start     time.Time
	count     int
	lastFired time.Time
}

// AlertManager watches the error stream and raises cooldown-gated alerts.
// Notification is pluggable; the default writes a structured warning log.
//
// Thread Safety: safe for concurrent use.
type AlertManager struct {
	rules  []AlertRule
	notify func(rule AlertRule, count int)
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*ruleWindow
}

// NewAlertManager builds a manager over the given rules. A nil notify
// installs the slog default.
func NewAlertManager(rules []AlertRule, notify func(rule AlertRule, count int)) *AlertManager {
	if notify == nil {
		notify = func(rule AlertRule, count int) {
			slog.Warn("faults.alerts: threshold exceeded",
				"rule", rule.Name,
				"category", string(rule.Category),
				"count", count,
				"window", rule.Window.String(),
			)
		}
	}
	windows := make(map[string]*ruleWindow, len(rules))
	for _, r := range rules {
		windows[r.Name] = &ruleWindow{}
	}
	return &AlertManager{
		rules:   rules,
		notify:  notify,
		now:     time.Now,
		windows: windows,
	}
}

// Record feeds one classified failure into every matching rule.
func (m *AlertManager) Record(code Code) {
	category := code.Category()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rule := range m.rules {
		if rule.Category != "" && rule.Category != category {
			continue
		}
		w := m.windows[rule.Name]
		if w == nil {
			continue
		}
		if w.count == 0 || now.Sub(w.start) > rule.Window {
			w.start = now
			w.count = 0
		}
		w.count++
		if w.count < rule.Threshold {
			continue
		}
		if !w.lastFired.IsZero() && now.Sub(w.lastFired) < rule.Cooldown {
			continue
		}
		w.lastFired = now
		fired := w.count
		w.count = 0
		m.notify(rule, fired)
	}
}
