// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slots

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Per-Slot Constraints
// =============================================================================

// patternCache holds compiled validation patterns. Catalogs are small and
// stable, so the cache is unbounded.
var patternCache sync.Map // pattern string -> *regexp.Regexp

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// Validate enforces the slot's constraint spec against a normalized value.
// The returned error is the user-facing rejection.
func (p *Processor) Validate(def *datatypes.SlotDef, normalized string) error {
	spec := def.Validation

	if spec.MinLength > 0 && utf8.RuneCountInString(normalized) < spec.MinLength {
		return fmt.Errorf("长度不能少于%d个字符", spec.MinLength)
	}
	if spec.MaxLength > 0 && utf8.RuneCountInString(normalized) > spec.MaxLength {
		return fmt.Errorf("长度不能超过%d个字符", spec.MaxLength)
	}

	if def.Type == datatypes.SlotTypeNumber {
		f, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			return errNumber
		}
		if spec.Integer && f != float64(int64(f)) {
			return fmt.Errorf("必须是整数")
		}
		if spec.Min != nil && f < *spec.Min {
			return fmt.Errorf("不能小于%s", formatNumber(*spec.Min))
		}
		if spec.Max != nil && f > *spec.Max {
			return fmt.Errorf("不能大于%s", formatNumber(*spec.Max))
		}
	}

	if def.Type == datatypes.SlotTypeDate {
		if err := p.validateDateBounds(spec, normalized); err != nil {
			return err
		}
	}

	if spec.Pattern != "" {
		re, err := compiledPattern(spec.Pattern)
		if err != nil {
			// An uncompilable pattern is a catalog defect; never block the
			// user's value on it.
			return nil
		}
		if !re.MatchString(normalized) {
			if spec.PatternMessage != "" {
				return fmt.Errorf("%s", spec.PatternMessage)
			}
			return fmt.Errorf("格式不正确")
		}
	}

	if len(spec.Options) > 0 && def.Type == datatypes.SlotTypeEnum {
		for _, opt := range spec.Options {
			if normalized == opt {
				return nil
			}
		}
		return fmt.Errorf("请从以下选项中选择：%s", strings.Join(spec.Options, "、"))
	}

	return nil
}

// validateDateBounds enforces min_date/max_date. The token "today" resolves
// in the processor zone; ISO strings compare lexicographically.
func (p *Processor) validateDateBounds(spec datatypes.ValidationSpec, normalized string) error {
	today := p.today().Format(time.DateOnly)

	if spec.MinDate != "" {
		floor := spec.MinDate
		if floor == "today" {
			floor = today
		}
		if normalized < floor {
			if spec.MinDate == "today" {
				return fmt.Errorf("不能选择过去的日期")
			}
			return fmt.Errorf("日期不能早于%s", floor)
		}
	}
	if spec.MaxDate != "" {
		ceil := spec.MaxDate
		if ceil == "today" {
			ceil = today
		}
		if normalized > ceil {
			if spec.MaxDate == "today" {
				return fmt.Errorf("不能选择未来的日期")
			}
			return fmt.Errorf("日期不能晚于%s", ceil)
		}
	}
	return nil
}

// =============================================================================
// Full Table Processing
// =============================================================================

// ProcessAll runs both passes over every pending value in the table, then
// evaluates the intent's cross-slot rules over the usable values. Values
// move to valid or invalid in place; the returned map aggregates the
// user-facing message for every slot left invalid.
//
// changed names the slots written this turn; cross-rule violations attach
// to a changed participant so earlier collected values stay untouched.
func (p *Processor) ProcessAll(intent *datatypes.Intent, table datatypes.SlotMap, changed map[string]bool) map[string]string {
	errs := make(map[string]string)

	for name, value := range table {
		if value == nil {
			continue
		}
		def := intent.Slot(name)
		if def == nil {
			// Extractions for unknown slots are dropped by the engine
			// before this point; tolerate leftovers.
			continue
		}
		if value.State == datatypes.SlotPending {
			p.processValue(def, value)
		}
		if value.State == datatypes.SlotInvalid && value.Error != "" {
			errs[name] = value.Error
		}
	}

	p.applyCrossRules(intent, table, changed, errs)
	return errs
}

// processValue normalizes then validates one pending value in place.
func (p *Processor) processValue(def *datatypes.SlotDef, value *datatypes.SlotValue) {
	raw := value.Extracted
	if raw == "" {
		raw = value.RawText
	}

	if def.IsList {
		values, err := p.NormalizeList(def, raw)
		if err != nil {
			value.State = datatypes.SlotInvalid
			value.Error = err.Error()
			return
		}
		for _, v := range values {
			if err := p.Validate(def, v); err != nil {
				value.State = datatypes.SlotInvalid
				value.Error = err.Error()
				return
			}
		}
		value.Values = values
		value.Normalized = strings.Join(values, ",")
		value.State = datatypes.SlotValid
		value.Error = ""
		return
	}

	norm, err := p.Normalize(def, raw)
	if err != nil {
		value.State = datatypes.SlotInvalid
		value.Error = err.Error()
		return
	}
	if err := p.Validate(def, norm); err != nil {
		value.State = datatypes.SlotInvalid
		value.Error = err.Error()
		return
	}
	value.Normalized = norm
	value.State = datatypes.SlotValid
	value.Error = ""
}

// applyCrossRules evaluates fields_differ and date_order rules over usable
// values, invalidating the offending slot.
func (p *Processor) applyCrossRules(intent *datatypes.Intent, table datatypes.SlotMap, changed map[string]bool, errs map[string]string) {
	for _, rule := range intent.CrossRules {
		switch rule.Kind {
		case datatypes.CrossFieldsDiffer:
			p.checkFieldsDiffer(rule, table, changed, errs)
		case datatypes.CrossDateOrder:
			p.checkDateOrder(rule, table, changed, errs)
		}
	}
}

func (p *Processor) checkFieldsDiffer(rule datatypes.CrossRule, table datatypes.SlotMap, changed map[string]bool, errs map[string]string) {
	seen := make(map[string]string, len(rule.Fields)) // value -> first field
	for _, field := range rule.Fields {
		value, ok := table[field]
		if !ok || value == nil || !value.State.Usable() {
			continue
		}
		v := value.Value()
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			offender := pickOffender(rule.Fields, field, changed)
			msg := rule.Message
			if msg == "" {
				msg = "不能相同"
			}
			invalidate(table, offender, msg, errs)
			return
		}
		seen[v] = field
	}
}

func (p *Processor) checkDateOrder(rule datatypes.CrossRule, table datatypes.SlotMap, changed map[string]bool, errs map[string]string) {
	earlier, ok1 := usableValue(table, rule.Fields[0])
	later, ok2 := usableValue(table, rule.Fields[1])
	if !ok1 || !ok2 {
		return
	}
	// ISO dates order lexicographically.
	if later > earlier {
		return
	}
	offender := pickOffender(rule.Fields, rule.Fields[1], changed)
	msg := rule.Message
	if msg == "" {
		msg = "日期顺序不正确"
	}
	invalidate(table, offender, msg, errs)
}

// pickOffender chooses the slot that carries a cross-rule rejection: a
// changed participant when one exists, else the fallback.
func pickOffender(fields []string, fallback string, changed map[string]bool) string {
	for i := len(fields) - 1; i >= 0; i-- {
		if changed[fields[i]] {
			return fields[i]
		}
	}
	return fallback
}

func usableValue(table datatypes.SlotMap, name string) (string, bool) {
	v, ok := table[name]
	if !ok || v == nil || !v.State.Usable() {
		return "", false
	}
	return v.Value(), true
}

func invalidate(table datatypes.SlotMap, name, msg string, errs map[string]string) {
	if v, ok := table[name]; ok && v != nil {
		v.State = datatypes.SlotInvalid
		v.Error = msg
		v.Normalized = ""
	}
	errs[name] = msg
}
