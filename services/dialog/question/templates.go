// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package question

import (
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Template Library
// =============================================================================

// template is one phrasing pattern. Placeholders: {slot} display name,
// {options} joined option list, {value} current value, {error} the
// validation message, {examples} joined slot examples.
type template struct {
	text string
	kind Kind
}

// typeTemplates is the library keyed by slot type. Every type carries a
// DIRECT phrasing; the remaining kinds fall back to the generic set
// below when a type has no specialized wording.
var typeTemplates = map[datatypes.SlotType][]template{
	datatypes.SlotTypeText: {
		{text: "请问{slot}是什么？", kind: KindDirect},
		{text: "好的。那{slot}呢？", kind: KindFollowUp},
	},
	datatypes.SlotTypeDate: {
		{text: "请问{slot}是哪一天？", kind: KindDirect},
		{text: "那{slot}定在哪天？", kind: KindFollowUp},
	},
	datatypes.SlotTypeTime: {
		{text: "请问{slot}是几点？", kind: KindDirect},
	},
	datatypes.SlotTypeNumber: {
		{text: "请问{slot}是多少？", kind: KindDirect},
	},
	datatypes.SlotTypePhone: {
		{text: "请提供您的{slot}。", kind: KindDirect},
	},
	datatypes.SlotTypeEmail: {
		{text: "请提供您的{slot}。", kind: KindDirect},
	},
	datatypes.SlotTypeEnum: {
		{text: "请问您要哪种{slot}？", kind: KindDirect},
		{text: "{slot}有以下选择：{options}。您选哪个？", kind: KindChoice},
	},
	datatypes.SlotTypeBoolean: {
		{text: "请问需要{slot}吗？", kind: KindDirect},
	},
	datatypes.SlotTypeEntity: {
		{text: "请问{slot}是哪个？", kind: KindDirect},
	},
}

// genericTemplates apply to every slot type.
var genericTemplates = []template{
	{text: "{slot}填写为{value}，对吗？", kind: KindConfirmation},
	{text: "抱歉，{error}。请重新提供{slot}。", kind: KindClarification},
	{text: "您提供的{slot}有点问题：{error}。能换个说法吗？", kind: KindClarification},
	{text: "不确定的话，可以参考：{examples}。请问{slot}是？", kind: KindSuggestion},
	{text: "如果需要指定{slot}，请告诉我。", kind: KindConditional},
}

// templatesFor collects the applicable phrasings for one slot and kind.
func templatesFor(slotType datatypes.SlotType, kind Kind) []template {
	var out []template
	for _, t := range typeTemplates[slotType] {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	for _, t := range genericTemplates {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// vars is the placeholder substitution set for one expansion.
type vars struct {
	slot     string
	options  []string
	value    string
	errMsg   string
	examples []string
}

// expand substitutes placeholders. Unknown placeholders survive
// verbatim so a bad catalog template degrades visibly, not silently.
func expand(text string, v vars) string {
	r := strings.NewReplacer(
		"{slot}", v.slot,
		"{options}", joinEnum(v.options),
		"{value}", v.value,
		"{error}", v.errMsg,
		"{examples}", joinEnum(v.examples),
	)
	return r.Replace(text)
}

// joinEnum renders a short Chinese-style enumeration: A、B或C.
func joinEnum(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], "、") + "或" + items[len(items)-1]
}

// applyStyle adapts a finished question to the register.
func applyStyle(text string, style Style, v vars) string {
	switch style {
	case StyleConcise:
		text = strings.TrimPrefix(text, "请问")
		text = strings.TrimPrefix(text, "好的。")
	case StyleDetailed:
		if len(v.examples) > 0 && !strings.Contains(text, joinEnum(v.examples)) {
			text += "（例如：" + joinEnum(v.examples) + "）"
		}
	}
	return text
}
