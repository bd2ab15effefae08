// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package slots normalizes and validates slot values.
//
// Processing is two passes in order: Normalize converts an extracted string
// to the canonical form of its slot type (dates to ISO, Chinese numerals to
// digits, enums to their declared option), then Validate enforces the
// per-slot constraint spec and the intent's cross-slot rules. Normalization
// is idempotent: feeding a canonical form back through produces the same
// canonical form.
//
// Errors returned by this package are user-facing strings in the service's
// primary locale; they land in SlotValue.Error and the turn's
// validation_errors map, never in the fault envelope.
package slots

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config adjusts normalization behavior.
type Config struct {
	// LoosePhone accepts any 7..15 digit PHONE value instead of requiring
	// the canonical 11-digit mainland format. The zero value keeps the
	// mainland canonicalization.
	LoosePhone bool
}

// =============================================================================
// Processor
// =============================================================================

// Processor runs the normalize and validate passes. Relative dates resolve
// against the configured location; the conversation engine derives it from
// the session locale and falls back to UTC.
//
// Thread Safety: safe for concurrent use.
type Processor struct {
	config Config
	loc    *time.Location

	// now is injectable for tests.
	now func() time.Time
}

// NewProcessor creates a processor resolving dates in loc (nil means UTC).
func NewProcessor(loc *time.Location, config Config) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	return &Processor{
		config: config,
		loc:    loc,
		now:    time.Now,
	}
}

// LocationForLocale maps a reply locale to the zone used for relative
// dates. Unknown locales resolve in UTC.
func LocationForLocale(locale string) *time.Location {
	if locale == "zh" {
		if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
			return loc
		}
		return time.FixedZone("CST", 8*3600)
	}
	return time.UTC
}

// today returns the current date truncated to midnight in the processor
// zone.
func (p *Processor) today() time.Time {
	n := p.now().In(p.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, p.loc)
}

// =============================================================================
// Normalize
// =============================================================================

// User-facing rejection strings.
var (
	errNumber = errors.New("请输入有效的数字")
	errDate   = errors.New("日期格式不正确，请使用如 2025-06-01、明天、5月20日 的形式")
	errTime   = errors.New("时间格式不正确，请使用如 14:30、下午3点 的形式")
	errBool   = errors.New("请回答是或否")
	errEmail  = errors.New("邮箱格式不正确")
	errPhone  = errors.New("手机号格式不正确")
)

// Normalize converts raw to the canonical form of the slot's type. The
// returned string is canonical on nil error; on error the caller keeps the
// raw text and marks the value invalid.
func (p *Processor) Normalize(def *datatypes.SlotDef, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	switch def.Type {
	case datatypes.SlotTypeText, datatypes.SlotTypeEntity:
		return collapseWhitespace(raw), nil
	case datatypes.SlotTypeNumber:
		return p.normalizeNumber(def, raw)
	case datatypes.SlotTypeDate:
		return p.normalizeDate(raw)
	case datatypes.SlotTypeTime:
		return normalizeTime(raw)
	case datatypes.SlotTypeEnum:
		return normalizeEnum(def, raw)
	case datatypes.SlotTypeBoolean:
		return normalizeBoolean(raw)
	case datatypes.SlotTypeEmail:
		return normalizeEmail(raw)
	case datatypes.SlotTypePhone:
		return p.normalizePhone(raw)
	}
	return collapseWhitespace(raw), nil
}

// NormalizeList splits a list slot's raw text on the common separators and
// normalizes each element. The canonical form joins elements with ",".
func (p *Processor) NormalizeList(def *datatypes.SlotDef, raw string) ([]string, error) {
	parts := splitList(raw)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm, err := p.Normalize(def, part)
		if err != nil {
			return nil, err
		}
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out, nil
}

// collapseWhitespace trims and folds internal runs of whitespace to one
// space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// listSeparators are the delimiters accepted inside list-slot values.
var listSeparators = regexp.MustCompile(`[,，、;；]|\s+和\s+|和`)

func splitList(raw string) []string {
	parts := listSeparators.Split(raw, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// NUMBER
// -----------------------------------------------------------------------------

// numberJunk strips currency and grouping characters before parsing.
var numberJunk = strings.NewReplacer(",", "", "，", "", " ", "", "¥", "", "￥", "", "$", "", "元", "", "个", "", "张", "", "位", "", "人", "")

func (p *Processor) normalizeNumber(_ *datatypes.SlotDef, raw string) (string, error) {
	cleaned := numberJunk.Replace(raw)

	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return formatNumber(f), nil
	}
	if v, ok := ParseChineseNumeral(cleaned); ok {
		return strconv.FormatInt(v, 10), nil
	}
	return "", errNumber
}

// formatNumber renders a float canonically: integers without a decimal
// point, everything else with the shortest exact form.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// -----------------------------------------------------------------------------
// DATE
// -----------------------------------------------------------------------------

var (
	reISODate    = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	reSlashDate  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reMonthDash  = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})$`)
	reCNDate     = regexp.MustCompile(`^([0-9一二三四五六七八九十两]+)月([0-9一二三四五六七八九十两]+)[日号]?$`)
	reCNDateYear = regexp.MustCompile(`^(\d{4})年([0-9一二三四五六七八九十两]+)月([0-9一二三四五六七八九十两]+)[日号]?$`)
)

func (p *Processor) normalizeDate(raw string) (string, error) {
	// Canonical and near-canonical ISO forms.
	if m := reISODate.FindStringSubmatch(raw); m != nil {
		return buildDate(m[1], m[2], m[3])
	}

	// Relative day words.
	if days, ok := relativeDays[raw]; ok {
		return p.today().AddDate(0, 0, days).Format(time.DateOnly), nil
	}

	// Weekday references resolve to the next occurrence.
	if wd, weeks, ok := parseWeekday(raw); ok {
		return nextWeekday(p.today(), wd, weeks).Format(time.DateOnly), nil
	}

	// MM/DD/YYYY.
	if m := reSlashDate.FindStringSubmatch(raw); m != nil {
		return buildDate(m[3], m[1], m[2])
	}

	// MM-DD in the current year.
	if m := reMonthDash.FindStringSubmatch(raw); m != nil {
		return buildDate(strconv.Itoa(p.today().Year()), m[1], m[2])
	}

	// 2025年5月20日.
	if m := reCNDateYear.FindStringSubmatch(raw); m != nil {
		month, okM := parseIntLoose(m[2])
		day, okD := parseIntLoose(m[3])
		if okM && okD {
			return buildDate(m[1], strconv.FormatInt(month, 10), strconv.FormatInt(day, 10))
		}
		return "", errDate
	}

	// 5月20日 / 五月二十日 in the current year.
	if m := reCNDate.FindStringSubmatch(raw); m != nil {
		month, okM := parseIntLoose(m[1])
		day, okD := parseIntLoose(m[2])
		if okM && okD {
			return buildDate(strconv.Itoa(p.today().Year()), strconv.FormatInt(month, 10), strconv.FormatInt(day, 10))
		}
	}

	return "", errDate
}

// buildDate assembles and checks an ISO date from string components.
func buildDate(year, month, day string) (string, error) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return "", errDate
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", errDate
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflow like February 30th.
	if t.Year() != y || t.Month() != time.Month(m) || t.Day() != d {
		return "", errDate
	}
	return t.Format(time.DateOnly), nil
}

// -----------------------------------------------------------------------------
// TIME
// -----------------------------------------------------------------------------

var (
	reClock  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reCNTime = regexp.MustCompile(`^(上午|早上|中午|下午|晚上)?([0-9一二三四五六七八九十两]+)点(半|[0-9一二三四五六七八九十两]+分?)?$`)
)

// pmPrefixes shift hours into the afternoon.
var pmPrefixes = map[string]bool{"下午": true, "晚上": true, "中午": true}

func normalizeTime(raw string) (string, error) {
	if m := reClock.FindStringSubmatch(raw); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h > 23 || min > 59 {
			return "", errTime
		}
		return fmt.Sprintf("%02d:%02d", h, min), nil
	}

	if m := reCNTime.FindStringSubmatch(raw); m != nil {
		hour, ok := parseIntLoose(m[2])
		if !ok || hour > 23 {
			return "", errTime
		}
		minute := int64(0)
		switch {
		case m[3] == "半":
			minute = 30
		case m[3] != "":
			v, ok := parseIntLoose(strings.TrimSuffix(m[3], "分"))
			if !ok || v > 59 {
				return "", errTime
			}
			minute = v
		}
		if pmPrefixes[m[1]] && hour < 12 {
			hour += 12
		}
		if m[1] == "上午" || m[1] == "早上" {
			hour = hour % 12
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), nil
	}

	return "", errTime
}

// -----------------------------------------------------------------------------
// ENUM
// -----------------------------------------------------------------------------

// normalizeEnum resolves raw against the declared options: exact match,
// then case-insensitive, then substring containment either way. The
// first-option fallback applies only to optional slots; required slots
// keep the raw value and fail.
func normalizeEnum(def *datatypes.SlotDef, raw string) (string, error) {
	options := def.Validation.Options

	for _, opt := range options {
		if raw == opt {
			return opt, nil
		}
	}
	for _, opt := range options {
		if strings.EqualFold(raw, opt) {
			return opt, nil
		}
	}
	for _, opt := range options {
		if strings.Contains(opt, raw) || strings.Contains(raw, opt) {
			return opt, nil
		}
	}
	if !def.Required && len(options) > 0 {
		return options[0], nil
	}
	return "", fmt.Errorf("请从以下选项中选择：%s", strings.Join(options, "、"))
}

// -----------------------------------------------------------------------------
// BOOLEAN
// -----------------------------------------------------------------------------

// boolWords is the accepted truthy/falsy vocabulary.
var boolWords = map[string]string{
	"true": "true", "1": "true", "yes": "true", "是": "true", "好": "true",
	"false": "false", "0": "false", "no": "false", "否": "false", "不要": "false",
}

func normalizeBoolean(raw string) (string, error) {
	if v, ok := boolWords[strings.ToLower(raw)]; ok {
		return v, nil
	}
	return "", errBool
}

// -----------------------------------------------------------------------------
// EMAIL / PHONE
// -----------------------------------------------------------------------------

func normalizeEmail(raw string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if !strfmt.IsEmail(lowered) {
		return "", errEmail
	}
	return lowered, nil
}

var phoneJunk = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "")

func (p *Processor) normalizePhone(raw string) (string, error) {
	digits := phoneJunk.Replace(raw)
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", errPhone
		}
	}
	// Strip a leading country code for mainland numbers.
	if strings.HasPrefix(digits, "86") && len(digits) == 13 {
		digits = digits[2:]
	}
	if p.config.LoosePhone {
		if len(digits) < 7 || len(digits) > 15 {
			return "", errPhone
		}
		return digits, nil
	}
	if len(digits) != 11 || digits[0] != '1' {
		return "", errPhone
	}
	return digits, nil
}
