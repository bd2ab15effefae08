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
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Chinese Numerals
// =============================================================================

// cnDigits maps Chinese digit characters to values. 两 is the colloquial
// form of 2 used for counts ("两个人").
var cnDigits = map[rune]int64{
	'零': 0, '〇': 0,
	'一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// cnUnits maps Chinese unit characters to multipliers.
var cnUnits = map[rune]int64{
	'十': 10, '百': 100, '千': 1000, '万': 10000,
}

// ParseChineseNumeral parses a Chinese-numeral string into an integer.
// Both unit style (二十五 = 25, 一百零三 = 103) and positional digit style
// (二零二五 = 2025) are recognized. Returns false for anything else.
func ParseChineseNumeral(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	hasUnit := false
	for _, r := range s {
		if _, ok := cnUnits[r]; ok {
			hasUnit = true
			continue
		}
		if _, ok := cnDigits[r]; !ok {
			return 0, false
		}
	}

	if !hasUnit {
		// Positional style: each rune is one decimal digit.
		var v int64
		for _, r := range s {
			v = v*10 + cnDigits[r]
		}
		return v, true
	}

	// Unit style. 十 with no preceding digit means 1 (十五 = 15).
	var total, section, num int64
	for _, r := range s {
		if d, ok := cnDigits[r]; ok {
			num = d
			continue
		}
		unit := cnUnits[r]
		if unit == 10000 {
			total = (total + section + num) * 10000
			section, num = 0, 0
			continue
		}
		if num == 0 && unit == 10 {
			num = 1
		}
		section += num * unit
		num = 0
	}
	return total + section + num, true
}

// parseIntLoose parses an integer written with either Arabic digits or
// Chinese numerals.
func parseIntLoose(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	return ParseChineseNumeral(s)
}

// =============================================================================
// Relative Dates and Weekdays
// =============================================================================

// relativeDays maps relative day words to day offsets from today.
var relativeDays = map[string]int{
	"今天":  0,
	"今日":  0,
	"明天":  1,
	"明日":  1,
	"后天":  2,
	"大后天": 3,
	"昨天":  -1,
	"昨日":  -1,
}

// cnWeekdays maps the weekday character after 周/星期/礼拜 to time.Weekday.
var cnWeekdays = map[rune]time.Weekday{
	'一': time.Monday,
	'二': time.Tuesday,
	'三': time.Wednesday,
	'四': time.Thursday,
	'五': time.Friday,
	'六': time.Saturday,
	'日': time.Sunday,
	'天': time.Sunday,
}

// parseWeekday recognizes 周X / 星期X / 礼拜X, optionally prefixed with 下
// for next week. Returns the weekday and the extra weeks to add.
func parseWeekday(s string) (time.Weekday, int, bool) {
	weeks := 0
	if strings.HasPrefix(s, "下") {
		weeks = 1
		s = strings.TrimPrefix(s, "下")
	}
	for _, prefix := range []string{"周", "星期", "礼拜"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			runes := []rune(rest)
			if len(runes) != 1 {
				return 0, 0, false
			}
			if wd, ok := cnWeekdays[runes[0]]; ok {
				return wd, weeks, true
			}
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// nextWeekday resolves a weekday reference to the next occurrence on or
// after tomorrow; naming today's weekday means next week.
func nextWeekday(now time.Time, wd time.Weekday, extraWeeks int) time.Time {
	ahead := (int(wd) - int(now.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return now.AddDate(0, 0, ahead+extraWeeks*7)
}
