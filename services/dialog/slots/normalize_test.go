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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// testNow is a fixed Wednesday for deterministic relative dates.
var testNow = time.Date(2025, 6, 4, 10, 30, 0, 0, time.UTC)

func newTestProcessor() *Processor {
	p := NewProcessor(time.UTC, Config{})
	p.now = func() time.Time { return testNow }
	return p
}

func slotDef(name string, typ datatypes.SlotType) *datatypes.SlotDef {
	return &datatypes.SlotDef{Name: name, Type: typ}
}

func TestParseChineseNumeral(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"一", 1},
		{"两", 2},
		{"九", 9},
		{"十", 10},
		{"十五", 15},
		{"二十", 20},
		{"二十五", 25},
		{"一百", 100},
		{"一百零三", 103},
		{"三千", 3000},
		{"一万", 10000},
		{"二零二五", 2025},
	}
	for _, tc := range cases {
		got, ok := ParseChineseNumeral(tc.in)
		require.True(t, ok, "parse %q", tc.in)
		assert.Equal(t, tc.want, got, "parse %q", tc.in)
	}

	_, ok := ParseChineseNumeral("abc")
	assert.False(t, ok)
	_, ok = ParseChineseNumeral("")
	assert.False(t, ok)
}

func TestNormalizeNumber(t *testing.T) {
	p := newTestProcessor()
	def := slotDef("passenger_count", datatypes.SlotTypeNumber)

	cases := []struct {
		in   string
		want string
	}{
		{"3", "3"},
		{"3.5", "3.5"},
		{"1,200", "1200"},
		{"三", "3"},
		{"两", "2"},
		{"十", "10"},
		{"两个", "2"},
		{"3人", "3"},
	}
	for _, tc := range cases {
		got, err := p.Normalize(def, tc.in)
		require.NoError(t, err, "normalize %q", tc.in)
		assert.Equal(t, tc.want, got, "normalize %q", tc.in)
	}

	_, err := p.Normalize(def, "不是数字")
	assert.Error(t, err)
}

func TestNormalizeDate(t *testing.T) {
	p := newTestProcessor()
	def := slotDef("departure_date", datatypes.SlotTypeDate)

	cases := []struct {
		in   string
		want string
	}{
		{"2025-06-10", "2025-06-10"},
		{"2025-6-1", "2025-06-01"},
		{"今天", "2025-06-04"},
		{"明天", "2025-06-05"},
		{"后天", "2025-06-06"},
		{"大后天", "2025-06-07"},
		{"昨天", "2025-06-03"},
		{"周五", "2025-06-06"},  // next Friday after Wednesday
		{"星期一", "2025-06-09"}, // next Monday
		{"周三", "2025-06-11"},  // today's weekday means next week
		{"下周五", "2025-06-13"},
		{"6月20日", "2025-06-20"},
		{"六月二十日", "2025-06-20"},
		{"5月20号", "2025-05-20"},
		{"2026年1月3日", "2026-01-03"},
		{"06/15/2025", "2025-06-15"},
		{"07-01", "2025-07-01"},
	}
	for _, tc := range cases {
		got, err := p.Normalize(def, tc.in)
		require.NoError(t, err, "normalize %q", tc.in)
		assert.Equal(t, tc.want, got, "normalize %q", tc.in)
	}

	for _, bad := range []string{"13月1日", "2月30日", "someday", "2025-13-01"} {
		_, err := p.Normalize(def, bad)
		assert.Error(t, err, "expected rejection for %q", bad)
	}
}

func TestNormalizeTime(t *testing.T) {
	p := newTestProcessor()
	def := slotDef("departure_time", datatypes.SlotTypeTime)

	cases := []struct {
		in   string
		want string
	}{
		{"14:30", "14:30"},
		{"9:05", "09:05"},
		{"3点", "03:00"},
		{"15点", "15:00"},
		{"3点20分", "03:20"},
		{"三点半", "03:30"},
		{"下午3点", "15:00"},
		{"下午三点半", "15:30"},
		{"晚上8点", "20:00"},
		{"中午12点", "12:00"},
		{"上午9点", "09:00"},
	}
	for _, tc := range cases {
		got, err := p.Normalize(def, tc.in)
		require.NoError(t, err, "normalize %q", tc.in)
		assert.Equal(t, tc.want, got, "normalize %q", tc.in)
	}

	for _, bad := range []string{"25:00", "12:72", "点"} {
		_, err := p.Normalize(def, bad)
		assert.Error(t, err, "expected rejection for %q", bad)
	}
}

func TestNormalizeEnum(t *testing.T) {
	p := newTestProcessor()
	def := &datatypes.SlotDef{
		Name:     "seat_class",
		Type:     datatypes.SlotTypeEnum,
		Required: true,
		Validation: datatypes.ValidationSpec{
			Options: []string{"经济舱", "商务舱", "头等舱"},
		},
	}

	got, err := p.Normalize(def, "商务舱")
	require.NoError(t, err)
	assert.Equal(t, "商务舱", got)

	// Substring containment resolves partial mentions.
	got, err = p.Normalize(def, "商务")
	require.NoError(t, err)
	assert.Equal(t, "商务舱", got)

	// Required slots get no first-option fallback.
	_, err = p.Normalize(def, "豪华舱")
	assert.Error(t, err)

	// Optional slots fall back to the first option.
	optional := *def
	optional.Required = false
	got, err = p.Normalize(&optional, "豪华舱")
	require.NoError(t, err)
	assert.Equal(t, "经济舱", got)
}

func TestNormalizeBoolean(t *testing.T) {
	p := newTestProcessor()
	def := slotDef("need_insurance", datatypes.SlotTypeBoolean)

	truthy := []string{"true", "1", "yes", "是", "好", "YES"}
	for _, in := range truthy {
		got, err := p.Normalize(def, in)
		require.NoError(t, err, "normalize %q", in)
		assert.Equal(t, "true", got, "normalize %q", in)
	}
	falsy := []string{"false", "0", "no", "否", "不要"}
	for _, in := range falsy {
		got, err := p.Normalize(def, in)
		require.NoError(t, err, "normalize %q", in)
		assert.Equal(t, "false", got, "normalize %q", in)
	}

	_, err := p.Normalize(def, "也许")
	assert.Error(t, err)
}

func TestNormalizeEmailPhone(t *testing.T) {
	p := newTestProcessor()

	got, err := p.Normalize(slotDef("email", datatypes.SlotTypeEmail), " User@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got)

	_, err = p.Normalize(slotDef("email", datatypes.SlotTypeEmail), "not-an-email")
	assert.Error(t, err)

	phone := slotDef("contact_phone", datatypes.SlotTypePhone)
	for _, in := range []string{"13812345678", "138-1234-5678", "+86 138 1234 5678"} {
		got, err := p.Normalize(phone, in)
		require.NoError(t, err, "normalize %q", in)
		assert.Equal(t, "13812345678", got, "normalize %q", in)
	}

	_, err = p.Normalize(phone, "12345")
	assert.Error(t, err)
	_, err = p.Normalize(phone, "23812345678")
	assert.Error(t, err, "mainland numbers start with 1")
}

func TestNormalizeTextCollapsesWhitespace(t *testing.T) {
	p := newTestProcessor()
	got, err := p.Normalize(slotDef("note", datatypes.SlotTypeText), "  hello   world ")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

// Normalization must be idempotent: canonical output re-normalizes to
// itself for every slot type.
func TestNormalizeIdempotent(t *testing.T) {
	p := newTestProcessor()

	cases := []struct {
		def *datatypes.SlotDef
		in  string
	}{
		{slotDef("city", datatypes.SlotTypeText), "  北京  "},
		{slotDef("count", datatypes.SlotTypeNumber), "两"},
		{slotDef("count", datatypes.SlotTypeNumber), "1,200.5"},
		{slotDef("date", datatypes.SlotTypeDate), "明天"},
		{slotDef("date", datatypes.SlotTypeDate), "6月20日"},
		{slotDef("time", datatypes.SlotTypeTime), "下午3点"},
		{slotDef("flag", datatypes.SlotTypeBoolean), "是"},
		{slotDef("mail", datatypes.SlotTypeEmail), "User@Example.com"},
		{slotDef("phone", datatypes.SlotTypePhone), "+86 138 1234 5678"},
		{
			&datatypes.SlotDef{Name: "seat", Type: datatypes.SlotTypeEnum, Validation: datatypes.ValidationSpec{Options: []string{"经济舱", "商务舱"}}},
			"商务",
		},
	}
	for _, tc := range cases {
		once, err := p.Normalize(tc.def, tc.in)
		require.NoError(t, err, "first pass %q", tc.in)
		twice, err := p.Normalize(tc.def, once)
		require.NoError(t, err, "second pass %q", once)
		assert.Equal(t, once, twice, "normalize(normalize(%q))", tc.in)
	}
}

func TestNormalizeList(t *testing.T) {
	p := newTestProcessor()
	def := &datatypes.SlotDef{Name: "passengers", Type: datatypes.SlotTypeText, IsList: true}

	values, err := p.NormalizeList(def, "张三、李四和王五")
	require.NoError(t, err)
	assert.Equal(t, []string{"张三", "李四", "王五"}, values)

	values, err = p.NormalizeList(def, "a, b; c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, values)
}
