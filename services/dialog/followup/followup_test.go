// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package followup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want Class
		kind Kind
	}{
		{
			name: "clean value is complete",
			in: Input{
				Reply:     "北京",
				Question:  "请问您从哪个城市出发？",
				Expected:  []string{"departure_city"},
				Extracted: []string{"departure_city"},
			},
			want: ClassComplete,
			kind: KindClarification,
		},
		{
			name: "half the asked slots is partial",
			in: Input{
				Reply:     "从北京出发",
				Question:  "请提供：出发城市、到达城市。",
				Expected:  []string{"departure_city", "arrival_city"},
				Extracted: []string{"departure_city"},
			},
			want: ClassPartial,
			kind: KindCompletion,
		},
		{
			name: "dont know is unclear",
			in: Input{
				Reply:    "不知道啊",
				Question: "请问您想哪天出发？",
				Expected: []string{"departure_date"},
			},
			want: ClassUnclear,
			kind: KindClarification,
		},
		{
			name: "whatever delegates the choice",
			in: Input{
				Reply:    "随便",
				Question: "请问您需要什么舱位？",
				Expected: []string{"cabin_class"},
			},
			want: ClassAmbiguous,
			kind: KindDisambiguation,
		},
		{
			name: "that one without referent is ambiguous",
			in: Input{
				Reply:    "就那个吧",
				Question: "请问您需要什么舱位？",
				Expected: []string{"cabin_class"},
			},
			want: ClassAmbiguous,
			kind: KindDisambiguation,
		},
		{
			name: "bare negation is conflicting",
			in: Input{
				Reply:    "不对，搞错了",
				Question: "请问您从哪个城市出发？",
				Expected: []string{"departure_city"},
			},
			want: ClassConflicting,
			kind: KindConfirmation,
		},
		{
			name: "negation with replacement value is conflicting",
			in: Input{
				Reply:     "不对，改成上海",
				Question:  "请问您从哪个城市出发？",
				Expected:  []string{"departure_city"},
				Extracted: []string{"departure_city"},
			},
			want: ClassConflicting,
			kind: KindConfirmation,
		},
		{
			name: "validation failure is invalid",
			in: Input{
				Reply:     "昨天",
				Question:  "请问您想哪天出发？",
				Expected:  []string{"departure_date"},
				Extracted: []string{"departure_date"},
				Invalid:   []string{"departure_date"},
			},
			want: ClassInvalid,
			kind: KindCorrection,
		},
		{
			name: "pipeline conflict outranks everything",
			in: Input{
				Reply:       "6月1日",
				Question:    "请问返程日期是哪天？",
				Expected:    []string{"return_date"},
				Extracted:   []string{"return_date"},
				Conflicting: []string{"return_date"},
			},
			want: ClassConflicting,
			kind: KindConfirmation,
		},
		{
			name: "weather question is off topic",
			in: Input{
				Reply:    "对了今天天气怎么样",
				Question: "请问您从哪个城市出发？",
				Expected: []string{"departure_city"},
			},
			want: ClassOffTopic,
			kind: KindValidation,
		},
		{
			name: "long unrelated reply is off topic by overlap",
			in: Input{
				Reply:    "帮我放一首周杰伦的歌来听听",
				Question: "请问您想哪天出发？",
				Expected: []string{"departure_date"},
			},
			want: ClassOffTopic,
			kind: KindValidation,
		},
		{
			name: "empty reply is incomplete",
			in: Input{
				Reply:    "   ",
				Question: "请问您从哪个城市出发？",
				Expected: []string{"departure_city"},
			},
			want: ClassIncomplete,
			kind: KindSpecification,
		},
		{
			name: "grunt is incomplete",
			in: Input{
				Reply:    "嗯",
				Question: "请问您从哪个城市出发？",
				Expected: []string{"departure_city"},
			},
			want: ClassIncomplete,
			kind: KindSpecification,
		},
	}

	analyzer := New(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := analyzer.Classify(tc.in)
			assert.Equal(t, tc.want, v.Class)
			assert.Equal(t, tc.kind, v.Kind)
		})
	}
}

func TestClassifyTargets(t *testing.T) {
	analyzer := New(nil)

	v := analyzer.Classify(Input{
		Reply:     "从北京出发",
		Expected:  []string{"departure_city", "arrival_city"},
		Extracted: []string{"departure_city"},
	})
	assert.Equal(t, "arrival_city", v.Target, "partial targets the still-missing slot")

	v = analyzer.Classify(Input{
		Reply:     "昨天",
		Expected:  []string{"departure_date"},
		Extracted: []string{"departure_date"},
		Invalid:   []string{"departure_date"},
	})
	assert.Equal(t, "departure_date", v.Target)

	v = analyzer.Classify(Input{
		Reply:    "不知道",
		Expected: []string{"cabin_class"},
	})
	assert.Equal(t, "cabin_class", v.Target, "lexical verdicts default to the asked slot")
}

func TestAttemptCeilings(t *testing.T) {
	assert.Equal(t, DefaultAttemptCeiling, AttemptCeiling(datatypes.SlotTypeText))
	assert.Equal(t, DefaultAttemptCeiling, AttemptCeiling(datatypes.SlotTypeEnum))
	assert.Equal(t, StrictAttemptCeiling, AttemptCeiling(datatypes.SlotTypeDate))
	assert.Equal(t, StrictAttemptCeiling, AttemptCeiling(datatypes.SlotTypePhone))
	assert.Equal(t, StrictAttemptCeiling, AttemptCeiling(datatypes.SlotTypeEmail))
}

func TestCountsAsFailure(t *testing.T) {
	assert.True(t, CountsAsFailure(ClassInvalid))
	assert.True(t, CountsAsFailure(ClassIncomplete))
	assert.True(t, CountsAsFailure(ClassUnclear))

	assert.False(t, CountsAsFailure(ClassComplete))
	assert.False(t, CountsAsFailure(ClassPartial))
	assert.False(t, CountsAsFailure(ClassAmbiguous))
	assert.False(t, CountsAsFailure(ClassConflicting))
	assert.False(t, CountsAsFailure(ClassOffTopic))
}
