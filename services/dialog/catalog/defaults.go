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

import "github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"

// Default returns the built-in intent set used when no catalog file is
// configured. It doubles as the reference configuration: every edge kind,
// inheritance source and cross-slot rule the engine supports appears here
// at least once.
func Default() []datatypes.Intent {
	return []datatypes.Intent{
		bookFlight(),
		bookTrain(),
		bookMovie(),
		checkBalance(),
	}
}

func bookFlight() datatypes.Intent {
	return datatypes.Intent{
		Name:                "book_flight",
		DisplayName:         "机票预订",
		Description:         "预订国内及国际机票",
		ConfidenceThreshold: 0.7,
		FunctionName:        "flight_booking",
		Examples: []string{
			"订机票",
			"我要订机票",
			"帮我订一张去上海的机票",
			"订一张明天去北京的机票",
			"买张飞广州的机票",
			"订票",
		},
		SlotDefs: []datatypes.SlotDef{
			{
				Name:               "departure_city",
				Type:               datatypes.SlotTypeText,
				DisplayName:        "出发城市",
				Required:           true,
				PromptTemplate:     "请问您从哪个城市出发？",
				SortOrder:          1,
				ExtractionPriority: 10,
				Examples:           []string{"北京", "上海", "广州"},
			},
			{
				Name:           "arrival_city",
				Type:           datatypes.SlotTypeText,
				DisplayName:    "到达城市",
				Required:       true,
				PromptTemplate: "请问您要飞往哪个城市？",
				SortOrder:      2,
				Examples:       []string{"上海", "深圳", "成都"},
			},
			{
				Name:           "departure_date",
				Type:           datatypes.SlotTypeDate,
				DisplayName:    "出发日期",
				Required:       true,
				PromptTemplate: "请问您想哪天出发？",
				SortOrder:      3,
				Validation:     datatypes.ValidationSpec{MinDate: "today"},
			},
			{
				Name:           "return_date",
				Type:           datatypes.SlotTypeDate,
				DisplayName:    "返程日期",
				PromptTemplate: "请问您的返程日期是哪天？",
				SortOrder:      4,
				Validation:     datatypes.ValidationSpec{MinDate: "today"},
			},
			{
				Name:           "cabin_class",
				Type:           datatypes.SlotTypeEnum,
				DisplayName:    "舱位",
				PromptTemplate: "请问您需要什么舱位？",
				SortOrder:      5,
				Validation: datatypes.ValidationSpec{
					Options: []string{"经济舱", "商务舱", "头等舱"},
				},
			},
			{
				Name:           "passenger_count",
				Type:           datatypes.SlotTypeNumber,
				DisplayName:    "乘客人数",
				PromptTemplate: "请问一共几位乘客？",
				SortOrder:      6,
				Validation: datatypes.ValidationSpec{
					Integer: true,
					Min:     float64Ptr(1),
					Max:     float64Ptr(9),
				},
			},
			{
				Name:        "trip_type",
				Type:        datatypes.SlotTypeBoolean,
				DisplayName: "往返",
				SortOrder:   7,
			},
			{
				Name:           "contact_phone",
				Type:           datatypes.SlotTypePhone,
				DisplayName:    "联系电话",
				PromptTemplate: "请留一个联系电话。",
				SortOrder:      8,
			},
		},
		Dependencies: []datatypes.DependencyEdge{
			{From: "departure_city", To: "arrival_city", Kind: datatypes.EdgeHierarchical},
			{From: "arrival_city", To: "departure_date", Kind: datatypes.EdgeRequired},
			{From: "departure_date", To: "return_date", Kind: datatypes.EdgeTemporal},
			{From: "return_date", To: "trip_type", Kind: datatypes.EdgeComputed, Transform: "flag_present"},
		},
		InheritanceRules: []datatypes.InheritanceRule{
			{
				TargetSlot: "departure_city",
				SourceSlot: "home_city",
				Source:     datatypes.InheritFromUserProfile,
				Strategy:   datatypes.StrategySupplement,
				Priority:   10,
				Condition:  &datatypes.RuleCondition{TargetEmpty: true},
			},
			{
				TargetSlot: "contact_phone",
				SourceSlot: "phone",
				Source:     datatypes.InheritFromUserProfile,
				Strategy:   datatypes.StrategySupplement,
				Priority:   5,
				Transform:  "phone_canonical",
				Condition:  &datatypes.RuleCondition{TargetEmpty: true},
			},
			{
				TargetSlot: "passenger_count",
				Source:     datatypes.InheritFromDefault,
				Strategy:   datatypes.StrategySupplement,
				Priority:   1,
				Default:    "1",
			},
		},
		CrossRules: []datatypes.CrossRule{
			{
				Kind:    datatypes.CrossFieldsDiffer,
				Fields:  []string{"departure_city", "arrival_city"},
				Message: "出发城市和到达城市不能相同",
			},
			{
				Kind:    datatypes.CrossDateOrder,
				Fields:  []string{"departure_date", "return_date"},
				Message: "返程日期必须晚于出发日期",
			},
		},
		ResultTemplate: "已为您预订{departure_date}从{departure_city}到{arrival_city}的机票。",
	}
}

func bookTrain() datatypes.Intent {
	return datatypes.Intent{
		Name:                "book_train",
		DisplayName:         "火车票预订",
		Description:         "预订高铁及普通列车车票",
		ConfidenceThreshold: 0.7,
		FunctionName:        "train_booking",
		Examples: []string{
			"订火车票",
			"买高铁票",
			"我要坐高铁去上海",
			"帮我订一张动车票",
			"订票",
		},
		SlotDefs: []datatypes.SlotDef{
			{
				Name:               "departure_city",
				Type:               datatypes.SlotTypeText,
				DisplayName:        "出发城市",
				Required:           true,
				PromptTemplate:     "请问您从哪个城市出发？",
				SortOrder:          1,
				ExtractionPriority: 10,
			},
			{
				Name:           "arrival_city",
				Type:           datatypes.SlotTypeText,
				DisplayName:    "到达城市",
				Required:       true,
				PromptTemplate: "请问您要到哪个城市？",
				SortOrder:      2,
			},
			{
				Name:           "departure_date",
				Type:           datatypes.SlotTypeDate,
				DisplayName:    "出发日期",
				Required:       true,
				PromptTemplate: "请问您哪天出发？",
				SortOrder:      3,
				Validation:     datatypes.ValidationSpec{MinDate: "today"},
			},
			{
				Name:           "seat_class",
				Type:           datatypes.SlotTypeEnum,
				DisplayName:    "座位类型",
				PromptTemplate: "请问您要什么座位？",
				SortOrder:      4,
				Validation: datatypes.ValidationSpec{
					Options: []string{"二等座", "一等座", "商务座"},
				},
			},
			{
				Name:           "passenger_count",
				Type:           datatypes.SlotTypeNumber,
				DisplayName:    "乘客人数",
				PromptTemplate: "请问一共几位乘客？",
				SortOrder:      5,
				Validation: datatypes.ValidationSpec{
					Integer: true,
					Min:     float64Ptr(1),
					Max:     float64Ptr(9),
				},
			},
		},
		Dependencies: []datatypes.DependencyEdge{
			{From: "departure_city", To: "arrival_city", Kind: datatypes.EdgeHierarchical},
			{From: "arrival_city", To: "departure_date", Kind: datatypes.EdgeRequired},
		},
		InheritanceRules: []datatypes.InheritanceRule{
			{
				TargetSlot: "departure_city",
				SourceSlot: "departure_city",
				Source:     datatypes.InheritFromSession,
				Strategy:   datatypes.StrategySupplement,
				Priority:   10,
				Condition:  &datatypes.RuleCondition{TargetEmpty: true},
			},
			{
				TargetSlot: "passenger_count",
				Source:     datatypes.InheritFromDefault,
				Strategy:   datatypes.StrategySupplement,
				Priority:   1,
				Default:    "1",
			},
		},
		CrossRules: []datatypes.CrossRule{
			{
				Kind:    datatypes.CrossFieldsDiffer,
				Fields:  []string{"departure_city", "arrival_city"},
				Message: "出发城市和到达城市不能相同",
			},
		},
		ResultTemplate: "已为您预订{departure_date}从{departure_city}到{arrival_city}的车票。",
	}
}

func bookMovie() datatypes.Intent {
	return datatypes.Intent{
		Name:                "book_movie",
		DisplayName:         "电影票预订",
		Description:         "预订电影票及选座",
		ConfidenceThreshold: 0.7,
		FunctionName:        "movie_booking",
		Examples: []string{
			"订电影票",
			"我想看电影",
			"买两张电影票",
			"帮我订今晚的电影",
		},
		SlotDefs: []datatypes.SlotDef{
			{
				Name:               "movie_title",
				Type:               datatypes.SlotTypeText,
				DisplayName:        "影片",
				Required:           true,
				PromptTemplate:     "请问您想看哪部电影？",
				SortOrder:          1,
				ExtractionPriority: 10,
			},
			{
				Name:           "cinema_city",
				Type:           datatypes.SlotTypeText,
				DisplayName:    "所在城市",
				Required:       true,
				PromptTemplate: "请问您在哪个城市观影？",
				SortOrder:      2,
			},
			{
				Name:           "show_date",
				Type:           datatypes.SlotTypeDate,
				DisplayName:    "观影日期",
				Required:       true,
				PromptTemplate: "请问您想哪天看？",
				SortOrder:      3,
				Validation:     datatypes.ValidationSpec{MinDate: "today"},
			},
			{
				Name:           "show_time",
				Type:           datatypes.SlotTypeTime,
				DisplayName:    "场次时间",
				PromptTemplate: "请问您想看几点的场次？",
				SortOrder:      4,
			},
			{
				Name:           "ticket_count",
				Type:           datatypes.SlotTypeNumber,
				DisplayName:    "票数",
				PromptTemplate: "请问要买几张票？",
				SortOrder:      5,
				Validation: datatypes.ValidationSpec{
					Integer: true,
					Min:     float64Ptr(1),
					Max:     float64Ptr(10),
				},
			},
			{
				Name:           "contact_phone",
				Type:           datatypes.SlotTypePhone,
				DisplayName:    "联系电话",
				PromptTemplate: "请留一个取票用的手机号。",
				SortOrder:      6,
			},
		},
		InheritanceRules: []datatypes.InheritanceRule{
			// Carries the destination of a just-booked trip into the movie
			// city: fly to Shanghai, watch a movie in Shanghai.
			{
				TargetSlot: "cinema_city",
				SourceSlot: "arrival_city",
				Source:     datatypes.InheritFromSession,
				Strategy:   datatypes.StrategySupplement,
				Priority:   10,
				Condition:  &datatypes.RuleCondition{TargetEmpty: true},
			},
			{
				TargetSlot: "contact_phone",
				SourceSlot: "phone",
				Source:     datatypes.InheritFromUserProfile,
				Strategy:   datatypes.StrategySupplement,
				Priority:   5,
				Transform:  "phone_canonical",
				Condition:  &datatypes.RuleCondition{TargetEmpty: true},
			},
			{
				TargetSlot: "ticket_count",
				Source:     datatypes.InheritFromDefault,
				Strategy:   datatypes.StrategySupplement,
				Priority:   1,
				Default:    "1",
			},
		},
		ResultTemplate: "已为您预订{show_date}《{movie_title}》的电影票。",
	}
}

func checkBalance() datatypes.Intent {
	return datatypes.Intent{
		Name:                "check_balance",
		DisplayName:         "余额查询",
		Description:         "查询账户余额",
		ConfidenceThreshold: 0.6,
		FunctionName:        "balance_query",
		Examples: []string{
			"查余额",
			"查一下余额",
			"我的余额还有多少",
			"账户余额",
			"查一下我的银行卡余额",
		},
		SlotDefs: []datatypes.SlotDef{
			{
				Name:           "account_type",
				Type:           datatypes.SlotTypeEnum,
				DisplayName:    "账户类型",
				PromptTemplate: "请问查询哪个账户？",
				SortOrder:      1,
				Validation: datatypes.ValidationSpec{
					Options: []string{"储蓄卡", "信用卡"},
				},
			},
		},
		ResultTemplate: "您的账户余额为{balance}元。",
	}
}

func float64Ptr(f float64) *float64 { return &f }
