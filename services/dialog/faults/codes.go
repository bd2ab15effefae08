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

import "net/http"

// =============================================================================
// Error Codes
// =============================================================================

// Code identifies a classified failure. Codes are grouped into families by
// their leading digit: E1 generic, E2 validation, E3 authentication and
// authorization, E4 business logic, E5 external service, E6 storage, E7
// configuration, E8 network, E9 resource exhaustion.
//
// Codes are stable wire identifiers. Never renumber an existing code; add a
// new one instead.
type Code string

const (
	// E1xxx: generic.
	CodeInternal    Code = "E1000"
	CodeUnknown     Code = "E1001"
	CodeTimeout     Code = "E1002"
	CodeRateLimited Code = "E1003"
	CodeUnavailable Code = "E1004"

	// E2xxx: validation.
	CodeValidation    Code = "E2000"
	CodeInvalidFormat Code = "E2001"
	CodeMissingInput  Code = "E2002"
	CodeOutOfRange    Code = "E2003"
	CodeSlotConflict  Code = "E2004"

	// E3xxx: authentication / authorization.
	CodeUnauthenticated  Code = "E3000"
	CodeTokenExpired     Code = "E3001"
	CodeTokenInvalid     Code = "E3002"
	CodeForbidden        Code = "E3003"
	CodePermissionDenied Code = "E3004"

	// E4xxx: business logic.
	CodeAlreadyExists      Code = "E4000"
	CodeInvalidState       Code = "E4001"
	CodeNotFound           Code = "E4002"
	CodeSessionBusy        Code = "E4003"
	CodeSessionUnavailable Code = "E4004"

	// E5xxx: external services (NLU, function executor).
	CodeExternalService     Code = "E5000"
	CodeExternalBadResponse Code = "E5001"
	CodeExternalTimeout     Code = "E5002"
	CodeExternalUnavailable Code = "E5003"

	// E6xxx: storage.
	CodeStorage          Code = "E6000"
	CodeStorageTransient Code = "E6001"
	CodeCacheFailure     Code = "E6002"

	// E7xxx: configuration.
	CodeConfiguration  Code = "E7000"
	CodeCatalogInvalid Code = "E7001"

	// E8xxx: network.
	CodeNetwork        Code = "E8000"
	CodeNetworkTimeout Code = "E8001"

	// E9xxx: resource exhaustion.
	CodePayloadTooLarge   Code = "E9000"
	CodeResourceExhausted Code = "E9001"
)

// =============================================================================
// Categories
// =============================================================================

// Category is the coarse error family, derived from the code's leading digit.
type Category string

const (
	CategoryGeneric    Category = "generic"
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryBusiness   Category = "business"
	CategoryExternal   Category = "external_service"
	CategoryStorage    Category = "storage"
	CategoryConfig     Category = "configuration"
	CategoryNetwork    Category = "network"
	CategoryResource   Category = "resource"
)

// Category returns the family a code belongs to. Unknown shapes fall back to
// the generic family so a malformed code never breaks envelope rendering.
func (c Code) Category() Category {
	if len(c) < 2 || c[0] != 'E' {
		return CategoryGeneric
	}
	switch c[1] {
	case '1':
		return CategoryGeneric
	case '2':
		return CategoryValidation
	case '3':
		return CategoryAuth
	case '4':
		return CategoryBusiness
	case '5':
		return CategoryExternal
	case '6':
		return CategoryStorage
	case '7':
		return CategoryConfig
	case '8':
		return CategoryNetwork
	case '9':
		return CategoryResource
	}
	return CategoryGeneric
}

// String returns the raw wire form, e.g. "E2002".
func (c Code) String() string { return string(c) }

// Valid reports whether the code is registered.
func (c Code) Valid() bool {
	_, ok := registry[c]
	return ok
}

// =============================================================================
// Severity
// =============================================================================

// Severity grades operator impact. User-facing replies never expose it.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// =============================================================================
// Code Registry
// =============================================================================

// codeInfo holds the static attributes of a registered code.
type codeInfo struct {
	status      int
	severity    Severity
	userZH      string
	userEN      string
	remediation string
}

// registry maps every registered code to its HTTP status, default severity,
// and user-visible messages. User messages are the only strings that may
// reach a client; operator context travels separately.
var registry = map[Code]codeInfo{
	CodeInternal:    {http.StatusInternalServerError, SeverityError, "系统繁忙，请稍后再试", "Something went wrong, please try again later", "check service logs for the trace id"},
	CodeUnknown:     {http.StatusInternalServerError, SeverityError, "系统繁忙，请稍后再试", "Something went wrong, please try again later", "check service logs for the trace id"},
	CodeTimeout:     {http.StatusGatewayTimeout, SeverityError, "处理超时，请稍后再试", "The request timed out, please try again", "inspect downstream latency"},
	CodeRateLimited: {http.StatusTooManyRequests, SeverityWarning, "请求过于频繁，请稍后再试", "Too many requests, please slow down", "raise the per-user limit if legitimate"},
	CodeUnavailable: {http.StatusInternalServerError, SeverityError, "服务暂时不可用，请稍后再试", "Service temporarily unavailable", "check dependency health"},

	CodeValidation:    {http.StatusBadRequest, SeverityWarning, "输入有误，请检查后重试", "The input is invalid", "none, user error"},
	CodeInvalidFormat: {http.StatusUnprocessableEntity, SeverityWarning, "格式不正确，请重新输入", "The value has an invalid format", "none, user error"},
	CodeMissingInput:  {http.StatusBadRequest, SeverityWarning, "请输入内容", "Input must not be empty", "none, user error"},
	CodeOutOfRange:    {http.StatusUnprocessableEntity, SeverityWarning, "输入超出允许范围", "The value is out of range", "none, user error"},
	CodeSlotConflict:  {http.StatusUnprocessableEntity, SeverityWarning, "输入内容存在冲突，请确认", "The values conflict with each other", "none, user error"},

	CodeUnauthenticated:  {http.StatusUnauthorized, SeverityWarning, "请先登录", "Authentication required", "client must supply credentials"},
	CodeTokenExpired:     {http.StatusUnauthorized, SeverityWarning, "登录已过期，请重新登录", "Credentials expired", "client must refresh credentials"},
	CodeTokenInvalid:     {http.StatusUnauthorized, SeverityWarning, "登录信息无效", "Credentials invalid", "client must re-authenticate"},
	CodeForbidden:        {http.StatusForbidden, SeverityWarning, "没有权限执行该操作", "Permission denied", "grant the caller the required role"},
	CodePermissionDenied: {http.StatusForbidden, SeverityWarning, "没有权限执行该操作", "Permission denied", "grant the caller the required role"},

	CodeAlreadyExists:      {http.StatusConflict, SeverityWarning, "该记录已存在", "The record already exists", "none, caller error"},
	CodeInvalidState:       {http.StatusInternalServerError, SeverityError, "当前状态无法完成操作", "The operation is not valid in the current state", "inspect the session state transition log"},
	CodeNotFound:           {http.StatusNotFound, SeverityWarning, "未找到相关记录", "Not found", "none, caller error"},
	CodeSessionBusy:        {http.StatusConflict, SeverityWarning, "会话正忙，请稍后再试", "The session is processing another request", "client should retry after the current turn"},
	CodeSessionUnavailable: {http.StatusConflict, SeverityError, "会话暂时不可用，请稍后再试", "The session is unavailable", "check for stuck turns holding the session"},

	CodeExternalService:     {http.StatusBadGateway, SeverityError, "服务暂时不可用，请稍后再试", "Upstream service failed", "check the upstream dependency"},
	CodeExternalBadResponse: {http.StatusBadGateway, SeverityError, "服务暂时不可用，请稍后再试", "Upstream returned an invalid response", "inspect the upstream payload"},
	CodeExternalTimeout:     {http.StatusGatewayTimeout, SeverityError, "服务响应超时，请稍后再试", "Upstream service timed out", "inspect upstream latency"},
	CodeExternalUnavailable: {http.StatusServiceUnavailable, SeverityError, "服务暂时不可用，请稍后再试", "Upstream service unavailable", "wait for the circuit breaker to recover"},

	CodeStorage:          {http.StatusInternalServerError, SeverityError, "系统繁忙，请稍后再试", "Storage operation failed", "check the store backend"},
	CodeStorageTransient: {http.StatusInternalServerError, SeverityError, "系统繁忙，请稍后再试", "Transient storage failure", "retried automatically, check store health if frequent"},
	CodeCacheFailure:     {http.StatusInternalServerError, SeverityWarning, "系统繁忙，请稍后再试", "Cache operation failed", "degraded to store reads, check cache backend"},

	CodeConfiguration:  {http.StatusInternalServerError, SeverityCritical, "系统繁忙，请稍后再试", "Service configuration error", "fix configuration and restart"},
	CodeCatalogInvalid: {http.StatusInternalServerError, SeverityCritical, "系统繁忙，请稍后再试", "Intent catalog is invalid", "fix the catalog, the last good snapshot stays active"},

	CodeNetwork:        {http.StatusGatewayTimeout, SeverityError, "网络异常，请稍后再试", "Network failure", "check connectivity to dependencies"},
	CodeNetworkTimeout: {http.StatusGatewayTimeout, SeverityError, "网络超时，请稍后再试", "Network timeout", "check connectivity to dependencies"},

	CodePayloadTooLarge:   {http.StatusInternalServerError, SeverityWarning, "输入内容过长", "The input is too large", "none, caller error"},
	CodeResourceExhausted: {http.StatusInternalServerError, SeverityError, "系统繁忙，请稍后再试", "A resource limit was exceeded", "inspect resource usage"},
}

// HTTPStatus maps a code to its HTTP status per the envelope contract:
// E2xxx to 400/422, E3000..E3002 to 401, E3003..E3004 to 403, E4002 to 404,
// E4000/E4003/E4004 to 409, E1003 to 429, E5000 to 502, E5003 to 503,
// timeouts (E1002, E5002, E8xxx) to 504, everything else to 500.
func HTTPStatus(c Code) int {
	if info, ok := registry[c]; ok {
		return info.status
	}
	switch c.Category() {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuth:
		return http.StatusUnauthorized
	case CategoryNetwork:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// DefaultSeverity returns the registered severity for a code, defaulting to
// error for unregistered codes.
func DefaultSeverity(c Code) Severity {
	if info, ok := registry[c]; ok {
		return info.severity
	}
	return SeverityError
}

// UserMessage returns the user-visible string for a code in the requested
// locale ("zh" or "en"). The map is the only source of user-facing error
// text; raw error strings never reach a client.
func UserMessage(c Code, locale string) string {
	info, ok := registry[c]
	if !ok {
		info = registry[CodeInternal]
	}
	if locale == "en" {
		return info.userEN
	}
	return info.userZH
}

// Remediation returns the operator hint registered for a code.
func Remediation(c Code) string {
	if info, ok := registry[c]; ok {
		return info.remediation
	}
	return ""
}

// Retryable reports whether operations failing with this code may be retried
// automatically. Only external-service, transient-storage, and network
// failures qualify, and callers must additionally ensure the operation is
// idempotent.
func Retryable(c Code) bool {
	switch c.Category() {
	case CategoryExternal, CategoryNetwork:
		return true
	}
	return c == CodeStorageTransient
}
