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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		code Code
		want int
	}{
		{"missing input is 400", CodeMissingInput, http.StatusBadRequest},
		{"generic validation is 400", CodeValidation, http.StatusBadRequest},
		{"invalid format is 422", CodeInvalidFormat, http.StatusUnprocessableEntity},
		{"out of range is 422", CodeOutOfRange, http.StatusUnprocessableEntity},
		{"slot conflict is 422", CodeSlotConflict, http.StatusUnprocessableEntity},
		{"unauthenticated is 401", CodeUnauthenticated, http.StatusUnauthorized},
		{"token expired is 401", CodeTokenExpired, http.StatusUnauthorized},
		{"token invalid is 401", CodeTokenInvalid, http.StatusUnauthorized},
		{"forbidden is 403", CodeForbidden, http.StatusForbidden},
		{"permission denied is 403", CodePermissionDenied, http.StatusForbidden},
		{"not found is 404", CodeNotFound, http.StatusNotFound},
		{"already exists is 409", CodeAlreadyExists, http.StatusConflict},
		{"session busy is 409", CodeSessionBusy, http.StatusConflict},
		{"session unavailable is 409", CodeSessionUnavailable, http.StatusConflict},
		{"rate limited is 429", CodeRateLimited, http.StatusTooManyRequests},
		{"external service is 502", CodeExternalService, http.StatusBadGateway},
		{"external unavailable is 503", CodeExternalUnavailable, http.StatusServiceUnavailable},
		{"timeout is 504", CodeTimeout, http.StatusGatewayTimeout},
		{"external timeout is 504", CodeExternalTimeout, http.StatusGatewayTimeout},
		{"network error is 504", CodeNetwork, http.StatusGatewayTimeout},
		{"network timeout is 504", CodeNetworkTimeout, http.StatusGatewayTimeout},
		{"internal is 500", CodeInternal, http.StatusInternalServerError},
		{"invalid state is 500", CodeInvalidState, http.StatusInternalServerError},
		{"payload too large is 500", CodePayloadTooLarge, http.StatusInternalServerError},
		{"configuration is 500", CodeConfiguration, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestHTTPStatusUnregisteredFamilies(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Code("E2099")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Code("E3099")))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(Code("E8099")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Code("E4099")))
}

func TestCodeCategory(t *testing.T) {
	assert.Equal(t, CategoryGeneric, CodeInternal.Category())
	assert.Equal(t, CategoryValidation, CodeMissingInput.Category())
	assert.Equal(t, CategoryAuth, CodeForbidden.Category())
	assert.Equal(t, CategoryBusiness, CodeSessionBusy.Category())
	assert.Equal(t, CategoryExternal, CodeExternalTimeout.Category())
	assert.Equal(t, CategoryStorage, CodeStorage.Category())
	assert.Equal(t, CategoryConfig, CodeCatalogInvalid.Category())
	assert.Equal(t, CategoryNetwork, CodeNetworkTimeout.Category())
	assert.Equal(t, CategoryResource, CodePayloadTooLarge.Category())
	assert.Equal(t, CategoryGeneric, Code("garbage").Category())
}

func TestUserMessageNeverEmpty(t *testing.T) {
	for code := range registry {
		assert.NotEmpty(t, UserMessage(code, "zh"), "zh message for %s", code)
		assert.NotEmpty(t, UserMessage(code, "en"), "en message for %s", code)
	}
	// Unregistered codes fall back to the internal message.
	assert.Equal(t, UserMessage(CodeInternal, "zh"), UserMessage(Code("E9999"), "zh"))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(CodeExternalService))
	assert.True(t, Retryable(CodeExternalTimeout))
	assert.True(t, Retryable(CodeNetwork))
	assert.True(t, Retryable(CodeStorageTransient))
	assert.False(t, Retryable(CodeStorage))
	assert.False(t, Retryable(CodeValidation))
	assert.False(t, Retryable(CodeRateLimited))
	assert.False(t, Retryable(CodeInternal))
}
