// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP and websocket handlers of the dialog
// service. Every failure path renders the standard error envelope; raw
// error strings never reach the wire.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
)

var tracer = otel.Tracer("aleutian.dialog.handlers")

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.9.0"

// renderFault classifies err and writes the error envelope with the
// matching HTTP status.
func renderFault(c *gin.Context, err error, locale string, started time.Time) {
	fe := faults.From(err)
	c.JSON(faults.HTTPStatus(fe.Code),
		datatypes.NewErrorResponse(middleware.RequestIDFrom(c), fe, locale, time.Since(started)))
}
