// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// The router installs them in this order:
//
//	Request
//	   │
//	   ▼
//	Recovery ──► RequestID ──► RequestLogger ──► otelgin ──► RateLimit
//	                                                            │
//	                                                            ▼
//	                                                         Handler
//
// Recovery is outermost so that a panic anywhere below it, including in
// other middleware, still produces a JSON error body. RequestID runs before
// the logger so every access log line carries the ID.
package middleware

import (
	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
)

// abortWithError writes the service's standard error body and stops the
// handler chain.
func abortWithError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{
		Error: datatypes.ErrorDetail{Kind: kind, Message: message},
	})
}
