// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/gin-gonic/gin"
)

// Recovery turns handler panics into InternalAssemblyError responses.
//
// # Description
//
// A panic with http.ErrAbortHandler is re-raised untouched: it is how a
// streaming handler asks net/http to drop a connection whose response is
// already under way. Any other panic is logged with its stack. If nothing
// has been written yet the client receives a 500 with the standard JSON
// error body; otherwise the connection is aborted the same way.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware for router.Use.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			slog.Error("Recovered from handler panic",
				"requestId", c.GetString(RequestIDKey),
				"path", c.Request.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)

			if c.Writer.Written() {
				panic(http.ErrAbortHandler)
			}
			abortWithError(c, http.StatusInternalServerError,
				string(rag.KindInternalAssembly), "An error occurred while processing your request")
		}()
		c.Next()
	}
}
