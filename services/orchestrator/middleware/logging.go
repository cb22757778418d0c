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
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger writes one structured access log line per request.
//
// # Description
//
// Replaces gin's text logger. Status 5xx is logged at Error, 4xx at Warn,
// everything else at Info. Paths listed in skipPaths (e.g. /health,
// /metrics) are not logged.
//
// # Inputs
//
//   - logger: Destination. nil uses slog.Default() at request time.
//   - skipPaths: Exact paths to leave out.
func RequestLogger(logger *slog.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if _, ok := skip[path]; ok {
			return
		}

		l := logger
		if l == nil {
			l = slog.Default()
		}

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		l.LogAttrs(c.Request.Context(), level, "HTTP request",
			slog.String("requestId", c.GetString(RequestIDKey)),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Int("bytes", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
