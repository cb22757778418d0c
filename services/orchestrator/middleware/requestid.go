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
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key holding the request ID.
	RequestIDKey = "profrag_request_id"

	// maxRequestIDLen bounds client-supplied IDs before they reach logs.
	maxRequestIDLen = 128
)

// RequestID assigns every request an ID.
//
// # Description
//
// A client-supplied X-Request-ID is kept when it is non-empty and at most
// 128 printable ASCII characters; anything else is replaced with a UUID v4.
// The ID is stored under RequestIDKey and echoed in the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the request ID stored by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
