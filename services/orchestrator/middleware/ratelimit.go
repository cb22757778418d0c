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
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KindRateLimited is the error kind of a 429 response.
const KindRateLimited = "RateLimited"

// RateLimit caps the request rate with a token bucket shared by all
// clients.
//
// # Description
//
// Rejected requests get a 429 with a Retry-After header and the standard
// error body, and never reach the handler.
//
// # Inputs
//
//   - rps: Sustained requests per second. rps <= 0 disables the limiter.
//   - burst: Bucket size. Values below 1 are raised to 1.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / rps)))

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", retryAfter)
			abortWithError(c, http.StatusTooManyRequests, KindRateLimited, "Too many requests, retry later")
			return
		}
		c.Next()
	}
}
