// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/profrag/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the handlers the routes are bound to.
//
// # Fields
//
//   - Chat: Streaming chat handler. Must not be nil.
//   - Ready: Readiness probe target. nil reports always ready.
//   - Metrics: When false, /metrics is not registered.
//   - ChatMiddleware: Runs before the chat handler only, e.g. rate limiting.
type Deps struct {
	Chat           handlers.ChatHandler
	Ready          handlers.ReadinessChecker
	Metrics        bool
	ChatMiddleware []gin.HandlerFunc
}

// SetupRoutes registers the service endpoints:
//
//	GET  /health    liveness
//	GET  /ready     vector index reachability
//	GET  /metrics   Prometheus exposition
//	POST /api/chat  streaming chat
//	POST /v1/chat   same handler, versioned path
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Chat == nil {
		panic("SetupRoutes: chat handler must not be nil")
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.HandleReady(deps.Ready))
	if deps.Metrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	chat := append(append([]gin.HandlerFunc{}, deps.ChatMiddleware...), deps.Chat.HandleChat)
	router.POST("/api/chat", chat...)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat", chat...)
	}
}
