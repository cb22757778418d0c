// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/middleware"
	"github.com/AleutianAI/profrag/services/orchestrator/observability"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("profrag.orchestrator.handlers")

// DefaultMaxBodyBytes caps the chat request body.
const DefaultMaxBodyBytes int64 = 1 << 20

// =============================================================================
// Interface Definition
// =============================================================================

// ChatHandler serves the streaming chat endpoint.
//
// # Description
//
// HandleChat accepts a conversation, retrieves the most similar professor
// reviews, and streams the model's reply as it is generated.
//
// # Response Formats
//
// Default: text/plain, chunked, one flush per model chunk. The
// concatenated body is the reply.
//
// With "Accept: text/event-stream": hash-chained SSE events
//   - sources: Retrieved professors, always first
//   - token: One model chunk
//   - error: In-band failure, ends the stream
//   - done: Successful end of the stream
//
// Failures before the first byte are JSON error responses in both formats:
//
//	400 MalformedRequest
//	502 EmbeddingProviderError, IndexProviderError, CompletionProviderError
//	500 InternalAssemblyError
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChatHandler interface {
	HandleChat(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// chatHandler implements ChatHandler.
//
// # Fields
//
//   - pipeline: Retrieval, assembly and streaming stages
//   - metrics: Prometheus metrics. May be nil.
//   - maxBodyBytes: Request body limit
type chatHandler struct {
	pipeline     *rag.Pipeline
	metrics      *observability.StreamingMetrics
	maxBodyBytes int64
}

// ChatHandlerOption customizes a ChatHandler.
type ChatHandlerOption func(*chatHandler)

// WithMaxBodyBytes sets the request body limit. n <= 0 keeps the default.
func WithMaxBodyBytes(n int64) ChatHandlerOption {
	return func(h *chatHandler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewChatHandler creates a ChatHandler.
//
// # Inputs
//
//   - pipeline: Chat pipeline. Must not be nil.
//   - metrics: Streaming metrics. nil disables recording.
//   - opts: Optional settings.
//
// # Examples
//
//	chat := handlers.NewChatHandler(pipeline, observability.DefaultMetrics)
//	router.POST("/api/chat", chat.HandleChat)
//
// # Limitations
//
//   - Panics on nil pipeline.
func NewChatHandler(pipeline *rag.Pipeline, metrics *observability.StreamingMetrics, opts ...ChatHandlerOption) ChatHandler {
	if pipeline == nil {
		panic("NewChatHandler: pipeline must not be nil")
	}
	h := &chatHandler{
		pipeline:     pipeline,
		metrics:      metrics,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChat processes POST /api/chat.
//
// # Description
//
//  1. Reads and parses the body. A rejected body never reaches a provider.
//  2. Prepare: embed, query, assemble.
//  3. Open: start the completion. Until here every failure is a JSON
//     error response.
//  4. Stream the reply into the sink chosen by the Accept header.
//
// A plain-text stream that fails after its first byte is aborted with
// http.ErrAbortHandler once the sink is closed.
func (h *chatHandler) HandleChat(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	requestID := middleware.GetRequestID(c)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	sse := wantsSSE(c.Request)
	endpoint := observability.EndpointChat
	if sse {
		endpoint = observability.EndpointChatSSE
	}
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.Bool("chat.sse", sse),
	)
	logger := observability.LoggerWithTrace(ctx, slog.Default()).With(
		"requestId", requestID,
		"endpoint", string(endpoint),
	)

	reject := func(err error) {
		rerr := rag.AsError(err)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, string(rerr.Kind))
		logger.Warn("Chat request failed before streaming",
			"kind", rerr.Kind,
			"stage", rerr.Stage,
			"error", rerr,
		)
		h.metrics.RecordError(endpoint, string(rerr.Kind))
		h.metrics.RecordRequest(endpoint, false)
		writeError(c, rerr)
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		reject(readBodyError(err))
		return
	}

	messages, err := rag.ParseRequest(body)
	if err != nil {
		reject(err)
		return
	}
	span.SetAttributes(attribute.Int("chat.messages", len(messages)))

	prepared, err := h.pipeline.Prepare(ctx, messages)
	if err != nil {
		reject(err)
		return
	}
	h.metrics.RecordRetrieved(len(prepared.Records))

	stream, err := h.pipeline.Open(ctx, prepared)
	if err != nil {
		reject(err)
		return
	}

	var (
		sink  rag.OutputSink
		plain *plainSink
	)
	if sse {
		s, err := newSSESink(c, requestID, datatypes.SourcesFromRecords(prepared.Records))
		if err != nil {
			_ = stream.Close()
			reject(&rag.Error{Kind: rag.KindInternalAssembly, Stage: rag.StageStream, Message: "streaming not supported", Err: err})
			return
		}
		sink = s
	} else {
		plain = newPlainSink(c)
		sink = plain
	}

	h.metrics.StreamStarted(endpoint)
	result, err := h.pipeline.Stream(ctx, stream, sink)
	h.metrics.StreamEnded(endpoint)

	h.metrics.RecordChunks(endpoint, result.Chunks)
	if result.Chunks > 0 {
		h.metrics.RecordTimeToFirstChunk(endpoint, result.TimeToFirstChunk.Seconds())
	}
	h.metrics.RecordStreamDuration(endpoint, result.Duration.Seconds(), err == nil)
	h.metrics.RecordRequest(endpoint, err == nil)

	if err != nil {
		rerr := rag.AsError(err)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, string(rerr.Kind))
		if errors.Is(err, rag.ErrClientGone) {
			h.metrics.RecordClientDisconnect(endpoint)
			logger.Info("Client went away during stream", "chunks", result.Chunks)
		} else {
			h.metrics.RecordError(endpoint, string(rerr.Kind))
			logger.Error("Chat stream failed",
				"kind", rerr.Kind,
				"chunks", result.Chunks,
				"error", rerr,
			)
		}
		if plain != nil && plain.Aborted() {
			panic(http.ErrAbortHandler)
		}
		return
	}

	logger.Info("Chat stream completed",
		"records", len(prepared.Records),
		"chunks", result.Chunks,
		"bytes", result.Bytes,
		"ttfc_ms", result.TimeToFirstChunk.Milliseconds(),
		"duration_ms", result.Duration.Milliseconds(),
	)
}

// =============================================================================
// Helper Functions
// =============================================================================

// wantsSSE reports whether the client asked for an event stream.
func wantsSSE(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(strings.ToLower(accept), "text/event-stream") {
			return true
		}
	}
	return false
}

// readBodyError classifies a failure to read the request body.
func readBodyError(err error) *rag.Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &rag.Error{Kind: rag.KindMalformedRequest, Stage: rag.StageParse, Message: "request body is too large", Err: err}
	}
	return &rag.Error{Kind: rag.KindMalformedRequest, Stage: rag.StageParse, Message: "request body could not be read", Err: err}
}
