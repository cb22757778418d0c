// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/middleware"
	"github.com/AleutianAI/profrag/services/orchestrator/observability"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/AleutianAI/profrag/services/orchestrator/rag/ragtest"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

var drSmith = datatypes.RetrievedRecord{
	ID:       "Dr. Smith",
	Metadata: datatypes.ReviewMetadata{Subject: "Physics 101", Stars: 4.5},
	Score:    0.92,
}

const physicsQuestion = `[{"role":"user","content":"best physics professor"}]`

// chatFixture wires a ChatHandler to in-memory providers.
type chatFixture struct {
	embedder *ragtest.Embedder
	index    *ragtest.Index
	streamer *ragtest.Streamer
	metrics  *observability.StreamingMetrics
	router   *gin.Engine
}

func newChatFixture(t *testing.T, opts ...ChatHandlerOption) *chatFixture {
	t.Helper()
	f := &chatFixture{
		embedder: ragtest.NewEmbedder(rag.DefaultEmbeddingDimensions),
		index:    &ragtest.Index{},
		streamer: &ragtest.Streamer{},
		metrics:  observability.NewStreamingMetrics(prometheus.NewRegistry()),
	}
	pipeline := rag.NewPipeline(
		rag.NewRetriever(f.embedder, f.index, rag.DefaultRetrieverConfig()),
		rag.NewAssembler(""),
		f.streamer,
	)
	handler := NewChatHandler(pipeline, f.metrics, opts...)

	f.router = gin.New()
	f.router.Use(middleware.Recovery(), middleware.RequestID())
	f.router.POST("/api/chat", handler.HandleChat)
	return f
}

func (f *chatFixture) post(body string, sse bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sse {
		req.Header.Set("Accept", "text/event-stream")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *chatFixture) providerCalls() int {
	return f.embedder.CallCount() + f.index.CallCount() + f.streamer.CallCount()
}

func decodeErrorBody(t *testing.T, body []byte) datatypes.ErrorDetail {
	t.Helper()
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp), "body: %s", body)
	return resp.Error
}

// =============================================================================
// NewChatHandler Tests
// =============================================================================

func TestNewChatHandler_PanicsOnNilPipeline(t *testing.T) {
	assert.Panics(t, func() { NewChatHandler(nil, nil) })
}

// =============================================================================
// Request Rejection Tests
// =============================================================================

// TestHandleChat_MalformedBodyReachesNoProvider verifies that every rejected
// body returns 400 without a single embedding, index or completion call.
func TestHandleChat_MalformedBodyReachesNoProvider(t *testing.T) {
	bodies := map[string]string{
		"not json":           "not json",
		"empty":              "",
		"empty array":        "[]",
		"wrong wrapper":      `{"msgs":[{"role":"user","content":"hi"}]}`,
		"missing content":    `[{"role":"user"}]`,
		"last not user":      `[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`,
		"content not string": `[{"role":"user","content":42}]`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			f := newChatFixture(t)

			w := f.post(body, false)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "MalformedRequest", decodeErrorBody(t, w.Body.Bytes()).Kind)
			assert.Zero(t, f.providerCalls(), "no provider may be called for a rejected body")
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues("chat", "MalformedRequest")))
		})
	}
}

func TestHandleChat_BodyTooLarge(t *testing.T) {
	f := newChatFixture(t, WithMaxBodyBytes(16))

	w := f.post(physicsQuestion, false)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeErrorBody(t, w.Body.Bytes())
	assert.Equal(t, "MalformedRequest", detail.Kind)
	assert.Contains(t, detail.Message, "too large")
	assert.Zero(t, f.providerCalls())
}

// =============================================================================
// Plain Text Streaming Tests
// =============================================================================

// TestHandleChat_DrSmith streams the reply for the single-record physics
// question and checks what the completion provider was sent.
func TestHandleChat_DrSmith(t *testing.T) {
	f := newChatFixture(t)
	f.index.Records = []datatypes.RetrievedRecord{drSmith}
	f.streamer.Chunks = []string{"Dr. Smith ", "is great."}

	w := f.post(physicsQuestion, false)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "Dr. Smith is great.", w.Body.String())

	sent := f.streamer.Messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "system", sent[0].Role)
	assert.Equal(t, "user", sent[1].Role)
	assert.True(t, strings.HasPrefix(sent[1].Content, "best physics professor"))
	assert.Contains(t, sent[1].Content, "Dr. Smith")
	assert.Contains(t, sent[1].Content, "Physics 101")
	assert.Contains(t, sent[1].Content, "4.5")

	assert.Equal(t, "best physics professor", f.embedder.LastText)
	assert.Equal(t, 3, f.index.LastQuery.TopK)
	assert.Equal(t, 1, f.streamer.LastStream().Closed())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("chat", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ChunksTotal.WithLabelValues("chat")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveStreams.WithLabelValues("chat")))
}

func TestHandleChat_WrappedBody(t *testing.T) {
	f := newChatFixture(t)
	f.streamer.Chunks = []string{"ok"}

	w := f.post(`{"messages":`+physicsQuestion+`}`, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestHandleChat_NoResultsStillStreams(t *testing.T) {
	f := newChatFixture(t)
	f.streamer.Chunks = []string{"No match found."}

	w := f.post(physicsQuestion, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No match found.", w.Body.String())
	assert.Equal(t, 1, f.streamer.CallCount())
}

func TestHandleChat_EmptyReply(t *testing.T) {
	f := newChatFixture(t)
	f.streamer.Chunks = []string{"", ""}

	w := f.post(physicsQuestion, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

// TestHandleChat_MidStreamFailureAbortsConnection sends two chunks and then
// fails the provider stream. The client must receive exactly those chunks
// followed by a broken body, not a clean end of response.
func TestHandleChat_MidStreamFailureAbortsConnection(t *testing.T) {
	f := newChatFixture(t)
	f.index.Records = []datatypes.RetrievedRecord{drSmith}
	f.streamer.Chunks = []string{"Dr. Smith ", "teaches"}
	f.streamer.StreamErr = errors.New("upstream connection reset")

	server := httptest.NewServer(f.router)
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/api/chat", "application/json", strings.NewReader(physicsQuestion))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.Equal(t, "Dr. Smith teaches", string(body))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "stream must end in an error state")

	assert.Equal(t, 1, f.streamer.LastStream().Closed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues("chat", "CompletionProviderError")))
}

// =============================================================================
// Provider Failure Tests
// =============================================================================

func TestHandleChat_ProviderFailures(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(f *chatFixture)
		wantKind      string
		wantIndex     int
		wantCompleter int
	}{
		{
			name:     "embedding",
			setup:    func(f *chatFixture) { f.embedder.Err = errors.New("401 invalid api key sk-secret") },
			wantKind: "EmbeddingProviderError",
		},
		{
			name:      "index",
			setup:     func(f *chatFixture) { f.index.Err = errors.New("graphql: class not found") },
			wantKind:  "IndexProviderError",
			wantIndex: 1,
		},
		{
			name:          "completion open",
			setup:         func(f *chatFixture) { f.streamer.OpenErr = errors.New("429 quota exceeded") },
			wantKind:      "CompletionProviderError",
			wantIndex:     1,
			wantCompleter: 1,
		},
		{
			name:          "stream fails before first chunk",
			setup:         func(f *chatFixture) { f.streamer.StreamErr = errors.New("stream reset") },
			wantKind:      "CompletionProviderError",
			wantIndex:     1,
			wantCompleter: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(t)
			tt.setup(f)

			w := f.post(physicsQuestion, false)

			assert.Equal(t, http.StatusBadGateway, w.Code)
			detail := decodeErrorBody(t, w.Body.Bytes())
			assert.Equal(t, tt.wantKind, detail.Kind)
			assert.NotContains(t, w.Body.String(), "sk-secret")
			assert.NotContains(t, w.Body.String(), "quota")
			assert.Equal(t, tt.wantIndex, f.index.CallCount())
			assert.Equal(t, tt.wantCompleter, f.streamer.CallCount())
		})
	}
}

// =============================================================================
// SSE Tests
// =============================================================================

type sseEvent struct {
	Event string
	Data  string
}

func parseSSEEvents(t *testing.T, body string) []sseEvent {
	t.Helper()

	var events []sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))

	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.Event != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

// decodeChain unmarshals the events and verifies each hash and link.
func decodeChain(t *testing.T, raw []sseEvent) []datatypes.StreamEvent {
	t.Helper()

	out := make([]datatypes.StreamEvent, 0, len(raw))
	prev := ""
	for i, r := range raw {
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(r.Data), &ev))
		assert.Equal(t, r.Event, ev.Type)
		assert.Equal(t, prev, ev.PrevHash, "event %d should link to its predecessor", i)

		unhashed := ev
		unhashed.Hash = ""
		assert.Equal(t, computeEventHash(unhashed), ev.Hash, "event %d hash", i)

		prev = ev.Hash
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []datatypes.StreamEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestHandleChat_SSE(t *testing.T) {
	f := newChatFixture(t)
	f.index.Records = []datatypes.RetrievedRecord{drSmith}
	f.streamer.Chunks = []string{"Dr. Smith ", "", "is great."}

	w := f.post(physicsQuestion, true)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	events := decodeChain(t, parseSSEEvents(t, w.Body.String()))
	require.Equal(t, []string{"sources", "token", "token", "done"}, eventTypes(events))

	assert.Equal(t, []datatypes.SourceInfo{{Professor: "Dr. Smith", Subject: "Physics 101", Stars: 4.5, Score: 0.92}}, events[0].Sources)
	assert.Equal(t, "Dr. Smith ", events[1].Content)
	assert.Equal(t, "is great.", events[2].Content)
	assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), events[3].RequestId)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("chat_sse", "success")))
}

func TestHandleChat_SSEMidStreamError(t *testing.T) {
	f := newChatFixture(t)
	f.streamer.Chunks = []string{"Dr. Smith ", "teaches"}
	f.streamer.StreamErr = errors.New("upstream connection reset")

	w := f.post(physicsQuestion, true)

	require.Equal(t, http.StatusOK, w.Code)
	events := decodeChain(t, parseSSEEvents(t, w.Body.String()))
	require.Equal(t, []string{"sources", "token", "token", "error"}, eventTypes(events))

	assert.Empty(t, events[0].Sources)
	require.NotNil(t, events[3].Error)
	assert.Equal(t, "CompletionProviderError", events[3].Error.Kind)
	assert.NotContains(t, events[3].Error.Message, "upstream connection reset")
}

func TestHandleChat_SSEPreStreamFailureIsJSON(t *testing.T) {
	f := newChatFixture(t)
	f.index.Err = errors.New("down")

	w := f.post(physicsQuestion, true)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "IndexProviderError", decodeErrorBody(t, w.Body.Bytes()).Kind)
}

func TestHandleChat_SSEStreamFailsBeforeFirstToken(t *testing.T) {
	f := newChatFixture(t)
	f.index.Records = []datatypes.RetrievedRecord{drSmith}
	f.streamer.StreamErr = errors.New("upstream reset")

	w := f.post(physicsQuestion, true)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.NotContains(t, w.Body.String(), "event: ")
	detail := decodeErrorBody(t, w.Body.Bytes())
	assert.Equal(t, "CompletionProviderError", detail.Kind)
	assert.NotContains(t, detail.Message, "upstream reset")
	assert.Equal(t, 1, f.streamer.LastStream().Closed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues("chat_sse", "CompletionProviderError")))
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestWantsSSE(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{accept: "", want: false},
		{accept: "text/plain", want: false},
		{accept: "text/event-stream", want: true},
		{accept: "application/json, Text/Event-Stream", want: true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.accept != "" {
			req.Header.Set("Accept", tt.accept)
		}
		assert.Equal(t, tt.want, wantsSSE(req), tt.accept)
	}
}

func TestErrorDetail(t *testing.T) {
	detail := errorDetail(&rag.Error{Kind: rag.KindIndexProvider, Message: "vector index query failed", Err: errors.New("secret")})
	assert.Equal(t, datatypes.ErrorDetail{Kind: "IndexProviderError", Message: "vector index query failed"}, detail)

	internal := errorDetail(&rag.Error{Kind: rag.KindInternalAssembly, Message: "nil map in assembler"})
	assert.Equal(t, genericErrorMessage, internal.Message)

	assert.Equal(t, "InternalAssemblyError", errorDetail(nil).Kind)
}
