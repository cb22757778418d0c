// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/observability"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/AleutianAI/profrag/services/orchestrator/rag/ragtest"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider joins the ragtest embedder and streamer into one provider.
type fakeProvider struct {
	*ragtest.Embedder
	*ragtest.Streamer
}

func newFakeProvider(chunks ...string) fakeProvider {
	return fakeProvider{
		Embedder: ragtest.NewEmbedder(rag.DefaultEmbeddingDimensions),
		Streamer: &ragtest.Streamer{Chunks: chunks},
	}
}

func testConfig() Config {
	return Config{
		DisableMetrics: true,
		Telemetry: observability.TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
		},
	}
}

func testIndex() *ragtest.Index {
	return &ragtest.Index{Records: []datatypes.RetrievedRecord{
		{ID: "r1", Metadata: datatypes.ReviewMetadata{Subject: "Calculus", Stars: 5, Review: "Clear lectures."}, Score: 0.9},
	}}
}

func newTestService(t *testing.T, cfg Config, deps Deps) Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, deps)
	require.NoError(t, err)
	return svc
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	// Arrange
	cfg := Config{}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 12210, result.Port, "default port should be 12210")
	assert.Equal(t, 10*time.Second, result.ShutdownTimeout)
	assert.Zero(t, result.RateLimitBurst, "burst stays unset when limiting is off")
	assert.Equal(t, "profrag", result.Telemetry.ServiceName)
	assert.Equal(t, "none", result.Telemetry.TraceExporter)
	assert.Equal(t, "prometheus", result.Telemetry.MetricExporter)
	assert.Equal(t, 1.0, result.Telemetry.SampleRate)
	assert.False(t, result.DisableMetrics, "metrics should be enabled by default")
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	// Arrange
	cfg := Config{
		Port:            9000,
		RateLimitRPS:    2,
		RateLimitBurst:  4,
		ShutdownTimeout: time.Minute,
		Telemetry: observability.TelemetryConfig{
			ServiceName:   "profrag-staging",
			TraceExporter: "otlp",
			OTLPEndpoint:  "collector:4317",
			SampleRate:    0.25,
		},
	}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 9000, result.Port)
	assert.Equal(t, 4, result.RateLimitBurst)
	assert.Equal(t, time.Minute, result.ShutdownTimeout)
	assert.Equal(t, "profrag-staging", result.Telemetry.ServiceName)
	assert.Equal(t, "otlp", result.Telemetry.TraceExporter)
	assert.Equal(t, "collector:4317", result.Telemetry.OTLPEndpoint)
	assert.Equal(t, 0.25, result.Telemetry.SampleRate)
}

func TestApplyConfigDefaults_BurstDefaultsWhenLimited(t *testing.T) {
	result := applyConfigDefaults(Config{RateLimitRPS: 5})
	assert.Equal(t, 10, result.RateLimitBurst)
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_RequiresWeaviateURL(t *testing.T) {
	// Arrange: no injected index and no URL
	deps := Deps{Provider: newFakeProvider()}

	// Act
	svc, err := New(context.Background(), testConfig(), deps)

	// Assert
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "weaviate URL is required")
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Backend = "carrier-pigeon"

	svc, err := New(context.Background(), cfg, Deps{Index: testIndex()})

	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "LLM provider")
}

func TestNew_BuildsWeaviateIndexFromURL(t *testing.T) {
	cfg := testConfig()
	cfg.WeaviateURL = "http://127.0.0.1:1"

	svc := newTestService(t, cfg, Deps{Provider: newFakeProvider()})

	assert.NotNil(t, svc.Router())
}

func TestNew_RegistersRoutes(t *testing.T) {
	svc := newTestService(t, testConfig(), Deps{Provider: newFakeProvider(), Index: testIndex()})

	paths := map[string]bool{}
	for _, r := range svc.Router().Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	assert.True(t, paths["GET /health"])
	assert.True(t, paths["GET /ready"])
	assert.True(t, paths["POST /api/chat"])
	assert.True(t, paths["POST /v1/chat"])
	assert.False(t, paths["GET /metrics"], "metrics disabled in test config")
}

// =============================================================================
// End-to-end Tests
// =============================================================================

func TestService_ChatStreamsCompletion(t *testing.T) {
	// Arrange
	provider := newFakeProvider("Try ", "Calculus.")
	index := testIndex()
	cfg := testConfig()
	cfg.SystemPrompt = "You recommend professors."
	svc := newTestService(t, cfg, Deps{
		Provider: provider,
		Index:    index,
		Metrics:  observability.NewStreamingMetrics(prometheus.NewRegistry()),
	})

	// Act
	w := httptest.NewRecorder()
	body := `[{"role":"user","content":"Who teaches calculus well?"}]`
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Try Calculus.", w.Body.String())
	assert.Equal(t, 1, provider.Embedder.CallCount())
	assert.Equal(t, 1, index.CallCount())

	sent := provider.Streamer.Messages()
	require.NotEmpty(t, sent)
	assert.Equal(t, datatypes.RoleSystem, sent[0].Role)
	assert.Equal(t, "You recommend professors.", sent[0].Content)
	assert.Contains(t, sent[len(sent)-1].Content, "Clear lectures.")
}

func TestService_ChatMalformedRequest(t *testing.T) {
	provider := newFakeProvider("unused")
	svc := newTestService(t, testConfig(), Deps{Provider: provider, Index: testIndex()})

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"not":"an array"}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, provider.Embedder.CallCount(), "no provider call on malformed input")
}

func TestService_ChatRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	svc := newTestService(t, cfg, Deps{Provider: newFakeProvider("ok"), Index: testIndex()})

	body := `[{"role":"user","content":"hi"}]`
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health is not rate limited")
}

func TestService_ServeShutsDownOnCancel(t *testing.T) {
	// Arrange
	svc := newTestService(t, testConfig(), Deps{Provider: newFakeProvider(), Index: testIndex()})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	// Act
	resp, err := http.Get(fmt.Sprintf("http://%s/health", ln.Addr().String()))
	require.NoError(t, err)
	payload, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	cancel()

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(payload), "ok")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
