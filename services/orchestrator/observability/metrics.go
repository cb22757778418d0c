// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics, tracing setup and instrumentation
// for the chat service.
//
// # Description
//
// Two metric families are exported on /metrics:
//   - StreamingMetrics: Prometheus client_golang counters, histograms and
//     gauges for chat requests and their streams.
//   - StageMetrics: OpenTelemetry instruments for per-stage pipeline
//     latency, bridged into the same registry by the OTel Prometheus
//     exporter.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "profrag"

// Subsystem for chat streaming metrics
const streamingSubsystem = "chat"

// StreamingMetrics holds all Prometheus metrics for streaming chat operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring the chat endpoint.
// Create once at startup via InitMetrics (default registry) or
// NewStreamingMetrics (custom registry, used in tests).
//
// # Fields
//
//   - RequestsTotal: Chat requests by endpoint and status
//   - ErrorsTotal: Failed requests by endpoint and error kind
//   - ChunksTotal: Completion chunks delivered to clients
//   - TimeToFirstChunkSeconds: Latency from request start to first chunk
//   - StreamDurationSeconds: Total stream duration
//   - ActiveStreams: Streams currently open
//   - ClientDisconnectsTotal: Streams ended by the client going away
//   - RecordsRetrieved: Number of reviews returned by the index per request
type StreamingMetrics struct {
	// RequestsTotal counts chat requests by endpoint and status.
	// Labels: endpoint (chat, chat_sse), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts failed requests by error kind.
	// Labels: endpoint, kind (MalformedRequest, IndexProviderError, ...)
	ErrorsTotal *prometheus.CounterVec

	// ChunksTotal counts chunks written to clients.
	// Labels: endpoint
	ChunksTotal *prometheus.CounterVec

	// TimeToFirstChunkSeconds measures latency to the first chunk.
	// Labels: endpoint
	TimeToFirstChunkSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// RecordsRetrieved observes how many reviews each query returned.
	RecordsRetrieved prometheus.Histogram
}

// DefaultMetrics is the instance registered with the default registry.
// Initialized by InitMetrics().
var DefaultMetrics *StreamingMetrics

// InitMetrics creates the metrics and registers them with the default
// Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *StreamingMetrics {
	DefaultMetrics = NewStreamingMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewStreamingMetrics creates the metrics and registers them with reg.
//
// # Inputs
//
//   - reg: Target registerer. Tests pass a fresh prometheus.NewRegistry().
//
// # Limitations
//
//   - Panics if the metrics are already registered with reg.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)
	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total failed chat requests by endpoint and error kind",
			},
			[]string{"endpoint", "kind"},
		),

		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "chunks_total",
				Help:      "Total completion chunks delivered to clients",
			},
			[]string{"endpoint"},
		),

		TimeToFirstChunkSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first streamed chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open chat streams",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		RecordsRetrieved: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "records_retrieved",
				Help:      "Number of reviews returned by the vector index per request",
				Buckets:   []float64{0, 1, 2, 3, 5, 10},
			},
		),
	}
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels the response format a chat request was served with.
type Endpoint string

const (
	// EndpointChat is the plain-text streaming response.
	EndpointChat Endpoint = "chat"

	// EndpointChatSSE is the Server-Sent Events response.
	EndpointChatSSE Endpoint = "chat_sse"
)

// =============================================================================
// Helper Methods
// =============================================================================

// The methods below are no-ops on a nil receiver so handlers can run
// without metrics.

// RecordRequest records a finished chat request.
func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a failed request by error kind.
func (m *StreamingMetrics) RecordError(endpoint Endpoint, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), kind).Inc()
}

// RecordChunks adds n delivered chunks.
func (m *StreamingMetrics) RecordChunks(endpoint Endpoint, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksTotal.WithLabelValues(string(endpoint)).Add(float64(n))
}

// StreamStarted increments the active streams gauge.
func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstChunk records the time to first chunk latency.
func (m *StreamingMetrics) RecordTimeToFirstChunk(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *StreamingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordRetrieved observes the number of retrieved reviews.
func (m *StreamingMetrics) RecordRetrieved(n int) {
	if m == nil {
		return
	}
	m.RecordsRetrieved.Observe(float64(n))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
