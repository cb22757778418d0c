// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StageMetrics records pipeline stage latency with OpenTelemetry
// instruments. It implements rag.StageObserver.
//
// # Description
//
// Two instruments are created on the given meter:
//   - profrag.rag.stage.duration (histogram, seconds)
//   - profrag.rag.stage.failures (counter)
//
// Both carry a "stage" attribute; failures also carry "kind".
type StageMetrics struct {
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

// NewStageMetrics creates the stage instruments on meter.
func NewStageMetrics(meter metric.Meter) (*StageMetrics, error) {
	duration, err := meter.Float64Histogram(
		"profrag.rag.stage.duration",
		metric.WithDescription("Duration of chat pipeline stages"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage duration histogram: %w", err)
	}

	failures, err := meter.Int64Counter(
		"profrag.rag.stage.failures",
		metric.WithDescription("Failed chat pipeline stages by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage failure counter: %w", err)
	}

	return &StageMetrics{duration: duration, failures: failures}, nil
}

// ObserveStage implements rag.StageObserver.
func (s *StageMetrics) ObserveStage(ctx context.Context, stage string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, rag.ErrClientGone) {
			outcome = "client_gone"
		}
		s.failures.Add(ctx, 1, metric.WithAttributes(
			stageAttr(stage),
			attribute.String("kind", string(rag.KindOf(err))),
		))
	}
	s.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		stageAttr(stage),
		attribute.String("outcome", outcome),
	))
}

var _ rag.StageObserver = (*StageMetrics)(nil)
