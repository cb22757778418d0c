// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/profrag/services/llm"
	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultEmbeddingModel is the embedding model the review index was built with.
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimensions is the vector size of DefaultEmbeddingModel.
	DefaultEmbeddingDimensions = 1536
	// DefaultTopK is the number of reviews retrieved per question.
	DefaultTopK = 3
	// DefaultNamespace is the index partition holding the reviews.
	DefaultNamespace = "ns1"
)

// VectorIndex answers nearest-neighbor queries over the review index.
//
// Implementations return records ordered by descending similarity and must
// not treat an empty result as an error.
type VectorIndex interface {
	Query(ctx context.Context, q datatypes.VectorQuery) ([]datatypes.RetrievedRecord, error)
}

// RetrieverConfig fixes the retrieval parameters for a deployment.
type RetrieverConfig struct {
	// EmbeddingModel is sent with every embedding request.
	EmbeddingModel string
	// Dimensions is the expected vector length. 0 accepts any non-empty vector.
	Dimensions int
	// TopK is the number of records requested and the most ever accepted.
	TopK int
	// Namespace is the index partition to search.
	Namespace string
}

// DefaultRetrieverConfig returns the production retrieval settings.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		EmbeddingModel: DefaultEmbeddingModel,
		Dimensions:     DefaultEmbeddingDimensions,
		TopK:           DefaultTopK,
		Namespace:      DefaultNamespace,
	}
}

// Retriever embeds the user's question and fetches the closest reviews.
//
// # Description
//
// Retriever holds no per-request state and is safe for concurrent use as
// long as its Embedder and VectorIndex are.
//
// # Fields
//
//   - embedder: Produces the query vector.
//   - index: Answers the top-k query.
//   - config: Model, dimensionality, k and namespace.
type Retriever struct {
	embedder llm.Embedder
	index    VectorIndex
	config   RetrieverConfig
}

// NewRetriever creates a Retriever.
//
// # Inputs
//
//   - embedder: Required.
//   - index: Required.
//   - cfg: Zero fields take DefaultRetrieverConfig values.
//
// # Outputs
//
//   - *Retriever: Ready retriever.
//
// # Limitations
//
//   - Panics if embedder or index is nil.
func NewRetriever(embedder llm.Embedder, index VectorIndex, cfg RetrieverConfig) *Retriever {
	if embedder == nil {
		panic("NewRetriever: embedder must not be nil")
	}
	if index == nil {
		panic("NewRetriever: index must not be nil")
	}
	defaults := DefaultRetrieverConfig()
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaults.EmbeddingModel
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaults.Namespace
	}
	return &Retriever{embedder: embedder, index: index, config: cfg}
}

// Config returns the effective retrieval settings.
func (r *Retriever) Config() RetrieverConfig { return r.config }

// Retrieve returns the top-k reviews for the last message of the conversation.
//
// # Description
//
// Embeds the last message's content with the configured model, then asks
// the index for the k nearest records in the configured namespace with
// metadata. Nothing is retried.
//
// # Inputs
//
//   - ctx: Cancellation for both provider calls.
//   - messages: Parsed conversation, at least one message.
//
// # Outputs
//
//   - []datatypes.RetrievedRecord: At most k records, in index order.
//     Empty (not nil) when nothing matched.
//   - error: *Error of kind EmbeddingProviderError or IndexProviderError.
//
// # Assumptions
//
//   - messages went through ParseRequest, so the last one is the user query.
func (r *Retriever) Retrieve(ctx context.Context, messages []datatypes.Message) ([]datatypes.RetrievedRecord, error) {
	if len(messages) == 0 {
		return nil, newError(KindInternalAssembly, StageEmbed, "no query message", nil)
	}
	query := messages[len(messages)-1].Content

	vector, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, vector)
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "rag.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("embedding.model", r.config.EmbeddingModel))

	vector, err := r.embedder.Embed(ctx, text, r.config.EmbeddingModel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Embedding request failed", "model", r.config.EmbeddingModel, "error", err)
		return nil, newError(KindEmbeddingProvider, StageEmbed, "embedding provider request failed", err)
	}

	switch {
	case len(vector) == 0:
		err = fmt.Errorf("empty embedding vector")
	case r.config.Dimensions > 0 && len(vector) != r.config.Dimensions:
		err = fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), r.config.Dimensions)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Embedding rejected", "model", r.config.EmbeddingModel, "error", err)
		return nil, newError(KindEmbeddingProvider, StageEmbed, "embedding provider returned an unexpected vector", err)
	}

	span.SetAttributes(attribute.Int("embedding.dims", len(vector)))
	return vector, nil
}

func (r *Retriever) query(ctx context.Context, vector []float32) ([]datatypes.RetrievedRecord, error) {
	ctx, span := tracer.Start(ctx, "rag.QueryIndex")
	defer span.End()
	span.SetAttributes(
		attribute.Int("index.top_k", r.config.TopK),
		attribute.String("index.namespace", r.config.Namespace),
	)

	records, err := r.index.Query(ctx, datatypes.VectorQuery{
		Vector:          vector,
		TopK:            r.config.TopK,
		Namespace:       r.config.Namespace,
		IncludeMetadata: true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Vector index query failed", "namespace", r.config.Namespace, "error", err)
		return nil, newError(KindIndexProvider, StageQuery, "vector index query failed", err)
	}

	if len(records) > r.config.TopK {
		slog.Warn("Vector index returned more records than requested, truncating",
			"requested", r.config.TopK, "returned", len(records))
		records = records[:r.config.TopK]
	}
	if records == nil {
		records = []datatypes.RetrievedRecord{}
	}

	span.SetAttributes(attribute.Int("index.results", len(records)))
	return records, nil
}
