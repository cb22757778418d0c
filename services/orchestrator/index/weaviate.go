// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index adapts Weaviate to the review index used by the chat
// pipeline: nearest-neighbor queries, readiness checks and schema setup.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("profrag.orchestrator.index")

// ErrNotReady is returned by Ready when Weaviate answers but is not ready.
var ErrNotReady = errors.New("weaviate is not ready")

// NewWeaviateClient builds a client from a URL such as http://weaviate:8080.
//
// # Description
//
// Quotes and whitespace around the URL are stripped, since the value often
// comes from env files. No request is made; use WeaviateIndex.Ready to
// check connectivity.
//
// # Outputs
//
//   - *weaviate.Client: Client for the given host.
//   - error: Non-nil if the URL has no scheme or host.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	trimmed := strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}

// WeaviateIndex serves review queries from a Weaviate class.
//
// # Description
//
// Each namespace is a value of the class's namespace property, so one class
// holds every logical index. Queries are nearVector searches restricted to
// that value.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client pools connections.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateIndex wraps client. An empty className selects
// datatypes.DefaultReviewClass.
func NewWeaviateIndex(client *weaviate.Client, className string) *WeaviateIndex {
	if client == nil {
		panic("NewWeaviateIndex: client is required")
	}
	if className == "" {
		className = datatypes.DefaultReviewClass
	}
	return &WeaviateIndex{client: client, className: className}
}

// ClassName returns the Weaviate class queried by this index.
func (w *WeaviateIndex) ClassName() string { return w.className }

// Query returns up to q.TopK reviews nearest to q.Vector within q.Namespace.
//
// # Description
//
// Builds a GraphQL Get with nearVector, a namespace filter and limit=TopK.
// Subject, stars and review are requested only when q.IncludeMetadata is
// set. Records are returned in the order Weaviate ranked them.
//
// # Outputs
//
//   - []datatypes.RetrievedRecord: Matches, possibly empty.
//   - error: Transport failures, GraphQL errors and undecodable responses.
//
// # Limitations
//
//   - Score is the certainty Weaviate reports, which is only defined for
//     cosine distance (the class default). If certainty is missing from a
//     hit the score is 1 - distance/2.
func (w *WeaviateIndex) Query(ctx context.Context, q datatypes.VectorQuery) ([]datatypes.RetrievedRecord, error) {
	ctx, span := tracer.Start(ctx, "index.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("index.class", w.className),
		attribute.String("index.namespace", q.Namespace),
		attribute.Int("index.top_k", q.TopK),
	)

	if q.TopK <= 0 {
		return []datatypes.RetrievedRecord{}, nil
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(q.Vector)

	namespaceFilter := filters.Where().
		WithPath([]string{datatypes.ReviewPropNamespace}).
		WithOperator(filters.Equal).
		WithValueString(q.Namespace)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(queryFields(q.IncludeMetadata)...).
		WithWhere(namespaceFilter).
		WithNearVector(nearVector).
		WithLimit(q.TopK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if msgs := datatypes.GraphQLErrorMessages(result); len(msgs) > 0 {
		err := fmt.Errorf("weaviate search returned errors: %s", strings.Join(msgs, "; "))
		span.RecordError(err)
		span.SetStatus(codes.Error, "graphql errors")
		return nil, err
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ProfessorReviewQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	hits := parsed.Results(w.className)
	records := make([]datatypes.RetrievedRecord, 0, len(hits))
	for _, hit := range hits {
		records = append(records, hit.ToRecord())
	}
	span.SetAttributes(attribute.Int("index.results", len(records)))
	slog.Debug("Review search finished", "class", w.className, "namespace", q.Namespace, "results", len(records))
	return records, nil
}

// Ready reports whether Weaviate is up and ready to serve queries.
func (w *WeaviateIndex) Ready(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness check failed: %w", err)
	}
	if !ready {
		return ErrNotReady
	}
	return nil
}

// EnsureSchema creates the review class if it does not exist.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	return datatypes.EnsureWeaviateSchema(ctx, w.client, datatypes.GetProfessorReviewSchema(w.className))
}

func queryFields(includeMetadata bool) []graphql.Field {
	fields := []graphql.Field{{Name: datatypes.ReviewPropProfessor}}
	if includeMetadata {
		fields = append(fields,
			graphql.Field{Name: datatypes.ReviewPropSubject},
			graphql.Field{Name: datatypes.ReviewPropStars},
			graphql.Field{Name: datatypes.ReviewPropReview},
		)
	}
	return append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
		{Name: "distance"},
	}})
}
