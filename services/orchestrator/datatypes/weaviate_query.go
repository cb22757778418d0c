// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse converts a Weaviate GraphQL response into a typed struct.
//
// # Description
//
// The client returns response data as nested maps. Round-tripping through
// JSON lets callers declare the shape they expect with struct tags instead
// of walking map[string]interface{} by hand.
//
// # Inputs
//
//   - resp: Response returned by GraphQL().Get()...Do(ctx).
//
// # Outputs
//
//   - *T: Parsed response.
//   - error: Non-nil if resp is nil or the data does not fit T.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("ProfessorReview").Do(ctx)
//	if err != nil { ... }
//	parsed, err := ParseGraphQLResponse[ProfessorReviewQueryResponse](resp)
//
// # Limitations
//
//   - Missing fields decode as zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// GraphQLErrorMessages flattens the error list of a GraphQL response.
// Returns nil when the response carries no errors.
func GraphQLErrorMessages(resp *models.GraphQLResponse) []string {
	if resp == nil || len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

// =============================================================================
// ProfessorReview Response Types
// =============================================================================

// ProfessorReviewQueryResponse is the response of a Get query against a
// review class. The inner key is the class name, which is configurable, so
// it is kept as a map.
type ProfessorReviewQueryResponse struct {
	Get map[string][]ProfessorReviewResult `json:"Get"`
}

// Results returns the hits for className, in the order Weaviate returned them.
func (r *ProfessorReviewQueryResponse) Results(className string) []ProfessorReviewResult {
	if r == nil || r.Get == nil {
		return nil
	}
	return r.Get[className]
}

// ProfessorReviewResult is a single review object returned by nearVector search.
type ProfessorReviewResult struct {
	Professor  string                 `json:"professor"`
	Subject    string                 `json:"subject"`
	Stars      float64                `json:"stars"`
	Review     string                 `json:"review"`
	Additional ProfessorReviewAddition `json:"_additional"`
}

// ProfessorReviewAddition holds the `_additional` block of a search hit.
// Certainty and Distance are pointers because Weaviate omits whichever one
// was not requested.
type ProfessorReviewAddition struct {
	ID        string   `json:"id"`
	Certainty *float64 `json:"certainty"`
	Distance  *float64 `json:"distance"`
}

// Score returns the similarity of the hit in [0,1].
//
// Certainty is preferred. When only a distance is present the score is
// 1 - distance/2, which is how Weaviate derives certainty from cosine
// distance, so hits with and without certainty rank on the same scale.
func (a ProfessorReviewAddition) Score() float64 {
	switch {
	case a.Certainty != nil:
		return *a.Certainty
	case a.Distance != nil:
		return 1 - *a.Distance/2
	default:
		return 0
	}
}

// ToRecord converts a search hit into a RetrievedRecord.
func (r ProfessorReviewResult) ToRecord() RetrievedRecord {
	return RetrievedRecord{
		ID: r.Professor,
		Metadata: ReviewMetadata{
			Subject: r.Subject,
			Stars:   r.Stars,
			Review:  r.Review,
		},
		Score: r.Additional.Score(),
	}
}
