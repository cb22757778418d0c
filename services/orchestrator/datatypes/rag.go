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

// ReviewMetadata is the payload stored alongside each review vector.
type ReviewMetadata struct {
	Subject string  `json:"subject"`
	Stars   float64 `json:"stars"`
	// Review is optional; older records were ingested without review text.
	Review string `json:"review,omitempty"`
}

// RetrievedRecord is one nearest-neighbor match returned by the vector index.
//
// # Fields
//
//   - ID: Record identifier, which is the professor's name.
//   - Metadata: Subject, star rating and optional review text. Zero-valued
//     when the query was issued without metadata.
//   - Score: Similarity in [0,1], higher is closer.
type RetrievedRecord struct {
	ID       string         `json:"id"`
	Metadata ReviewMetadata `json:"metadata"`
	Score    float64        `json:"score"`
}

// SourceInfo is the client-facing view of a retrieved record, sent in the
// "sources" SSE event.
type SourceInfo struct {
	Professor string  `json:"professor"`
	Subject   string  `json:"subject,omitempty"`
	Stars     float64 `json:"stars,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

// SourcesFromRecords converts retrieved records into SourceInfo, keeping order.
func SourcesFromRecords(records []RetrievedRecord) []SourceInfo {
	sources := make([]SourceInfo, 0, len(records))
	for _, r := range records {
		sources = append(sources, SourceInfo{
			Professor: r.ID,
			Subject:   r.Metadata.Subject,
			Stars:     r.Metadata.Stars,
			Score:     r.Score,
		})
	}
	return sources
}

// VectorQuery is a top-k nearest-neighbor request against the review index.
//
// # Fields
//
//   - Vector: Query embedding.
//   - TopK: Maximum number of records to return.
//   - Namespace: Logical partition to search.
//   - IncludeMetadata: When false only identifiers and scores are fetched.
type VectorQuery struct {
	Vector          []float32
	TopK            int
	Namespace       string
	IncludeMetadata bool
}
