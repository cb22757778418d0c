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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultReviewClass is the Weaviate class holding professor review vectors.
const DefaultReviewClass = "ProfessorReview"

// Review class property names. The index adapter builds its field list and
// namespace filter from these.
const (
	ReviewPropProfessor = "professor"
	ReviewPropSubject   = "subject"
	ReviewPropStars     = "stars"
	ReviewPropReview    = "review"
	ReviewPropNamespace = "namespace"
)

// GetProfessorReviewSchema returns the class definition for review vectors.
//
// # Description
//
// Vectors are supplied by the ingestion pipeline, so the class has no
// vectorizer. The namespace property partitions one class into logical
// indexes and is filterable with exact (field) tokenization.
//
// # Inputs
//
//   - className: Class name. Empty selects DefaultReviewClass.
//
// # Outputs
//
//   - *models.Class: Schema ready for ClassCreator.
func GetProfessorReviewSchema(className string) *models.Class {
	if className == "" {
		className = DefaultReviewClass
	}
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A student review of a professor, embedded for semantic search.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            ReviewPropProfessor,
				DataType:        []string{"text"},
				Description:     "Professor name; the record identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         ReviewPropSubject,
				DataType:     []string{"text"},
				Description:  "Course or subject the review refers to.",
				Tokenization: "word",
			},
			{
				Name:        ReviewPropStars,
				DataType:    []string{"number"},
				Description: "Star rating, 0 to 5.",
			},
			{
				Name:         ReviewPropReview,
				DataType:     []string{"text"},
				Description:  "Free-form review text. Optional.",
				Tokenization: "word",
			},
			{
				Name:            ReviewPropNamespace,
				DataType:        []string{"text"},
				Description:     "Logical partition of the index.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureWeaviateSchema creates any of the given classes that do not exist yet.
//
// # Description
//
// Existing classes are left untouched; property drift is not reconciled.
//
// # Inputs
//
//   - ctx: Context for the schema calls.
//   - client: Connected Weaviate client.
//   - classes: Class definitions to ensure.
//
// # Outputs
//
//   - error: Non-nil if a missing class could not be created.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client, classes ...*models.Class) error {
	for _, class := range classes {
		slog.Info("Checking schema", "class", class.Class)

		// The client returns an error when the class does not exist.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			slog.Info("Schema already exists", "class", class.Class)
			continue
		}

		slog.Info("Schema not found, creating it...", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create schema for class %s: %w", class.Class, err)
		}
		slog.Info("Successfully created schema", "class", class.Class)
	}
	return nil
}
