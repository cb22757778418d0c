// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ rag.VectorIndex = (*WeaviateIndex)(nil)

// fakeWeaviate serves the subset of the Weaviate REST API the index uses.
type fakeWeaviate struct {
	mu            sync.Mutex
	graphqlQuery  []string
	graphqlBody   string
	graphqlStatus int
	notReady      bool
	classCreated  string
}

func (f *fakeWeaviate) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/meta", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"hostname":"http://[::]:8080","version":"1.35.2","modules":{}}`)
	})
	mux.HandleFunc("/v1/.well-known/ready", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.notReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/graphql", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.graphqlQuery = append(f.graphqlQuery, body.Query)
		status, resp := f.graphqlStatus, f.graphqlBody
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	})
	mux.HandleFunc("/v1/schema/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/v1/schema", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var class struct {
			Class string `json:"class"`
		}
		_ = json.Unmarshal(body, &class)
		f.mu.Lock()
		f.classCreated = class.Class
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	return mux
}

func (f *fakeWeaviate) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.graphqlQuery) == 0 {
		return ""
	}
	return f.graphqlQuery[len(f.graphqlQuery)-1]
}

func newTestIndex(t *testing.T, fake *fakeWeaviate) *WeaviateIndex {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := NewWeaviateClient(server.URL)
	require.NoError(t, err)
	return NewWeaviateIndex(client, "")
}

const drSmithResponse = `{"data":{"Get":{"ProfessorReview":[
	{"professor":"Dr. Smith","subject":"Physics 101","stars":4.5,"review":"Clear lectures.",
	 "_additional":{"id":"0b7a1c1e-0000-0000-0000-000000000001","certainty":0.92,"distance":0.16}},
	{"professor":"Prof. Lee","subject":"Physics 102","stars":3,"review":"",
	 "_additional":{"id":"0b7a1c1e-0000-0000-0000-000000000002","distance":0.4}}
]}}}`

func TestWeaviateIndex_Query(t *testing.T) {
	fake := &fakeWeaviate{graphqlBody: drSmithResponse}
	idx := newTestIndex(t, fake)

	records, err := idx.Query(context.Background(), datatypes.VectorQuery{
		Vector:          []float32{0.1, 0.2, 0.3},
		TopK:            3,
		Namespace:       "ns1",
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Dr. Smith", records[0].ID)
	assert.Equal(t, "Physics 101", records[0].Metadata.Subject)
	assert.Equal(t, 4.5, records[0].Metadata.Stars)
	assert.InDelta(t, 0.92, records[0].Score, 1e-9)

	assert.Equal(t, "Prof. Lee", records[1].ID)
	assert.InDelta(t, 0.8, records[1].Score, 1e-9)

	query := fake.lastQuery()
	assert.Contains(t, query, "ProfessorReview")
	assert.Contains(t, query, "nearVector")
	assert.Contains(t, query, "ns1")
	assert.Contains(t, query, "subject")
	assert.Contains(t, query, "stars")
}

func TestWeaviateIndex_QueryWithoutMetadata(t *testing.T) {
	fake := &fakeWeaviate{graphqlBody: `{"data":{"Get":{"ProfessorReview":[]}}}`}
	idx := newTestIndex(t, fake)

	records, err := idx.Query(context.Background(), datatypes.VectorQuery{
		Vector: []float32{1}, TopK: 3, Namespace: "ns1",
	})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	query := fake.lastQuery()
	assert.Contains(t, query, "professor")
	assert.NotContains(t, query, "subject")
	assert.NotContains(t, query, "stars")
}

func TestWeaviateIndex_QueryZeroTopK(t *testing.T) {
	fake := &fakeWeaviate{}
	idx := newTestIndex(t, fake)

	records, err := idx.Query(context.Background(), datatypes.VectorQuery{Vector: []float32{1}, TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, fake.lastQuery())
}

func TestWeaviateIndex_QueryErrors(t *testing.T) {
	t.Run("graphql errors", func(t *testing.T) {
		fake := &fakeWeaviate{graphqlBody: `{"data":{"Get":{"ProfessorReview":null}},"errors":[{"message":"no such class"}]}`}
		idx := newTestIndex(t, fake)

		_, err := idx.Query(context.Background(), datatypes.VectorQuery{Vector: []float32{1}, TopK: 3, Namespace: "ns1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no such class")
	})

	t.Run("server error", func(t *testing.T) {
		fake := &fakeWeaviate{graphqlStatus: http.StatusInternalServerError, graphqlBody: `{"error":[{"message":"boom"}]}`}
		idx := newTestIndex(t, fake)

		_, err := idx.Query(context.Background(), datatypes.VectorQuery{Vector: []float32{1}, TopK: 3, Namespace: "ns1"})
		require.Error(t, err)
	})
}

func TestWeaviateIndex_Ready(t *testing.T) {
	fake := &fakeWeaviate{}
	idx := newTestIndex(t, fake)
	assert.NoError(t, idx.Ready(context.Background()))

	fake.mu.Lock()
	fake.notReady = true
	fake.mu.Unlock()
	assert.ErrorIs(t, idx.Ready(context.Background()), ErrNotReady)
}

func TestWeaviateIndex_EnsureSchema(t *testing.T) {
	fake := &fakeWeaviate{}
	idx := newTestIndex(t, fake)

	require.NoError(t, idx.EnsureSchema(context.Background()))
	assert.Equal(t, datatypes.DefaultReviewClass, fake.classCreated)
}

func TestNewWeaviateClient_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "weaviate:8080", "://nope"} {
		_, err := NewWeaviateClient(raw)
		assert.Error(t, err, raw)
	}

	_, err := NewWeaviateClient(`"http://weaviate:8080"`)
	assert.NoError(t, err)
}

func TestNewWeaviateIndex(t *testing.T) {
	assert.Panics(t, func() { NewWeaviateIndex(nil, "") })

	client, err := NewWeaviateClient("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "Reviews", NewWeaviateIndex(client, "Reviews").ClassName())
	assert.Equal(t, datatypes.DefaultReviewClass, NewWeaviateIndex(client, "").ClassName())
}
