// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// ErrFlusherUnsupported is returned when the ResponseWriter cannot flush.
var ErrFlusherUnsupported = errors.New("ResponseWriter does not support http.Flusher")

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes chat stream events as Server-Sent Events.
//
// # Description
//
// Every event is serialized as
//
//	event: {type}
//	data: {json}
//
// and flushed immediately. Each event is assigned:
//   - Id: UUID v4
//   - CreatedAt: Unix milliseconds
//   - Hash: SHA-256 over the event content
//   - PrevHash: Hash of the previous event
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Assumptions
//
//   - SetSSEHeaders was called before the first event.
type SSEWriter interface {
	// WriteEvent fills in the event metadata and writes it.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteSources sends the retrieved professors, before any token.
	WriteSources(sources []datatypes.SourceInfo) error

	// WriteToken sends one completion chunk.
	WriteToken(content string) error

	// WriteError sends the in-band error event. The message must already
	// be safe to show to the client.
	WriteError(detail datatypes.ErrorDetail) error

	// WriteDone sends the final event of a successful stream.
	WriteDone(requestID string) error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: Pushes each event to the client
//   - prevHash: Hash of the last written event
//   - mu: Serializes writes and the hash chain
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter creates an SSEWriter for w.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write events.
//   - error: ErrFlusherUnsupported if w cannot flush.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    return err
//	}
//	writer.WriteToken("Dr. Smith")
//	writer.WriteDone(requestID)
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrFlusherUnsupported
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash returns the hex SHA-256 of an event's content.
//
// # Description
//
// The hash input is the pipe-joined metadata (Id, Type, CreatedAt,
// PrevHash), the content fields (Content, error kind and message,
// RequestId) and the JSON of Sources. A client recomputing it over the
// received fields can detect a dropped or altered event.
//
// # Assumptions
//
//   - event.Hash is not yet set.
func computeEventHash(event datatypes.StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	errKind, errMsg := "", ""
	if event.Error != nil {
		errKind, errMsg = event.Error.Kind, event.Error.Message
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		errKind,
		errMsg,
		event.RequestId,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventSources,
		Sources: sources,
	})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventToken,
		Content: content,
	})
}

func (w *sseWriter) WriteError(detail datatypes.ErrorDetail) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.StreamEventError,
		Error: &detail,
	})
}

func (w *sseWriter) WriteDone(requestID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.StreamEventDone,
		RequestId: requestID,
	})
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders sets the headers for a Server-Sent Events response:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before anything is written to w.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
