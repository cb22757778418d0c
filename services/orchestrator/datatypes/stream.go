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

// StreamChunk is one incremental fragment of a streamed completion.
//
// Chunks are delivered in provider order. Concatenating Text across all
// chunks of a stream yields the full assistant reply. Text may be empty
// for provider frames that carry only role or finish information.
type StreamChunk struct {
	Text string
}

// SSE event types emitted on the chat stream.
const (
	StreamEventSources = "sources"
	StreamEventToken   = "token"
	StreamEventError   = "error"
	StreamEventDone    = "done"
)

// StreamEvent is the JSON envelope of one Server-Sent Event.
//
// # Description
//
// Id, CreatedAt, Hash and PrevHash are filled in by the SSE writer. Hash
// covers the event content and PrevHash links to the previous event, so a
// client can verify that no event was dropped or reordered.
//
// # Fields
//
//   - Id: UUID v4 of the event.
//   - Type: One of the StreamEvent* constants.
//   - CreatedAt: Unix milliseconds.
//   - Content: Token text (type "token").
//   - Sources: Retrieved professors (type "sources").
//   - Error: Error detail (type "error").
//   - RequestId: Request identifier (type "done").
//   - Hash, PrevHash: Hex SHA-256 chain.
type StreamEvent struct {
	Id        string       `json:"id"`
	Type      string       `json:"type"`
	CreatedAt int64        `json:"created_at"`
	Content   string       `json:"content,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	RequestId string       `json:"request_id,omitempty"`
	Hash      string       `json:"hash"`
	PrevHash  string       `json:"prev_hash,omitempty"`
}

// ErrorDetail carries a failure kind and a client-safe message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body of every non-streamed error response.
//
//	{"error": {"kind": "MalformedRequest", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}
