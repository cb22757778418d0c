// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm contains the model-provider clients used by the chat pipeline:
// text embedding and streamed chat completion, backed by OpenAI or Ollama.
package llm

import (
	"context"
	"errors"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("provider returned no embedding")

// GenerationParams are optional sampling overrides for a completion.
// Nil fields leave the provider default in place.
type GenerationParams struct {
	// Model overrides the client's configured chat model when non-empty.
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Embedder turns text into a vector.
//
// # Description
//
// One synchronous request per call. Implementations never retry; a failed
// call is reported to the caller as-is.
//
// # Inputs
//
//   - ctx: Cancellation for the provider call.
//   - text: Text to embed.
//   - model: Embedding model identifier. Empty selects the client default.
//
// # Outputs
//
//   - []float32: The embedding vector.
//   - error: Provider, transport, or decoding failure.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// ChatStreamer starts a streamed chat completion.
//
// # Description
//
// ChatStream sends the full message list and returns once the provider has
// accepted the request. Text then arrives through the returned
// CompletionStream. An error from ChatStream means nothing was streamed.
type ChatStreamer interface {
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams) (CompletionStream, error)
}

// CompletionStream is a pull-based sequence of completion chunks.
//
// Recv blocks until the next chunk is available. It returns io.EOF when the
// provider signals normal completion and any other error when the stream
// failed. Close releases the underlying connection and must be called on
// every exit path; it is safe to call more than once.
type CompletionStream interface {
	Recv() (datatypes.StreamChunk, error)
	Close() error
}
