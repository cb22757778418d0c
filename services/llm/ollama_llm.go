// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("profrag.llm.ollama")

const (
	// DefaultOllamaModel is the chat model used when none is configured.
	DefaultOllamaModel = "llama3.1"

	// DefaultOllamaEmbeddingModel is the embedding model used when none is configured.
	DefaultOllamaEmbeddingModel = "nomic-embed-text"

	// maxOllamaLineBytes bounds a single NDJSON frame.
	maxOllamaLineBytes = 1 << 20
)

// OllamaConfig configures an OllamaClient. Zero values select defaults.
type OllamaConfig struct {
	// BaseURL of the Ollama server. Falls back to OLLAMA_BASE_URL.
	BaseURL        string
	Model          string
	EmbeddingModel string
	// Timeout bounds embedding calls only; chat streams are bounded by ctx.
	Timeout time.Duration
}

// OllamaClient implements Embedder and ChatStreamer on a local Ollama server.
type OllamaClient struct {
	httpClient     *http.Client
	streamClient   *http.Client
	baseURL        string
	model          string
	embeddingModel string
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []datatypes.Message    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ollamaStreamChunk is one NDJSON line of a streamed /api/chat response.
type ollamaStreamChunk struct {
	Message   datatypes.Message `json:"message"`
	CreatedAt string            `json:"created_at"`
	Done      bool              `json:"done"`
	Error     string            `json:"error,omitempty"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewOllamaClient creates an Ollama-backed client.
//
// # Description
//
// The base URL comes from cfg or OLLAMA_BASE_URL and is required. Model
// names default to DefaultOllamaModel and DefaultOllamaEmbeddingModel.
//
// # Outputs
//
//   - *OllamaClient: Ready client.
//   - error: Non-nil when no base URL is configured.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	model := cfg.Model
	if model == "" {
		slog.Warn("Ollama model not set, defaulting", "model", DefaultOllamaModel)
		model = DefaultOllamaModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultOllamaEmbeddingModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "default_model", model)
	return &OllamaClient{
		httpClient:     &http.Client{Timeout: timeout},
		streamClient:   &http.Client{},
		baseURL:        baseURL,
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

// Embed implements Embedder using POST /api/embed.
func (o *OllamaClient) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = o.embeddingModel
	}
	ctx, span := tracer.Start(ctx, "OllamaClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.embedding_model", model))

	fail := func(err error) ([]float32, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: text})
	if err != nil {
		return fail(fmt.Errorf("failed to marshal embed request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("failed to create embed request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("Ollama embed call failed: %w", err))
	}
	defer resp.Body.Close()

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fail(fmt.Errorf("failed to decode Ollama embed response (status %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("Ollama embed returned status %d: %s", resp.StatusCode, parsed.Error))
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return fail(ErrEmptyEmbedding)
	}
	return parsed.Embeddings[0], nil
}

// ChatStream implements ChatStreamer using POST /api/chat with stream=true.
//
// # Description
//
// Returns once Ollama has answered with 200 and the NDJSON body is open.
// A non-200 answer is read in full and reported as an error, so nothing is
// streamed in that case.
//
// # Limitations
//
//   - Ollama reports mid-stream failures as an {"error": ...} line; those
//     surface from Recv, not from ChatStream.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (CompletionStream, error) {

	model := o.model
	if params.Model != "" {
		model = params.Model
	}
	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	fail := func(err error) (CompletionStream, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  ollamaOptions(params),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal request to Ollama: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("failed to create request to Ollama: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.streamClient.Do(req)
	if err != nil {
		slog.Error("Ollama API call failed", "error", err)
		return fail(fmt.Errorf("Ollama API call failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail(fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOllamaLineBytes)
	return &ollamaStream{body: resp.Body, scanner: scanner}, nil
}

func ollamaOptions(params GenerationParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	if len(options) == 0 {
		return nil
	}
	return options
}

// ollamaStream reads NDJSON frames from an open /api/chat response.
type ollamaStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// Recv returns the next chunk, io.EOF after the done frame, or an error if
// the body ends early, a frame is malformed, or Ollama reports an error.
func (s *ollamaStream) Recv() (datatypes.StreamChunk, error) {
	if s.done {
		return datatypes.StreamChunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return datatypes.StreamChunk{}, fmt.Errorf("malformed Ollama stream frame: %w", err)
		}
		if chunk.Error != "" {
			return datatypes.StreamChunk{}, fmt.Errorf("Ollama stream error: %s", chunk.Error)
		}
		if chunk.Done {
			s.done = true
			if chunk.Message.Content != "" {
				return datatypes.StreamChunk{Text: chunk.Message.Content}, nil
			}
			return datatypes.StreamChunk{}, io.EOF
		}
		return datatypes.StreamChunk{Text: chunk.Message.Content}, nil
	}
	if err := s.scanner.Err(); err != nil {
		return datatypes.StreamChunk{}, fmt.Errorf("reading Ollama stream: %w", err)
	}
	return datatypes.StreamChunk{}, io.ErrUnexpectedEOF
}

func (s *ollamaStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

var (
	_ Embedder     = (*OllamaClient)(nil)
	_ ChatStreamer = (*OllamaClient)(nil)
)
