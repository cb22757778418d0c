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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openaiTracer = otel.Tracer("profrag.llm.openai")

const (
	// DefaultOpenAIChatModel is used when no chat model is configured.
	DefaultOpenAIChatModel = "gpt-4o-mini"

	// DefaultOpenAIEmbeddingModel is used when Embed is called without a model.
	DefaultOpenAIEmbeddingModel = string(openai.SmallEmbedding3)

	openAISecretPath = "/run/secrets/openai_api_key"
)

// OpenAIConfig configures an OpenAIClient. Zero values select defaults.
type OpenAIConfig struct {
	// APIKey falls back to OPENAI_API_KEY, then to the mounted secret file.
	APIKey string
	// BaseURL overrides the API endpoint (Azure proxies, test servers).
	BaseURL string
	// Model is the chat model, default gpt-4o-mini.
	Model string
	// EmbeddingModel is the default embedding model, default text-embedding-3-small.
	EmbeddingModel string
}

// OpenAIClient implements Embedder and ChatStreamer on the OpenAI API.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
}

// NewOpenAIClient creates an OpenAI-backed client.
//
// # Description
//
// Resolves the API key from cfg, then OPENAI_API_KEY, then the secret file
// at /run/secrets/openai_api_key. No network call is made here; a bad key
// surfaces on the first request as a provider authentication error.
//
// # Outputs
//
//   - *OpenAIClient: Ready client.
//   - error: Non-nil when no API key can be found.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKeyBytes, err := os.ReadFile(openAISecretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", openAISecretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API key from the secrets mount")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIChatModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultOpenAIEmbeddingModel
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	slog.Info("Initializing OpenAI client", "model", model, "embedding_model", embeddingModel)
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

// Embed implements Embedder.
func (o *OpenAIClient) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = o.embeddingModel
	}
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.embedding_model", model))

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		span.SetStatus(codes.Error, ErrEmptyEmbedding.Error())
		return nil, ErrEmptyEmbedding
	}

	span.SetAttributes(attribute.Int("llm.embedding_dims", len(resp.Data[0].Embedding)))
	return resp.Data[0].Embedding, nil
}

// ChatStream implements ChatStreamer.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (CompletionStream, error) {

	model := o.model
	if params.Model != "" {
		model = params.Model
	}
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(messages)),
	)

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI streaming call failed", "error", err)
		return nil, fmt.Errorf("OpenAI streaming call failed: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

func toOpenAIMessages(messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// openAIStream adapts go-openai's stream reader to CompletionStream.
type openAIStream struct {
	stream    *openai.ChatCompletionStream
	closeOnce sync.Once
	closeErr  error
}

func (s *openAIStream) Recv() (datatypes.StreamChunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return datatypes.StreamChunk{}, io.EOF
		}
		return datatypes.StreamChunk{}, fmt.Errorf("OpenAI stream failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return datatypes.StreamChunk{}, nil
	}
	return datatypes.StreamChunk{Text: resp.Choices[0].Delta.Content}, nil
}

func (s *openAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

var (
	_ Embedder     = (*OpenAIClient)(nil)
	_ ChatStreamer = (*OpenAIClient)(nil)
)
