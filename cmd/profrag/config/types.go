// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/profrag/services/llm"
	"github.com/AleutianAI/profrag/services/orchestrator"
	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/observability"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
)

// ProfragConfig is the profrag.yaml document.
type ProfragConfig struct {
	// Server: HTTP listener and request limits
	Server ServerConfig `yaml:"server"`

	// ModelBackend: which provider embeds and completes, "openai" or "ollama"
	ModelBackend BackendConfig `yaml:"model_backend"`

	// Index: the Weaviate review index
	Index IndexConfig `yaml:"index"`

	// Retrieval: query embedding and top-k search
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Generation: chat model and sampling
	Generation GenerationConfig `yaml:"generation"`

	// Telemetry: traces and metrics
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging: level, format and optional log directory
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	GinMode         string        `yaml:"gin_mode,omitempty" validate:"omitempty,oneof=debug release test"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" validate:"min=0"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" validate:"min=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type BackendConfig struct {
	// Type is "openai" or "ollama"
	Type string `yaml:"type" validate:"oneof=openai ollama"`

	// BaseURL overrides the provider endpoint, e.g. http://ollama:11434
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// APIKey is normally supplied through OPENAI_API_KEY, not the file.
	APIKey string `yaml:"api_key,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type IndexConfig struct {
	WeaviateURL  string `yaml:"weaviate_url" validate:"required,url"`
	Class        string `yaml:"class" validate:"required"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

type RetrievalConfig struct {
	EmbeddingModel string `yaml:"embedding_model" validate:"required"`
	Dimensions     int    `yaml:"dimensions" validate:"min=0"`
	TopK           int    `yaml:"top_k" validate:"min=1,max=50"`
	Namespace      string `yaml:"namespace" validate:"required"`
}

type GenerationConfig struct {
	Model        string   `yaml:"model" validate:"required"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	Temperature  *float32 `yaml:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	TopP         *float32 `yaml:"top_p,omitempty" validate:"omitempty,min=0,max=1"`
	MaxTokens    *int     `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
}

type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string  `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleRate     float64 `yaml:"sample_rate" validate:"min=0,max=1"`
	Metrics        bool    `yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
	Dir    string `yaml:"dir,omitempty"`
}

// DefaultConfig returns the configuration used when profrag.yaml is absent.
func DefaultConfig() ProfragConfig {
	return ProfragConfig{
		Server: ServerConfig{
			Port:            orchestrator.DefaultPort,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		ModelBackend: BackendConfig{
			Type: llm.BackendOpenAI,
		},
		Index: IndexConfig{
			WeaviateURL: "http://localhost:8080",
			Class:       datatypes.DefaultReviewClass,
		},
		Retrieval: RetrievalConfig{
			EmbeddingModel: rag.DefaultEmbeddingModel,
			Dimensions:     rag.DefaultEmbeddingDimensions,
			TopK:           rag.DefaultTopK,
			Namespace:      rag.DefaultNamespace,
		},
		Generation: GenerationConfig{
			Model: "gpt-4o-mini",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			SampleRate:     1.0,
			Metrics:        true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Orchestrator converts the file configuration into orchestrator.Config.
func (c ProfragConfig) Orchestrator(version string) orchestrator.Config {
	provider := llm.ProviderConfig{Backend: c.ModelBackend.Type}
	switch c.ModelBackend.Type {
	case llm.BackendOllama:
		provider.Ollama = llm.OllamaConfig{
			BaseURL:        c.ModelBackend.BaseURL,
			Model:          c.Generation.Model,
			EmbeddingModel: c.Retrieval.EmbeddingModel,
			Timeout:        c.ModelBackend.Timeout,
		}
	default:
		provider.OpenAI = llm.OpenAIConfig{
			APIKey:         c.ModelBackend.APIKey,
			BaseURL:        c.ModelBackend.BaseURL,
			Model:          c.Generation.Model,
			EmbeddingModel: c.Retrieval.EmbeddingModel,
		}
	}

	return orchestrator.Config{
		Port:    c.Server.Port,
		GinMode: c.Server.GinMode,
		LLM:     provider,
		Generation: llm.GenerationParams{
			Model:       c.Generation.Model,
			Temperature: c.Generation.Temperature,
			TopP:        c.Generation.TopP,
			MaxTokens:   c.Generation.MaxTokens,
		},
		WeaviateURL:  c.Index.WeaviateURL,
		ReviewClass:  c.Index.Class,
		EnsureSchema: c.Index.EnsureSchema,
		Retrieval: rag.RetrieverConfig{
			EmbeddingModel: c.Retrieval.EmbeddingModel,
			Dimensions:     c.Retrieval.Dimensions,
			TopK:           c.Retrieval.TopK,
			Namespace:      c.Retrieval.Namespace,
		},
		SystemPrompt: c.Generation.SystemPrompt,
		Telemetry: observability.TelemetryConfig{
			ServiceName:    "profrag",
			ServiceVersion: version,
			TraceExporter:  c.Telemetry.TraceExporter,
			MetricExporter: c.Telemetry.MetricExporter,
			OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
			SampleRate:     c.Telemetry.SampleRate,
		},
		DisableMetrics:  !c.Telemetry.Metrics,
		RateLimitRPS:    c.Server.RateLimitRPS,
		RateLimitBurst:  c.Server.RateLimitBurst,
		MaxBodyBytes:    c.Server.MaxBodyBytes,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}
