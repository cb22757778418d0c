// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/profrag/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 12210, cfg.Server.Port)
	assert.Equal(t, "text-embedding-3-small", cfg.Retrieval.EmbeddingModel)
	assert.Equal(t, 1536, cfg.Retrieval.Dimensions)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "ns1", cfg.Retrieval.Namespace)
	assert.Equal(t, "ProfessorReview", cfg.Index.Class)
	assert.Equal(t, "sk-test", cfg.ModelBackend.APIKey)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, `
model_backend:
  type: ollama
  base_url: http://ollama:11434
retrieval:
  embedding_model: nomic-embed-text
  dimensions: 768
  top_k: 5
  namespace: ns1
generation:
  model: llama3
  temperature: 0.2
server:
  shutdown_timeout: 30s
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, llm.BackendOllama, cfg.ModelBackend.Type)
	assert.Equal(t, 768, cfg.Retrieval.Dimensions)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	require.NotNil(t, cfg.Generation.Temperature)
	assert.InDelta(t, 0.2, *cfg.Generation.Temperature, 1e-6)
	assert.Equal(t, 12210, cfg.Server.Port, "unset fields keep defaults")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "retrieval:\n  topk: 5\n")

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

// =============================================================================
// ApplyEnv Tests
// =============================================================================

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := DefaultConfig()

	err := ApplyEnv(&cfg, envMap(map[string]string{
		"OPENAI_API_KEY":          "sk-env",
		"WEAVIATE_URL":            "http://weaviate:8080",
		"PROFRAG_PORT":            "9000",
		"PROFRAG_TOP_K":           "7",
		"PROFRAG_NAMESPACE":       "ns2",
		"PROFRAG_RATE_LIMIT_RPS":  "2.5",
		"PROFRAG_CHAT_MODEL":      "gpt-4o",
		"PROFRAG_EMBEDDING_MODEL": "text-embedding-3-large",
		"PROFRAG_LOG_LEVEL":       "   ",
	}))

	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.ModelBackend.APIKey)
	assert.Equal(t, "http://weaviate:8080", cfg.Index.WeaviateURL)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, "ns2", cfg.Retrieval.Namespace)
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, "gpt-4o", cfg.Generation.Model)
	assert.Equal(t, "text-embedding-3-large", cfg.Retrieval.EmbeddingModel)
	assert.Equal(t, "info", cfg.Logging.Level, "blank values are ignored")
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	tests := []struct {
		key string
		val string
	}{
		{"PROFRAG_PORT", "eighty"},
		{"PROFRAG_TOP_K", "3.5"},
		{"PROFRAG_RATE_LIMIT_RPS", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			err := ApplyEnv(&cfg, envMap(map[string]string{tt.key: tt.val}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidate_FieldConstraints(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProfragConfig)
		field  string
	}{
		{"bad backend", func(c *ProfragConfig) { c.ModelBackend.Type = "claude" }, "Type"},
		{"zero top k", func(c *ProfragConfig) { c.Retrieval.TopK = 0 }, "TopK"},
		{"bad url", func(c *ProfragConfig) { c.Index.WeaviateURL = "weaviate" }, "WeaviateURL"},
		{"bad port", func(c *ProfragConfig) { c.Server.Port = 70000 }, "Port"},
		{"bad exporter", func(c *ProfragConfig) { c.Telemetry.TraceExporter = "jaeger" }, "TraceExporter"},
		{"empty namespace", func(c *ProfragConfig) { c.Retrieval.Namespace = "" }, "Namespace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ModelBackend.APIKey = "sk-test"
			tt.mutate(&cfg)

			err := Validate(cfg)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_DefaultsPass(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

// =============================================================================
// Conversion Tests
// =============================================================================

func TestOrchestrator_OpenAI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelBackend.APIKey = "sk-test"
	cfg.Generation.SystemPrompt = "Be brief."

	out := cfg.Orchestrator("1.2.3")

	assert.Equal(t, llm.BackendOpenAI, out.LLM.Backend)
	assert.Equal(t, "sk-test", out.LLM.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", out.LLM.OpenAI.Model)
	assert.Equal(t, "text-embedding-3-small", out.LLM.OpenAI.EmbeddingModel)
	assert.Equal(t, "gpt-4o-mini", out.Generation.Model)
	assert.Equal(t, "Be brief.", out.SystemPrompt)
	assert.Equal(t, "ns1", out.Retrieval.Namespace)
	assert.Equal(t, "1.2.3", out.Telemetry.ServiceVersion)
	assert.False(t, out.DisableMetrics)
}

func TestOrchestrator_Ollama(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelBackend = BackendConfig{Type: llm.BackendOllama, BaseURL: "http://ollama:11434", Timeout: time.Minute}
	cfg.Generation.Model = "llama3"

	out := cfg.Orchestrator("dev")

	assert.Equal(t, "http://ollama:11434", out.LLM.Ollama.BaseURL)
	assert.Equal(t, "llama3", out.LLM.Ollama.Model)
	assert.Equal(t, time.Minute, out.LLM.Ollama.Timeout)
	assert.Empty(t, out.LLM.OpenAI.APIKey)
}

func TestDefaultConfig_RoundTripsThroughYAML(t *testing.T) {
	data, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)

	var cfg ProfragConfig
	require.NoError(t, decode(data, &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}
