// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("openai is the default", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{OpenAI: OpenAIConfig{APIKey: "sk-test"}})
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, p)
	})

	t.Run("ollama", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{
			Backend: " Ollama ",
			Ollama:  OllamaConfig{BaseURL: "http://localhost:11434"},
		})
		require.NoError(t, err)
		assert.IsType(t, &OllamaClient{}, p)
	})

	t.Run("ollama without base url", func(t *testing.T) {
		t.Setenv("OLLAMA_BASE_URL", "")
		p, err := NewProvider(ProviderConfig{Backend: BackendOllama})
		assert.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Backend: "anthropic"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown LLM backend")
	})
}
