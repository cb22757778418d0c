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
	"fmt"
	"strings"
)

// Supported provider backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Provider is a backend that can both embed and stream completions.
type Provider interface {
	Embedder
	ChatStreamer
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	// Backend is "openai" (default) or "ollama".
	Backend string
	OpenAI  OpenAIConfig
	Ollama  OllamaConfig
}

// NewProvider builds the configured backend.
//
// # Outputs
//
//   - Provider: OpenAIClient or OllamaClient.
//   - error: Unknown backend or client construction failure.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendOpenAI:
		client, err := NewOpenAIClient(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return client, nil
	case BackendOllama:
		client, err := NewOllamaClient(cfg.Ollama)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown LLM backend %q (want %q or %q)", cfg.Backend, BackendOpenAI, BackendOllama)
	}
}
