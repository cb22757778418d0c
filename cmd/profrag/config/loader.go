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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. A missing default
// file is not an error.
const DefaultPath = "profrag.yaml"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration for the serve command.
//
// # Description
//
// Layers, later wins:
//  1. DefaultConfig()
//  2. The YAML file at path (DefaultPath when empty)
//  3. Environment variables, see ApplyEnv
//
// The result is validated before it is returned.
//
// # Inputs
//
//   - path: Config file. An explicit path that does not exist is an error.
//
// # Outputs
//
//   - ProfragConfig: Validated configuration.
//   - error: Read, parse, env or validation failure.
func Load(path string) (ProfragConfig, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg and rejects unknown keys.
func decode(data []byte, cfg *ProfragConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables.
//
// # Variables
//
//   - OPENAI_API_KEY: model_backend.api_key
//   - WEAVIATE_URL: index.weaviate_url
//   - OTEL_EXPORTER_OTLP_ENDPOINT: telemetry.otlp_endpoint
//   - PROFRAG_PORT: server.port
//   - PROFRAG_LLM_BACKEND: model_backend.type
//   - PROFRAG_LLM_BASE_URL: model_backend.base_url
//   - PROFRAG_CHAT_MODEL: generation.model
//   - PROFRAG_EMBEDDING_MODEL: retrieval.embedding_model
//   - PROFRAG_NAMESPACE: retrieval.namespace
//   - PROFRAG_TOP_K: retrieval.top_k
//   - PROFRAG_RATE_LIMIT_RPS: server.rate_limit_rps
//   - PROFRAG_TRACE_EXPORTER: telemetry.trace_exporter
//   - PROFRAG_LOG_LEVEL: logging.level
//
// # Inputs
//
//   - lookup: os.LookupEnv in production. Empty values are ignored.
func ApplyEnv(cfg *ProfragConfig, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"OPENAI_API_KEY", &cfg.ModelBackend.APIKey},
		{"WEAVIATE_URL", &cfg.Index.WeaviateURL},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint},
		{"PROFRAG_LLM_BACKEND", &cfg.ModelBackend.Type},
		{"PROFRAG_LLM_BASE_URL", &cfg.ModelBackend.BaseURL},
		{"PROFRAG_CHAT_MODEL", &cfg.Generation.Model},
		{"PROFRAG_EMBEDDING_MODEL", &cfg.Retrieval.EmbeddingModel},
		{"PROFRAG_NAMESPACE", &cfg.Retrieval.Namespace},
		{"PROFRAG_TRACE_EXPORTER", &cfg.Telemetry.TraceExporter},
		{"PROFRAG_LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, s := range strs {
		if v, ok := get(s.key); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PROFRAG_PORT", &cfg.Server.Port},
		{"PROFRAG_TOP_K", &cfg.Retrieval.TopK},
	}
	for _, i := range ints {
		if v, ok := get(i.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", i.key, v, err)
			}
			*i.dst = n
		}
	}

	if v, ok := get("PROFRAG_RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PROFRAG_RATE_LIMIT_RPS %q: %w", v, err)
		}
		cfg.Server.RateLimitRPS = f
	}
	return nil
}

// Validate checks field constraints. Credentials are resolved later by the
// provider, which also reads the /run/secrets mount.
func Validate(cfg ProfragConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
