// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/profrag/cmd/profrag/config"
	"github.com/AleutianAI/profrag/pkg/logging"
	"github.com/AleutianAI/profrag/services/orchestrator"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP service",
		Long: `Run the chat HTTP service until SIGINT or SIGTERM.

Configuration comes from profrag.yaml (or --config), then environment
variables such as OPENAI_API_KEY, WEAVIATE_URL and PROFRAG_PORT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML config file (default "+config.DefaultPath+" if present)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Format:  cfg.Logging.Format,
		LogDir:  cfg.Logging.Dir,
		Service: "profrag",
	})
	defer logger.Close()
	logger.SetDefault()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Slog().Info("Starting profrag",
		"version", version,
		"port", cfg.Server.Port,
		"llm_backend", cfg.ModelBackend.Type,
		"chat_model", cfg.Generation.Model,
		"weaviate_url", cfg.Index.WeaviateURL,
		"namespace", cfg.Retrieval.Namespace,
		"api_key_present", cfg.ModelBackend.APIKey != "")

	svc, err := orchestrator.New(ctx, cfg.Orchestrator(version), orchestrator.Deps{})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return svc.Run(ctx)
}
