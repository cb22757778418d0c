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
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "profrag",
		Short: "Professor recommendations grounded in student reviews",
		Long: `profrag answers questions about professors by retrieving the most
relevant student reviews from a vector index and streaming a chat model's
recommendation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"dotenv file loaded before configuration; a missing file is ignored")

	rootCmd.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadEnvFile loads KEY=VALUE pairs without overriding variables that are
// already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the profrag version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "profrag %s\n", version)
		},
	}
}

// defaultAskTimeout bounds a whole ask round trip, streaming included.
const defaultAskTimeout = 2 * time.Minute
