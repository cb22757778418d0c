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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

// askOptions are the ask command's flags.
type askOptions struct {
	server  string
	sources bool
}

func newAskCmd() *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a running profrag service for a recommendation",
		Long: `Send one user question to a running profrag service and stream the
reply to stdout. With --sources the reply is requested as Server-Sent Events
and the professors it was grounded on are listed after the answer.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultAskTimeout)
			defer cancel()
			question := strings.Join(args, " ")
			return runAsk(ctx, http.DefaultClient, opts, question, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:12210", "profrag service base URL")
	cmd.Flags().BoolVar(&opts.sources, "sources", false, "list the professors the answer was grounded on")
	return cmd
}

// runAsk posts the question and copies the streamed answer to out.
func runAsk(ctx context.Context, client *http.Client, opts *askOptions, question string, out io.Writer) error {
	body, err := json.Marshal([]datatypes.Message{{Role: datatypes.RoleUser, Content: question}})
	if err != nil {
		return fmt.Errorf("encode question: %w", err)
	}

	url := strings.TrimRight(opts.server, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.sources {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contact %s: %w", opts.server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if opts.sources {
		return copyEvents(resp.Body, out)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	fmt.Fprintln(out)
	return nil
}

// responseError turns a JSON error body into an error.
func responseError(resp *http.Response) error {
	var payload datatypes.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error.Kind == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s: %s", resp.Status, payload.Error.Kind, payload.Error.Message)
}

// copyEvents prints token events as they arrive and the sources at the end.
func copyEvents(r io.Reader, out io.Writer) error {
	var sources []datatypes.SourceInfo
	done := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev datatypes.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		switch ev.Type {
		case datatypes.StreamEventSources:
			sources = ev.Sources
		case datatypes.StreamEventToken:
			fmt.Fprint(out, ev.Content)
		case datatypes.StreamEventError:
			fmt.Fprintln(out)
			if ev.Error != nil {
				return fmt.Errorf("stream failed: %s: %s", ev.Error.Kind, ev.Error.Message)
			}
			return errors.New("stream failed")
		case datatypes.StreamEventDone:
			done = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	if !done {
		return errors.New("stream ended without completion")
	}

	fmt.Fprintln(out)
	if len(sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for i, s := range sources {
			fmt.Fprintf(out, "  %d. %s", i+1, s.Professor)
			if s.Subject != "" {
				fmt.Fprintf(out, " (%s, %.1f stars)", s.Subject, s.Stars)
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}
