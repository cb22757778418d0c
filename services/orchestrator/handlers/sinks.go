// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Plain Text Sink
// =============================================================================

// plainSink streams the reply as chunked text/plain.
//
// # Description
//
// Headers are committed by the first Write, so a failure before any chunk
// still becomes a JSON error response with the kind's status code. Once a
// byte has been sent the status is fixed at 200, and the only honest way
// to signal failure is to break the connection: Aborted reports that case
// and the handler then panics with http.ErrAbortHandler. The client sees a
// truncated chunked body instead of a clean end of stream.
//
// # Thread Safety
//
// Not safe for concurrent use. The Responder drives it from one goroutine.
type plainSink struct {
	c       *gin.Context
	started bool
	failure *rag.Error
}

func newPlainSink(c *gin.Context) *plainSink {
	return &plainSink{c: c}
}

func (s *plainSink) commit() {
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Accel-Buffering", "no")
	s.c.Writer.WriteHeader(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.started = true
}

func (s *plainSink) Write(chunk []byte) error {
	if !s.started {
		s.commit()
	}
	if _, err := s.c.Writer.Write(chunk); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	s.c.Writer.Flush()
	return nil
}

func (s *plainSink) Fail(err *rag.Error) {
	s.failure = err
}

func (s *plainSink) Close() error {
	switch {
	case s.failure != nil && !s.started:
		s.c.AbortWithStatusJSON(s.failure.HTTPStatus(), datatypes.ErrorResponse{Error: errorDetail(s.failure)})
	case s.failure == nil && !s.started:
		// The model produced no text; still a complete, empty reply.
		s.commit()
	}
	return nil
}

// Aborted reports whether the stream failed after bytes were sent.
func (s *plainSink) Aborted() bool {
	return s.failure != nil && s.started
}

// =============================================================================
// SSE Sink
// =============================================================================

// sseSink streams the reply as Server-Sent Events.
//
// # Description
//
// Event order on the wire is always:
//
//	sources, token*, (error | done)
//
// Like plainSink, nothing is written until the first chunk or a successful
// Close, so a failure before any token still becomes a JSON error response
// with the kind's status code. After the sources event has been sent a
// failure is reported in-band as an error event and done is omitted.
type sseSink struct {
	c         *gin.Context
	writer    SSEWriter
	requestID string
	sources   []datatypes.SourceInfo
	started   bool
	failure   *rag.Error
}

// newSSESink wraps the gin writer.
//
// # Outputs
//
//   - *sseSink: Ready to stream. Nothing has been written yet.
//   - error: ErrFlusherUnsupported if the writer cannot flush.
func newSSESink(c *gin.Context, requestID string, sources []datatypes.SourceInfo) (*sseSink, error) {
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []datatypes.SourceInfo{}
	}
	return &sseSink{c: c, writer: writer, requestID: requestID, sources: sources}, nil
}

func (s *sseSink) start() error {
	if s.started {
		return nil
	}
	s.started = true
	SetSSEHeaders(s.c.Writer)
	return s.writer.WriteSources(s.sources)
}

func (s *sseSink) Write(chunk []byte) error {
	if err := s.start(); err != nil {
		return err
	}
	return s.writer.WriteToken(string(chunk))
}

func (s *sseSink) Fail(err *rag.Error) {
	s.failure = err
	if !s.started || errors.Is(err, rag.ErrClientGone) {
		return
	}
	if werr := s.writer.WriteError(errorDetail(err)); werr != nil {
		slog.Debug("Writing error event failed", "error", werr)
	}
}

func (s *sseSink) Close() error {
	switch {
	case s.failure != nil && !s.started:
		if !errors.Is(s.failure, rag.ErrClientGone) {
			s.c.AbortWithStatusJSON(s.failure.HTTPStatus(), datatypes.ErrorResponse{Error: errorDetail(s.failure)})
		}
		return nil
	case s.failure != nil:
		return nil
	}
	if err := s.start(); err != nil {
		return err
	}
	return s.writer.WriteDone(s.requestID)
}

var (
	_ rag.OutputSink = (*plainSink)(nil)
	_ rag.OutputSink = (*sseSink)(nil)
)
