// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ragtest provides in-memory providers for testing the chat pipeline
// without network access. Every fake counts its calls and records its last
// input so tests can assert which providers were reached.
package ragtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/AleutianAI/profrag/services/llm"
	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
)

// =============================================================================
// Embedder
// =============================================================================

// Embedder returns a fixed vector or error.
type Embedder struct {
	mu        sync.Mutex
	Vector    []float32
	Err       error
	Calls     int
	LastText  string
	LastModel string
}

// NewEmbedder returns an Embedder producing a zero vector of the given size.
func NewEmbedder(dims int) *Embedder {
	return &Embedder{Vector: make([]float32, dims)}
}

func (e *Embedder) Embed(_ context.Context, text, model string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	e.LastText = text
	e.LastModel = model
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Vector, nil
}

// CallCount returns the number of Embed calls.
func (e *Embedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Calls
}

// =============================================================================
// VectorIndex
// =============================================================================

// Index returns fixed records or error.
type Index struct {
	mu        sync.Mutex
	Records   []datatypes.RetrievedRecord
	Err       error
	Calls     int
	LastQuery datatypes.VectorQuery
}

func (x *Index) Query(_ context.Context, q datatypes.VectorQuery) ([]datatypes.RetrievedRecord, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.Calls++
	x.LastQuery = q
	if x.Err != nil {
		return nil, x.Err
	}
	return x.Records, nil
}

// CallCount returns the number of Query calls.
func (x *Index) CallCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.Calls
}

// =============================================================================
// ChatStreamer
// =============================================================================

// Streamer replays canned chunks.
//
// # Fields
//
//   - Chunks: Text returned by successive Recv calls.
//   - StreamErr: When set, returned by Recv after all Chunks instead of io.EOF.
//   - OpenErr: When set, ChatStream fails without opening a stream.
//   - Block: When set, Recv after the chunks blocks until ctx is done.
type Streamer struct {
	mu           sync.Mutex
	Chunks       []string
	StreamErr    error
	OpenErr      error
	Block        bool
	Calls        int
	LastMessages []datatypes.Message
	LastParams   llm.GenerationParams
	Streams      []*Stream
}

func (s *Streamer) ChatStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (llm.CompletionStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	s.LastMessages = append([]datatypes.Message(nil), messages...)
	s.LastParams = params
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := &Stream{ctx: ctx, chunks: append([]string(nil), s.Chunks...), err: s.StreamErr, block: s.Block}
	s.Streams = append(s.Streams, st)
	return st, nil
}

// CallCount returns the number of ChatStream calls.
func (s *Streamer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// Messages returns a copy of the messages from the last ChatStream call.
func (s *Streamer) Messages() []datatypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]datatypes.Message(nil), s.LastMessages...)
}

// LastStream returns the most recently opened stream, or nil.
func (s *Streamer) LastStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Streams) == 0 {
		return nil
	}
	return s.Streams[len(s.Streams)-1]
}

// Stream is the CompletionStream handed out by Streamer.
type Stream struct {
	mu         sync.Mutex
	ctx        context.Context
	chunks     []string
	err        error
	block      bool
	pos        int
	CloseCalls int
}

// NewStream builds a standalone stream over chunks, ending with err or io.EOF.
func NewStream(chunks []string, err error) *Stream {
	return &Stream{ctx: context.Background(), chunks: chunks, err: err}
}

func (s *Stream) Recv() (datatypes.StreamChunk, error) {
	s.mu.Lock()
	if s.CloseCalls > 0 {
		s.mu.Unlock()
		return datatypes.StreamChunk{}, errors.New("recv on closed stream")
	}
	if s.pos < len(s.chunks) {
		text := s.chunks[s.pos]
		s.pos++
		s.mu.Unlock()
		return datatypes.StreamChunk{Text: text}, nil
	}
	block, ctx, err := s.block, s.ctx, s.err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return datatypes.StreamChunk{}, ctx.Err()
	}
	if err != nil {
		return datatypes.StreamChunk{}, err
	}
	return datatypes.StreamChunk{}, io.EOF
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Closed reports how many times Close was called.
func (s *Stream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// =============================================================================
// OutputSink
// =============================================================================

// Sink records everything the Responder does to it.
type Sink struct {
	mu         sync.Mutex
	Writes     []string
	Failures   []*rag.Error
	CloseCalls int
	// WriteErr, when set, is returned from Write after FailAfter writes.
	WriteErr  error
	FailAfter int
	// Events records the call order: "write", "fail", "close".
	Events []string
}

func (s *Sink) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, "write")
	if s.WriteErr != nil && len(s.Writes) >= s.FailAfter {
		return s.WriteErr
	}
	s.Writes = append(s.Writes, string(chunk))
	return nil
}

func (s *Sink) Fail(err *rag.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, "fail")
	s.Failures = append(s.Failures, err)
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, "close")
	s.CloseCalls++
	return nil
}

var (
	_ llm.Embedder         = (*Embedder)(nil)
	_ rag.VectorIndex      = (*Index)(nil)
	_ llm.ChatStreamer     = (*Streamer)(nil)
	_ llm.CompletionStream = (*Stream)(nil)
	_ rag.OutputSink       = (*Sink)(nil)
)
