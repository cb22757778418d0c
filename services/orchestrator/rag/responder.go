// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/profrag/services/llm"
)

// ErrClientGone marks a stream that ended because the client went away,
// either through context cancellation or a failed write.
var ErrClientGone = errors.New("client disconnected")

// StreamState is the lifecycle state of a Responder.
type StreamState int32

const (
	// StateStreaming: chunks are being forwarded.
	StateStreaming StreamState = iota
	// StateClosed: the provider finished and the sink was closed normally.
	StateClosed
	// StateErrored: the stream failed and the sink was put in its error state.
	StateErrored
)

func (s StreamState) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("StreamState(%d)", int32(s))
	}
}

// OutputSink receives the streamed reply.
//
// # Description
//
// The Responder calls Write once per non-empty chunk, in order, from a
// single goroutine. On failure it calls Fail exactly once. Close is always
// the last call, after either normal completion or Fail.
//
// Implementations decide how an error state reaches the transport: an
// in-band error event, an aborted connection, or a JSON error response if
// nothing was written yet.
type OutputSink interface {
	Write(chunk []byte) error
	Fail(err *Error)
	Close() error
}

// StreamResult summarizes a finished stream for logging and metrics.
type StreamResult struct {
	Chunks           int
	Bytes            int
	TimeToFirstChunk time.Duration
	Duration         time.Duration
}

// Responder forwards one completion stream into one sink.
//
// # Description
//
// A Responder is a small state machine:
//
//	Streaming --(provider io.EOF)----------------> Closed
//	Streaming --(provider error, cancel, write)--> Errored
//
// Closed and Errored are terminal. On every exit path the provider stream
// is closed and then the sink is closed, so no connection outlives Run.
//
// # Thread Safety
//
// Run must be called once, from one goroutine. State may be read
// concurrently.
type Responder struct {
	stream llm.CompletionStream
	sink   OutputSink
	state  atomic.Int32
	ran    atomic.Bool
}

// NewResponder binds a provider stream to an output sink.
//
// # Limitations
//
//   - Panics if stream or sink is nil.
func NewResponder(stream llm.CompletionStream, sink OutputSink) *Responder {
	if stream == nil {
		panic("NewResponder: stream must not be nil")
	}
	if sink == nil {
		panic("NewResponder: sink must not be nil")
	}
	r := &Responder{stream: stream, sink: sink}
	r.state.Store(int32(StateStreaming))
	return r
}

// State returns the current lifecycle state.
func (r *Responder) State() StreamState {
	return StreamState(r.state.Load())
}

// Run pumps chunks from the provider into the sink until the stream ends.
//
// # Description
//
// Each received chunk with non-empty text is written to the sink before the
// next one is requested, so at most one chunk is in flight and emission
// order equals arrival order. Empty chunks are skipped. Bytes already
// written are never retracted.
//
// # Inputs
//
//   - ctx: Request context. Cancellation ends the stream in StateErrored.
//
// # Outputs
//
//   - StreamResult: Counters for the chunks that were delivered.
//   - error: nil when the provider completed normally. Otherwise an *Error
//     of kind CompletionProviderError; client disconnects also match
//     ErrClientGone via errors.Is.
func (r *Responder) Run(ctx context.Context) (result StreamResult, err error) {
	if !r.ran.CompareAndSwap(false, true) {
		return StreamResult{}, newError(KindInternalAssembly, StageStream, "responder already ran", nil)
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)
		if err := r.stream.Close(); err != nil {
			slog.Debug("Closing completion stream failed", "error", err)
		}
		if err := r.sink.Close(); err != nil {
			slog.Debug("Closing output sink failed", "error", err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return result, r.fail("stream cancelled", fmt.Errorf("%w: %w", ErrClientGone, err))
		}

		chunk, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			r.state.Store(int32(StateClosed))
			return result, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, r.fail("stream cancelled", fmt.Errorf("%w: %w", ErrClientGone, err))
			}
			return result, r.fail("completion provider stream failed", err)
		}
		if chunk.Text == "" {
			continue
		}

		data := []byte(chunk.Text)
		if err := r.sink.Write(data); err != nil {
			return result, r.fail("writing to client failed", fmt.Errorf("%w: %w", ErrClientGone, err))
		}
		if result.Chunks == 0 {
			result.TimeToFirstChunk = time.Since(start)
		}
		result.Chunks++
		result.Bytes += len(data)
	}
}

// fail moves the responder to StateErrored and notifies the sink.
func (r *Responder) fail(message string, cause error) *Error {
	rerr := newError(KindCompletionProvider, StageStream, message, cause)
	r.state.Store(int32(StateErrored))
	r.sink.Fail(rerr)
	return rerr
}
