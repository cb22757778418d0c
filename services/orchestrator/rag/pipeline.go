// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rag implements the retrieval-augmented chat pipeline.
//
// A request moves through four stages, strictly in order:
//
//  1. ParseRequest turns the body into a conversation.
//  2. Retriever embeds the last user message and fetches the top-k reviews.
//  3. Assembler renders the reviews into the user's question and prepends
//     the system prompt.
//  4. Responder streams the completion into an OutputSink.
//
// Providers are injected; nothing in this package holds global clients or
// per-request state between calls.
package rag

import (
	"context"
	"time"

	"github.com/AleutianAI/profrag/services/llm"
	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("profrag.orchestrator.rag")

// StageObserver receives the duration and outcome of each pipeline stage.
type StageObserver interface {
	ObserveStage(ctx context.Context, stage string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(context.Context, string, time.Duration, error) {}

// Prepared is the output of the retrieval and assembly stages.
type Prepared struct {
	// Messages is the assembled completion input.
	Messages []datatypes.Message
	// Records are the retrieved reviews, in index order.
	Records []datatypes.RetrievedRecord
}

// Pipeline wires the stages to their providers.
//
// # Description
//
// Pipeline is stateless between requests and safe for concurrent use.
// Handlers call Prepare, then Open, then Stream; the split lets the
// transport choose its response format only after every pre-stream
// failure has been ruled out.
type Pipeline struct {
	retriever *Retriever
	assembler *Assembler
	completer llm.ChatStreamer
	params    llm.GenerationParams
	observer  StageObserver
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithGenerationParams sets sampling overrides for every completion.
func WithGenerationParams(params llm.GenerationParams) PipelineOption {
	return func(p *Pipeline) { p.params = params }
}

// WithStageObserver reports stage timings to obs.
func WithStageObserver(obs StageObserver) PipelineOption {
	return func(p *Pipeline) {
		if obs != nil {
			p.observer = obs
		}
	}
}

// NewPipeline creates a Pipeline.
//
// # Limitations
//
//   - Panics if retriever, assembler or completer is nil.
func NewPipeline(retriever *Retriever, assembler *Assembler, completer llm.ChatStreamer, opts ...PipelineOption) *Pipeline {
	if retriever == nil || assembler == nil || completer == nil {
		panic("NewPipeline: retriever, assembler and completer are required")
	}
	p := &Pipeline{
		retriever: retriever,
		assembler: assembler,
		completer: completer,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare runs retrieval and prompt assembly.
//
// # Outputs
//
//   - *Prepared: Assembled messages and the records used.
//   - error: *Error of kind EmbeddingProviderError, IndexProviderError or
//     InternalAssemblyError. Retrieval failures abort; there is no fallback
//     to an unaugmented prompt.
func (p *Pipeline) Prepare(ctx context.Context, messages []datatypes.Message) (*Prepared, error) {
	ctx, span := tracer.Start(ctx, "rag.Prepare")
	defer span.End()
	span.SetAttributes(attribute.Int("rag.messages", len(messages)))

	start := time.Now()
	records, err := p.retriever.Retrieve(ctx, messages)
	p.observer.ObserveStage(ctx, StageRetrieve, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rag.records", len(records)))

	start = time.Now()
	assembled, err := p.assembler.Assemble(messages, records)
	p.observer.ObserveStage(ctx, StageAssemble, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &Prepared{Messages: assembled, Records: records}, nil
}

// Open starts the streamed completion for an assembled conversation.
//
// An error means no text was produced, so the caller can still answer
// with a plain error response.
func (p *Pipeline) Open(ctx context.Context, prepared *Prepared) (llm.CompletionStream, error) {
	if prepared == nil || len(prepared.Messages) == 0 {
		return nil, newError(KindInternalAssembly, StageStream, "nothing to complete", nil)
	}
	start := time.Now()
	stream, err := p.completer.ChatStream(ctx, prepared.Messages, p.params)
	if err != nil {
		rerr := newError(KindCompletionProvider, StageStream, "completion provider request failed", err)
		p.observer.ObserveStage(ctx, StageOpen, time.Since(start), rerr)
		return nil, rerr
	}
	p.observer.ObserveStage(ctx, StageOpen, time.Since(start), nil)
	return stream, nil
}

// Stream forwards an opened completion into sink. See Responder.Run.
func (p *Pipeline) Stream(ctx context.Context, stream llm.CompletionStream, sink OutputSink) (StreamResult, error) {
	ctx, span := tracer.Start(ctx, "rag.Stream")
	defer span.End()

	result, err := NewResponder(stream, sink).Run(ctx)
	p.observer.ObserveStage(ctx, StageStream, result.Duration, err)

	span.SetAttributes(
		attribute.Int("stream.chunks", result.Chunks),
		attribute.Int("stream.bytes", result.Bytes),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}
