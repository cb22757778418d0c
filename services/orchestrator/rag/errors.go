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
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure by the stage that produced it.
type Kind string

const (
	// KindMalformedRequest means the request body was rejected by the parser.
	KindMalformedRequest Kind = "MalformedRequest"
	// KindEmbeddingProvider means the embedding call failed or returned a bad vector.
	KindEmbeddingProvider Kind = "EmbeddingProviderError"
	// KindIndexProvider means the vector index query failed.
	KindIndexProvider Kind = "IndexProviderError"
	// KindCompletionProvider means the completion call or its stream failed.
	KindCompletionProvider Kind = "CompletionProviderError"
	// KindInternalAssembly means a pipeline invariant was broken.
	KindInternalAssembly Kind = "InternalAssemblyError"
)

// Stage names, used in error values, logs and span names.
const (
	StageParse    = "parse"
	StageEmbed    = "embed"
	StageQuery    = "query"
	StageAssemble = "assemble"
	StageStream   = "stream"
)

// Observed stages. Retrieve spans embed and query; open is the completion
// request up to its first response.
const (
	StageRetrieve = "retrieve"
	StageOpen     = "open"
)

// Error is a classified pipeline failure.
//
// # Description
//
// Message is safe to show to the client. Err keeps the underlying cause for
// logs and errors.Is/As, and is never serialized.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the response status for this error kind.
func (e *Error) HTTPStatus() int { return HTTPStatus(e.Kind) }

// newError builds a classified error.
func newError(kind Kind, stage, message string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, Err: err}
}

// HTTPStatus maps an error kind to its HTTP status code.
//
//	MalformedRequest                           -> 400
//	Embedding/Index/CompletionProviderError    -> 502
//	InternalAssemblyError and anything unknown -> 500
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindMalformedRequest:
		return http.StatusBadRequest
	case KindEmbeddingProvider, KindIndexProvider, KindCompletionProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsError classifies any error. Errors that are not *Error become
// InternalAssemblyError, since every expected failure is classified at
// the stage that produced it.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	return newError(KindInternalAssembly, "unknown", "internal error", err)
}

// KindOf returns the Kind of err, or "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}
