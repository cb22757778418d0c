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
	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
	"github.com/AleutianAI/profrag/services/orchestrator/rag"
	"github.com/gin-gonic/gin"
)

// genericErrorMessage replaces messages of unclassified failures.
const genericErrorMessage = "An error occurred while processing your request"

// errorDetail converts a pipeline error into its client-facing form.
//
// # Description
//
// rag.Error.Message is written at the stage that classified the failure
// and never contains the provider's own error text, which stays in Err for
// logs. InternalAssemblyError messages are replaced entirely, since they
// may describe program state.
func errorDetail(err *rag.Error) datatypes.ErrorDetail {
	if err == nil {
		return datatypes.ErrorDetail{Kind: string(rag.KindInternalAssembly), Message: genericErrorMessage}
	}
	msg := err.Message
	if err.Kind == rag.KindInternalAssembly || msg == "" {
		msg = genericErrorMessage
	}
	return datatypes.ErrorDetail{Kind: string(err.Kind), Message: msg}
}

// writeError aborts the request with the JSON error body for err:
//
//	{"error": {"kind": "...", "message": "..."}}
//
// The status code comes from rag.HTTPStatus.
func writeError(c *gin.Context, err error) {
	rerr := rag.AsError(err)
	c.AbortWithStatusJSON(rerr.HTTPStatus(), datatypes.ErrorResponse{Error: errorDetail(rerr)})
}
