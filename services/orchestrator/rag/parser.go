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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/profrag/services/orchestrator/datatypes"
)

// rawMessage mirrors datatypes.Message with pointer fields so that an absent
// key can be told apart from an empty string.
type rawMessage struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

// ParseRequest extracts the conversation from a chat request body.
//
// # Description
//
// Two body shapes are accepted:
//
//	[{"role": "user", "content": "..."}]
//	{"messages": [{"role": "user", "content": "..."}]}
//
// Every element must carry both "role" and "content" (content may be the
// empty string, but not null or absent). Roles must be system, user or
// assistant, and the last message must be from the user because its
// content becomes the retrieval query.
//
// # Inputs
//
//   - body: Raw request body.
//
// # Outputs
//
//   - []datatypes.Message: Conversation in request order.
//   - error: *Error of kind MalformedRequest on any rejection.
//
// # Limitations
//
//   - Unknown keys on messages and on the wrapper object are ignored.
func ParseRequest(body []byte) ([]datatypes.Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, malformed("request body is empty", nil)
	}
	if !json.Valid(trimmed) {
		return nil, malformed("request body is not valid JSON", nil)
	}

	var raw []rawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, malformed("messages must be objects with string role and content", err)
		}
	case '{':
		var wrapper struct {
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, malformed("request body must be an array of messages", err)
		}
		inner := bytes.TrimSpace(wrapper.Messages)
		if len(inner) == 0 || inner[0] != '[' {
			return nil, malformed("request body must be an array of messages", nil)
		}
		if err := json.Unmarshal(inner, &raw); err != nil {
			return nil, malformed("messages must be objects with string role and content", err)
		}
	default:
		return nil, malformed("request body must be an array of messages", nil)
	}

	if len(raw) == 0 {
		return nil, malformed("conversation must contain at least one message", nil)
	}

	messages := make([]datatypes.Message, 0, len(raw))
	for i, m := range raw {
		if m.Role == nil {
			return nil, malformed(fmt.Sprintf("message %d is missing role", i), nil)
		}
		if m.Content == nil {
			return nil, malformed(fmt.Sprintf("message %d is missing content", i), nil)
		}
		messages = append(messages, datatypes.Message{Role: *m.Role, Content: *m.Content})
	}

	if err := datatypes.ValidateMessages(messages); err != nil {
		return nil, malformed(err.Error(), err)
	}

	if last := messages[len(messages)-1]; last.Role != datatypes.RoleUser {
		return nil, malformed(
			fmt.Sprintf("last message must have role %q, got %q", datatypes.RoleUser, last.Role), nil)
	}

	return messages, nil
}

func malformed(message string, err error) *Error {
	return newError(KindMalformedRequest, StageParse, message, err)
}
