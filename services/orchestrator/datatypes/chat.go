// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the conversation message type accepted by the chat
// endpoint and its validation rules. Retrieval records live in rag.go and
// streaming envelopes in stream.go.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100
)

// Role is the author of a conversation message.
type Role = string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxMessageContentBytes.
//
// # Description
//
// Checks byte length (not rune count) so a multi-byte payload cannot slip
// past the limit.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if content <= 32KB, false otherwise
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Message
// =============================================================================

// Message is one turn of a conversation.
//
// # Description
//
// The ordered sequence of messages is the conversation, oldest first.
// Messages are treated as immutable once parsed; every stage that needs a
// changed message builds a new one.
//
// # Fields
//
//   - Role: "system", "user", or "assistant".
//   - Content: Message text, at most 32KB. May be empty.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"maxbytes"`
}

// Validate checks a single message against its validation tags.
func (m Message) Validate() error {
	return chatValidate.Struct(m)
}

// ValidateMessages checks a whole conversation.
//
// # Description
//
// Enforces the request-level limits (1 to MaxMessagesPerRequest messages)
// and validates every element. The returned error names the offending index
// so it can be echoed to the client.
//
// # Inputs
//
//   - messages: Conversation in chronological order.
//
// # Outputs
//
//   - error: nil if the conversation is acceptable.
//
// # Examples
//
//	if err := datatypes.ValidateMessages(msgs); err != nil {
//	    return fmt.Errorf("invalid conversation: %w", err)
//	}
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("conversation must contain at least one message")
	}
	if len(messages) > MaxMessagesPerRequest {
		return fmt.Errorf("conversation has %d messages, maximum is %d",
			len(messages), MaxMessagesPerRequest)
	}
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}
