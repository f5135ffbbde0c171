// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the chat-backend service.
//
// This file contains the request body and wire event types for the streaming
// chat endpoint. For stored record types (accounts, chats, messages), see
// records.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxSystemPromptBytes is the maximum size of an account system prompt.
	MaxSystemPromptBytes = 16 * 1024 // 16KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat-backend datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxMessageContentBytes.
//
// # Description
//
// Custom validator to enforce SEC-003 message size limits. Checks byte length
// (not rune count) to prevent memory exhaustion attacks with large payloads.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if content <= 32KB, false otherwise
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Stream Request Type
// =============================================================================

// StreamRequest represents the body of a streaming chat request.
//
// # Description
//
// StreamRequest carries the new user message and the identifiers needed to
// resolve the account, the chat, and the message record the response will be
// written back to. Used by POST /http/stream and the websocket transport.
//
// # Fields
//
//   - Message: Required. The new user message to answer.
//     Content is limited to 32KB (SEC-003 compliance).
//   - AccountID: Required. Identifier of the sending account.
//   - ConversationID: Required. Identifier of the chat being continued.
//   - OriginalMessageID: Optional. Identifier of the message record that
//     receives the response and title once the stream completes. When absent,
//     the update step is skipped with a warning.
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, max 32768 bytes (32KB) per SEC-003
//   - AccountID: required
//   - ConversationID: required
//   - OriginalMessageID: no constraint; absence is a valid state
//
// # Examples
//
//	req := StreamRequest{
//	    Message:           "Tell me about lighthouses",
//	    AccountID:         "acct_9f2b",
//	    ConversationID:    "chat_5512",
//	    OriginalMessageID: "msg_0a11",
//	}
//
// # Limitations
//
//   - No streaming parameters in the body; generation behavior comes from the
//     chat's model profile.
//
// # Assumptions
//
//   - OriginalMessageID, when present, was minted by a prior message append.
type StreamRequest struct {
	Message           string `json:"message" validate:"required,maxbytes"`
	AccountID         string `json:"account_id" validate:"required"`
	ConversationID    string `json:"conversation_id" validate:"required"`
	OriginalMessageID string `json:"original_message_id"`
}

// Validate validates the StreamRequest fields.
//
// # Description
//
// Performs validation using go-playground/validator tags and custom validators.
// This method should be called after binding the JSON request.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
func (r *StreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Wire Event Types
// =============================================================================

// Stream event type discriminators. The type travels inside the JSON payload,
// not as an SSE "event:" line; clients switch on the "type" field.
const (
	StreamEventTypeStart    = "start"
	StreamEventTypeChunk    = "chunk"
	StreamEventTypeSummary  = "summary"
	StreamEventTypeComplete = "complete"
	StreamEventTypeError    = "error"
)

// ChatStreamEvent is a single frame of the streaming chat protocol.
//
// # Description
//
// Every SSE frame (and websocket message) carries exactly one ChatStreamEvent
// serialized as JSON. A stream is one "start", zero or more "chunk" frames,
// optionally one "summary", then exactly one terminal "complete" or "error".
//
// # Fields
//
//   - Type: One of the StreamEventType* constants.
//   - Data: Payload for the event. Empty object for "start".
type ChatStreamEvent struct {
	Type string              `json:"type"`
	Data ChatStreamEventData `json:"data"`
}

// ChatStreamEventData is the payload of a ChatStreamEvent.
//
// # Fields
//
//   - Text: Buffered response text ("chunk") or the full response ("complete").
//   - Title: Derived conversation title ("summary").
//   - Message: Failure description ("error").
type ChatStreamEventData struct {
	Text    string `json:"text,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Message represents one turn of a conversation as sent to an LLM backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
