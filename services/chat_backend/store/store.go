// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists accounts, chats, and messages.
//
// Two implementations exist: WeaviateStore for deployments with a running
// Weaviate instance, and BadgerStore as an embedded fallback for
// lightweight mode and tests. Handlers program against ConversationStore
// and translate the sentinel errors into HTTP responses.
package store

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
)

// Sentinel errors shared by all implementations. Wrapped errors satisfy
// errors.Is against these.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
)

// ConversationStore is the persistence surface of the chat backend.
type ConversationStore interface {
	// CreateAccount stores a new account record.
	CreateAccount(ctx context.Context, props *datatypes.AccountProperties) error

	// GetAccount resolves an account by its account_id.
	// Returns ErrAccountNotFound when no record matches.
	GetAccount(ctx context.Context, accountID string) (*datatypes.AccountProperties, error)

	// CreateChat stores a new chat record.
	CreateChat(ctx context.Context, props *datatypes.ChatProperties) error

	// GetChat resolves a chat by its conversation_id.
	// Returns ErrChatNotFound when no record matches.
	GetChat(ctx context.Context, conversationID string) (*datatypes.ChatProperties, error)

	// AppendMessage stores a new message record.
	AppendMessage(ctx context.Context, props *datatypes.ChatMessageProperties) error

	// ListMessages returns the last limit message records of a chat,
	// oldest first. A limit of 0 returns all records.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.ChatMessageProperties, error)

	// RecentMessages returns the last limit message records of a chat,
	// oldest first, expanded into conversation turns.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error)

	// UpdateMessage merges the given fields onto a message record.
	// Returns ErrMessageNotFound when no record matches.
	UpdateMessage(ctx context.Context, messageID string, fields map[string]interface{}) error

	// UpdateChatTitle sets a chat's display title.
	// Returns ErrChatNotFound when no record matches.
	UpdateChatTitle(ctx context.Context, conversationID string, title string) error

	// Close releases any held resources.
	Close() error
}
