// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
)

// ===== Class Names and Field Sets =====

const (
	classAccount     = "Account"
	classChat        = "Chat"
	classChatMessage = "ChatMessage"
)

var accountFields = []graphql.Field{
	{Name: "account_id"},
	{Name: "name"},
	{Name: "system_prompt"},
	{Name: "created_at"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

var chatFields = []graphql.Field{
	{Name: "conversation_id"},
	{Name: "account_id"},
	{Name: "title"},
	{Name: "model_profile"},
	{Name: "created_at"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

var messageFields = []graphql.Field{
	{Name: "message_id"},
	{Name: "conversation_id"},
	{Name: "role"},
	{Name: "content"},
	{Name: "response"},
	{Name: "title"},
	{Name: "timestamp"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

// ===== Store Implementation =====

// WeaviateStore implements ConversationStore against a Weaviate instance.
// Records are matched on their application-level id properties, not on
// Weaviate object UUIDs. Object UUIDs are derived from those ids at create
// time and resolved internally for merge updates.
type WeaviateStore struct {
	client *weaviate.Client
}

var _ ConversationStore = (*WeaviateStore)(nil)

// NewWeaviateStore wraps an already-connected Weaviate client. The schema
// must have been ensured beforehand (see datatypes.EnsureWeaviateSchema).
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// weaviateObjectID derives the object id for a record from its
// application-level id. Deterministic ids make creates idempotent: a
// retried create overwrites the same object instead of minting a duplicate.
func weaviateObjectID(recordID string) strfmt.UUID {
	hash := sha256.Sum256([]byte(recordID))
	oid, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(oid.String())
}

func (s *WeaviateStore) CreateAccount(ctx context.Context, props *datatypes.AccountProperties) error {
	_, err := s.client.Data().Creator().
		WithClassName(classAccount).
		WithID(weaviateObjectID(props.AccountID).String()).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *WeaviateStore) GetAccount(ctx context.Context, accountID string) (*datatypes.AccountProperties, error) {
	where := filters.Where().
		WithPath([]string{"account_id"}).
		WithOperator(filters.Equal).
		WithValueString(accountID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(classAccount).
		WithWhere(where).
		WithLimit(1).
		WithFields(accountFields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.GetAccountsResponse](resp)
	if err != nil {
		return nil, err
	}
	if len(parsed.Get.Accounts) == 0 {
		return nil, fmt.Errorf("account %q: %w", accountID, ErrAccountNotFound)
	}
	return parsed.Get.Accounts[0].Properties(), nil
}

func (s *WeaviateStore) CreateChat(ctx context.Context, props *datatypes.ChatProperties) error {
	_, err := s.client.Data().Creator().
		WithClassName(classChat).
		WithID(weaviateObjectID(props.ConversationID).String()).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

func (s *WeaviateStore) GetChat(ctx context.Context, conversationID string) (*datatypes.ChatProperties, error) {
	result, err := s.queryChat(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return result.Properties(), nil
}

func (s *WeaviateStore) AppendMessage(ctx context.Context, props *datatypes.ChatMessageProperties) error {
	_, err := s.client.Data().Creator().
		WithClassName(classChatMessage).
		WithID(weaviateObjectID(props.MessageID).String()).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// ListMessages
// -----------------------------------------------------------------------
//
// Description:
//
//	Fetches the most recent message records of a chat in ascending
//	timestamp order. The query sorts descending and applies the limit
//	server-side, then the page is reversed locally so callers always
//	see oldest-first.
//
// Inputs:
//
//	conversationID - chat to read.
//	limit          - maximum records to return; 0 means all.
//
// Outputs:
//
//	The records oldest-first, or an error. A chat with no messages
//	yields an empty slice, not an error.
func (s *WeaviateStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.ChatMessageProperties, error) {
	where := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(conversationID)

	query := s.client.GraphQL().Get().
		WithClassName(classChatMessage).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"timestamp"}, Order: graphql.Desc}).
		WithFields(messageFields...)
	if limit > 0 {
		query = query.WithLimit(limit)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.GetChatMessagesResponse](resp)
	if err != nil {
		return nil, err
	}

	results := parsed.Get.ChatMessages
	records := make([]datatypes.ChatMessageProperties, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		records = append(records, *results[i].Properties())
	}
	return records, nil
}

func (s *WeaviateStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	records, err := s.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}

	turns := make([]datatypes.Message, 0, len(records)*2)
	for i := range records {
		turns = append(turns, records[i].Turns()...)
	}
	return turns, nil
}

func (s *WeaviateStore) UpdateMessage(ctx context.Context, messageID string, fields map[string]interface{}) error {
	uuid, err := s.lookupMessageUUID(ctx, messageID)
	if err != nil {
		return err
	}

	err = s.client.Data().Updater().
		WithClassName(classChatMessage).
		WithID(uuid).
		WithMerge().
		WithProperties(fields).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", messageID, err)
	}

	slog.Debug("Updated message record", "message_id", messageID, "fields", len(fields))
	return nil
}

func (s *WeaviateStore) UpdateChatTitle(ctx context.Context, conversationID string, title string) error {
	result, err := s.queryChat(ctx, conversationID)
	if err != nil {
		return err
	}

	err = s.client.Data().Updater().
		WithClassName(classChat).
		WithID(result.Additional.ID).
		WithMerge().
		WithProperties(map[string]interface{}{"title": title}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to update chat %s: %w", conversationID, err)
	}
	return nil
}

// Close is a no-op; the Weaviate client holds no persistent connections.
func (s *WeaviateStore) Close() error {
	return nil
}

// ===== Internal Lookups =====

func (s *WeaviateStore) queryChat(ctx context.Context, conversationID string) (*datatypes.ChatQueryResult, error) {
	where := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(conversationID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(classChat).
		WithWhere(where).
		WithLimit(1).
		WithFields(chatFields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.GetChatsResponse](resp)
	if err != nil {
		return nil, err
	}
	if len(parsed.Get.Chats) == 0 {
		return nil, fmt.Errorf("chat %q: %w", conversationID, ErrChatNotFound)
	}
	return &parsed.Get.Chats[0], nil
}

func (s *WeaviateStore) lookupMessageUUID(ctx context.Context, messageID string) (string, error) {
	where := filters.Where().
		WithPath([]string{"message_id"}).
		WithOperator(filters.Equal).
		WithValueString(messageID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(classChatMessage).
		WithWhere(where).
		WithLimit(1).
		WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}}).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query message: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.GetChatMessagesResponse](resp)
	if err != nil {
		return "", err
	}
	if len(parsed.Get.ChatMessages) == 0 {
		return "", fmt.Errorf("message %q: %w", messageID, ErrMessageNotFound)
	}
	return parsed.Get.ChatMessages[0].Additional.ID, nil
}
