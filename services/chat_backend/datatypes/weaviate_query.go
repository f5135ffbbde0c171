// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// AdditionalFields carries Weaviate's _additional metadata for a result.
type AdditionalFields struct {
	ID string `json:"id"`
}

// AccountQueryResult is one Account object as returned by GraphQL Get.
type AccountQueryResult struct {
	AccountID    string           `json:"account_id"`
	Name         string           `json:"name"`
	SystemPrompt string           `json:"system_prompt"`
	CreatedAt    int64            `json:"created_at"`
	Additional   AdditionalFields `json:"_additional"`
}

// GetAccountsResponse is the shape of a GraphQL Get query on Account.
type GetAccountsResponse struct {
	Get struct {
		Accounts []AccountQueryResult `json:"Account"`
	} `json:"Get"`
}

// ChatQueryResult is one Chat object as returned by GraphQL Get.
type ChatQueryResult struct {
	ConversationID string           `json:"conversation_id"`
	AccountID      string           `json:"account_id"`
	Title          string           `json:"title"`
	ModelProfile   string           `json:"model_profile"`
	CreatedAt      int64            `json:"created_at"`
	Additional     AdditionalFields `json:"_additional"`
}

// GetChatsResponse is the shape of a GraphQL Get query on Chat.
type GetChatsResponse struct {
	Get struct {
		Chats []ChatQueryResult `json:"Chat"`
	} `json:"Get"`
}

// ChatMessageQueryResult is one ChatMessage object as returned by GraphQL Get.
type ChatMessageQueryResult struct {
	MessageID      string           `json:"message_id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Response       string           `json:"response"`
	Title          string           `json:"title"`
	Timestamp      int64            `json:"timestamp"`
	Additional     AdditionalFields `json:"_additional"`
}

// GetChatMessagesResponse is the shape of a GraphQL Get query on ChatMessage.
type GetChatMessagesResponse struct {
	Get struct {
		ChatMessages []ChatMessageQueryResult `json:"ChatMessage"`
	} `json:"Get"`
}

// ParseGraphQLResponse unmarshals a Weaviate GraphQL response into a typed
// result struct. The response Data field is round-tripped through JSON
// because the client surfaces it as map[string]models.JSONObject.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("graphql response is nil")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql query failed: %s", resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graphql data: %w", err)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graphql data: %w", err)
	}
	return &out, nil
}

// Properties converts a query result back into storable account properties.
func (r *AccountQueryResult) Properties() *AccountProperties {
	return &AccountProperties{
		AccountID:    r.AccountID,
		Name:         r.Name,
		SystemPrompt: r.SystemPrompt,
		CreatedAt:    r.CreatedAt,
	}
}

// Properties converts a query result back into storable chat properties.
func (r *ChatQueryResult) Properties() *ChatProperties {
	return &ChatProperties{
		ConversationID: r.ConversationID,
		AccountID:      r.AccountID,
		Title:          r.Title,
		ModelProfile:   r.ModelProfile,
		CreatedAt:      r.CreatedAt,
	}
}

// Properties converts a query result back into storable message properties.
func (r *ChatMessageQueryResult) Properties() *ChatMessageProperties {
	return &ChatMessageProperties{
		MessageID:      r.MessageID,
		ConversationID: r.ConversationID,
		Role:           r.Role,
		Content:        r.Content,
		Response:       r.Response,
		Title:          r.Title,
		Timestamp:      r.Timestamp,
	}
}
