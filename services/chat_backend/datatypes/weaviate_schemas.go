// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// AccountClass returns the Weaviate class definition for accounts.
func AccountClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Account",
		Description: "An account that owns chats and carries an optional system prompt",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps:     true,
			IndexNullState:      true,
			IndexPropertyLength: true,
		},
		Properties: []*models.Property{
			{
				Name:            "account_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier of the account",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "name",
				DataType:     []string{"text"},
				Description:  "Display name of the account",
				Tokenization: "word",
			},
			{
				Name:        "system_prompt",
				DataType:    []string{"text"},
				Description: "Optional system prompt prepended to every chat",
			},
			{
				Name:        "created_at",
				DataType:    []string{"number"},
				Description: "Creation time in Unix milliseconds",
			},
		},
	}
}

// ChatClass returns the Weaviate class definition for chats.
func ChatClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Chat",
		Description: "A conversation belonging to an account",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps:     true,
			IndexNullState:      true,
			IndexPropertyLength: true,
		},
		Properties: []*models.Property{
			{
				Name:            "conversation_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier of the chat",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "account_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the owning account",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Display title, updated as summaries are derived",
				Tokenization: "word",
			},
			{
				Name:         "model_profile",
				DataType:     []string{"text"},
				Description:  "Name of the generation profile used for this chat",
				Tokenization: "field",
			},
			{
				Name:        "created_at",
				DataType:    []string{"number"},
				Description: "Creation time in Unix milliseconds",
			},
		},
	}
}

// ChatMessageClass returns the Weaviate class definition for chat messages.
func ChatMessageClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ChatMessage",
		Description: "A single message turn within a chat",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps:     true,
			IndexNullState:      true,
			IndexPropertyLength: true,
		},
		Properties: []*models.Property{
			{
				Name:            "message_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier of the message",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "conversation_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the chat this message belongs to",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "role",
				DataType:     []string{"text"},
				Description:  "Author role: user, assistant, or system",
				Tokenization: "field",
			},
			{
				Name:        "content",
				DataType:    []string{"text"},
				Description: "The message text as submitted",
			},
			{
				Name:        "response",
				DataType:    []string{"text"},
				Description: "Assistant response written back after streaming",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Title derived from the response, when one was",
				Tokenization: "word",
			},
			{
				Name:        "timestamp",
				DataType:    []string{"number"},
				Description: "Append time in Unix milliseconds",
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing chat-backend classes.
// Existing classes are left untouched.
func EnsureWeaviateSchema(client *weaviate.Client) {
	classes := []*models.Class{
		AccountClass(),
		ChatClass(),
		ChatMessageClass(),
	}

	for _, class := range classes {
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// Class doesn't exist, create it
			err = client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create class %s: %v", class.Class, err)
			}
			log.Printf("Created class %s", class.Class)
		}
		// TODO: Check and update properties if they differ from the definition.
	}
}
