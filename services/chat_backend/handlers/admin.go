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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/store"
)

func CreateAccount(conversations store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		props := &datatypes.AccountProperties{
			AccountID:    uuid.NewString(),
			Name:         req.Name,
			SystemPrompt: req.SystemPrompt,
			CreatedAt:    time.Now().UnixMilli(),
		}
		if err := conversations.CreateAccount(c.Request.Context(), props); err != nil {
			slog.Error("failed to create account", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
			return
		}

		slog.Info("Created account", "accountId", props.AccountID, "name", props.Name)
		c.JSON(http.StatusCreated, gin.H{"account_id": props.AccountID})
	}
}

func GetAccount(conversations store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("accountId")
		account, err := conversations.GetAccount(c.Request.Context(), accountID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			slog.Error("failed to load account", "accountId", accountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
			return
		}
		c.JSON(http.StatusOK, account.ToMap())
	}
}

func CreateChat(conversations store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// A chat must hang off an existing account.
		if _, err := conversations.GetAccount(c.Request.Context(), req.AccountID); err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			slog.Error("failed to verify account for new chat", "accountId", req.AccountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify account"})
			return
		}

		props := &datatypes.ChatProperties{
			ConversationID: uuid.NewString(),
			AccountID:      req.AccountID,
			Title:          req.Title,
			ModelProfile:   req.ModelProfile,
			CreatedAt:      time.Now().UnixMilli(),
		}
		if err := conversations.CreateChat(c.Request.Context(), props); err != nil {
			slog.Error("failed to create chat", "accountId", req.AccountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
			return
		}

		slog.Info("Created chat", "conversationId", props.ConversationID, "accountId", props.AccountID)
		c.JSON(http.StatusCreated, gin.H{"conversation_id": props.ConversationID})
	}
}

func GetChat(conversations store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		chat, err := conversations.GetChat(c.Request.Context(), conversationID)
		if err != nil {
			if errors.Is(err, store.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			slog.Error("failed to load chat", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
			return
		}
		c.JSON(http.StatusOK, chat.ToMap())
	}
}

// ListChatMessages returns the last `limit` message records of a chat,
// oldest first. Defaults to 50 when the query parameter is absent.
func ListChatMessages(conversations store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}

		if _, err := conversations.GetChat(c.Request.Context(), conversationID); err != nil {
			if errors.Is(err, store.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			slog.Error("failed to load chat", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
			return
		}

		records, err := conversations.ListMessages(c.Request.Context(), conversationID, limit)
		if err != nil {
			slog.Error("failed to list messages", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
			return
		}

		messages := make([]map[string]interface{}, 0, len(records))
		for i := range records {
			messages = append(messages, records[i].ToMap())
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
	}
}

// AppendChatMessage stores a new message record and returns its minted id.
// Clients pass that id as original_message_id when they start a stream so
// the response can be written back to the right record.
func AppendChatMessage(conversations store.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")

		var req datatypes.AppendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if _, err := conversations.GetChat(c.Request.Context(), conversationID); err != nil {
			if errors.Is(err, store.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			slog.Error("failed to load chat", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
			return
		}

		props := &datatypes.ChatMessageProperties{
			MessageID:      uuid.NewString(),
			ConversationID: conversationID,
			Role:           req.Role,
			Content:        req.Content,
			Timestamp:      time.Now().UnixMilli(),
		}
		if err := conversations.AppendMessage(c.Request.Context(), props); err != nil {
			slog.Error("failed to append message", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append message"})
			return
		}

		slog.Info("Appended message", "conversationId", conversationID, "messageId", props.MessageID)
		c.JSON(http.StatusCreated, gin.H{"message_id": props.MessageID})
	}
}
