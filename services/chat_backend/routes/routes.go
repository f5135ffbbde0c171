// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/handlers"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/middleware"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/observability"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/profiles"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/store"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/policy_engine"
)

// SetupRoutes registers all chat-backend routes on the router.
//
// The streaming endpoint, health, and metrics stay open; everything under
// /v1 passes through the bearer-token auth middleware. With the default
// NopAuthProvider that middleware admits every request as the local user,
// so open deployments see no behavioral difference.
func SetupRoutes(router *gin.Engine, conversations store.ConversationStore,
	llmClient llm.LLMClient, registry *profiles.Registry,
	policyEngine *policy_engine.PolicyEngine, usage *observability.UsageRecorder,
	backend string, opts extensions.ServiceOptions) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatStream := handlers.NewChatStreamHandler(conversations, llmClient,
		registry, policyEngine, usage, backend, opts)

	router.POST("/http/stream", chatStream.HandleHTTPStream)

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		v1.GET("/chat/ws", chatStream.HandleChatWebSocket)

		v1.POST("/accounts", handlers.CreateAccount(conversations))
		v1.GET("/accounts/:accountId", handlers.GetAccount(conversations))

		// Chat administration routes
		chats := v1.Group("/chats")
		{
			chats.POST("", handlers.CreateChat(conversations))
			chats.GET("/:conversationId", handlers.GetChat(conversations))
			chats.GET("/:conversationId/messages", handlers.ListChatMessages(conversations))
			chats.POST("/:conversationId/messages", handlers.AppendChatMessage(conversations))
			chats.POST("/:conversationId/summarize", handlers.SummarizeChat(conversations, llmClient))
		}
	}
}
