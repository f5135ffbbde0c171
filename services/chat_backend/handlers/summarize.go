package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/observability"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/store"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

var (
	SUMMARY_TITLE_MAX_TOKENS  = 50
	SUMMARY_TITLE_TEMPERATURE = 0.2
)

// summaryHistoryRecords is how many recent message records feed the title
// prompt. Titles come from the start of a conversation; there is no need to
// send the whole history.
const summaryHistoryRecords = 5

// SummarizeChat re-derives a chat title from its recent history and merges
// it onto the chat record. The LLM call is a short, stop-bounded generation;
// when it fails or returns nothing, a deterministic fallback built from the
// last user message is stored instead, so the endpoint only reports failure
// when the store does.
func SummarizeChat(conversations store.ConversationStore, llmClient llm.LLMClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		slog.Info("Received request to summarize chat", "conversationId", conversationID)

		if _, err := conversations.GetChat(c.Request.Context(), conversationID); err != nil {
			if errors.Is(err, store.ErrChatNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
				return
			}
			slog.Error("failed to load chat", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
			return
		}

		turns, err := conversations.RecentMessages(c.Request.Context(), conversationID, summaryHistoryRecords)
		if err != nil {
			slog.Error("failed to load chat history for summary", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat history"})
			return
		}
		if len(turns) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chat has no messages to summarize"})
			return
		}

		// 1. Construct the meta-prompt for summarization
		var transcript strings.Builder
		lastUserMessage := ""
		for _, turn := range turns {
			switch turn.Role {
			case "user":
				transcript.WriteString("User: " + turn.Content + "\n")
				lastUserMessage = turn.Content
			case "assistant":
				transcript.WriteString("AI: " + turn.Content + "\n")
			}
		}
		summaryPrompt := fmt.Sprintf("Generate a very short title (8 words max) for this conversation:\n%sTitle:", transcript.String())

		// 2. Call the LLM
		temp := float32(SUMMARY_TITLE_TEMPERATURE)
		maxTokens := SUMMARY_TITLE_MAX_TOKENS
		summaryParams := llm.GenerationParams{
			Temperature: &temp,
			MaxTokens:   &maxTokens,
			Stop:        []string{"\n", "User:", "AI:"},
		}

		summaryString, err := llmClient.Generate(c.Request.Context(), summaryPrompt, summaryParams)
		summaryString = strings.TrimSpace(summaryString)

		// 3. Fallback logic
		if err != nil || summaryString == "" {
			if err != nil {
				slog.Error("Failed to generate chat summary via LLMClient", "conversationId", conversationID, "error", err)
			} else {
				slog.Warn("LLM generated an empty summary, using fallback.", "conversationId", conversationID)
			}
			summaryString = fmt.Sprintf("Chat: %s", lastUserMessage)
			if len(summaryString) > 100 {
				summaryString = summaryString[:100] + "..."
			}
		} else {
			slog.Info("Successfully generated chat summary", "conversationId", conversationID, "summary", summaryString)
		}

		// 4. Merge the new title onto the chat record
		if err := conversations.UpdateChatTitle(c.Request.Context(), conversationID, summaryString); err != nil {
			slog.Error("failed to update chat with new summary", "conversationId", conversationID, "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(observability.EndpointSummarize, false)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update chat title"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointSummarize, true)
		}
		c.JSON(http.StatusOK, gin.H{"summary": summaryString})
	}
}
