package llm

import (
	"context"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
)

// GenerationParams carries per-request generation settings. Nil pointer
// fields fall back to each backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// EnableThinking requests extended reasoning from backends that support it.
	EnableThinking bool `json:"enable_thinking"`

	// BudgetTokens caps reasoning tokens when EnableThinking is set.
	BudgetTokens int `json:"budget_tokens"`

	// ToolDefinitions is passed through to the backend unmodified.
	ToolDefinitions []interface{} `json:"tool_definitions,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a conversation.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream produces a completion for a conversation, delivering it
	// incrementally through callback. The callback runs on the stream's
	// goroutine; a non-nil callback error aborts the stream.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}
