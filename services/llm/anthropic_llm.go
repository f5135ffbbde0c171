package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`
	// Optional params
	Thinking *thinkingParams   `json:"thinking,omitempty"`
	Tools    []toolsDefinition `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type thinkingParams struct {
	Type         string `json:"type"` // Must be "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type toolsDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"` // JSON Schema
}

type anthropicContent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamDelta is one content_block_delta event of a streamed response.
type anthropicStreamDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	model := os.Getenv("CLAUDE_MODEL")

	// 1. Robust Secret Loading
	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from Podman Secrets")
		}
	}

	// 2. Graceful Failure
	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	if model == "" {
		// Because we are using raw strings now, we can default to the ID directly
		// without needing a library constant.
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
	}, nil
}

// buildRequestPayload converts generic messages and params to the Anthropic
// request shape. System turns become top-level system blocks, cached when
// large enough to be worth it.
func (a *AnthropicClient) buildRequestPayload(messages []datatypes.Message,
	params GenerationParams) anthropicRequest {

	var apiMessages []anthropicMessage
	var systemPrompt string

	// 1. Convert generic messages to Anthropic format
	for _, msg := range messages {
		if strings.ToLower(msg.Role) == "system" {
			systemPrompt = msg.Content
			continue
		}

		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	// 2. Handle System Prompt with Caching
	var systemBlocks []systemBlock
	if systemPrompt != "" {
		block := systemBlock{
			Type: "text",
			Text: systemPrompt,
		}
		if len(systemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	reqPayload := anthropicRequest{
		Model:       a.model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   4096,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	if len(params.ToolDefinitions) > 0 {
		var tools []toolsDefinition
		raw, _ := json.Marshal(params.ToolDefinitions)
		_ = json.Unmarshal(raw, &tools)
		reqPayload.Tools = tools
	}

	// 3. Enable Thinking if requested
	if params.EnableThinking {
		reqPayload.Thinking = &thinkingParams{
			Type:         "enabled",
			BudgetTokens: params.BudgetTokens,
		}
		minRequired := params.BudgetTokens + 2048 // Budget + Room for answer
		if reqPayload.MaxTokens < minRequired {
			slog.Info("Adjusting MaxTokens to accommodate Thinking budget", "old", reqPayload.MaxTokens, "new", minRequired)
			reqPayload.MaxTokens = minRequired
		}
	}

	return reqPayload
}

// newAPIRequest marshals the payload and attaches the auth headers.
func (a *AnthropicClient) newAPIRequest(ctx context.Context,
	reqPayload anthropicRequest) (*http.Request, error) {

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", defaultBaseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	return req, nil
}

// Generate implements the LLMClient interface
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := []datatypes.Message{
		{Role: "user", Content: prompt},
	}
	return a.Chat(ctx, messages, params)
}

// Chat implements the LLMClient interface
func (a *AnthropicClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	req, err := a.newAPIRequest(ctx, a.buildRequestPayload(messages, params))
	if err != nil {
		return "", err
	}

	slog.Debug("Sending REST request to Anthropic", "model", a.model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	slog.Debug("Raw Anthropic Response", "status", resp.StatusCode, "body_length", len(bodyBytes))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("received empty content from Anthropic")
	}

	finalText := ""

	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText += block.Text
		}
		if block.Type == "thinking" {
			slog.Info("Claude Thoughts", "thinking", block.Thinking)
		}
	}

	if finalText == "" {
		return "", fmt.Errorf("received content but no text block found (check logs for thoughts)")
	}

	return finalText, nil
}

// ChatStream implements the LLMClient interface. The Messages API streams
// SSE frames; text and thinking deltas are forwarded as they arrive.
func (a *AnthropicClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	reqPayload := a.buildRequestPayload(messages, params)
	reqPayload.Stream = true

	req, err := a.newAPIRequest(ctx, reqPayload)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "text/event-stream")

	slog.Debug("Starting stream request to Anthropic", "model", a.model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	var eventType string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch eventType {
		case "content_block_delta":
			var delta anthropicStreamDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				slog.Warn("Skipping malformed Anthropic delta", "error", err)
				continue
			}
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text == "" {
					continue
				}
				if err := callback(StreamEvent{Type: StreamEventToken, Content: delta.Delta.Text}); err != nil {
					return fmt.Errorf("stream callback failed: %w", err)
				}
			case "thinking_delta":
				if delta.Delta.Thinking == "" {
					continue
				}
				if err := callback(StreamEvent{Type: StreamEventThinking, Content: delta.Delta.Thinking}); err != nil {
					return fmt.Errorf("stream callback failed: %w", err)
				}
			}
		case "error":
			var errEvent struct {
				Error anthropicError `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &errEvent); err != nil {
				return fmt.Errorf("anthropic stream error (unparseable): %s", data)
			}
			if cbErr := callback(StreamEvent{Type: StreamEventError, Error: errEvent.Error.Message}); cbErr != nil {
				slog.Warn("Stream callback failed on error event", "error", cbErr)
			}
			return fmt.Errorf("anthropic stream error: %s - %s", errEvent.Error.Type, errEvent.Error.Message)
		case "message_stop":
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading Anthropic stream: %w", err)
	}
	return nil
}
