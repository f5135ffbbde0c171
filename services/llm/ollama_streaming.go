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
	"sync"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// maxStreamLineBytes bounds a single NDJSON line from Ollama.
const maxStreamLineBytes = 1024 * 1024

// StreamEventType discriminates events delivered to a StreamCallback.
type StreamEventType string

const (
	StreamEventToken    StreamEventType = "token"
	StreamEventThinking StreamEventType = "thinking"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is a single unit of streamed output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in arrival order. Returning a
// non-nil error aborts the stream.
type StreamCallback func(StreamEvent) error

// ollamaStreamChunk is one NDJSON line of Ollama's streaming chat response.
type ollamaStreamChunk struct {
	Message       datatypes.Message `json:"message"`
	Thinking      string            `json:"thinking"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason"`
	TotalDuration int64             `json:"total_duration"`
	Error         string            `json:"error"`
}

// StreamConfig controls how streamed chunks are filtered before delivery.
type StreamConfig struct {
	// RedactThinking drops thinking content entirely.
	RedactThinking bool

	// MaxThinkingLength truncates thinking content. Zero means unlimited.
	MaxThinkingLength int

	// MaxResponseLength caps the total response size. Zero means unlimited.
	MaxResponseLength int

	// RateLimitPerSecond throttles token delivery. Zero disables throttling.
	RateLimitPerSecond int
}

// DefaultStreamConfig returns the configuration used by ChatStream.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:     false,
		MaxThinkingLength:  0,
		MaxResponseLength:  100 * 1024, // 100KB
		RateLimitPerSecond: 0,
	}
}

// StreamProcessor turns raw Ollama chunks into callback events.
type StreamProcessor interface {
	// ProcessChunk handles one chunk. Returns true when the stream is done.
	ProcessChunk(ctx context.Context, chunk *ollamaStreamChunk, callback StreamCallback) (bool, error)

	// GetTokenCount returns the number of token events delivered so far.
	GetTokenCount() int

	// GetResponseLength returns the number of response bytes delivered so far.
	GetResponseLength() int
}

// DefaultStreamProcessor enforces StreamConfig limits on a single stream.
// Not safe for reuse across streams.
type DefaultStreamProcessor struct {
	mu             sync.Mutex
	config         StreamConfig
	logger         *slog.Logger
	limiter        *rate.Limiter
	tokenCount     int
	responseLength int
}

var _ StreamProcessor = (*DefaultStreamProcessor)(nil)

// NewDefaultStreamProcessor creates a processor for one stream. A nil logger
// falls back to slog.Default().
func NewDefaultStreamProcessor(config StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &DefaultStreamProcessor{
		config: config,
		logger: logger,
	}
	if config.RateLimitPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimitPerSecond), config.RateLimitPerSecond)
	}
	return p
}

// ProcessChunk handles one chunk. Error chunks are delivered to the callback
// and also surfaced as the return error so the caller stops reading.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context,
	chunk *ollamaStreamChunk, callback StreamCallback) (bool, error) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if chunk.Error != "" {
		if err := callback(StreamEvent{Type: StreamEventError, Error: chunk.Error}); err != nil {
			p.logger.Warn("Stream callback failed on error event", "error", err)
		}
		return true, fmt.Errorf("ollama stream error: %s", chunk.Error)
	}

	if chunk.Thinking != "" {
		if p.config.RedactThinking {
			p.logger.Debug("Redacting thinking content", "length", len(chunk.Thinking))
		} else {
			thinking := chunk.Thinking
			if p.config.MaxThinkingLength > 0 && len(thinking) > p.config.MaxThinkingLength {
				thinking = thinking[:p.config.MaxThinkingLength]
			}
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: thinking}); err != nil {
				return false, fmt.Errorf("stream callback failed: %w", err)
			}
		}
	}

	if chunk.Message.Content != "" {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return false, err
			}
		}
		content := chunk.Message.Content
		if p.config.MaxResponseLength > 0 {
			remaining := p.config.MaxResponseLength - p.responseLength
			if remaining <= 0 {
				content = ""
			} else if len(content) > remaining {
				p.logger.Debug("Truncating response at configured limit",
					"limit", p.config.MaxResponseLength)
				content = content[:remaining]
			}
		}
		if content != "" {
			if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
				return false, fmt.Errorf("stream callback failed: %w", err)
			}
			p.tokenCount++
			p.responseLength += len(content)
		}
	}

	return chunk.Done, nil
}

// GetTokenCount returns the number of token events delivered so far.
func (p *DefaultStreamProcessor) GetTokenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCount
}

// GetResponseLength returns the number of response bytes delivered so far.
func (p *DefaultStreamProcessor) GetResponseLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responseLength
}

// parseStreamChunk decodes one NDJSON line into a chunk.
func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
	}
	return &chunk, nil
}

// ChatStream implements the LLMClient interface using DefaultStreamConfig.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {
	return o.ChatStreamWithConfig(ctx, messages, params, callback, DefaultStreamConfig())
}

// ChatStreamWithConfig streams a chat completion from Ollama, delivering
// events through callback as NDJSON lines arrive.
func (o *OllamaClient) ChatStreamWithConfig(ctx context.Context,
	messages []datatypes.Message, params GenerationParams,
	callback StreamCallback, config StreamConfig) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(messages)))

	chatURL := o.baseURL + "/api/chat"
	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Think:    params.EnableThinking,
		Options:  buildOptions(params),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal stream request to Ollama: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", chatURL, bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create stream request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("Ollama stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		slog.Error("Ollama stream returned an error", "status_code", resp.StatusCode,
			"response", string(body))
		return fmt.Errorf("ollama stream failed with status %d: %s", resp.StatusCode,
			string(body))
	}

	processor := NewDefaultStreamProcessor(config, slog.Default())
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		chunk, err := o.parseStreamChunk(line)
		if err != nil {
			slog.Warn("Skipping malformed stream chunk", "error", err)
			continue
		}

		done, err := processor.ProcessChunk(ctx, chunk, callback)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if done {
			span.SetAttributes(attribute.Int("llm.tokens", processor.GetTokenCount()))
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		// A canceled context surfaces as a read error on the response body.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("error reading Ollama stream: %w", err)
	}
	return nil
}
