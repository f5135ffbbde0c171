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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/middleware"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/observability"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/profiles"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/store"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/policy_engine"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is how often SSE keep-alive comments are sent to
	// prevent proxy/LB idle timeouts during long generation gaps.
	heartbeatInterval = 15 * time.Second

	// maxHistoryTurns caps how many prior conversation turns are loaded
	// into the prompt. Keeps context windows bounded for long chats.
	maxHistoryTurns = 20

	// chunkFlushFragments is the number of buffered LLM fragments that
	// forces a chunk event even without a natural break.
	chunkFlushFragments = 5

	// chunkFlushMarks are the characters that end a natural reading unit;
	// a fragment containing any of them flushes the buffer immediately.
	chunkFlushMarks = ".\n?!"

	// titleMinRunes is the response length a derived title must exceed.
	// Shorter responses get no summary event at all.
	titleMinRunes = 10

	// titleMaxRunes is the cap applied to derived conversation titles.
	titleMaxRunes = 50

	// persistTimeout bounds the detached write-back of the final response,
	// which runs after the client's stream has already ended.
	persistTimeout = 10 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatStreamHandler streams chat completions over SSE and WebSocket.
//
// # Description
//
// ChatStreamHandler owns the full conversation exchange: it validates the
// referenced account and chat, assembles the prompt from recent history,
// streams the model's reply to the caller as buffered chunk events, derives
// a conversation title, and writes the final response back to the
// originating message record.
//
// # Responsibilities
//
//   - Request parsing, validation, and account/chat resolution
//   - Outbound policy scanning before remote backends
//   - SSE/WebSocket event emission (start, chunk, summary, complete, error)
//   - Title derivation and response persistence
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction; per-request
// state lives on the stack of each handler invocation.
type ChatStreamHandler interface {
	// HandleHTTPStream handles POST /http/stream requests with SSE output.
	HandleHTTPStream(c *gin.Context)

	// HandleChatWebSocket handles GET /v1/chat/ws upgrade requests and
	// serves the same event frames as socket messages.
	HandleChatWebSocket(c *gin.Context)
}

// chatStreamHandler implements ChatStreamHandler.
//
// # Fields
//
//   - store: Conversation store for lookups and response write-back
//   - llmClient: LLM client with streaming support (must implement ChatStream)
//   - registry: Model profile registry resolving per-chat generation params
//   - policyEngine: Policy engine for outbound sensitive-data scanning
//   - usage: Usage recorder for per-exchange telemetry (nil-safe)
//   - backend: Configured LLM backend type (gates the policy scan)
//   - tracer: OpenTelemetry tracer for distributed tracing
//   - opts: Extension points for enterprise auth/audit/filter capabilities
type chatStreamHandler struct {
	store        store.ConversationStore
	llmClient    llm.LLMClient
	registry     *profiles.Registry
	policyEngine *policy_engine.PolicyEngine
	usage        *observability.UsageRecorder
	backend      string
	tracer       trace.Tracer
	opts         extensions.ServiceOptions
}

// =============================================================================
// Constructor
// =============================================================================

// NewChatStreamHandler creates a ChatStreamHandler with the provided
// dependencies.
//
// # Description
//
// Creates a fully configured handler for production use. Panics if any of
// the hard dependencies is nil (programming errors, not runtime states).
// Nil extension points in opts are replaced with their no-op defaults so
// the handler never branches on nil interfaces.
//
// # Inputs
//
//   - conversations: Store for account/chat/message records. Must not be nil.
//   - llmClient: Streaming LLM client. Must not be nil.
//   - registry: Profile registry. Must not be nil.
//   - policyEngine: Outbound data scanner. Must not be nil.
//   - usage: Per-exchange telemetry recorder. May be nil to disable.
//   - backend: Backend type string ("ollama", "local", "openai", "claude").
//   - opts: Extension options for enterprise features.
//
// # Outputs
//
//   - ChatStreamHandler: Ready for use with a Gin router.
//
// # Examples
//
//	handler := handlers.NewChatStreamHandler(store, llmClient, registry, engine, usage, "ollama", opts)
//	router.POST("/http/stream", handler.HandleHTTPStream)
func NewChatStreamHandler(
	conversations store.ConversationStore,
	llmClient llm.LLMClient,
	registry *profiles.Registry,
	policyEngine *policy_engine.PolicyEngine,
	usage *observability.UsageRecorder,
	backend string,
	opts extensions.ServiceOptions,
) ChatStreamHandler {
	if conversations == nil {
		panic("NewChatStreamHandler: conversations must not be nil")
	}
	if llmClient == nil {
		panic("NewChatStreamHandler: llmClient must not be nil")
	}
	if registry == nil {
		panic("NewChatStreamHandler: registry must not be nil")
	}
	if policyEngine == nil {
		panic("NewChatStreamHandler: policyEngine must not be nil")
	}

	if opts.AuthzProvider == nil {
		opts.AuthzProvider = &extensions.NopAuthzProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &extensions.NopAuditLogger{}
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = &extensions.NopMessageFilter{}
	}
	if opts.DataClassifier == nil {
		opts.DataClassifier = &extensions.NopDataClassifier{}
	}
	if opts.RequestAuditor == nil {
		opts.RequestAuditor = &extensions.NopRequestAuditor{}
	}

	return &chatStreamHandler{
		store:        conversations,
		llmClient:    llmClient,
		registry:     registry,
		policyEngine: policyEngine,
		usage:        usage,
		backend:      backend,
		tracer:       otel.Tracer("aleutian.chat_backend.handlers.chat_stream"),
		opts:         opts,
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleHTTPStream processes chat requests with SSE streaming.
//
// # Description
//
// Handles POST /http/stream requests. The flow is:
//  1. Parse and validate request body
//  2. Resolve account and chat concurrently (both must exist)
//  3. Scan message for policy violations when the backend is remote
//  4. Load recent history and assemble the prompt
//  5. Set SSE headers and emit the start event
//  6. Stream buffered chunk events from the LLM
//  7. Derive a title, emit summary (if any) then complete
//  8. Write the response back to the originating message record
//
// # Security
//
//   - Outbound (user → remote LLM): scanned, blocked with 403 on findings
//   - Enterprise MessageFilter runs on the inbound message for all backends
//   - Full request/response captured via RequestAuditor when installed
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// Request Body (datatypes.StreamRequest):
//   - message: Required. The new user message.
//   - account_id: Required. Account to resolve the system prompt from.
//   - conversation_id: Required. Chat whose history seeds the prompt.
//   - original_message_id: Optional. Message record updated on completion.
//
// # Outputs
//
// SSE frames, each a data-only event:
//
//	data: {"type":"start","data":{}}
//	data: {"type":"chunk","data":{"text":"Hello wo"}}
//	data: {"type":"summary","data":{"title":"Hello"}}
//	data: {"type":"complete","data":{"text":"Hello world."}}
//	data: {"type":"error","data":{"message":"..."}}
//
// HTTP Status (before streaming starts):
//   - 400 Bad Request: Malformed body, validation failure, unknown account
//     ("Invalid account ID") or unknown chat ("Invalid chat ID")
//   - 403 Forbidden: Policy violation or filter block
//   - 500 Internal Server Error: Lookup/history/SSE setup failures
//
// # Limitations
//
//   - Errors during streaming are sent as events, not HTTP errors
//   - Only the new user message is policy-scanned, not loaded history
//
// # Assumptions
//
//   - Client supports SSE and tolerates ": ping" comment lines
func (h *chatStreamHandler) HandleHTTPStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointHTTPStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleHTTPStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 0: Get authenticated user from context
	// Auth middleware has already validated the token and stored AuthInfo
	authInfo := middleware.GetAuthInfo(c)
	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}
	span.SetAttributes(attribute.String("user.id", userID))

	// Step 0.5: Read raw body for enterprise request capture
	rawBody, bodyErr := io.ReadAll(c.Request.Body)
	if bodyErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(rawBody))

	// Step 1: Parse request body
	var req datatypes.StreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse stream request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	span.SetAttributes(
		attribute.String("chat.account_id", req.AccountID),
		attribute.String("chat.conversation_id", req.ConversationID),
	)

	// Step 2: Validate request
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Stream request validation failed",
			"error", err,
			"conversationId", req.ConversationID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	// Step 2.5: Authorization check
	// Enterprise can restrict who can stream against which conversation
	if err := h.opts.AuthzProvider.Authorize(ctx, extensions.AuthzRequest{
		User:         authInfo,
		Action:       "send",
		ResourceType: "chat",
		ResourceID:   req.ConversationID,
	}); err != nil {
		span.SetStatus(codes.Error, "authorization denied")
		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "authz.denied",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "send",
			ResourceType: "chat",
			ResourceID:   req.ConversationID,
			Outcome:      "denied",
			Metadata: map[string]any{
				"account_id": req.AccountID,
				"reason":     err.Error(),
			},
		})
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	// Step 3: Resolve account and chat concurrently. Both lookups always
	// run to completion; account errors take precedence when responding.
	var (
		account    *datatypes.AccountProperties
		chat       *datatypes.ChatProperties
		accountErr error
		chatErr    error
	)
	var g errgroup.Group
	g.Go(func() error {
		account, accountErr = h.store.GetAccount(ctx, req.AccountID)
		return accountErr
	})
	g.Go(func() error {
		chat, chatErr = h.store.GetChat(ctx, req.ConversationID)
		return chatErr
	})
	_ = g.Wait()

	if accountErr != nil {
		span.RecordError(accountErr)
		span.SetStatus(codes.Error, "account lookup failed")
		if errors.Is(accountErr, store.ErrAccountNotFound) {
			slog.Warn("Stream request for unknown account", "accountId", req.AccountID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
			return
		}
		slog.Error("Account lookup failed", "error", accountErr, "accountId", req.AccountID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStoreError)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": accountErr.Error()})
		return
	}

	if chatErr != nil {
		span.RecordError(chatErr)
		span.SetStatus(codes.Error, "chat lookup failed")
		if errors.Is(chatErr, store.ErrChatNotFound) {
			slog.Warn("Stream request for unknown chat", "conversationId", req.ConversationID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
			return
		}
		slog.Error("Chat lookup failed", "error", chatErr, "conversationId", req.ConversationID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStoreError)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": chatErr.Error()})
		return
	}

	// Step 3.5: Capture request for enterprise audit
	auditID, _ := h.opts.RequestAuditor.CaptureRequest(ctx, &extensions.AuditableRequest{
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Headers:   extractHeaders(c),
		Body:      rawBody,
		UserID:    userID,
		SessionID: req.ConversationID,
		Timestamp: startTime,
	})

	// Step 4: Gate the message before it leaves the machine. Local backends
	// keep data on-host, so only remote ones get the outbound scan.
	message, ok := h.gateOutboundMessage(ctx, c, span, endpoint, userID, &req)
	if !ok {
		return
	}

	// Step 5: Load recent history and assemble the prompt
	history, histErr := h.store.RecentMessages(ctx, req.ConversationID, maxHistoryTurns)
	if histErr != nil {
		span.RecordError(histErr)
		span.SetStatus(codes.Error, "history load failed")
		slog.Error("Failed to load conversation history",
			"error", histErr,
			"conversationId", req.ConversationID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStoreError)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": histErr.Error()})
		return
	}

	messages := buildMessages(account, history, message)

	profileName := chat.ModelProfile
	if profileName == "" {
		profileName = profiles.DefaultProfileName
	}
	profile := h.registry.Resolve(profileName)
	params := profile.Params()
	span.SetAttributes(
		attribute.String("chat.model_profile", profileName),
		attribute.String("llm.model", profile.Model),
		attribute.Int("prompt.message_count", len(messages)),
	)

	// Step 6: Set SSE headers and create writer
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer",
			"error", err,
			"conversationId", req.ConversationID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Step 7: Emit start event. From here on, errors travel as SSE frames.
	if err := sseWriter.WriteStart(); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write start event",
			"error", err,
			"conversationId", req.ConversationID,
		)
		return
	}

	// Step 8: Start heartbeat goroutine to prevent connection timeouts
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	// Step 8.5: Create accumulator for enterprise response capture
	accumulator, accErr := NewSecureTokenAccumulator()
	if accErr != nil {
		slog.Debug("failed to create token accumulator for capture", "error", accErr)
	}
	defer func() {
		if accumulator != nil {
			accumulator.Destroy()
		}
	}()

	// Step 9: Stream buffered chunks from the LLM
	var tokenCount int32
	firstTokenTime := time.Time{}
	full, streamErr := h.streamResponse(ctx, messages, params, sseWriter, &tokenCount, &firstTokenTime, accumulator)

	// Stop heartbeat
	close(heartbeatDone)

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "LLM streaming failed")
		span.SetAttributes(attribute.Int("stream.token_count", int(tokenCount)))
		slog.Error("LLM streaming failed",
			"error", streamErr,
			"conversationId", req.ConversationID,
			"tokenCount", tokenCount,
		)

		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "chat.stream",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "send",
			ResourceType: "chat",
			ResourceID:   req.ConversationID,
			Outcome:      "failed",
			Metadata: map[string]any{
				"account_id":  req.AccountID,
				"error":       streamErr.Error(),
				"token_count": fmt.Sprintf("%d", tokenCount),
			},
		})

		// Categorize error for metrics
		outcome := "error"
		if errors.Is(streamErr, context.Canceled) {
			outcome = "disconnect"
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
		} else {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
		}
		h.recordUsage(ctx, endpoint, profile.Model, profileName, outcome, startTime, int(tokenCount), len(full))
		// Error already sent via SSE
		return
	}

	// Record time to first token
	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}

	span.SetAttributes(attribute.Int("stream.token_count", int(tokenCount)))
	if m := observability.DefaultMetrics; m != nil {
		m.RecordOutputTokens(profile.Model, int(tokenCount))
	}

	// Step 10: Derive title and emit summary before the terminal event
	title := deriveTitle(full)
	if title != "" {
		if err := sseWriter.WriteSummary(title); err != nil {
			span.RecordError(err)
			slog.Error("Failed to write summary event",
				"error", err,
				"conversationId", req.ConversationID,
			)
			return
		}
	}

	// Step 11: Emit complete event
	if err := sseWriter.WriteComplete(full); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write complete event",
			"error", err,
			"conversationId", req.ConversationID,
		)
		return
	}

	success = true

	// Step 12: Write the response back to the originating message record.
	// The stream is already terminal, so failures here only log.
	h.persistExchange(endpoint, req.OriginalMessageID, req.ConversationID, full, title)

	// Step 13: Capture response for enterprise audit
	responseHash := ""
	if accumulator != nil {
		answer, hashStr, finErr := accumulator.Finalize()
		if finErr == nil {
			responseHash = hashStr
			_ = h.opts.RequestAuditor.CaptureResponse(ctx, auditID, &extensions.AuditableResponse{
				StatusCode: http.StatusOK,
				Headers:    extensions.HTTPHeaders{"Content-Type": "text/event-stream"},
				Body:       []byte(answer),
				Timestamp:  time.Now().UTC(),
			})
		}
	}

	// Step 14: Log successful exchange. The response classification records
	// what sensitivity level left the model, for enterprise audit trails.
	responseClass := ""
	if result, clsErr := h.opts.DataClassifier.Classify(ctx, full); clsErr == nil && result != nil {
		responseClass = string(result.HighestLevel)
	}
	processingTime := time.Since(startTime).Milliseconds()
	_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
		EventType:    "chat.stream",
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       "send",
		ResourceType: "chat",
		ResourceID:   req.ConversationID,
		Outcome:      "success",
		Metadata: map[string]any{
			"account_id":              req.AccountID,
			"token_count":             fmt.Sprintf("%d", tokenCount),
			"processing_ms":           fmt.Sprintf("%d", processingTime),
			"response_sha256":         responseHash,
			"response_classification": responseClass,
			"title_derived":           fmt.Sprintf("%t", title != ""),
		},
	})

	h.recordUsage(ctx, endpoint, profile.Model, profileName, "success", startTime, int(tokenCount), len(full))
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// =============================================================================
// Outbound Gate
// =============================================================================

// gateOutboundMessage runs the policy scan and enterprise filter on the new
// user message before it is sent to any LLM backend.
//
// The policy scan only applies to remote backends (openai, claude); local
// inference keeps data on-host. The MessageFilter always runs so enterprise
// redaction covers local deployments too. Returns the (possibly filtered)
// message and false if a response has already been written.
func (h *chatStreamHandler) gateOutboundMessage(
	ctx context.Context,
	c *gin.Context,
	span trace.Span,
	endpoint observability.Endpoint,
	userID string,
	req *datatypes.StreamRequest,
) (string, bool) {
	if isRemoteBackend(h.backend) {
		findings := h.policyEngine.ScanFileContent(req.Message)
		if len(findings) > 0 {
			span.SetAttributes(attribute.Int("policy.findings_count", len(findings)))
			slog.Warn("Blocked stream: message contains sensitive data",
				"findings_count", len(findings),
				"classification", findings[0].ClassificationName,
				"conversationId", req.ConversationID,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
			}
			c.JSON(http.StatusForbidden, gin.H{
				"error":          "Policy Violation: Message contains sensitive data.",
				"classification": findings[0].ClassificationName,
			})
			return "", false
		}
	}

	filterResult, filterErr := h.opts.MessageFilter.FilterInput(ctx, req.Message)
	if filterErr != nil {
		slog.Error("Message filter failed", "error", filterErr, "conversationId", req.ConversationID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message processing failed"})
		return "", false
	}

	if filterResult.WasBlocked {
		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "chat.blocked",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "send",
			ResourceType: "chat",
			ResourceID:   req.ConversationID,
			Outcome:      "blocked",
			Metadata: map[string]any{
				"account_id": req.AccountID,
				"reason":     filterResult.BlockReason,
			},
		})
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "Message blocked by content filter",
			"reason": filterResult.BlockReason,
		})
		return "", false
	}

	// Use filtered content (may have PII redacted)
	return filterResult.Filtered, true
}

// isRemoteBackend reports whether the backend ships prompts off-host.
func isRemoteBackend(backend string) bool {
	return backend == "openai" || backend == "claude"
}

// =============================================================================
// Streaming Core
// =============================================================================

// streamResponse drives ChatStream and re-emits buffered chunk events.
//
// # Description
//
// Fragments from the LLM are appended to a pending buffer and flushed as a
// single chunk event when either chunkFlushFragments fragments have
// accumulated or a fragment contains one of chunkFlushMarks. The trailing
// buffer is flushed after the stream ends, so the concatenation of all
// chunk events always equals the returned full response.
//
// On any stream failure a terminal error event is written here, carrying
// the error text verbatim; callers must not emit a second one.
//
// # Inputs
//
//   - ctx: Request context; cancellation aborts the stream.
//   - messages: Full prompt including system/history/user turns.
//   - params: Generation parameters from the resolved profile.
//   - writer: Event sink for chunk/error frames.
//   - tokenCount: Incremented per fragment (read by caller for metrics).
//   - firstTokenTime: Set once on the first fragment.
//   - accumulator: Optional mirror for enterprise capture. May be nil.
//
// # Outputs
//
//   - string: The full concatenated response, also valid on error (partial).
//   - error: Non-nil if the stream failed after it started.
func (h *chatStreamHandler) streamResponse(
	ctx context.Context,
	messages []datatypes.Message,
	params llm.GenerationParams,
	writer SSEWriter,
	tokenCount *int32,
	firstTokenTime *time.Time,
	accumulator TokenAccumulator,
) (string, error) {
	var full strings.Builder
	var pending strings.Builder
	buffered := 0

	flush := func() error {
		if pending.Len() == 0 {
			return nil
		}
		if err := writer.WriteChunk(pending.String()); err != nil {
			return err
		}
		pending.Reset()
		buffered = 0
		return nil
	}

	callback := func(event llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstTokenTime.IsZero() {
				*firstTokenTime = time.Now()
			}
			atomic.AddInt32(tokenCount, 1)

			if accumulator != nil {
				if err := accumulator.Write(event.Content); err != nil {
					slog.Warn("Token accumulator write failed; capture disabled for this stream",
						"error", err,
					)
					accumulator = nil
				}
			}

			full.WriteString(event.Content)
			pending.WriteString(event.Content)
			buffered++

			if buffered >= chunkFlushFragments || strings.ContainsAny(event.Content, chunkFlushMarks) {
				return flush()
			}
		case llm.StreamEventThinking:
			// Reasoning traces are not part of the response contract.
		case llm.StreamEventError:
			// The ChatStream error return owns the terminal error event.
		}
		return nil
	}

	if err := h.llmClient.ChatStream(ctx, messages, params, callback); err != nil {
		if writeErr := writer.WriteError(err.Error()); writeErr != nil {
			slog.Debug("Failed to write error event", "error", writeErr)
		}
		return full.String(), err
	}

	if err := flush(); err != nil {
		if writeErr := writer.WriteError(err.Error()); writeErr != nil {
			slog.Debug("Failed to write error event", "error", writeErr)
		}
		return full.String(), err
	}

	return full.String(), nil
}

// runHeartbeat sends SSE keep-alive comments until the stream finishes.
//
// The done channel is closed by the handler once streaming completes; ctx
// covers client disconnects. Comment lines are invisible to event parsing,
// so heartbeats never disturb the event ordering contract.
func (h *chatStreamHandler) runHeartbeat(ctx context.Context, writer SSEWriter, endpoint observability.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Heartbeat write failed, stopping", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// =============================================================================
// Title Derivation
// =============================================================================

// deriveTitle produces a short conversation title from the full response.
//
// # Description
//
// Responses of titleMinRunes runes or fewer get no title. Otherwise the
// candidate is the first line truncated to titleMaxRunes; when that first
// line is shorter than titleMinRunes, the fallback is the first
// titleMaxRunes runes of the whole response with newlines flattened to
// spaces.
//
// # Examples
//
//	deriveTitle("Hello world\nThis continues") == "Hello world"
//	deriveTitle("Hi\nthere, more text follows") == "Hi there, more text follows"
//	deriveTitle("short") == ""
func deriveTitle(response string) string {
	if utf8.RuneCountInString(response) <= titleMinRunes {
		return ""
	}

	firstLine, _, _ := strings.Cut(response, "\n")
	title := truncateRunes(firstLine, titleMaxRunes)

	if utf8.RuneCountInString(title) < titleMinRunes {
		title = strings.ReplaceAll(truncateRunes(response, titleMaxRunes), "\n", " ")
	}

	return title
}

// truncateRunes shortens s to at most n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// =============================================================================
// Persistence
// =============================================================================

// persistExchange writes the final response and title back to the message
// record that originated this stream.
//
// Runs on a detached context because the request context is typically
// canceled the moment the SSE stream closes. Failures log and count; the
// client already holds the terminal event and is never notified.
func (h *chatStreamHandler) persistExchange(endpoint observability.Endpoint, messageID, conversationID, response, title string) {
	if messageID == "" {
		slog.Warn("No original message ID; skipping response persistence",
			"conversationId", conversationID,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	fields := map[string]interface{}{
		"response": response,
	}
	// Never overwrite an existing title with a blank one.
	if title != "" {
		fields["title"] = title
	}

	if err := h.store.UpdateMessage(ctx, messageID, fields); err != nil {
		slog.Error("Failed to persist streamed response",
			"error", err,
			"messageId", messageID,
			"conversationId", conversationID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStoreError)
		}
		return
	}

	slog.Debug("Persisted streamed response",
		"messageId", messageID,
		"responseChars", len(response),
		"titleDerived", title != "",
	)
}

// =============================================================================
// Prompt Assembly
// =============================================================================

// buildMessages assembles the prompt: the account's system prompt (when
// set), the recent history turns oldest-first, then the new user message.
func buildMessages(account *datatypes.AccountProperties, history []datatypes.Message, userMessage string) []datatypes.Message {
	messages := make([]datatypes.Message, 0, len(history)+2)

	if account.SystemPrompt != "" {
		messages = append(messages, datatypes.Message{
			Role:    "system",
			Content: account.SystemPrompt,
		})
	}

	messages = append(messages, history...)

	messages = append(messages, datatypes.Message{
		Role:    "user",
		Content: userMessage,
	})

	return messages
}

// =============================================================================
// Helpers
// =============================================================================

// recordUsage emits one per-exchange telemetry point. Safe on a nil recorder.
func (h *chatStreamHandler) recordUsage(ctx context.Context, endpoint observability.Endpoint, model, profileName, outcome string, startTime time.Time, tokens, chars int) {
	h.usage.RecordStream(ctx, observability.StreamUsage{
		Endpoint:      string(endpoint),
		Model:         model,
		Profile:       profileName,
		Outcome:       outcome,
		Duration:      time.Since(startTime),
		OutputTokens:  tokens,
		ResponseChars: chars,
		Timestamp:     time.Now().UTC(),
	})
}

// extractHeaders flattens request headers for audit capture, redacting
// credential-bearing ones.
func extractHeaders(c *gin.Context) extensions.HTTPHeaders {
	headers := make(extensions.HTTPHeaders, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if strings.EqualFold(name, "Authorization") || strings.EqualFold(name, "Cookie") {
			headers[name] = "[REDACTED]"
			continue
		}
		headers[name] = strings.Join(values, ", ")
	}
	return headers
}
