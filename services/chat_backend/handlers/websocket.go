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
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/middleware"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/observability"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/profiles"
	"github.com/AleutianAI/AleutianChat/services/chat_backend/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  10 * 1024 * 1024,
	WriteBufferSize: 10 * 1024 * 1024,
}

// wsKeepAliveDeadline bounds how long a ping control frame may block.
const wsKeepAliveDeadline = 5 * time.Second

// =============================================================================
// WebSocket Event Writer
// =============================================================================

// wsEventWriter adapts a websocket connection to the SSEWriter contract so
// the streaming core emits identical event frames on both transports. Each
// event becomes one JSON text message; keep-alives become ping control
// frames. A mutex serializes writes because the heartbeat goroutine and the
// stream callback share the connection.
type wsEventWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newWSEventWriter(ws *websocket.Conn) *wsEventWriter {
	return &wsEventWriter{ws: ws}
}

func (w *wsEventWriter) WriteEvent(event datatypes.ChatStreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.WriteJSON(event); err != nil {
		slog.Warn("WebSocket event write failed", "error", err, "type", event.Type)
		return err
	}
	return nil
}

func (w *wsEventWriter) WriteStart() error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeStart,
	})
}

func (w *wsEventWriter) WriteChunk(text string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeChunk,
		Data: datatypes.ChatStreamEventData{Text: text},
	})
}

func (w *wsEventWriter) WriteSummary(title string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeSummary,
		Data: datatypes.ChatStreamEventData{Title: title},
	})
}

func (w *wsEventWriter) WriteComplete(text string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeComplete,
		Data: datatypes.ChatStreamEventData{Text: text},
	})
}

func (w *wsEventWriter) WriteError(message string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeError,
		Data: datatypes.ChatStreamEventData{Message: message},
	})
}

func (w *wsEventWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsKeepAliveDeadline))
}

// =============================================================================
// Handler Method
// =============================================================================

// HandleChatWebSocket serves the streaming chat flow over a WebSocket.
//
// # Description
//
// Handles GET /v1/chat/ws. After the upgrade, each JSON message the client
// sends is a datatypes.StreamRequest and is answered with the same
// start/chunk/summary/complete/error frames the SSE endpoint emits, then
// the connection waits for the next request. Pre-stream failures that the
// HTTP endpoint reports as status codes are delivered as error frames here,
// since the socket has no per-exchange status line.
//
// # Inputs
//
//   - c: Gin context carrying the upgrade request
//
// # Limitations
//
//   - Exchanges are served sequentially per connection; a second request
//     sent mid-stream waits for the first to finish.
func (h *chatStreamHandler) HandleChatWebSocket(c *gin.Context) {
	authInfo := middleware.GetAuthInfo(c)
	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	slog.Info("WebSocket chat session opened", "userId", userID)

	writer := newWSEventWriter(ws)
	ctx := c.Request.Context()

	for {
		var req datatypes.StreamRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("WebSocket closed unexpectedly", "error", err, "userId", userID)
			} else {
				slog.Info("WebSocket chat session closed", "userId", userID)
			}
			return
		}

		h.serveWebSocketExchange(c, writer, userID, &req)

		if ctx.Err() != nil {
			return
		}
	}
}

// serveWebSocketExchange answers one StreamRequest on an open socket.
//
// Mirrors the SSE flow: resolve account and chat, gate the outbound
// message, assemble the prompt, stream buffered chunks, then summary,
// complete, and persistence. All failures surface as error frames.
func (h *chatStreamHandler) serveWebSocketExchange(c *gin.Context, writer *wsEventWriter, userID string, req *datatypes.StreamRequest) {
	startTime := time.Now()
	endpoint := observability.EndpointWebSocket

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatWebSocket.exchange")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("chat.account_id", req.AccountID),
		attribute.String("chat.conversation_id", req.ConversationID),
	)

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

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		_ = writer.WriteError("invalid request: validation failed")
		return
	}

	account, err := h.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		if errors.Is(err, store.ErrAccountNotFound) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			_ = writer.WriteError("Invalid account ID")
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStoreError)
		}
		_ = writer.WriteError(err.Error())
		return
	}

	chat, err := h.store.GetChat(ctx, req.ConversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat lookup failed")
		if errors.Is(err, store.ErrChatNotFound) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			_ = writer.WriteError("Invalid chat ID")
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStoreError)
		}
		_ = writer.WriteError(err.Error())
		return
	}

	// Outbound gate, websocket flavor: same checks as the SSE path, with
	// denials delivered as error frames.
	message := req.Message
	if isRemoteBackend(h.backend) {
		if classification := h.policyEngine.ClassifyData([]byte(message)); classification != "public" {
			span.SetAttributes(attribute.String("policy.classification", classification))
			slog.Warn("Blocked websocket exchange: message contains sensitive data",
				"classification", classification,
				"conversationId", req.ConversationID,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
			}
			_ = writer.WriteError("Policy Violation: Message contains sensitive data.")
			return
		}
	}

	filterResult, filterErr := h.opts.MessageFilter.FilterInput(ctx, message)
	if filterErr != nil {
		slog.Error("Message filter failed", "error", filterErr, "conversationId", req.ConversationID)
		_ = writer.WriteError("message processing failed")
		return
	}
	if filterResult.WasBlocked {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePolicyViolation)
		}
		_ = writer.WriteError("Message blocked by content filter")
		return
	}
	message = filterResult.Filtered

	history, err := h.store.RecentMessages(ctx, req.ConversationID, maxHistoryTurns)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history load failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStoreError)
		}
		_ = writer.WriteError(err.Error())
		return
	}

	messages := buildMessages(account, history, message)

	profileName := chat.ModelProfile
	if profileName == "" {
		profileName = profiles.DefaultProfileName
	}
	profile := h.registry.Resolve(profileName)

	if err := writer.WriteStart(); err != nil {
		span.RecordError(err)
		return
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)

	var tokenCount int32
	firstTokenTime := time.Time{}
	full, streamErr := h.streamResponse(ctx, messages, profile.Params(), writer, &tokenCount, &firstTokenTime, nil)

	close(heartbeatDone)

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "LLM streaming failed")
		slog.Error("WebSocket streaming failed",
			"error", streamErr,
			"conversationId", req.ConversationID,
			"tokenCount", tokenCount,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeLLMError)
		}
		h.recordUsage(ctx, endpoint, profile.Model, profileName, "error", startTime, int(tokenCount), len(full))
		return
	}

	if !firstTokenTime.IsZero() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, firstTokenTime.Sub(startTime).Seconds())
		}
	}
	span.SetAttributes(attribute.Int("stream.token_count", int(tokenCount)))

	title := deriveTitle(full)
	if title != "" {
		if err := writer.WriteSummary(title); err != nil {
			span.RecordError(err)
			return
		}
	}

	if err := writer.WriteComplete(full); err != nil {
		span.RecordError(err)
		return
	}

	success = true

	h.persistExchange(endpoint, req.OriginalMessageID, req.ConversationID, full, title)

	h.recordUsage(ctx, endpoint, profile.Model, profileName, "success", startTime, int(tokenCount), len(full))
	span.SetStatus(codes.Ok, "exchange completed")
}
