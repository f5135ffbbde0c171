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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing chat stream events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE serialization and writing, enabling testability
// and separation from HTTP response mechanics. Every event is written as a
// data-only frame:
//
//	data: {"type":"chunk","data":{"text":"..."}}
//
// The event kind travels inside the JSON payload rather than on an SSE
// "event:" line, so clients consume a single onmessage stream without
// registering per-type listeners.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Streaming handlers emit
// events and keepalives from different goroutines.
//
// # Limitations
//
//   - Must be used with http.Flusher-compatible ResponseWriter
//   - Response headers must be set before first write
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteEvent serializes the event and writes it as one SSE frame,
	// flushing immediately.
	WriteEvent(event datatypes.ChatStreamEvent) error

	// WriteStart writes the start event that opens every stream.
	// The payload is intentionally empty.
	WriteStart() error

	// WriteChunk writes a chunk event carrying a batch of generated text.
	WriteChunk(text string) error

	// WriteSummary writes a summary event carrying the derived chat title.
	WriteSummary(title string) error

	// WriteComplete writes the complete event carrying the full response.
	// No further events follow on a successful stream.
	WriteComplete(text string) error

	// WriteError writes a terminal error event. The stream is closed
	// afterwards; nothing may be written once an error has been sent.
	WriteError(message string) error

	// WriteKeepAlive sends a comment line (": ping") to prevent proxy and
	// load balancer idle timeouts. Comments are invisible to SSE clients
	// and do not participate in event ordering.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// Wraps an http.ResponseWriter and flushes after every frame so tokens
// reach the client as they are generated rather than when the handler
// returns.
//
// # Thread Safety
//
// Thread-safe via mutex. The streaming goroutine and the keepalive
// goroutine may write concurrently.
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteStart()
//	writer.WriteChunk("Hello")
//	writer.WriteComplete("Hello")
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent serializes the event and writes it as a data-only SSE frame.
func (w *sseWriter) WriteEvent(event datatypes.ChatStreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteStart() error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeStart,
	})
}

func (w *sseWriter) WriteChunk(text string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeChunk,
		Data: datatypes.ChatStreamEventData{Text: text},
	})
}

func (w *sseWriter) WriteSummary(title string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeSummary,
		Data: datatypes.ChatStreamEventData{Title: title},
	})
}

func (w *sseWriter) WriteComplete(text string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeComplete,
		Data: datatypes.ChatStreamEventData{Text: text},
	})
}

func (w *sseWriter) WriteError(message string) error {
	return w.WriteEvent(datatypes.ChatStreamEvent{
		Type: datatypes.StreamEventTypeError,
		Data: datatypes.ChatStreamEventData{Message: message},
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
//
// # Description
//
// Writes an SSE comment (": ping\n\n") to keep the TCP connection active
// during long generations. Comments are ignored by SSE clients but reset
// load balancer timeout counters (AWS ALB, Nginx default 60s).
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
