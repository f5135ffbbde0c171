package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

// streamEvent mirrors one frame of the streaming chat protocol.
type streamEvent struct {
	Type string `json:"type"`
	Data struct {
		Text    string `json:"text"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"data"`
}

// collectStream posts a stream request and parses every SSE data frame.
// Comment lines (": ping" keepalives) are dropped.
func collectStream(t *testing.T, body map[string]any) (int, []streamEvent) {
	t.Helper()
	payload, _ := json.Marshal(body)

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(backendURL+"/http/stream", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /http/stream failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	var events []streamEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("malformed SSE frame %q: %v", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading SSE stream: %v", err)
	}
	return resp.StatusCode, events
}

// TestStreamWorkflow verifies the full exchange: Append -> Stream -> Persist
func TestStreamWorkflow(t *testing.T) {
	requireBackend(t)

	// 1. Setup account, chat, and the originating message record
	accountID, conversationID := newTestAccount(t)

	question := fmt.Sprintf("Reply with one short sentence about lighthouses. (run %d)", time.Now().Unix())
	var msgResp struct {
		MessageID string `json:"message_id"`
	}
	status := postJSON(t, "/v1/chats/"+conversationID+"/messages", map[string]any{
		"role":    "user",
		"content": question,
	}, &msgResp)
	if status != http.StatusCreated {
		t.Fatalf("AppendMessage failed: status=%d", status)
	}

	// 2. Stream the response
	status, events := collectStream(t, map[string]any{
		"message":             question,
		"account_id":          accountID,
		"conversation_id":     conversationID,
		"original_message_id": msgResp.MessageID,
	})
	if status != http.StatusOK {
		t.Fatalf("stream request rejected with status %d", status)
	}
	if len(events) < 2 {
		t.Fatalf("expected at least start + terminal events, got %d", len(events))
	}

	// 3. Assert event grammar: one start, then chunks, terminal last
	if events[0].Type != "start" {
		t.Errorf("first event = %q, want start", events[0].Type)
	}
	terminal := events[len(events)-1]
	if terminal.Type == "error" {
		t.Fatalf("stream ended with error: %s", terminal.Data.Message)
	}
	if terminal.Type != "complete" {
		t.Fatalf("terminal event = %q, want complete", terminal.Type)
	}
	if terminal.Data.Text == "" {
		t.Error("complete event carried no text")
	}

	// 4. Chunks concatenate to exactly the complete text
	var chunks strings.Builder
	for _, event := range events[1 : len(events)-1] {
		switch event.Type {
		case "chunk":
			chunks.WriteString(event.Data.Text)
		case "summary":
			if event.Data.Title == "" {
				t.Error("summary event carried no title")
			}
		default:
			t.Errorf("unexpected mid-stream event type %q", event.Type)
		}
	}
	if chunks.String() != terminal.Data.Text {
		t.Errorf("chunk concatenation mismatch.\nChunks:   %q\nComplete: %q",
			chunks.String(), terminal.Data.Text)
	}

	// 5. The response is written back to the message record.
	// Persistence is detached from the stream, so poll briefly.
	deadline := time.Now().Add(15 * time.Second)
	for {
		var listResp struct {
			Messages []map[string]any `json:"messages"`
		}
		getJSON(t, "/v1/chats/"+conversationID+"/messages", &listResp)
		if len(listResp.Messages) == 1 {
			if response, _ := listResp.Messages[0]["response"].(string); response != "" {
				if response != terminal.Data.Text {
					t.Errorf("persisted response differs from streamed text.\nStored:   %q\nStreamed: %q",
						response, terminal.Data.Text)
				} else {
					t.Log("✅ Stream workflow passed, response persisted")
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("response was never written back to the message record")
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// TestStream_UnknownChat verifies streaming against a chat that was never created.
func TestStream_UnknownChat(t *testing.T) {
	requireBackend(t)

	accountID, _ := newTestAccount(t)
	status, _ := collectStream(t, map[string]any{
		"message":         "hello",
		"account_id":      accountID,
		"conversation_id": "00000000-0000-0000-0000-000000000000",
	})
	if status != http.StatusBadRequest {
		t.Errorf("unknown chat returned %d, want 400", status)
	}
}

// TestStream_UnknownAccount verifies streaming against an account that was never created.
func TestStream_UnknownAccount(t *testing.T) {
	requireBackend(t)

	_, conversationID := newTestAccount(t)
	status, _ := collectStream(t, map[string]any{
		"message":         "hello",
		"account_id":      "00000000-0000-0000-0000-000000000000",
		"conversation_id": conversationID,
	})
	if status != http.StatusBadRequest {
		t.Errorf("unknown account returned %d, want 400", status)
	}
}
