package e2e

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

// TestChatLifecycle verifies the full admin loop: Account -> Chat -> Message -> List
func TestChatLifecycle(t *testing.T) {
	requireBackend(t)

	// 1. Create the account/chat pair
	accountID, conversationID := newTestAccount(t)

	// 2. Read the account back
	var account map[string]any
	if status := getJSON(t, "/v1/accounts/"+accountID, &account); status != http.StatusOK {
		t.Fatalf("GetAccount returned %d", status)
	}
	if account["account_id"] != accountID {
		t.Errorf("account round-trip mismatch: got %v, want %s", account["account_id"], accountID)
	}

	// 3. Read the chat back
	var chat map[string]any
	if status := getJSON(t, "/v1/chats/"+conversationID, &chat); status != http.StatusOK {
		t.Fatalf("GetChat returned %d", status)
	}
	if chat["account_id"] != accountID {
		t.Errorf("chat not linked to account: got %v, want %s", chat["account_id"], accountID)
	}

	// 4. Append a message with a unique marker we can find again
	uniqueID := time.Now().Unix()
	marker := fmt.Sprintf("lighthouse_keeper_%d", uniqueID)
	content := fmt.Sprintf("Tell me about the %s.", marker)

	var msgResp struct {
		MessageID string `json:"message_id"`
	}
	status := postJSON(t, "/v1/chats/"+conversationID+"/messages", map[string]any{
		"role":    "user",
		"content": content,
	}, &msgResp)
	if status != http.StatusCreated || msgResp.MessageID == "" {
		t.Fatalf("AppendMessage failed: status=%d id=%q", status, msgResp.MessageID)
	}

	// 5. List messages and find the marker
	var listResp struct {
		Messages []map[string]any `json:"messages"`
		Count    int              `json:"count"`
	}
	if status := getJSON(t, "/v1/chats/"+conversationID+"/messages", &listResp); status != http.StatusOK {
		t.Fatalf("ListMessages returned %d", status)
	}
	if listResp.Count != 1 {
		t.Fatalf("expected 1 message, got %d", listResp.Count)
	}
	if listResp.Messages[0]["content"] != content {
		t.Errorf("message content mismatch.\nExpected: %s\nGot: %v", content, listResp.Messages[0]["content"])
	} else {
		t.Log("✅ Chat lifecycle round-trip passed")
	}
}

// TestChatLifecycle_UnknownIDs verifies lookups against ids that were never minted.
func TestChatLifecycle_UnknownIDs(t *testing.T) {
	requireBackend(t)

	if status := getJSON(t, "/v1/accounts/00000000-0000-0000-0000-000000000000", nil); status != http.StatusNotFound {
		t.Errorf("unknown account returned %d, want 404", status)
	}
	if status := getJSON(t, "/v1/chats/00000000-0000-0000-0000-000000000000", nil); status != http.StatusNotFound {
		t.Errorf("unknown chat returned %d, want 404", status)
	}
}

// TestChatCreation_RequiresAccount verifies a chat cannot hang off a missing account.
func TestChatCreation_RequiresAccount(t *testing.T) {
	requireBackend(t)

	status := postJSON(t, "/v1/chats", map[string]any{
		"account_id": "00000000-0000-0000-0000-000000000000",
		"title":      "orphan chat",
	}, nil)
	if status != http.StatusNotFound {
		t.Errorf("chat against missing account returned %d, want 404", status)
	}
}
