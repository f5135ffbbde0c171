package datatypes

import "fmt"

// AccountProperties holds the stored fields of an Account object.
type AccountProperties struct {
	AccountID    string
	Name         string
	SystemPrompt string
	CreatedAt    int64
}

// ToMap converts the properties to a map for Weaviate storage.
func (ap *AccountProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"account_id":    ap.AccountID,
		"name":          ap.Name,
		"system_prompt": ap.SystemPrompt,
		"created_at":    ap.CreatedAt,
	}
}

// ChatProperties holds the stored fields of a Chat object.
type ChatProperties struct {
	ConversationID string
	AccountID      string
	Title          string
	ModelProfile   string
	CreatedAt      int64
}

// ToMap converts the properties to a map for Weaviate storage.
func (cp *ChatProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": cp.ConversationID,
		"account_id":      cp.AccountID,
		"title":           cp.Title,
		"model_profile":   cp.ModelProfile,
		"created_at":      cp.CreatedAt,
	}
}

// ChatMessageProperties holds the stored fields of a ChatMessage object.
// Content is the user-side text; Response and Title are written back once a
// stream for this message completes.
type ChatMessageProperties struct {
	MessageID      string
	ConversationID string
	Role           string
	Content        string
	Response       string
	Title          string
	Timestamp      int64
}

// ToMap converts the properties to a map for Weaviate storage.
func (mp *ChatMessageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_id":      mp.MessageID,
		"conversation_id": mp.ConversationID,
		"role":            mp.Role,
		"content":         mp.Content,
		"response":        mp.Response,
		"title":           mp.Title,
		"timestamp":       mp.Timestamp,
	}
}

// Turns expands a message record into conversation turns for prompt assembly.
// The user turn is always present; the assistant turn only once a response
// has been stored.
func (mp *ChatMessageProperties) Turns() []Message {
	turns := []Message{{Role: mp.Role, Content: mp.Content}}
	if mp.Response != "" {
		turns = append(turns, Message{Role: "assistant", Content: mp.Response})
	}
	return turns
}

// CreateAccountRequest is the body of POST /v1/accounts.
type CreateAccountRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=200"`
	SystemPrompt string `json:"system_prompt"`
}

// Validate validates the CreateAccountRequest fields. The system prompt is
// checked in bytes, not runes, against MaxSystemPromptBytes.
func (r *CreateAccountRequest) Validate() error {
	if len(r.SystemPrompt) > MaxSystemPromptBytes {
		return fmt.Errorf("system_prompt exceeds %d bytes", MaxSystemPromptBytes)
	}
	return chatValidate.Struct(r)
}

// CreateChatRequest is the body of POST /v1/chats.
type CreateChatRequest struct {
	AccountID    string `json:"account_id" validate:"required"`
	Title        string `json:"title" validate:"max=200"`
	ModelProfile string `json:"model_profile" validate:"max=100"`
}

// Validate validates the CreateChatRequest fields.
func (r *CreateChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// AppendMessageRequest is the body of POST /v1/chats/:id/messages.
type AppendMessageRequest struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// Validate validates the AppendMessageRequest fields.
func (r *AppendMessageRequest) Validate() error {
	return chatValidate.Struct(r)
}
