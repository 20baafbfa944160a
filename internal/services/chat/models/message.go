package models

import "time"

// MessageStatus tracks whether an assistant reply is still being produced.
type MessageStatus string

const (
	StatusStreaming MessageStatus = "streaming"
	StatusDone      MessageStatus = "done"
)

// PersistedMessage is a stored conversation message. Assistant replies are
// created as streaming placeholders and finalized or deleted later.
type PersistedMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	Model          string        `json:"model,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Turn converts the stored message into a provider turn.
func (m PersistedMessage) Turn() Turn {
	return Turn{Role: m.Role, Text: m.Content}
}

// MessageUpdate lists the fields an update may change. Nil fields are left alone.
type MessageUpdate struct {
	Content *string
	Status  *MessageStatus
	Model   *string
}

// Conversation is the ownership and title record for a message thread.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
