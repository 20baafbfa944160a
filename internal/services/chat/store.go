package chat

import (
	"context"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

// MessageStore persists conversation messages. Each call is atomic.
type MessageStore interface {
	Insert(ctx context.Context, msg models.PersistedMessage) (string, error)
	Update(ctx context.Context, id string, upd models.MessageUpdate) error
	Delete(ctx context.Context, id string) error
	ListByConversation(ctx context.Context, conversationID string) ([]models.PersistedMessage, error)
}

// ConversationStore owns conversation records. Get returns nil, nil for an
// unknown id.
type ConversationStore interface {
	Create(ctx context.Context, userID, title string) (models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	SetTitle(ctx context.Context, id, title string) error
}

// Retriever finds passages relevant to the live question.
type Retriever interface {
	Query(ctx context.Context, text, userID string, topK int) ([]models.RetrievedPassage, error)
}

// EventSink receives the response stream. A Send error means the client is gone.
type EventSink interface {
	Send(ev models.StreamEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(models.StreamEvent) error

func (f SinkFunc) Send(ev models.StreamEvent) error {
	return f(ev)
}
