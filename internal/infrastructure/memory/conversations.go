package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{conversations: make(map[string]models.Conversation)}
}

func (s *ConversationStore) Create(ctx context.Context, userID, title string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}

	conv := models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	return conv, nil
}

// Get returns nil without an error when the conversation does not exist.
func (s *ConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (s *ConversationStore) SetTitle(ctx context.Context, id, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	conv.Title = title
	s.conversations[id] = conv
	return nil
}
