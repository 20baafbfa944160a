// Package memory provides in-process stores used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]models.PersistedMessage
	seq      map[string]int64
	next     int64
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string]models.PersistedMessage),
		seq:      make(map[string]int64),
	}
}

func (s *MessageStore) Insert(ctx context.Context, msg models.PersistedMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.next++
	s.messages[msg.ID] = msg
	s.seq[msg.ID] = s.next
	return msg.ID, nil
}

func (s *MessageStore) Update(ctx context.Context, id string, upd models.MessageUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s not found", id)
	}
	if upd.Content != nil {
		msg.Content = *upd.Content
	}
	if upd.Status != nil {
		msg.Status = *upd.Status
	}
	if upd.Model != nil {
		msg.Model = *upd.Model
	}
	s.messages[id] = msg
	return nil
}

// Delete removes a message. Deleting an unknown id is not an error.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	delete(s.seq, id)
	return nil
}

// ListByConversation returns the conversation's messages in insertion order.
func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]models.PersistedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PersistedMessage, 0)
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}
