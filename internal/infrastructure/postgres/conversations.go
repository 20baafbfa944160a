package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

type ConversationStore struct {
	pool *pgxpool.Pool
}

func (s *ConversationStore) Create(ctx context.Context, userID, title string) (models.Conversation, error) {
	conv := models.Conversation{ID: uuid.NewString(), UserID: userID, Title: title}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at`, conv.ID, conv.UserID, conv.Title,
	).Scan(&conv.CreatedAt)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Get returns nil without an error when the conversation does not exist.
func (s *ConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

func (s *ConversationStore) SetTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE conversations SET title = $2 WHERE id = $1", id, title)
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s not found", id)
	}
	return nil
}
