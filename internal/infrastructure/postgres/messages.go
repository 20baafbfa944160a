package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func (s *MessageStore) Insert(ctx context.Context, msg models.PersistedMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, status, model)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, string(msg.Status), msg.Model,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

// Update changes only the fields set in upd.
func (s *MessageStore) Update(ctx context.Context, id string, upd models.MessageUpdate) error {
	var sets []string
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Content != nil {
		add("content", *upd.Content)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Model != nil {
		add("model", *upd.Model)
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx, "UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s not found", id)
	}
	return nil
}

func (s *MessageStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM messages WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string) ([]models.PersistedMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, status, model, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PersistedMessage, error) {
		var m models.PersistedMessage
		var role, status string
		err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &status, &m.Model, &m.CreatedAt)
		m.Role = models.Role(role)
		m.Status = models.MessageStatus(status)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}
	return msgs, nil
}
