package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

type ChunkStore struct {
	pool *pgxpool.Pool
}

// ForUserScope loads every chunk of the user's indexed documents in upload order.
func (s *ChunkStore) ForUserScope(ctx context.Context, userID string) ([]models.StoredChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.text, c.vector, c.page_number, c.filename
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.user_id = $1 AND d.status = $2
		ORDER BY d.created_at, c.id`, userID, string(models.DocumentIndexed))
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StoredChunk, error) {
		var c models.StoredChunk
		err := row.Scan(&c.Text, &c.Vector, &c.PageNumber, &c.Filename)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}
	return chunks, nil
}

// SaveDocument upserts the document and appends chunks in one transaction.
func (s *ChunkStore) SaveDocument(ctx context.Context, doc models.Document, chunks []models.StoredChunk) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (id, user_id, filename, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
			doc.ID, doc.UserID, doc.Filename, string(doc.Status))
		if err != nil {
			return fmt.Errorf("failed to upsert document: %w", err)
		}

		if len(chunks) == 0 {
			return nil
		}

		rows := make([][]any, len(chunks))
		for i, c := range chunks {
			rows[i] = []any{doc.ID, c.Text, c.Vector, c.PageNumber, c.Filename}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"chunks"},
			[]string{"document_id", "text", "vector", "page_number", "filename"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
}

func (s *ChunkStore) SetDocumentStatus(ctx context.Context, documentID string, status models.DocumentStatus) error {
	tag, err := s.pool.Exec(ctx, "UPDATE documents SET status = $2 WHERE id = $1", documentID, string(status))
	if err != nil {
		return fmt.Errorf("failed to set document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", documentID)
	}
	return nil
}
