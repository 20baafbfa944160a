// Package postgres implements the message, conversation and chunk stores on pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	seq             BIGSERIAL,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	filename   TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id);

CREATE TABLE IF NOT EXISTS chunks (
	id          BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	text        TEXT NOT NULL,
	vector      REAL[] NOT NULL,
	page_number INTEGER NOT NULL DEFAULT 0,
	filename    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// DB owns the connection pool shared by the stores.
type DB struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and makes sure the tables exist.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	db := &DB{pool: pool}
	if err := db.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("Connected to Postgres")
	return db, nil
}

func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) Messages() *MessageStore {
	return &MessageStore{pool: db.pool}
}

func (db *DB) Conversations() *ConversationStore {
	return &ConversationStore{pool: db.pool}
}

func (db *DB) Chunks() *ChunkStore {
	return &ChunkStore{pool: db.pool}
}
