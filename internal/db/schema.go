package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema crea las tablas si no existen. El indice parcial sobre user_id es el
// que impide dos sesiones abiertas para el mismo usuario.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS operators (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'offline',
		last_active_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS operators_email_key ON operators (lower(email))`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		operator_id TEXT REFERENCES operators (id),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		CHECK (closed_at IS NULL OR closed_at >= created_at)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chat_sessions_open_user_key
		ON chat_sessions (user_id) WHERE status IN ('waiting', 'active')`,
	`CREATE INDEX IF NOT EXISTS chat_sessions_status_idx ON chat_sessions (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS chat_sessions_operator_idx ON chat_sessions (operator_id, status)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions (id),
		sender_id TEXT,
		sender_type TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL CHECK (char_length(content) BETWEEN 1 AND 10000),
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, created_at, seq)`,
}

// Migrate aplica el esquema de forma idempotente.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
