package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"screen-server/internal/domain"
)

// HistoryQuery pagina el historial de una sesion. Por defecto orden ascendente.
type HistoryQuery struct {
	Limit      int
	Offset     int
	Descending bool
}

type MessageRepository interface {
	ListBySessionID(ctx context.Context, sessionID string, q HistoryQuery) ([]domain.Message, error)
	CountBySessionID(ctx context.Context, sessionID string) (int, error)
	// MarkRead marca como leidos los mensajes que no envio reader.
	MarkRead(ctx context.Context, sessionID string, reader domain.SenderType) (int64, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertMessage(ctx context.Context, db execer, message domain.Message) error {
	const query = `
		INSERT INTO chat_messages (id, session_id, sender_id, sender_type, message_type, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := db.Exec(ctx, query,
		message.ID,
		message.SessionID,
		nullableString(message.SenderID),
		message.SenderType,
		message.MessageType,
		message.Content,
		message.IsRead,
		message.CreatedAt,
	)
	return err
}

func (r *PgMessageRepository) ListBySessionID(ctx context.Context, sessionID string, q HistoryQuery) ([]domain.Message, error) {
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query := `
		SELECT id, session_id, sender_id, sender_type, message_type, content, is_read, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ` + order + `, seq ` + order + `
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, sessionID, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			msg      domain.Message
			senderID *string
		)
		err = rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&senderID,
			&msg.SenderType,
			&msg.MessageType,
			&msg.Content,
			&msg.IsRead,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if senderID != nil {
			msg.SenderID = *senderID
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *PgMessageRepository) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func (r *PgMessageRepository) MarkRead(ctx context.Context, sessionID string, reader domain.SenderType) (int64, error) {
	const query = `
		UPDATE chat_messages
		SET is_read = TRUE
		WHERE session_id = $1 AND is_read = FALSE AND sender_type <> $2
	`
	tag, err := r.pool.Exec(ctx, query, sessionID, reader)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
