package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"screen-server/internal/domain"
)

// SessionMutation recibe la sesion bloqueada y puede modificarla. Los mensajes
// devueltos se insertan en la misma transaccion. Si devuelve error no se
// persiste nada.
type SessionMutation func(session *domain.Session) ([]domain.Message, error)

type SessionRepository interface {
	// CreateOpen inserta la sesion salvo que el usuario ya tenga una abierta;
	// en ese caso devuelve la existente y false.
	CreateOpen(ctx context.Context, session domain.Session) (domain.Session, bool, error)
	GetByID(ctx context.Context, id string) (domain.Session, error)
	GetOpenByUserID(ctx context.Context, userID string) (domain.Session, error)
	ListByStatus(ctx context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error)
	CountActiveByOperator(ctx context.Context, operatorIDs []string) (map[string]int, error)
	Mutate(ctx context.Context, id string, fn SessionMutation) (domain.Session, error)
}

var errOpenSessionRace = errors.New("open session changed concurrently")

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, operator_id, status, created_at, updated_at, closed_at`

func (r *PgSessionRepository) CreateOpen(ctx context.Context, session domain.Session) (domain.Session, bool, error) {
	const query = `
		INSERT INTO chat_sessions (id, user_id, operator_id, status, created_at, updated_at)
		VALUES ($1, $2, NULL, $3, $4, $5)
		ON CONFLICT (user_id) WHERE status IN ('waiting', 'active') DO NOTHING
	`
	// El indice parcial garantiza una sola sesion abierta por usuario; si
	// perdemos la carrera releemos la ganadora.
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := r.pool.Exec(ctx, query,
			session.ID,
			session.UserID,
			session.Status,
			session.CreatedAt,
			session.UpdatedAt,
		)
		if err != nil {
			return domain.Session{}, false, err
		}
		if tag.RowsAffected() == 1 {
			return session, true, nil
		}
		existing, err := r.GetOpenByUserID(ctx, session.UserID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, false, err
		}
	}
	return domain.Session{}, false, errOpenSessionRace
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *PgSessionRepository) GetOpenByUserID(ctx context.Context, userID string) (domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1 AND status IN ('waiting', 'active')
		ORDER BY created_at DESC
		LIMIT 1`
	return scanSession(r.pool.QueryRow(ctx, query, userID))
}

func (r *PgSessionRepository) ListByStatus(ctx context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *PgSessionRepository) CountActiveByOperator(ctx context.Context, operatorIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(operatorIDs))
	if len(operatorIDs) == 0 {
		return counts, nil
	}
	const query = `
		SELECT operator_id, COUNT(*)
		FROM chat_sessions
		WHERE status = 'active' AND operator_id = ANY($1)
		GROUP BY operator_id
	`
	rows, err := r.pool.Query(ctx, query, operatorIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *PgSessionRepository) Mutate(ctx context.Context, id string, fn SessionMutation) (domain.Session, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1 FOR UPDATE`
	current, err := scanSession(tx.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Session{}, err
	}

	updated := current
	messages, err := fn(&updated)
	if err != nil {
		return current, err
	}
	if updated == current && len(messages) == 0 {
		return current, nil
	}

	if updated != current {
		const update = `
			UPDATE chat_sessions
			SET operator_id = $2, status = $3, updated_at = $4, closed_at = $5
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update,
			updated.ID,
			nullableString(updated.OperatorID),
			updated.Status,
			updated.UpdatedAt,
			updated.ClosedAt,
		); err != nil {
			return current, fmt.Errorf("update session: %w", err)
		}
	}

	for _, msg := range messages {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return current, fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return current, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s          domain.Session
		operatorID *string
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&operatorID,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.ClosedAt,
	)
	if err != nil {
		return domain.Session{}, err
	}
	if operatorID != nil {
		s.OperatorID = *operatorID
	}
	return s, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
