package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"screen-server/internal/domain"
)

// ErrDuplicate se devuelve cuando se viola una restriccion de unicidad.
var ErrDuplicate = errors.New("duplicate record")

// OperatorRepository define el contrato de persistencia para operadores.
type OperatorRepository interface {
	Create(ctx context.Context, operator domain.Operator) error
	GetByID(ctx context.Context, id string) (domain.Operator, error)
	GetByEmail(ctx context.Context, email string) (domain.Operator, error)
	// UpdateStatus guarda el estado; si el estado refresca actividad, last_active_at = at.
	UpdateStatus(ctx context.Context, id string, status domain.OperatorStatus, at time.Time) (domain.Operator, error)
	// ListByStatus devuelve operadores ordenados por nombre; sin estados devuelve todos.
	ListByStatus(ctx context.Context, statuses ...domain.OperatorStatus) ([]domain.Operator, error)
}

// PgOperatorRepository implementa OperatorRepository usando pgxpool.
type PgOperatorRepository struct {
	pool *pgxpool.Pool
}

func NewPgOperatorRepository(pool *pgxpool.Pool) *PgOperatorRepository {
	return &PgOperatorRepository{pool: pool}
}

const operatorColumns = `id, name, email, status, last_active_at, created_at, updated_at`

func (r *PgOperatorRepository) Create(ctx context.Context, operator domain.Operator) error {
	const query = `
		INSERT INTO operators (id, name, email, status, last_active_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		operator.ID,
		operator.Name,
		operator.Email,
		operator.Status,
		operator.LastActiveAt,
		operator.CreatedAt,
		operator.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *PgOperatorRepository) GetByID(ctx context.Context, id string) (domain.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators WHERE id = $1`
	return scanOperator(r.pool.QueryRow(ctx, query, id))
}

func (r *PgOperatorRepository) GetByEmail(ctx context.Context, email string) (domain.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators WHERE lower(email) = lower($1)`
	return scanOperator(r.pool.QueryRow(ctx, query, email))
}

func (r *PgOperatorRepository) UpdateStatus(ctx context.Context, id string, status domain.OperatorStatus, at time.Time) (domain.Operator, error) {
	query := `
		UPDATE operators
		SET status = $2,
			last_active_at = CASE WHEN $3 THEN $4 ELSE last_active_at END,
			updated_at = $4
		WHERE id = $1
		RETURNING ` + operatorColumns
	return scanOperator(r.pool.QueryRow(ctx, query, id, status, status.RefreshesActivity(), at))
}

func (r *PgOperatorRepository) ListByStatus(ctx context.Context, statuses ...domain.OperatorStatus) ([]domain.Operator, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = r.pool.Query(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY name, id`)
	} else {
		values := make([]string, 0, len(statuses))
		for _, s := range statuses {
			values = append(values, string(s))
		}
		rows, err = r.pool.Query(ctx, `SELECT `+operatorColumns+` FROM operators WHERE status = ANY($1) ORDER BY name, id`, values)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	operators := []domain.Operator{}
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

func scanOperator(row pgx.Row) (domain.Operator, error) {
	var op domain.Operator
	err := row.Scan(
		&op.ID,
		&op.Name,
		&op.Email,
		&op.Status,
		&op.LastActiveAt,
		&op.CreatedAt,
		&op.UpdatedAt,
	)
	if err != nil {
		return domain.Operator{}, err
	}
	return op, nil
}
