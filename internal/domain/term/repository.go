package term

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository reads terms. Term management lives outside this service.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Term, error)
	GetCurrent(ctx context.Context) (*Term, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const termColumns = `id, name, start_date, end_date, is_current, created_at`

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Term, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Term
	err := r.db.GetContext(ctx, &t, `SELECT `+termColumns+` FROM terms WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTermNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get term: %v", ErrInternal, err)
	}
	return &t, nil
}

func (r *PostgresRepository) GetCurrent(ctx context.Context) (*Term, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Term
	err := r.db.GetContext(ctx, &t, `SELECT `+termColumns+` FROM terms WHERE is_current LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCurrentTerm
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get current term: %v", ErrInternal, err)
	}
	return &t, nil
}
