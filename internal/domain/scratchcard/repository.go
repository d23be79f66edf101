package scratchcard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

const cardColumns = `id, pin, serial_number, batch_id, amount, status, max_usage, usage_count,
	term_id, used_by, used_for_student_id, used_at, expires_at, disabled_reason, created_at, updated_at`

// cardSelect reads cards together with the end date of their term.
var cardSelect = `SELECT ` + qualify("c", cardColumns) + `, t.end_date AS term_end_date
	FROM scratch_cards c LEFT JOIN terms t ON t.id = c.term_id`

func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Repository is the PostgreSQL card store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// FindByPin and Redeem run under the caller's deadline only.
func (r *Repository) FindByPin(ctx context.Context, pin string) (*ScratchCard, error) {
	var c ScratchCard
	err := r.db.GetContext(ctx, &c, cardSelect+` WHERE c.pin = $1`, pin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, unavailable("find by pin", err)
	}
	return &c, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*ScratchCard, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c ScratchCard
	err := r.db.GetContext(ctx, &c, cardSelect+` WHERE c.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, unavailable("get by id", err)
	}
	return &c, nil
}

// redeemQuery is the whole redemption precondition in one conditional
// update. usage_count on the right-hand side is the pre-update value, so
// the status flips to Used in the same statement that reaches the limit.
const redeemQuery = `
	UPDATE scratch_cards
	SET usage_count = usage_count + 1,
		used_at = $2,
		updated_at = $2,
		used_by = COALESCE($3::uuid, used_by),
		used_for_student_id = CASE
			WHEN $7::boolean THEN COALESCE(used_for_student_id, $4::text)
			ELSE COALESCE($4::text, used_for_student_id)
		END,
		status = CASE WHEN usage_count + 1 >= max_usage THEN 'Used' ELSE status END
	WHERE pin = $1
		AND status = 'Active'
		AND usage_count < max_usage
		AND (expires_at IS NULL OR expires_at > $2)
		AND NOT EXISTS (
			SELECT 1 FROM terms t
			WHERE t.id = scratch_cards.term_id
				AND t.end_date < ($2::timestamptz AT TIME ZONE 'UTC')::date
		)
		AND (term_id IS NULL OR term_id = $5::text OR ($5::text IS NULL AND $6::boolean))
		AND (NOT $7::boolean OR used_for_student_id IS NULL OR used_for_student_id = $4::text)
	RETURNING ` + cardColumns

func (r *Repository) Redeem(ctx context.Context, p RedeemParams) (*ScratchCard, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer tx.Rollback()

	var c ScratchCard
	err = tx.GetContext(ctx, &c, redeemQuery,
		p.Pin,
		p.Now,
		p.Context.RequestingUserID,
		p.Context.StudentID,
		p.Context.TermID,
		p.Policy.AllowUnscopedTerm,
		p.Policy.BindStudentOnFirstUse,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotRedeemable
	}
	if err != nil {
		return nil, unavailable("conditional update", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scratch_card_redemptions (id, card_id, usage_number, requested_by, student_id, term_id, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), c.ID, c.UsageCount, p.Context.RequestingUserID, p.Context.StudentID, p.Context.TermID, p.Now)
	if err != nil {
		return nil, unavailable("insert redemption", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return &c, nil
}

func (r *Repository) Create(ctx context.Context, cards []*ScratchCard) error {
	if len(cards) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback()

	for _, c := range cards {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO scratch_cards (id, pin, serial_number, batch_id, amount, status, max_usage, usage_count,
				term_id, expires_at, created_at, updated_at)
			VALUES (:id, :pin, :serial_number, :batch_id, :amount, :status, :max_usage, :usage_count,
				:term_id, :expires_at, :created_at, :updated_at)
		`, c)
		if err != nil {
			return mapInsertError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func mapInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			if strings.Contains(pqErr.Constraint, "serial") {
				return ErrDuplicateSerial
			}
			return ErrDuplicatePin
		case "23503":
			return fmt.Errorf("%w: unknown term", ErrInvalidCard)
		}
	}
	return unavailable("insert card", err)
}

func (r *Repository) Disable(ctx context.Context, id uuid.UUID, reason *string, now time.Time) (*ScratchCard, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c ScratchCard
	err := r.db.GetContext(ctx, &c, `
		UPDATE scratch_cards
		SET status = 'Disabled', disabled_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'Active'
		RETURNING `+cardColumns, id, reason, now)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, unavailable("disable", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrCardNotActive
}

// ExpireDue moves Active cards past their expiry date or whose term ended
// before today to Expired.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		UPDATE scratch_cards c
		SET status = 'Expired', updated_at = $1
		WHERE c.status = 'Active'
			AND (
				(c.expires_at IS NOT NULL AND c.expires_at <= $1)
				OR EXISTS (
					SELECT 1 FROM terms t
					WHERE t.id = c.term_id AND t.end_date < ($1::timestamptz AT TIME ZONE 'UTC')::date
				)
			)
		RETURNING c.id
	`, now)
	if err != nil {
		return nil, unavailable("expire due", err)
	}
	return ids, nil
}

func (r *Repository) List(ctx context.Context, f CardFilter) ([]ScratchCard, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("c.status = $%d", f.Status)
	}
	if f.BatchID != nil {
		add("c.batch_id = $%d", *f.BatchID)
	}
	if f.TermID != nil {
		add("c.term_id = $%d", *f.TermID)
	}
	if f.Serial != "" {
		add("c.serial_number ILIKE $%d", "%"+f.Serial+"%")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM scratch_cards c`+clause, args...); err != nil {
		return nil, 0, unavailable("count cards", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`%s%s ORDER BY c.created_at DESC, c.serial_number LIMIT $%d OFFSET $%d`,
		cardSelect, clause, len(args)-1, len(args))

	var cards []ScratchCard
	if err := r.db.SelectContext(ctx, &cards, query, args...); err != nil {
		return nil, 0, unavailable("list cards", err)
	}
	return cards, total, nil
}

func (r *Repository) ListRedemptions(ctx context.Context, cardID uuid.UUID) ([]Redemption, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []Redemption
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, card_id, usage_number, requested_by, student_id, term_id, redeemed_at
		FROM scratch_card_redemptions
		WHERE card_id = $1
		ORDER BY usage_number
	`, cardID)
	if err != nil {
		return nil, unavailable("list redemptions", err)
	}
	return out, nil
}
