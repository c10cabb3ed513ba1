package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"kore/internal/rules/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
	"kore/pkg/platform/tx"
)

const saveRulesSQL = `
INSERT INTO rules_engine (
	id, user_id, monthly_max_debit, single_max_debit, frequency,
	amount_per_frequency, allocations, failure_action, start_date,
	end_date, is_active, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
	monthly_max_debit = EXCLUDED.monthly_max_debit,
	single_max_debit = EXCLUDED.single_max_debit,
	frequency = EXCLUDED.frequency,
	amount_per_frequency = EXCLUDED.amount_per_frequency,
	allocations = EXCLUDED.allocations,
	failure_action = EXCLUDED.failure_action,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	is_active = EXCLUDED.is_active,
	updated_at = EXCLUDED.updated_at`

const activeRulesSQL = `
SELECT id, user_id, monthly_max_debit, single_max_debit, frequency,
	amount_per_frequency, allocations, failure_action, start_date,
	end_date, is_active, created_at, updated_at
FROM rules_engine
WHERE user_id = $1 AND is_active
LIMIT 1`

const deactivateRulesSQL = `
UPDATE rules_engine SET is_active = false, updated_at = $2
WHERE user_id = $1 AND is_active`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) conn(ctx context.Context) execer {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

func (s *Postgres) Save(ctx context.Context, snapshot *models.Snapshot) error {
	allocations, err := json.Marshal(snapshot.Allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	var endDate sql.NullTime
	if snapshot.EndDate != nil {
		endDate = sql.NullTime{Time: *snapshot.EndDate, Valid: true}
	}
	_, err = s.conn(ctx).ExecContext(ctx, saveRulesSQL,
		uuid.UUID(snapshot.ID),
		uuid.UUID(snapshot.UserID),
		snapshot.MonthlyMaxDebit,
		snapshot.SingleMaxDebit,
		snapshot.Frequency,
		snapshot.AmountPerFrequency,
		string(allocations),
		snapshot.FailureAction,
		snapshot.StartDate,
		endDate,
		snapshot.Active,
		snapshot.CreatedAt,
		snapshot.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("save rules snapshot: %w", err)
	}
	return nil
}

func (s *Postgres) ActiveFor(ctx context.Context, userID id.UserID) (*models.Snapshot, error) {
	row := s.conn(ctx).QueryRowContext(ctx, activeRulesSQL, uuid.UUID(userID))

	var (
		snapshot    models.Snapshot
		rowID       uuid.UUID
		rowUserID   uuid.UUID
		allocations []byte
		endDate     sql.NullTime
	)
	err := row.Scan(
		&rowID, &rowUserID, &snapshot.MonthlyMaxDebit, &snapshot.SingleMaxDebit,
		&snapshot.Frequency, &snapshot.AmountPerFrequency, &allocations,
		&snapshot.FailureAction, &snapshot.StartDate, &endDate,
		&snapshot.Active, &snapshot.CreatedAt, &snapshot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active rules: %w", err)
	}
	snapshot.ID = id.RuleID(rowID)
	snapshot.UserID = id.UserID(rowUserID)
	if len(allocations) > 0 {
		if err := json.Unmarshal(allocations, &snapshot.Allocations); err != nil {
			return nil, fmt.Errorf("decode allocations: %w", err)
		}
	}
	if endDate.Valid {
		snapshot.EndDate = &endDate.Time
	}
	return &snapshot, nil
}

func (s *Postgres) Deactivate(ctx context.Context, userID id.UserID) error {
	res, err := s.conn(ctx).ExecContext(ctx, deactivateRulesSQL, uuid.UUID(userID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate rules: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate rules: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
