package mandate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"kore/internal/mandate/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
	"kore/pkg/platform/tx"
)

const insertMandateSQL = `
	INSERT INTO mandates (
		id, user_id, rule_id, request_ref, status, mandate_reference,
		subscription_id, activation_url, provider_response, cancel_response,
		created_at, cancelled_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const updateMandateSQL = `
	UPDATE mandates
	SET status = $2,
		mandate_reference = $3,
		subscription_id = $4,
		activation_url = $5,
		provider_response = $6,
		cancel_response = $7,
		cancelled_at = $8
	WHERE id = $1
`

const latestMandateSQL = `
	SELECT id, user_id, rule_id, request_ref, status, mandate_reference,
		subscription_id, activation_url, provider_response, cancel_response,
		created_at, cancelled_at
	FROM mandates
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT 1
`

// Postgres persists mandates. The mandates_one_live_per_user partial
// unique index backs the single live mandate rule; writes join a
// context transaction when one is present.
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
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

// Create inserts the mandate. Returns sentinel.ErrConflict when the
// user already holds a live mandate.
func (s *Postgres) Create(ctx context.Context, m *models.Mandate) error {
	providerResponse, cancelResponse, err := marshalResponses(m)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, insertMandateSQL,
		uuid.UUID(m.ID), uuid.UUID(m.UserID), uuid.UUID(m.RuleID),
		m.RequestRef, string(m.Status), m.MandateReference,
		nullInt64(m.SubscriptionID), m.ActivationURL,
		providerResponse, cancelResponse,
		m.CreatedAt, nullTime(m.CancelledAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert mandate: %w", err)
	}
	return nil
}

// Update persists the mandate's transition fields.
func (s *Postgres) Update(ctx context.Context, m *models.Mandate) error {
	providerResponse, cancelResponse, err := marshalResponses(m)
	if err != nil {
		return err
	}
	res, err := s.conn(ctx).ExecContext(ctx, updateMandateSQL,
		uuid.UUID(m.ID), string(m.Status), m.MandateReference,
		nullInt64(m.SubscriptionID), m.ActivationURL,
		providerResponse, cancelResponse, nullTime(m.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("update mandate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mandate: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// LatestByUser returns the user's most recently created mandate.
func (s *Postgres) LatestByUser(ctx context.Context, userID id.UserID) (*models.Mandate, error) {
	row := s.conn(ctx).QueryRowContext(ctx, latestMandateSQL, uuid.UUID(userID))

	var (
		rowID, rowUser   uuid.UUID
		rowRule          uuid.UUID
		status           string
		subscriptionID   sql.NullInt64
		providerResponse sql.NullString
		cancelResponse   sql.NullString
		cancelledAt      sql.NullTime
	)
	out := &models.Mandate{}
	err := row.Scan(
		&rowID, &rowUser, &rowRule,
		&out.RequestRef, &status, &out.MandateReference,
		&subscriptionID, &out.ActivationURL,
		&providerResponse, &cancelResponse,
		&out.CreatedAt, &cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load latest mandate: %w", err)
	}

	out.ID = id.MandateID(rowID)
	out.UserID = id.UserID(rowUser)
	out.RuleID = id.RuleID(rowRule)
	out.Status = models.Status(status)
	if subscriptionID.Valid {
		out.SubscriptionID = &subscriptionID.Int64
	}
	if cancelledAt.Valid {
		out.CancelledAt = &cancelledAt.Time
	}
	if providerResponse.Valid && providerResponse.String != "" {
		if err := json.Unmarshal([]byte(providerResponse.String), &out.ProviderResponse); err != nil {
			return nil, fmt.Errorf("decode provider response: %w", err)
		}
	}
	if cancelResponse.Valid && cancelResponse.String != "" {
		if err := json.Unmarshal([]byte(cancelResponse.String), &out.CancelResponse); err != nil {
			return nil, fmt.Errorf("decode cancel response: %w", err)
		}
	}
	return out, nil
}

// marshalResponses encodes the raw provider bodies for the JSONB
// columns, keeping NULL for bodies that were never set.
func marshalResponses(m *models.Mandate) (providerResponse, cancelResponse sql.NullString, err error) {
	if m.ProviderResponse != nil {
		raw, merr := json.Marshal(m.ProviderResponse)
		if merr != nil {
			return providerResponse, cancelResponse, fmt.Errorf("encode provider response: %w", merr)
		}
		providerResponse = sql.NullString{String: string(raw), Valid: true}
	}
	if m.CancelResponse != nil {
		raw, merr := json.Marshal(m.CancelResponse)
		if merr != nil {
			return providerResponse, cancelResponse, fmt.Errorf("encode cancel response: %w", merr)
		}
		cancelResponse = sql.NullString{String: string(raw), Valid: true}
	}
	return providerResponse, cancelResponse, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
