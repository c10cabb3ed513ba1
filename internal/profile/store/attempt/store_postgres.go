package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kore/internal/profile/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
	"kore/pkg/platform/tx"
)

const insertAttemptSQL = `
	INSERT INTO verification_attempts (
		id, user_id, request_ref, request_type, payload_sent, response, status, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const findAttemptByRefSQL = `
	SELECT id, user_id, request_ref, request_type, payload_sent, response, status, created_at
	FROM verification_attempts
	WHERE request_ref = $1
	ORDER BY created_at
	LIMIT 1
`

const listAttemptsByUserSQL = `
	SELECT id, user_id, request_ref, request_type, payload_sent, response, status, created_at
	FROM verification_attempts
	WHERE user_id = $1
	ORDER BY created_at
`

// Postgres persists attempts. Writes join a context transaction when
// one is present.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) conn(ctx context.Context) execer {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, attempt *models.VerificationAttempt) error {
	payloadSent, err := json.Marshal(attempt.PayloadSent)
	if err != nil {
		return fmt.Errorf("marshal attempt payload: %w", err)
	}
	response, err := json.Marshal(attempt.Response)
	if err != nil {
		return fmt.Errorf("marshal attempt response: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, insertAttemptSQL,
		attempt.ID,
		uuid.UUID(attempt.UserID),
		attempt.RequestRef,
		attempt.RequestType,
		string(payloadSent),
		string(response),
		string(attempt.Status),
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append verification attempt: %w", err)
	}
	return nil
}

func (s *Postgres) FindByRequestRef(ctx context.Context, requestRef string) (*models.VerificationAttempt, error) {
	if requestRef == "" {
		return nil, sentinel.ErrNotFound
	}
	row := s.conn(ctx).QueryRowContext(ctx, findAttemptByRefSQL, requestRef)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find verification attempt: %w", err)
	}
	return attempt, nil
}

func (s *Postgres) ListByUser(ctx context.Context, userID id.UserID) ([]*models.VerificationAttempt, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, listAttemptsByUserSQL, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list verification attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.VerificationAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification attempts: %w", err)
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*models.VerificationAttempt, error) {
	var (
		a           models.VerificationAttempt
		rowUserID   uuid.UUID
		payloadSent []byte
		response    []byte
		status      string
	)
	if err := row.Scan(&a.ID, &rowUserID, &a.RequestRef, &a.RequestType, &payloadSent, &response, &status, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.UserID = id.UserID(rowUserID)
	a.Status = models.AttemptStatus(status)
	if len(payloadSent) > 0 {
		if err := json.Unmarshal(payloadSent, &a.PayloadSent); err != nil {
			return nil, fmt.Errorf("unmarshal attempt payload: %w", err)
		}
	}
	if len(response) > 0 {
		if err := json.Unmarshal(response, &a.Response); err != nil {
			return nil, fmt.Errorf("unmarshal attempt response: %w", err)
		}
	}
	return &a, nil
}
