package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kore/pkg/platform/tx"
)

const insertEventSQL = `
	INSERT INTO audit_outbox (id, action, category, user_id, request_id, request_ref, detail, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const fetchUnpublishedSQL = `
	SELECT id, action, category, user_id, request_id, request_ref, detail, occurred_at
	FROM audit_outbox
	WHERE published_at IS NULL
	ORDER BY occurred_at, id
	LIMIT $1
`

const listByUserSQL = `
	SELECT id, action, category, user_id, request_id, request_ref, detail, occurred_at
	FROM audit_outbox
	WHERE user_id = $1
	ORDER BY occurred_at, id
`

// Postgres is the durable outbox. Append joins a context transaction when
// one is present so events commit with the state change that caused them.
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

func (s *Postgres) Append(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, insertEventSQL,
		event.ID,
		string(event.Action),
		event.Category,
		event.UserID,
		event.RequestID,
		event.RequestRef,
		string(detail),
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *Postgres) FetchUnpublished(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, fetchUnpublishedSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Postgres) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := `UPDATE audit_outbox SET published_at = $1 WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark audit events published: %w", err)
	}
	return nil
}

func (s *Postgres) ListByUser(ctx context.Context, userID string) ([]Event, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e      Event
			action string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.Category, &e.UserID, &e.RequestID, &e.RequestRef, &detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
