package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"kore/internal/webhook/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/tx"
)

const insertEventSQL = `
	INSERT INTO webhook_events (
		id, provider, payload, correlated_request_ref,
		verification_attempt_id, error, received_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const listByRefSQL = `
	SELECT id, provider, payload, correlated_request_ref,
		verification_attempt_id, error, received_at
	FROM webhook_events
	WHERE correlated_request_ref = $1
	ORDER BY received_at DESC
`

// Postgres persists webhook events; writes join a context transaction
// when one is present.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) conn(ctx context.Context) execer {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

// Append inserts the event.
func (s *Postgres) Append(ctx context.Context, event *models.WebhookEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	var attemptID any
	if event.VerificationAttemptID != nil {
		attemptID = *event.VerificationAttemptID
	}
	_, err = s.conn(ctx).ExecContext(ctx, insertEventSQL,
		uuid.UUID(event.ID), event.Provider, string(payload),
		event.CorrelatedRequestRef, attemptID, event.Error, event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// ListByRequestRef returns the events correlated to requestRef, newest
// first. An unknown ref yields an empty list.
func (s *Postgres) ListByRequestRef(ctx context.Context, requestRef string) ([]*models.WebhookEvent, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, listByRefSQL, requestRef)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var out []*models.WebhookEvent
	for rows.Next() {
		var (
			rowID     uuid.UUID
			payload   string
			attemptID uuid.NullUUID
		)
		event := &models.WebhookEvent{}
		if err := rows.Scan(
			&rowID, &event.Provider, &payload,
			&event.CorrelatedRequestRef, &attemptID, &event.Error, &event.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		event.ID = id.WebhookEventID(rowID)
		if attemptID.Valid {
			event.VerificationAttemptID = &attemptID.UUID
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
				return nil, fmt.Errorf("decode webhook payload: %w", err)
			}
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	return out, nil
}
