package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kore/internal/profile/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
	"kore/pkg/platform/tx"
)

const upsertProfileSQL = `
	INSERT INTO profiles (
		user_id, first_name, surname, phone_number, bank_name, bank_code,
		account_number_encrypted, bvn_encrypted, is_completed, verified_at,
		created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (user_id) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		surname = EXCLUDED.surname,
		phone_number = EXCLUDED.phone_number,
		bank_name = EXCLUDED.bank_name,
		bank_code = EXCLUDED.bank_code,
		account_number_encrypted = EXCLUDED.account_number_encrypted,
		bvn_encrypted = EXCLUDED.bvn_encrypted,
		is_completed = EXCLUDED.is_completed,
		verified_at = EXCLUDED.verified_at,
		updated_at = EXCLUDED.updated_at
`

const findProfileSQL = `
	SELECT user_id, first_name, surname, phone_number, bank_name, bank_code,
		account_number_encrypted, bvn_encrypted, is_completed, verified_at,
		created_at, updated_at
	FROM profiles
	WHERE user_id = $1
`

// Postgres persists profiles. Writes join a context transaction when
// one is present.
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

func (s *Postgres) FindByUser(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	row := s.conn(ctx).QueryRowContext(ctx, findProfileSQL, uuid.UUID(userID))

	var (
		p          models.Profile
		rowUserID  uuid.UUID
		verifiedAt sql.NullTime
	)
	err := row.Scan(
		&rowUserID, &p.Firstname, &p.Surname, &p.Phone, &p.BankName, &p.BankCode,
		&p.AccountNumberEnc, &p.BVNEnc, &p.IsCompleted, &verifiedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	p.UserID = id.UserID(rowUserID)
	if verifiedAt.Valid {
		p.VerifiedAt = &verifiedAt.Time
	}
	return &p, nil
}

func (s *Postgres) Upsert(ctx context.Context, profile *models.Profile) error {
	var verifiedAt sql.NullTime
	if profile.VerifiedAt != nil {
		verifiedAt = sql.NullTime{Time: *profile.VerifiedAt, Valid: true}
	}
	_, err := s.conn(ctx).ExecContext(ctx, upsertProfileSQL,
		uuid.UUID(profile.UserID),
		profile.Firstname,
		profile.Surname,
		profile.Phone,
		profile.BankName,
		profile.BankCode,
		profile.AccountNumberEnc,
		profile.BVNEnc,
		profile.IsCompleted,
		verifiedAt,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
