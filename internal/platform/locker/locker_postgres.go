package locker

import (
	"context"
	"database/sql"
	"fmt"

	id "kore/pkg/domain"
)

const (
	acquireLockSQL = `SELECT pg_advisory_lock($1)`
	releaseLockSQL = `SELECT pg_advisory_unlock($1)`
)

// Postgres serializes per user with session-level advisory locks, so
// the guarantee holds across every instance sharing the database. The
// lock rides a dedicated pooled connection; if the process dies the
// session dies with it and Postgres releases the lock.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// WithUserLock acquires the user's advisory lock, runs fn, then
// releases the lock. Acquisition blocks until the current holder
// releases or ctx ends.
func (l *Postgres) WithUserLock(ctx context.Context, userID id.UserID, fn func(ctx context.Context) error) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("lock connection: %w", err)
	}
	defer conn.Close()

	k := key(userID)
	if _, err := conn.ExecContext(ctx, acquireLockSQL, k); err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}
	defer func() {
		// Release on a non-cancelled context; an abandoned session
		// would hold the lock until the pool recycles the connection.
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), releaseLockSQL, k)
	}()

	return fn(ctx)
}
