//go:build integration

// Package containers starts throwaway backing services for integration
// tests: Postgres with the kore schema applied, Redis, and a Redpanda
// broker for the audit stream.
package containers

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"kore/internal/platform/migrate"
	"kore/migrations"
)

// PostgresContainer runs a disposable Postgres with the embedded
// migrations already applied, so tests see the schema the server
// boots with.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres, waits for readiness, opens a
// pgx-backed pool, and applies the migrations. Teardown is registered
// on the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("kore"),
		tcpostgres.WithUsername("kore"),
		tcpostgres.WithPassword("kore"),
		testcontainers.WithWaitStrategy(
			// The init scripts restart the server once, hence the
			// second occurrence.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if err := migrate.Apply(ctx, db, migrations.FS); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateAll wipes the given tables, or every domain table when none
// are named. CASCADE follows the mandate and webhook foreign keys.
func (p *PostgresContainer) TruncateAll(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		tables = []string{
			"profiles",
			"verification_attempts",
			"rules_engine",
			"mandates",
			"webhook_events",
			"audit_outbox",
		}
	}
	_, err := p.DB.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE")
	return err
}
