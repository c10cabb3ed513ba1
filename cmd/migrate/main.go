// Command migrate applies the embedded SQL migrations and exits. The
// server also migrates on boot; this binary exists for pipelines that
// roll the schema forward before rolling the deployment.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kore/internal/platform/config"
	"kore/internal/platform/logger"
	"kore/internal/platform/migrate"
	"kore/migrations"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "kore migrate:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	start := time.Now()
	if err := migrate.Apply(ctx, db, migrations.FS); err != nil {
		return err
	}
	log.Info("migrations applied", "elapsed", time.Since(start))
	return nil
}
