// Command server runs the kore HTTP API: profile verification, debit
// rules, the bank directory, mandate lifecycle, and webhook ingestion,
// plus the audit outbox relay when Kafka brokers are configured.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"kore/internal/banks"
	httpapi "kore/internal/http"
	"kore/internal/jwttoken"
	"kore/internal/mandate"
	"kore/internal/onepipe"
	onepipemetrics "kore/internal/onepipe/metrics"
	"kore/internal/platform/config"
	"kore/internal/platform/httpserver"
	"kore/internal/platform/locker"
	"kore/internal/platform/logger"
	"kore/internal/platform/metrics"
	"kore/internal/platform/migrate"
	platformredis "kore/internal/platform/redis"
	"kore/internal/profile"
	"kore/internal/rules"
	"kore/internal/webhook"
	"kore/migrations"
	"kore/pkg/platform/audit"
	"kore/pkg/platform/audit/publishers/ops"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "kore server:", err)
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

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	// Schema is applied on boot; concurrent replicas serialize on an
	// advisory lock inside Apply.
	if err := migrate.Apply(ctx, db, migrations.FS); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var redisConn *goredis.Client
	if redisClient != nil {
		defer redisClient.Close()
		redisConn = redisClient.Client
	}

	providerCfg := onepipe.Config{
		BaseURL:      cfg.OnePipe.BaseURL,
		TransactPath: cfg.OnePipe.TransactPath,
		APIKey:       cfg.OnePipe.APIKey,
		ClientSecret: cfg.OnePipe.ClientSecret,
		WebhookURL:   cfg.OnePipe.WebhookURL,
		MockMode:     cfg.OnePipe.MockMode,
		ActiveStatus: cfg.OnePipe.ActiveStatus,
		Timeout:      cfg.OnePipe.Timeout,
	}
	codec := onepipe.NewCodec(providerCfg)
	provider, err := onepipe.NewClient(providerCfg,
		onepipe.WithLogger(log),
		onepipe.WithMetrics(onepipemetrics.New()),
	)
	if err != nil {
		return fmt.Errorf("build provider client: %w", err)
	}

	vault, err := profile.NewVault(cfg.Vault.Key)
	if err != nil {
		return fmt.Errorf("build vault: %w", err)
	}

	auditStore := audit.NewPostgres(db)
	auditor := audit.NewService(auditStore, audit.WithLogger(log))

	profileSvc := profile.NewService(
		profile.NewPostgresProfileStore(db),
		profile.NewPostgresAttemptStore(db),
		provider,
		codec,
		vault,
		profile.WithLogger(log),
		profile.WithAuditPublisher(auditor),
		profile.WithDB(db),
	)

	rulesSvc := rules.NewService(rules.NewPostgresStore(db), rules.WithLogger(log))

	var slot banks.SlotStore = banks.NewMemorySlot()
	if redisConn != nil {
		slot = banks.NewRedisSlot(redisConn)
	}
	banksSvc := banks.NewService(slot, provider, codec,
		banks.WithLogger(log),
		banks.WithTTL(cfg.Banks.CacheTTL),
		banks.WithMetrics(banks.NewMetrics()),
	)

	mandateSvc := mandate.NewService(
		mandate.NewPostgresStore(db),
		profileSvc,
		rulesSvc,
		provider,
		codec,
		locker.NewPostgres(db),
		mandate.WithLogger(log),
		mandate.WithAuditPublisher(auditor),
		mandate.WithDB(db),
		mandate.WithMetrics(mandate.NewMetrics()),
		mandate.WithActiveStatus(cfg.OnePipe.ActiveStatus),
	)

	webhookSvc := webhook.NewService(
		webhook.NewPostgresStore(db),
		webhook.WithLogger(log),
		webhook.WithAuditPublisher(auditor),
		webhook.WithDB(db),
		webhook.WithAttemptSource(profileSvc),
		webhook.WithRefLocations(cfg.Webhook.RefLocations),
	)

	jwtValidator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience),
	)

	router := httpapi.New(httpapi.Config{
		Logger:         log,
		Metrics:        metrics.New(),
		RequestTimeout: cfg.Server.RequestTimeout,
		DB:             db,
		Redis:          redisConn,
		Domains: []httpapi.Registrar{
			profile.NewHandler(profileSvc, log, jwtValidator),
			rules.NewHandler(log),
			banks.NewHandler(banksSvc, log),
			mandate.NewHandler(mandateSvc, log, jwtValidator),
			webhook.NewHandler(webhookSvc, log),
		},
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := audit.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return fmt.Errorf("build audit producer: %w", err)
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.AuditPartitions); err != nil {
			return fmt.Errorf("ensure audit topic: %w", err)
		}
		worker := audit.NewWorker(auditStore, producer, cfg.Kafka.PollInterval,
			audit.WithWorkerLogger(log),
			audit.WithWorkerMetrics(ops.NewMetrics()),
		)
		group.Go(func() error {
			err := worker.Run(ctx)
			// Flush whatever the last tick left behind before the
			// producer closes.
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			worker.Drain(drainCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("audit worker: %w", err)
			}
			return nil
		})
	} else {
		log.Info("audit streaming disabled, events stay in the outbox")
	}

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
