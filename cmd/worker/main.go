// The worker command runs the aggregation loop as a standalone process,
// for deployments that separate ingestion from rollup computation. It
// coexists with the gate-managed worker in the API process: claims hand
// each row to exactly one worker, and hourly rollups are rebuilt from the
// full raw set of the hour, so concurrent writers converge on the same
// rows instead of overwriting each other's contributions.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/vitals/internal/config"
	"example.com/vitals/internal/database"
	"example.com/vitals/internal/events"
	persistence "example.com/vitals/internal/persistence/postgres"
	"example.com/vitals/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.RunMigrations(cfg.PostgresURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	rawRepo := persistence.NewRawRepository(pool)
	rollupRepo := persistence.NewRollupRepository(pool)

	var publisher worker.Publisher
	if cfg.PublisherOn {
		kafkaPublisher := events.NewPublisher(cfg.KafkaBrokers, cfg.RollupTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	aggWorker := worker.New(rawRepo, rollupRepo, publisher, worker.Config{
		BatchSize:               cfg.BatchSize,
		Tick:                    cfg.WorkerTick,
		ProcessPendingOnStartup: cfg.ProcessPendingOnStartup,
		StaleClaimTimeout:       cfg.StaleClaimTimeout,
		MaxRowFailures:          cfg.MaxRowFailures,
	}, log.New(os.Stdout, "[worker] ", log.LstdFlags))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		cancel()
	}()

	if backlog, err := rawRepo.PendingCount(ctx); err == nil {
		log.Printf("vitals-worker started, %d rows pending", backlog)
	} else {
		log.Printf("vitals-worker started, backlog check failed: %v", err)
	}
	if err := aggWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker exited: %v", err)
	}
	log.Printf("vitals-worker stopped")
}
