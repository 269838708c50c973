package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/vitals/internal/api"
	"example.com/vitals/internal/auth"
	"example.com/vitals/internal/config"
	"example.com/vitals/internal/database"
	"example.com/vitals/internal/domain"
	"example.com/vitals/internal/events"
	persistence "example.com/vitals/internal/persistence/postgres"
	"example.com/vitals/internal/scheduler"
	httptransport "example.com/vitals/internal/transport/http"
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

	tracker := scheduler.NewTracker()
	gate := scheduler.NewGate(ctx, tracker, aggWorker, scheduler.Config{
		BulkDelay:        cfg.AggregationDelayBulk,
		IncrementalDelay: cfg.AggregationDelayIncremental,
	}, log.New(os.Stdout, "[gate] ", log.LstdFlags))
	tracker.OnEnd(gate.Evaluate)
	defer gate.Close()

	if cfg.ProcessPendingOnStartup {
		// Rows left pending or stranded by a previous crash are drained
		// without waiting for new ingest activity.
		gate.StartWorker()
	}

	service := domain.NewService(rawRepo, rollupRepo, tracker, gate)

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	rateLimiter := api.NewRateLimiter(api.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(rateLimiter.Wrap(logger(cors(mux)))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("vitals-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	gate.StopWorker()
}
