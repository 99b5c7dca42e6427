package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/database"
	"github.com/agpaii-digital/exam-portal/internal/examclient"
	"github.com/agpaii-digital/exam-portal/internal/handler"
	"github.com/agpaii-digital/exam-portal/internal/logger"
	"github.com/agpaii-digital/exam-portal/internal/repository"
	"github.com/agpaii-digital/exam-portal/internal/router"
	"github.com/agpaii-digital/exam-portal/internal/service"
	"github.com/agpaii-digital/exam-portal/internal/validator"
	"github.com/agpaii-digital/exam-portal/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", string(cfg.StorageDriver)).
		Str("exam_api", cfg.ExamAPIBaseURL).
		Msg("Starting exam portal")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	// Required by the redis driver; otherwise only used for the attempt
	// log queue.
	var rdb *redis.Client
	if cfg.StorageDriver == config.StorageRedis || cfg.DatabaseURL != "" {
		client, err := database.NewRedisClient(ctx, cfg, log)
		switch {
		case err == nil:
			rdb = client
			defer rdb.Close()
		case cfg.StorageDriver == config.StorageRedis:
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		default:
			log.Warn().Err(err).Msg("Redis unavailable, attempt log disabled")
		}
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := database.NewPostgresPool(ctx, cfg, log)
		switch {
		case err == nil:
			pool = p
			defer pool.Close()
		case cfg.StorageDriver == config.StoragePostgres:
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		default:
			log.Warn().Err(err).Msg("PostgreSQL unavailable, attempt log disabled")
		}
	} else if cfg.StorageDriver == config.StoragePostgres {
		log.Fatal().Msg("STORAGE_DRIVER=postgres requires DATABASE_URL")
	}

	// ─── Session Record Store ──────────────────────────────────────────
	store, closeStore := openSessionStore(ctx, cfg, rdb, pool, log)
	defer closeStore()

	// ─── Attempt Log ───────────────────────────────────────────────────
	var (
		recorder    service.CompletionRecorder = service.NewLogCompletionRecorder(log)
		attemptLogs handler.AttemptLogLister
		workerDone  = make(chan struct{})
	)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	if rdb != nil && pool != nil {
		logRepo := repository.NewAttemptLogRepository(pool)
		attemptLogs = logRepo
		recorder = service.NewQueueCompletionRecorder(rdb)

		attemptLogWorker := worker.NewAttemptLogWorker(worker.NewAttemptLogQueue(rdb), logRepo, log)
		go func() {
			defer close(workerDone)
			attemptLogWorker.Start(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	// ─── Exam Service Client ───────────────────────────────────────────
	examAPI := examclient.New(examclient.Config{
		BaseURL:      cfg.ExamAPIBaseURL,
		TokenURL:     cfg.ExamAPITokenURL,
		ClientID:     cfg.ExamAPIClientID,
		ClientSecret: cfg.ExamAPIClientSecret,
		Token:        cfg.ExamAPIToken,
		Timeout:      cfg.ExamAPITimeout,
	}, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	syncGateway := service.NewAnswerSyncGateway(examAPI, cfg.SyncConcurrency, cfg.SyncTimeout, log)
	sessions := service.NewSessionManager(service.SessionManagerConfig{
		Store:    store,
		Content:  examAPI,
		Sync:     syncGateway,
		Recorder: recorder,
		Scope:    service.MemberKeyScope,
		Log:      log,
	})
	packages := service.NewPackageService(examAPI, store, service.MemberKeyScope, nil, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:   handler.NewAuthHandler(),
		Exam:   handler.NewExamPortalHandler(packages, sessions, attemptLogs, log),
		WS:     handler.NewWSHandler(sessions, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(rdb, sessions, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked WebSocket
	// connections are not tracked by Shutdown; closing the sessions ends
	// their streams.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close live sessions. Durable records stay for the next start.
	sessions.Shutdown()
	syncGateway.Wait()

	// 3. Stop the attempt log worker and wait for it to flush.
	workerCancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Attempt log worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// openSessionStore selects the durable store for session records.
func openSessionStore(
	ctx context.Context,
	cfg *config.Config,
	rdb *redis.Client,
	pool *pgxpool.Pool,
	log zerolog.Logger,
) (repository.KeyValueStore, func()) {
	noop := func() {}

	switch cfg.StorageDriver {
	case config.StorageRedis:
		return repository.NewRedisStore(rdb), noop
	case config.StoragePostgres:
		return repository.NewPostgresStore(pool), noop
	case config.StorageSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("Failed to open SQLite")
		}
		return repository.NewSQLiteStore(db), func() { closeDB(db, log) }
	case config.StorageMemory:
		log.Warn().Msg("Memory storage: sessions do not survive a restart")
		return repository.NewMemoryStore(), noop
	default:
		log.Fatal().Str("driver", string(cfg.StorageDriver)).Msg("Unknown STORAGE_DRIVER")
		return nil, noop
	}
}

func closeDB(db *sql.DB, log zerolog.Logger) {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("SQLite close error")
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
