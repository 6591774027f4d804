package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/audit"
	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/database"
	"github.com/stemsi/exstem-proctoring/internal/handler"
	"github.com/stemsi/exstem-proctoring/internal/logger"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
	"github.com/stemsi/exstem-proctoring/internal/repository"
	"github.com/stemsi/exstem-proctoring/internal/router"
	"github.com/stemsi/exstem-proctoring/internal/service"
	"github.com/stemsi/exstem-proctoring/internal/validator"
	"github.com/stemsi/exstem-proctoring/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	components := logger.ParseComponentLevels(cfg.LogComponentLevels)
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, components)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("vendor", cfg.ProctorBaseURL).
		Msg("Starting ExStem Proctoring")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	dirRepo := repository.NewDirectoryRepository(pool)
	settingRepo := repository.NewSettingRepository(pool)
	failureRepo := repository.NewFailureRepository(pool)

	// ─── Proctoring Client ─────────────────────────────────────────────
	envCreds := proctor.Credentials{AppID: cfg.ProctorAppID, APIKey: cfg.ProctorAPIKey}
	client := proctor.New(proctorConfig(cfg), proctor.Deps{
		Directory: dirRepo,
		Sink:      audit.NewQueueSink(rdb, components.For(log, "audit")),
		LoggerFor: func(component string) zerolog.Logger {
			return components.For(log, component)
		},
	})

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	credentialService := service.NewCredentialService(settingRepo, envCreds, cfg.CredentialSecret, log)
	proctoringService := service.NewProctoringService(client, credentialService, dirRepo, rdb, log)
	auditService := service.NewAuditService(failureRepo, log)

	if _, err := credentialService.Resolve(ctx); err != nil {
		log.Warn().Err(err).Msg("Proctoring credentials unavailable, vendor calls will fail until configured")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Proctor:      handler.NewProctorHandler(proctoringService, log),
		StatusStream: handler.NewStatusStreamHandler(proctoringService, cfg.StatusPollInterval, cfg.RequestCacheTTL, log, cfg.AllowedOrigins),
		Admin:        handler.NewAdminHandler(credentialService, auditService, log),
		System:       handler.NewSystemHandler(pool, rdb, proctoringService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	failureWorker := worker.NewFailureWorker(failureRepo, rdb, components.For(log, "worker"))
	go func() {
		defer close(workerDone)
		failureWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, rdb, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the failure worker and wait for its final flush.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Failure worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

func proctorConfig(cfg *config.Config) proctor.Config {
	return proctor.Config{
		BaseURL:                     cfg.ProctorBaseURL,
		APIVersionPath:              cfg.ProctorAPIVersionPath,
		PluginVersion:               cfg.PluginVersion,
		InstanceID:                  cfg.InstanceID,
		AppID:                       cfg.ProctorAppID,
		APIKey:                      cfg.ProctorAPIKey,
		ConnectTimeout:              cfg.ConnectTimeout,
		RequestTimeout:              cfg.RequestTimeout,
		MaxRedirects:                cfg.MaxRedirects,
		MaxRecursion:                cfg.MaxRecursion,
		BreakerEnabled:              cfg.BreakerEnabled,
		RequestCacheTTL:             cfg.RequestCacheTTL,
		SessionCacheTTL:             cfg.SessionCacheTTL,
		SessionStartTTL:             cfg.SessionStartTTL,
		FailureDedupeTTL:            cfg.FailureDedupeTTL,
		ParticipantsRefreshInterval: cfg.ParticipantsRefreshInterval,
		BulkConcurrency:             cfg.BulkConcurrency,
		BulkRatePerSecond:           cfg.BulkRatePerSecond,
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
