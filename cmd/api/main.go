package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"remember/api/internal/app"
	"remember/api/internal/cascade"
	"remember/api/internal/config"
	"remember/api/internal/docstore"
	"remember/api/internal/docstore/redisstore"
	"remember/api/internal/docstore/sqlstore"
	"remember/api/internal/objects"
	"remember/api/internal/schedule"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config failed")
	}
	logger = newLogger(cfg)
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store connection failed")
	}
	defer store.Close()

	deps := app.Dependencies{Store: store, Logger: logger}
	var images *objects.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		images, err = objects.New(objects.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage failed")
		}
		if err := images.EnsureBucket(ctx); err != nil {
			logger.Fatal().Err(err).Str("bucket", cfg.MinioBucket).Msg("object storage bucket failed")
		}
		deps.Objects = images
	} else {
		logger.Warn().Msg("MINIO_ENDPOINT not set, profile images disabled")
	}

	deleterCfg := cascade.Config{
		MaxAttempts: cfg.DeleteMaxAttempts,
		MaxEventAge: cfg.DeleteMaxEventAge,
		MaxDepth:    cfg.DeleteMaxDepth,
		Backoff:     100 * time.Millisecond,
	}
	if images != nil {
		deps.Accounts = cascade.New(store, images, deleterCfg, logger)
	} else {
		deps.Accounts = cascade.New(store, nil, deleterCfg, logger)
	}

	service := app.New(cfg, deps)

	if cfg.ResetSchedule != "" {
		resetter := schedule.NewResetter(store, service, cfg.ResetTimezone, logger)
		if _, err := resetter.Schedule(cfg.ResetSchedule); err != nil {
			logger.Fatal().Err(err).Msg("nightly reset schedule failed")
		}
		resetter.Start()
		defer resetter.Stop()
		logger.Info().Str("schedule", cfg.ResetSchedule).Str("timezone", cfg.ResetTimezone.String()).Msg("nightly reset scheduled")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Msg("Remember API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02_15:04:05"})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func openStore(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DatabaseURL, cfg.TxMaxAttempts)
	case config.StoreSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.SQLitePath, cfg.TxMaxAttempts)
	default:
		return redisstore.Open(ctx, cfg.RedisURL, cfg.TxMaxAttempts)
	}
}
