// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adiadia/agent-observability/internal/config"
	"github.com/adiadia/agent-observability/internal/logging"
	"github.com/adiadia/agent-observability/internal/persistence/postgres"
	"github.com/adiadia/agent-observability/internal/persistence/sqlite"
	"github.com/adiadia/agent-observability/internal/repository"
	"github.com/adiadia/agent-observability/internal/service"
	"github.com/adiadia/agent-observability/internal/stream"
	httptransport "github.com/adiadia/agent-observability/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		fileCfg, err := config.LoadFile(path)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = fileCfg
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.New(cfg.Env, cfg.LogLevel, os.Stdout)

	store, schema, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("event store init failed: %v", err)
	}
	defer closeStore()

	registry := stream.NewRegistry()
	svc := service.NewEventService(store, registry, service.Options{
		SnapshotSize: cfg.SnapshotSize,
		RecentLimit:  cfg.RecentLimit,
		Logger:       logger,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Events:             svc,
		Queries:            svc,
		Streams:            svc,
		Health:             healthChecks{svc, schema},
		Logger:             logger,
		CORSOrigins:        cfg.CORSOrigins,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Stream: stream.ClientOptions{
			QueueDepth:   cfg.StreamQueueDepth,
			WriteTimeout: cfg.StreamWriteTimeout,
			PingInterval: cfg.StreamPingInterval,
		},
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Upgraded stream connections are hijacked, so Shutdown does not see them.
	srv.RegisterOnShutdown(svc.Shutdown)

	go func() {
		logger.Info("observability server listening",
			"addr", cfg.HTTPAddr,
			"backend", backendName(cfg),
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server", "stream_clients", svc.Clients())

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

type healthChecker interface {
	Check(ctx context.Context) error
}

type healthChecks []healthChecker

func (h healthChecks) Check(ctx context.Context) error {
	for _, checker := range h {
		if err := checker.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func backendName(cfg config.Config) string {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "sqlite"
}

// openStore selects Postgres when DATABASE_URL is set and sqlite otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.EventStore, healthChecker, func(), error) {
	if backendName(cfg) == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
		} else if err := postgres.SchemaReady(ctx, pool); err != nil {
			logger.Warn("postgres schema not ready and AUTO_MIGRATE is disabled", "error", err)
		}
		return repository.NewPostgresEventRepository(pool, logger), postgres.NewSchemaHealthChecker(pool), pool.Close, nil
	}

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := sqlite.EnsureSchema(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
	} else if err := sqlite.SchemaReady(ctx, db); err != nil {
		logger.Warn("sqlite schema not ready and AUTO_MIGRATE is disabled", "error", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("close sqlite failed", "error", err)
		}
	}
	return repository.NewSQLiteEventRepository(db, logger), sqlite.NewSchemaHealthChecker(db), closeDB, nil
}
