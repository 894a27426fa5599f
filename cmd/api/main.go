package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"studio/internal/adapter/repo"
	"studio/internal/domain"
	"studio/internal/events"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/sqlinline"
	"studio/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	if _, err := runner.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	handles, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to configure storage")
	}

	creds := credentials.Chain{credentials.Static(cfg.GeminiAPIKey), credentials.NewStore(runner)}
	hub := events.NewHub(64)

	app := handlers.NewApp(
		repo.NewSegmentRepository(runner, runner),
		repo.NewRunRepository(runner),
		handles,
		creds,
		hub,
		logger,
	)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = events.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		app.LastEvent = func(ctx context.Context, runID string) (*domain.ProgressEvent, error) {
			return events.Last(ctx, rdb, runID)
		}
	} else {
		logger.Warn().Msg("REDIS_URL not set, live progress falls back to polling the run record")
	}

	router := httpapi.NewRouter(app, logger, httpapi.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		return server.Start()
	})
	if rdb != nil {
		g.Go(func() error {
			return events.Relay(gctx, rdb, hub, &logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
