package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/events"
	"studio/internal/frames"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/orchestrator"
	"studio/internal/providers/genai"
	"studio/internal/sqlinline"
	"studio/internal/storage"
	"studio/internal/submit"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	if _, err := runner.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
		logger.Fatal().Err(err).Msg("worker: ensure schema failed")
	}

	handles, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("worker: failed to configure storage")
	}

	publishers := events.Fanout{events.LogPublisher{Logger: &logger}}
	if cfg.RedisURL != "" {
		rdb, err := events.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: redis connection failed")
		}
		defer rdb.Close()
		publishers = append(publishers, events.NewRedisPublisher(rdb))
	}

	extractor := frames.NewFFmpeg(cfg.FFmpegPath)

	w := &runWorker{
		cfg:       cfg,
		logger:    logger,
		runs:      repo.NewRunRepository(runner),
		segments:  repo.NewSegmentRepository(runner, runner),
		handles:   handles,
		creds:     credentials.Chain{credentials.Static(cfg.GeminiAPIKey), credentials.NewStore(runner)},
		publisher: publishers,
		newSubmit: func(apiKey string) (orchestrator.SubmitFunc, error) {
			sub, err := submit.NewGemini(genai.OptionsFromConfig(cfg, apiKey, &logger), handles, extractor, &logger)
			if err != nil {
				return nil, err
			}
			return sub.Submit, nil
		},
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
