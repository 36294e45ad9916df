package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/lojaops/backend-loja/internal/alerts"
	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/config"
	"github.com/lojaops/backend-loja/internal/db"
	"github.com/lojaops/backend-loja/internal/obs"
	"github.com/lojaops/backend-loja/internal/rfm"
	"github.com/lojaops/backend-loja/internal/store/postgres"
	"github.com/lojaops/backend-loja/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "loja"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, "loja-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	st := postgres.New(pool, cfg.LockTimeout)

	rfmService := &rfm.Service{
		Store:      st,
		R:          redisClient,
		SegmentTTL: cfg.RFM.SegmentTTL,
		WindowDays: cfg.RFM.WindowDays,
	}

	var mailer common.EmailSender = common.NopEmailSender{}
	lowStock := alerts.LowStock{
		Store:  st,
		Email:  mailer,
		To:     cfg.AlertEmailTo,
		Logger: logger.With().Str("component", "alerts").Logger(),
	}

	handlers := &tasks.Handlers{
		RFM:      rfmService,
		LowStock: lowStock,
		Logger:   logger,
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
		},
	)
	mux := asynq.NewServeMux()
	handlers.Register(mux)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		srv.Shutdown()
	}()

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
