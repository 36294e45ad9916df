package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/lojaops/backend-loja/internal/audit"
	"github.com/lojaops/backend-loja/internal/auth"
	"github.com/lojaops/backend-loja/internal/catalog"
	"github.com/lojaops/backend-loja/internal/checkout"
	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/config"
	"github.com/lojaops/backend-loja/internal/db"
	"github.com/lojaops/backend-loja/internal/health"
	"github.com/lojaops/backend-loja/internal/ledger"
	"github.com/lojaops/backend-loja/internal/obs"
	"github.com/lojaops/backend-loja/internal/ratelimit"
	"github.com/lojaops/backend-loja/internal/rfm"
	"github.com/lojaops/backend-loja/internal/store"
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
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "loja")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "loja-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, "loja-api")
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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	st := postgres.New(pool, cfg.LockTimeout)
	trail := audit.Trail{Store: st}
	engine := ledger.Engine{Store: st, Trail: trail}

	rfmService := &rfm.Service{
		Store:      st,
		R:          redisClient,
		SegmentTTL: cfg.RFM.SegmentTTL,
		WindowDays: cfg.RFM.WindowDays,
	}

	productCache := catalog.NewCache(redisClient, cfg.CatalogCacheTTL)
	catalogService := &catalog.Service{
		Store:    st,
		Ledger:   engine,
		Trail:    trail,
		Cache:    productCache,
		Validate: validator.New(),
		Logger:   logger.With().Str("component", "catalog").Logger(),
	}
	catalogHandler := &catalog.Handler{Svc: catalogService}

	checkoutService := &checkout.Service{
		Store:    st,
		Ledger:   engine,
		Segments: rfmService,
		Tasks:    tasks.Enqueuer{Client: asynqClient},
		Cache:    productCache,
		Discount: cfg.Discount,
		Payment:  cfg.Payment,
		Logger:   logger.With().Str("component", "checkout").Logger(),
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutService}

	authMiddleware := auth.Middleware{Secret: []byte(cfg.JWTSecret)}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	limiter, err := ratelimit.New(redisClient, cfg.RateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure rate limiter")
	}
	limit := ratelimit.Middleware{
		Limiter: limiter,
		OnError: func(err error) { logger.Error().Err(err).Msg("rate limiter") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware("loja-api"))
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use((&obs.HTTPObs{Metrics: httpMetrics}).Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker: health.Probes{Pool: pool, Redis: redisClient},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limit.Handler)
		v.Use(authMiddleware.RequirePrincipal)

		v.Group(func(g chi.Router) {
			catalogHandler.Routes(g)
		})
		v.Group(func(g chi.Router) {
			g.Use(authMiddleware.RequireRole(auth.RoleManager, auth.RoleAdmin))
			catalogHandler.AdminRoutes(g)
		})

		v.Get("/sales", checkoutHandler.List)
		v.Get("/sales/{id}", checkoutHandler.Get)
		v.With(idem.Middleware).Post("/sales", checkoutHandler.Create)
		v.With(authMiddleware.RequireRole(auth.RoleManager, auth.RoleAdmin)).
			Post("/sales/{id}/cancel", checkoutHandler.Cancel)

		v.Get("/customers/{id}/rfm", rfmHandler(rfmService))
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func rfmHandler(svc *rfm.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer id", nil)
			return
		}
		score, err := svc.Score(r.Context(), id, 0)
		if errors.Is(err, store.ErrNotFound) {
			common.WriteError(w, common.NewNotFound("customer has no scorable purchases"))
			return
		}
		if err != nil {
			common.WriteError(w, err)
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": score})
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}
