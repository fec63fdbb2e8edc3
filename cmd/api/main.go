package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alleato/procore-api/internal/app"
	"github.com/alleato/procore-api/internal/audit"
	"github.com/alleato/procore-api/internal/auth"
	"github.com/alleato/procore-api/internal/common"
	"github.com/alleato/procore-api/internal/config"
	"github.com/alleato/procore-api/internal/events"
	"github.com/alleato/procore-api/internal/health"
	"github.com/alleato/procore-api/internal/lock"
	"github.com/alleato/procore-api/internal/markup"
	"github.com/alleato/procore-api/internal/notify"
	"github.com/alleato/procore-api/internal/obs"
	"github.com/alleato/procore-api/internal/ratelimit"
)

const serviceName = "procore-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(app.EnvOrDefault("OBS_LOG_FORMAT", "json"), app.EnvOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := app.EnvOrDefault("OBS_METRICS_NAMESPACE", "alleato")
	metricsEnabled := app.EnvBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := app.EnvBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      app.EnvOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      app.EnvOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: app.EnvFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
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

	if app.EnvBool("OBS_ENABLE_OTEL_METRICS", tracingEnabled) {
		shutdown, err := obs.InitMeter(context.Background(), obs.MeterConfig{
			ServiceName: serviceName,
			Endpoint:    app.EnvOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:    app.EnvOrDefault("OBS_METRICS_EXPORTER", "otlp"),
			Interval:    app.EnvDurationMillis("OBS_METRICS_INTERVAL_MS", 30000),
			Environment: cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise otel metrics")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown meter provider")
				}
			}()
		}
	}

	if err := app.MaybeMigrate(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := app.NewPool(startCtx, cfg, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(startCtx, cfg.RedisURL, metricsEnabled, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:    cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}

	taskClient := app.NewTaskClient(redisClient)
	defer func() { _ = taskClient.Close() }()

	feed := notify.NewFeed(cfg.Events.FeedSize)
	bus := &events.Bus{
		Store:     events.PGStore{DB: pool},
		Scheduler: events.AsynqScheduler{Client: taskClient, MaxRetry: 10, Timeout: 30 * time.Second},
		Notifiers: []events.Notifier{notify.FeedNotifier{Store: feed}},
	}

	markupService, err := markup.NewService(markup.ServiceConfig{
		Store:     markup.NewPGStore(pool),
		Locker:    lock.Locker{R: redisClient, MaxWait: cfg.Markup.LockTTL},
		LockTTL:   cfg.Markup.LockTTL,
		Events:    bus,
		Validator: app.NewValidator(),
		Logger:    logger.With().Str("component", "markup").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise markup service")
	}

	limiterStore, err := ratelimit.NewRedisStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	globalLimit, err := ratelimit.Global(limiterStore, cfg.RateLimit.Global, func(err error) {
		logger.Error().Err(err).Msg("global rate limiter")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("parse GLOBAL_RATE_LIMIT")
	}

	auditStore := audit.PGStore{DB: pool}
	readiness := &health.Readiness{}

	handler := newRouter(routerDeps{
		cfg:            cfg,
		logger:         logger,
		metrics:        metricsEnabled,
		metricsNS:      metricsNamespace,
		tracing:        tracingEnabled,
		globalLimit:    globalLimit,
		idem:           common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL},
		authMiddleware: auth.Middleware{Verifier: verifier},
		markup:         markup.NewHandler(markup.HandlerConfig{Service: markupService, Logger: logger}),
		calcLimit: ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:calc:"},
			Config: ratelimit.Config{
				Key:    ratelimit.ProjectCallerKey("projectID"),
				Window: cfg.RateLimit.CalcWindow,
				Max:    cfg.RateLimit.CalcMax,
			},
			OnError: func(err error) { logger.Error().Err(err).Msg("calculate rate limiter") },
		},
		audit: audit.HTTPRecorder{
			Service: &audit.Service{Store: auditStore, Enabled: cfg.Audit.Enabled, SamplingRate: cfg.Audit.SamplingRate},
			OnError: func(err error) { logger.Error().Err(err).Msg("record audit log") },
		},
		auditLogs: audit.Handler{Store: auditStore},
		feed:      notify.Handler{Store: feed},
		health: health.Handler{
			Checker:      app.ReadinessChecker{DB: pool, Redis: redisClient},
			Readiness:    readiness,
			DBTimeout:    app.EnvDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
			RedisTimeout: app.EnvDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		readiness.SetReady(false)
		time.Sleep(app.EnvDurationMillis("SHUTDOWN_DRAIN_MS", 2000))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info().Msg("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}
