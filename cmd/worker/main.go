package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alleato/procore-api/internal/app"
	"github.com/alleato/procore-api/internal/config"
	"github.com/alleato/procore-api/internal/events"
	"github.com/alleato/procore-api/internal/obs"
	"github.com/alleato/procore-api/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(app.EnvOrDefault("OBS_LOG_FORMAT", "json"), app.EnvOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(app.EnvOrDefault("OBS_METRICS_NAMESPACE", "alleato"), nil)
	resilience.MustRegisterMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := app.NewPool(startCtx, cfg, "procore-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient, err := app.NewRedis(startCtx, cfg.RedisURL, false, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	if len(cfg.Events.KafkaBrokers) == 0 {
		logger.Fatal().Msg("KAFKA_BROKERS is required for the worker")
	}
	writer := events.NewKafkaWriter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error().Err(err).Msg("close kafka writer")
		}
	}()

	breaker := resilience.NewBreaker(cfg.Events.CircuitMinRequests, cfg.Events.CircuitFailureRate, cfg.Events.CircuitOpenFor).
		WithTarget("kafka").
		WithLogger(logger)

	mux := asynq.NewServeMux()
	mux.Handle(events.TaskPublish, events.PublishHandler{
		Publisher: events.KafkaPublisher{Writer: writer, Breaker: breaker},
		Marker:    events.PGStore{DB: pool},
		Logger:    logger,
	})

	srv := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency:    cfg.Events.WorkerConcurrency,
		RetryDelayFunc: retryDelay(cfg.Events.CircuitOpenFor),
		IsFailure:      isFailure,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried >= maxRetry {
				logger.Error().Err(err).Str("task", task.Type()).Msg("task_retries_exhausted")
			}
		}),
		Logger:   asynqLogger{logger: logger},
		LogLevel: asynq.WarnLevel,
	})

	metricsSrv := &http.Server{
		Addr:              app.EnvOrDefault("WORKER_METRICS_ADDR", ":9091"),
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Int("concurrency", cfg.Events.WorkerConcurrency).Msg("worker starting")
		if err := srv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
