package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/alleato/procore-api/internal/resilience"
)

const maxRetryDelay = 5 * time.Minute

// retryDelay waits out the breaker cool-off for open-circuit errors and backs
// off exponentially otherwise.
func retryDelay(openFor time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, _ *asynq.Task) time.Duration {
		if errors.Is(err, resilience.ErrOpenCircuit) && openFor > 0 {
			return openFor
		}
		d := resilience.Backoff(2*time.Second, n+1, 0.2)
		if d > maxRetryDelay || d <= 0 {
			return maxRetryDelay
		}
		return d
	}
}

// isFailure keeps open-circuit deferrals out of asynq's failure stats.
func isFailure(err error) bool {
	return !errors.Is(err, resilience.ErrOpenCircuit)
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
