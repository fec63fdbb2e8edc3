package ratelimit

import (
	"net/http"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/alleato/procore-api/internal/common"
)

// NewRedisStore wires a fixed-window limiter store backed by Redis.
func NewRedisStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ratelimit:global"})
}

// Global returns a per-IP limiter for the whole API. rate uses the
// "<limit>-<period>" format, for example "300-M". An empty rate disables it.
func Global(store limiter.Store, rate string, onError func(error)) (func(http.Handler) http.Handler, error) {
	if rate == "" || store == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	l := limiter.New(store, parsed, limiter.WithTrustForwardHeader(true))
	mw := stdlib.NewMiddleware(l,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			if onError != nil {
				onError(err)
			}
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		}),
	)
	return mw.Handler, nil
}
