package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alleato/procore-api/internal/common"
)

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	_, client := newRedis(t)

	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "ratelimit:"},
		Config: Config{
			Key:    func(*http.Request) string { return "static" },
			Window: time.Minute,
			Max:    1,
		},
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, httptest.NewRequest(http.MethodPost, "/calculate", nil))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, httptest.NewRequest(http.MethodPost, "/calculate", nil))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Equal(t, "1", rr2.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "60", rr2.Header().Get("Retry-After"))
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestHandlerMiddlewareFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	var observed error
	handler := Handler{
		Limiter: Limiter{Client: client},
		Config:  Config{Key: func(*http.Request) string { return "err" }, Window: time.Second, Max: 1},
		OnError: func(err error) { observed = err },
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Error(t, observed)
}

func TestProjectCallerKey(t *testing.T) {
	key := ProjectCallerKey("projectID")

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("projectID", "42")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/42/vertical-markup/calculate", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	require.Equal(t, "project:42:ip:192.0.2.7", key(req))

	req = req.WithContext(common.WithUserID(req.Context(), "user-1"))
	require.Equal(t, "project:42:user-1", key(req))

	require.Empty(t, key(httptest.NewRequest(http.MethodPost, "/", nil)))
}
