package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alleato/procore-api/internal/common"
)

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Readiness is the serving flag flipped off when the process starts draining.
// The zero value reports ready.
type Readiness struct {
	draining atomic.Bool
}

// SetReady marks the process as accepting (true) or draining (false).
func (r *Readiness) SetReady(ready bool) {
	if r == nil {
		return
	}
	r.draining.Store(!ready)
}

// Ready reports whether the process accepts traffic.
func (r *Readiness) Ready() bool {
	return r == nil || !r.draining.Load()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	Readiness    *Readiness
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes the database and Redis concurrently and reports 503 when either
// fails or the process is draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.Readiness.Ready() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}

	dbStatus, redisStatus := "ok", "ok"
	var g errgroup.Group
	g.Go(func() error {
		if err := h.Checker.PingDB(r.Context(), h.dbTimeout()); err != nil {
			dbStatus = err.Error()
		}
		return nil
	})
	g.Go(func() error {
		if err := h.Checker.PingRedis(r.Context(), h.redisTimeout()); err != nil {
			redisStatus = err.Error()
		}
		return nil
	})
	_ = g.Wait()

	status := http.StatusOK
	if dbStatus != "ok" || redisStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, map[string]string{"db": dbStatus, "redis": redisStatus})
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
