package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alleato/procore-api/internal/app"
	"github.com/alleato/procore-api/internal/audit"
	"github.com/alleato/procore-api/internal/auth"
	"github.com/alleato/procore-api/internal/common"
	"github.com/alleato/procore-api/internal/config"
	"github.com/alleato/procore-api/internal/health"
	"github.com/alleato/procore-api/internal/markup"
	"github.com/alleato/procore-api/internal/notify"
	"github.com/alleato/procore-api/internal/obs"
	"github.com/alleato/procore-api/internal/ratelimit"
	"github.com/alleato/procore-api/internal/security"
)

type routerDeps struct {
	cfg            *config.Config
	logger         zerolog.Logger
	metrics        bool
	metricsNS      string
	tracing        bool
	globalLimit    func(http.Handler) http.Handler
	idem           common.Idem
	authMiddleware auth.Middleware
	markup         *markup.Handler
	calcLimit      ratelimit.Handler
	audit          audit.HTTPRecorder
	auditLogs      audit.Handler
	feed           notify.Handler
	health         health.Handler
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.metrics {
		buckets := obs.ParseBucketsCSV(app.EnvOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(d.metricsNS, buckets, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.logger}.Middleware)
	r.Use(security.Headers{Enable: d.cfg.SecurityHeaders, EnableHSTS: d.cfg.IsProduction()}.Middleware)
	r.Use(security.CORS(d.cfg.CORSAllowedOrigins))

	if d.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if app.EnvBool("OBS_ENABLE_PPROF", false) {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(),
			app.EnvOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""),
			app.EnvOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")))
	}
	r.Get("/health/live", d.health.Live)
	r.Get("/health/ready", d.health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		if d.globalLimit != nil {
			v.Use(d.globalLimit)
		}
		v.Use(security.BodyLimit{Max: d.cfg.BodyLimitBytes}.Middleware)
		v.Use(d.authMiddleware.RequireAuth)

		mutation := func(action string) func(http.Handler) http.Handler {
			recorded := d.audit.Middleware(audit.HTTPConfig{
				Action:          action,
				ResourceType:    "vertical_markup",
				ResourceIDParam: "projectID",
			})
			return func(next http.Handler) http.Handler {
				return d.idem.Middleware(recorded(next))
			}
		}
		d.markup.Routes(v, d.calcLimit.Middleware, mutation)

		v.Get("/monitoring/notifications", d.feed.List)
		v.Get("/audit-logs", d.auditLogs.List)
	})

	if !d.tracing {
		return r
	}
	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/metrics" && req.URL.Path != "/health/live"
		}))
}
