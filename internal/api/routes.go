package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
	"github.com/ignite/outreach-tracker/internal/pkg/ratelimit"
	"github.com/ignite/outreach-tracker/internal/tracking"
)

// RouterConfig carries the cross-cutting settings for NewRouter.
type RouterConfig struct {
	CORSOrigins []string
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
}

// NewRouter configures all routes.
func NewRouter(cfg RouterConfig, h *Handlers, track *tracking.Handler, health *HealthChecker) *chi.Mux {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Middleware)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", health.HandleLiveness)
	r.Get("/health/ready", health.HandleReadiness)
	r.Handle("/metrics", metrics.Handler())

	track.Register(r)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/ses", h.HandleSESWebhook)
		r.Post("/inbound", h.HandleInbound)
	})

	r.Route("/api", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		r.Post("/dispatch", h.Dispatch)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Get("/{id}/recipients", h.ListRecipients)
		})

		r.Route("/recipients/{correlationId}", func(r chi.Router) {
			r.Get("/", h.GetRecipient)
			r.Get("/replies", h.ListReplies)
		})
	})

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	})
}
