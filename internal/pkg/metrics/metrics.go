// Package metrics exposes the Prometheus counters for dispatch, webhook
// ingestion, tracking hits and replies.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	DispatchResults *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	WebhookEvents   *prometheus.CounterVec
	TrackingHits    *prometheus.CounterVec
	Replies         *prometheus.CounterVec
}

// Default is registered against the global Prometheus registry and served
// by Handler.
var Default = New(prometheus.DefaultRegisterer)

// New creates a Metrics instance with all collectors registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DispatchResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_dispatch_results_total",
				Help: "Per-recipient dispatch outcomes",
			},
			[]string{"status"}, // sent, failed
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_recipient_transitions_total",
				Help: "Recipient state machine transitions by outcome",
			},
			[]string{"transition", "outcome"}, // applied, noop, not_found, error
		),
		WebhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_webhook_events_total",
				Help: "Provider webhook notifications by event type and outcome",
			},
			[]string{"event", "outcome"},
		),
		TrackingHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_tracking_hits_total",
				Help: "Open pixel and click redirect requests",
			},
			[]string{"kind"}, // open, click
		),
		Replies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_replies_total",
				Help: "Inbound replies by correlation outcome",
			},
			[]string{"outcome"}, // stored, duplicate, unattributable
		),
	}
}

// RecordDispatch counts one recipient result.
func (m *Metrics) RecordDispatch(status string) {
	m.DispatchResults.WithLabelValues(status).Inc()
}

// RecordTransition counts one state machine attempt.
func (m *Metrics) RecordTransition(transition, outcome string) {
	m.Transitions.WithLabelValues(transition, outcome).Inc()
}

// RecordWebhook counts one provider notification.
func (m *Metrics) RecordWebhook(event, outcome string) {
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

// RecordTrackingHit counts one pixel or redirect request.
func (m *Metrics) RecordTrackingHit(kind string) {
	m.TrackingHits.WithLabelValues(kind).Inc()
}

// RecordReply counts one inbound reply.
func (m *Metrics) RecordReply(outcome string) {
	m.Replies.WithLabelValues(outcome).Inc()
}

// Middleware records request count and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
