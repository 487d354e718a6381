// Package tracking serves the open pixel and click redirect and moves the
// resulting engagement events to the recipient state store, either
// directly or through an SQS queue drained by the worker.
package tracking

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-tracker/internal/correlation"
	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/pkg/metrics"
)

// pixelPNG is a 1x1 fully transparent PNG.
var pixelPNG = func() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// Handler serves /track and /click.
type Handler struct {
	sink    EventSink
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHandler creates tracking handlers publishing to sink.
func NewHandler(sink EventSink) *Handler {
	return &Handler{sink: sink, metrics: metrics.Default, now: time.Now}
}

// WithMetrics swaps the metrics sink.
func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// Register mounts the tracking routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/track", h.HandleOpen)
	r.Get("/click", h.HandleClick)
}

// Routes returns a standalone router for the tracking-only service.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen always answers with the pixel, whatever the query says.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := strings.ToLower(strings.TrimSpace(q.Get("correlationId")))
	if correlation.Valid(id) {
		h.sink.Publish(r.Context(), domain.TrackingEvent{
			EventType:     domain.EventOpen,
			CorrelationID: id,
			Recipient:     q.Get("recipient"),
			IPAddress:     realIP(r),
			UserAgent:     r.UserAgent(),
			Timestamp:     h.now().UTC(),
		})
		h.metrics.RecordTrackingHit("open")
	} else {
		h.metrics.RecordTrackingHit("open_unattributed")
	}
	servePixel(w)
}

// HandleClick redirects to the wrapped URL. Only absolute http(s) targets
// are followed so the endpoint cannot be used as an open redirector for
// other schemes.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, ok := redirectTarget(q.Get("url"))
	if !ok {
		h.metrics.RecordTrackingHit("click_rejected")
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	id := strings.ToLower(strings.TrimSpace(q.Get("correlationId")))
	if correlation.Valid(id) {
		h.sink.Publish(r.Context(), domain.TrackingEvent{
			EventType:     domain.EventClick,
			CorrelationID: id,
			URL:           target,
			IPAddress:     realIP(r),
			UserAgent:     r.UserAgent(),
			Timestamp:     h.now().UTC(),
		})
		h.metrics.RecordTrackingHit("click")
	} else {
		logger.Debug("click without correlation id", "url", target)
		h.metrics.RecordTrackingHit("click_unattributed")
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleHealth is the liveness probe of the tracking-only service.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func redirectTarget(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String(), true
	}
	return "", false
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelPNG)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
