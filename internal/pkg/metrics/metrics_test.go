package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDispatch("sent")
	m.RecordDispatch("sent")
	m.RecordDispatch("failed")
	m.RecordTransition("opened", "noop")
	m.RecordWebhook("Open", "applied")
	m.RecordTrackingHit("click")
	m.RecordReply("unattributable")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchResults.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchResults.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("opened", "noop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("Open", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrackingHits.WithLabelValues("click")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Replies.WithLabelValues("unattributable")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/recipients/{correlationId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodGet, "/api/recipients/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/recipients/{correlationId}", "404"))
	assert.Equal(t, 2.0, got)
}
