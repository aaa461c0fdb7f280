package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.SendsTotal.WithLabelValues("sent").Inc()
	m.SendsTotal.WithLabelValues("sent").Inc()
	m.EventsTotal.WithLabelValues("bounce").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `campaignd_sends_total{result="sent"} 2`) {
		t.Errorf("missing sends counter in output:\n%s", body)
	}
	if !strings.Contains(body, `campaignd_events_total{type="bounce"} 1`) {
		t.Errorf("missing events counter in output:\n%s", body)
	}
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Get("/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/campaigns/1", "/campaigns/2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	// Both requests collapse onto the route pattern label.
	if !strings.Contains(body, `campaignd_api_requests_total{method="GET",path="/campaigns/{id}",status="200"} 2`) {
		t.Errorf("requests not aggregated by route pattern:\n%s", body)
	}
}
