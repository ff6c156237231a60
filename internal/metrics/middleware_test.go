package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	teapot := httpRequestsTotal.WithLabelValues("GET", "418")
	gone := httpRequestsTotal.WithLabelValues("GET", "410")
	beforeTeapot, beforeGone := testutil.ToFloat64(teapot), testutil.ToFloat64(gone)

	for _, path := range []string{"/teapot", "/gone"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}

	if val := testutil.ToFloat64(teapot) - beforeTeapot; val != 1 {
		t.Errorf("Expected httpRequestsTotal for GET /teapot to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(gone) - beforeGone; val != 1 {
		t.Errorf("Expected httpRequestsTotal for GET /gone to be 1, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("Expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}
