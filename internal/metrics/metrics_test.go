package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBusPublish(t *testing.T) {
	m := New()

	m.RecordBusPublish("train.started", time.Millisecond, nil)
	m.RecordBusPublish("train.started", time.Millisecond, errors.New("broker down"))

	if got := testutil.ToFloat64(m.BusEventsPublished.WithLabelValues("train.started")); got != 2 {
		t.Errorf("published = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BusErrors.WithLabelValues("train.started")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestRecordTraining(t *testing.T) {
	m := New()

	for i := 0; i < 3; i++ {
		m.RecordIteration("dbn", -1.5+float64(i)*0.1, 0.01)
	}
	m.RecordTrain("dbn", "em", 2*time.Second)
	m.RecordSessions(90, 10)
	m.RecordEvaluation("dbn", 1.4, 1.3)

	if got := testutil.ToFloat64(m.EMIterations.WithLabelValues("dbn")); got != 3 {
		t.Errorf("iterations = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.LogLikelihood.WithLabelValues("dbn")); got < -1.31 || got > -1.29 {
		t.Errorf("log-likelihood = %v, want -1.3", got)
	}
	if got := testutil.ToFloat64(m.TrainRuns.WithLabelValues("dbn", "em")); got != 1 {
		t.Errorf("train runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsRejected); got != 10 {
		t.Errorf("rejected = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.Perplexity.WithLabelValues("dbn")); got != 1.4 {
		t.Errorf("perplexity = %v, want 1.4", got)
	}
}

func TestRecordStoreAndCache(t *testing.T) {
	m := New()

	m.RecordStore("save", nil)
	m.RecordStore("load", errors.New("missing"))
	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)

	if got := testutil.ToFloat64(m.StoreOperations.WithLabelValues("load", "error")); got != 1 {
		t.Errorf("failed loads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ModelCacheMisses); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordPrediction("ubm", "predict", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`rice_clickmodels_predictions_total{kind="predict",model="ubm"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHTTPMiddleware(t *testing.T) {
	m := New()
	handler := HTTPMiddleware(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing/predict") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/v1/models/dbn/predict", "/v1/models/ubm/predict", "/v1/models/missing/predict"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/v1/models/{name}/predict", "200")); got != 2 {
		t.Errorf("200 requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/v1/models/{name}/predict", "404")); got != 1 {
		t.Errorf("404 requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/v1/models", "/v1/models"},
		{"/v1/models/dbn", "/v1/models/{name}"},
		{"/v1/models/dbn-rel.v2/conditional", "/v1/models/{name}/conditional"},
		{"/unknown", "/unknown"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "200", 302: "3xx", 418: "4xx", 429: "429", 599: "5xx", 42: "42"}
	for code, want := range tests {
		if got := statusCode(code); got != want {
			t.Errorf("statusCode(%d) = %q, want %q", code, got, want)
		}
	}
}
