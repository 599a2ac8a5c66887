package observe

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// apiMux mimics the server routes the middleware sits in front of.
func apiMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/live/save", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestMiddleware_Spans(t *testing.T) {
	exp := useTestTracer(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m, slog.New(slog.DiscardHandler))(apiMux())

	tests := []struct {
		method, path string
		wantSpan     string
		wantStatus   int
		wantError    bool
	}{
		{http.MethodGet, "/api/sessions/abc", "HTTP GET /api/sessions/{id}", http.StatusOK, false},
		{http.MethodGet, "/api/sessions/missing", "HTTP GET /api/sessions/{id}", http.StatusNotFound, false},
		{http.MethodPost, "/api/live/save", "HTTP POST /api/live/save", http.StatusServiceUnavailable, true},
		{http.MethodGet, "/unrouted", "HTTP GET /unrouted", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		exp.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s %s: %d spans", tt.method, tt.path, len(spans))
		}
		s := spans[0]
		if s.Name != tt.wantSpan {
			t.Errorf("%s: span name = %q, want %q", tt.path, s.Name, tt.wantSpan)
		}
		var status int64
		for _, a := range s.Attributes {
			if a.Key == "http.response.status_code" {
				status = a.Value.AsInt64()
			}
		}
		if status != int64(tt.wantStatus) {
			t.Errorf("%s: status attribute = %d, want %d", tt.path, status, tt.wantStatus)
		}
		if got := s.Status.Code == codes.Error; got != tt.wantError {
			t.Errorf("%s: error status = %v, want %v", tt.path, got, tt.wantError)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	var seen string
	h := Middleware(m, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	t.Run("new trace", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live", nil))
		if len(seen) != 32 {
			t.Fatalf("correlation ID = %q", seen)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != seen {
			t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
		}
		if rec.Header().Get("traceparent") == "" {
			t.Error("traceparent not injected into the response")
		}
	})

	t.Run("continues incoming trace", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		req := httptest.NewRequest(http.MethodGet, "/api/live", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen != traceID {
			t.Errorf("correlation ID = %q, want %q", seen, traceID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q", got)
		}
	})
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	useTestTracer(t)
	m, reader := newTestMetrics(t)
	h := Middleware(m, slog.New(slog.DiscardHandler))(apiMux())

	for _, id := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
	}

	met := findMetric(collect(t, reader), "scribeline.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("expected a single route series, got %d", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	if path, _ := dp.Attributes.Value("path"); path.AsString() != "GET /api/sessions/{id}" {
		t.Errorf("path label = %q", path.AsString())
	}
	if method, _ := dp.Attributes.Value("method"); method.AsString() != http.MethodGet {
		t.Errorf("method label = %q", method.AsString())
	}
}

func TestMiddleware_Logging(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := Middleware(m, log)(apiMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("probe logged at info: %s", buf.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	out := buf.String()
	for _, want := range []string{"request completed", "status=200", "path=/api/sessions/abc", "trace_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("expected error when the wrapped writer cannot hijack")
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}

func TestMiddleware_NilLogger(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)
	rec := httptest.NewRecorder()
	Middleware(m, nil)(apiMux()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
