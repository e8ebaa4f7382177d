package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/goleak"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/logging"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware(t *testing.T) {
	m := NewCORSMiddleware([]string{"https://clinic.example.com", ".vets.example.org"})
	handler := m.Handler(okHandler())

	tests := []struct {
		origin string
		allow  bool
	}{
		{"https://clinic.example.com", true},
		{"https://paws.vets.example.org", true},
		{"https://evil.example.net", false},
		{"", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/tenants", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin")
		if tt.allow && got != tt.origin {
			t.Errorf("origin %q: Allow-Origin = %q", tt.origin, got)
		}
		if !tt.allow && got != "" {
			t.Errorf("origin %q should not be allowed, got %q", tt.origin, got)
		}
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	reached := false
	handler := NewCORSMiddleware([]string{"*"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/tenants/t1/appointments", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if reached {
		t.Error("preflight should not reach the next handler")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader) {
		t.Errorf("Allow-Headers = %q, want %s", rec.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader)
	}
}

func TestRateLimiter_PerPrincipal(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	handler := rl.Handler(okHandler())

	send := func(userID string) int {
		req := httptest.NewRequest("GET", "/tenants", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("u1"); code != http.StatusOK {
			t.Fatalf("request %d: Status code = %d, want %d", i, code, http.StatusOK)
		}
	}
	if code := send("u1"); code != http.StatusTooManyRequests {
		t.Errorf("Status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := send("u2"); code != http.StatusOK {
		t.Errorf("other principal Status code = %d, want %d", code, http.StatusOK)
	}
}

func TestRateLimiter_RetryAfterAndEnvelope(t *testing.T) {
	rl := NewRateLimiter(1, 1, logger.Discard())
	handler := rl.Handler(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
	if !strings.Contains(rec.Body.String(), `"RATE_LIMIT_EXCEEDED"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := NewRateLimiter(0, 0, logger.Discard()).Handler(okHandler())
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
		}
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 5, logger.Discard())
	rl.now = func() time.Time { return now }

	rl.getLimiter("ip:10.0.0.1")
	now = now.Add(5 * time.Minute)
	rl.getLimiter("ip:10.0.0.2")
	now = now.Add(6 * time.Minute)

	if removed := rl.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	if _, ok := rl.visitors["ip:10.0.0.2"]; !ok {
		t.Error("recent visitor should survive cleanup")
	}
}

func TestRateLimiter_StartCleanupStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	NewRateLimiter(5, 5, logger.Discard()).StartCleanup(ctx, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	handler := NewTracingMiddleware(logger.Discard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("POST", "/tenants", nil)
	req.Header.Set(TraceHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "abc-123" || rec.Header().Get(TraceHeader) != "abc-123" {
		t.Errorf("trace = %q header = %q, want abc-123", seen, rec.Header().Get(TraceHeader))
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusCreated)
	}

	req = httptest.NewRequest("GET", "/tenants", nil)
	req.Header.Set(TraceHeader, strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(TraceHeader); got == "" || len(got) > 128 {
		t.Errorf("oversized trace ID should be replaced, got %q", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/tenants/{tenantID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/tenants/t1", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusConflict)
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.Status() != http.StatusConflict || rec.Code != http.StatusConflict {
		t.Errorf("Status() = %d, recorder = %d, want %d", rw.Status(), rec.Code, http.StatusConflict)
	}
}
