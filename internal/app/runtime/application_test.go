package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/vetclinic/internal/config"
	"github.com/R3E-Network/vetclinic/internal/middleware"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Auth.JWTSecret = "runtime-secret"
	cfg.Logging.Output = "stdout"
	cfg.Logging.Level = "error"
	cfg.Notifications.PollInterval = 50 * time.Millisecond
	cfg.Audit.File = filepath.Join(t.TempDir(), "audit.jsonl")
	return cfg
}

func TestNewRequiresTokenVerification(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected error without a jwt secret")
	}
}

func TestNewRejectsRealtimeWithoutSupabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supabase.Realtime = true
	_, err := New(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "SUPABASE_REALTIME") {
		t.Fatalf("expected realtime error, got %v", err)
	}
}

func TestMemoryApplicationServesRequests(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "notification-dispatcher") || !strings.Contains(rec.Body.String(), "scheduled-jobs") {
		t.Fatalf("expected background services in health output: %s", rec.Body.String())
	}

	token, err := middleware.SignToken(cfg.Auth.JWTSecret, "", "", "owner-1", "owner@example.com", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tenants: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	data, err := os.ReadFile(cfg.Audit.File)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if !strings.Contains(string(data), `"user":"owner-1"`) {
		t.Fatalf("expected audit line for owner-1, got %q", data)
	}
}
