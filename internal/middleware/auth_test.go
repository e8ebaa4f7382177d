package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/internal/logging"
	"github.com/R3E-Network/vetclinic/internal/supabase"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

const testSecret = "super-secret-jwt-key"

func generateTestToken(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	token, err := SignToken(secret, "clinic-test", "", userID, "test@example.com", ttl)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

type fakeKeys struct {
	raw string
}

func (f fakeKeys) Authenticate(_ context.Context, raw string) (auth.Principal, error) {
	if raw != f.raw {
		return auth.Principal{}, svcerrors.InvalidToken(nil)
	}
	return auth.Principal{APIKeyID: "k1", TenantID: "t1", Role: tenant.RoleStaff}, nil
}

type fakeUsers struct {
	token string
}

func (f fakeUsers) GetUser(_ context.Context, token string) (supabase.User, error) {
	if token != f.token {
		return supabase.User{}, errors.New("invalid JWT")
	}
	return supabase.User{ID: "remote-user", Email: "remote@example.com"}, nil
}

func newTestAuth(opts AuthOptions) *AuthMiddleware {
	return NewAuthMiddleware(opts, logger.Discard())
}

func capture(p *auth.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*p, _ = auth.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret, SkipPaths: []string{"/healthz", "/metrics", "/public/"}})

	if string(m.secret) != testSecret {
		t.Error("secret not set correctly")
	}
	if len(m.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(m.skipPaths))
	}
	if !m.skipped("/public/docs") {
		t.Error("prefix /public/ should be skipped")
	}
	if m.skipped("/tenants") {
		t.Error("/tenants should not be skipped")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret, SkipPaths: []string{"/healthz"}})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_Rejects(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret, APIKeys: fakeKeys{raw: "vk_k1_secret"}})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"missing header", "", ""},
		{"no bearer prefix", "Authorization", "token123"},
		{"wrong prefix", "Authorization", "Basic token123"},
		{"empty token", "Authorization", "Bearer "},
		{"garbage token", "Authorization", "Bearer not.a.jwt"},
		{"expired token", "Authorization", "Bearer " + generateTestToken(t, testSecret, "u1", -time.Hour)},
		{"wrong key", "Authorization", "Bearer " + generateTestToken(t, "other-secret", "u1", time.Hour)},
		{"unknown api key", APIKeyHeader, "vk_k1_wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/tenants/t1/customers", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret, Issuer: "clinic-test"})

	var got auth.Principal
	var ctxUser string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFrom(r.Context())
		ctxUser = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", time.Hour))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UserID != "user-123" || got.Email != "test@example.com" {
		t.Errorf("principal = %+v", got)
	}
	if ctxUser != "user-123" {
		t.Errorf("User ID = %v, want user-123", ctxUser)
	}
}

func TestAuthMiddleware_Handler_WrongIssuer(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret, Issuer: "someone-else"})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", time.Hour))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_RejectsOtherAlgorithms(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret})
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.validateToken(token); !svcerrors.HasCode(err, svcerrors.CodeInvalidToken) {
		t.Errorf("validateToken() error = %v, want invalid token", err)
	}
}

func TestAuthMiddleware_Handler_APIKey(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret, APIKeys: fakeKeys{raw: "vk_k1_secret"}})

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set(APIKeyHeader, "vk_k1_secret") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer vk_k1_secret") },
	} {
		var got auth.Principal
		req := httptest.NewRequest("GET", "/tenants/t1/appointments", nil)
		set(req)
		rec := httptest.NewRecorder()
		m.Handler(capture(&got)).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
		}
		if !got.IsAPIKey() || got.TenantID != "t1" || got.Role != tenant.RoleStaff {
			t.Errorf("principal = %+v", got)
		}
	}
}

func TestAuthMiddleware_Handler_RemoteLookup(t *testing.T) {
	m := newTestAuth(AuthOptions{Users: fakeUsers{token: "opaque-token"}})

	var got auth.Principal
	req := httptest.NewRequest("GET", "/tenants", nil)
	req.Header.Set("Authorization", "Bearer opaque-token")
	rec := httptest.NewRecorder()
	m.Handler(capture(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UserID != "remote-user" {
		t.Errorf("UserID = %q, want remote-user", got.UserID)
	}

	req = httptest.NewRequest("GET", "/tenants", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	rec = httptest.NewRecorder()
	m.Handler(capture(&got)).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_PreservesTraceID(t *testing.T) {
	m := newTestAuth(AuthOptions{JWTSecret: testSecret})

	var traceID string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/tenants", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-abc"))
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "u1", time.Hour))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if traceID != "trace-abc" {
		t.Errorf("trace ID = %q, want trace-abc", traceID)
	}
}

func TestRequirePrincipal(t *testing.T) {
	handler := RequirePrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}
