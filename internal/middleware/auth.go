// Package middleware provides the HTTP middleware chain of the clinic API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	internalhttputil "github.com/R3E-Network/vetclinic/internal/httputil"
	"github.com/R3E-Network/vetclinic/internal/logging"
	"github.com/R3E-Network/vetclinic/internal/supabase"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// APIKeyHeader carries tenant integration keys.
const APIKeyHeader = "X-API-Key"

// Claims are the access token claims issued by the hosted auth service.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// APIKeyVerifier checks raw integration keys.
type APIKeyVerifier interface {
	Authenticate(ctx context.Context, raw string) (auth.Principal, error)
}

// UserLookup resolves an access token remotely. It is used when no signing
// secret is configured.
type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (supabase.User, error)
}

// AuthOptions configures AuthMiddleware.
type AuthOptions struct {
	JWTSecret string
	Issuer    string
	Audience  string
	APIKeys   APIKeyVerifier
	Users     UserLookup
	// SkipPaths are served without credentials. Entries ending in "/" match
	// as prefixes.
	SkipPaths []string
}

// AuthMiddleware authenticates every request as a user or an API key.
type AuthMiddleware struct {
	secret    []byte
	issuer    string
	audience  string
	apiKeys   APIKeyVerifier
	users     UserLookup
	logger    *logger.Logger
	skipPaths map[string]bool
	prefixes  []string
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(opts AuthOptions, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	m := &AuthMiddleware{
		issuer:    opts.Issuer,
		audience:  opts.Audience,
		apiKeys:   opts.APIKeys,
		users:     opts.Users,
		logger:    log,
		skipPaths: make(map[string]bool),
	}
	if opts.JWTSecret != "" {
		m.secret = []byte(opts.JWTSecret)
	}
	for _, p := range opts.SkipPaths {
		if strings.HasSuffix(p, "/") {
			m.prefixes = append(m.prefixes, p)
			continue
		}
		m.skipPaths[p] = true
	}
	return m
}

func (m *AuthMiddleware) skipped(path string) bool {
	if m.skipPaths[path] {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := m.authenticate(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		ctx = logging.WithUserID(ctx, principal.Subject())
		if principal.Role != "" {
			ctx = logging.WithRole(ctx, string(principal.Role))
		}
		m.logger.WithContext(ctx).WithField("api_key", principal.IsAPIKey()).Debug("Authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (auth.Principal, error) {
	if raw := strings.TrimSpace(r.Header.Get(APIKeyHeader)); raw != "" {
		return m.authenticateKey(r.Context(), raw)
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return auth.Principal{}, svcerrors.Unauthorized("Missing Authorization header")
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return auth.Principal{}, svcerrors.Unauthorized("Invalid Authorization header format")
	}
	if strings.HasPrefix(token, "vk_") {
		return m.authenticateKey(r.Context(), token)
	}
	return m.authenticateToken(r.Context(), token)
}

func (m *AuthMiddleware) authenticateKey(ctx context.Context, raw string) (auth.Principal, error) {
	if m.apiKeys == nil {
		return auth.Principal{}, svcerrors.Unauthorized("API keys are not accepted")
	}
	return m.apiKeys.Authenticate(ctx, raw)
}

func (m *AuthMiddleware) authenticateToken(ctx context.Context, token string) (auth.Principal, error) {
	if m.secret != nil {
		claims, err := m.validateToken(token)
		if err != nil {
			return auth.Principal{}, err
		}
		return auth.Principal{UserID: claims.Subject, Email: claims.Email}, nil
	}
	if m.users != nil {
		user, err := m.users.GetUser(ctx, token)
		if err != nil {
			return auth.Principal{}, svcerrors.InvalidToken(err)
		}
		return auth.Principal{UserID: user.ID, Email: user.Email}, nil
	}
	return auth.Principal{}, svcerrors.Unauthorized("bearer tokens are not accepted")
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, svcerrors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, svcerrors.InvalidToken(nil).WithDetails("reason", "invalid claims")
	}
	if claims.Subject == "" {
		return nil, svcerrors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := svcerrors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = svcerrors.Internal("Authentication failed", err)
	}
	internalhttputil.WriteError(w, r, serviceErr)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]any{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
		"reason": serviceErr.Message,
	})
}

// SignToken issues an HS256 access token for userID. It backs development
// seeding and tests; production tokens come from the auth provider.
func SignToken(secret, issuer, audience, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// RequirePrincipal rejects requests that reached it without credentials.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFrom(r.Context()); !ok {
			internalhttputil.Unauthorized(w, r, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
