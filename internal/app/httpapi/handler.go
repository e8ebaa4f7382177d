// Package httpapi exposes the clinic services over a JSON REST API routed
// with gorilla/mux.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/vetclinic/internal/app"
	"github.com/R3E-Network/vetclinic/internal/app/metrics"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/internal/httputil"
	"github.com/R3E-Network/vetclinic/internal/middleware"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	Auth           middleware.AuthOptions
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// Audit receives one entry per authenticated request. Nil keeps a
	// process-local trail only.
	Audit *AuditLog
	// Version is reported by /info.
	Version string
}

// API is the assembled HTTP handler.
type API struct {
	handler http.Handler
	limiter *middleware.RateLimiter
	audit   *AuditLog
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// RunCleanup evicts idle rate limiter entries every interval until ctx ends.
func (a *API) RunCleanup(ctx context.Context, interval time.Duration) {
	a.limiter.StartCleanup(ctx, interval)
}

// Audit returns the request audit trail.
func (a *API) Audit() *AuditLog {
	return a.audit
}

type handler struct {
	app     *app.Application
	audit   *AuditLog
	log     *logger.Logger
	version string
	started time.Time
}

// NewHandler builds the router and wraps it in the middleware chain:
// tracing, CORS, metrics, auth, rate limiting, audit.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) *API {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	audit := opts.Audit
	if audit == nil {
		audit = NewAuditLog(0, nil)
	}
	h := &handler{app: application, audit: audit, log: log, version: opts.Version, started: time.Now()}

	authOpts := opts.Auth
	authOpts.SkipPaths = append(authOpts.SkipPaths, "/healthz", "/metrics")
	authMW := middleware.NewAuthMiddleware(authOpts, log.Named("auth"))
	limiter := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log.Named("ratelimit"))

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, r, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	router.Use(middleware.MetricsMiddleware, authMW.Handler, limiter.Handler, h.auditMiddleware)

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.HandleFunc("/info", h.info).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/tenants", h.createTenant).Methods(http.MethodPost)
	router.HandleFunc("/tenants", h.listTenants).Methods(http.MethodGet)

	clinic := router.PathPrefix("/tenants/{tenantID}").Subrouter()
	clinic.Use(h.resolveActor)
	h.tenantRoutes(clinic)
	h.customerRoutes(clinic)
	h.catalogRoutes(clinic)
	h.appointmentRoutes(clinic)
	h.recordRoutes(clinic)
	h.inventoryRoutes(clinic)
	h.billingRoutes(clinic)
	h.notificationRoutes(clinic)

	portalRouter := router.PathPrefix("/portal/{tenantID}").Subrouter()
	portalRouter.Use(h.resolveActor)
	h.portalRoutes(portalRouter)

	var chain http.Handler = router
	chain = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(chain)
	chain = middleware.NewTracingMiddleware(log.Named("http")).Handler(chain)

	return &API{handler: chain, limiter: limiter, audit: audit}
}

// actionBody is the optional body of state-changing appointment actions.
type actionBody struct {
	ExpectedVersion int    `json:"expected_version,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// decodeOptional decodes a body when one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return httputil.DecodeJSON(w, r, dst)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, svcerrors.InvalidInput("%s must be a non-negative integer", key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, svcerrors.InvalidInput("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

// queryList accepts both repeated parameters and comma separated values.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func pathVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}
