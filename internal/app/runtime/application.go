// Package runtime assembles clinicd from configuration: storage backend,
// services, background workers and the HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	app "github.com/R3E-Network/vetclinic/internal/app"
	"github.com/R3E-Network/vetclinic/internal/app/httpapi"
	"github.com/R3E-Network/vetclinic/internal/app/services/notifications"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	"github.com/R3E-Network/vetclinic/internal/app/storage/postgres"
	sbstore "github.com/R3E-Network/vetclinic/internal/app/storage/supabase"
	"github.com/R3E-Network/vetclinic/internal/config"
	"github.com/R3E-Network/vetclinic/internal/middleware"
	"github.com/R3E-Network/vetclinic/internal/platform/database"
	"github.com/R3E-Network/vetclinic/internal/platform/migrations"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Version is reported by /info. Overridden at build time.
var Version = "dev"

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    config.Config
	log    *logger.Logger
	app    *app.Application
	api    *httpapi.API
	server *http.Server

	db        *sqlx.DB
	redis     *redis.Client
	auditFile io.Closer
}

// NewApplication constructs an application from the environment.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(ctx, cfg)
}

// New constructs an application from cfg.
func New(ctx context.Context, cfg config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)
	a := &Application{cfg: cfg, log: log}

	b, err := a.buildBackend(ctx)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	opts := app.Options{TenantDefaults: &cfg.TenantDefaults}
	if p, ok := b.store.(app.Pinger); ok {
		opts.Health = p
	}
	application, err := app.New(app.StoresFrom(b.store), opts, log)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.app = application

	if err := a.attachWorkers(ctx, b); err != nil {
		a.closeResources()
		return nil, err
	}

	audit, err := a.buildAudit()
	if err != nil {
		a.closeResources()
		return nil, err
	}

	authOpts := middleware.AuthOptions{
		JWTSecret: cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		APIKeys:   application.Tenants,
	}
	if b.client != nil {
		authOpts.Users = b.client
	}
	if authOpts.JWTSecret == "" && authOpts.Users == nil {
		a.closeResources()
		return nil, errors.New("AUTH_JWT_SECRET is required unless the supabase backend verifies tokens")
	}

	a.api = httpapi.NewHandler(application, httpapi.Options{
		Auth:           authOpts,
		CORSOrigins:    cfg.CORS.Origins(),
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		Audit:          audit,
		Version:        Version,
	}, log.Named("http"))

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

type backend struct {
	store  app.Backend
	client *sb.Client
}

func (a *Application) buildBackend(ctx context.Context) (backend, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := database.Open(ctx, a.cfg.Database)
		if err != nil {
			return backend{}, err
		}
		a.db = db
		if a.cfg.Database.MigrateOnStart {
			if err := migrations.Up(db.DB); err != nil {
				return backend{}, err
			}
			a.log.Info("database migrations applied")
		}
		return backend{store: postgres.New(db)}, nil

	case config.BackendSupabase:
		client, err := sb.New(sb.Config{
			URL:    a.cfg.Supabase.URL,
			APIKey: a.cfg.Supabase.ServiceKey,
			Logger: a.log.Named("supabase"),
		})
		if err != nil {
			return backend{}, err
		}
		return backend{store: sbstore.New(client), client: client}, nil

	default:
		a.log.Warn("using in-memory storage; data is lost on restart")
		return backend{store: memory.New()}, nil
	}
}

func (a *Application) attachWorkers(ctx context.Context, b backend) error {
	ncfg := a.cfg.Notifications

	var sender notifications.Sender = notifications.NewLogSender(a.log.Named("notify"))
	if ncfg.WebhookURL != "" {
		ws, err := notifications.NewWebhookSender(ncfg.WebhookURL, ncfg.WebhookSecret, 10*time.Second)
		if err != nil {
			return fmt.Errorf("notification webhook: %w", err)
		}
		sender = ws
	}

	var dedupe notifications.Deduper = notifications.NewMemoryDeduper()
	if ncfg.RedisAddr != "" {
		client, err := notifications.DialRedis(ctx, ncfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("notification redis: %w", err)
		}
		a.redis = client
		dedupe = notifications.NewRedisDeduper(client, "vetclinic:notify:")
	}

	dispatcher := notifications.NewDispatcher(a.app.Stores().Notifications, sender, dedupe, notifications.DispatcherConfig{
		PollInterval: ncfg.PollInterval,
		BatchSize:    ncfg.BatchSize,
		MaxAttempts:  ncfg.MaxAttempts,
		RetryDelay:   ncfg.RetryDelay,
		ClaimTTL:     ncfg.DedupeTTL,
	}, a.log.Named("notification-dispatcher"))
	if err := a.app.Attach(dispatcher); err != nil {
		return err
	}

	if a.cfg.Jobs.Enabled {
		jobs, err := notifications.NewJobs(a.app.Scheduling, notifications.JobsConfig{
			ReminderSpec: a.cfg.Jobs.ReminderSpec,
			ExpirySpec:   a.cfg.Jobs.ExpirySpec,
			ReminderLead: a.cfg.Jobs.ReminderLead,
		}, a.log.Named("jobs"))
		if err != nil {
			return fmt.Errorf("scheduled jobs: %w", err)
		}
		if err := a.app.Attach(jobs); err != nil {
			return err
		}
	}

	if a.cfg.Supabase.Realtime {
		if b.client == nil {
			return errors.New("SUPABASE_REALTIME requires the supabase backend")
		}
		key := a.cfg.Supabase.AnonKey
		if key == "" {
			key = a.cfg.Supabase.ServiceKey
		}
		rt, err := sb.NewRealtime(a.cfg.Supabase.URL, key, a.log.Named("supabase-realtime"))
		if err != nil {
			return fmt.Errorf("supabase realtime: %w", err)
		}
		listener := notifications.NewBookingListener(rt, a.app.Scheduling, a.log.Named("booking-listener"))
		if err := a.app.Attach(listener); err != nil {
			return err
		}
	}
	return nil
}

func (a *Application) buildAudit() (*httpapi.AuditLog, error) {
	if a.cfg.Audit.File == "" {
		return httpapi.NewAuditLog(a.cfg.Audit.Max, nil), nil
	}
	f, err := httpapi.OpenAuditFile(a.cfg.Audit.File)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	a.auditFile = f
	return httpapi.NewAuditLog(a.cfg.Audit.Max, f), nil
}

// Handler exposes the HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.api
}

// App exposes the service layer.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts the workers and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.api.RunCleanup(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server, stops the workers and releases
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("services: %w", err))
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
	if a.auditFile != nil {
		if err := a.auditFile.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit file")
		}
		a.auditFile = nil
	}
}
