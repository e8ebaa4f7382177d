package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/vetclinic/internal/app/metrics"
	"github.com/R3E-Network/vetclinic/internal/app/system"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

var _ system.Service = (*Jobs)(nil)

// Workflow is the part of the scheduling service driven by the jobs.
type Workflow interface {
	SendReminders(ctx context.Context, now time.Time, lead time.Duration) (int, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// JobsConfig holds the cron specs of the periodic jobs.
type JobsConfig struct {
	ReminderSpec string
	ExpirySpec   string
	ReminderLead time.Duration
	Timeout      time.Duration
}

// Jobs runs reminder and expiry jobs on cron schedules.
type Jobs struct {
	workflow Workflow
	cfg      JobsConfig
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
}

// NewJobs validates the cron specs and returns the job runner.
func NewJobs(workflow Workflow, cfg JobsConfig, log *logger.Logger) (*Jobs, error) {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	for name, spec := range map[string]string{"reminder": cfg.ReminderSpec, "expiry": cfg.ExpirySpec} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}
	return &Jobs{workflow: workflow, cfg: cfg, log: log, now: time.Now}, nil
}

func (j *Jobs) Name() string { return "scheduled-jobs" }

func (j *Jobs) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	j.runCtx, j.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if j.cfg.ReminderSpec != "" {
		if _, err := c.AddFunc(j.cfg.ReminderSpec, func() { j.RunReminders(j.runCtx) }); err != nil {
			j.cancel()
			return fmt.Errorf("schedule reminders: %w", err)
		}
	}
	if j.cfg.ExpirySpec != "" {
		if _, err := c.AddFunc(j.cfg.ExpirySpec, func() { j.RunExpiry(j.runCtx) }); err != nil {
			j.cancel()
			return fmt.Errorf("schedule expiry: %w", err)
		}
	}
	c.Start()
	j.cron = c
	j.running = true
	j.log.WithField("reminders", j.cfg.ReminderSpec).
		WithField("expiry", j.cfg.ExpirySpec).
		Info("scheduled jobs started")
	return nil
}

func (j *Jobs) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	c, cancel := j.cron, j.cancel
	j.running = false
	j.cron = nil
	j.mu.Unlock()

	cancel()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	j.log.Info("scheduled jobs stopped")
	return nil
}

// RunReminders enqueues reminders once.
func (j *Jobs) RunReminders(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()
	n, err := j.workflow.SendReminders(ctx, j.now(), j.cfg.ReminderLead)
	j.record("reminders", n, err)
}

// RunExpiry cancels stale booking requests once.
func (j *Jobs) RunExpiry(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()
	n, err := j.workflow.ExpireStale(ctx, j.now())
	j.record("expiry", n, err)
}

func (j *Jobs) record(job string, n int, err error) {
	metrics.RecordJobRun(job, err == nil)
	if err != nil {
		j.log.WithError(err).WithField("job", job).Error("scheduled job failed")
		return
	}
	j.log.WithField("job", job).WithField("affected", n).Info("scheduled job finished")
}
