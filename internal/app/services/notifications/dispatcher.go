package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/metrics"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	"github.com/R3E-Network/vetclinic/internal/app/system"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts counts delivery rounds before a notification is failed.
	MaxAttempts int
	// RetryDelay is the pause between in-round retries; rounds back off
	// exponentially from it.
	RetryDelay time.Duration
	ClaimTTL   time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	return c
}

// Dispatcher periodically delivers pending notifications through a Sender.
type Dispatcher struct {
	store  storage.NotificationStore
	sender Sender
	dedupe Deduper
	cfg    DispatcherConfig
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDispatcher constructs a lifecycle-managed dispatcher. A nil deduper
// falls back to a process-local one.
func NewDispatcher(store storage.NotificationStore, sender Sender, dedupe Deduper, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notification-dispatcher")
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		dedupe: dedupe,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) Name() string { return "notification-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.sender == nil {
		d.mu.Unlock()
		d.log.Warn("notification sender not configured; dispatcher disabled")
		return nil
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.Tick(runCtx)
			}
		}
	}()

	d.log.WithField("poll_interval", d.cfg.PollInterval).Info("notification dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("notification dispatcher stopped")
	return nil
}

// Tick delivers one batch of due notifications and returns how many were
// sent.
func (d *Dispatcher) Tick(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PollInterval+30*time.Second)
	defer cancel()

	due, err := d.store.ListDueNotifications(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		d.log.WithError(err).Warn("notification dispatcher tick failed")
		return 0
	}
	sent := 0
	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		if d.deliver(ctx, n) {
			sent++
		}
	}
	return sent
}

func (d *Dispatcher) deliver(ctx context.Context, n notification.Notification) bool {
	claim := n.ID + ":" + n.IdempotencyKey
	won, err := d.dedupe.Claim(ctx, claim, d.cfg.ClaimTTL)
	if err != nil {
		d.log.WithError(err).WithField("notification_id", n.ID).Warn("notification claim failed")
		return false
	}
	if !won {
		return false
	}

	started := time.Now()
	err = retry.Do(
		func() error {
			if err := d.sender.Send(ctx, n); err != nil {
				if IsPermanent(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(d.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	elapsed := time.Since(started)

	n.Attempts++
	entry := d.log.WithField("tenant_id", n.TenantID).
		WithField("notification_id", n.ID).
		WithField("kind", n.Kind).
		WithField("attempts", n.Attempts)
	if err == nil {
		at := d.now().UTC()
		n.Status = notification.StatusSent
		n.SentAt = &at
		n.LastError = ""
		metrics.RecordNotification(string(n.Kind), "sent", elapsed)
		entry.Info("notification sent")
	} else {
		n.LastError = err.Error()
		if n.Attempts >= d.cfg.MaxAttempts || IsPermanent(err) {
			n.Status = notification.StatusFailed
			metrics.RecordNotification(string(n.Kind), "failed", elapsed)
			entry.WithError(err).Error("notification delivery failed permanently")
		} else {
			n.NextAttemptAt = d.now().UTC().Add(d.backoff(n.Attempts))
			metrics.RecordNotification(string(n.Kind), "retry", elapsed)
			entry.WithError(err).WithField("next_attempt_at", n.NextAttemptAt).Warn("notification delivery failed; will retry")
		}
		// Let the next round pick it up regardless of the claim TTL.
		_ = d.dedupe.Release(ctx, claim)
	}

	if _, uerr := d.store.UpdateNotification(ctx, n); uerr != nil {
		d.log.WithError(uerr).WithField("notification_id", n.ID).Error("failed to record notification outcome")
	}
	return err == nil
}

// backoff doubles the retry delay per attempt, capped at one hour.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.RetryDelay * 2
	for i := 1; i < attempts && delay < time.Hour; i++ {
		delay *= 2
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
