package notifications

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/system"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

var _ system.Service = (*BookingListener)(nil)

// ChangeSource streams database changes.
type ChangeSource interface {
	Listen(ctx context.Context, sub sb.Subscription, handler sb.ChangeHandler) error
}

// BookingNotifier announces new booking requests to clinic staff.
type BookingNotifier interface {
	NotifyBookingReceived(ctx context.Context, a appointment.Appointment)
}

// BookingSubscription matches booking requests inserted into the hosted
// database, including rows written by clients that bypass the API.
var BookingSubscription = sb.Subscription{
	Event:  "INSERT",
	Schema: "public",
	Table:  "appointments",
	Filter: "status=eq." + string(appointment.StatusPendingScheduling),
}

// BookingListener turns realtime appointment inserts into booking-received
// notifications. Requests submitted through the API are announced twice;
// the notification idempotency key collapses them.
type BookingListener struct {
	source   ChangeSource
	notifier BookingNotifier
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewBookingListener wires a change source to the notifier.
func NewBookingListener(source ChangeSource, notifier BookingNotifier, log *logger.Logger) *BookingListener {
	if log == nil {
		log = logger.NewDefault("booking-listener")
	}
	return &BookingListener{source: source, notifier: notifier, log: log}
}

func (l *BookingListener) Name() string { return "booking-listener" }

func (l *BookingListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go func(done chan struct{}) {
		defer close(done)
		if err := l.source.Listen(runCtx, BookingSubscription, l.Handle); err != nil {
			l.log.WithError(err).Error("booking listener exited")
		}
	}(l.done)
	l.log.WithField("table", BookingSubscription.Table).Info("booking listener started")
	return nil
}

func (l *BookingListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel, done := l.cancel, l.done
	l.running = false
	l.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.log.Info("booking listener stopped")
	return nil
}

// Handle processes one change. Rows that are not pending booking requests
// are ignored.
func (l *BookingListener) Handle(ctx context.Context, change sb.Change) {
	if change.Type != "INSERT" || !change.Record.Exists() {
		return
	}
	var a appointment.Appointment
	if err := json.Unmarshal([]byte(change.Record.Raw), &a); err != nil {
		l.log.WithError(err).Warn("undecodable appointment change")
		return
	}
	if a.ID == "" || a.TenantID == "" || a.Status != appointment.StatusPendingScheduling {
		return
	}
	l.log.WithField("tenant_id", a.TenantID).
		WithField("appointment_id", a.ID).
		Debug("booking request observed")
	l.notifier.NotifyBookingReceived(ctx, a)
}
