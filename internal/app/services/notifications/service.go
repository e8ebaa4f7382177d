// Package notifications owns the outbound notification queue: idempotent
// enqueueing, background delivery with retries, and the scheduled jobs that
// produce reminders and expire stale booking requests.
package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Service enqueues and lists notifications.
type Service struct {
	store storage.NotificationStore
	log   *logger.Logger
	now   func() time.Time
}

// New creates a notification service.
func New(store storage.NotificationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enqueue queues n for delivery unless its idempotency key was seen before.
// created is false for duplicates, in which case the stored notification is
// returned.
func (s *Service) Enqueue(ctx context.Context, n notification.Notification) (notification.Notification, bool, error) {
	n.IdempotencyKey = strings.TrimSpace(n.IdempotencyKey)
	if n.TenantID == "" {
		return notification.Notification{}, false, svcerrors.InvalidInput("tenant_id is required")
	}
	if n.Kind == "" {
		return notification.Notification{}, false, svcerrors.InvalidInput("kind is required")
	}
	if n.IdempotencyKey == "" {
		return notification.Notification{}, false, svcerrors.InvalidInput("idempotency_key is required")
	}
	if n.Recipient == (notification.Recipient{}) {
		return notification.Notification{}, false, svcerrors.InvalidInput("recipient is required")
	}
	n.ID = ""
	n.Status = notification.StatusPending
	n.Attempts = 0
	n.LastError = ""
	n.SentAt = nil
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = s.now().UTC()
	}

	stored, created, err := s.store.EnqueueNotification(ctx, n)
	if err != nil {
		return notification.Notification{}, false, storeerr.Translate(err, "notification", n.IdempotencyKey)
	}
	entry := s.log.WithField("tenant_id", n.TenantID).
		WithField("notification_id", stored.ID).
		WithField("kind", n.Kind).
		WithField("recipient", n.Recipient.ID())
	if created {
		entry.Info("notification enqueued")
	} else {
		entry.Debug("duplicate notification suppressed")
	}
	return stored, created, nil
}

// List returns the clinic's notifications. Staff only.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter notification.Filter) ([]notification.Notification, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		switch filter.Status {
		case notification.StatusPending, notification.StatusSent, notification.StatusFailed:
		default:
			return nil, svcerrors.InvalidInput("unknown status %q", filter.Status)
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	list, err := s.store.ListNotifications(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, storeerr.Translate(err, "notification", "")
	}
	return list, nil
}
