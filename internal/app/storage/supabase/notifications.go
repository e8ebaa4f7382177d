package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
)

// --- NotificationStore ------------------------------------------------------

// EnqueueNotification upserts with ignore-duplicates on the idempotency key.
// PostgREST returns an empty representation for the losing insert, so the
// existing row is read back.
func (s *Store) EnqueueNotification(ctx context.Context, n notification.Notification) (notification.Notification, bool, error) {
	if n.IdempotencyKey == "" {
		return notification.Notification{}, false, fmt.Errorf("idempotency key is required")
	}
	n.ID = newID(n.ID)
	now := s.nowUTC()
	n.CreatedAt = now
	if n.Status == "" {
		n.Status = notification.StatusPending
	}
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = now
	}
	n.NextAttemptAt = n.NextAttemptAt.UTC()

	what := "notification " + n.IdempotencyKey
	resp, err := s.client.From("notifications").Insert(ctx, n, sb.InsertOptions{
		OnConflict:       "idempotency_key",
		IgnoreDuplicates: true,
	})
	if err != nil {
		return notification.Notification{}, false, mapErr(err, what)
	}
	var rows []notification.Notification
	if err := resp.JSON(&rows); err != nil {
		return notification.Notification{}, false, fmt.Errorf("%s: decode: %w", what, err)
	}
	if len(rows) == 1 {
		return rows[0], true, nil
	}

	var existing notification.Notification
	if err := one(ctx, s.client.From("notifications").Eq("idempotency_key", n.IdempotencyKey), &existing, what); err != nil {
		return notification.Notification{}, false, err
	}
	return existing, false, nil
}

func (s *Store) UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	resp, err := s.client.From("notifications").Eq("id", n.ID).Update(ctx, map[string]any{
		"status":          n.Status,
		"attempts":        n.Attempts,
		"last_error":      n.LastError,
		"next_attempt_at": n.NextAttemptAt.UTC(),
		"sent_at":         utcPtr(n.SentAt),
	})
	if err != nil {
		return notification.Notification{}, mapErr(err, "notification "+n.ID)
	}
	var out notification.Notification
	if err := firstRow(resp, &out, "notification "+n.ID); err != nil {
		return notification.Notification{}, err
	}
	return out, nil
}

func (s *Store) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	result := []notification.Notification{}
	q := s.client.From("notifications").
		Eq("status", string(notification.StatusPending)).
		Lte("next_attempt_at", now).
		Order("next_attempt_at", true).Order("id", true).
		Limit(limit)
	if err := q.Into(ctx, &result); err != nil {
		return nil, mapErr(err, "due notifications")
	}
	return result, nil
}

func (s *Store) ListNotifications(ctx context.Context, tenantID string, filter notification.Filter) ([]notification.Notification, error) {
	q := s.client.From("notifications").Eq("tenant_id", tenantID)
	if filter.AppointmentID != "" {
		q = q.Eq("appointment_id", filter.AppointmentID)
	}
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	result := []notification.Notification{}
	if err := q.Order("created_at", true).Order("id", true).Into(ctx, &result); err != nil {
		return nil, mapErr(err, "notifications")
	}
	return result, nil
}
