package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// NotificationStore implementation --------------------------------------------

func (s *Store) EnqueueNotification(_ context.Context, n notification.Notification) (notification.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.IdempotencyKey == "" {
		return notification.Notification{}, false, fmt.Errorf("idempotency key is required")
	}
	if id, ok := s.notifByKey[n.IdempotencyKey]; ok {
		return cloneNotification(s.notifications[id]), false, nil
	}
	n.ID = s.nextIDLocked()
	now := s.nowUTC()
	n.CreatedAt = now
	if n.Status == "" {
		n.Status = notification.StatusPending
	}
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = now
	}
	n = cloneNotification(n)
	s.notifications[n.ID] = n
	s.notifByKey[n.IdempotencyKey] = n.ID
	return cloneNotification(n), true, nil
}

func (s *Store) UpdateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.notifications[n.ID]
	if !ok {
		return notification.Notification{}, fmt.Errorf("notification %s: %w", n.ID, storage.ErrNotFound)
	}
	n.IdempotencyKey = original.IdempotencyKey
	n.CreatedAt = original.CreatedAt
	n = cloneNotification(n)
	s.notifications[n.ID] = n
	return cloneNotification(n), nil
}

func (s *Store) ListDueNotifications(_ context.Context, now time.Time, limit int) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notification.Notification, 0)
	for _, n := range s.notifications {
		if n.Status == notification.StatusPending && !n.NextAttemptAt.After(now) {
			result = append(result, cloneNotification(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].NextAttemptAt.Equal(result[j].NextAttemptAt) {
			return result[i].NextAttemptAt.Before(result[j].NextAttemptAt)
		}
		return idLess(result[i].ID, result[j].ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListNotifications(_ context.Context, tenantID string, filter notification.Filter) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notification.Notification, 0)
	for _, n := range s.notifications {
		if n.TenantID != tenantID {
			continue
		}
		if filter.AppointmentID != "" && n.AppointmentID != filter.AppointmentID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		result = append(result, cloneNotification(n))
	}
	sort.Slice(result, func(i, j int) bool { return idLess(result[i].ID, result[j].ID) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func cloneNotification(n notification.Notification) notification.Notification {
	if n.Payload != nil {
		payload := make(map[string]string, len(n.Payload))
		for k, v := range n.Payload {
			payload[k] = v
		}
		n.Payload = payload
	}
	n.SentAt = cloneTime(n.SentAt)
	return n
}
