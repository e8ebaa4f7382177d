package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
)

// --- NotificationStore ------------------------------------------------------

type notificationRow struct {
	ID             string     `db:"id"`
	TenantID       string     `db:"tenant_id"`
	Kind           string     `db:"kind"`
	AppointmentID  string     `db:"appointment_id"`
	InvoiceID      string     `db:"invoice_id"`
	Recipient      []byte     `db:"recipient"`
	IdempotencyKey string     `db:"idempotency_key"`
	Payload        []byte     `db:"payload"`
	Status         string     `db:"status"`
	Attempts       int        `db:"attempts"`
	LastError      string     `db:"last_error"`
	NextAttemptAt  time.Time  `db:"next_attempt_at"`
	CreatedAt      time.Time  `db:"created_at"`
	SentAt         *time.Time `db:"sent_at"`
}

func (r notificationRow) model() notification.Notification {
	n := notification.Notification{
		ID:             r.ID,
		TenantID:       r.TenantID,
		Kind:           notification.Kind(r.Kind),
		AppointmentID:  r.AppointmentID,
		InvoiceID:      r.InvoiceID,
		IdempotencyKey: r.IdempotencyKey,
		Status:         notification.Status(r.Status),
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		NextAttemptAt:  r.NextAttemptAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		SentAt:         utcPtr(r.SentAt),
	}
	_ = json.Unmarshal(r.Recipient, &n.Recipient)
	if len(r.Payload) > 0 {
		_ = json.Unmarshal(r.Payload, &n.Payload)
	}
	return n
}

const notificationColumns = `id, tenant_id, kind, appointment_id, invoice_id, recipient, idempotency_key,
	payload, status, attempts, last_error, next_attempt_at, created_at, sent_at`

// EnqueueNotification relies on the unique idempotency key index: a losing
// insert returns no row and the existing notification is read back.
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
	recipient, err := json.Marshal(n.Recipient)
	if err != nil {
		return notification.Notification{}, false, err
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return notification.Notification{}, false, err
	}

	var rows []notificationRow
	err = s.db.SelectContext(ctx, &rows, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+notificationColumns,
		n.ID, n.TenantID, string(n.Kind), n.AppointmentID, n.InvoiceID, recipient, n.IdempotencyKey,
		payload, string(n.Status), n.Attempts, n.LastError, n.NextAttemptAt.UTC(), n.CreatedAt, n.SentAt)
	if err != nil {
		return notification.Notification{}, false, mapErr(err, "notification "+n.IdempotencyKey)
	}
	if len(rows) == 1 {
		return rows[0].model(), true, nil
	}

	var existing notificationRow
	if err := s.db.GetContext(ctx, &existing, `SELECT `+notificationColumns+` FROM notifications WHERE idempotency_key = $1`, n.IdempotencyKey); err != nil {
		return notification.Notification{}, false, mapErr(err, "notification "+n.IdempotencyKey)
	}
	return existing.model(), false, nil
}

func (s *Store) UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE notifications
		SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, sent_at = $6
		WHERE id = $1
		RETURNING `+notificationColumns, n.ID, string(n.Status), n.Attempts, n.LastError, n.NextAttemptAt.UTC(), n.SentAt)
	if err != nil {
		return notification.Notification{}, mapErr(err, "notification "+n.ID)
	}
	return row.model(), nil
}

func (s *Store) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at, id
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return notificationModels(rows), nil
}

func (s *Store) ListNotifications(ctx context.Context, tenantID string, filter notification.Filter) ([]notification.Notification, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.AppointmentID != "" {
		args = append(args, filter.AppointmentID)
		where = append(where, fmt.Sprintf("appointment_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return notificationModels(rows), nil
}

func notificationModels(rows []notificationRow) []notification.Notification {
	result := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result
}
