package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/httputil"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n notification.Notification) error
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent delivery failure: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// webhookPayload is the body posted to the delivery endpoint.
type webhookPayload struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	Kind          notification.Kind      `json:"kind"`
	AppointmentID string                 `json:"appointment_id,omitempty"`
	InvoiceID     string                 `json:"invoice_id,omitempty"`
	Recipient     notification.Recipient `json:"recipient"`
	Data          map[string]string      `json:"data,omitempty"`
	Attempt       int                    `json:"attempt"`
	CreatedAt     time.Time              `json:"created_at"`
}

// WebhookSender posts notifications to an HTTP endpoint that fans them out to
// email, SMS or push. Bodies are HMAC signed.
type WebhookSender struct {
	client *httputil.SignedClient
}

// NewWebhookSender creates a sender for endpoint.
func NewWebhookSender(endpoint, secret string, timeout time.Duration) (*WebhookSender, error) {
	client, err := httputil.NewSignedClient(httputil.SignedClientConfig{
		Endpoint: endpoint,
		Secret:   secret,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	return &WebhookSender{client: client}, nil
}

func (w *WebhookSender) Send(ctx context.Context, n notification.Notification) error {
	err := w.client.Post(ctx, webhookPayload{
		ID:            n.ID,
		TenantID:      n.TenantID,
		Kind:          n.Kind,
		AppointmentID: n.AppointmentID,
		InvoiceID:     n.InvoiceID,
		Recipient:     n.Recipient,
		Data:          n.Payload,
		Attempt:       n.Attempts + 1,
		CreatedAt:     n.CreatedAt,
	}, map[string]string{"Idempotency-Key": n.IdempotencyKey})
	var se *httputil.StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return &PermanentError{Err: err}
	}
	return err
}

// LogSender writes notifications to the log. It is used when no webhook is
// configured.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &LogSender{log: log}
}

func (l *LogSender) Send(_ context.Context, n notification.Notification) error {
	l.log.WithField("tenant_id", n.TenantID).
		WithField("notification_id", n.ID).
		WithField("kind", n.Kind).
		WithField("recipient", n.Recipient.ID()).
		WithField("appointment_id", n.AppointmentID).
		Info("notification delivered to log")
	return nil
}
