package notification

import (
	"strings"
	"time"
)

// Kind identifies the event a notification announces.
type Kind string

const (
	KindBookingReceived        Kind = "booking_received"
	KindAppointmentScheduled   Kind = "appointment_scheduled"
	KindAppointmentConfirmed   Kind = "appointment_confirmed"
	KindAppointmentRescheduled Kind = "appointment_rescheduled"
	KindAppointmentCancelled   Kind = "appointment_cancelled"
	KindAppointmentReminder    Kind = "appointment_reminder"
	KindAppointmentCompleted   Kind = "appointment_completed"
	KindInvoiceIssued          Kind = "invoice_issued"
)

// Status is the delivery state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Recipient addresses a notification. Exactly one of UserID or CustomerID is
// normally set; Role is set for staff broadcasts.
type Recipient struct {
	UserID     string `json:"user_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
}

// ID returns a stable identifier for the recipient used in idempotency keys.
func (r Recipient) ID() string {
	switch {
	case r.UserID != "":
		return "user:" + r.UserID
	case r.CustomerID != "":
		return "customer:" + r.CustomerID
	case r.Role != "":
		return "role:" + r.Role
	default:
		return "email:" + strings.ToLower(r.Email)
	}
}

// Notification is an outbound message queued for delivery.
type Notification struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	Kind           Kind              `json:"kind"`
	AppointmentID  string            `json:"appointment_id,omitempty"`
	InvoiceID      string            `json:"invoice_id,omitempty"`
	Recipient      Recipient         `json:"recipient"`
	IdempotencyKey string            `json:"idempotency_key"`
	Payload        map[string]string `json:"payload,omitempty"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
	CreatedAt      time.Time         `json:"created_at"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
}

// Key joins parts into an idempotency key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Filter narrows notification listings.
type Filter struct {
	AppointmentID string
	Status        Status
	Limit         int
}
