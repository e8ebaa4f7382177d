package billing

import (
	"fmt"
	"time"
)

// Status is an invoice's lifecycle state.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusIssued Status = "issued"
	StatusPaid   Status = "paid"
	StatusVoid   Status = "void"
)

// LineKind says what a line bills for.
type LineKind string

const (
	LineService LineKind = "service"
	LineProduct LineKind = "product"
)

// Line is one billed item.
type Line struct {
	ID             string   `json:"id"`
	Kind           LineKind `json:"kind"`
	RefID          string   `json:"ref_id"`
	Description    string   `json:"description"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	TotalCents     int64    `json:"total_cents"`
}

// Invoice bills a customer. CommissionCents is the platform's share of the
// subtotal at CommissionBps.
type Invoice struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	CustomerID      string     `json:"customer_id"`
	AppointmentID   string     `json:"appointment_id,omitempty"`
	Number          string     `json:"number"`
	Status          Status     `json:"status"`
	Lines           []Line     `json:"lines"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	CommissionBps   int        `json:"commission_bps"`
	CommissionCents int64      `json:"commission_cents"`
	PaidCents       int64      `json:"paid_cents"`
	IssuedAt        *time.Time `json:"issued_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	VoidedAt        *time.Time `json:"voided_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// BalanceCents is what remains to be paid.
func (i Invoice) BalanceCents() int64 {
	return i.SubtotalCents - i.PaidCents
}

// Open reports whether the invoice still accepts lines or payments.
func (i Invoice) Open() bool {
	return i.Status == StatusDraft || i.Status == StatusIssued
}

// Settle marks an issued invoice paid at at when nothing is owed.
func (i *Invoice) Settle(at time.Time) {
	if i.Status != StatusIssued || i.BalanceCents() != 0 {
		return
	}
	paid := at.UTC()
	i.Status = StatusPaid
	i.PaidAt = &paid
}

// Recalculate recomputes line totals, subtotal and commission.
func (i *Invoice) Recalculate() {
	var subtotal int64
	for idx := range i.Lines {
		line := &i.Lines[idx]
		line.TotalCents = line.UnitPriceCents * int64(line.Quantity)
		subtotal += line.TotalCents
	}
	i.SubtotalCents = subtotal
	i.CommissionCents = Commission(subtotal, i.CommissionBps)
}

// Commission computes subtotal*bps/10000 rounded half up.
func Commission(subtotal int64, bps int) int64 {
	if subtotal <= 0 || bps <= 0 {
		return 0
	}
	return (subtotal*int64(bps) + 5000) / 10000
}

// FormatNumber renders the per-tenant invoice sequence.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("INV-%06d", seq)
}

// Payment records money received against an invoice.
type Payment struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	InvoiceID   string    `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	Reference   string    `json:"reference,omitempty"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommissionRequest is the input of the commission invoicing procedure. It is
// idempotent on (TenantID, AppointmentID).
type CommissionRequest struct {
	TenantID      string    `json:"tenant_id"`
	AppointmentID string    `json:"appointment_id"`
	CustomerID    string    `json:"customer_id"`
	CommissionBps int       `json:"commission_bps"`
	Lines         []Line    `json:"lines"`
	At            time.Time `json:"at"`
}

// ProductLineRequest adds a product line to an invoice and draws stock.
type ProductLineRequest struct {
	TenantID  string    `json:"tenant_id"`
	InvoiceID string    `json:"invoice_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
}
