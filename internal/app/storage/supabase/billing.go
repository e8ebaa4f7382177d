package supabase

import (
	"context"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
)

// --- InvoiceStore -----------------------------------------------------------

func nonNilLines(lines []billing.Line) []billing.Line {
	if lines == nil {
		return []billing.Line{}
	}
	return lines
}

// CreateInvoice draws the next number from the tenant sequence before
// inserting. A failed insert burns the number.
func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	resp, err := s.rpc(ctx, "next_invoice_number", map[string]string{"tenant_id": inv.TenantID}, "invoice number")
	if err != nil {
		return billing.Invoice{}, err
	}
	var number string
	if err := resp.JSON(&number); err != nil {
		return billing.Invoice{}, err
	}
	inv.ID = newID(inv.ID)
	inv.Number = number
	inv.Lines = nonNilLines(inv.Lines)
	for i := range inv.Lines {
		inv.Lines[i].ID = newID(inv.Lines[i].ID)
	}
	inv.Recalculate()
	now := s.nowUTC()
	inv.Settle(now)
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if _, err := s.client.From("invoices").Insert(ctx, inv, sb.InsertOptions{}); err != nil {
		return billing.Invoice{}, mapErr(err, "invoice "+inv.Number)
	}
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, tenantID, id string) (billing.Invoice, error) {
	var inv billing.Invoice
	if err := one(ctx, s.client.From("invoices").Eq("tenant_id", tenantID).Eq("id", id), &inv, "invoice "+id); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) GetInvoiceByAppointment(ctx context.Context, tenantID, appointmentID string) (billing.Invoice, error) {
	if appointmentID == "" {
		return billing.Invoice{}, notFound("invoice for appointment")
	}
	var inv billing.Invoice
	q := s.client.From("invoices").Eq("tenant_id", tenantID).Eq("appointment_id", appointmentID)
	if err := one(ctx, q, &inv, "invoice for appointment "+appointmentID); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, tenantID string, filter storage.InvoiceFilter) ([]billing.Invoice, error) {
	q := s.client.From("invoices").Eq("tenant_id", tenantID)
	if filter.CustomerID != "" {
		q = q.Eq("customer_id", filter.CustomerID)
	}
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}
	result := []billing.Invoice{}
	if err := q.Order("number", true).Into(ctx, &result); err != nil {
		return nil, mapErr(err, "invoices")
	}
	return result, nil
}

func (s *Store) ListPayments(ctx context.Context, tenantID, invoiceID string) ([]billing.Payment, error) {
	result := []billing.Payment{}
	q := s.client.From("payments").Eq("tenant_id", tenantID).Eq("invoice_id", invoiceID).
		Order("created_at", true).Order("id", true)
	if err := q.Into(ctx, &result); err != nil {
		return nil, mapErr(err, "payments")
	}
	return result, nil
}

// --- Procedures: billing -----------------------------------------------------

func (s *Store) CreateCommissionInvoice(ctx context.Context, req billing.CommissionRequest) (billing.Invoice, bool, error) {
	resp, err := s.rpc(ctx, "create_commission_invoice", req, "invoice for appointment "+req.AppointmentID)
	if err != nil {
		return billing.Invoice{}, false, err
	}
	var inv billing.Invoice
	if err := decodeField(resp, "invoice", &inv); err != nil {
		return billing.Invoice{}, false, err
	}
	return inv, resp.Result().Get("created").Bool(), nil
}

func (s *Store) AddProductLine(ctx context.Context, req billing.ProductLineRequest) (billing.Invoice, error) {
	resp, err := s.rpc(ctx, "add_invoice_product_line", req, "invoice "+req.InvoiceID)
	if err != nil {
		return billing.Invoice{}, err
	}
	var inv billing.Invoice
	if err := resp.JSON(&inv); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) IssueInvoice(ctx context.Context, tenantID, invoiceID string, at time.Time) (billing.Invoice, error) {
	resp, err := s.rpc(ctx, "issue_invoice", map[string]any{
		"tenant_id":  tenantID,
		"invoice_id": invoiceID,
		"at":         at.UTC(),
	}, "invoice "+invoiceID)
	if err != nil {
		return billing.Invoice{}, err
	}
	var inv billing.Invoice
	if err := resp.JSON(&inv); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) RecordPayment(ctx context.Context, p billing.Payment) (billing.Invoice, billing.Payment, error) {
	p.ID = newID(p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.nowUTC()
	}
	resp, err := s.rpc(ctx, "record_invoice_payment", p, "invoice "+p.InvoiceID)
	if err != nil {
		return billing.Invoice{}, billing.Payment{}, err
	}
	var (
		inv billing.Invoice
		pay billing.Payment
	)
	if err := decodeField(resp, "invoice", &inv); err != nil {
		return billing.Invoice{}, billing.Payment{}, err
	}
	if err := decodeField(resp, "payment", &pay); err != nil {
		return billing.Invoice{}, billing.Payment{}, err
	}
	return inv, pay, nil
}

func (s *Store) VoidInvoice(ctx context.Context, tenantID, invoiceID, actorID string, at time.Time) (billing.Invoice, error) {
	resp, err := s.rpc(ctx, "void_invoice", map[string]any{
		"tenant_id":  tenantID,
		"invoice_id": invoiceID,
		"actor_id":   actorID,
		"at":         at.UTC(),
	}, "invoice "+invoiceID)
	if err != nil {
		return billing.Invoice{}, err
	}
	var inv billing.Invoice
	if err := resp.JSON(&inv); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}
