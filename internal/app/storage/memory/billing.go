package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// InvoiceStore implementation -------------------------------------------------

func (s *Store) CreateInvoice(_ context.Context, inv billing.Invoice) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv = s.insertInvoiceLocked(inv, s.nowUTC())
	return cloneInvoice(inv), nil
}

func (s *Store) insertInvoiceLocked(inv billing.Invoice, at time.Time) billing.Invoice {
	if inv.ID == "" {
		inv.ID = s.nextIDLocked()
	}
	s.invoiceSeq[inv.TenantID]++
	inv.Number = billing.FormatNumber(s.invoiceSeq[inv.TenantID])
	for i := range inv.Lines {
		if inv.Lines[i].ID == "" {
			inv.Lines[i].ID = s.nextIDLocked()
		}
	}
	inv.Recalculate()
	inv.Settle(at)
	inv.CreatedAt = at
	inv.UpdatedAt = at
	inv = cloneInvoice(inv)
	s.invoices[inv.ID] = inv
	return inv
}

func (s *Store) GetInvoice(_ context.Context, tenantID, id string) (billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return billing.Invoice{}, fmt.Errorf("invoice %s: %w", id, storage.ErrNotFound)
	}
	return cloneInvoice(inv), nil
}

func (s *Store) GetInvoiceByAppointment(_ context.Context, tenantID, appointmentID string) (billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoiceForAppointmentLocked(tenantID, appointmentID); ok {
		return cloneInvoice(inv), nil
	}
	return billing.Invoice{}, fmt.Errorf("invoice for appointment %s: %w", appointmentID, storage.ErrNotFound)
}

func (s *Store) invoiceForAppointmentLocked(tenantID, appointmentID string) (billing.Invoice, bool) {
	for _, inv := range s.invoices {
		if inv.TenantID == tenantID && inv.AppointmentID == appointmentID {
			return inv, true
		}
	}
	return billing.Invoice{}, false
}

func (s *Store) ListInvoices(_ context.Context, tenantID string, filter storage.InvoiceFilter) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]billing.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.TenantID != tenantID {
			continue
		}
		if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		result = append(result, cloneInvoice(inv))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (s *Store) ListPayments(_ context.Context, tenantID, invoiceID string) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]billing.Payment, 0)
	for _, p := range s.payments {
		if p.TenantID == tenantID && p.InvoiceID == invoiceID {
			result = append(result, p)
		}
	}
	return result, nil
}

// Procedures implementation: billing and stock --------------------------------

func (s *Store) CreateCommissionInvoice(_ context.Context, req billing.CommissionRequest) (billing.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, created, err := s.commissionInvoiceLocked(req)
	if err != nil {
		return billing.Invoice{}, false, err
	}
	return cloneInvoice(inv), created, nil
}

func (s *Store) commissionInvoiceLocked(req billing.CommissionRequest) (billing.Invoice, bool, error) {
	if existing, ok := s.invoiceForAppointmentLocked(req.TenantID, req.AppointmentID); ok {
		return existing, false, nil
	}
	if len(req.Lines) == 0 {
		return billing.Invoice{}, false, fmt.Errorf("commission invoice requires at least one line")
	}
	at := req.At.UTC()
	inv := billing.Invoice{
		TenantID:      req.TenantID,
		CustomerID:    req.CustomerID,
		AppointmentID: req.AppointmentID,
		Status:        billing.StatusIssued,
		Lines:         append([]billing.Line(nil), req.Lines...),
		CommissionBps: req.CommissionBps,
		IssuedAt:      &at,
	}
	return s.insertInvoiceLocked(inv, at), true, nil
}

func (s *Store) AdjustStock(_ context.Context, adj inventory.Adjustment) (inventory.Product, inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustStockLocked(adj)
}

func (s *Store) adjustStockLocked(adj inventory.Adjustment) (inventory.Product, inventory.Movement, error) {
	product, ok := s.products[adj.ProductID]
	if !ok || product.TenantID != adj.TenantID {
		return inventory.Product{}, inventory.Movement{}, fmt.Errorf("product %s: %w", adj.ProductID, storage.ErrNotFound)
	}
	next := product.Stock + adj.Delta
	if next < 0 {
		return inventory.Product{}, inventory.Movement{}, fmt.Errorf("product %s has %d: %w", product.ID, product.Stock, storage.ErrInsufficientStock)
	}
	at := adj.At.UTC()
	product.Stock = next
	product.UpdatedAt = at
	s.products[product.ID] = product

	mv := inventory.Movement{
		ID:         s.nextIDLocked(),
		TenantID:   adj.TenantID,
		ProductID:  product.ID,
		Delta:      adj.Delta,
		Reason:     adj.Reason,
		RefID:      adj.RefID,
		ActorID:    adj.ActorID,
		StockAfter: next,
		CreatedAt:  at,
	}
	s.movements = append(s.movements, mv)
	return product, mv, nil
}

func (s *Store) AddProductLine(_ context.Context, req billing.ProductLineRequest) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[req.InvoiceID]
	if !ok || inv.TenantID != req.TenantID {
		return billing.Invoice{}, fmt.Errorf("invoice %s: %w", req.InvoiceID, storage.ErrNotFound)
	}
	if !inv.Open() {
		return billing.Invoice{}, fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
	}
	product, _, err := s.adjustStockLocked(inventory.Adjustment{
		TenantID:  req.TenantID,
		ProductID: req.ProductID,
		Delta:     -req.Quantity,
		Reason:    inventory.ReasonSale,
		RefID:     inv.ID,
		ActorID:   req.ActorID,
		At:        req.At,
	})
	if err != nil {
		return billing.Invoice{}, err
	}

	inv = cloneInvoice(inv)
	inv.Lines = append(inv.Lines, billing.Line{
		ID:             s.nextIDLocked(),
		Kind:           billing.LineProduct,
		RefID:          product.ID,
		Description:    product.Name,
		Quantity:       req.Quantity,
		UnitPriceCents: product.PriceCents,
	})
	inv.Recalculate()
	inv.UpdatedAt = req.At.UTC()
	s.invoices[inv.ID] = inv
	return cloneInvoice(inv), nil
}

func (s *Store) IssueInvoice(_ context.Context, tenantID, invoiceID string, at time.Time) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return billing.Invoice{}, fmt.Errorf("invoice %s: %w", invoiceID, storage.ErrNotFound)
	}
	if inv.Status != billing.StatusDraft {
		return billing.Invoice{}, fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
	}
	if len(inv.Lines) == 0 {
		return billing.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, storage.ErrEmptyInvoice)
	}

	at = at.UTC()
	inv = cloneInvoice(inv)
	inv.Status = billing.StatusIssued
	inv.IssuedAt = &at
	inv.UpdatedAt = at
	inv.Settle(at)
	s.invoices[inv.ID] = inv
	return cloneInvoice(inv), nil
}

func (s *Store) RecordPayment(_ context.Context, p billing.Payment) (billing.Invoice, billing.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[p.InvoiceID]
	if !ok || inv.TenantID != p.TenantID {
		return billing.Invoice{}, billing.Payment{}, fmt.Errorf("invoice %s: %w", p.InvoiceID, storage.ErrNotFound)
	}
	if inv.Status != billing.StatusIssued {
		return billing.Invoice{}, billing.Payment{}, fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
	}
	if p.AmountCents > inv.BalanceCents() {
		return billing.Invoice{}, billing.Payment{}, fmt.Errorf("balance %d: %w", inv.BalanceCents(), storage.ErrOverpayment)
	}

	at := p.CreatedAt.UTC()
	p.ID = s.nextIDLocked()
	p.CreatedAt = at
	s.payments = append(s.payments, p)

	inv = cloneInvoice(inv)
	inv.PaidCents += p.AmountCents
	if inv.BalanceCents() == 0 {
		inv.Status = billing.StatusPaid
		inv.PaidAt = &at
	}
	inv.UpdatedAt = at
	s.invoices[inv.ID] = inv
	return cloneInvoice(inv), p, nil
}

func (s *Store) VoidInvoice(_ context.Context, tenantID, invoiceID, actorID string, at time.Time) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return billing.Invoice{}, fmt.Errorf("invoice %s: %w", invoiceID, storage.ErrNotFound)
	}
	if !inv.Open() || inv.PaidCents > 0 {
		return billing.Invoice{}, fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
	}

	// Validate every restock before touching any product.
	for _, line := range inv.Lines {
		if line.Kind != billing.LineProduct {
			continue
		}
		if p, ok := s.products[line.RefID]; !ok || p.TenantID != tenantID {
			return billing.Invoice{}, fmt.Errorf("product %s: %w", line.RefID, storage.ErrNotFound)
		}
	}
	for _, line := range inv.Lines {
		if line.Kind != billing.LineProduct {
			continue
		}
		if _, _, err := s.adjustStockLocked(inventory.Adjustment{
			TenantID:  tenantID,
			ProductID: line.RefID,
			Delta:     line.Quantity,
			Reason:    inventory.ReasonVoid,
			RefID:     inv.ID,
			ActorID:   actorID,
			At:        at,
		}); err != nil {
			return billing.Invoice{}, err
		}
	}

	at = at.UTC()
	inv = cloneInvoice(inv)
	inv.Status = billing.StatusVoid
	inv.VoidedAt = &at
	inv.UpdatedAt = at
	s.invoices[inv.ID] = inv
	return cloneInvoice(inv), nil
}

func cloneInvoice(inv billing.Invoice) billing.Invoice {
	inv.Lines = append([]billing.Line(nil), inv.Lines...)
	inv.IssuedAt = cloneTime(inv.IssuedAt)
	inv.PaidAt = cloneTime(inv.PaidAt)
	inv.VoidedAt = cloneTime(inv.VoidedAt)
	return inv
}
