package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// --- InvoiceStore -----------------------------------------------------------

type invoiceRow struct {
	ID              string     `db:"id"`
	TenantID        string     `db:"tenant_id"`
	CustomerID      string     `db:"customer_id"`
	AppointmentID   string     `db:"appointment_id"`
	Number          string     `db:"number"`
	Status          string     `db:"status"`
	Lines           []byte     `db:"lines"`
	SubtotalCents   int64      `db:"subtotal_cents"`
	CommissionBps   int        `db:"commission_bps"`
	CommissionCents int64      `db:"commission_cents"`
	PaidCents       int64      `db:"paid_cents"`
	IssuedAt        *time.Time `db:"issued_at"`
	PaidAt          *time.Time `db:"paid_at"`
	VoidedAt        *time.Time `db:"voided_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r invoiceRow) model() billing.Invoice {
	inv := billing.Invoice{
		ID:              r.ID,
		TenantID:        r.TenantID,
		CustomerID:      r.CustomerID,
		AppointmentID:   r.AppointmentID,
		Number:          r.Number,
		Status:          billing.Status(r.Status),
		SubtotalCents:   r.SubtotalCents,
		CommissionBps:   r.CommissionBps,
		CommissionCents: r.CommissionCents,
		PaidCents:       r.PaidCents,
		IssuedAt:        utcPtr(r.IssuedAt),
		PaidAt:          utcPtr(r.PaidAt),
		VoidedAt:        utcPtr(r.VoidedAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if len(r.Lines) > 0 {
		_ = json.Unmarshal(r.Lines, &inv.Lines)
	}
	return inv
}

const invoiceColumns = `id, tenant_id, customer_id, appointment_id, number, status, lines, subtotal_cents,
	commission_bps, commission_cents, paid_cents, issued_at, paid_at, voided_at, created_at, updated_at`

func nextInvoiceNumber(ctx context.Context, tx *sqlx.Tx, tenantID string) (string, error) {
	var seq int64
	err := tx.GetContext(ctx, &seq, `
		INSERT INTO invoice_sequences (tenant_id, last_value) VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value
	`, tenantID)
	if err != nil {
		return "", mapErr(err, "invoice sequence "+tenantID)
	}
	return billing.FormatNumber(seq), nil
}

func insertInvoiceTx(ctx context.Context, tx *sqlx.Tx, inv billing.Invoice, at time.Time) (billing.Invoice, error) {
	inv.ID = newID(inv.ID)
	number, err := nextInvoiceNumber(ctx, tx, inv.TenantID)
	if err != nil {
		return billing.Invoice{}, err
	}
	inv.Number = number
	for i := range inv.Lines {
		inv.Lines[i].ID = newID(inv.Lines[i].ID)
	}
	inv.Recalculate()
	inv.Settle(at)
	inv.CreatedAt = at
	inv.UpdatedAt = at

	lines, err := json.Marshal(nonNilLines(inv.Lines))
	if err != nil {
		return billing.Invoice{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, inv.ID, inv.TenantID, inv.CustomerID, inv.AppointmentID, inv.Number, string(inv.Status), lines,
		inv.SubtotalCents, inv.CommissionBps, inv.CommissionCents, inv.PaidCents,
		inv.IssuedAt, inv.PaidAt, inv.VoidedAt, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return billing.Invoice{}, mapErr(err, "invoice "+inv.Number)
	}
	return inv, nil
}

func saveInvoiceTx(ctx context.Context, ext sqlx.ExtContext, inv billing.Invoice) error {
	lines, err := json.Marshal(nonNilLines(inv.Lines))
	if err != nil {
		return err
	}
	result, err := ext.ExecContext(ctx, `
		UPDATE invoices
		SET status = $3, lines = $4, subtotal_cents = $5, commission_bps = $6, commission_cents = $7,
		    paid_cents = $8, issued_at = $9, paid_at = $10, voided_at = $11, updated_at = $12
		WHERE tenant_id = $1 AND id = $2
	`, inv.TenantID, inv.ID, string(inv.Status), lines, inv.SubtotalCents, inv.CommissionBps,
		inv.CommissionCents, inv.PaidCents, inv.IssuedAt, inv.PaidAt, inv.VoidedAt, inv.UpdatedAt)
	if err != nil {
		return mapErr(err, "invoice "+inv.ID)
	}
	return requireAffected(result, "invoice "+inv.ID)
}

func nonNilLines(lines []billing.Line) []billing.Line {
	if lines == nil {
		return []billing.Line{}
	}
	return lines
}

func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	var result billing.Invoice
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		result, err = insertInvoiceTx(ctx, tx, inv, s.nowUTC())
		return err
	})
	if err != nil {
		return billing.Invoice{}, err
	}
	return result, nil
}

func (s *Store) GetInvoice(ctx context.Context, tenantID, id string) (billing.Invoice, error) {
	var row invoiceRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
		return billing.Invoice{}, mapErr(err, "invoice "+id)
	}
	return row.model(), nil
}

func (s *Store) GetInvoiceByAppointment(ctx context.Context, tenantID, appointmentID string) (billing.Invoice, error) {
	var row invoiceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE tenant_id = $1 AND appointment_id = $2 AND appointment_id <> ''
	`, tenantID, appointmentID)
	if err != nil {
		return billing.Invoice{}, mapErr(err, "invoice for appointment "+appointmentID)
	}
	return row.model(), nil
}

func (s *Store) ListInvoices(ctx context.Context, tenantID string, filter storage.InvoiceFilter) ([]billing.Invoice, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	var rows []invoiceRow
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + strings.Join(where, " AND ") + ` ORDER BY number`
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]billing.Invoice, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

type paymentRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	InvoiceID   string    `db:"invoice_id"`
	AmountCents int64     `db:"amount_cents"`
	Method      string    `db:"method"`
	Reference   string    `db:"reference"`
	ActorID     string    `db:"actor_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) ListPayments(ctx context.Context, tenantID, invoiceID string) ([]billing.Payment, error) {
	var rows []paymentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, invoice_id, amount_cents, method, reference, actor_id, created_at
		FROM payments
		WHERE tenant_id = $1 AND invoice_id = $2
		ORDER BY created_at, id
	`, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	result := make([]billing.Payment, 0, len(rows))
	for _, r := range rows {
		result = append(result, billing.Payment{
			ID:          r.ID,
			TenantID:    r.TenantID,
			InvoiceID:   r.InvoiceID,
			AmountCents: r.AmountCents,
			Method:      r.Method,
			Reference:   r.Reference,
			ActorID:     r.ActorID,
			CreatedAt:   r.CreatedAt.UTC(),
		})
	}
	return result, nil
}

// --- Procedures: billing and stock --------------------------------------------

func lockInvoice(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (billing.Invoice, error) {
	var row invoiceRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, id)
	if err != nil {
		return billing.Invoice{}, mapErr(err, "invoice "+id)
	}
	return row.model(), nil
}

// commissionInvoiceTx locks the appointment row so concurrent callers queue
// up and the second sees the first one's invoice.
func commissionInvoiceTx(ctx context.Context, tx *sqlx.Tx, req billing.CommissionRequest) (billing.Invoice, bool, error) {
	var locked string
	if err := tx.GetContext(ctx, &locked, `
		SELECT id FROM appointments WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, req.TenantID, req.AppointmentID); err != nil {
		return billing.Invoice{}, false, mapErr(err, "appointment "+req.AppointmentID)
	}

	var row invoiceRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = $1 AND appointment_id = $2
	`, req.TenantID, req.AppointmentID)
	if err == nil {
		return row.model(), false, nil
	}
	if mapped := mapErr(err, "invoice"); !storageNotFound(mapped) {
		return billing.Invoice{}, false, mapped
	}

	if len(req.Lines) == 0 {
		return billing.Invoice{}, false, fmt.Errorf("commission invoice requires at least one line")
	}
	at := req.At.UTC()
	inv, err := insertInvoiceTx(ctx, tx, billing.Invoice{
		TenantID:      req.TenantID,
		CustomerID:    req.CustomerID,
		AppointmentID: req.AppointmentID,
		Status:        billing.StatusIssued,
		Lines:         append([]billing.Line(nil), req.Lines...),
		CommissionBps: req.CommissionBps,
		IssuedAt:      &at,
	}, at)
	if err != nil {
		return billing.Invoice{}, false, err
	}
	return inv, true, nil
}

func (s *Store) CreateCommissionInvoice(ctx context.Context, req billing.CommissionRequest) (billing.Invoice, bool, error) {
	var (
		inv     billing.Invoice
		created bool
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		inv, created, err = commissionInvoiceTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return billing.Invoice{}, false, err
	}
	return inv, created, nil
}

// adjustStockTx applies the delta with a guarded UPDATE so stock never goes
// negative, then records the movement.
func adjustStockTx(ctx context.Context, tx *sqlx.Tx, adj inventory.Adjustment) (inventory.Product, inventory.Movement, error) {
	at := adj.At.UTC()
	var row productRow
	err := tx.GetContext(ctx, &row, `
		UPDATE products SET stock = stock + $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND stock + $3 >= 0
		RETURNING `+productColumns, adj.TenantID, adj.ProductID, adj.Delta, at)
	if err != nil {
		mapped := mapErr(err, "product "+adj.ProductID)
		if !storageNotFound(mapped) {
			return inventory.Product{}, inventory.Movement{}, mapped
		}
		var stock int
		if err := tx.GetContext(ctx, &stock, `SELECT stock FROM products WHERE tenant_id = $1 AND id = $2`, adj.TenantID, adj.ProductID); err != nil {
			return inventory.Product{}, inventory.Movement{}, mapErr(err, "product "+adj.ProductID)
		}
		return inventory.Product{}, inventory.Movement{}, fmt.Errorf("product %s has %d: %w", adj.ProductID, stock, storage.ErrInsufficientStock)
	}
	product := row.model()

	mv := inventory.Movement{
		ID:         newID(""),
		TenantID:   adj.TenantID,
		ProductID:  product.ID,
		Delta:      adj.Delta,
		Reason:     adj.Reason,
		RefID:      adj.RefID,
		ActorID:    adj.ActorID,
		StockAfter: product.Stock,
		CreatedAt:  at,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, tenant_id, product_id, delta, reason, ref_id, actor_id, stock_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, mv.ID, mv.TenantID, mv.ProductID, mv.Delta, string(mv.Reason), mv.RefID, mv.ActorID, mv.StockAfter, mv.CreatedAt)
	if err != nil {
		return inventory.Product{}, inventory.Movement{}, mapErr(err, "stock movement "+product.ID)
	}
	return product, mv, nil
}

func (s *Store) AdjustStock(ctx context.Context, adj inventory.Adjustment) (inventory.Product, inventory.Movement, error) {
	var (
		product inventory.Product
		mv      inventory.Movement
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		product, mv, err = adjustStockTx(ctx, tx, adj)
		return err
	})
	if err != nil {
		return inventory.Product{}, inventory.Movement{}, err
	}
	return product, mv, nil
}

func (s *Store) AddProductLine(ctx context.Context, req billing.ProductLineRequest) (billing.Invoice, error) {
	var result billing.Invoice
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := lockInvoice(ctx, tx, req.TenantID, req.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.Open() {
			return fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
		}
		product, _, err := adjustStockTx(ctx, tx, inventory.Adjustment{
			TenantID:  req.TenantID,
			ProductID: req.ProductID,
			Delta:     -req.Quantity,
			Reason:    inventory.ReasonSale,
			RefID:     inv.ID,
			ActorID:   req.ActorID,
			At:        req.At,
		})
		if err != nil {
			return err
		}
		inv.Lines = append(inv.Lines, billing.Line{
			ID:             newID(""),
			Kind:           billing.LineProduct,
			RefID:          product.ID,
			Description:    product.Name,
			Quantity:       req.Quantity,
			UnitPriceCents: product.PriceCents,
		})
		inv.Recalculate()
		inv.UpdatedAt = req.At.UTC()
		if err := saveInvoiceTx(ctx, tx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return billing.Invoice{}, err
	}
	return result, nil
}

// IssueInvoice only writes the status columns so lines appended by a
// concurrent AddProductLine, which waits on the same row lock, survive.
func (s *Store) IssueInvoice(ctx context.Context, tenantID, invoiceID string, at time.Time) (billing.Invoice, error) {
	var result billing.Invoice
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := lockInvoice(ctx, tx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != billing.StatusDraft {
			return fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
		}
		if len(inv.Lines) == 0 {
			return fmt.Errorf("invoice %s: %w", inv.ID, storage.ErrEmptyInvoice)
		}

		at = at.UTC()
		inv.Status = billing.StatusIssued
		inv.IssuedAt = &at
		inv.UpdatedAt = at
		inv.Settle(at)
		res, err := tx.ExecContext(ctx, `
			UPDATE invoices SET status = $3, issued_at = $4, paid_at = $5, updated_at = $6
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, inv.ID, string(inv.Status), inv.IssuedAt, inv.PaidAt, inv.UpdatedAt)
		if err != nil {
			return mapErr(err, "invoice "+inv.ID)
		}
		if err := requireAffected(res, "invoice "+inv.ID); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return billing.Invoice{}, err
	}
	return result, nil
}

func (s *Store) RecordPayment(ctx context.Context, p billing.Payment) (billing.Invoice, billing.Payment, error) {
	var result billing.Invoice
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := lockInvoice(ctx, tx, p.TenantID, p.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status != billing.StatusIssued {
			return fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
		}
		if p.AmountCents > inv.BalanceCents() {
			return fmt.Errorf("balance %d: %w", inv.BalanceCents(), storage.ErrOverpayment)
		}

		at := p.CreatedAt.UTC()
		p.ID = newID(p.ID)
		p.CreatedAt = at
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, tenant_id, invoice_id, amount_cents, method, reference, actor_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, p.TenantID, p.InvoiceID, p.AmountCents, p.Method, p.Reference, p.ActorID, p.CreatedAt); err != nil {
			return mapErr(err, "payment "+p.InvoiceID)
		}

		inv.PaidCents += p.AmountCents
		if inv.BalanceCents() == 0 {
			inv.Status = billing.StatusPaid
			inv.PaidAt = &at
		}
		inv.UpdatedAt = at
		if err := saveInvoiceTx(ctx, tx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return billing.Invoice{}, billing.Payment{}, err
	}
	return result, p, nil
}

func (s *Store) VoidInvoice(ctx context.Context, tenantID, invoiceID, actorID string, at time.Time) (billing.Invoice, error) {
	var result billing.Invoice
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := lockInvoice(ctx, tx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Open() || inv.PaidCents > 0 {
			return fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, storage.ErrInvalidStatus)
		}
		for _, line := range inv.Lines {
			if line.Kind != billing.LineProduct {
				continue
			}
			if _, _, err := adjustStockTx(ctx, tx, inventory.Adjustment{
				TenantID:  tenantID,
				ProductID: line.RefID,
				Delta:     line.Quantity,
				Reason:    inventory.ReasonVoid,
				RefID:     inv.ID,
				ActorID:   actorID,
				At:        at,
			}); err != nil {
				return err
			}
		}
		at = at.UTC()
		inv.Status = billing.StatusVoid
		inv.VoidedAt = &at
		inv.UpdatedAt = at
		if err := saveInvoiceTx(ctx, tx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return billing.Invoice{}, err
	}
	return result, nil
}
