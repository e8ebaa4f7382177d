package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/record"
)

// --- InventoryStore ---------------------------------------------------------

type productRow struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	SKU          string    `db:"sku"`
	Name         string    `db:"name"`
	Unit         string    `db:"unit"`
	PriceCents   int64     `db:"price_cents"`
	Stock        int       `db:"stock"`
	ReorderLevel int       `db:"reorder_level"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r productRow) model() inventory.Product {
	return inventory.Product{
		ID:           r.ID,
		TenantID:     r.TenantID,
		SKU:          r.SKU,
		Name:         r.Name,
		Unit:         r.Unit,
		PriceCents:   r.PriceCents,
		Stock:        r.Stock,
		ReorderLevel: r.ReorderLevel,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

const productColumns = `id, tenant_id, sku, name, unit, price_cents, stock, reorder_level, active, created_at, updated_at`

func (s *Store) CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	p.ID = newID(p.ID)
	now := s.nowUTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, p.ID, p.TenantID, p.SKU, p.Name, p.Unit, p.PriceCents, p.Stock, p.ReorderLevel, p.Active, now)
	if err != nil {
		return inventory.Product{}, mapErr(err, "product "+p.SKU)
	}
	return p, nil
}

// UpdateProduct never touches stock; that only moves through AdjustStock.
func (s *Store) UpdateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE products
		SET name = $3, unit = $4, price_cents = $5, reorder_level = $6, active = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+productColumns, p.TenantID, p.ID, p.Name, p.Unit, p.PriceCents, p.ReorderLevel, p.Active, s.nowUTC())
	if err != nil {
		return inventory.Product{}, mapErr(err, "product "+p.ID)
	}
	return row.model(), nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID, id string) (inventory.Product, error) {
	var row productRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
		return inventory.Product{}, mapErr(err, "product "+id)
	}
	return row.model(), nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]inventory.Product, error) {
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 ORDER BY sku`, tenantID); err != nil {
		return nil, err
	}
	result := make([]inventory.Product, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

type movementRow struct {
	ID         string    `db:"id"`
	TenantID   string    `db:"tenant_id"`
	ProductID  string    `db:"product_id"`
	Delta      int       `db:"delta"`
	Reason     string    `db:"reason"`
	RefID      string    `db:"ref_id"`
	ActorID    string    `db:"actor_id"`
	StockAfter int       `db:"stock_after"`
	CreatedAt  time.Time `db:"created_at"`
}

func (s *Store) ListMovements(ctx context.Context, tenantID, productID string) ([]inventory.Movement, error) {
	var rows []movementRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, product_id, delta, reason, ref_id, actor_id, stock_after, created_at
		FROM stock_movements
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY created_at, id
	`, tenantID, productID)
	if err != nil {
		return nil, err
	}
	result := make([]inventory.Movement, 0, len(rows))
	for _, r := range rows {
		result = append(result, inventory.Movement{
			ID:         r.ID,
			TenantID:   r.TenantID,
			ProductID:  r.ProductID,
			Delta:      r.Delta,
			Reason:     inventory.Reason(r.Reason),
			RefID:      r.RefID,
			ActorID:    r.ActorID,
			StockAfter: r.StockAfter,
			CreatedAt:  r.CreatedAt.UTC(),
		})
	}
	return result, nil
}

// --- RecordStore ------------------------------------------------------------

type recordRow struct {
	ID            string    `db:"id"`
	TenantID      string    `db:"tenant_id"`
	PetID         string    `db:"pet_id"`
	AppointmentID string    `db:"appointment_id"`
	VetID         string    `db:"vet_id"`
	VisitedAt     time.Time `db:"visited_at"`
	Complaint     string    `db:"complaint"`
	Diagnosis     string    `db:"diagnosis"`
	Treatment     string    `db:"treatment"`
	WeightKg      float64   `db:"weight_kg"`
	Prescriptions []byte    `db:"prescriptions"`
	Addenda       []byte    `db:"addenda"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r recordRow) model() record.Record {
	rec := record.Record{
		ID:            r.ID,
		TenantID:      r.TenantID,
		PetID:         r.PetID,
		AppointmentID: r.AppointmentID,
		VetID:         r.VetID,
		VisitedAt:     r.VisitedAt.UTC(),
		Complaint:     r.Complaint,
		Diagnosis:     r.Diagnosis,
		Treatment:     r.Treatment,
		WeightKg:      r.WeightKg,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if len(r.Prescriptions) > 0 {
		_ = json.Unmarshal(r.Prescriptions, &rec.Prescriptions)
	}
	if len(r.Addenda) > 0 {
		_ = json.Unmarshal(r.Addenda, &rec.Addenda)
	}
	return rec
}

const recordColumns = `id, tenant_id, pet_id, appointment_id, vet_id, visited_at, complaint, diagnosis,
	treatment, weight_kg, prescriptions, addenda, created_at`

func (s *Store) CreateRecord(ctx context.Context, r record.Record) (record.Record, error) {
	r.ID = newID(r.ID)
	r.CreatedAt = s.nowUTC()
	r.VisitedAt = r.VisitedAt.UTC()
	if r.Prescriptions == nil {
		r.Prescriptions = []record.Prescription{}
	}
	prescriptions, err := json.Marshal(r.Prescriptions)
	if err != nil {
		return record.Record{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO medical_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '[]'::jsonb, $12)
	`, r.ID, r.TenantID, r.PetID, r.AppointmentID, r.VetID, r.VisitedAt, r.Complaint, r.Diagnosis,
		r.Treatment, r.WeightKg, prescriptions, r.CreatedAt)
	if err != nil {
		return record.Record{}, mapErr(err, "record for pet "+r.PetID)
	}
	r.Addenda = nil
	return r, nil
}

func (s *Store) GetRecord(ctx context.Context, tenantID, id string) (record.Record, error) {
	var row recordRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+recordColumns+` FROM medical_records WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
		return record.Record{}, mapErr(err, "record "+id)
	}
	return row.model(), nil
}

func (s *Store) ListRecords(ctx context.Context, tenantID, petID string) ([]record.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+recordColumns+` FROM medical_records
		WHERE tenant_id = $1 AND pet_id = $2
		ORDER BY visited_at DESC, id
	`, tenantID, petID)
	if err != nil {
		return nil, err
	}
	result := make([]record.Record, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

// AppendAddendum appends in place with jsonb concatenation; the record body
// itself is never rewritten.
func (s *Store) AppendAddendum(ctx context.Context, tenantID, id string, add record.Addendum) (record.Record, error) {
	add.CreatedAt = add.CreatedAt.UTC()
	payload, err := json.Marshal([]record.Addendum{add})
	if err != nil {
		return record.Record{}, err
	}
	var row recordRow
	err = s.db.GetContext(ctx, &row, `
		UPDATE medical_records SET addenda = addenda || $3::jsonb
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+recordColumns, tenantID, id, payload)
	if err != nil {
		return record.Record{}, mapErr(err, "record "+id)
	}
	return row.model(), nil
}
