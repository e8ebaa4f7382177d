package supabase

import (
	"context"

	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/record"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
)

// --- InventoryStore ---------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	p.ID = newID(p.ID)
	now := s.nowUTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if _, err := s.client.From("products").Insert(ctx, p, sb.InsertOptions{}); err != nil {
		return inventory.Product{}, mapErr(err, "product "+p.SKU)
	}
	return p, nil
}

// UpdateProduct never touches stock; that only moves through AdjustStock.
func (s *Store) UpdateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	resp, err := s.client.From("products").Eq("tenant_id", p.TenantID).Eq("id", p.ID).Update(ctx, map[string]any{
		"name":          p.Name,
		"unit":          p.Unit,
		"price_cents":   p.PriceCents,
		"reorder_level": p.ReorderLevel,
		"active":        p.Active,
		"updated_at":    s.nowUTC(),
	})
	if err != nil {
		return inventory.Product{}, mapErr(err, "product "+p.ID)
	}
	var out inventory.Product
	if err := firstRow(resp, &out, "product "+p.ID); err != nil {
		return inventory.Product{}, err
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID, id string) (inventory.Product, error) {
	var p inventory.Product
	if err := one(ctx, s.client.From("products").Eq("tenant_id", tenantID).Eq("id", id), &p, "product "+id); err != nil {
		return inventory.Product{}, err
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]inventory.Product, error) {
	result := []inventory.Product{}
	if err := s.client.From("products").Eq("tenant_id", tenantID).Order("sku", true).Into(ctx, &result); err != nil {
		return nil, mapErr(err, "products")
	}
	return result, nil
}

func (s *Store) ListMovements(ctx context.Context, tenantID, productID string) ([]inventory.Movement, error) {
	result := []inventory.Movement{}
	q := s.client.From("stock_movements").Eq("tenant_id", tenantID).Eq("product_id", productID).
		Order("created_at", true).Order("id", true)
	if err := q.Into(ctx, &result); err != nil {
		return nil, mapErr(err, "movements")
	}
	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, adj inventory.Adjustment) (inventory.Product, inventory.Movement, error) {
	resp, err := s.rpc(ctx, "adjust_product_stock", adj, "product "+adj.ProductID)
	if err != nil {
		return inventory.Product{}, inventory.Movement{}, err
	}
	var (
		p  inventory.Product
		mv inventory.Movement
	)
	if err := decodeField(resp, "product", &p); err != nil {
		return inventory.Product{}, inventory.Movement{}, err
	}
	if err := decodeField(resp, "movement", &mv); err != nil {
		return inventory.Product{}, inventory.Movement{}, err
	}
	return p, mv, nil
}

// --- RecordStore ------------------------------------------------------------

func (s *Store) CreateRecord(ctx context.Context, r record.Record) (record.Record, error) {
	r.ID = newID(r.ID)
	r.CreatedAt = s.nowUTC()
	r.VisitedAt = r.VisitedAt.UTC()
	if r.Prescriptions == nil {
		r.Prescriptions = []record.Prescription{}
	}
	r.Addenda = nil
	if _, err := s.client.From("medical_records").Insert(ctx, r, sb.InsertOptions{}); err != nil {
		return record.Record{}, mapErr(err, "record for pet "+r.PetID)
	}
	return r, nil
}

func (s *Store) GetRecord(ctx context.Context, tenantID, id string) (record.Record, error) {
	var r record.Record
	if err := one(ctx, s.client.From("medical_records").Eq("tenant_id", tenantID).Eq("id", id), &r, "record "+id); err != nil {
		return record.Record{}, err
	}
	return normalizeRecord(r), nil
}

func (s *Store) ListRecords(ctx context.Context, tenantID, petID string) ([]record.Record, error) {
	var rows []record.Record
	q := s.client.From("medical_records").Eq("tenant_id", tenantID).Eq("pet_id", petID).
		Order("visited_at", false).Order("id", true)
	if err := q.Into(ctx, &rows); err != nil {
		return nil, mapErr(err, "records")
	}
	result := make([]record.Record, 0, len(rows))
	for _, r := range rows {
		result = append(result, normalizeRecord(r))
	}
	return result, nil
}

// AppendAddendum appends server side so concurrent addenda never overwrite
// each other.
func (s *Store) AppendAddendum(ctx context.Context, tenantID, id string, add record.Addendum) (record.Record, error) {
	add.CreatedAt = add.CreatedAt.UTC()
	resp, err := s.rpc(ctx, "append_record_addendum", map[string]any{
		"tenant_id": tenantID,
		"record_id": id,
		"addendum":  add,
	}, "record "+id)
	if err != nil {
		return record.Record{}, err
	}
	var r record.Record
	if err := resp.JSON(&r); err != nil {
		return record.Record{}, err
	}
	return normalizeRecord(r), nil
}

// normalizeRecord maps empty jsonb arrays to nil like the other backends.
func normalizeRecord(r record.Record) record.Record {
	if len(r.Prescriptions) == 0 {
		r.Prescriptions = nil
	}
	if len(r.Addenda) == 0 {
		r.Addenda = nil
	}
	return r
}
