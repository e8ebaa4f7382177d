package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/record"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// InventoryStore implementation -----------------------------------------------

func (s *Store) CreateProduct(_ context.Context, p inventory.Product) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.TenantID == p.TenantID && strings.EqualFold(existing.SKU, p.SKU) {
			return inventory.Product{}, fmt.Errorf("sku %s: %w", p.SKU, storage.ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	now := s.nowUTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.products[p.ID] = p
	return p, nil
}

// UpdateProduct changes catalogue fields. Stock only moves through AdjustStock.
func (s *Store) UpdateProduct(_ context.Context, p inventory.Product) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.products[p.ID]
	if !ok || original.TenantID != p.TenantID {
		return inventory.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrNotFound)
	}
	p.SKU = original.SKU
	p.Stock = original.Stock
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = s.nowUTC()
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID, id string) (inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok || p.TenantID != tenantID {
		return inventory.Product{}, fmt.Errorf("product %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]inventory.Product, 0)
	for _, p := range s.products {
		if p.TenantID == tenantID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	return result, nil
}

func (s *Store) ListMovements(_ context.Context, tenantID, productID string) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]inventory.Movement, 0)
	for _, mv := range s.movements {
		if mv.TenantID == tenantID && (productID == "" || mv.ProductID == productID) {
			result = append(result, mv)
		}
	}
	return result, nil
}

// RecordStore implementation --------------------------------------------------

func (s *Store) CreateRecord(_ context.Context, r record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	r.CreatedAt = s.nowUTC()
	r = cloneRecord(r)
	s.records[r.ID] = r
	return cloneRecord(r), nil
}

func (s *Store) GetRecord(_ context.Context, tenantID, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok || r.TenantID != tenantID {
		return record.Record{}, fmt.Errorf("record %s: %w", id, storage.ErrNotFound)
	}
	return cloneRecord(r), nil
}

func (s *Store) ListRecords(_ context.Context, tenantID, petID string) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]record.Record, 0)
	for _, r := range s.records {
		if r.TenantID == tenantID && (petID == "" || r.PetID == petID) {
			result = append(result, cloneRecord(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].VisitedAt.Equal(result[j].VisitedAt) {
			return result[i].VisitedAt.After(result[j].VisitedAt)
		}
		return idLess(result[j].ID, result[i].ID)
	})
	return result, nil
}

func (s *Store) AppendAddendum(_ context.Context, tenantID, id string, add record.Addendum) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.TenantID != tenantID {
		return record.Record{}, fmt.Errorf("record %s: %w", id, storage.ErrNotFound)
	}
	r = cloneRecord(r)
	if add.CreatedAt.IsZero() {
		add.CreatedAt = s.nowUTC()
	}
	r.Addenda = append(r.Addenda, add)
	s.records[id] = r
	return cloneRecord(r), nil
}

func cloneRecord(r record.Record) record.Record {
	r.Prescriptions = append([]record.Prescription(nil), r.Prescriptions...)
	r.Addenda = append([]record.Addendum(nil), r.Addenda...)
	return r
}
