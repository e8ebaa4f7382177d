package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// CustomerStore implementation ------------------------------------------------

func (s *Store) CreateCustomer(_ context.Context, c customer.Customer) (customer.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Email != "" {
		for _, existing := range s.customers {
			if existing.TenantID == c.TenantID && strings.EqualFold(existing.Email, c.Email) {
				return customer.Customer{}, fmt.Errorf("customer email %s: %w", c.Email, storage.ErrConflict)
			}
		}
	}
	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	now := s.nowUTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.customers[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCustomer(_ context.Context, c customer.Customer) (customer.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.customers[c.ID]
	if !ok || original.TenantID != c.TenantID {
		return customer.Customer{}, fmt.Errorf("customer %s: %w", c.ID, storage.ErrNotFound)
	}
	if c.Email != "" && !strings.EqualFold(c.Email, original.Email) {
		for _, existing := range s.customers {
			if existing.ID != c.ID && existing.TenantID == c.TenantID && strings.EqualFold(existing.Email, c.Email) {
				return customer.Customer{}, fmt.Errorf("customer email %s: %w", c.Email, storage.ErrConflict)
			}
		}
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = s.nowUTC()
	s.customers[c.ID] = c
	return c, nil
}

func (s *Store) GetCustomer(_ context.Context, tenantID, id string) (customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok || c.TenantID != tenantID {
		return customer.Customer{}, fmt.Errorf("customer %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (s *Store) GetCustomerByUser(_ context.Context, tenantID, userID string) (customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.TenantID == tenantID && c.UserID != "" && c.UserID == userID {
			return c, nil
		}
	}
	return customer.Customer{}, fmt.Errorf("customer for user %s: %w", userID, storage.ErrNotFound)
}

func (s *Store) ListCustomers(_ context.Context, tenantID, query string) ([]customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	result := make([]customer.Customer, 0)
	for _, c := range s.customers {
		if c.TenantID != tenantID {
			continue
		}
		if query != "" {
			haystack := strings.ToLower(c.FirstName + " " + c.LastName + " " + c.Email + " " + c.Phone)
			if !strings.Contains(haystack, query) {
				continue
			}
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return idLess(result[i].ID, result[j].ID) })
	return result, nil
}

func (s *Store) CreatePet(_ context.Context, p customer.Pet) (customer.Pet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.customers[p.CustomerID]
	if !ok || owner.TenantID != p.TenantID {
		return customer.Pet{}, fmt.Errorf("customer %s: %w", p.CustomerID, storage.ErrNotFound)
	}
	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	now := s.nowUTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.BirthDate = cloneTime(p.BirthDate)
	s.pets[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePet(_ context.Context, p customer.Pet) (customer.Pet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.pets[p.ID]
	if !ok || original.TenantID != p.TenantID {
		return customer.Pet{}, fmt.Errorf("pet %s: %w", p.ID, storage.ErrNotFound)
	}
	p.CustomerID = original.CustomerID
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = s.nowUTC()
	p.BirthDate = cloneTime(p.BirthDate)
	s.pets[p.ID] = p
	return p, nil
}

func (s *Store) GetPet(_ context.Context, tenantID, id string) (customer.Pet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pets[id]
	if !ok || p.TenantID != tenantID {
		return customer.Pet{}, fmt.Errorf("pet %s: %w", id, storage.ErrNotFound)
	}
	p.BirthDate = cloneTime(p.BirthDate)
	return p, nil
}

func (s *Store) ListPets(_ context.Context, tenantID, customerID string) ([]customer.Pet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]customer.Pet, 0)
	for _, p := range s.pets {
		if p.TenantID == tenantID && (customerID == "" || p.CustomerID == customerID) {
			p.BirthDate = cloneTime(p.BirthDate)
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return idLess(result[i].ID, result[j].ID) })
	return result, nil
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) CreateService(_ context.Context, svc catalog.Service) (catalog.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.services {
		if existing.TenantID == svc.TenantID && strings.EqualFold(existing.Name, svc.Name) {
			return catalog.Service{}, fmt.Errorf("service %q: %w", svc.Name, storage.ErrConflict)
		}
	}
	if svc.ID == "" {
		svc.ID = s.nextIDLocked()
	}
	now := s.nowUTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *Store) UpdateService(_ context.Context, svc catalog.Service) (catalog.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.services[svc.ID]
	if !ok || original.TenantID != svc.TenantID {
		return catalog.Service{}, fmt.Errorf("service %s: %w", svc.ID, storage.ErrNotFound)
	}
	for _, existing := range s.services {
		if existing.ID != svc.ID && existing.TenantID == svc.TenantID && strings.EqualFold(existing.Name, svc.Name) {
			return catalog.Service{}, fmt.Errorf("service %q: %w", svc.Name, storage.ErrConflict)
		}
	}
	svc.CreatedAt = original.CreatedAt
	svc.UpdatedAt = s.nowUTC()
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *Store) GetService(_ context.Context, tenantID, id string) (catalog.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok || svc.TenantID != tenantID {
		return catalog.Service{}, fmt.Errorf("service %s: %w", id, storage.ErrNotFound)
	}
	return svc, nil
}

func (s *Store) ListServices(_ context.Context, tenantID string, activeOnly bool) ([]catalog.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Service, 0)
	for _, svc := range s.services {
		if svc.TenantID != tenantID || (activeOnly && !svc.Active) {
			continue
		}
		result = append(result, svc)
	}
	sort.Slice(result, func(i, j int) bool { return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name) })
	return result, nil
}
