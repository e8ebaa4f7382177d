package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/domain/record"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// A single mutex serialises writers, which is what makes the procedures atomic.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	now    func() time.Time

	tenants       map[string]tenant.Tenant
	members       map[string]tenant.Member
	apiKeys       map[string]tenant.APIKey
	customers     map[string]customer.Customer
	pets          map[string]customer.Pet
	services      map[string]catalog.Service
	appointments  map[string]appointment.Appointment
	records       map[string]record.Record
	products      map[string]inventory.Product
	movements     []inventory.Movement
	invoices      map[string]billing.Invoice
	invoiceSeq    map[string]int64
	payments      []billing.Payment
	notifications map[string]notification.Notification
	notifByKey    map[string]string
}

var _ storage.TenantStore = (*Store)(nil)
var _ storage.MemberStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.CustomerStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AppointmentStore = (*Store)(nil)
var _ storage.RecordStore = (*Store)(nil)
var _ storage.InventoryStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.Procedures = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		now:           time.Now,
		tenants:       make(map[string]tenant.Tenant),
		members:       make(map[string]tenant.Member),
		apiKeys:       make(map[string]tenant.APIKey),
		customers:     make(map[string]customer.Customer),
		pets:          make(map[string]customer.Pet),
		services:      make(map[string]catalog.Service),
		appointments:  make(map[string]appointment.Appointment),
		records:       make(map[string]record.Record),
		products:      make(map[string]inventory.Product),
		invoices:      make(map[string]billing.Invoice),
		invoiceSeq:    make(map[string]int64),
		notifications: make(map[string]notification.Notification),
		notifByKey:    make(map[string]string),
	}
}

// WithClock replaces the timestamp source. Call before use.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) nowUTC() time.Time {
	return s.now().UTC()
}

func memberKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// TenantStore implementation --------------------------------------------------

func (s *Store) CreateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tenants {
		if strings.EqualFold(existing.Slug, t.Slug) {
			return tenant.Tenant{}, fmt.Errorf("tenant slug %s: %w", t.Slug, storage.ErrConflict)
		}
	}
	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tenants[t.ID]; exists {
		return tenant.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, storage.ErrConflict)
	}

	now := s.nowUTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t = cloneTenant(t)
	s.tenants[t.ID] = t
	return cloneTenant(t), nil
}

func (s *Store) UpdateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tenants[t.ID]
	if !ok {
		return tenant.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, storage.ErrNotFound)
	}
	t.Slug = original.Slug
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = s.nowUTC()
	t = cloneTenant(t)
	s.tenants[t.ID] = t
	return cloneTenant(t), nil
}

func (s *Store) GetTenant(_ context.Context, id string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return tenant.Tenant{}, fmt.Errorf("tenant %s: %w", id, storage.ErrNotFound)
	}
	return cloneTenant(t), nil
}

func (s *Store) GetTenantBySlug(_ context.Context, slug string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if strings.EqualFold(t.Slug, slug) {
			return cloneTenant(t), nil
		}
	}
	return tenant.Tenant{}, fmt.Errorf("tenant %s: %w", slug, storage.ErrNotFound)
}

func (s *Store) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		result = append(result, cloneTenant(t))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// MemberStore implementation --------------------------------------------------

func (s *Store) UpsertMember(_ context.Context, m tenant.Member) (tenant.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[m.TenantID]; !ok {
		return tenant.Member{}, fmt.Errorf("tenant %s: %w", m.TenantID, storage.ErrNotFound)
	}
	key := memberKey(m.TenantID, m.UserID)
	now := s.nowUTC()
	if existing, ok := s.members[key]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.members[key] = m
	return m, nil
}

func (s *Store) GetMember(_ context.Context, tenantID, userID string) (tenant.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberKey(tenantID, userID)]
	if !ok {
		return tenant.Member{}, fmt.Errorf("member %s: %w", userID, storage.ErrNotFound)
	}
	return m, nil
}

func (s *Store) ListMembers(_ context.Context, tenantID string) ([]tenant.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.Member, 0)
	for _, m := range s.members {
		if m.TenantID == tenantID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListMembershipsForUser(_ context.Context, userID string) ([]tenant.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.Member, 0)
	for _, m := range s.members {
		if m.UserID == userID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result, nil
}

func (s *Store) DeleteMember(_ context.Context, tenantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey(tenantID, userID)
	if _, ok := s.members[key]; !ok {
		return fmt.Errorf("member %s: %w", userID, storage.ErrNotFound)
	}
	delete(s.members, key)
	return nil
}

// APIKeyStore implementation --------------------------------------------------

func (s *Store) CreateAPIKey(_ context.Context, key tenant.APIKey) (tenant.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == "" {
		key.ID = s.nextIDLocked()
	} else if _, exists := s.apiKeys[key.ID]; exists {
		return tenant.APIKey{}, fmt.Errorf("api key %s: %w", key.ID, storage.ErrConflict)
	}
	key.CreatedAt = s.nowUTC()
	s.apiKeys[key.ID] = key
	return key, nil
}

func (s *Store) GetAPIKey(_ context.Context, id string) (tenant.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return tenant.APIKey{}, fmt.Errorf("api key %s: %w", id, storage.ErrNotFound)
	}
	return key, nil
}

func (s *Store) ListAPIKeys(_ context.Context, tenantID string) ([]tenant.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.APIKey, 0)
	for _, key := range s.apiKeys {
		if key.TenantID == tenantID {
			result = append(result, key)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, tenantID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok || key.TenantID != tenantID {
		return fmt.Errorf("api key %s: %w", id, storage.ErrNotFound)
	}
	if key.RevokedAt == nil {
		at = at.UTC()
		key.RevokedAt = &at
		s.apiKeys[id] = key
	}
	return nil
}

func (s *Store) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return fmt.Errorf("api key %s: %w", id, storage.ErrNotFound)
	}
	at = at.UTC()
	key.LastUsedAt = &at
	s.apiKeys[id] = key
	return nil
}

func cloneTenant(t tenant.Tenant) tenant.Tenant {
	t.Settings.WorkDays = append([]time.Weekday(nil), t.Settings.WorkDays...)
	return t
}

// idLess orders the store's sequential IDs numerically.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
