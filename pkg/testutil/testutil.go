// Package testutil provides a controllable clock and a seeded clinic for
// service and handler tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
)

// Monday is 2026-03-02 08:00 UTC, an opening hour on a working day under the
// default clinic settings.
var Monday = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// Clock is a settable time source safe for concurrent use.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewClock starts the clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Clinic is a tenant with one of each role, a customer with a pet and an
// active 30 minute service.
type Clinic struct {
	Tenant   tenant.Tenant
	Owner    auth.Actor
	Vet      auth.Actor
	Staff    auth.Actor
	Customer customer.Customer
	Client   auth.Actor
	Pet      customer.Pet
	Service  catalog.Service
}

// SeedClinic writes a Clinic directly into store, bypassing service guards.
func SeedClinic(ctx context.Context, store *memory.Store, slug string) (Clinic, error) {
	t, err := store.CreateTenant(ctx, tenant.Tenant{
		Name:     "Clinic " + slug,
		Slug:     slug,
		Timezone: "UTC",
		Settings: tenant.DefaultSettings(),
	})
	if err != nil {
		return Clinic{}, fmt.Errorf("create tenant: %w", err)
	}
	c := Clinic{Tenant: t}

	for _, m := range []struct {
		actor *auth.Actor
		user  string
		role  tenant.Role
	}{
		{&c.Owner, slug + "-owner", tenant.RoleOwner},
		{&c.Vet, slug + "-vet", tenant.RoleVeterinarian},
		{&c.Staff, slug + "-staff", tenant.RoleStaff},
	} {
		if _, err := store.UpsertMember(ctx, tenant.Member{TenantID: t.ID, UserID: m.user, Role: m.role}); err != nil {
			return Clinic{}, fmt.Errorf("add %s: %w", m.role, err)
		}
		*m.actor = auth.Actor{UserID: m.user, TenantID: t.ID, Role: m.role}
	}

	clientUser := slug + "-client"
	if _, err := store.UpsertMember(ctx, tenant.Member{TenantID: t.ID, UserID: clientUser, Role: tenant.RoleCustomer}); err != nil {
		return Clinic{}, fmt.Errorf("add customer member: %w", err)
	}
	c.Customer, err = store.CreateCustomer(ctx, customer.Customer{
		TenantID:  t.ID,
		UserID:    clientUser,
		FirstName: "Ann",
		LastName:  "Lee",
		Email:     clientUser + "@example.com",
	})
	if err != nil {
		return Clinic{}, fmt.Errorf("create customer: %w", err)
	}
	c.Client = auth.Actor{UserID: clientUser, TenantID: t.ID, Role: tenant.RoleCustomer, CustomerID: c.Customer.ID}

	c.Pet, err = store.CreatePet(ctx, customer.Pet{TenantID: t.ID, CustomerID: c.Customer.ID, Name: "Rex", Species: "dog"})
	if err != nil {
		return Clinic{}, fmt.Errorf("create pet: %w", err)
	}
	c.Service, err = store.CreateService(ctx, catalog.Service{
		TenantID:        t.ID,
		Name:            "Checkup",
		DurationMinutes: 30,
		PriceCents:      5000,
		RequiresVet:     true,
		Active:          true,
	})
	if err != nil {
		return Clinic{}, fmt.Errorf("create service: %w", err)
	}
	return c, nil
}
