package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
)

func TestClock(t *testing.T) {
	c := NewClock(Monday)
	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(Monday.Add(90 * time.Minute)) {
		t.Fatalf("unexpected time %s", got)
	}
	c.Set(Monday)
	if !c.Now().Equal(Monday) {
		t.Fatalf("set did not apply")
	}
	if Monday.Weekday() != time.Monday {
		t.Fatalf("Monday is a %s", Monday.Weekday())
	}
}

func TestSeedClinic(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c, err := SeedClinic(ctx, store, "paws")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	m, err := store.GetMember(ctx, c.Tenant.ID, c.Client.UserID)
	if err != nil {
		t.Fatalf("customer membership: %v", err)
	}
	if m.Role != c.Client.Role {
		t.Fatalf("unexpected role %s", m.Role)
	}
	if c.Pet.CustomerID != c.Customer.ID || c.Client.CustomerID != c.Customer.ID {
		t.Fatalf("pet and actor must belong to the customer")
	}
	if _, err := SeedClinic(ctx, store, "paws"); err == nil {
		t.Fatalf("expected duplicate slug to fail")
	}
}
