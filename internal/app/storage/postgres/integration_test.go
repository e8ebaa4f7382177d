package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	"github.com/R3E-Network/vetclinic/internal/platform/migrations"
)

// TestPostgresProcedures runs the atomic procedures against a migrated
// database. Point TEST_POSTGRES_DSN at a disposable database to enable it.
func TestPostgresProcedures(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}
	ctx := context.Background()
	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Up(db.DB))

	store := New(db)
	slug := "it-" + time.Now().Format("150405.000000")
	tn, err := store.CreateTenant(ctx, tenant.Tenant{Name: "Integration", Slug: slug, Timezone: "UTC", Settings: tenant.DefaultSettings()})
	require.NoError(t, err)
	_, err = store.CreateTenant(ctx, tenant.Tenant{Name: "Dup", Slug: slug, Timezone: "UTC"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = store.UpsertMember(ctx, tenant.Member{TenantID: tn.ID, UserID: "vet-1", Role: tenant.RoleVeterinarian})
	require.NoError(t, err)
	c, err := store.CreateCustomer(ctx, customer.Customer{TenantID: tn.ID, UserID: "u1", FirstName: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	pet, err := store.CreatePet(ctx, customer.Pet{TenantID: tn.ID, CustomerID: c.ID, Name: "Rex", Species: "dog"})
	require.NoError(t, err)
	_, err = store.CreatePet(ctx, customer.Pet{TenantID: tn.ID, CustomerID: "missing", Name: "Tom", Species: "cat"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	svc, err := store.CreateService(ctx, catalog.Service{TenantID: tn.ID, Name: "Checkup", DurationMinutes: 30, PriceCents: 5000, Active: true})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(48 * time.Hour)
	first, err := store.AssignSlot(ctx, appointment.SlotRequest{
		TenantID: tn.ID,
		New: &appointment.Appointment{
			CustomerID: c.ID, PetID: pet.ID, ServiceIDs: []string{svc.ID}, Source: appointment.SourceStaff,
		},
		VetID:    "vet-1",
		StartsAt: start,
		EndsAt:   start.Add(30 * time.Minute),
		ActorID:  "staff",
		At:       now,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, first.Status)

	_, err = store.AssignSlot(ctx, appointment.SlotRequest{
		TenantID: tn.ID,
		New:      &appointment.Appointment{CustomerID: c.ID, PetID: pet.ID, ServiceIDs: []string{svc.ID}},
		VetID:    "vet-1",
		StartsAt: start.Add(15 * time.Minute),
		EndsAt:   start.Add(45 * time.Minute),
		At:       now,
	})
	assert.ErrorIs(t, err, storage.ErrSlotTaken)

	_, err = store.TransitionStatus(ctx, appointment.Transition{
		TenantID: tn.ID, AppointmentID: first.ID, ExpectedVersion: first.Version + 1,
		From: appointment.SourcesFor(appointment.StatusConfirmed), To: appointment.StatusConfirmed, At: now,
	})
	assert.ErrorIs(t, err, storage.ErrVersionMismatch)

	lines := []billing.Line{{Kind: billing.LineService, RefID: svc.ID, Description: svc.Name, Quantity: 1, UnitPriceCents: svc.PriceCents}}
	done, inv, err := store.CompleteAppointment(ctx, appointment.Transition{
		TenantID: tn.ID, AppointmentID: first.ID,
		From: appointment.SourcesFor(appointment.StatusCompleted), To: appointment.StatusCompleted, At: now,
	}, billing.CommissionRequest{
		TenantID: tn.ID, AppointmentID: first.ID, CustomerID: c.ID, Lines: lines, CommissionBps: 500, At: now,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, done.Status)
	assert.Equal(t, int64(5000), inv.SubtotalCents)

	again, created, err := store.CreateCommissionInvoice(ctx, billing.CommissionRequest{
		TenantID: tn.ID, AppointmentID: first.ID, CustomerID: c.ID, Lines: lines, CommissionBps: 500, At: now,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, inv.ID, again.ID)

	product, err := store.CreateProduct(ctx, inventory.Product{TenantID: tn.ID, SKU: "VAX-" + slug, Name: "Vaccine", PriceCents: 1500, Active: true})
	require.NoError(t, err)
	_, _, err = store.AdjustStock(ctx, inventory.Adjustment{TenantID: tn.ID, ProductID: product.ID, Delta: 2, Reason: inventory.ReasonPurchase, At: now})
	require.NoError(t, err)
	_, err = store.AddProductLine(ctx, billing.ProductLineRequest{TenantID: tn.ID, InvoiceID: inv.ID, ProductID: product.ID, Quantity: 3, At: now})
	assert.ErrorIs(t, err, storage.ErrInsufficientStock)
	withProduct, err := store.AddProductLine(ctx, billing.ProductLineRequest{TenantID: tn.ID, InvoiceID: inv.ID, ProductID: product.ID, Quantity: 2, At: now})
	require.NoError(t, err)
	assert.Equal(t, int64(8000), withProduct.SubtotalCents)

	_, _, err = store.RecordPayment(ctx, billing.Payment{TenantID: tn.ID, InvoiceID: inv.ID, AmountCents: 9000, Method: "card", CreatedAt: now})
	assert.ErrorIs(t, err, storage.ErrOverpayment)
	paid, _, err := store.RecordPayment(ctx, billing.Payment{TenantID: tn.ID, InvoiceID: inv.ID, AmountCents: 8000, Method: "card", CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, paid.Status)
}
