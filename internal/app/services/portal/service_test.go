package portal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	billingsvc "github.com/R3E-Network/vetclinic/internal/app/services/billing"
	"github.com/R3E-Network/vetclinic/internal/app/services/customers"
	"github.com/R3E-Network/vetclinic/internal/app/services/records"
	"github.com/R3E-Network/vetclinic/internal/app/services/scheduling"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
	"github.com/R3E-Network/vetclinic/pkg/testutil"
)

func TestPortalFlow(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(testutil.Monday)
	store := memory.New().WithClock(clock.Now)

	clinic, err := testutil.SeedClinic(ctx, store, "paws")
	require.NoError(t, err)
	tn, c, pet, svc := clinic.Tenant, clinic.Customer, clinic.Pet, clinic.Service
	other, err := store.CreatePet(ctx, customer.Pet{TenantID: tn.ID, CustomerID: "someone", Name: "Tom", Species: "cat"})
	require.NoError(t, err)

	log := logger.Discard()
	sched := scheduling.New(scheduling.Stores{
		Tenants: store, Members: store, Customers: store, Catalog: store, Appointments: store, Procedures: store,
	}, nil, log).WithClock(clock.Now)
	p := New(
		customers.New(store, log),
		sched,
		records.New(store, store, store, log),
		billingsvc.New(billingsvc.Stores{Tenants: store, Customers: store, Catalog: store, Appointments: store, Invoices: store, Procedures: store}, nil, log),
	).WithClock(clock.Now)

	owner := clinic.Client
	staff := clinic.Staff

	_, err = p.Overview(ctx, staff)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	req, err := p.SubmitBookingRequest(ctx, owner, scheduling.BookingRequest{
		CustomerID:     "someone",
		PetID:          pet.ID,
		ServiceIDs:     []string{svc.ID},
		PreferredDates: []string{"2026-03-04"},
	})
	require.NoError(t, err)
	assert.Equal(t, c.ID, req.CustomerID)

	booked, err := sched.ScheduleBooking(ctx, staff, req.ID, scheduling.ScheduleInput{
		VetID:    clinic.Vet.UserID,
		StartsAt: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	second, err := p.SubmitBookingRequest(ctx, owner, scheduling.BookingRequest{
		PetID: pet.ID, ServiceIDs: []string{svc.ID}, PreferredDates: []string{"2026-03-05"},
	})
	require.NoError(t, err)

	ov, err := p.Overview(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, c.ID, ov.Customer.ID)
	assert.Len(t, ov.Pets, 1)
	require.Len(t, ov.Upcoming, 1)
	assert.Equal(t, booked.ID, ov.Upcoming[0].ID)
	require.Len(t, ov.Pending, 1)
	assert.Equal(t, second.ID, ov.Pending[0].ID)
	assert.Empty(t, ov.OpenInvoices)

	confirmed, err := p.Confirm(ctx, owner, booked.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, confirmed.Status)

	cancelled, err := p.Cancel(ctx, owner, second.ID, "", 0)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)

	slots, err := p.Availability(ctx, owner, clinic.Vet.UserID, "2026-03-04", []string{svc.ID})
	require.NoError(t, err)
	assert.NotContains(t, slots, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC))

	history, err := p.PetRecords(ctx, owner, pet.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = p.PetRecords(ctx, owner, other.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))
}
