package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newPending(t *testing.T, s *Store, tenantID string) appointment.Appointment {
	t.Helper()
	a, err := s.CreateAppointment(context.Background(), appointment.Appointment{
		TenantID:   tenantID,
		CustomerID: "c1",
		PetID:      "p1",
		ServiceIDs: []string{"svc"},
		Status:     appointment.StatusPendingScheduling,
	})
	require.NoError(t, err)
	return a
}

func slot(tenantID, id string, start time.Time, minutes int) appointment.SlotRequest {
	return appointment.SlotRequest{
		TenantID:      tenantID,
		AppointmentID: id,
		From:          []appointment.Status{appointment.StatusPendingScheduling},
		VetID:         "vet-1",
		StartsAt:      start,
		EndsAt:        start.Add(time.Duration(minutes) * time.Minute),
		ActorID:       "staff-1",
		At:            base.Add(-24 * time.Hour),
	}
}

func TestTenantSlugUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateTenant(ctx, tenant.Tenant{Name: "Paws", Slug: "paws"})
	require.NoError(t, err)
	_, err = s.CreateTenant(ctx, tenant.Tenant{Name: "Paws 2", Slug: "PAWS"})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestAssignSlotRejectsOverlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := newPending(t, s, "t1")
	second := newPending(t, s, "t1")

	got, err := s.AssignSlot(ctx, slot("t1", first.ID, base, 30))
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, got.Status)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, 30, got.DurationMinutes)

	_, err = s.AssignSlot(ctx, slot("t1", second.ID, base.Add(15*time.Minute), 30))
	assert.ErrorIs(t, err, storage.ErrSlotTaken)

	_, err = s.AssignSlot(ctx, slot("t1", second.ID, base.Add(30*time.Minute), 30))
	assert.NoError(t, err, "adjacent slot is free")
}

func TestAssignSlotIgnoresOtherTenantsAndCancelled(t *testing.T) {
	s := New()
	ctx := context.Background()
	other := newPending(t, s, "t2")
	_, err := s.AssignSlot(ctx, slot("t2", other.ID, base, 30))
	require.NoError(t, err)

	mine := newPending(t, s, "t1")
	_, err = s.AssignSlot(ctx, slot("t1", mine.ID, base, 30))
	require.NoError(t, err)

	_, err = s.TransitionStatus(ctx, appointment.Transition{
		TenantID: "t1", AppointmentID: mine.ID, From: appointment.SourcesFor(appointment.StatusCancelled),
		To: appointment.StatusCancelled, At: base,
	})
	require.NoError(t, err)

	again := newPending(t, s, "t1")
	_, err = s.AssignSlot(ctx, slot("t1", again.ID, base, 30))
	assert.NoError(t, err)
}

func TestAssignSlotConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	const n = 10
	ids := make([]string, n)
	for i := range ids {
		ids[i] = newPending(t, s, "t1").ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, taken := 0, 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.AssignSlot(ctx, slot("t1", id, base, 45))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrSlotTaken):
				taken++
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, taken)
}

func TestAssignSlotCreatesScheduled(t *testing.T) {
	s := New()
	req := slot("t1", "", base, 20)
	req.New = &appointment.Appointment{CustomerID: "c1", PetID: "p1", ServiceIDs: []string{"svc"}, Source: appointment.SourceStaff}
	got, err := s.AssignSlot(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "staff-1", got.CreatedBy)
	assert.Equal(t, appointment.StatusScheduled, got.Status)
}

func TestTransitionGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := newPending(t, s, "t1")

	_, err := s.TransitionStatus(ctx, appointment.Transition{
		TenantID: "t1", AppointmentID: a.ID, From: []appointment.Status{appointment.StatusScheduled}, To: appointment.StatusConfirmed, At: base,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidStatus)

	_, err = s.TransitionStatus(ctx, appointment.Transition{
		TenantID: "t1", AppointmentID: a.ID, ExpectedVersion: 7,
		From: []appointment.Status{appointment.StatusPendingScheduling}, To: appointment.StatusCancelled, At: base,
	})
	assert.ErrorIs(t, err, storage.ErrVersionMismatch)

	_, err = s.TransitionStatus(ctx, appointment.Transition{
		TenantID: "t2", AppointmentID: a.ID, From: []appointment.Status{appointment.StatusPendingScheduling}, To: appointment.StatusCancelled, At: base,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompleteAppointmentCreatesSingleInvoice(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := newPending(t, s, "t1")
	_, err := s.AssignSlot(ctx, slot("t1", a.ID, base, 30))
	require.NoError(t, err)

	req := billing.CommissionRequest{
		TenantID: "t1", AppointmentID: a.ID, CustomerID: "c1", CommissionBps: 500,
		Lines: []billing.Line{{Kind: billing.LineService, RefID: "svc", Description: "Checkup", Quantity: 1, UnitPriceCents: 5000}},
		At:    base.Add(time.Hour),
	}
	done, inv, err := s.CompleteAppointment(ctx, appointment.Transition{
		TenantID: "t1", AppointmentID: a.ID, From: appointment.SourcesFor(appointment.StatusCompleted),
		To: appointment.StatusCompleted, At: base.Add(time.Hour),
	}, req)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, done.Status)
	assert.Equal(t, billing.StatusIssued, inv.Status)
	assert.Equal(t, int64(250), inv.CommissionCents)
	assert.Equal(t, "INV-000001", inv.Number)

	again, created, err := s.CreateCommissionInvoice(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, inv.ID, again.ID)
}

func TestCompleteFreeVisitSettlesInvoice(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := newPending(t, s, "t1")
	_, err := s.AssignSlot(ctx, slot("t1", a.ID, base, 15))
	require.NoError(t, err)

	at := base.Add(30 * time.Minute)
	_, inv, err := s.CompleteAppointment(ctx, appointment.Transition{
		TenantID: "t1", AppointmentID: a.ID, From: appointment.SourcesFor(appointment.StatusCompleted),
		To: appointment.StatusCompleted, At: at,
	}, billing.CommissionRequest{
		TenantID: "t1", AppointmentID: a.ID, CustomerID: "c1", CommissionBps: 500,
		Lines: []billing.Line{{Kind: billing.LineService, RefID: "svc", Description: "Recheck", Quantity: 1}},
		At:    at,
	})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	assert.True(t, inv.PaidAt.Equal(at))
}

func TestIssueInvoiceGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	empty, err := s.CreateInvoice(ctx, billing.Invoice{TenantID: "t1", CustomerID: "c1", Status: billing.StatusDraft})
	require.NoError(t, err)
	_, err = s.IssueInvoice(ctx, "t1", empty.ID, base)
	assert.ErrorIs(t, err, storage.ErrEmptyInvoice)
	_, err = s.IssueInvoice(ctx, "t2", empty.ID, base)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	draft, err := s.CreateInvoice(ctx, billing.Invoice{
		TenantID: "t1", CustomerID: "c1", Status: billing.StatusDraft,
		Lines: []billing.Line{{Kind: billing.LineService, Quantity: 1, UnitPriceCents: 900}},
	})
	require.NoError(t, err)
	issued, err := s.IssueInvoice(ctx, "t1", draft.ID, base)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusIssued, issued.Status)
	_, err = s.IssueInvoice(ctx, "t1", draft.ID, base)
	assert.ErrorIs(t, err, storage.ErrInvalidStatus)
}

func TestCompleteAppointmentRollsBackOnInvoiceFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := newPending(t, s, "t1")
	_, err := s.AssignSlot(ctx, slot("t1", a.ID, base, 30))
	require.NoError(t, err)

	_, _, err = s.CompleteAppointment(ctx, appointment.Transition{
		TenantID: "t1", AppointmentID: a.ID, From: appointment.SourcesFor(appointment.StatusCompleted),
		To: appointment.StatusCompleted, At: base,
	}, billing.CommissionRequest{TenantID: "t1", AppointmentID: a.ID})
	require.Error(t, err)

	got, err := s.GetAppointment(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, got.Status)
}

func TestStockNeverNegative(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, inventory.Product{TenantID: "t1", SKU: "VAX-1", Name: "Vaccine", PriceCents: 1200})
	require.NoError(t, err)

	_, mv, err := s.AdjustStock(ctx, inventory.Adjustment{TenantID: "t1", ProductID: p.ID, Delta: 3, Reason: inventory.ReasonPurchase, At: base})
	require.NoError(t, err)
	assert.Equal(t, 3, mv.StockAfter)

	_, _, err = s.AdjustStock(ctx, inventory.Adjustment{TenantID: "t1", ProductID: p.ID, Delta: -4, Reason: inventory.ReasonSale, At: base})
	assert.ErrorIs(t, err, storage.ErrInsufficientStock)

	got, err := s.GetProduct(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}

func TestProductLinePaymentAndVoid(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, inventory.Product{TenantID: "t1", SKU: "FOOD", Name: "Food", PriceCents: 800})
	require.NoError(t, err)
	_, _, err = s.AdjustStock(ctx, inventory.Adjustment{TenantID: "t1", ProductID: p.ID, Delta: 5, Reason: inventory.ReasonPurchase, At: base})
	require.NoError(t, err)

	inv, err := s.CreateInvoice(ctx, billing.Invoice{TenantID: "t1", CustomerID: "c1", Status: billing.StatusDraft})
	require.NoError(t, err)

	inv, err = s.AddProductLine(ctx, billing.ProductLineRequest{TenantID: "t1", InvoiceID: inv.ID, ProductID: p.ID, Quantity: 2, At: base})
	require.NoError(t, err)
	assert.Equal(t, int64(1600), inv.SubtotalCents)

	_, _, err = s.RecordPayment(ctx, billing.Payment{TenantID: "t1", InvoiceID: inv.ID, AmountCents: 100, CreatedAt: base})
	assert.ErrorIs(t, err, storage.ErrInvalidStatus, "draft invoices take no payments")

	voided, err := s.VoidInvoice(ctx, "t1", inv.ID, "staff-1", base)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusVoid, voided.Status)

	got, err := s.GetProduct(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestRecordPaymentMarksPaid(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := base
	inv, err := s.CreateInvoice(ctx, billing.Invoice{
		TenantID: "t1", Status: billing.StatusIssued, IssuedAt: &at,
		Lines: []billing.Line{{Kind: billing.LineService, Quantity: 1, UnitPriceCents: 1000}},
	})
	require.NoError(t, err)

	_, _, err = s.RecordPayment(ctx, billing.Payment{TenantID: "t1", InvoiceID: inv.ID, AmountCents: 1001, CreatedAt: base})
	assert.ErrorIs(t, err, storage.ErrOverpayment)

	inv, _, err = s.RecordPayment(ctx, billing.Payment{TenantID: "t1", InvoiceID: inv.ID, AmountCents: 400, CreatedAt: base})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusIssued, inv.Status)

	inv, _, err = s.RecordPayment(ctx, billing.Payment{TenantID: "t1", InvoiceID: inv.ID, AmountCents: 600, CreatedAt: base})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
}

func TestEnqueueNotificationIdempotent(t *testing.T) {
	s := New().WithClock(func() time.Time { return base })
	ctx := context.Background()
	n := notification.Notification{TenantID: "t1", Kind: notification.KindAppointmentConfirmed, IdempotencyKey: "a1:confirmed:3:user:u1"}

	first, created, err := s.EnqueueNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.EnqueueNotification(ctx, n)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	due, err := s.ListDueNotifications(ctx, base, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
