package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	store := New(sqlx.NewDb(raw, "postgres")).WithClock(func() time.Time { return fixedNow })
	return store, mock
}

func columns(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func appointmentRows(status appointment.Status, version int) *sqlmock.Rows {
	start := fixedNow.Add(24 * time.Hour)
	end := start.Add(30 * time.Minute)
	var startsAt, endsAt any
	vet := ""
	if status != appointment.StatusPendingScheduling {
		startsAt, endsAt, vet = start, end, "vet-1"
	}
	return sqlmock.NewRows(columns(appointmentColumns)).AddRow(
		"a1", "t1", "c1", "p1", "{s1}", vet, string(status), "{2026-03-03}",
		"any", "", startsAt, endsAt, 30, "", "portal", version,
		"u1", "", fixedNow, fixedNow, nil, nil, nil, nil,
	)
}

func TestGetTenantNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM tenants WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns(tenantColumns)))

	_, err := store.GetTenant(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignSlotRejectsOverlap(t *testing.T) {
	store, mock := newMockStore(t)
	start := fixedNow.Add(26 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM appointments\s+WHERE tenant_id = \$1 AND id = \$2\s+FOR UPDATE`).
		WithArgs("t1", "a1").
		WillReturnRows(appointmentRows(appointment.StatusPendingScheduling, 1))
	mock.ExpectQuery(`FROM tenant_members\s+WHERE tenant_id = \$1 AND user_id = \$2\s+FOR UPDATE`).
		WithArgs("t1", "vet-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("vet-1"))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("t1", "vet-1", "a1", start, start.Add(30*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := store.AssignSlot(context.Background(), appointment.SlotRequest{
		TenantID:      "t1",
		AppointmentID: "a1",
		From:          []appointment.Status{appointment.StatusPendingScheduling},
		VetID:         "vet-1",
		StartsAt:      start,
		EndsAt:        start.Add(30 * time.Minute),
		ActorID:       "staff-1",
		At:            fixedNow,
	})
	assert.ErrorIs(t, err, storage.ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignSlotSchedules(t *testing.T) {
	store, mock := newMockStore(t)
	start := fixedNow.Add(26 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1", "a1").
		WillReturnRows(appointmentRows(appointment.StatusPendingScheduling, 1))
	mock.ExpectQuery(`FROM tenant_members`).WithArgs("t1", "vet-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("vet-1"))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`UPDATE appointments`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	appt, err := store.AssignSlot(context.Background(), appointment.SlotRequest{
		TenantID:        "t1",
		AppointmentID:   "a1",
		ExpectedVersion: 1,
		From:            []appointment.Status{appointment.StatusPendingScheduling},
		VetID:           "vet-1",
		StartsAt:        start,
		EndsAt:          start.Add(45 * time.Minute),
		ActorID:         "staff-1",
		At:              fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, appt.Status)
	assert.Equal(t, 2, appt.Version)
	assert.Equal(t, 45, appt.DurationMinutes)
	assert.Equal(t, []string{"s1"}, appt.ServiceIDs)
	require.NotNil(t, appt.ScheduledAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRejectsStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1", "a1").
		WillReturnRows(appointmentRows(appointment.StatusScheduled, 3))
	mock.ExpectRollback()

	_, err := store.TransitionStatus(context.Background(), appointment.Transition{
		TenantID:        "t1",
		AppointmentID:   "a1",
		ExpectedVersion: 2,
		From:            []appointment.Status{appointment.StatusScheduled},
		To:              appointment.StatusConfirmed,
		At:              fixedNow,
	})
	assert.ErrorIs(t, err, storage.ErrVersionMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRejectsWrongStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("t1", "a1").
		WillReturnRows(appointmentRows(appointment.StatusCancelled, 4))
	mock.ExpectRollback()

	_, err := store.TransitionStatus(context.Background(), appointment.Transition{
		TenantID:      "t1",
		AppointmentID: "a1",
		From:          appointment.SourcesFor(appointment.StatusConfirmed),
		To:            appointment.StatusConfirmed,
		At:            fixedNow,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCommissionInvoiceReturnsExisting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM appointments WHERE tenant_id = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs("t1", "a1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1"))
	mock.ExpectQuery(`FROM invoices WHERE tenant_id = \$1 AND appointment_id = \$2`).
		WithArgs("t1", "a1").
		WillReturnRows(sqlmock.NewRows(columns(invoiceColumns)).AddRow(
			"i1", "t1", "c1", "a1", "INV-000001", "issued",
			[]byte(`[{"id":"l1","kind":"service","ref_id":"s1","description":"Checkup","quantity":1,"unit_price_cents":5000,"total_cents":5000}]`),
			5000, 500, 250, 0, fixedNow, nil, nil, fixedNow, fixedNow,
		))
	mock.ExpectCommit()

	inv, created, err := store.CreateCommissionInvoice(context.Background(), billing.CommissionRequest{
		TenantID:      "t1",
		AppointmentID: "a1",
		CustomerID:    "c1",
		CommissionBps: 500,
		At:            fixedNow,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "INV-000001", inv.Number)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, int64(5000), inv.Lines[0].TotalCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func draftInvoiceRows(lines string, subtotal int64) *sqlmock.Rows {
	return sqlmock.NewRows(columns(invoiceColumns)).AddRow(
		"i1", "t1", "c1", "", "INV-000002", "draft", []byte(lines),
		subtotal, 500, billing.Commission(subtotal, 500), 0, nil, nil, nil, fixedNow, fixedNow,
	)
}

func TestIssueInvoiceWritesOnlyStatusColumns(t *testing.T) {
	store, mock := newMockStore(t)
	issuedAt := fixedNow.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM invoices\s+WHERE tenant_id = \$1 AND id = \$2\s+FOR UPDATE`).
		WithArgs("t1", "i1").
		WillReturnRows(draftInvoiceRows(`[{"id":"l1","kind":"product","ref_id":"p1","description":"Flea drops","quantity":2,"unit_price_cents":1500,"total_cents":3000}]`, 3000))
	mock.ExpectExec(`UPDATE invoices SET status = \$3, issued_at = \$4, paid_at = \$5, updated_at = \$6\s+WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("t1", "i1", "issued", issuedAt, nil, issuedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inv, err := store.IssueInvoice(context.Background(), "t1", "i1", issuedAt)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusIssued, inv.Status)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, int64(3000), inv.SubtotalCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueInvoiceSettlesZeroTotal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("t1", "i1").
		WillReturnRows(draftInvoiceRows(`[{"id":"l1","kind":"service","ref_id":"s1","description":"Recheck","quantity":1,"unit_price_cents":0,"total_cents":0}]`, 0))
	mock.ExpectExec(`UPDATE invoices SET status`).
		WithArgs("t1", "i1", "paid", fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inv, err := store.IssueInvoice(context.Background(), "t1", "i1", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueInvoiceRejectsEmptyDraft(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("t1", "i1").
		WillReturnRows(draftInvoiceRows(`[]`, 0))
	mock.ExpectRollback()

	_, err := store.IssueInvoice(context.Background(), "t1", "i1", fixedNow)
	assert.ErrorIs(t, err, storage.ErrEmptyInvoice)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppointmentsOverlapWindow(t *testing.T) {
	store, mock := newMockStore(t)
	open := fixedNow.Add(24 * time.Hour)
	closing := open.Add(10 * time.Hour)

	mock.ExpectQuery(`vet_id = \$2 AND starts_at < \$3 AND ends_at > \$4 ORDER BY`).
		WithArgs("t1", "vet-1", closing, open).
		WillReturnRows(appointmentRows(appointment.StatusScheduled, 2))

	list, err := store.ListAppointments(context.Background(), "t1", appointment.Filter{
		VetID:     "vet-1",
		To:        &closing,
		EndsAfter: &open,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockRefusesNegative(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE products SET stock = stock \+ \$3`).
		WithArgs("t1", "p1", -5, fixedNow).
		WillReturnRows(sqlmock.NewRows(columns(productColumns)))
	mock.ExpectQuery(`SELECT stock FROM products`).
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(2))
	mock.ExpectRollback()

	_, _, err := store.AdjustStock(context.Background(), inventory.Adjustment{
		TenantID:  "t1",
		ProductID: "p1",
		Delta:     -5,
		Reason:    inventory.ReasonAdjustment,
		At:        fixedNow,
	})
	assert.ErrorIs(t, err, storage.ErrInsufficientStock)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustStockRecordsMovement(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE products SET stock`).
		WithArgs("t1", "p1", 10, fixedNow).
		WillReturnRows(sqlmock.NewRows(columns(productColumns)).AddRow(
			"p1", "t1", "VAX-1", "Vaccine", "dose", 1500, 12, 3, true, fixedNow, fixedNow,
		))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO stock_movements`)).
		WithArgs(sqlmock.AnyArg(), "t1", "p1", 10, "purchase", "", "u1", 12, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	product, mv, err := store.AdjustStock(context.Background(), inventory.Adjustment{
		TenantID:  "t1",
		ProductID: "p1",
		Delta:     10,
		Reason:    inventory.ReasonPurchase,
		ActorID:   "u1",
		At:        fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, product.Stock)
	assert.Equal(t, 12, mv.StockAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueNotificationReturnsExistingOnDuplicateKey(t *testing.T) {
	store, mock := newMockStore(t)
	key := "a1:appointment_confirmed:2:user:u1"

	mock.ExpectQuery(`INSERT INTO notifications .* ON CONFLICT \(idempotency_key\) DO NOTHING`).
		WillReturnRows(sqlmock.NewRows(columns(notificationColumns)))
	mock.ExpectQuery(`WHERE idempotency_key = \$1`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(columns(notificationColumns)).AddRow(
			"n1", "t1", "appointment_confirmed", "a1", "", []byte(`{"user_id":"u1"}`), key,
			[]byte(`{"status":"confirmed"}`), "sent", 1, "", fixedNow, fixedNow, fixedNow,
		))

	n, created, err := store.EnqueueNotification(context.Background(), notification.Notification{
		TenantID:       "t1",
		Kind:           notification.KindAppointmentConfirmed,
		AppointmentID:  "a1",
		Recipient:      notification.Recipient{UserID: "u1"},
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, notification.StatusSent, n.Status)
	assert.Equal(t, "u1", n.Recipient.UserID)
	assert.Equal(t, "confirmed", n.Payload["status"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		code   pq.ErrorCode
		target error
	}{
		{codeUniqueViolation, storage.ErrConflict},
		{codeExclusionViolation, storage.ErrSlotTaken},
		{codeForeignKey, storage.ErrNotFound},
	}
	for _, tc := range cases {
		err := mapErr(&pq.Error{Code: tc.code}, "thing")
		assert.ErrorIs(t, err, tc.target, string(tc.code))
	}
	stock := mapErr(&pq.Error{Code: codeCheckViolation, Constraint: "products_stock_check"}, "product")
	assert.ErrorIs(t, stock, storage.ErrInsufficientStock)

	other := errors.New("boom")
	assert.ErrorIs(t, mapErr(other, "thing"), other)
	assert.NoError(t, mapErr(nil, "thing"))
}
