package supabase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type recorded struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   string
}

type reply struct {
	status int
	body   string
}

// fakeREST answers requests keyed by "METHOD /path" in order.
type fakeREST struct {
	mu       sync.Mutex
	replies  map[string][]reply
	requests []recorded
}

func (f *fakeREST) on(method, path string, status int, body string) {
	key := method + " " + path
	f.replies[key] = append(f.replies[key], reply{status: status, body: body})
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone(), Body: string(body)})
	key := r.Method + " " + r.URL.Path
	queue := f.replies[key]
	var rep reply
	if len(queue) > 0 {
		rep = queue[0]
		f.replies[key] = queue[1:]
	} else {
		rep = reply{status: http.StatusNotImplemented, body: `{"message":"unexpected ` + key + `"}`}
	}
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_, _ = w.Write([]byte(rep.body))
}

func newFakeStore(t *testing.T) (*Store, *fakeREST) {
	t.Helper()
	fake := &fakeREST{replies: map[string][]reply{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := sb.New(sb.Config{
		URL:    srv.URL,
		APIKey: "service-key",
		Retry:  sb.RetryConfig{Attempts: 1},
		Logger: logger.Discard(),
	})
	require.NoError(t, err)
	return New(client).WithClock(func() time.Time { return fixedNow }), fake
}

func TestGetTenantNotFound(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodGet, "/rest/v1/tenants", http.StatusOK, `[]`)

	_, err := store.GetTenant(context.Background(), "t1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, []string{"eq.t1"}, fake.requests[0].Query["id"])
	assert.Equal(t, []string{"1"}, fake.requests[0].Query["limit"])
	assert.Equal(t, "service-key", fake.requests[0].Header.Get("apikey"))
}

func TestCreateTenantConflict(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/tenants", http.StatusConflict,
		`{"code":"23505","message":"duplicate key value violates unique constraint \"tenants_slug_key\""}`)

	_, err := store.CreateTenant(context.Background(), tenant.Tenant{Name: "Paws", Slug: "paws", Timezone: "UTC"})
	require.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, "paws", gjson.Get(fake.requests[0].Body, "slug").String())
	assert.NotEmpty(t, gjson.Get(fake.requests[0].Body, "id").String())
}

func TestListCustomersSearchesContactFields(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodGet, "/rest/v1/customers", http.StatusOK, `[{"id":"c1","tenant_id":"t1","first_name":"Ann","last_name":"Lee"}]`)

	got, err := store.ListCustomers(context.Background(), "t1", " ann ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ann", got[0].FirstName)

	q := fake.requests[0].Query
	assert.Equal(t, []string{`(first_name.ilike."*ann*",last_name.ilike."*ann*",email.ilike."*ann*",phone.ilike."*ann*")`}, q["or"])
	assert.Equal(t, []string{"last_name.asc,first_name.asc,id.asc"}, q["order"])
}

func TestGetPetParsesBirthDate(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodGet, "/rest/v1/pets", http.StatusOK,
		`[{"id":"p1","tenant_id":"t1","customer_id":"c1","name":"Rex","species":"dog","birth_date":"2020-05-17","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]`)

	pet, err := store.GetPet(context.Background(), "t1", "p1")
	require.NoError(t, err)
	require.NotNil(t, pet.BirthDate)
	assert.Equal(t, time.Date(2020, 5, 17, 0, 0, 0, 0, time.UTC), *pet.BirthDate)
}

func TestCreatePetRequiresCustomerInTenant(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodGet, "/rest/v1/customers", http.StatusOK, `[]`)

	_, err := store.CreatePet(context.Background(), customerPet())
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Len(t, fake.requests, 1)
}

func TestListAppointmentsOverlapWindow(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodGet, "/rest/v1/appointments", http.StatusOK, `[]`)
	open := fixedNow.Add(24 * time.Hour)
	closing := open.Add(10 * time.Hour)

	_, err := store.ListAppointments(context.Background(), "t1", appointment.Filter{VetID: "vet-1", To: &closing, EndsAfter: &open})
	require.NoError(t, err)

	q := fake.requests[0].Query
	assert.Equal(t, []string{"lt.2026-03-03T18:00:00Z"}, q["starts_at"])
	assert.Equal(t, []string{"gt.2026-03-03T08:00:00Z"}, q["ends_at"])
}

func TestAssignSlotMapsOverlap(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/rpc/assign_appointment_slot", http.StatusConflict,
		`{"code":"23P01","message":"slot overlaps an existing appointment"}`)

	start := fixedNow.Add(24 * time.Hour)
	_, err := store.AssignSlot(context.Background(), appointment.SlotRequest{
		TenantID:      "t1",
		AppointmentID: "a1",
		From:          []appointment.Status{appointment.StatusPendingScheduling},
		VetID:         "vet-1",
		StartsAt:      start,
		EndsAt:        start.Add(30 * time.Minute),
		ActorID:       "s1",
		At:            fixedNow,
	})
	require.ErrorIs(t, err, storage.ErrSlotTaken)

	body := gjson.Parse(fake.requests[0].Body)
	assert.Equal(t, "a1", body.Get("req.appointment_id").String())
	assert.Equal(t, "vet-1", body.Get("req.vet_id").String())
	assert.Equal(t, "pending_scheduling", body.Get("req.from.0").String())
}

func TestTransitionMapsProcedureCodes(t *testing.T) {
	cases := map[string]error{
		"VC409": storage.ErrInvalidStatus,
		"VC412": storage.ErrVersionMismatch,
		"P0002": storage.ErrNotFound,
	}
	for code, want := range cases {
		t.Run(code, func(t *testing.T) {
			store, fake := newFakeStore(t)
			fake.on(http.MethodPost, "/rest/v1/rpc/transition_appointment_status", http.StatusBadRequest,
				`{"code":"`+code+`","message":"rejected"}`)
			_, err := store.TransitionStatus(context.Background(), appointment.Transition{
				TenantID: "t1", AppointmentID: "a1", To: appointment.StatusConfirmed, At: fixedNow,
			})
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestCompleteAppointmentDecodesBothHalves(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/rpc/complete_appointment", http.StatusOK, `{
		"appointment": {"id":"a1","tenant_id":"t1","status":"completed","version":4,"service_ids":["s1"]},
		"invoice": {"id":"i1","tenant_id":"t1","appointment_id":"a1","number":"INV-000001","status":"issued",
			"lines":[{"id":"l1","kind":"service","ref_id":"s1","description":"Checkup","quantity":1,"unit_price_cents":5000,"total_cents":5000}],
			"subtotal_cents":5000,"commission_bps":500,"commission_cents":250}
	}`)

	a, inv, err := store.CompleteAppointment(context.Background(),
		appointment.Transition{TenantID: "t1", AppointmentID: "a1", To: appointment.StatusCompleted, At: fixedNow},
		billing.CommissionRequest{TenantID: "t1", AppointmentID: "a1", CustomerID: "c1", CommissionBps: 500, At: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, a.Status)
	assert.Equal(t, 4, a.Version)
	assert.Equal(t, "INV-000001", inv.Number)
	assert.Equal(t, int64(250), inv.CommissionCents)
	require.Len(t, inv.Lines, 1)

	body := gjson.Parse(fake.requests[0].Body)
	assert.Equal(t, "completed", body.Get("req.transition.to").String())
	assert.Equal(t, int64(500), body.Get("req.commission.commission_bps").Int())
}

func TestCreateCommissionInvoiceReportsExisting(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/rpc/create_commission_invoice", http.StatusOK,
		`{"invoice":{"id":"i1","tenant_id":"t1","number":"INV-000003","status":"issued","lines":[]},"created":false}`)

	inv, created, err := store.CreateCommissionInvoice(context.Background(), billing.CommissionRequest{TenantID: "t1", AppointmentID: "a1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "i1", inv.ID)
}

func TestCreateInvoiceDrawsNumber(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/rpc/next_invoice_number", http.StatusOK, `"INV-000007"`)
	fake.on(http.MethodPost, "/rest/v1/invoices", http.StatusCreated, `[{}]`)

	inv, err := store.CreateInvoice(context.Background(), billing.Invoice{
		TenantID:   "t1",
		CustomerID: "c1",
		Status:     billing.StatusDraft,
		Lines:      []billing.Line{{Kind: billing.LineService, RefID: "svc-1", Description: "Nail trim", Quantity: 2, UnitPriceCents: 1500}},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-000007", inv.Number)
	assert.Equal(t, int64(3000), inv.SubtotalCents)
	assert.NotEmpty(t, inv.Lines[0].ID)

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "t1", gjson.Get(fake.requests[0].Body, "req.tenant_id").String())
	assert.Equal(t, "INV-000007", gjson.Get(fake.requests[1].Body, "number").String())
}

func TestRecordPaymentOverpayment(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/rpc/record_invoice_payment", http.StatusBadRequest,
		`{"code":"VC402","message":"payment exceeds balance"}`)
	fake.on(http.MethodPost, "/rest/v1/rpc/record_invoice_payment", http.StatusOK,
		`{"invoice":{"id":"i1","status":"paid","paid_cents":5000,"subtotal_cents":5000},"payment":{"id":"p1","invoice_id":"i1","amount_cents":5000,"method":"card"}}`)

	_, _, err := store.RecordPayment(context.Background(), billing.Payment{TenantID: "t1", InvoiceID: "i1", AmountCents: 9000, Method: "card"})
	require.ErrorIs(t, err, storage.ErrOverpayment)

	inv, pay, err := store.RecordPayment(context.Background(), billing.Payment{TenantID: "t1", InvoiceID: "i1", AmountCents: 5000, Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, inv.Status)
	assert.Equal(t, "p1", pay.ID)
	assert.Equal(t, fixedNow.Format(time.RFC3339), gjson.Get(fake.requests[1].Body, "req.created_at").String())
}

func TestIssueInvoiceCallsProcedure(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/rpc/issue_invoice", http.StatusBadRequest,
		`{"code":"VC400","message":"invoice i1 has no lines"}`)
	fake.on(http.MethodPost, "/rest/v1/rpc/issue_invoice", http.StatusOK,
		`{"id":"i1","status":"issued","subtotal_cents":3000,"lines":[{"id":"l1","kind":"product","quantity":2,"unit_price_cents":1500,"total_cents":3000}]}`)

	_, err := store.IssueInvoice(context.Background(), "t1", "i1", fixedNow)
	require.ErrorIs(t, err, storage.ErrEmptyInvoice)

	inv, err := store.IssueInvoice(context.Background(), "t1", "i1", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusIssued, inv.Status)
	require.Len(t, inv.Lines, 1)
	require.Len(t, fake.requests, 2)
	assert.Equal(t, "i1", gjson.Get(fake.requests[1].Body, "req.invoice_id").String())
	assert.Equal(t, fixedNow.Format(time.RFC3339), gjson.Get(fake.requests[1].Body, "req.at").String())
}

func TestAdjustStockInsufficient(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/rpc/adjust_product_stock", http.StatusBadRequest,
		`{"code":"VC422","message":"insufficient stock"}`)

	_, _, err := store.AdjustStock(context.Background(), inventoryAdjustment(-5))
	require.ErrorIs(t, err, storage.ErrInsufficientStock)
}

func TestEnqueueNotificationReturnsExisting(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/notifications", http.StatusCreated, `[]`)
	fake.on(http.MethodGet, "/rest/v1/notifications", http.StatusOK,
		`[{"id":"n-old","tenant_id":"t1","kind":"booking_received","idempotency_key":"k1","status":"sent","recipient":{"role":"staff"}}]`)

	n, created, err := store.EnqueueNotification(context.Background(), notification.Notification{
		TenantID:       "t1",
		Kind:           notification.KindBookingReceived,
		IdempotencyKey: "k1",
		Recipient:      notification.Recipient{Role: "staff"},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "n-old", n.ID)

	insert := fake.requests[0]
	assert.Equal(t, []string{"idempotency_key"}, insert.Query["on_conflict"])
	assert.Contains(t, insert.Header.Get("Prefer"), "resolution=ignore-duplicates")
	assert.Equal(t, "pending", gjson.Get(insert.Body, "status").String())
	assert.Equal(t, []string{"eq.k1"}, fake.requests[1].Query["idempotency_key"])
}

func TestEnqueueNotificationRequiresKey(t *testing.T) {
	store, _ := newFakeStore(t)
	_, _, err := store.EnqueueNotification(context.Background(), notification.Notification{TenantID: "t1"})
	assert.Error(t, err)
}

func TestDeleteMemberNotFound(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodDelete, "/rest/v1/tenant_members", http.StatusOK, `[]`)

	err := store.DeleteMember(context.Background(), "t1", "u1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAPIKeyRoundTripsHash(t *testing.T) {
	store, fake := newFakeStore(t)
	fake.on(http.MethodPost, "/rest/v1/api_keys", http.StatusCreated, `[{}]`)
	fake.on(http.MethodGet, "/rest/v1/api_keys", http.StatusOK,
		`[{"id":"k1","tenant_id":"t1","name":"ci","role":"staff","hash":"abc","created_at":"2026-03-02T08:00:00Z"}]`)

	_, err := store.CreateAPIKey(context.Background(), tenant.APIKey{ID: "k1", TenantID: "t1", Name: "ci", Role: tenant.RoleStaff, Hash: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", gjson.Get(fake.requests[0].Body, "hash").String())

	key, err := store.GetAPIKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "abc", key.Hash)
	assert.True(t, key.Active())
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil, "x"))

	plain := errors.New("boom")
	assert.ErrorIs(t, mapErr(plain, "x"), plain)

	notFoundErr := &sb.APIError{StatusCode: http.StatusNotAcceptable, Code: codeNoRows}
	assert.ErrorIs(t, mapErr(notFoundErr, "x"), storage.ErrNotFound)

	fk := &sb.APIError{StatusCode: http.StatusConflict, Code: codeForeignKey}
	assert.ErrorIs(t, mapErr(fk, "x"), storage.ErrNotFound)

	other := &sb.APIError{StatusCode: http.StatusBadRequest, Code: "22023", Message: "bad"}
	err := mapErr(other, "x")
	_, ok := sb.AsAPIError(err)
	assert.True(t, ok)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}

func TestAnyILikeQuotesReservedCharacters(t *testing.T) {
	got := anyILike(`a,b"(c)`, "email")
	assert.Equal(t, `email.ilike."*a,b\"(c)*"`, got)
}

func customerPet() customer.Pet {
	return customer.Pet{TenantID: "t1", CustomerID: "c-other", Name: "Rex", Species: "dog"}
}

func inventoryAdjustment(delta int) inventory.Adjustment {
	return inventory.Adjustment{
		TenantID: "t1", ProductID: "prod-1", Delta: delta, Reason: inventory.ReasonAdjustment, ActorID: "s1", At: fixedNow,
	}
}
