package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersAndHandler(t *testing.T) {
	RecordBookingRequest("portal")
	RecordAppointmentTransition("scheduled", "confirmed")
	RecordSlotConflict()
	RecordNotification("appointment_confirmed", "sent", 0)
	RecordJobRun("reminders", true)
	RecordInvoice(5000, 250)
	RecordHTTPRequest("GET", "/healthz", "200", 3*time.Millisecond)

	if got := testutil.ToFloat64(bookingRequests.WithLabelValues("portal")); got < 1 {
		t.Fatalf("expected booking counter to move, got %v", got)
	}
	if got := testutil.ToFloat64(invoiceCents.WithLabelValues("commission")); got < 250 {
		t.Fatalf("expected commission cents, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vetclinic_scheduling_slot_conflicts_total") {
		t.Fatalf("slot conflict metric missing from exposition")
	}
}
