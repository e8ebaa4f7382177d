package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vetclinic",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vetclinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	bookingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking requests and direct bookings created, by source.",
		},
		[]string{"source"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment status transitions.",
		},
		[]string{"from", "to"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "scheduling",
			Name:      "slot_conflicts_total",
			Help:      "Slot assignments rejected because the vet was already booked.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notification delivery outcomes.",
		},
		[]string{"kind", "result"},
	)

	notificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vetclinic",
			Subsystem: "notifications",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of notification deliveries including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"kind"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs.",
		},
		[]string{"job", "success"},
	)

	invoiceCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetclinic",
			Subsystem: "billing",
			Name:      "invoiced_cents_total",
			Help:      "Invoiced amounts in cents, split into subtotal and commission.",
		},
		[]string{"component"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		bookingRequests,
		transitions,
		slotConflicts,
		notifications,
		notificationDuration,
		jobRuns,
		invoiceCents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight and DecInFlight track concurrent HTTP requests.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight decrements the in-flight gauge.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled request. path should be a route
// template, not the raw URL, to keep label cardinality bounded.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBookingRequest counts a new booking.
func RecordBookingRequest(source string) {
	bookingRequests.WithLabelValues(source).Inc()
}

// RecordAppointmentTransition counts a status change.
func RecordAppointmentTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

// RecordSlotConflict counts a rejected slot assignment.
func RecordSlotConflict() {
	slotConflicts.Inc()
}

// RecordNotification records a delivery attempt outcome.
func RecordNotification(kind, result string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	notifications.WithLabelValues(kind, result).Inc()
	notificationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordJobRun records a scheduled job execution.
func RecordJobRun(job string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	jobRuns.WithLabelValues(job, result).Inc()
}

// RecordInvoice adds an issued invoice's amounts.
func RecordInvoice(subtotalCents, commissionCents int64) {
	invoiceCents.WithLabelValues("subtotal").Add(float64(subtotalCents))
	invoiceCents.WithLabelValues("commission").Add(float64(commissionCents))
}
