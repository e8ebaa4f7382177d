// Package scheduling implements the booking-request and appointment workflow.
//
// A booking request is an appointment in pending_scheduling. Staff assign it a
// vet and slot, after which it moves through confirmation to one of the
// terminal states. Every status or slot change goes through the atomic
// procedures of the storage layer; notifications are enqueued afterwards and a
// failed enqueue never undoes a committed transition.
package scheduling

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/metrics"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// SystemActor is recorded as the actor of automatic transitions.
const SystemActor = "system"

// ReasonExpired is the cancel reason of requests that were never scheduled.
const ReasonExpired = "expired"

// MaxNotesLength bounds the free-text notes of a booking request.
const MaxNotesLength = 2000

// MaxPreferredDates bounds the preferred dates of a booking request.
const MaxPreferredDates = 5

// Notifier enqueues notifications idempotently.
type Notifier interface {
	Enqueue(ctx context.Context, n notification.Notification) (notification.Notification, bool, error)
}

// Stores groups the persistence dependencies of the service.
type Stores struct {
	Tenants      storage.TenantStore
	Members      storage.MemberStore
	Customers    storage.CustomerStore
	Catalog      storage.CatalogStore
	Appointments storage.AppointmentStore
	Procedures   storage.Procedures
}

// Service runs the scheduling workflow.
type Service struct {
	tenants      storage.TenantStore
	members      storage.MemberStore
	customers    storage.CustomerStore
	catalog      storage.CatalogStore
	appointments storage.AppointmentStore
	procs        storage.Procedures
	notifier     Notifier
	log          *logger.Logger
	now          func() time.Time
}

// New creates a scheduling service. notifier may be nil.
func New(stores Stores, notifier Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("scheduling")
	}
	return &Service{
		tenants:      stores.Tenants,
		members:      stores.Members,
		customers:    stores.Customers,
		catalog:      stores.Catalog,
		appointments: stores.Appointments,
		procs:        stores.Procedures,
		notifier:     notifier,
		log:          log,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) loadTenant(ctx context.Context, tenantID string) (tenant.Tenant, error) {
	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return tenant.Tenant{}, storeerr.Translate(err, "tenant", tenantID)
	}
	return t, nil
}

// load fetches an appointment visible to the actor. Customers get NotFound for
// appointments that are not theirs.
func (s *Service) load(ctx context.Context, actor auth.Actor, id string) (appointment.Appointment, error) {
	a, err := s.appointments.GetAppointment(ctx, actor.TenantID, id)
	if err != nil {
		return appointment.Appointment{}, storeerr.Translate(err, "appointment", id)
	}
	if !actor.IsStaff() && !(actor.IsCustomer() && actor.CustomerID != "" && actor.CustomerID == a.CustomerID) {
		return appointment.Appointment{}, svcerrors.NotFound("appointment", id)
	}
	return a, nil
}

// resolveServices loads the requested catalog services. With activeOnly, a
// retired service is rejected.
func (s *Service) resolveServices(ctx context.Context, tenantID string, ids []string, max int, activeOnly bool) ([]catalog.Service, int, error) {
	if len(ids) == 0 {
		return nil, 0, svcerrors.InvalidInput("at least one service is required")
	}
	if max > 0 && len(ids) > max {
		return nil, 0, svcerrors.InvalidInput("at most %d services can be booked together", max)
	}
	seen := make(map[string]bool, len(ids))
	out := make([]catalog.Service, 0, len(ids))
	total := 0
	for _, id := range ids {
		if seen[id] {
			return nil, 0, svcerrors.InvalidInput("service %s is listed twice", id)
		}
		seen[id] = true
		svc, err := s.catalog.GetService(ctx, tenantID, id)
		if err != nil {
			if storeerr.IsNotFound(err) {
				return nil, 0, svcerrors.InvalidInput("unknown service %s", id)
			}
			return nil, 0, storeerr.Translate(err, "service", id)
		}
		if activeOnly && !svc.Active {
			return nil, 0, svcerrors.InvalidInput("service %s is not available", svc.Name)
		}
		out = append(out, svc)
		total += svc.DurationMinutes
	}
	return out, total, nil
}

// resolvePet checks that the pet belongs to the customer and can be booked.
func (s *Service) resolvePet(ctx context.Context, tenantID, customerID, petID string) (customer.Pet, error) {
	pet, err := s.customers.GetPet(ctx, tenantID, petID)
	if err != nil {
		if storeerr.IsNotFound(err) {
			return customer.Pet{}, svcerrors.InvalidInput("unknown pet %s", petID)
		}
		return customer.Pet{}, storeerr.Translate(err, "pet", petID)
	}
	if pet.CustomerID != customerID {
		return customer.Pet{}, svcerrors.Forbidden("pet %s does not belong to customer %s", petID, customerID)
	}
	if pet.Archived {
		return customer.Pet{}, svcerrors.InvalidInput("pet %s is archived", petID)
	}
	return pet, nil
}

// validateSlot checks the vet and the clinic's calendar rules and returns the
// slot end.
func (s *Service) validateSlot(ctx context.Context, t tenant.Tenant, vetID string, start time.Time, minutes int) (time.Time, error) {
	if vetID == "" {
		return time.Time{}, svcerrors.InvalidInput("vet_id is required")
	}
	member, err := s.members.GetMember(ctx, t.ID, vetID)
	if err != nil {
		if storeerr.IsNotFound(err) {
			return time.Time{}, svcerrors.InvalidInput("%s is not a member of this clinic", vetID)
		}
		return time.Time{}, storeerr.Translate(err, "member", vetID)
	}
	if member.Role != tenant.RoleVeterinarian {
		return time.Time{}, svcerrors.InvalidInput("%s is not a veterinarian", vetID)
	}
	if minutes <= 0 {
		return time.Time{}, svcerrors.InvalidInput("appointment has no duration")
	}
	if start.IsZero() {
		return time.Time{}, svcerrors.InvalidInput("starts_at is required")
	}
	if !start.After(s.now()) {
		return time.Time{}, svcerrors.InvalidInput("starts_at must be in the future")
	}

	st := t.Settings
	loc := t.Location()
	local := start.In(loc)
	if local.Second() != 0 || local.Nanosecond() != 0 || (local.Hour()*60+local.Minute())%st.SlotMinutes != 0 {
		return time.Time{}, svcerrors.InvalidInput("starts_at must align to %d minute slots", st.SlotMinutes)
	}
	if !st.IsWorkDay(local.Weekday()) {
		return time.Time{}, svcerrors.InvalidInput("the clinic is closed on %s", local.Weekday())
	}
	end := start.Add(time.Duration(minutes) * time.Minute)
	open, closing := openingHours(local, st)
	if local.Before(open) || end.After(closing) {
		return time.Time{}, svcerrors.InvalidInput("slot must fall within opening hours %02d:00-%02d:00", st.OpenHour, st.CloseHour)
	}
	return end, nil
}

func openingHours(day time.Time, st tenant.Settings) (time.Time, time.Time) {
	y, m, d := day.Date()
	loc := day.Location()
	return time.Date(y, m, d, st.OpenHour, 0, 0, 0, loc), time.Date(y, m, d, st.CloseHour, 0, 0, 0, loc)
}

// procError converts procedure failures into service errors.
func procError(err error, a appointment.Appointment, to appointment.Status, vetID string) error {
	switch {
	case errors.Is(err, storage.ErrSlotTaken):
		metrics.RecordSlotConflict()
		return svcerrors.SlotUnavailable(vetID, err)
	case errors.Is(err, storage.ErrInvalidStatus):
		return svcerrors.InvalidTransition(string(a.Status), string(to))
	}
	return storeerr.Translate(err, "appointment", a.ID)
}

func (s *Service) transition(ctx context.Context, actor auth.Actor, a appointment.Appointment, expectedVersion int, to appointment.Status, reason string) (appointment.Appointment, error) {
	if !appointment.CanTransition(a.Status, to) {
		return appointment.Appointment{}, svcerrors.InvalidTransition(string(a.Status), string(to))
	}
	updated, err := s.procs.TransitionStatus(ctx, appointment.Transition{
		TenantID:        actor.TenantID,
		AppointmentID:   a.ID,
		ExpectedVersion: expectedVersion,
		From:            appointment.SourcesFor(to),
		To:              to,
		Reason:          reason,
		ActorID:         actor.UserID,
		At:              s.now(),
	})
	if err != nil {
		return appointment.Appointment{}, procError(err, a, to, a.VetID)
	}
	metrics.RecordAppointmentTransition(string(a.Status), string(to))
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("appointment_id", a.ID).
		WithField("from", a.Status).
		WithField("to", to).
		WithField("actor", actor.UserID).
		Info("appointment status changed")
	return updated, nil
}

// customerRecipient addresses the appointment's customer.
func (s *Service) customerRecipient(ctx context.Context, a appointment.Appointment) notification.Recipient {
	r := notification.Recipient{CustomerID: a.CustomerID}
	if c, err := s.customers.GetCustomer(ctx, a.TenantID, a.CustomerID); err == nil {
		r.UserID = c.UserID
		r.Email = c.Email
	}
	return r
}

func vetRecipient(vetID string) notification.Recipient {
	return notification.Recipient{UserID: vetID, Role: string(tenant.RoleVeterinarian)}
}

func staffRecipient() notification.Recipient {
	return notification.Recipient{Role: string(tenant.RoleStaff)}
}

// notify enqueues kind for each recipient. Failures are logged only.
func (s *Service) notify(ctx context.Context, a appointment.Appointment, kind notification.Kind, extra map[string]string, recipients ...notification.Recipient) {
	if s.notifier == nil {
		return
	}
	payload := map[string]string{
		"status": string(a.Status),
		"pet_id": a.PetID,
	}
	if a.StartsAt != nil {
		payload["starts_at"] = a.StartsAt.UTC().Format(time.RFC3339)
	}
	if a.VetID != "" {
		payload["vet_id"] = a.VetID
	}
	for k, v := range extra {
		payload[k] = v
	}

	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if seen[r.ID()] {
			continue
		}
		seen[r.ID()] = true
		n := notification.Notification{
			TenantID:       a.TenantID,
			Kind:           kind,
			AppointmentID:  a.ID,
			Recipient:      r,
			IdempotencyKey: IdempotencyKey(a.ID, kind, a.Version, r),
			Payload:        payload,
		}
		if _, _, err := s.notifier.Enqueue(ctx, n); err != nil {
			s.log.WithError(err).
				WithField("tenant_id", a.TenantID).
				WithField("appointment_id", a.ID).
				WithField("kind", kind).
				Warn("failed to enqueue notification")
		}
	}
}

// IdempotencyKey identifies one notification of an appointment state.
func IdempotencyKey(appointmentID string, kind notification.Kind, version int, r notification.Recipient) string {
	return notification.Key(appointmentID, string(kind), strconv.Itoa(version), r.ID())
}
