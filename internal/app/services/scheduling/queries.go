package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

// Get returns an appointment visible to the actor.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (appointment.Appointment, error) {
	return s.load(ctx, actor, id)
}

// List returns appointments matching filter. Customers only see their own.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter appointment.Filter) ([]appointment.Appointment, error) {
	switch {
	case actor.IsStaff():
	case actor.IsCustomer() && actor.CustomerID != "":
		filter.CustomerID = actor.CustomerID
	default:
		return nil, svcerrors.Forbidden("role %s cannot list appointments", actor.Role)
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, svcerrors.InvalidInput("unknown status %q", st)
		}
	}
	list, err := s.appointments.ListAppointments(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, storeerr.Translate(err, "appointment", "")
	}
	return list, nil
}

// ListPending returns the booking requests awaiting a slot, oldest first.
func (s *Service) ListPending(ctx context.Context, actor auth.Actor) ([]appointment.Appointment, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return nil, err
	}
	return s.List(ctx, actor, appointment.Filter{Statuses: []appointment.Status{appointment.StatusPendingScheduling}})
}

// Availability lists the free start times for vetID on date (YYYY-MM-DD in the
// clinic's timezone) for the given services.
func (s *Service) Availability(ctx context.Context, actor auth.Actor, vetID, date string, serviceIDs []string) ([]time.Time, error) {
	if !actor.IsStaff() && !actor.IsCustomer() {
		return nil, svcerrors.Forbidden("role %s cannot query availability", actor.Role)
	}
	t, err := s.loadTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	vetID = strings.TrimSpace(vetID)
	member, err := s.members.GetMember(ctx, t.ID, vetID)
	if err != nil && !storeerr.IsNotFound(err) {
		return nil, storeerr.Translate(err, "member", vetID)
	}
	if err != nil || member.Role != tenant.RoleVeterinarian {
		return nil, svcerrors.InvalidInput("%s is not a veterinarian of this clinic", vetID)
	}
	_, minutes, err := s.resolveServices(ctx, t.ID, serviceIDs, t.Settings.MaxServicesPerBooking, true)
	if err != nil {
		return nil, err
	}
	loc := t.Location()
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return nil, svcerrors.InvalidInput("date %q must be YYYY-MM-DD", date)
	}
	st := t.Settings
	slots := make([]time.Time, 0)
	if !st.IsWorkDay(day.Weekday()) {
		return slots, nil
	}

	open, closing := openingHours(day, st)
	from, to := open.UTC(), closing.UTC()
	// Anything overlapping opening hours, including visits that began earlier.
	busy, err := s.appointments.ListAppointments(ctx, t.ID, appointment.Filter{
		VetID:     vetID,
		Statuses:  []appointment.Status{appointment.StatusScheduled, appointment.StatusConfirmed},
		To:        &to,
		EndsAfter: &from,
	})
	if err != nil {
		return nil, storeerr.Translate(err, "appointment", "")
	}

	length := time.Duration(minutes) * time.Minute
	step := time.Duration(st.SlotMinutes) * time.Minute
	now := s.now()
	for start := open; !start.Add(length).After(closing); start = start.Add(step) {
		if !start.After(now) {
			continue
		}
		end := start.Add(length)
		free := true
		for _, b := range busy {
			if b.Overlaps(start, end) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, start.UTC())
		}
	}
	return slots, nil
}
