package scheduling

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/metrics"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

const dateLayout = "2006-01-02"

// BookingRequest is a customer's scheduling preference.
type BookingRequest struct {
	CustomerID      string             `json:"customer_id,omitempty"`
	PetID           string             `json:"pet_id"`
	ServiceIDs      []string           `json:"service_ids"`
	PreferredDates  []string           `json:"preferred_dates"`
	PreferredWindow appointment.Window `json:"preferred_window,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

// SubmitBookingRequest stores a pending request and notifies the clinic.
// Customers always book for themselves.
func (s *Service) SubmitBookingRequest(ctx context.Context, actor auth.Actor, req BookingRequest) (appointment.Appointment, error) {
	source := appointment.SourceStaff
	switch {
	case actor.IsCustomer():
		if actor.CustomerID == "" {
			return appointment.Appointment{}, svcerrors.Forbidden("no customer profile is linked to this user")
		}
		req.CustomerID = actor.CustomerID
		source = appointment.SourcePortal
	case actor.IsStaff():
		req.CustomerID = strings.TrimSpace(req.CustomerID)
		if req.CustomerID == "" {
			return appointment.Appointment{}, svcerrors.InvalidInput("customer_id is required")
		}
	default:
		return appointment.Appointment{}, svcerrors.Forbidden("role %s cannot submit booking requests", actor.Role)
	}

	t, err := s.loadTenant(ctx, actor.TenantID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if _, err := s.resolvePet(ctx, t.ID, req.CustomerID, strings.TrimSpace(req.PetID)); err != nil {
		return appointment.Appointment{}, err
	}
	_, minutes, err := s.resolveServices(ctx, t.ID, req.ServiceIDs, t.Settings.MaxServicesPerBooking, true)
	if err != nil {
		return appointment.Appointment{}, err
	}
	dates, err := s.normalizeDates(t, req.PreferredDates)
	if err != nil {
		return appointment.Appointment{}, err
	}
	window := req.PreferredWindow
	if window == "" {
		window = appointment.WindowAny
	}
	if !window.Valid() {
		return appointment.Appointment{}, svcerrors.InvalidInput("preferred_window must be morning, afternoon or any")
	}
	notes, err := normalizeNotes(req.Notes)
	if err != nil {
		return appointment.Appointment{}, err
	}

	a, err := s.appointments.CreateAppointment(ctx, appointment.Appointment{
		TenantID:        t.ID,
		CustomerID:      req.CustomerID,
		PetID:           strings.TrimSpace(req.PetID),
		ServiceIDs:      append([]string(nil), req.ServiceIDs...),
		Status:          appointment.StatusPendingScheduling,
		PreferredDates:  dates,
		PreferredWindow: window,
		Notes:           notes,
		DurationMinutes: minutes,
		Source:          source,
		Version:         1,
		CreatedBy:       actor.UserID,
	})
	if err != nil {
		return appointment.Appointment{}, procError(err, appointment.Appointment{}, appointment.StatusPendingScheduling, "")
	}
	metrics.RecordBookingRequest(string(source))
	s.log.WithField("tenant_id", t.ID).
		WithField("appointment_id", a.ID).
		WithField("customer_id", a.CustomerID).
		WithField("source", source).
		Info("booking request submitted")

	s.NotifyBookingReceived(ctx, a)
	return a, nil
}

// NotifyBookingReceived tells the clinic staff about a new request. It is
// also called for requests inserted directly into the hosted database.
func (s *Service) NotifyBookingReceived(ctx context.Context, a appointment.Appointment) {
	s.notify(ctx, a, notification.KindBookingReceived, map[string]string{
		"customer_id":     a.CustomerID,
		"preferred_dates": strings.Join(a.PreferredDates, ","),
	}, staffRecipient())
}

func (s *Service) normalizeDates(t tenant.Tenant, raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, svcerrors.InvalidInput("at least one preferred date is required")
	}
	if len(raw) > MaxPreferredDates {
		return nil, svcerrors.InvalidInput("at most %d preferred dates are allowed", MaxPreferredDates)
	}
	loc := t.Location()
	now := s.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	horizon := today.AddDate(0, 0, t.Settings.BookingHorizonDays)

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(d), loc)
		if err != nil {
			return nil, svcerrors.InvalidInput("preferred date %q must be YYYY-MM-DD", d)
		}
		if day.Before(today) {
			return nil, svcerrors.InvalidInput("preferred date %s is in the past", d)
		}
		if day.After(horizon) {
			return nil, svcerrors.InvalidInput("preferred date %s is beyond the %d day booking horizon", d, t.Settings.BookingHorizonDays)
		}
		key := day.Format(dateLayout)
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func normalizeNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return "", svcerrors.InvalidInput("notes cannot exceed %d characters", MaxNotesLength)
	}
	return notes, nil
}

// ScheduleInput assigns a vet and slot.
type ScheduleInput struct {
	VetID           string    `json:"vet_id"`
	StartsAt        time.Time `json:"starts_at"`
	ExpectedVersion int       `json:"expected_version,omitempty"`
}

// ScheduleBooking assigns a pending request to a vet and slot. Staff only.
func (s *Service) ScheduleBooking(ctx context.Context, actor auth.Actor, id string, in ScheduleInput) (appointment.Appointment, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return appointment.Appointment{}, err
	}
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if a.Status != appointment.StatusPendingScheduling {
		return appointment.Appointment{}, svcerrors.InvalidTransition(string(a.Status), string(appointment.StatusScheduled))
	}
	t, err := s.loadTenant(ctx, actor.TenantID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	minutes := a.DurationMinutes
	if minutes <= 0 {
		if _, minutes, err = s.resolveServices(ctx, t.ID, a.ServiceIDs, 0, false); err != nil {
			return appointment.Appointment{}, err
		}
	}
	end, err := s.validateSlot(ctx, t, in.VetID, in.StartsAt, minutes)
	if err != nil {
		return appointment.Appointment{}, err
	}

	scheduled, err := s.procs.AssignSlot(ctx, appointment.SlotRequest{
		TenantID:        t.ID,
		AppointmentID:   a.ID,
		ExpectedVersion: in.ExpectedVersion,
		From:            []appointment.Status{appointment.StatusPendingScheduling},
		VetID:           in.VetID,
		StartsAt:        in.StartsAt,
		EndsAt:          end,
		ActorID:         actor.UserID,
		At:              s.now(),
	})
	if err != nil {
		return appointment.Appointment{}, procError(err, a, appointment.StatusScheduled, in.VetID)
	}
	metrics.RecordAppointmentTransition(string(a.Status), string(scheduled.Status))
	s.log.WithField("tenant_id", t.ID).
		WithField("appointment_id", a.ID).
		WithField("vet_id", in.VetID).
		WithField("starts_at", scheduled.StartsAt).
		Info("booking scheduled")

	s.notify(ctx, scheduled, notification.KindAppointmentScheduled, nil,
		s.customerRecipient(ctx, scheduled), vetRecipient(scheduled.VetID))
	return scheduled, nil
}

// DirectBooking is a staff-created appointment with a known slot.
type DirectBooking struct {
	CustomerID string    `json:"customer_id"`
	PetID      string    `json:"pet_id"`
	ServiceIDs []string  `json:"service_ids"`
	VetID      string    `json:"vet_id"`
	StartsAt   time.Time `json:"starts_at"`
	Notes      string    `json:"notes,omitempty"`
}

// CreateAppointment books straight into scheduled. Staff only.
func (s *Service) CreateAppointment(ctx context.Context, actor auth.Actor, in DirectBooking) (appointment.Appointment, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return appointment.Appointment{}, err
	}
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	if in.CustomerID == "" {
		return appointment.Appointment{}, svcerrors.InvalidInput("customer_id is required")
	}
	t, err := s.loadTenant(ctx, actor.TenantID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if _, err := s.resolvePet(ctx, t.ID, in.CustomerID, strings.TrimSpace(in.PetID)); err != nil {
		return appointment.Appointment{}, err
	}
	_, minutes, err := s.resolveServices(ctx, t.ID, in.ServiceIDs, t.Settings.MaxServicesPerBooking, true)
	if err != nil {
		return appointment.Appointment{}, err
	}
	notes, err := normalizeNotes(in.Notes)
	if err != nil {
		return appointment.Appointment{}, err
	}
	end, err := s.validateSlot(ctx, t, in.VetID, in.StartsAt, minutes)
	if err != nil {
		return appointment.Appointment{}, err
	}

	draft := appointment.Appointment{
		TenantID:        t.ID,
		CustomerID:      in.CustomerID,
		PetID:           strings.TrimSpace(in.PetID),
		ServiceIDs:      append([]string(nil), in.ServiceIDs...),
		Notes:           notes,
		PreferredWindow: appointment.WindowAny,
		Source:          appointment.SourceStaff,
		CreatedBy:       actor.UserID,
	}
	a, err := s.procs.AssignSlot(ctx, appointment.SlotRequest{
		TenantID: t.ID,
		New:      &draft,
		VetID:    in.VetID,
		StartsAt: in.StartsAt,
		EndsAt:   end,
		ActorID:  actor.UserID,
		At:       s.now(),
	})
	if err != nil {
		return appointment.Appointment{}, procError(err, draft, appointment.StatusScheduled, in.VetID)
	}
	metrics.RecordBookingRequest(string(appointment.SourceStaff))
	s.log.WithField("tenant_id", t.ID).
		WithField("appointment_id", a.ID).
		WithField("vet_id", a.VetID).
		Info("appointment created")

	s.notify(ctx, a, notification.KindAppointmentScheduled, nil,
		s.customerRecipient(ctx, a), vetRecipient(a.VetID))
	return a, nil
}
