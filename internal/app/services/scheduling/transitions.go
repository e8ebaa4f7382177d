package scheduling

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/metrics"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

// Confirm moves a scheduled appointment to confirmed. The owning customer or
// staff may confirm.
func (s *Service) Confirm(ctx context.Context, actor auth.Actor, id string, expectedVersion int) (appointment.Appointment, error) {
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	confirmed, err := s.transition(ctx, actor, a, expectedVersion, appointment.StatusConfirmed, "")
	if err != nil {
		return appointment.Appointment{}, err
	}
	s.notify(ctx, confirmed, notification.KindAppointmentConfirmed, nil,
		s.customerRecipient(ctx, confirmed), vetRecipient(confirmed.VetID))
	return confirmed, nil
}

// Cancel cancels a pending, scheduled or confirmed appointment. Customers must
// cancel booked slots at least CancellationNoticeHours ahead.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id, reason string, expectedVersion int) (appointment.Appointment, error) {
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > 500 {
		return appointment.Appointment{}, svcerrors.InvalidInput("reason cannot exceed 500 characters")
	}
	if actor.IsCustomer() && a.Status.Occupying() && a.StartsAt != nil {
		t, err := s.loadTenant(ctx, actor.TenantID)
		if err != nil {
			return appointment.Appointment{}, err
		}
		notice := time.Duration(t.Settings.CancellationNoticeHours) * time.Hour
		if a.StartsAt.Sub(s.now()) < notice {
			return appointment.Appointment{}, svcerrors.Forbidden("appointments must be cancelled at least %d hours in advance", t.Settings.CancellationNoticeHours).
				WithDetails("notice_hours", t.Settings.CancellationNoticeHours)
		}
	}
	if reason == "" {
		reason = "cancelled by " + string(actor.Role)
	}
	cancelled, err := s.transition(ctx, actor, a, expectedVersion, appointment.StatusCancelled, reason)
	if err != nil {
		return appointment.Appointment{}, err
	}
	s.announceCancellation(ctx, a, cancelled)
	return cancelled, nil
}

// announceCancellation tells everyone who was told about the appointment that
// it no longer holds.
func (s *Service) announceCancellation(ctx context.Context, before, cancelled appointment.Appointment) {
	recipients := []notification.Recipient{s.customerRecipient(ctx, cancelled)}
	if cancelled.VetID != "" {
		recipients = append(recipients, vetRecipient(cancelled.VetID))
	}
	s.notify(ctx, cancelled, notification.KindAppointmentCancelled, map[string]string{
		"previous_status": string(before.Status),
		"reason":          cancelled.CancelReason,
	}, recipients...)
}

// RescheduleInput moves an appointment to a new slot, optionally with another
// vet.
type RescheduleInput struct {
	VetID           string    `json:"vet_id,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	ExpectedVersion int       `json:"expected_version,omitempty"`
}

// Reschedule moves a scheduled or confirmed appointment to a new slot. It
// returns to scheduled so the customer confirms again.
func (s *Service) Reschedule(ctx context.Context, actor auth.Actor, id string, in RescheduleInput) (appointment.Appointment, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return appointment.Appointment{}, err
	}
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if !a.Status.Occupying() {
		return appointment.Appointment{}, svcerrors.InvalidTransition(string(a.Status), string(appointment.StatusScheduled))
	}
	vetID := strings.TrimSpace(in.VetID)
	if vetID == "" {
		vetID = a.VetID
	}
	t, err := s.loadTenant(ctx, actor.TenantID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	end, err := s.validateSlot(ctx, t, vetID, in.StartsAt, a.DurationMinutes)
	if err != nil {
		return appointment.Appointment{}, err
	}

	moved, err := s.procs.AssignSlot(ctx, appointment.SlotRequest{
		TenantID:        t.ID,
		AppointmentID:   a.ID,
		ExpectedVersion: in.ExpectedVersion,
		From:            []appointment.Status{appointment.StatusScheduled, appointment.StatusConfirmed},
		VetID:           vetID,
		StartsAt:        in.StartsAt,
		EndsAt:          end,
		ActorID:         actor.UserID,
		At:              s.now(),
	})
	if err != nil {
		return appointment.Appointment{}, procError(err, a, appointment.StatusScheduled, vetID)
	}
	metrics.RecordAppointmentTransition(string(a.Status), string(moved.Status))
	s.log.WithField("tenant_id", t.ID).
		WithField("appointment_id", a.ID).
		WithField("vet_id", vetID).
		WithField("starts_at", moved.StartsAt).
		Info("appointment rescheduled")

	extra := map[string]string{"previous_status": string(a.Status)}
	if a.StartsAt != nil {
		extra["previous_starts_at"] = a.StartsAt.UTC().Format(time.RFC3339)
	}
	recipients := []notification.Recipient{s.customerRecipient(ctx, moved), vetRecipient(moved.VetID)}
	if a.VetID != "" && a.VetID != moved.VetID {
		recipients = append(recipients, vetRecipient(a.VetID))
	}
	s.notify(ctx, moved, notification.KindAppointmentRescheduled, extra, recipients...)
	return moved, nil
}

// Complete closes a visit that has started and creates its commission
// invoice in the same atomic step.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id string, expectedVersion int) (appointment.Appointment, billing.Invoice, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	if err := s.requireStarted(a, appointment.StatusCompleted); err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	t, err := s.loadTenant(ctx, actor.TenantID)
	if err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	services, _, err := s.resolveServices(ctx, t.ID, a.ServiceIDs, 0, false)
	if err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	lines := make([]billing.Line, 0, len(services))
	for _, svc := range services {
		lines = append(lines, billing.Line{
			Kind:           billing.LineService,
			RefID:          svc.ID,
			Description:    svc.Name,
			Quantity:       1,
			UnitPriceCents: svc.PriceCents,
		})
	}

	now := s.now()
	done, inv, err := s.procs.CompleteAppointment(ctx, appointment.Transition{
		TenantID:        t.ID,
		AppointmentID:   a.ID,
		ExpectedVersion: expectedVersion,
		From:            appointment.SourcesFor(appointment.StatusCompleted),
		To:              appointment.StatusCompleted,
		ActorID:         actor.UserID,
		At:              now,
	}, billing.CommissionRequest{
		TenantID:      t.ID,
		AppointmentID: a.ID,
		CustomerID:    a.CustomerID,
		CommissionBps: t.Settings.CommissionBps,
		Lines:         lines,
		At:            now,
	})
	if err != nil {
		return appointment.Appointment{}, billing.Invoice{}, procError(err, a, appointment.StatusCompleted, a.VetID)
	}
	metrics.RecordAppointmentTransition(string(a.Status), string(done.Status))
	s.log.WithField("tenant_id", t.ID).
		WithField("appointment_id", a.ID).
		WithField("invoice_id", inv.ID).
		WithField("subtotal_cents", inv.SubtotalCents).
		WithField("commission_cents", inv.CommissionCents).
		Info("appointment completed")

	customer := s.customerRecipient(ctx, done)
	s.notify(ctx, done, notification.KindAppointmentCompleted, nil, customer)
	s.notify(ctx, done, notification.KindInvoiceIssued, map[string]string{
		"invoice_id":     inv.ID,
		"invoice_number": inv.Number,
		"total_cents":    strconv.FormatInt(inv.SubtotalCents, 10),
	}, customer)
	return done, inv, nil
}

// MarkNoShow records that the customer did not attend.
func (s *Service) MarkNoShow(ctx context.Context, actor auth.Actor, id string, expectedVersion int) (appointment.Appointment, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return appointment.Appointment{}, err
	}
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.requireStarted(a, appointment.StatusNoShow); err != nil {
		return appointment.Appointment{}, err
	}
	return s.transition(ctx, actor, a, expectedVersion, appointment.StatusNoShow, "")
}

func (s *Service) requireStarted(a appointment.Appointment, to appointment.Status) error {
	if !appointment.CanTransition(a.Status, to) {
		return svcerrors.InvalidTransition(string(a.Status), string(to))
	}
	if a.StartsAt == nil || a.StartsAt.After(s.now()) {
		return svcerrors.InvalidInput("appointment has not started yet")
	}
	return nil
}
