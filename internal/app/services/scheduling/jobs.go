package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// ExpireStale cancels booking requests that stayed pending longer than their
// clinic's PendingTTLHours. It returns how many were cancelled.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, t := range tenants {
		cutoff := now.Add(-time.Duration(t.Settings.PendingTTLHours) * time.Hour)
		stale, err := s.appointments.ListAppointments(ctx, t.ID, appointment.Filter{
			Statuses:      []appointment.Status{appointment.StatusPendingScheduling},
			CreatedBefore: &cutoff,
		})
		if err != nil {
			s.log.WithError(err).WithField("tenant_id", t.ID).Warn("list stale booking requests failed")
			continue
		}
		for _, a := range stale {
			cancelled, err := s.procs.TransitionStatus(ctx, appointment.Transition{
				TenantID:        t.ID,
				AppointmentID:   a.ID,
				ExpectedVersion: a.Version,
				From:            []appointment.Status{appointment.StatusPendingScheduling},
				To:              appointment.StatusCancelled,
				Reason:          ReasonExpired,
				ActorID:         SystemActor,
				At:              now,
			})
			if err != nil {
				// Scheduled or cancelled by someone else since the listing.
				if errors.Is(err, storage.ErrInvalidStatus) || errors.Is(err, storage.ErrVersionMismatch) {
					continue
				}
				s.log.WithError(err).WithField("appointment_id", a.ID).Warn("expire booking request failed")
				continue
			}
			expired++
			s.log.WithField("tenant_id", t.ID).
				WithField("appointment_id", a.ID).
				Info("booking request expired")
			s.announceCancellation(ctx, a, cancelled)
		}
	}
	return expired, nil
}

// SendReminders enqueues a reminder for every confirmed appointment starting
// within lead of now. Keys include the appointment version, so a rescheduled
// and reconfirmed appointment is reminded again.
func (s *Service) SendReminders(ctx context.Context, now time.Time, lead time.Duration) (int, error) {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return 0, err
	}
	from, to := now, now.Add(lead)
	sent := 0
	for _, t := range tenants {
		upcoming, err := s.appointments.ListAppointments(ctx, t.ID, appointment.Filter{
			Statuses: []appointment.Status{appointment.StatusConfirmed},
			From:     &from,
			To:       &to,
		})
		if err != nil {
			s.log.WithError(err).WithField("tenant_id", t.ID).Warn("list upcoming appointments failed")
			continue
		}
		for _, a := range upcoming {
			s.notify(ctx, a, notification.KindAppointmentReminder, nil,
				s.customerRecipient(ctx, a), vetRecipient(a.VetID))
			sent++
		}
	}
	return sent, nil
}
