package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// AppointmentStore implementation ---------------------------------------------

func (s *Store) CreateAppointment(_ context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.nextIDLocked()
	} else if _, exists := s.appointments[a.ID]; exists {
		return appointment.Appointment{}, fmt.Errorf("appointment %s: %w", a.ID, storage.ErrConflict)
	}
	now := s.nowUTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Version == 0 {
		a.Version = 1
	}
	a = cloneAppointment(a)
	s.appointments[a.ID] = a
	return cloneAppointment(a), nil
}

func (s *Store) GetAppointment(_ context.Context, tenantID, id string) (appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[id]
	if !ok || a.TenantID != tenantID {
		return appointment.Appointment{}, fmt.Errorf("appointment %s: %w", id, storage.ErrNotFound)
	}
	return cloneAppointment(a), nil
}

func (s *Store) ListAppointments(_ context.Context, tenantID string, filter appointment.Filter) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]appointment.Appointment, 0)
	for _, a := range s.appointments {
		if a.TenantID == tenantID && filter.Matches(a) {
			result = append(result, cloneAppointment(a))
		}
	}
	sortAppointments(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Procedures implementation: appointments -------------------------------------

func (s *Store) AssignSlot(_ context.Context, req appointment.SlotRequest) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var appt appointment.Appointment
	creating := req.AppointmentID == ""
	if creating {
		if req.New == nil {
			return appointment.Appointment{}, fmt.Errorf("slot request without appointment")
		}
		appt = cloneAppointment(*req.New)
		appt.TenantID = req.TenantID
	} else {
		existing, ok := s.appointments[req.AppointmentID]
		if !ok || existing.TenantID != req.TenantID {
			return appointment.Appointment{}, fmt.Errorf("appointment %s: %w", req.AppointmentID, storage.ErrNotFound)
		}
		if !appointment.AllowedFrom(req.From, existing.Status) {
			return appointment.Appointment{}, fmt.Errorf("appointment %s is %s: %w", existing.ID, existing.Status, storage.ErrInvalidStatus)
		}
		if req.ExpectedVersion != 0 && existing.Version != req.ExpectedVersion {
			return appointment.Appointment{}, fmt.Errorf("appointment %s version %d: %w", existing.ID, existing.Version, storage.ErrVersionMismatch)
		}
		appt = cloneAppointment(existing)
	}

	if s.slotTakenLocked(req.TenantID, req.VetID, appt.ID, req.StartsAt, req.EndsAt) {
		return appointment.Appointment{}, fmt.Errorf("vet %s at %s: %w", req.VetID, req.StartsAt.Format(time.RFC3339), storage.ErrSlotTaken)
	}

	at := req.At.UTC()
	start := req.StartsAt.UTC()
	end := req.EndsAt.UTC()
	appt.VetID = req.VetID
	appt.StartsAt = &start
	appt.EndsAt = &end
	appt.DurationMinutes = int(end.Sub(start) / time.Minute)
	appt.Status = appointment.StatusScheduled
	appt.ScheduledAt = &at
	appt.ConfirmedAt = nil
	appt.UpdatedBy = req.ActorID
	appt.UpdatedAt = at
	if creating {
		appt.ID = s.nextIDLocked()
		appt.Version = 1
		appt.CreatedAt = at
		if appt.CreatedBy == "" {
			appt.CreatedBy = req.ActorID
		}
	} else {
		appt.Version++
	}

	s.appointments[appt.ID] = appt
	return cloneAppointment(appt), nil
}

func (s *Store) slotTakenLocked(tenantID, vetID, selfID string, start, end time.Time) bool {
	for _, other := range s.appointments {
		if other.TenantID != tenantID || other.VetID != vetID || other.ID == selfID {
			continue
		}
		if other.Status.Occupying() && other.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func (s *Store) TransitionStatus(_ context.Context, tr appointment.Transition) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, err := s.transitionLocked(tr)
	if err != nil {
		return appointment.Appointment{}, err
	}
	return cloneAppointment(appt), nil
}

func (s *Store) transitionLocked(tr appointment.Transition) (appointment.Appointment, error) {
	existing, ok := s.appointments[tr.AppointmentID]
	if !ok || existing.TenantID != tr.TenantID {
		return appointment.Appointment{}, fmt.Errorf("appointment %s: %w", tr.AppointmentID, storage.ErrNotFound)
	}
	if !appointment.AllowedFrom(tr.From, existing.Status) {
		return appointment.Appointment{}, fmt.Errorf("appointment %s is %s: %w", existing.ID, existing.Status, storage.ErrInvalidStatus)
	}
	if tr.ExpectedVersion != 0 && existing.Version != tr.ExpectedVersion {
		return appointment.Appointment{}, fmt.Errorf("appointment %s version %d: %w", existing.ID, existing.Version, storage.ErrVersionMismatch)
	}
	appt := cloneAppointment(existing)
	tr.At = tr.At.UTC()
	tr.Apply(&appt)
	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) CompleteAppointment(_ context.Context, tr appointment.Transition, req billing.CommissionRequest) (appointment.Appointment, billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tr.To != appointment.StatusCompleted {
		return appointment.Appointment{}, billing.Invoice{}, fmt.Errorf("complete requires target %s", appointment.StatusCompleted)
	}
	backup, ok := s.appointments[tr.AppointmentID]
	appt, err := s.transitionLocked(tr)
	if err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	inv, _, err := s.commissionInvoiceLocked(req)
	if err != nil {
		if ok {
			s.appointments[backup.ID] = backup
		}
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	return cloneAppointment(appt), cloneInvoice(inv), nil
}

func sortAppointments(list []appointment.Appointment) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.StartsAt != nil && b.StartsAt != nil && !a.StartsAt.Equal(*b.StartsAt):
			return a.StartsAt.Before(*b.StartsAt)
		case a.StartsAt == nil && b.StartsAt != nil:
			return false
		case a.StartsAt != nil && b.StartsAt == nil:
			return true
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return idLess(a.ID, b.ID)
	})
}

func cloneAppointment(a appointment.Appointment) appointment.Appointment {
	a.ServiceIDs = append([]string(nil), a.ServiceIDs...)
	a.PreferredDates = append([]string(nil), a.PreferredDates...)
	a.StartsAt = cloneTime(a.StartsAt)
	a.EndsAt = cloneTime(a.EndsAt)
	a.ScheduledAt = cloneTime(a.ScheduledAt)
	a.ConfirmedAt = cloneTime(a.ConfirmedAt)
	a.CancelledAt = cloneTime(a.CancelledAt)
	a.CompletedAt = cloneTime(a.CompletedAt)
	return a
}
