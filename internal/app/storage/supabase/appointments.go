package supabase

import (
	"context"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
)

// --- AppointmentStore -------------------------------------------------------

func (s *Store) CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	a.ID = newID(a.ID)
	now := s.nowUTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Version == 0 {
		a.Version = 1
	}
	if a.ServiceIDs == nil {
		a.ServiceIDs = []string{}
	}
	if _, err := s.client.From("appointments").Insert(ctx, a, sb.InsertOptions{}); err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment "+a.ID)
	}
	return a, nil
}

func (s *Store) GetAppointment(ctx context.Context, tenantID, id string) (appointment.Appointment, error) {
	var a appointment.Appointment
	q := s.client.From("appointments").Eq("tenant_id", tenantID).Eq("id", id)
	if err := one(ctx, q, &a, "appointment "+id); err != nil {
		return appointment.Appointment{}, err
	}
	return a, nil
}

func (s *Store) ListAppointments(ctx context.Context, tenantID string, filter appointment.Filter) ([]appointment.Appointment, error) {
	q := s.client.From("appointments").Eq("tenant_id", tenantID)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.In("status", statuses)
	}
	if filter.VetID != "" {
		q = q.Eq("vet_id", filter.VetID)
	}
	if filter.CustomerID != "" {
		q = q.Eq("customer_id", filter.CustomerID)
	}
	if filter.PetID != "" {
		q = q.Eq("pet_id", filter.PetID)
	}
	if filter.From != nil {
		q = q.Gte("starts_at", *filter.From)
	}
	if filter.To != nil {
		q = q.Lt("starts_at", *filter.To)
	}
	if filter.EndsAfter != nil {
		q = q.Gt("ends_at", *filter.EndsAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Lt("created_at", *filter.CreatedBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	result := []appointment.Appointment{}
	if err := q.OrderNullsLast("starts_at").Order("created_at", true).Order("id", true).Into(ctx, &result); err != nil {
		return nil, mapErr(err, "appointments")
	}
	return result, nil
}

// --- Procedures: appointments ------------------------------------------------

func (s *Store) AssignSlot(ctx context.Context, req appointment.SlotRequest) (appointment.Appointment, error) {
	if req.New != nil {
		fresh := *req.New
		fresh.ID = newID(fresh.ID)
		if fresh.ServiceIDs == nil {
			fresh.ServiceIDs = []string{}
		}
		req.New = &fresh
	}
	what := "appointment " + req.AppointmentID
	if req.New != nil {
		what = "appointment " + req.New.ID
	}
	resp, err := s.rpc(ctx, "assign_appointment_slot", req, what)
	if err != nil {
		return appointment.Appointment{}, err
	}
	var a appointment.Appointment
	if err := resp.JSON(&a); err != nil {
		return appointment.Appointment{}, err
	}
	return a, nil
}

func (s *Store) TransitionStatus(ctx context.Context, tr appointment.Transition) (appointment.Appointment, error) {
	resp, err := s.rpc(ctx, "transition_appointment_status", tr, "appointment "+tr.AppointmentID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	var a appointment.Appointment
	if err := resp.JSON(&a); err != nil {
		return appointment.Appointment{}, err
	}
	return a, nil
}

func (s *Store) CompleteAppointment(ctx context.Context, tr appointment.Transition, req billing.CommissionRequest) (appointment.Appointment, billing.Invoice, error) {
	resp, err := s.rpc(ctx, "complete_appointment", map[string]any{
		"transition": tr,
		"commission": req,
	}, "appointment "+tr.AppointmentID)
	if err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	var (
		a   appointment.Appointment
		inv billing.Invoice
	)
	if err := decodeField(resp, "appointment", &a); err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	if err := decodeField(resp, "invoice", &inv); err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	return a, inv, nil
}
