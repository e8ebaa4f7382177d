package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// --- AppointmentStore -------------------------------------------------------

type appointmentRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	CustomerID      string         `db:"customer_id"`
	PetID           string         `db:"pet_id"`
	ServiceIDs      pq.StringArray `db:"service_ids"`
	VetID           string         `db:"vet_id"`
	Status          string         `db:"status"`
	PreferredDates  pq.StringArray `db:"preferred_dates"`
	PreferredWindow string         `db:"preferred_window"`
	Notes           string         `db:"notes"`
	StartsAt        *time.Time     `db:"starts_at"`
	EndsAt          *time.Time     `db:"ends_at"`
	DurationMinutes int            `db:"duration_minutes"`
	CancelReason    string         `db:"cancel_reason"`
	Source          string         `db:"source"`
	Version         int            `db:"version"`
	CreatedBy       string         `db:"created_by"`
	UpdatedBy       string         `db:"updated_by"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	ScheduledAt     *time.Time     `db:"scheduled_at"`
	ConfirmedAt     *time.Time     `db:"confirmed_at"`
	CancelledAt     *time.Time     `db:"cancelled_at"`
	CompletedAt     *time.Time     `db:"completed_at"`
}

func (r appointmentRow) model() appointment.Appointment {
	return appointment.Appointment{
		ID:              r.ID,
		TenantID:        r.TenantID,
		CustomerID:      r.CustomerID,
		PetID:           r.PetID,
		ServiceIDs:      []string(r.ServiceIDs),
		VetID:           r.VetID,
		Status:          appointment.Status(r.Status),
		PreferredDates:  []string(r.PreferredDates),
		PreferredWindow: appointment.Window(r.PreferredWindow),
		Notes:           r.Notes,
		StartsAt:        utcPtr(r.StartsAt),
		EndsAt:          utcPtr(r.EndsAt),
		DurationMinutes: r.DurationMinutes,
		CancelReason:    r.CancelReason,
		Source:          appointment.Source(r.Source),
		Version:         r.Version,
		CreatedBy:       r.CreatedBy,
		UpdatedBy:       r.UpdatedBy,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		ScheduledAt:     utcPtr(r.ScheduledAt),
		ConfirmedAt:     utcPtr(r.ConfirmedAt),
		CancelledAt:     utcPtr(r.CancelledAt),
		CompletedAt:     utcPtr(r.CompletedAt),
	}
}

const appointmentColumns = `id, tenant_id, customer_id, pet_id, service_ids, vet_id, status, preferred_dates,
	preferred_window, notes, starts_at, ends_at, duration_minutes, cancel_reason, source, version,
	created_by, updated_by, created_at, updated_at, scheduled_at, confirmed_at, cancelled_at, completed_at`

// textArray keeps NOT NULL array columns from receiving NULL.
func textArray(values []string) pq.StringArray {
	if values == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(values)
}

func insertAppointment(ctx context.Context, ext sqlx.ExtContext, a appointment.Appointment) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, a.ID, a.TenantID, a.CustomerID, a.PetID, textArray(a.ServiceIDs), a.VetID, string(a.Status),
		textArray(a.PreferredDates), string(a.PreferredWindow), a.Notes, a.StartsAt, a.EndsAt,
		a.DurationMinutes, a.CancelReason, string(a.Source), a.Version, a.CreatedBy, a.UpdatedBy,
		a.CreatedAt, a.UpdatedAt, a.ScheduledAt, a.ConfirmedAt, a.CancelledAt, a.CompletedAt)
	return err
}

func updateAppointment(ctx context.Context, ext sqlx.ExtContext, a appointment.Appointment) error {
	_, err := ext.ExecContext(ctx, `
		UPDATE appointments
		SET vet_id = $3, status = $4, starts_at = $5, ends_at = $6, duration_minutes = $7,
		    cancel_reason = $8, version = $9, updated_by = $10, updated_at = $11,
		    scheduled_at = $12, confirmed_at = $13, cancelled_at = $14, completed_at = $15
		WHERE tenant_id = $1 AND id = $2
	`, a.TenantID, a.ID, a.VetID, string(a.Status), a.StartsAt, a.EndsAt, a.DurationMinutes,
		a.CancelReason, a.Version, a.UpdatedBy, a.UpdatedAt,
		a.ScheduledAt, a.ConfirmedAt, a.CancelledAt, a.CompletedAt)
	return err
}

func (s *Store) CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	a.ID = newID(a.ID)
	now := s.nowUTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Version == 0 {
		a.Version = 1
	}
	if err := insertAppointment(ctx, s.db, a); err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment "+a.ID)
	}
	return a, nil
}

func (s *Store) GetAppointment(ctx context.Context, tenantID, id string) (appointment.Appointment, error) {
	var row appointmentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+appointmentColumns+` FROM appointments WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment "+id)
	}
	return row.model(), nil
}

func (s *Store) ListAppointments(ctx context.Context, tenantID string, filter appointment.Filter) ([]appointment.Appointment, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		add("status = ANY($%d)", pq.StringArray(statuses))
	}
	if filter.VetID != "" {
		add("vet_id = $%d", filter.VetID)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.PetID != "" {
		add("pet_id = $%d", filter.PetID)
	}
	if filter.From != nil {
		add("starts_at >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("starts_at < $%d", filter.To.UTC())
	}
	if filter.EndsAfter != nil {
		add("ends_at > $%d", filter.EndsAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		add("created_at < $%d", filter.CreatedBefore.UTC())
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY starts_at NULLS LAST, created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []appointmentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]appointment.Appointment, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

// --- Procedures: appointments ------------------------------------------------

func lockAppointment(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (appointment.Appointment, error) {
	var row appointmentRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, id)
	if err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment "+id)
	}
	return row.model(), nil
}

func checkState(a appointment.Appointment, from []appointment.Status, expectedVersion int) error {
	if !appointment.AllowedFrom(from, a.Status) {
		return fmt.Errorf("appointment %s is %s: %w", a.ID, a.Status, storage.ErrInvalidStatus)
	}
	if expectedVersion != 0 && a.Version != expectedVersion {
		return fmt.Errorf("appointment %s version %d: %w", a.ID, a.Version, storage.ErrVersionMismatch)
	}
	return nil
}

// AssignSlot serialises bookings per vet by locking the vet's membership row,
// then checks for overlapping occupying appointments.
func (s *Store) AssignSlot(ctx context.Context, req appointment.SlotRequest) (appointment.Appointment, error) {
	var result appointment.Appointment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var appt appointment.Appointment
		creating := req.AppointmentID == ""
		if creating {
			if req.New == nil {
				return fmt.Errorf("slot request without appointment")
			}
			appt = *req.New
			appt.TenantID = req.TenantID
		} else {
			existing, err := lockAppointment(ctx, tx, req.TenantID, req.AppointmentID)
			if err != nil {
				return err
			}
			if err := checkState(existing, req.From, req.ExpectedVersion); err != nil {
				return err
			}
			appt = existing
		}

		var vet string
		if err := tx.GetContext(ctx, &vet, `
			SELECT user_id FROM tenant_members
			WHERE tenant_id = $1 AND user_id = $2
			FOR UPDATE
		`, req.TenantID, req.VetID); err != nil {
			return mapErr(err, "vet "+req.VetID)
		}

		start := req.StartsAt.UTC()
		end := req.EndsAt.UTC()
		var taken bool
		if err := tx.GetContext(ctx, &taken, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE tenant_id = $1 AND vet_id = $2 AND id <> $3
				  AND status IN ('scheduled', 'confirmed')
				  AND starts_at < $5 AND ends_at > $4
			)
		`, req.TenantID, req.VetID, appt.ID, start, end); err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("vet %s at %s: %w", req.VetID, start.Format(time.RFC3339), storage.ErrSlotTaken)
		}

		at := req.At.UTC()
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
			appt.ID = newID("")
			appt.Version = 1
			appt.CreatedAt = at
			if appt.CreatedBy == "" {
				appt.CreatedBy = req.ActorID
			}
			if err := insertAppointment(ctx, tx, appt); err != nil {
				return mapErr(err, "appointment "+appt.ID)
			}
		} else {
			appt.Version++
			if err := updateAppointment(ctx, tx, appt); err != nil {
				return mapErr(err, "appointment "+appt.ID)
			}
		}
		result = appt
		return nil
	})
	if err != nil {
		return appointment.Appointment{}, err
	}
	return result, nil
}

func transitionTx(ctx context.Context, tx *sqlx.Tx, tr appointment.Transition) (appointment.Appointment, error) {
	appt, err := lockAppointment(ctx, tx, tr.TenantID, tr.AppointmentID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := checkState(appt, tr.From, tr.ExpectedVersion); err != nil {
		return appointment.Appointment{}, err
	}
	tr.At = tr.At.UTC()
	tr.Apply(&appt)
	if err := updateAppointment(ctx, tx, appt); err != nil {
		return appointment.Appointment{}, mapErr(err, "appointment "+appt.ID)
	}
	return appt, nil
}

func (s *Store) TransitionStatus(ctx context.Context, tr appointment.Transition) (appointment.Appointment, error) {
	var result appointment.Appointment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		appt, err := transitionTx(ctx, tx, tr)
		result = appt
		return err
	})
	if err != nil {
		return appointment.Appointment{}, err
	}
	return result, nil
}

func (s *Store) CompleteAppointment(ctx context.Context, tr appointment.Transition, req billing.CommissionRequest) (appointment.Appointment, billing.Invoice, error) {
	if tr.To != appointment.StatusCompleted {
		return appointment.Appointment{}, billing.Invoice{}, fmt.Errorf("complete requires target %s", appointment.StatusCompleted)
	}
	var (
		appt appointment.Appointment
		inv  billing.Invoice
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if appt, err = transitionTx(ctx, tx, tr); err != nil {
			return err
		}
		inv, _, err = commissionInvoiceTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return appointment.Appointment{}, billing.Invoice{}, err
	}
	return appt, inv, nil
}
