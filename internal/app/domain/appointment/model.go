package appointment

import "time"

// Status is the scheduling status of an appointment record.
type Status string

const (
	StatusPendingScheduling Status = "pending_scheduling"
	StatusScheduled         Status = "scheduled"
	StatusConfirmed         Status = "confirmed"
	StatusCancelled         Status = "cancelled"
	StatusCompleted         Status = "completed"
	StatusNoShow            Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusPendingScheduling: {StatusScheduled, StatusCancelled},
	StatusScheduled:         {StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow},
	StatusConfirmed:         {StatusScheduled, StatusCancelled, StatusCompleted, StatusNoShow},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingScheduling, StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// Occupying reports whether an appointment in s blocks its vet's slot.
func (s Status) Occupying() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses from which to is reachable.
func SourcesFor(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPendingScheduling, StatusScheduled, StatusConfirmed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Window is a customer's preferred part of the day.
type Window string

const (
	WindowAny       Window = "any"
	WindowMorning   Window = "morning"
	WindowAfternoon Window = "afternoon"
)

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	return w == WindowAny || w == WindowMorning || w == WindowAfternoon
}

// Source records which surface created the appointment.
type Source string

const (
	SourcePortal Source = "portal"
	SourceStaff  Source = "staff"
)

// Appointment is both the booking request and, once a slot is assigned, the
// scheduled visit. A record with StatusPendingScheduling has no vet or slot.
type Appointment struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	CustomerID      string     `json:"customer_id"`
	PetID           string     `json:"pet_id"`
	ServiceIDs      []string   `json:"service_ids"`
	VetID           string     `json:"vet_id,omitempty"`
	Status          Status     `json:"status"`
	PreferredDates  []string   `json:"preferred_dates,omitempty"`
	PreferredWindow Window     `json:"preferred_window,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	Source          Source     `json:"source"`
	Version         int        `json:"version"`
	CreatedBy       string     `json:"created_by"`
	UpdatedBy       string     `json:"updated_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Overlaps reports whether the appointment's slot intersects [start, end).
func (a Appointment) Overlaps(start, end time.Time) bool {
	if a.StartsAt == nil || a.EndsAt == nil {
		return false
	}
	return a.StartsAt.Before(end) && start.Before(*a.EndsAt)
}

// Filter narrows appointment listings. Zero values match everything.
type Filter struct {
	Statuses      []Status
	VetID         string
	CustomerID    string
	PetID         string
	From          *time.Time
	To            *time.Time
	EndsAfter     *time.Time
	CreatedBefore *time.Time
	Limit         int
}

// Matches applies the filter to a.
func (f Filter) Matches(a Appointment) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.VetID != "" && a.VetID != f.VetID {
		return false
	}
	if f.CustomerID != "" && a.CustomerID != f.CustomerID {
		return false
	}
	if f.PetID != "" && a.PetID != f.PetID {
		return false
	}
	if f.From != nil && (a.StartsAt == nil || a.StartsAt.Before(*f.From)) {
		return false
	}
	if f.To != nil && (a.StartsAt == nil || !a.StartsAt.Before(*f.To)) {
		return false
	}
	if f.EndsAfter != nil && (a.EndsAt == nil || !a.EndsAt.After(*f.EndsAfter)) {
		return false
	}
	if f.CreatedBefore != nil && !a.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// SlotRequest is the input of the slot assignment procedure. When
// AppointmentID is empty, New is inserted directly in StatusScheduled.
type SlotRequest struct {
	TenantID        string       `json:"tenant_id"`
	AppointmentID   string       `json:"appointment_id,omitempty"`
	New             *Appointment `json:"new,omitempty"`
	ExpectedVersion int          `json:"expected_version,omitempty"`
	From            []Status     `json:"from"`
	VetID           string       `json:"vet_id"`
	StartsAt        time.Time    `json:"starts_at"`
	EndsAt          time.Time    `json:"ends_at"`
	ActorID         string       `json:"actor_id"`
	At              time.Time    `json:"at"`
}

// Transition is the input of the status transition procedure. An
// ExpectedVersion of zero skips the optimistic concurrency check.
type Transition struct {
	TenantID        string    `json:"tenant_id"`
	AppointmentID   string    `json:"appointment_id"`
	ExpectedVersion int       `json:"expected_version,omitempty"`
	From            []Status  `json:"from"`
	To              Status    `json:"to"`
	Reason          string    `json:"reason,omitempty"`
	ActorID         string    `json:"actor_id"`
	At              time.Time `json:"at"`
}

// Apply mutates a into the transition's target state.
func (t Transition) Apply(a *Appointment) {
	at := t.At
	a.Status = t.To
	a.UpdatedBy = t.ActorID
	a.UpdatedAt = at
	a.Version++
	switch t.To {
	case StatusConfirmed:
		a.ConfirmedAt = &at
	case StatusCancelled:
		a.CancelledAt = &at
		a.CancelReason = t.Reason
	case StatusCompleted, StatusNoShow:
		a.CompletedAt = &at
	}
}

// AllowedFrom reports whether status is one of t.From.
func AllowedFrom(from []Status, status Status) bool {
	for _, s := range from {
		if s == status {
			return true
		}
	}
	return false
}
