package tenant

import (
	"fmt"
	"time"
)

// Role is a member's role inside one clinic.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleVeterinarian Role = "veterinarian"
	RoleStaff        Role = "staff"
	RoleCustomer     Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleVeterinarian, RoleStaff, RoleCustomer:
		return true
	}
	return false
}

// Tenant is one clinic account. Every other record is scoped by its ID.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Timezone  string    `json:"timezone"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the clinic's timezone, defaulting to UTC.
func (t Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Settings holds the per-clinic booking and billing rules.
type Settings struct {
	SlotMinutes             int            `json:"slot_minutes" yaml:"slot_minutes"`
	OpenHour                int            `json:"open_hour" yaml:"open_hour"`
	CloseHour               int            `json:"close_hour" yaml:"close_hour"`
	WorkDays                []time.Weekday `json:"work_days" yaml:"work_days"`
	BookingHorizonDays      int            `json:"booking_horizon_days" yaml:"booking_horizon_days"`
	CancellationNoticeHours int            `json:"cancellation_notice_hours" yaml:"cancellation_notice_hours"`
	CommissionBps           int            `json:"commission_bps" yaml:"commission_bps"`
	PendingTTLHours         int            `json:"pending_ttl_hours" yaml:"pending_ttl_hours"`
	MaxServicesPerBooking   int            `json:"max_services_per_booking" yaml:"max_services_per_booking"`
}

// DefaultSettings returns the settings applied to new clinics.
func DefaultSettings() Settings {
	return Settings{
		SlotMinutes:             15,
		OpenHour:                8,
		CloseHour:               18,
		WorkDays:                []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
		BookingHorizonDays:      60,
		CancellationNoticeHours: 24,
		CommissionBps:           500,
		PendingTTLHours:         72,
		MaxServicesPerBooking:   5,
	}
}

// Validate checks the settings ranges.
func (s Settings) Validate() error {
	if s.SlotMinutes < 5 || s.SlotMinutes > 120 {
		return fmt.Errorf("slot_minutes must be between 5 and 120")
	}
	if s.OpenHour < 0 || s.CloseHour > 24 || s.OpenHour >= s.CloseHour {
		return fmt.Errorf("opening hours must satisfy 0 <= open_hour < close_hour <= 24")
	}
	if len(s.WorkDays) == 0 {
		return fmt.Errorf("work_days cannot be empty")
	}
	for _, d := range s.WorkDays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid work day %d", d)
		}
	}
	if s.BookingHorizonDays < 1 || s.BookingHorizonDays > 365 {
		return fmt.Errorf("booking_horizon_days must be between 1 and 365")
	}
	if s.CancellationNoticeHours < 0 || s.CancellationNoticeHours > 168 {
		return fmt.Errorf("cancellation_notice_hours must be between 0 and 168")
	}
	if s.CommissionBps < 0 || s.CommissionBps > 5000 {
		return fmt.Errorf("commission_bps must be between 0 and 5000")
	}
	if s.PendingTTLHours < 1 {
		return fmt.Errorf("pending_ttl_hours must be positive")
	}
	if s.MaxServicesPerBooking < 1 || s.MaxServicesPerBooking > 20 {
		return fmt.Errorf("max_services_per_booking must be between 1 and 20")
	}
	return nil
}

// IsWorkDay reports whether the clinic opens on d.
func (s Settings) IsWorkDay(d time.Weekday) bool {
	for _, w := range s.WorkDays {
		if w == d {
			return true
		}
	}
	return false
}

// Member links a user to a tenant with a role.
type Member struct {
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// APIKey grants an integration a fixed role inside one tenant.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	Hash       string     `json:"-"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the key has not been revoked.
func (k APIKey) Active() bool {
	return k.RevokedAt == nil
}
