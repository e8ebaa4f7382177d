package tenants

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]{3,40}$`)

// Service manages clinics, their members and their API keys.
type Service struct {
	tenants  storage.TenantStore
	members  storage.MemberStore
	keys     storage.APIKeyStore
	defaults tenant.Settings
	log      *logger.Logger
	now      func() time.Time
}

// New creates a tenant service.
func New(tenants storage.TenantStore, members storage.MemberStore, keys storage.APIKeyStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tenants")
	}
	return &Service{
		tenants:  tenants,
		members:  members,
		keys:     keys,
		defaults: tenant.DefaultSettings(),
		log:      log,
		now:      time.Now,
	}
}

// WithDefaults sets the settings applied to new clinics.
func (s *Service) WithDefaults(settings tenant.Settings) *Service {
	s.defaults = settings
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateTenant registers a clinic and makes userID its owner.
func (s *Service) CreateTenant(ctx context.Context, userID, name, slug, timezone string) (tenant.Tenant, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))
	timezone = strings.TrimSpace(timezone)

	if userID == "" {
		return tenant.Tenant{}, svcerrors.Unauthorized("")
	}
	if name == "" {
		return tenant.Tenant{}, svcerrors.InvalidInput("name is required")
	}
	if !slugPattern.MatchString(slug) {
		return tenant.Tenant{}, svcerrors.InvalidInput("slug must be 3-40 characters of a-z, 0-9 or -")
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return tenant.Tenant{}, svcerrors.InvalidInput("unknown timezone %q", timezone)
	}

	settings := s.defaults
	settings.WorkDays = append([]time.Weekday(nil), s.defaults.WorkDays...)
	t, err := s.tenants.CreateTenant(ctx, tenant.Tenant{
		Name:     name,
		Slug:     slug,
		Timezone: timezone,
		Settings: settings,
	})
	if err != nil {
		return tenant.Tenant{}, storeerr.Translate(err, "tenant", slug)
	}
	if _, err := s.members.UpsertMember(ctx, tenant.Member{TenantID: t.ID, UserID: userID, Role: tenant.RoleOwner}); err != nil {
		return tenant.Tenant{}, storeerr.Translate(err, "member", userID)
	}
	s.log.WithField("tenant_id", t.ID).
		WithField("slug", t.Slug).
		WithField("owner", userID).
		Info("tenant created")
	return t, nil
}

// Get returns the actor's tenant.
func (s *Service) Get(ctx context.Context, actor auth.Actor) (tenant.Tenant, error) {
	t, err := s.tenants.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return tenant.Tenant{}, storeerr.Translate(err, "tenant", actor.TenantID)
	}
	return t, nil
}

// Lookup returns a tenant without an actor, for internal callers.
func (s *Service) Lookup(ctx context.Context, tenantID string) (tenant.Tenant, error) {
	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return tenant.Tenant{}, storeerr.Translate(err, "tenant", tenantID)
	}
	return t, nil
}

// ListAll returns every tenant. Used by background jobs.
func (s *Service) ListAll(ctx context.Context) ([]tenant.Tenant, error) {
	return s.tenants.ListTenants(ctx)
}

// ListForUser returns the tenants userID belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]tenant.Tenant, error) {
	memberships, err := s.members.ListMembershipsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]tenant.Tenant, 0, len(memberships))
	for _, m := range memberships {
		t, err := s.tenants.GetTenant(ctx, m.TenantID)
		if err != nil {
			if storeerr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SettingsPatch carries optional settings changes.
type SettingsPatch struct {
	Name                    *string        `json:"name,omitempty"`
	Timezone                *string        `json:"timezone,omitempty"`
	SlotMinutes             *int           `json:"slot_minutes,omitempty"`
	OpenHour                *int           `json:"open_hour,omitempty"`
	CloseHour               *int           `json:"close_hour,omitempty"`
	WorkDays                []time.Weekday `json:"work_days,omitempty"`
	BookingHorizonDays      *int           `json:"booking_horizon_days,omitempty"`
	CancellationNoticeHours *int           `json:"cancellation_notice_hours,omitempty"`
	CommissionBps           *int           `json:"commission_bps,omitempty"`
	PendingTTLHours         *int           `json:"pending_ttl_hours,omitempty"`
	MaxServicesPerBooking   *int           `json:"max_services_per_booking,omitempty"`
}

// UpdateSettings applies patch to the actor's tenant. Owners and admins only.
func (s *Service) UpdateSettings(ctx context.Context, actor auth.Actor, patch SettingsPatch) (tenant.Tenant, error) {
	if err := auth.RequireManager(actor); err != nil {
		return tenant.Tenant{}, err
	}
	t, err := s.tenants.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return tenant.Tenant{}, storeerr.Translate(err, "tenant", actor.TenantID)
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return tenant.Tenant{}, svcerrors.InvalidInput("name cannot be empty")
		}
		t.Name = name
	}
	if patch.Timezone != nil {
		tz := strings.TrimSpace(*patch.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			return tenant.Tenant{}, svcerrors.InvalidInput("unknown timezone %q", tz)
		}
		t.Timezone = tz
	}
	st := &t.Settings
	setInt(&st.SlotMinutes, patch.SlotMinutes)
	setInt(&st.OpenHour, patch.OpenHour)
	setInt(&st.CloseHour, patch.CloseHour)
	setInt(&st.BookingHorizonDays, patch.BookingHorizonDays)
	setInt(&st.CancellationNoticeHours, patch.CancellationNoticeHours)
	setInt(&st.CommissionBps, patch.CommissionBps)
	setInt(&st.PendingTTLHours, patch.PendingTTLHours)
	setInt(&st.MaxServicesPerBooking, patch.MaxServicesPerBooking)
	if patch.WorkDays != nil {
		st.WorkDays = append([]time.Weekday(nil), patch.WorkDays...)
	}
	if err := st.Validate(); err != nil {
		return tenant.Tenant{}, svcerrors.InvalidInput("%s", err.Error())
	}

	t, err = s.tenants.UpdateTenant(ctx, t)
	if err != nil {
		return tenant.Tenant{}, storeerr.Translate(err, "tenant", actor.TenantID)
	}
	s.log.WithField("tenant_id", t.ID).
		WithField("actor", actor.UserID).
		Info("tenant settings updated")
	return t, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// AddMember grants userID a role in the actor's tenant, or changes it. Only
// owners may grant the owner role, and the last owner cannot be demoted.
func (s *Service) AddMember(ctx context.Context, actor auth.Actor, userID string, role tenant.Role, displayName, email string) (tenant.Member, error) {
	if err := auth.RequireManager(actor); err != nil {
		return tenant.Member{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return tenant.Member{}, svcerrors.InvalidInput("user_id is required")
	}
	if !role.Valid() {
		return tenant.Member{}, svcerrors.InvalidInput("invalid role %q", role)
	}
	if role == tenant.RoleOwner && actor.Role != tenant.RoleOwner {
		return tenant.Member{}, svcerrors.Forbidden("only owners can grant the owner role")
	}

	existing, err := s.members.GetMember(ctx, actor.TenantID, userID)
	switch {
	case err == nil:
		if existing.Role == tenant.RoleOwner && actor.Role != tenant.RoleOwner {
			return tenant.Member{}, svcerrors.Forbidden("only owners can change an owner")
		}
		if existing.Role == tenant.RoleOwner && role != tenant.RoleOwner {
			if err := s.ensureAnotherOwner(ctx, actor.TenantID, userID); err != nil {
				return tenant.Member{}, err
			}
		}
	case !storeerr.IsNotFound(err):
		return tenant.Member{}, storeerr.Translate(err, "member", userID)
	}

	m, err := s.members.UpsertMember(ctx, tenant.Member{
		TenantID:    actor.TenantID,
		UserID:      userID,
		Role:        role,
		DisplayName: strings.TrimSpace(displayName),
		Email:       strings.TrimSpace(email),
	})
	if err != nil {
		return tenant.Member{}, storeerr.Translate(err, "member", userID)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("user_id", userID).
		WithField("role", role).
		Info("member saved")
	return m, nil
}

// RemoveMember revokes userID's membership.
func (s *Service) RemoveMember(ctx context.Context, actor auth.Actor, userID string) error {
	if err := auth.RequireManager(actor); err != nil {
		return err
	}
	existing, err := s.members.GetMember(ctx, actor.TenantID, userID)
	if err != nil {
		return storeerr.Translate(err, "member", userID)
	}
	if existing.Role == tenant.RoleOwner {
		if actor.Role != tenant.RoleOwner {
			return svcerrors.Forbidden("only owners can remove an owner")
		}
		if err := s.ensureAnotherOwner(ctx, actor.TenantID, userID); err != nil {
			return err
		}
	}
	if err := s.members.DeleteMember(ctx, actor.TenantID, userID); err != nil {
		return storeerr.Translate(err, "member", userID)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("user_id", userID).
		Info("member removed")
	return nil
}

func (s *Service) ensureAnotherOwner(ctx context.Context, tenantID, userID string) error {
	members, err := s.members.ListMembers(ctx, tenantID)
	if err != nil {
		return storeerr.Translate(err, "member", userID)
	}
	for _, m := range members {
		if m.Role == tenant.RoleOwner && m.UserID != userID {
			return nil
		}
	}
	return svcerrors.Conflict("tenant must keep at least one owner")
}

// ListMembers lists the tenant's members. Staff only.
func (s *Service) ListMembers(ctx context.Context, actor auth.Actor) ([]tenant.Member, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return nil, err
	}
	return s.members.ListMembers(ctx, actor.TenantID)
}

// GetMember returns one membership of the actor's tenant.
func (s *Service) GetMember(ctx context.Context, tenantID, userID string) (tenant.Member, error) {
	m, err := s.members.GetMember(ctx, tenantID, userID)
	if err != nil {
		return tenant.Member{}, storeerr.Translate(err, "member", userID)
	}
	return m, nil
}
