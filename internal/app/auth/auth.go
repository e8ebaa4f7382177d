// Package auth resolves authenticated principals into tenant-scoped actors and
// provides the role and ownership guards used by every service.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

// Principal is an authenticated caller before tenant resolution. API key
// principals carry their tenant and role; user principals get both from
// membership.
type Principal struct {
	UserID   string      `json:"user_id,omitempty"`
	Email    string      `json:"email,omitempty"`
	APIKeyID string      `json:"api_key_id,omitempty"`
	TenantID string      `json:"tenant_id,omitempty"`
	Role     tenant.Role `json:"role,omitempty"`
}

// IsAPIKey reports whether the principal authenticated with a tenant API key.
func (p Principal) IsAPIKey() bool {
	return p.APIKeyID != ""
}

// Subject identifies the principal in logs and audit entries.
func (p Principal) Subject() string {
	if p.IsAPIKey() {
		return "apikey:" + p.APIKeyID
	}
	return p.UserID
}

// Actor is a principal acting inside one tenant.
type Actor struct {
	UserID     string      `json:"user_id"`
	TenantID   string      `json:"tenant_id"`
	Role       tenant.Role `json:"role"`
	CustomerID string      `json:"customer_id,omitempty"`
}

// IsStaff reports whether the actor works at the clinic.
func (a Actor) IsStaff() bool {
	switch a.Role {
	case tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleVeterinarian, tenant.RoleStaff:
		return true
	}
	return false
}

// CanManage reports whether the actor administers the clinic.
func (a Actor) CanManage() bool {
	return a.Role == tenant.RoleOwner || a.Role == tenant.RoleAdmin
}

// IsCustomer reports whether the actor is a pet owner.
func (a Actor) IsCustomer() bool {
	return a.Role == tenant.RoleCustomer
}

// HasRole reports whether the actor holds one of roles.
func (a Actor) HasRole(roles ...tenant.Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// RequireRole fails with Forbidden unless the actor holds one of roles.
func RequireRole(a Actor, roles ...tenant.Role) error {
	if a.HasRole(roles...) {
		return nil
	}
	return svcerrors.Forbidden("role %s cannot perform this action", a.Role)
}

// RequireStaff fails unless the actor is clinic staff.
func RequireStaff(a Actor) error {
	if a.IsStaff() {
		return nil
	}
	return svcerrors.Forbidden("staff role required")
}

// RequireManager fails unless the actor is an owner or admin.
func RequireManager(a Actor) error {
	if a.CanManage() {
		return nil
	}
	return svcerrors.Forbidden("owner or admin role required")
}

// SameTenant fails unless the actor belongs to tenantID.
func SameTenant(a Actor, tenantID string) error {
	if a.TenantID != "" && a.TenantID == tenantID {
		return nil
	}
	return svcerrors.Forbidden("actor does not belong to tenant %s", tenantID)
}

// RequireCustomerAccess allows staff, or the customer acting on itself.
func RequireCustomerAccess(a Actor, customerID string) error {
	if a.IsStaff() {
		return nil
	}
	if a.IsCustomer() && a.CustomerID != "" && a.CustomerID == customerID {
		return nil
	}
	return svcerrors.Forbidden("no access to customer %s", customerID)
}

// Resolver turns principals into actors.
type Resolver struct {
	members   storage.MemberStore
	customers storage.CustomerStore
}

// NewResolver builds a resolver.
func NewResolver(members storage.MemberStore, customers storage.CustomerStore) *Resolver {
	return &Resolver{members: members, customers: customers}
}

// Resolve looks up the principal's role in tenantID. Customer actors also get
// the customer record linked to their user. A login linked to a customer
// without a membership row resolves as that customer.
func (r *Resolver) Resolve(ctx context.Context, p Principal, tenantID string) (Actor, error) {
	if tenantID == "" {
		return Actor{}, svcerrors.InvalidInput("tenant is required")
	}
	if p.IsAPIKey() {
		if p.TenantID != tenantID {
			return Actor{}, svcerrors.Forbidden("api key is not valid for tenant %s", tenantID)
		}
		return Actor{UserID: p.Subject(), TenantID: tenantID, Role: p.Role}, nil
	}
	if p.UserID == "" {
		return Actor{}, svcerrors.Unauthorized("")
	}

	member, err := r.members.GetMember(ctx, tenantID, p.UserID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		return r.linkedCustomer(ctx, p.UserID, tenantID)
	default:
		return Actor{}, svcerrors.Internal("resolve membership", err)
	}
	actor := Actor{UserID: p.UserID, TenantID: tenantID, Role: member.Role}
	if member.Role == tenant.RoleCustomer && r.customers != nil {
		c, err := r.customers.GetCustomerByUser(ctx, tenantID, p.UserID)
		switch {
		case err == nil:
			actor.CustomerID = c.ID
		case !errors.Is(err, storage.ErrNotFound):
			return Actor{}, svcerrors.Internal("resolve customer", err)
		}
	}
	return actor, nil
}

func (r *Resolver) linkedCustomer(ctx context.Context, userID, tenantID string) (Actor, error) {
	if r.customers == nil {
		return Actor{}, svcerrors.Forbidden("user is not a member of tenant %s", tenantID)
	}
	c, err := r.customers.GetCustomerByUser(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Actor{}, svcerrors.Forbidden("user is not a member of tenant %s", tenantID)
		}
		return Actor{}, svcerrors.Internal("resolve customer", err)
	}
	return Actor{UserID: userID, TenantID: tenantID, Role: tenant.RoleCustomer, CustomerID: c.ID}, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// String implements fmt.Stringer for log fields.
func (a Actor) String() string {
	return fmt.Sprintf("%s(%s)@%s", a.UserID, a.Role, a.TenantID)
}
