package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

func TestGuards(t *testing.T) {
	vet := Actor{UserID: "u1", TenantID: "t1", Role: tenant.RoleVeterinarian}
	owner := Actor{UserID: "u2", TenantID: "t1", Role: tenant.RoleOwner}
	cust := Actor{UserID: "u3", TenantID: "t1", Role: tenant.RoleCustomer, CustomerID: "c1"}

	assert.NoError(t, RequireStaff(vet))
	assert.Error(t, RequireManager(vet))
	assert.NoError(t, RequireManager(owner))
	assert.True(t, svcerrors.HasCode(RequireStaff(cust), svcerrors.CodeForbidden))

	assert.NoError(t, RequireCustomerAccess(cust, "c1"))
	assert.Error(t, RequireCustomerAccess(cust, "c2"))
	assert.NoError(t, RequireCustomerAccess(vet, "c2"))

	assert.NoError(t, SameTenant(vet, "t1"))
	assert.Error(t, SameTenant(vet, "t2"))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	tn, err := store.CreateTenant(ctx, tenant.Tenant{Name: "Paws", Slug: "paws"})
	require.NoError(t, err)
	_, err = store.UpsertMember(ctx, tenant.Member{TenantID: tn.ID, UserID: "vet", Role: tenant.RoleVeterinarian})
	require.NoError(t, err)
	_, err = store.UpsertMember(ctx, tenant.Member{TenantID: tn.ID, UserID: "cust", Role: tenant.RoleCustomer})
	require.NoError(t, err)
	c, err := store.CreateCustomer(ctx, customer.Customer{TenantID: tn.ID, UserID: "cust", FirstName: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)

	r := NewResolver(store, store)

	actor, err := r.Resolve(ctx, Principal{UserID: "vet"}, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.RoleVeterinarian, actor.Role)

	actor, err = r.Resolve(ctx, Principal{UserID: "cust"}, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, actor.CustomerID)

	_, err = r.Resolve(ctx, Principal{UserID: "stranger"}, tn.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	actor, err = r.Resolve(ctx, Principal{APIKeyID: "k1", TenantID: tn.ID, Role: tenant.RoleStaff}, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, "apikey:k1", actor.UserID)

	_, err = r.Resolve(ctx, Principal{APIKeyID: "k1", TenantID: "other", Role: tenant.RoleStaff}, tn.ID)
	assert.Error(t, err)
}

func TestResolveLinkedCustomerWithoutMembership(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	tn, err := store.CreateTenant(ctx, tenant.Tenant{Name: "Paws", Slug: "paws"})
	require.NoError(t, err)
	c, err := store.CreateCustomer(ctx, customer.Customer{TenantID: tn.ID, UserID: "portal-user", FirstName: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)

	actor, err := NewResolver(store, store).Resolve(ctx, Principal{UserID: "portal-user"}, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.RoleCustomer, actor.Role)
	assert.Equal(t, c.ID, actor.CustomerID)
	assert.False(t, actor.IsStaff())

	other, err := store.CreateTenant(ctx, tenant.Tenant{Name: "Claws", Slug: "claws"})
	require.NoError(t, err)
	_, err = NewResolver(store, store).Resolve(ctx, Principal{UserID: "portal-user"}, other.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	_, err = NewResolver(store, nil).Resolve(ctx, Principal{UserID: "portal-user"}, tn.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u1"})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.Subject())
}
