package customers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

var staff = auth.Actor{UserID: "staff-1", TenantID: "t1", Role: tenant.RoleStaff}

func TestCustomerCRUD(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), logger.Discard())

	c, err := svc.Create(ctx, staff, Input{FirstName: "Ann", LastName: "Lee", Email: " Ann@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", c.Email)

	_, err = svc.Create(ctx, staff, Input{FirstName: "Bob", Email: "ann@example.com"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	_, err = svc.Create(ctx, staff, Input{FirstName: "Bob", Email: "not-an-email"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))

	self := auth.Actor{UserID: "u-ann", TenantID: "t1", Role: tenant.RoleCustomer, CustomerID: c.ID}
	updated, err := svc.Update(ctx, self, c.ID, Input{FirstName: "Annie", LastName: "Lee", Email: "ann@example.com", Notes: "vip"})
	require.NoError(t, err)
	assert.Equal(t, "Annie", updated.FirstName)
	assert.Empty(t, updated.Notes, "customers cannot write staff notes")

	other := auth.Actor{UserID: "u-x", TenantID: "t1", Role: tenant.RoleCustomer, CustomerID: "someone-else"}
	_, err = svc.Get(ctx, other, c.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	_, err = svc.List(ctx, self, "")
	assert.Error(t, err)

	linked, err := svc.LinkUser(ctx, staff, c.ID, "u-ann")
	require.NoError(t, err)
	assert.Equal(t, "u-ann", linked.UserID)
}

func TestPets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := New(memory.New(), logger.Discard()).WithClock(func() time.Time { return now })

	c, err := svc.Create(ctx, staff, Input{FirstName: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	owner := auth.Actor{UserID: "u-ann", TenantID: "t1", Role: tenant.RoleCustomer, CustomerID: c.ID}

	future := now.Add(48 * time.Hour)
	_, err = svc.AddPet(ctx, owner, c.ID, PetInput{Name: "Rex", Species: "dog", BirthDate: &future})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))

	_, err = svc.AddPet(ctx, owner, c.ID, PetInput{Name: "Rex"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))

	pet, err := svc.AddPet(ctx, owner, c.ID, PetInput{Name: "Rex", Species: "Dog"})
	require.NoError(t, err)
	assert.Equal(t, "dog", pet.Species)

	stranger := auth.Actor{UserID: "u-x", TenantID: "t1", Role: tenant.RoleCustomer, CustomerID: "c-x"}
	_, err = svc.GetPet(ctx, stranger, pet.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	archived, err := svc.ArchivePet(ctx, owner, pet.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived)

	pets, err := svc.ListPets(ctx, owner, "")
	require.NoError(t, err)
	assert.Len(t, pets, 1)
}
