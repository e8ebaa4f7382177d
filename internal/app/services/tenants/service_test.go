package tenants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

func setup(t *testing.T) (*Service, tenant.Tenant, auth.Actor) {
	t.Helper()
	store := memory.New()
	svc := New(store, store, store, logger.Discard())
	tn, err := svc.CreateTenant(context.Background(), "owner-1", "Happy Paws", "happy-paws", "UTC")
	require.NoError(t, err)
	return svc, tn, auth.Actor{UserID: "owner-1", TenantID: tn.ID, Role: tenant.RoleOwner}
}

func TestCreateTenantValidation(t *testing.T) {
	svc, tn, _ := setup(t)
	ctx := context.Background()
	assert.Equal(t, 15, tn.Settings.SlotMinutes)

	_, err := svc.CreateTenant(ctx, "u", "X", "no", "UTC")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))
	_, err = svc.CreateTenant(ctx, "u", "X", "valid-slug", "Mars/Olympus")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))
	_, err = svc.CreateTenant(ctx, "u", "X", "happy-paws", "UTC")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	list, err := svc.ListForUser(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tn.ID, list[0].ID)
}

func TestUpdateSettings(t *testing.T) {
	svc, tn, owner := setup(t)
	ctx := context.Background()

	slot := 30
	updated, err := svc.UpdateSettings(ctx, owner, SettingsPatch{SlotMinutes: &slot})
	require.NoError(t, err)
	assert.Equal(t, 30, updated.Settings.SlotMinutes)

	bad := 20
	closeHour := 10
	_, err = svc.UpdateSettings(ctx, owner, SettingsPatch{OpenHour: &bad, CloseHour: &closeHour})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))

	staff := auth.Actor{UserID: "s", TenantID: tn.ID, Role: tenant.RoleStaff}
	_, err = svc.UpdateSettings(ctx, staff, SettingsPatch{SlotMinutes: &slot})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))
}

func TestMembersKeepAnOwner(t *testing.T) {
	svc, tn, owner := setup(t)
	ctx := context.Background()

	_, err := svc.AddMember(ctx, owner, "admin-1", tenant.RoleAdmin, "Ada", "ada@example.com")
	require.NoError(t, err)
	admin := auth.Actor{UserID: "admin-1", TenantID: tn.ID, Role: tenant.RoleAdmin}

	_, err = svc.AddMember(ctx, admin, "x", tenant.RoleOwner, "", "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	_, err = svc.AddMember(ctx, owner, "owner-1", tenant.RoleAdmin, "", "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict), "sole owner cannot step down")

	err = svc.RemoveMember(ctx, owner, "owner-1")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	_, err = svc.AddMember(ctx, owner, "owner-2", tenant.RoleOwner, "", "")
	require.NoError(t, err)
	require.NoError(t, svc.RemoveMember(ctx, owner, "owner-1"))

	members, err := svc.ListMembers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestAPIKeyLifecycle(t *testing.T) {
	svc, tn, owner := setup(t)
	ctx := context.Background()

	_, _, err := svc.CreateAPIKey(ctx, owner, "import", tenant.RoleOwner)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))

	key, raw, err := svc.CreateAPIKey(ctx, owner, "import", tenant.RoleStaff)
	require.NoError(t, err)
	assert.Contains(t, raw, APIKeyPrefix+key.ID+"_")

	p, err := svc.Authenticate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, tn.ID, p.TenantID)
	assert.Equal(t, tenant.RoleStaff, p.Role)

	_, err = svc.Authenticate(ctx, raw+"x")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken))

	require.NoError(t, svc.RevokeAPIKey(ctx, owner, key.ID))
	_, err = svc.Authenticate(ctx, raw)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidToken))
}

func TestParseAPIKey(t *testing.T) {
	id, secret, ok := ParseAPIKey("vk_abc_def")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "def", secret)

	for _, raw := range []string{"", "abc_def", "vk_", "vk_abc", "vk__def"} {
		_, _, ok := ParseAPIKey(raw)
		assert.False(t, ok, raw)
	}
}
