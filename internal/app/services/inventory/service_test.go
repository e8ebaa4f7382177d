package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	domain "github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

var (
	admin = auth.Actor{UserID: "admin-1", TenantID: "t1", Role: tenant.RoleAdmin}
	staff = auth.Actor{UserID: "staff-1", TenantID: "t1", Role: tenant.RoleStaff}
)

func newService() *Service {
	store := memory.New()
	return New(store, store, logger.Discard())
}

func TestCreateProduct(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, staff, Input{SKU: "a", Name: "A"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeForbidden))

	p, err := svc.Create(ctx, admin, Input{SKU: " flea-10 ", Name: "Flea drops", PriceCents: 1500, ReorderLevel: 3, InitialStock: 10})
	require.NoError(t, err)
	assert.Equal(t, "FLEA-10", p.SKU)
	assert.Equal(t, 10, p.Stock)
	assert.Equal(t, "unit", p.Unit)

	_, err = svc.Create(ctx, admin, Input{SKU: "flea-10", Name: "Duplicate"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	moves, err := svc.Movements(ctx, staff, p.ID)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, domain.ReasonPurchase, moves[0].Reason)
}

func TestAdjustStock(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	p, err := svc.Create(ctx, admin, Input{SKU: "VAC", Name: "Vaccine", InitialStock: 2, ReorderLevel: 1})
	require.NoError(t, err)

	_, _, err = svc.AdjustStock(ctx, staff, p.ID, 0, "", "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))
	_, _, err = svc.AdjustStock(ctx, staff, p.ID, -1, domain.ReasonSale, "")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput), "sales go through invoices")

	_, _, err = svc.AdjustStock(ctx, staff, p.ID, -3, "", "")
	require.True(t, svcerrors.HasCode(err, svcerrors.CodeInsufficientStock))
	assert.Equal(t, 2, svcerrors.GetServiceError(err).Details["available"])

	updated, mv, err := svc.AdjustStock(ctx, staff, p.ID, -1, domain.ReasonAdjustment, "broken vial")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Stock)
	assert.Equal(t, 1, mv.StockAfter)

	low, err := svc.ListLowStock(ctx, staff)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, p.ID, low[0].ID)
}

func TestUpdateKeepsSKUAndStock(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	p, err := svc.Create(ctx, admin, Input{SKU: "KIB", Name: "Kibble", InitialStock: 4})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, admin, p.ID, Input{SKU: "OTHER", Name: "Kibble 2kg", PriceCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, "KIB", updated.SKU)
	assert.Equal(t, 4, updated.Stock)
	assert.Equal(t, int64(2500), updated.PriceCents)

	retired, err := svc.SetActive(ctx, admin, p.ID, false)
	require.NoError(t, err)
	assert.False(t, retired.Active)
}
