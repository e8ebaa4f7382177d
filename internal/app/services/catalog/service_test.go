package catalog

import (
	"context"
	"testing"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

func TestService_CreateAndRetire(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)
	admin := auth.Actor{UserID: "a", TenantID: "t1", Role: tenant.RoleAdmin}
	cust := auth.Actor{UserID: "c", TenantID: "t1", Role: tenant.RoleCustomer}

	checkup, err := svc.Create(ctx, admin, Input{Name: "Checkup", DurationMinutes: 30, PriceCents: 4500, RequiresVet: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !checkup.Active {
		t.Fatalf("new services should be active")
	}

	if _, err := svc.Create(ctx, admin, Input{Name: "checkup", DurationMinutes: 30}); !svcerrors.HasCode(err, svcerrors.CodeConflict) {
		t.Fatalf("expected conflict on duplicate name, got %v", err)
	}
	if _, err := svc.Create(ctx, admin, Input{Name: "Odd", DurationMinutes: 7}); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected duration validation, got %v", err)
	}
	if _, err := svc.Create(ctx, cust, Input{Name: "Nope", DurationMinutes: 10}); !svcerrors.HasCode(err, svcerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if _, err := svc.SetActive(ctx, admin, checkup.ID, false); err != nil {
		t.Fatalf("retire: %v", err)
	}
	visible, err := svc.List(ctx, cust, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("customers should not see retired services, got %d", len(visible))
	}
	all, err := svc.List(ctx, admin, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 service, got %d", len(all))
	}
}
