package httpapi

import (
	"context"
	"net/http"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/httputil"
	"github.com/R3E-Network/vetclinic/internal/logging"
)

type actorKey struct{}

// withActor stores the resolved tenant actor in ctx.
func withActor(ctx context.Context, actor auth.Actor) context.Context {
	ctx = context.WithValue(ctx, actorKey{}, actor)
	ctx = logging.WithTenantID(ctx, actor.TenantID)
	return logging.WithRole(ctx, string(actor.Role))
}

func actorFrom(ctx context.Context) auth.Actor {
	actor, _ := ctx.Value(actorKey{}).(auth.Actor)
	return actor
}

// resolveActor turns the authenticated principal into an actor of the
// {tenantID} path segment. Non-members are rejected before any handler runs.
func (h *handler) resolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			httputil.Unauthorized(w, r, "")
			return
		}
		actor, err := h.app.Resolver.Resolve(r.Context(), principal, pathVar(r, "tenantID"))
		if err != nil {
			h.log.WithContext(r.Context()).WithError(err).Debug("tenant resolution failed")
			httputil.WriteError(w, r, err)
			return
		}
		if slot := auditSlotFrom(r.Context()); slot != nil {
			slot.role = string(actor.Role)
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}
