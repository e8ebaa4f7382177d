package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/services/tenants"
	"github.com/R3E-Network/vetclinic/internal/httputil"
)

func (h *handler) tenantRoutes(r *mux.Router) {
	r.HandleFunc("", h.getTenant).Methods(http.MethodGet)
	r.HandleFunc("/settings", h.updateSettings).Methods(http.MethodPatch)
	r.HandleFunc("/members", h.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/members", h.addMember).Methods(http.MethodPost)
	r.HandleFunc("/members/{userID}", h.removeMember).Methods(http.MethodDelete)
	r.HandleFunc("/api-keys", h.listAPIKeys).Methods(http.MethodGet)
	r.HandleFunc("/api-keys", h.createAPIKey).Methods(http.MethodPost)
	r.HandleFunc("/api-keys/{keyID}", h.revokeAPIKey).Methods(http.MethodDelete)
	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
}

func (h *handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Slug     string `json:"slug"`
		Timezone string `json:"timezone"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())
	t, err := h.app.Tenants.CreateTenant(r.Context(), principal.UserID, payload.Name, payload.Slug, payload.Timezone)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *handler) listTenants(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	if principal.IsAPIKey() {
		t, err := h.app.Tenants.Lookup(r.Context(), principal.TenantID)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, []tenant.Tenant{t})
		return
	}
	list, err := h.app.Tenants.ListForUser(r.Context(), principal.UserID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.app.Tenants.Get(r.Context(), actorFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch tenants.SettingsPatch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}
	t, err := h.app.Tenants.UpdateSettings(r.Context(), actorFrom(r.Context()), patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *handler) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.app.Tenants.ListMembers(r.Context(), actorFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, members)
}

func (h *handler) addMember(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID      string      `json:"user_id"`
		Role        tenant.Role `json:"role"`
		DisplayName string      `json:"display_name"`
		Email       string      `json:"email"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	m, err := h.app.Tenants.AddMember(r.Context(), actorFrom(r.Context()), payload.UserID, payload.Role, payload.DisplayName, payload.Email)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (h *handler) removeMember(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Tenants.RemoveMember(r.Context(), actorFrom(r.Context()), pathVar(r, "userID")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.app.Tenants.ListAPIKeys(r.Context(), actorFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, keys)
}

// createAPIKey returns the raw key once; only its hash is stored.
func (h *handler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string      `json:"name"`
		Role tenant.Role `json:"role"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	key, raw, err := h.app.Tenants.CreateAPIKey(r.Context(), actorFrom(r.Context()), payload.Name, payload.Role)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"key": key, "secret": raw})
}

func (h *handler) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Tenants.RevokeAPIKey(r.Context(), actorFrom(r.Context()), pathVar(r, "keyID")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
