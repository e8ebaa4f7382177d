package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	domain "github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	inventorysvc "github.com/R3E-Network/vetclinic/internal/app/services/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/services/records"
	"github.com/R3E-Network/vetclinic/internal/httputil"
)

func (h *handler) recordRoutes(r *mux.Router) {
	r.HandleFunc("/records", h.listRecords).Methods(http.MethodGet)
	r.HandleFunc("/records", h.createRecord).Methods(http.MethodPost)
	r.HandleFunc("/records/{recordID}", h.getRecord).Methods(http.MethodGet)
	r.HandleFunc("/records/{recordID}/addenda", h.addAddendum).Methods(http.MethodPost)
}

func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Records.ListForPet(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("pet_id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var in records.Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	rec, err := h.app.Records.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Records.Get(r.Context(), actorFrom(r.Context()), pathVar(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *handler) addAddendum(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	rec, err := h.app.Records.AddAddendum(r.Context(), actorFrom(r.Context()), pathVar(r, "recordID"), payload.Text)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (h *handler) inventoryRoutes(r *mux.Router) {
	r.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/products", h.createProduct).Methods(http.MethodPost)
	r.HandleFunc("/products/{productID}", h.getProduct).Methods(http.MethodGet)
	r.HandleFunc("/products/{productID}", h.updateProduct).Methods(http.MethodPut)
	r.HandleFunc("/products/{productID}/active", h.setProductActive).Methods(http.MethodPost)
	r.HandleFunc("/products/{productID}/adjust", h.adjustStock).Methods(http.MethodPost)
	r.HandleFunc("/products/{productID}/movements", h.listMovements).Methods(http.MethodGet)
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	var (
		list []domain.Product
		err  error
	)
	if queryBool(r, "low_stock") {
		list, err = h.app.Inventory.ListLowStock(r.Context(), actor)
	} else {
		list, err = h.app.Inventory.List(r.Context(), actor)
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in inventorysvc.Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	p, err := h.app.Inventory.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Inventory.Get(r.Context(), actorFrom(r.Context()), pathVar(r, "productID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var in inventorysvc.Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	p, err := h.app.Inventory.Update(r.Context(), actorFrom(r.Context()), pathVar(r, "productID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) setProductActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active bool `json:"active"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	p, err := h.app.Inventory.SetActive(r.Context(), actorFrom(r.Context()), pathVar(r, "productID"), payload.Active)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Delta  int           `json:"delta"`
		Reason domain.Reason `json:"reason"`
		RefID  string        `json:"ref_id,omitempty"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	p, m, err := h.app.Inventory.AdjustStock(r.Context(), actorFrom(r.Context()), pathVar(r, "productID"), payload.Delta, payload.Reason, payload.RefID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"product": p, "movement": m})
}

func (h *handler) listMovements(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Inventory.Movements(r.Context(), actorFrom(r.Context()), pathVar(r, "productID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) notificationRoutes(r *mux.Router) {
	r.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	filter := notification.Filter{
		AppointmentID: r.URL.Query().Get("appointment_id"),
		Status:        notification.Status(r.URL.Query().Get("status")),
		Limit:         limit,
	}
	list, err := h.app.Notifications.List(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
