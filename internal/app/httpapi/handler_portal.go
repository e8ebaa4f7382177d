package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/vetclinic/internal/app/services/scheduling"
	"github.com/R3E-Network/vetclinic/internal/httputil"
)

// portalRoutes serve customers acting on their own profile.
func (h *handler) portalRoutes(r *mux.Router) {
	r.HandleFunc("/overview", h.portalOverview).Methods(http.MethodGet)
	r.HandleFunc("/booking-requests", h.portalSubmit).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/confirm", h.portalConfirm).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/cancel", h.portalCancel).Methods(http.MethodPost)
	r.HandleFunc("/availability", h.portalAvailability).Methods(http.MethodGet)
	r.HandleFunc("/pets/{petID}/records", h.portalPetRecords).Methods(http.MethodGet)
	r.HandleFunc("/invoices", h.portalInvoices).Methods(http.MethodGet)
}

func (h *handler) portalOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.app.Portal.Overview(r.Context(), actorFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ov)
}

func (h *handler) portalSubmit(w http.ResponseWriter, r *http.Request) {
	var req scheduling.BookingRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	a, err := h.app.Portal.SubmitBookingRequest(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *handler) portalConfirm(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if !decodeOptional(w, r, &body) {
		return
	}
	a, err := h.app.Portal.Confirm(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), body.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) portalCancel(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if !decodeOptional(w, r, &body) {
		return
	}
	a, err := h.app.Portal.Cancel(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), body.Reason, body.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) portalAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slots, err := h.app.Portal.Availability(r.Context(), actorFrom(r.Context()), q.Get("vet_id"), q.Get("date"), queryList(r, "service_id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *handler) portalPetRecords(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Portal.PetRecords(r.Context(), actorFrom(r.Context()), pathVar(r, "petID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) portalInvoices(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Portal.Invoices(r.Context(), actorFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
