package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/services/scheduling"
	"github.com/R3E-Network/vetclinic/internal/httputil"
)

func (h *handler) appointmentRoutes(r *mux.Router) {
	r.HandleFunc("/booking-requests", h.listBookingRequests).Methods(http.MethodGet)
	r.HandleFunc("/booking-requests", h.submitBookingRequest).Methods(http.MethodPost)

	r.HandleFunc("/appointments", h.listAppointments).Methods(http.MethodGet)
	r.HandleFunc("/appointments", h.createAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}", h.getAppointment).Methods(http.MethodGet)
	r.HandleFunc("/appointments/{appointmentID}/schedule", h.scheduleAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/confirm", h.confirmAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/cancel", h.cancelAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/reschedule", h.rescheduleAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/complete", h.completeAppointment).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/no-show", h.markNoShow).Methods(http.MethodPost)
	r.HandleFunc("/appointments/{appointmentID}/invoice", h.ensureCommissionInvoice).Methods(http.MethodPost)

	r.HandleFunc("/availability", h.availability).Methods(http.MethodGet)
}

func (h *handler) listBookingRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Scheduling.ListPending(r.Context(), actorFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) submitBookingRequest(w http.ResponseWriter, r *http.Request) {
	var req scheduling.BookingRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	a, err := h.app.Scheduling.SubmitBookingRequest(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func appointmentFilter(r *http.Request) (appointment.Filter, error) {
	q := r.URL.Query()
	filter := appointment.Filter{
		VetID:      q.Get("vet_id"),
		CustomerID: q.Get("customer_id"),
		PetID:      q.Get("pet_id"),
	}
	for _, st := range queryList(r, "status") {
		filter.Statuses = append(filter.Statuses, appointment.Status(st))
	}
	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

func (h *handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	filter, err := appointmentFilter(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	list, err := h.app.Scheduling.List(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var in scheduling.DirectBooking
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	a, err := h.app.Scheduling.CreateAppointment(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Scheduling.Get(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) scheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var in scheduling.ScheduleInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	a, err := h.app.Scheduling.ScheduleBooking(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if !decodeOptional(w, r, &body) {
		return
	}
	a, err := h.app.Scheduling.Confirm(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), body.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if !decodeOptional(w, r, &body) {
		return
	}
	a, err := h.app.Scheduling.Cancel(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), body.Reason, body.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var in scheduling.RescheduleInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	a, err := h.app.Scheduling.Reschedule(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

// completeAppointment returns the completed appointment together with the
// commission invoice raised in the same procedure.
func (h *handler) completeAppointment(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if !decodeOptional(w, r, &body) {
		return
	}
	a, inv, err := h.app.Scheduling.Complete(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), body.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"appointment": a, "invoice": inv})
}

func (h *handler) markNoShow(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if !decodeOptional(w, r, &body) {
		return
	}
	a, err := h.app.Scheduling.MarkNoShow(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"), body.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) ensureCommissionInvoice(w http.ResponseWriter, r *http.Request) {
	inv, created, err := h.app.Billing.EnsureCommissionInvoice(r.Context(), actorFrom(r.Context()), pathVar(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, inv)
}

func (h *handler) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slots, err := h.app.Scheduling.Availability(r.Context(), actorFrom(r.Context()), q.Get("vet_id"), q.Get("date"), queryList(r, "service_id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"slots": slots})
}
