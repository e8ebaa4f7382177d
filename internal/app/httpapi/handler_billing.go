package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	billingsvc "github.com/R3E-Network/vetclinic/internal/app/services/billing"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	"github.com/R3E-Network/vetclinic/internal/httputil"
)

func (h *handler) billingRoutes(r *mux.Router) {
	r.HandleFunc("/invoices", h.listInvoices).Methods(http.MethodGet)
	r.HandleFunc("/invoices", h.createInvoice).Methods(http.MethodPost)
	r.HandleFunc("/invoices/{invoiceID}", h.getInvoice).Methods(http.MethodGet)
	r.HandleFunc("/invoices/{invoiceID}/items", h.addInvoiceItem).Methods(http.MethodPost)
	r.HandleFunc("/invoices/{invoiceID}/issue", h.issueInvoice).Methods(http.MethodPost)
	r.HandleFunc("/invoices/{invoiceID}/payments", h.listPayments).Methods(http.MethodGet)
	r.HandleFunc("/invoices/{invoiceID}/payments", h.recordPayment).Methods(http.MethodPost)
	r.HandleFunc("/invoices/{invoiceID}/void", h.voidInvoice).Methods(http.MethodPost)
}

func (h *handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter := storage.InvoiceFilter{
		CustomerID: r.URL.Query().Get("customer_id"),
		Status:     billing.Status(r.URL.Query().Get("status")),
	}
	list, err := h.app.Billing.List(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CustomerID string `json:"customer_id"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	inv, err := h.app.Billing.CreateDraft(r.Context(), actorFrom(r.Context()), payload.CustomerID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (h *handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.app.Billing.Get(r.Context(), actorFrom(r.Context()), pathVar(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) addInvoiceItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	inv, err := h.app.Billing.AddProductLine(r.Context(), actorFrom(r.Context()), pathVar(r, "invoiceID"), payload.ProductID, payload.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) issueInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.app.Billing.Issue(r.Context(), actorFrom(r.Context()), pathVar(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) listPayments(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Billing.Payments(r.Context(), actorFrom(r.Context()), pathVar(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var in billingsvc.PaymentInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	inv, p, err := h.app.Billing.RecordPayment(r.Context(), actorFrom(r.Context()), pathVar(r, "invoiceID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"invoice": inv, "payment": p})
}

func (h *handler) voidInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.app.Billing.Void(r.Context(), actorFrom(r.Context()), pathVar(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}
