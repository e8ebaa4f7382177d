package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	catalogsvc "github.com/R3E-Network/vetclinic/internal/app/services/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/services/customers"
	"github.com/R3E-Network/vetclinic/internal/httputil"
)

func (h *handler) customerRoutes(r *mux.Router) {
	r.HandleFunc("/customers", h.listCustomers).Methods(http.MethodGet)
	r.HandleFunc("/customers", h.createCustomer).Methods(http.MethodPost)
	r.HandleFunc("/customers/{customerID}", h.getCustomer).Methods(http.MethodGet)
	r.HandleFunc("/customers/{customerID}", h.updateCustomer).Methods(http.MethodPut)
	r.HandleFunc("/customers/{customerID}/link", h.linkCustomer).Methods(http.MethodPost)
	r.HandleFunc("/customers/{customerID}/pets", h.listCustomerPets).Methods(http.MethodGet)
	r.HandleFunc("/customers/{customerID}/pets", h.addPet).Methods(http.MethodPost)

	r.HandleFunc("/pets", h.listPets).Methods(http.MethodGet)
	r.HandleFunc("/pets/{petID}", h.getPet).Methods(http.MethodGet)
	r.HandleFunc("/pets/{petID}", h.updatePet).Methods(http.MethodPut)
	r.HandleFunc("/pets/{petID}/archive", h.archivePet).Methods(http.MethodPost)
	r.HandleFunc("/pets/{petID}/records", h.listPetRecords).Methods(http.MethodGet)
}

func (h *handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Customers.List(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var in customers.Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	c, err := h.app.Customers.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Customers.Get(r.Context(), actorFrom(r.Context()), pathVar(r, "customerID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var in customers.Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	c, err := h.app.Customers.Update(r.Context(), actorFrom(r.Context()), pathVar(r, "customerID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) linkCustomer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	c, err := h.app.Customers.LinkUser(r.Context(), actorFrom(r.Context()), pathVar(r, "customerID"), payload.UserID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) listCustomerPets(w http.ResponseWriter, r *http.Request) {
	pets, err := h.app.Customers.ListPets(r.Context(), actorFrom(r.Context()), pathVar(r, "customerID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pets)
}

func (h *handler) addPet(w http.ResponseWriter, r *http.Request) {
	var in customers.PetInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	pet, err := h.app.Customers.AddPet(r.Context(), actorFrom(r.Context()), pathVar(r, "customerID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pet)
}

func (h *handler) listPets(w http.ResponseWriter, r *http.Request) {
	pets, err := h.app.Customers.ListPets(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("customer_id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pets)
}

func (h *handler) getPet(w http.ResponseWriter, r *http.Request) {
	pet, err := h.app.Customers.GetPet(r.Context(), actorFrom(r.Context()), pathVar(r, "petID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pet)
}

func (h *handler) updatePet(w http.ResponseWriter, r *http.Request) {
	var in customers.PetInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	pet, err := h.app.Customers.UpdatePet(r.Context(), actorFrom(r.Context()), pathVar(r, "petID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pet)
}

func (h *handler) archivePet(w http.ResponseWriter, r *http.Request) {
	pet, err := h.app.Customers.ArchivePet(r.Context(), actorFrom(r.Context()), pathVar(r, "petID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pet)
}

func (h *handler) listPetRecords(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Records.ListForPet(r.Context(), actorFrom(r.Context()), pathVar(r, "petID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) catalogRoutes(r *mux.Router) {
	r.HandleFunc("/services", h.listServices).Methods(http.MethodGet)
	r.HandleFunc("/services", h.createService).Methods(http.MethodPost)
	r.HandleFunc("/services/{serviceID}", h.getService).Methods(http.MethodGet)
	r.HandleFunc("/services/{serviceID}", h.updateService).Methods(http.MethodPut)
	r.HandleFunc("/services/{serviceID}/active", h.setServiceActive).Methods(http.MethodPost)
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Catalog.List(r.Context(), actorFrom(r.Context()), queryBool(r, "include_inactive"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createService(w http.ResponseWriter, r *http.Request) {
	var in catalogsvc.Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	svc, err := h.app.Catalog.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, svc)
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.app.Catalog.Get(r.Context(), actorFrom(r.Context()), pathVar(r, "serviceID"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}

func (h *handler) updateService(w http.ResponseWriter, r *http.Request) {
	var in catalogsvc.Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	svc, err := h.app.Catalog.Update(r.Context(), actorFrom(r.Context()), pathVar(r, "serviceID"), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}

func (h *handler) setServiceActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active bool `json:"active"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}
	svc, err := h.app.Catalog.SetActive(r.Context(), actorFrom(r.Context()), pathVar(r, "serviceID"), payload.Active)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}
