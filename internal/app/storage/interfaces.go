package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/domain/record"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
)

// Sentinel errors returned by every backend. Services translate them into
// service errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrSlotTaken         = errors.New("slot overlaps an existing appointment")
	ErrVersionMismatch   = errors.New("record was modified concurrently")
	ErrInvalidStatus     = errors.New("status does not allow this change")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverpayment       = errors.New("payment exceeds balance")
	ErrEmptyInvoice      = errors.New("invoice has no lines")
)

// TenantStore persists clinics.
type TenantStore interface {
	CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
	UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
	GetTenant(ctx context.Context, id string) (tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
}

// MemberStore persists tenant memberships.
type MemberStore interface {
	UpsertMember(ctx context.Context, m tenant.Member) (tenant.Member, error)
	GetMember(ctx context.Context, tenantID, userID string) (tenant.Member, error)
	ListMembers(ctx context.Context, tenantID string) ([]tenant.Member, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]tenant.Member, error)
	DeleteMember(ctx context.Context, tenantID, userID string) error
}

// APIKeyStore persists integration keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key tenant.APIKey) (tenant.APIKey, error)
	GetAPIKey(ctx context.Context, id string) (tenant.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]tenant.APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// CustomerStore persists pet owners and their pets.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error)
	UpdateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error)
	GetCustomer(ctx context.Context, tenantID, id string) (customer.Customer, error)
	GetCustomerByUser(ctx context.Context, tenantID, userID string) (customer.Customer, error)
	ListCustomers(ctx context.Context, tenantID, query string) ([]customer.Customer, error)

	CreatePet(ctx context.Context, p customer.Pet) (customer.Pet, error)
	UpdatePet(ctx context.Context, p customer.Pet) (customer.Pet, error)
	GetPet(ctx context.Context, tenantID, id string) (customer.Pet, error)
	ListPets(ctx context.Context, tenantID, customerID string) ([]customer.Pet, error)
}

// CatalogStore persists bookable services.
type CatalogStore interface {
	CreateService(ctx context.Context, svc catalog.Service) (catalog.Service, error)
	UpdateService(ctx context.Context, svc catalog.Service) (catalog.Service, error)
	GetService(ctx context.Context, tenantID, id string) (catalog.Service, error)
	ListServices(ctx context.Context, tenantID string, activeOnly bool) ([]catalog.Service, error)
}

// AppointmentStore persists booking requests and appointments. Status and
// slot changes go through Procedures.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error)
	GetAppointment(ctx context.Context, tenantID, id string) (appointment.Appointment, error)
	ListAppointments(ctx context.Context, tenantID string, filter appointment.Filter) ([]appointment.Appointment, error)
}

// RecordStore persists medical records.
type RecordStore interface {
	CreateRecord(ctx context.Context, r record.Record) (record.Record, error)
	GetRecord(ctx context.Context, tenantID, id string) (record.Record, error)
	ListRecords(ctx context.Context, tenantID, petID string) ([]record.Record, error)
	AppendAddendum(ctx context.Context, tenantID, id string, add record.Addendum) (record.Record, error)
}

// InventoryStore persists products and their movement history.
type InventoryStore interface {
	CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error)
	UpdateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error)
	GetProduct(ctx context.Context, tenantID, id string) (inventory.Product, error)
	ListProducts(ctx context.Context, tenantID string) ([]inventory.Product, error)
	ListMovements(ctx context.Context, tenantID, productID string) ([]inventory.Movement, error)
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	CustomerID string
	Status     billing.Status
}

// InvoiceStore persists invoices and payments.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error)
	GetInvoice(ctx context.Context, tenantID, id string) (billing.Invoice, error)
	GetInvoiceByAppointment(ctx context.Context, tenantID, appointmentID string) (billing.Invoice, error)
	ListInvoices(ctx context.Context, tenantID string, filter InvoiceFilter) ([]billing.Invoice, error)
	ListPayments(ctx context.Context, tenantID, invoiceID string) ([]billing.Payment, error)
}

// NotificationStore persists the outbound notification queue.
type NotificationStore interface {
	// EnqueueNotification inserts n unless a notification with the same
	// idempotency key exists, in which case the existing one is returned with
	// created=false.
	EnqueueNotification(ctx context.Context, n notification.Notification) (notification.Notification, bool, error)
	UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]notification.Notification, error)
	ListNotifications(ctx context.Context, tenantID string, filter notification.Filter) ([]notification.Notification, error)
}

// Procedures are the atomic server-side routines. Each call either applies
// completely or not at all.
type Procedures interface {
	// AssignSlot places an appointment on a vet's calendar. It fails with
	// ErrSlotTaken when the vet has an occupying appointment overlapping the
	// slot, ErrInvalidStatus when the current status is not in From, and
	// ErrVersionMismatch on a stale ExpectedVersion.
	AssignSlot(ctx context.Context, req appointment.SlotRequest) (appointment.Appointment, error)
	// TransitionStatus moves an appointment along the state machine.
	TransitionStatus(ctx context.Context, tr appointment.Transition) (appointment.Appointment, error)
	// CompleteAppointment transitions to completed and creates the commission
	// invoice in one unit.
	CompleteAppointment(ctx context.Context, tr appointment.Transition, req billing.CommissionRequest) (appointment.Appointment, billing.Invoice, error)
	// CreateCommissionInvoice returns the existing invoice for the appointment
	// or creates it.
	CreateCommissionInvoice(ctx context.Context, req billing.CommissionRequest) (billing.Invoice, bool, error)
	// AdjustStock applies a stock delta, refusing to go below zero.
	AdjustStock(ctx context.Context, adj inventory.Adjustment) (inventory.Product, inventory.Movement, error)
	// AddProductLine appends a product line to an open invoice and draws stock.
	AddProductLine(ctx context.Context, req billing.ProductLineRequest) (billing.Invoice, error)
	// IssueInvoice finalizes a draft invoice under the invoice lock. It fails
	// with ErrInvalidStatus unless the invoice is a draft and with
	// ErrEmptyInvoice when it has no lines. Nothing owed means paid at once.
	IssueInvoice(ctx context.Context, tenantID, invoiceID string, at time.Time) (billing.Invoice, error)
	// RecordPayment applies a payment, marking the invoice paid once covered.
	RecordPayment(ctx context.Context, p billing.Payment) (billing.Invoice, billing.Payment, error)
	// VoidInvoice voids an open invoice and returns product lines to stock.
	VoidInvoice(ctx context.Context, tenantID, invoiceID, actorID string, at time.Time) (billing.Invoice, error)
}
