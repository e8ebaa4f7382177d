package billing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	domain "github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/notification"
	"github.com/R3E-Network/vetclinic/internal/app/metrics"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// PaymentMethods lists the accepted payment methods.
var PaymentMethods = []string{"cash", "card", "transfer", "other"}

// Notifier enqueues notifications idempotently.
type Notifier interface {
	Enqueue(ctx context.Context, n notification.Notification) (notification.Notification, bool, error)
}

// Stores groups the persistence dependencies of the service.
type Stores struct {
	Tenants      storage.TenantStore
	Customers    storage.CustomerStore
	Catalog      storage.CatalogStore
	Appointments storage.AppointmentStore
	Invoices     storage.InvoiceStore
	Procedures   storage.Procedures
}

// Service manages invoices and payments.
type Service struct {
	tenants      storage.TenantStore
	customers    storage.CustomerStore
	catalog      storage.CatalogStore
	appointments storage.AppointmentStore
	invoices     storage.InvoiceStore
	procs        storage.Procedures
	notifier     Notifier
	log          *logger.Logger
	now          func() time.Time
}

// New creates a billing service. notifier may be nil.
func New(stores Stores, notifier Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("billing")
	}
	return &Service{
		tenants:      stores.Tenants,
		customers:    stores.Customers,
		catalog:      stores.Catalog,
		appointments: stores.Appointments,
		invoices:     stores.Invoices,
		procs:        stores.Procedures,
		notifier:     notifier,
		log:          log,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateDraft opens an empty invoice for a customer, e.g. for a counter sale.
func (s *Service) CreateDraft(ctx context.Context, actor auth.Actor, customerID string) (domain.Invoice, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return domain.Invoice{}, err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Invoice{}, svcerrors.InvalidInput("customer_id is required")
	}
	if _, err := s.customers.GetCustomer(ctx, actor.TenantID, customerID); err != nil {
		if storeerr.IsNotFound(err) {
			return domain.Invoice{}, svcerrors.InvalidInput("unknown customer %s", customerID)
		}
		return domain.Invoice{}, storeerr.Translate(err, "customer", customerID)
	}
	t, err := s.tenants.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return domain.Invoice{}, storeerr.Translate(err, "tenant", actor.TenantID)
	}
	inv, err := s.invoices.CreateInvoice(ctx, domain.Invoice{
		TenantID:      actor.TenantID,
		CustomerID:    customerID,
		Status:        domain.StatusDraft,
		CommissionBps: t.Settings.CommissionBps,
	})
	if err != nil {
		return domain.Invoice{}, storeerr.Translate(err, "invoice", "")
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("invoice_id", inv.ID).
		WithField("customer_id", customerID).
		Info("draft invoice created")
	return inv, nil
}

// AddProductLine sells quantity units of a product on an open invoice. The
// stock is drawn in the same atomic step.
func (s *Service) AddProductLine(ctx context.Context, actor auth.Actor, invoiceID, productID string, quantity int) (domain.Invoice, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return domain.Invoice{}, err
	}
	if quantity < 1 || quantity > 1000 {
		return domain.Invoice{}, svcerrors.InvalidInput("quantity must be between 1 and 1000")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Invoice{}, svcerrors.InvalidInput("product_id is required")
	}
	inv, err := s.procs.AddProductLine(ctx, domain.ProductLineRequest{
		TenantID:  actor.TenantID,
		InvoiceID: invoiceID,
		ProductID: productID,
		Quantity:  quantity,
		ActorID:   actor.UserID,
		At:        s.now(),
	})
	if err != nil {
		return domain.Invoice{}, s.procError(err, invoiceID, productID)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("invoice_id", inv.ID).
		WithField("product_id", productID).
		WithField("quantity", quantity).
		Info("product line added")
	return inv, nil
}

// Issue finalizes a draft invoice and notifies the customer. An invoice with
// nothing owed is settled on issue.
func (s *Service) Issue(ctx context.Context, actor auth.Actor, invoiceID string) (domain.Invoice, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return domain.Invoice{}, err
	}
	issued, err := s.procs.IssueInvoice(ctx, actor.TenantID, invoiceID, s.now())
	if err != nil {
		return domain.Invoice{}, s.procError(err, invoiceID, "")
	}
	s.announce(ctx, issued)
	return issued, nil
}

// EnsureCommissionInvoice creates the commission invoice of a completed
// appointment when completion ran without one. It is idempotent.
func (s *Service) EnsureCommissionInvoice(ctx context.Context, actor auth.Actor, appointmentID string) (domain.Invoice, bool, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return domain.Invoice{}, false, err
	}
	a, err := s.appointments.GetAppointment(ctx, actor.TenantID, appointmentID)
	if err != nil {
		return domain.Invoice{}, false, storeerr.Translate(err, "appointment", appointmentID)
	}
	if a.Status != appointment.StatusCompleted {
		return domain.Invoice{}, false, svcerrors.InvalidInput("appointment %s is %s, not completed", a.ID, a.Status)
	}
	t, err := s.tenants.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return domain.Invoice{}, false, storeerr.Translate(err, "tenant", actor.TenantID)
	}
	lines := make([]domain.Line, 0, len(a.ServiceIDs))
	for _, id := range a.ServiceIDs {
		svc, err := s.catalog.GetService(ctx, actor.TenantID, id)
		if err != nil {
			return domain.Invoice{}, false, storeerr.Translate(err, "service", id)
		}
		lines = append(lines, domain.Line{
			Kind:           domain.LineService,
			RefID:          svc.ID,
			Description:    svc.Name,
			Quantity:       1,
			UnitPriceCents: svc.PriceCents,
		})
	}
	inv, created, err := s.procs.CreateCommissionInvoice(ctx, domain.CommissionRequest{
		TenantID:      actor.TenantID,
		AppointmentID: a.ID,
		CustomerID:    a.CustomerID,
		CommissionBps: t.Settings.CommissionBps,
		Lines:         lines,
		At:            s.now(),
	})
	if err != nil {
		return domain.Invoice{}, false, storeerr.Translate(err, "invoice", "")
	}
	if created {
		s.announce(ctx, inv)
	}
	return inv, created, nil
}

// PaymentInput records money received.
type PaymentInput struct {
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	Reference   string `json:"reference,omitempty"`
}

// RecordPayment applies a payment to an issued invoice. The invoice becomes
// paid once the balance reaches zero; overpayments are rejected.
func (s *Service) RecordPayment(ctx context.Context, actor auth.Actor, invoiceID string, in PaymentInput) (domain.Invoice, domain.Payment, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return domain.Invoice{}, domain.Payment{}, err
	}
	if in.AmountCents <= 0 {
		return domain.Invoice{}, domain.Payment{}, svcerrors.InvalidInput("amount_cents must be positive")
	}
	in.Method = strings.ToLower(strings.TrimSpace(in.Method))
	if !validMethod(in.Method) {
		return domain.Invoice{}, domain.Payment{}, svcerrors.InvalidInput("method must be one of %s", strings.Join(PaymentMethods, ", "))
	}
	inv, p, err := s.procs.RecordPayment(ctx, domain.Payment{
		TenantID:    actor.TenantID,
		InvoiceID:   invoiceID,
		AmountCents: in.AmountCents,
		Method:      in.Method,
		Reference:   strings.TrimSpace(in.Reference),
		ActorID:     actor.UserID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Invoice{}, domain.Payment{}, s.procError(err, invoiceID, "")
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("invoice_id", inv.ID).
		WithField("amount_cents", p.AmountCents).
		WithField("status", inv.Status).
		Info("payment recorded")
	return inv, p, nil
}

func validMethod(m string) bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

// Void cancels an unpaid invoice and returns its products to stock. Managers
// only.
func (s *Service) Void(ctx context.Context, actor auth.Actor, invoiceID string) (domain.Invoice, error) {
	if err := auth.RequireManager(actor); err != nil {
		return domain.Invoice{}, err
	}
	inv, err := s.procs.VoidInvoice(ctx, actor.TenantID, invoiceID, actor.UserID, s.now())
	if err != nil {
		return domain.Invoice{}, s.procError(err, invoiceID, "")
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("invoice_id", inv.ID).
		Info("invoice voided")
	return inv, nil
}

// Get returns an invoice. Customers only see their own.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (domain.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Invoice{}, storeerr.Translate(err, "invoice", id)
	}
	if err := auth.RequireCustomerAccess(actor, inv.CustomerID); err != nil {
		return domain.Invoice{}, svcerrors.NotFound("invoice", id)
	}
	return inv, nil
}

// List returns invoices, newest first. Customers are restricted to their own.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter storage.InvoiceFilter) ([]domain.Invoice, error) {
	switch {
	case actor.IsStaff():
	case actor.IsCustomer() && actor.CustomerID != "":
		filter.CustomerID = actor.CustomerID
	default:
		return nil, svcerrors.Forbidden("role %s cannot list invoices", actor.Role)
	}
	list, err := s.invoices.ListInvoices(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, storeerr.Translate(err, "invoice", "")
	}
	return list, nil
}

// Payments lists the payments of an invoice visible to the actor.
func (s *Service) Payments(ctx context.Context, actor auth.Actor, invoiceID string) ([]domain.Payment, error) {
	if _, err := s.Get(ctx, actor, invoiceID); err != nil {
		return nil, err
	}
	list, err := s.invoices.ListPayments(ctx, actor.TenantID, invoiceID)
	if err != nil {
		return nil, storeerr.Translate(err, "payment", "")
	}
	return list, nil
}

func (s *Service) procError(err error, invoiceID, productID string) error {
	se := storeerr.Translate(err, "invoice", invoiceID)
	if svcerrors.HasCode(se, svcerrors.CodeInsufficientStock) && productID != "" {
		return svcerrors.GetServiceError(se).WithDetails("product_id", productID)
	}
	if svcerrors.HasCode(se, svcerrors.CodeInvalidTransition) {
		return svcerrors.Conflict("invoice %s does not allow this change", invoiceID).WithDetails("reason", "invalid_status")
	}
	return se
}

// announce records the issued amounts and tells the customer.
func (s *Service) announce(ctx context.Context, inv domain.Invoice) {
	metrics.RecordInvoice(inv.SubtotalCents, inv.CommissionCents)
	s.log.WithField("tenant_id", inv.TenantID).
		WithField("invoice_id", inv.ID).
		WithField("number", inv.Number).
		WithField("subtotal_cents", inv.SubtotalCents).
		WithField("commission_cents", inv.CommissionCents).
		Info("invoice issued")
	if s.notifier == nil {
		return
	}
	r := notification.Recipient{CustomerID: inv.CustomerID}
	if c, err := s.customers.GetCustomer(ctx, inv.TenantID, inv.CustomerID); err == nil {
		r.UserID = c.UserID
		r.Email = c.Email
	}
	_, _, err := s.notifier.Enqueue(ctx, notification.Notification{
		TenantID:       inv.TenantID,
		Kind:           notification.KindInvoiceIssued,
		AppointmentID:  inv.AppointmentID,
		InvoiceID:      inv.ID,
		Recipient:      r,
		IdempotencyKey: notification.Key(inv.ID, string(notification.KindInvoiceIssued), r.ID()),
		Payload: map[string]string{
			"invoice_id":     inv.ID,
			"invoice_number": inv.Number,
			"total_cents":    strconv.FormatInt(inv.SubtotalCents, 10),
		},
	})
	if err != nil {
		s.log.WithError(err).WithField("invoice_id", inv.ID).Warn("failed to enqueue invoice notification")
	}
}
