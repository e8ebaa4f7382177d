package customers

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Service manages pet owners and their pets.
type Service struct {
	store storage.CustomerStore
	log   *logger.Logger
	now   func() time.Time
}

// New creates a customer service.
func New(store storage.CustomerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("customers")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Input is the editable part of a customer.
type Input struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

func (in *Input) normalize() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Notes = strings.TrimSpace(in.Notes)
	in.UserID = strings.TrimSpace(in.UserID)

	if in.FirstName == "" && in.LastName == "" {
		return svcerrors.InvalidInput("name is required")
	}
	if in.Email == "" {
		return svcerrors.InvalidInput("email is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return svcerrors.InvalidInput("invalid email %q", in.Email)
	}
	return nil
}

// Create registers a customer. Staff only.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in Input) (customer.Customer, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return customer.Customer{}, err
	}
	if err := in.normalize(); err != nil {
		return customer.Customer{}, err
	}
	c, err := s.store.CreateCustomer(ctx, customer.Customer{
		TenantID:  actor.TenantID,
		UserID:    in.UserID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		Notes:     in.Notes,
	})
	if err != nil {
		return customer.Customer{}, storeerr.Translate(err, "customer", in.Email)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("customer_id", c.ID).
		Info("customer created")
	return c, nil
}

// Update changes a customer's details. Customers may update themselves, but
// not their staff notes or portal link.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id string, in Input) (customer.Customer, error) {
	if err := auth.RequireCustomerAccess(actor, id); err != nil {
		return customer.Customer{}, err
	}
	c, err := s.store.GetCustomer(ctx, actor.TenantID, id)
	if err != nil {
		return customer.Customer{}, storeerr.Translate(err, "customer", id)
	}
	if err := in.normalize(); err != nil {
		return customer.Customer{}, err
	}
	c.FirstName = in.FirstName
	c.LastName = in.LastName
	c.Email = in.Email
	c.Phone = in.Phone
	if actor.IsStaff() {
		c.Notes = in.Notes
	}
	c, err = s.store.UpdateCustomer(ctx, c)
	if err != nil {
		return customer.Customer{}, storeerr.Translate(err, "customer", id)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("customer_id", c.ID).
		Info("customer updated")
	return c, nil
}

// LinkUser attaches a portal login to a customer. It fails if the login is
// already linked to another customer of the tenant.
func (s *Service) LinkUser(ctx context.Context, actor auth.Actor, id, userID string) (customer.Customer, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return customer.Customer{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return customer.Customer{}, svcerrors.InvalidInput("user_id is required")
	}
	if other, err := s.store.GetCustomerByUser(ctx, actor.TenantID, userID); err == nil && other.ID != id {
		return customer.Customer{}, svcerrors.Conflict("user %s is linked to customer %s", userID, other.ID)
	} else if err != nil && !storeerr.IsNotFound(err) {
		return customer.Customer{}, storeerr.Translate(err, "customer", id)
	}
	c, err := s.store.GetCustomer(ctx, actor.TenantID, id)
	if err != nil {
		return customer.Customer{}, storeerr.Translate(err, "customer", id)
	}
	c.UserID = userID
	c, err = s.store.UpdateCustomer(ctx, c)
	if err != nil {
		return customer.Customer{}, storeerr.Translate(err, "customer", id)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("customer_id", c.ID).
		WithField("user_id", userID).
		Info("customer linked to portal user")
	return c, nil
}

// Get returns a customer visible to the actor.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (customer.Customer, error) {
	if err := auth.RequireCustomerAccess(actor, id); err != nil {
		return customer.Customer{}, err
	}
	c, err := s.store.GetCustomer(ctx, actor.TenantID, id)
	if err != nil {
		return customer.Customer{}, storeerr.Translate(err, "customer", id)
	}
	return c, nil
}

// List searches customers by name or email. Staff only.
func (s *Service) List(ctx context.Context, actor auth.Actor, query string) ([]customer.Customer, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return nil, err
	}
	return s.store.ListCustomers(ctx, actor.TenantID, strings.TrimSpace(query))
}
