// Package portal is the customer-facing surface: a pet owner sees their pets,
// appointments, records and invoices, and manages their own bookings.
package portal

import (
	"context"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	"github.com/R3E-Network/vetclinic/internal/app/domain/billing"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/domain/record"
	billingsvc "github.com/R3E-Network/vetclinic/internal/app/services/billing"
	"github.com/R3E-Network/vetclinic/internal/app/services/customers"
	"github.com/R3E-Network/vetclinic/internal/app/services/records"
	"github.com/R3E-Network/vetclinic/internal/app/services/scheduling"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

// Service composes the staff services with customer-only guards.
type Service struct {
	customers  *customers.Service
	scheduling *scheduling.Service
	records    *records.Service
	billing    *billingsvc.Service
	now        func() time.Time
}

// New creates the portal facade.
func New(customers *customers.Service, scheduling *scheduling.Service, records *records.Service, billing *billingsvc.Service) *Service {
	return &Service{customers: customers, scheduling: scheduling, records: records, billing: billing, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Overview is the portal home page.
type Overview struct {
	Customer     customer.Customer         `json:"customer"`
	Pets         []customer.Pet            `json:"pets"`
	Upcoming     []appointment.Appointment `json:"upcoming"`
	Pending      []appointment.Appointment `json:"pending"`
	OpenInvoices []billing.Invoice         `json:"open_invoices"`
}

func requireCustomer(actor auth.Actor) error {
	if !actor.IsCustomer() || actor.CustomerID == "" {
		return svcerrors.Forbidden("the portal is only available to customers with a linked profile")
	}
	return nil
}

// Overview gathers everything the customer has open.
func (s *Service) Overview(ctx context.Context, actor auth.Actor) (Overview, error) {
	if err := requireCustomer(actor); err != nil {
		return Overview{}, err
	}
	c, err := s.customers.Get(ctx, actor, actor.CustomerID)
	if err != nil {
		return Overview{}, err
	}
	pets, err := s.customers.ListPets(ctx, actor, actor.CustomerID)
	if err != nil {
		return Overview{}, err
	}
	now := s.now().UTC()
	upcoming, err := s.scheduling.List(ctx, actor, appointment.Filter{
		Statuses: []appointment.Status{appointment.StatusScheduled, appointment.StatusConfirmed},
		From:     &now,
	})
	if err != nil {
		return Overview{}, err
	}
	pending, err := s.scheduling.List(ctx, actor, appointment.Filter{
		Statuses: []appointment.Status{appointment.StatusPendingScheduling},
	})
	if err != nil {
		return Overview{}, err
	}
	invoices, err := s.billing.List(ctx, actor, storage.InvoiceFilter{Status: billing.StatusIssued})
	if err != nil {
		return Overview{}, err
	}
	return Overview{Customer: c, Pets: pets, Upcoming: upcoming, Pending: pending, OpenInvoices: invoices}, nil
}

// SubmitBookingRequest files a request for the customer's own pet.
func (s *Service) SubmitBookingRequest(ctx context.Context, actor auth.Actor, req scheduling.BookingRequest) (appointment.Appointment, error) {
	if err := requireCustomer(actor); err != nil {
		return appointment.Appointment{}, err
	}
	req.CustomerID = actor.CustomerID
	return s.scheduling.SubmitBookingRequest(ctx, actor, req)
}

// Confirm accepts the slot offered by the clinic.
func (s *Service) Confirm(ctx context.Context, actor auth.Actor, appointmentID string, expectedVersion int) (appointment.Appointment, error) {
	if err := requireCustomer(actor); err != nil {
		return appointment.Appointment{}, err
	}
	return s.scheduling.Confirm(ctx, actor, appointmentID, expectedVersion)
}

// Cancel withdraws a request or cancels a booked slot within the notice
// window rules.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, appointmentID, reason string, expectedVersion int) (appointment.Appointment, error) {
	if err := requireCustomer(actor); err != nil {
		return appointment.Appointment{}, err
	}
	return s.scheduling.Cancel(ctx, actor, appointmentID, reason, expectedVersion)
}

// Availability lists the free slots of a vet for the given services.
func (s *Service) Availability(ctx context.Context, actor auth.Actor, vetID, date string, serviceIDs []string) ([]time.Time, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}
	return s.scheduling.Availability(ctx, actor, vetID, date, serviceIDs)
}

// PetRecords returns the medical history of one of the customer's pets.
func (s *Service) PetRecords(ctx context.Context, actor auth.Actor, petID string) ([]record.Record, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}
	if _, err := s.customers.GetPet(ctx, actor, petID); err != nil {
		return nil, err
	}
	return s.records.ListForPet(ctx, actor, petID)
}

// Invoices lists the customer's invoices.
func (s *Service) Invoices(ctx context.Context, actor auth.Actor) ([]billing.Invoice, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}
	return s.billing.List(ctx, actor, storage.InvoiceFilter{})
}
