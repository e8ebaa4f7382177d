package customers

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

// PetInput is the editable part of a pet.
type PetInput struct {
	Name      string     `json:"name"`
	Species   string     `json:"species"`
	Breed     string     `json:"breed,omitempty"`
	Sex       string     `json:"sex,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	WeightKg  float64    `json:"weight_kg,omitempty"`
}

func (in *PetInput) normalize(now time.Time) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Species = strings.ToLower(strings.TrimSpace(in.Species))
	in.Breed = strings.TrimSpace(in.Breed)
	in.Sex = strings.ToLower(strings.TrimSpace(in.Sex))

	if in.Name == "" {
		return svcerrors.InvalidInput("name is required")
	}
	if in.Species == "" {
		return svcerrors.InvalidInput("species is required")
	}
	switch in.Sex {
	case "", "male", "female", "unknown":
	default:
		return svcerrors.InvalidInput("sex must be male, female or unknown")
	}
	if in.BirthDate != nil && in.BirthDate.After(now) {
		return svcerrors.InvalidInput("birth_date cannot be in the future")
	}
	if in.WeightKg < 0 {
		return svcerrors.InvalidInput("weight_kg cannot be negative")
	}
	return nil
}

// AddPet registers a pet for customerID.
func (s *Service) AddPet(ctx context.Context, actor auth.Actor, customerID string, in PetInput) (customer.Pet, error) {
	if err := auth.RequireCustomerAccess(actor, customerID); err != nil {
		return customer.Pet{}, err
	}
	if err := in.normalize(s.now()); err != nil {
		return customer.Pet{}, err
	}
	p, err := s.store.CreatePet(ctx, customer.Pet{
		TenantID:   actor.TenantID,
		CustomerID: customerID,
		Name:       in.Name,
		Species:    in.Species,
		Breed:      in.Breed,
		Sex:        in.Sex,
		BirthDate:  in.BirthDate,
		WeightKg:   in.WeightKg,
	})
	if err != nil {
		return customer.Pet{}, storeerr.Translate(err, "customer", customerID)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("customer_id", customerID).
		WithField("pet_id", p.ID).
		Info("pet added")
	return p, nil
}

// UpdatePet edits a pet the actor may access.
func (s *Service) UpdatePet(ctx context.Context, actor auth.Actor, petID string, in PetInput) (customer.Pet, error) {
	p, err := s.GetPet(ctx, actor, petID)
	if err != nil {
		return customer.Pet{}, err
	}
	if err := in.normalize(s.now()); err != nil {
		return customer.Pet{}, err
	}
	p.Name = in.Name
	p.Species = in.Species
	p.Breed = in.Breed
	p.Sex = in.Sex
	p.BirthDate = in.BirthDate
	p.WeightKg = in.WeightKg
	p, err = s.store.UpdatePet(ctx, p)
	if err != nil {
		return customer.Pet{}, storeerr.Translate(err, "pet", petID)
	}
	return p, nil
}

// ArchivePet hides a pet from booking. Archived pets keep their history.
func (s *Service) ArchivePet(ctx context.Context, actor auth.Actor, petID string) (customer.Pet, error) {
	p, err := s.GetPet(ctx, actor, petID)
	if err != nil {
		return customer.Pet{}, err
	}
	if p.Archived {
		return p, nil
	}
	p.Archived = true
	p, err = s.store.UpdatePet(ctx, p)
	if err != nil {
		return customer.Pet{}, storeerr.Translate(err, "pet", petID)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("pet_id", petID).
		Info("pet archived")
	return p, nil
}

// GetPet returns a pet. Customers only see their own pets; a foreign pet is
// reported as missing.
func (s *Service) GetPet(ctx context.Context, actor auth.Actor, petID string) (customer.Pet, error) {
	p, err := s.store.GetPet(ctx, actor.TenantID, petID)
	if err != nil {
		return customer.Pet{}, storeerr.Translate(err, "pet", petID)
	}
	if err := auth.RequireCustomerAccess(actor, p.CustomerID); err != nil {
		return customer.Pet{}, svcerrors.NotFound("pet", petID)
	}
	return p, nil
}

// ListPets lists a customer's pets.
func (s *Service) ListPets(ctx context.Context, actor auth.Actor, customerID string) ([]customer.Pet, error) {
	if customerID == "" && actor.IsCustomer() {
		customerID = actor.CustomerID
	}
	if customerID == "" {
		if err := auth.RequireStaff(actor); err != nil {
			return nil, err
		}
	} else if err := auth.RequireCustomerAccess(actor, customerID); err != nil {
		return nil, err
	}
	return s.store.ListPets(ctx, actor.TenantID, customerID)
}
