package catalog

import (
	"context"
	"strings"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	domain "github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Service manages the clinic's bookable services.
type Service struct {
	store storage.CatalogStore
	log   *logger.Logger
}

// New creates a catalog service.
func New(store storage.CatalogStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, log: log}
}

// Input is the editable part of a service.
type Input struct {
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	RequiresVet     bool   `json:"requires_vet"`
}

func (in *Input) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return svcerrors.InvalidInput("name is required")
	}
	if in.DurationMinutes < 5 || in.DurationMinutes > 480 || in.DurationMinutes%5 != 0 {
		return svcerrors.InvalidInput("duration_minutes must be a multiple of 5 between 5 and 480")
	}
	if in.PriceCents < 0 {
		return svcerrors.InvalidInput("price_cents cannot be negative")
	}
	return nil
}

// Create adds an active service. Owners and admins only.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in Input) (domain.Service, error) {
	if err := auth.RequireManager(actor); err != nil {
		return domain.Service{}, err
	}
	if err := in.normalize(); err != nil {
		return domain.Service{}, err
	}
	svc, err := s.store.CreateService(ctx, domain.Service{
		TenantID:        actor.TenantID,
		Name:            in.Name,
		Description:     in.Description,
		DurationMinutes: in.DurationMinutes,
		PriceCents:      in.PriceCents,
		RequiresVet:     in.RequiresVet,
		Active:          true,
	})
	if err != nil {
		return domain.Service{}, storeerr.Translate(err, "service", in.Name)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("service_id", svc.ID).
		Info("service created")
	return svc, nil
}

// Update replaces the editable fields of a service.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id string, in Input) (domain.Service, error) {
	if err := auth.RequireManager(actor); err != nil {
		return domain.Service{}, err
	}
	if err := in.normalize(); err != nil {
		return domain.Service{}, err
	}
	svc, err := s.store.GetService(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Service{}, storeerr.Translate(err, "service", id)
	}
	svc.Name = in.Name
	svc.Description = in.Description
	svc.DurationMinutes = in.DurationMinutes
	svc.PriceCents = in.PriceCents
	svc.RequiresVet = in.RequiresVet
	svc, err = s.store.UpdateService(ctx, svc)
	if err != nil {
		return domain.Service{}, storeerr.Translate(err, "service", id)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("service_id", svc.ID).
		Info("service updated")
	return svc, nil
}

// SetActive enables or retires a service. Retired services cannot be booked.
func (s *Service) SetActive(ctx context.Context, actor auth.Actor, id string, active bool) (domain.Service, error) {
	if err := auth.RequireManager(actor); err != nil {
		return domain.Service{}, err
	}
	svc, err := s.store.GetService(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Service{}, storeerr.Translate(err, "service", id)
	}
	if svc.Active == active {
		return svc, nil
	}
	svc.Active = active
	svc, err = s.store.UpdateService(ctx, svc)
	if err != nil {
		return domain.Service{}, storeerr.Translate(err, "service", id)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("service_id", id).
		WithField("active", active).
		Info("service state changed")
	return svc, nil
}

// Get returns a service of the actor's tenant.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (domain.Service, error) {
	svc, err := s.store.GetService(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Service{}, storeerr.Translate(err, "service", id)
	}
	return svc, nil
}

// List returns services. Only staff can see retired ones.
func (s *Service) List(ctx context.Context, actor auth.Actor, includeInactive bool) ([]domain.Service, error) {
	return s.store.ListServices(ctx, actor.TenantID, !(includeInactive && actor.IsStaff()))
}
