package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	domain "github.com/R3E-Network/vetclinic/internal/app/domain/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Service manages stocked products.
type Service struct {
	store storage.InventoryStore
	procs storage.Procedures
	log   *logger.Logger
	now   func() time.Time
}

// New creates an inventory service.
func New(store storage.InventoryStore, procs storage.Procedures, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("inventory")
	}
	return &Service{store: store, procs: procs, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Input is the catalogue part of a product.
type Input struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Unit         string `json:"unit,omitempty"`
	PriceCents   int64  `json:"price_cents"`
	ReorderLevel int    `json:"reorder_level"`
	InitialStock int    `json:"initial_stock,omitempty"`
}

func (in *Input) normalize() error {
	in.SKU = strings.ToUpper(strings.TrimSpace(in.SKU))
	in.Name = strings.TrimSpace(in.Name)
	in.Unit = strings.TrimSpace(in.Unit)
	if in.Unit == "" {
		in.Unit = "unit"
	}
	if in.SKU == "" {
		return svcerrors.InvalidInput("sku is required")
	}
	if in.Name == "" {
		return svcerrors.InvalidInput("name is required")
	}
	if in.PriceCents < 0 {
		return svcerrors.InvalidInput("price_cents cannot be negative")
	}
	if in.ReorderLevel < 0 {
		return svcerrors.InvalidInput("reorder_level cannot be negative")
	}
	if in.InitialStock < 0 {
		return svcerrors.InvalidInput("initial_stock cannot be negative")
	}
	return nil
}

// Create adds a product. Initial stock is booked as a purchase movement.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in Input) (domain.Product, error) {
	if err := auth.RequireManager(actor); err != nil {
		return domain.Product{}, err
	}
	if err := in.normalize(); err != nil {
		return domain.Product{}, err
	}
	p, err := s.store.CreateProduct(ctx, domain.Product{
		TenantID:     actor.TenantID,
		SKU:          in.SKU,
		Name:         in.Name,
		Unit:         in.Unit,
		PriceCents:   in.PriceCents,
		ReorderLevel: in.ReorderLevel,
		Active:       true,
	})
	if err != nil {
		return domain.Product{}, storeerr.Translate(err, "product", in.SKU)
	}
	if in.InitialStock > 0 {
		p, _, err = s.procs.AdjustStock(ctx, domain.Adjustment{
			TenantID:  actor.TenantID,
			ProductID: p.ID,
			Delta:     in.InitialStock,
			Reason:    domain.ReasonPurchase,
			ActorID:   actor.UserID,
			At:        s.now(),
		})
		if err != nil {
			return domain.Product{}, storeerr.Translate(err, "product", p.ID)
		}
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("product_id", p.ID).
		WithField("sku", p.SKU).
		Info("product created")
	return p, nil
}

// Update changes catalogue fields. SKU and stock are not editable here.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id string, in Input) (domain.Product, error) {
	if err := auth.RequireManager(actor); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.store.GetProduct(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Product{}, storeerr.Translate(err, "product", id)
	}
	in.SKU = existing.SKU
	in.InitialStock = 0
	if err := in.normalize(); err != nil {
		return domain.Product{}, err
	}
	existing.Name = in.Name
	existing.Unit = in.Unit
	existing.PriceCents = in.PriceCents
	existing.ReorderLevel = in.ReorderLevel
	p, err := s.store.UpdateProduct(ctx, existing)
	if err != nil {
		return domain.Product{}, storeerr.Translate(err, "product", id)
	}
	return p, nil
}

// SetActive retires or restores a product.
func (s *Service) SetActive(ctx context.Context, actor auth.Actor, id string, active bool) (domain.Product, error) {
	if err := auth.RequireManager(actor); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.store.GetProduct(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Product{}, storeerr.Translate(err, "product", id)
	}
	existing.Active = active
	p, err := s.store.UpdateProduct(ctx, existing)
	if err != nil {
		return domain.Product{}, storeerr.Translate(err, "product", id)
	}
	return p, nil
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (domain.Product, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return domain.Product{}, err
	}
	p, err := s.store.GetProduct(ctx, actor.TenantID, id)
	if err != nil {
		return domain.Product{}, storeerr.Translate(err, "product", id)
	}
	return p, nil
}

// List returns the clinic's products ordered by SKU.
func (s *Service) List(ctx context.Context, actor auth.Actor) ([]domain.Product, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return nil, err
	}
	list, err := s.store.ListProducts(ctx, actor.TenantID)
	if err != nil {
		return nil, storeerr.Translate(err, "product", "")
	}
	return list, nil
}

// ListLowStock returns active products at or below their reorder level.
func (s *Service) ListLowStock(ctx context.Context, actor auth.Actor) ([]domain.Product, error) {
	all, err := s.List(ctx, actor)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0)
	for _, p := range all {
		if p.Active && p.LowStock() {
			low = append(low, p)
		}
	}
	return low, nil
}

// AdjustStock applies a manual stock change. Sales go through invoices.
func (s *Service) AdjustStock(ctx context.Context, actor auth.Actor, productID string, delta int, reason domain.Reason, refID string) (domain.Product, domain.Movement, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return domain.Product{}, domain.Movement{}, err
	}
	if delta == 0 {
		return domain.Product{}, domain.Movement{}, svcerrors.InvalidInput("delta cannot be zero")
	}
	if reason == "" {
		reason = domain.ReasonAdjustment
	}
	if !reason.Valid() || reason == domain.ReasonSale || reason == domain.ReasonVoid {
		return domain.Product{}, domain.Movement{}, svcerrors.InvalidInput("reason must be purchase, adjustment or return")
	}
	p, mv, err := s.procs.AdjustStock(ctx, domain.Adjustment{
		TenantID:  actor.TenantID,
		ProductID: productID,
		Delta:     delta,
		Reason:    reason,
		RefID:     strings.TrimSpace(refID),
		ActorID:   actor.UserID,
		At:        s.now(),
	})
	if err != nil {
		if se := storeerr.Translate(err, "product", productID); svcerrors.HasCode(se, svcerrors.CodeInsufficientStock) {
			return domain.Product{}, domain.Movement{}, s.insufficient(ctx, actor.TenantID, productID, err)
		}
		return domain.Product{}, domain.Movement{}, storeerr.Translate(err, "product", productID)
	}
	entry := s.log.WithField("tenant_id", actor.TenantID).
		WithField("product_id", p.ID).
		WithField("delta", delta).
		WithField("stock", p.Stock)
	if p.LowStock() {
		entry.Warn("product stock at reorder level")
	} else {
		entry.Info("stock adjusted")
	}
	return p, mv, nil
}

func (s *Service) insufficient(ctx context.Context, tenantID, productID string, cause error) error {
	p, err := s.store.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return storeerr.Translate(cause, "product", productID)
	}
	return svcerrors.InsufficientStock(productID, p.Stock)
}

// Movements returns a product's stock history, oldest first.
func (s *Service) Movements(ctx context.Context, actor auth.Actor, productID string) ([]domain.Movement, error) {
	if err := auth.RequireStaff(actor); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProduct(ctx, actor.TenantID, productID); err != nil {
		return nil, storeerr.Translate(err, "product", productID)
	}
	list, err := s.store.ListMovements(ctx, actor.TenantID, productID)
	if err != nil {
		return nil, storeerr.Translate(err, "movement", "")
	}
	return list, nil
}
