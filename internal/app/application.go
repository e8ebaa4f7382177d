package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	billingsvc "github.com/R3E-Network/vetclinic/internal/app/services/billing"
	catalogsvc "github.com/R3E-Network/vetclinic/internal/app/services/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/services/customers"
	inventorysvc "github.com/R3E-Network/vetclinic/internal/app/services/inventory"
	"github.com/R3E-Network/vetclinic/internal/app/services/notifications"
	"github.com/R3E-Network/vetclinic/internal/app/services/portal"
	"github.com/R3E-Network/vetclinic/internal/app/services/records"
	"github.com/R3E-Network/vetclinic/internal/app/services/scheduling"
	"github.com/R3E-Network/vetclinic/internal/app/services/tenants"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	"github.com/R3E-Network/vetclinic/internal/app/storage/memory"
	"github.com/R3E-Network/vetclinic/internal/app/system"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Tenants       storage.TenantStore
	Members       storage.MemberStore
	APIKeys       storage.APIKeyStore
	Customers     storage.CustomerStore
	Catalog       storage.CatalogStore
	Appointments  storage.AppointmentStore
	Records       storage.RecordStore
	Inventory     storage.InventoryStore
	Invoices      storage.InvoiceStore
	Notifications storage.NotificationStore
	Procedures    storage.Procedures
}

// Backend is a single store implementing every persistence interface, as the
// memory, postgres and supabase backends do.
type Backend interface {
	storage.TenantStore
	storage.MemberStore
	storage.APIKeyStore
	storage.CustomerStore
	storage.CatalogStore
	storage.AppointmentStore
	storage.RecordStore
	storage.InventoryStore
	storage.InvoiceStore
	storage.NotificationStore
	storage.Procedures
}

// StoresFrom fills every slot from one backend.
func StoresFrom(b Backend) Stores {
	return Stores{
		Tenants:       b,
		Members:       b,
		APIKeys:       b,
		Customers:     b,
		Catalog:       b,
		Appointments:  b,
		Records:       b,
		Inventory:     b,
		Invoices:      b,
		Notifications: b,
		Procedures:    b,
	}
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes service construction.
type Options struct {
	// TenantDefaults seeds the settings of newly created clinics.
	TenantDefaults *tenant.Settings
	// Clock overrides time.Now in every service. Tests only.
	Clock func() time.Time
	// Health is checked by the health endpoint when set.
	Health Pinger
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	stores  Stores
	health  Pinger

	Resolver      *auth.Resolver
	Tenants       *tenants.Service
	Customers     *customers.Service
	Catalog       *catalogsvc.Service
	Scheduling    *scheduling.Service
	Records       *records.Service
	Inventory     *inventorysvc.Service
	Billing       *billingsvc.Service
	Notifications *notifications.Service
	Portal        *portal.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores = withMemoryDefaults(stores)

	tenantService := tenants.New(stores.Tenants, stores.Members, stores.APIKeys, log.Named("tenants"))
	if opts.TenantDefaults != nil {
		if err := opts.TenantDefaults.Validate(); err != nil {
			return nil, fmt.Errorf("tenant defaults: %w", err)
		}
		tenantService.WithDefaults(*opts.TenantDefaults)
	}
	notifyService := notifications.New(stores.Notifications, log.Named("notifications"))
	customerService := customers.New(stores.Customers, log.Named("customers"))
	catalogService := catalogsvc.New(stores.Catalog, log.Named("catalog"))
	schedService := scheduling.New(scheduling.Stores{
		Tenants:      stores.Tenants,
		Members:      stores.Members,
		Customers:    stores.Customers,
		Catalog:      stores.Catalog,
		Appointments: stores.Appointments,
		Procedures:   stores.Procedures,
	}, notifyService, log.Named("scheduling"))
	recordService := records.New(stores.Records, stores.Customers, stores.Appointments, log.Named("records"))
	inventoryService := inventorysvc.New(stores.Inventory, stores.Procedures, log.Named("inventory"))
	billingService := billingsvc.New(billingsvc.Stores{
		Tenants:      stores.Tenants,
		Customers:    stores.Customers,
		Catalog:      stores.Catalog,
		Appointments: stores.Appointments,
		Invoices:     stores.Invoices,
		Procedures:   stores.Procedures,
	}, notifyService, log.Named("billing"))
	portalService := portal.New(customerService, schedService, recordService, billingService)

	if opts.Clock != nil {
		tenantService.WithClock(opts.Clock)
		notifyService.WithClock(opts.Clock)
		customerService.WithClock(opts.Clock)
		schedService.WithClock(opts.Clock)
		recordService.WithClock(opts.Clock)
		inventoryService.WithClock(opts.Clock)
		billingService.WithClock(opts.Clock)
		portalService.WithClock(opts.Clock)
	}

	return &Application{
		manager:       system.NewManager(),
		log:           log,
		stores:        stores,
		health:        opts.Health,
		Resolver:      auth.NewResolver(stores.Members, stores.Customers),
		Tenants:       tenantService,
		Customers:     customerService,
		Catalog:       catalogService,
		Scheduling:    schedService,
		Records:       recordService,
		Inventory:     inventoryService,
		Billing:       billingService,
		Notifications: notifyService,
		Portal:        portalService,
	}, nil
}

func withMemoryDefaults(stores Stores) Stores {
	var mem *memory.Store
	fallback := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if stores.Tenants == nil {
		stores.Tenants = fallback()
	}
	if stores.Members == nil {
		stores.Members = fallback()
	}
	if stores.APIKeys == nil {
		stores.APIKeys = fallback()
	}
	if stores.Customers == nil {
		stores.Customers = fallback()
	}
	if stores.Catalog == nil {
		stores.Catalog = fallback()
	}
	if stores.Appointments == nil {
		stores.Appointments = fallback()
	}
	if stores.Records == nil {
		stores.Records = fallback()
	}
	if stores.Inventory == nil {
		stores.Inventory = fallback()
	}
	if stores.Invoices == nil {
		stores.Invoices = fallback()
	}
	if stores.Notifications == nil {
		stores.Notifications = fallback()
	}
	if stores.Procedures == nil {
		stores.Procedures = fallback()
	}
	return stores
}

// Stores returns the persistence dependencies the services were built with.
func (a *Application) Stores() Stores {
	return a.stores
}

// Logger returns the application logger.
func (a *Application) Logger() *logger.Logger {
	return a.log
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the attached lifecycle services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Ping checks the storage backend when it supports health checks.
func (a *Application) Ping(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health.Ping(ctx)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
