// Package app composes the clinic services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, service wiring, lifecycle
//	├── auth/               # Principals, tenant actors and role guards
//	├── domain/             # Domain models (pure data structures)
//	│   ├── tenant/         # Clinics, members, API keys, settings
//	│   ├── appointment/    # Booking state machine and transitions
//	│   ├── billing/        # Invoices, lines, payments
//	│   └── ...             # customer, catalog, record, inventory, notification
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # TenantStore, AppointmentStore, Procedures, ...
//	│   ├── memory/         # In-memory implementation for tests and demos
//	│   ├── postgres/       # PostgreSQL implementation (sqlx, plpgsql procedures)
//	│   └── supabase/       # Hosted implementation over PostgREST and RPC
//	├── services/           # Business logic per area
//	├── httpapi/            # HTTP handlers, routing and audit trail
//	├── runtime/            # Config driven assembly used by cmd/clinicd
//	├── system/             # Lifecycle manager for background workers
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/clinicd/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/config, internal/platform
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services (business rules, guards)
//	      │           │
//	      │           └──► internal/app/storage (interfaces only)
//	      │
//	      └──► internal/app/storage/{memory,postgres,supabase}
//
// Every state change that touches more than one row goes through
// storage.Procedures so each backend can make it atomic: a database
// transaction in Postgres, a single RPC call in Supabase and one critical
// section in memory.
//
// # Adding a New Area
//
//  1. Create domain models in internal/app/domain/<area>/
//  2. Add the store interface to internal/app/storage/interfaces.go
//  3. Implement it in memory/, postgres/ (with a migration) and supabase/
//  4. Create the service in internal/app/services/<area>/
//  5. Wire the service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/handler_<area>.go
package app
