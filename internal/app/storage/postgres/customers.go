package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
)

// --- CustomerStore ----------------------------------------------------------

type customerRow struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	UserID    string    `db:"user_id"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Email     string    `db:"email"`
	Phone     string    `db:"phone"`
	Notes     string    `db:"notes"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r customerRow) model() customer.Customer {
	return customer.Customer{
		ID:        r.ID,
		TenantID:  r.TenantID,
		UserID:    r.UserID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Email:     r.Email,
		Phone:     r.Phone,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

const customerColumns = `id, tenant_id, user_id, first_name, last_name, email, phone, notes, created_at, updated_at`

func (s *Store) CreateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	c.ID = newID(c.ID)
	now := s.nowUTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, tenant_id, user_id, first_name, last_name, email, phone, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, c.ID, c.TenantID, c.UserID, c.FirstName, c.LastName, c.Email, c.Phone, c.Notes, now)
	if err != nil {
		return customer.Customer{}, mapErr(err, "customer "+c.Email)
	}
	return c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE customers
		SET user_id = $3, first_name = $4, last_name = $5, email = $6, phone = $7, notes = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+customerColumns, c.TenantID, c.ID, c.UserID, c.FirstName, c.LastName, c.Email, c.Phone, c.Notes, s.nowUTC())
	if err != nil {
		return customer.Customer{}, mapErr(err, "customer "+c.ID)
	}
	return row.model(), nil
}

func (s *Store) GetCustomer(ctx context.Context, tenantID, id string) (customer.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return customer.Customer{}, mapErr(err, "customer "+id)
	}
	return row.model(), nil
}

func (s *Store) GetCustomerByUser(ctx context.Context, tenantID, userID string) (customer.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+customerColumns+` FROM customers
		WHERE tenant_id = $1 AND user_id = $2 AND user_id <> ''
	`, tenantID, userID)
	if err != nil {
		return customer.Customer{}, mapErr(err, "customer for user "+userID)
	}
	return row.model(), nil
}

func (s *Store) ListCustomers(ctx context.Context, tenantID, query string) ([]customer.Customer, error) {
	var rows []customerRow
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+customerColumns+` FROM customers
		WHERE tenant_id = $1
		  AND lower(first_name || ' ' || last_name || ' ' || email || ' ' || phone) LIKE $2
		ORDER BY last_name, first_name, id
	`, tenantID, pattern)
	if err != nil {
		return nil, err
	}
	result := make([]customer.Customer, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type petRow struct {
	ID         string     `db:"id"`
	TenantID   string     `db:"tenant_id"`
	CustomerID string     `db:"customer_id"`
	Name       string     `db:"name"`
	Species    string     `db:"species"`
	Breed      string     `db:"breed"`
	Sex        string     `db:"sex"`
	BirthDate  *time.Time `db:"birth_date"`
	WeightKg   float64    `db:"weight_kg"`
	Archived   bool       `db:"archived"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r petRow) model() customer.Pet {
	return customer.Pet{
		ID:         r.ID,
		TenantID:   r.TenantID,
		CustomerID: r.CustomerID,
		Name:       r.Name,
		Species:    r.Species,
		Breed:      r.Breed,
		Sex:        r.Sex,
		BirthDate:  utcPtr(r.BirthDate),
		WeightKg:   r.WeightKg,
		Archived:   r.Archived,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

const petColumns = `id, tenant_id, customer_id, name, species, breed, sex, birth_date, weight_kg, archived, created_at, updated_at`

func (s *Store) CreatePet(ctx context.Context, p customer.Pet) (customer.Pet, error) {
	p.ID = newID(p.ID)
	now := s.nowUTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	// The owner must live in the same tenant; the foreign key alone does not
	// check that.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pets (id, tenant_id, customer_id, name, species, breed, sex, birth_date, weight_kg, archived, created_at, updated_at)
		SELECT $1, $2, c.id, $4, $5, $6, $7, $8, $9, $10, $11, $11
		FROM customers c WHERE c.tenant_id = $2 AND c.id = $3
	`, p.ID, p.TenantID, p.CustomerID, p.Name, p.Species, p.Breed, p.Sex, p.BirthDate, p.WeightKg, p.Archived, now)
	if err != nil {
		return customer.Pet{}, mapErr(err, "pet "+p.Name)
	}
	if err := requireAffected(result, "customer "+p.CustomerID); err != nil {
		return customer.Pet{}, err
	}
	return p, nil
}

func (s *Store) UpdatePet(ctx context.Context, p customer.Pet) (customer.Pet, error) {
	var row petRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE pets
		SET name = $3, species = $4, breed = $5, sex = $6, birth_date = $7, weight_kg = $8, archived = $9, updated_at = $10
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+petColumns, p.TenantID, p.ID, p.Name, p.Species, p.Breed, p.Sex, p.BirthDate, p.WeightKg, p.Archived, s.nowUTC())
	if err != nil {
		return customer.Pet{}, mapErr(err, "pet "+p.ID)
	}
	return row.model(), nil
}

func (s *Store) GetPet(ctx context.Context, tenantID, id string) (customer.Pet, error) {
	var row petRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+petColumns+` FROM pets WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
		return customer.Pet{}, mapErr(err, "pet "+id)
	}
	return row.model(), nil
}

func (s *Store) ListPets(ctx context.Context, tenantID, customerID string) ([]customer.Pet, error) {
	var rows []petRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+petColumns+` FROM pets
		WHERE tenant_id = $1 AND ($2 = '' OR customer_id = $2)
		ORDER BY name, id
	`, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	result := make([]customer.Pet, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

// --- CatalogStore -----------------------------------------------------------

type serviceRow struct {
	ID              string    `db:"id"`
	TenantID        string    `db:"tenant_id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	DurationMinutes int       `db:"duration_minutes"`
	PriceCents      int64     `db:"price_cents"`
	RequiresVet     bool      `db:"requires_vet"`
	Active          bool      `db:"active"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r serviceRow) model() catalog.Service {
	return catalog.Service{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Name:            r.Name,
		Description:     r.Description,
		DurationMinutes: r.DurationMinutes,
		PriceCents:      r.PriceCents,
		RequiresVet:     r.RequiresVet,
		Active:          r.Active,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

const serviceColumns = `id, tenant_id, name, description, duration_minutes, price_cents, requires_vet, active, created_at, updated_at`

func (s *Store) CreateService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	svc.ID = newID(svc.ID)
	now := s.nowUTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, tenant_id, name, description, duration_minutes, price_cents, requires_vet, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, svc.ID, svc.TenantID, svc.Name, svc.Description, svc.DurationMinutes, svc.PriceCents, svc.RequiresVet, svc.Active, now)
	if err != nil {
		return catalog.Service{}, mapErr(err, "service "+svc.Name)
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE services
		SET name = $3, description = $4, duration_minutes = $5, price_cents = $6, requires_vet = $7, active = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+serviceColumns, svc.TenantID, svc.ID, svc.Name, svc.Description, svc.DurationMinutes, svc.PriceCents, svc.RequiresVet, svc.Active, s.nowUTC())
	if err != nil {
		return catalog.Service{}, mapErr(err, "service "+svc.ID)
	}
	return row.model(), nil
}

func (s *Store) GetService(ctx context.Context, tenantID, id string) (catalog.Service, error) {
	var row serviceRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+serviceColumns+` FROM services WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
		return catalog.Service{}, mapErr(err, "service "+id)
	}
	return row.model(), nil
}

func (s *Store) ListServices(ctx context.Context, tenantID string, activeOnly bool) ([]catalog.Service, error) {
	var rows []serviceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+serviceColumns+` FROM services
		WHERE tenant_id = $1 AND (NOT $2 OR active)
		ORDER BY name, id
	`, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	result := make([]catalog.Service, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}
