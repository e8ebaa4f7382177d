package supabase

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/vetclinic/internal/app/domain/catalog"
	"github.com/R3E-Network/vetclinic/internal/app/domain/customer"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
)

// --- CustomerStore ----------------------------------------------------------

func (s *Store) CreateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	c.ID = newID(c.ID)
	now := s.nowUTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if _, err := s.client.From("customers").Insert(ctx, c, sb.InsertOptions{}); err != nil {
		return customer.Customer{}, mapErr(err, "customer "+c.Email)
	}
	return c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	resp, err := s.client.From("customers").Eq("tenant_id", c.TenantID).Eq("id", c.ID).Update(ctx, map[string]any{
		"user_id":    c.UserID,
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"email":      c.Email,
		"phone":      c.Phone,
		"notes":      c.Notes,
		"updated_at": s.nowUTC(),
	})
	if err != nil {
		return customer.Customer{}, mapErr(err, "customer "+c.ID)
	}
	var out customer.Customer
	if err := firstRow(resp, &out, "customer "+c.ID); err != nil {
		return customer.Customer{}, err
	}
	return out, nil
}

func (s *Store) GetCustomer(ctx context.Context, tenantID, id string) (customer.Customer, error) {
	var c customer.Customer
	q := s.client.From("customers").Eq("tenant_id", tenantID).Eq("id", id)
	if err := one(ctx, q, &c, "customer "+id); err != nil {
		return customer.Customer{}, err
	}
	return c, nil
}

func (s *Store) GetCustomerByUser(ctx context.Context, tenantID, userID string) (customer.Customer, error) {
	if userID == "" {
		return customer.Customer{}, notFound("customer for user")
	}
	var c customer.Customer
	q := s.client.From("customers").Eq("tenant_id", tenantID).Eq("user_id", userID)
	if err := one(ctx, q, &c, "customer for user "+userID); err != nil {
		return customer.Customer{}, err
	}
	return c, nil
}

// ListCustomers matches query as a substring of any contact field.
func (s *Store) ListCustomers(ctx context.Context, tenantID, query string) ([]customer.Customer, error) {
	q := s.client.From("customers").Eq("tenant_id", tenantID)
	if term := strings.TrimSpace(query); term != "" {
		q = q.Or(anyILike(term, "first_name", "last_name", "email", "phone"))
	}
	result := []customer.Customer{}
	if err := q.Order("last_name", true).Order("first_name", true).Order("id", true).Into(ctx, &result); err != nil {
		return nil, mapErr(err, "customers")
	}
	return result, nil
}

// anyILike builds the body of an or=(...) group matching term in any of
// columns. The value is double quoted so reserved characters survive.
func anyILike(term string, columns ...string) string {
	quoted := `"*` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(escapePattern(term)) + `*"`
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, col+".ilike."+quoted)
	}
	return strings.Join(parts, ",")
}

// petRow reads birth_date, which PostgREST returns as a bare date.
type petRow struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	Name       string    `json:"name"`
	Species    string    `json:"species"`
	Breed      string    `json:"breed"`
	Sex        string    `json:"sex"`
	BirthDate  *string   `json:"birth_date"`
	WeightKg   float64   `json:"weight_kg"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const dateLayout = "2006-01-02"

func petRowFrom(p customer.Pet) petRow {
	row := petRow{
		ID: p.ID, TenantID: p.TenantID, CustomerID: p.CustomerID, Name: p.Name, Species: p.Species,
		Breed: p.Breed, Sex: p.Sex, WeightKg: p.WeightKg, Archived: p.Archived,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
	if p.BirthDate != nil {
		d := p.BirthDate.Format(dateLayout)
		row.BirthDate = &d
	}
	return row
}

func (r petRow) model() customer.Pet {
	p := customer.Pet{
		ID: r.ID, TenantID: r.TenantID, CustomerID: r.CustomerID, Name: r.Name, Species: r.Species,
		Breed: r.Breed, Sex: r.Sex, WeightKg: r.WeightKg, Archived: r.Archived,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.BirthDate != nil {
		if d, err := time.Parse(dateLayout, (*r.BirthDate)[:min(len(*r.BirthDate), len(dateLayout))]); err == nil {
			p.BirthDate = &d
		}
	}
	return p
}

// CreatePet requires the owner to exist in the same tenant.
func (s *Store) CreatePet(ctx context.Context, p customer.Pet) (customer.Pet, error) {
	if _, err := s.GetCustomer(ctx, p.TenantID, p.CustomerID); err != nil {
		return customer.Pet{}, err
	}
	p.ID = newID(p.ID)
	now := s.nowUTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if _, err := s.client.From("pets").Insert(ctx, petRowFrom(p), sb.InsertOptions{}); err != nil {
		return customer.Pet{}, mapErr(err, "pet "+p.Name)
	}
	return p, nil
}

func (s *Store) UpdatePet(ctx context.Context, p customer.Pet) (customer.Pet, error) {
	row := petRowFrom(p)
	resp, err := s.client.From("pets").Eq("tenant_id", p.TenantID).Eq("id", p.ID).Update(ctx, map[string]any{
		"name":       row.Name,
		"species":    row.Species,
		"breed":      row.Breed,
		"sex":        row.Sex,
		"birth_date": row.BirthDate,
		"weight_kg":  row.WeightKg,
		"archived":   row.Archived,
		"updated_at": s.nowUTC(),
	})
	if err != nil {
		return customer.Pet{}, mapErr(err, "pet "+p.ID)
	}
	var out petRow
	if err := firstRow(resp, &out, "pet "+p.ID); err != nil {
		return customer.Pet{}, err
	}
	return out.model(), nil
}

func (s *Store) GetPet(ctx context.Context, tenantID, id string) (customer.Pet, error) {
	var row petRow
	if err := one(ctx, s.client.From("pets").Eq("tenant_id", tenantID).Eq("id", id), &row, "pet "+id); err != nil {
		return customer.Pet{}, err
	}
	return row.model(), nil
}

func (s *Store) ListPets(ctx context.Context, tenantID, customerID string) ([]customer.Pet, error) {
	q := s.client.From("pets").Eq("tenant_id", tenantID)
	if customerID != "" {
		q = q.Eq("customer_id", customerID)
	}
	var rows []petRow
	if err := q.Order("name", true).Order("id", true).Into(ctx, &rows); err != nil {
		return nil, mapErr(err, "pets")
	}
	result := make([]customer.Pet, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

// --- CatalogStore -----------------------------------------------------------

func (s *Store) CreateService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	svc.ID = newID(svc.ID)
	now := s.nowUTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	if _, err := s.client.From("services").Insert(ctx, svc, sb.InsertOptions{}); err != nil {
		return catalog.Service{}, mapErr(err, "service "+svc.Name)
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	resp, err := s.client.From("services").Eq("tenant_id", svc.TenantID).Eq("id", svc.ID).Update(ctx, map[string]any{
		"name":             svc.Name,
		"description":      svc.Description,
		"duration_minutes": svc.DurationMinutes,
		"price_cents":      svc.PriceCents,
		"requires_vet":     svc.RequiresVet,
		"active":           svc.Active,
		"updated_at":       s.nowUTC(),
	})
	if err != nil {
		return catalog.Service{}, mapErr(err, "service "+svc.ID)
	}
	var out catalog.Service
	if err := firstRow(resp, &out, "service "+svc.ID); err != nil {
		return catalog.Service{}, err
	}
	return out, nil
}

func (s *Store) GetService(ctx context.Context, tenantID, id string) (catalog.Service, error) {
	var svc catalog.Service
	if err := one(ctx, s.client.From("services").Eq("tenant_id", tenantID).Eq("id", id), &svc, "service "+id); err != nil {
		return catalog.Service{}, err
	}
	return svc, nil
}

func (s *Store) ListServices(ctx context.Context, tenantID string, activeOnly bool) ([]catalog.Service, error) {
	q := s.client.From("services").Eq("tenant_id", tenantID)
	if activeOnly {
		q = q.Is("active", "true")
	}
	result := []catalog.Service{}
	if err := q.Order("name", true).Order("id", true).Into(ctx, &result); err != nil {
		return nil, mapErr(err, "services")
	}
	return result, nil
}
