// Package supabase implements the storage interfaces against a hosted
// Supabase project. Plain reads and writes go through PostgREST; the atomic
// procedures are SQL functions invoked over RPC.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
)

// Store implements the storage interfaces over a Supabase client.
type Store struct {
	client *sb.Client
	now    func() time.Time
}

var _ storage.TenantStore = (*Store)(nil)
var _ storage.MemberStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.CustomerStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AppointmentStore = (*Store)(nil)
var _ storage.RecordStore = (*Store)(nil)
var _ storage.InventoryStore = (*Store)(nil)
var _ storage.InvoiceStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.Procedures = (*Store)(nil)

// New creates a Store using client. The client must carry the service role
// key; row level security is bypassed and tenant scoping happens here.
func New(client *sb.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ping checks that PostgREST answers.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.From("tenants").Select("id").Limit(1).Get(ctx)
	return err
}

func (s *Store) nowUTC() time.Time {
	return s.now().UTC()
}

// SQLSTATE codes raised by the procedures and constraints.
const (
	codeUniqueViolation    = "23505"
	codeForeignKey         = "23503"
	codeExclusionViolation = "23P01"
	codeCheckViolation     = "23514"
	codeNoData             = "P0002"
	codeInvalidStatus      = "VC409"
	codeVersionMismatch    = "VC412"
	codeInsufficientStock  = "VC422"
	codeOverpayment        = "VC402"
	codeEmptyInvoice       = "VC400"
	codeNoRows             = "PGRST116"
)

// mapErr converts PostgREST errors into storage sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	apiErr, ok := sb.AsAPIError(err)
	if !ok {
		return fmt.Errorf("%s: %w", what, err)
	}
	var sentinel error
	switch apiErr.Code {
	case codeUniqueViolation:
		sentinel = storage.ErrConflict
	case codeForeignKey, codeNoData, codeNoRows:
		sentinel = storage.ErrNotFound
	case codeExclusionViolation:
		sentinel = storage.ErrSlotTaken
	case codeInvalidStatus:
		sentinel = storage.ErrInvalidStatus
	case codeVersionMismatch:
		sentinel = storage.ErrVersionMismatch
	case codeInsufficientStock, codeCheckViolation:
		sentinel = storage.ErrInsufficientStock
	case codeOverpayment:
		sentinel = storage.ErrOverpayment
	case codeEmptyInvoice:
		sentinel = storage.ErrEmptyInvoice
	}
	if sentinel == nil && apiErr.StatusCode == http.StatusNotFound {
		sentinel = storage.ErrNotFound
	}
	if sentinel == nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %s: %w", what, apiErr.Message, sentinel)
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
}

// one runs q and decodes the first row into dst, failing with ErrNotFound
// when nothing matched.
func one(ctx context.Context, q *sb.Query, dst any, what string) error {
	var rows []json.RawMessage
	if err := q.Limit(1).Into(ctx, &rows); err != nil {
		return mapErr(err, what)
	}
	if len(rows) == 0 {
		return notFound(what)
	}
	return json.Unmarshal(rows[0], dst)
}

// firstRow decodes the representation returned by a write.
func firstRow(resp *sb.Response, dst any, what string) error {
	var rows []json.RawMessage
	if err := resp.JSON(&rows); err != nil {
		return fmt.Errorf("%s: decode: %w", what, err)
	}
	if len(rows) == 0 {
		return notFound(what)
	}
	return json.Unmarshal(rows[0], dst)
}

// rpc calls fn with the single req argument every procedure takes.
func (s *Store) rpc(ctx context.Context, fn string, req any, what string) (*sb.Response, error) {
	resp, err := s.client.RPC(ctx, fn, map[string]any{"req": req})
	if err != nil {
		return nil, mapErr(err, what)
	}
	return resp, nil
}

// decodeField decodes one key of a jsonb procedure result.
func decodeField(resp *sb.Response, key string, dst any) error {
	field := resp.Result().Get(key)
	if !field.Exists() {
		return fmt.Errorf("procedure result has no %q", key)
	}
	return json.Unmarshal([]byte(field.Raw), dst)
}

// escapePattern neutralises LIKE wildcards so ilike acts as a
// case-insensitive equality or substring match.
func escapePattern(v string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `\*`).Replace(v)
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// --- TenantStore ------------------------------------------------------------

func (s *Store) CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	t.ID = newID(t.ID)
	now := s.nowUTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if _, err := s.client.From("tenants").Insert(ctx, t, sb.InsertOptions{}); err != nil {
		return tenant.Tenant{}, mapErr(err, "tenant "+t.Slug)
	}
	return t, nil
}

func (s *Store) UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	resp, err := s.client.From("tenants").Eq("id", t.ID).Update(ctx, map[string]any{
		"name":       t.Name,
		"timezone":   t.Timezone,
		"settings":   t.Settings,
		"updated_at": s.nowUTC(),
	})
	if err != nil {
		return tenant.Tenant{}, mapErr(err, "tenant "+t.ID)
	}
	var out tenant.Tenant
	if err := firstRow(resp, &out, "tenant "+t.ID); err != nil {
		return tenant.Tenant{}, err
	}
	return out, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	var t tenant.Tenant
	if err := one(ctx, s.client.From("tenants").Eq("id", id), &t, "tenant "+id); err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (tenant.Tenant, error) {
	var t tenant.Tenant
	if err := one(ctx, s.client.From("tenants").ILike("slug", escapePattern(slug)), &t, "tenant "+slug); err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	result := []tenant.Tenant{}
	if err := s.client.From("tenants").Order("created_at", true).Into(ctx, &result); err != nil {
		return nil, mapErr(err, "tenants")
	}
	return result, nil
}

// --- MemberStore ------------------------------------------------------------

func (s *Store) UpsertMember(ctx context.Context, m tenant.Member) (tenant.Member, error) {
	now := s.nowUTC()
	existing, err := s.GetMember(ctx, m.TenantID, m.UserID)
	switch {
	case err == nil:
		m.CreatedAt = existing.CreatedAt
	case errors.Is(err, storage.ErrNotFound):
		m.CreatedAt = now
	default:
		return tenant.Member{}, err
	}
	m.UpdatedAt = now
	resp, err := s.client.From("tenant_members").Insert(ctx, m, sb.InsertOptions{OnConflict: "tenant_id,user_id"})
	if err != nil {
		return tenant.Member{}, mapErr(err, "tenant "+m.TenantID)
	}
	var out tenant.Member
	if err := firstRow(resp, &out, "member "+m.UserID); err != nil {
		return tenant.Member{}, err
	}
	return out, nil
}

func (s *Store) GetMember(ctx context.Context, tenantID, userID string) (tenant.Member, error) {
	var m tenant.Member
	q := s.client.From("tenant_members").Eq("tenant_id", tenantID).Eq("user_id", userID)
	if err := one(ctx, q, &m, "member "+userID); err != nil {
		return tenant.Member{}, err
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]tenant.Member, error) {
	result := []tenant.Member{}
	q := s.client.From("tenant_members").Eq("tenant_id", tenantID).Order("created_at", true).Order("user_id", true)
	if err := q.Into(ctx, &result); err != nil {
		return nil, mapErr(err, "members")
	}
	return result, nil
}

func (s *Store) ListMembershipsForUser(ctx context.Context, userID string) ([]tenant.Member, error) {
	result := []tenant.Member{}
	q := s.client.From("tenant_members").Eq("user_id", userID).Order("created_at", true).Order("tenant_id", true)
	if err := q.Into(ctx, &result); err != nil {
		return nil, mapErr(err, "memberships")
	}
	return result, nil
}

func (s *Store) DeleteMember(ctx context.Context, tenantID, userID string) error {
	resp, err := s.client.From("tenant_members").Eq("tenant_id", tenantID).Eq("user_id", userID).Delete(ctx)
	if err != nil {
		return mapErr(err, "member "+userID)
	}
	var gone tenant.Member
	return firstRow(resp, &gone, "member "+userID)
}

// --- APIKeyStore ------------------------------------------------------------

// apiKeyRow carries the hash, which the domain type keeps out of JSON.
type apiKeyRow struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id"`
	Name       string      `json:"name"`
	Role       tenant.Role `json:"role"`
	Hash       string      `json:"hash"`
	CreatedBy  string      `json:"created_by"`
	CreatedAt  time.Time   `json:"created_at"`
	LastUsedAt *time.Time  `json:"last_used_at"`
	RevokedAt  *time.Time  `json:"revoked_at"`
}

func apiKeyRowFrom(k tenant.APIKey) apiKeyRow {
	return apiKeyRow{
		ID: k.ID, TenantID: k.TenantID, Name: k.Name, Role: k.Role, Hash: k.Hash,
		CreatedBy: k.CreatedBy, CreatedAt: k.CreatedAt, LastUsedAt: k.LastUsedAt, RevokedAt: k.RevokedAt,
	}
}

func (r apiKeyRow) model() tenant.APIKey {
	return tenant.APIKey{
		ID: r.ID, TenantID: r.TenantID, Name: r.Name, Role: r.Role, Hash: r.Hash,
		CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt.UTC(),
		LastUsedAt: utcPtr(r.LastUsedAt), RevokedAt: utcPtr(r.RevokedAt),
	}
}

func (s *Store) CreateAPIKey(ctx context.Context, key tenant.APIKey) (tenant.APIKey, error) {
	key.ID = newID(key.ID)
	key.CreatedAt = s.nowUTC()
	if _, err := s.client.From("api_keys").Insert(ctx, apiKeyRowFrom(key), sb.InsertOptions{}); err != nil {
		return tenant.APIKey{}, mapErr(err, "api key "+key.Name)
	}
	return key, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (tenant.APIKey, error) {
	var row apiKeyRow
	if err := one(ctx, s.client.From("api_keys").Eq("id", id), &row, "api key "+id); err != nil {
		return tenant.APIKey{}, err
	}
	return row.model(), nil
}

func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]tenant.APIKey, error) {
	var rows []apiKeyRow
	q := s.client.From("api_keys").Eq("tenant_id", tenantID).Order("created_at", true)
	if err := q.Into(ctx, &rows); err != nil {
		return nil, mapErr(err, "api keys")
	}
	result := make([]tenant.APIKey, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

// RevokeAPIKey keeps the first revocation time when called twice.
func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error {
	key, err := s.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if key.TenantID != tenantID {
		return notFound("api key " + id)
	}
	if key.RevokedAt != nil {
		return nil
	}
	resp, err := s.client.From("api_keys").Eq("tenant_id", tenantID).Eq("id", id).Is("revoked_at", "null").
		Update(ctx, map[string]any{"revoked_at": at.UTC()})
	if err != nil {
		return mapErr(err, "api key "+id)
	}
	var row apiKeyRow
	if err := firstRow(resp, &row, "api key "+id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	resp, err := s.client.From("api_keys").Eq("id", id).Update(ctx, map[string]any{"last_used_at": at.UTC()})
	if err != nil {
		return mapErr(err, "api key "+id)
	}
	var row apiKeyRow
	return firstRow(resp, &row, "api key "+id)
}
