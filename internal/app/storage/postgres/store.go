// Package postgres implements the storage interfaces on a self-hosted
// PostgreSQL database. The atomic procedures run as SQL transactions that
// lock the rows they change.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
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

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) nowUTC() time.Time {
	return s.now().UTC()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Postgres error codes mapped onto storage sentinels.
const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"
	codeCheckViolation     = "23514"
	codeForeignKey         = "23503"
)

// mapErr converts driver errors into storage sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case codeExclusionViolation:
			return fmt.Errorf("%s: %w", what, storage.ErrSlotTaken)
		case codeForeignKey:
			return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		case codeCheckViolation:
			if strings.Contains(pqErr.Constraint, "stock") {
				return fmt.Errorf("%s: %w", what, storage.ErrInsufficientStock)
			}
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func storageNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func requireAffected(result sql.Result, what string) error {
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// --- TenantStore ------------------------------------------------------------

type tenantRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Slug      string    `db:"slug"`
	Timezone  string    `db:"timezone"`
	Settings  []byte    `db:"settings"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r tenantRow) model() tenant.Tenant {
	t := tenant.Tenant{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		Timezone:  r.Timezone,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if len(r.Settings) > 0 {
		_ = json.Unmarshal(r.Settings, &t.Settings)
	}
	return t
}

const tenantColumns = `id, name, slug, timezone, settings, created_at, updated_at`

func (s *Store) CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	t.ID = newID(t.ID)
	now := s.nowUTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	settings, err := marshalJSON(t.Settings)
	if err != nil {
		return tenant.Tenant{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, timezone, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Name, t.Slug, t.Timezone, settings, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return tenant.Tenant{}, mapErr(err, "tenant "+t.Slug)
	}
	return t, nil
}

func (s *Store) UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	settings, err := marshalJSON(t.Settings)
	if err != nil {
		return tenant.Tenant{}, err
	}
	var row tenantRow
	err = s.db.GetContext(ctx, &row, `
		UPDATE tenants
		SET name = $2, timezone = $3, settings = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+tenantColumns, t.ID, t.Name, t.Timezone, settings, s.nowUTC())
	if err != nil {
		return tenant.Tenant{}, mapErr(err, "tenant "+t.ID)
	}
	return row.model(), nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	var row tenantRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id); err != nil {
		return tenant.Tenant{}, mapErr(err, "tenant "+id)
	}
	return row.model(), nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (tenant.Tenant, error) {
	var row tenantRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+tenantColumns+` FROM tenants WHERE lower(slug) = lower($1)`, slug); err != nil {
		return tenant.Tenant{}, mapErr(err, "tenant "+slug)
	}
	return row.model(), nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	var rows []tenantRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`); err != nil {
		return nil, err
	}
	result := make([]tenant.Tenant, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

// --- MemberStore ------------------------------------------------------------

type memberRow struct {
	TenantID    string    `db:"tenant_id"`
	UserID      string    `db:"user_id"`
	Role        string    `db:"role"`
	DisplayName string    `db:"display_name"`
	Email       string    `db:"email"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r memberRow) model() tenant.Member {
	return tenant.Member{
		TenantID:    r.TenantID,
		UserID:      r.UserID,
		Role:        tenant.Role(r.Role),
		DisplayName: r.DisplayName,
		Email:       r.Email,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

const memberColumns = `tenant_id, user_id, role, display_name, email, created_at, updated_at`

func (s *Store) UpsertMember(ctx context.Context, m tenant.Member) (tenant.Member, error) {
	now := s.nowUTC()
	var row memberRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO tenant_members (tenant_id, user_id, role, display_name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (tenant_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, display_name = EXCLUDED.display_name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
		RETURNING `+memberColumns, m.TenantID, m.UserID, string(m.Role), m.DisplayName, m.Email, now)
	if err != nil {
		return tenant.Member{}, mapErr(err, "member "+m.UserID)
	}
	return row.model(), nil
}

func (s *Store) GetMember(ctx context.Context, tenantID, userID string) (tenant.Member, error) {
	var row memberRow
	err := s.db.GetContext(ctx, &row, `SELECT `+memberColumns+` FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return tenant.Member{}, mapErr(err, "member "+userID)
	}
	return row.model(), nil
}

func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]tenant.Member, error) {
	return s.selectMembers(ctx, `SELECT `+memberColumns+` FROM tenant_members WHERE tenant_id = $1 ORDER BY created_at, user_id`, tenantID)
}

func (s *Store) ListMembershipsForUser(ctx context.Context, userID string) ([]tenant.Member, error) {
	return s.selectMembers(ctx, `SELECT `+memberColumns+` FROM tenant_members WHERE user_id = $1 ORDER BY created_at, tenant_id`, userID)
}

func (s *Store) selectMembers(ctx context.Context, query string, arg string) ([]tenant.Member, error) {
	var rows []memberRow
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, err
	}
	result := make([]tenant.Member, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

func (s *Store) DeleteMember(ctx context.Context, tenantID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return mapErr(err, "member "+userID)
	}
	return requireAffected(result, "member "+userID)
}

// --- APIKeyStore ------------------------------------------------------------

type apiKeyRow struct {
	ID         string     `db:"id"`
	TenantID   string     `db:"tenant_id"`
	Name       string     `db:"name"`
	Role       string     `db:"role"`
	Hash       string     `db:"hash"`
	CreatedBy  string     `db:"created_by"`
	CreatedAt  time.Time  `db:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
}

func (r apiKeyRow) model() tenant.APIKey {
	return tenant.APIKey{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Name:       r.Name,
		Role:       tenant.Role(r.Role),
		Hash:       r.Hash,
		CreatedBy:  r.CreatedBy,
		CreatedAt:  r.CreatedAt.UTC(),
		LastUsedAt: utcPtr(r.LastUsedAt),
		RevokedAt:  utcPtr(r.RevokedAt),
	}
}

const apiKeyColumns = `id, tenant_id, name, role, hash, created_by, created_at, last_used_at, revoked_at`

func (s *Store) CreateAPIKey(ctx context.Context, key tenant.APIKey) (tenant.APIKey, error) {
	key.ID = newID(key.ID)
	key.CreatedAt = s.nowUTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, role, hash, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.TenantID, key.Name, string(key.Role), key.Hash, key.CreatedBy, key.CreatedAt)
	if err != nil {
		return tenant.APIKey{}, mapErr(err, "api key "+key.Name)
	}
	return key, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (tenant.APIKey, error) {
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id); err != nil {
		return tenant.APIKey{}, mapErr(err, "api key "+id)
	}
	return row.model(), nil
}

func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]tenant.APIKey, error) {
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID); err != nil {
		return nil, err
	}
	result := make([]tenant.APIKey, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.model())
	}
	return result, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $3)
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, at.UTC())
	if err != nil {
		return mapErr(err, "api key "+id)
	}
	return requireAffected(result, "api key "+id)
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return mapErr(err, "api key "+id)
	}
	return requireAffected(result, "api key "+id)
}
