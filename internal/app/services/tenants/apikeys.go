package tenants

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/app/domain/tenant"
	"github.com/R3E-Network/vetclinic/internal/app/services/storeerr"
	svcerrors "github.com/R3E-Network/vetclinic/internal/errors"
)

// APIKeyPrefix starts every issued key.
const APIKeyPrefix = "vk_"

// CreateAPIKey issues a key for integrations. The plaintext is only returned
// here; the store keeps a bcrypt hash.
func (s *Service) CreateAPIKey(ctx context.Context, actor auth.Actor, name string, role tenant.Role) (tenant.APIKey, string, error) {
	if err := auth.RequireManager(actor); err != nil {
		return tenant.APIKey{}, "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return tenant.APIKey{}, "", svcerrors.InvalidInput("name is required")
	}
	switch role {
	case tenant.RoleAdmin, tenant.RoleVeterinarian, tenant.RoleStaff:
	default:
		return tenant.APIKey{}, "", svcerrors.InvalidInput("api keys cannot carry role %q", role)
	}

	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return tenant.APIKey{}, "", svcerrors.Internal("generate api key", err)
	}
	secret := hex.EncodeToString(secretBytes)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return tenant.APIKey{}, "", svcerrors.Internal("hash api key", err)
	}

	key, err := s.keys.CreateAPIKey(ctx, tenant.APIKey{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		TenantID:  actor.TenantID,
		Name:      name,
		Role:      role,
		Hash:      string(hash),
		CreatedBy: actor.UserID,
	})
	if err != nil {
		return tenant.APIKey{}, "", storeerr.Translate(err, "api key", name)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("key_id", key.ID).
		WithField("role", role).
		Info("api key created")
	return key, APIKeyPrefix + key.ID + "_" + secret, nil
}

// ListAPIKeys lists the tenant's keys without secrets.
func (s *Service) ListAPIKeys(ctx context.Context, actor auth.Actor) ([]tenant.APIKey, error) {
	if err := auth.RequireManager(actor); err != nil {
		return nil, err
	}
	return s.keys.ListAPIKeys(ctx, actor.TenantID)
}

// RevokeAPIKey disables a key.
func (s *Service) RevokeAPIKey(ctx context.Context, actor auth.Actor, keyID string) error {
	if err := auth.RequireManager(actor); err != nil {
		return err
	}
	if err := s.keys.RevokeAPIKey(ctx, actor.TenantID, keyID, s.now()); err != nil {
		return storeerr.Translate(err, "api key", keyID)
	}
	s.log.WithField("tenant_id", actor.TenantID).
		WithField("key_id", keyID).
		Info("api key revoked")
	return nil
}

// Authenticate verifies a raw key of the form vk_<id>_<secret>.
func (s *Service) Authenticate(ctx context.Context, raw string) (auth.Principal, error) {
	id, secret, ok := ParseAPIKey(raw)
	if !ok {
		return auth.Principal{}, svcerrors.InvalidToken(nil)
	}
	key, err := s.keys.GetAPIKey(ctx, id)
	if err != nil {
		if storeerr.IsNotFound(err) {
			return auth.Principal{}, svcerrors.InvalidToken(nil)
		}
		return auth.Principal{}, svcerrors.Internal("load api key", err)
	}
	if !key.Active() {
		return auth.Principal{}, svcerrors.InvalidToken(nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)); err != nil {
		return auth.Principal{}, svcerrors.InvalidToken(err)
	}
	if err := s.keys.TouchAPIKey(ctx, key.ID, s.now()); err != nil {
		s.log.WithError(err).WithField("key_id", key.ID).Warn("failed to record api key use")
	}
	return auth.Principal{APIKeyID: key.ID, TenantID: key.TenantID, Role: key.Role}, nil
}

// ParseAPIKey splits a raw key into its id and secret.
func ParseAPIKey(raw string) (id, secret string, ok bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, APIKeyPrefix) {
		return "", "", false
	}
	id, secret, ok = strings.Cut(strings.TrimPrefix(raw, APIKeyPrefix), "_")
	if !ok || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}
