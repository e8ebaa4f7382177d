package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15, cfg.TenantDefaults.SlotMinutes)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinic.yaml")
	yamlBody := `
server:
  port: 9000
notifications:
  poll_interval: 2s
tenant_defaults:
  slot_minutes: 20
  open_hour: 9
  close_hour: 17
  work_days: [1, 2, 3, 4, 5]
  booking_horizon_days: 30
  cancellation_notice_hours: 12
  commission_bps: 250
  pending_ttl_hours: 48
  max_services_per_booking: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port, "env overrides yaml")
	assert.Equal(t, 2*time.Second, cfg.Notifications.PollInterval)
	assert.Equal(t, 20, cfg.TenantDefaults.SlotMinutes)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.Origins())
}

func TestValidateBackends(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = BackendPostgres
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg.Database.DSN = "postgres://localhost/clinic"
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Notifications.WebhookURL = "https://hooks.example"
	assert.ErrorContains(t, cfg.Validate(), "NOTIFY_WEBHOOK_SECRET")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
