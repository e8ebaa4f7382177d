package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vetclinic/internal/config"
)

func TestOpenRequiresDriverAndDSN(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{DSN: "postgres://x"})
	assert.Error(t, err)
	_, err = Open(context.Background(), config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)
}

func TestConfigureAppliesPoolLimits(t *testing.T) {
	raw, _, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	defer db.Close()

	Configure(db, config.DatabaseConfig{MaxOpenConns: 7})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}
