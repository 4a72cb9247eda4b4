package infrastructure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/internal/infrastructure"
	"github.com/JaimeStill/envoy/pkg/database"
	"github.com/JaimeStill/envoy/pkg/storage"
)

func validConfig() *config.Config {
	cfg := &config.Config{
		Database: database.Config{
			Host:            "localhost",
			Port:            5432,
			Name:            "envoy",
			User:            "envoy",
			Password:        "envoy",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    1,
			ConnMaxLifetime: "15m",
			ConnTimeout:     "1s",
		},
		Storage: storage.Config{Provider: storage.ProviderMemory},
		Version: "0.1.0",
	}
	cfg.Agent.Name = "test-agent"
	return cfg
}

func TestNew(t *testing.T) {
	infra, err := infrastructure.New(validConfig())
	require.NoError(t, err)

	assert.NotNil(t, infra.Lifecycle)
	assert.NotNil(t, infra.Logger)
	assert.NotNil(t, infra.Database)
	assert.NotNil(t, infra.Storage)
	assert.Equal(t, "test-agent", infra.Agent.Name)
}

func TestNewDatabaseConnection(t *testing.T) {
	infra, err := infrastructure.New(validConfig())
	require.NoError(t, err)

	conn := infra.Database.Connection()
	require.NotNil(t, conn)
	conn.Close()
}

func TestNewInvalidStorageConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = storage.Config{
		Provider:         storage.ProviderAzure,
		ContainerName:    "envoy",
		ConnectionString: "not-a-connection-string",
	}

	_, err := infrastructure.New(cfg)
	assert.Error(t, err)
}
