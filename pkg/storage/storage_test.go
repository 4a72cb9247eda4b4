package storage_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/pkg/storage"
)

const azuriteConnString = "DefaultEndpointsProtocol=http;AccountName=envoystore;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/envoystore;"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewReturnsSystem(t *testing.T) {
	cfg := &storage.Config{
		Provider:         storage.ProviderAzure,
		ContainerName:    "envoy",
		ConnectionString: azuriteConnString,
	}

	sys, err := storage.New(cfg, discard)
	require.NoError(t, err)
	assert.NotNil(t, sys)
}

func TestNewInvalidConnectionString(t *testing.T) {
	cfg := &storage.Config{
		Provider:         storage.ProviderAzure,
		ContainerName:    "envoy",
		ConnectionString: "not-a-connection-string",
	}

	_, err := storage.New(cfg, discard)
	assert.Error(t, err)
}

func TestConfigFinalize(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := &storage.Config{ConnectionString: azuriteConnString}
		require.NoError(t, cfg.Finalize(nil))
		assert.Equal(t, storage.ProviderAzure, cfg.Provider)
		assert.Equal(t, "envoy", cfg.ContainerName)
		assert.Equal(t, int32(3), cfg.MaxRetries)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("TEST_STORAGE_PROVIDER", "memory")
		t.Setenv("TEST_STORAGE_CONTAINER", "resumes")

		cfg := &storage.Config{}
		err := cfg.Finalize(&storage.Env{
			Provider:      "TEST_STORAGE_PROVIDER",
			ContainerName: "TEST_STORAGE_CONTAINER",
		})
		require.NoError(t, err)
		assert.Equal(t, storage.ProviderMemory, cfg.Provider)
		assert.Equal(t, "resumes", cfg.ContainerName)
	})

	t.Run("azure requires a connection", func(t *testing.T) {
		cfg := &storage.Config{}
		assert.Error(t, cfg.Finalize(nil))
	})

	t.Run("account url is enough", func(t *testing.T) {
		cfg := &storage.Config{AccountURL: "https://envoy.blob.core.windows.net/"}
		assert.NoError(t, cfg.Finalize(nil))
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := &storage.Config{Provider: "s3"}
		assert.Error(t, cfg.Finalize(nil))
	})
}

func TestConfigMerge(t *testing.T) {
	base := &storage.Config{Provider: "azure", ContainerName: "envoy", MaxRetries: 3}
	base.Merge(&storage.Config{ContainerName: "override"})

	assert.Equal(t, "azure", base.Provider)
	assert.Equal(t, "override", base.ContainerName)
	assert.Equal(t, int32(3), base.MaxRetries)
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	sys, err := storage.New(&storage.Config{Provider: storage.ProviderMemory}, discard)
	require.NoError(t, err)

	require.NoError(t, sys.Upload(ctx, "documents/a.md", strings.NewReader("# Jane"), "text/markdown"))

	ok, err := sys.Exists(ctx, "documents/a.md")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := sys.Download(ctx, "documents/a.md")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "# Jane", string(data))

	require.NoError(t, sys.Delete(ctx, "documents/a.md"))
	_, err = sys.Download(ctx, "documents/a.md")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, sys.Delete(ctx, "documents/a.md"), storage.ErrNotFound)
}

func TestKeyValidation(t *testing.T) {
	sys := storage.NewMemory(discard)
	ctx := context.Background()

	assert.ErrorIs(t, sys.Upload(ctx, "", strings.NewReader("x"), "text/plain"), storage.ErrEmptyKey)
	_, err := sys.Download(ctx, "documents/../secrets")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestMapHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, storage.MapHTTPStatus(storage.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, storage.MapHTTPStatus(storage.ErrEmptyKey))
	assert.Equal(t, http.StatusBadRequest, storage.MapHTTPStatus(storage.ErrInvalidKey))
	assert.Equal(t, http.StatusInternalServerError, storage.MapHTTPStatus(io.EOF))
}
