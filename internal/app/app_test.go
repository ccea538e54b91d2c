package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tempest/internal/config"
	"github.com/raphaelgruber/tempest/internal/models"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.Store = config.StoreChromem
	cfg.EmbedProvider = config.ProviderHash
	cfg.EmbedDimension = 32
	cfg.LLMProvider = config.ProviderOllama
	cfg.DiscordChannels = []string{"123"}
	return cfg
}

func TestNewWiresLocalApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, localConfig(t), nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NotNil(t, a.Service)
	require.NotNil(t, a.Discord())

	srv := httptest.NewServer(a.Server().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewLoadsPersonalities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personalities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personalities:\n  - name: Frieren\n    gender: female\n"), 0o644))

	cfg := localConfig(t)
	cfg.PersonalitiesFile = path

	ctx := context.Background()
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	p := a.Catalog.Resolve(models.Personality{Name: "frieren"})
	assert.Equal(t, "Frieren", p.Name)
	assert.Equal(t, "female", p.Gender)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()

	cfg := localConfig(t)
	cfg.Store = "postgres"
	_, err := New(ctx, cfg, nil)
	assert.ErrorContains(t, err, "unknown store backend")

	cfg = localConfig(t)
	cfg.LLMProvider = "bedrock"
	_, err = New(ctx, cfg, nil)
	assert.ErrorContains(t, err, "unsupported LLM provider")
}
