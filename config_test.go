package resilienttelemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:8080/api/v1", cfg.BackendURL())
	assert.Equal(t, 60*time.Second, cfg.TotalTimeout)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 50, cfg.MaxCachedEvents)
	assert.True(t, cfg.EnableOfflineCache)
}

func TestLoadConfigFromYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://telemetry.example.com/
api_version: v2
api_key: from-file
max_cached_events: 10
total_timeout: 15s
max_delay: 5s
`), 0o600))

	t.Setenv("KOGASE_API_KEY", "from-env")
	t.Setenv("KOGASE_OFFLINE_CACHE", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://telemetry.example.com/api/v2", cfg.BackendURL())
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, 10, cfg.MaxCachedEvents)
	assert.Equal(t, 15*time.Second, cfg.TotalTimeout)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, time.Second, cfg.InitialDelay, "unset keys keep defaults")
	assert.False(t, cfg.EnableOfflineCache)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: ftp://nope\nmax_cached_events: 0\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
	assert.Contains(t, err.Error(), "max_cached_events")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 7

	p := cfg.RetryPolicy()
	assert.Equal(t, 7, p.MaxRetries)
	assert.Equal(t, cfg.TotalTimeout, p.TotalTimeout)
	assert.Equal(t, DefaultBearerRefreshTimeout, p.BearerRefreshTimeout)
}
