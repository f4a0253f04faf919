package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Meta.PageSize)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 3, cfg.Meta.EmptyPageRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Meta.InterPageDelay)
	assert.Equal(t, -3*time.Hour, cfg.Sync.TimezoneOffset)
	assert.Equal(t, "append", cfg.Sync.WriteMode)
	assert.Equal(t, []string{"campaigns", "adsets", "ads", "insights_ads"}, cfg.Sync.Tables)
	assert.Equal(t, "https://graph.facebook.com/v22.0", cfg.Meta.GraphURL())
}

func TestLoad_FileWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_META_TOKEN", "secret-token")
	path := writeFile(t, `
meta:
  access_token: ${TEST_META_TOKEN}
  page_size: 50
warehouse:
  driver: sqlite
  dataset: meta
sync:
  timezone_offset: -5h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-token", cfg.Meta.AccessToken)
	assert.Equal(t, 50, cfg.Meta.PageSize)
	assert.Equal(t, "sqlite", cfg.Warehouse.Driver)
	assert.Equal(t, -5*time.Hour, cfg.Sync.TimezoneOffset)
	// untouched keys keep defaults
	assert.Equal(t, "v22.0", cfg.Meta.APIVersion)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "sync:\n  write_mode: append\n")
	t.Setenv("METASYNC_SYNC_WRITE_MODE", "truncate")
	t.Setenv("METASYNC_RETRY_MAX_ATTEMPTS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "truncate", cfg.Sync.WriteMode)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad write mode", func(c *Config) { c.Sync.WriteMode = "upsert" }},
		{"zero page size", func(c *Config) { c.Meta.PageSize = 0 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"multiplier below one", func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{"offset out of range", func(c *Config) { c.Sync.TimezoneOffset = 20 * time.Hour }},
		{"no driver", func(c *Config) { c.Warehouse.Driver = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))
		})
	}

	require.NoError(t, Default().Validate())
}

func TestDump_MasksToken(t *testing.T) {
	cfg := Default()
	cfg.Meta.AccessToken = "secret-token"

	data, err := Dump(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-token")
	assert.Equal(t, "secret-token", cfg.Meta.AccessToken)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "warehouse")
}

func TestSyncLocation(t *testing.T) {
	loc := SyncConfig{TimezoneOffset: -3 * time.Hour}.Location()
	at := time.Date(2025, 1, 13, 1, 0, 0, 0, time.UTC).In(loc)
	assert.Equal(t, 12, at.Day())
}

func TestLoad_StagingBucket(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Warehouse.StagingBucket)
	assert.Equal(t, "metasync", cfg.Warehouse.StagingPrefix)

	path := writeFile(t, "warehouse:\n  driver: bigquery\n  project_id: proj\n  staging_bucket: loads\n")
	t.Setenv("METASYNC_WAREHOUSE_STAGING_PREFIX", "tmp/ads")

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "loads", cfg.Warehouse.StagingBucket)
	assert.Equal(t, "tmp/ads", cfg.Warehouse.StagingPrefix)
}
