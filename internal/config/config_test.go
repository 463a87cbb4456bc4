package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/config"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

func TestLoadSave_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := config.Defaults()
	cfg.Network = "testnet"
	cfg.Chain.ARCAPIKey = "test-api-key"
	cfg.Certificates.DiscoveryURLs = []string{"https://resolver.example.com"}
	cfg.Metrics.Enabled = true

	require.NoError(t, config.Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: testnet\nfees:\n  sat_per_kb: 50\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, uint64(50), cfg.Fees.SatPerKB)
	assert.Equal(t, config.DefaultARCURL, cfg.Chain.ARCURL)
	assert.Equal(t, "badger", cfg.Storage.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "network: [unterminated"},
		{"unknown network", "network: regtest"},
		{"unknown backend", "storage:\n  backend: sqlite"},
		{"unknown broadcaster", "chain:\n  broadcasters: [taal]"},
		{"negative rate", "chain:\n  requests_per_second: -1"},
		{"metrics path", "metrics:\n  enabled: true\n  path: metrics"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			_, err := config.Load(path)
			require.ErrorIs(t, err, walleterr.ErrConfigInvalid)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "~/.brcwallet", cfg.Home)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, []string{"arc", "whatsonchain"}, cfg.Chain.Broadcasters)
	assert.Equal(t, config.DefaultSatPerKB, cfg.Fees.SatPerKB)
	assert.True(t, cfg.Security.MemoryLock)
	assert.Equal(t, 15, cfg.Security.SessionTTLMinutes)
	assert.Equal(t, config.DefaultListen, cfg.Server.Listen)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestConfig_Paths(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Home = "/var/lib/brcwallet"

	assert.Equal(t, "/var/lib/brcwallet/data", cfg.StoragePath())
	cfg.Storage.Path = "/srv/wallet"
	assert.Equal(t, "/srv/wallet", cfg.StoragePath())

	assert.Equal(t, "/var/lib/brcwallet/config.yaml", config.Path(cfg.Home))
	assert.Equal(t, "/var/lib/brcwallet/keystore.age", config.KeystorePath(cfg.Home))
	assert.Equal(t, "relative/path", config.ExpandHome("relative/path"))
}
