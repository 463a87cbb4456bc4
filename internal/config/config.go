// Package config provides configuration management for brcwallet.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/brcwallet/internal/fileutil"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version      int                `yaml:"version"`
	Home         string             `yaml:"home"`
	Network      string             `yaml:"network"`
	Storage      StorageConfig      `yaml:"storage"`
	Chain        ChainConfig        `yaml:"chain"`
	Certificates CertificatesConfig `yaml:"certificates"`
	Security     SecurityConfig     `yaml:"security"`
	Fees         FeesConfig         `yaml:"fees"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// StorageConfig selects where baskets, actions and certificates live.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ChainConfig defines chain service endpoints.
type ChainConfig struct {
	WhatsOnChainURL   string   `yaml:"whatsonchain_url,omitempty"`
	WhatsOnChainKey   string   `yaml:"whatsonchain_api_key"`
	ARCURL            string   `yaml:"arc_url"`
	ARCAPIKey         string   `yaml:"arc_api_key"`
	Broadcasters      []string `yaml:"broadcasters"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	MaxAttempts       int      `yaml:"max_attempts"`
}

// CertificatesConfig defines certificate discovery settings.
type CertificatesConfig struct {
	DiscoveryURLs  []string `yaml:"discovery_urls"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	MemoryLock         bool `yaml:"memory_lock"`
	SessionEnabled     bool `yaml:"session_enabled"`
	SessionTTLMinutes  int  `yaml:"session_ttl_minutes"`
	AuthTimeoutSeconds int  `yaml:"auth_timeout_seconds"`
}

// FeesConfig defines fee settings.
type FeesConfig struct {
	SatPerKB uint64 `yaml:"sat_per_kb"`
	// UseARCPolicy quotes the fee rate from the ARC node, falling back to
	// SatPerKB.
	UseARCPolicy bool `yaml:"use_arc_policy"`
	// Strategy quotes the rate from WhatsOnChain miner fee statistics when
	// ARC policy quoting is off: economy, normal or priority. Empty keeps
	// the flat SatPerKB rate.
	Strategy string `yaml:"strategy"`
	// MinMiners is how many miners must accept a "normal" rate.
	MinMiners int `yaml:"min_miners"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Listen              string `yaml:"listen"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	// RequireToken rejects requests without a bearer token issued by
	// "brcwallet token issue".
	RequireToken bool `yaml:"require_token"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from the specified file. Missing keys keep
// their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, walleterr.Wrap(err, "reading config")
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, walleterr.WithContext(walleterr.WithCause(walleterr.ErrConfigInvalid, err),
			map[string]string{"path": path})
	}
	if err := cfg.Validate(); err != nil {
		return nil, walleterr.WithContext(err, map[string]string{"path": path})
	}
	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return walleterr.Wrap(err, "creating config directory")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return walleterr.Wrap(err, "encoding config")
	}
	return walleterr.Wrap(fileutil.WriteAtomic(path, data, 0o600), "writing config")
}

func invalid(field, reason string) error {
	return walleterr.WithContext(walleterr.Wrap(walleterr.ErrConfigInvalid, "%s %s", field, reason),
		map[string]string{"field": field})
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Network) {
	case "main", "mainnet", "test", "testnet":
	default:
		return invalid("network", "must be mainnet or testnet")
	}
	switch c.Storage.Backend {
	case "badger", "memory":
	default:
		return invalid("storage.backend", "must be badger or memory")
	}
	for _, b := range c.Chain.Broadcasters {
		if b != "arc" && b != "whatsonchain" {
			return invalid("chain.broadcasters", "entries must be arc or whatsonchain")
		}
	}
	if c.Chain.RequestsPerSecond < 0 || c.Chain.Burst < 0 {
		return invalid("chain.requests_per_second", "must not be negative")
	}
	switch c.Fees.Strategy {
	case "", "economy", "normal", "priority":
	default:
		return invalid("fees.strategy", "must be economy, normal or priority")
	}
	if c.Security.SessionTTLMinutes < 0 || c.Security.AuthTimeoutSeconds < 0 {
		return invalid("security", "durations must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path", "must start with /")
	}
	return nil
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// KeystorePath returns the encrypted root key file under home.
func KeystorePath(home string) string {
	return filepath.Join(home, "keystore.age")
}

// TokensPath returns the directory holding server access tokens.
func TokensPath(home string) string {
	return filepath.Join(home, "tokens")
}

// StoragePath returns the database directory, relative paths resolved
// against home.
func (c *Config) StoragePath() string {
	p := ExpandHome(c.Storage.Path)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ExpandHome(c.Home), p)
}

// ChainTimeout returns the per-request chain timeout.
func (c *Config) ChainTimeout() time.Duration {
	return time.Duration(c.Chain.TimeoutSeconds) * time.Second
}

// CertificateTimeout returns the per-request certifier and resolver timeout.
func (c *Config) CertificateTimeout() time.Duration {
	return time.Duration(c.Certificates.TimeoutSeconds) * time.Second
}

// ReadTimeout returns the server request read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the server response write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// AuthTimeout returns the default WaitForAuthentication bound.
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.Security.AuthTimeoutSeconds) * time.Second
}

// SessionTTL returns the cached session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Security.SessionTTLMinutes) * time.Minute
}

// DefaultHome returns the default brcwallet home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".brcwallet"
	}
	return filepath.Join(home, ".brcwallet")
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
