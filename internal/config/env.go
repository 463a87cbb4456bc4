package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/mrz1836/go-sanitize"
)

// Environment variable names.
const (
	EnvHome            = "BRCWALLET_HOME"
	EnvNetwork         = "BRCWALLET_NETWORK"
	EnvStoragePath     = "BRCWALLET_STORAGE_PATH"
	EnvARCURL          = "BRCWALLET_ARC_URL"
	EnvARCAPIKey       = "BRCWALLET_ARC_API_KEY"          // #nosec G101 -- variable name, not a credential
	EnvWhatsOnChainKey = "BRCWALLET_WHATSONCHAIN_API_KEY" // #nosec G101 -- variable name, not a credential
	EnvDiscoveryURLs   = "BRCWALLET_DISCOVERY_URLS"
	EnvListen          = "BRCWALLET_LISTEN"
	EnvRequireToken    = "BRCWALLET_REQUIRE_TOKEN"
	EnvLogLevel        = "BRCWALLET_LOG_LEVEL"
	EnvMetrics         = "BRCWALLET_METRICS"
	EnvSessionTTL      = "BRCWALLET_SESSION_TTL"
	EnvSatPerKB        = "BRCWALLET_SAT_PER_KB"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvNetwork); v != "" {
		cfg.Network = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.Storage.Path = v
	}

	if v := os.Getenv(EnvARCURL); v != "" {
		cfg.Chain.ARCURL = SanitizeURL(v)
	}

	if v := os.Getenv(EnvARCAPIKey); v != "" {
		cfg.Chain.ARCAPIKey = v
	}

	if v := os.Getenv(EnvWhatsOnChainKey); v != "" {
		cfg.Chain.WhatsOnChainKey = v
	}

	// Comma separated resolver URLs replace the configured list.
	if v := os.Getenv(EnvDiscoveryURLs); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			if u = SanitizeURL(u); u != "" {
				urls = append(urls, u)
			}
		}
		cfg.Certificates.DiscoveryURLs = urls
	}

	if v := os.Getenv(EnvListen); v != "" {
		cfg.Server.Listen = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvRequireToken); v != "" {
		cfg.Server.RequireToken = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvMetrics); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	// BRCWALLET_SESSION_TTL sets session timeout in minutes
	if v := os.Getenv(EnvSessionTTL); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil && ttl > 0 {
			cfg.Security.SessionTTLMinutes = ttl
		}
	}

	if v := os.Getenv(EnvSatPerKB); v != "" {
		if rate, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil && rate > 0 {
			cfg.Fees.SatPerKB = rate
		}
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL cleans copy-paste artifacts from a URL. Anything that does not
// parse as an absolute http(s) URL becomes empty.
func SanitizeURL(raw string) string {
	cleaned := sanitize.URL(strings.TrimSpace(raw))
	u, err := url.Parse(cleaned)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return strings.TrimRight(u.String(), "/")
}
