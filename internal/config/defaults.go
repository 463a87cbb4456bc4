package config

// Chain service defaults.
const (
	DefaultARCURL          = "https://arc.gorillapool.io"
	DefaultSatPerKB uint64 = 1
	DefaultListen          = "127.0.0.1:3321"
)

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.brcwallet",
		Network: "mainnet",
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "data",
		},
		Chain: ChainConfig{
			ARCURL:            DefaultARCURL,
			Broadcasters:      []string{"arc", "whatsonchain"},
			TimeoutSeconds:    30,
			RequestsPerSecond: 3,
			Burst:             5,
			MaxAttempts:       3,
		},
		Certificates: CertificatesConfig{
			DiscoveryURLs:  []string{},
			TimeoutSeconds: 15,
		},
		Security: SecurityConfig{
			MemoryLock:         true,
			SessionEnabled:     true,
			SessionTTLMinutes:  15,
			AuthTimeoutSeconds: 300,
		},
		Fees: FeesConfig{
			SatPerKB:     DefaultSatPerKB,
			UseARCPolicy: true,
			MinMiners:    3,
		},
		Server: ServerConfig{
			Listen:              DefaultListen,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 60,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.brcwallet/brcwallet.log",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}
