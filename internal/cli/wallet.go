package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrz1836/brcwallet/internal/certs"
	"github.com/mrz1836/brcwallet/internal/chain"
	"github.com/mrz1836/brcwallet/internal/config"
	"github.com/mrz1836/brcwallet/internal/metrics"
	"github.com/mrz1836/brcwallet/internal/session"
	"github.com/mrz1836/brcwallet/internal/storage/badgerstore"
	"github.com/mrz1836/brcwallet/internal/txbuilder"
	"github.com/mrz1836/brcwallet/internal/vault"
	"github.com/mrz1836/brcwallet/internal/wallet"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// EnvPassword supplies the keystore password to non-interactive runs.
const EnvPassword = "BRCWALLET_PASSWORD" // #nosec G101 -- variable name, not a credential

// sessionName names the cached root key session.
const sessionName = "default"

// sessionKeyring overrides the OS keyring; tests install a memory keyring.
//
//nolint:gochecknoglobals // swapped by tests
var sessionKeyring session.Keyring

// walletEnv is an assembled wallet and the resources it holds.
type walletEnv struct {
	wallet   *wallet.Wallet
	registry *prometheus.Registry
	store    *badgerstore.Store
}

// Close releases the wallet's storage.
func (e *walletEnv) Close() error {
	e.wallet.Lock()
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// openWallet assembles a locked wallet from the loaded configuration.
func openWallet() (*walletEnv, error) {
	network, err := chain.ParseNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}

	env := &walletEnv{registry: prometheus.NewRegistry()}
	m, err := metrics.New(env.registry)
	if err != nil {
		return nil, walleterr.From(err)
	}

	wcfg := &wallet.Config{
		Network:     network,
		Metrics:     m,
		Logger:      logger,
		AuthTimeout: cfg.AuthTimeout(),
	}

	if cfg.Storage.Backend == "badger" {
		env.store, err = badgerstore.Open(cfg.StoragePath(), logger.Badger())
		if err != nil {
			return nil, err
		}
		wcfg.Baskets = env.store
		wcfg.Pending = env.store
		wcfg.Actions = env.store
		wcfg.Certificates = env.store
	}

	clientOpts := chain.ClientOptions{
		Timeout:  cfg.ChainTimeout(),
		Limiter:  chain.NewRateLimiter(cfg.Chain.RequestsPerSecond, cfg.Chain.Burst),
		Logger:   logger,
		Observer: m,
	}
	if cfg.Chain.MaxAttempts > 0 {
		retry := chain.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Chain.MaxAttempts
		clientOpts.Retry = &retry
	}

	woc, err := chain.NewWhatsOnChain(&chain.WhatsOnChainOptions{
		BaseURL: cfg.Chain.WhatsOnChainURL,
		APIKey:  cfg.Chain.WhatsOnChainKey,
		Network: network,
		Client:  clientOpts,
	})
	if err != nil {
		if env.store != nil {
			_ = env.store.Close()
		}
		return nil, err
	}
	arc := chain.NewARC(&chain.ARCOptions{
		BaseURL:        cfg.Chain.ARCURL,
		APIKey:         cfg.Chain.ARCAPIKey,
		DefaultFeeRate: cfg.Fees.SatPerKB,
		Client:         clientOpts,
	})
	wcfg.Tracker = woc

	broadcasters := make([]chain.Broadcaster, 0, len(cfg.Chain.Broadcasters))
	for _, name := range cfg.Chain.Broadcasters {
		switch name {
		case "arc":
			broadcasters = append(broadcasters, arc)
		case "whatsonchain":
			broadcasters = append(broadcasters, woc)
		}
	}
	if len(broadcasters) > 0 {
		wcfg.Broadcaster = chain.NewFallback(logger, broadcasters...)
	}

	strategy, quoted := chain.ParseFeeStrategy(cfg.Fees.Strategy)
	switch {
	case cfg.Fees.UseARCPolicy:
		wcfg.Fees = arc
	case quoted:
		wcfg.Fees = woc.MinerFees(strategy, cfg.Fees.MinMiners, cfg.Fees.SatPerKB)
	default:
		wcfg.Fees = txbuilder.FlatFee(cfg.Fees.SatPerKB)
	}

	certOpts := clientOpts
	certOpts.Timeout = cfg.CertificateTimeout()
	wcfg.Certifier = certs.NewHTTPCertifier(certOpts)
	if len(cfg.Certificates.DiscoveryURLs) > 0 {
		wcfg.Discoverer = certs.NewHTTPDiscoverer(cfg.Certificates.DiscoveryURLs, certOpts, logger)
	}

	env.wallet, err = wallet.New(wcfg)
	if err != nil {
		if env.store != nil {
			_ = env.store.Close()
		}
		return nil, err
	}
	return env, nil
}

// sessionCache returns the root key session cache under home.
func sessionCache() *session.Cache {
	return session.NewCache(filepath.Join(home(), "sessions"), sessionKeyring)
}

// loadRootKey returns the root key from a cached session, or decrypts the
// keystore with a password from the environment or a prompt and caches it.
func loadRootKey() (*secp256k1.PrivateKey, error) {
	var cache *session.Cache
	if cfg.Security.SessionEnabled {
		cache = sessionCache()
		if root, ok := cachedRoot(cache); ok {
			return root, nil
		}
	}

	ks := vault.NewKeystore(config.KeystorePath(home()))
	if !ks.Exists() {
		return nil, walleterr.WithSuggestion(
			walleterr.Wrap(walleterr.ErrNotConfigured, "no keystore"),
			"run 'brcwallet init' first")
	}

	password, err := keystorePassword()
	if err != nil {
		return nil, err
	}
	defer vault.Zero(password)

	root, err := ks.Load(string(password))
	if err != nil {
		return nil, err
	}

	if cache != nil && cache.Available() {
		raw := root.Serialize()
		if _, err := cache.Store(sessionName, raw, cfg.SessionTTL()); err != nil {
			logger.Debug("session not cached: %v", err)
		}
		vault.Zero(raw)
	}
	return root, nil
}

func cachedRoot(cache *session.Cache) (*secp256k1.PrivateKey, bool) {
	if !cache.Available() {
		return nil, false
	}
	secret, _, err := cache.Load(sessionName)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			logger.Debug("session unavailable: %v", err)
		}
		return nil, false
	}
	defer secret.Destroy()
	return secp256k1.PrivKeyFromBytes(secret.Bytes()), true
}

func keystorePassword() ([]byte, error) {
	if v := os.Getenv(EnvPassword); v != "" {
		return []byte(v), nil
	}
	return promptPasswordFn("Keystore password: ")
}

// newKeystorePassword takes the password for a new keystore from the
// environment, or prompts for it twice.
func newKeystorePassword() ([]byte, error) {
	if v := os.Getenv(EnvPassword); v != "" {
		password := []byte(v)
		if err := checkPasswordLength(password); err != nil {
			return nil, err
		}
		return password, nil
	}
	return promptNewPasswordFn()
}

// unlockedWallet opens the wallet and unlocks it for ttl (zero for as long
// as the process lives).
func unlockedWallet(ctx context.Context, ttl time.Duration) (*walletEnv, error) {
	if err := ctx.Err(); err != nil {
		return nil, walleterr.WithCause(walleterr.ErrTimeout, err)
	}
	env, err := openWallet()
	if err != nil {
		return nil, err
	}
	root, err := loadRootKey()
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	if err := env.wallet.Unlock(root, ttl); err != nil {
		_ = env.Close()
		return nil, err
	}
	return env, nil
}
