// Package wallet is the BRC-100 wallet interface. A Wallet composes key
// derivation, cryptographic operations, output baskets, the transaction
// builder and the certificate registry behind one request/response contract:
// every operation takes a context, an argument struct and an originator, and
// fails only with a *errors.WalletError.
package wallet

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mrz1836/brcwallet/internal/basket"
	"github.com/mrz1836/brcwallet/internal/certs"
	"github.com/mrz1836/brcwallet/internal/chain"
	"github.com/mrz1836/brcwallet/internal/cryptoops"
	"github.com/mrz1836/brcwallet/internal/keys"
	"github.com/mrz1836/brcwallet/internal/metrics"
	"github.com/mrz1836/brcwallet/internal/session"
	"github.com/mrz1836/brcwallet/internal/txbuilder"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// MaxOriginatorLength bounds the originator of a call, in bytes.
const MaxOriginatorLength = 250

// DefaultAuthTimeout bounds WaitForAuthentication when the context has no
// deadline.
const DefaultAuthTimeout = 5 * time.Minute

// Operation names, as used for metrics and by the HTTP substrate.
const (
	OpCreateAction                 = "createAction"
	OpSignAction                   = "signAction"
	OpAbortAction                  = "abortAction"
	OpListActions                  = "listActions"
	OpInternalizeAction            = "internalizeAction"
	OpListOutputs                  = "listOutputs"
	OpRelinquishOutput             = "relinquishOutput"
	OpGetPublicKey                 = "getPublicKey"
	OpRevealCounterpartyKeyLinkage = "revealCounterpartyKeyLinkage"
	OpRevealSpecificKeyLinkage     = "revealSpecificKeyLinkage"
	OpEncrypt                      = "encrypt"
	OpDecrypt                      = "decrypt"
	OpCreateHMAC                   = "createHmac"
	OpVerifyHMAC                   = "verifyHmac"
	OpCreateSignature              = "createSignature"
	OpVerifySignature              = "verifySignature"
	OpAcquireCertificate           = "acquireCertificate"
	OpListCertificates             = "listCertificates"
	OpProveCertificate             = "proveCertificate"
	OpRelinquishCertificate        = "relinquishCertificate"
	OpDiscoverByIdentityKey        = "discoverByIdentityKey"
	OpDiscoverByAttributes         = "discoverByAttributes"
	OpIsAuthenticated              = "isAuthenticated"
	OpWaitForAuthentication        = "waitForAuthentication"
	OpGetHeight                    = "getHeight"
	OpGetHeaderForHeight           = "getHeaderForHeight"
	OpGetNetwork                   = "getNetwork"
	OpGetVersion                   = "getVersion"
)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Config holds the dependencies of a Wallet. Nil stores select in-memory
// ones that live as long as the Wallet. Broadcaster, Tracker, Certifier and
// Discoverer are optional; operations that need a missing one fail with
// NOT_CONFIGURED or leave transactions unsent.
type Config struct {
	Network      chain.Network
	Baskets      basket.Store
	Pending      txbuilder.PendingStore
	Actions      txbuilder.ActionStore
	Certificates certs.Store
	Broadcaster  txbuilder.Broadcaster
	Fees         txbuilder.FeeModel
	Tracker      chain.Tracker
	Certifier    certs.Certifier
	Discoverer   certs.Discoverer
	Metrics      *metrics.Metrics
	Logger       LogWriter
	AuthTimeout  time.Duration
}

// Wallet implements the wallet interface. It starts locked; Unlock installs
// a root key.
type Wallet struct {
	network      chain.Network
	baskets      *basket.Manager
	pending      txbuilder.PendingStore
	actions      txbuilder.ActionStore
	certificates certs.Store
	broadcaster  txbuilder.Broadcaster
	fees         txbuilder.FeeModel
	tracker      chain.Tracker
	certifier    certs.Certifier
	discoverer   certs.Discoverer
	metrics      *metrics.Metrics
	logger       LogWriter
	authTimeout  time.Duration

	gate  *session.Gate
	state atomic.Pointer[keyState]
}

// keyState is everything that depends on the root key.
type keyState struct {
	deriver  *keys.Deriver
	ops      *cryptoops.Ops
	builder  *txbuilder.Builder
	registry *certs.Registry
}

// New creates a locked Wallet.
func New(cfg *Config) (*Wallet, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	w := &Wallet{
		network:      cfg.Network,
		pending:      cfg.Pending,
		actions:      cfg.Actions,
		certificates: cfg.Certificates,
		broadcaster:  cfg.Broadcaster,
		fees:         cfg.Fees,
		tracker:      cfg.Tracker,
		certifier:    cfg.Certifier,
		discoverer:   cfg.Discoverer,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		authTimeout:  cfg.AuthTimeout,
		gate:         session.NewGate(),
	}
	if w.network == "" {
		w.network = chain.NetworkMainnet
	}
	if w.logger == nil {
		w.logger = nopLogger{}
	}
	if w.authTimeout <= 0 {
		w.authTimeout = DefaultAuthTimeout
	}
	if w.pending == nil || w.actions == nil {
		mem := txbuilder.NewMemoryStore()
		if w.pending == nil {
			w.pending = mem
		}
		if w.actions == nil {
			w.actions = mem
		}
	}
	if w.certificates == nil {
		w.certificates = certs.NewMemoryStore()
	}
	if w.metrics == nil {
		m, err := metrics.New(nil)
		if err != nil {
			return nil, walleterr.From(err)
		}
		w.metrics = m
	}

	baskets, err := basket.NewManager(&basket.Config{Store: cfg.Baskets, Logger: w.logger})
	if err != nil {
		return nil, walleterr.From(err)
	}
	w.baskets = baskets
	return w, nil
}

// Unlock installs root as the wallet's master key and opens a session that
// lasts ttl (zero for no expiry). Unlocking again replaces the key.
func (w *Wallet) Unlock(root *secp256k1.PrivateKey, ttl time.Duration) error {
	if root == nil {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "root key required")
	}
	deriver := keys.NewDeriver(root)
	ops := cryptoops.New(deriver)
	st := &keyState{
		deriver: deriver,
		ops:     ops,
		builder: txbuilder.NewBuilder(&txbuilder.Config{
			Baskets:     w.baskets,
			Pending:     w.pending,
			Actions:     w.actions,
			Broadcaster: w.broadcaster,
			Fees:        w.fees,
			Scripts:     txbuilder.NewP2PKHScripts(deriver),
			Logger:      w.logger,
		}),
		registry: certs.New(&certs.Config{
			Store:      w.certificates,
			Ops:        ops,
			Identity:   deriver.IdentityKey(),
			Certifier:  w.certifier,
			Discoverer: w.discoverer,
			Logger:     w.logger,
		}),
	}
	w.state.Store(st)
	w.gate.Authenticate(keys.PublicKeyHex(deriver.IdentityKey()), ttl)
	w.logger.Debug("wallet unlocked")
	return nil
}

// Lock closes the session and drops the key.
func (w *Wallet) Lock() {
	w.gate.Lock()
	w.state.Store(nil)
	w.logger.Debug("wallet locked")
}

// Baskets exposes the output baskets for funding and inspection.
func (w *Wallet) Baskets() *basket.Manager {
	return w.baskets
}

// Metrics returns the wallet's collectors.
func (w *Wallet) Metrics() *metrics.Metrics {
	return w.metrics
}

// Network returns the network the wallet operates on.
func (w *Wallet) Network() chain.Network {
	return w.network
}

func (w *Wallet) unlocked() (*keyState, error) {
	st := w.state.Load()
	if st == nil || !w.gate.Authenticated() {
		return nil, walleterr.WithSuggestion(walleterr.ErrNotAuthenticated, "unlock the wallet first")
	}
	return st, nil
}

func checkOriginator(originator string) error {
	if len(originator) > MaxOriginatorLength {
		return walleterr.WithContext(
			walleterr.Wrap(walleterr.ErrInvalidInput, "originator exceeds %d bytes", MaxOriginatorLength),
			map[string]string{"length": fmt.Sprint(len(originator))})
	}
	return nil
}

// run applies the contract every operation shares: originator and argument
// checks, panic recovery, error conversion, logging and metrics.
func run[A, R any](ctx context.Context, w *Wallet, op, originator string, args *A,
	fn func(context.Context, *A) (*R, error),
) (res *R, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("%s: panic: %v\n%s", op, r, debug.Stack())
			res, err = nil, walleterr.WithCause(walleterr.ErrInternal, fmt.Errorf("panic in %s: %v", op, r))
		}
		if err != nil {
			res, err = nil, walleterr.From(err)
		}
		elapsed := time.Since(start)
		w.metrics.RecordWalletOp(op, elapsed, err)
		if err != nil {
			w.logger.Debug("%s from %q failed after %s: %v", op, originator, elapsed, err)
			return
		}
		w.logger.Debug("%s from %q ok in %s", op, originator, elapsed)
	}()

	if err := checkOriginator(originator); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "%s: arguments required", op)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil, walleterr.WithCause(walleterr.ErrTimeout, ctx.Err())
	}
	return fn(ctx, args)
}

// locked runs fn with the unlocked key state.
func locked[A, R any](w *Wallet, fn func(context.Context, *keyState, *A) (*R, error)) func(context.Context, *A) (*R, error) {
	return func(ctx context.Context, a *A) (*R, error) {
		st, err := w.unlocked()
		if err != nil {
			return nil, err
		}
		return fn(ctx, st, a)
	}
}
