package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// GorillaPoolARCURL is the default ARC endpoint.
const GorillaPoolARCURL = "https://arc.gorillapool.io"

// ARC status codes outside the HTTP range.
const (
	arcStatusNotExtendedFormat             = 460
	arcStatusFeeTooLow                     = 465
	arcStatusCumulativeFeeValidationFailed = 473
)

// feeQuoteTTL is how long an ARC mining fee policy is reused.
const feeQuoteTTL = 10 * time.Minute

// Broadcaster submits raw transactions and reports the accepted txid.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
	Name() string
}

// ARCOptions configures an ARC broadcaster.
type ARCOptions struct {
	BaseURL string
	APIKey  string
	// DefaultFeeRate is returned by SatoshisPerKB when the policy endpoint
	// fails.
	DefaultFeeRate uint64
	Client         ClientOptions
}

// ARC broadcasts through an ARC node and quotes its mining fee policy.
type ARC struct {
	baseURL    string
	client     *JSONClient
	defaultFee uint64

	mu       sync.Mutex
	fee      uint64
	feeUntil time.Time
	now      func() time.Time
}

// NewARC creates an ARC broadcaster.
func NewARC(opts *ARCOptions) *ARC {
	if opts == nil {
		opts = &ARCOptions{}
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = GorillaPoolARCURL
	}
	clientOpts := opts.Client
	if opts.APIKey != "" {
		clientOpts.Header = clientOpts.Header.Clone()
		if clientOpts.Header == nil {
			clientOpts.Header = http.Header{}
		}
		clientOpts.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}
	return &ARC{
		baseURL:    base,
		client:     NewJSONClient("arc", &clientOpts),
		defaultFee: opts.DefaultFeeRate,
		now:        time.Now,
	}
}

// Name implements Broadcaster.
func (a *ARC) Name() string { return "arc" }

type arcTxInfo struct {
	TxID      string `json:"txid"`
	TxStatus  string `json:"txStatus"`
	ExtraInfo string `json:"extraInfo"`
}

// Broadcast implements Broadcaster.
func (a *ARC) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	payload := struct {
		RawTx string `json:"rawTx"`
	}{RawTx: hex.EncodeToString(rawTx)}

	var info arcTxInfo
	if err := a.client.Do(ctx, http.MethodPost, a.baseURL+"/v1/tx", payload, &info); err != nil {
		return "", arcError(err)
	}
	if info.TxID == "" {
		return "", walleterr.Wrap(ErrRejected, "empty txid in arc response")
	}
	return info.TxID, nil
}

func arcError(err error) error {
	var resp *ResponseError
	if !errors.As(err, &resp) {
		return walleterr.Wrap(err, "broadcast via arc")
	}
	switch resp.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return walleterr.WithSuggestion(walleterr.Wrap(err, "arc rejected the api key"),
			"check chain.arc_api_key in the config file")
	case arcStatusNotExtendedFormat:
		return walleterr.Wrap(err, "arc requires extended format")
	case arcStatusFeeTooLow, arcStatusCumulativeFeeValidationFailed:
		return walleterr.WithSuggestion(walleterr.Wrap(err, "fee too low"), "raise fees.sat_per_kb")
	default:
		return walleterr.Wrap(err, "broadcast via arc")
	}
}

type arcPolicy struct {
	Policy struct {
		MiningFee struct {
			Satoshis uint64 `json:"satoshis"`
			Bytes    uint64 `json:"bytes"`
		} `json:"miningFee"`
	} `json:"policy"`
}

// SatoshisPerKB returns the node's mining fee in satoshis per 1000 bytes,
// rounded up. Failures fall back to the configured default rate.
func (a *ARC) SatoshisPerKB(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	if a.fee > 0 && a.now().Before(a.feeUntil) {
		fee := a.fee
		a.mu.Unlock()
		return fee, nil
	}
	a.mu.Unlock()

	var policy arcPolicy
	if err := a.client.Do(ctx, http.MethodGet, a.baseURL+"/v1/policy", nil, &policy); err != nil {
		a.client.logger.Error("arc: fee policy unavailable, using default rate: %v", err)
		return a.defaultFee, nil
	}
	mf := policy.Policy.MiningFee
	if mf.Bytes == 0 {
		return a.defaultFee, nil
	}
	fee := (mf.Satoshis*1000 + mf.Bytes - 1) / mf.Bytes

	a.mu.Lock()
	a.fee = fee
	a.feeUntil = a.now().Add(feeQuoteTTL)
	a.mu.Unlock()
	return fee, nil
}

// Fallback tries each broadcaster in order until one accepts.
type Fallback struct {
	broadcasters []Broadcaster
	logger       LogWriter
}

// NewFallback creates a Fallback. Nil entries are skipped.
func NewFallback(logger LogWriter, broadcasters ...Broadcaster) *Fallback {
	if logger == nil {
		logger = nopLogger{}
	}
	f := &Fallback{logger: logger}
	for _, b := range broadcasters {
		if b != nil {
			f.broadcasters = append(f.broadcasters, b)
		}
	}
	return f
}

// Name implements Broadcaster.
func (f *Fallback) Name() string {
	names := make([]string, len(f.broadcasters))
	for i, b := range f.broadcasters {
		names[i] = b.Name()
	}
	return strings.Join(names, ",")
}

// Broadcast implements Broadcaster.
func (f *Fallback) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	if len(f.broadcasters) == 0 {
		return "", walleterr.Wrap(walleterr.ErrNotConfigured, "no broadcaster configured")
	}
	var errs []error
	for _, b := range f.broadcasters {
		txid, err := b.Broadcast(ctx, rawTx)
		if err == nil {
			return txid, nil
		}
		f.logger.Error("broadcast via %s failed: %v", b.Name(), err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", walleterr.WithCause(walleterr.ErrNetworkError, errors.Join(errs...))
}

// alreadyKnown reports whether a rejection means the network already has
// the transaction.
func alreadyKnown(err error) bool {
	var resp *ResponseError
	if !errors.As(err, &resp) {
		return false
	}
	lower := strings.ToLower(string(resp.Body))
	return strings.Contains(lower, "already in mempool") ||
		strings.Contains(lower, "already in the mempool") ||
		strings.Contains(lower, "txn-already-known")
}
