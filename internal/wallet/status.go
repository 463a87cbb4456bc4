package wallet

import (
	"context"
	"encoding/hex"

	"github.com/mrz1836/brcwallet/internal/version"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Empty is the argument of operations that take none.
type Empty struct{}

// IsAuthenticated reports whether the wallet is unlocked.
func (w *Wallet) IsAuthenticated(ctx context.Context, originator string) (*AuthenticatedResult, error) {
	return run(ctx, w, OpIsAuthenticated, originator, &Empty{},
		func(context.Context, *Empty) (*AuthenticatedResult, error) {
			_, err := w.unlocked()
			return &AuthenticatedResult{Authenticated: err == nil}, nil
		})
}

// WaitForAuthentication blocks until the wallet is unlocked. Without a
// deadline on ctx it gives up after the configured auth timeout.
func (w *Wallet) WaitForAuthentication(ctx context.Context, originator string) (*AuthenticatedResult, error) {
	return run(ctx, w, OpWaitForAuthentication, originator, &Empty{},
		func(ctx context.Context, _ *Empty) (*AuthenticatedResult, error) {
			if _, ok := ctx.Deadline(); !ok {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, w.authTimeout)
				defer cancel()
			}
			if err := w.gate.Wait(ctx); err != nil {
				return nil, err
			}
			return &AuthenticatedResult{Authenticated: true}, nil
		})
}

func (w *Wallet) requireTracker() error {
	if w.tracker == nil {
		return walleterr.WithSuggestion(walleterr.Wrap(walleterr.ErrNotConfigured, "no chain tracker configured"),
			"set chain.whatsonchain_url in the config file")
	}
	return nil
}

// GetHeight returns the current chain height.
func (w *Wallet) GetHeight(ctx context.Context, originator string) (*GetHeightResult, error) {
	return run(ctx, w, OpGetHeight, originator, &Empty{},
		func(ctx context.Context, _ *Empty) (*GetHeightResult, error) {
			if err := w.requireTracker(); err != nil {
				return nil, err
			}
			height, err := w.tracker.GetHeight(ctx)
			if err != nil {
				return nil, err
			}
			return &GetHeightResult{Height: height}, nil
		})
}

// GetHeaderForHeight returns the serialized block header at a height.
func (w *Wallet) GetHeaderForHeight(ctx context.Context, args *GetHeaderArgs, originator string) (*GetHeaderResult, error) {
	return run(ctx, w, OpGetHeaderForHeight, originator, args,
		func(ctx context.Context, a *GetHeaderArgs) (*GetHeaderResult, error) {
			if err := w.requireTracker(); err != nil {
				return nil, err
			}
			header, err := w.tracker.GetHeader(ctx, a.Height)
			if err != nil {
				return nil, err
			}
			return &GetHeaderResult{Header: hex.EncodeToString(header)}, nil
		})
}

// GetNetwork returns "mainnet" or "testnet".
func (w *Wallet) GetNetwork(ctx context.Context, originator string) (*GetNetworkResult, error) {
	return run(ctx, w, OpGetNetwork, originator, &Empty{},
		func(context.Context, *Empty) (*GetNetworkResult, error) {
			return &GetNetworkResult{Network: string(w.network)}, nil
		})
}

// GetVersion returns the wallet version string.
func (w *Wallet) GetVersion(ctx context.Context, originator string) (*GetVersionResult, error) {
	return run(ctx, w, OpGetVersion, originator, &Empty{},
		func(context.Context, *Empty) (*GetVersionResult, error) {
			return &GetVersionResult{Version: version.String()}, nil
		})
}
