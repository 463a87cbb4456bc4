// Package chain talks to the Bitcoin SV network: block headers and height
// for the wallet's chain tracker, and transaction broadcast for finalized
// actions.
package chain

import (
	"context"
	"strings"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Network is the BSV network the wallet operates on.
type Network string

// Networks.
const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// ParseNetwork accepts "mainnet"/"main" and "testnet"/"test".
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "main", "mainnet":
		return NetworkMainnet, nil
	case "test", "testnet":
		return NetworkTestnet, nil
	default:
		return "", walleterr.WithContext(
			walleterr.Wrap(walleterr.ErrInvalidInput, "unknown network"),
			map[string]string{"network": s})
	}
}

// short returns the path segment WhatsOnChain uses for the network.
func (n Network) short() string {
	if n == NetworkTestnet {
		return "test"
	}
	return "main"
}

// HeaderSize is the size of a serialized block header.
const HeaderSize = 80

// Tracker reports chain tip and block headers.
type Tracker interface {
	GetHeight(ctx context.Context) (uint32, error)
	GetHeader(ctx context.Context, height uint32) ([]byte, error)
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
