// Package basket keeps the wallet's spendable outputs grouped into named
// baskets, with tag queries and greedy coin selection.
package basket

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// DefaultBasket holds wallet change and incoming payments. Applications
// cannot write to it directly.
const DefaultBasket = "default"

// QueryMode selects how a set of tags or labels is matched.
type QueryMode string

// Query modes.
const (
	QueryModeAny QueryMode = "any"
	QueryModeAll QueryMode = "all"
)

// Pagination limits.
const (
	DefaultLimit = 10
	MaxLimit     = 10000
)

// Outpoint identifies a transaction output as "txid.index".
type Outpoint struct {
	Txid  string `json:"txid"`
	Index uint32 `json:"index"`
}

// String renders the outpoint as "txid.index".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s.%d", o.Txid, o.Index)
}

// MarshalText implements encoding.TextMarshaler.
func (o Outpoint) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outpoint) UnmarshalText(b []byte) error {
	parsed, err := ParseOutpoint(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutpoint parses "txid.index".
func ParseOutpoint(s string) (Outpoint, error) {
	txid, idx, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Outpoint{}, walleterr.Wrap(walleterr.ErrInvalidInput, "outpoint %q must be txid.index", s)
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil || len(txid) != chainhash.MaxHashStringSize {
		return Outpoint{}, walleterr.Wrap(walleterr.ErrInvalidInput, "outpoint %q has an invalid txid", s)
	}
	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Outpoint{}, walleterr.Wrap(walleterr.ErrInvalidInput, "outpoint %q has an invalid index", s)
	}
	return Outpoint{Txid: strings.ToLower(txid), Index: uint32(index)}, nil
}

// Output is an output tracked in a basket.
type Output struct {
	Outpoint           Outpoint `json:"outpoint"`
	Satoshis           uint64   `json:"satoshis"`
	LockingScript      []byte   `json:"lockingScript,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	CustomInstructions string   `json:"customInstructions,omitempty"`
	Spendable          bool     `json:"spendable"`
	Basket             string   `json:"basket"`

	// Seq orders outputs by insertion for coin selection.
	Seq uint64 `json:"-" cbor:"seq"`
}

// Query filters ListOutputs.
type Query struct {
	Basket       string
	Tags         []string
	TagQueryMode QueryMode
	IncludeSpent bool
	Offset       int
	Limit        int
}

// ListResult is a page of outputs plus the size of the filtered set.
type ListResult struct {
	TotalOutputs int
	Outputs      []Output
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
