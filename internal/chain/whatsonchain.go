package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	whatsonchain "github.com/mrz1836/go-whatsonchain"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// WhatsOnChainURL is the API root; the network segment is appended.
const WhatsOnChainURL = "https://api.whatsonchain.com/v1/bsv"

// headerCacheSize bounds the number of block headers kept in memory.
const headerCacheSize = 1024

// WOCClient is the part of the go-whatsonchain client the wallet uses.
type WOCClient interface {
	BroadcastTx(ctx context.Context, txHex string) (string, error)
	GetMinerFeesStats(ctx context.Context, from, to int64) ([]*whatsonchain.MinerFeeStats, error)
}

// WhatsOnChainOptions configures the WhatsOnChain client.
type WhatsOnChainOptions struct {
	// BaseURL overrides WhatsOnChainURL/<network>. The SDK client only
	// speaks to the public API, so an override also routes broadcasts
	// through the REST endpoint.
	BaseURL string
	// APIKey is sent as a bearer token for higher rate limits.
	APIKey  string
	Network Network
	Client  ClientOptions
	// SDK replaces the go-whatsonchain client.
	SDK WOCClient
}

// WhatsOnChain implements Tracker, the broadcaster port and a miner fee
// source against WhatsOnChain. Broadcasts and fee statistics go through
// go-whatsonchain; block headers are read from the REST API so they can be
// rebuilt and checked against the block hash.
type WhatsOnChain struct {
	baseURL string
	client  *JSONClient
	woc     WOCClient
	logger  LogWriter

	mu      sync.Mutex
	headers map[uint32][]byte
}

// NewWhatsOnChain creates a client.
func NewWhatsOnChain(opts *WhatsOnChainOptions) (*WhatsOnChain, error) {
	if opts == nil {
		opts = &WhatsOnChainOptions{}
	}
	network := opts.Network
	if network == "" {
		network = NetworkMainnet
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = WhatsOnChainURL + "/" + network.short()
	}

	clientOpts := opts.Client
	if opts.APIKey != "" {
		clientOpts.Header = clientOpts.Header.Clone()
		if clientOpts.Header == nil {
			clientOpts.Header = http.Header{}
		}
		clientOpts.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	w := &WhatsOnChain{
		baseURL: base,
		client:  NewJSONClient("whatsonchain", &clientOpts),
		woc:     opts.SDK,
		logger:  clientOpts.Logger,
		headers: make(map[uint32][]byte),
	}
	if w.logger == nil {
		w.logger = nopLogger{}
	}
	if w.woc == nil && opts.BaseURL == "" {
		sdkOpts := []whatsonchain.ClientOption{whatsonchain.WithNetwork(wocNetwork(network))}
		if opts.APIKey != "" {
			sdkOpts = append(sdkOpts, whatsonchain.WithAPIKey(opts.APIKey))
		}
		client, err := whatsonchain.NewClient(context.Background(), sdkOpts...)
		if err != nil {
			return nil, walleterr.WithCause(walleterr.ErrNotConfigured, err)
		}
		w.woc = client
	}
	return w, nil
}

func wocNetwork(n Network) whatsonchain.NetworkType {
	if n == NetworkTestnet {
		return whatsonchain.NetworkTest
	}
	return whatsonchain.NetworkMain
}

// Name implements the broadcaster port.
func (w *WhatsOnChain) Name() string { return "whatsonchain" }

type chainInfo struct {
	Blocks uint32 `json:"blocks"`
}

// GetHeight returns the current chain tip height.
func (w *WhatsOnChain) GetHeight(ctx context.Context) (uint32, error) {
	var info chainInfo
	if err := w.client.Do(ctx, http.MethodGet, w.baseURL+"/chain/info", nil, &info); err != nil {
		return 0, err
	}
	return info.Blocks, nil
}

type blockInfo struct {
	Hash              string `json:"hash"`
	Height            uint32 `json:"height"`
	Version           int32  `json:"version"`
	MerkleRoot        string `json:"merkleroot"`
	Time              int64  `json:"time"`
	Nonce             uint32 `json:"nonce"`
	Bits              string `json:"bits"`
	PreviousBlockHash string `json:"previousblockhash"`
}

// GetHeader returns the 80 byte serialized header of the block at height.
// The header is rebuilt from its fields and checked against the reported
// block hash.
func (w *WhatsOnChain) GetHeader(ctx context.Context, height uint32) ([]byte, error) {
	w.mu.Lock()
	cached, ok := w.headers[height]
	w.mu.Unlock()
	if ok {
		return append([]byte(nil), cached...), nil
	}

	var info blockInfo
	endpoint := w.baseURL + "/block/height/" + strconv.FormatUint(uint64(height), 10)
	if err := w.client.Do(ctx, http.MethodGet, endpoint, nil, &info); err != nil {
		return nil, err
	}

	header, err := info.header()
	if err != nil {
		return nil, walleterr.WithContext(walleterr.Wrap(ErrRejected, "block %d: %v", height, err),
			map[string]string{"height": strconv.FormatUint(uint64(height), 10)})
	}

	w.mu.Lock()
	if len(w.headers) >= headerCacheSize {
		w.headers = make(map[uint32][]byte)
	}
	w.headers[height] = header
	w.mu.Unlock()
	return append([]byte(nil), header...), nil
}

func (b *blockInfo) header() ([]byte, error) {
	bits, err := strconv.ParseUint(b.Bits, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("bits %q: %w", b.Bits, err)
	}
	merkle, err := chainhash.NewHashFromStr(b.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("merkle root: %w", err)
	}
	prev := &chainhash.Hash{}
	if b.PreviousBlockHash != "" {
		if prev, err = chainhash.NewHashFromStr(b.PreviousBlockHash); err != nil {
			return nil, fmt.Errorf("previous block hash: %w", err)
		}
	}

	h := wire.NewBlockHeader(b.Version, prev, merkle, uint32(bits), b.Nonce)
	h.Timestamp = time.Unix(b.Time, 0)
	if b.Hash != "" && h.BlockHash().String() != b.Hash {
		return nil, fmt.Errorf("header hashes to %s, expected %s", h.BlockHash(), b.Hash)
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := h.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Broadcast submits a raw transaction. A transaction the network already
// knows counts as success.
func (w *WhatsOnChain) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	if w.woc == nil {
		return w.broadcastREST(ctx, rawTx)
	}

	var txid string
	err := w.client.Call(ctx, http.MethodPost, w.baseURL+"/tx/raw", func(ctx context.Context) error {
		var err error
		txid, err = w.woc.BroadcastTx(ctx, hex.EncodeToString(rawTx))
		return sdkError(err)
	})
	if err != nil {
		if alreadyKnown(err) {
			return chainhash.DoubleHashH(rawTx).String(), nil
		}
		return "", walleterr.Wrap(err, "broadcast via whatsonchain")
	}
	if txid == "" {
		return "", walleterr.Wrap(ErrRejected, "empty txid in whatsonchain response")
	}
	return txid, nil
}

func (w *WhatsOnChain) broadcastREST(ctx context.Context, rawTx []byte) (string, error) {
	payload := struct {
		TxHex string `json:"txhex"`
	}{TxHex: hex.EncodeToString(rawTx)}

	var txid string
	err := w.client.Do(ctx, http.MethodPost, w.baseURL+"/tx/raw", payload, &txid)
	if err != nil {
		if alreadyKnown(err) {
			return chainhash.DoubleHashH(rawTx).String(), nil
		}
		return "", walleterr.Wrap(err, "broadcast via whatsonchain")
	}
	if txid == "" {
		return "", walleterr.Wrap(ErrRejected, "empty txid in whatsonchain response")
	}
	return txid, nil
}

// sdkError maps go-whatsonchain failures onto the error kinds the retry
// policy and breaker understand. The SDK reports remote rejections as plain
// errors carrying the response text.
func sdkError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return walleterr.WithCause(walleterr.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr):
		return walleterr.WithCause(walleterr.ErrNetworkError, err)
	default:
		return walleterr.WithCause(ErrRejected, &ResponseError{Body: []byte(err.Error())})
	}
}
