package chain_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/chain"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

func testClientOptions() chain.ClientOptions {
	retry := fastRetry(3)
	return chain.ClientOptions{
		Timeout: time.Second,
		Limiter: chain.NewRateLimiter(0, 1),
		Retry:   &retry,
	}
}

func newWOC(t *testing.T, handler http.HandlerFunc) *chain.WhatsOnChain {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	woc, err := chain.NewWhatsOnChain(&chain.WhatsOnChainOptions{
		BaseURL: srv.URL,
		APIKey:  "secret",
		Client:  testClientOptions(),
	})
	require.NoError(t, err)
	return woc
}

func testHeader() *wire.BlockHeader {
	prev := chainhash.Hash{0x01}
	merkle := chainhash.Hash{0x02}
	h := wire.NewBlockHeader(1, &prev, &merkle, 0x1d00ffff, 42)
	h.Timestamp = time.Unix(1_700_000_000, 0)
	return h
}

func blockJSON(h *wire.BlockHeader, hash string) map[string]any {
	return map[string]any{
		"hash":              hash,
		"height":            800000,
		"version":           h.Version,
		"merkleroot":        h.MerkleRoot.String(),
		"time":              h.Timestamp.Unix(),
		"nonce":             h.Nonce,
		"bits":              fmt.Sprintf("%08x", h.Bits),
		"previousblockhash": h.PrevBlock.String(),
	}
}

func TestWhatsOnChain_GetHeight(t *testing.T) {
	t.Parallel()
	woc := newWOC(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chain/info", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"chain":"main","blocks":812345}`))
	})

	height, err := woc.GetHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(812345), height)
}

func TestWhatsOnChain_GetHeader(t *testing.T) {
	t.Parallel()
	h := testHeader()
	var calls atomic.Int32
	woc := newWOC(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/block/height/800000", r.URL.Path)
		_ = json.NewEncoder(w).Encode(blockJSON(h, h.BlockHash().String()))
	})

	got, err := woc.GetHeader(context.Background(), 800000)
	require.NoError(t, err)
	require.Len(t, got, chain.HeaderSize)

	var want bytes.Buffer
	require.NoError(t, h.Serialize(&want))
	assert.Equal(t, want.Bytes(), got)

	_, err = woc.GetHeader(context.Background(), 800000)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "headers are cached")
}

func TestWhatsOnChain_GetHeaderHashMismatch(t *testing.T) {
	t.Parallel()
	h := testHeader()
	woc := newWOC(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(blockJSON(h, chainhash.Hash{0xff}.String()))
	})

	_, err := woc.GetHeader(context.Background(), 800000)
	require.ErrorIs(t, err, chain.ErrRejected)
}

func TestWhatsOnChain_Broadcast(t *testing.T) {
	t.Parallel()
	raw := []byte{0x01, 0x00, 0x00, 0x00}

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		woc := newWOC(t, func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				TxHex string `json:"txhex"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, hex.EncodeToString(raw), body.TxHex)
			_, _ = w.Write([]byte(`"abcd"`))
		})
		txid, err := woc.Broadcast(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, "abcd", txid)
	})

	t.Run("already known", func(t *testing.T) {
		t.Parallel()
		woc := newWOC(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "257: txn-already-known", http.StatusBadRequest)
		})
		txid, err := woc.Broadcast(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, chainhash.DoubleHashH(raw).String(), txid)
	})

	t.Run("rejected is not retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		woc := newWOC(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, "mandatory-script-verify-flag-failed", http.StatusBadRequest)
		})
		_, err := woc.Broadcast(context.Background(), raw)
		require.ErrorIs(t, err, chain.ErrRejected)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		woc := newWOC(t, func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`"beef"`))
		})
		txid, err := woc.Broadcast(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, "beef", txid)
		assert.Equal(t, int32(3), calls.Load())
	})
}

func TestJSONClient_Timeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	retry := fastRetry(1)
	client := chain.NewJSONClient("slow", &chain.ClientOptions{
		Timeout: 20 * time.Millisecond,
		Limiter: chain.NewRateLimiter(0, 1),
		Retry:   &retry,
	})
	err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, walleterr.ErrTimeout)
}

func TestJSONClient_BreakerOpens(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	retry := fastRetry(1)
	client := chain.NewJSONClient("flaky", &chain.ClientOptions{Limiter: chain.NewRateLimiter(0, 1), Retry: &retry})
	for i := 0; i < int(chain.MinRequestsToTrip); i++ {
		_ = client.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	}
	seen := calls.Load()

	err := client.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, walleterr.ErrNetworkError)
	assert.True(t, chain.IsBreakerOpen(err))
	assert.Equal(t, seen, calls.Load(), "open breaker short-circuits")
}

func TestARC(t *testing.T) {
	t.Parallel()
	var policyCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tx":
			_, _ = w.Write([]byte(`{"txid":"feed","txStatus":"SEEN_ON_NETWORK"}`))
		case "/v1/policy":
			policyCalls.Add(1)
			_, _ = w.Write([]byte(`{"policy":{"miningFee":{"satoshis":1,"bytes":1000}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	arc := chain.NewARC(&chain.ARCOptions{BaseURL: srv.URL, DefaultFeeRate: 50, Client: testClientOptions()})
	txid, err := arc.Broadcast(context.Background(), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "feed", txid)

	for i := 0; i < 3; i++ {
		fee, err := arc.SatoshisPerKB(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), fee)
	}
	assert.Equal(t, int32(1), policyCalls.Load())
}

func TestARC_FeeFallbackAndRejection(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(465)
		_, _ = w.Write([]byte(`{"title":"fee too low","status":465}`))
	}))
	t.Cleanup(srv.Close)

	arc := chain.NewARC(&chain.ARCOptions{BaseURL: srv.URL, DefaultFeeRate: 50, Client: testClientOptions()})
	fee, err := arc.SatoshisPerKB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), fee)

	_, err = arc.Broadcast(context.Background(), []byte{0x01})
	require.Error(t, err)
	var we *walleterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Contains(t, we.Suggestion, "sat_per_kb")
}

type stubBroadcaster struct {
	name string
	err  error
}

func (s stubBroadcaster) Broadcast(context.Context, []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.name, nil
}

func (s stubBroadcaster) Name() string { return s.name }

func TestFallback(t *testing.T) {
	t.Parallel()
	down := stubBroadcaster{name: "down", err: walleterr.ErrNetworkError}
	up := stubBroadcaster{name: "up"}

	f := chain.NewFallback(nil, down, nil, up)
	assert.Equal(t, "down,up", f.Name())
	txid, err := f.Broadcast(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "up", txid)

	_, err = chain.NewFallback(nil, down).Broadcast(context.Background(), nil)
	require.ErrorIs(t, err, walleterr.ErrNetworkError)

	_, err = chain.NewFallback(nil).Broadcast(context.Background(), nil)
	require.ErrorIs(t, err, walleterr.ErrNotConfigured)
}
