package chain_test

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	whatsonchain "github.com/mrz1836/go-whatsonchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/chain"
)

var (
	errMempool      = errors.New("257: txn-already-known")
	errScriptFailed = errors.New("16: mandatory-script-verify-flag-failed")
	errStatsDown    = errors.New("fee stats unavailable")
)

// mockWOCClient implements chain.WOCClient for testing.
type mockWOCClient struct {
	broadcastFunc func(ctx context.Context, txHex string) (string, error)
	feeFunc       func(ctx context.Context, from, to int64) ([]*whatsonchain.MinerFeeStats, error)
	broadcasts    atomic.Int32
	feeCalls      atomic.Int32
}

func (m *mockWOCClient) BroadcastTx(ctx context.Context, txHex string) (string, error) {
	m.broadcasts.Add(1)
	if m.broadcastFunc != nil {
		return m.broadcastFunc(ctx, txHex)
	}
	return "", nil
}

func (m *mockWOCClient) GetMinerFeesStats(ctx context.Context, from, to int64) ([]*whatsonchain.MinerFeeStats, error) {
	m.feeCalls.Add(1)
	if m.feeFunc != nil {
		return m.feeFunc(ctx, from, to)
	}
	return nil, nil
}

func newSDKWOC(t *testing.T, mock *mockWOCClient) *chain.WhatsOnChain {
	t.Helper()
	woc, err := chain.NewWhatsOnChain(&chain.WhatsOnChainOptions{
		BaseURL: "http://woc.test",
		Client:  testClientOptions(),
		SDK:     mock,
	})
	require.NoError(t, err)
	return woc
}

func feeStats(rates ...float64) []*whatsonchain.MinerFeeStats {
	out := make([]*whatsonchain.MinerFeeStats, len(rates))
	for i, r := range rates {
		out[i] = &whatsonchain.MinerFeeStats{FeeRate: r}
	}
	return out
}

func TestWhatsOnChainSDK_Broadcast(t *testing.T) {
	t.Parallel()
	raw := []byte{0x01, 0x00, 0x00, 0x00}

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		mock := &mockWOCClient{broadcastFunc: func(_ context.Context, txHex string) (string, error) {
			assert.Equal(t, hex.EncodeToString(raw), txHex)
			return "abcd", nil
		}}
		txid, err := newSDKWOC(t, mock).Broadcast(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, "abcd", txid)
	})

	t.Run("already known", func(t *testing.T) {
		t.Parallel()
		mock := &mockWOCClient{broadcastFunc: func(context.Context, string) (string, error) {
			return "", errMempool
		}}
		txid, err := newSDKWOC(t, mock).Broadcast(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, chainhash.DoubleHashH(raw).String(), txid)
	})

	t.Run("rejected is not retried", func(t *testing.T) {
		t.Parallel()
		mock := &mockWOCClient{broadcastFunc: func(context.Context, string) (string, error) {
			return "", errScriptFailed
		}}
		_, err := newSDKWOC(t, mock).Broadcast(context.Background(), raw)
		require.ErrorIs(t, err, chain.ErrRejected)
		assert.Contains(t, err.Error(), "mandatory-script-verify-flag-failed")
		assert.Equal(t, int32(1), mock.broadcasts.Load())
	})

	t.Run("network errors are retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		mock := &mockWOCClient{broadcastFunc: func(context.Context, string) (string, error) {
			if calls.Add(1) < 3 {
				return "", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
			}
			return "beef", nil
		}}
		txid, err := newSDKWOC(t, mock).Broadcast(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, "beef", txid)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("empty txid", func(t *testing.T) {
		t.Parallel()
		_, err := newSDKWOC(t, &mockWOCClient{}).Broadcast(context.Background(), raw)
		require.ErrorIs(t, err, chain.ErrRejected)
	})
}

func TestMinerFees_Strategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		strategy  chain.FeeStrategy
		minMiners int
		want      uint64
	}{
		{"economy", chain.FeeStrategyEconomy, 3, 250},
		{"priority", chain.FeeStrategyPriority, 3, 1000},
		{"normal third highest", chain.FeeStrategyNormal, 3, 500},
		{"normal clamps to cheapest", chain.FeeStrategyNormal, 10, 250},
		{"normal rounds up", chain.FeeStrategyNormal, 2, 751},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := &mockWOCClient{feeFunc: func(_ context.Context, from, to int64) ([]*whatsonchain.MinerFeeStats, error) {
				assert.Equal(t, int64(86400), to-from)
				return feeStats(500, 1000, 250, 750.2), nil
			}}
			fees := newSDKWOC(t, mock).MinerFees(tt.strategy, tt.minMiners, 7)
			got, err := fees.SatoshisPerKB(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMinerFees_CachesQuote(t *testing.T) {
	t.Parallel()
	mock := &mockWOCClient{feeFunc: func(context.Context, int64, int64) ([]*whatsonchain.MinerFeeStats, error) {
		return feeStats(100), nil
	}}
	fees := newSDKWOC(t, mock).MinerFees(chain.FeeStrategyEconomy, 1, 7)

	for i := 0; i < 3; i++ {
		got, err := fees.SatoshisPerKB(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(100), got)
	}
	assert.Equal(t, int32(1), mock.feeCalls.Load())
}

func TestMinerFees_Fallback(t *testing.T) {
	t.Parallel()

	t.Run("stats error", func(t *testing.T) {
		t.Parallel()
		mock := &mockWOCClient{feeFunc: func(context.Context, int64, int64) ([]*whatsonchain.MinerFeeStats, error) {
			return nil, errStatsDown
		}}
		got, err := newSDKWOC(t, mock).MinerFees(chain.FeeStrategyNormal, 3, 7).SatoshisPerKB(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
	})

	t.Run("no entries", func(t *testing.T) {
		t.Parallel()
		got, err := newSDKWOC(t, &mockWOCClient{}).MinerFees(chain.FeeStrategyNormal, 3, 7).SatoshisPerKB(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
	})

	t.Run("custom endpoint without sdk", func(t *testing.T) {
		t.Parallel()
		woc, err := chain.NewWhatsOnChain(&chain.WhatsOnChainOptions{BaseURL: "http://woc.test"})
		require.NoError(t, err)
		got, err := woc.MinerFees(chain.FeeStrategyPriority, 1, 9).SatoshisPerKB(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(9), got)
	})
}

func TestParseFeeStrategy(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"economy", "normal", "priority"} {
		got, ok := chain.ParseFeeStrategy(s)
		assert.True(t, ok, s)
		assert.Equal(t, chain.FeeStrategy(s), got)
	}
	_, ok := chain.ParseFeeStrategy("")
	assert.False(t, ok)
	_, ok = chain.ParseFeeStrategy("cheap")
	assert.False(t, ok)
}
