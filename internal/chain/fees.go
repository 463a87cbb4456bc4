package chain

import (
	"context"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	whatsonchain "github.com/mrz1836/go-whatsonchain"
)

const (
	// MaxFeeRate caps quoted fee rates in satoshis per kilobyte.
	MaxFeeRate = 50000

	// feeWindowSeconds is the lookback window for miner fee stats (24 hours).
	feeWindowSeconds = 86400
)

// FeeStrategy selects a rate from the miner fee statistics.
type FeeStrategy string

const (
	// FeeStrategyEconomy selects the lowest MinFeeRate from any miner.
	FeeStrategyEconomy FeeStrategy = "economy"
	// FeeStrategyNormal selects the Nth-highest rate so at least N miners accept.
	FeeStrategyNormal FeeStrategy = "normal"
	// FeeStrategyPriority selects the highest MinFeeRate across all miners.
	FeeStrategyPriority FeeStrategy = "priority"
)

// ParseFeeStrategy accepts economy, normal and priority.
func ParseFeeStrategy(s string) (FeeStrategy, bool) {
	switch st := FeeStrategy(s); st {
	case FeeStrategyEconomy, FeeStrategyNormal, FeeStrategyPriority:
		return st, true
	default:
		return "", false
	}
}

// MinerFees quotes fee rates from WhatsOnChain's miner fee statistics.
type MinerFees struct {
	w          *WhatsOnChain
	strategy   FeeStrategy
	minMiners  int
	defaultFee uint64

	mu       sync.Mutex
	fee      uint64
	feeUntil time.Time
	now      func() time.Time
}

// MinerFees returns a fee model over this client. Without an SDK client, or
// when the statistics are unavailable, defaultFee is quoted.
func (w *WhatsOnChain) MinerFees(strategy FeeStrategy, minMiners int, defaultFee uint64) *MinerFees {
	if minMiners < 1 {
		minMiners = 1
	}
	return &MinerFees{
		w:          w,
		strategy:   strategy,
		minMiners:  minMiners,
		defaultFee: defaultFee,
		now:        time.Now,
	}
}

// SatoshisPerKB implements the fee model port. Quotes are reused for ten
// minutes.
func (m *MinerFees) SatoshisPerKB(ctx context.Context) (uint64, error) {
	if m.w.woc == nil {
		return m.defaultFee, nil
	}

	m.mu.Lock()
	if m.fee > 0 && m.now().Before(m.feeUntil) {
		fee := m.fee
		m.mu.Unlock()
		return fee, nil
	}
	m.mu.Unlock()

	to := m.now().Unix()
	from := to - feeWindowSeconds
	var entries []*whatsonchain.MinerFeeStats
	err := m.w.client.Call(ctx, http.MethodGet, m.w.baseURL+"/miner/fees", func(ctx context.Context) error {
		var err error
		entries, err = m.w.woc.GetMinerFeesStats(ctx, from, to)
		return sdkError(err)
	})
	if err != nil {
		m.w.logger.Error("whatsonchain: fee stats unavailable, using default rate: %v", err)
		return m.defaultFee, nil
	}
	if len(entries) == 0 {
		m.w.logger.Debug("whatsonchain: no fee stats, using default rate")
		return m.defaultFee, nil
	}

	fee := uint64(math.Ceil(selectFeeRate(entries, m.strategy, m.minMiners)))
	fee = min(max(fee, 1), MaxFeeRate)
	m.w.logger.Debug("whatsonchain: fee quote %d sat/KB from %d miners (strategy=%s)", fee, len(entries), m.strategy)

	m.mu.Lock()
	m.fee = fee
	m.feeUntil = m.now().Add(feeQuoteTTL)
	m.mu.Unlock()
	return fee, nil
}

// selectFeeRate picks a rate from non-empty entries.
func selectFeeRate(entries []*whatsonchain.MinerFeeStats, strategy FeeStrategy, minMiners int) float64 {
	rates := make([]float64, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			rates = append(rates, e.FeeRate)
		}
	}
	if len(rates) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(rates)))

	switch strategy {
	case FeeStrategyEconomy:
		return rates[len(rates)-1]
	case FeeStrategyPriority:
		return rates[0]
	default:
		idx := min(max(minMiners-1, 0), len(rates)-1)
		return rates[idx]
	}
}
