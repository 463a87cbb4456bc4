package txbuilder

import (
	"context"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mrz1836/brcwallet/internal/basket"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const (
	// P2PKHUnlockingScriptLength is the size assumed for a signature plus
	// compressed public key push.
	P2PKHUnlockingScriptLength = 107

	p2pkhOutputSize = 34
	maxFundingPass  = 5
	maxSatoshis     = 21_000_000 * 100_000_000
)

// fund selects outputs from basketName to cover the outputs and fee, adds
// them as unsigned inputs, and appends a change output when one is worth
// creating. Selected outputs stay reserved until the draft is signed or
// aborted.
func (b *Builder) fund(ctx context.Context, tx *wire.MsgTx, draft *Draft, basketName string) error {
	rate, err := b.fees.SatoshisPerKB(ctx)
	if err != nil {
		b.logger.Error("txbuilder: fee model failed, using default rate: %v", err)
		rate = DefaultFeeRate
	}

	var target uint64
	for _, out := range tx.TxOut {
		target += uint64(out.Value)
	}

	// The estimate assumes a change output; dropping it later only leaves a
	// little more for the miner.
	// Each pass reserves under the basket lock, so two drafts never fund
	// from the same output. A retry hands the previous selection back first.
	need := target + feeFor(estimateSize(tx, draft.Inputs, 1, true), rate)
	var selected []basket.Output
	var total uint64
	funded := false
	for pass := 0; pass < maxFundingPass && !funded; pass++ {
		if need == 0 {
			need = 1
		}
		b.release(draft)
		draft.Funding = nil
		if selected, err = b.baskets.ReserveSpendable(basketName, need); err != nil {
			return err
		}
		draft.Funding = selected
		total = 0
		for _, o := range selected {
			total += o.Satoshis
		}
		need = target + feeFor(estimateSize(tx, draft.Inputs, len(selected), true), rate)
		funded = total >= need
	}
	if !funded {
		b.release(draft)
		draft.Funding = nil
		return walleterr.WithContext(walleterr.ErrInsufficientFunds, map[string]string{
			"basket":    basketName,
			"requested": strconv.FormatUint(need, 10),
			"available": strconv.FormatUint(total, 10),
		})
	}

	for _, o := range selected {
		hash, err := chainhash.NewHashFromStr(o.Outpoint.Txid)
		if err != nil {
			b.release(draft)
			return walleterr.Wrap(err, "funding outpoint %s", o.Outpoint)
		}
		in := wire.NewTxIn(wire.NewOutPoint(hash, o.Outpoint.Index), nil, nil)
		in.Sequence = DefaultSequence
		tx.AddTxIn(in)
	}

	fee := feeFor(estimateSize(tx, draft.Inputs, 0, true), rate)
	change := total - target - fee
	if total < target+fee || change < DustLimit || b.scripts == nil {
		return nil
	}

	script, instructions, err := b.scripts.ChangeScript()
	if err != nil {
		b.release(draft)
		return walleterr.Wrap(err, "deriving change script")
	}
	tx.AddTxOut(wire.NewTxOut(int64(change), script)) //nolint:gosec // bounded by inputs
	draft.Change = &basket.Output{
		Satoshis:           change,
		LockingScript:      script,
		CustomInstructions: instructions,
		Basket:             basket.DefaultBasket,
		Tags:               []string{"change"},
	}
	return nil
}

// estimateSize returns the serialized size with every missing unlocking
// script replaced by its declared (or P2PKH) length.
func estimateSize(tx *wire.MsgTx, specs []InputSpec, extraInputs int, withChange bool) uint64 {
	size := tx.SerializeSizeStripped()
	for i, in := range tx.TxIn {
		if len(in.SignatureScript) > 0 {
			continue
		}
		n := P2PKHUnlockingScriptLength
		if i < len(specs) && specs[i].UnlockingScriptLength > 0 {
			n = specs[i].UnlockingScriptLength
		}
		size += n + wire.VarIntSerializeSize(uint64(n)) - 1
	}
	size += extraInputs * (32 + 4 + 1 + P2PKHUnlockingScriptLength + 4)
	if withChange {
		size += p2pkhOutputSize
	}
	return uint64(size) //nolint:gosec // sizes are positive
}

// feeFor rounds up so the fee always covers the rate.
func feeFor(size, satsPerKB uint64) uint64 {
	return (size*satsPerKB + 999) / 1000
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
