package txbuilder

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"

	"github.com/btcsuite/btcd/wire"

	"github.com/mrz1836/brcwallet/internal/basket"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

//nolint:gochecknoglobals // swapped in tests
var randRead = rand.Read

// Internalization protocols.
const (
	ProtocolWalletPayment   = "wallet payment"
	ProtocolBasketInsertion = "basket insertion"
)

// PaymentRemittance identifies a BRC-29 payment output.
type PaymentRemittance struct {
	DerivationPrefix  string
	DerivationSuffix  string
	SenderIdentityKey string
}

// InsertionRemittance places an output into an application basket.
type InsertionRemittance struct {
	Basket             string
	CustomInstructions string
	Tags               []string
}

// InternalizeOutput names one output of the incoming transaction.
type InternalizeOutput struct {
	OutputIndex         uint32
	Protocol            string
	PaymentRemittance   *PaymentRemittance
	InsertionRemittance *InsertionRemittance
}

// InternalizeRequest is the input of Internalize.
type InternalizeRequest struct {
	Tx          []byte
	Outputs     []InternalizeOutput
	Description string
	Labels      []string
}

// InternalizeResult reports the accepted transaction.
type InternalizeResult struct {
	Accepted bool
	Txid     string
}

// Internalize accepts an external transaction and takes ownership of the
// named outputs.
func (b *Builder) Internalize(_ context.Context, req *InternalizeRequest) (*InternalizeResult, error) {
	if req == nil {
		return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "request is required")
	}
	if err := ValidateDescription(req.Description); err != nil {
		return nil, err
	}
	if len(req.Outputs) == 0 {
		return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "at least one output must be internalized")
	}
	labels, err := basket.NormalizeTags(req.Labels)
	if err != nil {
		return nil, walleterr.Wrap(err, "labels")
	}

	beef, err := DecodeBEEF(req.Tx)
	if err != nil {
		return nil, err
	}
	tx := beef.Subject()
	txid := tx.TxHash().String()

	var appOutputs, walletOutputs []basket.Output
	seen := make(map[uint32]struct{}, len(req.Outputs))
	for _, spec := range req.Outputs {
		if int(spec.OutputIndex) >= len(tx.TxOut) {
			return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "output index %d out of range", spec.OutputIndex)
		}
		if _, dup := seen[spec.OutputIndex]; dup {
			return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "output %d listed twice", spec.OutputIndex)
		}
		seen[spec.OutputIndex] = struct{}{}

		txOut := tx.TxOut[spec.OutputIndex]
		out := basket.Output{
			Outpoint:      basket.Outpoint{Txid: txid, Index: spec.OutputIndex},
			Satoshis:      uint64(txOut.Value), //nolint:gosec // outputs are non-negative
			LockingScript: txOut.PkScript,
			Spendable:     true,
		}

		switch spec.Protocol {
		case ProtocolWalletPayment:
			out, err = b.paymentOutput(out, spec.PaymentRemittance)
			if err != nil {
				return nil, err
			}
			walletOutputs = append(walletOutputs, out)
		case ProtocolBasketInsertion:
			r := spec.InsertionRemittance
			if r == nil {
				return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "basket insertion requires insertionRemittance")
			}
			if err := basket.ValidateBasketName(r.Basket); err != nil {
				return nil, err
			}
			out.Basket = r.Basket
			out.Tags = r.Tags
			out.CustomInstructions = r.CustomInstructions
			appOutputs = append(appOutputs, out)
		default:
			return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "unknown internalization protocol %q", spec.Protocol)
		}
	}

	// Outputs the wallet already tracks keep their basket and spent state.
	if appOutputs, walletOutputs, err = b.untracked(appOutputs, walletOutputs); err != nil {
		return nil, err
	}

	if err := b.baskets.AddOutputs(appOutputs); err != nil {
		return nil, walleterr.Wrap(err, "registering outputs")
	}
	if err := b.baskets.AddOutputsInternal(walletOutputs); err != nil {
		b.rollback(appOutputs, nil)
		return nil, walleterr.Wrap(err, "registering payments")
	}
	added := append(appOutputs, walletOutputs...) //nolint:gocritic // fresh slices

	if _, err := b.actions.GetAction(txid); err == nil {
		b.logger.Debug("txbuilder: %s already known, added %d output(s)", txid, len(added))
		return &InternalizeResult{Accepted: true, Txid: txid}, nil
	}

	raw, err := serialize(tx)
	if err != nil {
		b.rollback(added, nil)
		return nil, walleterr.Wrap(err, "serializing transaction")
	}
	action := b.incomingAction(tx, txid, raw, req.Description, labels, added)
	if beef.Txs[len(beef.Txs)-1].BumpIndex != nil {
		action.Status = StatusCompleted
	}
	if err := b.actions.SaveAction(action); err != nil {
		b.rollback(added, nil)
		return nil, walleterr.Wrap(err, "storing action")
	}

	b.logger.Debug("txbuilder: internalized %s (%d output(s))", txid, len(added))
	return &InternalizeResult{Accepted: true, Txid: txid}, nil
}

func (b *Builder) untracked(app, wallet []basket.Output) ([]basket.Output, []basket.Output, error) {
	ops := make([]basket.Outpoint, 0, len(app)+len(wallet))
	for _, o := range app {
		ops = append(ops, o.Outpoint)
	}
	for _, o := range wallet {
		ops = append(ops, o.Outpoint)
	}
	known, err := b.baskets.Locate(ops)
	if err != nil {
		return nil, nil, walleterr.Wrap(err, "checking tracked outputs")
	}
	if len(known) == 0 {
		return app, wallet, nil
	}
	tracked := make(map[basket.Outpoint]string, len(known))
	for _, o := range known {
		tracked[o.Outpoint] = o.Basket
	}
	keep := func(outs []basket.Output) []basket.Output {
		kept := outs[:0]
		for _, o := range outs {
			if name, ok := tracked[o.Outpoint]; ok {
				b.logger.Debug("txbuilder: %s already tracked in %q, skipping", o.Outpoint, name)
				continue
			}
			kept = append(kept, o)
		}
		return kept
	}
	return keep(app), keep(wallet), nil
}

func (b *Builder) paymentOutput(out basket.Output, r *PaymentRemittance) (basket.Output, error) {
	if r == nil || r.DerivationPrefix == "" || r.DerivationSuffix == "" || r.SenderIdentityKey == "" {
		return out, walleterr.Wrap(walleterr.ErrInvalidInput, "wallet payment requires a complete paymentRemittance")
	}
	if b.scripts == nil {
		return out, walleterr.Wrap(walleterr.ErrNotConfigured, "payment scripts are not configured")
	}
	expected, err := b.scripts.PaymentScript(r.SenderIdentityKey, r.DerivationPrefix, r.DerivationSuffix)
	if err != nil {
		return out, err
	}
	if !bytes.Equal(expected, out.LockingScript) {
		return out, walleterr.WithContext(
			walleterr.Wrap(walleterr.ErrInvalidTransaction, "payment output does not pay this wallet"),
			map[string]string{"outpoint": out.Outpoint.String()})
	}

	instructions, err := json.Marshal(PaymentInstructions{
		DerivationPrefix:  r.DerivationPrefix,
		DerivationSuffix:  r.DerivationSuffix,
		SenderIdentityKey: r.SenderIdentityKey,
		Type:              "payment",
	})
	if err != nil {
		return out, walleterr.Wrap(err, "encoding payment instructions")
	}
	out.Basket = basket.DefaultBasket
	out.CustomInstructions = string(instructions)
	out.Tags = []string{"payment"}
	return out, nil
}

func (b *Builder) incomingAction(tx *wire.MsgTx, txid string, raw []byte, desc string, labels []string, added []basket.Output) *Action {
	action := &Action{
		Txid:        txid,
		Description: desc,
		Labels:      labels,
		Status:      StatusUnproven,
		Version:     uint32(tx.Version), //nolint:gosec // wire version
		LockTime:    tx.LockTime,
		RawTx:       raw,
		CreatedAt:   b.now(),
	}
	for _, in := range tx.TxIn {
		action.Inputs = append(action.Inputs, ActionInput{
			SourceOutpoint:  basket.Outpoint{Txid: in.PreviousOutPoint.Hash.String(), Index: in.PreviousOutPoint.Index},
			UnlockingScript: in.SignatureScript,
			SequenceNumber:  in.Sequence,
		})
	}
	tracked := make(map[uint32]basket.Output, len(added))
	for _, o := range added {
		tracked[o.Outpoint.Index] = o
		action.Satoshis += int64(o.Satoshis) //nolint:gosec // satoshi amounts fit int64
	}
	for i, out := range tx.TxOut {
		ao := ActionOutput{
			OutputIndex:   uint32(i), //nolint:gosec // bounded by tx
			Satoshis:      uint64(out.Value),
			LockingScript: out.PkScript,
		}
		if o, ok := tracked[ao.OutputIndex]; ok {
			ao.Spendable = true
			ao.Basket = o.Basket
			ao.Tags = o.Tags
			ao.CustomInstructions = o.CustomInstructions
		}
		action.Outputs = append(action.Outputs, ao)
	}
	return action
}
