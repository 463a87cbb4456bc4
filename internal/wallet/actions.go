package wallet

import (
	"context"
	"encoding/hex"
	"strconv"

	"github.com/mrz1836/brcwallet/internal/basket"
	"github.com/mrz1836/brcwallet/internal/txbuilder"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

func decodeScript(field, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, walleterr.WithContext(walleterr.Wrap(walleterr.ErrInvalidInput, "%s must be hex", field),
			map[string]string{"field": field})
	}
	return b, nil
}

func encodeScript(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

func (a *CreateActionArgs) request() (*txbuilder.CreateRequest, error) {
	req := &txbuilder.CreateRequest{
		Description: a.Description,
		Labels:      a.Labels,
		LockTime:    a.LockTime,
		Version:     a.Version,
		Options: txbuilder.Options{
			SignAndProcess: a.Options.SignAndProcess,
			NoSend:         a.Options.NoSend,
			FundingBasket:  a.Options.FundingBasket,
		},
		Inputs:  make([]txbuilder.InputSpec, 0, len(a.Inputs)),
		Outputs: make([]txbuilder.OutputSpec, 0, len(a.Outputs)),
	}
	for i, in := range a.Inputs {
		op, err := basket.ParseOutpoint(in.Outpoint)
		if err != nil {
			return nil, walleterr.WithContext(err, map[string]string{"input": strconv.Itoa(i)})
		}
		script, err := decodeScript("unlockingScript", in.UnlockingScript)
		if err != nil {
			return nil, walleterr.WithContext(err, map[string]string{"input": strconv.Itoa(i)})
		}
		req.Inputs = append(req.Inputs, txbuilder.InputSpec{
			Outpoint:              op,
			UnlockingScript:       script,
			UnlockingScriptLength: in.UnlockingScriptLength,
			Description:           in.InputDescription,
			SequenceNumber:        in.SequenceNumber,
		})
	}
	for i, out := range a.Outputs {
		script, err := decodeScript("lockingScript", out.LockingScript)
		if err != nil {
			return nil, walleterr.WithContext(err, map[string]string{"output": strconv.Itoa(i)})
		}
		req.Outputs = append(req.Outputs, txbuilder.OutputSpec{
			LockingScript:      script,
			Satoshis:           out.Satoshis,
			Description:        out.OutputDescription,
			Basket:             out.Basket,
			Tags:               out.Tags,
			CustomInstructions: out.CustomInstructions,
		})
	}
	return req, nil
}

// CreateAction builds a transaction. When every input is unlocked and
// signAndProcess is not false the action is finalized at once; otherwise a
// signable transaction and its reference are returned.
func (w *Wallet) CreateAction(ctx context.Context, args *CreateActionArgs, originator string) (*CreateActionResult, error) {
	return run(ctx, w, OpCreateAction, originator, args, locked(w,
		func(ctx context.Context, st *keyState, a *CreateActionArgs) (*CreateActionResult, error) {
			req, err := a.request()
			if err != nil {
				return nil, err
			}
			res, err := st.builder.CreateTransaction(ctx, req)
			if err != nil {
				return nil, err
			}
			out := &CreateActionResult{Txid: res.Txid, Tx: res.Tx, Status: string(res.Status)}
			if res.SignableTransaction != nil {
				out.SignableTransaction = &SignableTransaction{
					Tx:        res.SignableTransaction.Tx,
					Reference: res.SignableTransaction.Reference,
				}
			}
			return out, nil
		}))
}

// SignAction supplies unlocking scripts for a signable transaction and
// finalizes it. The reference is consumed on success; when signing fails
// the draft is kept and the reference stays valid for another attempt.
func (w *Wallet) SignAction(ctx context.Context, args *SignActionArgs, originator string) (*SignActionResult, error) {
	return run(ctx, w, OpSignAction, originator, args, locked(w,
		func(ctx context.Context, st *keyState, a *SignActionArgs) (*SignActionResult, error) {
			spends := make(map[uint32]txbuilder.Spend, len(a.Spends))
			for idx, spend := range a.Spends {
				script, err := decodeScript("unlockingScript", spend.UnlockingScript)
				if err != nil {
					return nil, walleterr.WithContext(err, map[string]string{"input": strconv.FormatUint(uint64(idx), 10)})
				}
				spends[idx] = txbuilder.Spend{UnlockingScript: script, SequenceNumber: spend.SequenceNumber}
			}
			res, err := st.builder.SignTransaction(ctx, a.Reference, spends)
			if err != nil {
				return nil, err
			}
			return &SignActionResult{Txid: res.Txid, Tx: res.Tx, Status: string(res.Status)}, nil
		}))
}

// AbortAction discards a signable transaction and releases its funding.
func (w *Wallet) AbortAction(ctx context.Context, args *AbortActionArgs, originator string) (*AbortActionResult, error) {
	return run(ctx, w, OpAbortAction, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *AbortActionArgs) (*AbortActionResult, error) {
			if err := st.builder.AbortTransaction(a.Reference); err != nil {
				return nil, err
			}
			return &AbortActionResult{Aborted: true}, nil
		}))
}

// ListActions pages through finalized actions filtered by labels.
func (w *Wallet) ListActions(ctx context.Context, args *ListActionsArgs, originator string) (*ListActionsResult, error) {
	return run(ctx, w, OpListActions, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *ListActionsArgs) (*ListActionsResult, error) {
			mode, err := basket.ParseQueryMode(a.LabelQueryMode)
			if err != nil {
				return nil, err
			}
			list, err := st.builder.ListTransactions(txbuilder.ActionQuery{
				Labels:         a.Labels,
				LabelQueryMode: mode,
				IncludeLabels:  a.IncludeLabels,
				IncludeInputs:  a.IncludeInputs,
				IncludeOutputs: a.IncludeOutputs,
				Offset:         a.Offset,
				Limit:          a.Limit,
			})
			if err != nil {
				return nil, err
			}
			out := &ListActionsResult{TotalActions: list.TotalActions, Actions: make([]Action, 0, len(list.Actions))}
			for i := range list.Actions {
				out.Actions = append(out.Actions, toAction(&list.Actions[i], a.IncludeOutputLockingScripts))
			}
			return out, nil
		}))
}

func toAction(a *txbuilder.Action, lockingScripts bool) Action {
	out := Action{
		Txid:        a.Txid,
		Satoshis:    a.Satoshis,
		Status:      string(a.Status),
		IsOutgoing:  a.IsOutgoing,
		Description: a.Description,
		Labels:      a.Labels,
		Version:     a.Version,
		LockTime:    a.LockTime,
	}
	for _, in := range a.Inputs {
		out.Inputs = append(out.Inputs, ActionInput{
			SourceOutpoint:   in.SourceOutpoint.String(),
			SourceSatoshis:   in.SourceSatoshis,
			UnlockingScript:  encodeScript(in.UnlockingScript),
			InputDescription: in.Description,
			SequenceNumber:   in.SequenceNumber,
		})
	}
	for _, o := range a.Outputs {
		ao := ActionOutput{
			OutputIndex:        o.OutputIndex,
			Satoshis:           o.Satoshis,
			Spendable:          o.Spendable,
			OutputDescription:  o.Description,
			Basket:             o.Basket,
			Tags:               o.Tags,
			CustomInstructions: o.CustomInstructions,
		}
		if lockingScripts {
			ao.LockingScript = encodeScript(o.LockingScript)
		}
		out.Outputs = append(out.Outputs, ao)
	}
	return out
}

// InternalizeAction accepts an incoming BEEF transaction and takes
// ownership of the named outputs, as wallet payments or basket insertions.
func (w *Wallet) InternalizeAction(ctx context.Context, args *InternalizeActionArgs, originator string) (*InternalizeActionResult, error) {
	return run(ctx, w, OpInternalizeAction, originator, args, locked(w,
		func(ctx context.Context, st *keyState, a *InternalizeActionArgs) (*InternalizeActionResult, error) {
			req := &txbuilder.InternalizeRequest{
				Tx:          a.Tx,
				Description: a.Description,
				Labels:      a.Labels,
				Outputs:     make([]txbuilder.InternalizeOutput, 0, len(a.Outputs)),
			}
			for _, o := range a.Outputs {
				spec := txbuilder.InternalizeOutput{OutputIndex: o.OutputIndex, Protocol: o.Protocol}
				if r := o.PaymentRemittance; r != nil {
					spec.PaymentRemittance = &txbuilder.PaymentRemittance{
						DerivationPrefix:  r.DerivationPrefix,
						DerivationSuffix:  r.DerivationSuffix,
						SenderIdentityKey: r.SenderIdentityKey,
					}
				}
				if r := o.InsertionRemittance; r != nil {
					spec.InsertionRemittance = &txbuilder.InsertionRemittance{
						Basket:             r.Basket,
						CustomInstructions: r.CustomInstructions,
						Tags:               r.Tags,
					}
				}
				req.Outputs = append(req.Outputs, spec)
			}
			res, err := st.builder.Internalize(ctx, req)
			if err != nil {
				return nil, err
			}
			return &InternalizeActionResult{Accepted: res.Accepted, Txid: res.Txid}, nil
		}))
}

// ListOutputs pages through the outputs of one basket.
func (w *Wallet) ListOutputs(ctx context.Context, args *ListOutputsArgs, originator string) (*ListOutputsResult, error) {
	return run(ctx, w, OpListOutputs, originator, args, locked(w,
		func(_ context.Context, _ *keyState, a *ListOutputsArgs) (*ListOutputsResult, error) {
			if a.Include != "" && a.Include != IncludeLockingScripts {
				return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "include must be empty or %q", IncludeLockingScripts)
			}
			mode, err := basket.ParseQueryMode(a.TagQueryMode)
			if err != nil {
				return nil, err
			}
			list, err := w.baskets.ListOutputs(basket.Query{
				Basket:       a.Basket,
				Tags:         a.Tags,
				TagQueryMode: mode,
				IncludeSpent: a.IncludeSpent,
				Offset:       a.Offset,
				Limit:        a.Limit,
			})
			if err != nil {
				return nil, err
			}
			out := &ListOutputsResult{TotalOutputs: list.TotalOutputs, Outputs: make([]Output, 0, len(list.Outputs))}
			for _, o := range list.Outputs {
				lo := Output{Outpoint: o.Outpoint.String(), Satoshis: o.Satoshis, Spendable: o.Spendable}
				if a.Include == IncludeLockingScripts {
					lo.LockingScript = encodeScript(o.LockingScript)
				}
				if a.IncludeCustomInstructions {
					lo.CustomInstructions = o.CustomInstructions
				}
				if a.IncludeTags {
					lo.Tags = o.Tags
				}
				out.Outputs = append(out.Outputs, lo)
			}
			return out, nil
		}))
}

// RelinquishOutput stops tracking an output without spending it.
func (w *Wallet) RelinquishOutput(ctx context.Context, args *RelinquishOutputArgs, originator string) (*RelinquishResult, error) {
	return run(ctx, w, OpRelinquishOutput, originator, args, locked(w,
		func(_ context.Context, _ *keyState, a *RelinquishOutputArgs) (*RelinquishResult, error) {
			op, err := basket.ParseOutpoint(a.Output)
			if err != nil {
				return nil, err
			}
			if err := w.baskets.RemoveOutput(a.Basket, op); err != nil {
				return nil, err
			}
			return &RelinquishResult{Relinquished: true}, nil
		}))
}

// OutputSatoshis returns the total of the requested outputs, saturating on
// overflow.
func (a *CreateActionArgs) OutputSatoshis() uint64 {
	var total uint64
	for _, o := range a.Outputs {
		if total+o.Satoshis < total {
			return ^uint64(0)
		}
		total += o.Satoshis
	}
	return total
}
