package txbuilder

import (
	"bytes"
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/mrz1836/brcwallet/internal/basket"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const (
	minDescriptionLength = 5
	maxDescriptionLength = 2000
)

// Builder creates, signs, and finalizes wallet transactions.
type Builder struct {
	baskets     Baskets
	pending     PendingStore
	actions     ActionStore
	broadcaster Broadcaster
	fees        FeeModel
	scripts     Scripts
	logger      LogWriter
	now         func() time.Time
}

// Config holds dependencies for the builder. Pending and Actions default to
// one shared MemoryStore; Fees defaults to FlatFee(DefaultFeeRate). A nil
// Broadcaster leaves finalized actions unprocessed.
type Config struct {
	Baskets     Baskets
	Pending     PendingStore
	Actions     ActionStore
	Broadcaster Broadcaster
	Fees        FeeModel
	Scripts     Scripts
	Logger      LogWriter
}

// DefaultFeeRate is the fallback fee rate in satoshis per kilobyte.
const DefaultFeeRate = 1

// NewBuilder creates a Builder.
func NewBuilder(cfg *Config) *Builder {
	b := &Builder{
		baskets:     cfg.Baskets,
		pending:     cfg.Pending,
		actions:     cfg.Actions,
		broadcaster: cfg.Broadcaster,
		fees:        cfg.Fees,
		scripts:     cfg.Scripts,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if b.pending == nil || b.actions == nil {
		mem := NewMemoryStore()
		if b.pending == nil {
			b.pending = mem
		}
		if b.actions == nil {
			b.actions = mem
		}
	}
	if b.fees == nil {
		b.fees = FlatFee(DefaultFeeRate)
	}
	if b.logger == nil {
		b.logger = nopLogger{}
	}
	return b
}

// ValidateDescription checks an action description is 5 to 2000 bytes.
func ValidateDescription(desc string) error {
	if len(desc) < minDescriptionLength || len(desc) > maxDescriptionLength {
		return walleterr.WithContext(walleterr.ErrInvalidDescription, map[string]string{
			"length": itoa(len(desc)),
		})
	}
	return nil
}

// CreateTransaction builds a new action. When every input carries an
// unlocking script and SignAndProcess is not disabled the action is
// finalized; otherwise a signable draft is stored and its reference returned.
func (b *Builder) CreateTransaction(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if err := b.validateCreate(req); err != nil {
		return nil, err
	}

	labels, err := basket.NormalizeTags(req.Labels)
	if err != nil {
		return nil, walleterr.Wrap(err, "labels")
	}

	version := req.Version
	if version == 0 {
		version = DefaultVersion
	}
	tx := wire.NewMsgTx(int32(version)) //nolint:gosec // versions are small
	tx.LockTime = req.LockTime

	for _, in := range req.Inputs {
		hash, err := chainhash.NewHashFromStr(in.Outpoint.Txid)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "input outpoint %s", in.Outpoint)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.Outpoint.Index), in.UnlockingScript, nil)
		txIn.Sequence = DefaultSequence
		if in.SequenceNumber != nil {
			txIn.Sequence = *in.SequenceNumber
		}
		tx.AddTxIn(txIn)
	}
	for _, out := range req.Outputs {
		tx.AddTxOut(wire.NewTxOut(int64(out.Satoshis), out.LockingScript)) //nolint:gosec // bounded by validation
	}

	draft := &Draft{
		Reference:   uuid.NewString(),
		Description: req.Description,
		Labels:      labels,
		Inputs:      req.Inputs,
		Outputs:     req.Outputs,
		Options:     req.Options,
		CreatedAt:   b.now(),
	}

	fundingBasket := req.Options.FundingBasket
	if fundingBasket == "" && len(req.Inputs) == 0 {
		fundingBasket = basket.DefaultBasket
	}
	if fundingBasket != "" {
		if err := b.fund(ctx, tx, draft, fundingBasket); err != nil {
			return nil, err
		}
	}

	if draft.RawTx, err = serialize(tx); err != nil {
		b.release(draft)
		return nil, walleterr.Wrap(err, "serializing draft")
	}

	if !req.Options.signAndProcess() || !fullyUnlocked(tx) {
		beef, err := EncodeBEEF(tx)
		if err != nil {
			b.release(draft)
			return nil, walleterr.Wrap(err, "encoding draft")
		}
		if err := b.pending.PutDraft(draft); err != nil {
			b.release(draft)
			return nil, walleterr.Wrap(err, "storing draft")
		}
		b.logger.Debug("txbuilder: draft %s awaiting signatures (%d inputs)", draft.Reference, len(tx.TxIn))
		return &CreateResult{
			Status:              StatusUnsigned,
			SignableTransaction: &SignableTransaction{Tx: beef, Reference: draft.Reference},
		}, nil
	}

	action, err := b.finalize(ctx, tx, draft)
	if err != nil {
		b.release(draft)
		return nil, err
	}
	return b.result(tx, action)
}

// SignTransaction completes a draft with unlocking scripts keyed by input
// index and finalizes it. The reference is consumed on success; on failure
// the draft is put back.
func (b *Builder) SignTransaction(ctx context.Context, reference string, spends map[uint32]Spend) (*SignResult, error) {
	draft, err := b.pending.ClaimDraft(reference)
	if err != nil {
		return nil, err
	}

	restore := func(cause error) error {
		if putErr := b.pending.PutDraft(draft); putErr != nil {
			b.logger.Error("txbuilder: restoring draft %s: %v", reference, putErr)
		}
		return cause
	}

	tx, err := draft.tx()
	if err != nil {
		return nil, restore(walleterr.Wrap(err, "decoding draft"))
	}

	for idx, spend := range spends {
		if int(idx) >= len(tx.TxIn) {
			return nil, restore(walleterr.WithContext(
				walleterr.Wrap(walleterr.ErrInvalidInput, "spend index out of range"),
				map[string]string{"index": itoa(int(idx))}))
		}
		if len(spend.UnlockingScript) == 0 {
			return nil, restore(walleterr.Wrap(walleterr.ErrInvalidInput, "spend %d has an empty unlocking script", idx))
		}
		tx.TxIn[idx].SignatureScript = spend.UnlockingScript
		if spend.SequenceNumber != nil {
			tx.TxIn[idx].Sequence = *spend.SequenceNumber
		}
	}
	for i, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			return nil, restore(walleterr.WithContext(
				walleterr.Wrap(walleterr.ErrInvalidInput, "input is missing an unlocking script"),
				map[string]string{"index": itoa(i)}))
		}
	}

	action, err := b.finalize(ctx, tx, draft)
	if err != nil {
		return nil, restore(err)
	}

	res, err := b.result(tx, action)
	if err != nil {
		return nil, err
	}
	return &SignResult{Txid: res.Txid, Tx: res.Tx, Status: res.Status}, nil
}

// AbortTransaction discards a draft and releases any wallet outputs it
// reserved. Finalized actions cannot be aborted.
func (b *Builder) AbortTransaction(reference string) error {
	draft, err := b.pending.ClaimDraft(reference)
	if err != nil {
		return err
	}
	b.release(draft)
	b.logger.Debug("txbuilder: aborted draft %s", reference)
	return nil
}

// ListTransactions returns finalized actions filtered by label.
func (b *Builder) ListTransactions(q ActionQuery) (*ActionList, error) {
	mode, err := basket.ParseQueryMode(string(q.LabelQueryMode))
	if err != nil {
		return nil, err
	}
	labels, err := basket.NormalizeTags(q.Labels)
	if err != nil {
		return nil, walleterr.Wrap(err, "labels")
	}
	limit, err := basket.ValidatePage(q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}

	all, err := b.actions.ListActions()
	if err != nil {
		return nil, walleterr.Wrap(err, "listing actions")
	}

	filtered := make([]Action, 0, len(all))
	for _, a := range all {
		if basket.MatchSet(a.Labels, labels, mode) {
			filtered = append(filtered, a)
		}
	}

	list := &ActionList{TotalActions: len(filtered), Actions: []Action{}}
	if q.Offset >= len(filtered) {
		return list, nil
	}
	end := q.Offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	for _, a := range filtered[q.Offset:end] {
		if !q.IncludeLabels {
			a.Labels = nil
		}
		if !q.IncludeInputs {
			a.Inputs = nil
		}
		if !q.IncludeOutputs {
			a.Outputs = nil
		}
		list.Actions = append(list.Actions, a)
	}
	return list, nil
}

// GetAction returns a stored action by txid.
func (b *Builder) GetAction(txid string) (*Action, error) {
	return b.actions.GetAction(txid)
}

func (b *Builder) validateCreate(req *CreateRequest) error {
	if req == nil {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "request is required")
	}
	if err := ValidateDescription(req.Description); err != nil {
		return err
	}
	if len(req.Outputs) == 0 && len(req.Inputs) == 0 {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "an action needs at least one input or output")
	}
	for i, in := range req.Inputs {
		if _, err := basket.ParseOutpoint(in.Outpoint.String()); err != nil {
			return walleterr.WithContext(err, map[string]string{"input": itoa(i)})
		}
		if len(in.UnlockingScript) == 0 && in.UnlockingScriptLength <= 0 {
			return walleterr.WithContext(
				walleterr.Wrap(walleterr.ErrInvalidInput, "input needs an unlocking script or its length"),
				map[string]string{"input": itoa(i)})
		}
	}
	for i, out := range req.Outputs {
		if len(out.LockingScript) == 0 {
			return walleterr.WithContext(
				walleterr.Wrap(walleterr.ErrInvalidInput, "output locking script is required"),
				map[string]string{"output": itoa(i)})
		}
		if out.Satoshis > maxSatoshis {
			return walleterr.Wrap(walleterr.ErrInvalidInput, "output %d exceeds the maximum amount", i)
		}
		if out.Basket != "" {
			if err := basket.ValidateBasketName(out.Basket); err != nil {
				return err
			}
			if _, err := basket.NormalizeTags(out.Tags); err != nil {
				return err
			}
		}
	}
	if fb := req.Options.FundingBasket; fb != "" && fb != basket.DefaultBasket {
		if err := basket.ValidateBasketName(fb); err != nil {
			return err
		}
	}
	return nil
}

// finalize registers the action's outputs and spends with the baskets, then
// stores the action. Basket changes are undone if storing fails.
func (b *Builder) finalize(ctx context.Context, tx *wire.MsgTx, draft *Draft) (*Action, error) {
	raw, err := serialize(tx)
	if err != nil {
		return nil, walleterr.Wrap(err, "serializing transaction")
	}
	txid := tx.TxHash().String()

	var appOutputs, walletOutputs []basket.Output
	for i, spec := range draft.Outputs {
		if spec.Basket == "" {
			continue
		}
		appOutputs = append(appOutputs, basket.Output{
			Outpoint:           basket.Outpoint{Txid: txid, Index: uint32(i)}, //nolint:gosec // bounded by tx
			Satoshis:           spec.Satoshis,
			LockingScript:      spec.LockingScript,
			Tags:               spec.Tags,
			CustomInstructions: spec.CustomInstructions,
			Spendable:          true,
			Basket:             spec.Basket,
		})
	}
	if draft.Change != nil {
		change := *draft.Change
		change.Outpoint = basket.Outpoint{Txid: txid, Index: uint32(len(tx.TxOut) - 1)} //nolint:gosec // bounded by tx
		change.Spendable = true
		walletOutputs = append(walletOutputs, change)
	}

	spent := make([]basket.Outpoint, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		spent = append(spent, basket.Outpoint{
			Txid:  in.PreviousOutPoint.Hash.String(),
			Index: in.PreviousOutPoint.Index,
		})
	}

	if err := b.baskets.AddOutputs(appOutputs); err != nil {
		return nil, walleterr.Wrap(err, "registering outputs")
	}
	if err := b.baskets.AddOutputsInternal(walletOutputs); err != nil {
		b.rollback(appOutputs, nil)
		return nil, walleterr.Wrap(err, "registering change")
	}
	added := append(appOutputs, walletOutputs...) //nolint:gocritic // fresh slices
	flipped, err := b.baskets.MarkAsSpent(spent)
	if err != nil {
		b.rollback(added, nil)
		return nil, walleterr.Wrap(err, "marking inputs spent")
	}

	action := b.newAction(tx, txid, raw, draft, added)
	switch {
	case draft.Options.NoSend:
		action.Status = StatusNoSend
	case b.broadcaster == nil:
		action.Status = StatusUnprocessed
	default:
		action.Status = StatusSending
	}

	if err := b.actions.SaveAction(action); err != nil {
		b.rollback(added, flipped)
		return nil, walleterr.Wrap(err, "storing action")
	}
	b.logger.Debug("txbuilder: finalized %s (%d in, %d out)", txid, len(tx.TxIn), len(tx.TxOut))

	if action.Status == StatusSending {
		action.Status = b.broadcast(ctx, txid, raw)
	}
	return action, nil
}

func (b *Builder) broadcast(ctx context.Context, txid string, raw []byte) ActionStatus {
	status := StatusUnproven
	if _, err := b.broadcaster.Broadcast(ctx, raw); err != nil {
		b.logger.Error("txbuilder: broadcast of %s via %s failed: %v", txid, b.broadcaster.Name(), err)
		status = StatusFailed
	}
	if err := b.actions.UpdateActionStatus(txid, status); err != nil {
		b.logger.Error("txbuilder: updating status of %s: %v", txid, err)
	}
	return status
}

func (b *Builder) rollback(added, flipped []basket.Output) {
	if len(added) > 0 {
		if err := b.baskets.RemoveOutputs(added); err != nil {
			b.logger.Error("txbuilder: rollback of outputs failed: %v", err)
		}
	}
	if len(flipped) > 0 {
		ops := make([]basket.Outpoint, len(flipped))
		for i, o := range flipped {
			ops[i] = o.Outpoint
		}
		if _, err := b.baskets.MarkAsSpendable(ops); err != nil {
			b.logger.Error("txbuilder: rollback of spends failed: %v", err)
		}
	}
}

func (b *Builder) newAction(tx *wire.MsgTx, txid string, raw []byte, draft *Draft, added []basket.Output) *Action {
	action := &Action{
		Txid:        txid,
		Reference:   draft.Reference,
		Description: draft.Description,
		Labels:      draft.Labels,
		IsOutgoing:  true,
		Version:     uint32(tx.Version), //nolint:gosec // set from uint32
		LockTime:    tx.LockTime,
		RawTx:       raw,
		CreatedAt:   b.now(),
	}

	funded := make(map[basket.Outpoint]basket.Output, len(draft.Funding))
	for _, f := range draft.Funding {
		funded[f.Outpoint] = f
	}
	var net int64
	for i, in := range tx.TxIn {
		op := basket.Outpoint{Txid: in.PreviousOutPoint.Hash.String(), Index: in.PreviousOutPoint.Index}
		ai := ActionInput{
			SourceOutpoint:  op,
			UnlockingScript: in.SignatureScript,
			SequenceNumber:  in.Sequence,
		}
		if i < len(draft.Inputs) {
			ai.Description = draft.Inputs[i].Description
		}
		if f, ok := funded[op]; ok {
			ai.SourceSatoshis = f.Satoshis
			net -= int64(f.Satoshis) //nolint:gosec // satoshi amounts fit int64
		}
		action.Inputs = append(action.Inputs, ai)
	}

	tracked := make(map[uint32]basket.Output, len(added))
	for _, o := range added {
		tracked[o.Outpoint.Index] = o
	}
	for i, out := range tx.TxOut {
		ao := ActionOutput{
			OutputIndex:   uint32(i), //nolint:gosec // bounded by tx
			Satoshis:      uint64(out.Value),
			LockingScript: out.PkScript,
		}
		if i < len(draft.Outputs) {
			ao.Description = draft.Outputs[i].Description
		}
		if o, ok := tracked[ao.OutputIndex]; ok {
			ao.Spendable = true
			ao.Basket = o.Basket
			ao.Tags = o.Tags
			ao.CustomInstructions = o.CustomInstructions
			net += int64(o.Satoshis) //nolint:gosec // satoshi amounts fit int64
		}
		action.Outputs = append(action.Outputs, ao)
	}
	action.Satoshis = net
	return action
}

func (b *Builder) result(tx *wire.MsgTx, action *Action) (*CreateResult, error) {
	beef, err := EncodeBEEF(tx)
	if err != nil {
		return nil, walleterr.Wrap(err, "encoding transaction")
	}
	return &CreateResult{Txid: action.Txid, Tx: beef, Status: action.Status}, nil
}

// release returns reserved funding outputs to the spendable set.
func (b *Builder) release(draft *Draft) {
	if len(draft.Funding) == 0 {
		return
	}
	ops := make([]basket.Outpoint, len(draft.Funding))
	for i, f := range draft.Funding {
		ops[i] = f.Outpoint
	}
	if _, err := b.baskets.MarkAsSpendable(ops); err != nil {
		b.logger.Error("txbuilder: releasing funding for %s: %v", draft.Reference, err)
	}
}

func fullyUnlocked(tx *wire.MsgTx) bool {
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			return false
		}
	}
	return len(tx.TxIn) > 0
}

func serialize(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSizeStripped())
	if err := tx.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
