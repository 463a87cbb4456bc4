// Package txbuilder manages the transaction lifecycle: drafts are created,
// held as signable references, signed, finalized into the wallet's baskets,
// and handed to a broadcaster.
package txbuilder

import (
	"bytes"
	"context"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/mrz1836/brcwallet/internal/basket"
)

// ActionStatus is the lifecycle status of a stored action.
type ActionStatus string

// Action statuses.
const (
	StatusCompleted   ActionStatus = "completed"
	StatusUnprocessed ActionStatus = "unprocessed"
	StatusSending     ActionStatus = "sending"
	StatusUnproven    ActionStatus = "unproven"
	StatusUnsigned    ActionStatus = "unsigned"
	StatusNoSend      ActionStatus = "nosend"
	StatusFailed      ActionStatus = "failed"
)

// Transaction defaults.
const (
	DefaultVersion  uint32 = 1
	DefaultSequence uint32 = wire.MaxTxInSequenceNum

	// DustLimit is the smallest change output worth creating.
	DustLimit = 546
)

// InputSpec describes one input of a new action.
type InputSpec struct {
	Outpoint              basket.Outpoint
	UnlockingScript       []byte
	UnlockingScriptLength int
	Description           string
	SequenceNumber        *uint32
}

// OutputSpec describes one output of a new action. Outputs with a Basket are
// tracked by the wallet once the action is final.
type OutputSpec struct {
	LockingScript      []byte
	Satoshis           uint64
	Description        string
	Basket             string
	Tags               []string
	CustomInstructions string
}

// Options tune CreateTransaction.
type Options struct {
	// SignAndProcess finalizes immediately when every input is unlocked.
	// Nil means true.
	SignAndProcess *bool
	// NoSend keeps the finalized transaction off the network.
	NoSend bool
	// FundingBasket selects wallet outputs to pay for the outputs and fee.
	// When no inputs are given it defaults to the default basket.
	FundingBasket string
}

func (o Options) signAndProcess() bool {
	return o.SignAndProcess == nil || *o.SignAndProcess
}

// CreateRequest is the input of CreateTransaction.
type CreateRequest struct {
	Description string
	Labels      []string
	Inputs      []InputSpec
	Outputs     []OutputSpec
	LockTime    uint32
	Version     uint32
	Options     Options
}

// SignableTransaction is a draft awaiting unlocking scripts.
type SignableTransaction struct {
	Tx        []byte `json:"tx"`
	Reference string `json:"reference"`
}

// CreateResult is either a finalized transaction or a signable draft.
type CreateResult struct {
	Txid                string
	Tx                  []byte
	Status              ActionStatus
	SignableTransaction *SignableTransaction
}

// Spend supplies the unlocking script for one draft input.
type Spend struct {
	UnlockingScript []byte
	SequenceNumber  *uint32
}

// SignResult is the outcome of SignTransaction.
type SignResult struct {
	Txid   string
	Tx     []byte
	Status ActionStatus
}

// Draft is a pending transaction held under a single-use reference.
type Draft struct {
	Reference   string
	RawTx       []byte
	Description string
	Labels      []string
	Inputs      []InputSpec
	Outputs     []OutputSpec
	Options     Options
	// Funding lists wallet outputs reserved as inputs, in input order after
	// the caller's own inputs.
	Funding []basket.Output
	// Change is the wallet change output, if any.
	Change    *basket.Output
	CreatedAt time.Time
}

func (d *Draft) tx() (*wire.MsgTx, error) {
	tx := &wire.MsgTx{}
	if err := tx.DeserializeNoWitness(bytes.NewReader(d.RawTx)); err != nil {
		return nil, err
	}
	return tx, nil
}

// ActionInput records a spent outpoint.
type ActionInput struct {
	SourceOutpoint  basket.Outpoint `json:"sourceOutpoint"`
	SourceSatoshis  uint64          `json:"sourceSatoshis,omitempty"`
	UnlockingScript []byte          `json:"unlockingScript,omitempty"`
	Description     string          `json:"inputDescription,omitempty"`
	SequenceNumber  uint32          `json:"sequenceNumber"`
}

// ActionOutput records a produced output.
type ActionOutput struct {
	OutputIndex        uint32   `json:"outputIndex"`
	Satoshis           uint64   `json:"satoshis"`
	LockingScript      []byte   `json:"lockingScript,omitempty"`
	Spendable          bool     `json:"spendable"`
	Basket             string   `json:"basket,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Description        string   `json:"outputDescription,omitempty"`
	CustomInstructions string   `json:"customInstructions,omitempty"`
}

// Action is a finalized transaction known to the wallet.
type Action struct {
	Txid        string         `json:"txid"`
	Reference   string         `json:"reference,omitempty"`
	Description string         `json:"description"`
	Labels      []string       `json:"labels,omitempty"`
	Status      ActionStatus   `json:"status"`
	Satoshis    int64          `json:"satoshis"`
	IsOutgoing  bool           `json:"isOutgoing"`
	Version     uint32         `json:"version"`
	LockTime    uint32         `json:"lockTime"`
	Inputs      []ActionInput  `json:"inputs,omitempty"`
	Outputs     []ActionOutput `json:"outputs,omitempty"`
	RawTx       []byte         `json:"-" cbor:"rawTx"`
	CreatedAt   time.Time      `json:"-" cbor:"createdAt"`
}

// ActionQuery filters ListTransactions.
type ActionQuery struct {
	Labels         []string
	LabelQueryMode basket.QueryMode
	IncludeLabels  bool
	IncludeInputs  bool
	IncludeOutputs bool
	Offset         int
	Limit          int
}

// ActionList is a page of actions plus the size of the filtered set.
type ActionList struct {
	TotalActions int
	Actions      []Action
}

// Broadcaster submits finalized transactions to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
	Name() string
}

// FeeModel supplies the fee rate in satoshis per kilobyte.
type FeeModel interface {
	SatoshisPerKB(ctx context.Context) (uint64, error)
}

// FlatFee is a FeeModel with a fixed rate.
type FlatFee uint64

// SatoshisPerKB implements FeeModel.
func (f FlatFee) SatoshisPerKB(context.Context) (uint64, error) {
	return uint64(f), nil
}

// Scripts derives the wallet-owned locking scripts the builder needs.
type Scripts interface {
	// ChangeScript returns a fresh change locking script and the custom
	// instructions needed to spend it later.
	ChangeScript() (lockingScript []byte, customInstructions string, err error)
	// PaymentScript returns the script a sender must use to pay this wallet
	// under the given derivation prefix and suffix.
	PaymentScript(senderIdentityKey, prefix, suffix string) ([]byte, error)
}

// Baskets is the subset of basket.Manager used by the builder.
type Baskets interface {
	AddOutputs(outputs []basket.Output) error
	AddOutputsInternal(outputs []basket.Output) error
	RemoveOutputs(outputs []basket.Output) error
	Locate(outpoints []basket.Outpoint) ([]basket.Output, error)
	ReserveSpendable(basket string, amount uint64) ([]basket.Output, error)
	MarkAsSpent(outpoints []basket.Outpoint) ([]basket.Output, error)
	MarkAsSpendable(outpoints []basket.Outpoint) ([]basket.Output, error)
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
