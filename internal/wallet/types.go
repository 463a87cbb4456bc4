package wallet

import (
	"github.com/mrz1836/brcwallet/internal/keys"
)

// Transactions.

// CreateActionInput is one caller-supplied input. LockingScript style
// scripts are hex.
type CreateActionInput struct {
	Outpoint              string  `json:"outpoint"`
	InputDescription      string  `json:"inputDescription"`
	UnlockingScript       string  `json:"unlockingScript,omitempty"`
	UnlockingScriptLength int     `json:"unlockingScriptLength,omitempty"`
	SequenceNumber        *uint32 `json:"sequenceNumber,omitempty"`
}

// CreateActionOutput is one new output.
type CreateActionOutput struct {
	LockingScript      string   `json:"lockingScript"`
	Satoshis           uint64   `json:"satoshis"`
	OutputDescription  string   `json:"outputDescription"`
	Basket             string   `json:"basket,omitempty"`
	CustomInstructions string   `json:"customInstructions,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// CreateActionOptions tune CreateAction.
type CreateActionOptions struct {
	SignAndProcess *bool  `json:"signAndProcess,omitempty"`
	NoSend         bool   `json:"noSend,omitempty"`
	FundingBasket  string `json:"fundingBasket,omitempty"`
}

// CreateActionArgs is the input of CreateAction.
type CreateActionArgs struct {
	Description string               `json:"description"`
	Inputs      []CreateActionInput  `json:"inputs,omitempty"`
	Outputs     []CreateActionOutput `json:"outputs,omitempty"`
	LockTime    uint32               `json:"lockTime,omitempty"`
	Version     uint32               `json:"version,omitempty"`
	Labels      []string             `json:"labels,omitempty"`
	Options     CreateActionOptions  `json:"options,omitempty"`
}

// SignableTransaction is a draft awaiting unlocking scripts. Tx is BEEF.
type SignableTransaction struct {
	Tx        Bytes  `json:"tx"`
	Reference string `json:"reference"`
}

// CreateActionResult carries either the finalized transaction or a
// signable draft.
type CreateActionResult struct {
	Txid                string               `json:"txid,omitempty"`
	Tx                  Bytes                `json:"tx,omitempty"`
	Status              string               `json:"status"`
	SignableTransaction *SignableTransaction `json:"signableTransaction,omitempty"`
}

// SignActionSpend unlocks one draft input.
type SignActionSpend struct {
	UnlockingScript string  `json:"unlockingScript"`
	SequenceNumber  *uint32 `json:"sequenceNumber,omitempty"`
}

// SignActionArgs is the input of SignAction.
type SignActionArgs struct {
	Reference string                     `json:"reference"`
	Spends    map[uint32]SignActionSpend `json:"spends"`
}

// SignActionResult is the finalized transaction.
type SignActionResult struct {
	Txid   string `json:"txid"`
	Tx     Bytes  `json:"tx"`
	Status string `json:"status"`
}

// AbortActionArgs is the input of AbortAction.
type AbortActionArgs struct {
	Reference string `json:"reference"`
}

// AbortActionResult reports a discarded draft.
type AbortActionResult struct {
	Aborted bool `json:"aborted"`
}

// ListActionsArgs is the input of ListActions.
type ListActionsArgs struct {
	Labels                      []string `json:"labels"`
	LabelQueryMode              string   `json:"labelQueryMode,omitempty"`
	IncludeLabels               bool     `json:"includeLabels,omitempty"`
	IncludeInputs               bool     `json:"includeInputs,omitempty"`
	IncludeOutputs              bool     `json:"includeOutputs,omitempty"`
	IncludeOutputLockingScripts bool     `json:"includeOutputLockingScripts,omitempty"`
	Limit                       int      `json:"limit,omitempty"`
	Offset                      int      `json:"offset,omitempty"`
}

// ActionInput is a listed action input.
type ActionInput struct {
	SourceOutpoint   string `json:"sourceOutpoint"`
	SourceSatoshis   uint64 `json:"sourceSatoshis"`
	UnlockingScript  string `json:"unlockingScript,omitempty"`
	InputDescription string `json:"inputDescription,omitempty"`
	SequenceNumber   uint32 `json:"sequenceNumber"`
}

// ActionOutput is a listed action output.
type ActionOutput struct {
	OutputIndex        uint32   `json:"outputIndex"`
	Satoshis           uint64   `json:"satoshis"`
	LockingScript      string   `json:"lockingScript,omitempty"`
	Spendable          bool     `json:"spendable"`
	OutputDescription  string   `json:"outputDescription,omitempty"`
	Basket             string   `json:"basket,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	CustomInstructions string   `json:"customInstructions,omitempty"`
}

// Action is a listed action.
type Action struct {
	Txid        string         `json:"txid"`
	Satoshis    int64          `json:"satoshis"`
	Status      string         `json:"status"`
	IsOutgoing  bool           `json:"isOutgoing"`
	Description string         `json:"description"`
	Labels      []string       `json:"labels,omitempty"`
	Version     uint32         `json:"version"`
	LockTime    uint32         `json:"lockTime"`
	Inputs      []ActionInput  `json:"inputs,omitempty"`
	Outputs     []ActionOutput `json:"outputs,omitempty"`
}

// ListActionsResult is a page of actions.
type ListActionsResult struct {
	TotalActions int      `json:"totalActions"`
	Actions      []Action `json:"actions"`
}

// PaymentRemittance identifies a wallet payment output.
type PaymentRemittance struct {
	DerivationPrefix  string `json:"derivationPrefix"`
	DerivationSuffix  string `json:"derivationSuffix"`
	SenderIdentityKey string `json:"senderIdentityKey"`
}

// InsertionRemittance places an output into a basket.
type InsertionRemittance struct {
	Basket             string   `json:"basket"`
	CustomInstructions string   `json:"customInstructions,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// InternalizeOutput names one output to take ownership of.
type InternalizeOutput struct {
	OutputIndex         uint32               `json:"outputIndex"`
	Protocol            string               `json:"protocol"`
	PaymentRemittance   *PaymentRemittance   `json:"paymentRemittance,omitempty"`
	InsertionRemittance *InsertionRemittance `json:"insertionRemittance,omitempty"`
}

// InternalizeActionArgs is the input of InternalizeAction. Tx is BEEF.
type InternalizeActionArgs struct {
	Tx          Bytes               `json:"tx"`
	Outputs     []InternalizeOutput `json:"outputs"`
	Description string              `json:"description"`
	Labels      []string            `json:"labels,omitempty"`
}

// InternalizeActionResult reports acceptance.
type InternalizeActionResult struct {
	Accepted bool   `json:"accepted"`
	Txid     string `json:"txid"`
}

// Output includes.
const (
	IncludeLockingScripts = "locking scripts"
)

// ListOutputsArgs is the input of ListOutputs.
type ListOutputsArgs struct {
	Basket                    string   `json:"basket"`
	Tags                      []string `json:"tags,omitempty"`
	TagQueryMode              string   `json:"tagQueryMode,omitempty"`
	Include                   string   `json:"include,omitempty"`
	IncludeCustomInstructions bool     `json:"includeCustomInstructions,omitempty"`
	IncludeTags               bool     `json:"includeTags,omitempty"`
	IncludeSpent              bool     `json:"includeSpent,omitempty"`
	Limit                     int      `json:"limit,omitempty"`
	Offset                    int      `json:"offset,omitempty"`
}

// Output is a listed output.
type Output struct {
	Outpoint           string   `json:"outpoint"`
	Satoshis           uint64   `json:"satoshis"`
	LockingScript      string   `json:"lockingScript,omitempty"`
	Spendable          bool     `json:"spendable"`
	CustomInstructions string   `json:"customInstructions,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// ListOutputsResult is a page of outputs.
type ListOutputsResult struct {
	TotalOutputs int      `json:"totalOutputs"`
	Outputs      []Output `json:"outputs"`
}

// RelinquishOutputArgs is the input of RelinquishOutput.
type RelinquishOutputArgs struct {
	Basket string `json:"basket"`
	Output string `json:"output"`
}

// RelinquishResult reports a removal.
type RelinquishResult struct {
	Relinquished bool `json:"relinquished"`
}

// Keys.

// KeyArgs selects a derived key. Counterparty is "self", "anyone" or a hex
// public key; empty selects the operation's default.
type KeyArgs struct {
	ProtocolID   keys.Protocol `json:"protocolID"`
	KeyID        string        `json:"keyID"`
	Counterparty string        `json:"counterparty,omitempty"`
}

// GetPublicKeyArgs is the input of GetPublicKey. IdentityKey ignores the
// derivation fields.
type GetPublicKeyArgs struct {
	IdentityKey bool `json:"identityKey,omitempty"`
	KeyArgs
	ForSelf bool `json:"forSelf,omitempty"`
}

// GetPublicKeyResult is a compressed hex public key.
type GetPublicKeyResult struct {
	PublicKey string `json:"publicKey"`
}

// RevealCounterpartyKeyLinkageArgs is the input of
// RevealCounterpartyKeyLinkage.
type RevealCounterpartyKeyLinkageArgs struct {
	Counterparty string `json:"counterparty"`
	Verifier     string `json:"verifier"`
}

// RevealCounterpartyKeyLinkageResult carries the shared secret and its
// proof, both encrypted for the verifier.
type RevealCounterpartyKeyLinkageResult struct {
	Prover                string `json:"prover"`
	Verifier              string `json:"verifier"`
	Counterparty          string `json:"counterparty"`
	RevelationTime        string `json:"revelationTime"`
	EncryptedLinkage      Bytes  `json:"encryptedLinkage"`
	EncryptedLinkageProof Bytes  `json:"encryptedLinkageProof"`
}

// RevealSpecificKeyLinkageArgs is the input of RevealSpecificKeyLinkage.
type RevealSpecificKeyLinkageArgs struct {
	Counterparty string        `json:"counterparty"`
	Verifier     string        `json:"verifier"`
	ProtocolID   keys.Protocol `json:"protocolID"`
	KeyID        string        `json:"keyID"`
}

// RevealSpecificKeyLinkageResult carries one key's offset encrypted for
// the verifier.
type RevealSpecificKeyLinkageResult struct {
	Prover                string        `json:"prover"`
	Verifier              string        `json:"verifier"`
	Counterparty          string        `json:"counterparty"`
	ProtocolID            keys.Protocol `json:"protocolID"`
	KeyID                 string        `json:"keyID"`
	EncryptedLinkage      Bytes         `json:"encryptedLinkage"`
	EncryptedLinkageProof Bytes         `json:"encryptedLinkageProof"`
	ProofType             byte          `json:"proofType"`
}

// Crypto.

// EncryptArgs is the input of Encrypt.
type EncryptArgs struct {
	Plaintext Bytes `json:"plaintext"`
	KeyArgs
}

// EncryptResult is nonce‖ciphertext‖tag.
type EncryptResult struct {
	Ciphertext Bytes `json:"ciphertext"`
}

// DecryptArgs is the input of Decrypt.
type DecryptArgs struct {
	Ciphertext Bytes `json:"ciphertext"`
	KeyArgs
}

// DecryptResult is the recovered plaintext.
type DecryptResult struct {
	Plaintext Bytes `json:"plaintext"`
}

// CreateHMACArgs is the input of CreateHMAC.
type CreateHMACArgs struct {
	Data Bytes `json:"data"`
	KeyArgs
}

// CreateHMACResult is an HMAC-SHA256 tag.
type CreateHMACResult struct {
	HMAC Bytes `json:"hmac"`
}

// VerifyHMACArgs is the input of VerifyHMAC.
type VerifyHMACArgs struct {
	Data Bytes `json:"data"`
	HMAC Bytes `json:"hmac"`
	KeyArgs
}

// ValidResult reports a successful verification. Failures are errors.
type ValidResult struct {
	Valid bool `json:"valid"`
}

// CreateSignatureArgs is the input of CreateSignature. Exactly one of Data
// and HashToDirectlySign is set.
type CreateSignatureArgs struct {
	Data               Bytes `json:"data,omitempty"`
	HashToDirectlySign Bytes `json:"hashToDirectlySign,omitempty"`
	KeyArgs
}

// CreateSignatureResult is a DER signature.
type CreateSignatureResult struct {
	Signature Bytes `json:"signature"`
}

// VerifySignatureArgs is the input of VerifySignature.
type VerifySignatureArgs struct {
	Data                 Bytes `json:"data,omitempty"`
	HashToDirectlyVerify Bytes `json:"hashToDirectlyVerify,omitempty"`
	Signature            Bytes `json:"signature"`
	KeyArgs
	ForSelf bool `json:"forSelf,omitempty"`
}

// Status.

// AuthenticatedResult reports the authentication state.
type AuthenticatedResult struct {
	Authenticated bool `json:"authenticated"`
}

// GetHeightResult is the chain tip height.
type GetHeightResult struct {
	Height uint32 `json:"height"`
}

// GetHeaderArgs is the input of GetHeaderForHeight.
type GetHeaderArgs struct {
	Height uint32 `json:"height"`
}

// GetHeaderResult is an 80 byte header in hex.
type GetHeaderResult struct {
	Header string `json:"header"`
}

// GetNetworkResult names the network.
type GetNetworkResult struct {
	Network string `json:"network"`
}

// GetVersionResult is the wallet version string.
type GetVersionResult struct {
	Version string `json:"version"`
}
