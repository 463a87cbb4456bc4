package txbuilder

import (
	"encoding/base64"
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mrz1836/brcwallet/internal/keys"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// PaymentProtocol is the BRC-29 payment key derivation protocol.
//
//nolint:gochecknoglobals // protocol constant
var PaymentProtocol = keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty, "3241645161d8")

// PaymentInstructions are stored as custom instructions on wallet-owned
// P2PKH outputs so they can be unlocked later.
type PaymentInstructions struct {
	DerivationPrefix  string `json:"derivationPrefix"`
	DerivationSuffix  string `json:"derivationSuffix"`
	SenderIdentityKey string `json:"senderIdentityKey,omitempty"`
	Type              string `json:"type"`
}

// P2PKHScripts implements Scripts with BRC-29 derived P2PKH keys.
type P2PKHScripts struct {
	deriver *keys.Deriver
}

// NewP2PKHScripts creates a Scripts backed by deriver.
func NewP2PKHScripts(deriver *keys.Deriver) *P2PKHScripts {
	return &P2PKHScripts{deriver: deriver}
}

// PaymentKeyID joins a derivation prefix and suffix.
func PaymentKeyID(prefix, suffix string) string {
	return prefix + " " + suffix
}

// ChangeScript implements Scripts.
func (s *P2PKHScripts) ChangeScript() ([]byte, string, error) {
	prefix, err := randomDerivationPart()
	if err != nil {
		return nil, "", err
	}
	suffix, err := randomDerivationPart()
	if err != nil {
		return nil, "", err
	}

	pub, err := s.deriver.DerivePublicKey(PaymentProtocol, PaymentKeyID(prefix, suffix), keys.Self(), true)
	if err != nil {
		return nil, "", err
	}
	script, err := P2PKHScript(pub)
	if err != nil {
		return nil, "", err
	}

	instructions, err := json.Marshal(PaymentInstructions{
		DerivationPrefix: prefix,
		DerivationSuffix: suffix,
		Type:             "change",
	})
	if err != nil {
		return nil, "", walleterr.Wrap(err, "encoding change instructions")
	}
	return script, string(instructions), nil
}

// PaymentScript implements Scripts.
func (s *P2PKHScripts) PaymentScript(senderIdentityKey, prefix, suffix string) ([]byte, error) {
	sender, err := keys.ParsePublicKeyHex(senderIdentityKey)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrInvalidCounterparty, "sender identity key: %v", err)
	}
	priv, err := s.deriver.DerivePrivateKey(PaymentProtocol, PaymentKeyID(prefix, suffix), keys.Other(sender))
	if err != nil {
		return nil, err
	}
	defer priv.Zero()
	return P2PKHScript(priv.PubKey())
}

// PayTo returns the script a sender uses to pay recipient under prefix and
// suffix.
func (s *P2PKHScripts) PayTo(recipient *secp256k1.PublicKey, prefix, suffix string) ([]byte, error) {
	pub, err := s.deriver.DerivePublicKey(PaymentProtocol, PaymentKeyID(prefix, suffix), keys.Other(recipient), false)
	if err != nil {
		return nil, err
	}
	return P2PKHScript(pub)
}

// P2PKHScript builds OP_DUP OP_HASH160 <hash160(pub)> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHScript(pub *secp256k1.PublicKey) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pub.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, walleterr.Wrap(err, "building P2PKH script")
	}
	return script, nil
}

func randomDerivationPart() (string, error) {
	b := make([]byte, 10)
	if _, err := randRead(b); err != nil {
		return "", walleterr.Wrap(err, "generating derivation prefix")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
