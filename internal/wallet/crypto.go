package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/mrz1836/brcwallet/internal/keys"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Protocols under which linkage revelations are encrypted for the verifier.
//
//nolint:gochecknoglobals // protocol identifiers
var counterpartyLinkageProtocol = keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty, "counterparty linkage revelation")

func specificLinkageProtocol(p keys.Protocol) keys.Protocol {
	return keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty,
		fmt.Sprintf("specific linkage revelation %d %s", p.SecurityLevel, p.Name))
}

// proofTypeNone marks a specific linkage revelation that carries no proof.
const proofTypeNone byte = 0

func verifierKey(s string) (keys.Counterparty, error) {
	pub, err := keys.ParsePublicKeyHex(s)
	if err != nil {
		return keys.Counterparty{}, walleterr.WithContext(
			walleterr.Wrap(walleterr.ErrInvalidInput, "verifier must be a hex public key"),
			map[string]string{"verifier": s})
	}
	return keys.Other(pub), nil
}

func requiredCounterparty(s string) (keys.Counterparty, error) {
	if s == "" {
		return keys.Counterparty{}, walleterr.Wrap(walleterr.ErrInvalidCounterparty, "counterparty required")
	}
	return keys.ParseCounterparty(s, keys.Counterparty{})
}

// GetPublicKey returns the identity key, or a derived key for the given
// protocol, key ID and counterparty (default self).
func (w *Wallet) GetPublicKey(ctx context.Context, args *GetPublicKeyArgs, originator string) (*GetPublicKeyResult, error) {
	return run(ctx, w, OpGetPublicKey, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *GetPublicKeyArgs) (*GetPublicKeyResult, error) {
			if a.IdentityKey {
				return &GetPublicKeyResult{PublicKey: keys.PublicKeyHex(st.deriver.IdentityKey())}, nil
			}
			cp, err := keys.ParseCounterparty(a.Counterparty, keys.Self())
			if err != nil {
				return nil, err
			}
			pub, err := st.deriver.DerivePublicKey(a.ProtocolID, a.KeyID, cp, a.ForSelf)
			if err != nil {
				return nil, err
			}
			return &GetPublicKeyResult{PublicKey: keys.PublicKeyHex(pub)}, nil
		}))
}

// RevealCounterpartyKeyLinkage reveals the shared secret with a
// counterparty to a verifier, together with a proof that the secret belongs
// to this wallet's identity key. Both are encrypted for the verifier.
func (w *Wallet) RevealCounterpartyKeyLinkage(ctx context.Context, args *RevealCounterpartyKeyLinkageArgs, originator string) (*RevealCounterpartyKeyLinkageResult, error) {
	return run(ctx, w, OpRevealCounterpartyKeyLinkage, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *RevealCounterpartyKeyLinkageArgs) (*RevealCounterpartyKeyLinkageResult, error) {
			verifier, err := verifierKey(a.Verifier)
			if err != nil {
				return nil, err
			}
			cp, err := requiredCounterparty(a.Counterparty)
			if err != nil {
				return nil, err
			}
			secret, proof, err := st.deriver.ProveLinkage(cp)
			if err != nil {
				return nil, err
			}

			revelationTime := time.Now().UTC().Format(time.RFC3339)
			linkage, err := st.ops.Encrypt(secret, counterpartyLinkageProtocol, revelationTime, verifier)
			if err != nil {
				return nil, err
			}
			encProof, err := st.ops.Encrypt(proof.Bytes(), counterpartyLinkageProtocol, revelationTime, verifier)
			if err != nil {
				return nil, err
			}
			return &RevealCounterpartyKeyLinkageResult{
				Prover:                keys.PublicKeyHex(st.deriver.IdentityKey()),
				Verifier:              verifier.String(),
				Counterparty:          cp.String(),
				RevelationTime:        revelationTime,
				EncryptedLinkage:      linkage,
				EncryptedLinkageProof: encProof,
			}, nil
		}))
}

// RevealSpecificKeyLinkage reveals the derivation offset of one key to a
// verifier, encrypted under a protocol bound to the revealed one.
func (w *Wallet) RevealSpecificKeyLinkage(ctx context.Context, args *RevealSpecificKeyLinkageArgs, originator string) (*RevealSpecificKeyLinkageResult, error) {
	return run(ctx, w, OpRevealSpecificKeyLinkage, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *RevealSpecificKeyLinkageArgs) (*RevealSpecificKeyLinkageResult, error) {
			verifier, err := verifierKey(a.Verifier)
			if err != nil {
				return nil, err
			}
			cp, err := requiredCounterparty(a.Counterparty)
			if err != nil {
				return nil, err
			}
			secret, err := st.deriver.RevealSpecificSecret(cp, a.ProtocolID, a.KeyID)
			if err != nil {
				return nil, err
			}

			protocol := specificLinkageProtocol(a.ProtocolID)
			linkage, err := st.ops.Encrypt(secret, protocol, a.KeyID, verifier)
			if err != nil {
				return nil, err
			}
			encProof, err := st.ops.Encrypt([]byte{proofTypeNone}, protocol, a.KeyID, verifier)
			if err != nil {
				return nil, err
			}
			return &RevealSpecificKeyLinkageResult{
				Prover:                keys.PublicKeyHex(st.deriver.IdentityKey()),
				Verifier:              verifier.String(),
				Counterparty:          cp.String(),
				ProtocolID:            a.ProtocolID,
				KeyID:                 a.KeyID,
				EncryptedLinkage:      linkage,
				EncryptedLinkageProof: encProof,
				ProofType:             proofTypeNone,
			}, nil
		}))
}

// Encrypt encrypts plaintext with a derived symmetric key (default
// counterparty self).
func (w *Wallet) Encrypt(ctx context.Context, args *EncryptArgs, originator string) (*EncryptResult, error) {
	return run(ctx, w, OpEncrypt, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *EncryptArgs) (*EncryptResult, error) {
			cp, err := keys.ParseCounterparty(a.Counterparty, keys.Self())
			if err != nil {
				return nil, err
			}
			ct, err := st.ops.Encrypt(a.Plaintext, a.ProtocolID, a.KeyID, cp)
			if err != nil {
				return nil, err
			}
			return &EncryptResult{Ciphertext: ct}, nil
		}))
}

// Decrypt reverses Encrypt. Any failure is DECRYPT_FAILED.
func (w *Wallet) Decrypt(ctx context.Context, args *DecryptArgs, originator string) (*DecryptResult, error) {
	return run(ctx, w, OpDecrypt, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *DecryptArgs) (*DecryptResult, error) {
			cp, err := keys.ParseCounterparty(a.Counterparty, keys.Self())
			if err != nil {
				return nil, err
			}
			pt, err := st.ops.Decrypt(a.Ciphertext, a.ProtocolID, a.KeyID, cp)
			if err != nil {
				return nil, err
			}
			return &DecryptResult{Plaintext: pt}, nil
		}))
}

// CreateHMAC computes an HMAC-SHA256 tag with a derived key.
func (w *Wallet) CreateHMAC(ctx context.Context, args *CreateHMACArgs, originator string) (*CreateHMACResult, error) {
	return run(ctx, w, OpCreateHMAC, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *CreateHMACArgs) (*CreateHMACResult, error) {
			cp, err := keys.ParseCounterparty(a.Counterparty, keys.Self())
			if err != nil {
				return nil, err
			}
			tag, err := st.ops.CreateHMAC(a.Data, a.ProtocolID, a.KeyID, cp)
			if err != nil {
				return nil, err
			}
			return &CreateHMACResult{HMAC: tag}, nil
		}))
}

// VerifyHMAC checks a tag in constant time.
func (w *Wallet) VerifyHMAC(ctx context.Context, args *VerifyHMACArgs, originator string) (*ValidResult, error) {
	return run(ctx, w, OpVerifyHMAC, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *VerifyHMACArgs) (*ValidResult, error) {
			cp, err := keys.ParseCounterparty(a.Counterparty, keys.Self())
			if err != nil {
				return nil, err
			}
			if err := st.ops.VerifyHMAC(a.Data, a.HMAC, a.ProtocolID, a.KeyID, cp); err != nil {
				return nil, err
			}
			return &ValidResult{Valid: true}, nil
		}))
}

// CreateSignature signs data, or a 32 byte hash, with a derived key
// (default counterparty anyone).
func (w *Wallet) CreateSignature(ctx context.Context, args *CreateSignatureArgs, originator string) (*CreateSignatureResult, error) {
	return run(ctx, w, OpCreateSignature, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *CreateSignatureArgs) (*CreateSignatureResult, error) {
			cp, err := keys.ParseCounterparty(a.Counterparty, keys.Anyone())
			if err != nil {
				return nil, err
			}
			sig, err := st.ops.CreateSignature(a.Data, a.HashToDirectlySign, a.ProtocolID, a.KeyID, cp)
			if err != nil {
				return nil, err
			}
			return &CreateSignatureResult{Signature: sig}, nil
		}))
}

// VerifySignature checks a DER signature against the signer's derived key
// (default counterparty self).
func (w *Wallet) VerifySignature(ctx context.Context, args *VerifySignatureArgs, originator string) (*ValidResult, error) {
	return run(ctx, w, OpVerifySignature, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *VerifySignatureArgs) (*ValidResult, error) {
			cp, err := keys.ParseCounterparty(a.Counterparty, keys.Self())
			if err != nil {
				return nil, err
			}
			err = st.ops.VerifySignature(a.Data, a.HashToDirectlyVerify, a.Signature, a.ProtocolID, a.KeyID, cp, a.ForSelf)
			if err != nil {
				return nil, err
			}
			return &ValidResult{Valid: true}, nil
		}))
}
