// Package cryptoops provides protocol-namespaced encryption, HMAC, and
// signature operations keyed through BRC-42 derivation.
package cryptoops

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mrz1836/brcwallet/internal/keys"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// HashSize is the size of a hash accepted for direct signing.
const HashSize = sha256.Size

// KeyDeriver is the subset of keys.Deriver used here.
type KeyDeriver interface {
	DeriveSymmetricKey(p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error)
	DerivePrivateKey(p keys.Protocol, keyID string, cp keys.Counterparty) (*secp256k1.PrivateKey, error)
	DerivePublicKey(p keys.Protocol, keyID string, cp keys.Counterparty, forSelf bool) (*secp256k1.PublicKey, error)
}

// Ops performs the operations for one wallet. Derived keys are dropped as
// soon as each call returns.
type Ops struct {
	deriver KeyDeriver
	rand    io.Reader
}

// New creates an Ops over deriver.
func New(deriver KeyDeriver) *Ops {
	return &Ops{deriver: deriver, rand: rand.Reader}
}

// Encrypt seals plaintext with ChaCha20-Poly1305 under the symmetric key for
// (protocol, keyID, counterparty). The result is nonce‖ciphertext‖tag.
func (o *Ops) Encrypt(plaintext []byte, p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error) {
	key, err := o.deriver.DeriveSymmetricKey(p, keyID, cp)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, walleterr.Wrap(err, "creating cipher")
	}

	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(o.rand, out); err != nil {
		return nil, walleterr.Wrap(err, "generating nonce")
	}
	return aead.Seal(out, out, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Every failure is reported as DECRYPT_FAILED and
// no plaintext is returned.
func (o *Ops) Decrypt(ciphertext []byte, p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error) {
	key, err := o.deriver.DeriveSymmetricKey(p, keyID, cp)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}
	defer zero(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, walleterr.Wrap(walleterr.ErrDecryptFailed, "ciphertext too short")
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// CreateHMAC returns HMAC-SHA256(symmetricKey, data).
func (o *Ops) CreateHMAC(data []byte, p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error) {
	key, err := o.deriver.DeriveSymmetricKey(p, keyID, cp)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyHMAC recomputes the HMAC and compares in constant time. A mismatch
// is an error, not a false result.
func (o *Ops) VerifyHMAC(data, tag []byte, p keys.Protocol, keyID string, cp keys.Counterparty) error {
	expected, err := o.CreateHMAC(data, p, keyID, cp)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, tag) {
		return walleterr.ErrHMACVerifyFailed
	}
	return nil
}

// CreateSignature signs SHA-256(data), or hash when data is nil, with the
// derived private key. The signature is DER encoded.
func (o *Ops) CreateSignature(data, hash []byte, p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error) {
	digest, err := digestFor(data, hash)
	if err != nil {
		return nil, err
	}

	priv, err := o.deriver.DerivePrivateKey(p, keyID, cp)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	return ecdsa.Sign(priv, digest).Serialize(), nil
}

// VerifySignature checks a DER signature against the signer key derived for
// (protocol, keyID, counterparty). With forSelf the wallet's own child key is
// used, for checking signatures this wallet made for the counterparty.
func (o *Ops) VerifySignature(data, hash, signature []byte, p keys.Protocol, keyID string, cp keys.Counterparty, forSelf bool) error {
	digest, err := digestFor(data, hash)
	if err != nil {
		return err
	}

	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return walleterr.WithCause(walleterr.ErrSignatureVerificationFailed, err)
	}

	pub, err := o.deriver.DerivePublicKey(p, keyID, cp, forSelf)
	if err != nil {
		return err
	}
	if !sig.Verify(digest, pub) {
		return walleterr.ErrSignatureVerificationFailed
	}
	return nil
}

func digestFor(data, hash []byte) ([]byte, error) {
	switch {
	case hash != nil && data != nil:
		return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "provide either data or hashToDirectlySign, not both")
	case hash != nil:
		if len(hash) != HashSize {
			return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "hashToDirectlySign must be %d bytes", HashSize)
		}
		return hash, nil
	case data != nil:
		sum := sha256.Sum256(data)
		return sum[:], nil
	default:
		return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "data or hashToDirectlySign is required")
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
