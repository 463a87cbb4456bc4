package certs

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mrz1836/brcwallet/internal/cryptoops"
	"github.com/mrz1836/brcwallet/internal/keys"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Protocols used for certificate keys and signatures.
//
//nolint:gochecknoglobals // protocol identifiers
var (
	FieldEncryptionProtocol = keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty, "certificate field encryption")
	SignatureProtocol       = keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty, "certificate signature")
)

// Crypter is the subset of cryptoops.Ops used for certificates.
type Crypter interface {
	Encrypt(plaintext []byte, p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error)
	Decrypt(ciphertext []byte, p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error)
	CreateSignature(data, hash []byte, p keys.Protocol, keyID string, cp keys.Counterparty) ([]byte, error)
}

//nolint:gochecknoglobals // swapped in tests
var randReader io.Reader = rand.Reader

const fieldKeySize = chacha20poly1305.KeySize

// IssueFields encrypts plaintext field values for a subject. Each field gets
// its own random key; the returned keyring holds those keys encrypted from
// the certifier (ops) to the subject.
func IssueFields(ops Crypter, subject *secp256k1.PublicKey, plain map[string]string) (fields, keyring map[string]string, err error) {
	fields = make(map[string]string, len(plain))
	keyring = make(map[string]string, len(plain))
	for name, value := range plain {
		if err := ValidateFieldName(name); err != nil {
			return nil, nil, err
		}
		fieldKey := make([]byte, fieldKeySize)
		if _, err := io.ReadFull(randReader, fieldKey); err != nil {
			return nil, nil, walleterr.Wrap(err, "generating field key")
		}
		sealed, err := sealField(fieldKey, []byte(value))
		if err != nil {
			return nil, nil, err
		}
		wrapped, err := ops.Encrypt(fieldKey, FieldEncryptionProtocol, name, keys.Other(subject))
		zero(fieldKey)
		if err != nil {
			return nil, nil, err
		}
		fields[name] = base64.StdEncoding.EncodeToString(sealed)
		keyring[name] = base64.StdEncoding.EncodeToString(wrapped)
	}
	return fields, keyring, nil
}

// signedContent is the part of a certificate covered by the signature.
// Encoded with CBOR core deterministic encoding so map order is fixed.
type signedContent struct {
	Type               string            `cbor:"1,keyasint"`
	SerialNumber       string            `cbor:"2,keyasint"`
	Subject            string            `cbor:"3,keyasint"`
	Certifier          string            `cbor:"4,keyasint"`
	RevocationOutpoint string            `cbor:"5,keyasint"`
	Fields             map[string]string `cbor:"6,keyasint"`
}

//nolint:gochecknoglobals // immutable after init
var preimageMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Preimage returns the bytes a certifier signs.
func Preimage(c *Certificate) ([]byte, error) {
	b, err := preimageMode.Marshal(signedContent{
		Type:               c.Type,
		SerialNumber:       c.SerialNumber,
		Subject:            c.Subject,
		Certifier:          c.Certifier,
		RevocationOutpoint: c.RevocationOutpoint,
		Fields:             c.Fields,
	})
	if err != nil {
		return nil, walleterr.Wrap(err, "encoding certificate preimage")
	}
	return b, nil
}

func signatureKeyID(c *Certificate) string {
	return c.Type + " " + c.SerialNumber
}

// Sign signs the certificate as the certifier behind ops and sets Signature.
func Sign(ops Crypter, c *Certificate) error {
	preimage, err := Preimage(c)
	if err != nil {
		return err
	}
	sig, err := ops.CreateSignature(preimage, nil, SignatureProtocol, signatureKeyID(c), keys.Anyone())
	if err != nil {
		return err
	}
	c.Signature = hex.EncodeToString(sig)
	return nil
}

// Verify checks the certifier's signature. Anyone can verify.
func Verify(c *Certificate) error {
	certifier, err := keys.ParsePublicKeyHex(c.Certifier)
	if err != nil {
		return invalid("certifier must be a hex public key")
	}
	sig, err := hex.DecodeString(c.Signature)
	if err != nil {
		return walleterr.WithCause(walleterr.ErrSignatureVerificationFailed, err)
	}
	preimage, err := Preimage(c)
	if err != nil {
		return err
	}
	anyone := cryptoops.New(keys.NewDeriver(nil))
	return anyone.VerifySignature(preimage, nil, sig, SignatureProtocol, signatureKeyID(c), keys.Other(certifier), false)
}

// DecryptRevealed decrypts the fields covered by a verifier keyring. ops is
// the verifier's; the keyring was made by the certificate subject.
func DecryptRevealed(ops Crypter, c *Certificate, keyring map[string]string) (map[string]string, error) {
	subject, err := keys.ParsePublicKeyHex(c.Subject)
	if err != nil {
		return nil, invalid("subject must be a hex public key")
	}
	out := make(map[string]string, len(keyring))
	for name, wrapped := range keyring {
		value, ok := c.Fields[name]
		if !ok {
			return nil, walleterr.WithContext(walleterr.Wrap(walleterr.ErrDecryptFailed, "keyring names an unknown field"),
				map[string]string{"field": name})
		}
		rawKey, err := base64.StdEncoding.DecodeString(wrapped)
		if err != nil {
			return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
		}
		fieldKey, err := ops.Decrypt(rawKey, FieldEncryptionProtocol, c.SerialNumber+" "+name, keys.Other(subject))
		if err != nil {
			return nil, walleterr.WithContext(err, map[string]string{"field": name})
		}
		plain, err := openField(fieldKey, value)
		zero(fieldKey)
		if err != nil {
			return nil, walleterr.WithContext(err, map[string]string{"field": name})
		}
		out[name] = string(plain)
	}
	return out, nil
}

func sealField(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, walleterr.Wrap(err, "creating field cipher")
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(randReader, out); err != nil {
		return nil, walleterr.Wrap(err, "generating nonce")
	}
	return aead.Seal(out, out, plaintext, nil), nil
}

func openField(key []byte, encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, walleterr.Wrap(walleterr.ErrDecryptFailed, "field ciphertext too short")
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}
	return plain, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
