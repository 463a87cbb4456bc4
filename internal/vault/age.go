package vault

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Seal encrypts plaintext to a scrypt passphrase recipient.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing encrypted data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}

	return buf.Bytes(), nil
}

// Open decrypts a Seal'd payload into locked memory. A wrong passphrase
// yields DECRYPT_FAILED.
func Open(ciphertext []byte, passphrase string) (*SecureBytes, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}

	plaintext, err := io.ReadAll(r)
	defer Zero(plaintext)
	if err != nil {
		return nil, walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}

	return SecureBytesFromSlice(plaintext), nil
}
