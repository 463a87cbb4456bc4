// Package backup seals the wallet root key and a snapshot of its storage
// into one password-encrypted file, and restores from it.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackupNotFound indicates the backup file was not found.
	ErrBackupNotFound = errors.New("backup file not found")

	// ErrBackupCorrupted indicates the backup checksum failed.
	ErrBackupCorrupted = errors.New("backup corrupted - checksum mismatch")

	// ErrDecryptionFailed indicates backup decryption failed.
	ErrDecryptionFailed = errors.New("backup decryption failed")

	// ErrInvalidFormat indicates the backup format is invalid.
	ErrInvalidFormat = errors.New("invalid backup format")
)

// Version is the current backup format version.
const Version = 1

// Backup is the on-disk backup document.
type Backup struct {
	Version  int      `json:"version"`
	Manifest Manifest `json:"manifest"`

	// EncryptedData is the age-sealed Contents.
	EncryptedData []byte `json:"encrypted_data"`

	// Checksum is the SHA256 hash of EncryptedData.
	Checksum string `json:"checksum"`
}

// Manifest describes a backup without decrypting it.
type Manifest struct {
	IdentityKey      string    `json:"identity_key"`
	Network          string    `json:"network"`
	CreatedAt        time.Time `json:"created_at"`
	StoreBytes       int       `json:"store_bytes"`
	EncryptionMethod string    `json:"encryption_method"`
}

// Contents is what a backup protects.
type Contents struct {
	// RootKey is the 32 byte wallet root key.
	RootKey []byte `json:"root_key"`

	// Store is a storage snapshot; empty for in-memory wallets.
	Store []byte `json:"store,omitempty"`
}

// NewManifest creates a manifest stamped with the current time.
func NewManifest(identityKey, network string, storeBytes int) Manifest {
	return Manifest{
		IdentityKey:      identityKey,
		Network:          network,
		CreatedAt:        time.Now().UTC(),
		StoreBytes:       storeBytes,
		EncryptionMethod: "age",
	}
}

// CalculateChecksum computes the SHA256 checksum of data.
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) error {
	actual := CalculateChecksum(data)
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrBackupCorrupted, expected, actual)
	}
	return nil
}

// New wraps sealed contents with their manifest and checksum.
func New(manifest Manifest, encryptedData []byte) *Backup {
	return &Backup{
		Version:       Version,
		Manifest:      manifest,
		EncryptedData: encryptedData,
		Checksum:      CalculateChecksum(encryptedData),
	}
}

// Validate checks the backup for consistency.
func (b *Backup) Validate() error {
	if b.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, b.Version)
	}
	if len(b.Manifest.IdentityKey) != 66 {
		return fmt.Errorf("%w: missing identity key", ErrInvalidFormat)
	}
	if len(b.EncryptedData) == 0 {
		return fmt.Errorf("%w: no encrypted data", ErrInvalidFormat)
	}
	return VerifyChecksum(b.EncryptedData, b.Checksum)
}
