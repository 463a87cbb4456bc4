package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mrz1836/brcwallet/internal/fileutil"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const keystoreFilePermissions = 0o600

// ErrKeystoreExists is returned when Create would overwrite a keystore.
var ErrKeystoreExists = errors.New("keystore already exists")

// Keystore is an age-encrypted file holding the hex encoded root key.
type Keystore struct {
	Path string
}

// NewKeystore returns a keystore at path.
func NewKeystore(path string) *Keystore {
	return &Keystore{Path: path}
}

// Exists reports whether the keystore file is present.
func (k *Keystore) Exists() bool {
	_, err := os.Stat(k.Path)
	return err == nil
}

// Create writes a new keystore, refusing to overwrite an existing one.
func (k *Keystore) Create(root *secp256k1.PrivateKey, passphrase string) error {
	if k.Exists() {
		return ErrKeystoreExists
	}
	return k.Save(root, passphrase)
}

// Save encrypts root under passphrase and writes it atomically.
func (k *Keystore) Save(root *secp256k1.PrivateKey, passphrase string) error {
	if passphrase == "" {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "keystore passphrase is required")
	}

	raw := root.Serialize()
	defer Zero(raw)
	encoded := []byte(hex.EncodeToString(raw))
	defer Zero(encoded)

	sealed, err := Seal(encoded, passphrase)
	if err != nil {
		return walleterr.Wrap(err, "sealing keystore")
	}

	if err := fileutil.EnsureDir(filepath.Dir(k.Path)); err != nil {
		return walleterr.Wrap(err, "creating keystore directory")
	}
	if err := fileutil.WriteAtomic(k.Path, sealed, keystoreFilePermissions); err != nil {
		return walleterr.Wrap(err, "writing keystore")
	}
	return nil
}

// Load decrypts the root key.
func (k *Keystore) Load(passphrase string) (*secp256k1.PrivateKey, error) {
	sealed, err := os.ReadFile(k.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, walleterr.WithSuggestion(
				walleterr.Wrap(walleterr.ErrNotConfigured, "no keystore at %s", k.Path),
				"run 'brcwallet init' first")
		}
		return nil, walleterr.Wrap(err, "reading keystore")
	}

	secret, err := Open(sealed, passphrase)
	if err != nil {
		return nil, err
	}
	defer secret.Destroy()

	raw, err := hex.DecodeString(strings.TrimSpace(string(secret.Bytes())))
	defer Zero(raw)
	if err != nil || len(raw) != 32 {
		return nil, walleterr.Wrap(walleterr.ErrConfigInvalid, "keystore payload is malformed")
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("keystore holds a zero key: %w", walleterr.ErrConfigInvalid)
	}
	return priv, nil
}
