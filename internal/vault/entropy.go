package vault

import (
	"crypto/rand"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Reader is the randomness source for key generation.
//
//nolint:gochecknoglobals // swapped in tests
var Reader io.Reader = rand.Reader

// RandomBytes returns n random bytes from Reader.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateRootKey creates a fresh random root key.
func GenerateRootKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKeyFromRand(Reader)
}
