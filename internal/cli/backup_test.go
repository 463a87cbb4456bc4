package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/config"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

func TestBackup_RoundTrip(t *testing.T) {
	badger := func(c *config.Config) { c.Storage.Backend = "badger" }
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"memory storage", nil},
		{"badger storage", badger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := setupHomeWith(t, tt.mutate)
			identity := initWallet(t, src)
			dir := filepath.Join(t.TempDir(), "backups")

			out, err := execute(t, src, "", "backup", "create", "--dir", dir)
			require.NoError(t, err)
			var created struct {
				Path     string `json:"path"`
				Manifest struct {
					IdentityKey string `json:"identity_key"`
					Network     string `json:"network"`
				} `json:"manifest"`
			}
			decodeJSON(t, out, &created)
			assert.Equal(t, identity, created.Manifest.IdentityKey)
			assert.Equal(t, "mainnet", created.Manifest.Network)

			_, err = execute(t, src, "", "backup", "verify", created.Path)
			require.NoError(t, err)

			out, err = execute(t, src, "", "backup", "list", "--dir", dir)
			require.NoError(t, err)
			assert.Contains(t, out, filepath.Base(created.Path))

			_, err = execute(t, src, "", "backup", "restore", created.Path)
			require.Error(t, err, "restore must not overwrite a keystore")

			dst := setupHomeWith(t, tt.mutate)
			_, err = execute(t, dst, "", "backup", "restore", created.Path)
			require.NoError(t, err)
			assert.FileExists(t, config.KeystorePath(dst))

			out, err = execute(t, dst, "", "pubkey")
			require.NoError(t, err)
			assert.Contains(t, out, identity)
		})
	}
}

func TestBackup_WrongPassword(t *testing.T) {
	src := setupHome(t)
	initWallet(t, src)
	dir := t.TempDir()

	out, err := execute(t, src, "", "backup", "create", "--dir", dir)
	require.NoError(t, err)
	var created struct {
		Path string `json:"path"`
	}
	decodeJSON(t, out, &created)

	dst := setupHome(t)
	withMockPrompts(t, []byte("some other password"), "")
	_, err = execute(t, dst, "", "backup", "restore", created.Path)
	require.Error(t, err)
	assert.Equal(t, walleterr.ErrDecryptFailed.Code, walleterr.Code(err))
}

func TestBackup_VerifyMissing(t *testing.T) {
	home := setupHome(t)
	_, err := execute(t, home, "", "backup", "verify", filepath.Join(home, "nope.brcwallet"))
	require.Error(t, err)
	assert.Equal(t, walleterr.ErrInvalidInput.Code, walleterr.Code(err))
}
