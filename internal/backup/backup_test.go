package backup_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/backup"
)

var errSnapshot = errors.New("snapshot failed")

type fakeStore struct {
	data []byte
	err  error
}

func (f *fakeStore) Backup(w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write(f.data)
	return err
}

func testRoot(t *testing.T) (*secp256k1.PrivateKey, string) {
	t.Helper()
	root, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return root, hex.EncodeToString(root.PubKey().SerializeCompressed())
}

// --- manifest.go tests ---

func TestNewManifest(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	m := backup.NewManifest("02aa", "mainnet", 42)
	after := time.Now().UTC()

	assert.Equal(t, "02aa", m.IdentityKey)
	assert.Equal(t, "mainnet", m.Network)
	assert.Equal(t, 42, m.StoreBytes)
	assert.Equal(t, "age", m.EncryptionMethod)
	assert.True(t, !m.CreatedAt.Before(before) && !m.CreatedAt.After(after))
}

func TestVerifyChecksum(t *testing.T) {
	t.Parallel()

	data := []byte("verify me")
	require.NoError(t, backup.VerifyChecksum(data, backup.CalculateChecksum(data)))
	assert.Len(t, backup.CalculateChecksum(data), 64)

	err := backup.VerifyChecksum(data, backup.CalculateChecksum([]byte("other")))
	assert.ErrorIs(t, err, backup.ErrBackupCorrupted)
}

func TestBackup_Validate(t *testing.T) {
	t.Parallel()
	_, identity := testRoot(t)

	tests := []struct {
		name    string
		mutate  func(b *backup.Backup)
		wantErr error
		msg     string
	}{
		{name: "valid"},
		{name: "wrong version", mutate: func(b *backup.Backup) { b.Version = 999 }, wantErr: backup.ErrInvalidFormat, msg: "unsupported version"},
		{name: "missing identity", mutate: func(b *backup.Backup) { b.Manifest.IdentityKey = "" }, wantErr: backup.ErrInvalidFormat, msg: "missing identity key"},
		{name: "no data", mutate: func(b *backup.Backup) { b.EncryptedData = nil }, wantErr: backup.ErrInvalidFormat, msg: "no encrypted data"},
		{name: "bad checksum", mutate: func(b *backup.Backup) { b.Checksum = "00" }, wantErr: backup.ErrBackupCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := backup.New(backup.NewManifest(identity, "mainnet", 0), []byte("data"))
			if tt.mutate != nil {
				tt.mutate(b)
			}
			err := b.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

// --- backup.go tests ---

func TestService_CreateOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	svc := backup.NewService(dir)
	root, identity := testRoot(t)
	password := []byte("backup password")

	b, path, err := svc.Create(root, "testnet", &fakeStore{data: []byte("snapshot")}, password)
	require.NoError(t, err)
	assert.Equal(t, identity, b.Manifest.IdentityKey)
	assert.Equal(t, "testnet", b.Manifest.Network)
	assert.Equal(t, len("snapshot"), b.Manifest.StoreBytes)
	assert.Equal(t, filepath.Join(dir, filepath.Base(path)), path)
	assert.Equal(t, backup.Extension, filepath.Ext(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(backup.FilePermissions), info.Mode().Perm())

	// The root key must not appear in the clear.
	raw, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, root.Serialize()))

	m, contents, err := svc.Open(path, password)
	require.NoError(t, err)
	assert.Equal(t, identity, m.IdentityKey)
	assert.Equal(t, root.Serialize(), contents.RootKey)
	assert.Equal(t, []byte("snapshot"), contents.Store)

	_, _, err = svc.Open(path, []byte("wrong password"))
	assert.ErrorIs(t, err, backup.ErrDecryptionFailed)
}

func TestService_CreateWithoutStore(t *testing.T) {
	t.Parallel()
	svc := backup.NewService(t.TempDir())
	root, _ := testRoot(t)

	_, path, err := svc.Create(root, "mainnet", nil, []byte("pw"))
	require.NoError(t, err)

	_, contents, err := svc.Open(path, []byte("pw"))
	require.NoError(t, err)
	assert.Empty(t, contents.Store)
}

func TestService_CreateSnapshotError(t *testing.T) {
	t.Parallel()
	svc := backup.NewService(t.TempDir())
	root, _ := testRoot(t)

	_, _, err := svc.Create(root, "mainnet", &fakeStore{err: errSnapshot}, []byte("pw"))
	require.ErrorIs(t, err, errSnapshot)

	names, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestService_Verify(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	svc := backup.NewService(dir)
	root, identity := testRoot(t)

	_, path, err := svc.Create(root, "mainnet", nil, []byte("pw"))
	require.NoError(t, err)

	m, err := svc.Verify(path)
	require.NoError(t, err)
	assert.Equal(t, identity, m.IdentityKey)

	_, err = svc.Verify(filepath.Join(dir, "missing"+backup.Extension))
	require.ErrorIs(t, err, backup.ErrBackupNotFound)

	garbage := filepath.Join(dir, "garbage"+backup.Extension)
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0o600))
	_, err = svc.Verify(garbage)
	require.ErrorIs(t, err, backup.ErrInvalidFormat)
}

func TestService_OpenRejectsSwappedManifest(t *testing.T) {
	t.Parallel()
	svc := backup.NewService(t.TempDir())
	root, _ := testRoot(t)
	_, otherIdentity := testRoot(t)

	_, path, err := svc.Create(root, "mainnet", nil, []byte("pw"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)
	var b backup.Backup
	require.NoError(t, json.Unmarshal(raw, &b))
	b.Manifest.IdentityKey = otherIdentity
	raw, err = json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, _, err = svc.Open(path, []byte("pw"))
	require.ErrorIs(t, err, backup.ErrBackupCorrupted)
}

func TestService_List(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	svc := backup.NewService(filepath.Join(dir, "backups"))

	names, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	root, _ := testRoot(t)
	_, first, err := svc.Create(root, "mainnet", nil, []byte("pw"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, second, err := svc.Create(root, "mainnet", nil, []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(svc.Path("notes.txt"), []byte("x"), 0o600))

	names, err = svc.List()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(second), filepath.Base(first)}, names)
}
