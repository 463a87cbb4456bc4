package backup

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mrz1836/brcwallet/internal/fileutil"
	"github.com/mrz1836/brcwallet/internal/vault"
)

const (
	// Extension is the file extension for backups.
	Extension = ".brcwallet"

	// FilePermissions is the permission mode for backup files.
	FilePermissions = 0o600
)

// Snapshotter streams a storage snapshot.
type Snapshotter interface {
	Backup(w io.Writer) error
}

// Service provides backup operations over one directory.
type Service struct {
	backupDir string
}

// NewService creates a new backup service.
func NewService(backupDir string) *Service {
	return &Service{backupDir: backupDir}
}

// Create seals root and, when store is non-nil, a snapshot of it, and
// writes the backup. The password should be zeroed by the caller after this
// call returns.
func (s *Service) Create(root *secp256k1.PrivateKey, network string, store Snapshotter, password []byte) (*Backup, string, error) {
	contents := Contents{RootKey: root.Serialize()}
	defer vault.Zero(contents.RootKey)

	if store != nil {
		var buf bytes.Buffer
		if err := store.Backup(&buf); err != nil {
			return nil, "", err
		}
		contents.Store = buf.Bytes()
	}

	data, err := json.Marshal(contents)
	if err != nil {
		return nil, "", fmt.Errorf("serializing backup data: %w", err)
	}
	defer vault.Zero(data)

	encrypted, err := vault.Seal(data, string(password))
	if err != nil {
		return nil, "", fmt.Errorf("encrypting backup: %w", err)
	}

	identity := hex.EncodeToString(root.PubKey().SerializeCompressed())
	b := New(NewManifest(identity, network, len(contents.Store)), encrypted)

	path, err := s.write(b)
	if err != nil {
		return nil, "", fmt.Errorf("writing backup: %w", err)
	}
	return b, path, nil
}

// Verify checks a backup file's integrity without decrypting.
func (s *Service) Verify(path string) (*Manifest, error) {
	b, err := s.read(path)
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b.Manifest, nil
}

// Open verifies and decrypts a backup. The contents hold the root key; the
// caller zeroes Contents.RootKey when done.
func (s *Service) Open(path string, password []byte) (*Manifest, *Contents, error) {
	b, err := s.read(path)
	if err != nil {
		return nil, nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}

	plain, err := vault.Open(b.EncryptedData, string(password))
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	defer plain.Destroy()

	var contents Contents
	if err := json.Unmarshal(plain.Bytes(), &contents); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	root := secp256k1.PrivKeyFromBytes(contents.RootKey)
	if hex.EncodeToString(root.PubKey().SerializeCompressed()) != b.Manifest.IdentityKey {
		vault.Zero(contents.RootKey)
		return nil, nil, fmt.Errorf("%w: root key does not match manifest", ErrBackupCorrupted)
	}
	return &b.Manifest, &contents, nil
}

// List returns backup file names in the backup directory, newest first.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == Extension {
			backups = append(backups, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// Path returns the path to a backup file name.
func (s *Service) Path(filename string) string {
	return filepath.Join(s.backupDir, filename)
}

func (s *Service) write(b *Backup) (string, error) {
	if err := fileutil.EnsureDir(s.backupDir); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s-%s%s",
		b.Manifest.IdentityKey[:16], b.Manifest.CreatedAt.Format("2006-01-02-150405.000"), Extension)
	path := filepath.Join(s.backupDir, filename)

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing backup: %w", err)
	}
	if err := fileutil.WriteAtomic(path, data, FilePermissions); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Service) read(path string) (*Backup, error) {
	// #nosec G304 -- path is from user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("reading backup file: %w", err)
	}

	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return &b, nil
}

// Age reports how long ago a backup was taken.
func (m *Manifest) Age() time.Duration {
	return time.Since(m.CreatedAt)
}
