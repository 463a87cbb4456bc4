package session

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mrz1836/brcwallet/internal/fileutil"
	"github.com/mrz1836/brcwallet/internal/vault"
)

// nameRegex restricts session names to safe file names.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var errInvalidName = fmt.Errorf("invalid session name")

const (
	sessionFileExtension   = ".session"
	sessionFilePermissions = 0o600
	sessionDirPermissions  = 0o700
	sessionKeyLength       = 32

	// keyringCheckTimeout stops a hung keyring daemon from blocking startup.
	keyringCheckTimeout = 3 * time.Second
)

type sessionFile struct {
	Session       *Session `json:"session"`
	EncryptedRoot []byte   `json:"encrypted_root"`
}

// Cache keeps unlocked root keys between CLI invocations. The root key is
// sealed with a random session key that only the keyring holds.
type Cache struct {
	basePath  string
	keyring   Keyring
	available bool
	mu        sync.RWMutex
}

// NewCache creates a cache rooted at basePath. A nil keyring selects the OS
// keyring, which is checked once.
func NewCache(basePath string, kr Keyring) *Cache {
	if kr == nil {
		kr = NewOSKeyring()
	}
	c := &Cache{basePath: basePath, keyring: kr}
	c.available = c.checkKeyring()
	return c
}

// Available reports whether the keyring can be used.
func (c *Cache) Available() bool {
	return c.available
}

// Store caches root for ttl, clamped to [MinTTL, MaxTTL].
func (c *Cache) Store(name string, root []byte, ttl time.Duration) (*Session, error) {
	if !nameRegex.MatchString(name) {
		return nil, errInvalidName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.available {
		return nil, ErrKeyringUnavailable
	}
	ttl = min(max(ttl, MinTTL), MaxTTL)

	sessionKey, err := vault.RandomBytes(sessionKeyLength)
	if err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	defer vault.Zero(sessionKey)

	sealed, err := vault.Seal(root, hex.EncodeToString(sessionKey))
	if err != nil {
		return nil, fmt.Errorf("sealing root key: %w", err)
	}

	user := c.keyringUser(name)
	if err := c.keyring.Set(ServiceName, user, base64.StdEncoding.EncodeToString(sessionKey)); err != nil {
		return nil, fmt.Errorf("storing session key in keyring: %w", err)
	}

	now := time.Now()
	s := &Session{Name: name, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	data, err := json.MarshalIndent(sessionFile{Session: s, EncryptedRoot: sealed}, "", "  ")
	if err != nil {
		_ = c.keyring.Delete(ServiceName, user)
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	if err := os.MkdirAll(c.basePath, sessionDirPermissions); err != nil {
		_ = c.keyring.Delete(ServiceName, user)
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	if err := fileutil.WriteAtomic(c.sessionPath(name), data, sessionFilePermissions); err != nil {
		_ = c.keyring.Delete(ServiceName, user)
		return nil, fmt.Errorf("writing session file: %w", err)
	}
	return s, nil
}

// Load returns the cached root key. Expired, orphaned, and corrupted
// sessions are removed.
func (c *Cache) Load(name string) (*vault.SecureBytes, *Session, error) {
	if !nameRegex.MatchString(name) {
		return nil, nil, errInvalidName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.available {
		return nil, nil, ErrKeyringUnavailable
	}

	sf, err := c.readLocked(name)
	if err != nil {
		return nil, nil, err
	}
	if !sf.Session.IsValid() {
		_ = c.cleanupLocked(name)
		return nil, nil, ErrSessionExpired
	}

	encoded, err := c.keyring.Get(ServiceName, c.keyringUser(name))
	if err != nil {
		_ = c.cleanupLocked(name)
		return nil, nil, ErrSessionNotFound
	}
	sessionKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		_ = c.cleanupLocked(name)
		return nil, nil, ErrSessionCorrupted
	}
	defer vault.Zero(sessionKey)

	root, err := vault.Open(sf.EncryptedRoot, hex.EncodeToString(sessionKey))
	if err != nil {
		_ = c.cleanupLocked(name)
		return nil, nil, ErrSessionCorrupted
	}
	return root, sf.Session, nil
}

// Valid reports whether an unexpired session exists.
func (c *Cache) Valid(name string) bool {
	if !nameRegex.MatchString(name) {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return false
	}
	sf, err := c.readLocked(name)
	return err == nil && sf.Session.IsValid()
}

// End removes a session.
func (c *Cache) End(name string) error {
	if !nameRegex.MatchString(name) {
		return errInvalidName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(name)
}

func (c *Cache) readLocked(name string) (*sessionFile, error) {
	//nolint:gosec // G304: path built from a validated name
	data, err := os.ReadFile(c.sessionPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil || sf.Session == nil {
		return nil, ErrSessionCorrupted
	}
	return &sf, nil
}

func (c *Cache) checkKeyring() bool {
	ch := make(chan bool, 1)
	go func() { ch <- c.checkKeyringSync() }()
	select {
	case ok := <-ch:
		return ok
	case <-time.After(keyringCheckTimeout):
		return false
	}
}

func (c *Cache) checkKeyringSync() bool {
	const (
		checkService = "brcwallet-keyring-check"
		checkUser    = "check"
		checkValue   = "test"
	)
	if err := c.keyring.Set(checkService, checkUser, checkValue); err != nil {
		return false
	}
	val, err := c.keyring.Get(checkService, checkUser)
	if err != nil || val != checkValue {
		_ = c.keyring.Delete(checkService, checkUser)
		return false
	}
	return c.keyring.Delete(checkService, checkUser) == nil
}

func (c *Cache) cleanupLocked(name string) error {
	_ = c.keyring.Delete(ServiceName, c.keyringUser(name))
	if err := os.Remove(c.sessionPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func (c *Cache) keyringUser(name string) string {
	return "keystore:" + name
}

func (c *Cache) sessionPath(name string) string {
	path := filepath.Clean(filepath.Join(c.basePath, name+sessionFileExtension))
	if !strings.HasSuffix(path, string(filepath.Separator)+name+sessionFileExtension) {
		return ""
	}
	return path
}
