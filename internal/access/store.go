package access

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mrz1836/brcwallet/internal/fileutil"
)

const (
	fileExtension    = ".token"
	counterExtension = ".counter"
	filePermissions  = 0o600
)

var idRegex = regexp.MustCompile(`^tok_[0-9a-f]{12}$`)

// FileStore keeps credentials as JSON files in one directory.
type FileStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStore creates a store rooted at basePath, typically
// ~/.brcwallet/tokens.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

// Issue generates a token bound to originator and policy and stores its
// credential. The token is returned once and cannot be recovered.
func (s *FileStore) Issue(label, originator string, policy Policy, ttl time.Duration) (string, *Credential, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}
	cred := &Credential{
		ID:         TokenID(token),
		Label:      label,
		Originator: originator,
		Policy:     policy,
		CreatedAt:  time.Now().UTC(),
	}
	if ttl > 0 {
		cred.ExpiresAt = cred.CreatedAt.Add(ttl)
	}
	if err := s.Create(cred, token); err != nil {
		return "", nil, err
	}
	return token, cred, nil
}

// Create signs cred with token and writes it.
func (s *FileStore) Create(cred *Credential, token string) error {
	if _, err := ParseToken(token); err != nil {
		return err
	}
	if cred.ID != TokenID(token) {
		return fmt.Errorf("%w: %q does not belong to token", ErrInvalidID, cred.ID)
	}
	mac, err := ComputePolicyHMAC(cred, token)
	if err != nil {
		return fmt.Errorf("computing policy HMAC: %w", err)
	}
	cred.PolicyHMAC = mac

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fileutil.EnsureDir(s.basePath); err != nil {
		return fmt.Errorf("creating tokens directory: %w", err)
	}
	path, err := s.path(cred.ID, fileExtension)
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(path, data, filePermissions); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Authenticate returns the credential for token after checking its
// integrity and expiry.
func (s *FileStore) Authenticate(token string) (*Credential, error) {
	if _, err := ParseToken(token); err != nil {
		return nil, err
	}
	id := TokenID(token)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, err := s.read(id)
	if err != nil {
		return nil, err
	}
	ok, err := VerifyPolicyHMAC(cred, token)
	if err != nil {
		return nil, fmt.Errorf("verifying policy integrity: %w", err)
	}
	if !ok {
		return nil, ErrPolicyTampered
	}
	if cred.IsExpired() {
		return nil, fmt.Errorf("%w: %q", ErrTokenExpired, id)
	}
	return cred, nil
}

func (s *FileStore) read(id string) (*Credential, error) {
	path, err := s.path(id, fileExtension)
	if err != nil {
		return nil, err
	}
	//nolint:gosec // G304: path built from a validated id
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrTokenNotFound, id)
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	return &cred, nil
}

// List returns every stored credential, oldest first. Unreadable files are
// skipped.
func (s *FileStore) List() ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tokens directory: %w", err)
	}
	var out []*Credential
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExtension) {
			continue
		}
		cred, err := s.read(strings.TrimSuffix(e.Name(), fileExtension))
		if err != nil {
			continue
		}
		out = append(out, cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Revoke removes a credential and its spending counter.
func (s *FileStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(id, fileExtension)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrTokenNotFound, id)
		}
		return fmt.Errorf("removing token file: %w", err)
	}
	if counter, err := s.path(id, counterExtension); err == nil {
		_ = os.Remove(counter)
	}
	return nil
}

// CounterPath returns the daily spending counter file of a credential.
func (s *FileStore) CounterPath(id string) (string, error) {
	return s.path(id, counterExtension)
}

func (s *FileStore) path(id, ext string) (string, error) {
	if !idRegex.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.basePath, id+ext), nil
}
