package session

import (
	"sync"

	"github.com/zalando/go-keyring"
)

// OSKeyring implements Keyring using the OS keychain.
type OSKeyring struct{}

// NewOSKeyring creates a new OS keyring wrapper.
func NewOSKeyring() *OSKeyring {
	return &OSKeyring{}
}

// Set stores a secret in the OS keyring.
func (k *OSKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}

// Get retrieves a secret from the OS keyring.
func (k *OSKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

// Delete removes a secret from the OS keyring.
func (k *OSKeyring) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

// MemoryKeyring is an in-process Keyring for headless hosts and tests.
type MemoryKeyring struct {
	mu      sync.Mutex
	secrets map[string]string
}

// NewMemoryKeyring creates an empty MemoryKeyring.
func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{secrets: make(map[string]string)}
}

// Set implements Keyring.
func (k *MemoryKeyring) Set(service, user, password string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.secrets[service+"\x00"+user] = password
	return nil
}

// Get implements Keyring.
func (k *MemoryKeyring) Get(service, user string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.secrets[service+"\x00"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

// Delete implements Keyring.
func (k *MemoryKeyring) Delete(service, user string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := service + "\x00" + user
	if _, ok := k.secrets[key]; !ok {
		return keyring.ErrNotFound
	}
	delete(k.secrets, key)
	return nil
}
