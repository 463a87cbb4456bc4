// Package session tracks whether the wallet is unlocked. Gate answers the
// authentication questions of the wallet interface; Cache keeps an unlocked
// root key for a limited time so the CLI does not prompt on every start. The
// cache key lives in the OS keychain and the sealed root key in a session
// file.
package session

import (
	"errors"
	"time"
)

// Session lifetimes.
const (
	// DefaultTTL is the default session duration (15 minutes).
	DefaultTTL = 15 * time.Minute

	// MaxTTL is the maximum cached session duration (60 minutes).
	MaxTTL = 60 * time.Minute

	// MinTTL is the minimum cached session duration (1 minute).
	MinTTL = 1 * time.Minute

	// ServiceName is the keyring service name.
	ServiceName = "brcwallet-session"
)

// Cache errors.
var (
	// ErrSessionNotFound indicates no session exists for the keystore.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session has expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrKeyringUnavailable indicates the OS keyring is not available.
	ErrKeyringUnavailable = errors.New("keyring unavailable")

	// ErrSessionCorrupted indicates the session file is corrupted.
	ErrSessionCorrupted = errors.New("session corrupted")
)

// Session describes an unlocked period. A zero ExpiresAt never expires.
type Session struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the session is still open at t.
func (s *Session) ValidAt(t time.Time) bool {
	return s.ExpiresAt.IsZero() || t.Before(s.ExpiresAt)
}

// IsValid returns true if the session has not expired.
func (s *Session) IsValid() bool {
	return s.ValidAt(time.Now())
}

// TTL returns the remaining time until the session expires, or 0 once it has
// expired or when it never expires.
func (s *Session) TTL() time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	remaining := time.Until(s.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Keyring defines the interface for secure key storage.
type Keyring interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}
