// Package access issues and checks the bearer tokens that HTTP clients
// present to the wallet server. A token is bound to an originator and a
// policy: which operations it may call, and how many satoshis the actions
// it creates may send, per action and per day.
package access

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Sentinel errors for token validation and policy enforcement.
var (
	ErrTokenTooShort     = errors.New("token too short")
	ErrTokenBadPrefix    = errors.New("invalid token prefix")
	ErrTokenBadLength    = errors.New("invalid token length")
	ErrTokenNotFound     = errors.New("token not recognized")
	ErrTokenExpired      = errors.New("token has expired")
	ErrPolicyTampered    = errors.New("policy integrity check failed: possible tampering")
	ErrInvalidID         = errors.New("invalid token id")
	ErrOperationDenied   = errors.New("operation not permitted for token")
	ErrOriginatorDenied  = errors.New("originator does not match token")
	ErrPerActionLimit    = errors.New("amount exceeds per-action limit")
	ErrDailyLimitExceed  = errors.New("amount would exceed daily limit")
	ErrDailyOverflow     = errors.New("daily limit overflow")
	ErrCounterTampered   = errors.New("daily counter integrity check failed: possible tampering")
	ErrMissingOriginator = errors.New("token requires an originator")
)

const tokenPrefix = "brcw_tok_" //nolint:gosec // G101: format prefix, not a credential

const tokenLength = 32

// idLength is the number of hex chars of SHA256(token) used as the ID.
const idLength = 12

// Credential is the stored half of a token. The token itself is never
// written; PolicyHMAC is keyed with it, so only the holder can produce a
// credential that verifies.
type Credential struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Originator string    `json:"originator"`
	Policy     Policy    `json:"policy"`
	PolicyHMAC string    `json:"policy_hmac"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the credential has expired. A zero ExpiresAt
// never expires.
func (c *Credential) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// TTL returns the time left before expiry, or 0 once expired or when the
// credential does not expire.
func (c *Credential) TTL() time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	return max(time.Until(c.ExpiresAt), 0)
}

// Allows reports whether the policy lets the token call op.
func (c *Credential) Allows(op string) bool {
	return len(c.Policy.Operations) == 0 || slices.Contains(c.Policy.Operations, op)
}

// Policy limits what a token may do.
type Policy struct {
	// Operations lists the wallet operations the token may call. Empty
	// means all of them.
	Operations []string `json:"operations,omitempty"`

	// MaxPerActionSat caps the output total of one createAction (0=unlimited).
	MaxPerActionSat uint64 `json:"max_per_action_sat"`

	// MaxDailySat caps the output total of createAction per UTC day
	// (0=unlimited).
	MaxDailySat uint64 `json:"max_daily_sat"`
}

// GenerateToken returns a new random token (brcw_tok_<base64>).
func GenerateToken() (string, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// TokenID derives the short deterministic ID of a token.
func TokenID(token string) string {
	h := sha256.Sum256([]byte(token))
	return "tok_" + hex.EncodeToString(h[:])[:idLength]
}

// ParseToken validates the format of a token and returns its random bytes.
func ParseToken(token string) ([]byte, error) {
	if len(token) <= len(tokenPrefix) {
		return nil, ErrTokenTooShort
	}
	if token[:len(tokenPrefix)] != tokenPrefix {
		return nil, fmt.Errorf("%w: expected %q", ErrTokenBadPrefix, tokenPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token[len(tokenPrefix):])
	if err != nil {
		return nil, fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(raw) != tokenLength {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrTokenBadLength, len(raw), tokenLength)
	}
	return raw, nil
}

type signedFields struct {
	ID         string `json:"id"`
	Originator string `json:"originator"`
	Policy     Policy `json:"policy"`
	ExpiresAt  int64  `json:"expires_at"`
}

// ComputePolicyHMAC computes the HMAC-SHA256 of the fields that grant
// access, keyed with the token.
func ComputePolicyHMAC(cred *Credential, token string) (string, error) {
	var expires int64
	if !cred.ExpiresAt.IsZero() {
		expires = cred.ExpiresAt.Unix()
	}
	payload, err := json.Marshal(signedFields{
		ID:         cred.ID,
		Originator: cred.Originator,
		Policy:     cred.Policy,
		ExpiresAt:  expires,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling policy: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyPolicyHMAC checks cred.PolicyHMAC against token.
func VerifyPolicyHMAC(cred *Credential, token string) (bool, error) {
	computed, err := ComputePolicyHMAC(cred, token)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(computed), []byte(cred.PolicyHMAC)), nil
}
