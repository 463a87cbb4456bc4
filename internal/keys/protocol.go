// Package keys implements deterministic child-key derivation (BRC-42) from a
// root secp256k1 key, a counterparty public key, and a protocol-namespaced
// invoice number.
package keys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// SecurityLevel controls how strictly a protocol's keys are guarded.
type SecurityLevel int

// Security levels.
const (
	SecurityLevelSilent                  SecurityLevel = 0
	SecurityLevelEveryApp                SecurityLevel = 1
	SecurityLevelEveryAppAndCounterparty SecurityLevel = 2
)

const (
	minProtocolNameLength = 5
	maxProtocolNameLength = 400

	// linkageProtocolPrefix names may run past the usual limit because they
	// embed another protocol name.
	linkageProtocolPrefix    = "specific linkage revelation "
	maxLinkageProtocolLength = 430

	minKeyIDLength = 1
	maxKeyIDLength = 800
)

var protocolNameRegex = regexp.MustCompile(`^[a-z0-9 ]+$`)

// Protocol namespaces derived keys. It marshals to JSON as the two element
// array [securityLevel, "name"].
type Protocol struct {
	SecurityLevel SecurityLevel
	Name          string
}

// NewProtocol is a convenience constructor.
func NewProtocol(level SecurityLevel, name string) Protocol {
	return Protocol{SecurityLevel: level, Name: name}
}

// MarshalJSON encodes the protocol as [level, name].
func (p Protocol) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{int(p.SecurityLevel), p.Name})
}

// UnmarshalJSON decodes [level, name].
func (p *Protocol) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol must be a [level, name] array: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("protocol must have exactly 2 elements, got %d", len(raw))
	}
	var level int
	if err := json.Unmarshal(raw[0], &level); err != nil {
		return fmt.Errorf("protocol security level: %w", err)
	}
	var name string
	if err := json.Unmarshal(raw[1], &name); err != nil {
		return fmt.Errorf("protocol name: %w", err)
	}
	p.SecurityLevel = SecurityLevel(level)
	p.Name = name
	return nil
}

// InvoiceNumber validates the protocol and key ID and returns the derivation
// path "<level>-<name>-<keyID>".
func InvoiceNumber(p Protocol, keyID string) (string, error) {
	if p.SecurityLevel < SecurityLevelSilent || p.SecurityLevel > SecurityLevelEveryAppAndCounterparty {
		return "", walleterr.Wrap(walleterr.ErrInvalidProtocol, "protocol security level must be 0, 1, or 2")
	}
	if len(keyID) > maxKeyIDLength {
		return "", walleterr.Wrap(walleterr.ErrInvalidProtocol, "key IDs must be %d characters or less", maxKeyIDLength)
	}
	if len(keyID) < minKeyIDLength {
		return "", walleterr.Wrap(walleterr.ErrInvalidProtocol, "key IDs must be %d character or more", minKeyIDLength)
	}

	name := strings.ToLower(strings.TrimSpace(p.Name))
	if err := validateProtocolName(name); err != nil {
		return "", err
	}

	return fmt.Sprintf("%d-%s-%s", p.SecurityLevel, name, keyID), nil
}

func validateProtocolName(name string) error {
	limit := maxProtocolNameLength
	if strings.HasPrefix(name, linkageProtocolPrefix) {
		limit = maxLinkageProtocolLength
	}
	switch {
	case len(name) > limit:
		return walleterr.Wrap(walleterr.ErrInvalidProtocol, "protocol names must be %d characters or less", limit)
	case len(name) < minProtocolNameLength:
		return walleterr.Wrap(walleterr.ErrInvalidProtocol, "protocol names must be %d characters or more", minProtocolNameLength)
	case strings.Contains(name, "  "):
		return walleterr.Wrap(walleterr.ErrInvalidProtocol, "protocol names cannot contain multiple consecutive spaces")
	case !protocolNameRegex.MatchString(name):
		return walleterr.Wrap(walleterr.ErrInvalidProtocol, "protocol names can only contain letters, numbers and spaces")
	case strings.HasSuffix(name, " protocol"):
		return walleterr.Wrap(walleterr.ErrInvalidProtocol, `no need to end a protocol name with " protocol"`)
	}
	return nil
}

// CounterpartyType identifies the kind of counterparty.
type CounterpartyType int

// Counterparty kinds.
const (
	CounterpartyOther CounterpartyType = iota
	CounterpartySelf
	CounterpartyAnyone
)

// Literal counterparty names.
const (
	SelfLiteral   = "self"
	AnyoneLiteral = "anyone"
)

// Counterparty is the other side of a derivation: a specific public key,
// the wallet itself, or the publicly known "anyone" key.
type Counterparty struct {
	Type      CounterpartyType
	PublicKey *secp256k1.PublicKey
}

// Self returns the self counterparty.
func Self() Counterparty { return Counterparty{Type: CounterpartySelf} }

// Anyone returns the anyone counterparty.
func Anyone() Counterparty { return Counterparty{Type: CounterpartyAnyone} }

// Other returns a counterparty for a specific public key.
func Other(pub *secp256k1.PublicKey) Counterparty {
	return Counterparty{Type: CounterpartyOther, PublicKey: pub}
}

// ParseCounterparty parses "self", "anyone", or a hex public key. An empty
// string yields the supplied default.
func ParseCounterparty(s string, def Counterparty) (Counterparty, error) {
	switch strings.TrimSpace(s) {
	case "":
		return def, nil
	case SelfLiteral:
		return Self(), nil
	case AnyoneLiteral:
		return Anyone(), nil
	}
	pub, err := ParsePublicKeyHex(s)
	if err != nil {
		return Counterparty{}, walleterr.Wrap(walleterr.ErrInvalidCounterparty,
			"counterparty must be %q, %q, or a hex public key", SelfLiteral, AnyoneLiteral)
	}
	return Other(pub), nil
}

// String renders the counterparty the way ParseCounterparty accepts it.
func (c Counterparty) String() string {
	switch c.Type {
	case CounterpartySelf:
		return SelfLiteral
	case CounterpartyAnyone:
		return AnyoneLiteral
	default:
		if c.PublicKey == nil {
			return ""
		}
		return hex.EncodeToString(c.PublicKey.SerializeCompressed())
	}
}

// ParsePublicKeyHex parses a hex encoded compressed or uncompressed key.
func ParsePublicKeyHex(s string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decoding public key hex: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return pub, nil
}

// PublicKeyHex returns the compressed hex encoding of a public key.
func PublicKeyHex(pub *secp256k1.PublicKey) string {
	if pub == nil {
		return ""
	}
	return hex.EncodeToString(pub.SerializeCompressed())
}
