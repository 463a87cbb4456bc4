// Package certs stores identity certificates, proves selected fields to
// verifiers, and reaches certifiers and discovery services over HTTP.
package certs

import (
	"strings"
	"time"
)

// AcquisitionProtocol selects how a certificate is obtained.
type AcquisitionProtocol string

// Acquisition protocols.
const (
	AcquireDirect   AcquisitionProtocol = "direct"
	AcquireIssuance AcquisitionProtocol = "issuance"
)

// RevealerCertifier names the certifier as the keyring revealer.
const RevealerCertifier = "certifier"

// Paging defaults for List and discovery.
const (
	DefaultLimit = 10
	MaxLimit     = 10000
)

// Certificate is an identity certificate with encrypted field values.
// Fields and Keyring values are base64; Subject and Certifier are compressed
// public keys in hex.
type Certificate struct {
	Type               string            `json:"type"`
	Subject            string            `json:"subject"`
	SerialNumber       string            `json:"serialNumber"`
	Certifier          string            `json:"certifier"`
	RevocationOutpoint string            `json:"revocationOutpoint"`
	Signature          string            `json:"signature"`
	Fields             map[string]string `json:"fields"`
	// Keyring holds the field keys encrypted for the subject. It is never
	// handed out by List; Prove re-encrypts entries for a verifier.
	Keyring map[string]string `json:"keyring,omitempty"`
	// KeyringRevealer is the key that encrypted Keyring. Empty means the
	// certifier.
	KeyringRevealer string    `json:"keyringRevealer,omitempty"`
	AcquiredAt      time.Time `json:"-" cbor:"acquiredAt"`
}

// Key identifies a certificate.
type Key struct {
	Type         string `json:"type"`
	SerialNumber string `json:"serialNumber"`
	Certifier    string `json:"certifier"`
}

func (k Key) String() string {
	return k.Type + "/" + k.SerialNumber + "/" + k.Certifier
}

// Key returns the certificate's identifying key.
func (c *Certificate) Key() Key {
	return Key{Type: c.Type, SerialNumber: c.SerialNumber, Certifier: strings.ToLower(c.Certifier)}
}

// Public returns a copy without the subject keyring.
func (c *Certificate) Public() Certificate {
	out := c.clone()
	out.Keyring = nil
	out.KeyringRevealer = ""
	return out
}

func (c *Certificate) clone() Certificate {
	out := *c
	out.Fields = cloneMap(c.Fields)
	out.Keyring = cloneMap(c.Keyring)
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AcquireRequest carries the arguments of Acquire.
type AcquireRequest struct {
	Type                string              `json:"type"`
	Certifier           string              `json:"certifier"`
	AcquisitionProtocol AcquisitionProtocol `json:"acquisitionProtocol"`
	Fields              map[string]string   `json:"fields"`

	// direct
	SerialNumber       string            `json:"serialNumber,omitempty"`
	RevocationOutpoint string            `json:"revocationOutpoint,omitempty"`
	Signature          string            `json:"signature,omitempty"`
	KeyringRevealer    string            `json:"keyringRevealer,omitempty"`
	KeyringForSubject  map[string]string `json:"keyringForSubject,omitempty"`

	// issuance
	CertifierURL string `json:"certifierUrl,omitempty"`
}

// ListRequest filters List. Empty filters match everything.
type ListRequest struct {
	Certifiers []string `json:"certifiers"`
	Types      []string `json:"types"`
	Offset     int      `json:"offset,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// ListResult is a page of certificates.
type ListResult struct {
	TotalCertificates int           `json:"totalCertificates"`
	Certificates      []Certificate `json:"certificates"`
}

// ProveRequest asks for a verifier keyring covering FieldsToReveal.
type ProveRequest struct {
	Certificate    Key      `json:"certificate"`
	FieldsToReveal []string `json:"fieldsToReveal"`
	Verifier       string   `json:"verifier"`
}

// ProveResult maps each revealed field to its key encrypted for the
// verifier.
type ProveResult struct {
	KeyringForVerifier map[string]string `json:"keyringForVerifier"`
}

// CertifierInfo describes the certifier of a discovered certificate.
type CertifierInfo struct {
	Name        string `json:"name"`
	IconURL     string `json:"iconUrl,omitempty"`
	Description string `json:"description,omitempty"`
	TrustLevel  int    `json:"trust"`
}

// DiscoveredCertificate is a certificate returned by a discovery service.
// PubliclyRevealedKeyring is encrypted for the anyone counterparty, so
// DecryptedFields can be filled in locally.
type DiscoveredCertificate struct {
	Certificate
	CertifierInfo           CertifierInfo     `json:"certifierInfo"`
	PubliclyRevealedKeyring map[string]string `json:"publiclyRevealedKeyring,omitempty"`
	DecryptedFields         map[string]string `json:"decryptedFields,omitempty"`
}

// DiscoverByIdentityRequest looks up certificates by subject key.
type DiscoverByIdentityRequest struct {
	IdentityKey string `json:"identityKey"`
	Offset      int    `json:"offset,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// DiscoverByAttributesRequest looks up certificates by revealed field values.
type DiscoverByAttributesRequest struct {
	Attributes map[string]string `json:"attributes"`
	Offset     int               `json:"offset,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

// DiscoverResult is a page of discovered certificates.
type DiscoverResult struct {
	TotalCertificates int                     `json:"totalCertificates"`
	Certificates      []DiscoveredCertificate `json:"certificates"`
}
