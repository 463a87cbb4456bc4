package certs

import (
	"context"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mrz1836/brcwallet/internal/chain"
	"github.com/mrz1836/brcwallet/internal/cryptoops"
	"github.com/mrz1836/brcwallet/internal/keys"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// IssuanceRequest is sent to a certifier.
type IssuanceRequest struct {
	Type      string            `json:"type"`
	Subject   string            `json:"subject"`
	Certifier string            `json:"certifier"`
	Fields    map[string]string `json:"fields"`
}

// Certifier issues certificates.
type Certifier interface {
	Issue(ctx context.Context, certifierURL string, req *IssuanceRequest) (*Certificate, error)
}

// Discoverer looks certificates up in external discovery services. Results
// need not be paged or deduplicated.
type Discoverer interface {
	ByIdentity(ctx context.Context, identityKey string) ([]DiscoveredCertificate, error)
	ByAttributes(ctx context.Context, attributes map[string]string) ([]DiscoveredCertificate, error)
}

// Config holds the dependencies of a Registry. Certifier and Discoverer are
// optional.
type Config struct {
	Store      Store
	Ops        Crypter
	Identity   *secp256k1.PublicKey
	Certifier  Certifier
	Discoverer Discoverer
	Logger     chain.LogWriter
}

// Registry manages the wallet's certificates.
type Registry struct {
	store      Store
	ops        Crypter
	anyone     Crypter
	identity   string
	certifier  Certifier
	discoverer Discoverer
	logger     chain.LogWriter
	now        func() time.Time

	// serializes issuance so one certifier round trip per key is stored
	acquireMu sync.Mutex
}

// New creates a Registry.
func New(cfg *Config) *Registry {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Registry{
		store:      store,
		ops:        cfg.Ops,
		anyone:     cryptoops.New(keys.NewDeriver(nil)),
		identity:   keys.PublicKeyHex(cfg.Identity),
		certifier:  cfg.Certifier,
		discoverer: cfg.Discoverer,
		logger:     logger,
		now:        time.Now,
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Acquire obtains a certificate directly or through a certifier and stores
// it. Acquiring a certificate already held returns the stored one.
func (r *Registry) Acquire(ctx context.Context, req *AcquireRequest) (*Certificate, error) {
	switch req.AcquisitionProtocol {
	case AcquireDirect:
		return r.acquireDirect(req)
	case AcquireIssuance:
		return r.acquireIssuance(ctx, req)
	default:
		return nil, invalid("acquisitionProtocol must be %q or %q", AcquireDirect, AcquireIssuance)
	}
}

func (r *Registry) acquireDirect(req *AcquireRequest) (*Certificate, error) {
	c := &Certificate{
		Type:               req.Type,
		Subject:            r.identity,
		SerialNumber:       req.SerialNumber,
		Certifier:          strings.ToLower(req.Certifier),
		RevocationOutpoint: req.RevocationOutpoint,
		Signature:          req.Signature,
		Fields:             cloneMap(req.Fields),
		Keyring:            cloneMap(req.KeyringForSubject),
		KeyringRevealer:    strings.ToLower(req.KeyringRevealer),
	}
	if c.KeyringRevealer == RevealerCertifier || c.KeyringRevealer == c.Certifier {
		c.KeyringRevealer = ""
	}
	if err := ValidateCertificate(c); err != nil {
		return nil, err
	}
	return r.insert(c)
}

func (r *Registry) acquireIssuance(ctx context.Context, req *AcquireRequest) (*Certificate, error) {
	if err := validateBase64("type", req.Type); err != nil {
		return nil, err
	}
	if _, err := keys.ParsePublicKeyHex(req.Certifier); err != nil {
		return nil, invalid("certifier must be a hex public key")
	}
	if u, err := url.Parse(req.CertifierURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalid("certifierUrl must be an http(s) URL")
	}
	for name := range req.Fields {
		if err := ValidateFieldName(name); err != nil {
			return nil, err
		}
	}
	if r.certifier == nil {
		return nil, walleterr.Wrap(walleterr.ErrNotConfigured, "certificate issuance is not configured")
	}

	r.acquireMu.Lock()
	defer r.acquireMu.Unlock()

	issued, err := r.certifier.Issue(ctx, req.CertifierURL, &IssuanceRequest{
		Type:      req.Type,
		Subject:   r.identity,
		Certifier: strings.ToLower(req.Certifier),
		Fields:    cloneMap(req.Fields),
	})
	if err != nil {
		return nil, err
	}
	issued.Certifier = strings.ToLower(issued.Certifier)
	issued.KeyringRevealer = ""

	mismatch := func(what string) error {
		return walleterr.WithContext(walleterr.Wrap(walleterr.ErrCertifierUnavailable, "certifier returned a different %s", what),
			map[string]string{"url": req.CertifierURL})
	}
	switch {
	case issued.Type != req.Type:
		return nil, mismatch("type")
	case issued.Certifier != strings.ToLower(req.Certifier):
		return nil, mismatch("certifier")
	case issued.Subject != r.identity:
		return nil, mismatch("subject")
	}
	if err := ValidateCertificate(issued); err != nil {
		return nil, walleterr.WithContext(err, map[string]string{"url": req.CertifierURL})
	}
	for name := range issued.Fields {
		if _, ok := issued.Keyring[name]; !ok {
			return nil, walleterr.WithContext(mismatch("keyring"), map[string]string{"field": name})
		}
	}
	if err := Verify(issued); err != nil {
		return nil, err
	}
	return r.insert(issued)
}

func (r *Registry) insert(c *Certificate) (*Certificate, error) {
	c.AcquiredAt = r.now().UTC()
	stored, inserted, err := r.store.InsertCertificate(c)
	if err != nil {
		return nil, walleterr.Wrap(err, "storing certificate")
	}
	if inserted {
		r.logger.Debug("certs: acquired %s", stored.Key())
	}
	out := stored.Public()
	return &out, nil
}

// List returns stored certificates matching the certifier and type filters.
func (r *Registry) List(req *ListRequest) (*ListResult, error) {
	all, err := r.store.ListCertificates()
	if err != nil {
		return nil, walleterr.Wrap(err, "listing certificates")
	}
	certifiers := make(map[string]struct{}, len(req.Certifiers))
	for _, c := range req.Certifiers {
		certifiers[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	types := make(map[string]struct{}, len(req.Types))
	for _, t := range req.Types {
		types[t] = struct{}{}
	}

	matched := make([]Certificate, 0, len(all))
	for i := range all {
		c := &all[i]
		if len(certifiers) > 0 {
			if _, ok := certifiers[c.Certifier]; !ok {
				continue
			}
		}
		if len(types) > 0 {
			if _, ok := types[c.Type]; !ok {
				continue
			}
		}
		matched = append(matched, c.Public())
	}

	start, end, err := page(len(matched), req.Offset, req.Limit)
	if err != nil {
		return nil, err
	}
	return &ListResult{TotalCertificates: len(matched), Certificates: matched[start:end]}, nil
}

// Prove re-encrypts the keys of the requested fields for a verifier. Fields
// the certificate does not carry are left out of the keyring.
func (r *Registry) Prove(req *ProveRequest) (*ProveResult, error) {
	verifier, err := keys.ParseCounterparty(req.Verifier, keys.Counterparty{})
	if err != nil {
		return nil, err
	}
	if verifier.Type == keys.CounterpartyOther && verifier.PublicKey == nil {
		return nil, walleterr.Wrap(walleterr.ErrInvalidCounterparty, "verifier is required")
	}
	if len(req.FieldsToReveal) == 0 {
		return nil, invalid("fieldsToReveal must not be empty")
	}

	key := req.Certificate
	key.Certifier = strings.ToLower(key.Certifier)
	c, err := r.store.GetCertificate(key)
	if err != nil {
		return nil, err
	}

	revealer := c.Certifier
	if c.KeyringRevealer != "" {
		revealer = c.KeyringRevealer
	}
	revealerKey, err := keys.ParsePublicKeyHex(revealer)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrInvalidCounterparty, "stored keyring revealer is invalid")
	}

	out := make(map[string]string, len(req.FieldsToReveal))
	for _, name := range req.FieldsToReveal {
		if _, ok := c.Fields[name]; !ok {
			continue
		}
		wrapped, ok := c.Keyring[name]
		if !ok {
			continue
		}
		reencrypted, err := r.reveal(c, name, wrapped, revealerKey, verifier)
		if err != nil {
			return nil, walleterr.WithContext(err, map[string]string{"field": name})
		}
		out[name] = reencrypted
	}
	return &ProveResult{KeyringForVerifier: out}, nil
}

func (r *Registry) reveal(c *Certificate, field, wrapped string, revealer *secp256k1.PublicKey, verifier keys.Counterparty) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	}
	fieldKey, err := r.ops.Decrypt(raw, FieldEncryptionProtocol, field, keys.Other(revealer))
	if err != nil {
		return "", err
	}
	defer zero(fieldKey)

	sealed, err := r.ops.Encrypt(fieldKey, FieldEncryptionProtocol, c.SerialNumber+" "+field, verifier)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Relinquish removes a certificate.
func (r *Registry) Relinquish(key Key) error {
	key.Certifier = strings.ToLower(key.Certifier)
	if err := r.store.DeleteCertificate(key); err != nil {
		return err
	}
	r.logger.Debug("certs: relinquished %s", key)
	return nil
}

// DiscoverByIdentity looks up certificates issued to identityKey.
func (r *Registry) DiscoverByIdentity(ctx context.Context, req *DiscoverByIdentityRequest) (*DiscoverResult, error) {
	if _, err := keys.ParsePublicKeyHex(req.IdentityKey); err != nil {
		return nil, invalid("identityKey must be a hex public key")
	}
	if r.discoverer == nil {
		return nil, walleterr.ErrDiscoveryUnavailable
	}
	found, err := r.discoverer.ByIdentity(ctx, strings.ToLower(req.IdentityKey))
	if err != nil {
		return nil, err
	}
	return r.discovered(found, req.Offset, req.Limit)
}

// DiscoverByAttributes looks up certificates by publicly revealed fields.
func (r *Registry) DiscoverByAttributes(ctx context.Context, req *DiscoverByAttributesRequest) (*DiscoverResult, error) {
	if len(req.Attributes) == 0 {
		return nil, invalid("attributes must not be empty")
	}
	for name := range req.Attributes {
		if err := ValidateFieldName(name); err != nil {
			return nil, err
		}
	}
	if r.discoverer == nil {
		return nil, walleterr.ErrDiscoveryUnavailable
	}
	found, err := r.discoverer.ByAttributes(ctx, req.Attributes)
	if err != nil {
		return nil, err
	}
	return r.discovered(found, req.Offset, req.Limit)
}

// discovered dedups, orders and pages discovery results, and decrypts the
// publicly revealed fields of the page.
func (r *Registry) discovered(found []DiscoveredCertificate, offset, limit int) (*DiscoverResult, error) {
	byKey := make(map[Key]DiscoveredCertificate, len(found))
	for _, d := range found {
		d.Certifier = strings.ToLower(d.Certifier)
		k := d.Key()
		if _, dup := byKey[k]; !dup {
			byKey[k] = d
		}
	}
	unique := make([]DiscoveredCertificate, 0, len(byKey))
	for _, d := range byKey {
		unique = append(unique, d)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].CertifierInfo.TrustLevel != unique[j].CertifierInfo.TrustLevel {
			return unique[i].CertifierInfo.TrustLevel > unique[j].CertifierInfo.TrustLevel
		}
		return unique[i].Key().String() < unique[j].Key().String()
	})

	start, end, err := page(len(unique), offset, limit)
	if err != nil {
		return nil, err
	}
	out := unique[start:end]
	for i := range out {
		out[i].Keyring = nil
		if len(out[i].PubliclyRevealedKeyring) == 0 {
			continue
		}
		fields, err := DecryptRevealed(r.anyone, &out[i].Certificate, out[i].PubliclyRevealedKeyring)
		if err != nil {
			r.logger.Debug("certs: cannot decrypt revealed fields of %s: %v", out[i].Key(), err)
			continue
		}
		out[i].DecryptedFields = fields
	}
	return &DiscoverResult{TotalCertificates: len(unique), Certificates: out}, nil
}
