package keys

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

var (
	// ErrPointAtInfinity indicates a derivation landed on the identity point.
	ErrPointAtInfinity = errors.New("derived point is at infinity")

	// ErrZeroScalar indicates a derivation produced a zero scalar.
	ErrZeroScalar = errors.New("derived scalar is zero")

	// ErrSelfSecret is returned when revealing the shared secret with self.
	ErrSelfSecret = walleterr.Wrap(walleterr.ErrInvalidCounterparty,
		"counterparty secrets cannot be revealed for counterparty=self")
)

// DerivedKey is the result of a derivation. PrivateKey is only set when the
// derivation was requested for self.
type DerivedKey struct {
	PublicKey  *secp256k1.PublicKey
	PrivateKey *secp256k1.PrivateKey
}

// Deriver derives child keys from a root key. It holds no mutable state and
// is safe for concurrent use.
type Deriver struct {
	root     *secp256k1.PrivateKey
	identity *secp256k1.PublicKey
}

// NewDeriver creates a deriver for the given root key. A nil root creates
// the "anyone" deriver whose root scalar is 1.
func NewDeriver(root *secp256k1.PrivateKey) *Deriver {
	if root == nil {
		root, _ = AnyoneKey()
	}
	return &Deriver{
		root:     root,
		identity: root.PubKey(),
	}
}

// AnyoneKey returns the publicly known key pair with scalar 1.
func AnyoneKey() (*secp256k1.PrivateKey, *secp256k1.PublicKey) {
	var one secp256k1.ModNScalar
	one.SetInt(1)
	priv := secp256k1.NewPrivateKey(&one)
	return priv, priv.PubKey()
}

// IdentityKey returns the root public key.
func (d *Deriver) IdentityKey() *secp256k1.PublicKey {
	return d.identity
}

// DeriveKey derives the key for (counterparty, protocol, keyID). With forSelf
// the wallet's own child key pair is returned; otherwise the counterparty's
// matching child public key.
func (d *Deriver) DeriveKey(cp Counterparty, p Protocol, keyID string, forSelf bool) (*DerivedKey, error) {
	if forSelf {
		priv, err := d.DerivePrivateKey(p, keyID, cp)
		if err != nil {
			return nil, err
		}
		return &DerivedKey{PublicKey: priv.PubKey(), PrivateKey: priv}, nil
	}
	pub, err := d.DerivePublicKey(p, keyID, cp, false)
	if err != nil {
		return nil, err
	}
	return &DerivedKey{PublicKey: pub}, nil
}

// DerivePublicKey derives a child public key.
func (d *Deriver) DerivePublicKey(p Protocol, keyID string, cp Counterparty, forSelf bool) (*secp256k1.PublicKey, error) {
	if forSelf {
		priv, err := d.DerivePrivateKey(p, keyID, cp)
		if err != nil {
			return nil, err
		}
		return priv.PubKey(), nil
	}

	counterparty, err := d.normalize(cp)
	if err != nil {
		return nil, err
	}
	offset, err := d.offset(p, keyID, counterparty)
	if err != nil {
		return nil, err
	}
	return addScalarToPoint(counterparty, offset)
}

// DerivePrivateKey derives the wallet's own child private key.
func (d *Deriver) DerivePrivateKey(p Protocol, keyID string, cp Counterparty) (*secp256k1.PrivateKey, error) {
	counterparty, err := d.normalize(cp)
	if err != nil {
		return nil, err
	}
	offset, err := d.offset(p, keyID, counterparty)
	if err != nil {
		return nil, err
	}

	var k secp256k1.ModNScalar
	k.Set(&d.root.Key).Add(offset)
	if k.IsZero() {
		return nil, walleterr.Wrap(ErrZeroScalar, "deriving private key")
	}
	return secp256k1.NewPrivateKey(&k), nil
}

// DeriveSymmetricKey derives a 32 byte symmetric key shared between the
// wallet and the counterparty for (protocol, keyID).
func (d *Deriver) DeriveSymmetricKey(p Protocol, keyID string, cp Counterparty) ([]byte, error) {
	// Anyone has no private key of its own, so both sides use the anyone
	// key as the counterparty.
	if cp.Type == CounterpartyAnyone {
		_, anyonePub := AnyoneKey()
		cp = Other(anyonePub)
	}

	theirs, err := d.DerivePublicKey(p, keyID, cp, false)
	if err != nil {
		return nil, err
	}
	mine, err := d.DerivePrivateKey(p, keyID, cp)
	if err != nil {
		return nil, err
	}

	shared, err := scalarMult(&mine.Key, theirs)
	if err != nil {
		return nil, err
	}
	return shared.SerializeCompressed()[1:], nil
}

// RevealCounterpartySecret returns the compressed ECDH shared point between
// the root key and the counterparty.
func (d *Deriver) RevealCounterpartySecret(cp Counterparty) ([]byte, error) {
	if cp.Type == CounterpartySelf {
		return nil, ErrSelfSecret
	}
	counterparty, err := d.normalize(cp)
	if err != nil {
		return nil, err
	}
	if counterparty.IsEqual(d.identity) {
		return nil, ErrSelfSecret
	}
	shared, err := d.sharedSecret(counterparty)
	if err != nil {
		return nil, err
	}
	return shared.SerializeCompressed(), nil
}

// RevealSpecificSecret returns the HMAC offset used for one derivation.
func (d *Deriver) RevealSpecificSecret(cp Counterparty, p Protocol, keyID string) ([]byte, error) {
	counterparty, err := d.normalize(cp)
	if err != nil {
		return nil, err
	}
	invoice, err := InvoiceNumber(p, keyID)
	if err != nil {
		return nil, err
	}
	shared, err := d.sharedSecret(counterparty)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, shared.SerializeCompressed())
	mac.Write([]byte(invoice))
	return mac.Sum(nil), nil
}

// normalize resolves self and anyone into concrete public keys.
func (d *Deriver) normalize(cp Counterparty) (*secp256k1.PublicKey, error) {
	switch cp.Type {
	case CounterpartySelf:
		return d.identity, nil
	case CounterpartyAnyone:
		_, pub := AnyoneKey()
		return pub, nil
	default:
		if cp.PublicKey == nil {
			return nil, walleterr.Wrap(walleterr.ErrInvalidCounterparty, "counterparty public key is required")
		}
		return cp.PublicKey, nil
	}
}

// offset computes HMAC-SHA256(sharedSecret, invoiceNumber) reduced mod n.
func (d *Deriver) offset(p Protocol, keyID string, counterparty *secp256k1.PublicKey) (*secp256k1.ModNScalar, error) {
	invoice, err := InvoiceNumber(p, keyID)
	if err != nil {
		return nil, err
	}
	shared, err := d.sharedSecret(counterparty)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, shared.SerializeCompressed())
	mac.Write([]byte(invoice))
	sum := mac.Sum(nil)

	var h secp256k1.ModNScalar
	h.SetByteSlice(sum)
	if h.IsZero() {
		return nil, walleterr.Wrap(ErrZeroScalar, "deriving offset")
	}
	return &h, nil
}

func (d *Deriver) sharedSecret(counterparty *secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	return scalarMult(&d.root.Key, counterparty)
}

// scalarMult returns k·P.
func scalarMult(k *secp256k1.ModNScalar, pub *secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(k, &point, &result)
	return toPublicKey(&result)
}

// addScalarToPoint returns P + k·G.
func addScalarToPoint(pub *secp256k1.PublicKey, k *secp256k1.ModNScalar) (*secp256k1.PublicKey, error) {
	var point, tweak, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarBaseMultNonConst(k, &tweak)
	secp256k1.AddNonConst(&point, &tweak, &result)
	return toPublicKey(&result)
}

func toPublicKey(p *secp256k1.JacobianPoint) (*secp256k1.PublicKey, error) {
	if (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero() {
		return nil, walleterr.Wrap(ErrPointAtInfinity, "deriving public key")
	}
	p.ToAffine()
	return secp256k1.NewPublicKey(&p.X, &p.Y), nil
}
