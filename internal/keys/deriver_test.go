package keys

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

//nolint:gochecknoglobals // shared test protocol
var testProtocol = NewProtocol(SecurityLevelEveryAppAndCounterparty, "tests for keys")

func newTestDeriver(t *testing.T) *Deriver {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return NewDeriver(priv)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	t.Parallel()
	alice := newTestDeriver(t)
	bob := newTestDeriver(t)
	cp := Other(bob.IdentityKey())

	first, err := alice.DeriveKey(cp, testProtocol, "1", true)
	require.NoError(t, err)
	second, err := alice.DeriveKey(cp, testProtocol, "1", true)
	require.NoError(t, err)

	assert.True(t, first.PublicKey.IsEqual(second.PublicKey))
	require.NotNil(t, first.PrivateKey)
	assert.Equal(t, first.PrivateKey.Serialize(), second.PrivateKey.Serialize())

	other, err := alice.DeriveKey(cp, testProtocol, "2", false)
	require.NoError(t, err)
	assert.Nil(t, other.PrivateKey)
	assert.False(t, other.PublicKey.IsEqual(first.PublicKey))
}

func TestDeriveKey_CounterpartiesAgree(t *testing.T) {
	t.Parallel()
	alice := newTestDeriver(t)
	bob := newTestDeriver(t)

	// Alice computes the key Bob will own for this invoice.
	bobsChildFromAlice, err := alice.DerivePublicKey(testProtocol, "invoice 7", Other(bob.IdentityKey()), false)
	require.NoError(t, err)

	bobsChild, err := bob.DerivePrivateKey(testProtocol, "invoice 7", Other(alice.IdentityKey()))
	require.NoError(t, err)

	assert.True(t, bobsChildFromAlice.IsEqual(bobsChild.PubKey()))
}

func TestDeriveKey_SelfIsSymmetric(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)

	forSelf, err := d.DerivePublicKey(testProtocol, "k", Self(), true)
	require.NoError(t, err)
	forOther, err := d.DerivePublicKey(testProtocol, "k", Self(), false)
	require.NoError(t, err)
	assert.True(t, forSelf.IsEqual(forOther))
}

func TestDeriveKey_Anyone(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)
	anyone := NewDeriver(nil)

	_, g := AnyoneKey()
	assert.True(t, anyone.IdentityKey().IsEqual(g))

	// The anyone wallet can derive the public key that d owns.
	fromAnyone, err := anyone.DerivePublicKey(testProtocol, "public", Other(d.IdentityKey()), false)
	require.NoError(t, err)
	owned, err := d.DerivePrivateKey(testProtocol, "public", Anyone())
	require.NoError(t, err)
	assert.True(t, fromAnyone.IsEqual(owned.PubKey()))
}

func TestDeriveSymmetricKey_Shared(t *testing.T) {
	t.Parallel()
	alice := newTestDeriver(t)
	bob := newTestDeriver(t)

	k1, err := alice.DeriveSymmetricKey(testProtocol, "sym", Other(bob.IdentityKey()))
	require.NoError(t, err)
	k2, err := bob.DeriveSymmetricKey(testProtocol, "sym", Other(alice.IdentityKey()))
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)

	k3, err := alice.DeriveSymmetricKey(testProtocol, "other", Other(bob.IdentityKey()))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveKey_InvalidProtocol(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)

	tests := []struct {
		name     string
		protocol Protocol
		keyID    string
	}{
		{"short name", NewProtocol(0, "abc"), "1"},
		{"punctuation", NewProtocol(0, "bad-chars"), "1"},
		{"double space", NewProtocol(0, "two  spaces"), "1"},
		{"protocol suffix", NewProtocol(0, "payment protocol"), "1"},
		{"level out of range", NewProtocol(3, "hello world"), "1"},
		{"empty key id", NewProtocol(0, "hello world"), ""},
		{"key id too long", NewProtocol(0, "hello world"), strings.Repeat("k", 801)},
		{"name too long", NewProtocol(0, strings.Repeat("a", 401)), "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := d.DeriveKey(Self(), tt.protocol, tt.keyID, true)
			require.Error(t, err)
			assert.ErrorIs(t, err, walleterr.ErrInvalidProtocol)
		})
	}
}

func TestInvoiceNumber(t *testing.T) {
	t.Parallel()
	inv, err := InvoiceNumber(NewProtocol(1, "Hello World "), "abc")
	require.NoError(t, err)
	assert.Equal(t, "1-hello world-abc", inv)

	long := linkageProtocolPrefix + strings.Repeat("a", 401)
	_, err = InvoiceNumber(NewProtocol(2, long), "x")
	require.NoError(t, err)
}

func TestRevealCounterpartySecret(t *testing.T) {
	t.Parallel()
	alice := newTestDeriver(t)
	bob := newTestDeriver(t)

	s1, err := alice.RevealCounterpartySecret(Other(bob.IdentityKey()))
	require.NoError(t, err)
	s2, err := bob.RevealCounterpartySecret(Other(alice.IdentityKey()))
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 33)

	_, err = alice.RevealCounterpartySecret(Self())
	require.ErrorIs(t, err, walleterr.ErrInvalidCounterparty)

	_, err = alice.RevealCounterpartySecret(Other(alice.IdentityKey()))
	require.ErrorIs(t, err, walleterr.ErrInvalidCounterparty)
}

func TestRevealSpecificSecret(t *testing.T) {
	t.Parallel()
	alice := newTestDeriver(t)
	bob := newTestDeriver(t)

	s1, err := alice.RevealSpecificSecret(Other(bob.IdentityKey()), testProtocol, "7")
	require.NoError(t, err)
	s2, err := bob.RevealSpecificSecret(Other(alice.IdentityKey()), testProtocol, "7")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 32)

	// The offset links the two child keys: child = identity + offset·G.
	var offset secp256k1.ModNScalar
	offset.SetByteSlice(s1)
	expected, err := addScalarToPoint(bob.IdentityKey(), &offset)
	require.NoError(t, err)
	child, err := alice.DerivePublicKey(testProtocol, "7", Other(bob.IdentityKey()), false)
	require.NoError(t, err)
	assert.True(t, expected.IsEqual(child))
}

func TestParseCounterparty(t *testing.T) {
	t.Parallel()
	d := newTestDeriver(t)
	hexKey := PublicKeyHex(d.IdentityKey())

	cp, err := ParseCounterparty("", Anyone())
	require.NoError(t, err)
	assert.Equal(t, CounterpartyAnyone, cp.Type)

	cp, err = ParseCounterparty("self", Anyone())
	require.NoError(t, err)
	assert.Equal(t, CounterpartySelf, cp.Type)

	cp, err = ParseCounterparty(hexKey, Self())
	require.NoError(t, err)
	assert.Equal(t, CounterpartyOther, cp.Type)
	assert.Equal(t, hexKey, cp.String())

	_, err = ParseCounterparty("not-a-key", Self())
	require.ErrorIs(t, err, walleterr.ErrInvalidCounterparty)
}

func TestProtocolJSON(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(NewProtocol(2, "hello world"))
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"hello world"]`, string(data))

	var p Protocol
	require.NoError(t, json.Unmarshal([]byte(`[1,"abc def"]`), &p))
	assert.Equal(t, NewProtocol(1, "abc def"), p)

	require.Error(t, json.Unmarshal([]byte(`[1]`), &p))
	require.Error(t, json.Unmarshal([]byte(`{"a":1}`), &p))
}

func TestLinkageProof(t *testing.T) {
	t.Parallel()
	prover := newTestDeriver(t)
	counterparty := newTestDeriver(t)

	secret, proof, err := prover.ProveLinkage(Other(counterparty.IdentityKey()))
	require.NoError(t, err)
	assert.True(t, VerifyLinkage(prover.IdentityKey(), counterparty.IdentityKey(), secret, proof))

	decoded, err := ParseLinkageProof(proof.Bytes())
	require.NoError(t, err)
	assert.True(t, VerifyLinkage(prover.IdentityKey(), counterparty.IdentityKey(), secret, decoded))

	// Wrong prover.
	stranger := newTestDeriver(t)
	assert.False(t, VerifyLinkage(stranger.IdentityKey(), counterparty.IdentityKey(), secret, proof))

	// Tampered secret.
	other, err := stranger.RevealCounterpartySecret(Other(counterparty.IdentityKey()))
	require.NoError(t, err)
	assert.False(t, VerifyLinkage(prover.IdentityKey(), counterparty.IdentityKey(), other, proof))

	_, err = ParseLinkageProof(bytes.Repeat([]byte{1}, 10))
	require.ErrorIs(t, err, ErrInvalidProof)
}
