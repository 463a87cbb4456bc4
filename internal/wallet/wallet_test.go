package wallet_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/certs"
	"github.com/mrz1836/brcwallet/internal/chain"
	"github.com/mrz1836/brcwallet/internal/cryptoops"
	"github.com/mrz1836/brcwallet/internal/keys"
	"github.com/mrz1836/brcwallet/internal/txbuilder"
	"github.com/mrz1836/brcwallet/internal/version"
	"github.com/mrz1836/brcwallet/internal/wallet"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const origin = "example.com"

//nolint:gochecknoglobals // shared test protocol
var testProtocol = keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty, "hello world")

type party struct {
	w    *wallet.Wallet
	priv *secp256k1.PrivateKey
	hex  string
}

func newWallet(t *testing.T, mutate func(*wallet.Config)) party {
	t.Helper()
	cfg := &wallet.Config{}
	if mutate != nil {
		mutate(cfg)
	}
	w, err := wallet.New(cfg)
	require.NoError(t, err)
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, w.Unlock(priv, 0))
	return party{w: w, priv: priv, hex: keys.PublicKeyHex(priv.PubKey())}
}

func requireCode(t *testing.T, err error, sentinel *walleterr.WalletError) {
	t.Helper()
	require.Error(t, err)
	var we *walleterr.WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, sentinel.Code, we.Code, "got %v", err)
}

func txid(n int) string {
	return fmt.Sprintf("%064x", n)
}

type stubTracker struct {
	height uint32
	panics bool
}

func (s *stubTracker) GetHeight(context.Context) (uint32, error) {
	if s.panics {
		panic("tracker exploded")
	}
	return s.height, nil
}

func (s *stubTracker) GetHeader(_ context.Context, height uint32) ([]byte, error) {
	header := make([]byte, chain.HeaderSize)
	header[0] = byte(height)
	return header, nil
}

func TestWallet_Locked(t *testing.T) {
	t.Parallel()
	w, err := wallet.New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	auth, err := w.IsAuthenticated(ctx, origin)
	require.NoError(t, err)
	assert.False(t, auth.Authenticated)

	_, err = w.Encrypt(ctx, &wallet.EncryptArgs{Plaintext: []byte("hi")}, origin)
	requireCode(t, err, walleterr.ErrNotAuthenticated)
	_, err = w.ListOutputs(ctx, &wallet.ListOutputsArgs{Basket: "tokens"}, origin)
	requireCode(t, err, walleterr.ErrNotAuthenticated)

	network, err := w.GetNetwork(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, "mainnet", network.Network)

	v, err := w.GetVersion(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, version.String(), v.Version)
	assert.True(t, strings.HasPrefix(v.Version, "brcwallet-"))

	require.Error(t, w.Unlock(nil, 0))
}

func TestWallet_LockUnlock(t *testing.T) {
	t.Parallel()
	p := newWallet(t, nil)
	ctx := context.Background()

	auth, err := p.w.IsAuthenticated(ctx, origin)
	require.NoError(t, err)
	assert.True(t, auth.Authenticated)

	p.w.Lock()
	auth, err = p.w.IsAuthenticated(ctx, origin)
	require.NoError(t, err)
	assert.False(t, auth.Authenticated)
	_, err = p.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{IdentityKey: true}, origin)
	requireCode(t, err, walleterr.ErrNotAuthenticated)

	require.NoError(t, p.w.Unlock(p.priv, 0))
	pub, err := p.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{IdentityKey: true}, origin)
	require.NoError(t, err)
	assert.Equal(t, p.hex, pub.PublicKey)
}

func TestWallet_CallContract(t *testing.T) {
	t.Parallel()
	p := newWallet(t, nil)

	_, err := p.w.Encrypt(context.Background(), &wallet.EncryptArgs{
		Plaintext: []byte("x"),
		KeyArgs:   wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "1"},
	}, strings.Repeat("a", wallet.MaxOriginatorLength+1))
	requireCode(t, err, walleterr.ErrInvalidInput)

	_, err = p.w.Encrypt(context.Background(), nil, origin)
	requireCode(t, err, walleterr.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.w.GetNetwork(ctx, origin)
	requireCode(t, err, walleterr.ErrTimeout)

	_, err = p.w.Encrypt(context.Background(), &wallet.EncryptArgs{
		Plaintext: []byte("x"),
		KeyArgs:   wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "1"},
	}, strings.Repeat("a", wallet.MaxOriginatorLength))
	require.NoError(t, err)
}

func TestWallet_PanicBecomesInternalError(t *testing.T) {
	t.Parallel()
	p := newWallet(t, func(c *wallet.Config) { c.Tracker = &stubTracker{panics: true} })

	before := p.w.Metrics().Snapshot()
	_, err := p.w.GetHeight(context.Background(), origin)
	requireCode(t, err, walleterr.ErrInternal)

	after := p.w.Metrics().Snapshot()
	assert.Equal(t, before.WalletOpsTotal+1, after.WalletOpsTotal)
	assert.Equal(t, before.WalletOpsErrors+1, after.WalletOpsErrors)
}

func TestWallet_ChainStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bare := newWallet(t, func(c *wallet.Config) { c.Network = chain.NetworkTestnet })
	_, err := bare.w.GetHeight(ctx, origin)
	requireCode(t, err, walleterr.ErrNotConfigured)
	_, err = bare.w.GetHeaderForHeight(ctx, &wallet.GetHeaderArgs{Height: 1}, origin)
	requireCode(t, err, walleterr.ErrNotConfigured)
	network, err := bare.w.GetNetwork(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, "testnet", network.Network)

	tracked := newWallet(t, func(c *wallet.Config) { c.Tracker = &stubTracker{height: 850000} })
	height, err := tracked.w.GetHeight(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, uint32(850000), height.Height)

	header, err := tracked.w.GetHeaderForHeight(ctx, &wallet.GetHeaderArgs{Height: 7}, origin)
	require.NoError(t, err)
	assert.Len(t, header.Header, chain.HeaderSize*2)
	assert.True(t, strings.HasPrefix(header.Header, "07"))
}

func TestWallet_WaitForAuthentication(t *testing.T) {
	t.Parallel()

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		w, err := wallet.New(nil)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = w.WaitForAuthentication(ctx, origin)
		requireCode(t, err, walleterr.ErrTimeout)
	})

	t.Run("default timeout", func(t *testing.T) {
		t.Parallel()
		w, err := wallet.New(&wallet.Config{AuthTimeout: 20 * time.Millisecond})
		require.NoError(t, err)

		_, err = w.WaitForAuthentication(context.Background(), origin)
		requireCode(t, err, walleterr.ErrTimeout)
	})

	t.Run("unlocked while waiting", func(t *testing.T) {
		t.Parallel()
		w, err := wallet.New(nil)
		require.NoError(t, err)
		priv, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		var res *wallet.AuthenticatedResult
		var waitErr error
		go func() {
			defer wg.Done()
			res, waitErr = w.WaitForAuthentication(context.Background(), origin)
		}()
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, w.Unlock(priv, time.Minute))
		wg.Wait()

		require.NoError(t, waitErr)
		assert.True(t, res.Authenticated)
	})
}

func TestWallet_GetPublicKey(t *testing.T) {
	t.Parallel()
	alice, bob := newWallet(t, nil), newWallet(t, nil)
	ctx := context.Background()

	id, err := alice.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{IdentityKey: true}, origin)
	require.NoError(t, err)
	assert.Equal(t, alice.hex, id.PublicKey)

	args := &wallet.GetPublicKeyArgs{KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "42"}}
	first, err := alice.w.GetPublicKey(ctx, args, origin)
	require.NoError(t, err)
	second, err := alice.w.GetPublicKey(ctx, args, origin)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.NotEqual(t, alice.hex, first.PublicKey)

	forBob, err := alice.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{
		KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "42", Counterparty: bob.hex},
	}, origin)
	require.NoError(t, err)
	bobsOwn, err := bob.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{
		KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "42", Counterparty: alice.hex},
		ForSelf: true,
	}, origin)
	require.NoError(t, err)
	assert.Equal(t, forBob.PublicKey, bobsOwn.PublicKey)

	_, err = alice.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{
		KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "42", Counterparty: "nobody"},
	}, origin)
	requireCode(t, err, walleterr.ErrInvalidCounterparty)

	_, err = alice.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{
		KeyArgs: wallet.KeyArgs{ProtocolID: keys.NewProtocol(2, "Bad Name"), KeyID: "42"},
	}, origin)
	requireCode(t, err, walleterr.ErrInvalidProtocol)
}

func TestWallet_EncryptDecrypt(t *testing.T) {
	t.Parallel()
	alice, bob := newWallet(t, nil), newWallet(t, nil)
	ctx := context.Background()
	plaintext := []byte("the quick brown fox")

	enc, err := alice.w.Encrypt(ctx, &wallet.EncryptArgs{
		Plaintext: plaintext,
		KeyArgs:   wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "1", Counterparty: bob.hex},
	}, origin)
	require.NoError(t, err)

	dec, err := bob.w.Decrypt(ctx, &wallet.DecryptArgs{
		Ciphertext: enc.Ciphertext,
		KeyArgs:    wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "1", Counterparty: alice.hex},
	}, origin)
	require.NoError(t, err)
	assert.Equal(t, plaintext, []byte(dec.Plaintext))

	flipped := append(wallet.Bytes(nil), enc.Ciphertext...)
	flipped[len(flipped)-1] ^= 0x01
	tests := []struct {
		name string
		args *wallet.DecryptArgs
	}{
		{"wrong key id", &wallet.DecryptArgs{Ciphertext: enc.Ciphertext, KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "2", Counterparty: alice.hex}}},
		{"wrong counterparty", &wallet.DecryptArgs{Ciphertext: enc.Ciphertext, KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "1"}}},
		{"flipped byte", &wallet.DecryptArgs{Ciphertext: flipped, KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "1", Counterparty: alice.hex}}},
		{"short", &wallet.DecryptArgs{Ciphertext: []byte{1, 2, 3}, KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "1", Counterparty: alice.hex}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := bob.w.Decrypt(ctx, tt.args, origin)
			requireCode(t, err, walleterr.ErrDecryptFailed)
			assert.Nil(t, res)
		})
	}
}

func TestWallet_HMAC(t *testing.T) {
	t.Parallel()
	p := newWallet(t, nil)
	ctx := context.Background()
	keyArgs := wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "mac"}

	tag, err := p.w.CreateHMAC(ctx, &wallet.CreateHMACArgs{Data: []byte("payload"), KeyArgs: keyArgs}, origin)
	require.NoError(t, err)
	assert.Len(t, tag.HMAC, 32)

	ok, err := p.w.VerifyHMAC(ctx, &wallet.VerifyHMACArgs{Data: []byte("payload"), HMAC: tag.HMAC, KeyArgs: keyArgs}, origin)
	require.NoError(t, err)
	assert.True(t, ok.Valid)

	_, err = p.w.VerifyHMAC(ctx, &wallet.VerifyHMACArgs{Data: []byte("payload!"), HMAC: tag.HMAC, KeyArgs: keyArgs}, origin)
	requireCode(t, err, walleterr.ErrHMACVerifyFailed)
}

func TestWallet_Signatures(t *testing.T) {
	t.Parallel()
	alice, bob := newWallet(t, nil), newWallet(t, nil)
	ctx := context.Background()
	data := []byte("sign me")

	sig, err := alice.w.CreateSignature(ctx, &wallet.CreateSignatureArgs{
		Data:    data,
		KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "s", Counterparty: bob.hex},
	}, origin)
	require.NoError(t, err)

	ok, err := bob.w.VerifySignature(ctx, &wallet.VerifySignatureArgs{
		Data:      data,
		Signature: sig.Signature,
		KeyArgs:   wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "s", Counterparty: alice.hex},
	}, origin)
	require.NoError(t, err)
	assert.True(t, ok.Valid)

	_, err = bob.w.VerifySignature(ctx, &wallet.VerifySignatureArgs{
		Data:      []byte("altered"),
		Signature: sig.Signature,
		KeyArgs:   wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "s", Counterparty: alice.hex},
	}, origin)
	requireCode(t, err, walleterr.ErrSignatureVerificationFailed)

	own, err := alice.w.CreateSignature(ctx, &wallet.CreateSignatureArgs{
		HashToDirectlySign: chainhash.HashB(data),
		KeyArgs:            wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "s", Counterparty: "self"},
	}, origin)
	require.NoError(t, err)
	ok, err = alice.w.VerifySignature(ctx, &wallet.VerifySignatureArgs{
		Data:      data,
		Signature: own.Signature,
		KeyArgs:   wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "s"},
	}, origin)
	require.NoError(t, err)
	assert.True(t, ok.Valid)

	_, err = alice.w.CreateSignature(ctx, &wallet.CreateSignatureArgs{
		KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "s"},
	}, origin)
	requireCode(t, err, walleterr.ErrInvalidInput)
}

func TestWallet_RevealCounterpartyKeyLinkage(t *testing.T) {
	t.Parallel()
	alice, bob, carol := newWallet(t, nil), newWallet(t, nil), newWallet(t, nil)
	ctx := context.Background()

	rev, err := alice.w.RevealCounterpartyKeyLinkage(ctx, &wallet.RevealCounterpartyKeyLinkageArgs{
		Counterparty: bob.hex,
		Verifier:     carol.hex,
	}, origin)
	require.NoError(t, err)
	assert.Equal(t, alice.hex, rev.Prover)
	assert.Equal(t, carol.hex, rev.Verifier)
	assert.Equal(t, bob.hex, rev.Counterparty)
	_, err = time.Parse(time.RFC3339, rev.RevelationTime)
	require.NoError(t, err)

	linkageProtocol := keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty, "counterparty linkage revelation")
	secret, err := carol.w.Decrypt(ctx, &wallet.DecryptArgs{
		Ciphertext: rev.EncryptedLinkage,
		KeyArgs:    wallet.KeyArgs{ProtocolID: linkageProtocol, KeyID: rev.RevelationTime, Counterparty: rev.Prover},
	}, origin)
	require.NoError(t, err)
	rawProof, err := carol.w.Decrypt(ctx, &wallet.DecryptArgs{
		Ciphertext: rev.EncryptedLinkageProof,
		KeyArgs:    wallet.KeyArgs{ProtocolID: linkageProtocol, KeyID: rev.RevelationTime, Counterparty: rev.Prover},
	}, origin)
	require.NoError(t, err)

	proof, err := keys.ParseLinkageProof(rawProof.Plaintext)
	require.NoError(t, err)
	assert.True(t, keys.VerifyLinkage(alice.priv.PubKey(), bob.priv.PubKey(), secret.Plaintext, proof))
	assert.False(t, keys.VerifyLinkage(carol.priv.PubKey(), bob.priv.PubKey(), secret.Plaintext, proof))

	_, err = bob.w.Decrypt(ctx, &wallet.DecryptArgs{
		Ciphertext: rev.EncryptedLinkage,
		KeyArgs:    wallet.KeyArgs{ProtocolID: linkageProtocol, KeyID: rev.RevelationTime, Counterparty: rev.Prover},
	}, origin)
	requireCode(t, err, walleterr.ErrDecryptFailed)

	_, err = alice.w.RevealCounterpartyKeyLinkage(ctx, &wallet.RevealCounterpartyKeyLinkageArgs{
		Counterparty: "self", Verifier: carol.hex,
	}, origin)
	requireCode(t, err, walleterr.ErrInvalidCounterparty)

	_, err = alice.w.RevealCounterpartyKeyLinkage(ctx, &wallet.RevealCounterpartyKeyLinkageArgs{
		Counterparty: bob.hex, Verifier: "zz",
	}, origin)
	requireCode(t, err, walleterr.ErrInvalidInput)
}

func TestWallet_RevealSpecificKeyLinkage(t *testing.T) {
	t.Parallel()
	alice, bob, carol := newWallet(t, nil), newWallet(t, nil), newWallet(t, nil)
	ctx := context.Background()

	rev, err := alice.w.RevealSpecificKeyLinkage(ctx, &wallet.RevealSpecificKeyLinkageArgs{
		Counterparty: bob.hex,
		Verifier:     carol.hex,
		ProtocolID:   testProtocol,
		KeyID:        "7",
	}, origin)
	require.NoError(t, err)
	assert.Equal(t, byte(0), rev.ProofType)
	assert.Equal(t, testProtocol, rev.ProtocolID)

	revealProtocol := keys.NewProtocol(keys.SecurityLevelEveryAppAndCounterparty, "specific linkage revelation 2 hello world")
	offset, err := carol.w.Decrypt(ctx, &wallet.DecryptArgs{
		Ciphertext: rev.EncryptedLinkage,
		KeyArgs:    wallet.KeyArgs{ProtocolID: revealProtocol, KeyID: "7", Counterparty: alice.hex},
	}, origin)
	require.NoError(t, err)
	proof, err := carol.w.Decrypt(ctx, &wallet.DecryptArgs{
		Ciphertext: rev.EncryptedLinkageProof,
		KeyArgs:    wallet.KeyArgs{ProtocolID: revealProtocol, KeyID: "7", Counterparty: alice.hex},
	}, origin)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, []byte(proof.Plaintext))

	// Alice's child key for Bob is her identity key plus offset·G.
	var k secp256k1.ModNScalar
	require.False(t, k.SetByteSlice(offset.Plaintext))
	var base, tweak, sum secp256k1.JacobianPoint
	alice.priv.PubKey().AsJacobian(&base)
	secp256k1.ScalarBaseMultNonConst(&k, &tweak)
	secp256k1.AddNonConst(&base, &tweak, &sum)
	sum.ToAffine()
	expected := keys.PublicKeyHex(secp256k1.NewPublicKey(&sum.X, &sum.Y))

	child, err := alice.w.GetPublicKey(ctx, &wallet.GetPublicKeyArgs{
		KeyArgs: wallet.KeyArgs{ProtocolID: testProtocol, KeyID: "7", Counterparty: bob.hex},
		ForSelf: true,
	}, origin)
	require.NoError(t, err)
	assert.Equal(t, expected, child.PublicKey)
}

func TestWallet_ActionLifecycle(t *testing.T) {
	t.Parallel()
	p := newWallet(t, nil)
	ctx := context.Background()
	no := false

	created, err := p.w.CreateAction(ctx, &wallet.CreateActionArgs{
		Description: "mint a token",
		Labels:      []string{"minting"},
		Inputs: []wallet.CreateActionInput{{
			Outpoint:              txid(1) + ".0",
			InputDescription:      "external coin",
			UnlockingScriptLength: txbuilder.P2PKHUnlockingScriptLength,
		}},
		Outputs: []wallet.CreateActionOutput{{
			LockingScript:     "76a91400000000000000000000000000000000000000000088ac",
			Satoshis:          1,
			OutputDescription: "token",
			Basket:            "tokens",
			Tags:              []string{"mint"},
		}},
		Options: wallet.CreateActionOptions{SignAndProcess: &no},
	}, origin)
	require.NoError(t, err)
	require.NotNil(t, created.SignableTransaction)
	assert.Equal(t, string(txbuilder.StatusUnsigned), created.Status)
	ref := created.SignableTransaction.Reference
	require.NotEmpty(t, ref)
	_, err = txbuilder.DecodeBEEF(created.SignableTransaction.Tx)
	require.NoError(t, err)

	// A failed attempt leaves the reference usable.
	_, err = p.w.SignAction(ctx, &wallet.SignActionArgs{
		Reference: ref,
		Spends:    map[uint32]wallet.SignActionSpend{},
	}, origin)
	require.Error(t, err)

	signed, err := p.w.SignAction(ctx, &wallet.SignActionArgs{
		Reference: ref,
		Spends:    map[uint32]wallet.SignActionSpend{0: {UnlockingScript: "51"}},
	}, origin)
	require.NoError(t, err)
	require.Len(t, signed.Txid, 64)

	_, err = p.w.AbortAction(ctx, &wallet.AbortActionArgs{Reference: ref}, origin)
	requireCode(t, err, walleterr.ErrTxNotFound)
	_, err = p.w.SignAction(ctx, &wallet.SignActionArgs{
		Reference: ref,
		Spends:    map[uint32]wallet.SignActionSpend{0: {UnlockingScript: "51"}},
	}, origin)
	requireCode(t, err, walleterr.ErrTxNotFound)

	outputs, err := p.w.ListOutputs(ctx, &wallet.ListOutputsArgs{
		Basket:      "tokens",
		Include:     wallet.IncludeLockingScripts,
		IncludeTags: true,
	}, origin)
	require.NoError(t, err)
	require.Equal(t, 1, outputs.TotalOutputs)
	out := outputs.Outputs[0]
	assert.Equal(t, signed.Txid+".0", out.Outpoint)
	assert.Equal(t, "76a91400000000000000000000000000000000000000000088ac", out.LockingScript)
	assert.Equal(t, []string{"mint"}, out.Tags)

	bare, err := p.w.ListOutputs(ctx, &wallet.ListOutputsArgs{Basket: "tokens"}, origin)
	require.NoError(t, err)
	assert.Empty(t, bare.Outputs[0].LockingScript)
	assert.Empty(t, bare.Outputs[0].Tags)

	actions, err := p.w.ListActions(ctx, &wallet.ListActionsArgs{
		Labels:         []string{"minting"},
		IncludeLabels:  true,
		IncludeOutputs: true,
	}, origin)
	require.NoError(t, err)
	require.Equal(t, 1, actions.TotalActions)
	action := actions.Actions[0]
	assert.Equal(t, signed.Txid, action.Txid)
	assert.Equal(t, []string{"minting"}, action.Labels)
	require.NotEmpty(t, action.Outputs)
	for _, o := range action.Outputs {
		assert.Empty(t, o.LockingScript)
	}

	withScripts, err := p.w.ListActions(ctx, &wallet.ListActionsArgs{
		Labels:                      []string{"minting"},
		IncludeOutputs:              true,
		IncludeOutputLockingScripts: true,
	}, origin)
	require.NoError(t, err)
	assert.NotEmpty(t, withScripts.Actions[0].Outputs[0].LockingScript)

	rel, err := p.w.RelinquishOutput(ctx, &wallet.RelinquishOutputArgs{Basket: "tokens", Output: out.Outpoint}, origin)
	require.NoError(t, err)
	assert.True(t, rel.Relinquished)
	_, err = p.w.RelinquishOutput(ctx, &wallet.RelinquishOutputArgs{Basket: "tokens", Output: out.Outpoint}, origin)
	requireCode(t, err, walleterr.ErrOutputNotFound)

	after, err := p.w.ListOutputs(ctx, &wallet.ListOutputsArgs{Basket: "tokens"}, origin)
	require.NoError(t, err)
	assert.Equal(t, 0, after.TotalOutputs)
}

func TestWallet_ActionValidation(t *testing.T) {
	t.Parallel()
	p := newWallet(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args *wallet.CreateActionArgs
		want *walleterr.WalletError
	}{
		{"short description", &wallet.CreateActionArgs{Description: "abc"}, walleterr.ErrInvalidDescription},
		{"bad outpoint", &wallet.CreateActionArgs{
			Description: "valid description",
			Inputs:      []wallet.CreateActionInput{{Outpoint: "nope", UnlockingScript: "51"}},
		}, walleterr.ErrInvalidInput},
		{"bad script hex", &wallet.CreateActionArgs{
			Description: "valid description",
			Outputs:     []wallet.CreateActionOutput{{LockingScript: "xyz", Satoshis: 1}},
		}, walleterr.ErrInvalidInput},
		{"reserved basket", &wallet.CreateActionArgs{
			Description: "valid description",
			Inputs:      []wallet.CreateActionInput{{Outpoint: txid(3) + ".0", UnlockingScript: "51"}},
			Outputs:     []wallet.CreateActionOutput{{LockingScript: "51", Satoshis: 1, Basket: "default"}},
		}, walleterr.ErrInvalidBasketName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.w.CreateAction(ctx, tt.args, origin)
			requireCode(t, err, tt.want)
		})
	}

	_, err := p.w.ListOutputs(ctx, &wallet.ListOutputsArgs{Basket: "tokens", Include: "everything"}, origin)
	requireCode(t, err, walleterr.ErrInvalidInput)
	_, err = p.w.ListActions(ctx, &wallet.ListActionsArgs{LabelQueryMode: "some"}, origin)
	requireCode(t, err, walleterr.ErrInvalidInput)
	_, err = p.w.RelinquishOutput(ctx, &wallet.RelinquishOutputArgs{Basket: "tokens", Output: "bad"}, origin)
	requireCode(t, err, walleterr.ErrInvalidInput)
}

func TestWallet_InternalizeAction(t *testing.T) {
	t.Parallel()
	p := newWallet(t, nil)
	ctx := context.Background()

	tx := wire.NewMsgTx(1)
	prev := chainhash.Hash{0x07}
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(5, []byte{0x51}))
	beef, err := txbuilder.EncodeBEEF(tx)
	require.NoError(t, err)

	args := &wallet.InternalizeActionArgs{
		Tx:          beef,
		Description: "received a token",
		Labels:      []string{"inbound"},
		Outputs: []wallet.InternalizeOutput{{
			OutputIndex: 0,
			Protocol:    txbuilder.ProtocolBasketInsertion,
			InsertionRemittance: &wallet.InsertionRemittance{
				Basket: "received tokens",
				Tags:   []string{"gift"},
			},
		}},
	}
	res, err := p.w.InternalizeAction(ctx, args, origin)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, tx.TxHash().String(), res.Txid)

	list, err := p.w.ListOutputs(ctx, &wallet.ListOutputsArgs{Basket: "received tokens", Tags: []string{"gift"}}, origin)
	require.NoError(t, err)
	require.Equal(t, 1, list.TotalOutputs)
	assert.Equal(t, uint64(5), list.Outputs[0].Satoshis)

	actions, err := p.w.ListActions(ctx, &wallet.ListActionsArgs{Labels: []string{"inbound"}}, origin)
	require.NoError(t, err)
	assert.Equal(t, 1, actions.TotalActions)

	_, err = p.w.InternalizeAction(ctx, &wallet.InternalizeActionArgs{
		Tx:          beef,
		Description: "received a token",
		Outputs:     []wallet.InternalizeOutput{{OutputIndex: 0, Protocol: "teleport"}},
	}, origin)
	requireCode(t, err, walleterr.ErrInvalidInput)
}

func TestWallet_Certificates(t *testing.T) {
	t.Parallel()
	subject := newWallet(t, nil)
	ctx := context.Background()

	certifierKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	certifierOps := cryptoops.New(keys.NewDeriver(certifierKey))
	verifierKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	verifierOps := cryptoops.New(keys.NewDeriver(verifierKey))

	fields, keyring, err := certs.IssueFields(certifierOps, subject.priv.PubKey(), map[string]string{
		"name":  "Alice",
		"email": "alice@example.com",
	})
	require.NoError(t, err)
	c := &certs.Certificate{
		Type:               "aWRlbnRpdHk=",
		Subject:            subject.hex,
		SerialNumber:       "c2VyaWFs",
		Certifier:          keys.PublicKeyHex(certifierKey.PubKey()),
		RevocationOutpoint: strings.Repeat("ab", 32) + ".0",
		Fields:             fields,
		Keyring:            keyring,
	}
	require.NoError(t, certs.Sign(certifierOps, c))

	got, err := subject.w.AcquireCertificate(ctx, &certs.AcquireRequest{
		Type:                c.Type,
		Certifier:           c.Certifier,
		AcquisitionProtocol: certs.AcquireDirect,
		Fields:              c.Fields,
		SerialNumber:        c.SerialNumber,
		RevocationOutpoint:  c.RevocationOutpoint,
		Signature:           c.Signature,
		KeyringRevealer:     certs.RevealerCertifier,
		KeyringForSubject:   c.Keyring,
	}, origin)
	require.NoError(t, err)
	assert.Nil(t, got.Keyring)

	list, err := subject.w.ListCertificates(ctx, &certs.ListRequest{Types: []string{c.Type}}, origin)
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCertificates)

	proof, err := subject.w.ProveCertificate(ctx, &certs.ProveRequest{
		Certificate:    c.Key(),
		FieldsToReveal: []string{"name", "age"},
		Verifier:       keys.PublicKeyHex(verifierKey.PubKey()),
	}, origin)
	require.NoError(t, err)
	assert.Contains(t, proof.KeyringForVerifier, "name")
	assert.NotContains(t, proof.KeyringForVerifier, "age")
	assert.NotContains(t, proof.KeyringForVerifier, "email")

	revealed, err := certs.DecryptRevealed(verifierOps, c, proof.KeyringForVerifier)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Alice"}, revealed)

	key := c.Key()
	rel, err := subject.w.RelinquishCertificate(ctx, &key, origin)
	require.NoError(t, err)
	assert.True(t, rel.Relinquished)
	_, err = subject.w.RelinquishCertificate(ctx, &key, origin)
	requireCode(t, err, walleterr.ErrCertificateNotFound)

	_, err = subject.w.DiscoverByIdentityKey(ctx, &certs.DiscoverByIdentityRequest{IdentityKey: subject.hex}, origin)
	requireCode(t, err, walleterr.ErrDiscoveryUnavailable)
	_, err = subject.w.DiscoverByAttributes(ctx, &certs.DiscoverByAttributesRequest{Attributes: map[string]string{"name": "Alice"}}, origin)
	requireCode(t, err, walleterr.ErrDiscoveryUnavailable)
}

func TestWallet_StateSurvivesRelock(t *testing.T) {
	t.Parallel()
	p := newWallet(t, nil)
	ctx := context.Background()

	_, err := p.w.CreateAction(ctx, &wallet.CreateActionArgs{
		Description: "move a token",
		Inputs:      []wallet.CreateActionInput{{Outpoint: txid(5) + ".1", UnlockingScript: "51"}},
		Outputs:     []wallet.CreateActionOutput{{LockingScript: "51", Satoshis: 3, Basket: "tokens"}},
	}, origin)
	require.NoError(t, err)

	p.w.Lock()
	require.NoError(t, p.w.Unlock(p.priv, 0))

	list, err := p.w.ListOutputs(ctx, &wallet.ListOutputsArgs{Basket: "tokens"}, origin)
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalOutputs)
}
