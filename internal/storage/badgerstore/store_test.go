package badgerstore_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/basket"
	"github.com/mrz1836/brcwallet/internal/certs"
	"github.com/mrz1836/brcwallet/internal/keys"
	"github.com/mrz1836/brcwallet/internal/storage/badgerstore"
	"github.com/mrz1836/brcwallet/internal/txbuilder"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

var (
	_ basket.Store           = (*badgerstore.Store)(nil)
	_ txbuilder.PendingStore = (*badgerstore.Store)(nil)
	_ txbuilder.ActionStore  = (*badgerstore.Store)(nil)
	_ certs.Store            = (*badgerstore.Store)(nil)
)

func openMemory(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func txid(n int) string {
	return fmt.Sprintf("%064x", n)
}

func output(basketName string, n int, sats uint64) basket.Output {
	return basket.Output{
		Outpoint:      basket.Outpoint{Txid: txid(n), Index: uint32(n % 3)}, //nolint:gosec // small test values
		Satoshis:      sats,
		LockingScript: []byte{0x51},
		Tags:          []string{"t"},
		Spendable:     true,
		Basket:        basketName,
	}
}

func TestBasketStore_WithManager(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	m, err := basket.NewManager(&basket.Config{Store: s})
	require.NoError(t, err)

	require.NoError(t, m.AddOutputs([]basket.Output{
		output("payments", 1, 100),
		output("payments", 2, 200),
		output("payments", 3, 300),
	}))
	require.NoError(t, m.AddOutput("tokens", output("", 4, 1)))

	names, err := s.Baskets()
	require.NoError(t, err)
	assert.Equal(t, []string{"payments", "tokens"}, names)

	selected, err := m.GetSpendableOutputs("payments", 500)
	require.NoError(t, err)
	var total uint64
	for _, o := range selected {
		total += o.Satoshis
	}
	assert.GreaterOrEqual(t, total, uint64(500))

	_, err = m.GetSpendableOutputs("payments", 10_000)
	require.ErrorIs(t, err, walleterr.ErrInsufficientFunds)

	outs, err := s.Outputs("payments")
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Less(t, outs[0].Seq, outs[1].Seq)
	assert.Less(t, outs[1].Seq, outs[2].Seq)

	seq, err := s.MaxSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestBasketStore_DeleteAllOrNothing(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	present := output("payments", 1, 100)
	require.NoError(t, s.SaveOutputs([]basket.Output{present}))

	err := s.DeleteOutputs([]basket.Output{present, output("payments", 9, 1)})
	require.ErrorIs(t, err, walleterr.ErrOutputNotFound)

	outs, err := s.Outputs("payments")
	require.NoError(t, err)
	assert.Len(t, outs, 1, "nothing is removed when one output is missing")

	require.NoError(t, s.DeleteOutputs([]basket.Output{present}))
	outs, err = s.Outputs("payments")
	require.NoError(t, err)
	assert.Empty(t, outs)
}

func TestBasketStore_Locate(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	require.NoError(t, s.SaveOutputs([]basket.Output{
		output("payments", 1, 100),
		output("tokens", 2, 1),
	}))

	found, err := s.Locate([]basket.Outpoint{
		{Txid: txid(2), Index: 2},
		{Txid: txid(1), Index: 0}, // wrong index
		{Txid: txid(8), Index: 2},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "tokens", found[0].Basket)

	found, err = s.Locate(nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestBasketStore_ManagerRejectsSecondBasket(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	m, err := basket.NewManager(&basket.Config{Store: s})
	require.NoError(t, err)

	require.NoError(t, m.AddOutput("payments", output("", 1, 100)))
	_, err = m.ReserveSpendable("payments", 100)
	require.NoError(t, err)

	err = m.AddOutput("tokens", output("", 1, 100))
	require.ErrorIs(t, err, walleterr.ErrInvalidInput)

	require.NoError(t, m.AddOutput("payments", output("", 1, 100)))
	balance, err := m.Balance("payments")
	require.NoError(t, err)
	assert.Zero(t, balance, "re-adding keeps the reservation")
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := badgerstore.Open(dir, nil)
	require.NoError(t, err)
	o := output("payments", 1, 100)
	o.Seq = 7
	require.NoError(t, s.SaveOutputs([]basket.Output{o}))
	require.NoError(t, s.SaveAction(&txbuilder.Action{
		Txid:        txid(5),
		Description: "pay the plumber",
		Status:      txbuilder.StatusUnproven,
		RawTx:       []byte{0x01, 0x02},
		CreatedAt:   time.Unix(1_700_000_000, 123),
	}))
	require.NoError(t, s.Close())

	s, err = badgerstore.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	outs, err := s.Outputs("payments")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, o, outs[0])

	a, err := s.GetAction(txid(5))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, a.RawTx)
	assert.True(t, a.CreatedAt.Equal(time.Unix(1_700_000_000, 123)))
}

func TestPendingStore_ClaimOnce(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	require.NoError(t, s.PutDraft(&txbuilder.Draft{
		Reference:   "ref-1",
		RawTx:       []byte{0x01},
		Description: "mint a token",
		Labels:      []string{"tokens"},
	}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.ClaimDraft("ref-1")
			if err == nil {
				wins.Add(1)
				assert.Equal(t, "mint a token", d.Description)
				return
			}
			assert.ErrorIs(t, err, walleterr.ErrTxNotFound)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err := s.ClaimDraft("ref-1")
	require.ErrorIs(t, err, walleterr.ErrTxNotFound)
}

func TestActionStore(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	base := time.Unix(1_700_000_000, 0)
	for i := 3; i >= 1; i-- {
		require.NoError(t, s.SaveAction(&txbuilder.Action{
			Txid:        txid(i),
			Description: "action number",
			Status:      txbuilder.StatusUnproven,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.ListActions()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, txid(1), all[0].Txid)
	assert.Equal(t, txid(3), all[2].Txid)

	require.NoError(t, s.UpdateActionStatus(txid(2), txbuilder.StatusCompleted))
	a, err := s.GetAction(txid(2))
	require.NoError(t, err)
	assert.Equal(t, txbuilder.StatusCompleted, a.Status)

	require.ErrorIs(t, s.UpdateActionStatus(txid(9), txbuilder.StatusFailed), walleterr.ErrTxNotFound)
	_, err = s.GetAction(txid(9))
	require.ErrorIs(t, err, walleterr.ErrTxNotFound)
}

func TestBuilder_OnBadgerStore(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	m, err := basket.NewManager(&basket.Config{Store: s})
	require.NoError(t, err)
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	b := txbuilder.NewBuilder(&txbuilder.Config{
		Baskets: m,
		Pending: s,
		Actions: s,
		Scripts: txbuilder.NewP2PKHScripts(keys.NewDeriver(priv)),
	})

	signAndProcess := false
	res, err := b.CreateTransaction(context.Background(), &txbuilder.CreateRequest{
		Description: "mint a token",
		Inputs: []txbuilder.InputSpec{{
			Outpoint:              basket.Outpoint{Txid: txid(1), Index: 0},
			UnlockingScriptLength: txbuilder.P2PKHUnlockingScriptLength,
		}},
		Outputs: []txbuilder.OutputSpec{{
			LockingScript: []byte{0x51},
			Satoshis:      1,
			Basket:        "tokens",
		}},
		Options: txbuilder.Options{SignAndProcess: &signAndProcess, NoSend: true},
	})
	require.NoError(t, err)
	require.NotNil(t, res.SignableTransaction)

	signed, err := b.SignTransaction(context.Background(), res.SignableTransaction.Reference,
		map[uint32]txbuilder.Spend{0: {UnlockingScript: []byte{0x00}}})
	require.NoError(t, err)

	outs, err := s.Outputs("tokens")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, signed.Txid, outs[0].Outpoint.Txid)

	err = b.AbortTransaction(res.SignableTransaction.Reference)
	require.ErrorIs(t, err, walleterr.ErrTxNotFound)
}

func TestCertificateStore(t *testing.T) {
	t.Parallel()
	s := openMemory(t)
	c := &certs.Certificate{
		Type:               base64.StdEncoding.EncodeToString([]byte("identity")),
		SerialNumber:       base64.StdEncoding.EncodeToString([]byte("serial")),
		Certifier:          "02" + strings.Repeat("ab", 32),
		Subject:            "03" + strings.Repeat("cd", 32),
		RevocationOutpoint: txid(1) + ".0",
		Signature:          "3006020101020101",
		Fields:             map[string]string{"name": "QWxpY2U="},
		Keyring:            map[string]string{"name": "a2V5"},
		AcquiredAt:         time.Unix(1_700_000_000, 0).UTC(),
	}

	stored, inserted, err := s.InsertCertificate(c)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, c.Keyring, stored.Keyring)

	again := *c
	again.Signature = "3006020102020102"
	stored, inserted, err = s.InsertCertificate(&again)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, c.Signature, stored.Signature, "the first certificate is kept")

	got, err := s.GetCertificate(c.Key())
	require.NoError(t, err)
	assert.Equal(t, c.Fields, got.Fields)
	assert.True(t, c.AcquiredAt.Equal(got.AcquiredAt))

	all, err := s.ListCertificates()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteCertificate(c.Key()))
	require.ErrorIs(t, s.DeleteCertificate(c.Key()), walleterr.ErrCertificateNotFound)
	_, err = s.GetCertificate(c.Key())
	require.ErrorIs(t, err, walleterr.ErrCertificateNotFound)
}

func TestStore_BackupRestore(t *testing.T) {
	t.Parallel()
	src := openMemory(t)
	require.NoError(t, src.SaveOutputs([]basket.Output{output("default", 1, 1000), output("tokens", 2, 1)}))
	require.NoError(t, src.SaveAction(&txbuilder.Action{Txid: txid(9), Description: "restored action"}))

	var snapshot bytes.Buffer
	require.NoError(t, src.Backup(&snapshot))

	dst := openMemory(t)
	require.NoError(t, dst.Restore(&snapshot))

	names, err := dst.Baskets()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"default", "tokens"}, names)

	outs, err := dst.Outputs("default")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, uint64(1000), outs[0].Satoshis)

	a, err := dst.GetAction(txid(9))
	require.NoError(t, err)
	assert.Equal(t, "restored action", a.Description)
}
