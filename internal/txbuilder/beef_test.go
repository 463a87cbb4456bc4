package txbuilder

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

func sampleTx(t *testing.T, n byte, sats int64) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(1)
	prev := chainhash.Hash{n}
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(sats, []byte{0x76, 0xa9}))
	return tx
}

func sampleBump() []byte {
	bump := []byte{0x64, 0x01, 0x02, 0x00, 0x02}
	bump = append(bump, bytes.Repeat([]byte{0xab}, 32)...)
	return append(bump, 0x01, 0x01)
}

func TestBEEF_RoundTrip(t *testing.T) {
	t.Parallel()
	parent := sampleTx(t, 1, 5000)
	child := sampleTx(t, 2, 4000)
	idx := uint64(0)

	in := &BEEF{
		Bumps: [][]byte{sampleBump()},
		Txs:   []BEEFTx{{Tx: parent, BumpIndex: &idx}, {Tx: child}},
	}
	data, err := in.Bytes()
	require.NoError(t, err)
	assert.Equal(t, uint32(BEEFVersion1), binary.LittleEndian.Uint32(data[:4]))

	out, err := DecodeBEEF(data)
	require.NoError(t, err)
	require.Len(t, out.Txs, 2)
	assert.Equal(t, [][]byte{sampleBump()}, out.Bumps)
	require.NotNil(t, out.Txs[0].BumpIndex)
	assert.Equal(t, uint64(0), *out.Txs[0].BumpIndex)
	assert.Nil(t, out.Txs[1].BumpIndex)
	assert.Equal(t, child.TxHash(), out.Subject().TxHash())
}

func TestDecodeBEEF_Malformed(t *testing.T) {
	t.Parallel()
	good, err := EncodeBEEF(sampleTx(t, 3, 1000))
	require.NoError(t, err)

	badVersion := append([]byte{}, good...)
	binary.LittleEndian.PutUint32(badVersion, 0x0100BEEF)

	badFlag := append([]byte{}, good...)
	badFlag[len(badFlag)-1] = 7

	noTxs := []byte{0x01, 0x00, 0xbe, 0xef, 0x00, 0x00}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad version", badVersion},
		{"trailing bytes", append(append([]byte{}, good...), 0x00)},
		{"truncated", good[:len(good)-3]},
		{"bad bump flag", badFlag},
		{"no transactions", noTxs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeBEEF(tt.data)
			require.ErrorIs(t, err, walleterr.ErrInvalidTransaction)
		})
	}
}

// v2Entry is one transaction of a hand-built V2 envelope.
type v2Entry struct {
	tx     *wire.MsgTx
	txid   *chainhash.Hash
	bumpAt int
}

func encodeV2(t *testing.T, bumps [][]byte, entries ...v2Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	var version [4]byte
	binary.LittleEndian.PutUint32(version[:], BEEFVersion2)
	buf.Write(version[:])
	require.NoError(t, wire.WriteVarInt(&buf, 0, uint64(len(bumps))))
	for _, b := range bumps {
		buf.Write(b)
	}
	require.NoError(t, wire.WriteVarInt(&buf, 0, uint64(len(entries))))
	for _, e := range entries {
		switch {
		case e.txid != nil:
			buf.WriteByte(2)
			buf.Write(e.txid[:])
		case e.bumpAt >= 0:
			buf.WriteByte(1)
			require.NoError(t, wire.WriteVarInt(&buf, 0, uint64(e.bumpAt)))
			require.NoError(t, e.tx.SerializeNoWitness(&buf))
		default:
			buf.WriteByte(0)
			require.NoError(t, e.tx.SerializeNoWitness(&buf))
		}
	}
	return buf.Bytes()
}

// bumpFor proves txid as the left leaf of a two leaf block.
func bumpFor(txid chainhash.Hash) []byte {
	bump := []byte{0x64, 0x01, 0x02, 0x00, 0x02}
	bump = append(bump, txid[:]...)
	return append(bump, 0x01, 0x01)
}

func spending(parent *wire.MsgTx, sats int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	hash := parent.TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, 0), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(sats, []byte{0x76, 0xa9}))
	return tx
}

func TestDecodeBEEF_V2(t *testing.T) {
	t.Parallel()
	grandparent := sampleTx(t, 9, 9000)
	parent := spending(grandparent, 8000)
	child := spending(parent, 7000)
	known := grandparent.TxHash()

	// Listed child first: the decoder restores ancestor order.
	data := encodeV2(t, [][]byte{bumpFor(parent.TxHash())},
		v2Entry{tx: child, bumpAt: -1},
		v2Entry{txid: &known, bumpAt: -1},
		v2Entry{tx: parent, bumpAt: 0},
	)

	beef, err := DecodeBEEF(data)
	require.NoError(t, err)
	require.Len(t, beef.Txs, 2, "txid-only entries are dropped")
	assert.Equal(t, parent.TxHash(), beef.Txs[0].Tx.TxHash())
	require.NotNil(t, beef.Txs[0].BumpIndex)
	assert.Equal(t, uint64(0), *beef.Txs[0].BumpIndex)
	assert.Equal(t, child.TxHash(), beef.Subject().TxHash())
	assert.Equal(t, [][]byte{bumpFor(parent.TxHash())}, beef.Bumps)

	// Normalized output is a V1 envelope.
	v1, err := beef.Bytes()
	require.NoError(t, err)
	assert.Equal(t, BEEFVersion1, binary.LittleEndian.Uint32(v1[:4]))
}

func TestDecodeBEEF_Atomic(t *testing.T) {
	t.Parallel()
	parent := sampleTx(t, 4, 5000)
	child := spending(parent, 4000)
	inner, err := EncodeBEEF(parent, child)
	require.NoError(t, err)

	atomic := func(subject chainhash.Hash, body []byte) []byte {
		out := make([]byte, 4, 4+chainhash.HashSize+len(body))
		binary.LittleEndian.PutUint32(out, AtomicBEEFPrefix)
		out = append(out, subject[:]...)
		return append(out, body...)
	}

	beef, err := DecodeBEEF(atomic(child.TxHash(), inner))
	require.NoError(t, err)
	assert.Equal(t, child.TxHash(), beef.Subject().TxHash())

	v2 := encodeV2(t, nil, v2Entry{tx: child, bumpAt: -1}, v2Entry{tx: parent, bumpAt: -1})
	beef, err = DecodeBEEF(atomic(child.TxHash(), v2))
	require.NoError(t, err)
	require.Len(t, beef.Txs, 2)
	assert.Equal(t, child.TxHash(), beef.Subject().TxHash())

	_, err = DecodeBEEF(atomic(parent.TxHash(), inner))
	require.ErrorIs(t, err, walleterr.ErrInvalidTransaction)

	_, err = DecodeBEEF(atomic(child.TxHash(), nil)[:20])
	require.ErrorIs(t, err, walleterr.ErrInvalidTransaction)
}

func TestDecodeBEEF_V2Malformed(t *testing.T) {
	t.Parallel()
	good := encodeV2(t, nil, v2Entry{tx: sampleTx(t, 5, 100), bumpAt: -1})

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", good[:len(good)-2]},
		{"only txids", encodeV2(t, nil, v2Entry{txid: &chainhash.Hash{0x01}, bumpAt: -1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeBEEF(tt.data)
			require.ErrorIs(t, err, walleterr.ErrInvalidTransaction)
		})
	}
}
