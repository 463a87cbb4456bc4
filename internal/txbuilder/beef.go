package txbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Envelope version markers, read little-endian.
const (
	// BEEFVersion1 marks a V1 BEEF envelope (BRC-62).
	BEEFVersion1 uint32 = 0xEFBE0001
	// BEEFVersion2 marks a V2 envelope, which may carry txid-only entries.
	BEEFVersion2 uint32 = 0xEFBE0002
	// AtomicBEEFPrefix marks an Atomic BEEF envelope (BRC-95): the prefix is
	// followed by the subject txid and a V1 or V2 envelope.
	AtomicBEEFPrefix uint32 = 0x01010101
)

const maxBEEFItems = 100_000

// BEEFTx is one transaction of an envelope. BumpIndex is set when the
// transaction is mined and proven by Bumps[*BumpIndex].
type BEEFTx struct {
	Tx        *wire.MsgTx
	BumpIndex *uint64
}

// BEEF is a decoded envelope. Merkle paths are carried as opaque bytes.
type BEEF struct {
	Bumps [][]byte
	Txs   []BEEFTx
}

// Subject returns the last transaction, the one the envelope is about.
func (b *BEEF) Subject() *wire.MsgTx {
	if len(b.Txs) == 0 {
		return nil
	}
	return b.Txs[len(b.Txs)-1].Tx
}

// EncodeBEEF wraps txs, ancestors first, in an envelope with no merkle
// paths.
func EncodeBEEF(txs ...*wire.MsgTx) ([]byte, error) {
	items := make([]BEEFTx, len(txs))
	for i, tx := range txs {
		items[i] = BEEFTx{Tx: tx}
	}
	return (&BEEF{Txs: items}).Bytes()
}

// Bytes serializes the envelope.
func (b *BEEF) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	var version [4]byte
	binary.LittleEndian.PutUint32(version[:], BEEFVersion1)
	buf.Write(version[:])

	if err := wire.WriteVarInt(&buf, 0, uint64(len(b.Bumps))); err != nil {
		return nil, err
	}
	for _, bump := range b.Bumps {
		buf.Write(bump)
	}

	if err := wire.WriteVarInt(&buf, 0, uint64(len(b.Txs))); err != nil {
		return nil, err
	}
	for _, item := range b.Txs {
		if err := item.Tx.SerializeNoWitness(&buf); err != nil {
			return nil, fmt.Errorf("serializing transaction: %w", err)
		}
		if item.BumpIndex == nil {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		if err := wire.WriteVarInt(&buf, 0, *item.BumpIndex); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func invalidBEEF(format string, args ...any) error {
	return walleterr.Wrap(walleterr.ErrInvalidTransaction, "malformed BEEF: "+format, args...)
}

// DecodeBEEF parses a V1, V2 or Atomic envelope. V2 and Atomic envelopes
// are normalized to V1 form: transactions ordered ancestors first with the
// subject last, and txid-only entries dropped.
func DecodeBEEF(data []byte) (*BEEF, error) {
	if len(data) < 4 {
		return nil, invalidBEEF("missing version")
	}
	switch binary.LittleEndian.Uint32(data) {
	case BEEFVersion1:
		return decodeV1(data)
	case BEEFVersion2:
		return decodeSDK(data, nil)
	case AtomicBEEFPrefix:
		if len(data) < 4+chainhash.HashSize {
			return nil, invalidBEEF("missing atomic subject")
		}
		var subject chainhash.Hash
		copy(subject[:], data[4:4+chainhash.HashSize])
		inner := data[4+chainhash.HashSize:]
		if len(inner) >= 4 && binary.LittleEndian.Uint32(inner) == BEEFVersion1 {
			beef, err := decodeV1(inner)
			if err != nil {
				return nil, err
			}
			return beef, beef.requireSubject(subject)
		}
		return decodeSDK(inner, &subject)
	default:
		return nil, invalidBEEF("unsupported version %08x", binary.LittleEndian.Uint32(data))
	}
}

func (b *BEEF) requireSubject(subject chainhash.Hash) error {
	if s := b.Subject(); s == nil || s.TxHash() != subject {
		return invalidBEEF("atomic subject %s is not the last transaction", subject)
	}
	return nil
}

// decodeSDK parses a V2 envelope with go-sdk and rebuilds it as V1.
func decodeSDK(data []byte, subject *chainhash.Hash) (*BEEF, error) {
	parsed, err := transaction.NewBeefFromBytes(data)
	if err != nil {
		return nil, invalidBEEF("%v", err)
	}

	beef := &BEEF{}
	for i, bump := range parsed.BUMPs {
		if bump == nil {
			return nil, invalidBEEF("bump %d missing", i)
		}
		beef.Bumps = append(beef.Bumps, bump.Bytes())
	}

	items := make(map[chainhash.Hash]BEEFTx, len(parsed.Transactions))
	for _, btx := range parsed.Transactions {
		if btx == nil || btx.Transaction == nil {
			continue // txid only
		}
		tx := &wire.MsgTx{}
		if err := tx.DeserializeNoWitness(bytes.NewReader(btx.Transaction.Bytes())); err != nil {
			return nil, invalidBEEF("transaction: %v", err)
		}
		item := BEEFTx{Tx: tx}
		if btx.DataFormat == transaction.RawTxAndBumpIndex {
			if btx.BumpIndex < 0 || btx.BumpIndex >= len(beef.Bumps) {
				return nil, invalidBEEF("transaction %s: bad bump index", tx.TxHash())
			}
			idx := uint64(btx.BumpIndex) //nolint:gosec // checked above
			item.BumpIndex = &idx
		}
		items[tx.TxHash()] = item
	}
	if len(items) == 0 {
		return nil, invalidBEEF("no transactions")
	}

	ordered, err := ancestorsFirst(items, subject)
	if err != nil {
		return nil, err
	}
	beef.Txs = ordered
	return beef, nil
}

// ancestorsFirst orders items so every transaction follows the in-envelope
// transactions it spends. Ties break by txid. subject, when given, must be
// last.
func ancestorsFirst(items map[chainhash.Hash]BEEFTx, subject *chainhash.Hash) ([]BEEFTx, error) {
	pending := make(map[chainhash.Hash]int, len(items))
	children := make(map[chainhash.Hash][]chainhash.Hash)
	for id, item := range items {
		parents := make(map[chainhash.Hash]struct{})
		for _, in := range item.Tx.TxIn {
			parent := in.PreviousOutPoint.Hash
			if _, ok := items[parent]; ok && parent != id {
				parents[parent] = struct{}{}
			}
		}
		pending[id] = len(parents)
		for parent := range parents {
			children[parent] = append(children[parent], id)
		}
	}

	var ready []chainhash.Hash
	for id, n := range pending {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	ordered := make([]BEEFTx, 0, len(items))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].String() < ready[j].String() })
		next := ready[0]
		if subject != nil && next == *subject && len(ready) > 1 {
			next = ready[1]
		}
		ready = removeHash(ready, next)
		ordered = append(ordered, items[next])
		for _, child := range children[next] {
			pending[child]--
			if pending[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if len(ordered) != len(items) {
		return nil, invalidBEEF("transactions spend each other in a cycle")
	}
	if subject != nil {
		beef := &BEEF{Txs: ordered}
		if err := beef.requireSubject(*subject); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func removeHash(hashes []chainhash.Hash, h chainhash.Hash) []chainhash.Hash {
	for i := range hashes {
		if hashes[i] == h {
			return append(hashes[:i], hashes[i+1:]...)
		}
	}
	return hashes
}

func decodeV1(data []byte) (*BEEF, error) {
	invalid := invalidBEEF

	r := bytes.NewReader(data)
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, invalid("missing version")
	}
	if version != BEEFVersion1 {
		return nil, invalid("unsupported version %08x", version)
	}

	nBumps, err := wire.ReadVarInt(r, 0)
	if err != nil || nBumps > maxBEEFItems {
		return nil, invalid("bad bump count")
	}
	beef := &BEEF{}
	for i := uint64(0); i < nBumps; i++ {
		bump, err := readBump(r)
		if err != nil {
			return nil, invalid("bump %d: %v", i, err)
		}
		beef.Bumps = append(beef.Bumps, bump)
	}

	nTxs, err := wire.ReadVarInt(r, 0)
	if err != nil || nTxs == 0 || nTxs > maxBEEFItems {
		return nil, invalid("bad transaction count")
	}
	for i := uint64(0); i < nTxs; i++ {
		tx := &wire.MsgTx{}
		if err := tx.DeserializeNoWitness(r); err != nil {
			return nil, invalid("transaction %d: %v", i, err)
		}
		flag, err := r.ReadByte()
		if err != nil {
			return nil, invalid("transaction %d: missing bump flag", i)
		}
		item := BEEFTx{Tx: tx}
		switch flag {
		case 0:
		case 1:
			idx, err := wire.ReadVarInt(r, 0)
			if err != nil || idx >= nBumps {
				return nil, invalid("transaction %d: bad bump index", i)
			}
			item.BumpIndex = &idx
		default:
			return nil, invalid("transaction %d: bad bump flag %d", i, flag)
		}
		beef.Txs = append(beef.Txs, item)
	}

	if r.Len() != 0 {
		return nil, invalid("%d trailing bytes", r.Len())
	}
	return beef, nil
}

// readBump consumes one BRC-74 merkle path and returns its raw bytes.
func readBump(r *bytes.Reader) ([]byte, error) {
	start := r.Size() - int64(r.Len())

	if _, err := wire.ReadVarInt(r, 0); err != nil { // block height
		return nil, err
	}
	treeHeight, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	for level := 0; level < int(treeHeight); level++ {
		nLeaves, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if nLeaves > maxBEEFItems {
			return nil, fmt.Errorf("too many leaves")
		}
		for j := uint64(0); j < nLeaves; j++ {
			if _, err := wire.ReadVarInt(r, 0); err != nil { // offset
				return nil, err
			}
			flags, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if flags&1 == 0 {
				if r.Len() < 32 {
					return nil, io.ErrUnexpectedEOF
				}
				if _, err := r.Seek(32, io.SeekCurrent); err != nil {
					return nil, err
				}
			}
		}
	}

	end := r.Size() - int64(r.Len())
	raw := make([]byte, end-start)
	if _, err := r.ReadAt(raw, start); err != nil {
		return nil, err
	}
	return raw, nil
}
