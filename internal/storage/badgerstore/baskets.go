package badgerstore

import (
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mrz1836/brcwallet/internal/basket"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// outputRecord is the stored form of a basket output.
type outputRecord struct {
	Basket string
	Txid   string
	Seq    uint64
	Output basket.Output
}

func outputKey(basketName string, op basket.Outpoint) string {
	return basketName + "/" + op.String()
}

// Baskets implements basket.Store.
func (s *Store) Baskets() ([]string, error) {
	var recs []outputRecord
	if err := s.db.Find(&recs, nil); err != nil {
		return nil, storageError(err, "listing baskets")
	}
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, r := range recs {
		if _, ok := seen[r.Basket]; ok {
			continue
		}
		seen[r.Basket] = struct{}{}
		names = append(names, r.Basket)
	}
	sort.Strings(names)
	return names, nil
}

// Outputs implements basket.Store.
func (s *Store) Outputs(basketName string) ([]basket.Output, error) {
	var recs []outputRecord
	if err := s.db.Find(&recs, badgerhold.Where("Basket").Eq(basketName)); err != nil {
		return nil, storageError(err, "reading basket %q", basketName)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	out := make([]basket.Output, len(recs))
	for i, r := range recs {
		out[i] = r.Output
	}
	return out, nil
}

// SaveOutputs implements basket.Store.
func (s *Store) SaveOutputs(outputs []basket.Output) error {
	err := s.update(func(txn *badger.Txn) error {
		for _, o := range outputs {
			rec := outputRecord{Basket: o.Basket, Txid: o.Outpoint.Txid, Seq: o.Seq, Output: o}
			if err := s.db.TxUpsert(txn, outputKey(o.Basket, o.Outpoint), &rec); err != nil {
				return err
			}
		}
		return nil
	}, nil)
	return storageError(err, "saving %d outputs", len(outputs))
}

// DeleteOutputs implements basket.Store.
func (s *Store) DeleteOutputs(outputs []basket.Output) error {
	err := s.update(func(txn *badger.Txn) error {
		for _, o := range outputs {
			key := outputKey(o.Basket, o.Outpoint)
			var rec outputRecord
			if err := s.db.TxGet(txn, key, &rec); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return walleterr.WithContext(walleterr.ErrOutputNotFound, map[string]string{
						"basket":   o.Basket,
						"outpoint": o.Outpoint.String(),
					})
				}
				return err
			}
			if err := s.db.TxDelete(txn, key, outputRecord{}); err != nil {
				return err
			}
		}
		return nil
	}, nil)
	return storageError(err, "deleting %d outputs", len(outputs))
}

// Locate implements basket.Store.
func (s *Store) Locate(outpoints []basket.Outpoint) ([]basket.Output, error) {
	if len(outpoints) == 0 {
		return nil, nil
	}
	want := make(map[basket.Outpoint]struct{}, len(outpoints))
	txids := make([]interface{}, 0, len(outpoints))
	for _, op := range outpoints {
		if _, ok := want[op]; !ok {
			txids = append(txids, op.Txid)
		}
		want[op] = struct{}{}
	}

	var recs []outputRecord
	if err := s.db.Find(&recs, badgerhold.Where("Txid").In(txids...)); err != nil {
		return nil, storageError(err, "locating %d outputs", len(outpoints))
	}
	var found []basket.Output
	for _, r := range recs {
		if _, ok := want[r.Output.Outpoint]; ok {
			found = append(found, r.Output)
		}
	}
	return found, nil
}

// MaxSeq implements basket.Store.
func (s *Store) MaxSeq() (uint64, error) {
	var recs []outputRecord
	if err := s.db.Find(&recs, nil); err != nil {
		return 0, storageError(err, "reading output sequence")
	}
	var highest uint64
	for _, r := range recs {
		highest = max(highest, r.Seq)
	}
	return highest, nil
}
