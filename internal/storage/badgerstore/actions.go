package badgerstore

import (
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mrz1836/brcwallet/internal/txbuilder"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// PutDraft implements txbuilder.PendingStore.
func (s *Store) PutDraft(d *txbuilder.Draft) error {
	return storageError(s.db.Upsert(d.Reference, d), "saving draft %s", d.Reference)
}

// ClaimDraft implements txbuilder.PendingStore. The read and delete share a
// transaction, so of two concurrent claims one conflicts and loses.
func (s *Store) ClaimDraft(reference string) (*txbuilder.Draft, error) {
	notFound := walleterr.WithContext(walleterr.ErrTxNotFound, map[string]string{"reference": reference})

	var d txbuilder.Draft
	err := s.update(func(txn *badger.Txn) error {
		if err := s.db.TxGet(txn, reference, &d); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return notFound
			}
			return err
		}
		return s.db.TxDelete(txn, reference, txbuilder.Draft{})
	}, notFound)
	if err != nil {
		return nil, storageError(err, "claiming draft %s", reference)
	}
	return &d, nil
}

// SaveAction implements txbuilder.ActionStore.
func (s *Store) SaveAction(a *txbuilder.Action) error {
	return storageError(s.db.Upsert(a.Txid, a), "saving action %s", a.Txid)
}

// GetAction implements txbuilder.ActionStore.
func (s *Store) GetAction(txid string) (*txbuilder.Action, error) {
	var a txbuilder.Action
	if err := s.db.Get(txid, &a); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, walleterr.WithContext(walleterr.ErrTxNotFound, map[string]string{"txid": txid})
		}
		return nil, storageError(err, "reading action %s", txid)
	}
	return &a, nil
}

// ListActions implements txbuilder.ActionStore.
func (s *Store) ListActions() ([]txbuilder.Action, error) {
	var actions []txbuilder.Action
	if err := s.db.Find(&actions, nil); err != nil {
		return nil, storageError(err, "listing actions")
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].Txid < actions[j].Txid
		}
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
	return actions, nil
}

// UpdateActionStatus implements txbuilder.ActionStore.
func (s *Store) UpdateActionStatus(txid string, status txbuilder.ActionStatus) error {
	err := s.update(func(txn *badger.Txn) error {
		var a txbuilder.Action
		if err := s.db.TxGet(txn, txid, &a); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return walleterr.WithContext(walleterr.ErrTxNotFound, map[string]string{"txid": txid})
			}
			return err
		}
		a.Status = status
		return s.db.TxUpdate(txn, txid, &a)
	}, nil)
	return storageError(err, "updating action %s", txid)
}
