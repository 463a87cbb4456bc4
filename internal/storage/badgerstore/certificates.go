package badgerstore

import (
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mrz1836/brcwallet/internal/certs"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

func certificateNotFound(key certs.Key) error {
	return walleterr.WithContext(walleterr.ErrCertificateNotFound, map[string]string{
		"type":         key.Type,
		"serialNumber": key.SerialNumber,
		"certifier":    key.Certifier,
	})
}

// GetCertificate implements certs.Store.
func (s *Store) GetCertificate(key certs.Key) (*certs.Certificate, error) {
	var c certs.Certificate
	if err := s.db.Get(key.String(), &c); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, certificateNotFound(key)
		}
		return nil, storageError(err, "reading certificate")
	}
	return &c, nil
}

// InsertCertificate implements certs.Store.
func (s *Store) InsertCertificate(c *certs.Certificate) (*certs.Certificate, bool, error) {
	key := c.Key().String()
	var existing certs.Certificate
	inserted := false
	err := s.update(func(txn *badger.Txn) error {
		err := s.db.TxGet(txn, key, &existing)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badgerhold.ErrNotFound):
			return err
		}
		inserted = true
		return s.db.TxInsert(txn, key, c)
	}, nil)
	if err != nil {
		return nil, false, storageError(err, "storing certificate")
	}
	if !inserted {
		return &existing, false, nil
	}
	out := *c
	return &out, true, nil
}

// DeleteCertificate implements certs.Store.
func (s *Store) DeleteCertificate(key certs.Key) error {
	err := s.update(func(txn *badger.Txn) error {
		var c certs.Certificate
		if err := s.db.TxGet(txn, key.String(), &c); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return certificateNotFound(key)
			}
			return err
		}
		return s.db.TxDelete(txn, key.String(), certs.Certificate{})
	}, nil)
	return storageError(err, "deleting certificate")
}

// ListCertificates implements certs.Store.
func (s *Store) ListCertificates() ([]certs.Certificate, error) {
	var all []certs.Certificate
	if err := s.db.Find(&all, nil); err != nil {
		return nil, storageError(err, "listing certificates")
	}
	certs.SortByAcquisition(all)
	return all, nil
}
