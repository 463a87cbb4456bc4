// Package badgerstore persists baskets, pending drafts, actions and
// certificates in an embedded badger database through badgerhold.
package badgerstore

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/fxamacker/cbor/v2"
	"github.com/timshannon/badgerhold/v4"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const (
	gcInterval           = 30 * time.Minute
	restorePendingWrites = 256
)

//nolint:gochecknoglobals // immutable after init
var encMode = func() cbor.EncMode {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Encode is the badgerhold encoder.
func Encode(value any) ([]byte, error) {
	return encMode.Marshal(value)
}

// Decode is the badgerhold decoder.
func Decode(data []byte, value any) error {
	return cbor.Unmarshal(data, value)
}

// Store is a badgerhold backed implementation of basket.Store,
// txbuilder.PendingStore, txbuilder.ActionStore and certs.Store.
type Store struct {
	db *badgerhold.Store

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open opens or creates the database under dir. An empty dir keeps
// everything in memory.
func Open(dir string, logger badger.Logger) (*Store, error) {
	inMemory := dir == ""

	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if inMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          Encode,
		Decoder:          Decode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, walleterr.Wrap(err, "opening store at %q", dir)
	}

	s := &Store{db: db, stop: make(chan struct{})}
	if !inMemory {
		s.wg.Add(1)
		go s.collectGarbage(logger)
	}
	return s, nil
}

func (s *Store) collectGarbage(logger badger.Logger) {
	defer s.wg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.db.Badger().RunValueLogGC(0.5); err != nil &&
				!errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Errorf("value log gc: %v", err)
			}
		}
	}
}

// Close stops background work and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.db.Close()
}

// Backup streams a full snapshot of the database to w.
func (s *Store) Backup(w io.Writer) error {
	if _, err := s.db.Badger().Backup(w, 0); err != nil {
		return walleterr.Wrap(err, "backing up store")
	}
	return nil
}

// Restore loads a snapshot written by Backup. Keys present in both are
// overwritten.
func (s *Store) Restore(r io.Reader) error {
	return walleterr.Wrap(s.db.Badger().Load(r, restorePendingWrites), "restoring store")
}

// update runs fn in one read-write transaction. A write conflict with a
// concurrent transaction is returned as onConflict.
func (s *Store) update(fn func(txn *badger.Txn) error, onConflict error) error {
	err := s.db.Badger().Update(fn)
	if errors.Is(err, badger.ErrConflict) && onConflict != nil {
		return onConflict
	}
	return err
}

func storageError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var we *walleterr.WalletError
	if errors.As(err, &we) {
		return err
	}
	return walleterr.Wrap(err, "%s", fmt.Sprintf(format, args...))
}
