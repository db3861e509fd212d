package store

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/event"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const (
	// BadgerDirName is the name of the badger database inside a node's
	// directory.
	BadgerDirName = "badger_db"

	matrixKey      = "matrix"
	pendingPrefix  = "pending"
	bufferedPrefix = "buffered"
)

// BadgerStore is a write-through StateStore: reads are served by an
// InmemStore, and every mutation is also committed to a badger database so
// that it can be reloaded after a restart.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
	logger     *logrus.Entry
}

// NewBadgerStore opens the badger database at path, creating it if needed,
// and loads its content.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithTruncate(true).
		WithLogger(logger.WithField("prefix", "badger"))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
		logger:     logger,
	}

	if err := store.load(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// load copies everything the database holds into the InmemStore.
func (s *BadgerStore) load() error {
	flat, err := s.dbGetMatrix()
	switch {
	case err == nil:
		s.inmemStore.SetMatrix(flat)
	case !cm.IsStore(err, cm.KeyNotFound):
		return err
	}

	pending, err := s.dbGetAllPending()
	if err != nil {
		return err
	}
	for peer, events := range pending {
		s.inmemStore.SetPending(peer, events)
	}

	buffered, err := s.dbGetBuffered()
	if err != nil {
		return err
	}
	for _, e := range buffered {
		if err := s.inmemStore.AddBuffered(e); err != nil {
			return err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"path":     s.path,
		"pending":  len(pending),
		"buffered": len(buffered),
	}).Debug("Loaded BadgerStore")

	return nil
}

//==============================================================================
// Keys

func pendingKey(peer string) []byte {
	return []byte(fmt.Sprintf("%s_%s", pendingPrefix, peer))
}

func bufferedKey(id event.ID) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", bufferedPrefix, id.Origin, id.Seq))
}

//==============================================================================
// Implement the StateStore interface

// GetMatrix implements the StateStore interface.
func (s *BadgerStore) GetMatrix() ([]int, error) {
	return s.inmemStore.GetMatrix()
}

// SetMatrix implements the StateStore interface.
func (s *BadgerStore) SetMatrix(flat []int) error {
	if err := s.inmemStore.SetMatrix(flat); err != nil {
		return err
	}
	return s.dbSetMatrix(flat)
}

// GetPending implements the StateStore interface.
func (s *BadgerStore) GetPending(peer string) ([]event.Event, error) {
	return s.inmemStore.GetPending(peer)
}

// SetPending implements the StateStore interface.
func (s *BadgerStore) SetPending(peer string, events []event.Event) error {
	if err := s.inmemStore.SetPending(peer, events); err != nil {
		return err
	}
	return s.dbSetPending(peer, events)
}

// BufferedEvents implements the StateStore interface.
func (s *BadgerStore) BufferedEvents() ([]event.Event, error) {
	return s.inmemStore.BufferedEvents()
}

// AddBuffered implements the StateStore interface.
func (s *BadgerStore) AddBuffered(e event.Event) error {
	if err := s.inmemStore.AddBuffered(e); err != nil {
		return err
	}
	return s.dbAddBuffered(e)
}

// RemoveBuffered implements the StateStore interface.
func (s *BadgerStore) RemoveBuffered(id event.ID) error {
	if err := s.inmemStore.RemoveBuffered(id); err != nil {
		return err
	}
	return s.dbDelete(bufferedKey(id))
}

// Close implements the StateStore interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// StorePath implements the StateStore interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

//==============================================================================
// DB Methods

func (s *BadgerStore) dbGetMatrix() ([]int, error) {
	var flat []int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(matrixKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return decode(val, &flat)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, cm.NewStoreErr("Matrix", cm.KeyNotFound, matrixKey)
	}
	return flat, err
}

func (s *BadgerStore) dbSetMatrix(flat []int) error {
	val, err := encode(flat)
	if err != nil {
		return err
	}
	return s.dbSet([]byte(matrixKey), val)
}

func (s *BadgerStore) dbSetPending(peer string, events []event.Event) error {
	if len(events) == 0 {
		return s.dbDelete(pendingKey(peer))
	}
	val, err := encode(events)
	if err != nil {
		return err
	}
	return s.dbSet(pendingKey(peer), val)
}

func (s *BadgerStore) dbGetAllPending() (map[string][]event.Event, error) {
	res := make(map[string][]event.Event)
	prefix := []byte(pendingPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			peer := strings.TrimPrefix(string(item.Key()), string(prefix))
			var events []event.Event
			err := item.Value(func(val []byte) error {
				return decode(val, &events)
			})
			if err != nil {
				return err
			}
			res[peer] = events
		}
		return nil
	})

	return res, err
}

func (s *BadgerStore) dbAddBuffered(e event.Event) error {
	val, err := e.Marshal()
	if err != nil {
		return err
	}
	return s.dbSet(bufferedKey(e.ID()), val)
}

func (s *BadgerStore) dbGetBuffered() ([]event.Event, error) {
	res := []event.Event{}
	prefix := []byte(bufferedPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e event.Event
			err := it.Item().Value(func(val []byte) error {
				return e.Unmarshal(val)
			})
			if err != nil {
				return err
			}
			res = append(res, e)
		}
		return nil
	})

	return res, err
}

func (s *BadgerStore) dbSet(key, val []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(key, val); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *BadgerStore) dbDelete(key []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Delete(key); err != nil {
		return err
	}

	return tx.Commit()
}

//==============================================================================
// Codec

func encode(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(b, jh)
	return dec.Decode(v)
}
