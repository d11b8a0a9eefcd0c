package pebbledb

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/relaynet/channel-bridge/entities"
)

var ErrNotFound = entities.ErrStoreEntityNotFound

type Store struct {
	db *pebble.DB
}

func NewStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "channel-bridge-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &Store{db: db}, nil
}

// Op is a single write inside an atomic batch. A nil Value deletes the key.
type Op struct {
	Key   []byte
	Value []byte
}

func PutOp(key, value []byte) Op {
	return Op{Key: key, Value: value}
}

func DeleteOp(key []byte) Op {
	return Op{Key: key}
}

func (s *Store) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *Store) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Put(key, value []byte) error {
	err := s.db.Set(key, value, pebble.Sync)
	if err != nil {
		return fmt.Errorf("setting key: %v", err)
	}
	return nil
}

func (s *Store) Delete(key []byte) error {
	err := s.db.Delete(key, pebble.Sync)
	if err != nil {
		return fmt.Errorf("deleting key: %v", err)
	}
	return nil
}

// Batch applies all ops atomically.
func (s *Store) Batch(ops ...Op) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		var err error
		if op.Value == nil {
			err = batch.Delete(op.Key, nil)
		} else {
			err = batch.Set(op.Key, op.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("adding op to batch: %v", err)
		}
	}

	err := batch.Commit(pebble.Sync)
	if err != nil {
		return fmt.Errorf("committing batch: %v", err)
	}
	return nil
}

// Scan visits keys in [lower, upper) in ascending order, or [lower, upper] when
// upperInclusive is set. Returning false from fn stops the scan.
func (s *Store) Scan(lower, upper []byte, upperInclusive bool, fn func(key, value []byte) (bool, error)) error {
	upperBound := upper
	if upperInclusive {
		upperBound = append(append([]byte{}, upper...), 0x00)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upperBound,
	})
	if err != nil {
		return fmt.Errorf("creating iterator: %v", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return fmt.Errorf("getting value from iter: %v", err)
		}
		next, err := fn(iter.Key(), value)
		if err != nil {
			return err
		}
		if !next {
			break
		}
	}

	return iter.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}
