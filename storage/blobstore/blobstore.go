// Package blobstore keeps the blobs a provider holds for its leases in a
// bbolt database, keyed by lease key.
package blobstore

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lease"
)

var (
	blobsBucket = []byte("blobs")
	metaBucket  = []byte("meta")
	usedKey     = []byte("used")
)

var ErrNotFound = xerrors.New("blob not found")

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("opening blob db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blobsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores data for k, replacing any previous blob.
func (s *Store) Put(k lease.Key, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		key := []byte(k.String())

		used := readUsed(tx) + uint64(len(data))
		if old := b.Get(key); old != nil {
			used -= uint64(len(old))
		}

		if err := b.Put(key, data); err != nil {
			return err
		}
		return writeUsed(tx, used)
	})
}

// Reserve stores data for k only if the total stored bytes stay within
// capacity. A capacity of 0 means unlimited.
func (s *Store) Reserve(k lease.Key, data []byte, capacity uint64) (bool, error) {
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		key := []byte(k.String())
		if b.Get(key) != nil {
			return xerrors.Errorf("blob for %s already stored", k)
		}

		used := readUsed(tx) + uint64(len(data))
		if capacity > 0 && used > capacity {
			return nil
		}

		if err := b.Put(key, data); err != nil {
			return err
		}
		ok = true
		return writeUsed(tx, used)
	})
	return ok, err
}

func (s *Store) Get(k lease.Key) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(k.String()))
		if v == nil {
			return xerrors.Errorf("%s: %w", k, ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *Store) Has(k lease.Key) (bool, error) {
	var has bool
	err := s.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(blobsBucket).Get([]byte(k.String())) != nil
		return nil
	})
	return has, err
}

// Delete removes the blob for k. Deleting a missing blob is not an error.
func (s *Store) Delete(k lease.Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobsBucket)
		key := []byte(k.String())
		old := b.Get(key)
		if old == nil {
			return nil
		}
		used := readUsed(tx) - uint64(len(old))
		if err := b.Delete(key); err != nil {
			return err
		}
		return writeUsed(tx, used)
	})
}

// Used returns the number of blob bytes stored.
func (s *Store) Used() (uint64, error) {
	var used uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		used = readUsed(tx)
		return nil
	})
	return used, err
}

func readUsed(tx *bolt.Tx) uint64 {
	v := tx.Bucket(metaBucket).Get(usedKey)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func writeUsed(tx *bolt.Tx, used uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], used)
	return tx.Bucket(metaBucket).Put(usedKey, buf[:])
}
