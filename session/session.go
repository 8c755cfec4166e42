package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	stateBucketName        = []byte("state")
	lastViewedIndexKeyName = []byte("last_viewed_index")
)

var errMalformedValue = errors.New("malformed stored value")

// Store keeps presentation state between runs. Values are opaque to the
// catalog.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); nil != err {
		return nil, fmt.Errorf("failed to create session directory: %v", err)
	}

	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createBuckets(db); nil != err {
		return nil, errors.Join(fmt.Errorf("failed to create buckets: %v", err), db.Close())
	}

	return &Store{db: db}, nil
}

func createBuckets(db *bbolt.DB) error {
	return db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(stateBucketName); nil != err {
			return fmt.Errorf("failed to create state bucket: %v", err)
		}

		return nil
	})
}

func (s *Store) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("failed to close database: %v", err)
	}

	return nil
}

// LastViewedIndex returns the stored index. ok is false when nothing has been
// stored yet.
func (s *Store) LastViewedIndex(_ context.Context) (index int, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(stateBucketName).Get(lastViewedIndexKeyName)
		if nil == v {
			return nil
		}

		if len(v) != 8 {
			return fmt.Errorf("%w: expected 8 bytes, got %d", errMalformedValue, len(v))
		}

		index, ok = int(int64(binary.BigEndian.Uint64(v))), true //nolint:gosec

		return nil
	})
	if nil != err {
		return 0, false, fmt.Errorf("failed to load last viewed index: %w", err)
	}

	return index, ok, nil
}

func (s *Store) StoreLastViewedIndex(_ context.Context, index int) error {
	v := binary.BigEndian.AppendUint64(nil, uint64(int64(index))) //nolint:gosec

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(stateBucketName).Put(lastViewedIndexKeyName, v); nil != err {
			return fmt.Errorf("failed to put value: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to store last viewed index: %v", err)
	}

	return nil
}
