package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/config"
)

// Store owns the ordered album collection and its durable blob. Mutations are
// expected from a single session at a time; mux only keeps snapshots taken by
// Persist and List consistent. persistMux serializes blob writes so a later
// Persist always lands after an earlier one.
type Store struct {
	logger         zerolog.Logger
	blob           Blob
	persistTimeout time.Duration
	mux            sync.RWMutex
	persistMux     sync.Mutex
	albums         []album.Record
}

func New(logger zerolog.Logger, conf config.Catalog) *Store {
	return &Store{
		logger:         logger.With().Str("component", "catalog").Logger(),
		blob:           Blob{Path: conf.Path},
		persistTimeout: time.Duration(conf.Timeouts.Persist) * time.Second,
		mux:            sync.RWMutex{},
		persistMux:     sync.Mutex{},
		albums:         []album.Record{},
	}
}

// Load replaces the in-memory collection with the stored blob. A missing or
// unreadable blob is not an error: the store is seeded with the placeholder
// albums and the seed is persisted right away. The returned error is non-nil
// only when persisting that seed failed, in which case the store still holds
// the seed.
func (s *Store) Load(ctx context.Context) ([]album.Record, error) {
	records, err := s.blob.Read()
	if nil == err {
		s.mux.Lock()
		s.albums = records
		s.mux.Unlock()
		s.logger.Debug().Int("count", len(records)).Str("path", s.blob.Path).Msg("Catalog loaded")

		return s.List(), nil
	}

	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info().Str("path", s.blob.Path).Msg("Catalog blob not found. Seeding placeholder albums")
	} else {
		s.logger.Warn().Err(err).Str("path", s.blob.Path).Msg("Catalog blob is unreadable. Seeding placeholder albums")
	}

	s.mux.Lock()
	s.albums = album.Placeholders()
	s.mux.Unlock()

	if err := s.Persist(ctx); nil != err {
		return s.List(), err
	}

	return s.List(), nil
}

func (s *Store) List() []album.Record {
	s.mux.RLock()
	defer s.mux.RUnlock()

	return s.snapshot()
}

func (s *Store) snapshot() []album.Record {
	out := make([]album.Record, len(s.albums))
	copy(out, s.albums)

	return out
}

func (s *Store) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()

	return len(s.albums)
}

func (s *Store) At(index int) (album.Record, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	if err := s.checkIndex(index); nil != err {
		return album.Record{}, err
	}

	return s.albums[index], nil
}

// Insert places r at index, shifting later albums forward. An index past the
// end appends instead of failing.
func (s *Store) Insert(r album.Record, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidArgument, index)
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if index >= len(s.albums) {
		s.albums = append(s.albums, r)
		return nil
	}

	s.albums = slices.Insert(s.albums, index, r)

	return nil
}

func (s *Store) RemoveAt(index int) (album.Record, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if err := s.checkIndex(index); nil != err {
		return album.Record{}, err
	}

	removed := s.albums[index]
	s.albums = slices.Delete(s.albums, index, index+1)

	return removed, nil
}

func (s *Store) checkIndex(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidArgument, index)
	}

	if l := len(s.albums); index >= l {
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, l)
	}

	return nil
}

// Persist atomically overwrites the blob with the current collection. It gives
// up once the configured persist timeout expires, checked between write steps,
// and a returned error always means the previous blob is still in place. The
// in-memory collection is never affected by a failed persist.
func (s *Store) Persist(ctx context.Context) error {
	s.persistMux.Lock()
	defer s.persistMux.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	records := s.List()
	logger := s.logger.With().Str("path", s.blob.Path).Logger()

	if err := s.blob.Write(ctx, records); nil != err {
		if errors.Is(err, errDirSync) {
			logger.Warn().Err(err).Msg("Catalog persisted but directory sync failed")
			return nil
		}

		logger.Error().Err(err).Msg("Failed to persist catalog")

		return &PersistenceError{Op: "persist", Path: s.blob.Path, Err: err}
	}

	logger.Debug().Int("count", len(records)).Msg("Catalog persisted")

	return nil
}
