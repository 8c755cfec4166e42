package library

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/catalog"
)

// Mirror receives catalog changes that were applied locally.
type Mirror interface {
	Online() bool
	MirrorAdd(r album.Record)
	MirrorDelete(index int)
}

// Service is the single entry point callers use to read and change the
// catalog. Local changes always happen first; the mirror is told only about
// changes that succeeded.
type Service struct {
	logger zerolog.Logger
	store  *catalog.Store
	mirror Mirror
}

func NewService(logger zerolog.Logger, store *catalog.Store, mirror Mirror) *Service {
	return &Service{
		logger: logger.With().Str("component", "library").Logger(),
		store:  store,
		mirror: mirror,
	}
}

func (s *Service) ListAlbums() []album.Record {
	return s.store.List()
}

func (s *Service) AddAlbum(r album.Record, index int) error {
	if err := s.store.Insert(r, index); nil != err {
		return fmt.Errorf("failed to add album: %w", err)
	}
	s.logger.Debug().Str("title", r.Title).Int("index", index).Msg("Album added")

	if s.mirror.Online() {
		s.mirror.MirrorAdd(r)
	}

	return nil
}

func (s *Service) DeleteAlbum(index int) (album.Record, error) {
	removed, err := s.store.RemoveAt(index)
	if nil != err {
		return album.Record{}, fmt.Errorf("failed to delete album: %w", err)
	}
	s.logger.Debug().Str("title", removed.Title).Int("index", index).Msg("Album deleted")

	if s.mirror.Online() {
		s.mirror.MirrorDelete(index)
	}

	return removed, nil
}

func (s *Service) Save(ctx context.Context) error {
	if err := s.store.Persist(ctx); nil != err {
		return fmt.Errorf("failed to save catalog: %w", err)
	}

	return nil
}
