package library

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xeptore/albumshelf/mathutil"
	"github.com/xeptore/albumshelf/undo"
)

// StateStore keeps presentation state across runs.
type StateStore interface {
	LastViewedIndex(ctx context.Context) (int, bool, error)
	StoreLastViewedIndex(ctx context.Context, index int) error
}

// Session is one interactive user's view of the catalog: the service plus the
// deletions that can still be undone.
type Session struct {
	logger zerolog.Logger
	svc    *Service
	state  StateStore
	undo   *undo.Stack
}

func NewSession(logger zerolog.Logger, svc *Service, state StateStore) *Session {
	return &Session{
		logger: logger.With().Str("component", "session").Logger(),
		svc:    svc,
		state:  state,
		undo:   undo.NewStack(),
	}
}

func (s *Session) Service() *Service {
	return s.svc
}

// Delete removes the album at index and remembers it for Undo. Nothing is
// remembered when the delete fails.
func (s *Session) Delete(index int) error {
	removed, err := s.svc.DeleteAlbum(index)
	if nil != err {
		return err
	}
	s.undo.RecordDeletion(removed, index)

	return nil
}

// Undo re-inserts the most recently deleted album at the index it was deleted
// from. ok is false when there is nothing to undo. The entry is consumed even
// if re-inserting it fails.
func (s *Session) Undo() (e undo.Entry, ok bool, err error) {
	e, ok = s.undo.UndoLast()
	if !ok {
		return undo.Entry{}, false, nil
	}

	if err := s.svc.AddAlbum(e.Record, e.Index); nil != err {
		s.logger.Error().Err(err).Str("title", e.Record.Title).Int("index", e.Index).Msg("Failed to restore deleted album")
		return e, true, fmt.Errorf("failed to undo deletion: %w", err)
	}

	return e, true, nil
}

func (s *Session) CanUndo() bool {
	return s.undo.Len() > 0
}

// LastDeleted returns the deletion Undo would restore without consuming it.
func (s *Session) LastDeleted() (undo.Entry, bool) {
	return s.undo.Peek()
}

// LastViewedIndex returns the stored index clamped into the current catalog
// bounds. It is 0 when nothing was stored or the catalog is empty.
func (s *Session) LastViewedIndex(ctx context.Context) (int, error) {
	index, ok, err := s.state.LastViewedIndex(ctx)
	if nil != err {
		return 0, fmt.Errorf("failed to get last viewed index: %w", err)
	}

	if !ok {
		return 0, nil
	}

	n := len(s.svc.ListAlbums())
	if n == 0 {
		return 0, nil
	}

	return mathutil.Clamp(index, 0, n-1), nil
}

func (s *Session) SetLastViewedIndex(ctx context.Context, index int) error {
	if err := s.state.StoreLastViewedIndex(ctx, index); nil != err {
		return fmt.Errorf("failed to store last viewed index: %w", err)
	}

	return nil
}
