package library_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/catalog"
	"github.com/xeptore/albumshelf/config"
	"github.com/xeptore/albumshelf/library"
	"github.com/xeptore/albumshelf/session"
)

type recordingMirror struct {
	online  bool
	mux     sync.Mutex
	adds    []album.Record
	deletes []int
}

func (m *recordingMirror) Online() bool {
	return m.online
}

func (m *recordingMirror) MirrorAdd(r album.Record) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.adds = append(m.adds, r)
}

func (m *recordingMirror) MirrorDelete(index int) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.deletes = append(m.deletes, index)
}

type fixture struct {
	store  *catalog.Store
	mirror *recordingMirror
	svc    *library.Service
	path   string
}

func newFixture(t *testing.T, online bool) fixture {
	t.Helper()

	conf := config.Default().Catalog
	conf.Path = filepath.Join(t.TempDir(), "albums.bin")

	store := catalog.New(zerolog.Nop(), conf)
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	m := &recordingMirror{online: online} //nolint:exhaustruct

	return fixture{
		store:  store,
		mirror: m,
		svc:    library.NewService(zerolog.Nop(), store, m),
		path:   conf.Path,
	}
}

func newSession(t *testing.T, f fixture) *library.Session {
	t.Helper()

	state, err := session.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, state.Close()) })

	return library.NewSession(zerolog.Nop(), f.svc, state)
}

var newRecord = album.New("Heroes", "David Bowie", "Rock", "https://example.com/heroes.png", "1977")

func TestServiceAddAlbumMirrorsWhenOnline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)

	require.NoError(t, f.svc.AddAlbum(newRecord, 0))
	assert.Equal(t, newRecord, f.svc.ListAlbums()[0])
	assert.Equal(t, []album.Record{newRecord}, f.mirror.adds)
	assert.Empty(t, f.mirror.deletes)
}

func TestServiceAddAlbumOffline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)

	require.NoError(t, f.svc.AddAlbum(newRecord, 2))
	assert.Equal(t, newRecord, f.svc.ListAlbums()[2])
	assert.Empty(t, f.mirror.adds)
}

func TestServiceAddAlbumFailureIsNotMirrored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	before := f.svc.ListAlbums()

	err := f.svc.AddAlbum(newRecord, -1)
	require.ErrorIs(t, err, catalog.ErrInvalidArgument)
	assert.Equal(t, before, f.svc.ListAlbums())
	assert.Empty(t, f.mirror.adds)
}

func TestServiceDeleteAlbumMirrorsIndex(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	before := f.svc.ListAlbums()

	removed, err := f.svc.DeleteAlbum(3)
	require.NoError(t, err)
	assert.Equal(t, before[3], removed)
	assert.Equal(t, []int{3}, f.mirror.deletes)
}

func TestServiceDeleteAlbumFailureIsNotMirrored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)

	_, err := f.svc.DeleteAlbum(5)
	require.ErrorIs(t, err, catalog.ErrIndexOutOfRange)

	_, err = f.svc.DeleteAlbum(-1)
	require.ErrorIs(t, err, catalog.ErrInvalidArgument)

	assert.Empty(t, f.mirror.deletes)
	assert.Len(t, f.svc.ListAlbums(), 5)
}

func TestServiceSavePersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	require.NoError(t, f.svc.AddAlbum(newRecord, 0))
	require.NoError(t, f.svc.Save(context.Background()))

	conf := config.Default().Catalog
	conf.Path = f.path
	got, err := catalog.New(zerolog.Nop(), conf).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.svc.ListAlbums(), got)
}

func TestServiceSaveFailureIsReported(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.Save(ctx)
	require.ErrorIs(t, err, catalog.ErrPersistence)
}

func TestSessionDeleteThenUndoRestoresPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	s := newSession(t, f)
	before := f.svc.ListAlbums()

	require.NoError(t, s.Delete(2))
	assert.True(t, s.CanUndo())

	last, ok := s.LastDeleted()
	require.True(t, ok)
	assert.Equal(t, before[2], last.Record)
	assert.Equal(t, 2, last.Index)
	assert.True(t, s.CanUndo())
	assert.NotContains(t, f.svc.ListAlbums(), before[2])

	e, ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before[2], e.Record)
	assert.Equal(t, 2, e.Index)

	assert.Equal(t, before, f.svc.ListAlbums())
	assert.False(t, s.CanUndo())
	_, ok = s.LastDeleted()
	assert.False(t, ok)

	assert.Equal(t, []int{2}, f.mirror.deletes)
	assert.Equal(t, []album.Record{before[2]}, f.mirror.adds)
}

func TestSessionUndoIsLIFO(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	s := newSession(t, f)
	before := f.svc.ListAlbums()

	require.NoError(t, s.Delete(0))
	require.NoError(t, s.Delete(3))
	require.NoError(t, s.Delete(1))

	last, ok := s.LastDeleted()
	require.True(t, ok)
	assert.Equal(t, 1, last.Index)
	assert.Equal(t, before[2], last.Record)

	for range 3 {
		_, ok, err := s.Undo()
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, before, f.svc.ListAlbums())
}

func TestSessionUndoOnEmptyStack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	s := newSession(t, f)
	before := f.svc.ListAlbums()

	assert.False(t, s.CanUndo())

	_, ok, err := s.Undo()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, f.svc.ListAlbums())
	assert.Empty(t, f.mirror.adds)
}

func TestSessionFailedDeleteRecordsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	s := newSession(t, f)

	require.ErrorIs(t, s.Delete(42), catalog.ErrIndexOutOfRange)
	assert.False(t, s.CanUndo())
}

func TestSessionUndoAfterCatalogShrankAppends(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	s := newSession(t, f)
	last := f.svc.ListAlbums()[4]

	require.NoError(t, s.Delete(4))
	_, err := f.svc.DeleteAlbum(0)
	require.NoError(t, err)

	e, ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, e.Index)

	got := f.svc.ListAlbums()
	require.Len(t, got, 4)
	assert.Equal(t, last, got[3])
}

func TestSessionLastViewedIndex(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	s := newSession(t, f)
	ctx := context.Background()

	i, err := s.LastViewedIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	require.NoError(t, s.SetLastViewedIndex(ctx, 3))
	i, err = s.LastViewedIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, i)

	require.NoError(t, s.SetLastViewedIndex(ctx, 99))
	i, err = s.LastViewedIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, i)

	require.NoError(t, s.SetLastViewedIndex(ctx, -7))
	i, err = s.LastViewedIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, i)
}

func TestSessionLastViewedIndexOnEmptyCatalog(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	s := newSession(t, f)
	ctx := context.Background()

	for range 5 {
		_, err := f.svc.DeleteAlbum(0)
		require.NoError(t, err)
	}

	require.NoError(t, s.SetLastViewedIndex(ctx, 2))
	i, err := s.LastViewedIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, i)
}
