package asset_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/asset"
	"github.com/xeptore/albumshelf/config"
	"github.com/xeptore/albumshelf/httputil"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	return buf.Bytes()
}

func testConfig(t *testing.T) config.Assets {
	t.Helper()

	conf := config.Default().Assets
	conf.Dir = t.TempDir()
	conf.MaxRetries = lo.ToPtr[uint64](2)
	conf.RetryBaseMS = 10
	conf.RateLimit.IntervalMS = 1
	conf.Timeouts.Download = 5

	return conf
}

func newCache(t *testing.T, conf config.Assets) *asset.Cache {
	t.Helper()

	c, err := asset.New(zerolog.Nop(), conf)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c
}

type server struct {
	*httptest.Server
	hits atomic.Int64
}

func newServer(t *testing.T, h func(w http.ResponseWriter, r *http.Request, hit int64)) *server {
	t.Helper()

	s := &server{} //nolint:exhaustruct
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, s.hits.Add(1))
	}))
	t.Cleanup(s.Close)

	return s
}

func keyFor(t *testing.T, url string) asset.Key {
	t.Helper()

	k, err := asset.KeyFromURL(url)
	require.NoError(t, err)

	return k
}

func TestKeyFromURL(t *testing.T) {
	t.Parallel()

	k1, err := asset.KeyFromURL("https://example.com/covers/Bowie.PNG")
	require.NoError(t, err)
	k2, err := asset.KeyFromURL("https://example.com/covers/Bowie.PNG")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, string(k1), 64+len(".png"))
	assert.Equal(t, ".png", string(k1)[64:])

	k3, err := asset.KeyFromURL("https://example.com/covers/other.png")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := asset.KeyFromURL("https://example.com/covers/noext")
	require.NoError(t, err)
	assert.Len(t, string(k4), 64)

	k5, err := asset.KeyFromURL("https://example.com/covers/weird.p/ng?x=1")
	require.NoError(t, err)
	assert.Len(t, string(k5), 64)

	for _, invalid := range []string{"", "not a url", "ftp://example.com/a.png", "https:///a.png", "://x"} {
		_, err := asset.KeyFromURL(invalid)
		assert.ErrorIs(t, err, asset.ErrInvalidURL, "url %q", invalid)
	}
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	t.Parallel()

	img := pngBytes(t)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		_, _ = w.Write(img)
	})

	var (
		conf = testConfig(t)
		c    = newCache(t, conf)
		url  = srv.URL + "/cover.png"
		k    = keyFor(t, url)
	)

	assert.Equal(t, asset.StateAbsent, c.State(k))
	_, ok := c.GetCached(k)
	assert.False(t, ok)

	got, err := c.Fetch(context.Background(), k, url).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, img, got)
	assert.Equal(t, asset.StateReady, c.State(k))

	onDisk, err := os.ReadFile(c.Path(k))
	require.NoError(t, err)
	assert.Equal(t, img, onDisk)

	again, err := c.Fetch(context.Background(), k, url).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, img, again)
	assert.Equal(t, int64(1), srv.hits.Load())

	reopened := newCache(t, conf)
	cached, ok := reopened.GetCached(k)
	require.True(t, ok)
	assert.Equal(t, img, cached)
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestConcurrentFetchesShareOneDownload(t *testing.T) {
	t.Parallel()

	var (
		img     = pngBytes(t)
		started = make(chan struct{})
		release = make(chan struct{})
		once    sync.Once
	)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		once.Do(func() { close(started) })
		<-release
		_, _ = w.Write(img)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
		k   = keyFor(t, url)
	)

	first := c.Fetch(context.Background(), k, url)
	<-started
	assert.Equal(t, asset.StatePending, c.State(k))

	second := c.Fetch(context.Background(), k, url)
	close(release)

	b1, err := first.Wait(context.Background())
	require.NoError(t, err)
	b2, err := second.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, img, b1)
	assert.Equal(t, b1, b2)
	assert.Equal(t, int64(1), srv.hits.Load())
	assert.Equal(t, asset.StateReady, c.State(k))
}

func TestManyConcurrentWaitersAreAllNotified(t *testing.T) {
	t.Parallel()

	img := pngBytes(t)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(img)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
		k   = keyFor(t, url)
		wg  sync.WaitGroup
	)

	results := make([][]byte, 20)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := c.Fetch(context.Background(), k, url).Wait(context.Background())
			assert.NoError(t, err)
			results[i] = b
		}()
	}
	wg.Wait()

	for _, b := range results {
		assert.Equal(t, img, b)
	}
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestFetchNotifiesWaitersInAttachOrder(t *testing.T) {
	t.Parallel()

	var (
		img     = pngBytes(t)
		started = make(chan struct{})
		release = make(chan struct{})
		once    sync.Once
	)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		once.Do(func() { close(started) })
		<-release
		_, _ = w.Write(img)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
		k   = keyFor(t, url)
	)

	futures := make([]*asset.Future, 32)
	futures[0] = c.Fetch(context.Background(), k, url)
	<-started
	for i := 1; i < len(futures); i++ {
		futures[i] = c.Fetch(context.Background(), k, url)
	}

	var (
		wg         sync.WaitGroup
		outOfOrder atomic.Int64
	)
	for i, f := range futures {
		wg.Go(func() {
			<-f.Done()
			for _, earlier := range futures[:i] {
				select {
				case <-earlier.Done():
				default:
					outOfOrder.Add(1)
				}
			}
		})
	}

	close(release)
	wg.Wait()

	assert.Zero(t, outOfOrder.Load())
	for _, f := range futures {
		got, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, img, got)
	}
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestFetchFailureCachesNothingAndAllowsRetry(t *testing.T) {
	t.Parallel()

	img := pngBytes(t)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, hit int64) {
		if hit == 1 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"no such cover"}`))
			return
		}
		_, _ = w.Write(img)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
		k   = keyFor(t, url)
	)

	_, err := c.Fetch(context.Background(), k, url).Wait(context.Background())
	require.ErrorIs(t, err, asset.ErrFetch)
	assert.ErrorContains(t, err, "no such cover")

	var fetchErr *asset.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, k, fetchErr.Key)
	assert.Equal(t, int64(1), srv.hits.Load())

	assert.Equal(t, asset.StateAbsent, c.State(k))
	_, statErr := os.Stat(c.Path(k))
	assert.ErrorIs(t, statErr, os.ErrNotExist)

	got, err := c.Fetch(context.Background(), k, url).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, img, got)
	assert.Equal(t, int64(2), srv.hits.Load())
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	img := pngBytes(t)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, hit int64) {
		if hit < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(img)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
	)

	got, err := c.Fetch(context.Background(), keyFor(t, url), url).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, img, got)
	assert.Equal(t, int64(3), srv.hits.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		w.WriteHeader(http.StatusBadGateway)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
	)

	_, err := c.Fetch(context.Background(), keyFor(t, url), url).Wait(context.Background())
	require.ErrorIs(t, err, asset.ErrFetch)
	assert.Equal(t, int64(3), srv.hits.Load())
}

func TestFetchWithZeroMaxRetriesTriesOnce(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	conf := testConfig(t)
	conf.MaxRetries = lo.ToPtr[uint64](0)

	var (
		c   = newCache(t, conf)
		url = srv.URL + "/cover.png"
	)

	_, err := c.Fetch(context.Background(), keyFor(t, url), url).Wait(context.Background())
	require.ErrorIs(t, err, asset.ErrFetch)
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestFetchRejectsNonImagePayload(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		_, _ = w.Write([]byte("<html><body>not a cover</body></html>"))
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
		k   = keyFor(t, url)
	)

	_, err := c.Fetch(context.Background(), k, url).Wait(context.Background())
	require.ErrorIs(t, err, asset.ErrFetch)
	assert.ErrorContains(t, err, "payload is not an image")
	assert.Equal(t, asset.StateAbsent, c.State(k))
}

func TestFetchRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	payload := append(pngBytes(t), bytes.Repeat([]byte{0}, 2048)...)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		_, _ = w.Write(payload)
	})

	conf := testConfig(t)
	conf.MaxSizeKiB = 1

	var (
		c   = newCache(t, conf)
		url = srv.URL + "/cover.png"
	)

	_, err := c.Fetch(context.Background(), keyFor(t, url), url).Wait(context.Background())
	require.ErrorIs(t, err, asset.ErrFetch)
	assert.ErrorIs(t, err, httputil.ErrBodyTooLarge)
	assert.Equal(t, int64(1), srv.hits.Load())
}

func TestAbandonedFetchStillPopulatesCache(t *testing.T) {
	t.Parallel()

	var (
		img     = pngBytes(t)
		release = make(chan struct{})
	)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		<-release
		_, _ = w.Write(img)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
		k   = keyFor(t, url)
	)

	ctx, cancel := context.WithCancel(context.Background())
	f := c.Fetch(ctx, k, url)
	cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(release)

	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned fetch did not complete")
	}

	_, ok := c.GetCached(k)
	assert.True(t, ok)
	assert.Equal(t, int64(1), srv.hits.Load())

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestGetCachedNeverFetches(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		w.WriteHeader(http.StatusOK)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
	)

	_, ok := c.GetCached(keyFor(t, url))
	assert.False(t, ok)
	assert.Equal(t, int64(0), srv.hits.Load())
}

func TestGetCachedReturnsCopy(t *testing.T) {
	t.Parallel()

	img := pngBytes(t)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		_, _ = w.Write(img)
	})

	var (
		c   = newCache(t, testConfig(t))
		url = srv.URL + "/cover.png"
		k   = keyFor(t, url)
	)

	_, err := c.Fetch(context.Background(), k, url).Wait(context.Background())
	require.NoError(t, err)

	b, ok := c.GetCached(k)
	require.True(t, ok)
	b[0] = 'X'

	again, ok := c.GetCached(k)
	require.True(t, ok)
	assert.Equal(t, img, again)
}

func TestFetchInvalidKey(t *testing.T) {
	t.Parallel()

	c := newCache(t, testConfig(t))

	for _, k := range []asset.Key{"", "..", "a/b", `a\b`} {
		_, err := c.Fetch(context.Background(), k, "https://example.com/a.png").Wait(context.Background())
		require.ErrorIs(t, err, asset.ErrFetch)
		assert.ErrorIs(t, err, asset.ErrInvalidKey)
	}
}

func TestPrefetchFetchesEachDistinctCoverOnce(t *testing.T) {
	t.Parallel()

	img := pngBytes(t)
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int64) {
		_, _ = w.Write(img)
	})

	c := newCache(t, testConfig(t))

	records := []album.Record{
		album.New("A", "a", "Pop", srv.URL+"/a.png", "2000"),
		album.New("B", "b", "Pop", srv.URL+"/b.png", "2001"),
		album.New("C", "c", "Pop", srv.URL+"/a.png", "2002"),
	}

	require.NoError(t, c.Prefetch(context.Background(), records))
	assert.Equal(t, int64(2), srv.hits.Load())

	for _, r := range records {
		_, ok := c.GetCached(keyFor(t, r.CoverURL))
		assert.True(t, ok)
	}
}

func TestPrefetchJoinsFailures(t *testing.T) {
	t.Parallel()

	img := pngBytes(t)
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request, _ int64) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(img)
	})

	c := newCache(t, testConfig(t))

	records := []album.Record{
		album.New("Good", "a", "Pop", srv.URL+"/good.png", "2000"),
		album.New("Missing", "b", "Pop", srv.URL+"/missing.png", "2001"),
		album.New("Broken", "c", "Pop", "not a url", "2002"),
	}

	err := c.Prefetch(context.Background(), records)
	require.Error(t, err)
	assert.ErrorIs(t, err, asset.ErrFetch)
	assert.ErrorIs(t, err, asset.ErrInvalidURL)
	assert.ErrorContains(t, err, `album "Missing"`)
	assert.ErrorContains(t, err, `album "Broken"`)

	_, ok := c.GetCached(keyFor(t, srv.URL+"/good.png"))
	assert.True(t, ok)
}
