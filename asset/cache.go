package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/karlseguin/ccache/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/config"
	"github.com/xeptore/albumshelf/httputil"
	"github.com/xeptore/albumshelf/must"
	"github.com/xeptore/albumshelf/ratelimit"
	"github.com/xeptore/albumshelf/result"
	"github.com/xeptore/albumshelf/unit"
)

type State int

const (
	StateAbsent State = iota
	StatePending
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Cache maps asset keys to image bytes kept on disk, with a bounded in-memory
// layer in front. Concurrent fetches of the same key share one download.
type Cache struct {
	logger          zerolog.Logger
	dir             Dir
	memory          *ccache.Cache[[]byte]
	ttl             time.Duration
	group           singleflight.Group
	mux             sync.Mutex
	pending         map[Key]struct{}
	tails           map[Key]*Future
	client          *http.Client
	limiter         *rate.Limiter
	sem             *semaphore.Weighted
	concurrency     int
	maxSize         int64
	maxRetries      uint64
	retryBase       time.Duration
	downloadTimeout time.Duration
}

func New(logger zerolog.Logger, conf config.Assets) (*Cache, error) {
	must.Be(conf.Concurrency > 0, "assets concurrency must be positive")

	if err := os.MkdirAll(conf.Dir, 0o700); nil != err {
		return nil, fmt.Errorf("failed to create assets directory: %v", err)
	}

	memory := ccache.New(
		ccache.Configure[[]byte]().
			MaxSize(conf.MaxItems).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	downloadTimeout := time.Duration(conf.Timeouts.Download) * time.Second

	return &Cache{
		logger:          logger.With().Str("component", "assets").Logger(),
		dir:             Dir(conf.Dir),
		memory:          memory,
		ttl:             time.Duration(conf.TTL) * time.Second,
		group:           singleflight.Group{},
		mux:             sync.Mutex{},
		pending:         make(map[Key]struct{}),
		tails:           make(map[Key]*Future),
		client:          &http.Client{Timeout: downloadTimeout}, //nolint:exhaustruct
		limiter:         ratelimit.CoverFetches(time.Duration(conf.RateLimit.IntervalMS)*time.Millisecond, conf.RateLimit.Burst),
		sem:             semaphore.NewWeighted(int64(conf.Concurrency)),
		concurrency:     conf.Concurrency,
		maxSize:         conf.MaxSizeKiB * unit.Kibibyte,
		maxRetries:      lo.FromPtr(conf.MaxRetries),
		retryBase:       time.Duration(conf.RetryBaseMS) * time.Millisecond,
		downloadTimeout: downloadTimeout,
	}, nil
}

// Close stops the in-memory layer's background worker. In-flight fetches keep
// running and still write to disk.
func (c *Cache) Close() {
	c.memory.Stop()
}

func (c *Cache) Path(k Key) string {
	return c.dir.Path(k)
}

// GetCached looks k up in memory and then on disk. It never fetches.
func (c *Cache) GetCached(k Key) ([]byte, bool) {
	b, ok := c.cached(k)
	if !ok {
		return nil, false
	}

	return bytes.Clone(b), true
}

func (c *Cache) cached(k Key) ([]byte, bool) {
	if nil != k.validate() {
		return nil, false
	}

	if item := c.memory.Get(string(k)); nil != item && !item.Expired() {
		return item.Value(), true
	}

	b, err := c.dir.Read(k)
	if nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("key", string(k)).Msg("Failed to read cached asset")
		}

		return nil, false
	}

	c.memory.Set(string(k), b, c.ttl)

	return b, true
}

func (c *Cache) State(k Key) State {
	c.mux.Lock()
	_, pending := c.pending[k]
	c.mux.Unlock()

	if pending {
		return StatePending
	}

	if nil != k.validate() {
		return StateAbsent
	}

	if item := c.memory.Get(string(k)); nil != item && !item.Expired() {
		return StateReady
	}

	if ok, err := c.dir.Exists(k); nil == err && ok {
		return StateReady
	}

	return StateAbsent
}

// Fetch returns a future for the asset bytes. Cached assets resolve at once;
// otherwise the caller joins the in-flight download for k or starts one. The
// download runs detached from ctx so an abandoned fetch still fills the cache.
// Futures for the same key are notified in the order Fetch returned them.
func (c *Cache) Fetch(ctx context.Context, k Key, sourceURL string) *Future {
	if err := k.validate(); nil != err {
		return resolved(result.Err[[]byte](&FetchError{Key: k, URL: sourceURL, Err: err}))
	}

	if b, ok := c.cached(k); ok {
		c.mux.Lock()
		defer c.mux.Unlock()

		prev, waiting := c.tails[k]
		if !waiting {
			return resolved(result.Ok(b))
		}

		// Earlier waiters for k have not been notified yet.
		ch := make(chan singleflight.Result, 1)
		ch <- singleflight.Result{Val: b, Err: nil, Shared: false}

		return c.attach(k, ch, prev)
	}

	if sourceURL == "" {
		return resolved(result.Err[[]byte](&FetchError{Key: k, URL: sourceURL, Err: ErrInvalidURL}))
	}

	detached := context.WithoutCancel(ctx)

	c.mux.Lock()
	defer c.mux.Unlock()

	// fetch takes c.mux itself, which is safe as DoChan runs it on its own
	// goroutine.
	ch := c.group.DoChan(string(k), func() (any, error) {
		return c.fetch(detached, k, sourceURL)
	})

	return c.attach(k, ch, c.tails[k])
}

// attach makes a future for k that resolves after prev and records it as the
// latest one. c.mux must be held.
func (c *Cache) attach(k Key, ch <-chan singleflight.Result, prev *Future) *Future {
	f := newFuture(ch, prev, func(done *Future) {
		c.mux.Lock()
		defer c.mux.Unlock()

		if c.tails[k] == done {
			delete(c.tails, k)
		}
	})
	c.tails[k] = f

	return f
}

func (c *Cache) fetch(ctx context.Context, k Key, sourceURL string) ([]byte, error) {
	logger := c.logger.With().Str("key", string(k)).Str("url", sourceURL).Logger()

	c.mux.Lock()
	c.pending[k] = struct{}{}
	c.mux.Unlock()
	defer func() {
		c.mux.Lock()
		delete(c.pending, k)
		c.mux.Unlock()
	}()

	// A download for k may have finished between the caller's cache lookup
	// and this call being registered.
	if b, ok := c.cached(k); ok {
		return b, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout*time.Duration(c.maxRetries+1))
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); nil != err {
		return nil, &FetchError{Key: k, URL: sourceURL, Err: err}
	}
	defer c.sem.Release(1)

	b, err := c.download(ctx, logger, sourceURL)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to fetch asset")
		return nil, &FetchError{Key: k, URL: sourceURL, Err: err}
	}

	if err := c.dir.Write(k, b); nil != err {
		logger.Error().Err(err).Msg("Failed to write asset to disk. Keeping it in memory only")
	}
	c.memory.Set(string(k), b, c.ttl)
	logger.Debug().Str("size", unit.FormatBinary(int64(len(b)))).Msg("Asset fetched")

	return b, nil
}

func (c *Cache) download(ctx context.Context, logger zerolog.Logger, sourceURL string) ([]byte, error) {
	var out []byte
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.retryBase)),
		func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); nil != err {
				return fmt.Errorf("failed to wait for rate limiter: %w", err)
			}

			b, err := c.get(ctx, logger, sourceURL)
			if nil != err {
				return err
			}
			out = b

			return nil
		},
	)
	if nil != err {
		return nil, err
	}

	return out, nil
}

func (c *Cache) get(ctx context.Context, logger zerolog.Logger, sourceURL string) (b []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if nil != err {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	resp, err := c.client.Do(req)
	if nil != err {
		logger.Warn().Err(err).Msg("Asset request failed")
		return nil, retry.RetryableError(fmt.Errorf("failed to send asset request: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close asset response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case httputil.IsRetryableStatus(code):
		respBytes, _ := httputil.ReadLimitedResponseBody(resp, 4*unit.Kibibyte)
		logger.Warn().Int("status_code", code).Str("message", httputil.ErrorMessage(respBytes)).Msg("Retryable asset response")

		return nil, retry.RetryableError(fmt.Errorf("unexpected status code %d", code))
	default:
		respBytes, _ := httputil.ReadLimitedResponseBody(resp, 4*unit.Kibibyte)

		return nil, fmt.Errorf("unexpected status code %d: %s", code, httputil.ErrorMessage(respBytes))
	}

	respBytes, err := httputil.ReadLimitedResponseBody(resp, c.maxSize)
	if nil != err {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			return nil, err
		}

		return nil, retry.RetryableError(err)
	}

	if mt := mimetype.Detect(respBytes); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", errNotImage, mt.String())
	}

	return respBytes, nil
}

// Prefetch fetches the covers of all records, each distinct key once, at most
// the configured number at a time. It returns every failure joined.
func (c *Cache) Prefetch(ctx context.Context, records []album.Record) error {
	var (
		wg   errgroup.Group
		mux  sync.Mutex
		errs []error
		seen = make(map[Key]struct{}, len(records))
	)
	wg.SetLimit(c.concurrency)

	for _, r := range records {
		k, err := KeyFromURL(r.CoverURL)
		if nil != err {
			mux.Lock()
			errs = append(errs, fmt.Errorf("album %q: %w", r.Title, err))
			mux.Unlock()

			continue
		}

		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}

		wg.Go(func() error {
			if _, err := c.Fetch(ctx, k, r.CoverURL).Wait(ctx); nil != err {
				mux.Lock()
				errs = append(errs, fmt.Errorf("album %q: %w", r.Title, err))
				mux.Unlock()
			}

			return nil
		})
	}

	if err := wg.Wait(); nil != err {
		return err
	}

	return errors.Join(errs...)
}
