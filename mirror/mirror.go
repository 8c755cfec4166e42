package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xeptore/albumshelf/album"
	"github.com/xeptore/albumshelf/config"
	"github.com/xeptore/albumshelf/httputil"
	"github.com/xeptore/albumshelf/unit"
)

const (
	addAlbumPath    = "/api/addAlbum"
	deleteAlbumPath = "/api/deleteAlbum"
)

// Mirror forwards catalog changes to the remote service. Signals are fire and
// forget: they run in the background, are retried a bounded number of times,
// and a signal that still fails is only logged and counted.
type Mirror struct {
	logger         zerolog.Logger
	online         bool
	baseURL        string
	token          string
	client         *http.Client
	maxRetries     uint64
	retryBase      time.Duration
	requestTimeout time.Duration
	wg             sync.WaitGroup
	failures       atomic.Int64
}

func New(logger zerolog.Logger, conf config.Mirror) *Mirror {
	return &Mirror{
		logger:         logger.With().Str("component", "mirror").Logger(),
		online:         conf.Online,
		baseURL:        strings.TrimRight(conf.BaseURL, "/"),
		token:          conf.Token,
		client:         &http.Client{}, //nolint:exhaustruct
		maxRetries:     lo.FromPtr(conf.MaxRetries),
		retryBase:      time.Duration(conf.RetryBaseMS) * time.Millisecond,
		requestTimeout: time.Duration(conf.Timeouts.Request) * time.Second,
		wg:             sync.WaitGroup{},
		failures:       atomic.Int64{},
	}
}

func (m *Mirror) Online() bool {
	return m.online
}

// Failures returns the number of signals that were given up on.
func (m *Mirror) Failures() int64 {
	return m.failures.Load()
}

func (m *Mirror) MirrorAdd(r album.Record) {
	m.send(addAlbumPath, r.Description())
}

func (m *Mirror) MirrorDelete(index int) {
	m.send(deleteAlbumPath, strconv.Itoa(index))
}

// Wait blocks until every signal sent so far has finished or ctx is done.
func (m *Mirror) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for outstanding mirror signals: %w", ctx.Err())
	}
}

func (m *Mirror) send(path, body string) {
	logger := m.logger.With().Str("path", path).Logger()

	if !m.online {
		logger.Debug().Msg("Mirror is offline. Skipping signal")
		return
	}

	m.wg.Go(func() {
		if err := m.post(logger, path, body); nil != err {
			m.failures.Add(1)
			logger.Error().Err(err).Msg("Failed to mirror catalog change")

			return
		}

		logger.Debug().Msg("Catalog change mirrored")
	})
}

func (m *Mirror) post(logger zerolog.Logger, path, body string) error {
	bo := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(m.retryBase),
			backoff.WithMaxInterval(m.retryBase*10),
			backoff.WithMaxElapsedTime(0),
		),
		m.maxRetries,
	)

	attempt := 0
	operation := func() error {
		attempt++
		return m.request(logger, path, body)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("next", next).Msg("Mirror request failed. Retrying")
	}

	if err := backoff.RetryNotify(operation, bo, notify); nil != err {
		return fmt.Errorf("failed after %d attempts: %w", attempt, err)
	}

	return nil
}

func (m *Mirror) request(logger zerolog.Logger, path, body string) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, strings.NewReader(body))
	if nil != err {
		return backoff.Permanent(fmt.Errorf("failed to create mirror request: %v", err))
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if len(m.token) > 0 {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if nil != err {
		return fmt.Errorf("failed to send mirror request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close mirror response body: %v", closeErr))
		}
	}()

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	respBytes, readErr := httputil.ReadLimitedResponseBody(resp, 4*unit.Kibibyte)
	if nil != readErr {
		logger.Debug().Err(readErr).Msg("Failed to read mirror error response body")
	}

	err = fmt.Errorf("unexpected status code %d: %s", code, httputil.ErrorMessage(respBytes))
	if httputil.IsRetryableStatus(code) {
		return err
	}

	return backoff.Permanent(err)
}
