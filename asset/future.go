package asset

import (
	"bytes"
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/xeptore/albumshelf/result"
)

// Future is one caller's handle on a fetch. Abandoning it does not cancel the
// underlying fetch, which still populates the cache when it completes.
type Future struct {
	done chan struct{}
	res  result.Of[[]byte]
}

// newFuture resolves from ch, but never before prev: futures attached to the
// same key complete in the order they were attached. onDone runs once the
// future is resolved.
func newFuture(ch <-chan singleflight.Result, prev *Future, onDone func(*Future)) *Future {
	f := &Future{
		done: make(chan struct{}),
		res:  result.Of[[]byte]{},
	}

	go func() {
		r := <-ch
		if nil != prev {
			<-prev.done
		}

		if nil != r.Err {
			f.res = result.Err[[]byte](r.Err)
		} else {
			b, _ := r.Val.([]byte)
			f.res = result.Ok(b)
		}
		close(f.done)

		onDone(f)
	}()

	return f
}

func resolved(r result.Of[[]byte]) *Future {
	f := &Future{
		done: make(chan struct{}),
		res:  r,
	}
	close(f.done)

	return f
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the fetch completes or ctx is done. Once completed, every
// call returns the same outcome; the returned slice is the caller's own copy.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b, err := f.res.Get()
	if nil != err {
		return nil, err
	}

	return bytes.Clone(b), nil
}
