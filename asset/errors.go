package asset

import (
	"errors"
)

var (
	ErrInvalidURL = errors.New("invalid asset url")
	ErrInvalidKey = errors.New("invalid asset key")
	ErrFetch      = errors.New("asset fetch failed")
	errNotImage   = errors.New("payload is not an image")
)

// FetchError reports a failed fetch. Nothing is cached for the key, so the
// next Fetch starts over. errors.Is(err, ErrFetch) holds for every FetchError.
type FetchError struct {
	Key Key
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return "failed to fetch asset " + string(e.Key) + " from " + e.URL + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch //nolint:errorlint
}
