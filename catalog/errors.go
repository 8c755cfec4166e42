package catalog

import (
	"errors"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrPersistence     = errors.New("catalog persistence failed")
	errCorruptBlob     = errors.New("corrupt catalog blob")
	errDirSync         = errors.New("failed to sync catalog directory")
)

// PersistenceError reports a durable-storage failure. errors.Is(err,
// ErrPersistence) holds for every PersistenceError.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return "failed to " + e.Op + " catalog " + e.Path + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence //nolint:errorlint
}
