package result

// Of carries either a value or the error that prevented producing it.
type Of[T any] struct {
	v   T
	err error
}

func (r Of[T]) Get() (T, error) {
	return r.v, r.err
}

func Ok[T any](v T) Of[T] {
	return Of[T]{v: v, err: nil}
}

func Err[T any](err error) Of[T] {
	var zero T
	return Of[T]{v: zero, err: err}
}
