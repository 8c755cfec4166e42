package iterutil

func Map[T any, Slice ~[]E, E any](s Slice, f func(i int, v E) T) []T {
	result := make([]T, len(s))
	for i, v := range s {
		result[i] = f(i, v)
	}
	return result
}

// Page returns the page-th (zero based) window of size elements of s. Out of
// range pages yield an empty slice.
func Page[Slice ~[]E, E any](s Slice, page, size int) Slice {
	if page < 0 || size <= 0 {
		return s[:0]
	}

	start := page * size
	if start >= len(s) {
		return s[:0]
	}

	return s[start:min(start+size, len(s))]
}
