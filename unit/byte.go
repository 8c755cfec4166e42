package unit

import (
	"strconv"
)

const (
	// https://en.wikipedia.org/wiki/Kilobyte
	Byte     = 1
	Kilobyte = 1000 * Byte
	Megabyte = 1000 * Kilobyte
	Gigabyte = 1000 * Megabyte
	Kibibyte = 1024 * Byte
	Mebibyte = 1024 * Kibibyte
	Gibibyte = 1024 * Mebibyte
)

// FormatBinary renders n bytes using the largest binary unit that keeps the
// value at or above one, with one decimal place.
func FormatBinary(n int64) string {
	switch {
	case n >= Gibibyte:
		return strconv.FormatFloat(float64(n)/Gibibyte, 'f', 1, 64) + " GiB"
	case n >= Mebibyte:
		return strconv.FormatFloat(float64(n)/Mebibyte, 'f', 1, 64) + " MiB"
	case n >= Kibibyte:
		return strconv.FormatFloat(float64(n)/Kibibyte, 'f', 1, 64) + " KiB"
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}
