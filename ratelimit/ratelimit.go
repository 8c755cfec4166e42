package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// CoverFetches paces outbound cover downloads: one every interval with bursts
// of up to burst requests. A non-positive interval disables pacing.
func CoverFetches(interval time.Duration, burst int) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, max(burst, 1))
	}

	return rate.NewLimiter(rate.Every(interval), max(burst, 1))
}
