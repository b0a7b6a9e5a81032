package sync

import (
	"math/rand"
	"time"
)

// Backoff returns the deterministic retry delay for the given attempt
// count: min(base * 2^attempt, max). Attempt 1 is the first retry.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Guard the shift against overflow before comparing to the cap
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}

// BackoffWithJitter adds up to 20% random jitter to the deterministic
// delay so retrying nodes don't stampede a recovering server. The
// result stays bounded by max.
func BackoffWithJitter(attempt int, base, max time.Duration) time.Duration {
	d := Backoff(attempt, base, max)
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	if d+jitter > max {
		return max
	}
	return d + jitter
}
