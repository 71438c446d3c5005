package writer

import (
	"math/rand"
	"time"
)

// backoffDelay computes the full-jitter exponential delay for a retry
// attempt (0-indexed), starting at base and doubling up to maxDelay.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
