package retry

import (
	"math/rand"
	"time"
)

// maxBackoff caps the exponential curve so a long retry budget cannot
// stretch a single wait into minutes.
const maxBackoff = 30 * time.Second

// Backoff computes the fallback delay for the next try after the given
// attempt number (1-based) failed without a classified delay:
// base * 2^attempt, capped, then stretched by up to 10% jitter so
// concurrent workers do not retry in lockstep.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			delay = maxBackoff
			break
		}
	}

	jitter := 1 + rand.Float64()*0.1
	return time.Duration(float64(delay) * jitter)
}
