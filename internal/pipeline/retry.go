package pipeline

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/docpress/internal/store"
)

// IsRetryable reports whether a failed render should be attempted again.
// Only storage failures are; structural and coordination errors repeat.
func IsRetryable(err error) bool {
	return errors.Is(err, store.ErrPersistence)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3
