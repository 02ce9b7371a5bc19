package scheduler

import "time"

// ─── Retry Backoff ──────────────────────────────────────────────────────────
// A task whose batch failed is not stepped again until its backoff expires.
// Delay is base * 2^(attempt-1), capped at max. There is no retry limit:
// failures are never fatal, the cursor just stays on the failed cell.

// RetryEntry tracks one world's consecutive failures.
type RetryEntry struct {
	Attempt   int       `json:"attempt"`
	NextRetry time.Time `json:"next_retry"`
	FailedAt  time.Time `json:"failed_at"`
	Error     string    `json:"error"`
}

type retryBook struct {
	base, max time.Duration
	entries   map[string]*RetryEntry
}

func newRetryBook(base, max time.Duration) *retryBook {
	return &retryBook{base: base, max: max, entries: make(map[string]*RetryEntry)}
}

// fail records a failure and returns the delay before the next attempt.
func (b *retryBook) fail(world string, now time.Time, err error) time.Duration {
	e, ok := b.entries[world]
	if !ok {
		e = &RetryEntry{}
		b.entries[world] = e
	}
	e.Attempt++
	delay := backoffDelay(b.base, b.max, e.Attempt)
	e.FailedAt = now
	e.NextRetry = now.Add(delay)
	e.Error = err.Error()
	return delay
}

// ready reports whether world may be stepped at now.
func (b *retryBook) ready(world string, now time.Time) bool {
	e, ok := b.entries[world]
	return !ok || !now.Before(e.NextRetry)
}

func (b *retryBook) clear(world string) {
	delete(b.entries, world)
}

// backoffDelay returns base * 2^(attempt-1), capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
