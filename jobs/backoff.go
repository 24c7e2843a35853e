package jobs

import "time"

// Retry delays by attempt number. The cap keeps a repeatedly-failing job
// from pushing its next attempt arbitrarily far into the future.
const (
	backoffFirst  = 30 * time.Second
	backoffSecond = 2 * time.Minute
	backoffCap    = 10 * time.Minute
)

// BackoffDelay returns the retry delay for a given attempt number.
// Pure and deterministic so retry timing is independently testable:
// attempt 1 -> 30s, attempt 2 -> 2m, attempt >= 3 -> 10m (capped).
// Attempt values below 1 are treated as the first attempt.
func BackoffDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return backoffFirst
	case attempt == 2:
		return backoffSecond
	default:
		return backoffCap
	}
}

// NextRunAfter returns the instant a job that just failed its given attempt
// becomes claimable again.
func NextRunAfter(attempt int, now time.Time) time.Time {
	return now.Add(BackoffDelay(attempt))
}
