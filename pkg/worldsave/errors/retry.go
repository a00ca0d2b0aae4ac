package errors

import (
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how often and how fast a failing backend call is
// repeated. Only transient errors are retried.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// Jitter spreads each backoff by up to this fraction either way.
	Jitter float64
}

// StoreRetry is used for blob reads and writes.
var StoreRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 5 * time.Millisecond,
	MaxBackoff:     50 * time.Millisecond,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry makes a single attempt.
var NoRetry = RetryConfig{MaxAttempts: 1}

// Retry calls fn until it succeeds, fails with a non-transient error or
// runs out of attempts. It returns the value, the number of calls made and
// the last error. An exhausted retry wraps the last error in a
// CategorizedError carrying the attempt count.
func Retry[T any](cfg RetryConfig, fn func() (T, error)) (T, int, error) {
	attempts := max(cfg.MaxAttempts, 1)
	wait := cfg.InitialBackoff

	var (
		zero T
		err  error
	)
	for n := 1; n <= attempts; n++ {
		var v T
		if v, err = fn(); err == nil {
			return v, n, nil
		}
		if !IsRetryable(err) {
			return zero, n, err
		}
		if n == attempts {
			break
		}
		time.Sleep(jittered(wait, cfg.Jitter))
		wait = min(time.Duration(float64(wait)*cfg.BackoffFactor), cfg.MaxBackoff)
	}
	return zero, attempts, &CategorizedError{
		Err:      err,
		Category: Categorize(err),
		Attempts: attempts,
		Context:  "retries exhausted",
	}
}

// Backoff paces retries for callers that must not sleep, such as a task
// advanced once per tick. The caller asks Ready each tick and reports each
// failure with Failed.
type Backoff struct {
	cfg      RetryConfig
	attempts int
	wait     time.Duration
	next     time.Time
}

// NewBackoff returns a Backoff with no failed attempts.
func NewBackoff(cfg RetryConfig) *Backoff {
	return &Backoff{cfg: cfg, wait: cfg.InitialBackoff}
}

// Ready reports whether the next attempt may run at now.
func (b *Backoff) Ready(now time.Time) bool {
	return !now.Before(b.next)
}

// Attempts returns the number of failures recorded since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Failed records a failed attempt at now. It reports true when err is
// transient and attempts remain; the next attempt is then due after the
// backoff delay.
func (b *Backoff) Failed(now time.Time, err error) bool {
	b.attempts++
	if !IsRetryable(err) || b.attempts >= max(b.cfg.MaxAttempts, 1) {
		return false
	}
	b.next = now.Add(jittered(b.wait, b.cfg.Jitter))
	b.wait = min(time.Duration(float64(b.wait)*b.cfg.BackoffFactor), b.cfg.MaxBackoff)
	return true
}

// Reset clears the failure count after a success.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.wait = b.cfg.InitialBackoff
	b.next = time.Time{}
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * jitter * (rand.Float64()*2 - 1)
	return d + time.Duration(spread)
}
