package resilience

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Policy is a deterministic exponential backoff (no jitter) for Bot API calls.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetryAfter caps server-requested waits; longer waits fail immediately.
	MaxRetryAfter time.Duration
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy suits the Telegram Bot API.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:      4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2,
		MaxRetryAfter: time.Minute,
	}
}

// RetryAfterError is implemented by errors that carry a server-supplied wait, such as
// a Bot API 429 with parameters.retry_after.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Retry runs fn until it succeeds, returns a non-retryable error, the budget runs out, or ctx ends.
func Retry(ctx context.Context, policy Policy, isRetryable func(error) bool, fn func(context.Context) error) error {
	_, err := Do(ctx, policy, isRetryable, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(callCtx)
	})
	return err
}

// Do is Retry for functions with a result.
func Do[T any](
	ctx context.Context,
	policy Policy,
	isRetryable func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	policy = policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == policy.Attempts || ctx.Err() != nil || !isRetryable(err) {
			return zero, err
		}

		delay, ok := policy.delay(attempt, err)
		if !ok {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func (policy Policy) normalized() Policy {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = 2
	}
	policy.InitialDelay = max(policy.InitialDelay, 0)
	policy.MaxDelay = max(policy.MaxDelay, 0)
	return policy
}

// delay returns how long to wait after attempt failed with err. A retry_after hint replaces the
// computed backoff; ok is false when the hint exceeds MaxRetryAfter.
func (policy Policy) delay(attempt int, err error) (time.Duration, bool) {
	var hinted RetryAfterError
	if errors.As(err, &hinted) && hinted.RetryAfter() > 0 {
		wait := hinted.RetryAfter()
		if policy.MaxRetryAfter > 0 && wait > policy.MaxRetryAfter {
			return 0, false
		}
		return wait, true
	}
	return policy.backoff(attempt), true
}

func (policy Policy) backoff(attempt int) time.Duration {
	if attempt <= 0 || policy.InitialDelay <= 0 {
		return 0
	}
	scale := math.Pow(policy.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(policy.InitialDelay) * scale)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

// IsRetryableStatus reports Bot API HTTP statuses worth retrying: 429 and 5xx.
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}

// IsTransient reports transport failures that usually succeed on a second try.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTemporary
}
