package jimi

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// retryProvider wraps a ChatProvider and automatically retries
// transient HTTP errors (429 Too Many Requests, 503 Service
// Unavailable) with exponential backoff. A generation that already
// streamed deltas is never retried, to avoid duplicating content.
type retryProvider struct {
	inner       ChatProvider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across attempts; 0 = none
	logger      *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second
// attempt (default: 1s). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout sets the overall timeout for the whole retry sequence.
// The zero value (default) disables it.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// RetryLogger sets the structured logger.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient HTTP errors.
// Retries use exponential backoff with jitter; when the error carries a
// Retry-After duration, the delay is at least that long.
func WithRetry(p ChatProvider, opts ...RetryOption) ChatProvider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		var streamed atomic.Bool
		attempt := req
		if req.Deltas != nil {
			inner := req.Deltas
			attempt.Deltas = func(kind DeltaKind, text string) {
				streamed.Store(true)
				inner(kind, text)
			}
		}

		res, err := r.inner.Generate(ctx, attempt)
		if err == nil || !isTransient(err) || streamed.Load() {
			return res, err
		}
		lastErr = err
		r.logger.Warn("transient provider error, retrying",
			"provider", r.inner.Name(), "status", statusOf(err),
			"attempt", i+1, "max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(r.baseDelay, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, lastErr
}

// withTimeout returns a child context with a deadline if r.timeout is
// set and ctx does not already carry an earlier one.
func (r *retryProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i: exponential
// backoff as a floor, the server's Retry-After as a minimum.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ ChatProvider = (*retryProvider)(nil)
