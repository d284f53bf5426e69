package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"
)

// Default values for the Limiter.
const (
	defaultMaxInFlight   = 8
	defaultRetryAttempts = 3
	defaultRetryBaseWait = 10 * time.Second
)

// Limiter wraps a Client with a process-wide in-flight bound and
// throttle-aware retries. Every pipeline stage and run-time extraction call
// shares one Limiter so that concurrent articles cannot overrun the
// provider's rate limits.
//
// Transient failures (429, 5xx, network) are retried with exponential
// backoff: the first retry waits the base delay, each further retry doubles
// it. With the defaults that is 10s, 20s, 40s. Exhausted retries surface the
// last provider error; callers decide what a failed call degrades to.
type Limiter struct {
	client   Client
	sem      *semaphore.Weighted
	attempts uint
	baseWait time.Duration
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithMaxInFlight sets the maximum number of concurrent provider calls.
func WithMaxInFlight(n int64) LimiterOption {
	return func(l *Limiter) {
		if n > 0 {
			l.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithRetryAttempts sets how many times a transient failure is retried.
func WithRetryAttempts(n uint) LimiterOption {
	return func(l *Limiter) {
		l.attempts = n
	}
}

// WithRetryBaseWait sets the delay before the first retry. Each subsequent
// retry doubles the previous delay.
func WithRetryBaseWait(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d > 0 {
			l.baseWait = d
		}
	}
}

// NewLimiter wraps client with the default in-flight bound and retry policy.
func NewLimiter(client Client, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		client:   client,
		sem:      semaphore.NewWeighted(defaultMaxInFlight),
		attempts: defaultRetryAttempts,
		baseWait: defaultRetryBaseWait,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Complete acquires an in-flight slot, then calls the wrapped client,
// retrying transient failures. It blocks while the bound is saturated;
// context cancellation releases waiters.
func (l *Limiter) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("llm limiter: %w", err)
	}
	defer l.sem.Release(1)

	var resp *Response
	err := retry.Do(
		func() error {
			var callErr error
			resp, callErr = l.client.Complete(ctx, req)
			return callErr
		},
		retry.Context(ctx),
		// Attempts counts the initial call plus retries.
		retry.Attempts(l.attempts+1),
		retry.Delay(l.baseWait),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isTransientError),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if isTransientError(err) {
			return nil, fmt.Errorf("%s: retries exhausted: %w", l.client.Provider(), err)
		}
		return nil, err
	}
	return resp, nil
}

// Provider returns the wrapped client's provider name.
func (l *Limiter) Provider() string { return l.client.Provider() }

// Model returns the wrapped client's model identifier.
func (l *Limiter) Model() string { return l.client.Model() }

var _ Client = (*Limiter)(nil)
