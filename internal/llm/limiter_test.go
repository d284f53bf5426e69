package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scripted Client for Limiter tests.
type fakeClient struct {
	mu       sync.Mutex
	calls    int32
	inFlight int32
	maxSeen  int32
	fn       func(call int) (*Response, error)
}

func (f *fakeClient) Complete(ctx context.Context, req Request) (*Response, error) {
	call := atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if cur > f.maxSeen {
		f.maxSeen = cur
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	return f.fn(int(call))
}

func (f *fakeClient) Provider() string { return "fake" }
func (f *fakeClient) Model() string    { return "fake-model" }

func throttleErr() error {
	return &APIError{Provider: "fake", StatusCode: http.StatusTooManyRequests, Message: "slow down"}
}

func TestLimiter_RetriesThrottledCalls(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{fn: func(call int) (*Response, error) {
		if call < 3 {
			return nil, throttleErr()
		}
		return &Response{Content: "done"}, nil
	}}

	l := NewLimiter(fc, WithRetryBaseWait(time.Millisecond), WithRetryAttempts(3))
	resp, err := l.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fc.calls))
}

func TestLimiter_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{fn: func(call int) (*Response, error) {
		return nil, throttleErr()
	}}

	l := NewLimiter(fc, WithRetryBaseWait(time.Millisecond), WithRetryAttempts(3))
	_, err := l.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	// Initial attempt plus three retries.
	assert.Equal(t, int32(4), atomic.LoadInt32(&fc.calls))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsThrottled())
}

func TestLimiter_DoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{fn: func(call int) (*Response, error) {
		return nil, &APIError{Provider: "fake", StatusCode: http.StatusBadRequest, Message: "bad prompt"}
	}}

	l := NewLimiter(fc, WithRetryBaseWait(time.Millisecond))
	_, err := l.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fc.calls))
	assert.NotContains(t, err.Error(), "retries exhausted")
}

func TestLimiter_BoundsInFlightCalls(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{fn: func(call int) (*Response, error) {
		return &Response{Content: "ok"}, nil
	}}

	l := NewLimiter(fc, WithMaxInFlight(2))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Complete(context.Background(), Request{Prompt: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.LessOrEqual(t, fc.maxSeen, int32(2))
	assert.Equal(t, int32(10), atomic.LoadInt32(&fc.calls))
}

func TestLimiter_ContextCancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{fn: func(call int) (*Response, error) {
		time.Sleep(100 * time.Millisecond)
		return &Response{Content: "slow"}, nil
	}}

	l := NewLimiter(fc, WithMaxInFlight(1))

	ctx, cancel := context.WithCancel(context.Background())
	go l.Complete(context.Background(), Request{Prompt: "first"}) //nolint:errcheck

	time.Sleep(10 * time.Millisecond)
	cancel()

	_, err := l.Complete(ctx, Request{Prompt: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
