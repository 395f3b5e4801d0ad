package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func statusSequence(codes ...int) (Attempt, *int32) {
	var calls int32
	return func(context.Context) (*Response, error) {
		index := int(atomic.AddInt32(&calls, 1)) - 1
		code := codes[len(codes)-1]
		if index < len(codes) {
			code = codes[index]
		}
		return &Response{StatusCode: code, Body: []byte(`{"status":"ok"}`)}, nil
	}, &calls
}

func TestCallRetriesThrottlingThenSucceeds(t *testing.T) {
	attempt, calls := statusSequence(http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK)

	var waits int
	policy := fastPolicy(5)
	policy.OnRetry = func(int, error) { waits++ }

	response, err := Call(context.Background(), policy, attempt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, 2, waits)
}

func TestCallExhaustsThrottling(t *testing.T) {
	attempt, calls := statusSequence(http.StatusTooManyRequests)

	_, err := Call(context.Background(), fastPolicy(3), attempt)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
	assert.ErrorIs(t, err, domain.ErrUpstreamThrottled)
}

func TestCallDoesNotRetryOtherStatuses(t *testing.T) {
	attempt, calls := statusSequence(http.StatusBadRequest, http.StatusOK)

	response, err := Call(context.Background(), fastPolicy(4), attempt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestCallRetriesTransportErrorsThenReturnsLast(t *testing.T) {
	var calls int32
	attempt := func(context.Context) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection reset by peer")
	}

	_, err := Call(context.Background(), fastPolicy(3), attempt)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestCallBoundsEachAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	policy := fastPolicy(2)
	policy.AttemptTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := Call(context.Background(), policy, func(ctx context.Context) (*Response, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		if err != nil {
			return nil, err
		}
		response, err := server.Client().Do(request)
		if err != nil {
			return nil, err
		}
		defer response.Body.Close()
		return &Response{StatusCode: response.StatusCode}, nil
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt, calls := statusSequence(http.StatusOK)
	_, err := Call(ctx, fastPolicy(3), attempt)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestWithDefaultsAddsJitterAndCap(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, AttemptTimeout: 9 * time.Second}.withDefaults()
	assert.Equal(t, DefaultPolicy().JitterPercent, policy.JitterPercent)
	assert.Equal(t, DefaultPolicy().MaxDelay, policy.MaxDelay)

	delays := make(map[time.Duration]struct{})
	for i := 0; i < 50; i++ {
		delay, stop := policy.backoff().Next()
		require.False(t, stop)
		assert.GreaterOrEqual(t, delay, 80*time.Millisecond)
		assert.LessOrEqual(t, delay, 120*time.Millisecond)
		delays[delay] = struct{}{}
	}
	assert.Greater(t, len(delays), 1, "first delay should vary between runs")
}

func TestBackoffIsCapped(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second}.withDefaults()
	backoff := policy.backoff()
	for i := 0; i < 9; i++ {
		delay, stop := backoff.Next()
		require.False(t, stop)
		assert.LessOrEqual(t, delay, 2*time.Second)
	}
	_, stop := backoff.Next()
	assert.True(t, stop)
}

func TestCallHonorsRetryAfterUpToMaxDelay(t *testing.T) {
	var calls int32
	attempt := func(context.Context) (*Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			header := http.Header{}
			header.Set("Retry-After", "120")
			return &Response{StatusCode: http.StatusTooManyRequests, Header: header}, nil
		}
		return &Response{StatusCode: http.StatusOK}, nil
	}

	policy := fastPolicy(2)
	policy.MaxDelay = 40 * time.Millisecond

	start := time.Now()
	response, err := Call(context.Background(), policy, attempt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-1", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestBodySnippetKeepsRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxErrorBodyBytes-1) + "ção"
	snippet := BodySnippet([]byte(body))
	assert.True(t, utf8.ValidString(snippet))
	assert.LessOrEqual(t, len(snippet), maxErrorBodyBytes)
	assert.Equal(t, strings.Repeat("a", maxErrorBodyBytes-1), snippet)

	assert.Equal(t, "short", BodySnippet([]byte("  short \n")))
}
