package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iago/gasometria-back/internal/domain"
	goretry "github.com/sethvargo/go-retry"
)

const maxErrorBodyBytes = 500

// Response is a fully read HTTP response. Bodies are read inside the attempt
// so the per-attempt deadline also bounds the transfer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Attempt performs one outbound call. ctx carries the per-attempt deadline.
type Attempt func(ctx context.Context) (*Response, error)

// Policy bounds the retry loop. Only HTTP 429 and transport failures are
// retried; other statuses are handed back to the caller untouched.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	JitterPercent  uint64

	// OnRetry runs before every attempt after the first one.
	OnRetry func(attempt int, lastErr error)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       8 * time.Second,
		AttemptTimeout: 9 * time.Second,
		JitterPercent:  20,
	}
}

func (p Policy) withDefaults() Policy {
	defaults := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = defaults.AttemptTimeout
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.JitterPercent == 0 {
		p.JitterPercent = defaults.JitterPercent
	}
	return p
}

func (p Policy) backoff() goretry.Backoff {
	backoff := goretry.NewExponential(p.BaseDelay)
	if p.JitterPercent > 0 {
		backoff = goretry.WithJitterPercent(p.JitterPercent, backoff)
	}
	if p.MaxDelay > 0 {
		backoff = goretry.WithCappedDuration(p.MaxDelay, backoff)
	}
	return goretry.WithMaxRetries(uint64(p.MaxAttempts-1), backoff)
}

// Call runs attempt until it yields a non-429 response or the attempt budget
// is spent. Exhausted throttling surfaces as *domain.UpstreamError with
// StatusCode 429; exhausted transport failures as *domain.UpstreamError
// with StatusCode 0.
func Call(ctx context.Context, policy Policy, attempt Attempt) (*Response, error) {
	policy = policy.withDefaults()

	var (
		response   *Response
		number     int
		lastErr    error
		retryAfter time.Duration
	)
	schedule := policy.backoff()
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := schedule.Next()
		if stop {
			return 0, true
		}
		if retryAfter > next {
			next = retryAfter
		}
		retryAfter = 0
		return next, false
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		number++
		if number > 1 && policy.OnRetry != nil {
			policy.OnRetry(number, lastErr)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()

		result, callErr := attempt(attemptCtx)
		if callErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = callErr
			return goretry.RetryableError(callErr)
		}
		if result == nil {
			lastErr = errors.New("empty response")
			return goretry.RetryableError(lastErr)
		}
		if result.StatusCode == http.StatusTooManyRequests {
			lastErr = &domain.UpstreamError{
				StatusCode: result.StatusCode,
				Status:     "RESOURCE_EXHAUSTED",
				Message:    BodySnippet(result.Body),
			}
			retryAfter = min(parseRetryAfter(result.Header.Get("Retry-After"), time.Now()), policy.MaxDelay)
			return goretry.RetryableError(lastErr)
		}
		response = result
		return nil
	})
	if err == nil {
		return response, nil
	}

	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return nil, upstream
	}
	return nil, &domain.UpstreamError{Err: err}
}

// parseRetryAfter reads delta-seconds or an HTTP date. Unusable values
// yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

// BodySnippet trims an error body to a loggable size without splitting a
// UTF-8 sequence.
func BodySnippet(body []byte) string {
	message := strings.TrimSpace(string(body))
	if len(message) <= maxErrorBodyBytes {
		return message
	}
	cut := maxErrorBodyBytes
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
