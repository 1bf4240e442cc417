// Package httpx holds retry helpers shared by outbound HTTP clients and
// the local step runner.
package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBackoffBase = 250 * time.Millisecond
	jitterFraction     = 0.2
)

// HTTPStatusCoder is implemented by errors that carry an upstream status code.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code < 600
}

// IsRetryableError reports whether err looks like a transient network or
// upstream failure. A canceled parent context is not retryable.
func IsRetryableError(err error) bool {
	var (
		netErr net.Error
		opErr  *net.OpError
		coder  HTTPStatusCoder
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.As(err, &opErr):
		return true
	case errors.As(err, &coder):
		return IsRetryableHTTPStatus(coder.HTTPStatusCode())
	}
	return false
}

// RetryAfterDuration honors a Retry-After header given as seconds or an HTTP
// date, falling back when absent and capping at limit when limit > 0.
func RetryAfterDuration(resp *http.Response, fallback, limit time.Duration) time.Duration {
	wait := fallback
	if resp != nil {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			wait = d
		}
	}
	if limit > 0 {
		wait = min(wait, limit)
	}
	return wait
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

// Backoff doubles base per attempt (1-based) and caps at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBackoffBase
	}
	wait := base
	for n := 1; n < attempt && (limit <= 0 || wait < limit); n++ {
		wait *= 2
	}
	if limit > 0 {
		wait = min(wait, limit)
	}
	return wait
}

// JitterSleep spreads d uniformly within +/-20%.
func JitterSleep(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * jitterFraction
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
