package network

import (
	"context"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// RateLimitDelay is the fixed wait after a 429 response, distinct from
	// every other retry class.
	RateLimitDelay = 60 * time.Second

	defaultRetryMax     = 4
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 30 * time.Second
)

// NewRetryingClient returns an HTTP client whose retry behavior follows the
// backend's error taxonomy: 429 waits the fixed rate-limit delay, 400/404 and
// transport failures back off exponentially, everything else (including 503)
// is surfaced immediately.
func NewRetryingClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = defaultRetryMax
	client.RetryWaitMin = defaultRetryWaitMin
	client.RetryWaitMax = defaultRetryWaitMax
	client.CheckRetry = checkRetry
	client.Backoff = backoffPolicy
	return client
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// Transport-level failure with no status code.
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadRequest, http.StatusNotFound:
		return true, nil
	}
	return false, nil
}

func backoffPolicy(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return RateLimitDelay
	}
	return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
}
