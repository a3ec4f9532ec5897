package engine

import (
	"net/http"
	"time"
)

// Config holds the engine's pool and retry settings.
type Config struct {
	// Concurrency is the fixed number of parallel part uploads.
	// Default: 6
	Concurrency int

	// MaxRetriesPerPart is the attempt budget of one part before it is
	// marked failed.
	// Default: 5
	MaxRetriesPerPart int

	// RetryWaitMin and RetryWaitMax bound the exponential backoff between
	// attempts of one part.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RateLimitDelay is the fixed wait after a rate-limited attempt,
	// independent of the exponential schedule.
	// Default: 60 seconds
	RateLimitDelay time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       6,
		MaxRetriesPerPart: 5,
		RetryWaitMin:      1 * time.Second,
		RetryWaitMax:      30 * time.Second,
		RateLimitDelay:    60 * time.Second,
	}
}

// DefaultHTTPClient creates an HTTP client tuned for long-running part
// uploads. Individual uploads are bounded by context, not a client timeout.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
