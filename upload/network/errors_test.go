package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{
			name: "rate limited",
			err:  &StatusError{StatusCode: http.StatusTooManyRequests},
			want: ClassRateLimited,
		},
		{
			name: "ambiguous 503",
			err:  &StatusError{StatusCode: http.StatusServiceUnavailable},
			want: ClassAmbiguousTimeout,
		},
		{
			name: "bad request is transient in this backend's convention",
			err:  &StatusError{StatusCode: http.StatusBadRequest},
			want: ClassTransient,
		},
		{
			name: "not found is transient in this backend's convention",
			err:  &StatusError{StatusCode: http.StatusNotFound},
			want: ClassTransient,
		},
		{
			name: "forbidden is permanent",
			err:  &StatusError{StatusCode: http.StatusForbidden},
			want: ClassPermanent,
		},
		{
			name: "wrapped status error",
			err:  fmt.Errorf("complete sequence: %w", &StatusError{StatusCode: http.StatusTooManyRequests}),
			want: ClassRateLimited,
		},
		{
			name: "plain transport error",
			err:  errors.New("connection reset by peer"),
			want: ClassTransient,
		},
		{
			name: "cancelled context",
			err:  context.Canceled,
			want: ClassPermanent,
		},
		{
			name: "nil",
			err:  nil,
			want: ClassPermanent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestBackoffPolicy(t *testing.T) {
	rateLimited := &http.Response{StatusCode: http.StatusTooManyRequests}
	assert.Equal(t, RateLimitDelay, backoffPolicy(time.Second, 30*time.Second, 0, rateLimited))

	// Everything else grows exponentially from the minimum wait.
	notFound := &http.Response{StatusCode: http.StatusNotFound}
	first := backoffPolicy(time.Second, 30*time.Second, 0, notFound)
	second := backoffPolicy(time.Second, 30*time.Second, 1, notFound)
	assert.Equal(t, time.Second, first)
	assert.Equal(t, 2*time.Second, second)
}

func TestCheckRetry(t *testing.T) {
	ctx := context.Background()

	retry, err := checkRetry(ctx, &http.Response{StatusCode: http.StatusTooManyRequests}, nil)
	assert.NoError(t, err)
	assert.True(t, retry)

	retry, _ = checkRetry(ctx, &http.Response{StatusCode: http.StatusServiceUnavailable}, nil)
	assert.False(t, retry, "503 is surfaced for the caller to interpret, never retried")

	retry, _ = checkRetry(ctx, &http.Response{StatusCode: http.StatusOK}, nil)
	assert.False(t, retry)

	retry, _ = checkRetry(ctx, nil, errors.New("dial tcp: connection refused"))
	assert.True(t, retry)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	retry, err = checkRetry(cancelled, nil, nil)
	assert.False(t, retry)
	assert.Error(t, err)
}
