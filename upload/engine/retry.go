package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/damkit-io/go-damkit/upload/filehandle"
	"github.com/damkit-io/go-damkit/upload/network"
)

// uploadWithRetry drives all attempts of one part. Rate-limited attempts wait
// the fixed rate-limit delay; transient failures follow the exponential
// schedule; permanent failures stop immediately.
func (e *Engine) uploadWithRetry(ctx context.Context, part *FilePart, handle filehandle.Handle) (string, int, error) {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = e.config.RetryWaitMin
	schedule.MaxInterval = e.config.RetryWaitMax
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", attempts, err
		}
		if e.isCancelled(part.FileIndex) {
			// The loop already marked this part cancelled; stop retrying.
			return "", attempts, context.Canceled
		}

		attempts++
		finished, average := e.timing.snapshot()
		e.logger.Debugf("Uploading part %d of file %d (attempt %d/%d) [finished=%d] [avg=%v]",
			part.PartNumber, part.FileIndex, attempts, e.config.MaxRetriesPerPart,
			finished, average.Round(time.Second))

		start := time.Now()
		etag, err := e.transport.UploadPart(ctx, part, handle)
		if err == nil {
			took := time.Since(start)
			e.timing.record(took)
			e.logger.Debugf("Part %d of file %d uploaded in %v, ETag: %s",
				part.PartNumber, part.FileIndex, took.Round(time.Second), etag)
			return etag, attempts, nil
		}

		class := network.Classify(err)
		if class == network.ClassPermanent || attempts >= e.config.MaxRetriesPerPart {
			return "", attempts, err
		}

		var wait time.Duration
		if class == network.ClassRateLimited {
			wait = e.config.RateLimitDelay
		} else {
			wait = schedule.NextBackOff()
		}
		e.logger.Warnf("Part %d of file %d attempt %d failed, retrying after %v: %s",
			part.PartNumber, part.FileIndex, attempts, wait, err)

		select {
		case <-ctx.Done():
			return "", attempts, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (e *Engine) isCancelled(fileIndex int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[fileIndex]
}
