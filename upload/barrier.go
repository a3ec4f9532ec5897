package upload

import (
	"context"
	"fmt"
	"sync"
)

// completionBarrier defers preview-class sequence completion until every
// asset-file sequence reported its completion outcome. Release is a channel
// close, so any number of preview sequences can wait without polling.
type completionBarrier struct {
	mu        sync.Mutex
	remaining int
	failures  int
	released  chan struct{}
}

// newCompletionBarrier creates a barrier over the given number of asset-file
// sequences. A zero count releases immediately.
func newCompletionBarrier(assetFileSequences int) *completionBarrier {
	b := &completionBarrier{
		remaining: assetFileSequences,
		released:  make(chan struct{}),
	}
	if assetFileSequences == 0 {
		close(b.released)
	}
	return b
}

// sequenceDone records one asset-file sequence's outcome. The last report
// releases every waiter.
func (b *completionBarrier) sequenceDone(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remaining == 0 {
		return
	}
	b.remaining--
	if !ok {
		b.failures++
	}
	if b.remaining == 0 {
		close(b.released)
	}
}

// wait blocks until every asset-file sequence reported. It returns an error
// when any of them failed: preview artifacts must not be committed before the
// files they reference.
func (b *completionBarrier) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.released:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		return fmt.Errorf("%d asset file sequence(s) failed, preview completion aborted", b.failures)
	}
	return nil
}
