package engine

import (
	"sync"
	"time"
)

// partTiming accumulates the durations of finished part uploads. Workers
// record into it concurrently; the attempt logs and the post-run summary read
// the running average.
type partTiming struct {
	mu  sync.Mutex
	sum time.Duration
	n   int64
}

func (t *partTiming) record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum += d
	t.n++
}

// snapshot returns the number of finished parts and their mean duration.
func (t *partTiming) snapshot() (finished int64, average time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n > 0 {
		average = t.sum / time.Duration(t.n)
	}
	return t.n, average
}

// AveragePartTime returns the mean upload duration of the parts finished so
// far, zero before the first one.
func (e *Engine) AveragePartTime() time.Duration {
	_, average := e.timing.snapshot()
	return average
}
