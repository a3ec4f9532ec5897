package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/damkit-io/go-damkit/upload/filehandle"
)

// Engine drains file parts through a fixed-size worker pool. Parts are pulled
// from the lowest sequence ID that still has pending work, so earlier
// sequences drain first without blocking later ones.
type Engine struct {
	config    Config
	transport PartTransport
	logger    log.Logger
	timing    partTiming

	mu        sync.Mutex
	cancelled map[int]bool
	notify    chan struct{}
}

// New creates an engine. Zero config fields fall back to the defaults.
func New(config Config, transport PartTransport, logger log.Logger) *Engine {
	defaults := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.MaxRetriesPerPart <= 0 {
		config.MaxRetriesPerPart = defaults.MaxRetriesPerPart
	}
	if config.RetryWaitMin <= 0 {
		config.RetryWaitMin = defaults.RetryWaitMin
	}
	if config.RetryWaitMax <= 0 {
		config.RetryWaitMax = defaults.RetryWaitMax
	}
	if config.RateLimitDelay <= 0 {
		config.RateLimitDelay = defaults.RateLimitDelay
	}

	return &Engine{
		config:    config,
		transport: transport,
		logger:    logger,
		cancelled: map[int]bool{},
		notify:    make(chan struct{}, 1),
	}
}

// CancelFile marks a file cancelled. Its pending and in-progress parts move
// to cancelled without further network contact; the result of the last
// outstanding call, if any, is ignored.
func (e *Engine) CancelFile(fileIndex int) {
	e.mu.Lock()
	e.cancelled[fileIndex] = true
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// transition is one worker's report for a part. Workers never touch part
// state themselves; the consumer loop applies every transition.
type transition struct {
	key      PartKey
	etag     string
	err      error
	attempts int
}

// Run transfers every part of the job and blocks until all of them settled.
// The returned error is non-nil only when the context was cancelled; part
// failures are reported through part statuses and the result counts.
func (e *Engine) Run(ctx context.Context, job Job) (*Result, error) {
	state, err := newRunState(job)
	if err != nil {
		return nil, err
	}
	if state.total == 0 {
		return &Result{}, nil
	}

	e.logger.Debugf("Uploading %d parts with pool size %d", state.total, e.config.Concurrency)

	// Buffered for every part so late workers never block on send.
	results := make(chan transition, state.total)
	inFlight := 0

	e.applyCancellations(state, job.Callbacks)

	ctxDone := ctx.Done()
	for {
		if ctx.Err() == nil {
			for inFlight < e.config.Concurrency {
				part := state.nextPending()
				if part == nil {
					break
				}
				part.Status = StatusInProgress
				inFlight++
				go e.work(ctx, part, job.Handles[part.FileIndex], results)
			}
		}

		if state.settled == state.total && inFlight == 0 {
			break
		}

		select {
		case <-ctxDone:
			// Stop dispatching; parts that never started are cancelled,
			// in-flight workers settle through their own transitions.
			ctxDone = nil
			state.cancelPending(job.Callbacks, e.logger)
		case t := <-results:
			inFlight--
			state.apply(t, job.Callbacks, e.logger)
		case <-e.notify:
			e.applyCancellations(state, job.Callbacks)
		}
	}

	result := &Result{
		Completed: state.completed,
		Failed:    state.failed,
		Cancelled: state.cancelledCount,
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("upload cancelled: %w", ctx.Err())
	}
	return result, nil
}

// work runs outside the consumer loop. It only reads the part's immutable
// fields; all mutation happens when the loop applies the transition.
func (e *Engine) work(ctx context.Context, part *FilePart, handle filehandle.Handle, results chan<- transition) {
	etag, attempts, err := e.uploadWithRetry(ctx, part, handle)
	results <- transition{
		key:      PartKey{FileIndex: part.FileIndex, PartNumber: part.PartNumber},
		etag:     etag,
		err:      err,
		attempts: attempts,
	}
}

func (e *Engine) applyCancellations(state *runState, callbacks Callbacks) {
	e.mu.Lock()
	files := make([]int, 0, len(e.cancelled))
	for fileIndex := range e.cancelled {
		files = append(files, fileIndex)
	}
	e.mu.Unlock()

	for _, fileIndex := range files {
		state.cancelFile(fileIndex, callbacks, e.logger)
	}
}

// runState is owned by the consumer loop; nothing else reads or writes it.
type runState struct {
	parts  map[PartKey]*FilePart
	queues map[int][]*FilePart
	seqIDs []int

	seqTotal   map[int]int
	seqSettled map[int]int
	seqFailed  map[int]int
	seqFired   map[int]bool

	fileTotal map[int]int
	fileDone  map[int]int

	total          int
	settled        int
	completed      int
	failed         int
	cancelledCount int
}

func newRunState(job Job) (*runState, error) {
	state := &runState{
		parts:      map[PartKey]*FilePart{},
		queues:     map[int][]*FilePart{},
		seqTotal:   map[int]int{},
		seqSettled: map[int]int{},
		seqFailed:  map[int]int{},
		seqFired:   map[int]bool{},
		fileTotal:  map[int]int{},
		fileDone:   map[int]int{},
		total:      len(job.Parts),
	}

	for _, part := range job.Parts {
		key := PartKey{FileIndex: part.FileIndex, PartNumber: part.PartNumber}
		if _, exists := state.parts[key]; exists {
			return nil, fmt.Errorf("duplicate part %d of file %d in job", part.PartNumber, part.FileIndex)
		}
		if part.Status != StatusPending {
			return nil, fmt.Errorf("part %d of file %d is %s, jobs start with pending parts only",
				part.PartNumber, part.FileIndex, part.Status)
		}
		if job.Handles[part.FileIndex] == nil {
			return nil, fmt.Errorf("no file handle for file %d", part.FileIndex)
		}

		state.parts[key] = part
		if _, seen := state.queues[part.SequenceID]; !seen {
			state.seqIDs = append(state.seqIDs, part.SequenceID)
		}
		state.queues[part.SequenceID] = append(state.queues[part.SequenceID], part)
		state.seqTotal[part.SequenceID]++
		state.fileTotal[part.FileIndex]++
	}
	sort.Ints(state.seqIDs)

	return state, nil
}

// nextPending returns the next pending part of the lowest sequence ID that
// still has one, or nil when nothing is pending.
func (s *runState) nextPending() *FilePart {
	for _, id := range s.seqIDs {
		queue := s.queues[id]
		for len(queue) > 0 {
			part := queue[0]
			queue = queue[1:]
			if part.Status == StatusPending {
				s.queues[id] = queue
				return part
			}
		}
		s.queues[id] = queue
	}
	return nil
}

func (s *runState) apply(t transition, callbacks Callbacks, logger log.Logger) {
	part := s.parts[t.key]
	if part.Status != StatusInProgress {
		// The file was cancelled while this part was in flight; the network
		// call's result is ignored.
		logger.Debugf("Ignoring result of part %d of file %d: part is %s",
			part.PartNumber, part.FileIndex, part.Status)
		return
	}

	if t.attempts > 0 {
		part.RetryCount = t.attempts - 1
	}
	switch {
	case t.err == nil:
		part.Status = StatusCompleted
		part.ETag = t.etag
		part.LastError = nil
	case errors.Is(t.err, context.Canceled):
		part.Status = StatusCancelled
		part.LastError = t.err
	default:
		part.Status = StatusFailed
		part.LastError = t.err
		logger.Warnf("Part %d of file %d failed after %d attempts: %s",
			part.PartNumber, part.FileIndex, t.attempts, t.err)
	}

	s.settle(part, callbacks)
}

func (s *runState) cancelFile(fileIndex int, callbacks Callbacks, logger log.Logger) {
	for _, part := range s.parts {
		if part.FileIndex != fileIndex {
			continue
		}
		if part.Status != StatusPending && part.Status != StatusInProgress {
			continue
		}
		logger.Debugf("Cancelling part %d of file %d", part.PartNumber, part.FileIndex)
		part.Status = StatusCancelled
		s.settle(part, callbacks)
	}
}

func (s *runState) cancelPending(callbacks Callbacks, logger log.Logger) {
	for _, part := range s.parts {
		if part.Status != StatusPending {
			continue
		}
		part.Status = StatusCancelled
		s.settle(part, callbacks)
	}
	logger.Debugf("Context cancelled, remaining pending parts marked cancelled")
}

// settle books a part's terminal-for-this-run outcome and fires callbacks.
// The sequence-terminal callback fires exactly once, when every part of the
// sequence settled without failures.
func (s *runState) settle(part *FilePart, callbacks Callbacks) {
	s.settled++
	s.seqSettled[part.SequenceID]++

	switch part.Status {
	case StatusCompleted:
		s.completed++
		s.fileDone[part.FileIndex]++
		if callbacks.OnProgress != nil {
			callbacks.OnProgress(s.completed, s.total)
		}
		if callbacks.OnFileProgress != nil {
			percent := float64(s.fileDone[part.FileIndex]) / float64(s.fileTotal[part.FileIndex]) * 100
			callbacks.OnFileProgress(part.FileIndex, percent)
		}
	case StatusFailed:
		s.failed++
		s.seqFailed[part.SequenceID]++
	case StatusCancelled:
		s.cancelledCount++
	}

	seqID := part.SequenceID
	if s.seqSettled[seqID] == s.seqTotal[seqID] && s.seqFailed[seqID] == 0 && !s.seqFired[seqID] {
		s.seqFired[seqID] = true
		if callbacks.OnSequenceTerminal != nil {
			callbacks.OnSequenceTerminal(seqID)
		}
	}
}
