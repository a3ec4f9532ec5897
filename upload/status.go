package upload

import (
	"sync"

	"github.com/damkit-io/go-damkit/upload/engine"
	"github.com/damkit-io/go-damkit/upload/network"
	"github.com/damkit-io/go-damkit/upload/planner"
)

// SequenceStatus is the request-level lifecycle state of one sequence.
type SequenceStatus int

const (
	// SequencePending sequences have not been initialized yet.
	SequencePending SequenceStatus = iota
	// SequenceInitInProgress sequences have an initialize call in flight.
	SequenceInitInProgress
	// SequenceInitFailed sequences could not be initialized. Retryable.
	SequenceInitFailed
	// SequenceInitCompleted sequences hold upload credentials and their parts
	// are flowing through the engine.
	SequenceInitCompleted
	// SequenceCompletionInProgress sequences have a completion call in flight.
	SequenceCompletionInProgress
	// SequenceCompleted sequences are fully committed on the backend.
	SequenceCompleted
	// SequenceFailed sequences gave up after part or completion failures.
	// Retryable.
	SequenceFailed
)

// String returns a readable status name.
func (s SequenceStatus) String() string {
	switch s {
	case SequencePending:
		return "pending"
	case SequenceInitInProgress:
		return "init-in-progress"
	case SequenceInitFailed:
		return "init-failed"
	case SequenceInitCompleted:
		return "init-completed"
	case SequenceCompletionInProgress:
		return "completion-in-progress"
	case SequenceCompleted:
		return "completed"
	case SequenceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// sequenceState tracks one sequence across initialization, part upload and
// completion. The coordinator is the sole writer; concurrent completion
// goroutines and the orchestrator synchronize through the mutex.
type sequenceState struct {
	sequence planner.Sequence

	mu          sync.Mutex
	status      SequenceStatus
	uploadID    string
	s3UploadIDs map[int]string
	parts       []*engine.FilePart
	partsByFile map[int][]*engine.FilePart
	ambiguous   bool
	fileResults []network.FileResult
	err         error
}

func newSequenceState(sequence planner.Sequence) *sequenceState {
	return &sequenceState{
		sequence:    sequence,
		s3UploadIDs: map[int]string{},
		partsByFile: map[int][]*engine.FilePart{},
	}
}

func (s *sequenceState) Status() SequenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *sequenceState) setStatus(status SequenceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *sequenceState) fail(status SequenceStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
}

func (s *sequenceState) markAmbiguous() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = SequenceCompleted
	s.ambiguous = true
}

func (s *sequenceState) Ambiguous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ambiguous
}

func (s *sequenceState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// failedParts counts parts that exhausted their retry budget.
func (s *sequenceState) failedParts() int {
	failed := 0
	for _, part := range s.parts {
		if part.Status == engine.StatusFailed {
			failed++
		}
	}
	return failed
}
