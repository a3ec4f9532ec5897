// Package engine transfers planned file parts to their pre-signed targets
// through a bounded worker pool. Parts of lower sequence IDs are scheduled
// first, each part retries independently with backoff, and every status
// transition flows through a single consumer so no two goroutines ever write
// the same part.
package engine

import (
	"github.com/damkit-io/go-damkit/upload/filehandle"
)

// Status is the lifecycle state of one part.
type Status int

const (
	// StatusPending parts are waiting for a free pool slot.
	StatusPending Status = iota
	// StatusInProgress parts are held by exactly one worker.
	StatusInProgress
	// StatusCompleted parts uploaded successfully and carry an ETag.
	StatusCompleted
	// StatusFailed parts exhausted their retry budget. Failed is retryable:
	// a later run may reset it to pending.
	StatusFailed
	// StatusCancelled parts were cancelled by the user and never retry.
	StatusCancelled
)

// String returns a readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in-progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status makes the part eligible for sequence
// completion. Failed parts are not terminal: they stay retryable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// FilePart is the mutable runtime unit of work: one byte range of one file.
// The engine is the sole writer of Status, ETag, RetryCount and LastError
// while a run is active.
type FilePart struct {
	FileIndex  int
	PartNumber int
	StartByte  int64
	EndByte    int64
	SequenceID int

	// RelativeKey and S3UploadID identify the file on the storage backend;
	// the direct-S3 transport needs both.
	RelativeKey string
	S3UploadID  string

	// UploadURL is the pre-signed target, populated after sequence
	// initialization.
	UploadURL string

	Status     Status
	ETag       string
	RetryCount int
	LastError  error
}

// Size returns the byte length of the part.
func (p *FilePart) Size() int64 {
	return p.EndByte - p.StartByte
}

// PartKey identifies one part within a run. Every status transition is keyed
// by it.
type PartKey struct {
	FileIndex  int
	PartNumber int
}

// Callbacks report progress out of the engine. All callbacks are invoked from
// the engine's consumer goroutine, never concurrently with each other.
type Callbacks struct {
	// OnProgress receives the completed and total part counts after every
	// transition.
	OnProgress func(completed, total int)

	// OnFileProgress receives a file's recomputed upload percentage whenever
	// one of its parts completes.
	OnFileProgress func(fileIndex int, percent float64)

	// OnSequenceTerminal fires exactly once per sequence, when every part of
	// that sequence in this run reached a terminal state.
	OnSequenceTerminal func(sequenceID int)
}

// Job is one engine run: the parts to transfer and the handles to read them
// from, keyed by file index.
type Job struct {
	Parts     []*FilePart
	Handles   map[int]filehandle.Handle
	Callbacks Callbacks
}

// Result summarizes a finished run.
type Result struct {
	Completed int
	Failed    int
	Cancelled int
}
