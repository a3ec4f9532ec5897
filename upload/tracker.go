package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/damkit-io/go-damkit/upload/engine"
)

type uploadTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

// newUploadTracker wraps the given tracker, or the default analytics tracker
// when nil.
func newUploadTracker(tracker analytics.Tracker, envRepo env.Repository, logger log.Logger) uploadTracker {
	if tracker == nil {
		p := analytics.Properties{
			"database_id": envRepo.Get("DAMKIT_DATABASE_ID"),
			"client":      "go-damkit",
		}
		tracker = analytics.NewDefaultTracker(logger, p)
	}
	return uploadTracker{
		tracker: tracker,
		logger:  logger,
	}
}

func (t *uploadTracker) logSequencesPlanned(sequenceCount, fileCount int, totalSize int64, totalParts int) {
	properties := analytics.Properties{
		"sequence_count":   sequenceCount,
		"file_count":       fileCount,
		"total_size_bytes": totalSize,
		"total_parts":      totalParts,
	}
	t.tracker.Enqueue("upload_sequences_planned", properties)
}

func (t *uploadTracker) logPartsUploaded(uploadTime time.Duration, result engine.Result, averagePartTime time.Duration) {
	properties := analytics.Properties{
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"parts_completed":   result.Completed,
		"parts_failed":      result.Failed,
		"parts_cancelled":   result.Cancelled,
		"average_part_time": averagePartTime.Truncate(time.Second).Seconds(),
	}
	t.tracker.Enqueue("upload_parts_uploaded", properties)
}

func (t *uploadTracker) logUploadFinished(result Result) {
	properties := analytics.Properties{
		"file_count":      result.TotalFiles,
		"uploaded_files":  result.UploadedFiles,
		"failed_files":    len(result.FailedFiles),
		"cancelled_files": len(result.CancelledFiles),
		"ambiguous_count": len(result.AmbiguousSequences),
		"total_bytes":     result.TotalBytes,
	}
	t.tracker.Enqueue("upload_finished", properties)
}

func (t *uploadTracker) wait() {
	t.tracker.Wait()
}
