package upload

import (
	"context"
	"errors"
	"fmt"
)

// StageStatus is the lifecycle state of one workflow stage.
type StageStatus int

const (
	// StagePending stages have not run yet.
	StagePending StageStatus = iota
	// StageInProgress marks the single currently running stage.
	StageInProgress
	// StageCompleted stages are never replayed, not even on resume.
	StageCompleted
	// StageFailed stages stop the workflow; resume retries them.
	StageFailed
	// StageSkipped stages were not applicable or were skipped by the caller.
	StageSkipped
)

// String returns a readable status name.
func (s StageStatus) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageInProgress:
		return "in-progress"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	case StageSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Stage names, in workflow order.
const (
	StageCreateAsset = "create asset"
	StageMetadata    = "attach metadata"
	StageLinks       = "create links"
	StagePlan        = "plan sequences"
	StageInitialize  = "initialize sequences"
	StageUploadParts = "upload parts"
	StageFinalize    = "finalize"
)

// errStageSkipped is returned by a stage's run function when the stage does
// not apply to this upload (existing asset, empty metadata, no links).
var errStageSkipped = errors.New("stage not applicable")

type stage struct {
	name   string
	status StageStatus
	err    error
	run    func(ctx context.Context) error
}

// runStages executes the stages in order, starting from the first one that is
// not completed or skipped. The first failure stops the workflow; everything
// upstream keeps its status so a resume picks up exactly where this run
// stopped.
func (u *Uploader) runStages(ctx context.Context, stages []*stage) error {
	for _, s := range stages {
		if s.status == StageCompleted || s.status == StageSkipped {
			continue
		}

		u.setStageStatus(s, StageInProgress)
		err := s.run(ctx)
		switch {
		case err == nil:
			s.err = nil
			u.setStageStatus(s, StageCompleted)
		case errors.Is(err, errStageSkipped):
			s.err = nil
			u.setStageStatus(s, StageSkipped)
		default:
			s.err = err
			u.setStageStatus(s, StageFailed)
			return fmt.Errorf("stage %q: %w", s.name, err)
		}
	}
	return nil
}

func (u *Uploader) setStageStatus(s *stage, status StageStatus) {
	s.status = status
	u.logger.Debugf("Stage %q is %s", s.name, status)
	if u.callbacks.OnStageChange != nil {
		u.callbacks.OnStageChange(s.name, status)
	}
}

// StageStatuses reports the status of every stage by name. Empty before the
// first Run.
func (u *Uploader) StageStatuses() map[string]StageStatus {
	u.mu.Lock()
	defer u.mu.Unlock()

	statuses := map[string]StageStatus{}
	if u.session == nil {
		return statuses
	}
	for _, s := range u.session.stages {
		statuses[s.name] = s.status
	}
	return statuses
}

// SkipStage marks a failed optional stage skipped, so a resume continues past
// it. Only the metadata and links stages can be skipped: every other stage
// produces state the rest of the workflow depends on.
func (u *Uploader) SkipStage(name string) error {
	if name != StageMetadata && name != StageLinks {
		return fmt.Errorf("stage %q cannot be skipped", name)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == nil {
		return fmt.Errorf("no upload in progress")
	}
	for _, s := range u.session.stages {
		if s.name != name {
			continue
		}
		if s.status != StageFailed {
			return fmt.Errorf("stage %q is %s, only failed stages can be skipped", name, s.status)
		}
		s.status = StageSkipped
		s.err = nil
		u.logger.Infof("Stage %q skipped on request", name)
		return nil
	}
	return fmt.Errorf("unknown stage %q", name)
}
