// Package upload orchestrates chunked asset uploads against the object
// storage backend: it plans files into parts and sequences, initializes each
// sequence for upload credentials, drains all parts through a bounded worker
// pool and completes sequences as their parts settle. The workflow is
// cancellable per file and resumable: a resume retries exactly the failed
// units without re-uploading anything that already succeeded.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/damkit-io/go-damkit/upload/engine"
	"github.com/damkit-io/go-damkit/upload/filehandle"
	"github.com/damkit-io/go-damkit/upload/network"
	"github.com/damkit-io/go-damkit/upload/planner"
)

// AssetDetails describes the asset to create when no existing asset ID is
// given.
type AssetDetails struct {
	Name        string
	Description string
}

// Link requests a relationship between the uploaded asset and another one.
type Link struct {
	RelatedAssetID string
	Relationship   string
}

// AssetService is the boundary to asset CRUD. The orchestrator only calls it
// for the stages preceding the upload itself; implementations live outside
// this module.
type AssetService interface {
	CreateAsset(ctx context.Context, databaseID string, details AssetDetails) (assetID string, err error)
	AttachMetadata(ctx context.Context, databaseID string, assetID string, metadata map[string]string) error
	CreateLinks(ctx context.Context, databaseID string, assetID string, links []Link) error
}

// Callbacks report workflow progress. All of them are optional.
type Callbacks struct {
	// OnProgress receives overall completed and total part counts.
	OnProgress func(completed, total int)

	// OnFileProgress receives a file's upload percentage.
	OnFileProgress func(fileIndex int, percent float64)

	// OnStageChange fires on every stage status transition.
	OnStageChange func(stage string, status StageStatus)

	// OnComplete fires exactly once per workflow, when every sequence reached
	// a terminal completion state, no matter how many sequences report
	// concurrently.
	OnComplete func(result Result)
}

// Params configures an Uploader.
type Params struct {
	APIBaseURL  string
	AccessToken string
	DatabaseID  string

	// AssetID targets an existing asset; when empty, the workflow creates one
	// through the Service.
	AssetID string

	// Service handles asset creation, metadata and links. It may be nil when
	// AssetID is set and the input carries no metadata or links.
	Service AssetService

	// Limits overrides the backend's planning constraints. Zero value means
	// the defaults.
	Limits planner.Limits

	EngineConfig engine.Config

	// Transport overrides how part bytes reach storage. Nil means pre-signed
	// PUTs.
	Transport engine.PartTransport

	// Client overrides the backend API client, mainly for tests.
	Client *network.Client

	// Tracker overrides the analytics tracker, mainly for tests.
	Tracker analytics.Tracker

	EnvRepo   env.Repository
	Logger    log.Logger
	Callbacks Callbacks
}

// Input is one upload's worth of work.
type Input struct {
	Asset    AssetDetails
	Files    []planner.FileInfo
	Handles  map[int]filehandle.Handle
	Metadata map[string]string
	Links    []Link
}

// Result summarizes a workflow run. Partial success is a normal outcome, not
// an error: the failed and cancelled lists carry the exceptions.
type Result struct {
	AssetID        string
	TotalFiles     int
	UploadedFiles  int
	FailedFiles    []string
	CancelledFiles []string

	// AmbiguousSequences lists sequences whose completion got a 503 and was
	// optimistically treated as success; callers may want to verify them.
	AmbiguousSequences []int

	CompletedParts int
	FailedParts    int
	CancelledParts int
	TotalBytes     int64
}

// Uploader is the top-level workflow driver. One Uploader runs one workflow
// at a time; Resume continues the workflow started by the last Run.
type Uploader struct {
	params    Params
	limits    planner.Limits
	logger    log.Logger
	client    *network.Client
	engine    *engine.Engine
	tracker   uploadTracker
	callbacks Callbacks

	mu            sync.Mutex
	cancelled     map[int]bool
	session       *session
	completeFired bool
}

type session struct {
	input     Input
	stages    []*stage
	assetID   string
	sequences []*sequenceState
}

// NewUploader creates a workflow driver.
func NewUploader(params Params) *Uploader {
	logger := params.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	envRepo := params.EnvRepo
	if envRepo == nil {
		envRepo = env.NewRepository()
	}
	limits := params.Limits
	if limits == (planner.Limits{}) {
		limits = planner.DefaultLimits()
	}
	client := params.Client
	if client == nil {
		client = network.NewClient(params.APIBaseURL, params.AccessToken, logger)
	}
	transport := params.Transport
	if transport == nil {
		transport = engine.NewHTTPTransport(nil, logger)
	}

	return &Uploader{
		params:    params,
		limits:    limits,
		logger:    logger,
		client:    client,
		engine:    engine.New(params.EngineConfig, transport, logger),
		tracker:   newUploadTracker(params.Tracker, envRepo, logger),
		callbacks: params.Callbacks,
		cancelled: map[int]bool{},
	}
}

// Run executes the whole workflow for the given input. It returns the result
// alongside any error: partial progress survives a failed run and Resume
// picks it up.
func (u *Uploader) Run(ctx context.Context, input Input) (Result, error) {
	if err := validateInput(input); err != nil {
		return Result{}, err
	}

	s := &session{input: input, assetID: u.params.AssetID}
	s.stages = u.buildStages(s)

	u.mu.Lock()
	u.session = s
	u.completeFired = false
	u.mu.Unlock()

	return u.resume(ctx, s)
}

// Resume continues the last Run from its first non-completed stage. Failed
// parts go back to pending; completed parts and sequences are left alone.
func (u *Uploader) Resume(ctx context.Context) (Result, error) {
	u.mu.Lock()
	s := u.session
	u.mu.Unlock()
	if s == nil {
		return Result{}, fmt.Errorf("nothing to resume, call Run first")
	}

	u.resetFailures(s)
	return u.resume(ctx, s)
}

// CancelFile cancels one file. Its remaining parts never touch the network
// again and its completion entry carries an empty parts list, telling the
// backend to discard the file.
func (u *Uploader) CancelFile(fileIndex int) {
	u.mu.Lock()
	u.cancelled[fileIndex] = true
	u.mu.Unlock()

	u.engine.CancelFile(fileIndex)
	u.logger.Infof("File %d cancelled", fileIndex)
}

func (u *Uploader) isFileCancelled(fileIndex int) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled[fileIndex]
}

func (u *Uploader) resume(ctx context.Context, s *session) (Result, error) {
	defer u.tracker.wait()

	err := u.runStages(ctx, s.stages)
	result := u.buildResult(s)
	return result, err
}

func validateInput(input Input) error {
	if len(input.Files) == 0 {
		return fmt.Errorf("no files to upload")
	}
	seen := map[int]bool{}
	for _, f := range input.Files {
		if seen[f.Index] {
			return fmt.Errorf("duplicate file index %d", f.Index)
		}
		seen[f.Index] = true
		if f.Size > 0 && input.Handles[f.Index] == nil {
			return fmt.Errorf("no file handle for %s (index %d)", f.RelativePath, f.Index)
		}
	}
	return nil
}

func (u *Uploader) buildStages(s *session) []*stage {
	return []*stage{
		{name: StageCreateAsset, run: func(ctx context.Context) error { return u.createAsset(ctx, s) }},
		{name: StageMetadata, run: func(ctx context.Context) error { return u.attachMetadata(ctx, s) }},
		{name: StageLinks, run: func(ctx context.Context) error { return u.createLinks(ctx, s) }},
		{name: StagePlan, run: func(ctx context.Context) error { return u.planSequences(s) }},
		{name: StageInitialize, run: func(ctx context.Context) error { return u.initializeSequences(ctx, s) }},
		{name: StageUploadParts, run: func(ctx context.Context) error { return u.uploadParts(ctx, s) }},
		{name: StageFinalize, run: func(ctx context.Context) error { return u.finalize(s) }},
	}
}

func (u *Uploader) coordinator(s *session) *coordinator {
	return &coordinator{
		client:     u.client,
		assetID:    s.assetID,
		databaseID: u.params.DatabaseID,
		logger:     u.logger,
	}
}

func (u *Uploader) createAsset(ctx context.Context, s *session) error {
	if s.assetID != "" {
		return errStageSkipped
	}
	if u.params.Service == nil {
		return fmt.Errorf("no asset service configured and no existing asset ID given")
	}

	assetID, err := u.params.Service.CreateAsset(ctx, u.params.DatabaseID, s.input.Asset)
	if err != nil {
		return fmt.Errorf("create asset: %w", err)
	}
	s.assetID = assetID
	u.logger.Donef("Asset %s created", assetID)
	return nil
}

func (u *Uploader) attachMetadata(ctx context.Context, s *session) error {
	if len(s.input.Metadata) == 0 {
		return errStageSkipped
	}
	if u.params.Service == nil {
		return fmt.Errorf("no asset service configured")
	}

	if err := u.params.Service.AttachMetadata(ctx, u.params.DatabaseID, s.assetID, s.input.Metadata); err != nil {
		return fmt.Errorf("attach metadata: %w", err)
	}
	return nil
}

func (u *Uploader) createLinks(ctx context.Context, s *session) error {
	if len(s.input.Links) == 0 {
		return errStageSkipped
	}
	if u.params.Service == nil {
		return fmt.Errorf("no asset service configured")
	}

	if err := u.params.Service.CreateLinks(ctx, u.params.DatabaseID, s.assetID, s.input.Links); err != nil {
		return fmt.Errorf("create links: %w", err)
	}
	return nil
}

func (u *Uploader) planSequences(s *session) error {
	sequences, err := planner.PlanSequences(s.input.Files, u.limits)
	if err != nil {
		return fmt.Errorf("plan sequences: %w", err)
	}

	var totalSize int64
	totalParts := 0
	for _, sequence := range sequences {
		totalSize += sequence.TotalSize
		totalParts += sequence.TotalParts
	}

	s.sequences = make([]*sequenceState, 0, len(sequences))
	for _, sequence := range sequences {
		s.sequences = append(s.sequences, newSequenceState(sequence))
	}

	if len(sequences) > 1 {
		u.logger.Infof("Upload split into %d sequences", len(sequences))
	}
	u.logger.Printf("Planned %d files: %s in %d parts across %d sequences",
		len(s.input.Files), units.HumanSizeWithPrecision(float64(totalSize), 3), totalParts, len(sequences))
	u.tracker.logSequencesPlanned(len(sequences), len(s.input.Files), totalSize, totalParts)

	return nil
}

// initializeSequences runs the initialize calls one by one to bound backend
// load. Already initialized sequences are skipped on resume.
func (u *Uploader) initializeSequences(ctx context.Context, s *session) error {
	coord := u.coordinator(s)
	for _, state := range s.sequences {
		if state.Status() != SequencePending {
			continue
		}
		if err := coord.initializeSequence(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// uploadParts drains every pending part through the engine and completes
// sequences opportunistically as they reach a terminal state. Completion
// order follows part settlement, not sequence IDs, except that preview-class
// sequences hold at the barrier until every asset-file sequence committed.
func (u *Uploader) uploadParts(ctx context.Context, s *session) error {
	coord := u.coordinator(s)
	startTime := time.Now()

	seqByID := map[int]*sequenceState{}
	assetFileRemaining := 0
	for _, state := range s.sequences {
		seqByID[state.sequence.ID] = state
		if state.Status() != SequenceCompleted && !state.sequence.Preview() {
			assetFileRemaining++
		}
	}
	barrier := newCompletionBarrier(assetFileRemaining)

	var g errgroup.Group
	complete := func(state *sequenceState) {
		g.Go(func() error {
			return coord.completeSequence(ctx, state, barrier, u.isFileCancelled)
		})
	}

	var pending []*engine.FilePart
	handles := map[int]filehandle.Handle{}
	for _, state := range s.sequences {
		if state.Status() == SequenceCompleted {
			continue
		}

		hasPending := false
		for _, part := range state.parts {
			if part.Status != engine.StatusPending {
				continue
			}
			pending = append(pending, part)
			handles[part.FileIndex] = s.input.Handles[part.FileIndex]
			hasPending = true
		}
		if !hasPending {
			// Nothing left to transfer: zero-byte files only, or a resume
			// where every remaining part already settled.
			complete(state)
		}
	}

	engineResult, engineErr := u.engine.Run(ctx, engine.Job{
		Parts:   pending,
		Handles: handles,
		Callbacks: engine.Callbacks{
			OnProgress: func(completed, total int) {
				if u.callbacks.OnProgress != nil {
					u.callbacks.OnProgress(completed, total)
				}
			},
			OnFileProgress: func(fileIndex int, percent float64) {
				if u.callbacks.OnFileProgress != nil {
					u.callbacks.OnFileProgress(fileIndex, percent)
				}
			},
			OnSequenceTerminal: func(sequenceID int) {
				complete(seqByID[sequenceID])
			},
		},
	})
	if engineErr != nil {
		_ = g.Wait()
		return engineErr
	}

	// Sequences with failed parts never reach a terminal state, so they are
	// marked failed here and the barrier is told, keeping preview sequences
	// from waiting forever.
	for _, state := range s.sequences {
		if state.Status() != SequenceInitCompleted || state.failedParts() == 0 {
			continue
		}
		err := fmt.Errorf("sequence %d: %d part(s) failed to upload", state.sequence.ID, state.failedParts())
		state.fail(SequenceFailed, err)
		if !state.sequence.Preview() {
			barrier.sequenceDone(false)
		}
	}

	completionErr := g.Wait()

	u.logger.Printf("Parts settled in %s: %d completed, %d failed, %d cancelled (average part time %s)",
		time.Since(startTime).Round(time.Second), engineResult.Completed, engineResult.Failed,
		engineResult.Cancelled, u.engine.AveragePartTime().Round(time.Second))
	u.tracker.logPartsUploaded(time.Since(startTime), *engineResult, u.engine.AveragePartTime())

	if completionErr != nil {
		return completionErr
	}
	if engineResult.Failed > 0 {
		return fmt.Errorf("%d part(s) failed to upload", engineResult.Failed)
	}
	return nil
}

// finalize runs only when every sequence committed. The terminal callback is
// guarded so it fires exactly once per workflow regardless of resumes.
func (u *Uploader) finalize(s *session) error {
	result := u.buildResult(s)

	if len(result.CancelledFiles) > 0 || len(result.FailedFiles) > 0 {
		u.logger.Infof("%d of %d files uploaded; %d cancelled, %d failed",
			result.UploadedFiles, result.TotalFiles, len(result.CancelledFiles), len(result.FailedFiles))
	} else {
		u.logger.Donef("All %d files uploaded (%s)",
			result.TotalFiles, units.HumanSizeWithPrecision(float64(result.TotalBytes), 3))
	}
	if len(result.AmbiguousSequences) > 0 {
		u.logger.Warnf("%d sequence completion(s) could not be confirmed and were treated as success",
			len(result.AmbiguousSequences))
	}

	u.tracker.logUploadFinished(result)

	u.mu.Lock()
	fired := u.completeFired
	u.completeFired = true
	u.mu.Unlock()
	if !fired && u.callbacks.OnComplete != nil {
		u.callbacks.OnComplete(result)
	}
	return nil
}

func (u *Uploader) buildResult(s *session) Result {
	result := Result{
		AssetID:    s.assetID,
		TotalFiles: len(s.input.Files),
	}
	for _, f := range s.input.Files {
		result.TotalBytes += f.Size
	}

	for _, state := range s.sequences {
		if state.Ambiguous() {
			result.AmbiguousSequences = append(result.AmbiguousSequences, state.sequence.ID)
		}

		for _, part := range state.parts {
			switch part.Status {
			case engine.StatusCompleted:
				result.CompletedParts++
			case engine.StatusFailed:
				result.FailedParts++
			case engine.StatusCancelled:
				result.CancelledParts++
			}
		}

		sequenceCompleted := state.Status() == SequenceCompleted
		for _, f := range state.sequence.Files {
			switch {
			case u.isFileCancelled(f.Index):
				result.CancelledFiles = append(result.CancelledFiles, f.RelativePath)
			case sequenceCompleted && allPartsCompleted(state.partsByFile[f.Index]):
				result.UploadedFiles++
			default:
				result.FailedFiles = append(result.FailedFiles, f.RelativePath)
			}
		}
	}

	return result
}

func allPartsCompleted(parts []*engine.FilePart) bool {
	for _, part := range parts {
		if part.Status != engine.StatusCompleted {
			return false
		}
	}
	return true
}

// resetFailures rolls failed stages, sequences and parts back to a retryable
// state. Completed work is untouched.
func (u *Uploader) resetFailures(s *session) {
	for _, st := range s.stages {
		if st.status == StageFailed {
			st.status = StagePending
			st.err = nil
		}
	}

	for _, state := range s.sequences {
		switch state.Status() {
		case SequenceInitFailed:
			state.fail(SequencePending, nil)
		case SequenceFailed, SequenceCompletionInProgress, SequenceInitInProgress:
			if state.uploadID != "" {
				state.fail(SequenceInitCompleted, nil)
			} else {
				state.fail(SequencePending, nil)
			}
		}

		for _, part := range state.parts {
			if part.Status == engine.StatusFailed || part.Status == engine.StatusInProgress {
				part.Status = engine.StatusPending
				part.ETag = ""
				part.RetryCount = 0
				part.LastError = nil
			}
		}
	}
}
