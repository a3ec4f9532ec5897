package upload

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/damkit-io/go-damkit/upload/engine"
	"github.com/damkit-io/go-damkit/upload/network"
	"github.com/damkit-io/go-damkit/upload/planner"
)

// coordinator drives the request-level lifecycle of sequences: initialization
// against the backend and completion once every part settled. Part transfer
// itself belongs to the engine.
type coordinator struct {
	client     *network.Client
	assetID    string
	databaseID string
	logger     log.Logger
}

func uploadTypeFor(sequence planner.Sequence) network.UploadType {
	if sequence.Class == planner.ClassAssetPreview {
		return network.UploadTypeAssetPreview
	}
	return network.UploadTypeAssetFile
}

// initializeSequence declares every file of the sequence to the backend and
// binds the returned pre-signed targets onto fresh file parts. Zero-sized
// files are declared with zero parts. Initialization failures are hard: a 503
// here cannot have partially succeeded server-side.
func (c *coordinator) initializeSequence(ctx context.Context, state *sequenceState) error {
	sequence := state.sequence
	state.setStatus(SequenceInitInProgress)

	entries := make([]network.InitializeFileEntry, 0, len(sequence.Files))
	for _, f := range sequence.Files {
		entries = append(entries, network.InitializeFileEntry{
			RelativeKey: f.RelativePath,
			FileSize:    f.Size,
			NumParts:    len(sequence.Parts[f.Index]),
		})
	}

	c.logger.Printf("Initializing sequence %d (%s): %d files, %s in %d parts",
		sequence.ID, sequence.Class, len(sequence.Files),
		units.HumanSizeWithPrecision(float64(sequence.TotalSize), 3), sequence.TotalParts)

	response, err := c.client.InitializeUpload(ctx, network.InitializeUploadRequest{
		AssetID:    c.assetID,
		DatabaseID: c.databaseID,
		UploadType: uploadTypeFor(sequence),
		Files:      entries,
	})
	if err != nil {
		err = fmt.Errorf("initialize sequence %d: %w", sequence.ID, err)
		state.fail(SequenceInitFailed, err)
		return err
	}

	if err := c.bindTargets(state, response); err != nil {
		err = fmt.Errorf("initialize sequence %d: %w", sequence.ID, err)
		state.fail(SequenceInitFailed, err)
		return err
	}

	state.setStatus(SequenceInitCompleted)
	c.logger.Donef("Sequence %d initialized, upload ID %s", sequence.ID, state.uploadID)
	return nil
}

// bindTargets turns the initialize response into runtime file parts. Every
// declared part must have exactly one pre-signed target.
func (c *coordinator) bindTargets(state *sequenceState, response *network.InitializeUploadResponse) error {
	sequence := state.sequence

	byKey := make(map[string]network.InitializedFile, len(response.Files))
	for _, f := range response.Files {
		byKey[f.RelativeKey] = f
	}

	state.uploadID = response.UploadID
	state.parts = nil
	state.partsByFile = map[int][]*engine.FilePart{}

	for _, f := range sequence.Files {
		initialized, ok := byKey[f.RelativePath]
		if !ok {
			return fmt.Errorf("backend returned no credentials for %s", f.RelativePath)
		}
		state.s3UploadIDs[f.Index] = initialized.S3UploadID

		planned := sequence.Parts[f.Index]
		if len(initialized.PartUploadURLs) != len(planned) {
			return fmt.Errorf("%s: declared %d parts, backend returned %d upload targets",
				f.RelativePath, len(planned), len(initialized.PartUploadURLs))
		}

		targets := make(map[int]string, len(initialized.PartUploadURLs))
		for _, target := range initialized.PartUploadURLs {
			targets[target.PartNumber] = target.UploadURL
		}

		for _, info := range planned {
			url, ok := targets[info.PartNumber]
			if !ok {
				return fmt.Errorf("%s: no upload target for part %d", f.RelativePath, info.PartNumber)
			}
			part := &engine.FilePart{
				FileIndex:   f.Index,
				PartNumber:  info.PartNumber,
				StartByte:   info.StartByte,
				EndByte:     info.EndByte,
				SequenceID:  sequence.ID,
				RelativeKey: f.RelativePath,
				S3UploadID:  initialized.S3UploadID,
				UploadURL:   url,
			}
			state.parts = append(state.parts, part)
			state.partsByFile[f.Index] = append(state.partsByFile[f.Index], part)
		}
	}

	return nil
}

// completeSequence reports the sequence's uploaded parts to the backend.
// Preview-class sequences first wait for every asset-file sequence to commit.
// Cancelled files are reported with an empty parts list, which tells the
// backend to discard them; omitting the file entry is not part of the
// contract. A 503 here is ambiguous: the completion may have succeeded
// server-side, so the sequence is optimistically marked completed with a
// warning instead of failed.
func (c *coordinator) completeSequence(ctx context.Context, state *sequenceState, barrier *completionBarrier, isCancelled func(fileIndex int) bool) error {
	sequence := state.sequence
	preview := sequence.Preview()

	signal := func(ok bool) {
		if !preview {
			barrier.sequenceDone(ok)
		}
	}

	if preview {
		c.logger.Debugf("Sequence %d (%s) waiting for asset file sequences", sequence.ID, sequence.Class)
		if err := barrier.wait(ctx); err != nil {
			err = fmt.Errorf("complete sequence %d: %w", sequence.ID, err)
			state.fail(SequenceFailed, err)
			return err
		}
	}

	state.setStatus(SequenceCompletionInProgress)

	entries := make([]network.CompleteFileEntry, 0, len(sequence.Files))
	for _, f := range sequence.Files {
		entry := network.CompleteFileEntry{
			RelativeKey: f.RelativePath,
			S3UploadID:  state.s3UploadIDs[f.Index],
			Parts:       []network.CompletedPartEntry{},
		}
		if !isCancelled(f.Index) {
			for _, part := range state.partsByFile[f.Index] {
				if part.Status == engine.StatusCompleted {
					entry.Parts = append(entry.Parts, network.CompletedPartEntry{
						PartNumber: part.PartNumber,
						ETag:       part.ETag,
					})
				}
			}
			sort.Slice(entry.Parts, func(i, j int) bool {
				return entry.Parts[i].PartNumber < entry.Parts[j].PartNumber
			})
		}
		entries = append(entries, entry)
	}

	response, err := c.client.CompleteUpload(ctx, state.uploadID, network.CompleteUploadRequest{
		AssetID:    c.assetID,
		DatabaseID: c.databaseID,
		UploadType: uploadTypeFor(sequence),
		Files:      entries,
	})
	if err != nil {
		if network.Classify(err) == network.ClassAmbiguousTimeout {
			c.logger.Warnf("Sequence %d completion timed out server-side; it likely succeeded and will be verified later: %s",
				sequence.ID, err)
			state.markAmbiguous()
			signal(true)
			return nil
		}
		err = fmt.Errorf("complete sequence %d: %w", sequence.ID, err)
		state.fail(SequenceFailed, err)
		signal(false)
		return err
	}

	state.mu.Lock()
	state.fileResults = response.FileResults
	state.mu.Unlock()

	if !response.OverallSuccess {
		err := fmt.Errorf("complete sequence %d: backend rejected files: %s",
			sequence.ID, summarizeFailures(response.FileResults))
		state.fail(SequenceFailed, err)
		signal(false)
		return err
	}

	if response.LargeFileAsynchronousHandling {
		c.logger.Infof("Sequence %d contains large files, the backend finishes assembling them asynchronously", sequence.ID)
	}

	state.setStatus(SequenceCompleted)
	signal(true)
	c.logger.Donef("Sequence %d completed", sequence.ID)
	return nil
}

func summarizeFailures(results []network.FileResult) string {
	var failed []string
	for _, r := range results {
		if !r.Success {
			if r.Error != "" {
				failed = append(failed, fmt.Sprintf("%s (%s)", r.RelativeKey, r.Error))
			} else {
				failed = append(failed, r.RelativeKey)
			}
		}
	}
	if len(failed) == 0 {
		return "no per-file detail provided"
	}
	return strings.Join(failed, ", ")
}
