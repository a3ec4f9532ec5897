package upload

import (
	"context"
	"fmt"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkflowUploader() *Uploader {
	return &Uploader{logger: log.NewLogger()}
}

func TestRunStages_OrderAndSkips(t *testing.T) {
	u := testWorkflowUploader()

	var ran []string
	record := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			ran = append(ran, name)
			return err
		}
	}

	stages := []*stage{
		{name: "first", run: record("first", nil)},
		{name: "second", run: record("second", errStageSkipped)},
		{name: "third", run: record("third", nil)},
	}

	require.NoError(t, u.runStages(context.Background(), stages))
	assert.Equal(t, []string{"first", "second", "third"}, ran)
	assert.Equal(t, StageCompleted, stages[0].status)
	assert.Equal(t, StageSkipped, stages[1].status)
	assert.Equal(t, StageCompleted, stages[2].status)
}

func TestRunStages_FailureStopsDownstream(t *testing.T) {
	u := testWorkflowUploader()

	var ran []string
	stages := []*stage{
		{name: "first", run: func(context.Context) error { ran = append(ran, "first"); return nil }},
		{name: "second", run: func(context.Context) error { ran = append(ran, "second"); return fmt.Errorf("boom") }},
		{name: "third", run: func(context.Context) error { ran = append(ran, "third"); return nil }},
	}

	err := u.runStages(context.Background(), stages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stage "second"`)

	assert.Equal(t, []string{"first", "second"}, ran)
	assert.Equal(t, StageCompleted, stages[0].status)
	assert.Equal(t, StageFailed, stages[1].status)
	assert.Equal(t, StagePending, stages[2].status)
}

func TestRunStages_ResumeSkipsCompleted(t *testing.T) {
	u := testWorkflowUploader()

	counts := map[string]int{}
	failSecond := true
	stages := []*stage{
		{name: "first", run: func(context.Context) error { counts["first"]++; return nil }},
		{name: "second", run: func(context.Context) error {
			counts["second"]++
			if failSecond {
				return fmt.Errorf("boom")
			}
			return nil
		}},
		{name: "third", run: func(context.Context) error { counts["third"]++; return nil }},
	}

	require.Error(t, u.runStages(context.Background(), stages))

	failSecond = false
	stages[1].status = StagePending
	require.NoError(t, u.runStages(context.Background(), stages))

	assert.Equal(t, 1, counts["first"], "completed stages are not replayed")
	assert.Equal(t, 2, counts["second"])
	assert.Equal(t, 1, counts["third"])
}

func TestRunStages_ReportsTransitions(t *testing.T) {
	var transitions []string
	u := &Uploader{
		logger: log.NewLogger(),
		callbacks: Callbacks{
			OnStageChange: func(stage string, status StageStatus) {
				transitions = append(transitions, fmt.Sprintf("%s:%s", stage, status))
			},
		},
	}

	stages := []*stage{{name: "only", run: func(context.Context) error { return nil }}}
	require.NoError(t, u.runStages(context.Background(), stages))
	assert.Equal(t, []string{"only:in-progress", "only:completed"}, transitions)
}

func TestSkipStage(t *testing.T) {
	u := testWorkflowUploader()
	u.session = &session{stages: []*stage{
		{name: StageMetadata, status: StageFailed},
		{name: StageUploadParts, status: StageFailed},
		{name: StageLinks, status: StageCompleted},
	}}

	require.NoError(t, u.SkipStage(StageMetadata))
	assert.Equal(t, StageSkipped, u.session.stages[0].status)

	err := u.SkipStage(StageUploadParts)
	require.Error(t, err, "only optional stages can be skipped")

	err = u.SkipStage(StageLinks)
	require.Error(t, err, "only failed stages can be skipped")
}

func TestSkipStage_NoSession(t *testing.T) {
	u := testWorkflowUploader()
	require.Error(t, u.SkipStage(StageMetadata))
}
