package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlens/flowlens/pkg/flow"
	"github.com/flowlens/flowlens/pkg/runner"
	"github.com/flowlens/flowlens/pkg/vision"
)

func sampleResult(id, flowName string, startedAt time.Time) *runner.FlowRunResult {
	return &runner.FlowRunResult{
		ID:          id,
		FlowName:    flowName,
		Intent:      "buy a shirt",
		URL:         "https://shop.test",
		Viewport:    flow.Viewport{Width: 1280, Height: 720},
		SessionID:   "sess-1",
		Verdict:     runner.VerdictFail,
		Confidence:  66,
		CostUSD:     0.0123,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(3 * time.Second),
		DurationMS:  3000,
		Steps: []runner.StepResult{
			{
				Index:   0,
				Action:  flow.ActionNavigate,
				Target:  "https://shop.test",
				Status:  runner.StepSucceeded,
				Success: true,
			},
			{
				Index:          1,
				Action:         flow.ActionScreenshot,
				Status:         runner.StepFailed,
				Success:        false,
				Error:          "assertion not satisfied: the cart shows one item",
				ScreenshotHash: "abc123",
				ScreenshotPath: "/tmp/out/step-001.png",
				Analysis: &vision.Analysis{
					Status:     vision.StatusFail,
					Confidence: 40,
					Issues:     []string{"cart is empty"},
				},
			},
		},
	}
}

func TestSaveAndGetRunRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	want := sampleResult("run-1", "checkout", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, store.SaveRunResult(ctx, want))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.FlowName, got.FlowName)
	assert.Equal(t, want.Verdict, got.Verdict)
	assert.Equal(t, want.Confidence, got.Confidence)
	assert.Equal(t, want.Viewport, got.Viewport)
	assert.Equal(t, want.CostUSD, got.CostUSD)

	require.Len(t, got.Steps, 2)
	assert.Equal(t, flow.ActionNavigate, got.Steps[0].Action)
	assert.True(t, got.Steps[0].Success)
	assert.Nil(t, got.Steps[0].Analysis)

	failed := got.Steps[1]
	assert.False(t, failed.Success)
	assert.Equal(t, "abc123", failed.ScreenshotHash)
	require.NotNil(t, failed.Analysis)
	assert.Equal(t, vision.StatusFail, failed.Analysis.Status)
	assert.Equal(t, []string{"cart is empty"}, failed.Analysis.Issues)
}

func TestGetRunUnknownID(t *testing.T) {
	store := testStore(t)

	got, err := store.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRunsNewestFirstWithFilter(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, store.SaveRunResult(ctx, sampleResult("run-1", "checkout", base)))
	require.NoError(t, store.SaveRunResult(ctx, sampleResult("run-2", "login", base.Add(time.Minute))))
	require.NoError(t, store.SaveRunResult(ctx, sampleResult("run-3", "checkout", base.Add(2*time.Minute))))

	all, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-3", all[0].ID)
	assert.Equal(t, "run-1", all[2].ID)

	checkout, err := store.ListRuns(ctx, "checkout", 0)
	require.NoError(t, err)
	require.Len(t, checkout, 2)
	assert.Equal(t, "run-3", checkout[0].ID)

	limited, err := store.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run-3", limited[0].ID)
}

func TestDeleteRunsBeforeCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, store.SaveRunResult(ctx, sampleResult("old", "checkout", base.Add(-48*time.Hour))))
	require.NoError(t, store.SaveRunResult(ctx, sampleResult("new", "checkout", base)))

	deleted, err := store.DeleteRunsBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var steps int
	require.NoError(t, store.DB().QueryRow(
		"SELECT COUNT(*) FROM step_results WHERE run_id = 'old'").Scan(&steps))
	assert.Equal(t, 0, steps)

	remaining, err := store.GetRun(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, remaining)
}
