package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	run := &Run{ID: "run-1", Engine: "tesseract", Language: "vie+eng", OriginalPath: "/data/run-1/original/a.pdf"}
	require.NoError(t, store.CreateRun(ctx, run))

	imgID, err := store.AppendImage(ctx, &PageImage{RunID: "run-1", PageIndex: 0, Stage: StageOriginal, Path: "/p0.png"})
	require.NoError(t, err)
	assert.NotZero(t, imgID)

	_, err = store.AppendTextResult(ctx, &TextResult{
		RunID: "run-1", PageIndex: 0, ImageID: imgID, Stage: StageOriginal,
		Text: "hello", Confidence: 0.8, Engine: "tesseract", Language: "vie+eng",
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", StatusConverting))
	require.NoError(t, store.CompleteRun(ctx, "run-1", "hello", 0.8))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "hello", got.BestText)
	assert.Len(t, got.Images, 1)
	assert.Len(t, got.TextResults, 1)
}

func TestMemoryStoreTerminalStatusLocked(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateRun(ctx, &Run{ID: "run-1"}))
	require.NoError(t, store.MarkRunFailed(ctx, "run-1", "converting", "boom"))

	err := store.UpdateRunStatus(ctx, "run-1", StatusRecognizing)
	require.Error(t, err, "status transitions only move forward; terminal states are final")
}

func TestMemoryStoreFailedRunStaysQueryable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateRun(ctx, &Run{ID: "run-1"}))
	require.NoError(t, store.MarkRunFailed(ctx, "run-1", "recognizing", "engine exploded"))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "recognizing", got.FailedStage)
	assert.Equal(t, "engine exploded", got.Error)
}

func TestMemoryStoreListRunsReverseChronological(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.CreateRun(ctx, &Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
	assert.Equal(t, "run-a", runs[2].ID)
	assert.Nil(t, runs[0].Images, "listing omits children")
}

func TestMemoryStoreUnknownRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetRun(ctx, "missing")
	require.Error(t, err)

	_, err = store.AppendImage(ctx, &PageImage{RunID: "missing"})
	require.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusRecognizing.Terminal())
}
