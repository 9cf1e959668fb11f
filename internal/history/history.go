/**
 * History Store for the OCR orchestrator
 *
 * Durable record of runs, page images and text results. All writes for a
 * single run come from one orchestrator instance; reads may happen
 * concurrently with writes to other runs. A failed run remains a fully
 * queryable entry with its failing stage and cause.
 */

package history

import (
	"context"
	"time"
)

// Status is the lifecycle state of a run. Transitions only move forward;
// failed and cancelled are terminal alongside completed.
type Status string

const (
	StatusCreated       Status = "created"
	StatusConverting    Status = "converting"
	StatusPreprocessing Status = "preprocessing"
	StatusRecognizing   Status = "recognizing"
	StatusAggregating   Status = "aggregating"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stage labels which pipeline stage produced a page image.
type Stage string

const (
	StageOriginal     Stage = "original"
	StagePreprocessed Stage = "preprocessed"
)

// Run is one end-to-end OCR submission and its aggregated outcome.
type Run struct {
	ID             string    `json:"id"`
	Engine         string    `json:"engine"`
	Language       string    `json:"language"`
	OriginalPath   string    `json:"originalPath"`
	ConvertedPath  string    `json:"convertedPath,omitempty"`
	Status         Status    `json:"status"`
	FailedStage    string    `json:"failedStage,omitempty"`
	Error          string    `json:"error,omitempty"`
	BestText       string    `json:"bestText,omitempty"`
	BestConfidence float64   `json:"bestConfidence"`
	CreatedAt      time.Time `json:"createdAt"`

	// Children are populated by GetRun, not ListRuns.
	Images      []PageImage  `json:"images,omitempty"`
	TextResults []TextResult `json:"textResults,omitempty"`
}

// PageImage is one page's raster image at one pipeline stage.
type PageImage struct {
	ID        int64  `json:"id"`
	RunID     string `json:"runId"`
	PageIndex int    `json:"pageIndex"`
	Stage     Stage  `json:"stage"`
	Variant   int    `json:"variant"`
	Path      string `json:"path"`
}

// TextResult is the recognition output for one page image.
type TextResult struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"runId"`
	PageIndex  int     `json:"pageIndex"`
	ImageID    int64   `json:"imageId"`
	Stage      Stage   `json:"stage"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
	Language   string  `json:"language"`
}

// Store persists runs and their lineage.
type Store interface {
	// CreateRun inserts a new run in StatusCreated.
	CreateRun(ctx context.Context, run *Run) error

	// SetConvertedPath records the intermediate PDF produced during the
	// converting stage.
	SetConvertedPath(ctx context.Context, runID, path string) error

	// AppendImage records one page image and returns its id.
	AppendImage(ctx context.Context, img *PageImage) (int64, error)

	// AppendTextResult records one recognition output and returns its id.
	AppendTextResult(ctx context.Context, res *TextResult) (int64, error)

	// UpdateRunStatus advances the run's lifecycle state.
	UpdateRunStatus(ctx context.Context, runID string, status Status) error

	// MarkRunFailed terminates the run with its failing stage and the
	// verbatim error detail.
	MarkRunFailed(ctx context.Context, runID, stage, message string) error

	// CompleteRun terminates the run with its aggregated text and
	// confidence. Written exactly once per run.
	CompleteRun(ctx context.Context, runID, bestText string, bestConfidence float64) error

	// GetRun returns one run with its images and text results.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns all runs newest-first, without children.
	ListRuns(ctx context.Context) ([]*Run, error)

	// Close releases the store's resources.
	Close() error
}
