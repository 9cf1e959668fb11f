/**
 * Run Orchestrator for the OCR pipeline
 *
 * Sequences one submitted document through conversion, preprocessing,
 * recognition and aggregation, drives persistence, and owns the bounded
 * per-engine worker pools. Stages of one run execute strictly in order;
 * pages inside the preprocessing and recognition stages fan out up to a
 * per-run limit and are re-ordered by page index before aggregation.
 */

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/docpipe/ocr-orchestrator/internal/artifact"
	"github.com/docpipe/ocr-orchestrator/internal/config"
	"github.com/docpipe/ocr-orchestrator/internal/convert"
	"github.com/docpipe/ocr-orchestrator/internal/engine"
	pipeerrors "github.com/docpipe/ocr-orchestrator/internal/errors"
	"github.com/docpipe/ocr-orchestrator/internal/history"
	"github.com/docpipe/ocr-orchestrator/internal/logging"
	"github.com/docpipe/ocr-orchestrator/internal/preprocess"
)

// PageConverter is the converter contract the orchestrator depends on.
type PageConverter interface {
	Convert(ctx context.Context, runID, originalPath string) (*convert.Result, error)
}

// Orchestrator coordinates the document-to-text pipeline.
type Orchestrator struct {
	history      history.Store
	artifacts    *artifact.Store
	converter    PageConverter
	preprocessor *preprocess.Preprocessor
	engines      map[engine.Variant]engine.Engine
	pools        map[engine.Variant]chan struct{}
	pageFanout   int
	logger       *logging.Logger

	mu        sync.Mutex
	cancelled map[string]bool
	wg        sync.WaitGroup
}

// OrchestratorConfig holds the orchestrator's collaborators.
type OrchestratorConfig struct {
	Config       *config.Config
	History      history.Store
	Artifacts    *artifact.Store
	Converter    PageConverter
	Preprocessor *preprocess.Preprocessor
	Engines      []engine.Engine
	Logger       *logging.Logger
}

// NewOrchestrator creates a run orchestrator with one bounded worker pool
// per configured engine variant.
func NewOrchestrator(cfg *OrchestratorConfig) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.Converter == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if cfg.Preprocessor == nil {
		return nil, fmt.Errorf("preprocessor is required")
	}
	if len(cfg.Engines) == 0 {
		return nil, fmt.Errorf("at least one engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("orchestrator")
	}

	fanout := 4
	tesseractWorkers := 4
	inferenceWorkers := 1
	if cfg.Config != nil {
		fanout = cfg.Config.PageFanout
		tesseractWorkers = cfg.Config.TesseractWorkers
		inferenceWorkers = cfg.Config.InferenceWorkers
	}

	engines := make(map[engine.Variant]engine.Engine, len(cfg.Engines))
	pools := make(map[engine.Variant]chan struct{}, len(cfg.Engines))
	for _, eng := range cfg.Engines {
		engines[eng.Name()] = eng
		size := tesseractWorkers
		if eng.Name() == engine.VariantInference {
			size = inferenceWorkers
		}
		if size < 1 {
			size = 1
		}
		pools[eng.Name()] = make(chan struct{}, size)
	}

	return &Orchestrator{
		history:      cfg.History,
		artifacts:    cfg.Artifacts,
		converter:    cfg.Converter,
		preprocessor: cfg.Preprocessor,
		engines:      engines,
		pools:        pools,
		pageFanout:   fanout,
		logger:       logger,
		cancelled:    make(map[string]bool),
	}, nil
}

// Engines lists the configured engine variants.
func (o *Orchestrator) Engines() []engine.Variant {
	variants := make([]engine.Variant, 0, len(o.engines))
	for v := range o.engines {
		variants = append(variants, v)
	}
	return variants
}

// SubmitRun accepts a document, persists it, creates the run record and
// schedules processing on the variant's worker pool. Unsupported formats
// and unknown variants are rejected synchronously before any state is
// created; the returned id is immediately queryable.
func (o *Orchestrator) SubmitRun(ctx context.Context, document []byte, filename string, variant engine.Variant, language string) (string, error) {
	if len(document) == 0 {
		return "", fmt.Errorf("document is empty")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !convert.SupportedExtension(ext) {
		return "", pipeerrors.NewUnsupportedFormatError(ext)
	}
	eng, ok := o.engines[variant]
	if !ok {
		return "", fmt.Errorf("unknown engine variant: %s", variant)
	}
	if language = strings.TrimSpace(language); language == "" {
		language = eng.DefaultLanguage()
	}

	runID := uuid.New().String()
	originalPath, err := o.artifacts.SaveOriginal(runID, filename, document)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	run := &history.Run{
		ID:           runID,
		Engine:       string(variant),
		Language:     language,
		OriginalPath: originalPath,
		Status:       history.StatusCreated,
	}
	if err := o.history.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	o.logger.Info("run submitted", "run", runID, "engine", variant, "language", language, "file", filepath.Base(filename))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		pool := o.pools[variant]
		pool <- struct{}{}
		defer func() { <-pool }()
		o.process(runID, eng, language, originalPath)
	}()

	return runID, nil
}

// GetRun returns one run with its full lineage.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*history.Run, error) {
	return o.history.GetRun(ctx, runID)
}

// ListRuns returns all runs in reverse chronological order.
func (o *Orchestrator) ListRuns(ctx context.Context) ([]*history.Run, error) {
	return o.history.ListRuns(ctx)
}

// Cancel marks a run cancelled. In-flight engine calls are allowed to
// finish; no further stages are scheduled for the run.
func (o *Orchestrator) Cancel(runID string) {
	o.mu.Lock()
	o.cancelled[runID] = true
	o.mu.Unlock()
	o.logger.Info("run cancellation requested", "run", runID)
}

// Drain blocks until every scheduled run has reached a terminal state.
func (o *Orchestrator) Drain() {
	o.wg.Wait()
}

func (o *Orchestrator) isCancelled(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[runID]
}

// process drives one run through the stage state machine. Any stage
// error terminates the run with its failing stage recorded verbatim;
// nothing is retried.
func (o *Orchestrator) process(runID string, eng engine.Engine, language, originalPath string) {
	ctx := context.Background()
	log := o.logger.ForRun(runID)

	// Stage: converting
	if o.checkCancelled(ctx, runID, log) {
		return
	}
	o.setStatus(ctx, runID, history.StatusConverting, log)
	conv, err := o.converter.Convert(ctx, runID, originalPath)
	if err != nil {
		o.fail(ctx, runID, string(history.StatusConverting), err, log)
		return
	}
	if len(conv.Pages) == 0 {
		o.fail(ctx, runID, string(history.StatusConverting),
			pipeerrors.NewConversionError("converter", fmt.Errorf("document produced zero pages")), log)
		return
	}
	if conv.ConvertedPath != "" {
		if err := o.history.SetConvertedPath(ctx, runID, conv.ConvertedPath); err != nil {
			o.fail(ctx, runID, string(history.StatusConverting), err, log)
			return
		}
	}
	log.Info("conversion complete", "pages", len(conv.Pages))

	pages, err := o.loadPages(ctx, runID, conv.Pages)
	if err != nil {
		o.fail(ctx, runID, string(history.StatusConverting), err, log)
		return
	}

	// Stage: preprocessing
	if o.checkCancelled(ctx, runID, log) {
		return
	}
	o.setStatus(ctx, runID, history.StatusPreprocessing, log)
	if err := o.preprocessPages(ctx, runID, eng, pages, log); err != nil {
		o.fail(ctx, runID, string(history.StatusPreprocessing), err, log)
		return
	}

	// Stage: recognizing
	if o.checkCancelled(ctx, runID, log) {
		return
	}
	o.setStatus(ctx, runID, history.StatusRecognizing, log)
	results, err := o.recognizePages(ctx, runID, eng, language, pages, log)
	if err != nil {
		o.fail(ctx, runID, string(history.StatusRecognizing), err, log)
		return
	}

	// Stage: aggregating
	if o.checkCancelled(ctx, runID, log) {
		return
	}
	o.setStatus(ctx, runID, history.StatusAggregating, log)
	bestText, bestConfidence := aggregate(results)
	if err := o.history.CompleteRun(ctx, runID, bestText, bestConfidence); err != nil {
		o.fail(ctx, runID, string(history.StatusAggregating), err, log)
		return
	}
	log.Info("run completed", "pages", len(pages), "bestConfidence", fmt.Sprintf("%.4f", bestConfidence))
}

// runPage carries one page's images through the stages.
type runPage struct {
	index int

	rawPath  string
	rawBytes []byte
	rawImgID int64

	preprocessedPath  string
	preprocessedBytes []byte
	preprocessedImgID int64
}

// loadPages reads each converted page and records its original-stage
// image row.
func (o *Orchestrator) loadPages(ctx context.Context, runID string, converted []convert.Page) ([]*runPage, error) {
	pages := make([]*runPage, 0, len(converted))
	for _, cp := range converted {
		raw, err := os.ReadFile(cp.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", cp.Index, err)
		}
		imgID, err := o.history.AppendImage(ctx, &history.PageImage{
			RunID:     runID,
			PageIndex: cp.Index,
			Stage:     history.StageOriginal,
			Variant:   0,
			Path:      cp.Path,
		})
		if err != nil {
			return nil, err
		}
		pages = append(pages, &runPage{index: cp.Index, rawPath: cp.Path, rawBytes: raw, rawImgID: imgID})
	}
	return pages, nil
}

// preprocessPages enhances every page with the pipeline restricted to the
// engine's stage mask. Enhancement fans out across pages; history rows
// are appended sequentially afterwards so the run has a single writer.
func (o *Orchestrator) preprocessPages(ctx context.Context, runID string, eng engine.Engine, pages []*runPage, log *logging.Logger) error {
	pre := o.preprocessor.Restrict(eng.StageMask())
	log.Info("preprocessing pages", "pages", len(pages), "stages", pre.Options())

	err := o.forEachPage(len(pages), func(i int) error {
		enhanced, err := pre.Enhance(pages[i].rawBytes)
		if err != nil {
			return err
		}
		path, err := o.artifacts.SavePreprocessed(runID, pages[i].index, 0, enhanced)
		if err != nil {
			return err
		}
		pages[i].preprocessedBytes = enhanced
		pages[i].preprocessedPath = path
		return nil
	})
	if err != nil {
		return err
	}

	for _, page := range pages {
		imgID, err := o.history.AppendImage(ctx, &history.PageImage{
			RunID:     runID,
			PageIndex: page.index,
			Stage:     history.StagePreprocessed,
			Variant:   0,
			Path:      page.preprocessedPath,
		})
		if err != nil {
			return err
		}
		page.preprocessedImgID = imgID
	}
	return nil
}

// pageResult is one recognition output before aggregation.
type pageResult struct {
	pageIndex  int
	stage      history.Stage
	variant    int
	text       string
	confidence float64
}

// recognizePages runs the engine over the raw and preprocessed image of
// every page, fanning out across (page, stage) tasks and collecting the
// persisted results in page order regardless of completion order.
func (o *Orchestrator) recognizePages(ctx context.Context, runID string, eng engine.Engine, language string, pages []*runPage, log *logging.Logger) ([]pageResult, error) {
	type task struct {
		page    *runPage
		stage   history.Stage
		image   []byte
		imageID int64
	}
	tasks := make([]task, 0, len(pages)*2)
	for _, page := range pages {
		tasks = append(tasks, task{page: page, stage: history.StageOriginal, image: page.rawBytes, imageID: page.rawImgID})
		tasks = append(tasks, task{page: page, stage: history.StagePreprocessed, image: page.preprocessedBytes, imageID: page.preprocessedImgID})
	}

	log.Info("recognizing pages", "engine", eng.Name(), "language", language, "tasks", len(tasks))

	recognitions := make([]engine.Recognition, len(tasks))
	err := o.forEachPage(len(tasks), func(i int) error {
		rec, err := eng.Recognize(ctx, tasks[i].image, language)
		if err != nil {
			return err
		}
		recognitions[i] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]pageResult, 0, len(tasks))
	for i, t := range tasks {
		if _, err := o.history.AppendTextResult(ctx, &history.TextResult{
			RunID:      runID,
			PageIndex:  t.page.index,
			ImageID:    t.imageID,
			Stage:      t.stage,
			Text:       recognitions[i].Text,
			Confidence: recognitions[i].Confidence,
			Engine:     string(eng.Name()),
			Language:   language,
		}); err != nil {
			return nil, err
		}
		results = append(results, pageResult{
			pageIndex:  t.page.index,
			stage:      t.stage,
			text:       recognitions[i].Text,
			confidence: recognitions[i].Confidence,
		})
	}
	return results, nil
}

// forEachPage runs fn for indices 0..n-1 with bounded parallelism and
// returns the first error.
func (o *Orchestrator) forEachPage(n int, fn func(i int) error) error {
	fanout := o.pageFanout
	if fanout < 1 {
		fanout = 1
	}
	sem := make(chan struct{}, fanout)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(i); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}

func (o *Orchestrator) setStatus(ctx context.Context, runID string, status history.Status, log *logging.Logger) {
	if err := o.history.UpdateRunStatus(ctx, runID, status); err != nil {
		log.Warn("failed to update run status", "status", status, "error", err)
	}
}

// checkCancelled marks the run cancelled at a stage boundary when the
// caller asked for it. Returns true when processing must stop.
func (o *Orchestrator) checkCancelled(ctx context.Context, runID string, log *logging.Logger) bool {
	if !o.isCancelled(runID) {
		return false
	}
	if err := o.history.UpdateRunStatus(ctx, runID, history.StatusCancelled); err != nil {
		log.Warn("failed to mark run cancelled", "error", err)
	}
	log.Info("run cancelled before next stage")
	return true
}

// fail terminates the run, recording the failing stage and the error
// detail verbatim for later inspection. Errors are never swallowed: a
// failed run stays fully queryable.
func (o *Orchestrator) fail(ctx context.Context, runID, stage string, err error, log *logging.Logger) {
	log.Error("stage failed", "stage", stage, "error", err)
	if markErr := o.history.MarkRunFailed(ctx, runID, stage, err.Error()); markErr != nil {
		log.Error("failed to record run failure", "error", markErr)
	}
}
