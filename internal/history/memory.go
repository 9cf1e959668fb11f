/**
 * In-memory History Store
 *
 * Zero-setup store used when no database URL is configured and by tests.
 * Same contract as the Postgres store, guarded by a single mutex.
 */

package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps run history in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	runs   map[string]*Run
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run), nextID: 1}
}

func (m *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run with id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	stored := *run
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.Status == "" {
		stored.Status = StatusCreated
	}
	stored.Images = nil
	stored.TextResults = nil
	m.runs[run.ID] = &stored
	return nil
}

func (m *MemoryStore) SetConvertedPath(ctx context.Context, runID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID)
	if err != nil {
		return err
	}
	run.ConvertedPath = path
	return nil
}

func (m *MemoryStore) AppendImage(ctx context.Context, img *PageImage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(img.RunID)
	if err != nil {
		return 0, err
	}
	stored := *img
	stored.ID = m.nextID
	m.nextID++
	run.Images = append(run.Images, stored)
	return stored.ID, nil
}

func (m *MemoryStore) AppendTextResult(ctx context.Context, res *TextResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(res.RunID)
	if err != nil {
		return 0, err
	}
	stored := *res
	stored.ID = m.nextID
	m.nextID++
	run.TextResults = append(run.TextResults, stored)
	return stored.ID, nil
}

func (m *MemoryStore) UpdateRunStatus(ctx context.Context, runID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}
	run.Status = status
	return nil
}

func (m *MemoryStore) MarkRunFailed(ctx context.Context, runID, stage, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID)
	if err != nil {
		return err
	}
	run.Status = StatusFailed
	run.FailedStage = stage
	run.Error = message
	return nil
}

func (m *MemoryStore) CompleteRun(ctx context.Context, runID, bestText string, bestConfidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID)
	if err != nil {
		return err
	}
	run.Status = StatusCompleted
	run.BestText = bestText
	run.BestConfidence = bestConfidence
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	clone := *run
	clone.Images = append([]PageImage(nil), run.Images...)
	clone.TextResults = append([]TextResult(nil), run.TextResults...)
	return &clone, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		clone := *run
		clone.Images = nil
		clone.TextResults = nil
		runs = append(runs, &clone)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (m *MemoryStore) Close() error { return nil }

// get must be called with the mutex held.
func (m *MemoryStore) get(runID string) (*Run, error) {
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}
