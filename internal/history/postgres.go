/**
 * PostgreSQL History Store
 *
 * Three-table relational model: runs keyed by uuid, page images keyed by
 * (run, page index, stage, variant), text results back-referencing the
 * image they were produced from. Artifact paths are referenced, never
 * embedded.
 */

package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists run history in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ocr_runs (
	id              UUID PRIMARY KEY,
	engine          TEXT NOT NULL,
	language        TEXT NOT NULL,
	original_path   TEXT NOT NULL,
	converted_path  TEXT,
	status          TEXT NOT NULL,
	failed_stage    TEXT,
	error_message   TEXT,
	best_text       TEXT,
	best_confidence DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ocr_page_images (
	id         BIGSERIAL PRIMARY KEY,
	run_id     UUID NOT NULL REFERENCES ocr_runs(id) ON DELETE CASCADE,
	page_index INTEGER NOT NULL,
	stage      TEXT NOT NULL,
	variant    INTEGER NOT NULL DEFAULT 0,
	path       TEXT NOT NULL,
	UNIQUE (run_id, page_index, stage, variant)
);

CREATE TABLE IF NOT EXISTS ocr_text_results (
	id         BIGSERIAL PRIMARY KEY,
	run_id     UUID NOT NULL REFERENCES ocr_runs(id) ON DELETE CASCADE,
	image_id   BIGINT REFERENCES ocr_page_images(id) ON DELETE SET NULL,
	page_index INTEGER NOT NULL,
	stage      TEXT NOT NULL,
	text       TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	engine     TEXT NOT NULL,
	language   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ocr_runs_created_at ON ocr_runs (created_at DESC);
`

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run with id is required")
	}
	status := run.Status
	if status == "" {
		status = StatusCreated
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ocr_runs (id, engine, language, original_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Engine, run.Language, run.OriginalPath, string(status), createdAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (p *PostgresStore) SetConvertedPath(ctx context.Context, runID, path string) error {
	return p.exec(ctx, runID,
		`UPDATE ocr_runs SET converted_path = $2 WHERE id = $1`, runID, path)
}

func (p *PostgresStore) AppendImage(ctx context.Context, img *PageImage) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO ocr_page_images (run_id, page_index, stage, variant, path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		img.RunID, img.PageIndex, string(img.Stage), img.Variant, img.Path).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append image: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) AppendTextResult(ctx context.Context, res *TextResult) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO ocr_text_results (run_id, image_id, page_index, stage, text, confidence, engine, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		res.RunID, nullableID(res.ImageID), res.PageIndex, string(res.Stage),
		res.Text, res.Confidence, res.Engine, res.Language).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append text result: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status Status) error {
	return p.exec(ctx, runID, `
		UPDATE ocr_runs SET status = $2
		WHERE id = $1 AND status NOT IN ($3, $4, $5)`,
		runID, string(status),
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled))
}

func (p *PostgresStore) MarkRunFailed(ctx context.Context, runID, stage, message string) error {
	return p.exec(ctx, runID, `
		UPDATE ocr_runs SET status = $2, failed_stage = $3, error_message = $4
		WHERE id = $1`,
		runID, string(StatusFailed), stage, message)
}

func (p *PostgresStore) CompleteRun(ctx context.Context, runID, bestText string, bestConfidence float64) error {
	return p.exec(ctx, runID, `
		UPDATE ocr_runs SET status = $2, best_text = $3, best_confidence = $4
		WHERE id = $1`,
		runID, string(StatusCompleted), bestText, bestConfidence)
}

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, engine, language, original_path, converted_path, status,
		       failed_stage, error_message, best_text, best_confidence, created_at
		FROM ocr_runs WHERE id = $1`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.Images, err = p.loadImages(ctx, runID); err != nil {
		return nil, err
	}
	if run.TextResults, err = p.loadTextResults(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, engine, language, original_path, converted_path, status,
		       failed_stage, error_message, best_text, best_confidence, created_at
		FROM ocr_runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (p *PostgresStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresStore) loadImages(ctx context.Context, runID string) ([]PageImage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, run_id, page_index, stage, variant, path
		FROM ocr_page_images WHERE run_id = $1
		ORDER BY page_index, stage, variant`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	defer rows.Close()

	var images []PageImage
	for rows.Next() {
		var img PageImage
		var stage string
		if err := rows.Scan(&img.ID, &img.RunID, &img.PageIndex, &stage, &img.Variant, &img.Path); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.Stage = Stage(stage)
		images = append(images, img)
	}
	return images, rows.Err()
}

func (p *PostgresStore) loadTextResults(ctx context.Context, runID string) ([]TextResult, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, run_id, COALESCE(image_id, 0), page_index, stage, text, confidence, engine, language
		FROM ocr_text_results WHERE run_id = $1
		ORDER BY page_index, stage`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load text results: %w", err)
	}
	defer rows.Close()

	var results []TextResult
	for rows.Next() {
		var res TextResult
		var stage string
		if err := rows.Scan(&res.ID, &res.RunID, &res.ImageID, &res.PageIndex,
			&stage, &res.Text, &res.Confidence, &res.Engine, &res.Language); err != nil {
			return nil, fmt.Errorf("failed to scan text result: %w", err)
		}
		res.Stage = Stage(stage)
		results = append(results, res)
	}
	return results, rows.Err()
}

func (p *PostgresStore) exec(ctx context.Context, runID, query string, args ...interface{}) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var converted, failedStage, errorMessage, bestText sql.NullString
	var bestConfidence sql.NullFloat64
	var status string
	err := row.Scan(&run.ID, &run.Engine, &run.Language, &run.OriginalPath,
		&converted, &status, &failedStage, &errorMessage, &bestText,
		&bestConfidence, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.ConvertedPath = converted.String
	run.FailedStage = failedStage.String
	run.Error = errorMessage.String
	run.BestText = bestText.String
	run.BestConfidence = bestConfidence.Float64
	return &run, nil
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
