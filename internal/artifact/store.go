/**
 * Artifact Store for the OCR orchestrator
 *
 * Run-scoped filesystem layout for uploaded originals, converted
 * intermediates and per-page images. Writers stay inside their own run's
 * subtree, so concurrent runs never contend. Only paths are persisted in
 * the relational model; binary payloads live here.
 */

package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	originalDir     = "original"
	convertedDir    = "converted"
	pagesDir        = "pages"
	preprocessedDir = "preprocessed"
)

// Store manages the run-scoped artifact tree under a single root.
type Store struct {
	root string
}

// NewStore creates the artifact root if needed and returns a store.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

// RunDir returns the directory for one run, creating it on first use.
func (s *Store) RunDir(runID string) (string, error) {
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// SaveOriginal writes the uploaded document under <root>/<run>/original/
// and returns its path.
func (s *Store) SaveOriginal(runID, filename string, data []byte) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is required")
	}
	// Strip any directory components a client may have sent along.
	name := filepath.Base(filename)
	return s.write(runID, originalDir, name, data)
}

// ConvertedDir returns the run's directory for converted intermediates,
// creating it on first use. The converter writes into it directly because
// libreoffice produces its own output file.
func (s *Store) ConvertedDir(runID string) (string, error) {
	return s.subdir(runID, convertedDir)
}

// PagesDir returns the run's directory for rasterized page images.
func (s *Store) PagesDir(runID string) (string, error) {
	return s.subdir(runID, pagesDir)
}

// SavePreprocessed writes one enhanced page image and returns its path.
// The variant ordinal disambiguates multiple preprocessed renditions of
// the same page.
func (s *Store) SavePreprocessed(runID string, pageIndex, variant int, data []byte) (string, error) {
	name := fmt.Sprintf("page_%03d_v%d.png", pageIndex, variant)
	return s.write(runID, preprocessedDir, name, data)
}

func (s *Store) subdir(runID, sub string) (string, error) {
	runDir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(runDir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", sub, err)
	}
	return dir, nil
}

func (s *Store) write(runID, sub, name string, data []byte) (string, error) {
	dir, err := s.subdir(runID, sub)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return path, nil
}
