/**
 * Format Converter for the OCR orchestrator
 *
 * Normalizes an uploaded document into an ordered sequence of raster page
 * images. Images pass through untouched; PDFs are rasterized page by page
 * with pdftoppm; word-processor documents make a two-hop trip through
 * headless libreoffice into PDF and then down the same rasterization path,
 * so both routes produce the identical downstream image contract.
 */

package convert

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/docpipe/ocr-orchestrator/internal/artifact"
	"github.com/docpipe/ocr-orchestrator/internal/errors"
	"github.com/docpipe/ocr-orchestrator/internal/logging"
)

// Page is one rasterized page image in document order.
type Page struct {
	Index int
	Path  string
}

// Result is the outcome of a conversion.
type Result struct {
	// ConvertedPath is the intermediate PDF when a conversion hop
	// happened, empty for direct image input.
	ConvertedPath string
	Pages         []Page
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tiff": true,
	".bmp":  true,
}

var documentExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
}

// SupportedExtension reports whether the extension (with leading dot,
// any case) is accepted by the pipeline.
func SupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	return imageExtensions[ext] || documentExtensions[ext]
}

// CommandRunner executes one external tool invocation. Swapped out in
// tests; the default runs the real binary.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func runExternal(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Converter turns uploaded documents into page image sequences.
type Converter struct {
	libreOfficePath string
	pdftoppmPath    string
	dpi             int
	artifacts       *artifact.Store
	logger          *logging.Logger
	run             CommandRunner
}

// ConverterConfig holds converter configuration
type ConverterConfig struct {
	LibreOfficePath string
	PdftoppmPath    string
	DPI             int
	Artifacts       *artifact.Store
	Logger          *logging.Logger
	Runner          CommandRunner // optional, defaults to real subprocess execution
}

// NewConverter creates a new format converter
func NewConverter(cfg *ConverterConfig) (*Converter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.LibreOfficePath == "" {
		cfg.LibreOfficePath = "libreoffice"
	}
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("convert")
	}
	runner := cfg.Runner
	if runner == nil {
		runner = runExternal
	}
	return &Converter{
		libreOfficePath: cfg.LibreOfficePath,
		pdftoppmPath:    cfg.PdftoppmPath,
		dpi:             cfg.DPI,
		artifacts:       cfg.Artifacts,
		logger:          logger,
		run:             runner,
	}, nil
}

// Convert normalizes the stored original of a run into page images.
// Page indices are dense, 0-based and follow the document's natural order.
func (c *Converter) Convert(ctx context.Context, runID, originalPath string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(originalPath))

	switch {
	case imageExtensions[ext]:
		// Single-image input passes through as page 0, unchanged.
		return &Result{Pages: []Page{{Index: 0, Path: originalPath}}}, nil

	case ext == ".pdf":
		pages, err := c.rasterize(ctx, runID, originalPath)
		if err != nil {
			return nil, err
		}
		return &Result{Pages: pages}, nil

	case documentExtensions[ext]:
		pdfPath, err := c.toPDF(ctx, runID, originalPath)
		if err != nil {
			return nil, err
		}
		pages, err := c.rasterize(ctx, runID, pdfPath)
		if err != nil {
			return nil, err
		}
		return &Result{ConvertedPath: pdfPath, Pages: pages}, nil

	default:
		return nil, errors.NewUnsupportedFormatError(ext)
	}
}

// toPDF converts a word-processor document into the run's converted/
// directory with headless libreoffice.
func (c *Converter) toPDF(ctx context.Context, runID, originalPath string) (string, error) {
	outDir, err := c.artifacts.ConvertedDir(runID)
	if err != nil {
		return "", errors.NewConversionError("libreoffice", err)
	}

	c.logger.Info("converting document to pdf", "run", runID, "input", filepath.Base(originalPath))
	err = c.run(ctx, c.libreOfficePath,
		"--headless", "--convert-to", "pdf", originalPath, "--outdir", outDir)
	if err != nil {
		return "", errors.NewConversionError("libreoffice", err)
	}

	stem := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))
	pdfPath := filepath.Join(outDir, stem+".pdf")
	if matches, _ := filepath.Glob(pdfPath); len(matches) == 0 {
		return "", errors.NewConversionError("libreoffice",
			fmt.Errorf("expected output %s was not produced", pdfPath))
	}
	return pdfPath, nil
}

// rasterize renders every page of a PDF as PNG at the configured DPI.
func (c *Converter) rasterize(ctx context.Context, runID, pdfPath string) ([]Page, error) {
	outDir, err := c.artifacts.PagesDir(runID)
	if err != nil {
		return nil, errors.NewConversionError("pdftoppm", err)
	}

	prefix := filepath.Join(outDir, "page")
	c.logger.Info("rasterizing pdf", "run", runID, "dpi", c.dpi)
	err = c.run(ctx, c.pdftoppmPath, "-png", "-r", strconv.Itoa(c.dpi), pdfPath, prefix)
	if err != nil {
		return nil, errors.NewConversionError("pdftoppm", err)
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, errors.NewConversionError("pdftoppm", err)
	}
	if len(matches) == 0 {
		return nil, errors.NewConversionError("pdftoppm", fmt.Errorf("no pages rendered from %s", filepath.Base(pdfPath)))
	}

	return orderPages(matches), nil
}

// orderPages sorts rendered files by their pdftoppm page number and
// assigns dense 0-based indices in that order.
func orderPages(paths []string) []Page {
	sort.Slice(paths, func(i, j int) bool {
		return pageNumberFromName(paths[i]) < pageNumberFromName(paths[j])
	})
	pages := make([]Page, 0, len(paths))
	for i, path := range paths {
		pages = append(pages, Page{Index: i, Path: path})
	}
	return pages
}

// pageNumberFromName extracts the 1-based page number pdftoppm encodes in
// the file name suffix ("page-3.png", "page-012.png").
func pageNumberFromName(path string) int {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	if v, err := strconv.Atoi(base[idx+1:]); err == nil {
		return v
	}
	return 0
}
