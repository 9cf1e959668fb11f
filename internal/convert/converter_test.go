package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/ocr-orchestrator/internal/artifact"
	"github.com/docpipe/ocr-orchestrator/internal/errors"
)

func newTestConverter(t *testing.T, runner CommandRunner) (*Converter, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	conv, err := NewConverter(&ConverterConfig{
		DPI:       150,
		Artifacts: store,
		Runner:    runner,
	})
	require.NoError(t, err)
	return conv, store
}

func TestSupportedExtension(t *testing.T) {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".tiff", ".bmp", ".pdf", ".doc", ".docx", ".PDF"} {
		assert.True(t, SupportedExtension(ext), ext)
	}
	for _, ext := range []string{".txt", ".zip", "", ".exe"} {
		assert.False(t, SupportedExtension(ext), ext)
	}
}

func TestConvertImagePassthrough(t *testing.T) {
	conv, _ := newTestConverter(t, func(ctx context.Context, name string, args ...string) error {
		t.Fatalf("no external tool should run for image input, got %s", name)
		return nil
	})

	original := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(original, []byte("png-bytes"), 0o644))

	result, err := conv.Convert(context.Background(), "run-1", original)
	require.NoError(t, err)

	require.Len(t, result.Pages, 1)
	assert.Equal(t, 0, result.Pages[0].Index)
	assert.Equal(t, original, result.Pages[0].Path, "single-image input passes through unchanged")
	assert.Empty(t, result.ConvertedPath)
}

func TestConvertUnsupportedFormat(t *testing.T) {
	conv, _ := newTestConverter(t, nil)

	_, err := conv.Convert(context.Background(), "run-1", "/tmp/upload.txt")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrorUnsupportedFormat))
}

func TestConvertPDFOrdersPagesDensely(t *testing.T) {
	// Fake pdftoppm: write twelve pages so numeric ordering differs from
	// lexicographic ("page-10" would sort before "page-2").
	runner := func(ctx context.Context, name string, args ...string) error {
		prefix := args[len(args)-1]
		for i := 1; i <= 12; i++ {
			path := fmt.Sprintf("%s-%d.png", prefix, i)
			if err := os.WriteFile(path, []byte(fmt.Sprintf("page %d", i)), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
	conv, _ := newTestConverter(t, runner)

	result, err := conv.Convert(context.Background(), "run-1", "/tmp/doc.pdf")
	require.NoError(t, err)

	require.Len(t, result.Pages, 12)
	for i, page := range result.Pages {
		assert.Equal(t, i, page.Index, "indices must be dense from 0 in source order")
		assert.True(t, strings.HasSuffix(page.Path, fmt.Sprintf("-%d.png", i+1)),
			"page %d should map to pdftoppm output %d, got %s", i, i+1, page.Path)
	}
}

func TestConvertPDFZeroPagesFails(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) error {
		return nil // tool "succeeds" but renders nothing
	}
	conv, _ := newTestConverter(t, runner)

	_, err := conv.Convert(context.Background(), "run-1", "/tmp/empty.pdf")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrorConversionFailed))
}

func TestConvertToolFailureIsConversionError(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) error {
		return fmt.Errorf("%s: exit status 1", name)
	}
	conv, _ := newTestConverter(t, runner)

	_, err := conv.Convert(context.Background(), "run-1", "/tmp/doc.pdf")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrorConversionFailed))
}

func TestConvertDocxTwoHop(t *testing.T) {
	var calls []string
	runner := func(ctx context.Context, name string, args ...string) error {
		calls = append(calls, name)
		switch name {
		case "libreoffice":
			// --outdir is the final argument
			outDir := args[len(args)-1]
			return os.WriteFile(filepath.Join(outDir, "report.pdf"), []byte("%PDF"), 0o644)
		case "pdftoppm":
			prefix := args[len(args)-1]
			for i := 1; i <= 2; i++ {
				if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), []byte("p"), 0o644); err != nil {
					return err
				}
			}
			return nil
		}
		return fmt.Errorf("unexpected tool %s", name)
	}
	conv, _ := newTestConverter(t, runner)

	result, err := conv.Convert(context.Background(), "run-1", "/tmp/report.docx")
	require.NoError(t, err)

	assert.Equal(t, []string{"libreoffice", "pdftoppm"}, calls, "word-processor input takes the two-hop path")
	assert.True(t, strings.HasSuffix(result.ConvertedPath, "report.pdf"))
	require.Len(t, result.Pages, 2)
	assert.Equal(t, 0, result.Pages[0].Index)
	assert.Equal(t, 1, result.Pages[1].Index)
}

func TestPageNumberFromName(t *testing.T) {
	assert.Equal(t, 3, pageNumberFromName("/x/page-3.png"))
	assert.Equal(t, 12, pageNumberFromName("/x/page-012.png"))
	assert.Equal(t, 0, pageNumberFromName("/x/page.png"))
}
