/**
 * Tesseract engine adapter (local-binary variant)
 *
 * Invokes tesseract through gosseract once per page image and aggregates
 * its per-word confidences into a page-level score. The language code is
 * a "+"-joined set of traineddata model codes ("vie+eng"); codes are not
 * pre-validated here - a rejection by tesseract itself surfaces as
 * INVALID_LANGUAGE.
 */

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/docpipe/ocr-orchestrator/internal/errors"
	"github.com/docpipe/ocr-orchestrator/internal/logging"
	"github.com/docpipe/ocr-orchestrator/internal/preprocess"
)

// TesseractEngine recognizes page images with a local tesseract install.
type TesseractEngine struct {
	defaultLanguage string
	timeout         time.Duration
	logger          *logging.Logger
	clientFactory   func() tesseractClient
}

// tesseractClient is the slice of the gosseract client the adapter uses,
// extracted so tests can fake the binary.
type tesseractClient interface {
	SetImageFromBytes(data []byte) error
	SetLanguage(langs ...string) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// TesseractConfig holds tesseract adapter configuration
type TesseractConfig struct {
	DefaultLanguage string
	Timeout         time.Duration
	Logger          *logging.Logger
}

// NewTesseractEngine creates the local-binary engine adapter.
func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	if cfg == nil {
		cfg = &TesseractConfig{}
	}
	lang := cfg.DefaultLanguage
	if lang == "" {
		lang = "vie+eng"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("tesseract")
	}
	return &TesseractEngine{
		defaultLanguage: lang,
		timeout:         timeout,
		logger:          logger,
		clientFactory:   func() tesseractClient { return gosseract.NewClient() },
	}
}

func (e *TesseractEngine) Name() Variant { return VariantTesseract }

func (e *TesseractEngine) DefaultLanguage() string { return e.defaultLanguage }

// StageMask allows the full preprocessing pipeline; tesseract does well
// on binarized input.
func (e *TesseractEngine) StageMask() preprocess.Options { return preprocess.AllStages() }

// Recognize runs tesseract on one image. The call is bounded by the
// adapter's timeout; a timed-out invocation is left to finish on its own
// while the pipeline moves on with an ENGINE_FAILED error.
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte, language string) (Recognition, error) {
	if language == "" {
		language = e.defaultLanguage
	}

	type outcome struct {
		rec Recognition
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rec, err := e.recognize(image, language)
		done <- outcome{rec: rec, err: err}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.rec, out.err
	case <-ctx.Done():
		return Recognition{}, errors.NewEngineError(string(VariantTesseract), ctx.Err())
	case <-timer.C:
		e.logger.Warn("tesseract call timed out", "timeout", e.timeout, "language", language)
		return Recognition{}, errors.NewEngineError(string(VariantTesseract),
			fmt.Errorf("recognition exceeded %v", e.timeout))
	}
}

func (e *TesseractEngine) recognize(image []byte, language string) (Recognition, error) {
	client := e.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(image); err != nil {
		return Recognition{}, errors.NewEngineError(string(VariantTesseract), fmt.Errorf("set image: %w", err))
	}
	if err := client.SetLanguage(splitLanguageCodes(language)...); err != nil {
		return Recognition{}, errors.NewInvalidLanguageError(string(VariantTesseract), language, err)
	}

	text, err := client.Text()
	if err != nil {
		if isLanguageRejection(err) {
			return Recognition{}, errors.NewInvalidLanguageError(string(VariantTesseract), language, err)
		}
		return Recognition{}, errors.NewEngineError(string(VariantTesseract), err)
	}
	text = strings.TrimSpace(text)

	// Empty pages report confidence 0.0 rather than an average over
	// nothing.
	if text == "" {
		return Recognition{Text: "", Confidence: 0}, nil
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		// Text came back but word metadata did not; report the text with
		// an unknown-quality floor instead of failing the page.
		return Recognition{Text: text, Confidence: 0}, nil
	}

	return Recognition{Text: text, Confidence: meanWordConfidence(boxes)}, nil
}

// splitLanguageCodes expands "vie+eng" into the code list gosseract
// expects.
func splitLanguageCodes(language string) []string {
	parts := strings.Split(language, "+")
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			codes = append(codes, p)
		}
	}
	return codes
}

// meanWordConfidence averages tesseract's native 0-100 word confidences
// down to the common [0,1] scale.
func meanWordConfidence(boxes []gosseract.BoundingBox) float64 {
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return clampConfidence(sum / float64(len(boxes)) / 100.0)
}

// isLanguageRejection recognizes tesseract's complaint about a missing
// traineddata model ("Failed loading language 'xyz'").
func isLanguageRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "loading language") || strings.Contains(msg, "tessdata")
}
