/**
 * Engine Adapter contract for the OCR orchestrator
 *
 * Two unrelated recognition backends (a local tesseract invocation and a
 * remote model-inference call) share nothing but this capability
 * interface. Adapters own their external call timeouts and translate
 * every backend failure into the pipeline error taxonomy; the
 * orchestrator never talks to an OCR tool directly.
 */

package engine

import (
	"context"

	"github.com/docpipe/ocr-orchestrator/internal/preprocess"
)

// Variant names a recognition backend.
type Variant string

const (
	// VariantTesseract invokes the local tesseract binary through
	// gosseract, one subprocess-backed call per image.
	VariantTesseract Variant = "tesseract"

	// VariantInference calls an RPC-exposed recognition model keyed by a
	// single language code.
	VariantInference Variant = "inference"
)

// Recognition is the output of one engine call for one page image.
// Confidence is normalized to [0,1] by every adapter so results are
// comparable across variants without engine-specific scaling knowledge.
type Recognition struct {
	Text       string
	Confidence float64
}

// Engine is the capability contract every recognition backend satisfies.
type Engine interface {
	// Name identifies the variant.
	Name() Variant

	// DefaultLanguage is used when the caller does not request a code.
	// Each variant has its own language-code namespace.
	DefaultLanguage() string

	// StageMask restricts the preprocessing pipeline for this engine.
	// Stages the mask disables are skipped even when globally enabled.
	StageMask() preprocess.Options

	// Recognize extracts text and a normalized confidence from one
	// encoded page image.
	Recognize(ctx context.Context, image []byte, language string) (Recognition, error)
}

// clampConfidence bounds a confidence score into [0,1].
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
