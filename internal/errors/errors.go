/**
 * Pipeline error taxonomy for the OCR orchestrator
 *
 * Every stage failure is wrapped in a PipelineError carrying the run,
 * the failing stage and a stable error code so runs can be inspected
 * later from their history record alone.
 */

package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies pipeline failures.
type ErrorCode string

const (
	// Caller errors, rejected before the pipeline starts
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Stage failures that terminate a run
	ErrorConversionFailed ErrorCode = "CONVERSION_FAILED"
	ErrorPreprocessFailed ErrorCode = "PREPROCESS_FAILED"
	ErrorEngineFailed     ErrorCode = "ENGINE_FAILED"
	ErrorInvalidLanguage  ErrorCode = "INVALID_LANGUAGE"

	// Load-time configuration problems that degrade instead of failing the process
	ErrorInvalidDictionary ErrorCode = "INVALID_DICTIONARY"
)

// PipelineError represents a structured pipeline failure.
type PipelineError struct {
	Code      ErrorCode
	Message   string
	RunID     string
	Stage     string
	Timestamp time.Time
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithRun returns a copy of the error annotated with the run and stage it
// failed in. Adapters build errors before the orchestrator knows about
// them, so the annotation happens at the stage boundary.
func (e *PipelineError) WithRun(runID, stage string) *PipelineError {
	clone := *e
	clone.RunID = runID
	clone.Stage = stage
	return &clone
}

// CodeOf extracts the error code from err, or empty if err is not a
// PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Factory functions for the taxonomy

func NewUnsupportedFormatError(extension string) *PipelineError {
	return &PipelineError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("unsupported document format: %s", extension),
		Timestamp: time.Now(),
	}
}

func NewConversionError(tool string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorConversionFailed,
		Message:   fmt.Sprintf("document conversion failed (%s)", tool),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewPreprocessError(stage string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorPreprocessFailed,
		Message:   fmt.Sprintf("image preprocessing failed at %s", stage),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewEngineError(engine string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorEngineFailed,
		Message:   fmt.Sprintf("recognition engine %s failed", engine),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewInvalidLanguageError(engine, language string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorInvalidLanguage,
		Message:   fmt.Sprintf("engine %s rejected language %q", engine, language),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewInvalidDictionaryError(path string, got, want int) *PipelineError {
	return &PipelineError{
		Code:      ErrorInvalidDictionary,
		Message:   fmt.Sprintf("dictionary %s has %d symbols, model requires exactly %d", path, got, want),
		Timestamp: time.Now(),
	}
}
