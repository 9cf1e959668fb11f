/**
 * Model-inference engine adapter
 *
 * Calls an RPC-exposed recognition model over HTTP, one request per page
 * image. The model decodes output symbols against a fixed-size character
 * table; the adapter validates the configured dictionary file against
 * that hard limit at construction time and fails closed onto the model's
 * built-in default when the count does not match exactly, because a
 * mismatched table shifts the blank index and silently corrupts every
 * decoded page.
 */

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docpipe/ocr-orchestrator/internal/errors"
	"github.com/docpipe/ocr-orchestrator/internal/logging"
	"github.com/docpipe/ocr-orchestrator/internal/preprocess"
)

// InferenceEngine recognizes page images through a model server.
type InferenceEngine struct {
	endpoint        string
	defaultLanguage string
	httpClient      *http.Client
	logger          *logging.Logger

	// dictionary holds the validated custom character table, nil when the
	// model's built-in default is in use.
	dictionary []string
}

// InferenceConfig holds model-inference adapter configuration
type InferenceConfig struct {
	Endpoint        string
	DefaultLanguage string
	Timeout         time.Duration

	// DictionaryPath points at a newline-separated character table;
	// empty means use the model default.
	DictionaryPath string

	// DictionarySymbols is the model's fixed vocabulary slot count.
	DictionarySymbols int

	Logger *logging.Logger
}

// inferenceRequest is the wire shape of one recognition call.
type inferenceRequest struct {
	ImageB64   string   `json:"image_b64"`
	Language   string   `json:"language"`
	Dictionary []string `json:"dictionary,omitempty"`
}

// inferenceResponse is the model server's reply.
type inferenceResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// NewInferenceEngine creates the model-inference adapter. A bad
// dictionary degrades to the built-in default and logs; it never fails
// engine construction.
func NewInferenceEngine(cfg *InferenceConfig) (*InferenceEngine, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("inference endpoint is required")
	}
	lang := cfg.DefaultLanguage
	if lang == "" {
		lang = "vi"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("inference")
	}

	engine := &InferenceEngine{
		endpoint:        cfg.Endpoint,
		defaultLanguage: lang,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logger,
	}

	if cfg.DictionaryPath != "" {
		dict, err := LoadDictionary(cfg.DictionaryPath, cfg.DictionarySymbols)
		if err != nil {
			logger.Warn("rejecting custom dictionary, using model default",
				"path", cfg.DictionaryPath, "error", err)
		} else {
			engine.dictionary = dict
			logger.Info("custom dictionary loaded", "path", cfg.DictionaryPath, "symbols", len(dict))
		}
	}

	return engine, nil
}

func (e *InferenceEngine) Name() Variant { return VariantInference }

func (e *InferenceEngine) DefaultLanguage() string { return e.defaultLanguage }

// StageMask opts out of binarization: thresholding strips the diacritics
// the model needs to tell Vietnamese characters apart.
func (e *InferenceEngine) StageMask() preprocess.Options {
	mask := preprocess.AllStages()
	mask.Binarize = false
	return mask
}

// UsingCustomDictionary reports whether the validated custom table is
// active, exposed for startup logging and tests.
func (e *InferenceEngine) UsingCustomDictionary() bool { return e.dictionary != nil }

// Recognize posts one image to the model server. Transport failures and
// timeouts become ENGINE_FAILED; an explicit language rejection from the
// server becomes INVALID_LANGUAGE.
func (e *InferenceEngine) Recognize(ctx context.Context, image []byte, language string) (Recognition, error) {
	if language == "" {
		language = e.defaultLanguage
	}

	payload, err := json.Marshal(inferenceRequest{
		ImageB64:   base64.StdEncoding.EncodeToString(image),
		Language:   language,
		Dictionary: e.dictionary,
	})
	if err != nil {
		return Recognition{}, errors.NewEngineError(string(VariantInference), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Recognition{}, errors.NewEngineError(string(VariantInference), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Recognition{}, errors.NewEngineError(string(VariantInference), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Recognition{}, errors.NewInvalidLanguageError(string(VariantInference), language,
			fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Recognition{}, errors.NewEngineError(string(VariantInference),
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Recognition{}, errors.NewEngineError(string(VariantInference), err)
	}
	if parsed.Error != "" {
		return Recognition{}, errors.NewEngineError(string(VariantInference), fmt.Errorf("%s", parsed.Error))
	}

	return Recognition{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: clampConfidence(parsed.Confidence),
	}, nil
}
