/**
 * Configuration for the OCR orchestrator
 *
 * Loads configuration from environment variables. Constructed once at
 * startup and passed by reference into the orchestrator and each engine
 * adapter; pipeline stages never consult the environment themselves.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds orchestrator configuration
type Config struct {
	// ArtifactStore root directory
	DataDir string

	// PostgreSQL connection string; empty selects the in-memory history store
	DatabaseURL string

	// Rasterization resolution for PDF pages
	PDFDPI int

	// External tool paths
	LibreOfficePath string
	PdftoppmPath    string

	// Default language per engine variant. Tesseract accepts "+"-joined
	// model codes ("vie+eng"); the inference model is keyed by one code.
	TesseractLanguage string
	InferenceLanguage string

	// Per-engine-variant worker pool sizes. The inference model is
	// memory-heavy, so its pool is capped tighter by default.
	TesseractWorkers int
	InferenceWorkers int

	// Maximum pages of one run processed concurrently inside the
	// preprocessing and recognition stages
	PageFanout int

	// Preprocessing stage toggles; stage order itself is fixed
	EnableGrayscale bool
	EnableContrast  bool
	EnableDenoise   bool
	EnableBinarize  bool

	// Model-inference endpoint
	InferenceURL        string
	InferenceTimeoutSec int

	// Recognition dictionary for the inference model. The model's
	// vocabulary slot count is fixed; a file with any other symbol count
	// is rejected at load time.
	DictionaryPath    string
	DictionarySymbols int

	// Timeout for one tesseract invocation
	TesseractTimeoutSec int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DataDir:             getEnvOrDefault("OCR_DATA_DIR", "storage"),
		DatabaseURL:         getEnvOrDefault("OCR_DATABASE_URL", ""),
		PDFDPI:              getEnvAsIntOrDefault("OCR_PDF_DPI", 300),
		LibreOfficePath:     getEnvOrDefault("OCR_LIBREOFFICE_PATH", "libreoffice"),
		PdftoppmPath:        getEnvOrDefault("OCR_PDFTOPPM_PATH", "pdftoppm"),
		TesseractLanguage:   getEnvOrDefault("OCR_TESSERACT_LANG", "vie+eng"),
		InferenceLanguage:   getEnvOrDefault("OCR_INFERENCE_LANG", "vi"),
		TesseractWorkers:    getEnvAsIntOrDefault("OCR_TESSERACT_WORKERS", 4),
		InferenceWorkers:    getEnvAsIntOrDefault("OCR_INFERENCE_WORKERS", 1),
		PageFanout:          getEnvAsIntOrDefault("OCR_PAGE_FANOUT", 4),
		EnableGrayscale:     getEnvAsBoolOrDefault("OCR_STAGE_GRAYSCALE", true),
		EnableContrast:      getEnvAsBoolOrDefault("OCR_STAGE_CONTRAST", true),
		EnableDenoise:       getEnvAsBoolOrDefault("OCR_STAGE_DENOISE", true),
		EnableBinarize:      getEnvAsBoolOrDefault("OCR_STAGE_BINARIZE", true),
		InferenceURL:        getEnvOrDefault("OCR_INFERENCE_URL", "http://localhost:8501/recognize"),
		InferenceTimeoutSec: getEnvAsIntOrDefault("OCR_INFERENCE_TIMEOUT", 120),
		DictionaryPath:      getEnvOrDefault("OCR_DICT_PATH", ""),
		DictionarySymbols:   getEnvAsIntOrDefault("OCR_DICT_SYMBOLS", 185),
		TesseractTimeoutSec: getEnvAsIntOrDefault("OCR_TESSERACT_TIMEOUT", 120),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("OCR_DATA_DIR is required")
	}

	if c.PDFDPI < 72 || c.PDFDPI > 1200 {
		return fmt.Errorf("OCR_PDF_DPI must be between 72 and 1200, got %d", c.PDFDPI)
	}

	if c.TesseractWorkers < 1 || c.TesseractWorkers > 64 {
		return fmt.Errorf("OCR_TESSERACT_WORKERS must be between 1 and 64, got %d", c.TesseractWorkers)
	}

	if c.InferenceWorkers < 1 || c.InferenceWorkers > 16 {
		return fmt.Errorf("OCR_INFERENCE_WORKERS must be between 1 and 16, got %d", c.InferenceWorkers)
	}

	if c.PageFanout < 1 {
		return fmt.Errorf("OCR_PAGE_FANOUT must be at least 1, got %d", c.PageFanout)
	}

	if c.DictionarySymbols < 1 {
		return fmt.Errorf("OCR_DICT_SYMBOLS must be positive, got %d", c.DictionarySymbols)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	switch valueStr {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
