package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/docpipe/ocr-orchestrator/internal/errors"
)

// LoadDictionary reads a newline-separated character table and validates
// its symbol count against the model's fixed vocabulary size. The count
// must match exactly; the recognition head has one slot per symbol and a
// shorter or longer table misaligns every decoded index.
func LoadDictionary(path string, requiredSymbols int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary %s: %w", path, err)
	}

	// Split without dropping the leading single-space entry some tables
	// carry for the blank symbol; only a trailing newline is trimmed.
	entries := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	if len(entries) != requiredSymbols {
		return nil, errors.NewInvalidDictionaryError(path, len(entries), requiredSymbols)
	}
	return entries, nil
}
