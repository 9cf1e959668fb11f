package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/ocr-orchestrator/internal/errors"
)

func writeDictionary(t *testing.T, symbols int) string {
	t.Helper()
	// First entry is the blank symbol (a single space), as the model's
	// character tables carry it.
	entries := make([]string, symbols)
	entries[0] = " "
	for i := 1; i < symbols; i++ {
		entries[i] = string(rune('a' + i%26))
	}
	path := filepath.Join(t.TempDir(), "dict.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(entries, "\n")+"\n"), 0o644))
	return path
}

func TestLoadDictionaryExactCount(t *testing.T) {
	path := writeDictionary(t, 185)

	dict, err := LoadDictionary(path, 185)
	require.NoError(t, err)
	assert.Len(t, dict, 185)
	assert.Equal(t, " ", dict[0], "the leading blank entry must survive loading")
}

func TestLoadDictionaryCountMismatch(t *testing.T) {
	path := writeDictionary(t, 190)

	_, err := LoadDictionary(path, 185)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrorInvalidDictionary))
}

func TestNewInferenceEngineRejectsBadDictionaryButStaysUsable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inferenceResponse{Text: "van ban", Confidence: 0.93})
	}))
	defer server.Close()

	eng, err := NewInferenceEngine(&InferenceConfig{
		Endpoint:          server.URL,
		DictionaryPath:    writeDictionary(t, 40),
		DictionarySymbols: 185,
	})
	require.NoError(t, err, "a bad dictionary must not fail engine construction")
	assert.False(t, eng.UsingCustomDictionary(), "mismatched count falls back to the model default")

	rec, err := eng.Recognize(context.Background(), []byte("img"), "vi")
	require.NoError(t, err)
	assert.Equal(t, "van ban", rec.Text)
}

func TestNewInferenceEngineLoadsMatchingDictionary(t *testing.T) {
	eng, err := NewInferenceEngine(&InferenceConfig{
		Endpoint:          "http://localhost:1/recognize",
		DictionaryPath:    writeDictionary(t, 185),
		DictionarySymbols: 185,
	})
	require.NoError(t, err)
	assert.True(t, eng.UsingCustomDictionary())
}

func TestInferenceRecognize(t *testing.T) {
	var received inferenceRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(inferenceResponse{Text: "  trang mot  ", Confidence: 0.88})
	}))
	defer server.Close()

	eng, err := NewInferenceEngine(&InferenceConfig{Endpoint: server.URL})
	require.NoError(t, err)

	rec, err := eng.Recognize(context.Background(), []byte("image-bytes"), "vi")
	require.NoError(t, err)

	assert.Equal(t, "trang mot", rec.Text)
	assert.Equal(t, 0.88, rec.Confidence)
	assert.Equal(t, "vi", received.Language)
	assert.NotEmpty(t, received.ImageB64)
}

func TestInferenceConfidenceClamped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inferenceResponse{Text: "x", Confidence: 1.7})
	}))
	defer server.Close()

	eng, err := NewInferenceEngine(&InferenceConfig{Endpoint: server.URL})
	require.NoError(t, err)

	rec, err := eng.Recognize(context.Background(), []byte("img"), "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Confidence)
}

func TestInferenceLanguageRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown language code: xx", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	eng, err := NewInferenceEngine(&InferenceConfig{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = eng.Recognize(context.Background(), []byte("img"), "xx")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrorInvalidLanguage))
}

func TestInferenceServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	eng, err := NewInferenceEngine(&InferenceConfig{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = eng.Recognize(context.Background(), []byte("img"), "vi")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrorEngineFailed))
}

func TestInferenceStageMaskSkipsBinarize(t *testing.T) {
	eng, err := NewInferenceEngine(&InferenceConfig{Endpoint: "http://localhost:1/recognize"})
	require.NoError(t, err)

	mask := eng.StageMask()
	assert.True(t, mask.Grayscale)
	assert.False(t, mask.Binarize, "binarization strips the diacritics the model needs")
}
