package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docpipe/ocr-orchestrator/internal/history"
)

func TestAggregatePicksHighestConfidencePerPage(t *testing.T) {
	text, confidence := aggregate([]pageResult{
		{pageIndex: 0, stage: history.StageOriginal, text: "raw zero", confidence: 0.90},
		{pageIndex: 0, stage: history.StagePreprocessed, text: "clean zero", confidence: 0.95},
		{pageIndex: 1, stage: history.StageOriginal, text: "raw one", confidence: 0.80},
		{pageIndex: 1, stage: history.StagePreprocessed, text: "clean one", confidence: 0.70},
	})

	assert.Equal(t, "clean zero\n\nraw one", text)
	assert.InDelta(t, (0.95+0.80)/2, confidence, 1e-9)
}

func TestAggregateTiePrefersPreprocessed(t *testing.T) {
	text, confidence := aggregate([]pageResult{
		{pageIndex: 0, stage: history.StageOriginal, text: "raw", confidence: 0.5},
		{pageIndex: 0, stage: history.StagePreprocessed, text: "clean", confidence: 0.5},
	})

	assert.Equal(t, "clean", text)
	assert.InDelta(t, 0.5, confidence, 1e-9)
}

func TestAggregateTieWithinStagePrefersHigherVariant(t *testing.T) {
	text, _ := aggregate([]pageResult{
		{pageIndex: 0, stage: history.StagePreprocessed, variant: 0, text: "first", confidence: 0.5},
		{pageIndex: 0, stage: history.StagePreprocessed, variant: 1, text: "second", confidence: 0.5},
	})

	assert.Equal(t, "second", text)
}

func TestAggregateSkipsEmptyPageText(t *testing.T) {
	text, confidence := aggregate([]pageResult{
		{pageIndex: 0, stage: history.StagePreprocessed, text: "", confidence: 0.0},
		{pageIndex: 1, stage: history.StagePreprocessed, text: "only page", confidence: 0.8},
	})

	assert.Equal(t, "only page", text)
	assert.InDelta(t, 0.4, confidence, 1e-9)
}

func TestAggregateEmptyInput(t *testing.T) {
	text, confidence := aggregate(nil)
	assert.Empty(t, text)
	assert.Zero(t, confidence)
}
