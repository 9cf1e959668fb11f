package orchestrator

import (
	"sort"
	"strings"

	"github.com/docpipe/ocr-orchestrator/internal/history"
)

// aggregate picks each page's best text result and folds them into the
// run-level outcome: best text is the page texts concatenated in page
// order, best confidence is the mean of the chosen per-page confidences.
//
// Ties on confidence prefer the later pipeline stage (preprocessed over
// original; among preprocessed variants, the higher ordinal), since
// enhancement is expected to help.
func aggregate(results []pageResult) (string, float64) {
	if len(results) == 0 {
		return "", 0
	}

	byPage := make(map[int]pageResult)
	for _, res := range results {
		current, seen := byPage[res.pageIndex]
		if !seen || better(res, current) {
			byPage[res.pageIndex] = res
		}
	}

	indices := make([]int, 0, len(byPage))
	for idx := range byPage {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var texts []string
	var sum float64
	for _, idx := range indices {
		chosen := byPage[idx]
		if chosen.text != "" {
			texts = append(texts, chosen.text)
		}
		sum += chosen.confidence
	}

	return strings.Join(texts, "\n\n"), sum / float64(len(indices))
}

// better reports whether a should replace b as a page's chosen result.
func better(a, b pageResult) bool {
	if a.confidence != b.confidence {
		return a.confidence > b.confidence
	}
	if a.stage != b.stage {
		return a.stage == history.StagePreprocessed
	}
	return a.variant > b.variant
}
