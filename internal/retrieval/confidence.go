package retrieval

// Confidence levels reported alongside a ranked result.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Score thresholds for the confidence bands.
const (
	highThreshold   = 0.25
	mediumThreshold = 0.12
)

// Confidence classifies a ranked list by its best fused score. Rerank scores
// are raw cross-encoder logits on a different scale, so the thresholds apply
// to the base score even after reranking.
func Confidence(candidates []Candidate) string {
	if len(candidates) == 0 {
		return ConfidenceLow
	}
	best := candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score > best {
			best = c.Score
		}
	}
	switch {
	case best >= highThreshold:
		return ConfidenceHigh
	case best >= mediumThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
