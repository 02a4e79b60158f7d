package engine

import "github.com/clinicalkb/medrag/internal/rag"

const (
	confidenceFloor   = 0.1
	confidenceCeiling = 0.95

	defaultModelConfidence = 0.5
	minSupportingDocs      = 3

	// An answer with no corpus support is never more than weakly confident,
	// whatever the model claims about itself.
	unsupportedCeiling = 0.3
)

// ConfidenceScorer combines the model's own confidence with retrieval quality
// and validation outcome into a single calibrated score.
type ConfidenceScorer struct{}

// Score blends the base model confidence (60%) with average retrieval
// relevance (40%), then applies multiplicative penalties for a failed
// validation, per-warning deductions, and thin document support. The result
// is clamped to [0.1, 0.95]: never certain, never zero.
func (ConfidenceScorer) Score(base, avgRelevance float64, report rag.ValidationReport, docCount int) float64 {
	if base <= 0 {
		base = defaultModelConfidence
	}
	score := base*0.6 + avgRelevance*0.4
	if !report.Passed {
		score *= 0.8
	}
	score *= 1 - 0.05*float64(len(report.Warnings))
	if docCount < minSupportingDocs {
		score *= 0.9
	}
	if docCount == 0 && score > unsupportedCeiling {
		score = unsupportedCeiling
	}
	return clamp(score, confidenceFloor, confidenceCeiling)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
