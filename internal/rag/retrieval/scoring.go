package retrieval

import (
	"time"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/rag"
)

var evidenceScores = map[string]float64{
	rag.EvidenceHigh:          1.0,
	rag.EvidenceMedium:        0.7,
	rag.EvidenceLow:           0.4,
	rag.EvidenceExpertOpinion: 0.6,
}

const unknownSignalScore = 0.5

// Scorer computes the weighted relevance of a chunk for a query context.
// The weights are tunable design parameters carried in config.
type Scorer struct {
	weights config.ScoringConfig
	window  float64 // recency decay window in years
	floor   float64
	now     func() time.Time
}

// NewScorer builds a scorer from retrieval config.
func NewScorer(cfg config.RetrievalConfig) *Scorer {
	return &Scorer{
		weights: cfg.Weights,
		window:  cfg.RecencyWindowYears,
		floor:   cfg.RecencyFloor,
		now:     time.Now,
	}
}

// Score combines vector similarity, clinical match, recency decay and
// evidence level into one relevance value.
func (s *Scorer) Score(similarity float64, meta rag.ChunkMetadata, mctx rag.MedicalContext) float64 {
	return s.weights.Similarity*similarity +
		s.weights.Clinical*s.clinicalScore(meta, mctx) +
		s.weights.Recency*s.recencyScore(meta.LastReviewed) +
		s.weights.Evidence*evidenceScore(meta.EvidenceLevel)
}

// clinicalScore averages age, specialty and urgency match signals. Untagged
// chunk metadata scores neutral rather than zero so general-purpose passages
// are not buried.
func (s *Scorer) clinicalScore(meta rag.ChunkMetadata, mctx rag.MedicalContext) float64 {
	age := unknownSignalScore
	switch {
	case mctx.AgeGroup == "" || len(meta.AgeGroups) == 0:
	case containsString(meta.AgeGroups, mctx.AgeGroup):
		age = 1.0
	default:
		age = 0.0
	}

	specialty := unknownSignalScore
	switch {
	case len(mctx.Specialties) == 0 || len(meta.Specialties) == 0:
	case overlaps(meta.Specialties, mctx.Specialties):
		specialty = 1.0
	default:
		specialty = 0.0
	}

	urgency := unknownSignalScore
	if mctx.Urgency != "" && meta.Urgency != "" {
		if meta.Urgency == mctx.Urgency {
			urgency = 1.0
		} else {
			urgency = 0.25
		}
	}

	return (age + specialty + urgency) / 3.0
}

// recencyScore decays linearly over the configured window, never dropping
// below the floor. Chunks without a review date score the floor.
func (s *Scorer) recencyScore(lastReviewed time.Time) float64 {
	if lastReviewed.IsZero() {
		return s.floor
	}
	years := s.now().Sub(lastReviewed).Hours() / (24 * 365.25)
	score := 1.0 - years/s.window
	if score < s.floor {
		return s.floor
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

func evidenceScore(level string) float64 {
	if v, ok := evidenceScores[level]; ok {
		return v
	}
	return unknownSignalScore
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
