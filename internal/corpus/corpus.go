// Package corpus provides read access to the reference document corpus.
// Chunks are authored and embedded by an external ingestion process; the
// store only filters and returns them.
package corpus

import (
	"context"

	"github.com/clinicalkb/medrag/internal/rag"
)

// Filters are hard metadata constraints derived from the medical context.
// A chunk failing any populated filter is excluded, not merely deprioritized.
type Filters struct {
	Specialties []string
	AgeGroup    string
	Urgency     string
}

// Query is one candidate lookup. Vector drives nearest-neighbour ordering;
// Text feeds keyword recall in stores that support it.
type Query struct {
	Vector  []float32
	Text    string
	Filters Filters
	Limit   int
}

// Store is the corpus lookup contract. Returned chunks carry the metadata
// needed for scoring; similarity computation may happen on either side.
type Store interface {
	Search(ctx context.Context, q Query) ([]rag.DocumentChunk, error)
	Ping(ctx context.Context) error
}

var urgencyRank = map[string]int{
	rag.UrgencyLow:      0,
	rag.UrgencyMedium:   1,
	rag.UrgencyHigh:     2,
	rag.UrgencyCritical: 3,
}

// MatchesFilters reports whether a chunk survives the hard exclusion
// filters. Untagged chunk fields never exclude.
func MatchesFilters(meta rag.ChunkMetadata, f Filters) bool {
	if len(f.Specialties) > 0 && len(meta.Specialties) > 0 && !overlaps(meta.Specialties, f.Specialties) {
		return false
	}
	if f.AgeGroup != "" && len(meta.AgeGroups) > 0 && !contains(meta.AgeGroups, f.AgeGroup) {
		return false
	}
	if f.Urgency != "" && meta.Urgency != "" {
		qr, qok := urgencyRank[f.Urgency]
		cr, cok := urgencyRank[meta.Urgency]
		// a chunk more than one urgency tier away targets a different
		// acuity of care and is excluded
		if qok && cok && abs(qr-cr) > 1 {
			return false
		}
	}
	return true
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

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
