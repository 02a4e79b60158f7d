package engine

import (
	"fmt"
	"strings"

	"github.com/clinicalkb/medrag/internal/rag"
)

// Chunks above this relevance lead the context blob; everything else that
// cleared the similarity threshold goes to the supporting tier.
const primaryTierThreshold = 0.8

// ContextBuilder turns ranked chunks into a tiered, provenance-annotated
// context blob for the generation collaborator. Pure function of its inputs.
type ContextBuilder struct{}

// Build groups chunks into primary and supporting tiers, prefixing each with
// a provenance header so the model can weight and cite accordingly. An empty
// retrieval yields an explicit no-information placeholder, never "".
func (ContextBuilder) Build(result rag.RetrievalResult, mctx rag.MedicalContext) string {
	if len(result.Chunks) == 0 {
		return fmt.Sprintf("No relevant information found for this %s query in the reference corpus.", mctx.QueryType)
	}

	var primary, supporting []rag.ScoredChunk
	for _, sc := range result.Chunks {
		if sc.Relevance > primaryTierThreshold {
			primary = append(primary, sc)
		} else {
			supporting = append(supporting, sc)
		}
	}

	var b strings.Builder
	if len(primary) > 0 {
		b.WriteString("PRIMARY REFERENCES (high relevance):\n\n")
		writeTier(&b, primary)
	}
	if len(supporting) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("SUPPORTING REFERENCES:\n\n")
		writeTier(&b, supporting)
	}
	return b.String()
}

func writeTier(b *strings.Builder, chunks []rag.ScoredChunk) {
	for _, sc := range chunks {
		meta := sc.Chunk.Metadata
		fmt.Fprintf(b, "[%s > %s: %s | evidence: %s | relevance: %.2f]\n%s\n\n",
			meta.Chapter, meta.Section, meta.Title, orUnknown(meta.EvidenceLevel), sc.Relevance, strings.TrimSpace(sc.Chunk.Content))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unrated"
	}
	return s
}
