package corpus

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/clinicalkb/medrag/internal/rag"
)

// Memory is a mutex-guarded in-memory corpus store with brute-force vector
// ordering and an optional bleve keyword index for hybrid recall. It backs
// tests and corpus-less development setups.
type Memory struct {
	mu     sync.RWMutex
	chunks map[string]rag.DocumentChunk
	index  bleve.Index
}

type indexedChunk struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Chapter string `json:"chapter"`
	Section string `json:"section"`
}

// NewMemory creates an empty in-memory store. When keyword is true a
// mem-only bleve index backs text recall alongside the vector scan.
func NewMemory(keyword bool) (*Memory, error) {
	m := &Memory{chunks: make(map[string]rag.DocumentChunk)}
	if keyword {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		m.index = idx
	}
	return m, nil
}

// Add loads chunks into the store.
func (m *Memory) Add(chunks ...rag.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
		if m.index != nil {
			doc := indexedChunk{
				Content: c.Content,
				Title:   c.Metadata.Title,
				Chapter: c.Metadata.Chapter,
				Section: c.Metadata.Section,
			}
			if err := m.index.Index(c.ID, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// KeywordEnabled reports whether the bleve index contributes to recall.
func (m *Memory) KeywordEnabled() bool {
	return m.index != nil
}

// Search returns candidates ordered by vector closeness with hard filters
// applied. Keyword hits are appended so passages the embedding missed can
// still reach the scoring stage.
func (m *Memory) Search(ctx context.Context, q Query) ([]rag.DocumentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 16
	}

	type scored struct {
		chunk rag.DocumentChunk
		score float64
	}
	var candidates []scored
	for _, c := range m.chunks {
		if !MatchesFilters(c.Metadata, q.Filters) {
			continue
		}
		candidates = append(candidates, scored{chunk: c, score: CosineSimilarity(q.Vector, c.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].chunk.ID < candidates[j].chunk.ID
		}
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]rag.DocumentChunk, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, s := range candidates {
		out = append(out, s.chunk)
		seen[s.chunk.ID] = struct{}{}
	}

	if m.index != nil && q.Text != "" {
		hits, err := m.keywordHits(q.Text, limit)
		if err != nil {
			return nil, err
		}
		for _, id := range hits {
			if _, ok := seen[id]; ok {
				continue
			}
			c, ok := m.chunks[id]
			if !ok || !MatchesFilters(c.Metadata, q.Filters) {
				continue
			}
			out = append(out, c)
			seen[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *Memory) keywordHits(text string, limit int) ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(text))
	req.Size = limit
	res, err := m.index.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// Ping always succeeds for the in-memory store.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or empty vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
