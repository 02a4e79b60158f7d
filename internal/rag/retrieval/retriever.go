// Package retrieval ranks corpus chunks against a query using vector
// similarity, clinical-context filtering and weighted re-ranking.
package retrieval

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/corpus"
	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
	"github.com/clinicalkb/medrag/internal/rag/cache"
)

const retrievalKeySuffix = ":retrieval"

// keywordSearcher is implemented by stores whose recall includes a keyword
// index alongside the vector scan.
type keywordSearcher interface {
	KeywordEnabled() bool
}

// Retriever fetches, filters and ranks document chunks for a query.
type Retriever struct {
	embedder provider.Embedder
	store    corpus.Store
	scorer   *Scorer
	cfg      config.RetrievalConfig
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *log.Logger
}

// NewRetriever wires a retriever. The cache is optional; pass nil to disable
// retrieval-level memoization.
func NewRetriever(embedder provider.Embedder, store corpus.Store, cfg config.RetrievalConfig, c cache.Cache, cacheTTL time.Duration, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		scorer:   NewScorer(cfg),
		cfg:      cfg,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Retrieve runs the full retrieval algorithm: embed, oversampled filtered
// candidate fetch, similarity threshold, weighted scoring, optional rerank,
// truncate. The result is always sorted descending by relevance with no
// duplicate chunk ids.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, mctx rag.MedicalContext) (rag.RetrievalResult, error) {
	key := cache.Key(queryText, mctx) + retrievalKeySuffix
	if r.cache != nil {
		if raw, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			var cached rag.RetrievalResult
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	vectors, err := r.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return rag.RetrievalResult{}, rag.RetrievalError{Stage: "embedding", Err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return rag.RetrievalResult{}, rag.RetrievalError{Stage: "embedding", Err: errNoVector}
	}
	queryVec := vectors[0]

	candidates, err := r.store.Search(ctx, corpus.Query{
		Vector: queryVec,
		Text:   queryText,
		Filters: corpus.Filters{
			Specialties: mctx.Specialties,
			AgeGroup:    mctx.AgeGroup,
			Urgency:     mctx.Urgency,
		},
		Limit: r.cfg.Limit * r.cfg.OversampleFactor,
	})
	if err != nil {
		return rag.RetrievalResult{}, rag.RetrievalError{Stage: "corpus", Err: err}
	}

	scored := make([]rag.ScoredChunk, 0, len(candidates))
	for _, chunk := range candidates {
		sim := corpus.CosineSimilarity(queryVec, chunk.Embedding)
		if sim < r.cfg.SimilarityThreshold {
			continue
		}
		scored = append(scored, rag.ScoredChunk{
			Chunk:      chunk,
			Similarity: sim,
			Relevance:  r.scorer.Score(sim, chunk.Metadata, mctx),
		})
	}

	result := rag.RetrievalResult{Strategy: r.strategy(), Chunks: scored}
	result.SortAndDedup()

	if r.cfg.Rerank && len(result.Chunks) > 0 {
		// second pass over the trimmed candidate set only; the formula is
		// shared but this is where a costlier contextual scorer would slot in
		trim := r.cfg.Limit * 2
		if len(result.Chunks) > trim {
			result.Chunks = result.Chunks[:trim]
		}
		for i := range result.Chunks {
			sc := &result.Chunks[i]
			sc.Relevance = r.scorer.Score(sc.Similarity, sc.Chunk.Metadata, mctx)
		}
		result.SortAndDedup()
	}

	if len(result.Chunks) > r.cfg.Limit {
		result.Chunks = result.Chunks[:r.cfg.Limit]
	}

	// embeddings are dead weight past this point
	for i := range result.Chunks {
		result.Chunks[i].Chunk.Embedding = nil
	}

	if r.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			if err := r.cache.Set(ctx, key, raw, r.cacheTTL); err != nil {
				r.logger.Printf("retrieval cache write failed: %v", err)
			}
		}
	}
	return result, nil
}

func (r *Retriever) strategy() string {
	if ks, ok := r.store.(keywordSearcher); ok && ks.KeywordEnabled() {
		return rag.StrategyHybrid
	}
	if r.cfg.Rerank {
		return rag.StrategyVectorRerank
	}
	return rag.StrategyVector
}

// Ping verifies the embedding collaborator is reachable.
func (r *Retriever) Ping(ctx context.Context) error {
	return r.embedder.Ping(ctx)
}

var errNoVector = provider.Error{Kind: provider.ErrKindInvalid, Message: "embedding provider returned no vectors"}
