package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
	"github.com/clinicalkb/medrag/internal/rag/analyzer"
	"github.com/clinicalkb/medrag/internal/rag/cache"
)

type stubRetriever struct {
	result rag.RetrievalResult
	err    error
	calls  int
}

func (s *stubRetriever) Retrieve(ctx context.Context, queryText string, mctx rag.MedicalContext) (rag.RetrievalResult, error) {
	s.calls++
	if s.err != nil {
		return rag.RetrievalResult{}, s.err
	}
	return s.result, nil
}

func (s *stubRetriever) Ping(ctx context.Context) error { return nil }

type stubGenerator struct {
	response provider.GenerationResponse
	err      error
	calls    int
	lastReq  provider.GenerationRequest
}

func (s *stubGenerator) Generate(ctx context.Context, req provider.GenerationRequest) (provider.GenerationResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return provider.GenerationResponse{}, s.err
	}
	return s.response, nil
}

func (s *stubGenerator) Ping(ctx context.Context) error { return s.err }

func testConfig() *config.Config {
	return &config.Config{
		General:   config.GeneralConfig{MaxProcessingTime: 30 * time.Second},
		Validator: config.ValidatorConfig{}.Normalize(),
		Cache:     config.CacheConfig{}.Normalize(),
	}
}

// A long, well-formed clinical answer that passes the validation battery.
var goodAnswer = strings.Repeat("According to the Respiratory chapter, inhaled bronchodilators remain first-line. ", 5) +
	"Please consult a healthcare professional for individual advice."

func scoredChunk(id string, relevance float64) rag.ScoredChunk {
	return rag.ScoredChunk{
		Chunk: rag.DocumentChunk{
			ID:      id,
			Content: "passage " + id,
			Metadata: rag.ChunkMetadata{
				Chapter: "Respiratory", Section: "Asthma", Title: "Management",
				EvidenceLevel: rag.EvidenceHigh,
			},
		},
		Similarity: relevance,
		Relevance:  relevance,
	}
}

func newTestEngine(t *testing.T, opts Options, cfg *config.Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analyzer.New(config.KeywordTables{})
	}
	eng, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return eng
}

func TestSubmitHappyPathCarriesCitations(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{
		Strategy: rag.StrategyVectorRerank,
		Chunks:   []rag.ScoredChunk{scoredChunk("a", 0.9), scoredChunk("b", 0.85), scoredChunk("c", 0.7)},
	}}
	primary := &stubGenerator{response: provider.GenerationResponse{Text: goodAnswer, Confidence: 0.8, Model: "gpt-4o"}}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary}, nil)
	result, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "What is the treatment for pediatric asthma in a 5 year old child?"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if len(result.Sources) == 0 {
		t.Fatalf("expected at least one source citation")
	}
	if result.Answer != goodAnswer {
		t.Fatalf("answer does not match primary generation")
	}
	if result.Confidence < 0.1 || result.Confidence > 0.95 {
		t.Fatalf("confidence out of bounds: %f", result.Confidence)
	}
	if result.Strategy != rag.StrategyVectorRerank {
		t.Fatalf("strategy not carried: %q", result.Strategy)
	}
	if len(result.Steps) != 7 {
		t.Fatalf("expected 7 step diagnostics, got %d", len(result.Steps))
	}
	for _, st := range result.Steps {
		if !st.Success {
			t.Fatalf("step %s reported failure: %s", st.Step, st.Detail)
		}
	}
}

func TestSubmitRejectsOversizeQueryBeforeRetrieval(t *testing.T) {
	retriever := &stubRetriever{}
	primary := &stubGenerator{}
	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary}, nil)

	_, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: strings.Repeat("a", 6000)})

	var validationErr rag.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if !strings.Contains(validationErr.Reason, "exceeds maximum length") {
		t.Fatalf("unexpected reason: %q", validationErr.Reason)
	}
	if retriever.calls != 0 {
		t.Fatalf("retrieval ran despite rejected input")
	}
	if primary.calls != 0 {
		t.Fatalf("generation ran despite rejected input")
	}
}

func TestSubmitRejectsPHIPatterns(t *testing.T) {
	eng := newTestEngine(t, Options{Retriever: &stubRetriever{}, Primary: &stubGenerator{}}, nil)

	queries := []string{
		"my SSN is 123-45-6789, what should I take for a headache",
		"patient MRN: 1234567 has a persistent cough",
		"email me at someone@example.com about my rash",
	}
	for _, q := range queries {
		_, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: q})
		var validationErr rag.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("query %q: expected ValidationError, got %v", q, err)
		}
	}
}

func TestSubmitZeroChunksDegradesConfidence(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{Strategy: rag.StrategyVector}}
	primary := &stubGenerator{response: provider.GenerationResponse{Text: "The corpus does not cover this topic.", Confidence: 0.9}}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary}, nil)
	result, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "what is the treatment for an extremely rare condition"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if !strings.Contains(primary.lastReq.Context, "No relevant information found") {
		t.Fatalf("generation prompt missing no-information placeholder: %q", primary.lastReq.Context)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "insufficient sources") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected insufficient sources warning, got %v", result.Warnings)
	}
	if result.Confidence > 0.3 {
		t.Fatalf("confidence should be at most 0.3 with no sources, got %f", result.Confidence)
	}
	if len(result.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(result.Sources))
	}
}

func TestSubmitEnhancementFailureKeepsPrimaryAnswer(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{
		Strategy: rag.StrategyVector,
		Chunks:   []rag.ScoredChunk{scoredChunk("a", 0.9), scoredChunk("b", 0.8), scoredChunk("c", 0.75)},
	}}
	primary := &stubGenerator{response: provider.GenerationResponse{Text: goodAnswer, Confidence: 0.8}}
	enhancement := &stubGenerator{err: context.DeadlineExceeded}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary, Enhancement: enhancement}, nil)
	result, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "how is asthma managed in children"})
	if err != nil {
		t.Fatalf("enhancement failure must not fail the query: %v", err)
	}

	if result.Answer != goodAnswer {
		t.Fatalf("expected primary answer to survive, got %q", result.Answer)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "enhancement") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected enhancement warning, got %v", result.Warnings)
	}
	for _, st := range result.Steps {
		if st.Step == StepEnhanceResponse && st.Success {
			t.Fatalf("enhancement step should report failure in diagnostics")
		}
	}
}

func TestSubmitEnhancementSuccessReplacesAnswer(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{Chunks: []rag.ScoredChunk{scoredChunk("a", 0.9)}}}
	enhanced := goodAnswer + " Revised for clarity."
	primary := &stubGenerator{response: provider.GenerationResponse{Text: goodAnswer, Confidence: 0.8}}
	enhancement := &stubGenerator{response: provider.GenerationResponse{Text: enhanced}}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary, Enhancement: enhancement}, nil)
	result, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "how is asthma managed"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Answer != enhanced {
		t.Fatalf("expected enhanced answer, got %q", result.Answer)
	}
}

func TestSubmitPrimaryGenerationFailureIsFatal(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{Chunks: []rag.ScoredChunk{scoredChunk("a", 0.9)}}}
	primary := &stubGenerator{err: fmt.Errorf("upstream 500")}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary}, nil)
	_, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "how is asthma managed"})

	var generationErr rag.GenerationError
	if !errors.As(err, &generationErr) {
		t.Fatalf("expected GenerationError, got %T: %v", err, err)
	}
}

func TestSubmitSecondCallHitsCache(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{Chunks: []rag.ScoredChunk{scoredChunk("a", 0.9)}}}
	primary := &stubGenerator{response: provider.GenerationResponse{Text: goodAnswer, Confidence: 0.8}}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary, Cache: cache.NewMemory()}, nil)

	first, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "how is asthma managed in children?"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.CacheHit {
		t.Fatalf("first call must not be a cache hit")
	}

	second, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "how is asthma managed in children?"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("second identical call should hit the cache")
	}
	if retriever.calls != 1 || primary.calls != 1 {
		t.Fatalf("collaborators called again on cache hit: retriever=%d primary=%d", retriever.calls, primary.calls)
	}
	if second.Answer != first.Answer || second.Confidence != first.Confidence {
		t.Fatalf("cached result differs from original")
	}
}

func TestSubmitDifferentOverridesMissCache(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{Chunks: []rag.ScoredChunk{scoredChunk("a", 0.9)}}}
	primary := &stubGenerator{response: provider.GenerationResponse{Text: goodAnswer, Confidence: 0.8}}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary, Cache: cache.NewMemory()}, nil)

	if _, err := eng.Submit(context.Background(), rag.MedicalQuery{Text: "how is asthma managed?"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	result, err := eng.Submit(context.Background(), rag.MedicalQuery{
		Text:      "how is asthma managed?",
		Overrides: &rag.ContextOverrides{AgeGroup: "elderly"},
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if result.CacheHit {
		t.Fatalf("different overrides must not share a cache entry")
	}
	if primary.calls != 2 {
		t.Fatalf("expected a fresh generation, got %d calls", primary.calls)
	}
}

func TestSubmitDifferentHistoryMissesCache(t *testing.T) {
	retriever := &stubRetriever{result: rag.RetrievalResult{Chunks: []rag.ScoredChunk{scoredChunk("a", 0.9)}}}
	primary := &stubGenerator{response: provider.GenerationResponse{Text: goodAnswer, Confidence: 0.8}}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary, Cache: cache.NewMemory()}, nil)

	if _, err := eng.Submit(context.Background(), rag.MedicalQuery{
		Text:    "what should I watch for after starting this medication?",
		History: []rag.ChatMessage{{Role: "user", Content: "my child has asthma"}},
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	result, err := eng.Submit(context.Background(), rag.MedicalQuery{
		Text:    "what should I watch for after starting this medication?",
		History: []rag.ChatMessage{{Role: "user", Content: "my father is on warfarin after a stroke"}},
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if result.CacheHit {
		t.Fatalf("different conversation history must not share a cache entry")
	}
	if primary.calls != 2 {
		t.Fatalf("expected a fresh generation per conversation, got %d calls", primary.calls)
	}
}

func TestHealthReportsCollaboratorStates(t *testing.T) {
	retriever := &stubRetriever{}
	primary := &stubGenerator{}
	enhancement := &stubGenerator{err: fmt.Errorf("auth expired")}

	eng := newTestEngine(t, Options{Retriever: retriever, Primary: primary, Enhancement: enhancement}, nil)
	status := eng.Health(context.Background())

	if status.Embedding != rag.StatusHealthy {
		t.Fatalf("expected healthy embedding, got %q", status.Embedding)
	}
	if status.PrimaryGeneration != rag.StatusHealthy {
		t.Fatalf("expected healthy primary, got %q", status.PrimaryGeneration)
	}
	if status.SecondaryGeneration != rag.StatusUnavailable {
		t.Fatalf("expected unavailable secondary, got %q", status.SecondaryGeneration)
	}
	if status.Corpus != rag.StatusUnknown {
		t.Fatalf("expected unknown corpus without a store, got %q", status.Corpus)
	}
}
