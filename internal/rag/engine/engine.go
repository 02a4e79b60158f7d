// Package engine orchestrates the query workflow: validation, medical
// analysis, retrieval, generation, enhancement, clinical validation and
// quality finalization, executed as a construction-validated linear pipeline.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/corpus"
	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
	"github.com/clinicalkb/medrag/internal/rag/analyzer"
	"github.com/clinicalkb/medrag/internal/rag/cache"
)

// DocumentRetriever is the retrieval collaborator surface the engine needs.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, queryText string, mctx rag.MedicalContext) (rag.RetrievalResult, error)
	Ping(ctx context.Context) error
}

// Recorder receives pipeline telemetry events. Implementations must be cheap
// and must never fail the request.
type Recorder interface {
	RecordQuery(result rag.QueryResult, usage provider.Usage, model string)
	RecordStep(step string, durationMs int64, success bool)
	RecordCacheHit()
	RecordFailure()
}

// Engine wires the collaborators together and answers queries. Safe for
// concurrent use.
type Engine struct {
	analyzer    *analyzer.Analyzer
	retriever   DocumentRetriever
	primary     provider.Generator
	enhancement provider.Generator
	validator   *ClinicalValidator
	contexts    ContextBuilder
	scorer      ConfidenceScorer

	store    corpus.Store
	cache    cache.Cache
	cacheTTL time.Duration
	maxTime  time.Duration

	pipeline *Pipeline
	recorder Recorder
	logger   *log.Logger
}

// Options carries the engine's collaborators. Enhancement, cache and recorder
// are optional; everything else is required.
type Options struct {
	Analyzer    *analyzer.Analyzer
	Retriever   DocumentRetriever
	Primary     provider.Generator
	Enhancement provider.Generator
	Store       corpus.Store
	Cache       cache.Cache
	Recorder    Recorder
	Logger      *log.Logger
}

// New builds an engine from configuration and collaborators. The step
// sequence is validated here; a broken sequence is a startup failure, not a
// per-request one.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	e := &Engine{
		analyzer:    opts.Analyzer,
		retriever:   opts.Retriever,
		primary:     opts.Primary,
		enhancement: opts.Enhancement,
		validator:   NewClinicalValidator(cfg.Validator.MinAnswerLength, cfg.Validator.WarningThreshold),
		store:       opts.Store,
		cache:       opts.Cache,
		cacheTTL:    cfg.Cache.ResultTTL,
		maxTime:     cfg.General.MaxProcessingTime,
		recorder:    opts.Recorder,
		logger:      logger,
	}
	if e.maxTime <= 0 {
		e.maxTime = 60 * time.Second
	}
	p, err := NewPipeline(e.steps(), logger)
	if err != nil {
		return nil, err
	}
	e.pipeline = p
	return e, nil
}

// Submit answers one query. Identical queries within the result TTL are
// served from cache with CacheHit set; cached entries are only written for
// successful runs. Fatal step errors are returned typed so the transport
// layer can map them.
func (e *Engine) Submit(ctx context.Context, query rag.MedicalQuery) (rag.QueryResult, error) {
	started := time.Now()
	if query.ID == "" {
		query.ID = uuid.NewString()
	}
	if query.ReceivedAt.IsZero() {
		query.ReceivedAt = started
	}

	key := resultCacheKey(query)
	if cached, ok := e.cacheLookup(ctx, key); ok {
		cached.CacheHit = true
		cached.ProcessingTimeMs = time.Since(started).Milliseconds()
		if e.recorder != nil {
			e.recorder.RecordCacheHit()
		}
		e.logger.Printf("query %s served from cache", query.ID)
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.maxTime)
	defer cancel()

	state := &WorkflowState{Query: query}
	if err := e.pipeline.Execute(ctx, state); err != nil {
		e.recordSteps(state.Steps)
		if e.recorder != nil {
			e.recorder.RecordFailure()
		}
		return rag.QueryResult{}, err
	}

	result := rag.QueryResult{
		ID:               query.ID,
		Answer:           state.Answer(),
		Sources:          state.Sources,
		Confidence:       state.Confidence,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Steps:            state.Steps,
		Warnings:         state.Warnings,
		Validation:       state.Validation,
		Strategy:         state.Retrieval.Strategy,
		CreatedAt:        started,
	}

	e.cacheStore(ctx, key, result)
	e.recordSteps(state.Steps)
	if e.recorder != nil {
		e.recorder.RecordQuery(result, state.Usage, state.PrimaryModel)
	}
	e.logger.Printf("query %s answered in %dms (confidence %.2f, %d sources, %d warnings)",
		query.ID, result.ProcessingTimeMs, result.Confidence, len(result.Sources), len(result.Warnings))
	return result, nil
}

// resultCacheKey covers every query field that can change the answer.
// History feeds the generation prompt, so two conversations with the same
// question but different histories must not share an entry.
func resultCacheKey(q rag.MedicalQuery) string {
	scope := struct {
		Overrides *rag.ContextOverrides `json:"overrides,omitempty"`
		History   []rag.ChatMessage     `json:"history,omitempty"`
	}{q.Overrides, q.History}
	return cache.Key(q.Text, scope) + ":result"
}

// Health pings each external collaborator with a short deadline.
func (e *Engine) Health(ctx context.Context) rag.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := rag.HealthStatus{
		Embedding:           pingStatus(ctx, e.retriever.Ping),
		PrimaryGeneration:   pingStatus(ctx, e.primary.Ping),
		SecondaryGeneration: rag.StatusUnknown,
		Corpus:              rag.StatusUnknown,
	}
	if e.store != nil {
		status.Corpus = pingStatus(ctx, e.store.Ping)
	}
	if e.enhancement != nil {
		status.SecondaryGeneration = pingStatus(ctx, e.enhancement.Ping)
	}
	return status
}

// ClearCache drops all cached results.
func (e *Engine) ClearCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Clear(ctx)
}

func (e *Engine) cacheLookup(ctx context.Context, key string) (rag.QueryResult, bool) {
	if e.cache == nil {
		return rag.QueryResult{}, false
	}
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Printf("result cache read failed: %v", err)
		return rag.QueryResult{}, false
	}
	if !ok {
		return rag.QueryResult{}, false
	}
	var result rag.QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		e.logger.Printf("result cache entry corrupt, ignoring: %v", err)
		return rag.QueryResult{}, false
	}
	return result, true
}

func (e *Engine) cacheStore(ctx context.Context, key string, result rag.QueryResult) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		e.logger.Printf("result cache encode failed: %v", err)
		return
	}
	if err := e.cache.Set(ctx, key, raw, e.cacheTTL); err != nil {
		e.logger.Printf("result cache write failed: %v", err)
	}
}

func (e *Engine) recordSteps(steps []rag.StepDiagnostic) {
	if e.recorder == nil {
		return
	}
	for _, st := range steps {
		e.recorder.RecordStep(st.Step, st.DurationMs, st.Success)
	}
}

func pingStatus(ctx context.Context, ping func(context.Context) error) string {
	if err := ping(ctx); err != nil {
		return rag.StatusUnavailable
	}
	return rag.StatusHealthy
}
