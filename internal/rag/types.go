package rag

import (
	"sort"
	"time"
)

// Urgency levels, ordered from least to most pressing.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Query types derived from the question wording.
const (
	QueryTypeDiagnosis   = "diagnosis"
	QueryTypeTreatment   = "treatment"
	QueryTypeInformation = "information"
	QueryTypeEmergency   = "emergency"
	QueryTypeEducation   = "education"
)

// Clinical settings the answer is adapted for.
const (
	SettingGeneral   = "general"
	SettingEmergency = "emergency"
	SettingSpecialty = "specialty"
)

// Evidence levels carried on corpus chunks.
const (
	EvidenceHigh          = "high"
	EvidenceMedium        = "medium"
	EvidenceLow           = "low"
	EvidenceExpertOpinion = "expert_opinion"
)

// MedicalQuery represents one user question. Created per request; immutable.
type MedicalQuery struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Overrides  *ContextOverrides `json:"overrides,omitempty"`
	History    []ChatMessage     `json:"history,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// ContextOverrides are caller-supplied values that always win over inference.
type ContextOverrides struct {
	AgeGroup        string   `json:"age_group,omitempty"`
	Urgency         string   `json:"urgency,omitempty"`
	ClinicalSetting string   `json:"clinical_setting,omitempty"`
	Specialties     []string `json:"specialties,omitempty"`
}

// ChatMessage is one turn of prior conversation passed through to generation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MedicalContext is the structured context derived from a query.
// Computed once per request; override fields take precedence over inference.
type MedicalContext struct {
	AgeGroup           string   `json:"age_group,omitempty"`
	Urgency            string   `json:"urgency"`
	Specialties        []string `json:"specialties,omitempty"`
	ClinicalSetting    string   `json:"clinical_setting"`
	QueryType          string   `json:"query_type"`
	EvidencePreference string   `json:"evidence_preference,omitempty"`
}

// ChunkMetadata carries the corpus metadata used for filtering and scoring.
type ChunkMetadata struct {
	Chapter       string    `json:"chapter"`
	Section       string    `json:"section"`
	Title         string    `json:"title"`
	Specialties   []string  `json:"specialties,omitempty"`
	AgeGroups     []string  `json:"age_groups,omitempty"`
	Urgency       string    `json:"urgency,omitempty"`
	EvidenceLevel string    `json:"evidence_level,omitempty"`
	LastReviewed  time.Time `json:"last_reviewed,omitempty"`
	ChunkIndex    int       `json:"chunk_index"`
	ChunkTotal    int       `json:"chunk_total"`
}

// DocumentChunk is a retrievable unit of the reference corpus.
// Produced by an external ingestion process; read-only here.
type DocumentChunk struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ScoredChunk pairs a chunk with its similarity and final relevance score.
type ScoredChunk struct {
	Chunk      DocumentChunk `json:"chunk"`
	Similarity float64       `json:"similarity"`
	Relevance  float64       `json:"relevance"`
}

// Retrieval strategies tagged on results.
const (
	StrategyVector       = "vector"
	StrategyVectorRerank = "vector+rerank"
	StrategyHybrid       = "hybrid"
)

// RetrievalResult is an ordered, deduplicated set of scored chunks.
type RetrievalResult struct {
	Strategy string        `json:"strategy"`
	Chunks   []ScoredChunk `json:"chunks"`
}

// SortAndDedup enforces the result invariants: no duplicate chunk ids and
// descending relevance order. First occurrence wins on duplicates.
func (r *RetrievalResult) SortAndDedup() {
	seen := make(map[string]struct{}, len(r.Chunks))
	out := r.Chunks[:0]
	for _, sc := range r.Chunks {
		if _, ok := seen[sc.Chunk.ID]; ok {
			continue
		}
		seen[sc.Chunk.ID] = struct{}{}
		out = append(out, sc)
	}
	r.Chunks = out
	sort.SliceStable(r.Chunks, func(i, j int) bool {
		return r.Chunks[i].Relevance > r.Chunks[j].Relevance
	})
}

// AverageRelevance returns the mean relevance across chunks, 0 when empty.
func (r RetrievalResult) AverageRelevance() float64 {
	if len(r.Chunks) == 0 {
		return 0
	}
	var sum float64
	for _, sc := range r.Chunks {
		sum += sc.Relevance
	}
	return sum / float64(len(r.Chunks))
}

// SourceCitation identifies a corpus passage the answer drew from.
type SourceCitation struct {
	ChunkID       string  `json:"chunk_id"`
	Chapter       string  `json:"chapter"`
	Section       string  `json:"section"`
	Title         string  `json:"title"`
	EvidenceLevel string  `json:"evidence_level,omitempty"`
	Relevance     float64 `json:"relevance"`
}

// ValidationReport is the clinical validator's outcome.
type ValidationReport struct {
	Passed   bool            `json:"passed"`
	Checks   map[string]bool `json:"checks,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// StepDiagnostic records timing and outcome for one pipeline step.
type StepDiagnostic struct {
	Step       string `json:"step"`
	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Detail     string `json:"detail,omitempty"`
}

// QueryResult is the final answer returned to the caller.
type QueryResult struct {
	ID               string           `json:"id"`
	Answer           string           `json:"answer"`
	Sources          []SourceCitation `json:"sources"`
	Confidence       float64          `json:"confidence"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Steps            []StepDiagnostic `json:"steps,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
	Validation       ValidationReport `json:"validation"`
	Strategy         string           `json:"strategy,omitempty"`
	CacheHit         bool             `json:"cache_hit"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Collaborator health states.
const (
	StatusHealthy     = "healthy"
	StatusUnavailable = "unavailable"
	StatusUnknown     = "unknown"
)

// HealthStatus reports reachability of each external collaborator.
type HealthStatus struct {
	Embedding           string `json:"embedding"`
	Corpus              string `json:"corpus"`
	PrimaryGeneration   string `json:"primary_generation"`
	SecondaryGeneration string `json:"secondary_generation"`
}
