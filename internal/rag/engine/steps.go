package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
)

const maxQueryLength = 4000

// Patterns that suggest protected health information in the query. Queries
// matching any of these are rejected outright rather than redacted, so PHI
// never reaches a provider or the cache.
var phiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                             // SSN
	regexp.MustCompile(`(?i)\bmrn[:#\s]*\d{5,}\b`),                          // medical record number
	regexp.MustCompile(`\b\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),             // phone
	regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`),                       // email
	regexp.MustCompile(`(?i)\b(dob|date of birth)[:\s]+\d{1,4}[-/]\d{1,2}`), // date of birth
}

func (e *Engine) steps() []Step {
	return []Step{
		{Name: StepValidateInput, Run: e.validateInput},
		{Name: StepAnalyzeContext, Run: e.analyzeContext},
		{Name: StepRetrieveDocuments, Run: e.retrieveDocuments},
		{Name: StepGeneratePrimary, Run: e.generatePrimary},
		{Name: StepEnhanceResponse, NonFatal: true, Run: e.enhanceResponse},
		{Name: StepValidateClinical, Run: e.validateClinical},
		{Name: StepFinalizeQuality, Run: e.finalizeQuality},
	}
}

func (e *Engine) validateInput(ctx context.Context, state *WorkflowState) StepResult {
	text := strings.TrimSpace(state.Query.Text)
	if text == "" {
		return StepResult{Err: rag.ValidationError{Reason: "query is empty"}}
	}
	if n := utf8.RuneCountInString(text); n > maxQueryLength {
		return StepResult{Err: rag.ValidationError{Reason: fmt.Sprintf("query exceeds maximum length (%d > %d characters)", n, maxQueryLength)}}
	}
	for _, p := range phiPatterns {
		if p.MatchString(text) {
			return StepResult{Err: rag.ValidationError{Reason: "query appears to contain protected health information"}}
		}
	}
	return StepResult{Detail: fmt.Sprintf("%d characters", len(text))}
}

func (e *Engine) analyzeContext(ctx context.Context, state *WorkflowState) StepResult {
	mctx := e.analyzer.Analyze(state.Query.Text, state.Query.Overrides)
	return StepResult{
		Context: &mctx,
		Detail:  fmt.Sprintf("type=%s urgency=%s setting=%s", mctx.QueryType, mctx.Urgency, mctx.ClinicalSetting),
	}
}

func (e *Engine) retrieveDocuments(ctx context.Context, state *WorkflowState) StepResult {
	result, err := e.retriever.Retrieve(ctx, state.Query.Text, state.Context)
	if err != nil {
		return StepResult{Err: err}
	}
	res := StepResult{
		Retrieval: &result,
		Detail:    fmt.Sprintf("%d chunks via %s", len(result.Chunks), result.Strategy),
	}
	if len(result.Chunks) == 0 {
		res.Warnings = append(res.Warnings, "insufficient sources: no corpus passages cleared the similarity threshold")
	}
	return res
}

func (e *Engine) generatePrimary(ctx context.Context, state *WorkflowState) StepResult {
	blob := e.contexts.Build(state.Retrieval, state.Context)
	resp, err := e.primary.Generate(ctx, provider.GenerationRequest{
		SystemPrompt: buildSystemPrompt(state.Context),
		Context:      buildUserPrompt(blob, state.Query.Text),
		History:      state.Query.History,
	})
	if err != nil {
		return StepResult{ContextBlob: &blob, Err: rag.GenerationError{Err: err}}
	}
	return StepResult{
		ContextBlob: &blob,
		Generation: &GenerationOutcome{
			Answer:     resp.Text,
			Confidence: resp.Confidence,
			Model:      resp.Model,
			Usage:      resp.Usage,
		},
		Detail: fmt.Sprintf("model=%s tokens=%d", resp.Model, resp.Usage.CompletionTokens),
	}
}

func (e *Engine) enhanceResponse(ctx context.Context, state *WorkflowState) StepResult {
	if e.enhancement == nil {
		return StepResult{Detail: "no enhancement collaborator configured"}
	}
	resp, err := e.enhancement.Generate(ctx, provider.GenerationRequest{
		SystemPrompt: enhancementSystemPrompt,
		Context:      buildEnhancementPrompt(state.PrimaryAnswer, state.Context),
	})
	if err != nil {
		return StepResult{Err: rag.EnhancementError{Err: err}}
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return StepResult{Err: rag.EnhancementError{Err: fmt.Errorf("empty enhancement response")}}
	}
	return StepResult{Enhanced: &text, Detail: fmt.Sprintf("model=%s", resp.Model)}
}

func (e *Engine) validateClinical(ctx context.Context, state *WorkflowState) StepResult {
	report := e.validator.Validate(state.Answer(), state.Context)
	return StepResult{
		Validation: &report,
		Warnings:   report.Warnings,
		Detail:     fmt.Sprintf("passed=%t checks=%d", report.Passed, len(report.Checks)),
	}
}

func (e *Engine) finalizeQuality(ctx context.Context, state *WorkflowState) StepResult {
	sources := make([]rag.SourceCitation, 0, len(state.Retrieval.Chunks))
	for _, sc := range state.Retrieval.Chunks {
		sources = append(sources, rag.SourceCitation{
			ChunkID:       sc.Chunk.ID,
			Chapter:       sc.Chunk.Metadata.Chapter,
			Section:       sc.Chunk.Metadata.Section,
			Title:         sc.Chunk.Metadata.Title,
			EvidenceLevel: sc.Chunk.Metadata.EvidenceLevel,
			Relevance:     sc.Relevance,
		})
	}
	confidence := e.scorer.Score(state.PrimaryConfidence, state.Retrieval.AverageRelevance(), state.Validation, len(state.Retrieval.Chunks))
	return StepResult{
		Final:  &FinalOutcome{Confidence: confidence, Sources: sources},
		Detail: fmt.Sprintf("confidence=%.2f sources=%d", confidence, len(sources)),
	}
}

const enhancementSystemPrompt = `You are a medical communication editor. Improve the clarity, structure and readability of the draft answer without adding, removing or altering any clinical facts, dosages or citations. Keep every source attribution intact.`

func buildSystemPrompt(mctx rag.MedicalContext) string {
	var b strings.Builder
	b.WriteString("You are a careful medical information assistant answering from a curated reference corpus.\n")
	b.WriteString("Ground every clinical statement in the provided references and attribute it, for example: according to <chapter>, <section>.\n")
	b.WriteString("If the references do not cover the question, say so plainly instead of speculating.\n")
	fmt.Fprintf(&b, "Audience: %s setting", mctx.ClinicalSetting)
	if mctx.AgeGroup != "" {
		fmt.Fprintf(&b, ", %s patient population", mctx.AgeGroup)
	}
	b.WriteString(".\n")
	switch mctx.Urgency {
	case rag.UrgencyCritical:
		b.WriteString("This query is critical urgency: lead with emergency escalation guidance (call emergency services) before any other content.\n")
	case rag.UrgencyHigh:
		b.WriteString("This query is high urgency: state clearly when in-person evaluation is warranted.\n")
	}
	if mctx.ClinicalSetting != rag.SettingSpecialty {
		b.WriteString("Close with a reminder to consult a healthcare professional for individual advice.\n")
	}
	if mctx.QueryType == rag.QueryTypeTreatment {
		b.WriteString("When dosing appears in the references, advise verifying against current prescribing information.\n")
	}
	return b.String()
}

func buildUserPrompt(contextBlob, question string) string {
	return fmt.Sprintf("REFERENCE MATERIAL:\n%s\n\nQUESTION:\n%s", contextBlob, question)
}

func buildEnhancementPrompt(draft string, mctx rag.MedicalContext) string {
	return fmt.Sprintf("Intended audience: %s setting.\n\nDRAFT ANSWER:\n%s", mctx.ClinicalSetting, draft)
}
