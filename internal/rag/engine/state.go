package engine

import (
	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
)

// WorkflowState is the typed accumulator threaded through the pipeline.
// Each step reads the fields earlier steps produced and contributes its own
// through a StepResult merge, so the data flow between steps is visible in
// the type rather than hidden in a generic bag.
type WorkflowState struct {
	Query       rag.MedicalQuery
	Context     rag.MedicalContext
	Retrieval   rag.RetrievalResult
	ContextBlob string

	PrimaryAnswer     string
	PrimaryConfidence float64
	PrimaryModel      string
	Usage             provider.Usage

	EnhancedAnswer string

	Validation rag.ValidationReport
	Confidence float64
	Sources    []rag.SourceCitation

	Warnings []string
	Steps    []rag.StepDiagnostic
}

// Answer returns the enhanced text when the enhancement pass succeeded,
// otherwise the primary generation.
func (s *WorkflowState) Answer() string {
	if s.EnhancedAnswer != "" {
		return s.EnhancedAnswer
	}
	return s.PrimaryAnswer
}

// GenerationOutcome carries the primary generation payload into the state.
type GenerationOutcome struct {
	Answer     string
	Confidence float64
	Model      string
	Usage      provider.Usage
}

// FinalOutcome carries the quality-finalization payload into the state.
type FinalOutcome struct {
	Confidence float64
	Sources    []rag.SourceCitation
}

// StepResult is the tagged union a step returns. Exactly the fields the step
// sets are merged into the state; Err marks the step failed and, unless the
// step is non-fatal, aborts the pipeline.
type StepResult struct {
	Context     *rag.MedicalContext
	Retrieval   *rag.RetrievalResult
	ContextBlob *string
	Generation  *GenerationOutcome
	Enhanced    *string
	Validation  *rag.ValidationReport
	Final       *FinalOutcome

	Warnings []string
	Detail   string
	Err      error
}

func (s *WorkflowState) merge(res StepResult) {
	if res.Context != nil {
		s.Context = *res.Context
	}
	if res.Retrieval != nil {
		s.Retrieval = *res.Retrieval
	}
	if res.ContextBlob != nil {
		s.ContextBlob = *res.ContextBlob
	}
	if res.Generation != nil {
		s.PrimaryAnswer = res.Generation.Answer
		s.PrimaryConfidence = res.Generation.Confidence
		s.PrimaryModel = res.Generation.Model
		s.Usage = res.Generation.Usage
	}
	if res.Enhanced != nil {
		s.EnhancedAnswer = *res.Enhanced
	}
	if res.Validation != nil {
		s.Validation = *res.Validation
	}
	if res.Final != nil {
		s.Confidence = res.Final.Confidence
		s.Sources = res.Final.Sources
	}
	s.Warnings = append(s.Warnings, res.Warnings...)
}
