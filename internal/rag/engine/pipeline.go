package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/clinicalkb/medrag/internal/rag"
)

// Canonical step names, in execution order.
const (
	StepValidateInput     = "validate_input"
	StepAnalyzeContext    = "analyze_context"
	StepRetrieveDocuments = "retrieve_documents"
	StepGeneratePrimary   = "generate_primary"
	StepEnhanceResponse   = "enhance_response"
	StepValidateClinical  = "validate_clinical"
	StepFinalizeQuality   = "finalize_quality"
)

// Step is one unit of the workflow. NonFatal steps degrade gracefully: their
// error becomes a warning and execution continues.
type Step struct {
	Name     string
	NonFatal bool
	Run      func(ctx context.Context, state *WorkflowState) StepResult
}

// Pipeline executes a fixed linear sequence of steps over a WorkflowState.
// The sequence is validated once at construction; Execute only has to guard
// against the impossible.
type Pipeline struct {
	steps  []Step
	logger *log.Logger
}

// NewPipeline validates the step sequence. Empty sequences, unnamed steps and
// duplicate names are rejected with PipelineConfigError.
func NewPipeline(steps []Step, logger *log.Logger) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, rag.PipelineConfigError{Reason: "no steps configured"}
	}
	seen := map[string]struct{}{}
	for i, st := range steps {
		if st.Name == "" {
			return nil, rag.PipelineConfigError{Reason: fmt.Sprintf("step %d has no name", i)}
		}
		if st.Run == nil {
			return nil, rag.PipelineConfigError{Reason: fmt.Sprintf("step %q has no run function", st.Name)}
		}
		if _, dup := seen[st.Name]; dup {
			return nil, rag.PipelineConfigError{Reason: fmt.Sprintf("step %q appears twice", st.Name)}
		}
		seen[st.Name] = struct{}{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return &Pipeline{steps: steps, logger: logger}, nil
}

// Execute runs every step in order, recording a StepDiagnostic per step with
// wall-clock duration. A fatal step error aborts the run and is returned;
// non-fatal errors are demoted to warnings. Context cancellation between
// steps aborts with ctx.Err().
func (p *Pipeline) Execute(ctx context.Context, state *WorkflowState) error {
	visited := map[string]struct{}{}
	for _, st := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, again := visited[st.Name]; again {
			return rag.CycleError{Step: st.Name}
		}
		visited[st.Name] = struct{}{}

		started := time.Now()
		res := st.Run(ctx, state)
		diag := rag.StepDiagnostic{
			Step:       st.Name,
			DurationMs: time.Since(started).Milliseconds(),
			Success:    res.Err == nil,
			Detail:     res.Detail,
		}

		if res.Err != nil {
			if !st.NonFatal {
				diag.Detail = res.Err.Error()
				state.Steps = append(state.Steps, diag)
				p.logger.Printf("step %s failed after %dms: %v", st.Name, diag.DurationMs, res.Err)
				return res.Err
			}
			// Graceful degradation: surface the failure, keep going.
			diag.Detail = fmt.Sprintf("degraded: %v", res.Err)
			res.Warnings = append(res.Warnings, res.Err.Error())
			res.Err = nil
			p.logger.Printf("step %s degraded: %s", st.Name, diag.Detail)
		}

		state.merge(res)
		state.Steps = append(state.Steps, diag)
	}
	return nil
}
