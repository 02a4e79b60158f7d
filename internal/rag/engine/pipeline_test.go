package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/clinicalkb/medrag/internal/rag"
)

func noopStep(name string) Step {
	return Step{Name: name, Run: func(ctx context.Context, state *WorkflowState) StepResult {
		return StepResult{}
	}}
}

func TestNewPipelineRejectsEmptySequence(t *testing.T) {
	_, err := NewPipeline(nil, nil)
	var cfgErr rag.PipelineConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected PipelineConfigError, got %v", err)
	}
}

func TestNewPipelineRejectsDuplicateSteps(t *testing.T) {
	_, err := NewPipeline([]Step{noopStep("a"), noopStep("b"), noopStep("a")}, nil)
	var cfgErr rag.PipelineConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected PipelineConfigError, got %v", err)
	}
}

func TestNewPipelineRejectsUnnamedOrEmptySteps(t *testing.T) {
	if _, err := NewPipeline([]Step{{Run: func(ctx context.Context, s *WorkflowState) StepResult { return StepResult{} }}}, nil); err == nil {
		t.Fatalf("unnamed step accepted")
	}
	if _, err := NewPipeline([]Step{{Name: "a"}}, nil); err == nil {
		t.Fatalf("step without run function accepted")
	}
}

func TestExecuteRepeatedStepRaisesCycleError(t *testing.T) {
	// NewPipeline rejects duplicates, so the revisit guard is exercised by
	// assembling the sequence directly.
	p := &Pipeline{
		steps:  []Step{noopStep("a"), noopStep("b"), noopStep("a")},
		logger: log.New(io.Discard, "", 0),
	}

	err := p.Execute(context.Background(), &WorkflowState{})
	var cycleErr rag.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %T: %v", err, err)
	}
	if cycleErr.Step != "a" {
		t.Fatalf("expected the repeated step to be named, got %q", cycleErr.Step)
	}
}

func TestExecuteRecordsDiagnosticsInOrder(t *testing.T) {
	p, err := NewPipeline([]Step{noopStep("first"), noopStep("second"), noopStep("third")}, nil)
	if err != nil {
		t.Fatalf("pipeline construction: %v", err)
	}

	state := &WorkflowState{}
	if err := p.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(state.Steps) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d", len(state.Steps))
	}
	for i, name := range []string{"first", "second", "third"} {
		if state.Steps[i].Step != name {
			t.Fatalf("diagnostic %d: expected %s, got %s", i, name, state.Steps[i].Step)
		}
		if !state.Steps[i].Success {
			t.Fatalf("step %s unexpectedly failed", name)
		}
		if state.Steps[i].DurationMs < 0 {
			t.Fatalf("step %s has negative duration", name)
		}
	}
}

func TestExecuteFatalStepAborts(t *testing.T) {
	wantErr := fmt.Errorf("collaborator down")
	var thirdRan bool
	p, err := NewPipeline([]Step{
		noopStep("first"),
		{Name: "second", Run: func(ctx context.Context, s *WorkflowState) StepResult {
			return StepResult{Err: wantErr}
		}},
		{Name: "third", Run: func(ctx context.Context, s *WorkflowState) StepResult {
			thirdRan = true
			return StepResult{}
		}},
	}, nil)
	if err != nil {
		t.Fatalf("pipeline construction: %v", err)
	}

	state := &WorkflowState{}
	if err := p.Execute(context.Background(), state); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped step error, got %v", err)
	}
	if thirdRan {
		t.Fatalf("step after a fatal failure still ran")
	}
	last := state.Steps[len(state.Steps)-1]
	if last.Step != "second" || last.Success {
		t.Fatalf("failing step not recorded as failed: %+v", last)
	}
}

func TestExecuteNonFatalStepDegrades(t *testing.T) {
	p, err := NewPipeline([]Step{
		{Name: "flaky", NonFatal: true, Run: func(ctx context.Context, s *WorkflowState) StepResult {
			return StepResult{Err: fmt.Errorf("timed out")}
		}},
		noopStep("after"),
	}, nil)
	if err != nil {
		t.Fatalf("pipeline construction: %v", err)
	}

	state := &WorkflowState{}
	if err := p.Execute(context.Background(), state); err != nil {
		t.Fatalf("non-fatal step failed the pipeline: %v", err)
	}
	if len(state.Warnings) != 1 {
		t.Fatalf("expected degraded step to record a warning, got %v", state.Warnings)
	}
	if state.Steps[0].Success {
		t.Fatalf("degraded step should report failure in its diagnostic")
	}
	if len(state.Steps) != 2 {
		t.Fatalf("pipeline did not continue past the degraded step")
	}
}

func TestExecuteHonoursContextCancellation(t *testing.T) {
	p, err := NewPipeline([]Step{noopStep("only")}, nil)
	if err != nil {
		t.Fatalf("pipeline construction: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Execute(ctx, &WorkflowState{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStepResultMerge(t *testing.T) {
	state := &WorkflowState{}
	mctx := rag.MedicalContext{QueryType: rag.QueryTypeTreatment}
	blob := "context"
	state.merge(StepResult{Context: &mctx, ContextBlob: &blob, Warnings: []string{"w1"}})
	state.merge(StepResult{Generation: &GenerationOutcome{Answer: "a", Confidence: 0.7, Model: "m"}})

	if state.Context.QueryType != rag.QueryTypeTreatment || state.ContextBlob != "context" {
		t.Fatalf("merge lost earlier fields: %+v", state)
	}
	if state.PrimaryAnswer != "a" || state.PrimaryConfidence != 0.7 || state.PrimaryModel != "m" {
		t.Fatalf("generation outcome not merged: %+v", state)
	}
	if len(state.Warnings) != 1 {
		t.Fatalf("warnings not accumulated: %v", state.Warnings)
	}
	if state.Answer() != "a" {
		t.Fatalf("Answer() should fall back to primary, got %q", state.Answer())
	}
	enhanced := "better"
	state.merge(StepResult{Enhanced: &enhanced})
	if state.Answer() != "better" {
		t.Fatalf("Answer() should prefer the enhanced text, got %q", state.Answer())
	}
}
