package rag

import "fmt"

// ValidationError rejects a query before any processing happens. Fatal.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("query validation failed: %s", e.Reason)
}

// RetrievalError surfaces an embedding or corpus failure after retries. Fatal.
type RetrievalError struct {
	Stage string // "embedding" or "corpus"
	Err   error
}

func (e RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s: %v", e.Stage, e.Err)
}

func (e RetrievalError) Unwrap() error { return e.Err }

// GenerationError surfaces a primary generation failure after retries. Fatal.
type GenerationError struct {
	Err error
}

func (e GenerationError) Error() string {
	return fmt.Sprintf("primary generation failed: %v", e.Err)
}

func (e GenerationError) Unwrap() error { return e.Err }

// EnhancementError records a secondary generation failure. Never fatal: the
// primary response is kept and the failure becomes a diagnostic warning.
type EnhancementError struct {
	Err error
}

func (e EnhancementError) Error() string {
	return fmt.Sprintf("enhancement pass failed: %v", e.Err)
}

func (e EnhancementError) Unwrap() error { return e.Err }

// CycleError means the pipeline revisited a step. The sequence is validated
// at construction, so hitting this at runtime is a programming error.
type CycleError struct {
	Step string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("pipeline revisited step %q", e.Step)
}

// PipelineConfigError reports an invalid step sequence at construction time.
type PipelineConfigError struct {
	Reason string
}

func (e PipelineConfigError) Error() string {
	return fmt.Sprintf("invalid pipeline configuration: %s", e.Reason)
}
