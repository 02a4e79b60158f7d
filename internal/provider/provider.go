// Package provider holds the external text-generation and embedding
// collaborators the pipeline orchestrates.
package provider

import (
	"context"
	"fmt"

	"github.com/clinicalkb/medrag/internal/rag"
)

// Error kinds reported by providers.
const (
	ErrKindAuth      = "auth"
	ErrKindQuota     = "quota"
	ErrKindTimeout   = "timeout"
	ErrKindTransient = "transient"
	ErrKindInvalid   = "invalid"
)

// Error is a structured provider failure. Auth and quota problems are
// distinguished so callers can avoid pointless retries.
type Error struct {
	Kind    string
	Status  int
	Message string
}

func (e Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

// Retryable reports whether another attempt could reasonably succeed.
func (e Error) Retryable() bool {
	return e.Kind == ErrKindTransient || e.Kind == ErrKindTimeout
}

// Embedder turns text into fixed-dimension vectors. Failures surface as
// typed errors, never as zero vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Ping(ctx context.Context) error
}

// GenerationRequest carries everything a generation call needs.
type GenerationRequest struct {
	SystemPrompt string
	Context      string
	History      []rag.ChatMessage
}

// Usage reports token consumption for one generation call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// GenerationResponse is the outcome of one generation call. Confidence is
// the model's self-reported estimate when the provider exposes one; zero
// means unavailable.
type GenerationResponse struct {
	Text       string
	Confidence float64
	Usage      Usage
	Model      string
}

// Generator produces answer text from a prompt and retrieved context.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error)
	Ping(ctx context.Context) error
}
