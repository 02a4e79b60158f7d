package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/rag"
)

func newTestClient(baseURL string) *OpenAIClient {
	return NewOpenAIClient(config.LLMProvider{
		APIKey:  "test-key",
		BaseURL: baseURL,
	}, config.LLMModel{Name: "test-model", APIName: "test-model-api"}, "test-embedding")
}

func TestGenerateBuildsMessageSequence(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "an answer"}}},
			"usage":   map[string]int64{"prompt_tokens": 100, "completion_tokens": 50},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Generate(context.Background(), GenerationRequest{
		SystemPrompt: "be careful",
		Context:      "the question",
		History:      []rag.ChatMessage{{Role: "user", Content: "earlier"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if resp.Text != "an answer" || resp.Model != "test-model-api" {
		t.Fatalf("response not mapped: %+v", resp)
	}
	if resp.Usage.PromptTokens != 100 || resp.Usage.CompletionTokens != 50 {
		t.Fatalf("usage not mapped: %+v", resp.Usage)
	}
	if got.Model != "test-model-api" {
		t.Fatalf("API model name not used: %q", got.Model)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected system+history+user messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[1].Content != "earlier" || got.Messages[2].Role != "user" {
		t.Fatalf("message order wrong: %+v", got.Messages)
	}
}

func TestEmbedMapsVectorsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// out-of-order response indices must still land in input order
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{2, 2}, "index": 1},
				{"embedding": []float32{1, 1}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	vectors, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 2 {
		t.Fatalf("vectors not ordered by index: %v", vectors)
	}
}

func TestEmbedCountMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected error on vector count mismatch")
	}
}

func TestMissingAPIKeyFailsFast(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c := NewOpenAIClient(config.LLMProvider{}, config.LLMModel{Name: "m"}, "e")

	if _, err := c.Generate(context.Background(), GenerationRequest{}); err == nil {
		t.Fatalf("generate should fail without a key")
	}
	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatalf("embed should fail without a key")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("ping should fail without a key")
	}
}

func TestBuildProvidersResolvesRouting(t *testing.T) {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"openai": {
				Type:   "openai",
				APIKey: "k",
				Models: map[string]config.LLMModel{
					"main":  {Name: "main-model"},
					"small": {Name: "small-model"},
				},
			},
		},
		Routing: config.LLMRoutingConfig{Primary: "main", Enhancement: "small"},
	}

	primary, enhancement, embedder, err := BuildProviders(cfg, config.EmbeddingConfig{Model: "embed-model", Dimensions: 4})
	if err != nil {
		t.Fatalf("build providers: %v", err)
	}
	if primary == nil || enhancement == nil || embedder == nil {
		t.Fatalf("nil collaborator returned")
	}
}

func TestBuildProvidersMissingPrimaryModel(t *testing.T) {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"openai": {Type: "openai", Models: map[string]config.LLMModel{}},
		},
		Routing: config.LLMRoutingConfig{Primary: "main"},
	}
	if _, _, _, err := BuildProviders(cfg, config.EmbeddingConfig{}); err == nil {
		t.Fatalf("expected error for unresolvable primary model")
	}
}
