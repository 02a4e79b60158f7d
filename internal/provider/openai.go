package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/clinicalkb/medrag/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements Embedder and Generator against OpenAI-compatible
// chat-completion and embedding endpoints.
type OpenAIClient struct {
	apiKey         string
	baseURL        string
	model          config.LLMModel
	embeddingModel string
	http           *HTTPClient
}

// NewOpenAIClient builds a client for one routed model. The same client type
// serves the primary and enhancement roles with different model configs.
func NewOpenAIClient(cfg config.LLMProvider, model config.LLMModel, embeddingModel string) *OpenAIClient {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		apiKey:         apiKey,
		baseURL:        baseURL,
		model:          model,
		embeddingModel: embeddingModel,
		http:           NewHTTPClient(cfg.Timeout, cfg.MaxRetries, 0),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate calls the chat completions endpoint with system prompt, retrieved
// context and optional history.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	if c.apiKey == "" {
		return GenerationResponse{}, Error{Kind: ErrKindAuth, Message: "API key not configured"}
	}
	apiModel := c.model.APIName
	if apiModel == "" {
		apiModel = c.model.Name
	}

	messages := make([]chatMessage, 0, len(req.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Context})

	var out chatResponse
	err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/chat/completions", c.headers(), chatRequest{
		Model:       apiModel,
		Messages:    messages,
		Temperature: c.model.Temperature,
		MaxTokens:   c.model.MaxTokens,
	}, &out)
	if err != nil {
		return GenerationResponse{}, err
	}
	if len(out.Choices) == 0 {
		return GenerationResponse{}, Error{Kind: ErrKindInvalid, Message: "no choices returned"}
	}
	return GenerationResponse{
		Text:  out.Choices[0].Message.Content,
		Model: apiModel,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates embeddings for the given texts.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.apiKey == "" {
		return nil, Error{Kind: ErrKindAuth, Message: "API key not configured"}
	}

	var out embeddingResponse
	err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/embeddings", c.headers(), embeddingRequest{
		Model: c.embeddingModel,
		Input: texts,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, Error{Kind: ErrKindInvalid, Message: fmt.Sprintf("expected %d vectors, got %d", len(texts), len(out.Data))}
	}
	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, Error{Kind: ErrKindInvalid, Message: fmt.Sprintf("vector index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Ping verifies the endpoint is reachable and the key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return Error{Kind: ErrKindAuth, Message: "API key not configured"}
	}
	return c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/models", c.headers(), nil, nil)
}

func (c *OpenAIClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

// compile-time interface checks
var (
	_ Embedder  = (*OpenAIClient)(nil)
	_ Generator = (*OpenAIClient)(nil)
)

// BuildProviders resolves the routed primary and enhancement generators and
// the embedder from configuration.
func BuildProviders(cfg config.LLMConfig, embedding config.EmbeddingConfig) (primary, enhancement Generator, embedder Embedder, err error) {
	if len(cfg.Providers) == 0 {
		return nil, nil, nil, fmt.Errorf("no LLM providers configured")
	}
	for _, p := range cfg.Providers {
		switch p.Type {
		case "openai", "compatible":
			primaryModel, ok := resolveModel(p, cfg.Routing.Primary, cfg.Routing.Fallback)
			if !ok {
				return nil, nil, nil, fmt.Errorf("primary model %q not configured", cfg.Routing.Primary)
			}
			enhanceModel, ok := resolveModel(p, cfg.Routing.Enhancement, cfg.Routing.Fallback)
			if !ok {
				enhanceModel = primaryModel
			}
			primaryClient := NewOpenAIClient(p, primaryModel, embedding.Model)
			enhanceClient := NewOpenAIClient(p, enhanceModel, embedding.Model)
			embedCfg := p
			embedCfg.Timeout = embedding.Timeout
			embedCfg.MaxRetries = embedding.MaxRetries
			return primaryClient, enhanceClient, NewOpenAIClient(embedCfg, primaryModel, embedding.Model), nil
		default:
			return nil, nil, nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return nil, nil, nil, fmt.Errorf("no valid LLM providers found")
}

func resolveModel(p config.LLMProvider, name, fallback string) (config.LLMModel, bool) {
	if m, ok := p.Models[name]; ok {
		return m, true
	}
	if m, ok := p.Models[fallback]; ok {
		return m, true
	}
	return config.LLMModel{}, false
}
