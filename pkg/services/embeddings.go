package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ChatBridge/pkg/cache"
	utils "ChatBridge/pkg/utills"
)

var ErrEmbeddingsDisabled = errors.New("embeddings are not configured (OPENAI_API_KEY)")

// maxEmbeddingInput keeps requests under the model's context window.
const maxEmbeddingInput = 8000

type Embedder interface {
	Enabled() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

type OpenAIOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	Client   *http.Client
	Cache    *cache.Store[[]float32]
	CacheTTL time.Duration
}

type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	cache   *cache.Store[[]float32]
	ttl     time.Duration
}

func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com"
	}
	if opts.Model == "" {
		opts.Model = "text-embedding-ada-002"
	}
	return &OpenAIEmbedder{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		client:  defaultClient(opts.Client),
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
	}
}

func (e *OpenAIEmbedder) Enabled() bool { return strings.TrimSpace(e.apiKey) != "" }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.Enabled() {
		return nil, ErrEmbeddingsDisabled
	}
	text = utils.Truncate(strings.TrimSpace(text), maxEmbeddingInput)
	if text == "" {
		return nil, errors.New("embed: empty input")
	}

	key := cache.KeyFromStrings("embedding", e.model, text)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	body, err := json.Marshal(map[string]any{"model": e.model, "input": text})
	if err != nil {
		return nil, err
	}
	respBytes, err := postJSON(ctx, e.client, e.baseURL+"/v1/embeddings", map[string]string{"Authorization": "Bearer " + e.apiKey}, body)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, errors.New("embeddings: empty response")
	}
	vec := parsed.Data[0].Embedding
	e.cache.Set(key, vec, e.ttl)
	return vec, nil
}
