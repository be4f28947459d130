package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	ProviderAuto    = "auto"
	ProviderGemini  = "gemini"
	ProviderMiniMax = "minimax"
	ProviderLocal   = "local"
)

var (
	ErrNoProvider      = errors.New("no LLM provider available")
	ErrUnknownProvider = errors.New("unknown LLM provider")
	ErrProviderKey     = errors.New("provider API key is not set")
)

// ChatMessage is one prior turn. Role is "user" or "model".
type ChatMessage struct {
	Role string
	Text string
}

type GenerateRequest struct {
	System      string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	// Pro selects the provider's larger model when it has one.
	Pro bool
}

type ImageInput struct {
	URL      string
	Data     []byte
	MimeType string
}

// Provider is an external LLM backend.
type Provider interface {
	Name() string
	Enabled() bool
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Stream calls onDelta for each text fragment and returns the full text.
	Stream(ctx context.Context, req GenerateRequest, onDelta func(string)) (string, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	AnalyzeImage(ctx context.Context, img ImageInput, prompt string) (string, error)
}

// Router resolves a requested provider name to an enabled Provider.
type Router struct {
	providers map[string]Provider
	order     []string
}

// NewRouter registers providers in preference order.
func NewRouter(ps ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	return r
}

// Select returns the requested provider when it is enabled, otherwise the
// first enabled one in preference order.
func (r *Router) Select(requested string) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(requested))
	if name == "" {
		name = ProviderAuto
	}
	if name != ProviderAuto {
		p, ok := r.providers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, requested)
		}
		if p.Enabled() {
			return p, nil
		}
	}
	for _, n := range r.order {
		if p := r.providers[n]; p.Enabled() {
			return p, nil
		}
	}
	return nil, ErrNoProvider
}

// Available lists enabled provider names.
func (r *Router) Available() []string {
	var out []string
	for _, n := range r.order {
		if r.providers[n].Enabled() {
			out = append(out, n)
		}
	}
	return out
}
