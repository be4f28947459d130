package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const transcribePrompt = "Transcribe este audio a texto en español. Devuelve solo la transcripción, sin comentarios adicionales."

type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	ProModel   string
	Client     *http.Client
	RetryDelay time.Duration
}

type GeminiService struct {
	apiKey     string
	baseURL    string
	model      string
	proModel   string
	client     *http.Client
	retryDelay time.Duration
}

func NewGeminiService(opts GeminiOptions) *GeminiService {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if opts.Model == "" {
		opts.Model = "gemini-1.5-flash"
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &GeminiService{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		proModel:   opts.ProModel,
		client:     defaultClient(opts.Client),
		retryDelay: opts.RetryDelay,
	}
}

func (s *GeminiService) Name() string { return ProviderGemini }

func (s *GeminiService) Enabled() bool { return strings.TrimSpace(s.apiKey) != "" }

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (s *GeminiService) models(pro bool) []string {
	first, second := s.model, s.proModel
	if pro && s.proModel != "" {
		first, second = s.proModel, s.model
	}
	out := []string{first}
	if second != "" && second != first {
		out = append(out, second)
	}
	return out
}

func buildGeminiRequest(req GenerateRequest) geminiRequest {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "model" {
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Text}}})
	}
	out := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopK:            40,
			TopP:            0.9,
		},
	}
	if strings.TrimSpace(req.System) != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	return out
}

func (s *GeminiService) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("gemini: %w", ErrProviderKey)
	}
	body, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return "", err
	}
	return s.generateWithFallback(ctx, body, req.Pro)
}

func (s *GeminiService) generateWithFallback(ctx context.Context, body []byte, pro bool) (string, error) {
	var tried failures
	for _, m := range s.models(pro) {
		text, err := s.callGenerateContent(ctx, m, body)
		if err != nil && isRetriable(err) {
			sleepWithContext(ctx, s.retryDelay)
			text, err = s.callGenerateContent(ctx, m, body)
		}
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), nil
		}
		if err != nil {
			tried.add(m, err)
			log.Printf("[gemini] model %s failed: %v", m, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return "", tried.err("all gemini models failed")
}

func (s *GeminiService) Stream(ctx context.Context, req GenerateRequest, onDelta func(string)) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("gemini: %w", ErrProviderKey)
	}
	body, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return "", err
	}

	var tried failures
	for _, m := range s.models(req.Pro) {
		emitted := false
		forward := func(d string) {
			emitted = true
			if onDelta != nil {
				onDelta(d)
			}
		}
		text, err := s.callStreamGenerateContent(ctx, m, body, forward)
		if err != nil && !emitted && isRetriable(err) {
			sleepWithContext(ctx, s.retryDelay)
			text, err = s.callStreamGenerateContent(ctx, m, body, forward)
		}
		if err == nil {
			if strings.TrimSpace(text) != "" {
				return text, nil
			}
			// some models answer the streaming endpoint with nothing
			if full, gerr := s.callGenerateContent(ctx, m, body); gerr == nil && strings.TrimSpace(full) != "" {
				forward(full)
				return full, nil
			}
			continue
		}
		if emitted {
			// the client already has part of this answer
			return text, err
		}
		tried.add(m, err)
		log.Printf("[gemini] stream model %s failed: %v", m, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", tried.err("all gemini stream models failed")
}

func (s *GeminiService) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("gemini: %w", ErrProviderKey)
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: transcribePrompt},
				{InlineData: &geminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(audio)}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{Temperature: 0.1, MaxOutputTokens: 1000},
	})
	if err != nil {
		return "", err
	}
	return s.generateWithFallback(ctx, body, false)
}

func (s *GeminiService) AnalyzeImage(ctx context.Context, img ImageInput, prompt string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("gemini: %w", ErrProviderKey)
	}
	data, mimeType := img.Data, img.MimeType
	if len(data) == 0 && img.URL != "" {
		var err error
		data, mimeType, err = fetchImage(ctx, s.client, img.URL)
		if err != nil {
			return "", err
		}
	}
	if len(data) == 0 {
		return "", fmt.Errorf("gemini: empty image")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: prompt},
				{InlineData: &geminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{Temperature: 0.4, MaxOutputTokens: 2048},
	})
	if err != nil {
		return "", err
	}
	return s.generateWithFallback(ctx, body, false)
}

// endpoint never carries the key: transport errors echo the URL.
func (s *GeminiService) endpoint(model, method string) string {
	url := fmt.Sprintf("%s/v1beta/models/%s:%s", s.baseURL, model, method)
	if method == "streamGenerateContent" {
		url += "?alt=sse"
	}
	return url
}

func (s *GeminiService) headers() map[string]string {
	return map[string]string{"x-goog-api-key": s.apiKey}
}

func (s *GeminiService) callGenerateContent(ctx context.Context, model string, body []byte) (string, error) {
	log.Printf("[gemini] generate model=%s", model)
	respBytes, err := postJSON(ctx, s.client, s.endpoint(model, "generateContent"), s.headers(), body)
	if err != nil {
		return "", err
	}
	var parsed geminiResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	return parsed.text(), nil
}

func (s *GeminiService) callStreamGenerateContent(ctx context.Context, model string, body []byte, onDelta func(string)) (string, error) {
	log.Printf("[gemini] streaming model=%s", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(model, "streamGenerateContent"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var b bytes.Buffer
		_, _ = b.ReadFrom(resp.Body)
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(b.String())}
	}

	full := strings.Builder{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "data:") {
			line = strings.TrimSpace(line[5:])
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if txt := chunk.text(); txt != "" {
			full.WriteString(txt)
			if onDelta != nil {
				onDelta(txt)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("stream read error: %w", err)
	}
	return full.String(), nil
}
