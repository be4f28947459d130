package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
)

type MiniMaxOptions struct {
	APIKey    string
	BaseURL   string
	TextModel string
	STTModel  string
	Client    *http.Client
}

type MiniMaxService struct {
	apiKey    string
	baseURL   string
	textModel string
	sttModel  string
	client    *http.Client
}

func NewMiniMaxService(opts MiniMaxOptions) *MiniMaxService {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.minimax.ai"
	}
	if opts.TextModel == "" {
		opts.TextModel = "abab6.5s-chat"
	}
	if opts.STTModel == "" {
		opts.STTModel = "speech-01"
	}
	return &MiniMaxService{
		apiKey:    opts.APIKey,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		textModel: opts.TextModel,
		sttModel:  opts.STTModel,
		client:    defaultClient(opts.Client),
	}
}

func (s *MiniMaxService) Name() string { return ProviderMiniMax }

func (s *MiniMaxService) Enabled() bool { return strings.TrimSpace(s.apiKey) != "" }

// content is either a string or a list of typed parts (vision).
type minimaxMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type minimaxRequest struct {
	Model       string           `json:"model"`
	Messages    []minimaxMessage `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream"`
}

type minimaxResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	BaseResp *struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

func (r *minimaxResponse) apiError() error {
	if r.BaseResp != nil && r.BaseResp.StatusCode != 0 {
		return fmt.Errorf("minimax error %d: %s", r.BaseResp.StatusCode, r.BaseResp.StatusMsg)
	}
	return nil
}

func (s *MiniMaxService) buildRequest(req GenerateRequest, stream bool) minimaxRequest {
	msgs := make([]minimaxMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, minimaxMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "model" {
			role = "assistant"
		}
		msgs = append(msgs, minimaxMessage{Role: role, Content: m.Text})
	}
	return minimaxRequest{
		Model:       s.textModel,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (s *MiniMaxService) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.apiKey}
}

func (s *MiniMaxService) complete(ctx context.Context, payload minimaxRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	log.Printf("[minimax] chatcompletion model=%s", payload.Model)
	respBytes, err := postJSON(ctx, s.client, s.baseURL+"/v1/text/chatcompletion_v2", s.headers(), body)
	if err != nil {
		return "", err
	}
	var parsed minimaxResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("decode minimax response: %w", err)
	}
	if err := parsed.apiError(); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("minimax: empty response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (s *MiniMaxService) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("minimax: %w", ErrProviderKey)
	}
	return s.complete(ctx, s.buildRequest(req, false))
}

func (s *MiniMaxService) Stream(ctx context.Context, req GenerateRequest, onDelta func(string)) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("minimax: %w", ErrProviderKey)
	}
	body, err := json.Marshal(s.buildRequest(req, true))
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/text/chatcompletion_v2", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	log.Printf("[minimax] streaming model=%s", s.textModel)
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var b bytes.Buffer
		_, _ = b.ReadFrom(resp.Body)
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(b.String())}
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}
		var chunk minimaxResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if err := chunk.apiError(); err != nil {
			return full.String(), err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if txt := chunk.Choices[0].Delta.Content; txt != "" {
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

func (s *MiniMaxService) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("minimax: %w", ErrProviderKey)
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio."+audioExt(mimeType))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	_ = w.WriteField("model", s.sttModel)
	_ = w.WriteField("language", "es")
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	log.Printf("[minimax] transcribe model=%s bytes=%d", s.sttModel, len(audio))
	respBytes, err := do(s.client, req)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("decode minimax transcription: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func (s *MiniMaxService) AnalyzeImage(ctx context.Context, img ImageInput, prompt string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("minimax: %w", ErrProviderKey)
	}
	url := img.URL
	if len(img.Data) > 0 {
		mimeType := img.MimeType
		if mimeType == "" {
			mimeType = http.DetectContentType(img.Data)
		}
		url = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	}
	if url == "" {
		return "", fmt.Errorf("minimax: empty image")
	}
	return s.complete(ctx, minimaxRequest{
		Model: s.textModel,
		Messages: []minimaxMessage{{
			Role: "user",
			Content: []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]string{"url": url}},
			},
		}},
		Temperature: 0.4,
		MaxTokens:   2048,
	})
}

func audioExt(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return "mp3"
	case "audio/wav":
		return "wav"
	case "audio/mp4":
		return "m4a"
	default:
		return "webm"
	}
}
