package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ChatBridge/middleware"
	"ChatBridge/models"
	"ChatBridge/pkg/apierr"
	"ChatBridge/pkg/services"
	utils "ChatBridge/pkg/utills"

	"github.com/gin-gonic/gin"
)

type transcribeRequest struct {
	AudioData      string `json:"audioData"`
	Provider       string `json:"provider"`
	MimeType       string `json:"mimeType"`
	ConversationID string `json:"conversationId"`
}

func decodePayload(field, data string, maxBytes int64, maxMB int) ([]byte, string, error) {
	b, mimeType, err := utils.DecodeBase64Payload(data)
	if errors.Is(err, utils.ErrEmptyPayload) {
		return nil, "", apierr.BadRequest(field + " is empty")
	}
	if err != nil {
		return nil, "", apierr.BadRequest(field + " is not valid base64")
	}
	if int64(len(b)) > maxBytes {
		return nil, "", apierr.TooLarge(fmt.Sprintf("Archivo demasiado grande: máximo %dMB", maxMB))
	}
	return b, mimeType, nil
}

func Transcribe(env *Env) gin.HandlerFunc {
	return apierr.Handle("TRANSCRIPTION_ERROR", func(c *gin.Context) error {
		var req transcribeRequest
		if err := bindJSONWithin(c, &req, payloadBodyLimit(env.Cfg.MaxFileBytes())); err != nil {
			return err
		}
		if err := required(map[string]string{"audioData": req.AudioData}); err != nil {
			return err
		}
		audio, dataMime, err := decodePayload("audioData", req.AudioData, env.Cfg.MaxFileBytes(), env.Cfg.MaxFileSizeMB)
		if err != nil {
			return err
		}
		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = dataMime
		}
		if mimeType == "" {
			mimeType = "audio/webm"
		}
		if !strings.HasPrefix(mimeType, "audio/") {
			return apierr.Unsupported("Tipo de audio no soportado: " + mimeType)
		}
		if err := env.requireOwnConversation(c, req.ConversationID); err != nil {
			return err
		}

		p, err := env.selectProvider(req.Provider)
		if err != nil {
			return err
		}
		start := time.Now()
		text, err := p.Transcribe(c.Request.Context(), audio, mimeType)
		if err != nil {
			return fmt.Errorf("%s transcription: %w", p.Name(), err)
		}
		elapsed := sinceMS(start)

		if req.ConversationID != "" {
			env.event(c, services.EventInput{
				Type:           services.EventAudioTranscribed,
				Source:         models.SenderUser,
				ConversationID: req.ConversationID,
				Data: map[string]any{
					"provider":             p.Name(),
					"processing_time":      elapsed,
					"transcription_length": len(text),
					"mime_type":            mimeType,
				},
			})
		}
		apierr.OK(c, http.StatusOK, gin.H{
			"transcription":   text,
			"provider":        p.Name(),
			"processing_time": elapsed,
		})
		return nil
	})
}

type visionRequest struct {
	ImageURL       string `json:"image_url"`
	ImageBase64    string `json:"image_base64"`
	Prompt         string `json:"prompt"`
	ModelProvider  string `json:"model_provider"`
	ConversationID string `json:"conversation_id"`
}

func Vision(env *Env) gin.HandlerFunc {
	return apierr.Handle("VISION_ERROR", func(c *gin.Context) error {
		var req visionRequest
		if err := bindJSONWithin(c, &req, payloadBodyLimit(env.Cfg.MaxFileBytes())); err != nil {
			return err
		}
		if strings.TrimSpace(req.ImageURL) == "" && strings.TrimSpace(req.ImageBase64) == "" {
			return apierr.BadRequest("image_url or image_base64 is required")
		}
		uid := middleware.CurrentUserID(c)
		ctx := c.Request.Context()

		var conv *models.Conversation
		if req.ConversationID != "" {
			var err error
			if conv, err = ownedConversation(ctx, env.DB, req.ConversationID, uid); err != nil {
				return err
			}
		}

		img := services.ImageInput{URL: strings.TrimSpace(req.ImageURL)}
		if req.ImageBase64 != "" {
			data, mimeType, err := decodePayload("image_base64", req.ImageBase64, env.Cfg.MaxFileBytes(), env.Cfg.MaxFileSizeMB)
			if err != nil {
				return err
			}
			img = services.ImageInput{Data: data, MimeType: mimeType}
		}
		prompt := strings.TrimSpace(req.Prompt)
		if prompt == "" {
			prompt = services.DefaultVisionPrompt
		}
		providerName := req.ModelProvider
		if providerName == "" {
			providerName = services.ProviderGemini
		}
		p, err := env.selectProvider(providerName)
		if err != nil {
			return err
		}

		start := time.Now()
		analysis, err := p.AnalyzeImage(ctx, img, prompt)
		if err != nil {
			return fmt.Errorf("%s vision: %w", p.Name(), err)
		}
		elapsed := sinceMS(start)

		if conv != nil {
			msg := models.Message{
				ConversationID:   conv.ID,
				Sender:           models.SenderBot,
				Content:          analysis,
				LLMProvider:      p.Name(),
				TokensEstimated:  utils.EstimateTokens(analysis),
				ProcessingTimeMS: elapsed,
				Metadata: jsonColumn(map[string]any{
					"analysis_type": "image_vision",
					"image_url":     img.URL,
					"prompt":        prompt,
				}),
			}
			if err := env.DB.WithContext(ctx).Create(&msg).Error; err != nil {
				return fmt.Errorf("save analysis: %w", err)
			}
			env.event(c, services.EventInput{
				Type:           services.EventImageAnalyzed,
				Source:         models.SenderBot,
				ConversationID: conv.ID,
				Data: map[string]any{
					"message_id":      msg.ID,
					"provider":        p.Name(),
					"processing_time": elapsed,
				},
			})
		}
		apierr.OK(c, http.StatusOK, gin.H{
			"analysis":   analysis,
			"model_used": p.Name(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	})
}

type enhanceRequest struct {
	OriginalText      string `json:"originalText"`
	Style             string `json:"style"`
	Intensity         *int   `json:"intensity"`
	ConversationID    string `json:"conversationId"`
	OriginalMessageID string `json:"originalMessageId"`
	Provider          string `json:"provider"`
}

func Enhance(env *Env) gin.HandlerFunc {
	return apierr.Handle("ENHANCEMENT_ERROR", func(c *gin.Context) error {
		var req enhanceRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		if err := required(map[string]string{"originalText": req.OriginalText, "style": req.Style}); err != nil {
			return err
		}
		if !services.ValidEnhanceStyle(req.Style) {
			return apierr.BadRequest("style must be one of " + strings.Join(services.EnhanceStyles, ", "))
		}
		intensity := 50
		if req.Intensity != nil {
			intensity = *req.Intensity
		}
		if intensity < 0 || intensity > 100 {
			return apierr.BadRequest("intensity must be between 0 and 100")
		}
		p, err := env.selectProvider(req.Provider)
		if err != nil {
			return err
		}

		ctx := c.Request.Context()
		start := time.Now()
		enhanced, err := p.Generate(ctx, services.GenerateRequest{
			Messages:    []services.ChatMessage{{Role: "user", Text: services.BuildEnhancementPrompt(req.OriginalText, req.Style, intensity)}},
			Temperature: services.EnhanceTemperature,
			MaxTokens:   services.EnhanceMaxTokens,
		})
		if err != nil {
			return fmt.Errorf("%s enhance: %w", p.Name(), err)
		}
		enhanced = strings.Trim(strings.TrimSpace(enhanced), `"`)
		elapsed := sinceMS(start)

		diff := services.CalculateTextDiff(req.OriginalText, enhanced)
		metrics := services.CalculateTextMetrics(req.OriginalText, enhanced)
		draft := models.AdminDraft{
			ConversationID:       strPtr(req.ConversationID),
			OriginalMessageID:    strPtr(req.OriginalMessageID),
			OriginalText:         req.OriginalText,
			DraftText:            enhanced,
			EnhancementStyle:     req.Style,
			EnhancementIntensity: intensity,
			DiffData:             jsonColumn(diff),
			Metrics:              jsonColumn(metrics),
			CreatedBy:            middleware.CurrentUserID(c),
		}
		if err := env.DB.WithContext(ctx).Create(&draft).Error; err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
		env.event(c, services.EventInput{
			Type:           services.EventTextEnhanced,
			Source:         models.SenderAdmin,
			ConversationID: req.ConversationID,
			Data: map[string]any{
				"draft_id":        draft.ID,
				"style":           req.Style,
				"intensity":       intensity,
				"provider":        p.Name(),
				"processing_time": elapsed,
			},
		})
		apierr.OK(c, http.StatusOK, gin.H{
			"draft_id":        draft.ID,
			"enhanced_text":   enhanced,
			"original_text":   req.OriginalText,
			"diff_data":       diff,
			"metrics":         metrics,
			"provider":        p.Name(),
			"processing_time": elapsed,
		})
		return nil
	})
}

type ragSearchRequest struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit"`
	Threshold      *float64 `json:"threshold"`
	ConversationID string   `json:"conversationId"`
}

const maxRAGResults = 20

func RAGSearch(env *Env) gin.HandlerFunc {
	return apierr.Handle("RAG_SEARCH_ERROR", func(c *gin.Context) error {
		var req ragSearchRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		if err := required(map[string]string{"query": req.Query}); err != nil {
			return err
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 5
		}
		limit = min(limit, maxRAGResults)
		threshold := 0.7
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		if threshold < 0 || threshold > 1 {
			return apierr.BadRequest("threshold must be between 0 and 1")
		}
		if err := env.requireOwnConversation(c, req.ConversationID); err != nil {
			return err
		}
		if env.Embedder == nil || !env.Embedder.Enabled() {
			return apierr.Unavailable("Embeddings no configurados", services.ErrEmbeddingsDisabled)
		}

		ctx := c.Request.Context()
		start := time.Now()
		vec, err := env.Embedder.Embed(ctx, req.Query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		matches, err := services.SearchDocuments(ctx, env.DB, vec, threshold, limit)
		if err != nil {
			return err
		}
		results, err := enrichResults(c, env, matches)
		if err != nil {
			return err
		}
		elapsed := sinceMS(start)

		if req.ConversationID != "" {
			avg := 0.0
			for _, m := range matches {
				avg += m.Similarity
			}
			if len(matches) > 0 {
				avg /= float64(len(matches))
			}
			env.event(c, services.EventInput{
				Type:           services.EventRAGSearch,
				Source:         models.SenderUser,
				ConversationID: req.ConversationID,
				Data: map[string]any{
					"query":              utils.Truncate(req.Query, 200),
					"results_count":      len(matches),
					"average_similarity": avg,
					"processing_time":    elapsed,
				},
			})
		}
		apierr.OK(c, http.StatusOK, gin.H{
			"query":           req.Query,
			"results":         results,
			"total_results":   len(results),
			"processing_time": elapsed,
			"search_params":   gin.H{"limit": limit, "threshold": threshold},
		})
		return nil
	})
}

// enrichResults adds document fields to the matches with a single query.
func enrichResults(c *gin.Context, env *Env, matches []services.SearchResult) ([]gin.H, error) {
	out := make([]gin.H, 0, len(matches))
	if len(matches) == 0 {
		return out, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	var docs []models.Document
	if err := env.DB.WithContext(c.Request.Context()).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("load matched documents: %w", err)
	}
	byID := make(map[string]models.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	for _, m := range matches {
		r := gin.H{
			"id":         m.ID,
			"title":      m.Title,
			"content":    m.Content,
			"similarity": m.Similarity,
		}
		if d, ok := byID[m.ID]; ok {
			r["metadata"] = d.Metadata
			r["tags"] = d.Tags
			r["mime_type"] = d.MimeType
			r["is_public"] = d.IsPublic
			r["chunk_index"] = d.ChunkIndex
			r["total_chunks"] = d.TotalChunks
			r["created_at"] = d.CreatedAt
		}
		out = append(out, r)
	}
	return out, nil
}
