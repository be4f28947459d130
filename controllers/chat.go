package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"ChatBridge/middleware"
	"ChatBridge/models"
	"ChatBridge/pkg/apierr"
	"ChatBridge/pkg/services"
	utils "ChatBridge/pkg/utills"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type chatAttachment struct {
	Kind        string `json:"kind"`
	StoragePath string `json:"storage_path"`
	PublicURL   string `json:"public_url"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	AltText     string `json:"alt_text"`
}

type chatRequest struct {
	Message        string           `json:"message"`
	ConversationID string           `json:"conversationId"`
	LLMProvider    string           `json:"llmProvider"`
	UseRAG         bool             `json:"useRag"`
	Attachments    []chatAttachment `json:"attachments"`
	Stream         *bool            `json:"stream"`
}

// chatTurn is one saved user message on its way to a bot reply.
type chatTurn struct {
	env      *Env
	userID   string
	conv     *models.Conversation
	userMsg  models.Message
	provider services.Provider // nil means the canned local reply
	gen      services.GenerateRequest
	ragDocs  int
	started  time.Time
}

func (e *Env) prepareChat(ctx context.Context, userID string, req chatRequest) (*chatTurn, error) {
	if err := required(map[string]string{"message": req.Message, "conversationId": req.ConversationID}); err != nil {
		return nil, err
	}
	if res := services.ModerateContent(req.Message); !res.Allowed {
		return nil, apierr.Blocked(res.Reason)
	}
	conv, err := ownedConversation(ctx, e.DB, req.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.BotPaused {
		return nil, apierr.Locked("BOT_PAUSED", "Un administrador está atendiendo esta conversación")
	}
	provider, err := e.Router.Select(req.LLMProvider)
	switch {
	case errors.Is(err, services.ErrNoProvider):
		log.Printf("[chat] no provider configured, using local reply")
		provider = nil
	case err != nil:
		return nil, apierr.BadRequest(err.Error())
	}
	if !middleware.DuplicateGuard(userID+"|"+conv.ID, req.Message) {
		return nil, apierr.TooMany("Mensaje duplicado, espera unos segundos")
	}

	t := &chatTurn{env: e, userID: userID, conv: conv, provider: provider, started: time.Now()}
	if err := t.saveUserMessage(ctx, req); err != nil {
		return nil, err
	}
	history, err := t.history(ctx)
	if err != nil {
		return nil, err
	}
	rag := ""
	if req.UseRAG {
		rag = t.ragContext(ctx, req.Message)
	}
	chat := services.HistoryToChat(history, e.Cfg.PromptHistoryLimit)
	chat = append(chat, services.ChatMessage{Role: "user", Text: req.Message})
	t.gen = services.GenerateRequest{
		System:      services.BuildSystemPrompt(rag),
		Messages:    chat,
		Temperature: services.ChatTemperature,
		MaxTokens:   services.ChatMaxTokens,
	}
	return t, nil
}

func (t *chatTurn) saveUserMessage(ctx context.Context, req chatRequest) error {
	msgType := models.MessageText
	if len(req.Attachments) > 0 {
		msgType = models.MessageFile
	}
	t.userMsg = models.Message{
		ConversationID: t.conv.ID,
		Sender:         models.SenderUser,
		SenderID:       strPtr(t.userID),
		Content:        req.Message,
		Type:           msgType,
	}
	return t.env.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&t.userMsg).Error; err != nil {
			return fmt.Errorf("save user message: %w", err)
		}
		for _, a := range req.Attachments {
			kind := a.Kind
			if kind == "" {
				kind = models.AttachmentKind(a.MimeType)
			}
			att := models.Attachment{
				MessageID:   t.userMsg.ID,
				Kind:        kind,
				StoragePath: a.StoragePath,
				PublicURL:   a.PublicURL,
				MimeType:    a.MimeType,
				SizeBytes:   a.SizeBytes,
				AltText:     a.AltText,
			}
			if err := tx.Create(&att).Error; err != nil {
				return fmt.Errorf("save attachment: %w", err)
			}
		}
		return nil
	})
}

// history returns the latest messages before the new one, oldest first.
func (t *chatTurn) history(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	err := t.env.DB.WithContext(ctx).
		Where("conversation_id = ? AND id <> ?", t.conv.ID, t.userMsg.ID).
		Order("created_at DESC").
		Limit(t.env.Cfg.HistoryLimit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// ragContext is best effort: any failure just means no document context.
func (t *chatTurn) ragContext(ctx context.Context, query string) string {
	if t.env.Embedder == nil || !t.env.Embedder.Enabled() {
		log.Printf("[chat] rag requested but embeddings are disabled")
		return ""
	}
	vec, err := t.env.Embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[chat] rag embedding failed: %v", err)
		return ""
	}
	results, err := services.SearchDocuments(ctx, t.env.DB, vec, t.env.Cfg.RAGMatchThreshold, t.env.Cfg.RAGMatchCount)
	if err != nil {
		log.Printf("[chat] rag search failed: %v", err)
		return ""
	}
	t.ragDocs = len(results)
	return services.FormatRAGContext(results)
}

func (t *chatTurn) providerName() string {
	if t.provider == nil {
		return services.ProviderLocal
	}
	return t.provider.Name()
}

// generate streams through onDelta when it is set.
func (t *chatTurn) generate(ctx context.Context, onDelta func(string)) (string, error) {
	if t.provider == nil {
		if onDelta == nil {
			return services.LocalReply(t.gen.Messages), nil
		}
		return services.StreamLocal(ctx, t.gen.Messages, onDelta), nil
	}
	if onDelta == nil {
		return t.provider.Generate(ctx, t.gen)
	}
	return t.provider.Stream(ctx, t.gen, onDelta)
}

// finish stores the bot reply. A generation error is stored as a message
// with status error. Persistence ignores cancellation of ctx so a stopped
// stream still keeps what was produced.
func (t *chatTurn) finish(ctx context.Context, text string, genErr error) (*models.Message, error) {
	ctx = context.WithoutCancel(ctx)
	meta := map[string]any{
		"user_message_id": t.userMsg.ID,
		"rag_documents":   t.ragDocs,
	}
	bot := models.Message{
		ConversationID:   t.conv.ID,
		Sender:           models.SenderBot,
		Content:          text,
		LLMProvider:      t.providerName(),
		TokensEstimated:  utils.EstimateTokens(text),
		ProcessingTimeMS: sinceMS(t.started),
	}
	if genErr != nil {
		log.Printf("[chat] %s generation failed in %s: %v", t.providerName(), t.conv.ID, genErr)
		bot.Status = models.StatusError
		meta["error"] = "generation_failed"
		if strings.TrimSpace(text) == "" {
			bot.Content = replyFailed
		}
	}
	bot.Metadata = jsonColumn(meta)

	db := t.env.DB.WithContext(ctx)
	if err := db.Create(&bot).Error; err != nil {
		return nil, fmt.Errorf("save bot message: %w", err)
	}
	if err := db.Model(t.conv).Update("updated_at", time.Now()).Error; err != nil {
		log.Printf("[chat] touch conversation %s: %v", t.conv.ID, err)
	}
	if genErr == nil {
		_ = services.RecordEvent(ctx, t.env.DB, services.EventInput{
			Type:           services.EventChatResponse,
			Source:         models.SenderBot,
			ConversationID: t.conv.ID,
			UserID:         t.userID,
			Data: map[string]any{
				"message_id":       bot.ID,
				"provider":         bot.LLMProvider,
				"processing_time":  bot.ProcessingTimeMS,
				"tokens_estimated": bot.TokensEstimated,
				"rag_documents":    t.ragDocs,
			},
		})
	}
	return &bot, nil
}

const replyFailed = "No se pudo generar una respuesta."

// failure is what the client sees for a provider error. The cause is only
// logged.
func (t *chatTurn) failure(genErr error) error {
	return apierr.Internal("CHAT_ERROR", replyFailed, fmt.Errorf("%s: %w", t.providerName(), genErr))
}

func writeFrame(c *gin.Context, v any) {
	c.Render(-1, sse.Event{Data: v})
	c.Writer.Flush()
}

// Chat answers one user message, streamed as server-sent events unless the
// body sets "stream": false.
func Chat(env *Env) gin.HandlerFunc {
	return apierr.Handle("CHAT_ERROR", func(c *gin.Context) error {
		var req chatRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		uid := middleware.CurrentUserID(c)
		ctx := c.Request.Context()

		release, err := middleware.AcquireUserSlot(ctx, uid)
		if err != nil {
			return err
		}
		defer release()

		turn, err := env.prepareChat(ctx, uid, req)
		if err != nil {
			return err
		}

		if req.Stream != nil && !*req.Stream {
			text, genErr := turn.generate(ctx, nil)
			bot, err := turn.finish(ctx, text, genErr)
			if genErr != nil {
				return turn.failure(genErr)
			}
			if err != nil {
				return err
			}
			apierr.OK(c, http.StatusOK, gin.H{
				"response":         bot.Content,
				"message_id":       bot.ID,
				"provider":         bot.LLMProvider,
				"processing_time":  bot.ProcessingTimeMS,
				"tokens_estimated": bot.TokensEstimated,
			})
			return nil
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		full, genErr := turn.generate(ctx, func(d string) {
			writeFrame(c, gin.H{"delta": d, "done": false})
		})
		bot, err := turn.finish(ctx, full, genErr)
		if genErr != nil {
			writeFrame(c, gin.H{"error": replyFailed, "done": true})
			return nil
		}
		if err != nil {
			writeFrame(c, gin.H{"error": apierr.InternalMessage, "done": true})
			return err
		}
		writeFrame(c, gin.H{
			"done":          true,
			"message_id":    bot.ID,
			"messageId":     bot.ID,
			"provider":      bot.LLMProvider,
			"full_response": full,
		})
		return nil
	})
}
