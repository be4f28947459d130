package controllers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"ChatBridge/middleware"
	"ChatBridge/models"
	"ChatBridge/pkg/apierr"
	"ChatBridge/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const DefaultConversationTitle = "Nueva Conversación"

func ListConversations(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		limit := queryInt(c, "limit", 10, 1, 100)
		convs := []models.Conversation{}
		err := env.DB.WithContext(c.Request.Context()).
			Where("user_id = ?", middleware.CurrentUserID(c)).
			Order("updated_at DESC").
			Limit(limit).
			Find(&convs).Error
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		apierr.OK(c, http.StatusOK, convs)
		return nil
	})
}

func CreateConversation(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		var body struct {
			Title string `json:"title"`
		}
		// empty body is fine
		if c.Request.ContentLength > 0 {
			if err := bindJSON(c, &body); err != nil {
				return err
			}
		}
		title := strings.TrimSpace(body.Title)
		if title == "" {
			title = DefaultConversationTitle
		}
		if len([]rune(title)) > 200 {
			title = string([]rune(title)[:200])
		}
		conv := models.Conversation{
			UserID: middleware.CurrentUserID(c),
			Title:  title,
			Status: models.ConversationActive,
		}
		if err := env.DB.WithContext(c.Request.Context()).Create(&conv).Error; err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		apierr.OK(c, http.StatusCreated, conv)
		return nil
	})
}

func conversationMessages(c *gin.Context, db *gorm.DB, conversationID string) ([]models.Message, error) {
	limit := queryInt(c, "limit", 50, 1, 500)
	msgs := []models.Message{}
	err := db.WithContext(c.Request.Context()).
		Preload("Attachments").
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func GetMessages(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		conv, err := ownedConversation(c.Request.Context(), env.DB, c.Param("conversation_id"), middleware.CurrentUserID(c))
		if err != nil {
			return err
		}
		msgs, err := conversationMessages(c, env.DB, conv.ID)
		if err != nil {
			return err
		}
		apierr.OK(c, http.StatusOK, msgs)
		return nil
	})
}

func UpdateConversationStatus(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		var body struct {
			Status string `json:"status"`
		}
		if err := bindJSON(c, &body); err != nil {
			return err
		}
		if !models.ValidConversationStatus(body.Status) {
			return apierr.BadRequest("status must be active, closed or archived")
		}
		ctx := c.Request.Context()
		conv, err := ownedConversation(ctx, env.DB, c.Param("conversation_id"), middleware.CurrentUserID(c))
		if err != nil {
			return err
		}
		err = env.DB.WithContext(ctx).Model(conv).
			Updates(map[string]any{"status": body.Status, "updated_at": time.Now()}).Error
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		conv.Status = body.Status
		apierr.OK(c, http.StatusOK, conv)
		return nil
	})
}

func DeleteConversation(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		ctx := c.Request.Context()
		conv, err := ownedConversation(ctx, env.DB, c.Param("conversation_id"), middleware.CurrentUserID(c))
		if err != nil {
			return err
		}
		err = env.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			msgIDs := tx.Model(&models.Message{}).Select("id").Where("conversation_id = ?", conv.ID)
			if err := tx.Where("message_id IN (?)", msgIDs).Delete(&models.Attachment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; err != nil {
				return err
			}
			if err := tx.Where("conversation_id = ?", conv.ID).Delete(&models.Takeover{}).Error; err != nil {
				return err
			}
			return tx.Delete(conv).Error
		})
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		apierr.OK(c, http.StatusOK, gin.H{"deleted": true, "conversation_id": conv.ID})
		return nil
	})
}

type conversationSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	BotPaused    bool      `json:"bot_paused"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int64     `json:"message_count"`
}

// AdminListConversations lists every conversation with its message count.
// Filters: search (title or id), status, paused.
func AdminListConversations(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		limit := queryInt(c, "limit", 50, 1, 200)
		page := queryInt(c, "page", 1, 1, 1<<20)

		q := env.DB.WithContext(c.Request.Context()).Model(&models.Conversation{})
		if s := strings.TrimSpace(c.Query("search")); s != "" {
			q = q.Where("(LOWER(conversations.title) LIKE ? OR CAST(conversations.id AS TEXT) = ?)", "%"+strings.ToLower(s)+"%", s)
		}
		if s := c.Query("status"); s != "" {
			if !models.ValidConversationStatus(s) {
				return apierr.BadRequest("status must be active, closed or archived")
			}
			q = q.Where("conversations.status = ?", s)
		}
		if p := c.Query("paused"); p != "" {
			q = q.Where("conversations.bot_paused = ?", p == "true" || p == "1")
		}

		var total int64
		if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			return fmt.Errorf("count conversations: %w", err)
		}
		rows := []conversationSummary{}
		err := q.Select("conversations.*, (SELECT COUNT(*) FROM messages WHERE messages.conversation_id = conversations.id) AS message_count").
			Order("conversations.created_at DESC").
			Limit(limit).
			Offset((page - 1) * limit).
			Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		apierr.OK(c, http.StatusOK, gin.H{
			"conversations": rows,
			"pagination":    gin.H{"page": page, "limit": limit, "total": total},
		})
		return nil
	})
}

func AdminConversationMessages(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		conv, err := findConversation(c.Request.Context(), env.DB, c.Param("conversation_id"))
		if err != nil {
			return err
		}
		msgs, err := conversationMessages(c, env.DB, conv.ID)
		if err != nil {
			return err
		}
		apierr.OK(c, http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
		return nil
	})
}

// AdminSendMessage posts an admin reply into a conversation, optionally
// consuming a pending enhancement draft.
func AdminSendMessage(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		var body struct {
			Content string `json:"content"`
			DraftID string `json:"draft_id"`
		}
		if err := bindJSON(c, &body); err != nil {
			return err
		}
		ctx := c.Request.Context()
		conv, err := findConversation(ctx, env.DB, c.Param("conversation_id"))
		if err != nil {
			return err
		}
		adminID := middleware.CurrentUserID(c)

		var msg models.Message
		err = env.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			content := strings.TrimSpace(body.Content)
			meta := map[string]any{}
			if body.DraftID != "" {
				var d models.AdminDraft
				// drafts made without a conversation may go anywhere
				err := tx.Where("id = ? AND status = ?", body.DraftID, models.StatusPending).
					Where("conversation_id = ? OR conversation_id IS NULL", conv.ID).
					Take(&d).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apierr.NotFound("Borrador no encontrado")
				}
				if err != nil {
					return fmt.Errorf("load draft: %w", err)
				}
				if content == "" {
					content = d.DraftText
				}
				meta["draft_id"] = d.ID
				if err := tx.Model(&d).Update("status", models.StatusSent).Error; err != nil {
					return fmt.Errorf("mark draft sent: %w", err)
				}
			}
			if content == "" {
				return apierr.BadRequest("missing required fields: content")
			}
			msg = models.Message{
				ConversationID: conv.ID,
				Sender:         models.SenderAdmin,
				SenderID:       strPtr(adminID),
				Content:        content,
				Metadata:       jsonColumn(meta),
			}
			if err := tx.Create(&msg).Error; err != nil {
				return fmt.Errorf("save admin message: %w", err)
			}
			return tx.Model(conv).Update("updated_at", time.Now()).Error
		})
		if err != nil {
			return err
		}

		err = env.notifier().Publish(ctx, notify.Message{
			Type:           notify.AdminMessage,
			ConversationID: conv.ID,
			Payload:        map[string]any{"message_id": msg.ID, "content": msg.Content},
		})
		if err != nil {
			log.Printf("[conversation] publish %s: %v", conv.ID, err)
		}
		apierr.OK(c, http.StatusCreated, msg)
		return nil
	})
}

// AdminDashboard returns the headline counts and the latest events.
func AdminDashboard(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		db := env.DB.WithContext(c.Request.Context())
		var convs, msgs, docs, takeovers int64
		counts := []struct {
			q   *gorm.DB
			dst *int64
		}{
			{db.Model(&models.Conversation{}), &convs},
			{db.Model(&models.Message{}), &msgs},
			{db.Model(&models.Document{}), &docs},
			{db.Model(&models.Takeover{}).Where("active = ?", true), &takeovers},
		}
		for _, n := range counts {
			if err := n.q.Count(n.dst).Error; err != nil {
				return fmt.Errorf("dashboard count: %w", err)
			}
		}
		events := []models.Event{}
		if err := db.Order("created_at DESC").Limit(10).Find(&events).Error; err != nil {
			return fmt.Errorf("recent events: %w", err)
		}
		apierr.OK(c, http.StatusOK, gin.H{
			"total_conversations": convs,
			"total_messages":      msgs,
			"total_documents":     docs,
			"active_takeovers":    takeovers,
			"recent_events":       events,
		})
		return nil
	})
}

// AdminAnalytics summarises bot replies per provider.
func AdminAnalytics(env *Env) gin.HandlerFunc {
	return apierr.Handle("CONVERSATION_ERROR", func(c *gin.Context) error {
		var rows []struct {
			LLMProvider string
			Replies     int64
			TotalTime   int64
			TotalTokens int64
		}
		err := env.DB.WithContext(c.Request.Context()).Model(&models.Message{}).
			Select("llm_provider, COUNT(*) AS replies, COALESCE(SUM(processing_time_ms), 0) AS total_time, COALESCE(SUM(tokens_estimated), 0) AS total_tokens").
			Where("sender = ? AND llm_provider IS NOT NULL AND llm_provider <> ''", models.SenderBot).
			Group("llm_provider").
			Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}

		var replies, totalTime, totalTokens int64
		for _, r := range rows {
			replies += r.Replies
			totalTime += r.TotalTime
			totalTokens += r.TotalTokens
		}
		share := map[string]float64{}
		var avg int64
		if replies > 0 {
			total := decimal.NewFromInt(replies)
			for _, r := range rows {
				share[r.LLMProvider] = decimal.NewFromInt(r.Replies * 100).Div(total).Round(1).InexactFloat64()
			}
			avg = decimal.NewFromInt(totalTime).Div(total).Round(0).IntPart()
		}
		apierr.OK(c, http.StatusOK, gin.H{
			"total_replies":       replies,
			"provider_share":      share,
			"avg_processing_time": avg,
			"total_tokens":        totalTokens,
			"generated_at":        time.Now().UTC(),
		})
		return nil
	})
}
