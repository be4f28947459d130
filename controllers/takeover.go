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
	"ChatBridge/pkg/notify"
	"ChatBridge/pkg/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type takeoverRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
	Notes          string `json:"notes"`
}

var takeoverActions = []string{"start", "end", "pause_bot", "resume_bot", "status"}

// Takeover lets an admin step into a conversation and pause the bot.
func Takeover(env *Env) gin.HandlerFunc {
	return apierr.Handle("TAKEOVER_ERROR", func(c *gin.Context) error {
		var req takeoverRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		if err := required(map[string]string{"action": req.Action, "conversationId": req.ConversationID}); err != nil {
			return err
		}
		if !slices.Contains(takeoverActions, req.Action) {
			return apierr.BadRequest("Invalid action. Must be one of: " + strings.Join(takeoverActions, ", "))
		}

		ctx := c.Request.Context()
		adminID := middleware.CurrentUserID(c)
		conv, err := findConversation(ctx, env.DB, req.ConversationID)
		if err != nil {
			return err
		}

		var result gin.H
		switch req.Action {
		case "start":
			result, err = startTakeover(ctx, env.DB, conv.ID, adminID, req.Reason, req.Notes)
		case "end":
			result, err = endTakeover(ctx, env.DB, conv.ID)
		case "pause_bot":
			result, err = setBotPaused(ctx, env.DB, conv.ID, true)
		case "resume_bot":
			result, err = setBotPaused(ctx, env.DB, conv.ID, false)
		case "status":
			result, err = takeoverStatus(ctx, env.DB, conv.ID)
		}
		if err != nil {
			return err
		}

		if req.Action != "status" {
			msg := notify.Message{Type: notify.TakeoverChange, ConversationID: conv.ID, Payload: map[string]any{"action": req.Action}}
			for k, v := range result {
				msg.Payload[k] = v
			}
			if err := env.notifier().Publish(ctx, msg); err != nil {
				log.Printf("[takeover] publish %s: %v", conv.ID, err)
			}
		}
		env.event(c, services.EventInput{
			Type:           services.EventTakeoverAction,
			Source:         models.SenderAdmin,
			ConversationID: conv.ID,
			Data: map[string]any{
				"action": req.Action,
				"reason": req.Reason,
				"notes":  req.Notes,
				"result": result,
			},
		})

		data := gin.H{"action": req.Action, "conversation_id": conv.ID}
		for k, v := range result {
			data[k] = v
		}
		apierr.OK(c, http.StatusOK, data)
		return nil
	})
}

func activeTakeover(tx *gorm.DB, conversationID string) (*models.Takeover, error) {
	var t models.Takeover
	err := tx.Where("conversation_id = ? AND active = ?", conversationID, true).
		Order("started_at DESC").
		Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load takeover: %w", err)
	}
	return &t, nil
}

func pauseConversation(tx *gorm.DB, conversationID string, paused bool) error {
	err := tx.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{"bot_paused": paused, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("update bot_paused: %w", err)
	}
	return nil
}

var errTakeoverActive = apierr.Conflict("TAKEOVER_ACTIVE", "Takeover already active for this conversation")

// insertTakeover relies on idx_takeovers_one_active when two starts race
// past the lookup.
func insertTakeover(tx *gorm.DB, t *models.Takeover) error {
	err := tx.Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errTakeoverActive
	}
	if err != nil {
		return fmt.Errorf("create takeover: %w", err)
	}
	return nil
}

func startTakeover(ctx context.Context, db *gorm.DB, conversationID, adminID, reason, notes string) (gin.H, error) {
	if strings.TrimSpace(reason) == "" {
		reason = models.DefaultTakeoverReason
	}
	var t models.Takeover
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := activeTakeover(tx, conversationID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errTakeoverActive
		}
		t = models.Takeover{
			ConversationID: conversationID,
			AdminID:        adminID,
			Active:         true,
			Reason:         reason,
			Notes:          notes,
		}
		if err := insertTakeover(tx, &t); err != nil {
			return err
		}
		return pauseConversation(tx, conversationID, true)
	})
	if err != nil {
		return nil, err
	}
	return gin.H{"takeover_id": t.ID, "status": "started", "bot_paused": true, "admin_id": adminID}, nil
}

func endTakeover(ctx context.Context, db *gorm.DB, conversationID string) (gin.H, error) {
	var id string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := activeTakeover(tx, conversationID)
		if err != nil {
			return err
		}
		if t == nil {
			return apierr.NotFound("No active takeover found for this conversation")
		}
		id = t.ID
		now := time.Now()
		if err := tx.Model(t).Updates(map[string]any{"active": false, "ended_at": &now}).Error; err != nil {
			return fmt.Errorf("end takeover: %w", err)
		}
		return pauseConversation(tx, conversationID, false)
	})
	if err != nil {
		return nil, err
	}
	return gin.H{"takeover_id": id, "status": "ended", "bot_paused": false}, nil
}

func setBotPaused(ctx context.Context, db *gorm.DB, conversationID string, paused bool) (gin.H, error) {
	if err := pauseConversation(db.WithContext(ctx), conversationID, paused); err != nil {
		return nil, err
	}
	status := "bot_resumed"
	if paused {
		status = "bot_paused"
	}
	return gin.H{"status": status, "bot_paused": paused}, nil
}

func takeoverStatus(ctx context.Context, db *gorm.DB, conversationID string) (gin.H, error) {
	tx := db.WithContext(ctx)
	t, err := activeTakeover(tx, conversationID)
	if err != nil {
		return nil, err
	}
	conv, err := findConversation(ctx, db, conversationID)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"has_active_takeover": t != nil,
		"takeover":            t,
		"bot_paused":          conv.BotPaused,
		"conversation_status": conv.Status,
	}, nil
}
