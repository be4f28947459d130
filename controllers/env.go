package controllers

import (
	"context"
	"encoding/json"
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
	"ChatBridge/pkg/config"
	"ChatBridge/pkg/notify"
	"ChatBridge/pkg/ratelimit"
	"ChatBridge/pkg/services"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Env carries the shared dependencies of every handler.
type Env struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Router   *services.Router
	Embedder services.Embedder
	Storage  services.Storage
	Auth     services.Authenticator
	Limiter  ratelimit.Limiter
	Notifier notify.Notifier
}

func (e *Env) ingestor() *services.Ingestor {
	return &services.Ingestor{DB: e.DB, Embedder: e.Embedder, Storage: e.Storage}
}

func (e *Env) notifier() notify.Notifier {
	if e.Notifier == nil {
		return notify.Nop{}
	}
	return e.Notifier
}

// jsonBodyLimit caps request bodies that carry no file.
const jsonBodyLimit = 1 << 20

// payloadBodyLimit is the largest JSON body that can carry a base64 file of
// maxBytes, with room left for the other fields.
func payloadBodyLimit(maxBytes int64) int64 {
	return (maxBytes+2)/3*4 + 64<<10
}

func bindJSON(c *gin.Context, dst any) error {
	return bindJSONWithin(c, dst, jsonBodyLimit)
}

// bindJSONWithin stops reading after limit bytes so oversized bodies are
// rejected before they are buffered.
func bindJSONWithin(c *gin.Context, dst any, limit int64) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apierr.TooLarge(fmt.Sprintf("Solicitud demasiado grande: máximo %d bytes", limit))
		}
		return apierr.BadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return apierr.BadRequest("missing required fields: " + strings.Join(missing, ", "))
}

// requireOwnConversation accepts an empty id; a set id must belong to the
// caller.
func (e *Env) requireOwnConversation(c *gin.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := ownedConversation(c.Request.Context(), e.DB, id, middleware.CurrentUserID(c))
	return err
}

// ownedConversation loads a conversation of userID. Someone else's
// conversation is reported as missing.
func ownedConversation(ctx context.Context, db *gorm.DB, id, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("Conversación no encontrada")
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &conv, nil
}

func findConversation(ctx context.Context, db *gorm.DB, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.WithContext(ctx).Where("id = ?", id).Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("Conversación no encontrada")
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &conv, nil
}

// selectProvider maps router errors onto client-facing ones.
func (e *Env) selectProvider(name string) (services.Provider, error) {
	p, err := e.Router.Select(name)
	switch {
	case errors.Is(err, services.ErrUnknownProvider):
		return nil, apierr.BadRequest(err.Error())
	case errors.Is(err, services.ErrNoProvider):
		return nil, apierr.Unavailable("No hay proveedores LLM configurados", err)
	}
	return p, err
}

func (e *Env) event(c *gin.Context, in services.EventInput) {
	if in.UserID == "" {
		in.UserID = middleware.CurrentUserID(c)
	}
	// logged inside; the request already succeeded
	_ = services.RecordEvent(c.Request.Context(), e.DB, in)
}

func jsonColumn(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("[controllers] encode json column: %v", err)
		return nil
	}
	return datatypes.JSON(b)
}

func sinceMS(start time.Time) int64 { return time.Since(start).Milliseconds() }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
