package services

import (
	"context"
	"encoding/json"
	"log"

	"ChatBridge/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventChatResponse      = "chat_response"
	EventAudioTranscribed  = "audio_transcribed"
	EventImageAnalyzed     = "image_analyzed"
	EventTextEnhanced      = "text_enhanced"
	EventRAGSearch         = "rag_search"
	EventFileUploaded      = "file_uploaded"
	EventDocumentUploaded  = "document_uploaded"
	EventDocumentUpdated   = "document_updated"
	EventDocumentDeleted   = "document_deleted"
	EventDocumentReindexed = "document_reindexed"
	EventTakeoverAction    = "takeover_action"
)

type EventInput struct {
	Type           string
	Source         string
	ConversationID string
	UserID         string
	Data           map[string]any
}

// RecordEvent appends one row to the event log. A failure is logged and
// returned but callers treat it as non-fatal.
func RecordEvent(ctx context.Context, db *gorm.DB, in EventInput) error {
	data, err := json.Marshal(in.Data)
	if err != nil {
		log.Printf("[events] encode %s: %v", in.Type, err)
		return err
	}
	ev := models.Event{
		EventType: in.Type,
		EventData: datatypes.JSON(data),
		Source:    in.Source,
	}
	if in.ConversationID != "" {
		ev.ConversationID = &in.ConversationID
	}
	if in.UserID != "" {
		ev.UserID = &in.UserID
	}
	if err := db.WithContext(ctx).Create(&ev).Error; err != nil {
		log.Printf("[events] insert %s failed: %v", in.Type, err)
		return err
	}
	return nil
}
