package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SenderUser   = "user"
	SenderBot    = "bot"
	SenderAdmin  = "admin"
	SenderSystem = "system"

	MessageText   = "text"
	MessageImage  = "image"
	MessageAudio  = "audio"
	MessageFile   = "file"
	MessageSystem = "system"

	StatusPending = "pending"
	StatusSent    = "sent"
	StatusError   = "error"
)

type Message struct {
	ID               string         `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID   string         `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Sender           string         `gorm:"size:20;not null" json:"sender"`
	SenderID         *string        `gorm:"type:uuid" json:"sender_id"`
	Content          string         `gorm:"type:text;not null" json:"content"`
	Type             string         `gorm:"size:20;not null" json:"type"`
	Status           string         `gorm:"size:20;not null" json:"status"`
	LLMProvider      string         `gorm:"column:llm_provider;size:30" json:"llm_provider,omitempty"`
	TokensEstimated  int            `gorm:"column:tokens_estimated" json:"tokens_estimated,omitempty"`
	ProcessingTimeMS int64          `gorm:"column:processing_time_ms" json:"processing_time_ms,omitempty"`
	Metadata         datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Attachments      []Attachment   `gorm:"constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	assignID(&m.ID)
	if m.Type == "" {
		m.Type = MessageText
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	return nil
}

type Attachment struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID   string    `gorm:"type:uuid;not null;index" json:"message_id"`
	Kind        string    `gorm:"size:20;not null" json:"kind"`
	StoragePath string    `gorm:"size:500" json:"storage_path"`
	PublicURL   string    `gorm:"size:1000" json:"public_url"`
	MimeType    string    `gorm:"size:100" json:"mime_type"`
	SizeBytes   int64     `json:"size_bytes"`
	AltText     string    `gorm:"size:500" json:"alt_text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) error {
	assignID(&a.ID)
	return nil
}

// AttachmentKind maps a mime type onto image, audio or file.
func AttachmentKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MessageImage
	case strings.HasPrefix(mimeType, "audio/"):
		return MessageAudio
	default:
		return MessageFile
	}
}
