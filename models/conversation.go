package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConversationActive   = "active"
	ConversationClosed   = "closed"
	ConversationArchived = "archived"
)

type Conversation struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Title     string    `gorm:"size:200" json:"title"`
	Status    string    `gorm:"size:20;not null;index" json:"status"`
	BotPaused bool      `gorm:"not null" json:"bot_paused"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `gorm:"constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	assignID(&c.ID)
	if c.Status == "" {
		c.Status = ConversationActive
	}
	return nil
}

func ValidConversationStatus(s string) bool {
	switch s {
	case ConversationActive, ConversationClosed, ConversationArchived:
		return true
	}
	return false
}

func assignID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
