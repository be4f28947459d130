package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultTakeoverReason = "Intervención administrativa"

type Takeover struct {
	ID             string     `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string     `gorm:"type:uuid;not null;index" json:"conversation_id"`
	AdminID        string     `gorm:"type:uuid;not null" json:"admin_id"`
	Active         bool       `gorm:"not null;index" json:"active"`
	Reason         string     `gorm:"size:500" json:"reason"`
	Notes          string     `gorm:"type:text" json:"notes,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
}

func (t *Takeover) BeforeCreate(tx *gorm.DB) error {
	assignID(&t.ID)
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	return nil
}

// AdminDraft is a rewritten reply waiting for an admin to send or discard it.
type AdminDraft struct {
	ID                   string         `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID       *string        `gorm:"type:uuid;index" json:"conversation_id"`
	OriginalMessageID    *string        `gorm:"type:uuid" json:"original_message_id"`
	OriginalText         string         `gorm:"type:text;not null" json:"original_text"`
	DraftText            string         `gorm:"type:text;not null" json:"draft_text"`
	EnhancementStyle     string         `gorm:"size:30" json:"enhancement_style"`
	EnhancementIntensity int            `json:"enhancement_intensity"`
	Status               string         `gorm:"size:20;not null" json:"status"`
	DiffData             datatypes.JSON `gorm:"type:jsonb" json:"diff_data"`
	Metrics              datatypes.JSON `gorm:"type:jsonb" json:"metrics"`
	CreatedBy            string         `gorm:"type:uuid" json:"created_by"`
	CreatedAt            time.Time      `json:"created_at"`
}

func (d *AdminDraft) BeforeCreate(tx *gorm.DB) error {
	assignID(&d.ID)
	if d.Status == "" {
		d.Status = StatusPending
	}
	return nil
}
