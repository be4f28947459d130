package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event rows are only ever inserted.
type Event struct {
	ID             string         `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID *string        `gorm:"type:uuid;index" json:"conversation_id"`
	UserID         *string        `gorm:"type:uuid;index" json:"user_id"`
	EventType      string         `gorm:"size:60;not null;index" json:"event_type"`
	EventData      datatypes.JSON `gorm:"type:jsonb" json:"event_data"`
	Source         string         `gorm:"size:20;not null" json:"source"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	assignID(&e.ID)
	return nil
}

type Profile struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"size:255" json:"email"`
	FullName  string    `gorm:"size:200" json:"full_name"`
	Role      string    `gorm:"size:20;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

const RoleAdmin = "admin"

func (p *Profile) IsAdmin() bool { return p.Role == RoleAdmin }

type RateLimit struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	Identifier  string    `gorm:"size:200;not null;index:idx_rate_limits_lookup"`
	Endpoint    string    `gorm:"size:100;not null;index:idx_rate_limits_lookup"`
	Count       int       `gorm:"not null"`
	WindowStart time.Time `gorm:"not null;index:idx_rate_limits_lookup"`
}

func (r *RateLimit) BeforeCreate(tx *gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// All lists every table, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Profile{},
		&Conversation{},
		&Message{},
		&Attachment{},
		&Document{},
		&Takeover{},
		&AdminDraft{},
		&Event{},
		&RateLimit{},
	}
}
