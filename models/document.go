package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EmbeddingDimensions matches text-embedding-ada-002.
const EmbeddingDimensions = 1536

// Document is one chunk of an ingested file. Multi-chunk files share the
// storage path and carry chunk_index/total_chunks.
type Document struct {
	ID          string                      `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string                      `gorm:"size:500;not null;index" json:"title"`
	Content     string                      `gorm:"type:text;not null" json:"content"`
	MimeType    string                      `gorm:"size:100" json:"mime_type"`
	StoragePath string                      `gorm:"size:500;index" json:"storage_path,omitempty"`
	FileSize    int64                       `json:"file_size"`
	ChunkIndex  int                         `gorm:"not null" json:"chunk_index"`
	TotalChunks int                         `gorm:"not null" json:"total_chunks"`
	Embedding   *pgvector.Vector            `gorm:"type:vector(1536)" json:"-"`
	Metadata    datatypes.JSON              `gorm:"type:jsonb" json:"metadata,omitempty"`
	Tags        datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"tags"`
	IsPublic    bool                        `gorm:"not null" json:"is_public"`
	UploadedBy  string                      `gorm:"type:uuid;index" json:"uploaded_by"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	assignID(&d.ID)
	if d.Tags == nil {
		d.Tags = datatypes.JSONSlice[string]{}
	}
	if d.TotalChunks == 0 {
		d.TotalChunks = 1
	}
	return nil
}
