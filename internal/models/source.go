package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type SourceType string

const (
	SourceTypeText SourceType = "text"
	SourceTypeURL  SourceType = "url"
	SourceTypeFile SourceType = "file"
)

// SourceStatus is the processing state of a Source.
//
//	pending -> processing -> completed | failed
//
// completed and failed both re-enter processing when re-triggered.
type SourceStatus string

const (
	StatusPending    SourceStatus = "pending"
	StatusProcessing SourceStatus = "processing"
	StatusCompleted  SourceStatus = "completed"
	StatusFailed     SourceStatus = "failed"
)

// MaxPersonaIDLength is the width of the persona_id columns.
const MaxPersonaIDLength = 64

// Source is a free-text document attached to exactly one persona.
// Personas live outside this service, so PersonaID is an opaque reference.
type Source struct {
	ID           string         `json:"id" gorm:"type:char(27);primaryKey"`
	PersonaID    string         `json:"persona_id" gorm:"type:varchar(64);not null;index"`
	Title        string         `json:"title" gorm:"type:text;not null"`
	SourceType   SourceType     `json:"source_type" gorm:"type:varchar(20);not null;default:'text'"`
	Content      string         `json:"content" gorm:"type:text;not null"`
	Status       SourceStatus   `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	IsProcessed  bool           `json:"is_processed" gorm:"not null;default:false"`
	ChunkCount   int            `json:"chunk_count" gorm:"not null;default:0"`
	ErrorMessage *string        `json:"error_message,omitempty" gorm:"type:text"`
	Metadata     map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}

type SourceCreate struct {
	PersonaID  string         `json:"-"`
	Title      string         `json:"title"`
	SourceType SourceType     `json:"source_type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
}

// SourceState carries a status transition. Nil pointers leave the column untouched.
type SourceState struct {
	Status       SourceStatus
	IsProcessed  *bool
	ChunkCount   *int
	ErrorMessage *string
	ClearError   bool
	ProcessedAt  *time.Time
}
