package models

import (
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Chunk is one passage of a Source. ChunkIndex values for a source are
// contiguous from 0 and define citation order.
type Chunk struct {
	ID             string         `json:"id" gorm:"type:char(27);primaryKey"`
	SourceID       string         `json:"source_id" gorm:"type:char(27);not null;uniqueIndex:idx_chunks_source_ordinal"`
	PersonaID      string         `json:"persona_id" gorm:"type:varchar(64);not null;index"`
	ChunkIndex     int            `json:"chunk_index" gorm:"not null;uniqueIndex:idx_chunks_source_ordinal"`
	Content        string         `json:"content" gorm:"type:text;not null"`
	TokenCount     int            `json:"token_count" gorm:"not null"`
	EmbeddingModel string         `json:"embedding_model" gorm:"type:varchar(100);not null"`
	EmbeddingID    string         `json:"embedding_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Metadata       map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`

	Source *Source `json:"-" gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate hook generates KSUID before inserting
func (c *Chunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}

// ChunkKey is the vector index key of a passage. The format is shared with
// data already stored in the index and must not change.
func ChunkKey(personaID, sourceID string, ordinal int) string {
	return fmt.Sprintf("%s_%s_%d", personaID, sourceID, ordinal)
}
