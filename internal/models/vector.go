package models

import "github.com/pgvector/pgvector-go"

// IndexEntry is what the processor hands to the vector index.
type IndexEntry struct {
	ID        string
	PersonaID string
	SourceID  string
	Vector    []float32
	Text      string
	Metadata  map[string]any
}

// IndexMatch is one hit from a vector index query. Distance is in [0,1],
// lower is closer.
type IndexMatch struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// IndexFilter scopes an index operation. PersonaID is mandatory for queries.
type IndexFilter struct {
	PersonaID string
	SourceID  string
}

// VectorEntry is the pgvector row backing the index. The table is created
// by db.Migrate so the vector column can carry the configured dimension.
type VectorEntry struct {
	ID        string          `gorm:"type:varchar(255);primaryKey"`
	PersonaID string          `gorm:"type:varchar(64);not null;index"`
	SourceID  string          `gorm:"type:char(27);not null;index"`
	Embedding pgvector.Vector `gorm:"type:vector;not null"`
	Text      string          `gorm:"type:text;not null"`
	Metadata  map[string]any  `gorm:"type:jsonb;serializer:json"`
}
