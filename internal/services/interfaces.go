package services

import (
	"context"
	"time"

	"persona-kb/internal/models"
	"persona-kb/internal/openai"
)

// Interfaces live with their consumer: this package declares only what the
// pipeline calls on each collaborator.

// SourceRepository is the relational store for sources.
type SourceRepository interface {
	Create(ctx context.Context, in *models.SourceCreate) (*models.Source, error)
	GetByID(ctx context.Context, id string) (*models.Source, error)
	ListByPersona(ctx context.Context, personaID string, limit, offset int) ([]*models.Source, error)
	UpdateState(ctx context.Context, id string, state models.SourceState) error
	CompleteProcessing(ctx context.Context, id string, chunks []*models.Chunk, processedAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByPersona(ctx context.Context, personaID string) error
	CountByStatus(ctx context.Context, personaID string) (map[models.SourceStatus]int, error)
	CountProcessed(ctx context.Context, personaID string) (int64, error)
}

// ChunkRepository is the relational store for passages.
type ChunkRepository interface {
	ListBySource(ctx context.Context, sourceID string) ([]*models.Chunk, error)
	DeleteBySource(ctx context.Context, sourceID string) error
	DeleteByPersona(ctx context.Context, personaID string) error
	CountByPersona(ctx context.Context, personaID string) (int64, error)
}

// VectorIndex is the persona-partitioned similarity store.
type VectorIndex interface {
	Name() string
	Upsert(ctx context.Context, entries []models.IndexEntry) error
	Query(ctx context.Context, vector []float32, topK int, filter models.IndexFilter) ([]models.IndexMatch, error)
	Count(ctx context.Context, filter *models.IndexFilter) (int64, error)
	Delete(ctx context.Context, ids []string) error
	DeleteBySource(ctx context.Context, personaID, sourceID string) error
	DeleteByPersona(ctx context.Context, personaID string) error
}

// EmbeddingProvider turns text into a vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Model() string
	Dimension() int
	Configured() bool
}

// Segmenter splits source text into passages.
type Segmenter interface {
	Segment(text string) []string
}

// StatusPublisher receives source status transitions.
type StatusPublisher interface {
	Publish(event models.SourceEvent)
}

// Responder generates the persona's reply.
type Responder interface {
	ChatCompletion(ctx context.Context, messages []openai.ChatMessage) (string, error)
}

type noopPublisher struct{}

func (noopPublisher) Publish(models.SourceEvent) {}
