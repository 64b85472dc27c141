package api

import (
	"context"
	"net/http"

	"persona-kb/internal/models"
	"persona-kb/internal/services"
)

// Handlers depend on the narrow slices of the services they call.

// SourceService drives the source lifecycle.
type SourceService interface {
	Submit(ctx context.Context, in *models.SourceCreate) (*models.Source, error)
	Process(ctx context.Context, sourceID string) (*models.Source, error)
	DeleteSource(ctx context.Context, sourceID string) error
	DeletePersona(ctx context.Context, personaID string) error
}

// SourceReader reads sources and their passages.
type SourceReader interface {
	GetByID(ctx context.Context, id string) (*models.Source, error)
	ListByPersona(ctx context.Context, personaID string, limit, offset int) ([]*models.Source, error)
}

type ChunkReader interface {
	ListBySource(ctx context.Context, sourceID string) ([]*models.Chunk, error)
}

// ProcessingQueue schedules background processing runs.
type ProcessingQueue interface {
	Enqueue(ctx context.Context, sourceID string) error
	Len() int
}

type Retriever interface {
	Retrieve(ctx context.Context, personaID, query string, topK int) ([]models.RetrievalResult, error)
}

type ChatService interface {
	Reply(ctx context.Context, req *services.ChatRequest) (*services.ChatReply, error)
}

type StatsService interface {
	Stats(ctx context.Context, personaID string) (*models.PersonaStats, error)
	Health(ctx context.Context) *models.HealthStatus
}

// StatusFeed serves the websocket feed of source status events.
type StatusFeed interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}
