package services

import (
	"context"
	"strings"

	"persona-kb/internal/middleware"
	"persona-kb/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// StatsReporter is the read-only diagnostic surface. It never swallows errors.
type StatsReporter struct {
	sources  SourceRepository
	chunks   ChunkRepository
	index    VectorIndex
	embedder EmbeddingProvider
}

func NewStatsReporter(sources SourceRepository, chunks ChunkRepository, index VectorIndex, embedder EmbeddingProvider) *StatsReporter {
	return &StatsReporter{
		sources:  sources,
		chunks:   chunks,
		index:    index,
		embedder: embedder,
	}
}

// Stats counts the sources and passages of a persona. A persona is ready for
// chat once at least one source has been processed.
func (s *StatsReporter) Stats(ctx context.Context, personaID string) (*models.PersonaStats, error) {
	if strings.TrimSpace(personaID) == "" {
		return nil, ErrPersonaRequired
	}

	ctx, span := middleware.StartSpan(ctx, "StatsReporter.Stats", attribute.String("persona.id", personaID))
	defer span.End()

	statuses, err := s.sources.CountByStatus(ctx, personaID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	processed, err := s.sources.CountProcessed(ctx, personaID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	passages, err := s.chunks.CountByPersona(ctx, personaID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	var total int64
	for _, n := range statuses {
		total += int64(n)
	}

	return &models.PersonaStats{
		PersonaID:          personaID,
		TotalSources:       total,
		ProcessedSources:   processed,
		TotalChunks:        passages,
		ProcessingStatuses: statuses,
		ReadyForChat:       processed > 0,
	}, nil
}

// Health checks the vector index. An unreachable index reports degraded
// rather than failing, so the check itself always answers.
func (s *StatsReporter) Health(ctx context.Context) *models.HealthStatus {
	ctx, span := middleware.StartSpan(ctx, "StatsReporter.Health")
	defer span.End()

	status := &models.HealthStatus{
		Status:             "healthy",
		ProviderConfigured: s.embedder.Configured(),
		Provider:           s.embedder.Name(),
		CollectionName:     s.index.Name(),
	}

	count, err := s.index.Count(ctx, nil)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		status.Status = "degraded"
		status.IndexError = err.Error()
		return status
	}

	status.IndexConnected = true
	status.EntryCount = count
	return status
}
