package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"persona-kb/internal/middleware"
	"persona-kb/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrPersonaRequired is returned when an operation is called without a persona id.
	ErrPersonaRequired = errors.New("persona id is required")
	// ErrInvalidSource wraps rejected submissions.
	ErrInvalidSource = errors.New("invalid source")
)

// SourceProcessor turns a Source into indexed passages and drives its
// pending -> processing -> completed|failed state machine.
//
// A processing run embeds every passage before touching either store. Only
// then are the previous passages invalidated, the new index entries upserted
// in one batch and the relational rows written in one transaction. A failure
// after invalidation removes whatever the run wrote, so a source ends with
// either its previous passage set or none.
type SourceProcessor struct {
	sources   SourceRepository
	chunks    ChunkRepository
	index     VectorIndex
	embedder  EmbeddingProvider
	segmenter Segmenter
	publisher StatusPublisher
	locks     *keyedMutex
	now       func() time.Time
}

// NewSourceProcessor wires the pipeline. publisher may be nil.
func NewSourceProcessor(
	sources SourceRepository,
	chunks ChunkRepository,
	index VectorIndex,
	embedder EmbeddingProvider,
	segmenter Segmenter,
	publisher StatusPublisher,
) *SourceProcessor {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &SourceProcessor{
		sources:   sources,
		chunks:    chunks,
		index:     index,
		embedder:  embedder,
		segmenter: segmenter,
		publisher: publisher,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// Submit stores a new pending source for a persona.
func (p *SourceProcessor) Submit(ctx context.Context, in *models.SourceCreate) (*models.Source, error) {
	ctx, span := middleware.StartSpan(ctx, "SourceProcessor.Submit",
		attribute.String("persona.id", in.PersonaID),
		attribute.Int("content.length", len(in.Content)),
	)
	defer span.End()

	if strings.TrimSpace(in.PersonaID) == "" {
		return nil, ErrPersonaRequired
	}
	if utf8.RuneCountInString(in.PersonaID) > models.MaxPersonaIDLength {
		return nil, fmt.Errorf("%w: persona id longer than %d characters", ErrInvalidSource, models.MaxPersonaIDLength)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidSource)
	}
	switch in.SourceType {
	case "", models.SourceTypeText, models.SourceTypeURL, models.SourceTypeFile:
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidSource, in.SourceType)
	}

	source, err := p.sources.Create(ctx, in)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	p.publish(source, "")
	return source, nil
}

// Process (re)builds the passages of one source. Calls for the same source
// are serialised; different sources proceed independently. The returned
// source reflects the terminal state even when err is non-nil.
func (p *SourceProcessor) Process(ctx context.Context, sourceID string) (*models.Source, error) {
	unlock := p.locks.Lock(sourceID)
	defer unlock()

	runID := uuid.NewString()
	ctx, span := middleware.StartSpan(ctx, "SourceProcessor.Process",
		attribute.String("source.id", sourceID),
		attribute.String("run.id", runID),
	)
	defer span.End()

	source, err := p.sources.GetByID(ctx, sourceID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("persona.id", source.PersonaID))

	if err := p.sources.UpdateState(ctx, source.ID, models.SourceState{Status: models.StatusProcessing}); err != nil {
		middleware.AddSpanError(ctx, err)
		return source, fmt.Errorf("failed to mark source processing: %w", err)
	}
	source.Status = models.StatusProcessing
	p.publish(source, "")

	log.Printf("[run %s] Processing source %s for persona %s", runID, source.ID, source.PersonaID)
	started := p.now()

	entries, chunks, err := p.prepare(ctx, source, runID)
	if err != nil {
		return p.fail(ctx, source, runID, err, false, nil)
	}

	// From here on the previous passage set is gone.
	if err := p.index.DeleteBySource(ctx, source.PersonaID, source.ID); err != nil {
		return p.fail(ctx, source, runID, err, true, nil)
	}

	attempted := make([]string, len(entries))
	for i, e := range entries {
		attempted[i] = e.ID
	}

	if err := p.index.Upsert(ctx, entries); err != nil {
		return p.fail(ctx, source, runID, err, true, attempted)
	}
	middleware.AddSpanEvent(ctx, "index_upserted", attribute.Int("entries", len(entries)))

	processedAt := p.now()
	for _, c := range chunks {
		c.Metadata["processed_at"] = processedAt.UTC().Format(time.RFC3339Nano)
	}
	if err := p.sources.CompleteProcessing(ctx, source.ID, chunks, processedAt); err != nil {
		return p.fail(ctx, source, runID, err, true, attempted)
	}

	source.Status = models.StatusCompleted
	source.IsProcessed = true
	source.ChunkCount = len(chunks)
	source.ErrorMessage = nil
	source.ProcessedAt = &processedAt
	p.publish(source, "")

	log.Printf("[run %s] ✓ Source %s processed: %d passages in %s",
		runID, source.ID, len(chunks), processedAt.Sub(started).Round(time.Millisecond))

	return source, nil
}

// prepare segments and embeds a source without writing anything.
func (p *SourceProcessor) prepare(ctx context.Context, source *models.Source, runID string) ([]models.IndexEntry, []*models.Chunk, error) {
	if strings.TrimSpace(source.Content) == "" {
		return nil, nil, &models.ProcessingError{SourceID: source.ID, Reason: "content is empty"}
	}

	passages := p.segmenter.Segment(source.Content)
	if len(passages) == 0 {
		return nil, nil, &models.ProcessingError{SourceID: source.ID, Reason: "segmentation produced no passages"}
	}

	dim := p.embedder.Dimension()
	model := p.embedder.Model()

	entries := make([]models.IndexEntry, 0, len(passages))
	chunks := make([]*models.Chunk, 0, len(passages))

	for i, text := range passages {
		vec, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to embed passage %d: %w", i, err)
		}
		if len(vec) != dim {
			return nil, nil, &models.ProcessingError{
				SourceID: source.ID,
				Reason:   fmt.Sprintf("passage %d embedded to %d dimensions, want %d", i, len(vec), dim),
			}
		}

		key := models.ChunkKey(source.PersonaID, source.ID, i)
		entries = append(entries, models.IndexEntry{
			ID:        key,
			PersonaID: source.PersonaID,
			SourceID:  source.ID,
			Vector:    vec,
			Text:      text,
			Metadata: map[string]any{
				"persona_id":      source.PersonaID,
				"source_id":       source.ID,
				"source_title":    source.Title,
				"chunk_index":     i,
				"embedding_model": model,
				"run_id":          runID,
			},
		})
		chunks = append(chunks, &models.Chunk{
			SourceID:       source.ID,
			PersonaID:      source.PersonaID,
			ChunkIndex:     i,
			Content:        text,
			TokenCount:     len(strings.Fields(text)),
			EmbeddingModel: model,
			EmbeddingID:    key,
			Metadata: map[string]any{
				"source_title": source.Title,
				"run_id":       runID,
			},
		})
	}

	for i, c := range chunks {
		if c.ChunkIndex != i {
			return nil, nil, &models.ProcessingError{SourceID: source.ID, Reason: fmt.Sprintf("ordinal %d at position %d", c.ChunkIndex, i)}
		}
	}

	middleware.AddSpanEvent(ctx, "passages_embedded", attribute.Int("passages", len(chunks)))
	return entries, chunks, nil
}

// fail records the failed state and returns cause. When invalidated is set
// the previous passages were already removed, so everything this run may
// have written is removed too.
func (p *SourceProcessor) fail(ctx context.Context, source *models.Source, runID string, cause error, invalidated bool, attempted []string) (*models.Source, error) {
	middleware.AddSpanError(ctx, cause)

	// Cleanup and state writes must land even if the caller gave up.
	cleanupCtx := context.WithoutCancel(ctx)

	msg := cause.Error()
	state := models.SourceState{Status: models.StatusFailed, ErrorMessage: &msg}

	if invalidated {
		p.discard(cleanupCtx, source, runID, attempted)

		notProcessed, zero := false, 0
		state.IsProcessed = &notProcessed
		state.ChunkCount = &zero
		source.IsProcessed = false
		source.ChunkCount = 0
	}

	if err := p.sources.UpdateState(cleanupCtx, source.ID, state); err != nil {
		log.Printf("[run %s] ⚠️  Failed to record failure for source %s: %v", runID, source.ID, err)
	}

	source.Status = models.StatusFailed
	source.ErrorMessage = &msg
	p.publish(source, msg)

	log.Printf("[run %s] ❌ Source %s failed: %v", runID, source.ID, cause)
	return source, cause
}

func (p *SourceProcessor) discard(ctx context.Context, source *models.Source, runID string, attempted []string) {
	var err error
	if len(attempted) > 0 {
		err = p.index.Delete(ctx, attempted)
	} else {
		err = p.index.DeleteBySource(ctx, source.PersonaID, source.ID)
	}
	if err != nil {
		log.Printf("[run %s] ⚠️  Failed to remove index entries for source %s: %v", runID, source.ID, err)
	}

	if err := p.chunks.DeleteBySource(ctx, source.ID); err != nil {
		log.Printf("[run %s] ⚠️  Failed to remove passages for source %s: %v", runID, source.ID, err)
	}
}

// DeleteSource removes a source with its passages and index entries. The
// index goes first so a failure leaves the relational record to retry from.
func (p *SourceProcessor) DeleteSource(ctx context.Context, sourceID string) error {
	unlock := p.locks.Lock(sourceID)
	defer unlock()

	ctx, span := middleware.StartSpan(ctx, "SourceProcessor.DeleteSource", attribute.String("source.id", sourceID))
	defer span.End()

	source, err := p.sources.GetByID(ctx, sourceID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	if err := p.index.DeleteBySource(ctx, source.PersonaID, source.ID); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	if err := p.chunks.DeleteBySource(ctx, source.ID); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	if err := p.sources.Delete(ctx, source.ID); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	log.Printf("✓ Deleted source %s (persona %s)", source.ID, source.PersonaID)
	return nil
}

// DeletePersona cascades a persona removal through the index and both tables.
func (p *SourceProcessor) DeletePersona(ctx context.Context, personaID string) error {
	if strings.TrimSpace(personaID) == "" {
		return ErrPersonaRequired
	}

	ctx, span := middleware.StartSpan(ctx, "SourceProcessor.DeletePersona", attribute.String("persona.id", personaID))
	defer span.End()

	if err := p.index.DeleteByPersona(ctx, personaID); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	if err := p.chunks.DeleteByPersona(ctx, personaID); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	if err := p.sources.DeleteByPersona(ctx, personaID); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	log.Printf("✓ Deleted knowledge for persona %s", personaID)
	return nil
}

func (p *SourceProcessor) publish(source *models.Source, errMsg string) {
	p.publisher.Publish(models.SourceEvent{
		SourceID:   source.ID,
		PersonaID:  source.PersonaID,
		Status:     source.Status,
		ChunkCount: source.ChunkCount,
		Error:      errMsg,
		At:         p.now(),
	})
}
