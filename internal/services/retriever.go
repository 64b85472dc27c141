package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"persona-kb/internal/middleware"
	"persona-kb/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultTopK is used when a caller passes top_k = 0.
const DefaultTopK = 5

// ErrQueryRequired is returned for a blank retrieval query.
var ErrQueryRequired = errors.New("query is required")

// Retriever finds the passages of one persona closest to a query.
type Retriever struct {
	embedder    EmbeddingProvider
	index       VectorIndex
	defaultTopK int
}

func NewRetriever(embedder EmbeddingProvider, index VectorIndex, defaultTopK int) *Retriever {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		defaultTopK: defaultTopK,
	}
}

// Retrieve returns up to topK passages in index order. Embedding and index
// failures degrade to an empty result; invalid arguments are errors.
func (r *Retriever) Retrieve(ctx context.Context, personaID, query string, topK int) ([]models.RetrievalResult, error) {
	if strings.TrimSpace(personaID) == "" {
		return nil, ErrPersonaRequired
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrQueryRequired
	}
	if topK < 0 {
		return nil, fmt.Errorf("top_k must not be negative, got %d", topK)
	}
	if topK == 0 {
		topK = r.defaultTopK
	}

	ctx, span := middleware.StartSpan(ctx, "Retriever.Retrieve",
		attribute.String("persona.id", personaID),
		attribute.Int("top_k", topK),
	)
	defer span.End()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return r.degrade(ctx, personaID, err)
	}

	matches, err := r.index.Query(ctx, vec, topK, models.IndexFilter{PersonaID: personaID})
	if err != nil {
		return r.degrade(ctx, personaID, err)
	}

	results := make([]models.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		if owner, _ := m.Metadata["persona_id"].(string); owner != personaID {
			log.Printf("⚠️  Dropping passage %s owned by persona %q from results for %s", m.ID, owner, personaID)
			continue
		}

		title, _ := m.Metadata["source_title"].(string)
		if title == "" {
			title = "Unknown"
		}

		results = append(results, models.RetrievalResult{
			Content:     m.Text,
			Score:       similarity(m.Distance),
			SourceTitle: title,
			ChunkIndex:  ordinal(m.Metadata["chunk_index"]),
			Metadata:    m.Metadata,
		})
	}

	middleware.AddSpanEvent(ctx, "retrieved", attribute.Int("results", len(results)))
	return results, nil
}

func (r *Retriever) degrade(ctx context.Context, personaID string, err error) ([]models.RetrievalResult, error) {
	if !models.IsProviderError(err) && !models.IsIndexError(err) {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	middleware.AddSpanEvent(ctx, "retrieval_degraded", attribute.String("error", err.Error()))
	log.Printf("⚠️  Retrieval for persona %s degraded to no context: %v", personaID, err)
	return []models.RetrievalResult{}, nil
}

// BuildContext renders results as the knowledge block of a persona's system
// prompt. It returns "" when there is nothing to add.
func BuildContext(results []models.RetrievalResult) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant knowledge from your sources:\n")
	for i, res := range results {
		fmt.Fprintf(&b, "\n[%d] %s (passage %d):\n%s\n", i+1, res.SourceTitle, res.ChunkIndex, res.Content)
	}
	return b.String()
}

func similarity(distance float64) float64 {
	score := 1 - distance
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// ordinal reads chunk_index from metadata that may have round-tripped
// through JSON.
func ordinal(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
