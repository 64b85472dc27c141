// Package embedding turns text into fixed-length vectors.
//
// Two variants exist and one is picked at construction time: Remote calls
// an OpenAI-compatible embeddings endpoint, Fallback derives a deterministic
// vector from a content hash so the pipeline runs without network access.
package embedding

import (
	"context"
	"log"

	"persona-kb/internal/config"
	"persona-kb/internal/openai"
)

// Provider converts one text into a vector of exactly Dimension() values.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Model() string
	Dimension() int
	// Configured reports whether a real embedding service backs the provider.
	Configured() bool
}

// New selects the provider variant from configuration.
func New(cfg *config.Config, client *openai.Client) Provider {
	if !cfg.EmbeddingConfigured() || client == nil {
		log.Printf("⚠️  OPENAI_API_KEY not set, using fallback embeddings (%d dims)", cfg.EmbeddingDimensions)
		return NewFallback(cfg.EmbeddingDimensions)
	}

	log.Printf("✓ Remote embeddings: %s (%d dims)", cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	return NewRemote(client, RemoteOptions{
		Model:          cfg.EmbeddingModel,
		Dimension:      cfg.EmbeddingDimensions,
		Timeout:        cfg.EmbedTimeout,
		RequestsPerSec: cfg.EmbeddingRate,
		Burst:          cfg.EmbeddingBurst,
	})
}
