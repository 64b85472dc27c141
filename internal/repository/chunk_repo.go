package repository

import (
	"context"
	"fmt"

	"persona-kb/internal/models"

	"gorm.io/gorm"
)

// ChunkRepositoryImpl handles passage rows. Vectors live in the vector index;
// rows reference them through EmbeddingID.
type ChunkRepositoryImpl struct {
	db *gorm.DB
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *gorm.DB) *ChunkRepositoryImpl {
	return &ChunkRepositoryImpl{db: db}
}

// ListBySource returns a source's chunks in ordinal order
func (r *ChunkRepositoryImpl) ListBySource(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	var chunks []*models.Chunk

	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("chunk_index").
		Find(&chunks).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}

	return chunks, nil
}

// DeleteBySource removes every chunk of a source
func (r *ChunkRepositoryImpl) DeleteBySource(ctx context.Context, sourceID string) error {
	if err := r.db.WithContext(ctx).Where("source_id = ?", sourceID).Delete(&models.Chunk{}).Error; err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// DeleteByPersona removes every chunk of a persona
func (r *ChunkRepositoryImpl) DeleteByPersona(ctx context.Context, personaID string) error {
	if err := r.db.WithContext(ctx).Where("persona_id = ?", personaID).Delete(&models.Chunk{}).Error; err != nil {
		return fmt.Errorf("failed to delete persona chunks: %w", err)
	}
	return nil
}

// CountByPersona counts a persona's chunks
func (r *ChunkRepositoryImpl) CountByPersona(ctx context.Context, personaID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Chunk{}).Where("persona_id = ?", personaID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
