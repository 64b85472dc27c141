package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"persona-kb/internal/models"

	"gorm.io/gorm"
)

// SourceRepositoryImpl handles persona source documents using GORM
type SourceRepositoryImpl struct {
	db *gorm.DB
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *gorm.DB) *SourceRepositoryImpl {
	return &SourceRepositoryImpl{db: db}
}

// Create inserts a pending source. The KSUID is generated in BeforeCreate.
func (r *SourceRepositoryImpl) Create(ctx context.Context, in *models.SourceCreate) (*models.Source, error) {
	source := &models.Source{
		PersonaID:  in.PersonaID,
		Title:      in.Title,
		SourceType: in.SourceType,
		Content:    in.Content,
		Status:     models.StatusPending,
		Metadata:   in.Metadata,
	}
	if source.SourceType == "" {
		source.SourceType = models.SourceTypeText
	}

	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	return source, nil
}

// GetByID retrieves a source by its KSUID
func (r *SourceRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Source, error) {
	var source models.Source

	err := r.db.WithContext(ctx).First(&source, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrSourceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return &source, nil
}

// ListByPersona returns a persona's sources, newest first
func (r *SourceRepositoryImpl) ListByPersona(ctx context.Context, personaID string, limit, offset int) ([]*models.Source, error) {
	var sources []*models.Source

	err := r.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Order("id DESC"). // KSUID is time-ordered
		Limit(limit).
		Offset(offset).
		Find(&sources).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	return sources, nil
}

// UpdateState persists a status transition immediately
func (r *SourceRepositoryImpl) UpdateState(ctx context.Context, id string, state models.SourceState) error {
	updates := stateUpdates(state)

	result := r.db.WithContext(ctx).Model(&models.Source{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update source state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrSourceNotFound, id)
	}
	return nil
}

// CompleteProcessing replaces the source's chunk rows and marks it completed
// in one transaction, so the chunk set and the completed state land together.
func (r *SourceRepositoryImpl) CompleteProcessing(ctx context.Context, id string, chunks []*models.Chunk, processedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to delete old chunks: %w", err)
		}

		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
				return fmt.Errorf("failed to store chunks: %w", err)
			}
		}

		processed := true
		count := len(chunks)
		updates := stateUpdates(models.SourceState{
			Status:      models.StatusCompleted,
			IsProcessed: &processed,
			ChunkCount:  &count,
			ClearError:  true,
			ProcessedAt: &processedAt,
		})

		result := tx.Model(&models.Source{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to complete source: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", models.ErrSourceNotFound, id)
		}
		return nil
	})
}

// Delete removes a source; its chunks go with it through the foreign key
func (r *SourceRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Source{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete source: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrSourceNotFound, id)
	}

	return nil
}

// DeleteByPersona removes every source of a persona
func (r *SourceRepositoryImpl) DeleteByPersona(ctx context.Context, personaID string) error {
	if err := r.db.WithContext(ctx).Where("persona_id = ?", personaID).Delete(&models.Source{}).Error; err != nil {
		return fmt.Errorf("failed to delete persona sources: %w", err)
	}
	return nil
}

// CountByStatus groups a persona's sources by processing status
func (r *SourceRepositoryImpl) CountByStatus(ctx context.Context, personaID string) (map[models.SourceStatus]int, error) {
	var rows []struct {
		Status models.SourceStatus
		Count  int
	}

	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Select("status, count(*) AS count").
		Where("persona_id = ?", personaID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}

	counts := make(map[models.SourceStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// CountProcessed counts sources that currently hold a committed chunk set
func (r *SourceRepositoryImpl) CountProcessed(ctx context.Context, personaID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("persona_id = ? AND is_processed = ?", personaID, true).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count processed sources: %w", err)
	}
	return n, nil
}

// stateUpdates builds an update map so zero values (false, 0, NULL) are written
func stateUpdates(state models.SourceState) map[string]any {
	updates := map[string]any{"status": state.Status}
	if state.IsProcessed != nil {
		updates["is_processed"] = *state.IsProcessed
	}
	if state.ChunkCount != nil {
		updates["chunk_count"] = *state.ChunkCount
	}
	if state.ClearError {
		updates["error_message"] = nil
	} else if state.ErrorMessage != nil {
		updates["error_message"] = *state.ErrorMessage
	}
	if state.ProcessedAt != nil {
		updates["processed_at"] = *state.ProcessedAt
	}
	return updates
}
