package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"persona-kb/internal/middleware"
	"persona-kb/internal/models"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 500

// IVFFlatLists is the list count db.Migrate builds the ivfflat index with.
// Queries search every list: the persona filter is applied after the index
// scan, so searching fewer lists can return short or empty results for a
// persona whose vectors sit outside them.
const IVFFlatLists = 100

// PGVector is the index backed by a pgvector table in postgres.
type PGVector struct {
	db      *gorm.DB
	table   string
	timeout time.Duration
}

// NewPGVector returns an index over table, which db.Migrate must have created.
func NewPGVector(db *gorm.DB, table string, timeout time.Duration) *PGVector {
	return &PGVector{db: db, table: table, timeout: timeout}
}

// Name identifies the collection in health output.
func (p *PGVector) Name() string {
	return p.table
}

// Upsert writes all entries in one transaction. Existing ids are replaced.
func (p *PGVector) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	ctx, span := middleware.StartSpan(ctx, "VectorIndex.Upsert",
		attribute.Int("entries", len(entries)),
	)
	defer span.End()

	if len(entries) == 0 {
		return nil
	}

	rows := make([]models.VectorEntry, len(entries))
	for i, e := range entries {
		if e.PersonaID == "" {
			return ErrPersonaRequired
		}
		rows[i] = models.VectorEntry{
			ID:        e.ID,
			PersonaID: e.PersonaID,
			SourceID:  e.SourceID,
			Embedding: pgvector.NewVector(e.Vector),
			Text:      e.Text,
			Metadata:  e.Metadata,
		}
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(p.table).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"persona_id", "source_id", "embedding", "text", "metadata"}),
			}).
			CreateInBatches(&rows, upsertBatchSize).Error
	})
	if err != nil {
		err = indexErr("upsert", err)
		middleware.AddSpanError(ctx, err)
		return err
	}
	return nil
}

type matchRow struct {
	ID       string
	Text     string
	Metadata string
	Distance float64
}

// Query returns the topK entries of filter.PersonaID closest to vector,
// ascending by distance.
func (p *PGVector) Query(ctx context.Context, vector []float32, topK int, filter models.IndexFilter) ([]models.IndexMatch, error) {
	ctx, span := middleware.StartSpan(ctx, "VectorIndex.Query",
		attribute.String("persona_id", filter.PersonaID),
		attribute.Int("top_k", topK),
	)
	defer span.End()

	if filter.PersonaID == "" {
		return nil, ErrPersonaRequired
	}
	if topK <= 0 {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	vec := pgvector.NewVector(vector)
	where, args := p.where(filter)

	// <=> is cosine distance in [0,2]; halve it so callers get [0,1]
	query := fmt.Sprintf(`
		SELECT id, text, metadata::text AS metadata, (embedding <=> ?) / 2 AS distance
		FROM %s
		WHERE %s
		ORDER BY embedding <=> ?
		LIMIT ?`, p.table, where)

	params := append([]any{vec}, args...)
	params = append(params, vec, topK)

	var rows []matchRow
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL ivfflat.probes = %d", IVFFlatLists)).Error; err != nil {
			return err
		}
		return tx.Raw(query, params...).Scan(&rows).Error
	})
	if err != nil {
		err = indexErr("query", err)
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	matches := make([]models.IndexMatch, 0, len(rows))
	for _, r := range rows {
		var meta map[string]any
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
				return nil, indexErr("query", fmt.Errorf("malformed metadata on %s: %w", r.ID, err))
			}
		}
		matches = append(matches, models.IndexMatch{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: meta,
			Distance: r.Distance,
		})
	}

	middleware.AddSpanEvent(ctx, "query_completed", attribute.Int("matches", len(matches)))
	return matches, nil
}

// Count returns the number of entries, optionally scoped by filter.
func (p *PGVector) Count(ctx context.Context, filter *models.IndexFilter) (int64, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	q := p.db.WithContext(ctx).Table(p.table)
	if filter != nil {
		where, args := p.where(*filter)
		q = q.Where(where, args...)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, indexErr("count", err)
	}
	return n, nil
}

// Delete removes entries by id. Missing ids are ignored.
func (p *PGVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ANY(?)", p.table)
	if err := p.db.WithContext(ctx).Exec(stmt, pq.Array(ids)).Error; err != nil {
		return indexErr("delete", err)
	}
	return nil
}

// DeleteBySource removes every entry of one source of a persona.
func (p *PGVector) DeleteBySource(ctx context.Context, personaID, sourceID string) error {
	if personaID == "" {
		return ErrPersonaRequired
	}
	return p.deleteWhere(ctx, "delete by source", models.IndexFilter{PersonaID: personaID, SourceID: sourceID})
}

// DeleteByPersona removes every entry of a persona.
func (p *PGVector) DeleteByPersona(ctx context.Context, personaID string) error {
	if personaID == "" {
		return ErrPersonaRequired
	}
	return p.deleteWhere(ctx, "delete by persona", models.IndexFilter{PersonaID: personaID})
}

func (p *PGVector) deleteWhere(ctx context.Context, op string, filter models.IndexFilter) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	where, args := p.where(filter)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", p.table, where)
	if err := p.db.WithContext(ctx).Exec(stmt, args...).Error; err != nil {
		return indexErr(op, err)
	}
	return nil
}

func (p *PGVector) where(filter models.IndexFilter) (string, []any) {
	if filter.PersonaID == "" {
		return "TRUE", nil
	}
	if filter.SourceID != "" {
		return "persona_id = ? AND source_id = ?", []any{filter.PersonaID, filter.SourceID}
	}
	return "persona_id = ?", []any{filter.PersonaID}
}
