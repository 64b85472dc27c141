package vectorindex

import (
	"context"
	"sort"
	"sync"

	"persona-kb/internal/models"
)

// Memory is an in-process index with the same contract as PGVector. The
// service tests run the pipeline against it.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	seq     int
}

type memEntry struct {
	models.IndexEntry
	// seq is the first insertion order of the id, used to break distance ties
	seq int
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return indexErr("upsert", err)
	}
	for _, e := range entries {
		if e.PersonaID == "" {
			return ErrPersonaRequired
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		seq := m.seq
		if prev, ok := m.entries[e.ID]; ok {
			seq = prev.seq
		} else {
			m.seq++
		}
		m.entries[e.ID] = memEntry{IndexEntry: e, seq: seq}
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, topK int, filter models.IndexFilter) ([]models.IndexMatch, error) {
	if filter.PersonaID == "" {
		return nil, ErrPersonaRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, indexErr("query", err)
	}
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	type scored struct {
		memEntry
		distance float64
	}
	var hits []scored
	for _, e := range m.entries {
		if !matches(e.IndexEntry, filter) {
			continue
		}
		hits = append(hits, scored{memEntry: e, distance: cosineDistance(vector, e.Vector)})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].seq < hits[j].seq
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]models.IndexMatch, len(hits))
	for i, h := range hits {
		out[i] = models.IndexMatch{
			ID:       h.ID,
			Text:     h.Text,
			Metadata: h.Metadata,
			Distance: h.distance,
		}
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, filter *models.IndexFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, indexErr("count", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if filter == nil {
		return int64(len(m.entries)), nil
	}
	var n int64
	for _, e := range m.entries {
		if matches(e.IndexEntry, *filter) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return indexErr("delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) DeleteBySource(ctx context.Context, personaID, sourceID string) error {
	if personaID == "" {
		return ErrPersonaRequired
	}
	return m.deleteWhere(ctx, models.IndexFilter{PersonaID: personaID, SourceID: sourceID})
}

func (m *Memory) DeleteByPersona(ctx context.Context, personaID string) error {
	if personaID == "" {
		return ErrPersonaRequired
	}
	return m.deleteWhere(ctx, models.IndexFilter{PersonaID: personaID})
}

func (m *Memory) deleteWhere(ctx context.Context, filter models.IndexFilter) error {
	if err := ctx.Err(); err != nil {
		return indexErr("delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		if matches(e.IndexEntry, filter) {
			delete(m.entries, id)
		}
	}
	return nil
}

// IDs lists stored ids, sorted. Handy in tests.
func (m *Memory) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func matches(e models.IndexEntry, f models.IndexFilter) bool {
	if f.PersonaID != "" && e.PersonaID != f.PersonaID {
		return false
	}
	if f.SourceID != "" && e.SourceID != f.SourceID {
		return false
	}
	return true
}
