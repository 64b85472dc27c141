package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"persona-kb/internal/embedding"
	"persona-kb/internal/models"
	"persona-kb/internal/openai"
	"persona-kb/internal/vectorindex"
)

const testDim = 32

// memStore backs the fake repositories. Sources and chunks share it the way
// both tables share one database.
type memStore struct {
	mu      sync.Mutex
	seq     int
	sources map[string]*models.Source
	chunks  map[string][]*models.Chunk

	failComplete error
}

func newMemStore() *memStore {
	return &memStore{
		sources: make(map[string]*models.Source),
		chunks:  make(map[string][]*models.Chunk),
	}
}

func (s *memStore) add(personaID, title, content string) *models.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	src := &models.Source{
		ID:         fmt.Sprintf("src%03d", s.seq),
		PersonaID:  personaID,
		Title:      title,
		SourceType: models.SourceTypeText,
		Content:    content,
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
	s.sources[src.ID] = src
	cp := *src
	return &cp
}

func (s *memStore) source(id string) models.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sources[id]
}

func (s *memStore) setContent(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[id].Content = content
}

func (s *memStore) chunkOrdinals(sourceID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.chunks[sourceID]))
	for _, c := range s.chunks[sourceID] {
		out = append(out, c.ChunkIndex)
	}
	sort.Ints(out)
	return out
}

type fakeSources struct{ *memStore }

func (f fakeSources) Create(_ context.Context, in *models.SourceCreate) (*models.Source, error) {
	src := f.add(in.PersonaID, in.Title, in.Content)
	return src, nil
}

func (f fakeSources) GetByID(_ context.Context, id string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.sources[id]
	if !ok {
		return nil, fmt.Errorf("failed to get source %s: %w", id, models.ErrSourceNotFound)
	}
	cp := *src
	return &cp, nil
}

func (f fakeSources) ListByPersona(_ context.Context, personaID string, _, _ int) ([]*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Source
	for _, src := range f.sources {
		if src.PersonaID == personaID {
			cp := *src
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeSources) UpdateState(_ context.Context, id string, st models.SourceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.sources[id]
	if !ok {
		return models.ErrSourceNotFound
	}
	src.Status = st.Status
	if st.IsProcessed != nil {
		src.IsProcessed = *st.IsProcessed
	}
	if st.ChunkCount != nil {
		src.ChunkCount = *st.ChunkCount
	}
	if st.ErrorMessage != nil {
		msg := *st.ErrorMessage
		src.ErrorMessage = &msg
	}
	if st.ClearError {
		src.ErrorMessage = nil
	}
	if st.ProcessedAt != nil {
		at := *st.ProcessedAt
		src.ProcessedAt = &at
	}
	return nil
}

func (f fakeSources) CompleteProcessing(_ context.Context, id string, chunks []*models.Chunk, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failComplete != nil {
		return f.failComplete
	}
	src, ok := f.sources[id]
	if !ok {
		return models.ErrSourceNotFound
	}
	f.chunks[id] = append([]*models.Chunk(nil), chunks...)
	src.Status = models.StatusCompleted
	src.IsProcessed = true
	src.ChunkCount = len(chunks)
	src.ErrorMessage = nil
	src.ProcessedAt = &processedAt
	return nil
}

func (f fakeSources) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sources, id)
	delete(f.chunks, id)
	return nil
}

func (f fakeSources) DeleteByPersona(_ context.Context, personaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, src := range f.sources {
		if src.PersonaID == personaID {
			delete(f.sources, id)
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f fakeSources) CountByStatus(_ context.Context, personaID string) (map[models.SourceStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[models.SourceStatus]int)
	for _, src := range f.sources {
		if src.PersonaID == personaID {
			out[src.Status]++
		}
	}
	return out, nil
}

func (f fakeSources) CountProcessed(_ context.Context, personaID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, src := range f.sources {
		if src.PersonaID == personaID && src.IsProcessed {
			n++
		}
	}
	return n, nil
}

type fakeChunks struct{ *memStore }

func (f fakeChunks) ListBySource(_ context.Context, sourceID string) ([]*models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Chunk(nil), f.chunks[sourceID]...), nil
}

func (f fakeChunks) DeleteBySource(_ context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, sourceID)
	return nil
}

func (f fakeChunks) DeleteByPersona(_ context.Context, personaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, src := range f.sources {
		if src.PersonaID == personaID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f fakeChunks) CountByPersona(_ context.Context, personaID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, cs := range f.chunks {
		for _, c := range cs {
			if c.PersonaID == personaID {
				n++
			}
		}
	}
	return n, nil
}

// flakyIndex fails selected operations of an in-memory index. A failing
// upsert writes the first entry before failing.
type flakyIndex struct {
	*vectorindex.Memory
	failUpsert         bool
	failQuery          bool
	failCount          bool
	failDeleteBySource bool
}

var errIndexDown = errors.New("connection refused")

func (f *flakyIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	if f.failUpsert {
		if len(entries) > 0 {
			_ = f.Memory.Upsert(ctx, entries[:1])
		}
		return &models.IndexError{Op: "upsert", Err: errIndexDown}
	}
	return f.Memory.Upsert(ctx, entries)
}

func (f *flakyIndex) Query(ctx context.Context, vector []float32, topK int, filter models.IndexFilter) ([]models.IndexMatch, error) {
	if f.failQuery {
		return nil, &models.IndexError{Op: "query", Err: errIndexDown}
	}
	return f.Memory.Query(ctx, vector, topK, filter)
}

func (f *flakyIndex) Count(ctx context.Context, filter *models.IndexFilter) (int64, error) {
	if f.failCount {
		return 0, &models.IndexError{Op: "count", Err: errIndexDown}
	}
	return f.Memory.Count(ctx, filter)
}

func (f *flakyIndex) DeleteBySource(ctx context.Context, personaID, sourceID string) error {
	if f.failDeleteBySource {
		return &models.IndexError{Op: "delete", Err: errIndexDown}
	}
	return f.Memory.DeleteBySource(ctx, personaID, sourceID)
}

// flakyEmbedder delegates to the fallback provider and fails from call
// failFrom on (1-based). Zero never fails.
type flakyEmbedder struct {
	*embedding.Fallback
	mu       sync.Mutex
	calls    int
	failFrom int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.failFrom > 0 && n >= f.failFrom {
		return nil, &models.ProviderError{Op: "embed", Err: errors.New("dial tcp: connection refused")}
	}
	return f.Fallback.Embed(ctx, text)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SourceEvent
}

func (r *recordingPublisher) Publish(e models.SourceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) statuses(sourceID string) []models.SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SourceStatus
	for _, e := range r.events {
		if e.SourceID == sourceID {
			out = append(out, e.Status)
		}
	}
	return out
}

type fakeResponder struct {
	got    []openai.ChatMessage
	answer string
	err    error
}

func (f *fakeResponder) ChatCompletion(_ context.Context, messages []openai.ChatMessage) (string, error) {
	f.got = messages
	return f.answer, f.err
}
