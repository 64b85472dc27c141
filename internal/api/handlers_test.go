package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"persona-kb/internal/models"
	"persona-kb/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSources struct {
	byID map[string]*models.Source
}

func (s *stubSources) GetByID(_ context.Context, id string) (*models.Source, error) {
	src, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("failed to get source %s: %w", id, models.ErrSourceNotFound)
	}
	return src, nil
}

func (s *stubSources) ListByPersona(_ context.Context, personaID string, limit, offset int) ([]*models.Source, error) {
	var out []*models.Source
	for _, src := range s.byID {
		if src.PersonaID == personaID {
			out = append(out, src)
		}
	}
	return out, nil
}

type stubProcessor struct {
	sources        *stubSources
	processed      []string
	deletedPersona string
	processErr     error
}

func (p *stubProcessor) Submit(_ context.Context, in *models.SourceCreate) (*models.Source, error) {
	if in.PersonaID == "" {
		return nil, services.ErrPersonaRequired
	}
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", services.ErrInvalidSource)
	}
	src := &models.Source{ID: "src1", PersonaID: in.PersonaID, Title: in.Title, Content: in.Content, Status: models.StatusPending}
	p.sources.byID[src.ID] = src
	return src, nil
}

func (p *stubProcessor) Process(_ context.Context, id string) (*models.Source, error) {
	p.processed = append(p.processed, id)
	src := p.sources.byID[id]
	if p.processErr != nil {
		msg := p.processErr.Error()
		src.Status = models.StatusFailed
		src.ErrorMessage = &msg
		return src, p.processErr
	}
	src.Status = models.StatusCompleted
	return src, nil
}

func (p *stubProcessor) DeleteSource(ctx context.Context, id string) error {
	if _, err := p.sources.GetByID(ctx, id); err != nil {
		return err
	}
	delete(p.sources.byID, id)
	return nil
}

func (p *stubProcessor) DeletePersona(_ context.Context, personaID string) error {
	p.deletedPersona = personaID
	return nil
}

type stubChunks struct{}

func (stubChunks) ListBySource(_ context.Context, sourceID string) ([]*models.Chunk, error) {
	return []*models.Chunk{
		{SourceID: sourceID, ChunkIndex: 0, Content: "first"},
		{SourceID: sourceID, ChunkIndex: 1, Content: "second"},
	}, nil
}

type stubQueue struct {
	queued []string
	err    error
}

func (q *stubQueue) Enqueue(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, id)
	return nil
}

func (q *stubQueue) Len() int { return len(q.queued) }

type stubRetriever struct {
	gotTopK int
}

func (r *stubRetriever) Retrieve(_ context.Context, personaID, query string, topK int) ([]models.RetrievalResult, error) {
	r.gotTopK = topK
	if personaID == "" {
		return nil, services.ErrPersonaRequired
	}
	if strings.TrimSpace(query) == "" {
		return nil, services.ErrQueryRequired
	}
	return []models.RetrievalResult{{Content: "passage", Score: 0.9, SourceTitle: "Masnavi"}}, nil
}

type stubChat struct {
	err error
}

func (c *stubChat) Reply(_ context.Context, req *services.ChatRequest) (*services.ChatReply, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &services.ChatReply{Answer: "reply to " + req.Message + " as " + req.PersonaID}, nil
}

type stubStats struct {
	health *models.HealthStatus
}

func (s *stubStats) Stats(_ context.Context, personaID string) (*models.PersonaStats, error) {
	return &models.PersonaStats{PersonaID: personaID, TotalSources: 2, ProcessedSources: 1, ReadyForChat: true}, nil
}

func (s *stubStats) Health(context.Context) *models.HealthStatus { return s.health }

type fixture struct {
	sources   *stubSources
	processor *stubProcessor
	queue     *stubQueue
	retriever *stubRetriever
	chat      *stubChat
	stats     *stubStats
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sources:   &stubSources{byID: map[string]*models.Source{}},
		queue:     &stubQueue{},
		retriever: &stubRetriever{},
		chat:      &stubChat{},
		stats:     &stubStats{health: &models.HealthStatus{Status: "healthy", IndexConnected: true}},
	}
	f.processor = &stubProcessor{sources: f.sources}

	h := NewHandler(Deps{
		Processor: f.processor,
		Sources:   f.sources,
		Chunks:    stubChunks{},
		Queue:     f.queue,
		Retriever: f.retriever,
		Chat:      f.chat,
		Stats:     f.stats,
	})
	f.srv = httptest.NewServer(SetupRoutes(h))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestCreateSource(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/personas/rumi/sources?process=true", `{"title":"Masnavi","content":"text"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var src models.Source
	decode(t, resp, &src)
	assert.Equal(t, "rumi", src.PersonaID)
	assert.Equal(t, models.StatusPending, src.Status)
	assert.Equal(t, []string{"src1"}, f.queue.queued)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCreateSource_Validation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/personas/rumi/sources", `{"content":"x"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/personas/rumi/sources", `not json`).StatusCode)
}

func TestCreateSource_QueueClosed(t *testing.T) {
	f := newFixture(t)
	f.queue.err = services.ErrQueueClosed

	resp := f.do(t, http.MethodPost, "/api/personas/rumi/sources?process=true", `{"title":"Masnavi","content":"text"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetSource_NotFound(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/sources/missing", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/sources/missing/process", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/sources/missing", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/sources/missing/chunks", "").StatusCode)
}

func TestProcessSource_Queued(t *testing.T) {
	f := newFixture(t)
	f.sources.byID["s1"] = &models.Source{ID: "s1", PersonaID: "rumi"}

	resp := f.do(t, http.MethodPost, "/api/sources/s1/process", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "queued", body["status"])
	assert.EqualValues(t, 1, body["queue_length"])
	assert.Empty(t, f.processor.processed)
}

func TestProcessSource_SyncReportsFailure(t *testing.T) {
	f := newFixture(t)
	f.sources.byID["s1"] = &models.Source{ID: "s1", PersonaID: "rumi"}
	f.processor.processErr = &models.ProcessingError{SourceID: "s1", Reason: "content is empty"}

	resp := f.do(t, http.MethodPost, "/api/sources/s1/process?sync=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var src models.Source
	decode(t, resp, &src)
	assert.Equal(t, models.StatusFailed, src.Status)
	require.NotNil(t, src.ErrorMessage)
	assert.Contains(t, *src.ErrorMessage, "content is empty")
}

func TestListChunksAndSources(t *testing.T) {
	f := newFixture(t)
	f.sources.byID["s1"] = &models.Source{ID: "s1", PersonaID: "rumi"}

	resp := f.do(t, http.MethodGet, "/api/sources/s1/chunks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chunks struct {
		Chunks []models.Chunk `json:"chunks"`
	}
	decode(t, resp, &chunks)
	require.Len(t, chunks.Chunks, 2)
	assert.Equal(t, 1, chunks.Chunks[1].ChunkIndex)

	resp = f.do(t, http.MethodGet, "/api/personas/rumi/sources?limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Sources []models.Source `json:"sources"`
		Limit   int             `json:"limit"`
	}
	decode(t, resp, &list)
	assert.Len(t, list.Sources, 1)
	assert.Equal(t, 10, list.Limit)
}

func TestDeleteEndpoints(t *testing.T) {
	f := newFixture(t)
	f.sources.byID["s1"] = &models.Source{ID: "s1", PersonaID: "rumi"}

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/sources/s1", "").StatusCode)
	assert.NotContains(t, f.sources.byID, "s1")

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/personas/rumi/knowledge", "").StatusCode)
	assert.Equal(t, "rumi", f.processor.deletedPersona)
}

func TestRetrieve(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/personas/rumi/retrieve", `{"query":"light","top_k":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []models.RetrievalResult `json:"results"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "Masnavi", body.Results[0].SourceTitle)
	assert.Equal(t, 3, f.retriever.gotTopK)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/personas/rumi/retrieve", `{"query":" "}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/personas/rumi/retrieve", `{"query":"x","top_k":-1}`).StatusCode)
}

func TestChat(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/personas/rumi/chat", `{"system_prompt":"You are Rumi.","message":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply services.ChatReply
	decode(t, resp, &reply)
	assert.Equal(t, "reply to hello as rumi", reply.Answer)

	f.chat.err = services.ErrResponderUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/personas/rumi/chat", `{"message":"hello"}`).StatusCode)

	f.chat.err = &models.ProviderError{Op: "chat", Err: fmt.Errorf("timeout")}
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/personas/rumi/chat", `{"message":"hello"}`).StatusCode)
}

func TestStatsAndHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/personas/rumi/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats models.PersonaStats
	decode(t, resp, &stats)
	assert.Equal(t, "rumi", stats.PersonaID)
	assert.True(t, stats.ReadyForChat)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/health", "").StatusCode)

	f.stats.health = &models.HealthStatus{Status: "degraded", IndexError: "connection refused"}
	resp = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var h models.HealthStatus
	decode(t, resp, &h)
	assert.Equal(t, "connection refused", h.IndexError)
}

func TestStatusFeedDisabled(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/ws/sources", "").StatusCode)
}
