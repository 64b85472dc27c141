package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"persona-kb/internal/embedding"
	"persona-kb/internal/models"
	"persona-kb/internal/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rumiText      = "Sell your cleverness and buy bewilderment. The wound is the place where the light enters you."
	confuciusText = "It does not matter how slowly you go as long as you do not stop. Real knowledge is to know the extent of one's ignorance."
)

func processedPipeline(t *testing.T) (*pipeline, *Retriever) {
	t.Helper()
	p := newPipeline()
	for _, s := range []*models.Source{
		p.store.add("rumi", "Masnavi", rumiText),
		p.store.add("confucius", "Analects", confuciusText),
	} {
		_, err := p.proc.Process(context.Background(), s.ID)
		require.NoError(t, err)
	}
	return p, NewRetriever(p.embedder, p.index, 0)
}

func TestRetrieve_ExactPassageScoresHighest(t *testing.T) {
	_, r := processedPipeline(t)

	results, err := r.Retrieve(context.Background(), "rumi", rumiText, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, rumiText, results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "Masnavi", results[0].SourceTitle)
	assert.Equal(t, 0, results[0].ChunkIndex)
}

func TestRetrieve_NeverCrossesPersonas(t *testing.T) {
	_, r := processedPipeline(t)

	results, err := r.Retrieve(context.Background(), "rumi", confuciusText, 10)
	require.NoError(t, err)

	for _, res := range results {
		assert.Equal(t, "rumi", res.Metadata["persona_id"])
		assert.NotEqual(t, confuciusText, res.Content)
	}

	results, err = r.Retrieve(context.Background(), "nobody", confuciusText, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_ScoresInUnitRangeAndOrdered(t *testing.T) {
	p := newPipeline()
	src := p.store.add("rumi", "Masnavi", sentences)
	_, err := p.proc.Process(context.Background(), src.ID)
	require.NoError(t, err)

	r := NewRetriever(p.embedder, p.index, 0)
	results, err := r.Retrieve(context.Background(), "rumi", "a fox", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), DefaultTopK)

	for i, res := range results {
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
		if i > 0 {
			assert.LessOrEqual(t, res.Score, results[i-1].Score)
		}
	}
}

func TestRetrieve_ProviderUnreachableReturnsEmpty(t *testing.T) {
	p, _ := processedPipeline(t)
	p.embedder.failFrom = 1

	r := NewRetriever(p.embedder, p.index, 5)
	results, err := r.Retrieve(context.Background(), "rumi", "light", 5)

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrieve_IndexFailureReturnsEmpty(t *testing.T) {
	p, r := processedPipeline(t)
	p.index.failQuery = true

	results, err := r.Retrieve(context.Background(), "rumi", "light", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

type brokenEmbedder struct{ *embedding.Fallback }

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("nil pointer somewhere")
}

func TestRetrieve_OtherErrorsPropagate(t *testing.T) {
	r := NewRetriever(brokenEmbedder{embedding.NewFallback(testDim)}, vectorindex.NewMemory(), 5)

	_, err := r.Retrieve(context.Background(), "rumi", "light", 5)
	assert.EqualError(t, err, "nil pointer somewhere")
}

func TestRetrieve_InvalidArguments(t *testing.T) {
	r := NewRetriever(embedding.NewFallback(testDim), vectorindex.NewMemory(), 5)

	_, err := r.Retrieve(context.Background(), "", "light", 5)
	assert.ErrorIs(t, err, ErrPersonaRequired)

	_, err = r.Retrieve(context.Background(), "rumi", "  ", 5)
	assert.ErrorIs(t, err, ErrQueryRequired)

	_, err = r.Retrieve(context.Background(), "rumi", "light", -1)
	assert.Error(t, err)
}

func TestRetrieve_UnknownTitleAndJSONOrdinal(t *testing.T) {
	idx := vectorindex.NewMemory()
	fb := embedding.NewFallback(testDim)
	vec, _ := fb.Embed(context.Background(), "q")
	require.NoError(t, idx.Upsert(context.Background(), []models.IndexEntry{{
		ID:        "rumi_s_3",
		PersonaID: "rumi",
		SourceID:  "s",
		Vector:    vec,
		Text:      "passage",
		Metadata:  map[string]any{"persona_id": "rumi", "chunk_index": float64(3)},
	}}))

	results, err := NewRetriever(fb, idx, 5).Retrieve(context.Background(), "rumi", "q", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Unknown", results[0].SourceTitle)
	assert.Equal(t, 3, results[0].ChunkIndex)
}

func TestBuildContext(t *testing.T) {
	assert.Empty(t, BuildContext(nil))

	out := BuildContext([]models.RetrievalResult{
		{Content: "first passage", SourceTitle: "Masnavi", ChunkIndex: 2},
		{Content: "second passage", SourceTitle: "Divan", ChunkIndex: 0},
	})

	assert.Contains(t, out, "[1] Masnavi (passage 2):\nfirst passage")
	assert.Contains(t, out, "[2] Divan (passage 0):\nsecond passage")
	assert.Less(t, strings.Index(out, "first passage"), strings.Index(out, "second passage"))
}

func TestSimilarityClamps(t *testing.T) {
	assert.Equal(t, 1.0, similarity(-0.2))
	assert.Equal(t, 0.0, similarity(1.5))
	assert.InDelta(t, 0.75, similarity(0.25), 1e-9)
}
