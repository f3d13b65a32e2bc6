package digest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/khoffmann/nexuspipe/llm"
	"github.com/khoffmann/nexuspipe/prompts"
	"github.com/khoffmann/nexuspipe/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM returns canned JSON for any chat call, recording how many
// times it was invoked.
type fakeLLM struct {
	calls    int
	response string
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	return &llm.ChatResponse{Content: f.response, PromptTokens: 100, CompletionTokens: 50}, nil
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedChunk(t *testing.T, st *store.Store, title string, savedAt time.Time, idx int, text string, vec []float32) {
	t.Helper()
	docID, err := st.SaveDocument(context.Background(), &store.Document{
		Source: "readwise", ProviderID: title, URLOriginal: "https://example.com/" + title,
		URLCanonical: "https://example.com/" + title, Title: title, Category: "article",
		SavedAt: &savedAt,
	})
	require.NoError(t, err)

	chunks, err := st.ListChunks(context.Background(), docID)
	require.NoError(t, err)
	chunks = append(chunks, store.Chunk{ChunkIndex: idx, ChunkText: text, CharStart: 0, CharEnd: len(text)})
	require.NoError(t, st.SaveChunks(context.Background(), docID, chunks))

	saved, err := st.ListChunks(context.Background(), docID)
	require.NoError(t, err)
	var chunkID int64
	for _, c := range saved {
		if c.ChunkIndex == idx {
			chunkID = c.ID
		}
	}
	require.NoError(t, st.SaveEmbeddingsBatch(context.Background(), []store.Embedding{
		{ChunkID: &chunkID, Provider: "p", Model: "m", Dims: len(vec), Vector: vec},
	}))
}

func vec(vals ...float32) []float32 {
	out := make([]float32, 768)
	copy(out, vals)
	return out
}

func TestHybridClusterNamesSurvivingClusters(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	seedChunk(t, st, "doc-a", now, 0, "go programming tips", vec(1, 0, 0))
	seedChunk(t, st, "doc-b", now, 0, "cooking recipes", vec(0, 1, 0))

	chunks, err := st.ChunksForDigest(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), "p", "m")
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	fake := &fakeLLM{response: `{"topic_name": "Go", "summary": "about go", "key_points": ["a"]}`}
	reg := prompts.New(st)
	topics, usage, err := hybridCluster(context.Background(), chunks, 2, 1, fake, reg, "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.True(t, usage.TokensInput > 0)
	assert.NotEmpty(t, topics)
	for _, tp := range topics {
		assert.Equal(t, "Go", tp.Name)
	}
}

func TestPureLLMClusterMapsChunkIndices(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	seedChunk(t, st, "doc-a", now, 0, "go programming tips", vec(1, 0, 0))
	seedChunk(t, st, "doc-b", now, 0, "cooking recipes", vec(0, 1, 0))

	chunks, err := st.ChunksForDigest(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), "p", "m")
	require.NoError(t, err)

	fake := &fakeLLM{response: `[{"topic_name": "Tech", "summary": "s", "key_points": [], "chunk_indices": [0]}]`}
	reg := prompts.New(st)
	topics, _, err := pureLLMCluster(context.Background(), chunks, fake, reg, "claude-sonnet-4-5")
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Tech", topics[0].Name)
	assert.Len(t, topics[0].Chunks, 1)
}

func TestGenerateCompilesDigest(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	seedChunk(t, st, "doc-a", now, 0, "go programming tips", vec(1, 0, 0))

	fake := &fakeLLM{response: `{"topic_name": "Go", "summary": "s", "key_points": [], "summary": "weekly summary", "highlights": ["h1"]}`}
	reg := prompts.New(st)
	eng := New(st, fake, reg, Config{
		Model: "claude-sonnet-4-5", CostPer1MInput: 3, CostPer1MOutput: 15,
		EmbeddingProviderName: "p", EmbeddingModel: "m", MinClusterSize: 1,
	})

	result, err := eng.Generate(context.Background(), Request{
		DateFrom: now.Add(-time.Hour), DateTo: now.Add(time.Hour), Strategy: StrategyHybrid, ClusterK: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksAnalyzed)
	assert.Equal(t, 1, result.DocsAnalyzed)
	assert.True(t, result.CostUSD > 0)

	saved, topics, citations, err := st.GetDigest(context.Background(), result.DigestID)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.Summary)
	assert.NotEmpty(t, topics)
	assert.NotEmpty(t, citations)
}

func TestGenerateErrorsOnEmptyRange(t *testing.T) {
	st := newTestStore(t)
	fake := &fakeLLM{}
	reg := prompts.New(st)
	eng := New(st, fake, reg, Config{EmbeddingProviderName: "p", EmbeddingModel: "m"})

	_, err := eng.Generate(context.Background(), Request{
		DateFrom: time.Now().Add(-time.Hour), DateTo: time.Now(),
	})
	assert.Error(t, err)
}
