package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/khoffmann/nexuspipe/embedding"
	"github.com/khoffmann/nexuspipe/store"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	model string
	dims  int
	fn    func(text string) embedding.Vector
}

func (p *stubProvider) Name() string            { return p.name }
func (p *stubProvider) ModelID() string         { return p.model }
func (p *stubProvider) Dimensions() int         { return p.dims }
func (p *stubProvider) CostPer1MInput() float64 { return 0 }

func (p *stubProvider) Embed(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	out := make([]embedding.Vector, len(texts))
	for i, t := range texts {
		out[i] = p.fn(t)
	}
	return out, nil
}

func (p *stubProvider) EmbedSingle(ctx context.Context, text string) (embedding.Vector, error) {
	return p.fn(text), nil
}

func (p *stubProvider) HealthCheck(ctx context.Context) (embedding.HealthStatus, error) {
	return embedding.HealthStatus{Healthy: true}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func vecFor(seed float32) embedding.Vector {
	v := make(embedding.Vector, 768)
	v[0] = seed
	return v
}

func seedDocument(t *testing.T, st *store.Store, title, category, fulltext string) int64 {
	t.Helper()
	id, err := st.SaveDocument(context.Background(), &store.Document{
		Source: "readwise", ProviderID: title, URLOriginal: "https://example.com/" + title,
		URLCanonical: "https://example.com/" + title, Title: title, Category: category, Fulltext: fulltext,
	})
	require.NoError(t, err)
	return id
}

func seedChunkWithEmbedding(t *testing.T, st *store.Store, docID int64, idx int, text string, seed float32, provider, model string) int64 {
	t.Helper()
	require.NoError(t, st.SaveChunks(context.Background(), docID, []store.Chunk{
		{ChunkIndex: idx, ChunkText: text, CharStart: 0, CharEnd: len(text)},
	}))
	chunks, err := st.ListChunks(context.Background(), docID)
	require.NoError(t, err)
	var chunkID int64
	for _, c := range chunks {
		if c.ChunkIndex == idx {
			chunkID = c.ID
		}
	}
	require.NoError(t, st.SaveEmbeddingsBatch(context.Background(), []store.Embedding{
		{ChunkID: &chunkID, Provider: provider, Model: model, Dims: 768, Vector: vecFor(seed)},
	}))
	return chunkID
}

func TestLexicalFindsSubstringMatch(t *testing.T) {
	st := newTestStore(t)
	docID := seedDocument(t, st, "doc-one", "article", "full text body")
	require.NoError(t, st.SaveChunks(context.Background(), docID, []store.Chunk{
		{ChunkIndex: 0, ChunkText: "a unique phrase about rockets", CharStart: 0, CharEnd: 30},
	}))
	require.NoError(t, st.RebuildFTS(context.Background()))

	eng := New(st, &stubProvider{name: "p", model: "m", dims: 768, fn: func(string) embedding.Vector { return vecFor(1.0) }}, Config{WeightLexical: 1, WeightSemantic: 1})
	results, err := eng.Lexical(context.Background(), "rockets", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestVectorChunkLevelFiltersCategoryWithOverfetch(t *testing.T) {
	st := newTestStore(t)
	matchDoc := seedDocument(t, st, "match", "article", "text")
	otherDoc := seedDocument(t, st, "other", "podcast", "text")

	seedChunkWithEmbedding(t, st, matchDoc, 0, "chunk about go programming", 1.0, "p", "m")
	seedChunkWithEmbedding(t, st, otherDoc, 0, "chunk about unrelated topic", 1.0, "p", "m")

	eng := New(st, &stubProvider{name: "p", model: "m", dims: 768, fn: func(string) embedding.Vector { return vecFor(1.0) }}, Config{})
	results, err := eng.VectorChunkLevel(context.Background(), "go programming", "article", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "article", results[0].Category)
}

func TestVectorDocumentLevelLegacyPath(t *testing.T) {
	st := newTestStore(t)
	docID := seedDocument(t, st, "legacy", "article", "legacy text")
	require.NoError(t, st.SaveEmbeddingsBatch(context.Background(), []store.Embedding{
		{DocumentID: &docID, Provider: "p", Model: "m", Dims: 768, Vector: vecFor(1.0)},
	}))

	eng := New(st, &stubProvider{name: "p", model: "m", dims: 768, fn: func(string) embedding.Vector { return vecFor(1.0) }}, Config{})
	results, err := eng.VectorDocumentLevel(context.Background(), "query", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, docID, results[0].Document.ID)
}
