package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSerializeFloat32RoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.14159, 0, -0.0001, math.MaxFloat32 / 2}
	packed := serializeFloat32(vec)
	require.Len(t, packed, len(vec)*4)

	back := deserializeFloat32(packed, len(vec))
	require.Len(t, back, len(vec))
	for i := range vec {
		assert.Equal(t, vec[i], back[i])
	}
}

func TestSaveDocumentUpsertByProviderKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d := &Document{
		Source:       "readwise",
		ProviderID:   "abc123",
		URLOriginal:  "https://example.com/post?utm_source=x",
		URLCanonical: "https://example.com/post",
		Title:        "Original Title",
	}
	id, err := s.SaveDocument(ctx, d)
	require.NoError(t, err)
	require.NotZero(t, id)

	// Saving again with the same (source, provider_id) updates in place,
	// it does not create a second row.
	d2 := &Document{
		Source:       "readwise",
		ProviderID:   "abc123",
		URLOriginal:  "https://example.com/post?utm_source=y",
		URLCanonical: "https://example.com/post",
		Title:        "Updated Title",
	}
	id2, err := s.SaveDocument(ctx, d2)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	got, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Updated Title", got.Title)
}

func TestSaveDocumentEmptyFieldsDoNotClobber(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.SaveDocument(ctx, &Document{
		Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u",
		Title: "Keep Me", Author: "Keep Author",
	})
	require.NoError(t, err)

	_, err = s.SaveDocument(ctx, &Document{
		Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u",
		Title: "", Author: "",
	})
	require.NoError(t, err)

	got, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Keep Me", got.Title)
	assert.Equal(t, "Keep Author", got.Author)
}

func TestSaveDocumentMergesByURLCanonicalAcrossDifferentProviderIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// First job run: the reader-export endpoint saves the article under
	// its own provider_id.
	id, err := s.SaveDocument(ctx, &Document{
		Source: "readwise", ProviderID: "reader-1",
		URLOriginal: "https://example.com/a?ref=1", URLCanonical: "https://example.com/a",
		Title: "An Article",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	// A later job run: the highlight-export endpoint references the same
	// canonical URL but with its own, different provider_id (or none at
	// all). This must merge into the same row rather than duplicate it.
	id2, err := s.SaveDocument(ctx, &Document{
		Source: "readwise", ProviderID: "highlight-9",
		URLOriginal: "https://example.com/a?ref=2", URLCanonical: "https://example.com/a",
	})
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	got, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "An Article", got.Title)
	assert.Equal(t, "highlight-9", got.ProviderID)
}

func TestSaveHighlightDedupesByTextHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u"})
	require.NoError(t, err)

	h1 := &Highlight{DocumentID: docID, Text: "an insight", TextHash: "deadbeefcafef00d"}
	id1, err := s.SaveHighlight(ctx, h1)
	require.NoError(t, err)

	h2 := &Highlight{DocumentID: docID, Text: "an insight", TextHash: "deadbeefcafef00d", Note: "second pass note"}
	id2, err := s.SaveHighlight(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	highlights, err := s.ListHighlights(ctx, docID)
	require.NoError(t, err)
	require.Len(t, highlights, 1)
	assert.Equal(t, "second pass note", highlights[0].Note)
}

func TestLibrarySearchEffectiveDateFallsBackToEarliestHighlight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// No saved_at: a highlight-only import, so effective_date must come
	// from the earliest highlight, not created_at (row-insertion time).
	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u"})
	require.NoError(t, err)

	earliest := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	_, err = s.SaveHighlight(ctx, &Highlight{DocumentID: docID, Text: "later", TextHash: "h2", HighlightedAt: &later})
	require.NoError(t, err)
	_, err = s.SaveHighlight(ctx, &Highlight{DocumentID: docID, Text: "earliest", TextHash: "h1", HighlightedAt: &earliest})
	require.NoError(t, err)

	entries, err := s.LibrarySearch(ctx, "", "", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2020, entries[0].EffectiveDate.Year())

	earliestTime, err := s.EarliestHighlightTime(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 2020, earliestTime.Year())
}

func TestSaveChunksReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u"})
	require.NoError(t, err)

	err = s.SaveChunks(ctx, docID, []Chunk{
		{ChunkIndex: 0, ChunkText: "first", CharStart: 0, CharEnd: 5, TokenCount: 1},
		{ChunkIndex: 1, ChunkText: "second", CharStart: 5, CharEnd: 11, TokenCount: 1},
	})
	require.NoError(t, err)

	chunks, err := s.ListChunks(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// Re-chunking replaces the whole set.
	err = s.SaveChunks(ctx, docID, []Chunk{
		{ChunkIndex: 0, ChunkText: "only chunk now", CharStart: 0, CharEnd: 15, TokenCount: 3},
	})
	require.NoError(t, err)

	chunks, err = s.ListChunks(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only chunk now", chunks[0].ChunkText)
}

func TestChunkPositionInvariant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u", Fulltext: "0123456789"})
	require.NoError(t, err)

	err = s.SaveChunks(ctx, docID, []Chunk{
		{ChunkIndex: 0, ChunkText: "0123456789", CharStart: 0, CharEnd: 10, TokenCount: 2},
	})
	require.NoError(t, err)

	chunks, err := s.ListChunks(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Less(t, chunks[0].CharStart, chunks[0].CharEnd)
	assert.LessOrEqual(t, chunks[0].CharEnd, len(s.mustFulltext(ctx, t, docID)))
}

// mustFulltext is a small test helper, not part of the public store API.
func (s *Store) mustFulltext(ctx context.Context, t *testing.T, docID int64) string {
	t.Helper()
	d, err := s.GetDocument(ctx, docID)
	require.NoError(t, err)
	return d.Fulltext
}

func TestSaveEmbeddingsBatchRejectsBadDimsAndBadOwnership(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u"})
	require.NoError(t, err)
	err = s.SaveChunks(ctx, docID, []Chunk{{ChunkIndex: 0, ChunkText: "hi", CharStart: 0, CharEnd: 2, TokenCount: 1}})
	require.NoError(t, err)
	chunks, err := s.ListChunks(ctx, docID)
	require.NoError(t, err)

	err = s.SaveEmbeddingsBatch(ctx, []Embedding{{
		ChunkID: &chunks[0].ID, Provider: "test", Model: "m", Dims: 7, Vector: make([]float32, 7),
	}})
	assert.Error(t, err, "unsupported dimension should be rejected")

	err = s.SaveEmbeddingsBatch(ctx, []Embedding{{
		DocumentID: &docID, ChunkID: &chunks[0].ID, Provider: "test", Model: "m", Dims: 768, Vector: make([]float32, 768),
	}})
	assert.Error(t, err, "setting both document_id and chunk_id should be rejected")
}

func TestSemanticSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u", Title: "Doc"})
	require.NoError(t, err)
	err = s.SaveChunks(ctx, docID, []Chunk{
		{ChunkIndex: 0, ChunkText: "alpha chunk", CharStart: 0, CharEnd: 11, TokenCount: 2},
	})
	require.NoError(t, err)
	chunks, err := s.ListChunks(ctx, docID)
	require.NoError(t, err)

	vec := make([]float32, 768)
	vec[0] = 1
	err = s.SaveEmbeddingsBatch(ctx, []Embedding{{
		ChunkID: &chunks[0].ID, Provider: "openai", Model: "text-embedding-3-small", Dims: 768, Vector: vec,
	}})
	require.NoError(t, err)

	results, err := s.SemanticSearch(ctx, vec, "openai", "text-embedding-3-small", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunks[0].ID, results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 0.01)
}

func TestLexicalSearchMatchesChunkText(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u"})
	require.NoError(t, err)
	err = s.SaveChunks(ctx, docID, []Chunk{
		{ChunkIndex: 0, ChunkText: "the quick brown fox", CharStart: 0, CharEnd: 20, TokenCount: 4},
		{ChunkIndex: 1, ChunkText: "jumps over the lazy dog", CharStart: 20, CharEnd: 44, TokenCount: 5},
	})
	require.NoError(t, err)

	results, err := s.LexicalSearch(ctx, "fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Chunk.ChunkText, "fox")
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job := &Job{ID: "job-1", Kind: "import", Status: JobStatusPending}
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, got.Status)

	require.NoError(t, s.SetJobStatus(ctx, "job-1", JobStatusRunning, ""))
	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)

	running, err := s.GetRunningJobs(ctx, "import")
	require.NoError(t, err)
	require.Len(t, running, 1)

	require.NoError(t, s.SetJobStatus(ctx, "job-1", JobStatusPaused, ""))
	resumable, err := s.GetResumableJobs(ctx, "import")
	require.NoError(t, err)
	require.Len(t, resumable, 1)

	require.NoError(t, s.SetJobStatus(ctx, "job-1", JobStatusFailed, "boom"))
	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Error)
}

func TestFetchFailureUpsertIncrementsRetryCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u"})
	require.NoError(t, err)

	require.NoError(t, s.SaveFetchFailure(ctx, &FetchFailure{DocumentID: docID, URL: "u", ErrorKind: "timeout"}))
	require.NoError(t, s.SaveFetchFailure(ctx, &FetchFailure{DocumentID: docID, URL: "u", ErrorKind: "timeout"}))

	failures, err := s.ListFetchFailures(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].RetryCount)

	require.NoError(t, s.ClearFetchFailure(ctx, docID))
	failures, err = s.ListFetchFailures(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestPromptOverrideRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetPromptOverride(ctx, "digest.summarize")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetPromptOverride(ctx, &PromptOverride{PromptKey: "digest.summarize", Body: "custom body"}))

	got, err := s.GetPromptOverride(ctx, "digest.summarize")
	require.NoError(t, err)
	assert.Equal(t, "custom body", got.Body)

	require.NoError(t, s.ResetPromptOverride(ctx, "digest.summarize"))
	_, err = s.GetPromptOverride(ctx, "digest.summarize")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppSettingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetAppSetting(ctx, "last_digest_at")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetAppSetting(ctx, "last_digest_at", "2026-07-24T00:00:00Z"))
	v, err := s.GetAppSetting(ctx, "last_digest_at")
	require.NoError(t, err)
	assert.Equal(t, "2026-07-24T00:00:00Z", v)
}

func TestDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	docID, err := s.SaveDocument(ctx, &Document{Source: "readwise", ProviderID: "1", URLOriginal: "u", URLCanonical: "u"})
	require.NoError(t, err)
	require.NoError(t, s.SaveChunks(ctx, docID, []Chunk{{ChunkIndex: 0, ChunkText: "x", CharStart: 0, CharEnd: 1, TokenCount: 1}}))
	_, err = s.SaveHighlight(ctx, &Highlight{DocumentID: docID, Text: "x", TextHash: "abc"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, docID))

	_, err = s.GetDocument(ctx, docID)
	assert.ErrorIs(t, err, ErrNotFound)

	chunks, err := s.ListChunks(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	highlights, err := s.ListHighlights(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, highlights)
}
