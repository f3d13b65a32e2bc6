package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// SemanticSearch runs a KNN search against the per-dimension vec0 table
// matching vector's length, returning chunks ranked by the vec0 table's
// distance, which is L2 since the tables declare no distance_metric
// (score = 1 - distance, higher is better).
func (s *Store) SemanticSearch(ctx context.Context, vector []float32, provider, model string, k int) ([]ScoredChunk, error) {
	dims := len(vector)
	if !DimSupported(dims) {
		return nil, fmt.Errorf("semantic search: unsupported dimension %d", dims)
	}
	vecTable := fmt.Sprintf("vec_chunks_%d", dims)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.document_id, c.chunk_index, c.chunk_text, c.char_start, c.char_end, c.token_count, c.created_at,
			d.id, d.source, d.provider_id, d.url_original, d.url_canonical, d.title, d.author, d.category,
			v.distance
		FROM %s v
		JOIN embeddings e ON e.id = v.embedding_id
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ? AND e.provider = ? AND e.model = ?
		ORDER BY v.distance
	`, vecTable), serializeFloat32(vector), k, provider, model)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var distance float64
		var title, author sql.NullString
		if err := rows.Scan(
			&sc.Chunk.ID, &sc.Chunk.DocumentID, &sc.Chunk.ChunkIndex, &sc.Chunk.ChunkText, &sc.Chunk.CharStart, &sc.Chunk.CharEnd, &sc.Chunk.TokenCount, &sc.Chunk.CreatedAt,
			&sc.Document.ID, &sc.Document.Source, &sc.Document.ProviderID, &sc.Document.URLOriginal, &sc.Document.URLCanonical, &title, &author, &sc.Document.Category,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("scanning vector search result: %w", err)
		}
		sc.Document.Title = title.String
		sc.Document.Author = author.String
		sc.Score = 1 - distance
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SemanticSearchWithChunks runs SemanticSearch and then fills in the
// chunk immediately before/after each hit (by chunk_index) as citation
// context.
func (s *Store) SemanticSearchWithChunks(ctx context.Context, vector []float32, provider, model string, k int) ([]ScoredChunk, error) {
	hits, err := s.SemanticSearch(ctx, vector, provider, model, k)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		before, after, err := s.neighborChunks(ctx, hits[i].Chunk.DocumentID, hits[i].Chunk.ChunkIndex)
		if err != nil {
			return nil, err
		}
		hits[i].ContextBefore = before
		hits[i].ContextAfter = after
	}
	return hits, nil
}

// SemanticSearchDocuments runs the legacy document-level KNN: embeddings
// attached directly to a Document (not a Chunk), returning documents only.
func (s *Store) SemanticSearchDocuments(ctx context.Context, vector []float32, provider, model string, k int) ([]LibraryEntry, error) {
	dims := len(vector)
	if !DimSupported(dims) {
		return nil, fmt.Errorf("semantic search: unsupported dimension %d", dims)
	}
	vecTable := fmt.Sprintf("vec_chunks_%d", dims)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT d.id, d.source, d.provider_id, d.url_original, d.url_canonical, d.title, d.author,
			d.published_at, d.saved_at, d.category, d.word_count, d.summary, d.created_at, d.updated_at,
			v.distance,
			COALESCE(d.saved_at, (SELECT MIN(h.highlighted_at) FROM highlights h WHERE h.document_id = d.id), d.created_at) AS effective_date
		FROM %s v
		JOIN embeddings e ON e.id = v.embedding_id
		JOIN documents d ON d.id = e.document_id
		WHERE v.embedding MATCH ? AND k = ? AND e.provider = ? AND e.model = ? AND e.document_id IS NOT NULL
		ORDER BY v.distance
	`, vecTable), serializeFloat32(vector), k, provider, model)
	if err != nil {
		return nil, fmt.Errorf("document-level vector search: %w", err)
	}
	defer rows.Close()

	var out []LibraryEntry
	for rows.Next() {
		var d Document
		var le LibraryEntry
		var title, author, summary sql.NullString
		var publishedAt, savedAt sql.NullTime
		var wordCount sql.NullInt64
		var distance float64
		if err := rows.Scan(
			&d.ID, &d.Source, &d.ProviderID, &d.URLOriginal, &d.URLCanonical, &title, &author,
			&publishedAt, &savedAt, &d.Category, &wordCount, &summary, &d.CreatedAt, &d.UpdatedAt,
			&distance, &le.EffectiveDate,
		); err != nil {
			return nil, fmt.Errorf("scanning document-level vector result: %w", err)
		}
		d.Title = title.String
		d.Author = author.String
		d.Summary = summary.String
		if publishedAt.Valid {
			d.PublishedAt = &publishedAt.Time
		}
		if savedAt.Valid {
			d.SavedAt = &savedAt.Time
		}
		if wordCount.Valid {
			wc := int(wordCount.Int64)
			d.WordCount = &wc
		}
		le.Document = d
		le.Score = 1 - distance
		out = append(out, le)
	}
	return out, rows.Err()
}

// FetchChunkContext returns the chunk text immediately before and after
// chunkIndex in the same document, for citation display.
func (s *Store) FetchChunkContext(ctx context.Context, documentID int64, chunkIndex int) (before, after string, err error) {
	return s.neighborChunks(ctx, documentID, chunkIndex)
}

func (s *Store) neighborChunks(ctx context.Context, documentID int64, chunkIndex int) (before, after string, err error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT chunk_text FROM chunks WHERE document_id = ? AND chunk_index = ?", documentID, chunkIndex-1)
	if scanErr := row.Scan(&before); scanErr != nil && scanErr != sql.ErrNoRows {
		return "", "", fmt.Errorf("fetching preceding chunk: %w", scanErr)
	}

	row = s.db.QueryRowContext(ctx,
		"SELECT chunk_text FROM chunks WHERE document_id = ? AND chunk_index = ?", documentID, chunkIndex+1)
	if scanErr := row.Scan(&after); scanErr != nil && scanErr != sql.ErrNoRows {
		return "", "", fmt.Errorf("fetching following chunk: %w", scanErr)
	}
	return before, after, nil
}

// LexicalSearch runs an FTS5 query over chunks, ranked by bm25 (score = -rank,
// higher is better).
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.chunk_text, c.char_start, c.char_end, c.token_count, c.created_at,
			d.id, d.source, d.provider_id, d.url_original, d.url_canonical, d.title, d.author, d.category,
			f.rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var rank float64
		var title, author sql.NullString
		if err := rows.Scan(
			&sc.Chunk.ID, &sc.Chunk.DocumentID, &sc.Chunk.ChunkIndex, &sc.Chunk.ChunkText, &sc.Chunk.CharStart, &sc.Chunk.CharEnd, &sc.Chunk.TokenCount, &sc.Chunk.CreatedAt,
			&sc.Document.ID, &sc.Document.Source, &sc.Document.ProviderID, &sc.Document.URLOriginal, &sc.Document.URLCanonical, &title, &author, &sc.Document.Category,
			&rank,
		); err != nil {
			return nil, fmt.Errorf("scanning lexical search result: %w", err)
		}
		sc.Document.Title = title.String
		sc.Document.Author = author.String
		sc.Score = -rank
		out = append(out, sc)
	}
	return out, rows.Err()
}

const rrfK = 60

// HybridSearch fuses LexicalSearch and SemanticSearch results with
// Reciprocal Rank Fusion: score = sum(weight_i / (k + rank_i)).
func (s *Store) HybridSearch(ctx context.Context, query string, vector []float32, provider, model string, weightLexical, weightSemantic float64, limit int) ([]ScoredChunk, error) {
	lexical, err := s.LexicalSearch(ctx, query, limit*4)
	if err != nil {
		return nil, err
	}
	semantic, err := s.SemanticSearch(ctx, vector, provider, model, limit*4)
	if err != nil {
		return nil, err
	}

	type fusedEntry struct {
		chunk ScoredChunk
		score float64
	}
	fused := make(map[int64]*fusedEntry)

	for rank, r := range lexical {
		e, ok := fused[r.Chunk.ID]
		if !ok {
			e = &fusedEntry{chunk: r}
			fused[r.Chunk.ID] = e
		}
		e.score += weightLexical / float64(rrfK+rank+1)
	}
	for rank, r := range semantic {
		e, ok := fused[r.Chunk.ID]
		if !ok {
			e = &fusedEntry{chunk: r}
			fused[r.Chunk.ID] = e
		}
		e.score += weightSemantic / float64(rrfK+rank+1)
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]ScoredChunk, len(entries))
	for i, e := range entries {
		e.chunk.Score = e.score
		out[i] = e.chunk
	}
	return out, nil
}

// LibrarySearch lists/searches saved documents, optionally filtered by
// category. With a non-empty query and mode "lexical" it runs the FTS
// match over documents, ordered by rank; otherwise the query is ignored
// and documents are listed newest first by effective_date (saved_at,
// else the earliest highlight time, else created_at). Semantic search is
// not handled here.
func (s *Store) LibrarySearch(ctx context.Context, query, category, mode string, limit, offset int) ([]LibraryEntry, error) {
	var rows *sql.Rows
	var err error

	switch {
	case query != "" && mode == "lexical":
		rows, err = s.db.QueryContext(ctx, `
			SELECT d.id, d.source, d.provider_id, d.url_original, d.url_canonical, d.title, d.author,
				d.published_at, d.saved_at, d.category, d.word_count, d.summary, d.created_at, d.updated_at,
				-f.rank,
				COALESCE(d.saved_at, (SELECT MIN(h.highlighted_at) FROM highlights h WHERE h.document_id = d.id), d.created_at) AS effective_date
			FROM documents_fts f
			JOIN documents d ON d.id = f.rowid
			WHERE documents_fts MATCH ? AND (? = '' OR d.category = ?)
			ORDER BY f.rank
			LIMIT ? OFFSET ?`, query, category, category, limit, offset)
	default:
		rows, err = s.db.QueryContext(ctx, `
			SELECT d.id, d.source, d.provider_id, d.url_original, d.url_canonical, d.title, d.author,
				d.published_at, d.saved_at, d.category, d.word_count, d.summary, d.created_at, d.updated_at,
				0,
				COALESCE(d.saved_at, (SELECT MIN(h.highlighted_at) FROM highlights h WHERE h.document_id = d.id), d.created_at) AS effective_date
			FROM documents d
			WHERE (? = '' OR d.category = ?)
			ORDER BY effective_date DESC
			LIMIT ? OFFSET ?`, category, category, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("library search: %w", err)
	}
	defer rows.Close()

	var out []LibraryEntry
	for rows.Next() {
		var d Document
		var le LibraryEntry
		var title, author, summary sql.NullString
		var publishedAt, savedAt sql.NullTime
		var wordCount sql.NullInt64
		if err := rows.Scan(
			&d.ID, &d.Source, &d.ProviderID, &d.URLOriginal, &d.URLCanonical, &title, &author,
			&publishedAt, &savedAt, &d.Category, &wordCount, &summary, &d.CreatedAt, &d.UpdatedAt,
			&le.Score, &le.EffectiveDate,
		); err != nil {
			return nil, fmt.Errorf("scanning library entry: %w", err)
		}
		d.Title = title.String
		d.Author = author.String
		d.Summary = summary.String
		if publishedAt.Valid {
			d.PublishedAt = &publishedAt.Time
		}
		if savedAt.Valid {
			d.SavedAt = &savedAt.Time
		}
		if wordCount.Valid {
			wc := int(wordCount.Int64)
			d.WordCount = &wc
		}
		le.Document = d
		out = append(out, le)
	}
	return out, rows.Err()
}
