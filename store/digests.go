package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveDigest inserts a generated digest along with its topics and
// citations in one transaction.
func (s *Store) SaveDigest(ctx context.Context, d *Digest, topics []DigestTopic, citations []DigestCitation) (int64, error) {
	var digestID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO generated_digests (
				name, date_from, date_to, strategy, model, summary, topics_json,
				highlights_json, docs_analyzed, chunks_analyzed, tokens_input, tokens_output, cost_usd
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.Name, d.DateFrom, d.DateTo, d.Strategy, d.Model, d.Summary, d.TopicsJSON,
			d.HighlightsJSON, d.DocsAnalyzed, d.ChunksAnalyzed, d.TokensInput, d.TokensOutput, d.CostUSD)
		if err != nil {
			return fmt.Errorf("inserting digest: %w", err)
		}
		digestID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting digest id: %w", err)
		}

		topicIDs := make(map[int]int64, len(topics))
		for _, t := range topics {
			tRes, err := tx.ExecContext(ctx, `
				INSERT INTO digest_topics (digest_id, topic_index, topic_name, summary, key_points_json)
				VALUES (?, ?, ?, ?, ?)
			`, digestID, t.TopicIndex, t.TopicName, t.Summary, t.KeyPointsJSON)
			if err != nil {
				return fmt.Errorf("inserting digest topic %d: %w", t.TopicIndex, err)
			}
			topicID, err := tRes.LastInsertId()
			if err != nil {
				return fmt.Errorf("getting digest topic id: %w", err)
			}
			topicIDs[t.TopicIndex] = topicID
		}

		for _, c := range citations {
			topicID, ok := topicIDs[int(c.TopicID)]
			if !ok {
				topicID = c.TopicID
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO digest_citations (digest_id, topic_id, chunk_id, document_id, excerpt)
				VALUES (?, ?, ?, ?, ?)
			`, digestID, topicID, nullInt64(c.ChunkID), nullInt64(c.DocumentID), c.Excerpt); err != nil {
				return fmt.Errorf("inserting digest citation: %w", err)
			}
		}
		return nil
	})
	return digestID, err
}

// GetDigest fetches a digest by ID along with its topics and citations.
func (s *Store) GetDigest(ctx context.Context, id int64) (*Digest, []DigestTopic, []DigestCitation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, date_from, date_to, strategy, model, summary, topics_json,
			highlights_json, docs_analyzed, chunks_analyzed, tokens_input, tokens_output, cost_usd, created_at
		FROM generated_digests WHERE id = ?`, id)

	var d Digest
	var summary, topicsJSON, highlightsJSON sql.NullString
	err := row.Scan(&d.ID, &d.Name, &d.DateFrom, &d.DateTo, &d.Strategy, &d.Model, &summary, &topicsJSON,
		&highlightsJSON, &d.DocsAnalyzed, &d.ChunksAnalyzed, &d.TokensInput, &d.TokensOutput, &d.CostUSD, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scanning digest: %w", err)
	}
	d.Summary = summary.String
	d.TopicsJSON = topicsJSON.String
	d.HighlightsJSON = highlightsJSON.String

	topicRows, err := s.db.QueryContext(ctx, `
		SELECT id, digest_id, topic_index, topic_name, summary, key_points_json
		FROM digest_topics WHERE digest_id = ? ORDER BY topic_index ASC`, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing digest topics: %w", err)
	}
	defer topicRows.Close()

	var topics []DigestTopic
	for topicRows.Next() {
		var t DigestTopic
		var name, summary, keyPoints sql.NullString
		if err := topicRows.Scan(&t.ID, &t.DigestID, &t.TopicIndex, &name, &summary, &keyPoints); err != nil {
			return nil, nil, nil, fmt.Errorf("scanning digest topic: %w", err)
		}
		t.TopicName = name.String
		t.Summary = summary.String
		t.KeyPointsJSON = keyPoints.String
		topics = append(topics, t)
	}

	citeRows, err := s.db.QueryContext(ctx, `
		SELECT id, digest_id, topic_id, chunk_id, document_id, excerpt
		FROM digest_citations WHERE digest_id = ? ORDER BY topic_id ASC`, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing digest citations: %w", err)
	}
	defer citeRows.Close()

	var citations []DigestCitation
	for citeRows.Next() {
		var c DigestCitation
		var chunkID, documentID sql.NullInt64
		var excerpt sql.NullString
		if err := citeRows.Scan(&c.ID, &c.DigestID, &c.TopicID, &chunkID, &documentID, &excerpt); err != nil {
			return nil, nil, nil, fmt.Errorf("scanning digest citation: %w", err)
		}
		if chunkID.Valid {
			c.ChunkID = &chunkID.Int64
		}
		if documentID.Valid {
			c.DocumentID = &documentID.Int64
		}
		c.Excerpt = excerpt.String
		citations = append(citations, c)
	}

	return &d, topics, citations, nil
}

// ChunksForDigest returns every embedded chunk belonging to a document
// whose effective date (saved_at, falling back to created_at) falls in
// [from, to), restricted to the given embedding provider/model, ready
// for digest clustering.
func (s *Store) ChunksForDigest(ctx context.Context, from, to time.Time, provider, model string) ([]DigestChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.chunk_text,
			d.title, d.author, d.category, d.url_canonical,
			e.id, e.dims
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		JOIN embeddings e ON e.chunk_id = c.id AND e.provider = ? AND e.model = ?
		WHERE COALESCE(d.saved_at, d.created_at) >= ? AND COALESCE(d.saved_at, d.created_at) < ?
		ORDER BY c.document_id ASC, c.chunk_index ASC
	`, provider, model, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying digest chunks: %w", err)
	}
	defer rows.Close()

	var out []DigestChunk
	for rows.Next() {
		var dc DigestChunk
		var title, author sql.NullString
		var embeddingID int64
		var dims int
		if err := rows.Scan(&dc.ChunkID, &dc.DocumentID, &dc.ChunkIndex, &dc.ChunkText,
			&title, &author, &dc.Category, &dc.URLCanonical, &embeddingID, &dims); err != nil {
			return nil, fmt.Errorf("scanning digest chunk: %w", err)
		}
		dc.Title = title.String
		dc.Author = author.String

		vecTable := fmt.Sprintf("vec_chunks_%d", dims)
		var blob []byte
		if err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT embedding FROM %s WHERE embedding_id = ?", vecTable), embeddingID,
		).Scan(&blob); err != nil {
			return nil, fmt.Errorf("fetching vector for chunk %d: %w", dc.ChunkID, err)
		}
		dc.Vector = deserializeFloat32(blob, dims)
		out = append(out, dc)
	}
	return out, rows.Err()
}

// ListDigests returns digests newest-first.
func (s *Store) ListDigests(ctx context.Context, limit int) ([]Digest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, date_from, date_to, strategy, model, summary, topics_json,
			highlights_json, docs_analyzed, chunks_analyzed, tokens_input, tokens_output, cost_usd, created_at
		FROM generated_digests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing digests: %w", err)
	}
	defer rows.Close()

	var out []Digest
	for rows.Next() {
		var d Digest
		var summary, topicsJSON, highlightsJSON sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &d.DateFrom, &d.DateTo, &d.Strategy, &d.Model, &summary, &topicsJSON,
			&highlightsJSON, &d.DocsAnalyzed, &d.ChunksAnalyzed, &d.TokensInput, &d.TokensOutput, &d.CostUSD, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning digest: %w", err)
		}
		d.Summary = summary.String
		d.TopicsJSON = topicsJSON.String
		d.HighlightsJSON = highlightsJSON.String
		out = append(out, d)
	}
	return out, rows.Err()
}
