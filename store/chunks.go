package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveChunks atomically replaces all chunks of a document with the given
// set. Re-chunking a document (e.g. after a refetch) is a full
// delete-then-insert so stale chunk_index/char_start/char_end never survive
// alongside new ones.
func (s *Store) SaveChunks(ctx context.Context, documentID int64, chunks []Chunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
			return fmt.Errorf("clearing old chunks: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, chunk_index, chunk_text, char_start, char_end, token_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, documentID, c.ChunkIndex, c.ChunkText, c.CharStart, c.CharEnd, c.TokenCount); err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// ListChunks returns all chunks of a document, ordered by chunk_index.
func (s *Store) ListChunks(ctx context.Context, documentID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, chunk_text, char_start, char_end, token_count, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.ChunkText, &c.CharStart, &c.CharEnd, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunksForEmbedding returns up to limit chunks that have no embedding
// row for the given provider/model yet, ordered by id for stable
// pagination via afterID.
func (s *Store) GetChunksForEmbedding(ctx context.Context, provider, model string, afterID int64, limit int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.chunk_index, c.chunk_text, c.char_start, c.char_end, c.token_count, c.created_at
		FROM chunks c
		WHERE c.id > ?
		  AND NOT EXISTS (
			SELECT 1 FROM embeddings e
			WHERE e.chunk_id = c.id AND e.provider = ? AND e.model = ?
		  )
		ORDER BY c.id ASC
		LIMIT ?`, afterID, provider, model, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chunks pending embedding: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.ChunkText, &c.CharStart, &c.CharEnd, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChunksForEmbedding reports total/embedded/pending/orphaned chunk
// counts for a given provider/model pair.
func (s *Store) CountChunksForEmbedding(ctx context.Context, provider, model string) (ChunkStats, error) {
	var stats ChunkStats
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks")
	if err := row.Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("counting chunks: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings WHERE chunk_id IS NOT NULL AND provider = ? AND model = ?`, provider, model)
	if err := row.Scan(&stats.Embedded); err != nil {
		return stats, fmt.Errorf("counting embedded chunks: %w", err)
	}
	stats.Pending = stats.Total - stats.Embedded

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings e
		WHERE e.chunk_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.id = e.chunk_id)`)
	if err := row.Scan(&stats.Orphaned); err != nil {
		return stats, fmt.Errorf("counting orphaned embeddings: %w", err)
	}
	return stats, nil
}

// SaveEmbeddingsBatch inserts embeddings rows and mirrors each vector into
// the per-dimension vec0 table, in sub-batches of at most 500 rows per
// transaction to keep any one WAL write bounded.
func (s *Store) SaveEmbeddingsBatch(ctx context.Context, embeddings []Embedding) error {
	const maxBatch = 500

	for start := 0; start < len(embeddings); start += maxBatch {
		end := start + maxBatch
		if end > len(embeddings) {
			end = len(embeddings)
		}
		if err := s.saveEmbeddingsChunk(ctx, embeddings[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveEmbeddingsChunk(ctx context.Context, embeddings []Embedding) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range embeddings {
			e := &embeddings[i]
			if !DimSupported(e.Dims) {
				return fmt.Errorf("saving embedding: unsupported dimension %d", e.Dims)
			}
			if (e.DocumentID == nil) == (e.ChunkID == nil) {
				return fmt.Errorf("saving embedding: exactly one of document_id/chunk_id must be set")
			}

			var docID, chunkID sql.NullInt64
			if e.DocumentID != nil {
				docID = sql.NullInt64{Int64: *e.DocumentID, Valid: true}
			}
			if e.ChunkID != nil {
				chunkID = sql.NullInt64{Int64: *e.ChunkID, Valid: true}
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO embeddings (document_id, chunk_id, provider, model, dims)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(chunk_id, provider, model) DO UPDATE SET dims = excluded.dims
			`, docID, chunkID, e.Provider, e.Model, e.Dims)
			if err != nil {
				return fmt.Errorf("inserting embedding row: %w", err)
			}

			id, err := res.LastInsertId()
			if err != nil || id == 0 {
				var row *sql.Row
				if e.ChunkID != nil {
					row = tx.QueryRowContext(ctx,
						"SELECT id FROM embeddings WHERE chunk_id = ? AND provider = ? AND model = ?", *e.ChunkID, e.Provider, e.Model)
				} else {
					row = tx.QueryRowContext(ctx,
						"SELECT id FROM embeddings WHERE document_id = ? AND provider = ? AND model = ?", *e.DocumentID, e.Provider, e.Model)
				}
				if scanErr := row.Scan(&id); scanErr != nil {
					return fmt.Errorf("resolving embedding id after upsert: %w", scanErr)
				}
			}
			e.ID = id

			vecTable := fmt.Sprintf("vec_chunks_%d", e.Dims)
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT OR REPLACE INTO %s (embedding_id, embedding) VALUES (?, ?)", vecTable),
				id, serializeFloat32(e.Vector),
			); err != nil {
				return fmt.Errorf("mirroring embedding into %s: %w", vecTable, err)
			}
		}
		return nil
	})
}

// CleanupOrphanEmbeddings deletes embeddings rows (and their vec0 mirrors)
// whose chunk or document no longer exists. Returns the number removed.
func (s *Store) CleanupOrphanEmbeddings(ctx context.Context) (int, error) {
	removed := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, dim := range supportedDims {
			vecTable := fmt.Sprintf("vec_chunks_%d", dim)
			res, err := tx.ExecContext(ctx, fmt.Sprintf(`
				DELETE FROM %s WHERE embedding_id IN (
					SELECT e.id FROM embeddings e
					WHERE e.dims = ?
					  AND (
						(e.chunk_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.id = e.chunk_id))
						OR
						(e.document_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = e.document_id))
					  )
				)`, vecTable), dim)
			if err != nil {
				return fmt.Errorf("cleaning %s: %w", vecTable, err)
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM embeddings
			WHERE (chunk_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.id = embeddings.chunk_id))
			   OR (document_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = embeddings.document_id))
		`); err != nil {
			return fmt.Errorf("cleaning embeddings: %w", err)
		}
		return nil
	})
	return removed, err
}

// RebuildFTS rebuilds the documents and chunks FTS5 indexes from their
// content tables, used after a bulk import or schema repair.
func (s *Store) RebuildFTS(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, ftsTable := range []string{"documents_fts", "chunks_fts"} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s(%s) VALUES('rebuild')", ftsTable, ftsTable)); err != nil {
				return fmt.Errorf("rebuilding %s: %w", ftsTable, err)
			}
		}
		return nil
	})
}
