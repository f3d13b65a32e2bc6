package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")

// SaveDocument inserts a new document or merges into the existing one for
// the same source. The existing row is resolved by url_canonical first
// (via idx_documents_url_canonical) so that the same article arriving
// through two different upstream endpoints — one record per endpoint,
// each carrying its own provider_id — merges into a single Document
// instead of duplicating it; only when no row shares the canonical URL
// does it fall back to the (source, provider_id) key. Fields left
// zero-valued on an update do not clobber the stored value; callers pass
// only what changed via COALESCE semantics on the SQL side, except
// url_original/url_canonical which always take the incoming value.
func (s *Store) SaveDocument(ctx context.Context, d *Document) (int64, error) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	existingID, err := s.resolveDocumentID(ctx, d.Source, d.URLCanonical, d.ProviderID)
	if err != nil {
		return 0, err
	}

	if existingID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO documents (
				source, provider_id, url_original, url_canonical, title, author,
				published_at, saved_at, fulltext, fulltext_html, category,
				word_count, summary, fetch_source, fetch_time, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			d.Source, d.ProviderID, d.URLOriginal, d.URLCanonical, d.Title, d.Author,
			nullTime(d.PublishedAt), nullTime(d.SavedAt), d.Fulltext, d.FulltextHTML, d.Category,
			nullInt64(intToInt64Ptr(d.WordCount)), d.Summary, d.FetchSource, nullTime(d.FetchTime),
			d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting document: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("resolving inserted document id: %w", err)
		}
		d.ID = id
		return id, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE documents SET
			provider_id   = COALESCE(NULLIF(?, ''), provider_id),
			url_original  = ?,
			url_canonical = ?,
			title         = COALESCE(NULLIF(?, ''), title),
			author        = COALESCE(NULLIF(?, ''), author),
			published_at  = COALESCE(?, published_at),
			saved_at      = COALESCE(?, saved_at),
			fulltext      = COALESCE(NULLIF(?, ''), fulltext),
			fulltext_html = COALESCE(NULLIF(?, ''), fulltext_html),
			category      = COALESCE(NULLIF(?, ''), category),
			word_count    = COALESCE(?, word_count),
			summary       = COALESCE(NULLIF(?, ''), summary),
			fetch_source  = COALESCE(NULLIF(?, ''), fetch_source),
			fetch_time    = COALESCE(?, fetch_time),
			updated_at    = ?
		WHERE id = ?
	`,
		d.ProviderID, d.URLOriginal, d.URLCanonical, d.Title, d.Author,
		nullTime(d.PublishedAt), nullTime(d.SavedAt), d.Fulltext, d.FulltextHTML, d.Category,
		nullInt64(intToInt64Ptr(d.WordCount)), d.Summary, d.FetchSource, nullTime(d.FetchTime),
		d.UpdatedAt, existingID,
	)
	if err != nil {
		return 0, fmt.Errorf("merging document: %w", err)
	}
	d.ID = existingID
	return existingID, nil
}

// resolveDocumentID looks up an existing document for this source by
// url_canonical first, falling back to provider_id; returns 0 if neither
// matches (a new document).
func (s *Store) resolveDocumentID(ctx context.Context, source, urlCanonical, providerID string) (int64, error) {
	var id int64
	if urlCanonical != "" {
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM documents WHERE source = ? AND url_canonical = ?", source, urlCanonical,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("looking up document by url_canonical: %w", err)
		}
	}

	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE source = ? AND provider_id = ?", source, providerID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up document by provider_id: %w", err)
	}
	return 0, nil
}

func intToInt64Ptr(i *int) *int64 {
	if i == nil {
		return nil
	}
	v := int64(*i)
	return &v
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, provider_id, url_original, url_canonical, title, author,
			published_at, saved_at, fulltext, fulltext_html, category, word_count,
			summary, fetch_source, fetch_time, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentByProviderID fetches a document by its (source, provider_id) key.
func (s *Store) GetDocumentByProviderID(ctx context.Context, source, providerID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, provider_id, url_original, url_canonical, title, author,
			published_at, saved_at, fulltext, fulltext_html, category, word_count,
			summary, fetch_source, fetch_time, created_at, updated_at
		FROM documents WHERE source = ? AND provider_id = ?`, source, providerID)
	return scanDocument(row)
}

// CountHighlights returns the number of highlights attached to a document.
func (s *Store) CountHighlights(ctx context.Context, documentID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM highlights WHERE document_id = ?", documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting highlights: %w", err)
	}
	return n, nil
}

// EarliestHighlightTime returns the earliest highlighted_at for a document's
// highlights, used as the effective_date fallback when saved_at is unset.
// Returns the zero time if the document has no highlights.
func (s *Store) EarliestHighlightTime(ctx context.Context, documentID int64) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(highlighted_at) FROM highlights WHERE document_id = ?", documentID).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("finding earliest highlight time: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

// ListDocumentsNeedingChunks returns documents with full text saved but
// no chunks yet (or whose chunks were cleared for re-chunking).
func (s *Store) ListDocumentsNeedingChunks(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.source, d.provider_id, d.url_original, d.url_canonical, d.title, d.author,
			d.published_at, d.saved_at, d.fulltext, d.fulltext_html, d.category, d.word_count,
			d.summary, d.fetch_source, d.fetch_time, d.created_at, d.updated_at
		FROM documents d
		WHERE d.fulltext IS NOT NULL AND d.fulltext != ''
			AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = d.id)
		ORDER BY d.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents needing chunks: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListDocumentsNeedingFetch returns documents with no full text yet and
// no fetch-failure row, in batches of 50 ordered by id ascending,
// starting after afterID. Callers
// page through the whole backlog by passing the last id seen back in as
// afterID until an empty slice is returned.
func (s *Store) ListDocumentsNeedingFetch(ctx context.Context, afterID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.source, d.provider_id, d.url_original, d.url_canonical, d.title, d.author,
			d.published_at, d.saved_at, d.fulltext, d.fulltext_html, d.category, d.word_count,
			d.summary, d.fetch_source, d.fetch_time, d.created_at, d.updated_at
		FROM documents d
		WHERE d.id > ? AND (d.fulltext IS NULL OR d.fulltext = '')
			AND NOT EXISTS (SELECT 1 FROM fetch_failures f WHERE f.document_id = d.id)
		ORDER BY d.id ASC
		LIMIT 50`, afterID)
	if err != nil {
		return nil, fmt.Errorf("listing documents needing fetch: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var publishedAt, savedAt, fetchTime sql.NullTime
	var wordCount sql.NullInt64
	var title, author, fulltext, fulltextHTML, summary, fetchSource sql.NullString

	err := row.Scan(
		&d.ID, &d.Source, &d.ProviderID, &d.URLOriginal, &d.URLCanonical, &title, &author,
		&publishedAt, &savedAt, &fulltext, &fulltextHTML, &d.Category, &wordCount,
		&summary, &fetchSource, &fetchTime, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	d.Title = title.String
	d.Author = author.String
	d.Fulltext = fulltext.String
	d.FulltextHTML = fulltextHTML.String
	d.Summary = summary.String
	d.FetchSource = fetchSource.String
	if publishedAt.Valid {
		d.PublishedAt = &publishedAt.Time
	}
	if savedAt.Valid {
		d.SavedAt = &savedAt.Time
	}
	if fetchTime.Valid {
		d.FetchTime = &fetchTime.Time
	}
	if wordCount.Valid {
		wc := int(wordCount.Int64)
		d.WordCount = &wc
	}
	return &d, nil
}

// DeleteDocument removes a document and everything that cascades from it
// (highlights, chunks, embeddings, fetch failures) in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		return nil
	})
}

// SaveHighlight inserts a highlight, or updates the note/highlighted_at of
// the existing highlight matched by (document_id, text_hash).
func (s *Store) SaveHighlight(ctx context.Context, h *Highlight) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO highlights (document_id, text, text_hash, note, highlighted_at, provider)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, text_hash) DO UPDATE SET
			note = COALESCE(NULLIF(excluded.note, ''), highlights.note),
			highlighted_at = COALESCE(excluded.highlighted_at, highlights.highlighted_at)
	`, h.DocumentID, h.Text, h.TextHash, h.Note, nullTime(h.HighlightedAt), h.Provider)
	if err != nil {
		return 0, fmt.Errorf("upserting highlight: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM highlights WHERE document_id = ? AND text_hash = ?", h.DocumentID, h.TextHash)
		if scanErr := row.Scan(&id); scanErr != nil {
			return 0, fmt.Errorf("resolving highlight id after upsert: %w", scanErr)
		}
	}
	h.ID = id
	return id, nil
}

// ListHighlights returns all highlights for a document, oldest first.
func (s *Store) ListHighlights(ctx context.Context, documentID int64) ([]Highlight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, text, text_hash, note, highlighted_at, provider, created_at
		FROM highlights WHERE document_id = ? ORDER BY id ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing highlights: %w", err)
	}
	defer rows.Close()

	var out []Highlight
	for rows.Next() {
		var h Highlight
		var note, provider sql.NullString
		var highlightedAt sql.NullTime
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Text, &h.TextHash, &note, &highlightedAt, &provider, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning highlight: %w", err)
		}
		h.Note = note.String
		h.Provider = provider.String
		if highlightedAt.Valid {
			h.HighlightedAt = &highlightedAt.Time
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
