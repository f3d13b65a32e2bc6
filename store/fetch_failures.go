package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveFetchFailure records a failed full-text fetch for a document,
// upserting on the document's single fetch-failure row and bumping
// retry_count when the same document fails again.
func (s *Store) SaveFetchFailure(ctx context.Context, f *FetchFailure) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_failures (document_id, url, error_kind, message, http_status, retry_count, last_attempt, job_id)
		VALUES (?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			url          = excluded.url,
			error_kind   = excluded.error_kind,
			message      = excluded.message,
			http_status  = excluded.http_status,
			retry_count  = fetch_failures.retry_count + 1,
			last_attempt = CURRENT_TIMESTAMP,
			job_id       = excluded.job_id
	`, f.DocumentID, f.URL, f.ErrorKind, f.Message, nullIntPtr(f.HTTPStatus), f.JobID)
	if err != nil {
		return fmt.Errorf("saving fetch failure: %w", err)
	}
	return nil
}

func nullIntPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// ClearFetchFailure removes the fetch-failure row for a document, called
// after a successful refetch.
func (s *Store) ClearFetchFailure(ctx context.Context, documentID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM fetch_failures WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("clearing fetch failure: %w", err)
	}
	return nil
}

// ClearRetriableFetchFailures deletes all fetch-failure rows whose
// error_kind is in the given retriable set, returning the document ids
// whose rows were cleared so callers can re-enqueue those documents.
func (s *Store) ClearRetriableFetchFailures(ctx context.Context, retriableKinds []string) ([]int64, error) {
	if len(retriableKinds) == 0 {
		return nil, nil
	}

	placeholders := "?" + repeatPlaceholders(len(retriableKinds)-1)
	args := make([]any, len(retriableKinds))
	for i, k := range retriableKinds {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT document_id FROM fetch_failures WHERE error_kind IN (%s)", placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("selecting retriable fetch failures: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning retriable document id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM fetch_failures WHERE error_kind IN (%s)", placeholders), args...); err != nil {
		return nil, fmt.Errorf("clearing retriable fetch failures: %w", err)
	}
	return ids, nil
}

// FetchFailureStats is a breakdown of current fetch failures by error kind.
type FetchFailureStats struct {
	Total   int
	ByKind  map[string]int
}

// GetFetchFailureStats summarizes current fetch-failure rows by error_kind.
func (s *Store) GetFetchFailureStats(ctx context.Context) (FetchFailureStats, error) {
	stats := FetchFailureStats{ByKind: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, "SELECT error_kind, COUNT(*) FROM fetch_failures GROUP BY error_kind")
	if err != nil {
		return stats, fmt.Errorf("querying fetch failure stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return stats, fmt.Errorf("scanning fetch failure stats: %w", err)
		}
		stats.ByKind[kind] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

// FetchStats is the overall fetch-backlog breakdown for /api/fetch/stats.
type FetchStats struct {
	Total          int
	WithURL        int
	WithFulltext   int
	Failed         int
	Pending        int
	WithoutChunks  int
	FailuresByKind map[string]int
}

// GetFetchStats summarizes the documents table plus fetch_failures into
// the counters the fetch dashboard polls.
func (s *Store) GetFetchStats(ctx context.Context) (FetchStats, error) {
	var stats FetchStats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN url_canonical != '' THEN 1 ELSE 0 END),
			SUM(CASE WHEN fulltext IS NOT NULL AND fulltext != '' THEN 1 ELSE 0 END),
			SUM(CASE WHEN (fulltext IS NULL OR fulltext = '') AND id NOT IN (SELECT document_id FROM fetch_failures) THEN 1 ELSE 0 END),
			SUM(CASE WHEN fulltext IS NOT NULL AND fulltext != '' AND NOT EXISTS (SELECT 1 FROM chunks c WHERE c.document_id = documents.id) THEN 1 ELSE 0 END)
		FROM documents`)
	if err := row.Scan(&stats.Total, &stats.WithURL, &stats.WithFulltext, &stats.Pending, &stats.WithoutChunks); err != nil {
		return stats, fmt.Errorf("querying fetch stats: %w", err)
	}

	failureStats, err := s.GetFetchFailureStats(ctx)
	if err != nil {
		return stats, err
	}
	stats.Failed = failureStats.Total
	stats.FailuresByKind = failureStats.ByKind
	return stats, nil
}

// ListFetchFailures returns fetch failures, optionally filtered by kind.
func (s *Store) ListFetchFailures(ctx context.Context, errorKind string, limit int) ([]FetchFailure, error) {
	var rows *sql.Rows
	var err error
	if errorKind != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, document_id, url, error_kind, message, http_status, retry_count, last_attempt, job_id
			FROM fetch_failures WHERE error_kind = ? ORDER BY last_attempt DESC LIMIT ?`, errorKind, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, document_id, url, error_kind, message, http_status, retry_count, last_attempt, job_id
			FROM fetch_failures ORDER BY last_attempt DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing fetch failures: %w", err)
	}
	defer rows.Close()

	var out []FetchFailure
	for rows.Next() {
		var f FetchFailure
		var message, jobID sql.NullString
		var httpStatus sql.NullInt64
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.URL, &f.ErrorKind, &message, &httpStatus, &f.RetryCount, &f.LastAttempt, &jobID); err != nil {
			return nil, fmt.Errorf("scanning fetch failure: %w", err)
		}
		f.Message = message.String
		f.JobID = jobID.String
		if httpStatus.Valid {
			v := int(httpStatus.Int64)
			f.HTTPStatus = &v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
