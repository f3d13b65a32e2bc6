package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateJob inserts a new job row in pending status.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, kind, status, provider, model, phase,
			child_import_id, child_embed_id, state_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Kind, j.Status, j.Provider, j.Model, j.Phase, j.ChildImportID, j.ChildEmbedID, j.StateJSON)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+" FROM jobs WHERE id = ?", id)
	return scanJob(row)
}

const jobSelectColumns = `
	SELECT id, kind, status, started_at, last_activity, error, items_total,
		items_imported, items_merged, items_succeeded, items_failed, items_skipped,
		cursor_reader, cursor_export, reader_done, export_done, cursor_id,
		provider, model, phase, child_import_id, child_embed_id, state_json`

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var errMsg, cursorReader, cursorExport, provider, model, phase, childImport, childEmbed, stateJSON sql.NullString
	var itemsTotal sql.NullInt64
	var readerDone, exportDone int

	err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.StartedAt, &j.LastActivity, &errMsg, &itemsTotal,
		&j.ItemsImported, &j.ItemsMerged, &j.ItemsSucceeded, &j.ItemsFailed, &j.ItemsSkipped,
		&cursorReader, &cursorExport, &readerDone, &exportDone, &j.CursorID,
		&provider, &model, &phase, &childImport, &childEmbed, &stateJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	j.Error = errMsg.String
	j.CursorReader = cursorReader.String
	j.CursorExport = cursorExport.String
	j.Provider = provider.String
	j.Model = model.String
	j.Phase = phase.String
	j.ChildImportID = childImport.String
	j.ChildEmbedID = childEmbed.String
	j.StateJSON = stateJSON.String
	j.ReaderDone = readerDone != 0
	j.ExportDone = exportDone != 0
	if itemsTotal.Valid {
		v := int(itemsTotal.Int64)
		j.ItemsTotal = &v
	}
	return &j, nil
}

// UpdateJobProgress updates a job's counters, cursors and last_activity
// timestamp. Called frequently from the job's run loop, so it touches
// only the mutable progress columns.
func (s *Store) UpdateJobProgress(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			items_total = ?, items_imported = ?, items_merged = ?, items_succeeded = ?,
			items_failed = ?, items_skipped = ?, cursor_reader = ?, cursor_export = ?,
			reader_done = ?, export_done = ?, cursor_id = ?, phase = ?, state_json = ?,
			last_activity = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullInt64(intToInt64Ptr(j.ItemsTotal)), j.ItemsImported, j.ItemsMerged, j.ItemsSucceeded,
		j.ItemsFailed, j.ItemsSkipped, nullString(j.CursorReader), nullString(j.CursorExport),
		boolToInt(j.ReaderDone), boolToInt(j.ExportDone), j.CursorID, j.Phase, j.StateJSON, j.ID)
	if err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetJobStatus transitions a job to a new status, recording an error
// message when transitioning to failed.
func (s *Store) SetJobStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, last_activity = CURRENT_TIMESTAMP WHERE id = ?
	`, status, nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("setting job status: %w", err)
	}
	return nil
}

// DeleteJob removes a job row entirely.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

// GetRunningJobs returns all jobs currently in pending or running status
// for a given kind (or all kinds if empty), used on server startup to
// detect jobs that need to be resumed or marked failed after a crash.
func (s *Store) GetRunningJobs(ctx context.Context, kind string) ([]Job, error) {
	return s.queryJobs(ctx, kind, []string{JobStatusPending, JobStatusRunning})
}

// GetResumableJobs returns paused jobs for a kind (or all kinds), which
// can be resumed from their stored cursor.
func (s *Store) GetResumableJobs(ctx context.Context, kind string) ([]Job, error) {
	return s.queryJobs(ctx, kind, []string{JobStatusPaused})
}

// ListRecentJobs returns the most recently started jobs, across all
// statuses, newest first.
func (s *Store) ListRecentJobs(ctx context.Context, kind string, limit int) ([]Job, error) {
	var rows *sql.Rows
	var err error
	if kind != "" {
		rows, err = s.db.QueryContext(ctx, jobSelectColumns+" FROM jobs WHERE kind = ? ORDER BY started_at DESC LIMIT ?", kind, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, jobSelectColumns+" FROM jobs ORDER BY started_at DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing recent jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) queryJobs(ctx context.Context, kind string, statuses []string) ([]Job, error) {
	placeholders := "?" + repeatPlaceholders(len(statuses)-1)
	args := make([]any, 0, len(statuses)+1)
	query := jobSelectColumns + " FROM jobs WHERE status IN (" + placeholders + ")"
	for _, st := range statuses {
		args = append(args, st)
	}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY started_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
