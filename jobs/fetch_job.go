package jobs

import (
	"context"
	"fmt"

	"github.com/khoffmann/nexuspipe/fetcher"
	"github.com/khoffmann/nexuspipe/ratelimit"
	"github.com/khoffmann/nexuspipe/store"
)

// FetchJob fetches full text for every document missing it that has no
// fetch-failure row (a retriable failure becomes eligible again once its
// row is cleared), honoring a per-domain rate limit.
type FetchJob struct {
	Store   *store.Store
	Fetcher *fetcher.Fetcher
	Limiter *ratelimit.Limiter
	Status  func(ctx context.Context, jobID string) func() (string, error)

	// DocumentsNeedingFetch returns the IDs+URLs of documents still
	// needing a fetch attempt, honoring the resumable cursor.
	DocumentsNeedingFetch func(ctx context.Context, afterID int64) ([]store.Document, error)
}

func (j *FetchJob) Kind() string { return "fetch" }

func (j *FetchJob) Run(ctx context.Context, job *store.Job, emit func(Event)) error {
	status := j.Status(ctx, job.ID)
	afterID := job.CursorID
	itemCount := 0

	for {
		docs, err := j.DocumentsNeedingFetch(ctx, afterID)
		if err != nil {
			return fmt.Errorf("fetch job: listing documents: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			st, err := status()
			if err != nil {
				return err
			}
			if st == store.JobStatusPaused {
				emit(Event{Kind: EventPaused, JobID: job.ID})
				return nil
			}
			if st == store.JobStatusCancelled {
				emit(Event{Kind: EventCancelled, JobID: job.ID})
				return nil
			}

			j.Limiter.WaitFor(doc.URLCanonical)
			result := j.Fetcher.Fetch(ctx, doc.URLCanonical)

			if result.Success {
				j.Limiter.RecordSuccess(doc.URLCanonical)
				doc.Fulltext = result.Fulltext
				doc.FetchSource = "direct"
				if _, err := j.Store.SaveDocument(ctx, &doc); err != nil {
					job.ItemsFailed++
					emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: err.Error()})
				} else {
					_ = j.Store.ClearFetchFailure(ctx, doc.ID)
					job.ItemsSucceeded++
					emit(Event{Kind: EventItemSuccess, JobID: job.ID, Data: map[string]any{"document_id": doc.ID, "chars": result.CharCount}})
				}
			} else {
				if result.Retriable() {
					j.Limiter.RecordFailure(doc.URLCanonical)
				}
				httpStatus := &result.HTTPStatus
				if result.HTTPStatus == 0 {
					httpStatus = nil
				}
				failure := &store.FetchFailure{
					DocumentID: doc.ID,
					URL:        doc.URLCanonical,
					ErrorKind:  string(result.ErrorKind),
					Message:    result.ErrorMessage,
					HTTPStatus: httpStatus,
					JobID:      job.ID,
				}
				if err := j.Store.SaveFetchFailure(ctx, failure); err != nil {
					emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: err.Error()})
				}
				job.ItemsFailed++
				emit(Event{Kind: EventItemFailed, JobID: job.ID, Data: map[string]any{
					"document_id": doc.ID, "error_kind": result.ErrorKind, "retriable": result.Retriable(),
				}})
			}

			afterID = doc.ID
			job.CursorID = afterID
			itemCount++
			if itemCount%5 == 0 {
				_ = j.Store.UpdateJobProgress(ctx, job)
				emit(Event{Kind: EventProgress, JobID: job.ID, Data: map[string]any{
					"succeeded": job.ItemsSucceeded, "failed": job.ItemsFailed,
				}})
			}
		}
	}

	_ = j.Store.UpdateJobProgress(ctx, job)
	return nil
}
