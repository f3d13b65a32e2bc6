package jobs

import (
	"context"
	"fmt"

	"github.com/khoffmann/nexuspipe/readwise"
	"github.com/khoffmann/nexuspipe/store"
)

// ImportJob drives readwise.StreamImport to completion, persisting every
// emitted article/highlight and rebuilding the FTS index once done.
type ImportJob struct {
	Store  *store.Store
	Client *readwise.Client
	Status func(ctx context.Context, jobID string) func() (string, error)
}

func (j *ImportJob) Kind() string { return "import" }

func (j *ImportJob) Run(ctx context.Context, job *store.Job, emit func(Event)) error {
	state := readwise.ImportState{
		CursorReader: job.CursorReader,
		CursorExport: job.CursorExport,
		ReaderDone:   job.ReaderDone,
		ExportDone:   job.ExportDone,
	}

	docIDByURL := map[string]int64{}

	final, err := j.Client.StreamImport(ctx, state, j.Status(ctx, job.ID), func(evt readwise.Event) {
		switch evt.Kind {
		case readwise.EventItem:
			j.handleItem(ctx, job, evt.Item, docIDByURL, emit)
		case readwise.EventItemError:
			job.ItemsFailed++
			emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: evt.Err.Error()})
		case readwise.EventProgress:
			job.ItemsImported = evt.ItemsImported
			job.ItemsMerged = evt.ItemsMerged
			job.ItemsFailed = evt.ItemsFailed
			if evt.ItemsTotal != nil {
				job.ItemsTotal = evt.ItemsTotal
			}
			j.persistCursor(ctx, job, evt.State)
			emit(Event{Kind: EventProgress, JobID: job.ID, Data: map[string]any{
				"items_imported": job.ItemsImported,
				"items_merged":   job.ItemsMerged,
				"items_failed":   job.ItemsFailed,
				"items_total":    job.ItemsTotal,
			}})
		case readwise.EventPaused:
			j.persistCursor(ctx, job, evt.State)
			_ = j.Store.SetJobStatus(ctx, job.ID, store.JobStatusPaused, "")
			emit(Event{Kind: EventPaused, JobID: job.ID})
		case readwise.EventError:
			emit(Event{Kind: EventFailed, JobID: job.ID, Message: evt.Err.Error()})
		}
	})
	if err != nil {
		return fmt.Errorf("import job: %w", err)
	}

	j.persistCursor(ctx, job, final)

	if final.ReaderDone && final.ExportDone {
		if err := j.Store.RebuildFTS(ctx); err != nil {
			return fmt.Errorf("import job: rebuilding fts: %w", err)
		}
	}
	return nil
}

func (j *ImportJob) handleItem(ctx context.Context, job *store.Job, item *readwise.ImportItem, docIDByURL map[string]int64, emit func(Event)) {
	if item.Article != nil {
		a := item.Article
		doc := &store.Document{
			Source:       "readwise",
			ProviderID:   a.ProviderID,
			URLOriginal:  a.URL,
			URLCanonical: readwise.NormalizeURL(a.URL),
			Title:        a.Title,
			Author:       a.Author,
			PublishedAt:  a.PublishedAt,
			SavedAt:      a.SavedAt,
			FulltextHTML: a.HTMLContent,
			Category:     a.Category,
			Summary:      a.Summary,
		}
		if a.WordCount > 0 {
			wc := a.WordCount
			doc.WordCount = &wc
		}
		id, err := j.Store.SaveDocument(ctx, doc)
		if err != nil {
			job.ItemsFailed++
			emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: err.Error()})
			return
		}
		docIDByURL[doc.URLCanonical] = id
		emit(Event{Kind: EventItemSuccess, JobID: job.ID, Data: map[string]any{"document_id": id, "title": doc.Title}})
		return
	}

	canonical := readwise.NormalizeURL(item.DocumentURL)
	docID, ok := docIDByURL[canonical]
	if !ok {
		doc := &store.Document{
			Source:       "readwise",
			URLOriginal:  item.DocumentURL,
			URLCanonical: canonical,
			Category:     "article",
		}
		id, err := j.Store.SaveDocument(ctx, doc)
		if err != nil {
			job.ItemsFailed++
			emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: err.Error()})
			return
		}
		docID = id
		docIDByURL[canonical] = id
	}

	for _, h := range item.Highlights {
		highlight := &store.Highlight{
			DocumentID: docID,
			Text:       h.Text,
			TextHash:   readwise.TextHash(h.Text),
			Note:       h.Note,
			Provider:   h.Provider,
		}
		if _, err := j.Store.SaveHighlight(ctx, highlight); err != nil {
			job.ItemsFailed++
			emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: err.Error()})
			continue
		}
	}
	emit(Event{Kind: EventItemSuccess, JobID: job.ID, Data: map[string]any{"document_id": docID, "highlights": len(item.Highlights)}})
}

func (j *ImportJob) persistCursor(ctx context.Context, job *store.Job, state readwise.ImportState) {
	job.CursorReader = state.CursorReader
	job.CursorExport = state.CursorExport
	job.ReaderDone = state.ReaderDone
	job.ExportDone = state.ExportDone
	_ = j.Store.UpdateJobProgress(ctx, job)
}
