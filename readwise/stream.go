package readwise

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event kinds emitted by StreamImport.
const (
	EventItem       = "item"
	EventProgress   = "progress"
	EventItemError  = "item_error"
	EventCompleted  = "completed"
	EventError      = "error"
	EventPaused     = "paused"
)

// Event is one unit of the StreamImport generator's output.
type Event struct {
	Kind string
	Item *ImportItem // set for EventItem
	Err  error       // set for EventItemError/EventError

	ItemsImported int
	ItemsMerged   int
	ItemsFailed   int
	ItemsTotal    *int

	State ImportState
}

// ImportItem is either an Article (document endpoint) or a Highlight set
// attached to a document URL (export endpoint), never both.
type ImportItem struct {
	Article         *Article
	DocumentURL     string
	Highlights      []Highlight
	AlreadyImported bool // true when this export record's URL was already seen this job
}

// ImportState is the resumable cursor pair persisted on the owning job row.
type ImportState struct {
	CursorReader string
	CursorExport string
	ReaderDone   bool
	ExportDone   bool
}

// StatusFunc reports the owning job's current status; StreamImport
// consults it at page and item boundaries to implement cooperative
// pause/cancel.
type StatusFunc func() (string, error)

// StreamImport streams the document endpoint to completion (unless
// already ReaderDone), then the export endpoint, emitting one Event per
// produced item plus periodic progress events. It returns the final
// cursor state for persistence. Emission of items is synchronous on the
// caller's goroutine via emit; callers wanting concurrency should run
// StreamImport in its own goroutine.
func (c *Client) StreamImport(ctx context.Context, state ImportState, status StatusFunc, emit func(Event)) (ImportState, error) {
	urlIndex := map[string]bool{}
	itemsImported, itemsMerged, itemsFailed := 0, 0, 0
	var itemsTotal *int
	itemCount := 0

	checkpoint := func() (bool, error) {
		st, err := status()
		if err != nil {
			return false, err
		}
		switch st {
		case "paused":
			emit(Event{Kind: EventPaused, State: state})
			return true, nil
		case "cancelled":
			return true, nil
		case "running":
			return false, nil
		default:
			return true, nil
		}
	}

	if !state.ReaderDone {
		cursor := state.CursorReader
		first := true
		for {
			if stop, err := checkpoint(); stop || err != nil {
				return state, err
			}

			page, err := c.fetchDocumentPage(ctx, cursor, "")
			if err != nil {
				emit(Event{Kind: EventError, Err: err})
				return state, err
			}
			if first && page.Count != nil {
				itemsTotal = page.Count
				first = false
			}

			for _, raw := range page.Results {
				if stop, err := checkpoint(); stop || err != nil {
					return state, err
				}

				var rec documentRecord
				if err := json.Unmarshal(raw, &rec); err != nil {
					itemsFailed++
					emit(Event{Kind: EventItemError, Err: fmt.Errorf("decoding document record: %w", err)})
					continue
				}

				article := buildArticle(rec, raw)
				urlIndex[NormalizeURL(article.URL)] = true
				itemsImported++
				itemCount++

				emit(Event{Kind: EventItem, Item: &ImportItem{Article: &article}})
				if itemCount%10 == 0 {
					emit(Event{Kind: EventProgress, ItemsImported: itemsImported, ItemsMerged: itemsMerged, ItemsFailed: itemsFailed, ItemsTotal: itemsTotal, State: state})
				}
			}

			cursor = page.NextCursor
			state.CursorReader = cursor
			if cursor == "" {
				state.ReaderDone = true
				break
			}
		}
	}

	if !state.ExportDone {
		cursor := state.CursorExport
		for {
			if stop, err := checkpoint(); stop || err != nil {
				return state, err
			}

			page, err := c.fetchExportPage(ctx, cursor)
			if err != nil {
				emit(Event{Kind: EventError, Err: err})
				return state, err
			}

			for _, raw := range page.Results {
				if stop, err := checkpoint(); stop || err != nil {
					return state, err
				}

				var book bookRecord
				if err := json.Unmarshal(raw, &book); err != nil {
					itemsFailed++
					emit(Event{Kind: EventItemError, Err: fmt.Errorf("decoding export record: %w", err)})
					continue
				}

				canonical := NormalizeURL(book.SourceURL)
				alreadySeen := urlIndex[canonical]
				if alreadySeen {
					itemsMerged++
				} else {
					itemsImported++
					urlIndex[canonical] = true
				}
				itemCount++

				highlights := make([]Highlight, 0, len(book.Highlights))
				for _, h := range book.Highlights {
					highlights = append(highlights, buildHighlight(h, book.Source))
				}

				emit(Event{Kind: EventItem, Item: &ImportItem{
					DocumentURL:     book.SourceURL,
					Highlights:      highlights,
					AlreadyImported: alreadySeen,
				}})
				if itemCount%10 == 0 {
					emit(Event{Kind: EventProgress, ItemsImported: itemsImported, ItemsMerged: itemsMerged, ItemsFailed: itemsFailed, ItemsTotal: itemsTotal, State: state})
				}
			}

			cursor = page.NextCursor
			state.CursorExport = cursor
			if cursor == "" {
				state.ExportDone = true
				break
			}
		}
	}

	emit(Event{Kind: EventCompleted, ItemsImported: itemsImported, ItemsMerged: itemsMerged, ItemsFailed: itemsFailed, ItemsTotal: itemsTotal, State: state})
	return state, nil
}

func buildArticle(rec documentRecord, raw json.RawMessage) Article {
	return Article{
		ProviderID:  rec.ID,
		URL:         rec.URL,
		Title:       rec.Title,
		Author:      rec.Author,
		HTMLContent: rec.HTMLContent,
		Summary:     rec.Summary,
		WordCount:   rec.WordCount,
		Category:    NormalizeCategory(rec.URL, rec.Category),
		RawJSON:     string(raw),
	}
}

func buildHighlight(h highlightRecord, source string) Highlight {
	return Highlight{
		ProviderID: h.ID,
		Text:       h.Text,
		Note:       h.Note,
		Provider:   source,
	}
}
