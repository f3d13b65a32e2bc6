package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/khoffmann/nexuspipe"
	"github.com/khoffmann/nexuspipe/fetcher"
	"github.com/khoffmann/nexuspipe/jobs"
	"github.com/khoffmann/nexuspipe/llm"
	"github.com/khoffmann/nexuspipe/store"
)

type handler struct {
	engine *nexuspipe.Engine
}

func newHandler(e *nexuspipe.Engine) *handler {
	return &handler{engine: e}
}

// libraryRow is one row of the /library response, shaped to cover both
// the document-level (lexical/default) and chunk-level (semantic) modes.
type libraryRow struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Author         string  `json:"author"`
	URL            string  `json:"url"`
	SavedAt        string  `json:"saved_at"`
	Category       string  `json:"category"`
	WordCount      int     `json:"word_count"`
	Distance       float64 `json:"distance,omitempty"`
	HighlightCount int     `json:"highlight_count"`
	ChunkText      string  `json:"chunk_text,omitempty"`
	CharStart      int     `json:"char_start,omitempty"`
	CharEnd        int     `json:"char_end,omitempty"`
	ContextBefore  string  `json:"context_before,omitempty"`
	ContextAfter   string  `json:"context_after,omitempty"`
}

// GET /library
func (h *handler) handleLibrary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	mode := q.Get("mode")
	category := q.Get("categories")
	limit := queryInt(q, "limit", 50)

	ctx := r.Context()
	var rows []libraryRow

	if mode == "semantic" && query != "" {
		hits, err := h.engine.Retrieval.VectorChunkLevel(ctx, query, category, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "semantic search failed")
			slog.Error("library semantic search", "error", err)
			return
		}
		for _, hit := range hits {
			rows = append(rows, libraryRow{
				ID: hit.DocumentID, Title: hit.Title, Author: hit.Author, URL: hit.URL,
				SavedAt: hit.EffectiveDate, Category: hit.Category, Distance: hit.Distance,
				HighlightCount: hit.HighlightCount, ChunkText: hit.ChunkText,
				CharStart: hit.CharStart, CharEnd: hit.CharEnd,
				ContextBefore: hit.ContextBefore, ContextAfter: hit.ContextAfter,
			})
		}
	} else {
		fsMode := ""
		if mode == "fts" {
			fsMode = "lexical"
		}
		entries, err := h.engine.Store.LibrarySearch(ctx, query, category, fsMode, limit, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "library search failed")
			slog.Error("library search", "error", err)
			return
		}
		for _, e := range entries {
			highlightCount, _ := h.engine.Store.CountHighlights(ctx, e.Document.ID)
			wordCount := 0
			if e.Document.WordCount != nil {
				wordCount = *e.Document.WordCount
			}
			rows = append(rows, libraryRow{
				ID: e.Document.ID, Title: e.Document.Title, Author: e.Document.Author,
				URL: e.Document.URLCanonical, SavedAt: e.EffectiveDate.Format(time.RFC3339), Category: e.Document.Category,
				WordCount: wordCount, HighlightCount: highlightCount,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": rows})
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := h.engine.Store.GetDocument(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load document")
		slog.Error("get document", "id", id, "error", err)
		return
	}

	highlights, err := h.engine.Store.ListHighlights(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load highlights")
		slog.Error("list highlights", "id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"doc": doc, "highlights": highlights})
}

// POST /readwise/import/start
func (h *handler) handleImportStart(w http.ResponseWriter, r *http.Request) {
	job, _, err := h.engine.Jobs.Start(r.Context(), "import", "readwise", "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start import job")
		slog.Error("import start", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID})
}

// POST /api/fetch/start
func (h *handler) handleFetchStart(w http.ResponseWriter, r *http.Request) {
	job, _, err := h.engine.Jobs.Start(r.Context(), "fetch", "", "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start fetch job")
		slog.Error("fetch start", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID})
}

// GET /api/fetch/stats
func (h *handler) handleFetchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Store.GetFetchStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load fetch stats")
		slog.Error("fetch stats", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":            stats.Total,
		"with_url":         stats.WithURL,
		"with_fulltext":    stats.WithFulltext,
		"failed":           stats.Failed,
		"pending":          stats.Pending,
		"without_chunks":   stats.WithoutChunks,
		"failures_by_type": stats.FailuresByKind,
	})
}

// POST /api/fetch/retry-failed
func (h *handler) handleFetchRetryFailed(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.engine.Store.ClearRetriableFetchFailures(r.Context(), fetcher.RetriableKinds())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear retriable fetch failures")
		slog.Error("fetch retry-failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": len(cleared)})
}

// POST /api/embed/start
func (h *handler) handleEmbedStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Provider == "" {
		req.Provider = h.engine.Embedder.Name()
	}
	if req.Model == "" {
		req.Model = h.engine.Embedder.ModelID()
	}

	stats, err := h.engine.Store.CountChunksForEmbedding(r.Context(), h.engine.Embedder.Name(), h.engine.Embedder.ModelID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count pending chunks")
		slog.Error("embed start: counting", "error", err)
		return
	}

	job, _, err := h.engine.Jobs.Start(r.Context(), "embed", req.Provider, req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start embed job")
		slog.Error("embed start", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      job.ID,
		"items_total": stats.Pending,
		"provider":    req.Provider,
		"model":       req.Model,
	})
}

// POST /api/pipeline/start
func (h *handler) handlePipelineStart(w http.ResponseWriter, r *http.Request) {
	job, _, err := h.engine.Jobs.Start(r.Context(), "pipeline", "readwise", "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start pipeline job")
		slog.Error("pipeline start", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID})
}

// GET /api/providers/health
func (h *handler) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	embedStatus, err := h.engine.Embedder.HealthCheck(ctx)
	embedResult := map[string]any{"healthy": embedStatus.Healthy, "latency_ms": embedStatus.LatencyMS, "details": embedStatus.Details}
	if err != nil {
		embedResult["healthy"] = false
		embedResult["details"] = err.Error()
	}

	digestHealthy := true
	digestDetails := "ok"
	if _, err := h.engine.Digest.LLM.Chat(ctx, llm.ChatRequest{
		Messages:  []llm.Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}); err != nil {
		digestHealthy = false
		digestDetails = err.Error()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"embedding": map[string]any{"provider": h.engine.Embedder.Name(), "model": h.engine.Embedder.ModelID(), "status": embedResult},
		"digest":    map[string]any{"healthy": digestHealthy, "details": digestDetails},
	})
}

// GET /api/usage/stats?period=today|week|month|all
func (h *handler) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	now := time.Now().UTC()

	var from time.Time
	switch period {
	case "week":
		from = now.AddDate(0, 0, -7)
	case "month":
		from = now.AddDate(0, -1, 0)
	case "all":
		from = time.Unix(0, 0)
	default:
		from = now.Truncate(24 * time.Hour)
	}

	summaries, err := h.engine.Store.SummarizeUsage(r.Context(), from, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize usage")
		slog.Error("usage stats", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "from": from, "to": now, "summaries": summaries})
}

// POST /api/digests/generate
func (h *handler) handleDigestGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"strategy"`
		Model    string `json:"model"`
		Days     int    `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Days <= 0 {
		req.Days = 7
	}

	now := time.Now().UTC()
	state := map[string]any{
		"name":      fmt.Sprintf("digest-%s", now.Format("2006-01-02")),
		"date_from": now.AddDate(0, 0, -req.Days),
		"date_to":   now,
		"strategy":  req.Strategy,
		"cluster_k": 0,
	}
	stateJSON, _ := json.Marshal(state)

	job, emitter, err := h.engine.Jobs.StartWithState(r.Context(), "digest", "", req.Model, string(stateJSON))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start digest job")
		slog.Error("digest generate", "error", err)
		return
	}

	streamEvents(w, r, job.ID, emitter.Events())
}

// GET /api/digests
func (h *handler) handleListDigests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query(), "limit", 20)
	digests, err := h.engine.Store.ListDigests(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list digests")
		slog.Error("list digests", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"digests": digests})
}

// GET /api/digests/{id}
func (h *handler) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid digest id")
		return
	}
	digest, topics, citations, err := h.engine.Store.GetDigest(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "digest not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load digest")
		slog.Error("get digest", "id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"digest": digest, "topics": topics, "citations": citations})
}

// GET .../{job_id}/stream — shared by import, fetch, and embed jobs.
func (h *handler) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	events, ok := h.engine.Jobs.Events(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job is not currently streaming")
		return
	}
	streamEvents(w, r, jobID, events)
}

func streamEvents(w http.ResponseWriter, r *http.Request, jobID string, events <-chan jobs.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			frame, err := evt.SSE()
			if err != nil {
				slog.Error("rendering SSE frame", "job_id", jobID, "error", err)
				return
			}
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// POST .../{job_id}/pause
func (h *handler) handlePause(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if err := h.engine.Jobs.Pause(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pause job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// POST .../{job_id}/resume
func (h *handler) handleResume(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, _, err := h.engine.Jobs.Resume(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resume job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": job.Status})
}

// POST .../{job_id}/cancel
func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if err := h.engine.Jobs.Cancel(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(q map[string][]string, key string, def int) int {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return def
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
