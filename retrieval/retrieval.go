// Package retrieval implements the library's three search modes over
// the store: lexical FTS, legacy document-level vector KNN, and the
// preferred chunk-level vector search with citation context and
// category filtering, plus a hybrid mode fusing lexical and chunk-level
// vector results with Reciprocal Rank Fusion.
package retrieval

import (
	"context"
	"fmt"

	"github.com/khoffmann/nexuspipe/embedding"
	"github.com/khoffmann/nexuspipe/store"
)

// overfetchFactor is how far past limit the chunk-level KNN searches so
// a category filter has headroom to skip hits and keep pulling.
const overfetchFactor = 2

// Config holds retrieval engine configuration.
type Config struct {
	WeightLexical  float64
	WeightSemantic float64
}

// Result is one chunk-level hit enriched with citation context.
type Result struct {
	DocumentID      int64
	ChunkID         int64
	ChunkIndex      int
	ChunkText       string
	CharStart       int
	CharEnd         int
	Distance        float64
	Title           string
	Author          string
	URL             string
	EffectiveDate   string
	Category        string
	HighlightCount  int
	ContextBefore   string
	ContextAfter    string
}

// Engine performs hybrid retrieval combining lexical FTS and vector KNN.
type Engine struct {
	store    *store.Store
	embedder embedding.Provider
	cfg      Config
}

// New creates a retrieval engine backed by s, embedding queries through
// embedder for the semantic and hybrid modes.
func New(s *store.Store, embedder embedding.Provider, cfg Config) *Engine {
	return &Engine{store: s, embedder: embedder, cfg: cfg}
}

// Lexical runs the FTS match over chunk text, ordered by rank.
func (e *Engine) Lexical(ctx context.Context, query string, limit int) ([]store.ScoredChunk, error) {
	return e.store.LexicalSearch(ctx, query, limit)
}

// VectorDocumentLevel runs the legacy single-KNN-over-document-embeddings
// path, returning documents only (no chunk-level citation context).
func (e *Engine) VectorDocumentLevel(ctx context.Context, query string, limit int) ([]store.LibraryEntry, error) {
	vec, err := e.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.store.SemanticSearchDocuments(ctx, vec, e.embedder.Name(), e.embedder.ModelID(), limit)
}

// VectorChunkLevel is the preferred retrieval path: KNN against the
// per-dimension chunk vector table, over-fetching overfetchFactor*limit
// so a category filter can skip non-matching hits and still fill the
// requested limit, then attaching before/after chunk context to every
// kept hit.
func (e *Engine) VectorChunkLevel(ctx context.Context, query, category string, limit int) ([]Result, error) {
	vec, err := e.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := e.store.SemanticSearch(ctx, vec, e.embedder.Name(), e.embedder.ModelID(), limit*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]Result, 0, limit)
	for _, hit := range hits {
		if len(out) >= limit {
			break
		}
		if category != "" && hit.Document.Category != category {
			continue
		}

		before, after, err := e.store.FetchChunkContext(ctx, hit.Chunk.DocumentID, hit.Chunk.ChunkIndex)
		if err != nil {
			return nil, fmt.Errorf("fetching chunk context: %w", err)
		}
		highlightCount, err := e.store.CountHighlights(ctx, hit.Document.ID)
		if err != nil {
			return nil, fmt.Errorf("counting highlights: %w", err)
		}

		effectiveDate := ""
		switch {
		case hit.Document.SavedAt != nil:
			effectiveDate = hit.Document.SavedAt.Format("2006-01-02T15:04:05Z07:00")
		default:
			earliest, err := e.store.EarliestHighlightTime(ctx, hit.Document.ID)
			if err != nil {
				return nil, fmt.Errorf("finding earliest highlight time: %w", err)
			}
			if !earliest.IsZero() {
				effectiveDate = earliest.Format("2006-01-02T15:04:05Z07:00")
			} else {
				effectiveDate = hit.Document.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
			}
		}

		out = append(out, Result{
			DocumentID:     hit.Document.ID,
			ChunkID:        hit.Chunk.ID,
			ChunkIndex:     hit.Chunk.ChunkIndex,
			ChunkText:      hit.Chunk.ChunkText,
			CharStart:      hit.Chunk.CharStart,
			CharEnd:        hit.Chunk.CharEnd,
			Distance:       1 - hit.Score,
			Title:          hit.Document.Title,
			Author:         hit.Document.Author,
			URL:            hit.Document.URLCanonical,
			EffectiveDate:  effectiveDate,
			Category:       hit.Document.Category,
			HighlightCount: highlightCount,
			ContextBefore:  before,
			ContextAfter:   after,
		})
	}
	return out, nil
}

// Hybrid fuses Lexical and VectorChunkLevel (unfiltered) results with
// Reciprocal Rank Fusion, weighted by cfg.
func (e *Engine) Hybrid(ctx context.Context, query string, limit int) ([]store.ScoredChunk, error) {
	vec, err := e.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.store.HybridSearch(ctx, query, vec, e.embedder.Name(), e.embedder.ModelID(), e.cfg.WeightLexical, e.cfg.WeightSemantic, limit)
}
