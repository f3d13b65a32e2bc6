// Package embedding abstracts vector embedding generation over a paid
// batched HTTP provider and a local unbatched one, with a parallel
// batching variant for large jobs.
package embedding

import (
	"context"
	"time"
)

// Vector is a single embedding.
type Vector []float32

// HealthStatus is the result of a provider health check.
type HealthStatus struct {
	Healthy   bool
	LatencyMS int64
	Details   string
}

// Provider is the capability set every embedding backend implements.
type Provider interface {
	Name() string
	ModelID() string
	Dimensions() int
	CostPer1MInput() float64
	Embed(ctx context.Context, texts []string) ([]Vector, error)
	EmbedSingle(ctx context.Context, text string) (Vector, error)
	HealthCheck(ctx context.Context) (HealthStatus, error)
}

// EstimateCost computes USD cost for a given token count at the
// provider's per-million-input rate.
func EstimateCost(p Provider, tokens int) float64 {
	return float64(tokens) * p.CostPer1MInput() / 1e6
}

// EstimateTokens approximates token count at four characters per token,
// the heuristic used across the pipeline.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// MaxEmbedChars is the safety cap texts are truncated to immediately
// before being sent to any provider.
const MaxEmbedChars = 20000

// Truncate trims text to MaxEmbedChars, the safety cap applied just
// before embedding (the only place anything is hard-truncated mid-word).
func Truncate(text string) string {
	if len(text) <= MaxEmbedChars {
		return text
	}
	return text[:MaxEmbedChars]
}

func timeSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
