package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LocalProvider is an unbatched embedding backend speaking the Ollama
// /api/embeddings protocol: one input per HTTP call.
type LocalProvider struct {
	baseURL    string
	model      string
	dimensions int
	http       *http.Client
}

// NewLocalProvider constructs a local provider against baseURL (e.g.
// http://localhost:11434). Cost is always zero for local inference.
func NewLocalProvider(baseURL, model string, dimensions int) *LocalProvider {
	return &LocalProvider{
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		http:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *LocalProvider) Name() string            { return "local" }
func (p *LocalProvider) ModelID() string         { return p.model }
func (p *LocalProvider) Dimensions() int         { return p.dimensions }
func (p *LocalProvider) CostPer1MInput() float64 { return 0 }

func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		v, err := p.EmbedSingle(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding: input %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *LocalProvider) EmbedSingle(ctx context.Context, text string) (Vector, error) {
	body, err := json.Marshal(localEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, &retriableErr{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ErrNotRetriable{Err: fmt.Errorf("local embedding: model %q not installed", p.model)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrNotRetriable{Err: fmt.Errorf("local embedding: status %d", resp.StatusCode)}
	}

	var out localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ErrNotRetriable{Err: fmt.Errorf("local embedding: decode: %w", err)}
	}
	return Vector(out.Embedding), nil
}

func (p *LocalProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	start := time.Now()
	_, err := p.EmbedSingle(ctx, "health check")
	if err != nil {
		return HealthStatus{Healthy: false, LatencyMS: timeSince(start), Details: err.Error()}, nil
	}
	return HealthStatus{Healthy: true, LatencyMS: timeSince(start)}, nil
}

// retriableErr marks connection-level failures as retriable, mirroring
// the fetcher's connection-error classification.
type retriableErr struct{ err error }

func (e *retriableErr) Error() string { return e.err.Error() }
func (e *retriableErr) Unwrap() error { return e.err }

// Retriable reports whether err came from a retriable condition (a
// connection failure, as opposed to a not-installed model or bad
// response shape).
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	var nr *ErrNotRetriable
	if asErr(err, &nr) {
		return false
	}
	return true
}

func asErr(err error, target **ErrNotRetriable) bool {
	for err != nil {
		if e, ok := err.(*ErrNotRetriable); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
