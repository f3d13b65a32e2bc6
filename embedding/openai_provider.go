package embedding

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	openAIMaxBatch      = 2048
	openAIMaxCharsInput = 8000

	openAIMaxRetries = 5
	openAIBaseDelay  = 2 * time.Second
	openAIMaxDelay   = 60 * time.Second
)

// ErrNotRetriable wraps a provider error that should not be retried:
// auth failures and quota exhaustion.
type ErrNotRetriable struct {
	Err error
}

func (e *ErrNotRetriable) Error() string { return e.Err.Error() }
func (e *ErrNotRetriable) Unwrap() error { return e.Err }

// OpenAIProvider is the paid, batched embedding backend. It truncates
// each input to a model-specific character cap, batches up to 2048
// inputs per request, and requests base64-encoded float32 vectors.
type OpenAIProvider struct {
	client     openai.Client
	model      string
	dimensions int
	costPer1M  float64
}

// NewOpenAIProvider constructs a paid provider for the given model.
// costPer1M is the USD price per million input tokens.
func NewOpenAIProvider(apiKey, model string, dimensions int, costPer1M float64) *OpenAIProvider {
	return &OpenAIProvider{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		dimensions: dimensions,
		costPer1M:  costPer1M,
	}
}

func (p *OpenAIProvider) Name() string           { return "openai" }
func (p *OpenAIProvider) ModelID() string        { return p.model }
func (p *OpenAIProvider) Dimensions() int        { return p.dimensions }
func (p *OpenAIProvider) CostPer1MInput() float64 { return p.costPer1M }

func (p *OpenAIProvider) EmbedSingle(ctx context.Context, text string) (Vector, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, 0, len(texts))
	for start := 0; start < len(texts); start += openAIMaxBatch {
		end := start + openAIMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = truncateChars(t, openAIMaxCharsInput)
		}
		vecs, err := p.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, batch []string) ([]Vector, error) {
	var lastErr error
	delay := openAIBaseDelay

	for attempt := 0; attempt < openAIMaxRetries; attempt++ {
		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model:          p.model,
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatBase64,
		})
		if err == nil {
			return decodeEmbeddingResponse(resp, p.dimensions)
		}

		status, msg := classifyOpenAIError(err)
		switch {
		case status == 401:
			return nil, &ErrNotRetriable{Err: fmt.Errorf("openai auth failed: %w", err)}
		case status == 429 && strings.Contains(strings.ToLower(msg), "quota"):
			return nil, &ErrNotRetriable{Err: fmt.Errorf("openai quota exhausted: %w", err)}
		case status == 429:
			lastErr = err
			time.Sleep(delay)
			delay *= 2
			if delay > openAIMaxDelay {
				delay = openAIMaxDelay
			}
			continue
		case status >= 400 && status < 600:
			return nil, &ErrNotRetriable{Err: err}
		default:
			return nil, &ErrNotRetriable{Err: err}
		}
	}
	return nil, fmt.Errorf("openai embeddings: exhausted retries: %w", lastErr)
}

func (p *OpenAIProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	start := time.Now()
	_, err := p.EmbedSingle(ctx, "health check")
	if err != nil {
		return HealthStatus{Healthy: false, LatencyMS: timeSince(start), Details: err.Error()}, nil
	}
	return HealthStatus{Healthy: true, LatencyMS: timeSince(start)}, nil
}

func classifyOpenAIError(err error) (status int, message string) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, apiErr.Message
	}
	return 0, err.Error()
}

func decodeEmbeddingResponse(resp *openai.CreateEmbeddingResponse, dims int) ([]Vector, error) {
	out := make([]Vector, len(resp.Data))
	for i, d := range resp.Data {
		raw, ok := d.Embedding.(string)
		if !ok {
			return nil, fmt.Errorf("embedding: unexpected response encoding for index %d", i)
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("embedding: base64 decode: %w", err)
		}
		vec, err := decodeFloat32LE(decoded)
		if err != nil {
			return nil, err
		}
		if dims > 0 && len(vec) != dims {
			return nil, fmt.Errorf("embedding: got %d dims, want %d", len(vec), dims)
		}
		out[i] = vec
	}
	return out, nil
}

func decodeFloat32LE(b []byte) (Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding: byte length %d not a multiple of 4", len(b))
	}
	vec := make(Vector, len(b)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

func truncateChars(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
