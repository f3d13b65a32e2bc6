// Package digest implements the FETCH -> CLUSTER -> SUMMARIZE -> COMPILE
// pipeline that turns a date range of embedded chunks into a weekly
// digest: a set of named topics, an overall summary, and a citation
// trail back to the source chunks.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/khoffmann/nexuspipe/llm"
	"github.com/khoffmann/nexuspipe/prompts"
	"github.com/khoffmann/nexuspipe/store"
)

// StrategyHybrid clusters chunk embeddings with k-means++ before naming
// each cluster with the LLM. StrategyPureLLM asks the LLM to cluster
// directly from abbreviated chunk text in a single call.
const (
	StrategyHybrid  = "hybrid"
	StrategyPureLLM = "pure_llm"
)

// defaultMinClusterSize is MIN_CLUSTER_SIZE: the hybrid strategy targets
// an average cluster size of this many chunks, and discards clusters
// smaller than half of it.
const defaultMinClusterSize = 2

// Config configures an Engine.
type Config struct {
	Model                 string
	CostPer1MInput        float64
	CostPer1MOutput       float64
	EmbeddingProviderName string
	EmbeddingModel        string
	MinClusterSize        int
}

// Request parameterizes one digest generation run.
type Request struct {
	Name     string
	DateFrom time.Time
	DateTo   time.Time
	Strategy string
	ClusterK int
}

// Result is the outcome of a completed digest generation.
type Result struct {
	DigestID       int64
	DocsAnalyzed   int
	ChunksAnalyzed int
	TokensInput    int
	TokensOutput   int
	CostUSD        float64
}

// Engine runs the digest pipeline against the store, using an LLM
// provider for clustering/naming/summarization calls.
type Engine struct {
	Store   *store.Store
	LLM     llm.Provider
	Prompts *prompts.Registry
	cfg     Config
}

// New constructs a digest Engine.
func New(st *store.Store, provider llm.Provider, reg *prompts.Registry, cfg Config) *Engine {
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = defaultMinClusterSize
	}
	return &Engine{Store: st, LLM: provider, Prompts: reg, cfg: cfg}
}

type summaryResponse struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
}

// Generate runs FETCH -> CLUSTER -> SUMMARIZE -> COMPILE for req and
// returns the id and totals of the resulting generated_digest row.
func (e *Engine) Generate(ctx context.Context, req Request) (Result, error) {
	chunks, err := e.Store.ChunksForDigest(ctx, req.DateFrom, req.DateTo, e.cfg.EmbeddingProviderName, e.cfg.EmbeddingModel)
	if err != nil {
		return Result{}, fmt.Errorf("digest fetch: %w", err)
	}
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("digest: no chunks found in range %s to %s", req.DateFrom, req.DateTo)
	}

	docSeen := make(map[int64]struct{})
	for _, c := range chunks {
		docSeen[c.DocumentID] = struct{}{}
	}

	var topics []clusterTopic
	var usage llmUsage
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyHybrid
	}

	switch strategy {
	case StrategyPureLLM:
		topics, usage, err = pureLLMCluster(ctx, chunks, e.LLM, e.Prompts, e.cfg.Model)
	default:
		topics, usage, err = hybridCluster(ctx, chunks, req.ClusterK, e.cfg.MinClusterSize, e.LLM, e.Prompts, e.cfg.Model)
	}
	if err != nil {
		return Result{}, fmt.Errorf("digest cluster: %w", err)
	}

	summary, highlights, summarizeUsage, err := e.summarize(ctx, req, topics)
	if err != nil {
		return Result{}, fmt.Errorf("digest summarize: %w", err)
	}
	usage.TokensInput += summarizeUsage.TokensInput
	usage.TokensOutput += summarizeUsage.TokensOutput

	digestTopics := make([]store.DigestTopic, len(topics))
	var citations []store.DigestCitation
	for i, t := range topics {
		keyPointsJSON, _ := json.Marshal(t.KeyPoints)
		digestTopics[i] = store.DigestTopic{
			TopicIndex:    i,
			TopicName:     t.Name,
			Summary:       t.Summary,
			KeyPointsJSON: string(keyPointsJSON),
		}
		for _, c := range t.Chunks {
			chunkID, docID := c.ChunkID, c.DocumentID
			excerpt := c.ChunkText
			if len(excerpt) > pureLLMExcerptChars {
				excerpt = excerpt[:pureLLMExcerptChars]
			}
			citations = append(citations, store.DigestCitation{
				TopicID:    int64(i),
				ChunkID:    &chunkID,
				DocumentID: &docID,
				Excerpt:    excerpt,
			})
		}
	}

	type topicSummary struct {
		Name      string   `json:"topic_name"`
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"key_points"`
		ChunkIDs  []int64  `json:"chunk_ids"`
	}
	topicSummaries := make([]topicSummary, len(topics))
	for i, t := range topics {
		ids := make([]int64, len(t.Chunks))
		for j, c := range t.Chunks {
			ids[j] = c.ChunkID
		}
		topicSummaries[i] = topicSummary{Name: t.Name, Summary: t.Summary, KeyPoints: t.KeyPoints, ChunkIDs: ids}
	}
	topicsJSON, _ := json.Marshal(topicSummaries)
	highlightsJSON, _ := json.Marshal(highlights)
	cost := float64(usage.TokensInput)*e.cfg.CostPer1MInput/1e6 + float64(usage.TokensOutput)*e.cfg.CostPer1MOutput/1e6

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("Digest %s - %s", req.DateFrom.Format("2006-01-02"), req.DateTo.Format("2006-01-02"))
	}

	digestID, err := e.Store.SaveDigest(ctx, &store.Digest{
		Name:           name,
		DateFrom:       req.DateFrom,
		DateTo:         req.DateTo,
		Strategy:       strategy,
		Model:          e.cfg.Model,
		Summary:        summary,
		TopicsJSON:     string(topicsJSON),
		HighlightsJSON: string(highlightsJSON),
		DocsAnalyzed:   len(docSeen),
		ChunksAnalyzed: len(chunks),
		TokensInput:    usage.TokensInput,
		TokensOutput:   usage.TokensOutput,
		CostUSD:        cost,
	}, digestTopics, citations)
	if err != nil {
		return Result{}, fmt.Errorf("digest compile: %w", err)
	}

	return Result{
		DigestID:       digestID,
		DocsAnalyzed:   len(docSeen),
		ChunksAnalyzed: len(chunks),
		TokensInput:    usage.TokensInput,
		TokensOutput:   usage.TokensOutput,
		CostUSD:        cost,
	}, nil
}

func (e *Engine) summarize(ctx context.Context, req Request, topics []clusterTopic) (string, []string, llmUsage, error) {
	var usage llmUsage

	var topicLines string
	for _, t := range topics {
		topicLines += "- " + t.Name + ": " + t.Summary + "\n"
	}

	prompt, err := e.Prompts.Get(ctx, prompts.KeyDigestSummary)
	if err != nil {
		return "", nil, usage, fmt.Errorf("loading digest summary prompt: %w", err)
	}
	body := prompts.Render(prompt.Body, map[string]string{
		"date_from": req.DateFrom.Format("2006-01-02"),
		"date_to":   req.DateTo.Format("2006-01-02"),
		"topics":    topicLines,
	})

	resp, err := e.LLM.Chat(ctx, llm.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    []llm.Message{{Role: "user", Content: body}},
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return "", nil, usage, err
	}
	usage.add(resp)

	var parsed summaryResponse
	if raw, jerr := extractJSON(resp.Content); jerr == nil {
		_ = json.Unmarshal([]byte(raw), &parsed)
	}
	if parsed.Summary == "" {
		parsed.Summary = resp.Content
	}
	return parsed.Summary, parsed.Highlights, usage, nil
}
